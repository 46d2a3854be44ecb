package memtable

import (
	"container/list" // For LRU
	"sync"
)

// FrameID is the index of a frame in the buffer pool's frame array.
type FrameID int

// LRUReplacer tracks the frames that are unpinned and may be evicted.
// The front of the list is the most recently unpinned frame, the back the least.
type LRUReplacer struct {
	mu       sync.Mutex
	capacity int
	lruList  *list.List
	lruMap   map[FrameID]*list.Element
}

func NewLRUReplacer(capacity int) *LRUReplacer {
	return &LRUReplacer{
		capacity: capacity,
		lruList:  list.New(),
		lruMap:   make(map[FrameID]*list.Element),
	}
}

// Victim removes and returns the least recently unpinned frame.
// ok is false when no frame is evictable.
func (r *LRUReplacer) Victim() (frameID FrameID, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e := r.lruList.Back()
	if e == nil {
		return -1, false
	}
	frameID = r.lruList.Remove(e).(FrameID)
	delete(r.lruMap, frameID)
	return frameID, true
}

// Pin takes a frame out of eviction candidacy. Untracked frames are ignored.
func (r *LRUReplacer) Pin(frameID FrameID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.lruMap[frameID]; ok {
		r.lruList.Remove(e)
		delete(r.lruMap, frameID)
	}
}

// Unpin makes a frame evictable. A frame that is already a candidate keeps its position,
// and nothing is added once the replacer is at capacity.
func (r *LRUReplacer) Unpin(frameID FrameID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.lruMap[frameID]; ok {
		return
	}
	if r.lruList.Len() >= r.capacity {
		return
	}
	r.lruMap[frameID] = r.lruList.PushFront(frameID)
}

// Restore puts back a frame that Victim handed out but the caller could not reuse.
// The frame goes to the back, so it is the next victim again.
func (r *LRUReplacer) Restore(frameID FrameID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.lruMap[frameID]; ok {
		return
	}
	if r.lruList.Len() >= r.capacity {
		return
	}
	r.lruMap[frameID] = r.lruList.PushBack(frameID)
}

// Size returns the number of evictable frames.
func (r *LRUReplacer) Size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lruList.Len()
}
