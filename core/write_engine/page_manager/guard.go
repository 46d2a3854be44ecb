package pagemanager

import "sync"

// Unpinner is the part of the buffer pool a PageGuard needs to give its pin back.
type Unpinner interface {
	UnpinPage(pageID PageID, isDirty bool) error
}

// PageGuard holds one pin on a page. Release gives the pin back exactly once;
// MarkDirty decides whether the release reports the page as modified.
type PageGuard struct {
	page     *Page
	id       PageID
	pool     Unpinner
	dirty    bool
	once     sync.Once
	released bool
}

// NewPageGuard wraps an already pinned page.
func NewPageGuard(pool Unpinner, page *Page) *PageGuard {
	return &PageGuard{page: page, id: page.GetPageID(), pool: pool}
}

func (g *PageGuard) PageID() PageID { return g.id }

// Data returns the page bytes. They must not be used after Release.
func (g *PageGuard) Data() []byte { return g.page.GetData() }

func (g *PageGuard) MarkDirty() { g.dirty = true }

// Release unpins the page. Calls after the first are no-ops.
func (g *PageGuard) Release() error {
	var err error
	g.once.Do(func() {
		g.released = true
		err = g.pool.UnpinPage(g.id, g.dirty)
	})
	return err
}

func (g *PageGuard) Released() bool { return g.released }
