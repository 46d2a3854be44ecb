package record

import "math/bits"

// Bitmap helpers over a raw byte slice inside a page. Bit i lives in byte i/8 at position i%8 (LSB first).

func bitmapInit(bm []byte) { clear(bm) }

func bitmapSet(bm []byte, i int) { bm[i>>3] |= 1 << (i & 7) }

func bitmapReset(bm []byte, i int) { bm[i>>3] &^= 1 << (i & 7) }

func bitmapIsSet(bm []byte, i int) bool { return bm[i>>3]&(1<<(i&7)) != 0 }

// bitmapNextBit returns the first index in [from, n) whose bit equals bit, or n if there is none.
// Whole bytes that cannot match are skipped.
func bitmapNextBit(bit bool, bm []byte, n, from int) int {
	if from < 0 {
		from = 0
	}
	for i := from; i < n; {
		b := bm[i>>3]
		if !bit {
			b = ^b
		}
		b >>= uint(i & 7)
		if b == 0 {
			i = (i | 7) + 1
			continue
		}
		i += bits.TrailingZeros8(b)
		if i < n {
			return i
		}
		return n
	}
	return n
}

// bitmapFirstBit returns the first index in [0, n) whose bit equals bit, or n.
func bitmapFirstBit(bit bool, bm []byte, n int) int {
	return bitmapNextBit(bit, bm, n, 0)
}

// bitmapCount returns the number of set bits among the first n.
func bitmapCount(bm []byte, n int) int {
	count := 0
	full := n >> 3
	for _, b := range bm[:full] {
		count += bits.OnesCount8(b)
	}
	if rem := n & 7; rem != 0 {
		count += bits.OnesCount8(bm[full] & (1<<rem - 1))
	}
	return count
}
