package chunkmath

import "testing"

func TestNewRejectsNonPowerOfTwo(t *testing.T) {
	for _, s := range []uint64{0, 3, 5, 1000} {
		if _, err := New(s); err == nil {
			t.Errorf("New(%d): expected error", s)
		}
	}
}

func TestInvariant(t *testing.T) {
	sizes := []uint64{1, 2, 512 * 1024, 1 << 20}
	offsets := []uint64{0, 1, 511, 512*1024 - 1, 512 * 1024, 1 << 63, 1<<64 - 1}

	for _, s := range sizes {
		c := MustNew(s)
		for _, off := range offsets {
			idx := c.BlockIndex(off)
			overrun := c.BlockOverrun(off)
			underrun := c.BlockUnderrun(off)

			if overrun >= s {
				t.Errorf("S=%d off=%d: overrun %d >= S", s, off, overrun)
			}
			if underrun >= s {
				t.Errorf("S=%d off=%d: underrun %d >= S", s, off, underrun)
			}
			if got := idx*s + overrun; got != off {
				t.Errorf("S=%d off=%d: idx*S+overrun = %d, want %d", s, off, got, off)
			}
			if (overrun+underrun)%s != 0 {
				t.Errorf("S=%d off=%d: overrun+underrun = %d not a multiple of S", s, off, overrun+underrun)
			}
		}
	}
}

func TestIsAligned(t *testing.T) {
	c := MustNew(1024)
	if !c.IsAligned(0) {
		t.Error("0 should be aligned")
	}
	if !c.IsAligned(2048) {
		t.Error("2048 should be aligned")
	}
	if c.IsAligned(1) {
		t.Error("1 should not be aligned")
	}
}

func TestSizeOne(t *testing.T) {
	c := MustNew(1)
	for _, off := range []uint64{0, 1, 2, 1 << 63, 1<<64 - 1} {
		if !c.IsAligned(off) {
			t.Errorf("S=1: every offset should be aligned, off=%d", off)
		}
		if c.BlockIndex(off) != off {
			t.Errorf("S=1: BlockIndex(%d) = %d, want %d", off, c.BlockIndex(off), off)
		}
	}
}

func TestChunkRange(t *testing.T) {
	c := MustNew(1024)
	start, end := c.ChunkRange(512, 2048)
	if start != 0 || end != 2 {
		t.Errorf("ChunkRange(512,2048) = (%d,%d), want (0,2)", start, end)
	}
}

func TestChunkByteRange(t *testing.T) {
	c := MustNew(1024)
	start, end := c.ChunkByteRange(2)
	if start != 2048 || end != 3072 {
		t.Errorf("ChunkByteRange(2) = (%d,%d), want (2048,3072)", start, end)
	}
}
