package client

import (
	"context"
	"testing"
	"time"
)

func TestWriteSizeCacheFlushesAtThreshold(t *testing.T) {
	c := newTestCluster(t, 1, 16)
	dist := roundRobinDistributor{n: 1}
	meta := NewMetadataForwarder(dist, c.pool, 2*time.Second, 2)
	ctx := context.Background()

	if err := meta.Create(ctx, "/f", 0o644, false); err != nil {
		t.Fatal(err)
	}

	wsc := NewWriteSizeCache(meta, 3)
	for i := 0; i < 2; i++ {
		if _, err := wsc.Record(ctx, "/f", 10, 0, true); err != nil {
			t.Fatal(err)
		}
	}
	// Below threshold: nothing flushed to the daemon yet.
	size, err := meta.GetSize(ctx, "/f")
	if err != nil {
		t.Fatal(err)
	}
	if size != 0 {
		t.Fatalf("size = %d before threshold is reached, want 0", size)
	}

	if _, err := wsc.Record(ctx, "/f", 10, 0, true); err != nil {
		t.Fatal(err)
	}
	size, err = meta.GetSize(ctx, "/f")
	if err != nil {
		t.Fatal(err)
	}
	if size != 30 {
		t.Fatalf("size = %d after threshold flush, want 30", size)
	}
}

func TestWriteSizeCacheFlush(t *testing.T) {
	c := newTestCluster(t, 1, 16)
	dist := roundRobinDistributor{n: 1}
	meta := NewMetadataForwarder(dist, c.pool, 2*time.Second, 2)
	ctx := context.Background()

	if err := meta.Create(ctx, "/f", 0o644, false); err != nil {
		t.Fatal(err)
	}

	wsc := NewWriteSizeCache(meta, 10)
	if _, err := wsc.Record(ctx, "/f", 7, 0, true); err != nil {
		t.Fatal(err)
	}
	if err := wsc.Flush(ctx, "/f"); err != nil {
		t.Fatal(err)
	}
	size, err := meta.GetSize(ctx, "/f")
	if err != nil {
		t.Fatal(err)
	}
	if size != 7 {
		t.Fatalf("size = %d after explicit Flush, want 7", size)
	}
}

func TestWriteSizeCacheThresholdOneFlushesImmediately(t *testing.T) {
	c := newTestCluster(t, 1, 16)
	dist := roundRobinDistributor{n: 1}
	meta := NewMetadataForwarder(dist, c.pool, 2*time.Second, 2)
	ctx := context.Background()

	if err := meta.Create(ctx, "/f", 0o644, false); err != nil {
		t.Fatal(err)
	}
	wsc := NewWriteSizeCache(meta, 1)
	if _, err := wsc.Record(ctx, "/f", 9, 0, true); err != nil {
		t.Fatal(err)
	}
	size, err := meta.GetSize(ctx, "/f")
	if err != nil {
		t.Fatal(err)
	}
	if size != 9 {
		t.Fatalf("size = %d, want immediate flush to 9", size)
	}
}
