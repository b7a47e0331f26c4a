package daemon

import (
	"context"
	"net"
	"testing"
	"time"

	"burstfs/internal/chunkmath"
	"burstfs/internal/chunkstore"
	"burstfs/internal/dirent"
	"burstfs/internal/metadata"
	"burstfs/internal/metadata/kv/memorykv"
	"burstfs/internal/rpc"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

func newTestDaemon(t *testing.T) (*rpc.Client, *Daemon) {
	t.Helper()
	meta, err := metadata.NewAdapter(memorykv.New(), metadata.TimestampPolicy{})
	if err != nil {
		t.Fatal(err)
	}
	chunks, err := chunkstore.New(chunkstore.Config{RootDir: t.TempDir(), ChunkSize: chunkmath.MustNew(16)})
	if err != nil {
		t.Fatal(err)
	}
	d := New(Config{Metadata: meta, Chunks: chunks, IOWorkers: 4})

	srv := rpc.NewServer(nil)
	d.RegisterHandlers(srv)

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	grpcServer := grpc.NewServer()
	srv.Register(grpcServer)
	go grpcServer.Serve(lis)
	t.Cleanup(grpcServer.Stop)

	cc, err := grpc.NewClient(lis.Addr().String(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { cc.Close() })

	return rpc.NewClient(cc, 2*time.Second, 2), d
}

func TestMkNodeAndStat(t *testing.T) {
	client, _ := newTestDaemon(t)
	ctx := context.Background()

	if err := client.Call(ctx, TagMkNode, MkNodeInput{Path: "/f", Mode: 0o644}, nil); err != nil {
		t.Fatal(err)
	}
	var out StatOutput
	if err := client.Call(ctx, TagStat, StatInput{Path: "/f"}, &out); err != nil {
		t.Fatal(err)
	}
	if out.Mode&metadata.ModeTypeMask != metadata.ModeRegular {
		t.Errorf("expected regular file, mode=%x", out.Mode)
	}
}

func TestWriteThenReadData(t *testing.T) {
	client, _ := newTestDaemon(t)
	ctx := context.Background()

	if err := client.Call(ctx, TagMkNode, MkNodeInput{Path: "/f", Mode: 0o644}, nil); err != nil {
		t.Fatal(err)
	}

	payload := []byte("0123456789abcdef0123456789") // 26 bytes, spans 2 chunks of 16
	writeIn := ChunkIOInput{
		Path: "/f", ChunkIDs: []uint64{0, 1}, ChunkStart: 0, ChunkEnd: 1,
		OffsetInRange: 0, TotalBytes: uint64(len(payload)),
	}
	var writeOut ChunkIOOutput
	if _, err := client.CallWithBulk(ctx, TagWriteData, writeIn, &writeOut, payload); err != nil {
		t.Fatal(err)
	}
	if writeOut.IOSize != uint64(len(payload)) {
		t.Fatalf("IOSize = %d, want %d", writeOut.IOSize, len(payload))
	}

	readIn := ChunkIOInput{
		Path: "/f", ChunkIDs: []uint64{0, 1}, ChunkStart: 0, ChunkEnd: 1,
		OffsetInRange: 0, TotalBytes: uint64(len(payload)),
	}
	var readOut ChunkIOOutput
	bulk, err := client.CallWithBulk(ctx, TagReadData, readIn, &readOut, nil)
	if err != nil {
		t.Fatal(err)
	}
	if string(bulk) != string(payload) {
		t.Errorf("read back %q, want %q", bulk, payload)
	}
}

func TestReadMissingChunkReturnsZeros(t *testing.T) {
	client, _ := newTestDaemon(t)
	ctx := context.Background()

	readIn := ChunkIOInput{Path: "/never-written", ChunkIDs: []uint64{0}, ChunkStart: 0, ChunkEnd: 0, TotalBytes: 8}
	var out ChunkIOOutput
	bulk, err := client.CallWithBulk(ctx, TagReadData, readIn, &out, nil)
	if err != nil {
		t.Fatal(err)
	}
	if out.IOSize != 8 {
		t.Errorf("IOSize = %d, want 8 even for a hole", out.IOSize)
	}
	for _, b := range bulk {
		if b != 0 {
			t.Fatalf("expected all-zero bulk for a missing chunk, got %v", bulk)
		}
	}
}

func TestRemoveNonEmptyDirectoryFails(t *testing.T) {
	client, _ := newTestDaemon(t)
	ctx := context.Background()

	if err := client.Call(ctx, TagMkNode, MkNodeInput{Path: "/d", Dir: true}, nil); err != nil {
		t.Fatal(err)
	}
	if err := client.Call(ctx, TagMkNode, MkNodeInput{Path: "/d/child", Mode: 0o644}, nil); err != nil {
		t.Fatal(err)
	}
	err := client.Call(ctx, TagRmMetadata, RmMetadataInput{Path: "/d"}, nil)
	if err == nil {
		t.Fatal("expected removal of a non-empty directory to fail")
	}
}

func TestGetDirentsExtended(t *testing.T) {
	client, _ := newTestDaemon(t)
	ctx := context.Background()

	if err := client.Call(ctx, TagMkNode, MkNodeInput{Path: "/d", Dir: true}, nil); err != nil {
		t.Fatal(err)
	}
	if err := client.Call(ctx, TagMkNode, MkNodeInput{Path: "/d/a", Mode: 0o644}, nil); err != nil {
		t.Fatal(err)
	}
	if err := client.Call(ctx, TagMkNode, MkNodeInput{Path: "/d/b", Dir: true}, nil); err != nil {
		t.Fatal(err)
	}

	var out GetDirentsOutput
	bulk, err := client.CallWithBulk(ctx, TagGetDirentsExtended, GetDirentsInput{Path: "/d"}, &out, nil)
	if err != nil {
		t.Fatal(err)
	}
	if out.Count != 2 {
		t.Fatalf("Count = %d, want 2", out.Count)
	}
	entries, err := dirent.Unpack(bulk, out.Count)
	if err != nil {
		t.Fatal(err)
	}
	names := map[string]bool{}
	for _, e := range entries {
		names[e.Name] = e.IsDir
	}
	if names["a"] {
		t.Error("a should not be a directory")
	}
	if !names["b"] {
		t.Error("b should be a directory")
	}
}

func TestUpdateMetadentrySizeAppend(t *testing.T) {
	client, _ := newTestDaemon(t)
	ctx := context.Background()

	if err := client.Call(ctx, TagMkNode, MkNodeInput{Path: "/f", Mode: 0o644}, nil); err != nil {
		t.Fatal(err)
	}
	var out1 UpdateMetadentrySizeOutput
	if err := client.Call(ctx, TagUpdateMetadentrySize, UpdateMetadentrySizeInput{Path: "/f", Delta: 10, Append: true}, &out1); err != nil {
		t.Fatal(err)
	}
	if out1.Offset != 0 {
		t.Errorf("first append offset = %d, want 0", out1.Offset)
	}
	var out2 UpdateMetadentrySizeOutput
	if err := client.Call(ctx, TagUpdateMetadentrySize, UpdateMetadentrySizeInput{Path: "/f", Delta: 5, Append: true}, &out2); err != nil {
		t.Fatal(err)
	}
	if out2.Offset != 10 {
		t.Errorf("second append offset = %d, want 10", out2.Offset)
	}
}

func TestMigrateMetadataAndData(t *testing.T) {
	client, d := newTestDaemon(t)
	ctx := context.Background()

	rec := metadata.Record{Mode: metadata.ModeRegular | 0o644, Size: 5}
	if err := client.Call(ctx, TagMigrateMetadata, MigrateMetadataInput{Key: "/migrated", Value: rec.Encode()}, nil); err != nil {
		t.Fatal(err)
	}
	got, err := d.meta.Stat("/migrated")
	if err != nil {
		t.Fatal(err)
	}
	if got.Size != 5 {
		t.Errorf("migrated record size = %d, want 5", got.Size)
	}

	if err := client.Call(ctx, TagMigrateData, MigrateDataInput{Path: "/migrated", ChunkID: 0, Data: []byte("hello")}, nil); err != nil {
		t.Fatal(err)
	}
	buf := make([]byte, 5)
	n, err := d.chunks.ReadChunk("/migrated", 0, 0, buf)
	if err != nil {
		t.Fatal(err)
	}
	if n != 5 || string(buf) != "hello" {
		t.Errorf("got %q (n=%d), want hello", buf[:n], n)
	}
}

func TestMaintenanceModeRejectsWritesButAllowsReadsAndMigration(t *testing.T) {
	meta, err := metadata.NewAdapter(memorykv.New(), metadata.TimestampPolicy{})
	if err != nil {
		t.Fatal(err)
	}
	chunks, err := chunkstore.New(chunkstore.Config{RootDir: t.TempDir(), ChunkSize: chunkmath.MustNew(16)})
	if err != nil {
		t.Fatal(err)
	}
	busy := true
	d := New(Config{Metadata: meta, Chunks: chunks, IOWorkers: 2, Maintenance: func() bool { return busy }})

	srv := rpc.NewServer(nil)
	d.RegisterHandlers(srv)
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	grpcServer := grpc.NewServer()
	srv.Register(grpcServer)
	go grpcServer.Serve(lis)
	t.Cleanup(grpcServer.Stop)
	cc, err := grpc.NewClient(lis.Addr().String(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { cc.Close() })
	client := rpc.NewClient(cc, 2*time.Second, 1)
	ctx := context.Background()

	err = client.Call(ctx, TagMkNode, MkNodeInput{Path: "/f", Mode: 0o644}, nil)
	if err == nil {
		t.Fatal("expected mk_node to be rejected during maintenance")
	}

	// Migration must still work while maintenance is active.
	rec := metadata.Record{Mode: metadata.ModeRegular | 0o644, Size: 1}
	if err := client.Call(ctx, TagMigrateMetadata, MigrateMetadataInput{Key: "/migrated", Value: rec.Encode()}, nil); err != nil {
		t.Fatalf("migrate_metadata should work during maintenance: %v", err)
	}

	// Reads are still served while maintenance is active.
	var statOut StatOutput
	if err := client.Call(ctx, TagStat, StatInput{Path: "/migrated"}, &statOut); err != nil {
		t.Fatalf("stat should work during maintenance: %v", err)
	}

	busy = false
	if err := client.Call(ctx, TagMkNode, MkNodeInput{Path: "/f", Mode: 0o644}, nil); err != nil {
		t.Fatalf("mk_node should succeed once maintenance clears: %v", err)
	}
}

func TestChunkStat(t *testing.T) {
	client, _ := newTestDaemon(t)
	var out ChunkStatOutput
	if err := client.Call(context.Background(), TagChunkStat, struct{}{}, &out); err != nil {
		t.Fatal(err)
	}
	if out.ChunkSize != 16 {
		t.Errorf("ChunkSize = %d, want 16", out.ChunkSize)
	}
}
