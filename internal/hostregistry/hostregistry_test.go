package hostregistry

import (
	"os"
	"path/filepath"
	"testing"
)

func writeHostsFile(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "hosts")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadSortsAndAssignsIDs(t *testing.T) {
	path := writeHostsFile(t, "# comment\nnode-b tcp://b:1234\nnode-a tcp://a:1234 shm://a\n")
	r := New(Config{Path: path})
	if err := r.Load(); err != nil {
		t.Fatal(err)
	}

	entries := r.Entries()
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].Hostname != "node-a" || entries[0].ID != 0 {
		t.Errorf("expected node-a at id 0, got %+v", entries[0])
	}
	if entries[1].Hostname != "node-b" || entries[1].ID != 1 {
		t.Errorf("expected node-b at id 1, got %+v", entries[1])
	}
	if entries[0].ProxyURI != "shm://a" {
		t.Errorf("expected proxy uri shm://a, got %q", entries[0].ProxyURI)
	}
}

func TestSelfID(t *testing.T) {
	path := writeHostsFile(t, "node-a tcp://a:1\nnode-b tcp://b:1\n")
	r := New(Config{Path: path})
	if err := r.Load(); err != nil {
		t.Fatal(err)
	}
	id, ok := r.SelfID("node-b")
	if !ok || id != 1 {
		t.Errorf("SelfID(node-b) = (%d, %v), want (1, true)", id, ok)
	}
	if _, ok := r.SelfID("nonexistent"); ok {
		t.Error("expected SelfID to fail for unknown hostname")
	}
}

func TestRegisterAppendsAndObservesSelf(t *testing.T) {
	path := writeHostsFile(t, "node-a tcp://a:1\n")
	r := New(Config{Path: path})
	if err := r.Register("node-z", "tcp://z:1", ""); err != nil {
		t.Fatal(err)
	}
	if r.Size() != 2 {
		t.Fatalf("expected 2 entries after register, got %d", r.Size())
	}
	if _, ok := r.SelfID("node-z"); !ok {
		t.Error("expected node-z to be registered")
	}
}

func TestRemoveDeletesWholeFile(t *testing.T) {
	path := writeHostsFile(t, "node-a tcp://a:1\n")
	r := New(Config{Path: path})
	if err := r.Remove(); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("expected hosts file to be removed")
	}
	// Idempotent.
	if err := r.Remove(); err != nil {
		t.Errorf("second Remove should be a no-op, got %v", err)
	}
}

func TestLookupWithRetry(t *testing.T) {
	path := writeHostsFile(t, "node-a tcp://a:1\n")
	r := New(Config{Path: path})
	if err := r.Load(); err != nil {
		t.Fatal(err)
	}
	addr, err := LookupWithRetry(r, 0)
	if err != nil || addr != "tcp://a:1" {
		t.Errorf("LookupWithRetry(0) = (%q, %v), want (tcp://a:1, nil)", addr, err)
	}
	if _, err := LookupWithRetry(r, 99); err == nil {
		t.Error("expected error looking up nonexistent node id")
	}
}

func TestMalformedLine(t *testing.T) {
	path := writeHostsFile(t, "onlyhostname\n")
	r := New(Config{Path: path})
	if err := r.Load(); err == nil {
		t.Error("expected error for malformed line")
	}
}
