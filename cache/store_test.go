package cache

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/chazu/replay/gen"
)

func testProgram(name string) *gen.Program {
	p := gen.NewProgram(name, nil, nil)
	p.ArrayFactory().AllocShared(0)
	cont := p.NewProc("deploy_0", 2)
	p.Entry().InvokeProc("deploy_0")
	cont.BeginGroup()
	v := cont.LoadConst("value")
	cont.CtxPut("k", v)
	return p
}

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "cache.db"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestPutGetRoundTrip(t *testing.T) {
	s := openTestStore(t)
	p := testProgram("replay.recorded.a$deploy")
	src := []byte("package recorded\n")

	hash, err := s.Put(p, "a.deploy", src)
	if err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if hash != Hash(gen.Disassemble(p)) {
		t.Error("Put returned a hash that does not match the listing")
	}

	e, err := s.Get(hash)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if e.Name != p.Name || e.BuildStep != "a.deploy" {
		t.Errorf("unexpected entry %+v", e)
	}
	if e.Listing != gen.Disassemble(p) {
		t.Error("stored listing differs")
	}
	if string(e.Source) != string(src) {
		t.Error("stored source differs")
	}
	if e.CreatedAt.IsZero() {
		t.Error("created-at was not recorded")
	}
}

func TestPutIsIdempotent(t *testing.T) {
	s := openTestStore(t)
	p := testProgram("replay.recorded.b$deploy")
	h1, err := s.Put(p, "b.deploy", nil)
	if err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	h2, err := s.Put(p, "b.deploy", nil)
	if err != nil {
		t.Fatalf("second Put failed: %v", err)
	}
	if h1 != h2 {
		t.Error("the same program hashed differently")
	}
	entries, err := s.List()
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("expected one entry, got %d", len(entries))
	}
}

func TestGetByName(t *testing.T) {
	s := openTestStore(t)
	p := testProgram("replay.recorded.c$deploy")
	if _, err := s.Put(p, "c.deploy", nil); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	e, err := s.GetByName(p.Name)
	if err != nil {
		t.Fatalf("GetByName failed: %v", err)
	}
	if e.Name != p.Name {
		t.Errorf("unexpected entry %+v", e)
	}
}

func TestMissReturnsNotFound(t *testing.T) {
	s := openTestStore(t)
	if _, err := s.Get("no-such-hash"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if _, err := s.GetByName("no.such.name"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestListReturnsEveryEntry(t *testing.T) {
	s := openTestStore(t)
	for _, name := range []string{"replay.recorded.x$a", "replay.recorded.x$b"} {
		if _, err := s.Put(testProgram(name), "x", nil); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
	}
	entries, err := s.List()
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
}
