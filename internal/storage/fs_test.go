package storage

import (
	"os"
	"path/filepath"
	"testing"
)

func tempOut(t *testing.T) *FS {
	t.Helper()
	fs, err := NewFS(t.TempDir())
	if err != nil {
		t.Fatalf("NewFS: %v", err)
	}
	return fs
}

func TestWriteAndRead(t *testing.T) {
	s := tempOut(t)
	content := []byte("<!doctype html><title>spacetraveling</title>")
	if err := s.Write("index.html", content); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, err := s.Read("index.html")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(got) != string(content) {
		t.Errorf("content mismatch: got %q", got)
	}
}

func TestWriteCreatesSubdirs(t *testing.T) {
	s := tempOut(t)
	if err := s.Write("post/como-utilizar-hooks/index.html", []byte("deep")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, err := s.Read("post/como-utilizar-hooks/index.html")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(got) != "deep" {
		t.Errorf("content = %q", got)
	}
}

func TestDeleteRemovesEmptyParents(t *testing.T) {
	s := tempOut(t)
	_ = s.Write("post/a/index.html", []byte("bye"))
	_ = s.Write("post/b/index.html", []byte("stay"))
	if err := s.Delete("post/a/index.html"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.Read("post/a/index.html"); err == nil {
		t.Error("expected error reading deleted file")
	}
	if _, err := os.Stat(filepath.Join(s.root, "post", "a")); !os.IsNotExist(err) {
		t.Errorf("empty dir should be removed, stat err = %v", err)
	}
	if _, err := os.Stat(filepath.Join(s.root, "post", "b", "index.html")); err != nil {
		t.Errorf("sibling removed: %v", err)
	}
}

func TestList(t *testing.T) {
	s := tempOut(t)
	_ = s.Write("index.html", []byte("a"))
	_ = s.Write("post/b/index.html", []byte("b"))
	_ = os.WriteFile(filepath.Join(s.root, tmpPrefix+"123"), []byte("partial"), 0o644)

	items, err := s.List("")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("len = %d, want 2", len(items))
	}
	paths := map[string]bool{}
	for _, it := range items {
		paths[it.Path] = true
		if it.Checksum == "" {
			t.Errorf("missing checksum for %s", it.Path)
		}
	}
	if !paths["index.html"] || !paths["post/b/index.html"] {
		t.Errorf("paths = %v", paths)
	}
}

func TestTraversalBlocked(t *testing.T) {
	s := tempOut(t)

	cases := []string{
		"../../etc/passwd",
		"../outside.html",
		"/etc/shadow",
	}
	for _, p := range cases {
		if _, err := s.Read(p); err == nil {
			t.Errorf("expected error for path %q", p)
		}
		if err := s.Write(p, []byte("x")); err == nil {
			t.Errorf("expected error for write to %q", p)
		}
	}
}

func TestAtomicWriteLeavesNoTempFiles(t *testing.T) {
	s := tempOut(t)
	_ = s.Write("404.html", []byte("original"))
	if err := s.Write("404.html", []byte("updated")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, _ := s.Read("404.html")
	if string(got) != "updated" {
		t.Errorf("expected updated content, got %q", got)
	}
	matches, _ := filepath.Glob(filepath.Join(s.root, tmpPrefix+"*"))
	if len(matches) != 0 {
		t.Errorf("leftover temp files: %v", matches)
	}
}

func TestNewFS_CreatesMissingDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "out", "site")
	s, err := NewFS(dir)
	if err != nil {
		t.Fatalf("NewFS: %v", err)
	}
	if info, err := os.Stat(s.Root()); err != nil || !info.IsDir() {
		t.Fatalf("root not created: %v", err)
	}
}

func TestNewFS_FileNotDir(t *testing.T) {
	f, _ := os.CreateTemp("", "spacetraveling-test-*")
	_ = f.Close()
	defer os.Remove(f.Name())
	if _, err := NewFS(f.Name()); err == nil {
		t.Error("expected error when root is a file")
	}
}
