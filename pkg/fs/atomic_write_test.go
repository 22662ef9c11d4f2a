package fs

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

func TestAtomicWriteFile_WritesContentDurably(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "table.lvlh")

	w := NewAtomicWriter(NewReal())
	content := []byte("level hash root record")

	if err := w.WriteWithDefaults(path, bytes.NewReader(content)); err != nil {
		t.Fatalf("WriteWithDefaults: %v", err)
	}

	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if !bytes.Equal(got, content) {
		t.Fatalf("content = %q, want %q", got, content)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if got, want := info.Mode().Perm(), os.FileMode(0o644); got != want {
		t.Fatalf("perm = %v, want %v", got, want)
	}
}

func TestAtomicWriteFile_ReplacesExistingFileAtomically(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "table.lvlh")

	if err := os.WriteFile(path, []byte("stale root"), 0o644); err != nil {
		t.Fatalf("setup: %v", err)
	}

	w := NewAtomicWriter(NewReal())
	fresh := []byte("fresh root")

	if err := w.WriteWithDefaults(path, bytes.NewReader(fresh)); err != nil {
		t.Fatalf("WriteWithDefaults: %v", err)
	}

	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if !bytes.Equal(got, fresh) {
		t.Fatalf("content = %q, want %q", got, fresh)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if got, want := len(entries), 1; got != want {
		t.Fatalf("leftover temp files: got %d entries, want %d", got, want)
	}
}

func TestAtomicWriteFile_RejectsZeroPerm(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "table.lvlh")

	w := NewAtomicWriter(NewReal())
	err := w.Write(path, bytes.NewReader([]byte("x")), AtomicWriteOptions{SyncDir: true})
	if err == nil {
		t.Fatal("expected error for zero Perm, got nil")
	}
}
