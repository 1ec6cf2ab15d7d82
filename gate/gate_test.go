package gate

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

func TestWritePageThenReadPage(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "store.bin")

	g, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer g.Close()

	buf := bytes.Repeat([]byte{0xAB}, PageSize)
	if _, err := g.WritePage(3, buf); err != nil {
		t.Fatalf("write page: %v", err)
	}
	if err := g.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}

	out := make([]byte, PageSize)
	n, err := g.ReadPage(3, out)
	if err != nil {
		t.Fatalf("read page: %v", err)
	}
	if n != PageSize {
		t.Fatalf("expected %d bytes, got %d", PageSize, n)
	}
	if !bytes.Equal(buf, out) {
		t.Fatalf("round trip mismatch")
	}
}

func TestReadPagePastEndOfFileReturnsShortCount(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "store.bin")

	g, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer g.Close()

	out := make([]byte, PageSize)
	n, err := g.ReadPage(10, out)
	if err != nil {
		t.Fatalf("read page: %v", err)
	}
	if n != 0 {
		t.Fatalf("expected 0 bytes past EOF, got %d", n)
	}
}

func TestReadOnlyOpenFailsOnMissingFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "missing.bin")

	if _, err := Open(path, ReadOnly()); err == nil {
		t.Fatalf("expected error opening missing file read-only")
	}
}

func TestReadOnlyGateRejectsWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "store.bin")

	g, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	buf := make([]byte, PageSize)
	if _, err := g.WritePage(0, buf); err != nil {
		t.Fatalf("write page: %v", err)
	}
	if err := g.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	ro, err := Open(path, ReadOnly())
	if err != nil {
		t.Fatalf("reopen read-only: %v", err)
	}
	defer ro.Close()

	if _, err := ro.WritePage(0, buf); err != ErrReadOnly {
		t.Fatalf("expected ErrReadOnly, got %v", err)
	}
}

func TestSizeReflectsWrites(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "store.bin")

	g, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer g.Close()

	buf := make([]byte, PageSize)
	if _, err := g.WritePage(1, buf); err != nil {
		t.Fatalf("write page: %v", err)
	}

	size, err := g.Size()
	if err != nil {
		t.Fatalf("size: %v", err)
	}
	if size != 2*PageSize {
		t.Fatalf("expected size %d, got %d", 2*PageSize, size)
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "store.bin")

	g, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := g.Close(); err != nil {
		t.Fatalf("first close: %v", err)
	}
	if err := g.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
}

func TestOpenCreatesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "new.bin")

	g, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer g.Close()

	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected file to exist: %v", err)
	}
}
