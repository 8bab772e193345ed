package iox

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

type closer struct{ closed bool }

func (c *closer) Close() error {
	c.closed = true
	return errors.New("close error")
}

func TestDiscardClose(t *testing.T) {
	c := &closer{}
	DiscardClose(c)
	if !c.closed {
		t.Error("DiscardClose did not close")
	}
}

func TestCloseFunc(t *testing.T) {
	c := &closer{}
	fn := CloseFunc(c)
	if c.closed {
		t.Error("CloseFunc closed eagerly")
	}
	fn()
	if !c.closed {
		t.Error("CloseFunc did not close")
	}
}

func TestDiscardErr(t *testing.T) {
	called := false
	DiscardErr(func() error {
		called = true
		return errors.New("flush error")
	})
	if !called {
		t.Error("DiscardErr did not call fn")
	}
}

func TestPreallocate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dest.partial")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer DiscardClose(f)

	if err := Preallocate(f, 4096); err != nil {
		t.Fatalf("Preallocate: %v", err)
	}
	info, err := f.Stat()
	if err != nil {
		t.Fatal(err)
	}
	if info.Size() != 4096 {
		t.Errorf("size = %d, want 4096", info.Size())
	}

	// Zero and negative sizes are no-ops.
	if err := Preallocate(f, 0); err != nil {
		t.Errorf("Preallocate(0): %v", err)
	}
}
