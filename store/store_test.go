package store

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/AditthyaSS/Flux/types"
)

func openTest(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "flux.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func sampleTask(id string) types.Task {
	return types.Task{
		ID:          id,
		URL:         "https://example.com/" + id + ".bin",
		Destination: "/tmp/" + id + ".bin",
		Filename:    id + ".bin",
		Status:      types.StatusQueued,
		Connections: 8,
		ChunkSize:   1 << 20,
		CreatedAt:   time.Now().UTC().Truncate(time.Second),
	}
}

func TestSaveAndGet(t *testing.T) {
	s := openTest(t)
	want := sampleTask("a")
	if err := s.Save(want); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := s.Get("a")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.URL != want.URL || got.Status != want.Status || got.ChunkSize != want.ChunkSize {
		t.Fatalf("got %+v, want %+v", got, want)
	}
}

func TestSave_Upsert(t *testing.T) {
	s := openTest(t)
	task := sampleTask("a")
	if err := s.Save(task); err != nil {
		t.Fatalf("Save: %v", err)
	}

	task.Status = types.StatusFailed
	task.Error = "chunk retries exhausted"
	task.TotalSize = 1234
	if err := s.Save(task); err != nil {
		t.Fatalf("Save update: %v", err)
	}

	got, err := s.Get("a")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != types.StatusFailed || got.Error != "chunk retries exhausted" || got.TotalSize != 1234 {
		t.Fatalf("update not applied: %+v", got)
	}

	all, err := s.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("upsert created duplicate rows: %d", len(all))
	}
}

func TestGet_NotFound(t *testing.T) {
	s := openTest(t)
	_, err := s.Get("missing")
	if !errors.Is(err, types.ErrTaskNotFound) {
		t.Fatalf("err = %v, want ErrTaskNotFound", err)
	}
}

func TestList_CreationOrder(t *testing.T) {
	s := openTest(t)
	base := time.Now().UTC().Truncate(time.Second)
	for i, id := range []string{"c", "a", "b"} {
		task := sampleTask(id)
		task.CreatedAt = base.Add(time.Duration(i) * time.Second)
		if err := s.Save(task); err != nil {
			t.Fatalf("Save %s: %v", id, err)
		}
	}

	tasks, err := s.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(tasks) != 3 {
		t.Fatalf("len = %d, want 3", len(tasks))
	}
	for i, want := range []string{"c", "a", "b"} {
		if tasks[i].ID != want {
			t.Fatalf("tasks[%d].ID = %s, want %s", i, tasks[i].ID, want)
		}
	}
}

func TestListByStatus(t *testing.T) {
	s := openTest(t)
	a := sampleTask("a")
	b := sampleTask("b")
	b.Status = types.StatusCompleted
	for _, task := range []types.Task{a, b} {
		if err := s.Save(task); err != nil {
			t.Fatalf("Save: %v", err)
		}
	}

	queued, err := s.ListByStatus(types.StatusQueued)
	if err != nil {
		t.Fatalf("ListByStatus: %v", err)
	}
	if len(queued) != 1 || queued[0].ID != "a" {
		t.Fatalf("queued = %+v", queued)
	}
}

func TestDelete(t *testing.T) {
	s := openTest(t)
	if err := s.Save(sampleTask("a")); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := s.Delete("a"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.Get("a"); !errors.Is(err, types.ErrTaskNotFound) {
		t.Fatalf("err = %v, want ErrTaskNotFound", err)
	}
	if err := s.Delete("a"); !errors.Is(err, types.ErrTaskNotFound) {
		t.Fatalf("second delete err = %v, want ErrTaskNotFound", err)
	}
}

func TestOpen_ReopenPersists(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "flux.db")

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := s.Save(sampleTask("a")); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	s2, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer func() { _ = s2.Close() }()
	if _, err := s2.Get("a"); err != nil {
		t.Fatalf("Get after reopen: %v", err)
	}
}
