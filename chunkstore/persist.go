package chunkstore

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/AditthyaSS/Flux/types"
)

// stateVersion guards against decoding state written by an
// incompatible release.
const stateVersion = 1

// persistedState is the on-disk representation of a task's chunk map.
// The pair (partial file, chunk map) stays mutually consistent because
// the map is only persisted after the file region it describes has
// been synced.
type persistedState struct {
	Version   int           `msgpack:"version"`
	TaskID    string        `msgpack:"task_id"`
	TotalSize int64         `msgpack:"total_size"`
	DestPath  string        `msgpack:"dest_path"`
	Chunks    []types.Chunk `msgpack:"chunks"`
}

// LoadOrCreate reads persisted state for a task, or partitions fresh
// when none exists. On load, every non-Done chunk (including InFlight
// chunks from a crashed process) is reset to Pending. The second
// return value reports whether existing state was resumed.
func LoadOrCreate(taskID, statePath, destPath string, totalSize, chunkSize int64) (*Store, bool, error) {
	data, err := os.ReadFile(statePath)
	if os.IsNotExist(err) {
		return New(taskID, statePath, destPath, totalSize, chunkSize), false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("chunkstore: read state: %w", err)
	}

	var st persistedState
	if err := msgpack.Unmarshal(data, &st); err != nil {
		// Corrupt state is not fatal; start fresh and re-fetch.
		return New(taskID, statePath, destPath, totalSize, chunkSize), false, nil
	}
	if st.Version != stateVersion || st.TotalSize != totalSize {
		// Version or size mismatch means the resource changed; the old
		// map cannot be trusted.
		return New(taskID, statePath, destPath, totalSize, chunkSize), false, nil
	}

	for i := range st.Chunks {
		if st.Chunks[i].Status != types.ChunkDone {
			st.Chunks[i].Status = types.ChunkPending
			st.Chunks[i].BytesWritten = 0
		}
	}

	s := &Store{
		taskID:    taskID,
		totalSize: totalSize,
		statePath: statePath,
		destPath:  destPath,
	}
	s.setChunks(st.Chunks)
	return s, true, nil
}

// persistLocked writes the chunk map atomically (temp file + rename).
// Caller must hold s.mu.
func (s *Store) persistLocked() error {
	st := persistedState{
		Version:   stateVersion,
		TaskID:    s.taskID,
		TotalSize: s.totalSize,
		DestPath:  s.destPath,
		Chunks:    s.chunks,
	}

	data, err := msgpack.Marshal(&st)
	if err != nil {
		return fmt.Errorf("chunkstore: encode state: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.statePath), 0o755); err != nil {
		return fmt.Errorf("chunkstore: state dir: %w", err)
	}

	tmp := s.statePath + ".tmp"
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("chunkstore: write state: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return fmt.Errorf("chunkstore: write state: %w", err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return fmt.Errorf("chunkstore: sync state: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("chunkstore: close state: %w", err)
	}

	if err := os.Rename(tmp, s.statePath); err != nil {
		return fmt.Errorf("chunkstore: commit state: %w", err)
	}
	return nil
}

// Remove deletes the persisted state file. Called once a transfer
// completes, so only the final file remains.
func (s *Store) Remove() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := os.Remove(s.statePath)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("chunkstore: remove state: %w", err)
	}
	return nil
}
