// Package chunkstore owns the authoritative map of byte ranges to
// completion state for one transfer.
//
// The store's persistence contract: callers write chunk bytes to the
// destination file and sync that region BEFORE calling MarkDone; the
// store then persists the updated map atomically. After an abrupt
// termination, any chunk the persisted map calls Done has its bytes
// durably present in the file, and everything else is re-fetched in
// full on restart.
package chunkstore

import (
	"fmt"
	"sort"
	"sync"

	"github.com/AditthyaSS/Flux/types"
)

// Store is the crash-consistent chunk map for one task. All methods
// are safe for concurrent use by transfer workers and the decision
// engine's repartition path.
type Store struct {
	mu sync.Mutex

	taskID    string
	totalSize int64
	statePath string
	destPath  string

	// chunks stays sorted by Start; byIndex maps stable chunk indices
	// onto slice positions so MarkDone survives repartitioning.
	chunks    []types.Chunk
	byIndex   map[int]int
	nextIndex int
}

// Partition splits [0, totalSize) into consecutive chunks of chunkSize
// bytes; the last chunk may be shorter. chunkSize <= 0 yields a single
// chunk covering the whole range.
func Partition(totalSize, chunkSize int64) []types.Chunk {
	if totalSize <= 0 {
		return nil
	}
	if chunkSize <= 0 || chunkSize > totalSize {
		chunkSize = totalSize
	}

	n := int((totalSize + chunkSize - 1) / chunkSize)
	chunks := make([]types.Chunk, 0, n)
	for i := 0; i < n; i++ {
		start := int64(i) * chunkSize
		end := start + chunkSize
		if end > totalSize {
			end = totalSize
		}
		chunks = append(chunks, types.Chunk{
			Index:  i,
			Start:  start,
			End:    end,
			Status: types.ChunkPending,
		})
	}
	return chunks
}

// New creates a fresh store partitioned with chunkSize.
func New(taskID, statePath, destPath string, totalSize, chunkSize int64) *Store {
	s := &Store{
		taskID:    taskID,
		totalSize: totalSize,
		statePath: statePath,
		destPath:  destPath,
	}
	s.setChunks(Partition(totalSize, chunkSize))
	return s
}

// setChunks installs a chunk slice and rebuilds the index map.
// Caller must hold s.mu (or own s exclusively during construction).
func (s *Store) setChunks(chunks []types.Chunk) {
	s.chunks = chunks
	s.byIndex = make(map[int]int, len(chunks))
	s.nextIndex = 0
	for pos, c := range chunks {
		s.byIndex[c.Index] = pos
		if c.Index >= s.nextIndex {
			s.nextIndex = c.Index + 1
		}
	}
}

// ClaimNextPending atomically claims the lowest-offset Pending chunk,
// transitioning it to InFlight. Returns false when nothing is Pending.
func (s *Store) ClaimNextPending() (types.Chunk, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.chunks {
		if s.chunks[i].Status == types.ChunkPending {
			s.chunks[i].Status = types.ChunkInFlight
			return s.chunks[i], true
		}
	}
	return types.Chunk{}, false
}

// MarkDone records a chunk as complete and persists the map. The
// caller must have synced the chunk's bytes to the destination file
// first; that ordering is the crash-consistency invariant.
func (s *Store) MarkDone(index int, bytesWritten int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	pos, ok := s.byIndex[index]
	if !ok {
		return fmt.Errorf("chunkstore: unknown chunk index %d", index)
	}
	s.chunks[pos].Status = types.ChunkDone
	s.chunks[pos].BytesWritten = bytesWritten
	return s.persistLocked()
}

// MarkFailed records a chunk as terminally failed (retries exhausted).
// Failure is in-memory only; on restart all non-Done chunks reset to
// Pending regardless.
func (s *Store) MarkFailed(index int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if pos, ok := s.byIndex[index]; ok {
		s.chunks[pos].Status = types.ChunkFailed
	}
}

// Release returns an InFlight chunk to Pending and bumps its retry
// count. Used when an attempt fails but budget remains, and when a
// pause aborts in-flight requests.
func (s *Store) Release(index int, countRetry bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pos, ok := s.byIndex[index]
	if !ok {
		return
	}
	if s.chunks[pos].Status == types.ChunkInFlight {
		s.chunks[pos].Status = types.ChunkPending
		if countRetry {
			s.chunks[pos].Retries++
		}
	}
}

// Retries returns the retry count for a chunk.
func (s *Store) Retries(index int) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	if pos, ok := s.byIndex[index]; ok {
		return s.chunks[pos].Retries
	}
	return 0
}

// Repartition re-splits only chunks still Pending to the new chunk
// size, leaving Done and InFlight chunks untouched so forward progress
// survives a chunk-size adaptation. The persisted map is rewritten.
func (s *Store) Repartition(newChunkSize int64) error {
	if newChunkSize <= 0 {
		return fmt.Errorf("chunkstore: invalid chunk size %d", newChunkSize)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rebuilt := make([]types.Chunk, 0, len(s.chunks))
	for _, c := range s.chunks {
		if c.Status != types.ChunkPending {
			rebuilt = append(rebuilt, c)
			continue
		}
		for start := c.Start; start < c.End; start += newChunkSize {
			end := start + newChunkSize
			if end > c.End {
				end = c.End
			}
			nc := types.Chunk{
				Index:  s.nextIndex,
				Start:  start,
				End:    end,
				Status: types.ChunkPending,
			}
			s.nextIndex++
			rebuilt = append(rebuilt, nc)
		}
	}

	sort.Slice(rebuilt, func(i, j int) bool { return rebuilt[i].Start < rebuilt[j].Start })

	s.byIndex = make(map[int]int, len(rebuilt))
	for pos, c := range rebuilt {
		s.byIndex[c.Index] = pos
	}
	s.chunks = rebuilt

	return s.persistLocked()
}

// Chunks returns a copy of the chunk list in offset order.
func (s *Store) Chunks() []types.Chunk {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]types.Chunk, len(s.chunks))
	copy(out, s.chunks)
	return out
}

// BytesDone returns the sum of bytes written for Done chunks.
func (s *Store) BytesDone() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	var total int64
	for _, c := range s.chunks {
		if c.Status == types.ChunkDone {
			total += c.BytesWritten
		}
	}
	return total
}

// AllDone reports whether every chunk is Done.
func (s *Store) AllDone() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, c := range s.chunks {
		if c.Status != types.ChunkDone {
			return false
		}
	}
	return len(s.chunks) > 0
}

// PendingCount returns the number of Pending chunks.
func (s *Store) PendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, c := range s.chunks {
		if c.Status == types.ChunkPending {
			n++
		}
	}
	return n
}

// TotalSize returns the partitioned content length.
func (s *Store) TotalSize() int64 {
	return s.totalSize
}
