package types

// ChunkStatus represents the completion state of a single chunk.
type ChunkStatus string

// Chunk states. InFlight chunks from a previous process are not
// trusted on restart and are reset to Pending.
const (
	ChunkPending  ChunkStatus = "pending"
	ChunkInFlight ChunkStatus = "in_flight"
	ChunkDone     ChunkStatus = "done"
	ChunkFailed   ChunkStatus = "failed"
)

// Chunk is a contiguous byte range of one task's content, the unit of
// concurrent work and resumability. For a task with known total size,
// the ordered set of chunks exactly partitions [0, total_size).
type Chunk struct {
	// Index identifies the chunk. Indices are stable for the lifetime
	// of a chunk; repartitioning assigns fresh indices to new chunks.
	Index int `json:"index" msgpack:"index"`
	// Start is the first byte offset of the range.
	Start int64 `json:"start" msgpack:"start"`
	// End is the exclusive end offset of the range.
	End int64 `json:"end" msgpack:"end"`
	// Status is the chunk completion state.
	Status ChunkStatus `json:"status" msgpack:"status"`
	// BytesWritten is the number of bytes durably written for this chunk.
	BytesWritten int64 `json:"bytes_written" msgpack:"bytes_written"`
	// Retries is the number of failed attempts so far.
	Retries int `json:"retries" msgpack:"retries"`
}

// Length returns the size of the chunk's byte range.
func (c Chunk) Length() int64 {
	return c.End - c.Start
}
