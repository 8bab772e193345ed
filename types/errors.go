package types

import (
	"errors"
	"fmt"
	"io/fs"
	"syscall"
)

// Sentinel errors for transfer failure classification.
// Use errors.Is(err, ErrXxx) for typed assertions.
var (
	// ErrTransientNetwork indicates a retryable network failure
	// (timeout, connection reset, 5xx). Retried with backoff up to the
	// chunk retry budget; never surfaces individually.
	ErrTransientNetwork = errors.New("transient network error")

	// ErrUnsupportedRange indicates the server does not honor range
	// requests. Triggers single-connection fallback, not a task failure.
	ErrUnsupportedRange = errors.New("range requests not supported")

	// ErrPersistentChunk indicates a chunk exhausted its retry budget.
	// Fails the whole task, reported with the offending chunk's range.
	ErrPersistentChunk = errors.New("chunk retries exhausted")

	// ErrDestinationWrite indicates a destination write failure
	// (disk full, permission). Fatal immediately, no retry.
	ErrDestinationWrite = errors.New("destination write error")

	// ErrTaskNotFound indicates an unknown task id on a command.
	// Surfaced to the caller; no state changes.
	ErrTaskNotFound = errors.New("task not found")

	// ErrInvalidArgument indicates a malformed command argument.
	ErrInvalidArgument = errors.New("invalid argument")
)

// TransferError wraps an underlying error with transfer classification.
// It preserves the original error in the chain for inspection via
// errors.As and matches its Kind sentinel via errors.Is.
type TransferError struct {
	// Kind is the sentinel error for classification.
	Kind error
	// Op is the operation that failed (e.g. "range request", "write").
	Op string
	// TaskID is the task involved, if any.
	TaskID string
	// Chunk is the chunk index involved, or -1 when not applicable.
	Chunk int
	// Err is the underlying error.
	Err error
}

func (e *TransferError) Error() string {
	if e.Chunk >= 0 {
		return fmt.Sprintf("%s (task %s, chunk %d): %v: %v", e.Op, e.TaskID, e.Chunk, e.Kind, e.Err)
	}
	if e.TaskID != "" {
		return fmt.Sprintf("%s (task %s): %v: %v", e.Op, e.TaskID, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %v: %v", e.Op, e.Kind, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As chain traversal.
func (e *TransferError) Unwrap() error {
	return e.Err
}

// Is reports whether the error matches the target sentinel.
func (e *TransferError) Is(target error) bool {
	return errors.Is(e.Kind, target)
}

// NewTransferError creates a classified transfer error. Use chunk = -1
// when the failure is not attributable to a single chunk.
func NewTransferError(kind error, op, taskID string, chunk int, err error) *TransferError {
	return &TransferError{Kind: kind, Op: op, TaskID: taskID, Chunk: chunk, Err: err}
}

// ClassifyIOErr classifies a destination file I/O error. Disk-full and
// permission failures map to ErrDestinationWrite; everything else is
// treated as transient.
func ClassifyIOErr(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, syscall.ENOSPC),
		errors.Is(err, fs.ErrPermission),
		errors.Is(err, syscall.EROFS),
		errors.Is(err, syscall.EDQUOT):
		return ErrDestinationWrite
	default:
		return ErrTransientNetwork
	}
}
