package sync

import (
	"errors"
	"fmt"
	"io/fs"
	"syscall"
)

// ErrKind classifies a per-path failure in a SyncResult.
type ErrKind string

const (
	ErrKindPathNotFound     ErrKind = "PathNotFound"
	ErrKindPermissionDenied ErrKind = "PermissionDenied"
	ErrKindIOError          ErrKind = "IOError"
	ErrKindChecksumMismatch ErrKind = "ChecksumMismatch"
	ErrKindPartialScan      ErrKind = "PartialScan"
	ErrKindManifestCorrupt  ErrKind = "ManifestCorrupt"
)

var (
	ErrSyncRunning       = errors.New("sync already running")
	ErrSourceMissing     = errors.New("source root missing or not a directory")
	ErrTargetNotWritable = errors.New("target root not writable")
)

// PathError records a failure scoped to a single path. It never propagates
// beyond the change it belongs to; the run aggregates them in SyncResult.
type PathError struct {
	Path string
	Kind ErrKind
	Err  error
}

func (e *PathError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Path, e.Err)
}

func (e *PathError) Unwrap() error {
	return e.Err
}

func newPathError(path string, err error) *PathError {
	return &PathError{Path: path, Kind: classifyErr(err), Err: err}
}

func classifyErr(err error) ErrKind {
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return ErrKindPathNotFound
	case errors.Is(err, fs.ErrPermission):
		return ErrKindPermissionDenied
	default:
		return ErrKindIOError
	}
}

// isTransientErr reports whether an operation is worth retrying.
// Permission and not-found errors are permanent by definition.
func isTransientErr(err error) bool {
	var errno syscall.Errno
	if errors.As(err, &errno) {
		switch errno {
		case syscall.EAGAIN, syscall.EBUSY, syscall.EINTR, syscall.EMFILE, syscall.ENFILE:
			return true
		}
	}
	return false
}
