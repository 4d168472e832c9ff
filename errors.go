package vfs

import (
	"errors"
	"fmt"
	"io/fs"
)

// Sentinel errors for backend operations. Backends translate their native
// failures to these so callers can match with errors.Is regardless of the
// backend in use. They alias the io/fs sentinels where one exists.
var (
	// ErrNotExist reports that an item does not exist. Backends are not
	// required to produce it reliably for every failure mode; the engine
	// treats type probes that fail for other reasons conservatively.
	ErrNotExist = fs.ErrNotExist

	// ErrExist reports that an item already exists.
	ErrExist = fs.ErrExist

	// ErrPermission reports an access control failure.
	ErrPermission = fs.ErrPermission

	// ErrUnsupported reports that the backend cannot perform the operation
	// at all, as opposed to it failing. SetModTime on backends without
	// mutable timestamps returns this.
	ErrUnsupported = errors.New("operation not supported")

	// ErrIsFolder reports a file operation applied to a folder.
	ErrIsFolder = errors.New("item is a folder")

	// ErrDifferentVolume reports a rename that would have to move content
	// across volume boundaries. Backends only ever perform true renames;
	// callers fall back to copy and delete.
	ErrDifferentVolume = errors.New("items are on different volumes")

	// ErrNotEmpty reports a plain folder removal applied to a folder that
	// still has children.
	ErrNotEmpty = errors.New("folder is not empty")
)

// pathError wraps err with the failing operation and display path, matching
// the *fs.PathError convention used throughout the standard library.
func pathError(op string, p Path, err error) error {
	return &fs.PathError{Op: op, Path: p.Display(), Err: err}
}

// SizeMismatchError reports that a streamed copy moved a different number of
// bytes than the source attributes promised. The target was written in full
// as far as the backend is concerned; the mismatch means source metadata and
// content disagree, which a verifying copy must not paper over.
type SizeMismatchError struct {
	Path     string // display path of the source
	Expected int64  // byte count the source attributes demand: size, read and written
	Actual   int64  // byte count actually moved
}

func (e *SizeMismatchError) Error() string {
	return fmt.Sprintf("%s: unexpected size of data stream: expected %d bytes, streamed %d", e.Path, e.Expected, e.Actual)
}
