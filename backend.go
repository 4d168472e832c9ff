package vfs

import (
	"context"
	"io"
	"time"
)

// ItemType classifies a directory entry.
type ItemType int

const (
	ItemTypeUnknown ItemType = iota
	ItemTypeFile
	ItemTypeFolder
	ItemTypeSymlink
)

// String returns a human-readable name for the item type.
func (t ItemType) String() string {
	switch t {
	case ItemTypeFile:
		return "file"
	case ItemTypeFolder:
		return "folder"
	case ItemTypeSymlink:
		return "symlink"
	default:
		return "unknown"
	}
}

// FileID is a backend-assigned identifier for a file's content identity,
// such as an inode number, object ETag, or table rowid. Backends that track
// no such identity leave it empty. IDs are comparable only within one
// backend.
type FileID string

// StreamAttrs carries the file metadata relevant to copying.
type StreamAttrs struct {
	Size    int64
	ModTime time.Time
	FileID  FileID
}

// Entry describes one item of a folder listing. If the backend could list
// the name but failed to read the item's metadata, it sets Err and leaves
// the metadata fields zero; the traversal engine then consults the
// visitor instead of failing the whole listing.
type Entry struct {
	Name    string
	Type    ItemType
	Size    int64     // files only
	ModTime time.Time // zero when the backend does not track it
	FileID  FileID
	Err     error
}

// ReadStream is an open byte stream of a file's content.
type ReadStream interface {
	io.ReadCloser

	// Attributes returns the size, modification time, and file id the
	// backend observed while opening the stream, if it learned them
	// without an extra round trip. When ok is false the caller falls back
	// to attributes it obtained earlier.
	Attributes() (attrs StreamAttrs, ok bool)
}

// WriteStream is an open byte stream writing a file's content. Exactly one
// of Finalize or Discard must be called.
type WriteStream interface {
	io.Writer

	// Finalize flushes buffered data, durably completes the write, and
	// returns the new file's id, when the backend assigns one.
	Finalize() (FileID, error)

	// Discard abandons the write and releases resources. The backend may
	// leave a partial item behind; callers that need a clean failure mode
	// remove it themselves. Discard after a Finalize attempt is a no-op.
	Discard() error
}

// Backend is a file system namespace rooted at some location: a local
// folder, a bucket prefix, an archive file. All methods take paths relative
// to that root, in the form documented on Path.
//
// Implementations must be safe for concurrent use; the traversal engine
// issues overlapping calls.
//
// Optional capabilities are separate interfaces discovered by type
// assertion, following the pattern
//
//	if nc, ok := p.Backend().(NativeCopier); ok { ... }
//
// Currently NativeCopier and CaseFolder, plus watch.Watchable in the watch
// package.
type Backend interface {
	// Kind reports the backend family. Two backends can exchange items
	// natively only when their kinds are equal.
	Kind() Kind

	// CompareRoot orders this backend's root against another backend of
	// the same kind. It returns 0 exactly when both address the same
	// namespace, so that equal paths compare equal.
	CompareRoot(other Backend) int

	// DisplayPath renders rel as a full path for messages and logs.
	DisplayPath(rel string) string

	// ItemType reports what kind of item exists at rel, without following
	// symlinks. A missing item is an error, ideally matching ErrNotExist,
	// but backends may be unable to distinguish "not there" from other
	// failures; callers must not rely on the distinction.
	ItemType(ctx context.Context, rel string) (ItemType, error)

	// ListFolder returns the direct children of a folder, in backend
	// order. It does not recurse and never includes the folder itself.
	ListFolder(ctx context.Context, rel string) ([]Entry, error)

	// OpenRead opens a file's content for reading.
	OpenRead(ctx context.Context, rel string) (ReadStream, error)

	// OpenWrite creates or replaces the file at rel and opens its content
	// for writing. sizeHint is the expected final size, or a negative
	// value when unknown; backends may use it to preallocate or to choose
	// an upload strategy, but must accept any actual length.
	OpenWrite(ctx context.Context, rel string, sizeHint int64) (WriteStream, error)

	// SetModTime sets a file or folder modification time, following
	// symlinks. Backends with immutable timestamps return ErrUnsupported.
	SetModTime(ctx context.Context, rel string, mtime time.Time) error

	// CreateFolder creates a single folder level. The parent must already
	// exist and the target must not, except on backends where folders are
	// virtual and creation is a no-op.
	CreateFolder(ctx context.Context, rel string) error

	// Rename moves an item to a new name within this backend. Renaming
	// onto an existing item replaces it where the backend allows;
	// callers that need deterministic replace semantics remove the target
	// first.
	Rename(ctx context.Context, oldRel, newRel string) error

	// RemoveFile deletes a file.
	RemoveFile(ctx context.Context, rel string) error

	// RemoveSymlink deletes a symlink itself, never its target.
	RemoveSymlink(ctx context.Context, rel string) error

	// RemoveEmptyFolder deletes a folder that has no children, failing
	// with ErrNotEmpty otherwise.
	RemoveEmptyFolder(ctx context.Context, rel string) error
}

// NativeCopier is an optional capability of backends that can duplicate a
// file to another backend of the same kind without streaming the content
// through the caller, for example a server-side object copy.
type NativeCopier interface {
	// CopyFileNative copies the file at srcRel to target, which is
	// guaranteed by the caller to be of the same kind. attrs are the
	// source attributes known to the caller. When copyPermissions is set
	// the backend also carries over ownership and access bits. The
	// returned result reports the attributes actually copied; a failure
	// to propagate the modification time is reported in the result, not
	// as an error.
	CopyFileNative(ctx context.Context, srcRel string, attrs StreamAttrs, target Path, copyPermissions bool, progress ProgressFunc) (CopyResult, error)
}

// CaseFolder is an optional capability of backends whose namespaces compare
// item names case-insensitively or under some other folding. FoldName maps
// a name to its canonical comparison form.
type CaseFolder interface {
	FoldName(name string) string
}

// ProgressFunc receives the cumulative number of content bytes moved so far
// by a copy. It is called from the goroutine performing the copy.
type ProgressFunc func(totalBytes int64)
