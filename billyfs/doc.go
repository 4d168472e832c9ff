// Package billyfs provides vfs backends on top of go-billy filesystems.
//
// Three constructors cover the common cases: NewLocal for a directory on
// the host filesystem, NewShare for a pre-mounted network share, and
// NewMemory for an in-memory tree. NewFromBilly bridges any other
// billy.Filesystem, which keeps go-git worktrees and similar values usable
// as synchronization endpoints.
//
// Usage:
//
//	local, err := billyfs.NewLocal("/srv/data")
//	if err != nil { ... }
//	root := vfs.RootPath(local)
//
// The adapter papers over behavioral differences between billy
// implementations so every backend honors the vfs.Backend contract: folder
// listings fail for missing folders, folder creation is strict, listings
// come back in name order, and renames replace existing files.
//
// # Capabilities
//
// Local backends copy natively between each other (including permission
// bits) and support modification times and change watching. The in-memory
// backend has no timestamps; SetModTime returns ErrUnsupported and copies
// onto it carry an advisory CopyResult.ErrModTime.
//
// # Thread Safety
//
// Backends are safe for concurrent use by multiple goroutines.
package billyfs
