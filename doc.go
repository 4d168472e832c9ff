// Package vfs is an abstract file system layer for synchronization tools.
//
// It separates path identity and file system algorithms from storage
// access, so that comparing, traversing, copying, and deleting work the
// same way across local disks, in-memory trees, object stores, and archive
// files.
//
// # Paths and Backends
//
// A Path pairs a Backend handle with a relative path below the backend
// root. Paths from different backends can be held in one collection,
// compared with Compare, and sorted into a single deterministic order.
// Backend implementations live in their own packages:
//
//   - github.com/driftsync/vfs/billyfs - local disk, in-memory, mounted shares
//   - github.com/driftsync/vfs/s3fs    - S3-compatible object storage
//   - github.com/driftsync/vfs/sqlarfs - SQLite archive files
//   - github.com/driftsync/vfs/vfstest - scriptable fake for tests
//
// # Operations
//
// The package-level functions implement the algorithms a synchronization
// engine needs on top of the primitive Backend operations:
//
//   - Traverse, TraverseFlat: recursive and single-level folder scanning
//     with visitor callbacks and parallel sibling scans
//   - Resolve, ItemTypeIfExists: finding the deepest existing part of a
//     path, robust against backends that cannot report "not found" reliably
//   - CopyFile, CopyFileStream: verified file copying across backends,
//     optionally transactional via a temp file renamed into place
//   - CreateFolderAll: recursive folder creation tolerating concurrent
//     creators
//   - RemoveFolderAll and the RemoveXIfExists helpers: recursive and
//     race-tolerant deletion with per-item observer hooks
//
// # Optional Capabilities
//
// Backends advertise extra abilities through additional interfaces,
// discovered by type assertion:
//
//	if nc, ok := path.Backend().(NativeCopier); ok {
//	    // server-side copy without streaming through this process
//	}
//
// CaseFolder marks backends with case-insensitive namespaces; the watch
// package defines Watchable for backends with native change notification.
//
// # Errors
//
// Backends translate their native failures to the io/fs sentinel errors
// re-exported by this package, wrapped in *fs.PathError with the failing
// operation and display path. Match them with errors.Is:
//
//	if errors.Is(err, vfs.ErrNotExist) { ... }
//
// One error is deliberately not an error: a copy that wrote and verified
// all content but could not set the target's modification time reports
// that through CopyResult.ErrModTime and succeeds.
package vfs
