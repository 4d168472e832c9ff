package billyfs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/memfs"

	"github.com/driftsync/vfs"
)

var memoryKind = vfs.RegisterKind("memory")

// folderMode is the permission set for folders the adapter creates. billy
// implementations that track no modes ignore it.
const folderMode = 0o755

// errNotFolder reports a folder operation aimed at an item that is not one.
var errNotFolder = errors.New("not a folder")

// FS adapts a billy.Filesystem to the vfs.Backend contract. Use the
// package constructors; the zero value is not usable.
type FS struct {
	kind  vfs.Kind
	label string
	bfs   billy.Filesystem

	// mu serializes billy access for implementations that are not safe for
	// concurrent use, like memfs. Nil when the implementation goes straight
	// to the operating system.
	mu *sync.Mutex

	// chmod and chtimes are set when the underlying store can change item
	// modes and times; nil means the capability is missing, not failing.
	chmod   func(rel string, mode fs.FileMode) error
	chtimes func(rel string, mtime time.Time) error
}

// billyAccess exposes the adapter on wrappers built around FS, like Local,
// so same-kind operations reach the underlying filesystem.
type billyAccess interface {
	billyFS() *FS
}

func (a *FS) billyFS() *FS { return a }

var memorySeq atomic.Int64

// NewMemory returns an empty in-memory backend. Every call is a distinct
// namespace; two instances never compare as the same root.
func NewMemory() *FS {
	bfs := memfs.New()
	// memfs materializes folders lazily; seed the root so an empty
	// namespace stats and lists like every other backend.
	_ = bfs.MkdirAll(billyPath(""), folderMode)
	return &FS{
		kind:  memoryKind,
		label: fmt.Sprintf("memory://%d", memorySeq.Add(1)),
		bfs:   bfs,
		mu:    &sync.Mutex{},
	}
}

// NewFromBilly adapts an arbitrary billy.Filesystem under a caller-owned
// kind. label names the root in display paths and orders it against other
// roots of the same kind, so it must be unique per namespace. Modification
// times and modes work when bfs implements billy.Change. All access is
// serialized, since billy implementations make no concurrency promises.
func NewFromBilly(kind vfs.Kind, label string, bfs billy.Filesystem) *FS {
	a := &FS{kind: kind, label: label, bfs: bfs, mu: &sync.Mutex{}}
	if ch, ok := bfs.(billy.Change); ok {
		a.chmod = func(rel string, mode fs.FileMode) error {
			defer a.lock()()
			return ch.Chmod(billyPath(rel), mode)
		}
		a.chtimes = func(rel string, mtime time.Time) error {
			defer a.lock()()
			return ch.Chtimes(billyPath(rel), mtime, mtime)
		}
	}
	return a
}

// Kind reports the backend family this adapter was constructed under.
func (a *FS) Kind() vfs.Kind { return a.kind }

// CompareRoot orders two billy-backed roots by their labels.
func (a *FS) CompareRoot(other vfs.Backend) int {
	if ob, ok := other.(billyAccess); ok {
		return strings.Compare(a.label, ob.billyFS().label)
	}
	return strings.Compare(a.label, other.DisplayPath(""))
}

// DisplayPath renders rel below the backend's label.
func (a *FS) DisplayPath(rel string) string {
	if rel == "" {
		return a.label
	}
	return a.label + "/" + rel
}

func (a *FS) ItemType(ctx context.Context, rel string) (vfs.ItemType, error) {
	fi, err := a.lstat(rel)
	if err != nil {
		return vfs.ItemTypeUnknown, err
	}
	return typeOf(fi.Mode()), nil
}

func (a *FS) ListFolder(ctx context.Context, rel string) ([]vfs.Entry, error) {
	// The folder check goes through Stat so a symlinked folder lists its
	// target, and so implementations whose ReadDir treats a missing folder
	// as empty fail properly instead.
	fi, err := a.stat(rel)
	if err != nil {
		return nil, err
	}
	if !fi.IsDir() {
		return nil, a.pathError("readdir", rel, errNotFolder)
	}
	infos, err := a.readDir(rel)
	if err != nil {
		return nil, err
	}
	entries := make([]vfs.Entry, 0, len(infos))
	for _, info := range infos {
		if !vfs.ValidItemName(info.Name()) {
			continue
		}
		e := vfs.Entry{Name: info.Name(), Type: typeOf(info.Mode())}
		switch e.Type {
		case vfs.ItemTypeFile:
			e.Size = info.Size()
			e.ModTime = info.ModTime()
		case vfs.ItemTypeSymlink:
			e.ModTime = info.ModTime()
		}
		entries = append(entries, e)
	}
	// billy leaves listing order to the implementation; memfs iterates a
	// map. Hand out name order.
	slices.SortFunc(entries, func(x, y vfs.Entry) int {
		return strings.Compare(x.Name, y.Name)
	})
	return entries, nil
}

func (a *FS) OpenRead(ctx context.Context, rel string) (vfs.ReadStream, error) {
	fi, err := a.stat(rel)
	if err != nil {
		return nil, err
	}
	if fi.IsDir() {
		return nil, a.pathError("open", rel, vfs.ErrIsFolder)
	}
	f, err := a.open(rel)
	if err != nil {
		return nil, err
	}
	return &readStream{
		file:  f,
		attrs: vfs.StreamAttrs{Size: fi.Size(), ModTime: fi.ModTime()},
	}, nil
}

func (a *FS) OpenWrite(ctx context.Context, rel string, sizeHint int64) (vfs.WriteStream, error) {
	if rel == "" {
		return nil, a.pathError("create", rel, vfs.ErrIsFolder)
	}
	// memfs invents missing parents on Create; the contract wants the
	// failure instead.
	if err := a.checkParentFolder(rel); err != nil {
		return nil, err
	}
	if fi, err := a.lstat(rel); err == nil && fi.IsDir() {
		return nil, a.pathError("create", rel, vfs.ErrIsFolder)
	}
	f, err := a.create(rel)
	if err != nil {
		return nil, err
	}
	return &writeStream{fs: a, file: f, rel: rel}, nil
}

func (a *FS) SetModTime(ctx context.Context, rel string, mtime time.Time) error {
	if a.chtimes == nil {
		return a.pathError("chtimes", rel, vfs.ErrUnsupported)
	}
	return a.chtimes(rel, mtime)
}

func (a *FS) CreateFolder(ctx context.Context, rel string) error {
	if _, err := a.lstat(rel); err == nil {
		return a.pathError("mkdir", rel, vfs.ErrExist)
	}
	if rel != "" {
		if err := a.checkParentFolder(rel); err != nil {
			return err
		}
	}
	// billy only has MkdirAll; the parent check above keeps it from
	// papering over a missing chain.
	return a.mkdirAll(rel)
}

func (a *FS) Rename(ctx context.Context, oldRel, newRel string) error {
	if err := a.checkParentFolder(newRel); err != nil {
		return err
	}
	err := a.rename(oldRel, newRel)
	if err == nil {
		return nil
	}
	if errors.Is(err, syscall.EXDEV) {
		return fmt.Errorf("%s -> %s: %w",
			a.DisplayPath(oldRel), a.DisplayPath(newRel), vfs.ErrDifferentVolume)
	}
	// memfs refuses to clobber an existing target; renames replace files
	// per contract, so clear it and try again.
	if fi, statErr := a.lstat(newRel); statErr == nil && !fi.IsDir() {
		if rmErr := a.remove(newRel); rmErr == nil {
			if a.rename(oldRel, newRel) == nil {
				return nil
			}
		}
	}
	return err
}

func (a *FS) RemoveFile(ctx context.Context, rel string) error {
	return a.removeNonFolder(rel)
}

func (a *FS) RemoveSymlink(ctx context.Context, rel string) error {
	return a.removeNonFolder(rel)
}

func (a *FS) removeNonFolder(rel string) error {
	fi, err := a.lstat(rel)
	if err != nil {
		return err
	}
	if fi.IsDir() {
		return a.pathError("remove", rel, vfs.ErrIsFolder)
	}
	return a.remove(rel)
}

func (a *FS) RemoveEmptyFolder(ctx context.Context, rel string) error {
	fi, err := a.lstat(rel)
	if err != nil {
		return err
	}
	if !fi.IsDir() {
		return a.pathError("rmdir", rel, errNotFolder)
	}
	// Emptiness is checked up front: the underlying not-empty errors
	// differ per implementation and cannot be translated reliably.
	infos, err := a.readDir(rel)
	if err != nil {
		return err
	}
	if len(infos) > 0 {
		return a.pathError("rmdir", rel, vfs.ErrNotEmpty)
	}
	return a.remove(rel)
}

// CopyFileNative copies between billy backends of the same kind without
// routing content through the engine's pump, which keeps permission
// propagation possible. The bytes still move through this process; billy
// has no server side to hand the work to.
func (a *FS) CopyFileNative(ctx context.Context, srcRel string, attrs vfs.StreamAttrs, target vfs.Path, copyPermissions bool, progress vfs.ProgressFunc) (vfs.CopyResult, error) {
	ta, ok := target.Backend().(billyAccess)
	if !ok {
		return vfs.CopyResult{}, a.pathError("copy", srcRel, vfs.ErrUnsupported)
	}
	dst := ta.billyFS()
	if copyPermissions && dst.chmod == nil {
		return vfs.CopyResult{}, fmt.Errorf("%s: copying permissions: %w",
			target.Display(), vfs.ErrUnsupported)
	}

	// Fresh attributes beat whatever the caller captured earlier.
	srcInfo, err := a.stat(srcRel)
	if err != nil {
		return vfs.CopyResult{}, err
	}
	if srcInfo.IsDir() {
		return vfs.CopyResult{}, a.pathError("copy", srcRel, vfs.ErrIsFolder)
	}

	in, err := a.open(srcRel)
	if err != nil {
		return vfs.CopyResult{}, err
	}
	defer in.Close()

	out, err := dst.OpenWrite(ctx, target.Rel(), srcInfo.Size())
	if err != nil {
		return vfs.CopyResult{}, err
	}

	w := io.Writer(out)
	if progress != nil {
		w = &progressWriter{w: out, report: progress}
	}
	written, err := io.Copy(w, in)
	if err != nil {
		_ = out.Discard()
		return vfs.CopyResult{}, err
	}
	if written != srcInfo.Size() {
		_ = out.Discard()
		return vfs.CopyResult{}, &vfs.SizeMismatchError{
			Path:     a.DisplayPath(srcRel),
			Expected: srcInfo.Size(),
			Actual:   written,
		}
	}
	if _, err := out.Finalize(); err != nil {
		_ = dst.remove(target.Rel())
		return vfs.CopyResult{}, err
	}

	res := vfs.CopyResult{Size: srcInfo.Size(), ModTime: srcInfo.ModTime()}
	if copyPermissions {
		if err := dst.chmod(target.Rel(), srcInfo.Mode().Perm()); err != nil {
			_ = dst.remove(target.Rel())
			return vfs.CopyResult{}, err
		}
	}
	if err := dst.SetModTime(ctx, target.Rel(), srcInfo.ModTime()); err != nil {
		res.ErrModTime = err
	}
	return res, nil
}

// checkParentFolder verifies the folder that would contain rel exists,
// following symlinks.
func (a *FS) checkParentFolder(rel string) error {
	parent := parentRel(rel)
	fi, err := a.stat(parent)
	if err != nil {
		return err
	}
	if !fi.IsDir() {
		return a.pathError("stat", parent, errNotFolder)
	}
	return nil
}

func (a *FS) pathError(op, rel string, err error) error {
	return &fs.PathError{Op: op, Path: a.DisplayPath(rel), Err: err}
}

// lock acquires the serialization lock when one is configured and returns
// the matching release.
func (a *FS) lock() func() {
	if a.mu == nil {
		return func() {}
	}
	a.mu.Lock()
	return a.mu.Unlock
}

func (a *FS) stat(rel string) (fs.FileInfo, error) {
	defer a.lock()()
	return a.bfs.Stat(billyPath(rel))
}

func (a *FS) lstat(rel string) (fs.FileInfo, error) {
	defer a.lock()()
	return a.bfs.Lstat(billyPath(rel))
}

func (a *FS) readDir(rel string) ([]fs.FileInfo, error) {
	defer a.lock()()
	return a.bfs.ReadDir(billyPath(rel))
}

func (a *FS) open(rel string) (billy.File, error) {
	defer a.lock()()
	return a.bfs.Open(billyPath(rel))
}

func (a *FS) create(rel string) (billy.File, error) {
	defer a.lock()()
	return a.bfs.Create(billyPath(rel))
}

func (a *FS) mkdirAll(rel string) error {
	defer a.lock()()
	return a.bfs.MkdirAll(billyPath(rel), folderMode)
}

func (a *FS) remove(rel string) error {
	defer a.lock()()
	return a.bfs.Remove(billyPath(rel))
}

func (a *FS) rename(oldRel, newRel string) error {
	defer a.lock()()
	return a.bfs.Rename(billyPath(oldRel), billyPath(newRel))
}

func typeOf(mode fs.FileMode) vfs.ItemType {
	switch {
	case mode&fs.ModeSymlink != 0:
		return vfs.ItemTypeSymlink
	case mode.IsDir():
		return vfs.ItemTypeFolder
	default:
		return vfs.ItemTypeFile
	}
}

// billyPath maps a backend rel to the rooted form billy expects; the root
// itself is "/".
func billyPath(rel string) string {
	return "/" + rel
}

func parentRel(rel string) string {
	if i := strings.LastIndexByte(rel, '/'); i >= 0 {
		return rel[:i]
	}
	return ""
}

var (
	_ vfs.Backend      = (*FS)(nil)
	_ vfs.NativeCopier = (*FS)(nil)
)
