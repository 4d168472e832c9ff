package billyfs

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-git/go-billy/v5/osfs"

	"github.com/driftsync/vfs"
	"github.com/driftsync/vfs/watch"
)

var (
	localKind = vfs.RegisterKind("local")
	shareKind = vfs.RegisterKind("share")
)

// Local is a backend for a directory on the host filesystem. Beyond the
// Backend contract it copies natively with permission bits, sets
// modification times, and watches folders through fsnotify.
type Local struct {
	*FS
	dir string
}

// NewLocal returns a backend rooted at dir, which is made absolute but need
// not exist yet. Paths never escape the root, symlinks included.
func NewLocal(dir string) (*Local, error) {
	return newLocal(localKind, dir)
}

// NewShare returns a backend for a network share mounted at dir. It behaves
// like NewLocal but carries its own kind, so the engine never treats a
// share and a local disk as the same volume.
func NewShare(dir string) (*Local, error) {
	return newLocal(shareKind, dir)
}

func newLocal(kind vfs.Kind, dir string) (*Local, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	l := &Local{dir: abs}
	l.FS = &FS{
		kind:  kind,
		label: filepath.ToSlash(abs),
		bfs:   osfs.New(abs),
		// osfs goes straight to the operating system, so no serialization.
		// Times and modes go through os directly; billy does not surface
		// them.
		chmod: func(rel string, mode fs.FileMode) error {
			return os.Chmod(l.hostPath(rel), mode)
		},
		chtimes: func(rel string, mtime time.Time) error {
			return os.Chtimes(l.hostPath(rel), mtime, mtime)
		},
	}
	return l, nil
}

// hostPath translates rel to the operating system path inside the root.
func (l *Local) hostPath(rel string) string {
	return filepath.Join(l.dir, filepath.FromSlash(rel))
}

// WatchFolder emits change events for the direct children of the folder at
// rel until ctx is canceled. It implements watch.Watchable.
func (l *Local) WatchFolder(ctx context.Context, rel string) (<-chan watch.Event, error) {
	base, err := vfs.NewPath(l, rel)
	if err != nil {
		return nil, err
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	dir := l.hostPath(rel)
	if err := w.Add(dir); err != nil {
		_ = w.Close()
		return nil, err
	}

	events := make(chan watch.Event, 16)
	go func() {
		defer close(events)
		defer w.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Dir(ev.Name) != dir {
					// The watched folder itself changed or went away.
					continue
				}
				name := filepath.Base(ev.Name)
				if !vfs.ValidItemName(name) {
					continue
				}
				var op watch.Op
				switch {
				case ev.Has(fsnotify.Create):
					op = watch.OpCreate
				case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
					op = watch.OpRemove
				case ev.Has(fsnotify.Write), ev.Has(fsnotify.Chmod):
					op = watch.OpModify
				default:
					continue
				}
				select {
				case events <- watch.Event{Path: base.Join(name), Op: op}:
				case <-ctx.Done():
					return
				}
			case _, ok := <-w.Errors:
				if !ok {
					return
				}
				// Overflow and similar watcher hiccups are not fatal;
				// callers rescan to resynchronize anyway.
			}
		}
	}()
	return events, nil
}

var (
	_ vfs.Backend      = (*Local)(nil)
	_ vfs.NativeCopier = (*Local)(nil)
	_ watch.Watchable  = (*Local)(nil)
)
