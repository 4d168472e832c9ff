package vfs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// FileInfo describes a file encountered during traversal.
type FileInfo struct {
	Path    Path
	Name    string
	Size    int64
	ModTime time.Time
	FileID  FileID
}

// FolderInfo describes a folder encountered during traversal.
type FolderInfo struct {
	Path Path
	Name string
}

// SymlinkInfo describes a symlink encountered during traversal. Symlinks
// are reported as themselves and never followed.
type SymlinkInfo struct {
	Path    Path
	Name    string
	ModTime time.Time
}

// Decision tells the traversal engine how to proceed after an error. The
// zero value aborts, so a visitor that ignores its error hooks fails fast.
type Decision int

const (
	// DecisionAbort stops the traversal and fails it with the error.
	DecisionAbort Decision = iota

	// DecisionRetry repeats the failed operation. The engine passes the
	// attempt count back to the visitor, which decides when to give up.
	DecisionRetry

	// DecisionIgnore skips the failed folder or item and moves on.
	DecisionIgnore
)

// Visitor receives traversal events for one folder's contents. Folder may
// hand out a sub-visitor to descend; returning nil skips the subtree.
//
// Sibling folders are scanned concurrently, so visitor methods must be safe
// for concurrent use. Events within a single folder arrive sequentially in
// listing order; no order holds across folders.
type Visitor interface {
	File(fi FileInfo) error
	Folder(fi FolderInfo) (Visitor, error)
	Symlink(si SymlinkInfo) error

	// FolderError is consulted when listing a folder fails. retries counts
	// the previous attempts for this folder, starting at 0.
	FolderError(folder Path, err error, retries int) Decision

	// ItemError is consulted when one listed item could not be read. On
	// DecisionRetry the engine lists the folder again and reprocesses just
	// that item.
	ItemError(folder Path, name string, err error, retries int) Decision
}

// TraverseTask names one folder to scan, relative to the traversal base,
// and the visitor that receives its events.
type TraverseTask struct {
	RelPath string
	Visitor Visitor
}

// TraverseOptions tunes a traversal.
type TraverseOptions struct {
	// Parallel bounds the number of concurrent folder listings. Values
	// below 1 mean sequential scanning. Only listing I/O is gated; visitor
	// callbacks run unthrottled.
	Parallel int

	// Logger, when set, receives debug output for retried and ignored
	// folders.
	Logger *zap.Logger
}

// Traverse scans the given folders under base and streams their contents to
// the task visitors. Recursion is driven by the visitors: every folder
// event may return a sub-visitor for its subtree. The traversal ends when
// all subtrees are exhausted, a visitor callback returns an error, a
// FolderError or ItemError hook answers DecisionAbort, or the context is
// canceled, whichever comes first.
func Traverse(ctx context.Context, base Path, tasks []TraverseTask, opts TraverseOptions) error {
	parallel := opts.Parallel
	if parallel < 1 {
		parallel = 1
	}

	folders := make([]Path, len(tasks))
	for i, task := range tasks {
		if task.Visitor == nil {
			return fmt.Errorf("vfs: traverse task %d has no visitor", i)
		}
		folder, err := base.JoinRel(task.RelPath)
		if err != nil {
			return err
		}
		folders[i] = folder
	}

	g, gctx := errgroup.WithContext(ctx)
	t := &traversal{
		g:      g,
		sem:    make(chan struct{}, parallel),
		logger: loggerOrNop(opts.Logger),
	}
	for i, task := range tasks {
		t.scanAsync(gctx, folders[i], task.Visitor)
	}
	return g.Wait()
}

// TraverseFlat lists a single folder level and dispatches each entry to the
// matching handler. Nil handlers skip their item class. Unlike Traverse it
// never descends and fails on the first error.
func TraverseFlat(ctx context.Context, folder Path, onFile func(FileInfo) error, onFolder func(FolderInfo) error, onSymlink func(SymlinkInfo) error) error {
	v := &flatVisitor{onFile: onFile, onFolder: onFolder, onSymlink: onSymlink}
	return Traverse(ctx, folder, []TraverseTask{{Visitor: v}}, TraverseOptions{})
}

type traversal struct {
	g      *errgroup.Group
	sem    chan struct{}
	logger *zap.Logger
}

func (t *traversal) scanAsync(ctx context.Context, folder Path, v Visitor) {
	t.g.Go(func() error {
		return t.scan(ctx, folder, v)
	})
}

func (t *traversal) scan(ctx context.Context, folder Path, v Visitor) error {
	var entries []Entry
	for retries := 0; ; retries++ {
		es, err := t.list(ctx, folder)
		if err == nil {
			entries = es
			break
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		switch v.FolderError(folder, err, retries) {
		case DecisionRetry:
			t.logger.Debug("retrying folder listing",
				zap.String("path", folder.Display()),
				zap.Int("attempt", retries+1),
				zap.Error(err))
		case DecisionIgnore:
			t.logger.Debug("skipping unreadable folder",
				zap.String("path", folder.Display()),
				zap.Error(err))
			return nil
		default:
			return err
		}
	}

	for i := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := t.dispatch(ctx, folder, entries[i], v); err != nil {
			return err
		}
	}
	return nil
}

// list performs the folder listing, gated by the parallelism semaphore.
func (t *traversal) list(ctx context.Context, folder Path) ([]Entry, error) {
	select {
	case t.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() { <-t.sem }()
	return folder.Backend().ListFolder(ctx, folder.Rel())
}

func (t *traversal) dispatch(ctx context.Context, folder Path, e Entry, v Visitor) error {
	for retries := 0; ; retries++ {
		err := entryProblem(e)
		if err == nil {
			break
		}
		switch v.ItemError(folder, e.Name, err, retries) {
		case DecisionRetry:
			e = t.relist(ctx, folder, e.Name)
		case DecisionIgnore:
			return nil
		default:
			return err
		}
	}

	child := folder.Join(e.Name)
	switch e.Type {
	case ItemTypeFile:
		return v.File(FileInfo{Path: child, Name: e.Name, Size: e.Size, ModTime: e.ModTime, FileID: e.FileID})
	case ItemTypeSymlink:
		return v.Symlink(SymlinkInfo{Path: child, Name: e.Name, ModTime: e.ModTime})
	default: // folder, by entryProblem
		sub, err := v.Folder(FolderInfo{Path: child, Name: e.Name})
		if err != nil {
			return err
		}
		if sub != nil {
			t.scanAsync(ctx, child, sub)
		}
		return nil
	}
}

// relist fetches the folder again and extracts the entry for one item,
// supporting item-level retries. Failures come back as the entry's Err so
// the caller's decision loop stays in charge.
func (t *traversal) relist(ctx context.Context, folder Path, name string) Entry {
	entries, err := t.list(ctx, folder)
	if err != nil {
		return Entry{Name: name, Err: err}
	}
	for i := range entries {
		if EqualNames(folder.Backend(), entries[i].Name, name) {
			return entries[i]
		}
	}
	return Entry{Name: name, Err: fmt.Errorf("item disappeared during retry: %w", ErrNotExist)}
}

func entryProblem(e Entry) error {
	switch {
	case e.Err != nil:
		return e.Err
	case !ValidItemName(e.Name):
		return fmt.Errorf("backend listed malformed item name %q", e.Name)
	case e.Type != ItemTypeFile && e.Type != ItemTypeFolder && e.Type != ItemTypeSymlink:
		return fmt.Errorf("backend listed %q with unknown item type", e.Name)
	}
	return nil
}

type flatVisitor struct {
	onFile    func(FileInfo) error
	onFolder  func(FolderInfo) error
	onSymlink func(SymlinkInfo) error
}

func (v *flatVisitor) File(fi FileInfo) error {
	if v.onFile == nil {
		return nil
	}
	return v.onFile(fi)
}

func (v *flatVisitor) Folder(fi FolderInfo) (Visitor, error) {
	if v.onFolder == nil {
		return nil, nil
	}
	return nil, v.onFolder(fi)
}

func (v *flatVisitor) Symlink(si SymlinkInfo) error {
	if v.onSymlink == nil {
		return nil
	}
	return v.onSymlink(si)
}

func (v *flatVisitor) FolderError(Path, error, int) Decision { return DecisionAbort }

func (v *flatVisitor) ItemError(Path, string, error, int) Decision { return DecisionAbort }

func loggerOrNop(l *zap.Logger) *zap.Logger {
	if l == nil {
		return zap.NewNop()
	}
	return l
}
