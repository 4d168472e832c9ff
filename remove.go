package vfs

import (
	"context"
	"errors"

	"go.uber.org/zap"
)

// RemoveOptions carries the observer hooks for RemoveFolderAll. Both hooks
// are optional; an error from either aborts the removal before the item is
// touched.
type RemoveOptions struct {
	// OnBeforeFileRemoval is called exactly once per file and per symlink,
	// with the item's display path, before it is deleted.
	OnBeforeFileRemoval func(displayPath string) error

	// OnBeforeFolderRemoval is called exactly once per folder, after the
	// folder's contents have been deleted and before the folder itself is.
	// It is also called for the root of the removal when nothing existed
	// there, since determining that may already have cost real I/O.
	OnBeforeFolderRemoval func(displayPath string) error

	// Logger, when set, receives debug output.
	Logger *zap.Logger
}

func (o *RemoveOptions) notifyFile(displayPath string) error {
	if o.OnBeforeFileRemoval == nil {
		return nil
	}
	return o.OnBeforeFileRemoval(displayPath)
}

func (o *RemoveOptions) notifyFolder(displayPath string) error {
	if o.OnBeforeFolderRemoval == nil {
		return nil
	}
	return o.OnBeforeFolderRemoval(displayPath)
}

// RemoveFolderAll deletes the item at p and everything below it. A missing
// path is not an error. A symlink is deleted itself; its target is left
// alone.
//
// Each folder is cleared depth-first: first its files, then its symlinks,
// then its subfolders, each subtree completely, and finally the folder
// itself. The worklist is explicit rather than call-stack recursion, so
// arbitrarily deep hierarchies delete in constant stack space. Folder
// listings are fully collected before deletion starts on them.
func RemoveFolderAll(ctx context.Context, p Path, opts RemoveOptions) error {
	logger := loggerOrNop(opts.Logger)

	t, exists, err := ItemTypeIfExists(ctx, p)
	if err != nil {
		return err
	}
	if !exists {
		// Nothing to do, but finding that out was real work: report the
		// folder so progress accounting stays consistent.
		logger.Debug("removal target does not exist", zap.String("path", p.Display()))
		return opts.notifyFolder(p.Display())
	}
	if t == ItemTypeSymlink {
		if err := opts.notifyFile(p.Display()); err != nil {
			return err
		}
		return p.Backend().RemoveSymlink(ctx, p.Rel())
	}

	type frame struct {
		path   Path
		listed bool
	}
	stack := []frame{{path: p}}
	for len(stack) > 0 {
		i := len(stack) - 1
		if stack[i].listed {
			folder := stack[i].path
			stack = stack[:i]
			if err := opts.notifyFolder(folder.Display()); err != nil {
				return err
			}
			if err := folder.Backend().RemoveEmptyFolder(ctx, folder.Rel()); err != nil {
				return err
			}
			continue
		}
		stack[i].listed = true
		folder := stack[i].path

		var files, folders, symlinks []string
		err := TraverseFlat(ctx, folder,
			func(fi FileInfo) error { files = append(files, fi.Name); return nil },
			func(fi FolderInfo) error { folders = append(folders, fi.Name); return nil },
			func(si SymlinkInfo) error { symlinks = append(symlinks, si.Name); return nil },
		)
		if err != nil {
			return err
		}

		for _, name := range files {
			child := folder.Join(name)
			if err := opts.notifyFile(child.Display()); err != nil {
				return err
			}
			if err := folder.Backend().RemoveFile(ctx, child.Rel()); err != nil {
				return err
			}
		}
		for _, name := range symlinks {
			child := folder.Join(name)
			if err := opts.notifyFile(child.Display()); err != nil {
				return err
			}
			if err := folder.Backend().RemoveSymlink(ctx, child.Rel()); err != nil {
				return err
			}
		}
		// Pushed in reverse so subtrees pop in listing order.
		for j := len(folders) - 1; j >= 0; j-- {
			stack = append(stack, frame{path: folder.Join(folders[j])})
		}
	}
	return nil
}

// RemoveFileIfExists deletes the file at p and reports whether it did. A
// missing file is not an error.
//
// The removal is attempted directly; only when it fails is existence
// checked, so the common case costs a single backend call. If the existence
// re-check itself fails, both errors are returned joined, since either
// could be the relevant one.
func RemoveFileIfExists(ctx context.Context, p Path) (bool, error) {
	err := p.Backend().RemoveFile(ctx, p.Rel())
	if err == nil {
		return true, nil
	}
	_, exists, err2 := ItemTypeIfExists(ctx, p)
	if err2 != nil {
		return false, errors.Join(err, err2)
	}
	if !exists {
		return false, nil
	}
	return false, err
}

// RemoveSymlinkIfExists deletes the symlink at p and reports whether it
// did, with the same contract as RemoveFileIfExists.
func RemoveSymlinkIfExists(ctx context.Context, p Path) (bool, error) {
	err := p.Backend().RemoveSymlink(ctx, p.Rel())
	if err == nil {
		return true, nil
	}
	_, exists, err2 := ItemTypeIfExists(ctx, p)
	if err2 != nil {
		return false, errors.Join(err, err2)
	}
	if !exists {
		return false, nil
	}
	return false, err
}

// RemoveEmptyFolderIfExists deletes the folder at p, which must have no
// children. A missing folder is not an error.
func RemoveEmptyFolderIfExists(ctx context.Context, p Path) error {
	err := p.Backend().RemoveEmptyFolder(ctx, p.Rel())
	if err == nil {
		return nil
	}
	_, exists, err2 := ItemTypeIfExists(ctx, p)
	if err2 != nil {
		return errors.Join(err, err2)
	}
	if !exists {
		return nil
	}
	return err
}
