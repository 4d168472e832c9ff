package sqlarfs

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/driftsync/vfs"
)

const copyRowSQL = `
INSERT OR REPLACE INTO sqlar (name, mode, mtime, sz, data)
SELECT ?1, mode, mtime, sz, data FROM sqlar WHERE name = ?2`

// CopyFileNative duplicates a file row without pumping content through the
// caller. Copies within one archive run as a single INSERT ... SELECT;
// copies into another archive carry the whole row across. Mode bits and the
// timestamp ride along either way, so permission requests cost nothing and
// the result never reports a timestamp failure.
func (a *FS) CopyFileNative(ctx context.Context, srcRel string, attrs vfs.StreamAttrs, target vfs.Path, copyPermissions bool, progress vfs.ProgressFunc) (vfs.CopyResult, error) {
	dst, ok := target.Backend().(*FS)
	if !ok {
		if copyPermissions {
			return vfs.CopyResult{}, a.pathError("copy", srcRel, vfs.ErrUnsupported)
		}
		src, err := vfs.NewPath(a, srcRel)
		if err != nil {
			return vfs.CopyResult{}, err
		}
		return vfs.CopyFileStream(ctx, src, attrs, target, progress)
	}
	if dst.db == a.db {
		return a.copyWithinArchive(ctx, srcRel, dst, target.Rel(), progress)
	}
	return a.copyAcrossArchives(ctx, srcRel, dst, target.Rel(), progress)
}

func (a *FS) copyWithinArchive(ctx context.Context, srcRel string, dst *FS, dstRel string, progress vfs.ProgressFunc) (vfs.CopyResult, error) {
	var res vfs.CopyResult
	err := a.withTx(ctx, func(tx *sql.Tx) error {
		src, err := a.rowInfo(ctx, tx, srcRel)
		if err != nil {
			return a.pathError("copy", srcRel, err)
		}
		if typeFromMode(src.mode) == vfs.ItemTypeFolder {
			return a.pathError("copy", srcRel, vfs.ErrIsFolder)
		}
		if err := dst.prepareTarget(ctx, tx, dstRel); err != nil {
			return dst.pathError("copy", dstRel, err)
		}
		out, err := tx.ExecContext(ctx, copyRowSQL, dstRel, srcRel)
		if err != nil {
			return a.pathError("copy", srcRel, err)
		}
		rowid, err := out.LastInsertId()
		if err != nil {
			return a.pathError("copy", srcRel, err)
		}
		res = vfs.CopyResult{
			Size:         src.sz,
			ModTime:      time.Unix(src.mtime, 0),
			SourceFileID: fileID(src.rowid),
			TargetFileID: fileID(rowid),
		}
		return nil
	})
	if err != nil {
		return vfs.CopyResult{}, err
	}
	if progress != nil {
		progress(res.Size)
	}
	return res, nil
}

// copyAcrossArchives moves one row between databases through this process.
// Compressed rows are copied verbatim, sz and blob together, so the target
// entry stays valid without an inflate and deflate round trip.
func (a *FS) copyAcrossArchives(ctx context.Context, srcRel string, dst *FS, dstRel string, progress vfs.ProgressFunc) (vfs.CopyResult, error) {
	var (
		mode, mtime, sz, srcID int64
		data                   []byte
	)
	err := a.db.QueryRowContext(ctx, readFileSQL, srcRel).Scan(&mode, &mtime, &sz, &data, &srcID)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return vfs.CopyResult{}, a.pathError("copy", srcRel, vfs.ErrNotExist)
	case err != nil:
		return vfs.CopyResult{}, a.pathError("copy", srcRel, err)
	}
	if typeFromMode(mode) == vfs.ItemTypeFolder {
		return vfs.CopyResult{}, a.pathError("copy", srcRel, vfs.ErrIsFolder)
	}

	var targetID vfs.FileID
	err = dst.withTx(ctx, func(tx *sql.Tx) error {
		if err := dst.prepareTarget(ctx, tx, dstRel); err != nil {
			return err
		}
		out, err := tx.ExecContext(ctx, upsertRowSQL, dstRel, mode, mtime, sz, data)
		if err != nil {
			return err
		}
		rowid, err := out.LastInsertId()
		if err != nil {
			return err
		}
		targetID = fileID(rowid)
		return nil
	})
	if err != nil {
		return vfs.CopyResult{}, dst.pathError("copy", dstRel, err)
	}
	if progress != nil {
		progress(sz)
	}
	return vfs.CopyResult{
		Size:         sz,
		ModTime:      time.Unix(mtime, 0),
		SourceFileID: fileID(srcID),
		TargetFileID: targetID,
	}, nil
}

type rowInfo struct {
	mode  int64
	mtime int64
	sz    int64
	rowid int64
}

const rowInfoSQL = `SELECT mode, mtime, sz, rowid FROM sqlar WHERE name = ?1`

func (a *FS) rowInfo(ctx context.Context, q queryer, name string) (rowInfo, error) {
	var r rowInfo
	err := q.QueryRowContext(ctx, rowInfoSQL, name).Scan(&r.mode, &r.mtime, &r.sz, &r.rowid)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return r, vfs.ErrNotExist
	case err != nil:
		return r, err
	}
	return r, nil
}

var _ vfs.NativeCopier = (*FS)(nil)
