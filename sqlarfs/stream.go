package sqlarfs

import (
	"bytes"
	"compress/zlib"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/driftsync/vfs"
)

const readFileSQL = `SELECT mode, mtime, sz, data, rowid FROM sqlar WHERE name = ?1`

var errIsSymlink = errors.New("item is a symlink")

// OpenRead loads the row's content into memory. Entries a compressing
// writer stored are inflated; rows written by this package come back as-is.
func (a *FS) OpenRead(ctx context.Context, rel string) (vfs.ReadStream, error) {
	if rel == "" {
		return nil, a.pathError("open", rel, vfs.ErrIsFolder)
	}
	var (
		mode, mtime, sz, rowid int64
		data                   []byte
	)
	err := a.db.QueryRowContext(ctx, readFileSQL, rel).Scan(&mode, &mtime, &sz, &data, &rowid)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, a.pathError("open", rel, vfs.ErrNotExist)
	case err != nil:
		return nil, a.pathError("open", rel, err)
	}
	switch typeFromMode(mode) {
	case vfs.ItemTypeFolder:
		return nil, a.pathError("open", rel, vfs.ErrIsFolder)
	case vfs.ItemTypeSymlink:
		return nil, a.pathError("open", rel, errIsSymlink)
	}

	content, err := inflate(data, sz)
	if err != nil {
		return nil, a.pathError("open", rel, err)
	}
	return &readStream{
		Reader: bytes.NewReader(content),
		attrs: vfs.StreamAttrs{
			Size:    sz,
			ModTime: time.Unix(mtime, 0),
			FileID:  fileID(rowid),
		},
	}, nil
}

// inflate returns the stored content. The sqlar convention marks rows as
// uncompressed when sz equals the blob length; anything else is zlib.
func inflate(data []byte, sz int64) ([]byte, error) {
	if int64(len(data)) == sz {
		return data, nil
	}
	zr, err := zlib.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("inflating entry: %w", err)
	}
	defer zr.Close()
	content, err := io.ReadAll(zr)
	if err != nil {
		return nil, fmt.Errorf("inflating entry: %w", err)
	}
	if int64(len(content)) != sz {
		return nil, fmt.Errorf("inflated length %d does not match recorded size %d", len(content), sz)
	}
	return content, nil
}

type readStream struct {
	*bytes.Reader
	attrs vfs.StreamAttrs
}

func (r *readStream) Close() error { return nil }

func (r *readStream) Attributes() (vfs.StreamAttrs, bool) { return r.attrs, true }

// OpenWrite buffers content in memory and commits it as a single row when
// the stream is finalized. The archive is untouched until then, so an
// abandoned stream needs no cleanup.
func (a *FS) OpenWrite(ctx context.Context, rel string, sizeHint int64) (vfs.WriteStream, error) {
	if err := a.prepareTarget(ctx, a.db, rel); err != nil {
		return nil, a.pathError("create", rel, err)
	}
	w := &writeStream{fs: a, ctx: ctx, rel: rel}
	if sizeHint > 0 {
		w.buf.Grow(int(sizeHint))
	}
	return w, nil
}

// prepareTarget rejects writes whose parent is missing or whose name is
// taken by a folder.
func (a *FS) prepareTarget(ctx context.Context, q queryer, rel string) error {
	if rel == "" {
		return vfs.ErrIsFolder
	}
	if err := a.requireParentFolder(ctx, q, rel); err != nil {
		return err
	}
	mode, ok, err := a.modeOf(ctx, q, rel)
	if err != nil {
		return err
	}
	if ok && typeFromMode(mode) == vfs.ItemTypeFolder {
		return vfs.ErrIsFolder
	}
	return nil
}

const upsertRowSQL = `INSERT OR REPLACE INTO sqlar (name, mode, mtime, sz, data) VALUES (?1, ?2, ?3, ?4, ?5)`

type writeStream struct {
	fs   *FS
	ctx  context.Context
	rel  string
	buf  bytes.Buffer
	done bool
}

func (w *writeStream) Write(p []byte) (int, error) {
	return w.buf.Write(p)
}

func (w *writeStream) Finalize() (vfs.FileID, error) {
	w.done = true
	data := w.buf.Bytes()
	if data == nil {
		data = []byte{}
	}
	var id vfs.FileID
	err := w.fs.withTx(w.ctx, func(tx *sql.Tx) error {
		// The parent may have vanished since OpenWrite; the transaction is
		// the authoritative check.
		if err := w.fs.prepareTarget(w.ctx, tx, w.rel); err != nil {
			return err
		}
		res, err := tx.ExecContext(w.ctx, upsertRowSQL,
			w.rel, modeFile|fileModeBits, time.Now().Unix(), len(data), data)
		if err != nil {
			return err
		}
		rowid, err := res.LastInsertId()
		if err != nil {
			return err
		}
		id = fileID(rowid)
		return nil
	})
	if err != nil {
		return "", w.fs.pathError("create", w.rel, err)
	}
	return id, nil
}

func (w *writeStream) Discard() error {
	if w.done {
		return nil
	}
	w.done = true
	w.buf.Reset()
	return nil
}

var (
	_ vfs.ReadStream  = (*readStream)(nil)
	_ vfs.WriteStream = (*writeStream)(nil)
)
