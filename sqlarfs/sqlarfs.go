// Package sqlarfs provides a vfs backend inside a SQLite archive file.
//
// The archive uses the sqlar table layout (name, mode, mtime, sz, data), so
// files written here are readable with the sqlite3 command line tool and
// vice versa. Folders are rows with a directory mode, symlinks are rows
// carrying their target in data. Writes store content uncompressed; reads
// transparently inflate entries a compressing writer left behind.
//
// Timestamps have one-second resolution. Content passes through memory on
// reads and writes, which suits archives, not bulk media storage.
package sqlarfs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver" // SQLite driver (pure Go)
	_ "github.com/ncruces/go-sqlite3/embed"  // Embed SQLite WASM binary

	"github.com/driftsync/vfs"
)

var sqlarKind = vfs.RegisterKind("sqlar")

// Unix file type bits, as the sqlar format stores them in mode.
const (
	modeTypeMask = 0o170000
	modeDir      = 0o040000
	modeFile     = 0o100000
	modeSymlink  = 0o120000

	fileModeBits   = 0o644
	folderModeBits = 0o755
)

const createTableSQL = `
CREATE TABLE IF NOT EXISTS sqlar (
	name  TEXT PRIMARY KEY,
	mode  INT,
	mtime INT,
	sz    INT,
	data  BLOB
)`

var errNotFolder = errors.New("item is not a folder")

// FS is a backend rooted at the top of one archive file.
type FS struct {
	db   *sql.DB
	path string // normalized archive location, used for display and ordering
}

// New opens the archive at path, creating the file and the sqlar table as
// needed. The caller owns the returned FS and closes it when done.
func New(path string) (*FS, error) {
	label := path
	if path != ":memory:" {
		abs, err := filepath.Abs(path)
		if err != nil {
			return nil, fmt.Errorf("resolving archive path: %w", err)
		}
		path = abs
		label = filepath.ToSlash(abs)
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("opening archive: %w", err)
	}

	// SQLite is single-writer; a second connection would only block.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("opening archive %s: %w", label, err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("configuring archive %s: %w", label, err)
	}
	if _, err := db.Exec(createTableSQL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("preparing archive %s: %w", label, err)
	}

	return &FS{db: db, path: label}, nil
}

// Close releases the underlying database handle.
func (a *FS) Close() error { return a.db.Close() }

// Kind reports the backend family "sqlar".
func (a *FS) Kind() vfs.Kind { return sqlarKind }

// CompareRoot orders backends by archive location.
func (a *FS) CompareRoot(other vfs.Backend) int {
	if o, ok := other.(*FS); ok {
		return strings.Compare(a.path, o.path)
	}
	return strings.Compare(a.DisplayPath(""), other.DisplayPath(""))
}

// DisplayPath renders rel in "archive!/rel" form.
func (a *FS) DisplayPath(rel string) string {
	if rel == "" {
		return a.path + "!"
	}
	return a.path + "!/" + rel
}

// ItemType looks the row up by name. The archive root is not a row and
// always exists.
func (a *FS) ItemType(ctx context.Context, rel string) (vfs.ItemType, error) {
	if rel == "" {
		return vfs.ItemTypeFolder, nil
	}
	mode, ok, err := a.modeOf(ctx, a.db, rel)
	if err != nil {
		return vfs.ItemTypeUnknown, a.pathError("stat", rel, err)
	}
	if !ok {
		return vfs.ItemTypeUnknown, a.pathError("stat", rel, vfs.ErrNotExist)
	}
	return typeFromMode(mode), nil
}

const listChildrenSQL = `
SELECT name, mode, mtime, sz, rowid FROM sqlar
WHERE substr(name, 1, ?1) = ?2 AND instr(substr(name, ?1 + 1), '/') = 0
ORDER BY name`

// ListFolder returns the folder's direct children in name order.
func (a *FS) ListFolder(ctx context.Context, rel string) ([]vfs.Entry, error) {
	if rel != "" {
		mode, ok, err := a.modeOf(ctx, a.db, rel)
		if err != nil {
			return nil, a.pathError("readdir", rel, err)
		}
		if !ok {
			return nil, a.pathError("readdir", rel, vfs.ErrNotExist)
		}
		if typeFromMode(mode) != vfs.ItemTypeFolder {
			return nil, a.pathError("readdir", rel, errNotFolder)
		}
	}

	prefix := folderPrefix(rel)
	rows, err := a.db.QueryContext(ctx, listChildrenSQL, len(prefix), prefix)
	if err != nil {
		return nil, a.pathError("readdir", rel, err)
	}
	defer rows.Close()

	var entries []vfs.Entry
	for rows.Next() {
		var (
			name        string
			mode, mtime int64
			sz, rowid   int64
		)
		if err := rows.Scan(&name, &mode, &mtime, &sz, &rowid); err != nil {
			return nil, a.pathError("readdir", rel, err)
		}
		e := vfs.Entry{
			Name:    name[len(prefix):],
			Type:    typeFromMode(mode),
			ModTime: time.Unix(mtime, 0),
		}
		if e.Type == vfs.ItemTypeFile {
			e.Size = sz
			e.FileID = fileID(rowid)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, a.pathError("readdir", rel, err)
	}
	return entries, nil
}

const touchSQL = `UPDATE sqlar SET mtime = ?2 WHERE name = ?1`

// SetModTime updates the named row's timestamp, truncated to whole seconds.
func (a *FS) SetModTime(ctx context.Context, rel string, mtime time.Time) error {
	if rel == "" {
		return a.pathError("chtimes", rel, vfs.ErrUnsupported)
	}
	res, err := a.db.ExecContext(ctx, touchSQL, rel, mtime.Unix())
	if err != nil {
		return a.pathError("chtimes", rel, err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return a.pathError("chtimes", rel, err)
	} else if n == 0 {
		return a.pathError("chtimes", rel, vfs.ErrNotExist)
	}
	return nil
}

const insertFolderSQL = `INSERT INTO sqlar (name, mode, mtime, sz, data) VALUES (?1, ?2, ?3, 0, NULL)`

// CreateFolder inserts a single folder row. The parent must exist and the
// name must be free.
func (a *FS) CreateFolder(ctx context.Context, rel string) error {
	if rel == "" {
		return a.pathError("mkdir", rel, vfs.ErrExist)
	}
	return a.withTx(ctx, func(tx *sql.Tx) error {
		if _, ok, err := a.modeOf(ctx, tx, rel); err != nil {
			return a.pathError("mkdir", rel, err)
		} else if ok {
			return a.pathError("mkdir", rel, vfs.ErrExist)
		}
		if err := a.requireParentFolder(ctx, tx, rel); err != nil {
			return a.pathError("mkdir", rel, err)
		}
		_, err := tx.ExecContext(ctx, insertFolderSQL,
			rel, modeDir|folderModeBits, time.Now().Unix())
		if err != nil {
			return a.pathError("mkdir", rel, err)
		}
		return nil
	})
}

const (
	deleteSubtreeSQL = `DELETE FROM sqlar WHERE name = ?1 OR substr(name, 1, ?2) = ?3`
	renameSubtreeSQL = `
UPDATE sqlar SET name = ?1 || substr(name, ?2)
WHERE name = ?3 OR substr(name, 1, ?4) = ?5`
)

// Rename moves an item, subtree included, to a new name. An existing target
// is replaced.
func (a *FS) Rename(ctx context.Context, oldRel, newRel string) error {
	oldPrefix := oldRel + "/"
	newPrefix := newRel + "/"
	return a.withTx(ctx, func(tx *sql.Tx) error {
		if err := a.requireParentFolder(ctx, tx, newRel); err != nil {
			return a.pathError("rename", oldRel, err)
		}
		if _, err := tx.ExecContext(ctx, deleteSubtreeSQL,
			newRel, len(newPrefix), newPrefix); err != nil {
			return a.pathError("rename", oldRel, err)
		}
		res, err := tx.ExecContext(ctx, renameSubtreeSQL,
			newRel, len(oldRel)+1, oldRel, len(oldPrefix), oldPrefix)
		if err != nil {
			return a.pathError("rename", oldRel, err)
		}
		if n, err := res.RowsAffected(); err != nil {
			return a.pathError("rename", oldRel, err)
		} else if n == 0 {
			return a.pathError("rename", oldRel, vfs.ErrNotExist)
		}
		return nil
	})
}

// RemoveFile deletes a file or symlink row.
func (a *FS) RemoveFile(ctx context.Context, rel string) error {
	return a.removeNonFolder(ctx, rel)
}

// RemoveSymlink deletes a symlink row; the row it points at stays.
func (a *FS) RemoveSymlink(ctx context.Context, rel string) error {
	return a.removeNonFolder(ctx, rel)
}

const deleteRowSQL = `DELETE FROM sqlar WHERE name = ?1`

func (a *FS) removeNonFolder(ctx context.Context, rel string) error {
	return a.withTx(ctx, func(tx *sql.Tx) error {
		mode, ok, err := a.modeOf(ctx, tx, rel)
		if err != nil {
			return a.pathError("remove", rel, err)
		}
		if !ok {
			return a.pathError("remove", rel, vfs.ErrNotExist)
		}
		if typeFromMode(mode) == vfs.ItemTypeFolder {
			return a.pathError("remove", rel, vfs.ErrIsFolder)
		}
		if _, err := tx.ExecContext(ctx, deleteRowSQL, rel); err != nil {
			return a.pathError("remove", rel, err)
		}
		return nil
	})
}

const hasChildSQL = `
SELECT 1 FROM sqlar
WHERE substr(name, 1, ?1) = ?2 LIMIT 1`

// RemoveEmptyFolder deletes a folder row, failing with ErrNotEmpty while
// anything still lives under it.
func (a *FS) RemoveEmptyFolder(ctx context.Context, rel string) error {
	if rel == "" {
		return a.pathError("rmdir", rel, vfs.ErrUnsupported)
	}
	return a.withTx(ctx, func(tx *sql.Tx) error {
		mode, ok, err := a.modeOf(ctx, tx, rel)
		if err != nil {
			return a.pathError("rmdir", rel, err)
		}
		if !ok {
			return a.pathError("rmdir", rel, vfs.ErrNotExist)
		}
		if typeFromMode(mode) != vfs.ItemTypeFolder {
			return a.pathError("rmdir", rel, errNotFolder)
		}
		prefix := folderPrefix(rel)
		var one int
		err = tx.QueryRowContext(ctx, hasChildSQL, len(prefix), prefix).Scan(&one)
		switch {
		case err == nil:
			return a.pathError("rmdir", rel, vfs.ErrNotEmpty)
		case !errors.Is(err, sql.ErrNoRows):
			return a.pathError("rmdir", rel, err)
		}
		if _, err := tx.ExecContext(ctx, deleteRowSQL, rel); err != nil {
			return a.pathError("rmdir", rel, err)
		}
		return nil
	})
}

// --- shared plumbing --------------------------------------------------------

// queryer covers *sql.DB and *sql.Tx for row lookups.
type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

const itemModeSQL = `SELECT mode FROM sqlar WHERE name = ?1`

func (a *FS) modeOf(ctx context.Context, q queryer, name string) (mode int64, ok bool, err error) {
	err = q.QueryRowContext(ctx, itemModeSQL, name).Scan(&mode)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return 0, false, nil
	case err != nil:
		return 0, false, err
	}
	return mode, true, nil
}

// requireParentFolder fails unless rel's parent exists and is a folder. The
// root counts as existing.
func (a *FS) requireParentFolder(ctx context.Context, q queryer, rel string) error {
	parent := parentOf(rel)
	if parent == "" {
		return nil
	}
	mode, ok, err := a.modeOf(ctx, q, parent)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("parent folder: %w", vfs.ErrNotExist)
	}
	if typeFromMode(mode) != vfs.ItemTypeFolder {
		return fmt.Errorf("parent: %w", errNotFolder)
	}
	return nil
}

func (a *FS) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (a *FS) pathError(op, rel string, err error) error {
	return &fs.PathError{Op: op, Path: a.DisplayPath(rel), Err: err}
}

func typeFromMode(mode int64) vfs.ItemType {
	switch mode & modeTypeMask {
	case modeDir:
		return vfs.ItemTypeFolder
	case modeSymlink:
		return vfs.ItemTypeSymlink
	default:
		return vfs.ItemTypeFile
	}
}

func fileID(rowid int64) vfs.FileID {
	return vfs.FileID(strconv.FormatInt(rowid, 10))
}

func folderPrefix(rel string) string {
	if rel == "" {
		return ""
	}
	return rel + "/"
}

func parentOf(rel string) string {
	if i := strings.LastIndexByte(rel, '/'); i >= 0 {
		return rel[:i]
	}
	return ""
}

var _ vfs.Backend = (*FS)(nil)
