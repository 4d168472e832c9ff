// Package s3fs provides a vfs backend for S3-compatible object storage.
//
// Objects are files. Folders are virtual, derived from key prefixes: a
// folder exists exactly while at least one object lives under its prefix,
// and creating or removing one is a no-op apart from console-style marker
// objects, which removal cleans up. Timestamps are immutable; SetModTime
// returns ErrUnsupported and copies onto this backend carry an advisory
// CopyResult.ErrModTime. Symlinks do not exist in this namespace.
//
// Backends sharing one *minio.Client exchange files server-side. Same-kind
// backends on different clients fall back to streaming the content through
// this process.
package s3fs

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"

	"github.com/driftsync/vfs"
)

var s3Kind = vfs.RegisterKind("s3")

// FS is a backend rooted at a bucket, or at a key prefix within one.
type FS struct {
	client   *minio.Client
	endpoint string
	bucket   string
	prefix   string // "" or "a/b" form, no surrounding separators
}

// Kind reports the backend family "s3".
func (m *FS) Kind() vfs.Kind { return s3Kind }

// CompareRoot orders backends by endpoint, bucket, and prefix.
func (m *FS) CompareRoot(other vfs.Backend) int {
	o, ok := other.(*FS)
	if !ok {
		return strings.Compare(m.DisplayPath(""), other.DisplayPath(""))
	}
	if c := strings.Compare(m.endpoint, o.endpoint); c != 0 {
		return c
	}
	if c := strings.Compare(m.bucket, o.bucket); c != 0 {
		return c
	}
	return strings.Compare(m.prefix, o.prefix)
}

// DisplayPath renders rel as an s3:// URL.
func (m *FS) DisplayPath(rel string) string {
	s := "s3://" + m.bucket
	if key := m.key(rel); key != "" {
		s += "/" + key
	}
	return s
}

// key maps rel to its full object key under the configured prefix.
func (m *FS) key(rel string) string {
	switch {
	case m.prefix == "":
		return rel
	case rel == "":
		return m.prefix
	default:
		return m.prefix + "/" + rel
	}
}

// folderPrefix is the listing prefix of a folder: the key plus a trailing
// separator, or empty for the backend root.
func (m *FS) folderPrefix(rel string) string {
	k := m.key(rel)
	if k == "" {
		return ""
	}
	return k + "/"
}

// ItemType resolves files via a stat call and folders via a one-key listing
// of their prefix. The root is always a folder.
func (m *FS) ItemType(ctx context.Context, rel string) (vfs.ItemType, error) {
	if rel == "" {
		return vfs.ItemTypeFolder, nil
	}
	if _, err := m.client.StatObject(ctx, m.bucket, m.key(rel), minio.StatObjectOptions{}); err == nil {
		return vfs.ItemTypeFile, nil
	} else if terr := translate(err); !errors.Is(terr, vfs.ErrNotExist) {
		return vfs.ItemTypeUnknown, m.pathError("stat", rel, terr)
	}
	found, err := m.folderExists(ctx, rel)
	if err != nil {
		return vfs.ItemTypeUnknown, m.pathError("stat", rel, err)
	}
	if found {
		return vfs.ItemTypeFolder, nil
	}
	return vfs.ItemTypeUnknown, m.pathError("stat", rel, vfs.ErrNotExist)
}

// folderExists reports whether at least one object lives under the folder's
// prefix. Canceling the derived context stops the lister after the first
// key instead of paging through the rest.
func (m *FS) folderExists(ctx context.Context, rel string) (bool, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	for object := range m.client.ListObjects(ctx, m.bucket, minio.ListObjectsOptions{
		Prefix:  m.folderPrefix(rel),
		MaxKeys: 1,
	}) {
		if object.Err != nil {
			return false, translate(object.Err)
		}
		return true, nil
	}
	return false, nil
}

// ListFolder lists the direct children of a folder via a delimited listing.
// A prefix with no objects yields an empty listing, not an error; virtual
// folders make the two indistinguishable.
func (m *FS) ListFolder(ctx context.Context, rel string) ([]vfs.Entry, error) {
	prefix := m.folderPrefix(rel)

	var entries []vfs.Entry
	for object := range m.client.ListObjects(ctx, m.bucket, minio.ListObjectsOptions{
		Prefix: prefix,
	}) {
		if object.Err != nil {
			return nil, m.pathError("readdir", rel, translate(object.Err))
		}
		if object.Key == prefix {
			// The folder's own marker object.
			continue
		}
		name := strings.TrimPrefix(object.Key, prefix)
		if strings.HasSuffix(name, "/") {
			name = strings.TrimSuffix(name, "/")
			if !vfs.ValidItemName(name) {
				continue
			}
			entries = append(entries, vfs.Entry{Name: name, Type: vfs.ItemTypeFolder})
			continue
		}
		if !vfs.ValidItemName(name) {
			continue
		}
		entries = append(entries, vfs.Entry{
			Name:    name,
			Type:    vfs.ItemTypeFile,
			Size:    object.Size,
			ModTime: object.LastModified,
			FileID:  vfs.FileID(object.ETag),
		})
	}
	return entries, nil
}

// OpenRead opens the object for streaming and reads fresh attributes from
// the response headers, costing no extra round trip.
func (m *FS) OpenRead(ctx context.Context, rel string) (vfs.ReadStream, error) {
	obj, err := m.client.GetObject(ctx, m.bucket, m.key(rel), minio.GetObjectOptions{})
	if err != nil {
		return nil, m.pathError("open", rel, translate(err))
	}
	info, err := obj.Stat()
	if err != nil {
		_ = obj.Close()
		return nil, m.pathError("open", rel, translate(err))
	}
	return &readStream{
		obj: obj,
		attrs: vfs.StreamAttrs{
			Size:    info.Size,
			ModTime: info.LastModified,
			FileID:  vfs.FileID(info.ETag),
		},
	}, nil
}

// OpenWrite starts a background upload fed through a pipe. Finalize waits
// for the upload and returns the new object's ETag; Discard aborts it, and
// the aborted PUT leaves no partial object behind.
func (m *FS) OpenWrite(ctx context.Context, rel string, sizeHint int64) (vfs.WriteStream, error) {
	if rel == "" {
		return nil, m.pathError("create", rel, vfs.ErrIsFolder)
	}
	return m.startUpload(ctx, rel), nil
}

// SetModTime fails: object timestamps are set by the server on upload.
func (m *FS) SetModTime(ctx context.Context, rel string, mtime time.Time) error {
	return m.pathError("chtimes", rel, vfs.ErrUnsupported)
}

// CreateFolder succeeds without doing anything; folders appear with their
// first object.
func (m *FS) CreateFolder(ctx context.Context, rel string) error {
	return nil
}

// Rename moves one object via a server-side copy and a delete. Virtual
// folders have nothing to move; renaming one fails with ErrNotExist.
func (m *FS) Rename(ctx context.Context, oldRel, newRel string) error {
	_, err := m.client.CopyObject(ctx,
		minio.CopyDestOptions{Bucket: m.bucket, Object: m.key(newRel)},
		minio.CopySrcOptions{Bucket: m.bucket, Object: m.key(oldRel)},
	)
	if err != nil {
		return m.pathError("rename", oldRel, translate(err))
	}
	if err := m.client.RemoveObject(ctx, m.bucket, m.key(oldRel), minio.RemoveObjectOptions{}); err != nil {
		return m.pathError("rename", oldRel, translate(err))
	}
	return nil
}

// RemoveFile deletes an object. Deleting a missing object succeeds.
func (m *FS) RemoveFile(ctx context.Context, rel string) error {
	if err := m.client.RemoveObject(ctx, m.bucket, m.key(rel), minio.RemoveObjectOptions{}); err != nil {
		return m.pathError("remove", rel, translate(err))
	}
	return nil
}

// RemoveSymlink fails; symlinks do not exist in object storage.
func (m *FS) RemoveSymlink(ctx context.Context, rel string) error {
	return m.pathError("remove", rel, vfs.ErrUnsupported)
}

// RemoveEmptyFolder deletes the folder's marker object when a console left
// one behind. Virtual folders otherwise disappear with their last object.
func (m *FS) RemoveEmptyFolder(ctx context.Context, rel string) error {
	if rel == "" {
		return nil
	}
	if err := m.client.RemoveObject(ctx, m.bucket, m.folderPrefix(rel), minio.RemoveObjectOptions{}); err != nil {
		return m.pathError("rmdir", rel, translate(err))
	}
	return nil
}

// CopyFileNative duplicates an object server-side when the target backend
// shares this backend's client. Other same-kind targets get the content
// streamed through this process instead, attributes verified the same way.
func (m *FS) CopyFileNative(ctx context.Context, srcRel string, attrs vfs.StreamAttrs, target vfs.Path, copyPermissions bool, progress vfs.ProgressFunc) (vfs.CopyResult, error) {
	if copyPermissions {
		return vfs.CopyResult{}, m.pathError("copy", srcRel,
			fmt.Errorf("object storage has no permission bits: %w", vfs.ErrUnsupported))
	}

	dst, ok := target.Backend().(*FS)
	if !ok || dst.client != m.client {
		src, err := vfs.NewPath(m, srcRel)
		if err != nil {
			return vfs.CopyResult{}, err
		}
		return vfs.CopyFileStream(ctx, src, attrs, target, progress)
	}

	info, err := m.client.StatObject(ctx, m.bucket, m.key(srcRel), minio.StatObjectOptions{})
	if err != nil {
		return vfs.CopyResult{}, m.pathError("copy", srcRel, translate(err))
	}
	ui, err := dst.client.CopyObject(ctx,
		minio.CopyDestOptions{Bucket: dst.bucket, Object: dst.key(target.Rel())},
		minio.CopySrcOptions{Bucket: m.bucket, Object: m.key(srcRel)},
	)
	if err != nil {
		return vfs.CopyResult{}, dst.pathError("copy", target.Rel(), translate(err))
	}
	if progress != nil {
		progress(info.Size)
	}
	return vfs.CopyResult{
		Size:         info.Size,
		ModTime:      info.LastModified,
		SourceFileID: vfs.FileID(info.ETag),
		TargetFileID: vfs.FileID(ui.ETag),
		// The target's timestamp is its upload time; the source stamp
		// cannot be carried over.
		ErrModTime: dst.pathError("chtimes", target.Rel(), vfs.ErrUnsupported),
	}, nil
}

var (
	_ vfs.Backend      = (*FS)(nil)
	_ vfs.NativeCopier = (*FS)(nil)
)
