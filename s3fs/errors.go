package s3fs

import (
	"io/fs"

	"github.com/minio/minio-go/v7"

	"github.com/driftsync/vfs"
)

// translate maps minio error responses onto the vfs sentinels so callers
// can match with errors.Is without knowing the backend.
func translate(err error) error {
	if err == nil {
		return nil
	}
	switch minio.ToErrorResponse(err).Code {
	case "NoSuchKey", "NoSuchBucket":
		return vfs.ErrNotExist
	case "AccessDenied":
		return vfs.ErrPermission
	}
	return err
}

func (m *FS) pathError(op, rel string, err error) error {
	return &fs.PathError{Op: op, Path: m.DisplayPath(rel), Err: err}
}
