package s3fs

import (
	"context"
	"errors"
	"io"

	"github.com/minio/minio-go/v7"

	"github.com/driftsync/vfs"
)

// uploadPartSize bounds the buffer minio-go allocates per part when it
// streams an upload of unknown length.
const uploadPartSize = 16 * 1024 * 1024

var errWriteDiscarded = errors.New("write discarded")

// readStream wraps an open GET response.
type readStream struct {
	obj   *minio.Object
	attrs vfs.StreamAttrs
}

func (r *readStream) Read(p []byte) (int, error) { return r.obj.Read(p) }
func (r *readStream) Close() error               { return r.obj.Close() }

func (r *readStream) Attributes() (vfs.StreamAttrs, bool) { return r.attrs, true }

type putResult struct {
	info minio.UploadInfo
	err  error
}

// writeStream feeds a background PutObject through a pipe. The upload is
// unsized regardless of the caller's hint; an exact-length PUT would reject
// streams whose source changed size mid-copy, a case the engine's own byte
// accounting reports with more context.
type writeStream struct {
	fs   *FS
	rel  string
	pw   *io.PipeWriter
	res  chan putResult
	done bool
}

func (m *FS) startUpload(ctx context.Context, rel string) *writeStream {
	pr, pw := io.Pipe()
	res := make(chan putResult, 1)

	go func() {
		info, err := m.client.PutObject(ctx, m.bucket, m.key(rel), pr, -1, minio.PutObjectOptions{
			ContentType: "application/octet-stream",
			PartSize:    uploadPartSize,
		})
		_ = pr.CloseWithError(err)
		res <- putResult{info: info, err: err}
	}()

	return &writeStream{fs: m, rel: rel, pw: pw, res: res}
}

// Write blocks until the uploader consumes p. A failed upload closes the
// pipe and its error surfaces here.
func (w *writeStream) Write(p []byte) (int, error) {
	n, err := w.pw.Write(p)
	if err != nil {
		return n, w.fs.pathError("write", w.rel, translate(err))
	}
	return n, nil
}

// Finalize completes the upload and returns the object's ETag.
func (w *writeStream) Finalize() (vfs.FileID, error) {
	w.done = true
	_ = w.pw.Close()
	res := <-w.res
	if res.err != nil {
		return "", w.fs.pathError("create", w.rel, translate(res.err))
	}
	return vfs.FileID(res.info.ETag), nil
}

// Discard aborts the upload. The server discards incomplete PUTs, so no
// partial object remains.
func (w *writeStream) Discard() error {
	if w.done {
		return nil
	}
	w.done = true
	_ = w.pw.CloseWithError(errWriteDiscarded)
	<-w.res
	return nil
}

var (
	_ vfs.ReadStream  = (*readStream)(nil)
	_ vfs.WriteStream = (*writeStream)(nil)
)
