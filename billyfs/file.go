package billyfs

import (
	"io"

	"github.com/go-git/go-billy/v5"

	"github.com/driftsync/vfs"
)

// readStream hands out the attributes observed when the stream was opened.
// billy files cannot be fstat'ed, so a Stat by name right before the open
// is the freshest the adapter can offer.
type readStream struct {
	file  billy.File
	attrs vfs.StreamAttrs
}

func (r *readStream) Read(p []byte) (int, error) { return r.file.Read(p) }

func (r *readStream) Close() error { return r.file.Close() }

func (r *readStream) Attributes() (vfs.StreamAttrs, bool) { return r.attrs, true }

// writeStream syncs on Finalize when the file supports it. Discard removes
// whatever billy materialized at the path, so aborted writes leave nothing
// behind.
type writeStream struct {
	fs   *FS
	file billy.File
	rel  string
	done bool
}

func (w *writeStream) Write(p []byte) (int, error) { return w.file.Write(p) }

func (w *writeStream) Finalize() (vfs.FileID, error) {
	w.done = true
	if s, ok := w.file.(interface{ Sync() error }); ok {
		if err := s.Sync(); err != nil {
			_ = w.file.Close()
			return "", err
		}
	}
	if err := w.file.Close(); err != nil {
		return "", err
	}
	return "", nil
}

func (w *writeStream) Discard() error {
	if w.done {
		return nil
	}
	w.done = true
	cerr := w.file.Close()
	if err := w.fs.remove(w.rel); err != nil && cerr == nil {
		cerr = err
	}
	return cerr
}

// progressWriter reports the cumulative byte count after every write.
type progressWriter struct {
	w      io.Writer
	report vfs.ProgressFunc
	total  int64
}

func (p *progressWriter) Write(b []byte) (int, error) {
	n, err := p.w.Write(b)
	p.total += int64(n)
	p.report(p.total)
	return n, err
}

var (
	_ vfs.ReadStream  = (*readStream)(nil)
	_ vfs.WriteStream = (*writeStream)(nil)
)
