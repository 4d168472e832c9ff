package vfs

import (
	"context"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// TempFileSuffix marks the working files the transactional copy writes next
// to its target. Leftovers carrying it are remnants of an interrupted run
// and are safe to delete.
const TempFileSuffix = ".vtmp"

// copyBufferSize is the chunk size of the streamed copy pump.
const copyBufferSize = 256 * 1024

// CopyResult reports what a completed file copy produced. Size and ModTime
// are the source attributes that were actually copied, which may be fresher
// than what the caller passed in.
type CopyResult struct {
	Size         int64
	ModTime      time.Time
	SourceFileID FileID
	TargetFileID FileID

	// ErrModTime is set when everything succeeded except propagating the
	// modification time to the target. Callers treat it as advisory: the
	// copy is complete and consistent, the target merely looks externally
	// updated.
	ErrModTime error
}

// CopyOptions controls CopyFile.
type CopyOptions struct {
	// Transactional routes the copy through a temporary sibling of the
	// target, renamed into place only after the content is fully written.
	// An interrupted run then leaves a recognizable temp file instead of a
	// half-written target.
	Transactional bool

	// CopyPermissions carries ownership and access bits over to the
	// target. Requires source and target backends of the same kind with
	// native copy support; the stream fallback cannot satisfy it and
	// fails rather than silently dropping it.
	CopyPermissions bool

	// OnDeleteTarget, when set, is called right before the target path is
	// (re)claimed: after the content has been secured in transactional
	// mode, before any copying otherwise. The caller typically deletes an
	// old version of the target here. An error aborts the copy.
	OnDeleteTarget func() error

	// Progress receives cumulative content byte counts during the copy.
	Progress ProgressFunc

	// Logger, when set, receives debug output.
	Logger *zap.Logger
}

// CopyFile copies one file from src to target, which may live on a
// different backend. attrs are the source attributes the caller knows,
// typically from an earlier listing; when the source stream reports fresher
// ones mid-copy, those win.
//
// Backends of the same kind copy natively when the source implements
// NativeCopier. Otherwise the content is streamed through this process and
// verified: the copy fails if the byte count moved does not match the
// source size exactly, counting each byte once per direction.
//
// A target that already exists is undefined behavior at the backend level;
// use OnDeleteTarget for deterministic replace semantics.
func CopyFile(ctx context.Context, src Path, attrs StreamAttrs, target Path, opts CopyOptions) (CopyResult, error) {
	logger := loggerOrNop(opts.Logger)

	copyPlain := func(dst Path) (CopyResult, error) {
		if src.Backend().Kind() == dst.Backend().Kind() {
			if nc, ok := src.Backend().(NativeCopier); ok {
				return nc.CopyFileNative(ctx, src.Rel(), attrs, dst, opts.CopyPermissions, opts.Progress)
			}
		}
		if opts.CopyPermissions {
			return CopyResult{}, pathError("copy", dst,
				fmt.Errorf("copying permissions between unrelated backends: %w", ErrUnsupported))
		}
		return CopyFileStream(ctx, src, attrs, dst, opts.Progress)
	}

	if !opts.Transactional {
		if opts.OnDeleteTarget != nil {
			if err := opts.OnDeleteTarget(); err != nil {
				return CopyResult{}, err
			}
		}
		return copyPlain(target)
	}

	parent, ok := target.Parent()
	if !ok {
		return CopyResult{}, pathError("copy", target, errors.New("target is a backend root"))
	}

	// One shot at a unique temp name; no retry loop on collision, it would
	// only mask remnants of interrupted runs.
	tmp := parent.Join(tempSiblingName(target.ItemName()))

	result, err := copyPlain(tmp)
	if err != nil {
		return CopyResult{}, err
	}

	// The content is secured in tmp; from here on every failure exit must
	// take the temp file with it. Cleanup ignores ctx cancellation, which
	// may well be the reason we are failing.
	committed := false
	defer func() {
		if committed {
			return
		}
		if rerr := tmp.Backend().RemoveFile(context.WithoutCancel(ctx), tmp.Rel()); rerr != nil {
			logger.Debug("leaving temp file behind after failed copy",
				zap.String("path", tmp.Display()),
				zap.Error(rerr))
		}
	}()

	// Delete the old target only now, when its replacement is fully
	// written and one rename away.
	if opts.OnDeleteTarget != nil {
		if err := opts.OnDeleteTarget(); err != nil {
			return CopyResult{}, err
		}
	}
	if err := target.Backend().Rename(ctx, tmp.Rel(), target.Rel()); err != nil {
		return CopyResult{}, err
	}
	committed = true
	return result, nil
}

// CopyFileStream copies file content from src to target through this
// process, re-reading attributes from the source stream when the backend
// offers them, and verifies the transferred byte count against the source
// size. It powers the cross-backend path of CopyFile and is exported for
// callers that want the stream semantics unconditionally.
func CopyFileStream(ctx context.Context, src Path, attrs StreamAttrs, target Path, progress ProgressFunc) (result CopyResult, err error) {
	in, err := src.Backend().OpenRead(ctx, src.Rel())
	if err != nil {
		return CopyResult{}, err
	}
	defer in.Close()

	// The source may have changed since the caller captured attrs; prefer
	// what the open stream reports. Backends that cannot tell without an
	// extra round trip return ok=false and we work with the stale values.
	if fresh, ok := in.Attributes(); ok {
		attrs = fresh
	}

	out, err := target.Backend().OpenWrite(ctx, target.Rel(), attrs.Size)
	if err != nil {
		return CopyResult{}, err
	}

	// Self-cleaning until finalized: on any earlier failure the stream is
	// discarded and whatever the backend materialized at the target path is
	// removed, so callers never see a half-written file. The target must not
	// have existed before this call.
	finalized := false
	defer func() {
		if finalized {
			return
		}
		_ = out.Discard()
		_ = target.Backend().RemoveFile(context.WithoutCancel(ctx), target.Rel())
	}()

	counter := &ioCounter{progress: progress}
	buf := make([]byte, copyBufferSize)
	if _, err := io.CopyBuffer(
		&countingWriter{w: out, c: counter},
		&countingReader{r: in, c: counter},
		buf,
	); err != nil {
		return CopyResult{}, err
	}

	targetID, err := out.Finalize()
	if err != nil {
		return CopyResult{}, err
	}
	finalized = true

	// Byte accounting check: every content byte passes the counter twice,
	// once read and once written. A mismatch means the source changed size
	// mid-copy or a stream lied; the target content cannot be trusted.
	if counter.total != 2*attrs.Size {
		return CopyResult{}, &SizeMismatchError{
			Path:     src.Display(),
			Expected: 2 * attrs.Size,
			Actual:   counter.total,
		}
	}

	result = CopyResult{
		Size:         attrs.Size,
		ModTime:      attrs.ModTime,
		SourceFileID: attrs.FileID,
		TargetFileID: targetID,
	}

	// Setting the timestamp is the one step whose failure does not void
	// the copy: the target is complete, it just looks externally updated.
	if err := target.Backend().SetModTime(ctx, target.Rel(), attrs.ModTime); err != nil {
		result.ErrModTime = err
	}
	return result, nil
}

// tempSiblingName derives the name of the transactional working file: the
// target's stem, a short random tag against clashes with leftovers of
// earlier runs, and the recognizable suffix.
func tempSiblingName(name string) string {
	stem := name
	if i := strings.LastIndexByte(name, '.'); i >= 0 {
		stem = name[:i]
	}
	tag := crc32.ChecksumIEEE([]byte(uuid.NewString())) & 0xffff
	return fmt.Sprintf("%s.%04x%s", stem, tag, TempFileSuffix)
}

// ioCounter accumulates raw stream traffic and reports content progress,
// which moves at half the raw rate since each byte is read and written.
type ioCounter struct {
	total    int64
	progress ProgressFunc
}

func (c *ioCounter) add(n int) {
	c.total += int64(n)
	if c.progress != nil {
		c.progress(c.total / 2)
	}
}

type countingReader struct {
	r io.Reader
	c *ioCounter
}

func (cr *countingReader) Read(p []byte) (int, error) {
	n, err := cr.r.Read(p)
	cr.c.add(n)
	return n, err
}

type countingWriter struct {
	w io.Writer
	c *ioCounter
}

func (cw *countingWriter) Write(p []byte) (int, error) {
	n, err := cw.w.Write(p)
	cw.c.add(n)
	return n, err
}
