package vfs_test

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/driftsync/vfs"
	"github.com/driftsync/vfs/vfstest"
)

func sourceAttrs(f *vfstest.Fake, rel string) vfs.StreamAttrs {
	data, ok := f.FileData(rel)
	if !ok {
		panic("no such file: " + rel)
	}
	mtime, _ := f.FileModTime(rel)
	return vfs.StreamAttrs{Size: int64(len(data)), ModTime: mtime}
}

func TestCopyFileStreamRoundTrip(t *testing.T) {
	src := vfstest.New("src")
	dst := vfstest.New("dst")
	mtime := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	src.PutFile("a.txt", []byte("payload"), mtime)

	res, err := vfs.CopyFile(context.Background(),
		vfs.RootPath(src).Join("a.txt"), sourceAttrs(src, "a.txt"),
		vfs.RootPath(dst).Join("a.txt"), vfs.CopyOptions{})
	require.NoError(t, err)

	assert.Equal(t, int64(7), res.Size)
	assert.True(t, res.ModTime.Equal(mtime))
	assert.NoError(t, res.ErrModTime)
	assert.NotEmpty(t, res.TargetFileID)

	data, ok := dst.FileData("a.txt")
	require.True(t, ok)
	assert.Equal(t, "payload", string(data))
	got, _ := dst.FileModTime("a.txt")
	assert.True(t, got.Equal(mtime))
}

// The source may change between listing and copy. Attributes reported by the
// opened stream win over the stale ones the caller passes in.
func TestCopyFileFreshAttrsPreferred(t *testing.T) {
	src := vfstest.New("src")
	dst := vfstest.New("dst")
	grown := make([]byte, 1005)
	src.PutFile("a.bin", grown, time.Now())

	stale := vfs.StreamAttrs{Size: 1000, ModTime: time.Now().Add(-time.Hour)}
	var final int64
	res, err := vfs.CopyFile(context.Background(),
		vfs.RootPath(src).Join("a.bin"), stale,
		vfs.RootPath(dst).Join("a.bin"),
		vfs.CopyOptions{Progress: func(n int64) { final = n }})
	require.NoError(t, err)

	assert.Equal(t, int64(1005), res.Size)
	assert.Equal(t, int64(1005), final)
	data, _ := dst.FileData("a.bin")
	assert.Len(t, data, 1005)
}

// When the stream reports no attributes, stale caller attributes are used,
// and a size that no longer matches reality must fail the copy loudly.
func TestCopyFileStaleSizeMismatch(t *testing.T) {
	src := vfstest.New("src")
	dst := vfstest.New("dst")
	src.SuppressStreamAttrs()
	src.PutFile("a.bin", make([]byte, 1005), time.Now())

	stale := vfs.StreamAttrs{Size: 1000, ModTime: time.Now()}
	_, err := vfs.CopyFile(context.Background(),
		vfs.RootPath(src).Join("a.bin"), stale,
		vfs.RootPath(dst).Join("a.bin"), vfs.CopyOptions{})

	var sizeErr *vfs.SizeMismatchError
	require.ErrorAs(t, err, &sizeErr)
	assert.Equal(t, int64(2000), sizeErr.Expected)
	assert.Equal(t, int64(2010), sizeErr.Actual)
	assert.Contains(t, sizeErr.Error(), "unexpected size of data stream")
}

func TestCopyFileStaleAttrsUsedWhenStreamSilent(t *testing.T) {
	src := vfstest.New("src")
	dst := vfstest.New("dst")
	src.SuppressStreamAttrs()
	src.PutFile("a.txt", []byte("12345"), time.Now())

	stale := vfs.StreamAttrs{Size: 5, ModTime: time.Date(2020, 1, 2, 3, 4, 5, 0, time.UTC)}
	res, err := vfs.CopyFile(context.Background(),
		vfs.RootPath(src).Join("a.txt"), stale,
		vfs.RootPath(dst).Join("a.txt"), vfs.CopyOptions{})
	require.NoError(t, err)

	assert.True(t, res.ModTime.Equal(stale.ModTime))
	got, _ := dst.FileModTime("a.txt")
	assert.True(t, got.Equal(stale.ModTime))
}

// Failure to propagate the modification time must not fail the copy; it is
// reported separately so callers can treat the file as externally updated.
func TestCopyFileModTimeFailureIsAdvisory(t *testing.T) {
	src := vfstest.New("src")
	dst := vfstest.New("dst")
	src.PutFile("a.txt", []byte("x"), time.Now())
	boom := errors.New("timestamps not supported")
	dst.FailWith(vfstest.OpSetModTime, "a.txt", boom)

	res, err := vfs.CopyFile(context.Background(),
		vfs.RootPath(src).Join("a.txt"), sourceAttrs(src, "a.txt"),
		vfs.RootPath(dst).Join("a.txt"), vfs.CopyOptions{})
	require.NoError(t, err)
	assert.ErrorIs(t, res.ErrModTime, boom)
	assert.True(t, dst.Exists("a.txt"))
}

func TestCopyFileProgressMonotonic(t *testing.T) {
	src := vfstest.New("src")
	dst := vfstest.New("dst")
	src.PutFile("a.bin", make([]byte, 4096), time.Now())

	var reports []int64
	_, err := vfs.CopyFile(context.Background(),
		vfs.RootPath(src).Join("a.bin"), sourceAttrs(src, "a.bin"),
		vfs.RootPath(dst).Join("a.bin"),
		vfs.CopyOptions{Progress: func(n int64) { reports = append(reports, n) }})
	require.NoError(t, err)

	require.NotEmpty(t, reports)
	for i := 1; i < len(reports); i++ {
		assert.GreaterOrEqual(t, reports[i], reports[i-1])
	}
	assert.Equal(t, int64(4096), reports[len(reports)-1])
}

func TestCopyFileNonTransactionalDeletesTargetFirst(t *testing.T) {
	src := vfstest.New("src")
	dst := vfstest.New("dst")
	src.PutFile("a.txt", []byte("new"), time.Now())
	dst.PutFile("a.txt", []byte("old"), time.Now())

	target := vfs.RootPath(dst).Join("a.txt")
	var deletedBeforeWrite bool
	_, err := vfs.CopyFile(context.Background(),
		vfs.RootPath(src).Join("a.txt"), sourceAttrs(src, "a.txt"),
		target, vfs.CopyOptions{
			OnDeleteTarget: func() error {
				deletedBeforeWrite = len(dst.CallsFor(vfstest.OpOpenWrite)) == 0
				_, err := vfs.RemoveFileIfExists(context.Background(), target)
				return err
			},
		})
	require.NoError(t, err)

	assert.True(t, deletedBeforeWrite, "target must be released before any writing starts")
	data, _ := dst.FileData("a.txt")
	assert.Equal(t, "new", string(data))
}

func TestCopyFileNonTransactionalCallbackErrorAborts(t *testing.T) {
	src := vfstest.New("src")
	dst := vfstest.New("dst")
	src.PutFile("a.txt", []byte("new"), time.Now())
	boom := errors.New("target is locked")

	_, err := vfs.CopyFile(context.Background(),
		vfs.RootPath(src).Join("a.txt"), sourceAttrs(src, "a.txt"),
		vfs.RootPath(dst).Join("a.txt"),
		vfs.CopyOptions{OnDeleteTarget: func() error { return boom }})
	assert.ErrorIs(t, err, boom)
	assert.Empty(t, src.CallsFor(vfstest.OpOpenRead))
	assert.Empty(t, dst.CallsFor(vfstest.OpOpenWrite))
}

var tempNameRe = regexp.MustCompile(`^out/report\.[0-9a-f]{4}\.vtmp$`)

func TestCopyFileTransactionalWritesTempThenRenames(t *testing.T) {
	src := vfstest.New("src")
	dst := vfstest.New("dst")
	src.PutFile("report.pdf", []byte("v2"), time.Now())
	dst.PutFolder("out")
	dst.PutFile("out/report.pdf", []byte("v1"), time.Now())

	target := vfs.RootPath(dst).Join("out").Join("report.pdf")
	var contentSecured bool
	res, err := vfs.CopyFile(context.Background(),
		vfs.RootPath(src).Join("report.pdf"), sourceAttrs(src, "report.pdf"),
		target, vfs.CopyOptions{
			Transactional: true,
			OnDeleteTarget: func() error {
				// The old target is released only once its replacement
				// is fully written and one rename away.
				contentSecured = len(dst.CallsFor(vfstest.OpOpenWrite)) == 1 &&
					len(dst.CallsFor(vfstest.OpRename)) == 0
				_, err := vfs.RemoveFileIfExists(context.Background(), target)
				return err
			},
		})
	require.NoError(t, err)
	assert.True(t, contentSecured)
	assert.Equal(t, int64(2), res.Size)

	writes := dst.CallsFor(vfstest.OpOpenWrite)
	require.Len(t, writes, 1)
	assert.Regexp(t, tempNameRe, writes[0])

	renames := dst.CallsFor(vfstest.OpRename)
	require.Len(t, renames, 1)
	assert.Regexp(t, tempNameRe, renames[0])

	data, _ := dst.FileData("out/report.pdf")
	assert.Equal(t, "v2", string(data))
	for _, rel := range dst.List() {
		assert.False(t, strings.HasSuffix(rel, vfs.TempFileSuffix), "temp leftover: %s", rel)
	}
}

func TestCopyFileTransactionalRenameFailureCleansTemp(t *testing.T) {
	src := vfstest.New("src")
	dst := vfstest.New("dst")
	src.PutFile("report.pdf", []byte("v2"), time.Now())
	dst.PutFolder("out")
	boom := errors.New("rename refused")
	dst.FailPrefix(vfstest.OpRename, "out/report.", boom)

	_, err := vfs.CopyFile(context.Background(),
		vfs.RootPath(src).Join("report.pdf"), sourceAttrs(src, "report.pdf"),
		vfs.RootPath(dst).Join("out").Join("report.pdf"),
		vfs.CopyOptions{Transactional: true})
	assert.ErrorIs(t, err, boom)

	assert.False(t, dst.Exists("out/report.pdf"))
	for _, rel := range dst.List() {
		assert.False(t, strings.HasSuffix(rel, vfs.TempFileSuffix), "temp leftover: %s", rel)
	}
	removed := dst.CallsFor(vfstest.OpRemoveFile)
	require.Len(t, removed, 1)
	assert.Regexp(t, tempNameRe, removed[0])
}

func TestCopyFileTransactionalCallbackFailureKeepsTarget(t *testing.T) {
	src := vfstest.New("src")
	dst := vfstest.New("dst")
	src.PutFile("report.pdf", []byte("v2"), time.Now())
	dst.PutFolder("out")
	dst.PutFile("out/report.pdf", []byte("v1"), time.Now())
	boom := errors.New("old target is busy")

	_, err := vfs.CopyFile(context.Background(),
		vfs.RootPath(src).Join("report.pdf"), sourceAttrs(src, "report.pdf"),
		vfs.RootPath(dst).Join("out").Join("report.pdf"),
		vfs.CopyOptions{
			Transactional:  true,
			OnDeleteTarget: func() error { return boom },
		})
	assert.ErrorIs(t, err, boom)

	// The old target survives untouched and the temp file is gone.
	data, _ := dst.FileData("out/report.pdf")
	assert.Equal(t, "v1", string(data))
	for _, rel := range dst.List() {
		assert.False(t, strings.HasSuffix(rel, vfs.TempFileSuffix), "temp leftover: %s", rel)
	}
}

func TestCopyFileTransactionalSizeMismatch(t *testing.T) {
	src := vfstest.New("src")
	dst := vfstest.New("dst")
	src.SuppressStreamAttrs()
	src.PutFile("report.pdf", make([]byte, 10), time.Now())
	dst.PutFolder("out")

	stale := vfs.StreamAttrs{Size: 8, ModTime: time.Now()}
	_, err := vfs.CopyFile(context.Background(),
		vfs.RootPath(src).Join("report.pdf"), stale,
		vfs.RootPath(dst).Join("out").Join("report.pdf"),
		vfs.CopyOptions{Transactional: true})

	var sizeErr *vfs.SizeMismatchError
	require.ErrorAs(t, err, &sizeErr)
	assert.False(t, dst.Exists("out/report.pdf"), "target must not appear on a failed copy")
}

func TestCopyFileTransactionalRootTarget(t *testing.T) {
	src := vfstest.New("src")
	dst := vfstest.New("dst")
	src.PutFile("a.txt", []byte("x"), time.Now())

	_, err := vfs.CopyFile(context.Background(),
		vfs.RootPath(src).Join("a.txt"), sourceAttrs(src, "a.txt"),
		vfs.RootPath(dst),
		vfs.CopyOptions{Transactional: true})
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "root")
}

func TestCopyFileNativeSameKind(t *testing.T) {
	src := vfstest.NewNative("src")
	dst := vfstest.New("dst")
	mtime := time.Date(2025, 4, 1, 9, 30, 0, 0, time.UTC)
	src.PutFile("big.iso", []byte("native payload"), mtime)

	var final int64
	res, err := vfs.CopyFile(context.Background(),
		vfs.RootPath(src).Join("big.iso"), vfs.StreamAttrs{},
		vfs.RootPath(dst).Join("big.iso"),
		vfs.CopyOptions{Progress: func(n int64) { final = n }})
	require.NoError(t, err)

	assert.Equal(t, []string{"big.iso"}, src.CallsFor(vfstest.OpCopyNative))
	assert.Empty(t, src.CallsFor(vfstest.OpOpenRead), "native copy must not stream")
	assert.Empty(t, dst.CallsFor(vfstest.OpOpenWrite))

	data, ok := dst.FileData("big.iso")
	require.True(t, ok)
	assert.Equal(t, "native payload", string(data))
	assert.Equal(t, int64(len("native payload")), res.Size)
	assert.Equal(t, res.Size, final)
	assert.True(t, res.ModTime.Equal(mtime))
	assert.NoError(t, res.ErrModTime)
}

func TestCopyFileStreamsWhenSourceLacksNativeSupport(t *testing.T) {
	src := vfstest.New("src")
	dst := vfstest.NewNative("dst")
	src.PutFile("a.txt", []byte("x"), time.Now())

	_, err := vfs.CopyFile(context.Background(),
		vfs.RootPath(src).Join("a.txt"), sourceAttrs(src, "a.txt"),
		vfs.RootPath(dst).Join("a.txt"), vfs.CopyOptions{})
	require.NoError(t, err)

	assert.Equal(t, []string{"a.txt"}, src.CallsFor(vfstest.OpOpenRead))
	assert.Equal(t, []string{"a.txt"}, dst.CallsFor(vfstest.OpOpenWrite))
	assert.Empty(t, dst.CallsFor(vfstest.OpCopyNative))
}

func TestCopyFilePermissionsNeedNativeCopy(t *testing.T) {
	src := vfstest.New("src")
	dst := vfstest.New("dst")
	src.PutFile("a.txt", []byte("x"), time.Now())

	_, err := vfs.CopyFile(context.Background(),
		vfs.RootPath(src).Join("a.txt"), sourceAttrs(src, "a.txt"),
		vfs.RootPath(dst).Join("a.txt"),
		vfs.CopyOptions{CopyPermissions: true})
	assert.ErrorIs(t, err, vfs.ErrUnsupported)
	assert.Empty(t, dst.CallsFor(vfstest.OpOpenWrite), "no partial copy before the capability check")
}

func TestCopyFilePermissionsWithNativeCopy(t *testing.T) {
	src := vfstest.NewNative("src")
	dst := vfstest.New("dst")
	src.PutFile("a.txt", []byte("x"), time.Now())

	_, err := vfs.CopyFile(context.Background(),
		vfs.RootPath(src).Join("a.txt"), vfs.StreamAttrs{},
		vfs.RootPath(dst).Join("a.txt"),
		vfs.CopyOptions{CopyPermissions: true})
	assert.NoError(t, err)
}
