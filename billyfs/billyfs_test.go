package billyfs_test

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/driftsync/vfs"
	"github.com/driftsync/vfs/billyfs"
	"github.com/driftsync/vfs/vfstest"
	"github.com/driftsync/vfs/watch"
)

func newLocalAt(t *testing.T) (*billyfs.Local, string) {
	t.Helper()
	dir := t.TempDir()
	l, err := billyfs.NewLocal(dir)
	require.NoError(t, err)
	return l, dir
}

func pathTo(t *testing.T, b vfs.Backend, rel string) vfs.Path {
	t.Helper()
	p, err := vfs.NewPath(b, rel)
	require.NoError(t, err)
	return p
}

func writeFile(t *testing.T, b vfs.Backend, rel, content string) {
	t.Helper()
	ctx := context.Background()
	if dir, ok := pathTo(t, b, rel).Parent(); ok {
		require.NoError(t, vfs.CreateFolderAll(ctx, dir))
	}
	ws, err := b.OpenWrite(ctx, rel, int64(len(content)))
	require.NoError(t, err)
	_, err = io.WriteString(ws, content)
	require.NoError(t, err)
	_, err = ws.Finalize()
	require.NoError(t, err)
}

func readFile(t *testing.T, b vfs.Backend, rel string) string {
	t.Helper()
	rs, err := b.OpenRead(context.Background(), rel)
	require.NoError(t, err)
	defer rs.Close()
	data, err := io.ReadAll(rs)
	require.NoError(t, err)
	return string(data)
}

func TestLocalConformance(t *testing.T) {
	vfstest.RunSuite(t, func(t *testing.T) vfs.Backend {
		l, _ := newLocalAt(t)
		return l
	}, vfstest.POSIXSuiteConfig())
}

func TestMemoryConformance(t *testing.T) {
	vfstest.RunSuite(t, func(t *testing.T) vfs.Backend {
		return billyfs.NewMemory()
	}, vfstest.SuiteConfig{})
}

func TestMemoryRootExistsWhenEmpty(t *testing.T) {
	ctx := context.Background()
	m := billyfs.NewMemory()

	typ, err := m.ItemType(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, vfs.ItemTypeFolder, typ)

	entries, err := m.ListFolder(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestMemoryListingsAreNameOrdered(t *testing.T) {
	ctx := context.Background()
	m := billyfs.NewMemory()
	for _, name := range []string{"zeta.txt", "alpha.txt", "mid.txt"} {
		writeFile(t, m, name, "x")
	}

	entries, err := m.ListFolder(ctx, "")
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name)
	}
	assert.Equal(t, []string{"alpha.txt", "mid.txt", "zeta.txt"}, names)
}

func TestMemoryMissingFolderListingFails(t *testing.T) {
	m := billyfs.NewMemory()
	_, err := m.ListFolder(context.Background(), "nope")
	assert.ErrorIs(t, err, vfs.ErrNotExist)
}

func TestMemoryOpenWriteRequiresParent(t *testing.T) {
	m := billyfs.NewMemory()
	_, err := m.OpenWrite(context.Background(), "missing/file.txt", 4)
	assert.ErrorIs(t, err, vfs.ErrNotExist)
}

func TestMemoryCreateFolderIsStrict(t *testing.T) {
	ctx := context.Background()
	m := billyfs.NewMemory()

	require.NoError(t, m.CreateFolder(ctx, "top"))
	assert.ErrorIs(t, m.CreateFolder(ctx, "top"), vfs.ErrExist)
	assert.ErrorIs(t, m.CreateFolder(ctx, "a/b"), vfs.ErrNotExist)
}

func TestMemorySetModTimeUnsupported(t *testing.T) {
	m := billyfs.NewMemory()
	writeFile(t, m, "f.txt", "x")
	err := m.SetModTime(context.Background(), "f.txt", time.Now())
	assert.ErrorIs(t, err, vfs.ErrUnsupported)
}

func TestMemoryRenameReplacesTarget(t *testing.T) {
	ctx := context.Background()
	m := billyfs.NewMemory()
	writeFile(t, m, "old.txt", "new content")
	writeFile(t, m, "target.txt", "stale")

	require.NoError(t, m.Rename(ctx, "old.txt", "target.txt"))
	assert.Equal(t, "new content", readFile(t, m, "target.txt"))
	_, err := m.ItemType(ctx, "old.txt")
	assert.ErrorIs(t, err, vfs.ErrNotExist)
}

func TestMemoryInstancesAreDistinctRoots(t *testing.T) {
	a, b := billyfs.NewMemory(), billyfs.NewMemory()

	assert.Zero(t, a.CompareRoot(a))
	assert.NotZero(t, a.CompareRoot(b))
	assert.False(t, vfs.SamePath(vfs.RootPath(a), vfs.RootPath(b)))
	assert.True(t, vfs.SamePath(vfs.RootPath(a), vfs.RootPath(a)))
}

func TestLocalSymlinks(t *testing.T) {
	ctx := context.Background()
	l, dir := newLocalAt(t)
	writeFile(t, l, "target.txt", "data")
	if err := os.Symlink(filepath.Join(dir, "target.txt"), filepath.Join(dir, "link")); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}

	typ, err := l.ItemType(ctx, "link")
	require.NoError(t, err)
	assert.Equal(t, vfs.ItemTypeSymlink, typ)

	entries, err := l.ListFolder(ctx, "")
	require.NoError(t, err)
	byName := map[string]vfs.ItemType{}
	for _, e := range entries {
		byName[e.Name] = e.Type
	}
	assert.Equal(t, vfs.ItemTypeSymlink, byName["link"])
	assert.Equal(t, vfs.ItemTypeFile, byName["target.txt"])

	require.NoError(t, l.RemoveSymlink(ctx, "link"))
	_, err = l.ItemType(ctx, "link")
	assert.ErrorIs(t, err, vfs.ErrNotExist)
	assert.Equal(t, "data", readFile(t, l, "target.txt"), "removing the link must keep the target")
}

func TestLocalMissingRoot(t *testing.T) {
	ctx := context.Background()
	l, err := billyfs.NewLocal(filepath.Join(t.TempDir(), "absent"))
	require.NoError(t, err)

	_, err = l.ItemType(ctx, "")
	assert.ErrorIs(t, err, vfs.ErrNotExist)

	require.NoError(t, l.CreateFolder(ctx, ""))
	typ, err := l.ItemType(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, vfs.ItemTypeFolder, typ)
}

func TestLocalNativeCopyPermissions(t *testing.T) {
	ctx := context.Background()
	src, srcDir := newLocalAt(t)
	dst, dstDir := newLocalAt(t)

	content := "#!/bin/sh\nexit 0\n"
	writeFile(t, src, "tool.sh", content)
	require.NoError(t, os.Chmod(filepath.Join(srcDir, "tool.sh"), 0o754))
	mtime := time.Date(2024, 5, 17, 10, 30, 0, 0, time.UTC)
	require.NoError(t, src.SetModTime(ctx, "tool.sh", mtime))

	res, err := vfs.CopyFile(ctx, pathTo(t, src, "tool.sh"), vfs.StreamAttrs{},
		pathTo(t, dst, "tool.sh"), vfs.CopyOptions{CopyPermissions: true})
	require.NoError(t, err)
	assert.NoError(t, res.ErrModTime)
	assert.Equal(t, int64(len(content)), res.Size)
	assert.Equal(t, content, readFile(t, dst, "tool.sh"))

	fi, err := os.Stat(filepath.Join(dstDir, "tool.sh"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o754), fi.Mode().Perm())
	assert.WithinDuration(t, mtime, fi.ModTime(), time.Second)
}

func TestLocalToMemoryStreams(t *testing.T) {
	ctx := context.Background()
	src, _ := newLocalAt(t)
	dst := billyfs.NewMemory()
	writeFile(t, src, "doc.txt", "payload")

	res, err := vfs.CopyFile(ctx, pathTo(t, src, "doc.txt"), vfs.StreamAttrs{Size: 7},
		pathTo(t, dst, "doc.txt"), vfs.CopyOptions{})
	require.NoError(t, err)
	assert.Equal(t, "payload", readFile(t, dst, "doc.txt"))
	assert.ErrorIs(t, res.ErrModTime, vfs.ErrUnsupported,
		"memory target cannot take the source timestamp")
}

func TestMemoryNativeCopyPermissionsUnsupported(t *testing.T) {
	ctx := context.Background()
	a, b := billyfs.NewMemory(), billyfs.NewMemory()
	writeFile(t, a, "f.txt", "x")

	_, err := vfs.CopyFile(ctx, pathTo(t, a, "f.txt"), vfs.StreamAttrs{},
		pathTo(t, b, "f.txt"), vfs.CopyOptions{CopyPermissions: true})
	assert.ErrorIs(t, err, vfs.ErrUnsupported)
	_, err = b.ItemType(ctx, "f.txt")
	assert.ErrorIs(t, err, vfs.ErrNotExist, "failed copy must not leave a target")
}

func TestMemoryNativeCopyModTimeAdvisory(t *testing.T) {
	ctx := context.Background()
	a, b := billyfs.NewMemory(), billyfs.NewMemory()
	writeFile(t, a, "f.txt", "four")

	res, err := vfs.CopyFile(ctx, pathTo(t, a, "f.txt"), vfs.StreamAttrs{},
		pathTo(t, b, "f.txt"), vfs.CopyOptions{})
	require.NoError(t, err)
	assert.ErrorIs(t, res.ErrModTime, vfs.ErrUnsupported)
	assert.Equal(t, "four", readFile(t, b, "f.txt"))
}

func TestLocalWatchFolderSeesNewFile(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	l, _ := newLocalAt(t)
	events, ok, err := watch.FolderEvents(ctx, vfs.RootPath(l))
	require.NoError(t, err)
	require.True(t, ok, "local backends watch natively")

	writeFile(t, l, "incoming.txt", "hello")

	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev, open := <-events:
			require.True(t, open, "watch channel closed before reporting the new file")
			if ev.Path.Rel() != "incoming.txt" {
				continue
			}
			assert.Equal(t, watch.OpCreate, ev.Op)
			cancel()
			for {
				if _, open := <-events; !open {
					return
				}
			}
		case <-deadline:
			t.Fatal("no event for incoming.txt within 5s")
		}
	}
}

func TestLocalWatchMissingFolder(t *testing.T) {
	l, _ := newLocalAt(t)
	_, err := l.WatchFolder(context.Background(), "absent")
	require.Error(t, err)
}
