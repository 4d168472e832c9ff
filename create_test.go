package vfs_test

import (
	"context"
	"errors"
	"io/fs"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/driftsync/vfs"
	"github.com/driftsync/vfs/vfstest"
)

func TestCreateFolderAllBuildsChain(t *testing.T) {
	f := vfstest.New("create")
	ctx := context.Background()

	p, err := vfs.RootPath(f).JoinRel("a/b/c")
	require.NoError(t, err)
	require.NoError(t, vfs.CreateFolderAll(ctx, p))

	for _, rel := range []string{"a", "a/b", "a/b/c"} {
		typ, err := f.ItemType(ctx, rel)
		require.NoError(t, err)
		assert.Equal(t, vfs.ItemTypeFolder, typ, rel)
	}
}

func TestCreateFolderAllIdempotent(t *testing.T) {
	f := vfstest.New("create")
	ctx := context.Background()

	p, err := vfs.RootPath(f).JoinRel("a/b")
	require.NoError(t, err)
	require.NoError(t, vfs.CreateFolderAll(ctx, p))
	f.ResetJournal()

	require.NoError(t, vfs.CreateFolderAll(ctx, p))
	// The second call finds nothing missing and creates nothing beyond
	// the initial direct attempt.
	assert.LessOrEqual(t, len(f.CallsFor(vfstest.OpCreateFolder)), 1)
}

func TestCreateFolderAllRoot(t *testing.T) {
	f := vfstest.New("create")
	assert.NoError(t, vfs.CreateFolderAll(context.Background(), vfs.RootPath(f)))
	assert.Empty(t, f.CallsFor(vfstest.OpCreateFolder))
}

// A concurrent creator winning the race on an intermediate folder must not
// fail the call: the per-step re-check sees the folder and moves on.
func TestCreateFolderAllToleratesConcurrentCreator(t *testing.T) {
	f := vfstest.New("create")
	f.PutFolder("x/y")
	boom := errors.New("already being created")
	f.FailWith(vfstest.OpCreateFolder, "x/y/z", boom)

	var creates atomic.Int32
	f.OnCall(func(op vfstest.Op, rel string) {
		if op == vfstest.OpCreateFolder && rel == "x/y/z" && creates.Add(1) == 2 {
			f.PutFolder("x/y/z")
		}
	})

	p, err := vfs.RootPath(f).JoinRel("x/y/z")
	require.NoError(t, err)
	require.NoError(t, vfs.CreateFolderAll(context.Background(), p))
	assert.True(t, f.Exists("x/y/z"))
}

func TestCreateFolderAllFileInChain(t *testing.T) {
	f := vfstest.New("create")
	f.PutFile("f.txt", []byte("x"), time.Now())

	p, err := vfs.RootPath(f).JoinRel("f.txt/a/b")
	require.NoError(t, err)
	err = vfs.CreateFolderAll(context.Background(), p)
	require.Error(t, err)
	// The original direct-create failure is reported, not a synthetic
	// "ancestor is a file" error.
	assert.ErrorIs(t, err, fs.ErrNotExist)
}

func TestCreateFolderAllStepFailure(t *testing.T) {
	f := vfstest.New("create")
	boom := errors.New("quota exceeded")
	f.FailWith(vfstest.OpCreateFolder, "a/b", boom)

	p, err := vfs.RootPath(f).JoinRel("a/b/c")
	require.NoError(t, err)
	err = vfs.CreateFolderAll(context.Background(), p)
	assert.ErrorIs(t, err, boom)

	// Ancestors created before the failure stay behind.
	assert.True(t, f.Exists("a"))
	assert.False(t, f.Exists("a/b"))
}

func TestCreateFolderAllDirectHitSkipsResolution(t *testing.T) {
	f := vfstest.New("create")
	f.PutFolder("parent")

	require.NoError(t, vfs.CreateFolderAll(context.Background(), vfs.RootPath(f).Join("parent").Join("child")))
	assert.Equal(t, []string{"parent/child"}, f.CallsFor(vfstest.OpCreateFolder))
	assert.Empty(t, f.CallsFor(vfstest.OpList), "no resolution traffic when the direct attempt succeeds")
}
