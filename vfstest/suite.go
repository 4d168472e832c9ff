package vfstest

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/driftsync/vfs"
)

// SuiteConfig describes which behaviors a backend promises, so the
// conformance suite can adapt its expectations instead of failing on
// legitimate differences between storage models.
type SuiteConfig struct {
	// VirtualFolders marks backends where folders exist only as name
	// prefixes of their content: creation is a no-op, empty folders
	// cannot exist, and folder modification times are meaningless.
	VirtualFolders bool

	// CanSetModTime marks backends with settable modification times.
	CanSetModTime bool

	// IdempotentRemoveFile marks backends where deleting a missing file
	// reports success, as S3 delete does.
	IdempotentRemoveFile bool

	// FileIDs marks backends that assign ids to finalized writes.
	FileIDs bool

	// ModTimeGranularity is the coarsest timestamp resolution the backend
	// stores. Zero means one second.
	ModTimeGranularity time.Duration

	// SkipTests names subtests to skip, for backend-specific exclusions.
	SkipTests []string
}

// POSIXSuiteConfig returns the expectations for a full-featured file system
// backend: real folders, symlinks, settable times.
func POSIXSuiteConfig() SuiteConfig {
	return SuiteConfig{
		CanSetModTime: true,
	}
}

// ObjectSuiteConfig returns the expectations for an object-store backend:
// virtual folders, immutable times, no symlinks, idempotent deletes.
func ObjectSuiteConfig() SuiteConfig {
	return SuiteConfig{
		VirtualFolders:       true,
		IdempotentRemoveFile: true,
		FileIDs:              true,
	}
}

// RunSuite exercises a backend implementation against the behavior the
// engine depends on. newBackend is called once per subtest and must return
// an empty namespace.
func RunSuite(t *testing.T, newBackend func(t *testing.T) vfs.Backend, cfg SuiteConfig) {
	if cfg.ModTimeGranularity <= 0 {
		cfg.ModTimeGranularity = time.Second
	}
	run := func(name string, fn func(t *testing.T, b vfs.Backend)) {
		t.Run(name, func(t *testing.T) {
			if slices.Contains(cfg.SkipTests, name) {
				t.Skipf("skipped by suite config")
			}
			fn(t, newBackend(t))
		})
	}

	run("ItemTypeAndListing", func(t *testing.T, b vfs.Backend) { testItemTypeAndListing(t, b, cfg) })
	run("Resolve", func(t *testing.T, b vfs.Backend) { testResolve(t, b, cfg) })
	run("CreateFolderAll", func(t *testing.T, b vfs.Backend) { testCreateFolderAll(t, b, cfg) })
	run("CopyStream", func(t *testing.T, b vfs.Backend) { testCopyStream(t, b, cfg) })
	run("CopyTransactional", func(t *testing.T, b vfs.Backend) { testCopyTransactional(t, b, cfg) })
	run("RemoveFolderAll", func(t *testing.T, b vfs.Backend) { testRemoveFolderAll(t, b, cfg) })
	run("RemoveIfExists", func(t *testing.T, b vfs.Backend) { testRemoveIfExists(t, b, cfg) })
	run("TraverseParallel", func(t *testing.T, b vfs.Backend) { testTraverseParallel(t, b, cfg) })
}

// --- helpers ---------------------------------------------------------------

func suitePath(t *testing.T, b vfs.Backend, rel string) vfs.Path {
	t.Helper()
	p, err := vfs.NewPath(b, rel)
	if err != nil {
		t.Fatalf("NewPath(%q): %v", rel, err)
	}
	return p
}

// seedFile writes a file through the backend's own stream, creating parent
// folders first where folders are real.
func seedFile(t *testing.T, b vfs.Backend, cfg SuiteConfig, rel string, data []byte) {
	t.Helper()
	ctx := context.Background()
	if parent := parentRel(rel); parent != "" && !cfg.VirtualFolders {
		if err := vfs.CreateFolderAll(ctx, suitePath(t, b, parent)); err != nil {
			t.Fatalf("CreateFolderAll(%q): setup failed: %v", parent, err)
		}
	}
	ws, err := b.OpenWrite(ctx, rel, int64(len(data)))
	if err != nil {
		t.Fatalf("OpenWrite(%q): setup failed: %v", rel, err)
	}
	if _, err := ws.Write(data); err != nil {
		t.Fatalf("Write(%q): setup failed: %v", rel, err)
	}
	if _, err := ws.Finalize(); err != nil {
		t.Fatalf("Finalize(%q): setup failed: %v", rel, err)
	}
}

func readAll(t *testing.T, b vfs.Backend, rel string) []byte {
	t.Helper()
	rs, err := b.OpenRead(context.Background(), rel)
	if err != nil {
		t.Fatalf("OpenRead(%q): %v", rel, err)
	}
	defer rs.Close()
	data, err := io.ReadAll(rs)
	if err != nil {
		t.Fatalf("ReadAll(%q): %v", rel, err)
	}
	return data
}

func sameStamp(a, b time.Time, gran time.Duration) bool {
	return a.Truncate(gran).Equal(b.Truncate(gran))
}

// --- subtests ----------------------------------------------------------------

func testItemTypeAndListing(t *testing.T, b vfs.Backend, cfg SuiteConfig) {
	ctx := context.Background()

	seedFile(t, b, cfg, "docs/readme.txt", []byte("hello"))
	seedFile(t, b, cfg, "docs/data.bin", bytes.Repeat([]byte{7}, 1024))

	if typ, err := b.ItemType(ctx, ""); err != nil {
		t.Fatalf("ItemType(root): got error %v, want nil", err)
	} else if typ != vfs.ItemTypeFolder {
		t.Fatalf("ItemType(root) = %v, want folder", typ)
	}
	if typ, err := b.ItemType(ctx, "docs/readme.txt"); err != nil {
		t.Fatalf("ItemType(docs/readme.txt): got error %v, want nil", err)
	} else if typ != vfs.ItemTypeFile {
		t.Errorf("ItemType(docs/readme.txt) = %v, want file", typ)
	}
	if typ, err := b.ItemType(ctx, "docs"); err != nil {
		t.Fatalf("ItemType(docs): got error %v, want nil", err)
	} else if typ != vfs.ItemTypeFolder {
		t.Errorf("ItemType(docs) = %v, want folder", typ)
	}

	entries, err := b.ListFolder(ctx, "docs")
	if err != nil {
		t.Fatalf("ListFolder(docs): got error %v, want nil", err)
	}
	byName := map[string]vfs.Entry{}
	for _, e := range entries {
		if e.Err != nil {
			t.Fatalf("ListFolder(docs): entry %q carries error %v", e.Name, e.Err)
		}
		byName[e.Name] = e
	}
	if len(byName) != 2 {
		t.Fatalf("ListFolder(docs): got %d entries (%v), want 2", len(byName), entries)
	}
	if e := byName["data.bin"]; e.Type != vfs.ItemTypeFile || e.Size != 1024 {
		t.Errorf("ListFolder(docs): data.bin = {type %v, size %d}, want {file, 1024}", e.Type, e.Size)
	}
	if cfg.FileIDs {
		if e := byName["data.bin"]; e.FileID == "" {
			t.Errorf("ListFolder(docs): data.bin has empty file id, want backend-assigned id")
		}
	}

	// Listings never include the folder itself and never recurse.
	root, err := b.ListFolder(ctx, "")
	if err != nil {
		t.Fatalf("ListFolder(root): got error %v, want nil", err)
	}
	for _, e := range root {
		if strings.ContainsRune(e.Name, '/') {
			t.Errorf("ListFolder(root): entry name %q contains a separator", e.Name)
		}
		if e.Name == "readme.txt" || e.Name == "data.bin" {
			t.Errorf("ListFolder(root): leaked nested entry %q", e.Name)
		}
	}
}

func testResolve(t *testing.T, b vfs.Backend, cfg SuiteConfig) {
	ctx := context.Background()

	seedFile(t, b, cfg, "base/file.txt", []byte("x"))

	// Fully existing path.
	ps, err := vfs.Resolve(ctx, suitePath(t, b, "base/file.txt"))
	if err != nil {
		t.Fatalf("Resolve(base/file.txt): got error %v, want nil", err)
	}
	if len(ps.Missing) != 0 || ps.ExistingType != vfs.ItemTypeFile {
		t.Errorf("Resolve(base/file.txt) = {%v, missing %v}, want {file, none}", ps.ExistingType, ps.Missing)
	}

	// Chain of missing components below an existing folder.
	ps, err = vfs.Resolve(ctx, suitePath(t, b, "base/gone/deeper/leaf.txt"))
	if err != nil {
		t.Fatalf("Resolve(base/gone/deeper/leaf.txt): got error %v, want nil", err)
	}
	if ps.ExistingPath.Rel() != "base" {
		t.Errorf("Resolve: existing path = %q, want %q", ps.ExistingPath.Rel(), "base")
	}
	want := []string{"gone", "deeper", "leaf.txt"}
	if !slices.Equal(ps.Missing, want) {
		t.Errorf("Resolve: missing = %v, want %v", ps.Missing, want)
	}

	// A file in the middle of the chain stops the search without error.
	ps, err = vfs.Resolve(ctx, suitePath(t, b, "base/file.txt/below"))
	if err != nil {
		t.Fatalf("Resolve(base/file.txt/below): got error %v, want nil", err)
	}
	if ps.ExistingType != vfs.ItemTypeFile || ps.ExistingPath.Rel() != "base/file.txt" {
		t.Errorf("Resolve below file = {%v at %q}, want {file at base/file.txt}", ps.ExistingType, ps.ExistingPath.Rel())
	}
	if !slices.Equal(ps.Missing, []string{"below"}) {
		t.Errorf("Resolve below file: missing = %v, want [below]", ps.Missing)
	}

	// ItemTypeIfExists gives definite answers both ways.
	if typ, ok, err := vfs.ItemTypeIfExists(ctx, suitePath(t, b, "base/file.txt")); err != nil || !ok || typ != vfs.ItemTypeFile {
		t.Errorf("ItemTypeIfExists(base/file.txt) = (%v, %v, %v), want (file, true, nil)", typ, ok, err)
	}
	if _, ok, err := vfs.ItemTypeIfExists(ctx, suitePath(t, b, "base/nothing")); err != nil || ok {
		t.Errorf("ItemTypeIfExists(base/nothing) = (_, %v, %v), want (false, nil)", ok, err)
	}
}

func testCreateFolderAll(t *testing.T, b vfs.Backend, cfg SuiteConfig) {
	ctx := context.Background()
	p := suitePath(t, b, "one/two/three")

	if err := vfs.CreateFolderAll(ctx, p); err != nil {
		t.Fatalf("CreateFolderAll(one/two/three): got error %v, want nil", err)
	}
	// Creating an existing chain again must succeed.
	if err := vfs.CreateFolderAll(ctx, p); err != nil {
		t.Fatalf("CreateFolderAll(one/two/three) second call: got error %v, want nil", err)
	}

	if !cfg.VirtualFolders {
		for _, rel := range []string{"one", "one/two", "one/two/three"} {
			typ, err := b.ItemType(ctx, rel)
			if err != nil {
				t.Fatalf("ItemType(%q) after CreateFolderAll: got error %v, want nil", rel, err)
			}
			if typ != vfs.ItemTypeFolder {
				t.Errorf("ItemType(%q) = %v, want folder", rel, typ)
			}
		}
	}

	// The backend root is always "creatable".
	if err := vfs.CreateFolderAll(ctx, vfs.RootPath(b)); err != nil {
		t.Errorf("CreateFolderAll(root): got error %v, want nil", err)
	}
}

func testCopyStream(t *testing.T, b vfs.Backend, cfg SuiteConfig) {
	ctx := context.Background()

	content := bytes.Repeat([]byte("stream me "), 400) // a few KiB
	seedFile(t, b, cfg, "src/original.dat", content)
	mtime := time.Date(2024, 11, 3, 10, 30, 0, 0, time.UTC)
	if cfg.CanSetModTime {
		if err := b.SetModTime(ctx, "src/original.dat", mtime); err != nil {
			t.Fatalf("SetModTime(src/original.dat): setup failed: %v", err)
		}
	}
	if !cfg.VirtualFolders {
		if err := vfs.CreateFolderAll(ctx, suitePath(t, b, "dst")); err != nil {
			t.Fatalf("CreateFolderAll(dst): setup failed: %v", err)
		}
	}

	var lastProgress int64
	attrs := vfs.StreamAttrs{Size: int64(len(content)), ModTime: mtime}
	res, err := vfs.CopyFileStream(ctx, suitePath(t, b, "src/original.dat"), attrs,
		suitePath(t, b, "dst/copy.dat"),
		func(total int64) { lastProgress = total })
	if err != nil {
		t.Fatalf("CopyFileStream: got error %v, want nil", err)
	}
	if res.Size != int64(len(content)) {
		t.Errorf("CopyFileStream: result size = %d, want %d", res.Size, len(content))
	}
	if lastProgress != int64(len(content)) {
		t.Errorf("CopyFileStream: final progress = %d, want %d", lastProgress, len(content))
	}
	if got := readAll(t, b, "dst/copy.dat"); !bytes.Equal(got, content) {
		t.Errorf("CopyFileStream: target content differs from source (%d vs %d bytes)", len(got), len(content))
	}
	if cfg.FileIDs && res.TargetFileID == "" {
		t.Errorf("CopyFileStream: target file id empty, want backend-assigned id")
	}

	if cfg.CanSetModTime {
		if res.ErrModTime != nil {
			t.Errorf("CopyFileStream: ErrModTime = %v, want nil", res.ErrModTime)
		}
		entries, err := b.ListFolder(ctx, "dst")
		if err != nil {
			t.Fatalf("ListFolder(dst): got error %v, want nil", err)
		}
		for _, e := range entries {
			if e.Name == "copy.dat" && !sameStamp(e.ModTime, mtime, cfg.ModTimeGranularity) {
				t.Errorf("CopyFileStream: target mtime = %v, want %v", e.ModTime, mtime)
			}
		}
	}
}

func testCopyTransactional(t *testing.T, b vfs.Backend, cfg SuiteConfig) {
	ctx := context.Background()

	seedFile(t, b, cfg, "work/new.txt", []byte("new content"))
	seedFile(t, b, cfg, "work/target.txt", []byte("old content"))

	target := suitePath(t, b, "work/target.txt")
	deleted := false
	_, err := vfs.CopyFile(ctx, suitePath(t, b, "work/new.txt"),
		vfs.StreamAttrs{Size: int64(len("new content"))},
		target,
		vfs.CopyOptions{
			Transactional: true,
			OnDeleteTarget: func() error {
				deleted = true
				_, err := vfs.RemoveFileIfExists(ctx, target)
				return err
			},
		})
	if err != nil {
		t.Fatalf("CopyFile(transactional): got error %v, want nil", err)
	}
	if !deleted {
		t.Errorf("CopyFile(transactional): OnDeleteTarget was never called")
	}
	if got := readAll(t, b, "work/target.txt"); string(got) != "new content" {
		t.Errorf("CopyFile(transactional): target content = %q, want %q", got, "new content")
	}

	// No working files may remain next to the target.
	entries, err := b.ListFolder(ctx, "work")
	if err != nil {
		t.Fatalf("ListFolder(work): got error %v, want nil", err)
	}
	for _, e := range entries {
		if strings.HasSuffix(e.Name, vfs.TempFileSuffix) {
			t.Errorf("CopyFile(transactional): temp file %q left behind", e.Name)
		}
	}
}

func testRemoveFolderAll(t *testing.T, b vfs.Backend, cfg SuiteConfig) {
	ctx := context.Background()

	seedFile(t, b, cfg, "prune/a.txt", []byte("a"))
	seedFile(t, b, cfg, "prune/sub/b.txt", []byte("b"))
	seedFile(t, b, cfg, "prune/sub/deep/c.txt", []byte("c"))

	var files, folders []string
	err := vfs.RemoveFolderAll(ctx, suitePath(t, b, "prune"), vfs.RemoveOptions{
		OnBeforeFileRemoval:   func(dp string) error { files = append(files, dp); return nil },
		OnBeforeFolderRemoval: func(dp string) error { folders = append(folders, dp); return nil },
	})
	if err != nil {
		t.Fatalf("RemoveFolderAll(prune): got error %v, want nil", err)
	}
	if len(files) != 3 {
		t.Errorf("RemoveFolderAll: %d file notifications (%v), want 3", len(files), files)
	}
	if len(folders) != 3 {
		t.Errorf("RemoveFolderAll: %d folder notifications (%v), want 3", len(folders), folders)
	}
	if _, ok, err := vfs.ItemTypeIfExists(ctx, suitePath(t, b, "prune")); err != nil || ok {
		t.Errorf("RemoveFolderAll: prune still exists (%v, %v), want gone", ok, err)
	}

	// Deleting a missing tree is a no-op that still reports the folder.
	folders = nil
	err = vfs.RemoveFolderAll(ctx, suitePath(t, b, "prune"), vfs.RemoveOptions{
		OnBeforeFolderRemoval: func(dp string) error { folders = append(folders, dp); return nil },
	})
	if err != nil {
		t.Fatalf("RemoveFolderAll(missing): got error %v, want nil", err)
	}
	if len(folders) != 1 {
		t.Errorf("RemoveFolderAll(missing): %d folder notifications, want exactly 1", len(folders))
	}
}

func testRemoveIfExists(t *testing.T, b vfs.Backend, cfg SuiteConfig) {
	ctx := context.Background()

	seedFile(t, b, cfg, "trash/doomed.txt", []byte("x"))

	removed, err := vfs.RemoveFileIfExists(ctx, suitePath(t, b, "trash/doomed.txt"))
	if err != nil {
		t.Fatalf("RemoveFileIfExists(existing): got error %v, want nil", err)
	}
	if !removed {
		t.Errorf("RemoveFileIfExists(existing) = false, want true")
	}

	removed, err = vfs.RemoveFileIfExists(ctx, suitePath(t, b, "trash/doomed.txt"))
	if err != nil {
		t.Fatalf("RemoveFileIfExists(missing): got error %v, want nil", err)
	}
	if removed && !cfg.IdempotentRemoveFile {
		t.Errorf("RemoveFileIfExists(missing) = true, want false")
	}
}

func testTraverseParallel(t *testing.T, b vfs.Backend, cfg SuiteConfig) {
	ctx := context.Background()

	want := map[string]vfs.ItemType{}
	for i := 0; i < 4; i++ {
		for j := 0; j < 3; j++ {
			rel := fmt.Sprintf("tree/branch%d/leaf%d.txt", i, j)
			seedFile(t, b, cfg, rel, []byte("leaf"))
			want[rel] = vfs.ItemTypeFile
		}
		want[fmt.Sprintf("tree/branch%d", i)] = vfs.ItemTypeFolder
	}

	c := newCollector()
	err := vfs.Traverse(ctx, suitePath(t, b, "tree"),
		[]vfs.TraverseTask{{Visitor: c}},
		vfs.TraverseOptions{Parallel: 4})
	if err != nil {
		t.Fatalf("Traverse(tree): got error %v, want nil", err)
	}
	got := c.snapshot()
	if len(got) != len(want) {
		t.Errorf("Traverse(tree): visited %d items, want %d", len(got), len(want))
	}
	for rel, typ := range want {
		if got[rel] != typ {
			t.Errorf("Traverse(tree): %q = %v, want %v", rel, got[rel], typ)
		}
	}
}

// collector is a recursive visitor gathering every visited item, safe for
// the engine's concurrent folder scans.
type collector struct {
	mu    sync.Mutex
	items map[string]vfs.ItemType
}

func newCollector() *collector {
	return &collector{items: make(map[string]vfs.ItemType)}
}

func (c *collector) add(rel string, typ vfs.ItemType) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[rel] = typ
}

func (c *collector) snapshot() map[string]vfs.ItemType {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]vfs.ItemType, len(c.items))
	for k, v := range c.items {
		out[k] = v
	}
	return out
}

func (c *collector) File(fi vfs.FileInfo) error {
	c.add(fi.Path.Rel(), vfs.ItemTypeFile)
	return nil
}

func (c *collector) Folder(fi vfs.FolderInfo) (vfs.Visitor, error) {
	c.add(fi.Path.Rel(), vfs.ItemTypeFolder)
	return c, nil
}

func (c *collector) Symlink(si vfs.SymlinkInfo) error {
	c.add(si.Path.Rel(), vfs.ItemTypeSymlink)
	return nil
}

func (c *collector) FolderError(folder vfs.Path, err error, retries int) vfs.Decision {
	return vfs.DecisionAbort
}

func (c *collector) ItemError(folder vfs.Path, name string, err error, retries int) vfs.Decision {
	return vfs.DecisionAbort
}

var _ vfs.Visitor = (*collector)(nil)
