// Package vfstest provides a scriptable in-memory backend and a reusable
// conformance suite for exercising vfs backends and the algorithms built
// on top of them.
//
// The Fake backend journals every call it receives and can be told to fail
// specific operations, refuse type queries, or withhold stream attributes,
// which makes the engine's fallback and recovery paths testable without a
// flaky real file system.
package vfstest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/driftsync/vfs"
)

var fakeKind = vfs.RegisterKind("fake")

var errNotFolder = errors.New("not a folder")

var fakeSeq atomic.Int64

// Op names a backend operation in the call journal and in failure rules.
type Op string

const (
	OpItemType          Op = "itemType"
	OpList              Op = "list"
	OpOpenRead          Op = "openRead"
	OpOpenWrite         Op = "openWrite"
	OpSetModTime        Op = "setModTime"
	OpCreateFolder      Op = "createFolder"
	OpRename            Op = "rename"
	OpRemoveFile        Op = "removeFile"
	OpRemoveSymlink     Op = "removeSymlink"
	OpRemoveEmptyFolder Op = "removeEmptyFolder"
	OpCopyNative        Op = "copyNative"
)

// Call is one journaled backend invocation. To is set for renames and
// native copies.
type Call struct {
	Op  Op
	Rel string
	To  string
}

type node struct {
	typ     vfs.ItemType
	data    []byte
	modTime time.Time
	target  string // symlinks
	id      int64
}

type failRule struct {
	op     Op
	rel    string
	prefix bool
	err    error
	once   bool
	spent  bool
}

// Fake is an in-memory vfs.Backend with a call journal and failure
// injection. The zero value is not usable; construct with New.
//
// Fake deliberately does not implement vfs.NativeCopier, so copies between
// fakes take the stream path; use NewNative for a fake that copies
// natively.
type Fake struct {
	name string
	seq  int64

	mu          sync.Mutex
	nodes       map[string]*node
	nextID      int64
	calls       []Call
	failures    []failRule
	entryErrs   map[string]error
	brokenTypes map[string]bool
	noReadAttrs bool
	foldCase    bool
	hook        func(op Op, rel string)
}

// New returns an empty fake backend. The name appears in display paths and
// orders fakes against each other.
func New(name string) *Fake {
	return &Fake{
		name:        name,
		seq:         fakeSeq.Add(1),
		nodes:       make(map[string]*node),
		entryErrs:   make(map[string]error),
		brokenTypes: make(map[string]bool),
	}
}

// fakeAccess lets engine-level helpers reach the underlying Fake through
// either Fake or NativeFake.
type fakeAccess interface {
	fake() *Fake
}

func (f *Fake) fake() *Fake { return f }

// --- scripting -------------------------------------------------------------

// FailWith makes every future call of op on exactly rel fail with err.
func (f *Fake) FailWith(op Op, rel string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures = append(f.failures, failRule{op: op, rel: rel, err: err})
}

// FailOnce makes the next call of op on exactly rel fail with err; later
// calls succeed again. Exercises retry paths.
func (f *Fake) FailOnce(op Op, rel string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures = append(f.failures, failRule{op: op, rel: rel, err: err, once: true})
}

// FailPrefix makes every future call of op on any path starting with
// prefix fail with err. Useful for paths with unpredictable random parts,
// such as the copy engine's temp files.
func (f *Fake) FailPrefix(op Op, prefix string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures = append(f.failures, failRule{op: op, rel: prefix, prefix: true, err: err})
}

// OnCall installs a hook invoked at the start of every backend operation,
// before locking, so it may mutate the fake. Tests use it to interleave
// concurrent modifications at exact points, such as another writer creating
// a folder between a failed create and its re-check.
func (f *Fake) OnCall(hook func(op Op, rel string)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hook = hook
}

// SetFoldCase makes the fake's namespace compare names case-insensitively.
// Stored paths keep their spelling; only comparisons fold.
func (f *Fake) SetFoldCase() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.foldCase = true
}

// FoldName implements vfs.CaseFolder. Without SetFoldCase it is the
// identity, which is equivalent to not having the capability.
func (f *Fake) FoldName(name string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.foldCase {
		return strings.ToLower(name)
	}
	return name
}

// BreakTypeQuery makes direct type queries for rel fail with an error that
// does not match ErrNotExist, imitating backends that cannot tell a missing
// item from other failures. Listings still see the item normally.
func (f *Fake) BreakTypeQuery(rel string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.brokenTypes[rel] = true
}

// FailEntry attaches err to the listing entry for rel, so its parent's
// listing succeeds but that one item carries a per-item error.
func (f *Fake) FailEntry(rel string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entryErrs[rel] = err
}

// ClearEntryError removes a per-item listing error.
func (f *Fake) ClearEntryError(rel string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.entryErrs, rel)
}

// SuppressStreamAttrs makes read streams stop reporting fresh attributes,
// imitating protocol backends where that would cost an extra round trip.
func (f *Fake) SuppressStreamAttrs() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.noReadAttrs = true
}

// --- seeding and inspection ------------------------------------------------

// PutFile stores a file, creating parent folders implicitly. Seeding
// bypasses the journal and failure rules.
func (f *Fake) PutFile(rel string, data []byte, modTime time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.makeParents(rel)
	f.nextID++
	f.nodes[rel] = &node{typ: vfs.ItemTypeFile, data: append([]byte(nil), data...), modTime: modTime, id: f.nextID}
}

// PutFolder stores an empty folder, creating parents implicitly.
func (f *Fake) PutFolder(rel string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.makeParents(rel)
	if rel != "" {
		f.nodes[rel] = &node{typ: vfs.ItemTypeFolder}
	}
}

// PutSymlink stores a symlink, creating parents implicitly.
func (f *Fake) PutSymlink(rel, target string, modTime time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.makeParents(rel)
	f.nodes[rel] = &node{typ: vfs.ItemTypeSymlink, target: target, modTime: modTime}
}

func (f *Fake) makeParents(rel string) {
	for dir := parentRel(rel); dir != ""; dir = parentRel(dir) {
		if _, ok := f.nodes[dir]; !ok {
			f.nodes[dir] = &node{typ: vfs.ItemTypeFolder}
		}
	}
}

// Exists reports whether any item is stored at rel.
func (f *Fake) Exists(rel string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if rel == "" {
		return true
	}
	_, ok := f.nodes[rel]
	return ok
}

// FileData returns a file's stored content.
func (f *Fake) FileData(rel string) ([]byte, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n, ok := f.nodes[rel]
	if !ok || n.typ != vfs.ItemTypeFile {
		return nil, false
	}
	return append([]byte(nil), n.data...), true
}

// FileModTime returns a stored item's modification time.
func (f *Fake) FileModTime(rel string) (time.Time, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n, ok := f.nodes[rel]
	if !ok {
		return time.Time{}, false
	}
	return n.modTime, true
}

// List returns the stored paths, sorted, for test assertions.
func (f *Fake) List() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	rels := make([]string, 0, len(f.nodes))
	for rel := range f.nodes {
		rels = append(rels, rel)
	}
	sort.Strings(rels)
	return rels
}

// Calls returns a copy of the call journal.
func (f *Fake) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Call(nil), f.calls...)
}

// CallsFor returns the journaled paths of one operation, in call order.
func (f *Fake) CallsFor(op Op) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var rels []string
	for _, c := range f.calls {
		if c.Op == op {
			rels = append(rels, c.Rel)
		}
	}
	return rels
}

// ResetJournal clears the call journal, typically after seeding.
func (f *Fake) ResetJournal() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = nil
}

// --- vfs.Backend -----------------------------------------------------------

var _ vfs.Backend = (*Fake)(nil)

func (f *Fake) Kind() vfs.Kind { return fakeKind }

func (f *Fake) CompareRoot(other vfs.Backend) int {
	o := other.(fakeAccess).fake()
	if c := strings.Compare(f.name, o.name); c != 0 {
		return c
	}
	// Same name, distinct instances: distinct trees.
	switch {
	case f.seq < o.seq:
		return -1
	case f.seq > o.seq:
		return 1
	}
	return 0
}

func (f *Fake) DisplayPath(rel string) string {
	if rel == "" {
		return "fake://" + f.name
	}
	return "fake://" + f.name + "/" + rel
}

func (f *Fake) ItemType(ctx context.Context, rel string) (vfs.ItemType, error) {
	f.beforeOp(OpItemType, rel)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record(OpItemType, rel, "")
	if err := f.injected(OpItemType, rel); err != nil {
		return vfs.ItemTypeUnknown, err
	}
	if f.brokenTypes[rel] {
		return vfs.ItemTypeUnknown, f.pathError("stat", rel, errors.New("type query refused"))
	}
	if rel == "" {
		return vfs.ItemTypeFolder, nil
	}
	n, ok := f.nodes[rel]
	if !ok {
		return vfs.ItemTypeUnknown, f.pathError("stat", rel, fs.ErrNotExist)
	}
	return n.typ, nil
}

func (f *Fake) ListFolder(ctx context.Context, rel string) ([]vfs.Entry, error) {
	f.beforeOp(OpList, rel)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record(OpList, rel, "")
	if err := f.injected(OpList, rel); err != nil {
		return nil, err
	}
	if rel != "" {
		n, ok := f.nodes[rel]
		if !ok {
			return nil, f.pathError("list", rel, fs.ErrNotExist)
		}
		if n.typ != vfs.ItemTypeFolder {
			return nil, f.pathError("list", rel, errNotFolder)
		}
	}

	var entries []vfs.Entry
	for childRel, n := range f.nodes {
		if parentRel(childRel) != rel {
			continue
		}
		name := itemName(childRel)
		if err, ok := f.entryErrs[childRel]; ok {
			entries = append(entries, vfs.Entry{Name: name, Err: err})
			continue
		}
		e := vfs.Entry{Name: name, Type: n.typ, ModTime: n.modTime}
		if n.typ == vfs.ItemTypeFile {
			e.Size = int64(len(n.data))
			e.FileID = fileID(n.id)
		}
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries, nil
}

func (f *Fake) OpenRead(ctx context.Context, rel string) (vfs.ReadStream, error) {
	f.beforeOp(OpOpenRead, rel)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record(OpOpenRead, rel, "")
	if err := f.injected(OpOpenRead, rel); err != nil {
		return nil, err
	}
	n, ok := f.nodes[rel]
	if !ok {
		return nil, f.pathError("open", rel, fs.ErrNotExist)
	}
	if n.typ != vfs.ItemTypeFile {
		return nil, f.pathError("open", rel, vfs.ErrIsFolder)
	}
	rs := &fakeReadStream{Reader: bytes.NewReader(n.data)}
	if !f.noReadAttrs {
		rs.attrs = vfs.StreamAttrs{Size: int64(len(n.data)), ModTime: n.modTime, FileID: fileID(n.id)}
		rs.hasAttrs = true
	}
	return rs, nil
}

func (f *Fake) OpenWrite(ctx context.Context, rel string, sizeHint int64) (vfs.WriteStream, error) {
	f.beforeOp(OpOpenWrite, rel)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record(OpOpenWrite, rel, "")
	if err := f.injected(OpOpenWrite, rel); err != nil {
		return nil, err
	}
	if rel == "" {
		return nil, f.pathError("create", rel, vfs.ErrIsFolder)
	}
	parent := parentRel(rel)
	if parent != "" {
		pn, ok := f.nodes[parent]
		if !ok {
			return nil, f.pathError("create", rel, fs.ErrNotExist)
		}
		if pn.typ != vfs.ItemTypeFolder {
			return nil, f.pathError("create", rel, errNotFolder)
		}
	}
	if n, ok := f.nodes[rel]; ok && n.typ == vfs.ItemTypeFolder {
		return nil, f.pathError("create", rel, vfs.ErrIsFolder)
	}
	return &fakeWriteStream{f: f, rel: rel}, nil
}

func (f *Fake) SetModTime(ctx context.Context, rel string, mtime time.Time) error {
	f.beforeOp(OpSetModTime, rel)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record(OpSetModTime, rel, "")
	if err := f.injected(OpSetModTime, rel); err != nil {
		return err
	}
	n, ok := f.nodes[rel]
	if !ok {
		return f.pathError("chtimes", rel, fs.ErrNotExist)
	}
	if n.typ == vfs.ItemTypeSymlink {
		if tn, ok := f.nodes[n.target]; ok {
			tn.modTime = mtime
			return nil
		}
		return f.pathError("chtimes", rel, fs.ErrNotExist)
	}
	n.modTime = mtime
	return nil
}

func (f *Fake) CreateFolder(ctx context.Context, rel string) error {
	f.beforeOp(OpCreateFolder, rel)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record(OpCreateFolder, rel, "")
	if err := f.injected(OpCreateFolder, rel); err != nil {
		return err
	}
	if rel == "" {
		return f.pathError("mkdir", rel, fs.ErrExist)
	}
	if _, ok := f.nodes[rel]; ok {
		return f.pathError("mkdir", rel, fs.ErrExist)
	}
	parent := parentRel(rel)
	if parent != "" {
		pn, ok := f.nodes[parent]
		if !ok {
			return f.pathError("mkdir", rel, fs.ErrNotExist)
		}
		if pn.typ != vfs.ItemTypeFolder {
			return f.pathError("mkdir", rel, errNotFolder)
		}
	}
	f.nodes[rel] = &node{typ: vfs.ItemTypeFolder}
	return nil
}

func (f *Fake) Rename(ctx context.Context, oldRel, newRel string) error {
	f.beforeOp(OpRename, oldRel)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record(OpRename, oldRel, newRel)
	if err := f.injected(OpRename, oldRel); err != nil {
		return err
	}
	n, ok := f.nodes[oldRel]
	if !ok {
		return f.pathError("rename", oldRel, fs.ErrNotExist)
	}
	if parent := parentRel(newRel); parent != "" {
		pn, ok := f.nodes[parent]
		if !ok || pn.typ != vfs.ItemTypeFolder {
			return f.pathError("rename", newRel, fs.ErrNotExist)
		}
	}
	if tn, ok := f.nodes[newRel]; ok && tn.typ == vfs.ItemTypeFolder {
		return f.pathError("rename", newRel, fs.ErrExist)
	}
	delete(f.nodes, oldRel)
	f.nodes[newRel] = n
	if n.typ == vfs.ItemTypeFolder {
		oldPrefix := oldRel + "/"
		for childRel, cn := range f.nodes {
			if strings.HasPrefix(childRel, oldPrefix) {
				delete(f.nodes, childRel)
				f.nodes[newRel+"/"+childRel[len(oldPrefix):]] = cn
			}
		}
	}
	return nil
}

func (f *Fake) RemoveFile(ctx context.Context, rel string) error {
	return f.remove(OpRemoveFile, "remove", rel, vfs.ItemTypeFile)
}

func (f *Fake) RemoveSymlink(ctx context.Context, rel string) error {
	return f.remove(OpRemoveSymlink, "remove", rel, vfs.ItemTypeSymlink)
}

func (f *Fake) RemoveEmptyFolder(ctx context.Context, rel string) error {
	f.beforeOp(OpRemoveEmptyFolder, rel)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record(OpRemoveEmptyFolder, rel, "")
	if err := f.injected(OpRemoveEmptyFolder, rel); err != nil {
		return err
	}
	n, ok := f.nodes[rel]
	if !ok {
		return f.pathError("rmdir", rel, fs.ErrNotExist)
	}
	if n.typ != vfs.ItemTypeFolder {
		return f.pathError("rmdir", rel, errNotFolder)
	}
	prefix := rel + "/"
	for childRel := range f.nodes {
		if strings.HasPrefix(childRel, prefix) {
			return f.pathError("rmdir", rel, vfs.ErrNotEmpty)
		}
	}
	delete(f.nodes, rel)
	return nil
}

func (f *Fake) remove(op Op, verb, rel string, want vfs.ItemType) error {
	f.beforeOp(op, rel)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record(op, rel, "")
	if err := f.injected(op, rel); err != nil {
		return err
	}
	n, ok := f.nodes[rel]
	if !ok {
		return f.pathError(verb, rel, fs.ErrNotExist)
	}
	if n.typ != want {
		return f.pathError(verb, rel, fmt.Errorf("is a %s, not a %s", n.typ, want))
	}
	delete(f.nodes, rel)
	return nil
}

// beforeOp runs the test hook outside the lock, so the hook may call back
// into the fake.
func (f *Fake) beforeOp(op Op, rel string) {
	f.mu.Lock()
	hook := f.hook
	f.mu.Unlock()
	if hook != nil {
		hook(op, rel)
	}
}

// record and injected expect f.mu held.

func (f *Fake) record(op Op, rel, to string) {
	f.calls = append(f.calls, Call{Op: op, Rel: rel, To: to})
}

func (f *Fake) injected(op Op, rel string) error {
	for i := range f.failures {
		rule := &f.failures[i]
		if rule.op != op || rule.spent {
			continue
		}
		if rule.prefix && !strings.HasPrefix(rel, rule.rel) {
			continue
		}
		if !rule.prefix && rel != rule.rel {
			continue
		}
		if rule.once {
			rule.spent = true
		}
		return rule.err
	}
	return nil
}

func (f *Fake) pathError(op, rel string, err error) error {
	return &fs.PathError{Op: op, Path: f.DisplayPath(rel), Err: err}
}

func parentRel(rel string) string {
	if i := strings.LastIndexByte(rel, '/'); i >= 0 {
		return rel[:i]
	}
	return ""
}

func itemName(rel string) string {
	if i := strings.LastIndexByte(rel, '/'); i >= 0 {
		return rel[i+1:]
	}
	return rel
}

func fileID(id int64) vfs.FileID {
	if id == 0 {
		return ""
	}
	return vfs.FileID(strconv.FormatInt(id, 10))
}

type fakeReadStream struct {
	*bytes.Reader
	attrs    vfs.StreamAttrs
	hasAttrs bool
}

func (s *fakeReadStream) Close() error { return nil }

func (s *fakeReadStream) Attributes() (vfs.StreamAttrs, bool) {
	return s.attrs, s.hasAttrs
}

type fakeWriteStream struct {
	f    *Fake
	rel  string
	buf  bytes.Buffer
	done bool
}

func (s *fakeWriteStream) Write(p []byte) (int, error) {
	if s.done {
		return 0, errors.New("write after finalize")
	}
	return s.buf.Write(p)
}

func (s *fakeWriteStream) Finalize() (vfs.FileID, error) {
	if s.done {
		return "", errors.New("finalize called twice")
	}
	s.done = true

	s.f.mu.Lock()
	defer s.f.mu.Unlock()
	if parent := parentRel(s.rel); parent != "" {
		pn, ok := s.f.nodes[parent]
		if !ok || pn.typ != vfs.ItemTypeFolder {
			return "", s.f.pathError("write", s.rel, fs.ErrNotExist)
		}
	}
	s.f.nextID++
	s.f.nodes[s.rel] = &node{
		typ:     vfs.ItemTypeFile,
		data:    append([]byte(nil), s.buf.Bytes()...),
		modTime: time.Now(),
		id:      s.f.nextID,
	}
	return fileID(s.f.nextID), nil
}

func (s *fakeWriteStream) Discard() error {
	s.done = true
	return nil
}

// NativeFake is a Fake that additionally copies files to other fakes
// without streaming, exercising the engine's native fast path.
type NativeFake struct {
	*Fake
}

var _ vfs.NativeCopier = (*NativeFake)(nil)

// NewNative returns an empty fake backend with native copy support.
func NewNative(name string) *NativeFake {
	return &NativeFake{Fake: New(name)}
}

func (n *NativeFake) CopyFileNative(ctx context.Context, srcRel string, attrs vfs.StreamAttrs, target vfs.Path, copyPermissions bool, progress vfs.ProgressFunc) (vfs.CopyResult, error) {
	dst, ok := target.Backend().(fakeAccess)
	if !ok {
		return vfs.CopyResult{}, n.pathError("copy", srcRel, vfs.ErrUnsupported)
	}
	df := dst.fake()

	n.beforeOp(OpCopyNative, srcRel)
	n.mu.Lock()
	n.record(OpCopyNative, srcRel, target.Rel())
	if err := n.injected(OpCopyNative, srcRel); err != nil {
		n.mu.Unlock()
		return vfs.CopyResult{}, err
	}
	src, ok := n.nodes[srcRel]
	if !ok || src.typ != vfs.ItemTypeFile {
		n.mu.Unlock()
		return vfs.CopyResult{}, n.pathError("copy", srcRel, fs.ErrNotExist)
	}
	data := append([]byte(nil), src.data...)
	modTime := src.modTime
	srcID := fileID(src.id)
	n.mu.Unlock()

	df.mu.Lock()
	defer df.mu.Unlock()
	if parent := parentRel(target.Rel()); parent != "" {
		pn, ok := df.nodes[parent]
		if !ok || pn.typ != vfs.ItemTypeFolder {
			return vfs.CopyResult{}, df.pathError("copy", target.Rel(), fs.ErrNotExist)
		}
	}
	df.nextID++
	df.nodes[target.Rel()] = &node{typ: vfs.ItemTypeFile, data: data, modTime: modTime, id: df.nextID}
	if progress != nil {
		progress(int64(len(data)))
	}
	return vfs.CopyResult{
		Size:         int64(len(data)),
		ModTime:      modTime,
		SourceFileID: srcID,
		TargetFileID: fileID(df.nextID),
	}, nil
}
