package vfs_test

import (
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/driftsync/vfs"
	"github.com/driftsync/vfs/vfstest"
)

// secondKind exercises ordering across backend kinds. vfstest registers its
// kind during package initialization, so this one always ranks after it.
var secondKind = vfs.RegisterKind("fake-aux")

type secondKindBackend struct{ *vfstest.Fake }

func (secondKindBackend) Kind() vfs.Kind { return secondKind }

func mustPath(t *testing.T, b vfs.Backend, rel string) vfs.Path {
	t.Helper()
	p, err := vfs.NewPath(b, rel)
	require.NoError(t, err)
	return p
}

func TestCompareOrdersByComponentsNotByString(t *testing.T) {
	f := vfstest.New("cmp")
	// Plain string order would put "a-b" first, since '-' sorts before
	// '/'. Component order compares "a" against "a-b" instead.
	nested := mustPath(t, f, "a/b")
	dashed := mustPath(t, f, "a-b")
	assert.Negative(t, vfs.Compare(nested, dashed))
	assert.Positive(t, vfs.Compare(dashed, nested))
}

func TestCompareFolderBeforeContents(t *testing.T) {
	f := vfstest.New("cmp")
	folder := mustPath(t, f, "a")
	child := mustPath(t, f, "a/x")
	root := vfs.RootPath(f)

	assert.Negative(t, vfs.Compare(folder, child))
	assert.Negative(t, vfs.Compare(root, folder))
	assert.Zero(t, vfs.Compare(child, mustPath(t, f, "a/x")))
}

func TestCompareAcrossRootsOfSameKind(t *testing.T) {
	alpha := vfstest.New("alpha")
	beta := vfstest.New("beta")

	// Every path on alpha sorts before every path on beta, regardless of
	// the relative parts.
	assert.Negative(t, vfs.Compare(mustPath(t, alpha, "zzz"), mustPath(t, beta, "aaa")))
	assert.Positive(t, vfs.Compare(vfs.RootPath(beta), mustPath(t, alpha, "deep/down")))
}

func TestCompareDistinctInstancesSameName(t *testing.T) {
	one := vfstest.New("twin")
	two := vfstest.New("twin")

	a, b := vfs.RootPath(one), vfs.RootPath(two)
	c := vfs.Compare(a, b)
	assert.NotZero(t, c, "distinct trees must not compare equal")
	assert.Equal(t, -c, vfs.Compare(b, a))
	assert.False(t, vfs.SamePath(a, b))
}

func TestCompareAcrossKinds(t *testing.T) {
	f := vfstest.New("cmp")
	aux := secondKindBackend{vfstest.New("cmp")}

	assert.Negative(t, vfs.Compare(mustPath(t, f, "zzz"), vfs.RootPath(aux)))
	assert.Positive(t, vfs.Compare(vfs.RootPath(aux), mustPath(t, f, "zzz")))
}

func TestCompareSortsDeterministically(t *testing.T) {
	alpha := vfstest.New("alpha")
	beta := vfstest.New("beta")
	aux := secondKindBackend{vfstest.New("aux")}

	paths := []vfs.Path{
		vfs.RootPath(aux),
		mustPath(t, beta, "x"),
		mustPath(t, alpha, "a-b"),
		mustPath(t, alpha, "a/b"),
		mustPath(t, alpha, "a"),
		vfs.RootPath(alpha),
	}
	slices.SortFunc(paths, vfs.Compare)

	var rels []string
	for _, p := range paths {
		rels = append(rels, p.Display())
	}
	assert.Equal(t, []string{
		"fake://alpha",
		"fake://alpha/a",
		"fake://alpha/a/b",
		"fake://alpha/a-b",
		"fake://beta/x",
		"fake://aux",
	}, rels)
}

func TestCompareCaseFolding(t *testing.T) {
	f := vfstest.New("cmp")
	f.SetFoldCase()

	upper := mustPath(t, f, "DOCS/Readme.TXT")
	lower := mustPath(t, f, "docs/readme.txt")
	assert.True(t, vfs.SamePath(upper, lower))

	plain := vfstest.New("cmp2")
	assert.False(t, vfs.SamePath(mustPath(t, plain, "DOCS"), mustPath(t, plain, "docs")))
}

func TestEqualNames(t *testing.T) {
	folded := vfstest.New("eq")
	folded.SetFoldCase()
	assert.True(t, vfs.EqualNames(folded, "README", "readme"))
	assert.False(t, vfs.EqualNames(folded, "readme", "readyou"))

	exact := vfstest.New("eq2")
	assert.False(t, vfs.EqualNames(exact, "README", "readme"))
	assert.True(t, vfs.EqualNames(exact, "readme", "readme"))
}
