package vfs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidRelPath(t *testing.T) {
	tests := []struct {
		name string
		rel  string
		want bool
	}{
		{"root", "", true},
		{"single", "docs", true},
		{"nested", "docs/2024/report.pdf", true},
		{"dot names allowed", ".hidden/..config", true},
		{"bare dot component", "docs/./2024", false},
		{"parent component", "../docs", false},
		{"leading separator", "/docs", false},
		{"trailing separator", "docs/", false},
		{"doubled separator", "docs//2024", false},
		{"only separator", "/", false},
		{"backslash", `docs\2024`, false},
		{"interior space ok", "my docs/file 1.txt", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ValidRelPath(tt.rel))
		})
	}
}

func TestValidItemName(t *testing.T) {
	assert.True(t, ValidItemName("report.pdf"))
	assert.True(t, ValidItemName(".gitignore"))
	assert.False(t, ValidItemName(""))
	assert.False(t, ValidItemName("."))
	assert.False(t, ValidItemName(".."))
	assert.False(t, ValidItemName("a/b"))
	assert.False(t, ValidItemName(`a\b`))
}

func TestPathComponents(t *testing.T) {
	root := RootPath(nil)
	require.True(t, root.IsRoot())
	assert.Empty(t, root.Rel())
	assert.Empty(t, root.ItemName())
	assert.Empty(t, root.Components())

	_, ok := root.Parent()
	assert.False(t, ok, "root has no parent")

	p := root.Join("docs").Join("2024").Join("report.pdf")
	assert.Equal(t, "docs/2024/report.pdf", p.Rel())
	assert.Equal(t, "report.pdf", p.ItemName())
	assert.Equal(t, []string{"docs", "2024", "report.pdf"}, p.Components())
	assert.False(t, p.IsRoot())

	parent, ok := p.Parent()
	require.True(t, ok)
	assert.Equal(t, "docs/2024", parent.Rel())

	// Walking Parent up from any path terminates at the root.
	steps := 0
	for q, ok := p, true; ok; q, ok = q.Parent() {
		steps++
		_ = q
	}
	assert.Equal(t, 4, steps, "docs/2024/report.pdf plus the root itself")
}

func TestPathJoinRel(t *testing.T) {
	base := RootPath(nil).Join("base")

	p, err := base.JoinRel("sub/leaf.txt")
	require.NoError(t, err)
	assert.Equal(t, "base/sub/leaf.txt", p.Rel())

	same, err := base.JoinRel("")
	require.NoError(t, err)
	assert.Equal(t, base, same)

	_, err = base.JoinRel("/abs")
	assert.Error(t, err)
	_, err = base.JoinRel("a//b")
	assert.Error(t, err)
}

func TestPathJoinPanicsOnMalformedName(t *testing.T) {
	assert.Panics(t, func() { RootPath(nil).Join("a/b") })
	assert.Panics(t, func() { RootPath(nil).Join("") })
}

func TestNewPath(t *testing.T) {
	p, err := NewPath(nil, "a/b")
	require.NoError(t, err)
	assert.Equal(t, "a/b", p.Rel())

	_, err = NewPath(nil, "a//b")
	assert.Error(t, err)
}
