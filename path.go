package vfs

import (
	"fmt"
	"strings"
)

// Separator joins the components of a relative path. Backends that use a
// different separator natively translate at their own boundary.
const Separator = '/'

// Path addresses an item inside a backend's namespace. It pairs the backend
// handle with a relative path below the backend root, so paths from
// different backends can be held, compared, and sorted uniformly.
//
// The relative path is a sequence of item names joined by exactly one
// Separator, with no leading or trailing separator. The empty string
// addresses the backend root. Components are literal item names; "." and
// ".." are not valid components, and no dot processing is applied.
//
// The zero Path has no backend and must not be used.
type Path struct {
	backend Backend
	rel     string
}

// RootPath returns the path of the backend's root folder.
func RootPath(b Backend) Path {
	return Path{backend: b}
}

// NewPath returns a path for rel below the backend root. It fails if rel
// violates the relative path form.
func NewPath(b Backend, rel string) (Path, error) {
	if !ValidRelPath(rel) {
		return Path{}, fmt.Errorf("vfs: malformed relative path %q", rel)
	}
	return Path{backend: b, rel: rel}, nil
}

// ValidRelPath reports whether rel is a well-formed relative path: either
// empty (the root) or valid item names joined by single separators, with
// no leading or trailing separator.
func ValidRelPath(rel string) bool {
	if rel == "" {
		return true
	}
	if rel[0] == Separator || rel[len(rel)-1] == Separator {
		return false
	}
	for _, name := range strings.Split(rel, string(Separator)) {
		if !ValidItemName(name) {
			return false
		}
	}
	return true
}

// ValidItemName reports whether name can be a single path component. The
// pseudo-names "." and ".." are rejected; names merely starting with dots
// are items like any other.
func ValidItemName(name string) bool {
	if name == "" || name == "." || name == ".." {
		return false
	}
	return !strings.ContainsAny(name, "/\\")
}

// Backend returns the backend this path belongs to.
func (p Path) Backend() Backend { return p.backend }

// Rel returns the relative path below the backend root. Empty for the root.
func (p Path) Rel() string { return p.rel }

// IsRoot reports whether the path addresses the backend root itself.
func (p Path) IsRoot() bool { return p.rel == "" }

// ItemName returns the last path component, or "" for the root.
func (p Path) ItemName() string {
	if i := strings.LastIndexByte(p.rel, byte(Separator)); i >= 0 {
		return p.rel[i+1:]
	}
	return p.rel
}

// Parent returns the path one level up. The second result is false when the
// path is already the backend root.
func (p Path) Parent() (Path, bool) {
	if p.rel == "" {
		return Path{}, false
	}
	if i := strings.LastIndexByte(p.rel, byte(Separator)); i >= 0 {
		return Path{backend: p.backend, rel: p.rel[:i]}, true
	}
	return Path{backend: p.backend}, true
}

// Join returns the path of the named child item. It panics if name is not a
// valid single component; use NewPath or JoinRel for unvalidated input.
func (p Path) Join(name string) Path {
	if !ValidItemName(name) {
		panic(fmt.Sprintf("vfs: Join with malformed item name %q", name))
	}
	if p.rel == "" {
		return Path{backend: p.backend, rel: name}
	}
	return Path{backend: p.backend, rel: p.rel + string(Separator) + name}
}

// JoinRel appends a relative path below p. An empty rel returns p unchanged.
func (p Path) JoinRel(rel string) (Path, error) {
	if !ValidRelPath(rel) {
		return Path{}, fmt.Errorf("vfs: malformed relative path %q", rel)
	}
	if rel == "" {
		return p, nil
	}
	if p.rel == "" {
		return Path{backend: p.backend, rel: rel}, nil
	}
	return Path{backend: p.backend, rel: p.rel + string(Separator) + rel}, nil
}

// Display returns the backend's display form of the path, for messages and
// logs. The format is backend specific and not parseable.
func (p Path) Display() string {
	if p.backend == nil {
		return ""
	}
	return p.backend.DisplayPath(p.rel)
}

// String implements fmt.Stringer using the display form.
func (p Path) String() string { return p.Display() }

// Components splits the relative path into its item names. The root has no
// components.
func (p Path) Components() []string {
	return splitRel(p.rel)
}

func splitRel(rel string) []string {
	if rel == "" {
		return nil
	}
	return strings.Split(rel, string(Separator))
}

// Compare orders two paths. Paths of different backend kinds order by kind
// rank, paths of the same kind but different roots by the backend's root
// comparison, and paths below the same root component by component, with a
// folder sorting before the items inside it. Name comparison uses the
// backend's case folding when it has any.
//
// The result is 0 exactly when both paths address the same item.
func Compare(a, b Path) int {
	ak, bk := a.backend.Kind(), b.backend.Kind()
	if ak != bk {
		if ak < bk {
			return -1
		}
		return 1
	}
	if c := a.backend.CompareRoot(b.backend); c != 0 {
		return c
	}
	fold := foldFunc(a.backend)
	ac, bc := splitRel(a.rel), splitRel(b.rel)
	for i := 0; i < len(ac) && i < len(bc); i++ {
		if c := strings.Compare(fold(ac[i]), fold(bc[i])); c != 0 {
			return c
		}
	}
	switch {
	case len(ac) < len(bc):
		return -1
	case len(ac) > len(bc):
		return 1
	}
	return 0
}

// SamePath reports whether a and b address the same item.
func SamePath(a, b Path) bool { return Compare(a, b) == 0 }

func foldFunc(b Backend) func(string) string {
	if cf, ok := b.(CaseFolder); ok {
		return cf.FoldName
	}
	return func(s string) string { return s }
}

// EqualNames reports whether two item names refer to the same directory
// entry under the backend's name folding rules.
func EqualNames(b Backend, x, y string) bool {
	fold := foldFunc(b)
	return fold(x) == fold(y)
}
