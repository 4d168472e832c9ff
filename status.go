package vfs

import (
	"context"
	"errors"
)

// PathStatus reports how much of a path exists. ExistingPath is the deepest
// ancestor (or the item itself) that was found, ExistingType its type, and
// Missing the components between it and the queried path, shallowest first.
// An empty Missing means the item itself exists.
type PathStatus struct {
	ExistingType ItemType
	ExistingPath Path
	Missing      []string
}

// Resolve determines the status of a path by walking toward the backend
// root until something exists.
//
// A direct type query answers the common case. When the query fails, the
// cause is not inspected: backends cannot reliably distinguish a missing
// item from other failures, so Resolve falls back to resolving the parent
// and, when the parent turns out to be a fully existing non-file, searching
// the parent's listing for the item by name. This finds items whose type
// query is broken but which are perfectly listable, and it turns "the whole
// chain is missing" into a definite answer instead of an error.
//
// Errors from resolving an ancestor or listing an existing parent abort the
// resolution; a query failure at the backend root is returned as is.
func Resolve(ctx context.Context, p Path) (PathStatus, error) {
	t, err := p.Backend().ItemType(ctx, p.Rel())
	if err == nil {
		return PathStatus{ExistingType: t, ExistingPath: p}, nil
	}
	parent, ok := p.Parent()
	if !ok {
		return PathStatus{}, err
	}

	ps, err := Resolve(ctx, parent)
	if err != nil {
		return PathStatus{}, err
	}
	name := p.ItemName()
	if len(ps.Missing) == 0 && ps.ExistingType != ItemTypeFile {
		ct, found, err := findChildByName(ctx, parent, name)
		if err != nil {
			return PathStatus{}, err
		}
		if found {
			return PathStatus{ExistingType: ct, ExistingPath: p}, nil
		}
	}
	ps.Missing = append(ps.Missing, name)
	return ps, nil
}

// ItemTypeIfExists reports the type of the item at p, or ok=false when the
// path does not exist. It uses Resolve, so it gives a definite answer even
// on backends whose type queries cannot distinguish absence from failure.
func ItemTypeIfExists(ctx context.Context, p Path) (ItemType, bool, error) {
	ps, err := Resolve(ctx, p)
	if err != nil {
		return ItemTypeUnknown, false, err
	}
	if len(ps.Missing) == 0 {
		return ps.ExistingType, true, nil
	}
	return ItemTypeUnknown, false, nil
}

// errFoundItem short-circuits a listing once the wanted name has been seen.
var errFoundItem = errors.New("item found")

func findChildByName(ctx context.Context, folder Path, name string) (ItemType, bool, error) {
	var foundType ItemType
	match := func(entryName string, t ItemType) error {
		if EqualNames(folder.Backend(), entryName, name) {
			foundType = t
			return errFoundItem
		}
		return nil
	}
	err := TraverseFlat(ctx, folder,
		func(fi FileInfo) error { return match(fi.Name, ItemTypeFile) },
		func(fi FolderInfo) error { return match(fi.Name, ItemTypeFolder) },
		func(si SymlinkInfo) error { return match(si.Name, ItemTypeSymlink) },
	)
	switch {
	case err == nil:
		return ItemTypeUnknown, false, nil
	case errors.Is(err, errFoundItem):
		return foundType, true, nil
	default:
		return ItemTypeUnknown, false, err
	}
}
