package vfs

import (
	"context"
)

// CreateFolderAll creates the folder at p, including any missing ancestors.
// An already existing folder is not an error.
//
// Concurrent creators are tolerated: when a level fails to create but a
// re-check shows a non-file item there, someone else won the race and the
// walk continues. A file occupying a chain component keeps the failure.
func CreateFolderAll(ctx context.Context, p Path) error {
	if p.IsRoot() {
		// The backend root cannot be created, only verified reachable.
		_, err := p.Backend().ItemType(ctx, p.Rel())
		return err
	}

	err := p.Backend().CreateFolder(ctx, p.Rel())
	if err == nil {
		return nil
	}

	ps, serr := Resolve(ctx, p)
	if serr != nil {
		return serr
	}
	if ps.ExistingType == ItemTypeFile {
		return err
	}

	// Missing may already be empty: a parallel creator can finish the chain
	// between the failed create and the status query.
	folder := ps.ExistingPath
	for _, name := range ps.Missing {
		folder = folder.Join(name)
		if cerr := p.Backend().CreateFolder(ctx, folder.Rel()); cerr != nil {
			if t, terr := p.Backend().ItemType(ctx, folder.Rel()); terr == nil && t != ItemTypeFile {
				continue
			}
			return cerr
		}
	}
	return nil
}
