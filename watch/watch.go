// Package watch reports changes under a vfs path.
//
// The Poller works on every backend: it traverses the tree periodically and
// diffs snapshots, so change detection costs one listing pass per interval.
// Backends that can do better implement Watchable; FolderEvents picks the
// native notification up through the usual capability assertion.
package watch

import (
	"context"

	"github.com/driftsync/vfs"
)

// Op classifies a change.
type Op int

const (
	// OpCreate reports an item that appeared.
	OpCreate Op = iota + 1

	// OpModify reports an item whose type, size, or modification time
	// changed.
	OpModify

	// OpRemove reports an item that disappeared.
	OpRemove
)

func (o Op) String() string {
	switch o {
	case OpCreate:
		return "create"
	case OpModify:
		return "modify"
	case OpRemove:
		return "remove"
	}
	return "unknown"
}

// Event is one observed change.
type Event struct {
	Path vfs.Path
	Op   Op
}

// Watchable is an optional backend capability: native change notification
// for the direct children of a folder. The channel is closed when watching
// stops, whether through ctx or a watcher failure.
type Watchable interface {
	WatchFolder(ctx context.Context, rel string) (<-chan Event, error)
}

// FolderEvents starts native change notification for the folder at p. ok is
// false when the backend has no native support; callers fall back to a
// Poller.
func FolderEvents(ctx context.Context, p vfs.Path) (_ <-chan Event, ok bool, _ error) {
	w, isWatchable := p.Backend().(Watchable)
	if !isWatchable {
		return nil, false, nil
	}
	ch, err := w.WatchFolder(ctx, p.Rel())
	if err != nil {
		return nil, false, err
	}
	return ch, true, nil
}
