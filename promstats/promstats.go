// Package promstats exports vfs operation totals as Prometheus counters.
//
// The core library reports progress through plain callbacks and observer
// hooks so that it works without any metrics dependency. This package
// adapts those callbacks to promauto counters for engines that already run
// a Prometheus registry.
package promstats

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/driftsync/vfs"
)

// Recorder holds the operation counters registered on one Registerer.
// Create one Recorder per registry; registering the same counters twice
// makes promauto panic.
type Recorder struct {
	bytesCopied    prometheus.Counter
	filesCopied    prometheus.Counter
	itemsRemoved   prometheus.Counter
	foldersCreated prometheus.Counter
}

// NewRecorder registers the vfs counters on reg. A nil reg yields counters
// that count but are never exported, which keeps call sites unconditional.
func NewRecorder(reg prometheus.Registerer) *Recorder {
	factory := promauto.With(reg)
	return &Recorder{
		bytesCopied: factory.NewCounter(prometheus.CounterOpts{
			Name: "vfs_bytes_copied_total",
			Help: "Total content bytes copied between filesystems",
		}),
		filesCopied: factory.NewCounter(prometheus.CounterOpts{
			Name: "vfs_files_copied_total",
			Help: "Total files copied between filesystems",
		}),
		itemsRemoved: factory.NewCounter(prometheus.CounterOpts{
			Name: "vfs_items_removed_total",
			Help: "Total files, symlinks and folders removed",
		}),
		foldersCreated: factory.NewCounter(prometheus.CounterOpts{
			Name: "vfs_folders_created_total",
			Help: "Total folders created",
		}),
	}
}

// Progress returns a ProgressFunc for one copy. It translates the
// cumulative byte counts vfs reports into counter increments, so the
// returned func carries per-copy state and must not be shared between
// concurrent copies. Backends may re-report an earlier total after an
// internal retry; the counter only ever moves forward.
func (r *Recorder) Progress() vfs.ProgressFunc {
	var last int64
	return func(totalBytes int64) {
		if d := totalBytes - last; d > 0 {
			r.bytesCopied.Add(float64(d))
			last = totalBytes
		}
	}
}

// RecordFileCopied counts one completed file copy. Byte counts come from
// Progress, not from here, so partial copies still show up in
// vfs_bytes_copied_total while only finished ones increment this counter.
func (r *Recorder) RecordFileCopied() {
	r.filesCopied.Inc()
}

// RecordFolderCreated counts one created folder. CreateFolderAll reports
// nothing per level, so callers count the levels they know they created.
func (r *Recorder) RecordFolderCreated() {
	r.foldersCreated.Inc()
}

// RecordItemRemoved counts one removed file, symlink or folder.
func (r *Recorder) RecordItemRemoved() {
	r.itemsRemoved.Inc()
}

// RemoveObserver returns RemoveOptions whose hooks count every item a
// recursive removal reaches. The hooks fire as removal begins per item, so
// an aborted run can overcount by the one item it failed on. Callers that
// already observe removals chain their own hooks behind these.
func (r *Recorder) RemoveObserver() vfs.RemoveOptions {
	count := func(string) error {
		r.itemsRemoved.Inc()
		return nil
	}
	return vfs.RemoveOptions{
		OnBeforeFileRemoval:   count,
		OnBeforeFolderRemoval: count,
	}
}
