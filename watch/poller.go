package watch

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/driftsync/vfs"
)

// PollerOptions configures a Poller. The zero value polls every 5 seconds,
// single-threaded, without logging.
type PollerOptions struct {
	// Interval between snapshot passes.
	Interval time.Duration

	// Parallel is handed to the traversal; see vfs.TraverseOptions.
	Parallel int

	// Logger, when set, receives debug output. Failed polls are logged and
	// the previous snapshot is kept, so a transient listing error produces
	// no spurious remove events.
	Logger *zap.Logger
}

const defaultPollInterval = 5 * time.Second

// Poller detects changes under a path by periodically traversing it and
// comparing snapshots. It works on any backend at listing cost; no state is
// kept on the backend itself.
type Poller struct {
	root vfs.Path
	opts PollerOptions

	mu   sync.Mutex
	subs map[chan Event]struct{}
	prev map[string]itemState
}

type itemState struct {
	typ     vfs.ItemType
	size    int64
	modTime time.Time
}

// NewPoller returns a Poller for the tree rooted at root. Call Subscribe
// for an event channel, then Run to start polling.
func NewPoller(root vfs.Path, opts PollerOptions) *Poller {
	if opts.Interval <= 0 {
		opts.Interval = defaultPollInterval
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Poller{
		root: root,
		opts: opts,
		subs: make(map[chan Event]struct{}),
	}
}

// Subscribe registers an event channel and returns it with a cancel
// function. Events are delivered to every subscriber; a slow subscriber
// blocks the poll loop, so drain promptly. Cancel closes the channel.
func (p *Poller) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, 16)
	p.mu.Lock()
	p.subs[ch] = struct{}{}
	p.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			p.mu.Lock()
			delete(p.subs, ch)
			p.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

// Run polls until ctx is canceled and returns ctx.Err(). The first pass
// establishes the baseline and emits nothing; every later pass emits one
// event per created, modified, or removed item, in path order. A failed
// pass after the first is logged and skipped, keeping the last good
// baseline.
func (p *Poller) Run(ctx context.Context) error {
	if err := p.Poll(ctx); err != nil {
		return err
	}
	ticker := time.NewTicker(p.opts.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		if err := p.Poll(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			p.opts.Logger.Debug("poll failed, keeping previous snapshot",
				zap.String("path", p.root.Display()),
				zap.Error(err))
		}
	}
}

// Poll runs a single snapshot pass, emitting events for changes since the
// previous pass. The first call only establishes the baseline. Callers with
// their own scheduling use it instead of Run.
func (p *Poller) Poll(ctx context.Context) error {
	next, err := p.snapshot(ctx)
	if err != nil {
		return err
	}

	p.mu.Lock()
	prev := p.prev
	p.prev = next
	p.mu.Unlock()
	if prev == nil {
		return nil
	}

	for _, ev := range diff(p.root.Backend(), prev, next) {
		p.broadcast(ctx, ev)
	}
	return nil
}

func (p *Poller) broadcast(ctx context.Context, ev Event) {
	p.mu.Lock()
	subs := make([]chan Event, 0, len(p.subs))
	for ch := range p.subs {
		subs = append(subs, ch)
	}
	p.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- ev:
		case <-ctx.Done():
			return
		}
	}
}

// snapshot collects the state of every item under the root. A missing root
// yields an empty snapshot rather than an error, so a tree that is created
// later starts producing create events.
func (p *Poller) snapshot(ctx context.Context) (map[string]itemState, error) {
	_, exists, err := vfs.ItemTypeIfExists(ctx, p.root)
	if err != nil {
		return nil, err
	}
	if !exists {
		return map[string]itemState{}, nil
	}

	v := &snapshotVisitor{states: make(map[string]itemState)}
	err = vfs.Traverse(ctx, p.root, []vfs.TraverseTask{{Visitor: v}},
		vfs.TraverseOptions{Parallel: p.opts.Parallel, Logger: p.opts.Logger})
	if err != nil {
		return nil, err
	}
	return v.states, nil
}

type snapshotVisitor struct {
	mu     sync.Mutex
	states map[string]itemState
}

func (v *snapshotVisitor) record(rel string, st itemState) {
	v.mu.Lock()
	v.states[rel] = st
	v.mu.Unlock()
}

func (v *snapshotVisitor) File(fi vfs.FileInfo) error {
	v.record(fi.Path.Rel(), itemState{typ: vfs.ItemTypeFile, size: fi.Size, modTime: fi.ModTime})
	return nil
}

func (v *snapshotVisitor) Folder(fi vfs.FolderInfo) (vfs.Visitor, error) {
	v.record(fi.Path.Rel(), itemState{typ: vfs.ItemTypeFolder})
	return v, nil
}

func (v *snapshotVisitor) Symlink(si vfs.SymlinkInfo) error {
	v.record(si.Path.Rel(), itemState{typ: vfs.ItemTypeSymlink, modTime: si.ModTime})
	return nil
}

func (v *snapshotVisitor) FolderError(folder vfs.Path, err error, retries int) vfs.Decision {
	return vfs.DecisionAbort
}

func (v *snapshotVisitor) ItemError(folder vfs.Path, name string, err error, retries int) vfs.Decision {
	return vfs.DecisionAbort
}

func diff(b vfs.Backend, prev, next map[string]itemState) []Event {
	var events []Event
	add := func(rel string, op Op) {
		p, err := vfs.NewPath(b, rel)
		if err != nil {
			return
		}
		events = append(events, Event{Path: p, Op: op})
	}

	for rel, st := range next {
		old, had := prev[rel]
		switch {
		case !had:
			add(rel, OpCreate)
		case old.typ != st.typ || old.size != st.size || !old.modTime.Equal(st.modTime):
			add(rel, OpModify)
		}
	}
	for rel := range prev {
		if _, still := next[rel]; !still {
			add(rel, OpRemove)
		}
	}

	sort.Slice(events, func(i, j int) bool {
		return vfs.Compare(events[i].Path, events[j].Path) < 0
	})
	return events
}
