package job

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/roach88/grimoire/internal/doc"
	"github.com/roach88/grimoire/internal/store"
)

// Kind names a job type.
type Kind string

const (
	KindBackup      Kind = "backup"
	KindRestore     Kind = "restore"
	KindScan        Kind = "scan"
	KindDuplicates  Kind = "duplicates"
	KindNormalize   Kind = "normalize"
	KindReconcile   Kind = "reconcile"
	KindRepairLinks Kind = "repair_links"
)

// State is a run's lifecycle state.
type State string

const (
	StateRunning   State = "running"
	StateSucceeded State = "succeeded"
	StateFailed    State = "failed"
)

// StatusCollection stores the last run of each kind. It is a system
// collection, so backups skip it.
const StatusCollection = store.SystemPrefix + "grimoire_runs"

// Run is one job execution.
type Run struct {
	ID         string    `json:"id"`
	Kind       Kind      `json:"kind"`
	State      State     `json:"state"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at,omitzero"`
	Error      string    `json:"error,omitempty"`
	// Summary is the job's report as JSON.
	Summary json.RawMessage `json:"summary,omitempty"`
}

// Tracker remembers the most recent run of each kind. With a store attached
// it also persists runs so a later process can report them.
//
// Thread-safety: safe for concurrent use.
type Tracker struct {
	mu    sync.Mutex
	ids   IDGenerator
	now   func() time.Time
	store store.Store
	runs  map[Kind]*Run
}

// TrackerOption configures a Tracker.
type TrackerOption func(*Tracker)

// WithIDs sets the run ID generator.
func WithIDs(g IDGenerator) TrackerOption {
	return func(t *Tracker) { t.ids = g }
}

// WithClock sets the clock used for timestamps.
func WithClock(now func() time.Time) TrackerOption {
	return func(t *Tracker) { t.now = now }
}

// WithStore persists runs into StatusCollection.
func WithStore(s store.Store) TrackerOption {
	return func(t *Tracker) { t.store = s }
}

// NewTracker creates a Tracker.
func NewTracker(opts ...TrackerOption) *Tracker {
	t := &Tracker{
		ids:  UUIDv7Generator{},
		now:  time.Now,
		runs: map[Kind]*Run{},
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Start records a new running run of kind and returns it.
func (t *Tracker) Start(ctx context.Context, kind Kind) *Run {
	t.mu.Lock()
	run := &Run{ID: t.ids.Generate(), Kind: kind, State: StateRunning, StartedAt: t.now().UTC()}
	t.runs[kind] = run
	snapshot := *run
	t.mu.Unlock()

	t.persist(ctx, &snapshot)
	return run
}

// Finish completes run with its summary and error. A summary that does not
// marshal is dropped.
func (t *Tracker) Finish(ctx context.Context, run *Run, summary any, err error) {
	t.mu.Lock()
	run.FinishedAt = t.now().UTC()
	run.State = StateSucceeded
	if err != nil {
		run.State = StateFailed
		run.Error = err.Error()
	}
	if summary != nil {
		if data, convErr := json.Marshal(summary); convErr == nil {
			run.Summary = data
		}
	}
	snapshot := *run
	t.mu.Unlock()

	t.persist(ctx, &snapshot)
}

// Runs returns the latest run of every kind, ordered by kind. Persisted runs
// fill kinds this process has not run.
func (t *Tracker) Runs(ctx context.Context) ([]Run, error) {
	t.mu.Lock()
	byKind := make(map[Kind]Run, len(t.runs))
	for k, r := range t.runs {
		byKind[k] = *r
	}
	t.mu.Unlock()

	if t.store != nil {
		stored, err := t.load(ctx)
		if err != nil {
			return nil, err
		}
		for _, r := range stored {
			if _, ok := byKind[r.Kind]; !ok {
				byKind[r.Kind] = r
			}
		}
	}

	out := make([]Run, 0, len(byKind))
	for _, r := range byKind {
		out = append(out, r)
	}
	slices.SortFunc(out, func(a, b Run) int {
		switch {
		case a.Kind < b.Kind:
			return -1
		case a.Kind > b.Kind:
			return 1
		}
		return 0
	})
	return out, nil
}

// persist is best effort: status tracking must not fail the job it tracks.
func (t *Tracker) persist(ctx context.Context, run *Run) {
	if t.store == nil {
		return
	}
	fields, err := toValue(run)
	if err != nil {
		return
	}
	obj, ok := fields.(doc.Object)
	if !ok {
		return
	}
	d := doc.NewDocument(doc.StringID(string(run.Kind)), obj)
	_, _ = t.store.ReplaceMany(ctx, StatusCollection, []doc.Document{d}, true)
}

func (t *Tracker) load(ctx context.Context) ([]Run, error) {
	docs, err := t.store.Find(ctx, StatusCollection, nil)
	if err != nil {
		return nil, fmt.Errorf("load runs: %w", err)
	}
	runs := make([]Run, 0, len(docs))
	for _, d := range docs {
		data, err := doc.MarshalValue(d.Fields)
		if err != nil {
			continue
		}
		var r Run
		if err := json.Unmarshal(data, &r); err != nil || r.Kind == "" {
			continue
		}
		runs = append(runs, r)
	}
	return runs, nil
}

func toValue(v any) (doc.Value, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return doc.UnmarshalValue(data)
}
