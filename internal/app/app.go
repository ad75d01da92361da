package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/roach88/grimoire/internal/archive"
	"github.com/roach88/grimoire/internal/config"
	"github.com/roach88/grimoire/internal/generator"
	"github.com/roach88/grimoire/internal/integrity"
	"github.com/roach88/grimoire/internal/job"
	"github.com/roach88/grimoire/internal/migrate"
	"github.com/roach88/grimoire/internal/reconcile"
	"github.com/roach88/grimoire/internal/restore"
	"github.com/roach88/grimoire/internal/store"
)

var (
	// ErrNotFound is returned for unknown plans, collections and link
	// fields.
	ErrNotFound = errors.New("not found")
	// ErrBadRequest is returned for arguments that cannot be used.
	ErrBadRequest = errors.New("bad request")
)

// App runs grimoire operations against one store.
type App struct {
	cfg   *config.Config
	store store.Store
	log   zerolog.Logger

	codec      *archive.Codec
	restorer   *restore.Engine
	scanner    *integrity.Scanner
	normalizer *migrate.Normalizer
	tracker    *job.Tracker

	ids   job.IDGenerator
	now   func() time.Time
	pause func(context.Context, time.Duration) error

	genMu sync.Mutex
	gen   generator.Generator
}

// Option configures an App.
type Option func(*App)

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(a *App) { a.log = l }
}

// WithGenerator sets the generator instead of building one from the
// configuration on first use.
func WithGenerator(g generator.Generator) Option {
	return func(a *App) { a.gen = g }
}

// WithIDs sets the run ID generator of every engine.
func WithIDs(g job.IDGenerator) Option {
	return func(a *App) { a.ids = g }
}

// WithClock sets the time source for archives and run records.
func WithClock(now func() time.Time) Option {
	return func(a *App) { a.now = now }
}

// WithPause replaces the wait between link repair groups.
func WithPause(fn func(context.Context, time.Duration) error) Option {
	return func(a *App) { a.pause = fn }
}

// New builds an App. cfg must have passed Validate.
func New(cfg *config.Config, st store.Store, opts ...Option) *App {
	a := &App{cfg: cfg, store: st, log: zerolog.Nop(), ids: job.UUIDv7Generator{}, now: time.Now}
	for _, opt := range opts {
		opt(a)
	}

	codecOpts := append(cfg.ArchiveOptions(),
		archive.WithClock(a.now),
		archive.WithLogger(a.log.With().Str("component", "archive").Logger()))
	a.codec = archive.New(codecOpts...)
	a.restorer = restore.New(st,
		restore.WithIDs(a.ids),
		restore.WithLogger(a.log.With().Str("component", "restore").Logger()))
	a.scanner = integrity.New(st,
		integrity.WithLayout(cfg.Integrity.Layout),
		integrity.WithIDs(a.ids),
		integrity.WithLogger(a.log.With().Str("component", "integrity").Logger()))
	a.normalizer = migrate.New(st,
		migrate.WithLogger(a.log.With().Str("component", "migrate").Logger()))
	a.tracker = job.NewTracker(job.WithStore(st), job.WithIDs(a.ids), job.WithClock(a.now))
	return a
}

// Config returns the configuration.
func (a *App) Config() *config.Config { return a.cfg }

// Store returns the store.
func (a *App) Store() store.Store { return a.store }

// Codec returns the archive codec.
func (a *App) Codec() *archive.Codec { return a.codec }

// Close closes the store.
func (a *App) Close() error { return a.store.Close() }

// finish records a run; a nil out records no summary.
func finish[T any](ctx context.Context, a *App, run *job.Run, out *T, err error) {
	var summary any
	if out != nil {
		summary = out
	}
	a.tracker.Finish(ctx, run, summary, err)
}

// Backup writes an archive of the store to w.
func (a *App) Backup(ctx context.Context, w io.Writer) (*archive.Manifest, error) {
	run := a.tracker.Start(ctx, job.KindBackup)
	m, err := a.codec.Encode(ctx, a.store, w)
	finish(ctx, a, run, m, err)
	if err == nil {
		a.log.Info().
			Int("documents", m.Documents).
			Int("bytes", m.Size).
			Str("sha256", m.Digest).
			Msg("backup written")
	}
	return m, err
}

// RestoreRequest describes a restore.
type RestoreRequest struct {
	Mode        restore.Mode
	Collections []string
	// Normalize runs every normalization plan after the restore.
	Normalize bool
}

// RestoreResult is a restore report plus any normalization that followed.
type RestoreResult struct {
	*restore.Report
	Normalized []*migrate.Result `json:"normalized,omitempty"`
}

// Restore decodes data and applies it. input names the data in errors.
func (a *App) Restore(ctx context.Context, input string, data []byte, req RestoreRequest) (*RestoreResult, error) {
	run := a.tracker.Start(ctx, job.KindRestore)
	res, err := a.restore(ctx, input, data, req)
	finish(ctx, a, run, res, err)
	return res, err
}

func (a *App) restore(ctx context.Context, input string, data []byte, req RestoreRequest) (*RestoreResult, error) {
	arc, err := a.codec.Decode(input, data)
	if err != nil {
		return nil, err
	}
	report, err := a.restorer.Restore(ctx, arc, restore.Options{Mode: req.Mode, Collections: req.Collections})
	if report == nil {
		return nil, err
	}
	res := &RestoreResult{Report: report}
	if err != nil || !req.Normalize {
		return res, err
	}
	res.Normalized, err = a.normalizeAll(ctx, a.cfg.Plans)
	return res, err
}

// Scan runs the link integrity scan.
func (a *App) Scan(ctx context.Context, req integrity.ScanRequest) (*integrity.Report, error) {
	run := a.tracker.Start(ctx, job.KindScan)
	report, err := a.scanner.Scan(ctx, req)
	finish(ctx, a, run, report, err)
	return report, err
}

// Duplicates searches a collection for repeated names. Names tolerated in
// the configuration are added to req.Tolerate.
func (a *App) Duplicates(ctx context.Context, req integrity.DuplicateRequest) (*integrity.DuplicateReport, error) {
	run := a.tracker.Start(ctx, job.KindDuplicates)
	report, err := a.duplicates(ctx, req)
	finish(ctx, a, run, report, err)
	return report, err
}

func (a *App) duplicates(ctx context.Context, req integrity.DuplicateRequest) (*integrity.DuplicateReport, error) {
	if req.Collection != "" {
		if err := a.requireCollection(ctx, req.Collection); err != nil {
			return nil, err
		}
	}
	for _, n := range a.cfg.Integrity.Tolerate {
		if !slices.Contains(req.Tolerate, n) {
			req.Tolerate = append(req.Tolerate, n)
		}
	}
	return a.scanner.Duplicates(ctx, req)
}

// Normalize runs the named plan, or every plan when name is empty.
func (a *App) Normalize(ctx context.Context, name string) ([]*migrate.Result, error) {
	run := a.tracker.Start(ctx, job.KindNormalize)
	plans := a.cfg.Plans
	if name != "" {
		p, ok := a.cfg.Plan(name)
		if !ok {
			err := fmt.Errorf("plan %q: %w", name, ErrNotFound)
			a.tracker.Finish(ctx, run, nil, err)
			return nil, err
		}
		plans = []migrate.Plan{p}
	}
	results, err := a.normalizeAll(ctx, plans)
	a.tracker.Finish(ctx, run, results, err)
	return results, err
}

func (a *App) normalizeAll(ctx context.Context, plans []migrate.Plan) ([]*migrate.Result, error) {
	results := make([]*migrate.Result, 0, len(plans))
	for _, p := range plans {
		res, err := a.normalizer.Normalize(ctx, p)
		if err != nil {
			return results, fmt.Errorf("plan %s: %w", p.Name, err)
		}
		results = append(results, res)
	}
	return results, nil
}

// Reconcile fills a collection from the generator. Zero limits take the
// configured ones.
func (a *App) Reconcile(ctx context.Context, req reconcile.Request) (*reconcile.Result, error) {
	run := a.tracker.Start(ctx, job.KindReconcile)
	res, err := a.reconcile(ctx, req)
	finish(ctx, a, run, res, err)
	return res, err
}

func (a *App) reconcile(ctx context.Context, req reconcile.Request) (*reconcile.Result, error) {
	if req.BatchSize == 0 {
		req.BatchSize = a.cfg.Reconcile.BatchSize
	}
	if req.MaxIterations == 0 {
		req.MaxIterations = a.cfg.Reconcile.MaxIterations
	}
	if p, ok := a.planFor(req.Collection); ok {
		if req.Prefix == "" {
			req.Prefix = p.Prefix
		}
		req.FoldDiacritics = req.FoldDiacritics || p.FoldDiacritics
	}
	o, err := a.orchestrator(ctx)
	if err != nil {
		return nil, err
	}
	return o.Reconcile(ctx, req)
}

// RepairLinks resolves dangling values of a configured link field.
func (a *App) RepairLinks(ctx context.Context, req reconcile.RepairRequest) (*reconcile.RepairReport, error) {
	run := a.tracker.Start(ctx, job.KindRepairLinks)
	report, err := a.repairLinks(ctx, req)
	finish(ctx, a, run, report, err)
	return report, err
}

func (a *App) repairLinks(ctx context.Context, req reconcile.RepairRequest) (*reconcile.RepairReport, error) {
	layout := a.cfg.Integrity.Layout
	link, ok := layout.Link(req.Field)
	if !ok {
		return nil, fmt.Errorf("link field %q: %w", req.Field, ErrNotFound)
	}
	if req.Entities == "" {
		req.Entities = layout.Entities
	}
	if req.Target == "" {
		req.Target = link.Collection
	}
	if p, ok := a.planFor(req.Target); ok {
		if req.Prefix == "" {
			req.Prefix = p.Prefix
		}
		req.FoldDiacritics = req.FoldDiacritics || p.FoldDiacritics
	}
	if req.GroupSize == 0 {
		req.GroupSize = a.cfg.Repair.GroupSize
	}
	if req.Pause == 0 {
		req.Pause = a.cfg.RepairPause()
	}
	if req.MaxCalls == 0 {
		req.MaxCalls = a.cfg.Repair.MaxCalls
	}
	o, err := a.orchestrator(ctx)
	if err != nil {
		return nil, err
	}
	return o.RepairLinks(ctx, req)
}

// Status returns the latest run of every job kind.
func (a *App) Status(ctx context.Context) ([]job.Run, error) {
	return a.tracker.Runs(ctx)
}

func (a *App) planFor(target string) (migrate.Plan, bool) {
	for _, p := range a.cfg.Plans {
		if p.Target == target {
			return p, true
		}
	}
	return migrate.Plan{}, false
}

func (a *App) requireCollection(ctx context.Context, name string) error {
	names, err := a.store.ListCollections(ctx)
	if err != nil {
		return err
	}
	if !slices.Contains(names, name) {
		return fmt.Errorf("collection %q: %w", name, ErrNotFound)
	}
	return nil
}

func (a *App) orchestrator(ctx context.Context) (*reconcile.Orchestrator, error) {
	gen, err := a.generator(ctx)
	if err != nil {
		return nil, err
	}
	policy, err := a.cfg.RetryPolicy()
	if err != nil {
		return nil, err
	}
	opts := []reconcile.Option{
		reconcile.WithPolicy(policy),
		reconcile.WithIDs(a.ids),
		reconcile.WithLogger(a.log.With().Str("component", "reconcile").Logger()),
	}
	if a.pause != nil {
		opts = append(opts, reconcile.WithPause(a.pause))
	}
	return reconcile.New(a.store, gen, opts...), nil
}

func (a *App) generator(ctx context.Context) (generator.Generator, error) {
	a.genMu.Lock()
	defer a.genMu.Unlock()
	if a.gen != nil {
		return a.gen, nil
	}
	if a.cfg.Generator.APIKey == "" {
		return nil, fmt.Errorf("%w: generator api key is not configured", ErrBadRequest)
	}
	g, err := generator.New(ctx, a.cfg.Generator, a.log.With().Str("component", "generator").Logger())
	if err != nil {
		return nil, err
	}
	a.gen = g
	return g, nil
}
