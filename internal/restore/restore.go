package restore

import (
	"context"
	"fmt"
	"slices"

	"github.com/rs/zerolog"

	"github.com/roach88/grimoire/internal/archive"
	"github.com/roach88/grimoire/internal/doc"
	"github.com/roach88/grimoire/internal/job"
	"github.com/roach88/grimoire/internal/store"
)

// Engine restores archives into a store.
type Engine struct {
	store store.Store
	ids   job.IDGenerator
	log   zerolog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(e *Engine) { e.log = l }
}

// WithIDs sets the run ID generator.
func WithIDs(g job.IDGenerator) Option {
	return func(e *Engine) { e.ids = g }
}

// New returns an Engine over st.
func New(st store.Store, opts ...Option) *Engine {
	e := &Engine{store: st, ids: job.UUIDv7Generator{}, log: zerolog.Nop()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Options controls one restore.
type Options struct {
	Mode Mode
	// Collections restricts the restore to these names. Empty means all.
	Collections []string
}

func (o Options) wants(name string) bool {
	return len(o.Collections) == 0 || slices.Contains(o.Collections, name)
}

// Restore applies a to the store. The primary collection goes first, then
// aggregate collections in name order.
func (e *Engine) Restore(ctx context.Context, a *archive.Archive, opts Options) (*Report, error) {
	if err := e.store.Ping(ctx); err != nil {
		return nil, fmt.Errorf("restore: %w", err)
	}

	report := &Report{RunID: e.ids.Generate(), Mode: opts.Mode, Legacy: a.Legacy}
	log := e.log.With().Str("run_id", report.RunID).Stringer("mode", opts.Mode).Logger()

	for _, p := range a.Problems {
		log.Warn().Err(p).Msg("archive member skipped")
		report.Problems = append(report.Problems, p.Error())
	}

	var plan []*archive.Collection
	if a.Primary != nil {
		plan = append(plan, a.Primary)
	}
	for _, name := range a.Names() {
		if a.Primary != nil && name == a.Primary.Name {
			log.Warn().Str("collection", name).Msg("aggregate member shadows the primary collection; skipping")
			report.Problems = append(report.Problems, fmt.Sprintf("%s: duplicate of primary member", name))
			continue
		}
		plan = append(plan, a.Collections[name])
	}

	for _, coll := range plan {
		if !opts.wants(coll.Name) {
			report.Skipped = append(report.Skipped, coll.Name)
			continue
		}
		cr, err := e.restoreCollection(ctx, coll, opts.Mode, report)
		report.Collections = append(report.Collections, cr)
		if err != nil {
			log.Error().Err(err).Str("collection", coll.Name).Msg("restore aborted")
			return report, &RestoreError{Collection: coll.Name, Report: report, Err: err}
		}
		log.Info().
			Str("collection", coll.Name).
			Int("deleted", cr.Deleted).
			Int("applied", cr.Applied()).
			Int("failed", cr.Failed).
			Msg("collection restored")
	}

	totals := report.Totals()
	log.Info().
		Int("collections", len(report.Collections)).
		Int("applied", totals.Applied()).
		Int("failed", totals.Failed).
		Msg("restore complete")
	return report, nil
}

func (e *Engine) restoreCollection(ctx context.Context, coll *archive.Collection, mode Mode, report *Report) (CollectionReport, error) {
	cr := CollectionReport{Collection: coll.Name, Layout: coll.Layout.String()}

	if mode == Full {
		deleted, err := e.store.DeleteMany(ctx, coll.Name, nil)
		if err != nil {
			return cr, err
		}
		cr.Deleted = deleted
	}

	docs, problems := coll.Documents()
	docs, dupes := dedupe(docs)
	for _, id := range dupes {
		problems = append(problems, &doc.ConversionError{
			Collection: coll.Name, Key: id.String(), Reason: "identity repeated in archive; last copy kept",
		})
	}
	cr.Failed = len(problems)
	for _, p := range problems {
		e.log.Warn().Err(p).Str("collection", coll.Name).Msg("document skipped")
		report.Problems = append(report.Problems, p.Error())
	}
	for _, s := range coll.StrayIdentities() {
		e.log.Warn().Str("collection", coll.Name).Str("entry", s).Msg("stray identity field dropped")
		report.Problems = append(report.Problems, s)
	}
	if len(docs) == 0 {
		return cr, nil
	}

	if mode == Full {
		inserted, err := e.store.InsertMany(ctx, coll.Name, docs)
		cr.Inserted = inserted
		return cr, err
	}

	var keyed, anonymous []doc.Document
	for _, d := range docs {
		if d.ID.IsZero() {
			anonymous = append(anonymous, d)
		} else {
			keyed = append(keyed, d)
		}
	}
	if len(keyed) > 0 {
		res, err := e.store.ReplaceMany(ctx, coll.Name, keyed, true)
		cr.Matched, cr.Modified, cr.Upserted = res.Matched, res.Modified, res.Upserted
		if err != nil {
			return cr, err
		}
	}
	if len(anonymous) > 0 {
		inserted, err := e.store.InsertMany(ctx, coll.Name, anonymous)
		cr.Inserted = inserted
		if err != nil {
			return cr, err
		}
	}
	return cr, nil
}

// dedupe keeps the last document for each identity, preserving the order of
// the survivors. Identity-less documents are always kept.
func dedupe(docs []doc.Document) ([]doc.Document, []doc.Identity) {
	last := make(map[doc.Identity]int, len(docs))
	for i, d := range docs {
		if !d.ID.IsZero() {
			last[d.ID] = i
		}
	}
	if len(last) == len(doc.IDs(docs)) {
		return docs, nil
	}
	out := make([]doc.Document, 0, len(last))
	var dupes []doc.Identity
	for i, d := range docs {
		if !d.ID.IsZero() && last[d.ID] != i {
			dupes = append(dupes, d.ID)
			continue
		}
		out = append(out, d)
	}
	return out, dupes
}
