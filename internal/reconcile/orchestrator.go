package reconcile

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/roach88/grimoire/internal/doc"
	"github.com/roach88/grimoire/internal/generator"
	"github.com/roach88/grimoire/internal/job"
	"github.com/roach88/grimoire/internal/migrate"
	"github.com/roach88/grimoire/internal/query"
	"github.com/roach88/grimoire/internal/retry"
	"github.com/roach88/grimoire/internal/store"
)

// Orchestrator drives a generator against a store.
type Orchestrator struct {
	store  store.Store
	gen    generator.Generator
	policy retry.Policy
	ids    job.IDGenerator
	log    zerolog.Logger
	pause  func(ctx context.Context, d time.Duration) error
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithPolicy sets the retry policy for generator calls. A policy without a
// Retryable predicate retries transient generator errors only.
func WithPolicy(p retry.Policy) Option {
	return func(o *Orchestrator) { o.policy = p }
}

// WithIDs sets the run ID generator.
func WithIDs(g job.IDGenerator) Option {
	return func(o *Orchestrator) { o.ids = g }
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(o *Orchestrator) { o.log = l }
}

// WithPause replaces the wait between repair groups.
func WithPause(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(o *Orchestrator) { o.pause = fn }
}

// New returns an Orchestrator over st and gen.
func New(st store.Store, gen generator.Generator, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:  st,
		gen:    gen,
		policy: retry.DefaultPolicy(),
		ids:    job.UUIDv7Generator{},
		log:    zerolog.Nop(),
		pause:  wait,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.policy.Retryable == nil {
		o.policy.Retryable = generator.IsTransient
	}
	if o.policy.OnRetry == nil {
		log := o.log
		o.policy.OnRetry = func(attempt int, delay time.Duration, err error) {
			log.Warn().Err(err).Int("attempt", attempt).Dur("delay", delay).Msg("generator call failed; retrying")
		}
	}
	return o
}

// errGeneratorFailed marks a generator call that failed after retries.
var errGeneratorFailed = errors.New("generator failed")

// FetchOrCreate returns the identity of the document in collection whose
// name matches name case-insensitively. When none exists, one item is
// generated, stored under its canonical identity and that identity
// returned. found is false when the generator has nothing for name or
// fails; only store failures are errors.
func (o *Orchestrator) FetchOrCreate(ctx context.Context, collection, kind, prefix, name string) (id doc.Identity, found bool, err error) {
	if err := store.CheckCollection(collection); err != nil {
		return doc.Identity{}, false, fmt.Errorf("fetch or create: %w", err)
	}
	id, found, err = o.fetchOrCreate(ctx, collection, kind, prefix, nil, name, nil)
	if errors.Is(err, errGeneratorFailed) {
		o.log.Warn().Err(err).Str("collection", collection).Str("name", name).Msg("treating as not found")
		return doc.Identity{}, false, nil
	}
	return id, found, err
}

// fetchOrCreate is FetchOrCreate with a call budget. A generator failure is
// returned wrapped in errGeneratorFailed.
func (o *Orchestrator) fetchOrCreate(ctx context.Context, collection, kind, prefix string, slug []migrate.SlugOption, name string, budget *job.Budget) (doc.Identity, bool, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return doc.Identity{}, false, nil
	}
	log := o.log.With().Str("collection", collection).Str("name", name).Logger()

	existing, err := o.store.Find(ctx, collection, query.ByName(name))
	if err != nil {
		return doc.Identity{}, false, fmt.Errorf("lookup %q in %s: %w", name, collection, err)
	}
	for _, d := range existing {
		if !d.ID.IsZero() {
			return d.ID, true, nil
		}
	}

	var item generator.Item
	_, err = o.policy.Do(ctx, func(ctx context.Context, _ int) error {
		if budget != nil {
			if err := budget.Spend(); err != nil {
				return err
			}
		}
		var gerr error
		item, gerr = o.gen.GenerateOne(ctx, kind, name)
		return gerr
	})
	switch {
	case job.IsBudgetExceeded(err):
		return doc.Identity{}, false, err
	case err != nil:
		return doc.Identity{}, false, fmt.Errorf("%w for %q: %w", errGeneratorFailed, name, err)
	case item == nil:
		log.Debug().Msg("generator has no item")
		return doc.Identity{}, false, nil
	}

	itemName, ok := generator.ItemName(item)
	if !ok {
		itemName = name
	}
	id := migrate.CanonicalID(prefix, itemName, slug...)
	if id.IsZero() {
		log.Warn().Str("item_name", itemName).Msg("generated item has no usable name")
		return doc.Identity{}, false, nil
	}
	item = item.Clone()
	item[doc.FieldName] = doc.String(itemName)
	if _, err := o.store.ReplaceMany(ctx, collection, []doc.Document{doc.NewDocument(id, item)}, true); err != nil {
		return doc.Identity{}, false, fmt.Errorf("store generated %q: %w", itemName, err)
	}
	log.Info().Str("id", id.String()).Msg("generated missing document")
	return id, true, nil
}

func wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
