package reconcile

import (
	"context"
	"errors"
	"fmt"

	"github.com/roach88/grimoire/internal/doc"
	"github.com/roach88/grimoire/internal/generator"
	"github.com/roach88/grimoire/internal/migrate"
	"github.com/roach88/grimoire/internal/query"
	"github.com/roach88/grimoire/internal/store"
)

// Defaults applied to a zero Request.
const (
	DefaultBatchSize     = 10
	DefaultMaxIterations = 50
)

// State is a step of the reconcile loop.
type State string

const (
	StateIdle     State = "idle"
	StateFetching State = "fetching"
	StateMerging  State = "merging"
	StateDone     State = "done"
	StateFailed   State = "failed"
)

// Request describes one reconcile run.
type Request struct {
	Collection string `json:"collection"`
	// Kind is passed to the generator. Empty means Collection.
	Kind string `json:"kind"`
	// Prefix is prepended to the slug of each generated name.
	Prefix string `json:"prefix"`
	// FoldDiacritics strips accents from names before slugging.
	FoldDiacritics bool `json:"fold_diacritics,omitempty"`
	MaxIterations  int  `json:"max_iterations"`
	BatchSize      int  `json:"batch_size"`
}

// ErrInvalidRequest is returned for requests that cannot run.
var ErrInvalidRequest = errors.New("invalid reconcile request")

func (r Request) withDefaults() (Request, error) {
	if err := store.CheckCollection(r.Collection); err != nil {
		return r, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	if r.MaxIterations < 0 || r.BatchSize < 0 {
		return r, fmt.Errorf("%w: negative limits", ErrInvalidRequest)
	}
	if r.Kind == "" {
		r.Kind = r.Collection
	}
	if r.BatchSize == 0 {
		r.BatchSize = DefaultBatchSize
	}
	if r.MaxIterations == 0 {
		r.MaxIterations = DefaultMaxIterations
	}
	return r, nil
}

// Result summarizes a reconcile run. It is returned alongside an error when
// the generator fails, holding whatever was merged before.
type Result struct {
	RunID      string  `json:"run_id"`
	Collection string  `json:"collection"`
	States     []State `json:"states"`
	// Added counts documents upserted across all iterations.
	Added      int `json:"added"`
	Iterations int `json:"iterations"`
	// FetchCalls counts generator calls including retries.
	FetchCalls int `json:"fetch_calls"`
	// Unnamed counts items dropped for lacking a usable name.
	Unnamed int `json:"unnamed"`
	// Truncated is set when MaxIterations stopped the loop.
	Truncated bool `json:"truncated,omitempty"`
}

// State returns the final state.
func (r *Result) State() State {
	if len(r.States) == 0 {
		return StateIdle
	}
	return r.States[len(r.States)-1]
}

func (r *Result) enter(s State) { r.States = append(r.States, s) }

// Reconcile asks the generator for items missing from the collection until
// it returns an empty batch or MaxIterations is reached. Each item is
// upserted under its canonical identity. A batch repeating known names does
// not end the run.
func (o *Orchestrator) Reconcile(ctx context.Context, req Request) (*Result, error) {
	req, err := req.withDefaults()
	if err != nil {
		return nil, err
	}
	if err := o.store.Ping(ctx); err != nil {
		return nil, fmt.Errorf("reconcile: %w", err)
	}

	res := &Result{RunID: o.ids.Generate(), Collection: req.Collection}
	res.enter(StateIdle)
	log := o.log.With().Str("run_id", res.RunID).Str("collection", req.Collection).Logger()

	stored, err := o.store.Find(ctx, req.Collection, nil, doc.FieldName)
	if err != nil {
		return nil, fmt.Errorf("reconcile: load names: %w", err)
	}
	known := newNameSet()
	for _, d := range stored {
		if name, ok := d.Name(); ok {
			known.add(name)
		}
	}
	log.Debug().Int("known", known.len()).Msg("seeded known names")

	for res.Iterations < req.MaxIterations {
		res.enter(StateFetching)
		var batch []generator.Item
		attempts, err := o.policy.Do(ctx, func(ctx context.Context, _ int) error {
			var gerr error
			batch, gerr = o.gen.GenerateBatch(ctx, req.Kind, known.list(), req.BatchSize)
			return gerr
		})
		res.FetchCalls += attempts.Attempts
		if err != nil {
			res.enter(StateFailed)
			log.Error().Err(err).Int("iteration", res.Iterations+1).Msg("generator failed")
			return res, fmt.Errorf("reconcile %s: iteration %d: %w", req.Collection, res.Iterations+1, err)
		}
		res.Iterations++
		if len(batch) == 0 {
			res.enter(StateDone)
			log.Info().Int("added", res.Added).Int("iterations", res.Iterations).Msg("generator exhausted")
			return res, nil
		}

		res.enter(StateMerging)
		docs, fresh := o.mergeBatch(batch, req.Prefix, slugOptions(req.FoldDiacritics), known, res)
		if len(docs) > 0 {
			if _, err := o.store.ReplaceMany(ctx, req.Collection, docs, true); err != nil {
				res.enter(StateFailed)
				return res, fmt.Errorf("reconcile %s: upsert: %w", req.Collection, err)
			}
			res.Added += len(docs)
		}
		log.Debug().Int("iteration", res.Iterations).Int("batch", len(batch)).Int("upserted", len(docs)).Msg("merged batch")
		if fresh == 0 {
			log.Warn().Int("iteration", res.Iterations).Msg("batch held no new names")
		}
	}

	res.Truncated = true
	res.enter(StateDone)
	log.Warn().Int("max_iterations", req.MaxIterations).Msg("iteration limit reached")
	return res, nil
}

// mergeBatch turns a batch into documents keyed by canonical identity and
// records new names in known. Later items win within a batch.
func (o *Orchestrator) mergeBatch(batch []generator.Item, prefix string, slug []migrate.SlugOption, known *nameSet, res *Result) (docs []doc.Document, fresh int) {
	index := make(map[doc.Identity]int, len(batch))
	for _, it := range batch {
		name, ok := generator.ItemName(it)
		if !ok {
			res.Unnamed++
			continue
		}
		id := migrate.CanonicalID(prefix, name, slug...)
		if id.IsZero() {
			res.Unnamed++
			continue
		}
		fields := it.Clone()
		fields[doc.FieldName] = doc.String(name)
		d := doc.NewDocument(id, fields)
		if i, dup := index[id]; dup {
			docs[i] = d
		} else {
			index[id] = len(docs)
			docs = append(docs, d)
		}
		if known.add(name) {
			fresh++
		}
	}
	return docs, fresh
}

func slugOptions(fold bool) []migrate.SlugOption {
	if fold {
		return []migrate.SlugOption{migrate.FoldDiacritics()}
	}
	return nil
}

// nameSet keeps names in insertion order, de-duplicated under case folding.
type nameSet struct {
	order []string
	seen  map[string]struct{}
}

func newNameSet() *nameSet {
	return &nameSet{seen: map[string]struct{}{}}
}

func (s *nameSet) add(name string) bool {
	key := query.Fold(name)
	if _, ok := s.seen[key]; ok {
		return false
	}
	s.seen[key] = struct{}{}
	s.order = append(s.order, name)
	return true
}

func (s *nameSet) list() []string { return append([]string(nil), s.order...) }

func (s *nameSet) len() int { return len(s.order) }
