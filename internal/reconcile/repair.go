package reconcile

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/roach88/grimoire/internal/doc"
	"github.com/roach88/grimoire/internal/integrity"
	"github.com/roach88/grimoire/internal/job"
	"github.com/roach88/grimoire/internal/query"
	"github.com/roach88/grimoire/internal/store"
)

// DefaultGroupSize bounds how many entities are repaired at once.
const DefaultGroupSize = 5

// RepairRequest describes one link repair run.
type RepairRequest struct {
	// Entities is the collection holding the links.
	Entities string `json:"entities"`
	// Field is the link field to repair.
	Field string `json:"field"`
	// Target is the collection Field points into.
	Target string `json:"target"`
	// Kind is passed to the generator. Empty means Target.
	Kind   string `json:"kind"`
	Prefix string `json:"prefix"`
	// FoldDiacritics strips accents from generated names before slugging.
	FoldDiacritics bool `json:"fold_diacritics,omitempty"`

	GroupSize int           `json:"group_size"`
	Pause     time.Duration `json:"pause"`
	// MaxCalls caps generator calls for the whole run. Zero means no cap.
	MaxCalls int `json:"max_calls"`
}

func (r RepairRequest) withDefaults() (RepairRequest, error) {
	if r.Field == "" {
		return r, fmt.Errorf("%w: link field is empty", ErrInvalidRequest)
	}
	for _, name := range []string{r.Entities, r.Target} {
		if err := store.CheckCollection(name); err != nil {
			return r, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
		}
	}
	if r.GroupSize < 0 || r.Pause < 0 || r.MaxCalls < 0 {
		return r, fmt.Errorf("%w: negative limits", ErrInvalidRequest)
	}
	if r.GroupSize == 0 {
		r.GroupSize = DefaultGroupSize
	}
	if r.Kind == "" {
		r.Kind = r.Target
	}
	return r, nil
}

// EntityRepair records what happened to one entity.
type EntityRepair struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
	// Resolved maps each dangling value to the identity that replaced it.
	Resolved map[string]string `json:"resolved,omitempty"`
	Dropped  []string          `json:"dropped,omitempty"`
	// Kept lists values left alone because the call budget ran out or
	// the generator failed.
	Kept    []string `json:"kept,omitempty"`
	Updated bool     `json:"updated"`
	Error   string   `json:"error,omitempty"`
}

// RepairReport summarizes a RepairLinks run.
type RepairReport struct {
	RunID           string         `json:"run_id"`
	Field           string         `json:"field"`
	Target          string         `json:"target"`
	Entities        int            `json:"entities"`
	Groups          int            `json:"groups"`
	Resolved        int            `json:"resolved"`
	Dropped         int            `json:"dropped"`
	Updated         int            `json:"updated"`
	Failed          int            `json:"failed"`
	GeneratorCalls  int            `json:"generator_calls"`
	BudgetExhausted bool           `json:"budget_exhausted,omitempty"`
	Repairs         []EntityRepair `json:"repairs"`
}

// RepairLinks resolves dangling values of req.Field. Each dangling value is
// read as a name hint: FetchOrCreate finds or generates the document and
// the link is rewritten to its identity, or removed when nothing is found.
// A value whose generator call fails is kept and the failure recorded on
// its entity.
//
// Entities are processed in groups of GroupSize. A group runs concurrently
// and is awaited before the next starts, with Pause in between. A failing
// entity is recorded in its EntityRepair and does not stop its group.
func (o *Orchestrator) RepairLinks(ctx context.Context, req RepairRequest) (*RepairReport, error) {
	req, err := req.withDefaults()
	if err != nil {
		return nil, err
	}
	if err := o.store.Ping(ctx); err != nil {
		return nil, fmt.Errorf("repair links: %w", err)
	}

	report := &RepairReport{RunID: o.ids.Generate(), Field: req.Field, Target: req.Target, Repairs: []EntityRepair{}}
	log := o.log.With().Str("run_id", report.RunID).Str("field", req.Field).Logger()

	ids, err := store.IDSet(ctx, o.store, req.Target)
	if err != nil {
		return nil, fmt.Errorf("repair links: load %s: %w", req.Target, err)
	}
	live := make(map[string]bool, len(ids))
	for id := range ids {
		live[id.String()] = true
	}

	entities, err := o.store.Find(ctx, req.Entities, query.Exists{Field: req.Field})
	if err != nil {
		return nil, fmt.Errorf("repair links: load %s: %w", req.Entities, err)
	}
	var todo []doc.Document
	var dangling [][]string
	for _, e := range entities {
		if e.ID.IsZero() {
			continue
		}
		var missing []string
		for _, v := range integrity.LinkValues(e.Fields[req.Field]) {
			if !live[v] && !slices.Contains(missing, v) {
				missing = append(missing, v)
			}
		}
		if len(missing) > 0 {
			todo = append(todo, e)
			dangling = append(dangling, missing)
		}
	}
	report.Entities = len(todo)
	report.Repairs = make([]EntityRepair, len(todo))
	if len(todo) == 0 {
		log.Info().Msg("no dangling links")
		return report, nil
	}

	budget := job.NewBudget("repair-links", req.MaxCalls)
	r := &resolver{o: o, req: req, budget: budget, cache: map[string]resolution{}}

	for start := 0; start < len(todo); start += req.GroupSize {
		if start > 0 {
			if err := o.pause(ctx, req.Pause); err != nil {
				return report, fmt.Errorf("repair links: %w", err)
			}
		}
		end := min(start+req.GroupSize, len(todo))
		report.Groups++

		var g errgroup.Group
		g.SetLimit(req.GroupSize)
		for i := start; i < end; i++ {
			g.Go(func() error {
				report.Repairs[i] = o.repairEntity(ctx, r, req.Field, todo[i], dangling[i])
				return nil
			})
		}
		_ = g.Wait()
		log.Debug().Int("group", report.Groups).Int("entities", end-start).Msg("group repaired")
	}

	for _, rep := range report.Repairs {
		report.Resolved += len(rep.Resolved)
		report.Dropped += len(rep.Dropped)
		if rep.Updated {
			report.Updated++
		}
		if rep.Error != "" {
			report.Failed++
		}
	}
	report.GeneratorCalls = budget.Used()
	report.BudgetExhausted = r.exhausted.Load()
	log.Info().
		Int("entities", report.Entities).
		Int("resolved", report.Resolved).
		Int("dropped", report.Dropped).
		Int("failed", report.Failed).
		Msg("link repair finished")
	return report, nil
}

func (o *Orchestrator) repairEntity(ctx context.Context, r *resolver, field string, e doc.Document, missing []string) EntityRepair {
	rep := EntityRepair{ID: e.ID.String()}
	rep.Name, _ = e.Name()

	mapped := map[string]string{}
	for _, hint := range missing {
		res, err := r.resolve(ctx, hint)
		switch {
		case job.IsBudgetExceeded(err):
			r.exhausted.Store(true)
			rep.Kept = append(rep.Kept, hint)
		case errors.Is(err, errGeneratorFailed):
			rep.Kept = append(rep.Kept, hint)
			rep.Error = err.Error()
			o.log.Warn().Err(err).Str("entity", rep.ID).Str("value", hint).Msg("keeping link")
		case err != nil:
			rep.Error = err.Error()
			o.log.Warn().Err(err).Str("entity", rep.ID).Msg("link repair failed")
			return rep
		case res.found:
			mapped[hint] = res.id
		default:
			rep.Dropped = append(rep.Dropped, hint)
		}
	}
	if len(mapped) > 0 {
		rep.Resolved = mapped
	}

	before := e.Fields[field]
	after := uniqueLinks(integrity.MapLinks(before, func(v string) (string, bool) {
		if id, ok := mapped[v]; ok {
			return id, true
		}
		return v, !slices.Contains(rep.Dropped, v)
	}))
	if doc.Equal(before, after) {
		return rep
	}
	fields := e.Fields.Clone()
	fields[field] = after
	if _, err := o.store.ReplaceMany(ctx, r.entities(), []doc.Document{doc.NewDocument(e.ID, fields)}, false); err != nil {
		rep.Error = err.Error()
		o.log.Warn().Err(err).Str("entity", rep.ID).Msg("link repair write failed")
		return rep
	}
	rep.Updated = true
	return rep
}

type resolution struct {
	id    string
	found bool
}

// resolver shares hint lookups across the entities of a run, so concurrent
// entities dangling on the same hint trigger one generator call.
type resolver struct {
	o      *Orchestrator
	req    RepairRequest
	budget *job.Budget

	flight    singleflight.Group
	mu        sync.Mutex
	cache     map[string]resolution
	exhausted atomic.Bool
}

func (r *resolver) entities() string { return r.req.Entities }

func (r *resolver) resolve(ctx context.Context, hint string) (resolution, error) {
	r.mu.Lock()
	res, ok := r.cache[hint]
	r.mu.Unlock()
	if ok {
		return res, nil
	}

	v, err, _ := r.flight.Do(hint, func() (any, error) {
		name := Humanize(hint, r.req.Prefix)
		if name == "" {
			return resolution{}, nil
		}
		id, found, err := r.o.fetchOrCreate(ctx, r.req.Target, r.req.Kind, r.req.Prefix, slugOptions(r.req.FoldDiacritics), name, r.budget)
		if err != nil {
			return nil, err
		}
		res := resolution{id: id.String(), found: found}
		r.mu.Lock()
		r.cache[hint] = res
		r.mu.Unlock()
		return res, nil
	})
	if err != nil {
		return resolution{}, err
	}
	return v.(resolution), nil
}

// Humanize turns a dangling identity into a name hint: prefix is removed
// and underscores become spaces. ObjectIDs carry no name and yield "".
func Humanize(hint, prefix string) string {
	if doc.ParseIdentity(hint).Kind() == doc.ObjectIDKind {
		return ""
	}
	hint = strings.TrimPrefix(hint, prefix)
	return strings.Join(strings.Fields(strings.ReplaceAll(hint, "_", " ")), " ")
}

// uniqueLinks removes repeated identities from every array in v, keeping
// first occurrences. Rewriting two hints to one identity creates them.
func uniqueLinks(v doc.Value) doc.Value {
	switch val := v.(type) {
	case doc.Array:
		out := make(doc.Array, 0, len(val))
		for _, el := range val {
			if !slices.ContainsFunc(out, func(seen doc.Value) bool { return doc.Equal(seen, el) }) {
				out = append(out, uniqueLinks(el))
			}
		}
		return out
	case doc.Object:
		out := make(doc.Object, len(val))
		for k, el := range val {
			out[k] = uniqueLinks(el)
		}
		return out
	default:
		return v
	}
}
