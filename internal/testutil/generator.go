package testutil

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/roach88/grimoire/internal/doc"
	"github.com/roach88/grimoire/internal/generator"
	"github.com/roach88/grimoire/internal/query"
)

// FakeGenerator is a scripted generator.Generator.
//
// Batches are returned in order, one per GenerateBatch call; once they run
// out every call returns an empty batch. GenerateOne looks names up in Items
// case-insensitively. Queued Errors are returned, one per call, before any
// scripted result.
//
// Thread-safety: safe for concurrent use.
type FakeGenerator struct {
	mu       sync.Mutex
	batches  [][]generator.Item
	items    map[string]generator.Item
	errs     []error
	failures map[string]error

	delay time.Duration

	batchCalls int
	oneCalls   int
	excluded   [][]string
	requested  []string

	inflight    int
	maxInflight int
}

// NewFakeGenerator creates a generator returning batches in order.
func NewFakeGenerator(batches ...[]generator.Item) *FakeGenerator {
	return &FakeGenerator{batches: batches, items: map[string]generator.Item{}, failures: map[string]error{}}
}

// WithItems registers items for GenerateOne, keyed by their name.
func (g *FakeGenerator) WithItems(items ...generator.Item) *FakeGenerator {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, it := range items {
		if name, ok := generator.ItemName(it); ok {
			g.items[query.Fold(name)] = it
		}
	}
	return g
}

// FailWith queues errors returned by the next calls.
func (g *FakeGenerator) FailWith(errs ...error) *FakeGenerator {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.errs = append(g.errs, errs...)
	return g
}

// FailName makes every GenerateOne for name return err.
func (g *FakeGenerator) FailName(name string, err error) *FakeGenerator {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.failures[query.Fold(name)] = err
	return g
}

// WithDelay makes each call block for d, or until its context ends.
func (g *FakeGenerator) WithDelay(d time.Duration) *FakeGenerator {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.delay = d
	return g
}

// GenerateBatch implements generator.Generator.
func (g *FakeGenerator) GenerateBatch(ctx context.Context, kind string, excluded []string, max int) ([]generator.Item, error) {
	g.mu.Lock()
	g.batchCalls++
	g.excluded = append(g.excluded, slices.Clone(excluded))
	g.mu.Unlock()

	if err := g.enter(ctx); err != nil {
		return nil, err
	}
	defer g.leave()

	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.popError(); err != nil {
		return nil, err
	}
	if len(g.batches) == 0 {
		return []generator.Item{}, nil
	}
	batch := g.batches[0]
	g.batches = g.batches[1:]
	if len(batch) > max {
		batch = batch[:max]
	}
	out := make([]generator.Item, len(batch))
	for i, it := range batch {
		out[i] = it.Clone()
	}
	return out, nil
}

// GenerateOne implements generator.Generator.
func (g *FakeGenerator) GenerateOne(ctx context.Context, kind, name string) (generator.Item, error) {
	g.mu.Lock()
	g.oneCalls++
	g.requested = append(g.requested, name)
	g.mu.Unlock()

	if err := g.enter(ctx); err != nil {
		return nil, err
	}
	defer g.leave()

	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.popError(); err != nil {
		return nil, err
	}
	key := query.Fold(name)
	if err, ok := g.failures[key]; ok {
		return nil, err
	}
	it, ok := g.items[key]
	if !ok {
		return nil, nil
	}
	return it.Clone(), nil
}

func (g *FakeGenerator) popError() error {
	if len(g.errs) == 0 {
		return nil
	}
	err := g.errs[0]
	g.errs = g.errs[1:]
	return err
}

func (g *FakeGenerator) enter(ctx context.Context) error {
	g.mu.Lock()
	g.inflight++
	g.maxInflight = max(g.maxInflight, g.inflight)
	delay := g.delay
	g.mu.Unlock()

	if delay <= 0 {
		return nil
	}
	t := time.NewTimer(delay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		g.leave()
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (g *FakeGenerator) leave() {
	g.mu.Lock()
	g.inflight--
	g.mu.Unlock()
}

// BatchCalls returns how many times GenerateBatch ran.
func (g *FakeGenerator) BatchCalls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.batchCalls
}

// OneCalls returns how many times GenerateOne ran.
func (g *FakeGenerator) OneCalls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.oneCalls
}

// Excluded returns the exclusion list passed to each GenerateBatch call.
func (g *FakeGenerator) Excluded() [][]string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return slices.Clone(g.excluded)
}

// Requested returns the names passed to GenerateOne, in call order.
func (g *FakeGenerator) Requested() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return slices.Clone(g.requested)
}

// MaxInflight returns the highest number of concurrent calls observed.
func (g *FakeGenerator) MaxInflight() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.maxInflight
}

// Items builds generator items from names, for scripting batches.
func Items(names ...string) []generator.Item {
	out := make([]generator.Item, len(names))
	for i, n := range names {
		out[i] = doc.NewObject(doc.O(doc.FieldName, doc.String(n)))
	}
	return out
}
