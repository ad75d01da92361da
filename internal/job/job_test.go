package job

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/grimoire/internal/store/memstore"
)

func TestUUIDv7Generator(t *testing.T) {
	g := UUIDv7Generator{}
	a, b := g.Generate(), g.Generate()
	assert.NotEqual(t, a, b)

	parsed, err := uuid.Parse(a)
	require.NoError(t, err)
	assert.Equal(t, uuid.Version(7), parsed.Version())
}

func TestFixedGenerator(t *testing.T) {
	g := NewFixedGenerator("run-1", "run-2")
	assert.Equal(t, "run-1", g.Generate())
	assert.Equal(t, "run-2", g.Generate())
	assert.Equal(t, "run-2", g.Generate())

	assert.Equal(t, "run-fixed", NewFixedGenerator().Generate())
}

func TestBudget(t *testing.T) {
	b := NewBudget("reconcile", 2)
	require.NoError(t, b.Spend())
	require.NoError(t, b.Spend())

	err := b.Spend()
	require.Error(t, err)
	assert.True(t, IsBudgetExceeded(err))
	assert.Equal(t, 2, b.Used())
	assert.Contains(t, err.Error(), "reconcile")
}

func TestBudgetUnlimited(t *testing.T) {
	b := NewBudget("repair", 0)
	for range 100 {
		require.NoError(t, b.Spend())
	}
	assert.Equal(t, 100, b.Used())
}

func TestBudgetConcurrent(t *testing.T) {
	b := NewBudget("repair", 50)
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		refused int
	)
	for range 80 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := b.Spend(); err != nil {
				mu.Lock()
				refused++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 50, b.Used())
	assert.Equal(t, 30, refused)
}

func fixedTime() time.Time { return time.Date(2024, 5, 1, 9, 30, 0, 0, time.UTC) }

func TestTrackerLifecycle(t *testing.T) {
	ctx := context.Background()
	tr := NewTracker(WithIDs(NewFixedGenerator("run-1", "run-2")), WithClock(fixedTime))

	run := tr.Start(ctx, KindBackup)
	assert.Equal(t, "run-1", run.ID)
	assert.Equal(t, StateRunning, run.State)

	tr.Finish(ctx, run, map[string]int{"documents": 3}, nil)
	failed := tr.Start(ctx, KindRestore)
	tr.Finish(ctx, failed, nil, errors.New("store unavailable"))

	runs, err := tr.Runs(ctx)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, KindBackup, runs[0].Kind)
	assert.Equal(t, StateSucceeded, runs[0].State)
	assert.JSONEq(t, `{"documents":3}`, string(runs[0].Summary))
	assert.Equal(t, KindRestore, runs[1].Kind)
	assert.Equal(t, StateFailed, runs[1].State)
	assert.Equal(t, "store unavailable", runs[1].Error)
}

func TestTrackerPersists(t *testing.T) {
	ctx := context.Background()
	s := memstore.New()

	first := NewTracker(WithStore(s), WithIDs(NewFixedGenerator("run-a")), WithClock(fixedTime))
	run := first.Start(ctx, KindScan)
	first.Finish(ctx, run, map[string]any{"orphans": []string{"e9"}}, nil)

	second := NewTracker(WithStore(s))
	runs, err := second.Runs(ctx)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "run-a", runs[0].ID)
	assert.Equal(t, KindScan, runs[0].Kind)
	assert.True(t, fixedTime().Equal(runs[0].StartedAt))

	var summary map[string][]string
	require.NoError(t, json.Unmarshal(runs[0].Summary, &summary))
	assert.Equal(t, []string{"e9"}, summary["orphans"])

	n, err := s.CountDocuments(ctx, StatusCollection, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestTrackerSurvivesStoreFailure(t *testing.T) {
	ctx := context.Background()
	s := memstore.New()
	require.NoError(t, s.Close())

	tr := NewTracker(WithStore(s), WithIDs(NewFixedGenerator("run-x")))
	run := tr.Start(ctx, KindNormalize)
	tr.Finish(ctx, run, nil, nil)
	assert.Equal(t, StateSucceeded, run.State)

	_, err := tr.Runs(ctx)
	assert.Error(t, err)
}
