package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/grimoire/internal/doc"
	"github.com/roach88/grimoire/internal/query"
	"github.com/roach88/grimoire/internal/store/memstore"
	"github.com/roach88/grimoire/internal/testutil"
)

func hero(id string, equipment doc.Value) doc.Document {
	return doc.NewDocument(doc.StringID(id), doc.NewObject(
		doc.O("name", doc.String("Hero "+id)),
		doc.O("equipment", equipment),
	))
}

func equipmentOf(t *testing.T, st *memstore.Store, id string) doc.Value {
	t.Helper()
	docs, err := st.Find(context.Background(), "entities", query.ByID(doc.StringID(id)))
	require.NoError(t, err)
	require.Len(t, docs, 1)
	return docs[0].Fields["equipment"]
}

func repairRequest() RepairRequest {
	return RepairRequest{Entities: "entities", Field: "equipment", Target: "equipment", Prefix: "eq_", GroupSize: 2}
}

func TestRepairLinks_ResolvesAndDrops(t *testing.T) {
	st := memstore.New()
	st.Seed("equipment",
		doc.NewDocument(doc.StringID("eq-0042"), doc.NewObject(doc.O("name", doc.String("Shield")))),
		doc.NewDocument(doc.StringID("eq_rope"), doc.NewObject(doc.O("name", doc.String("Rope")))),
	)
	st.Seed("entities",
		hero("h1", doc.Strings("eq_longsword", "eq_gone_item", "eq_rope")),
		hero("h2", doc.NewObject(doc.O("1", doc.Strings("eq_shield")), doc.O("2", doc.Strings("eq_rope")))),
		hero("h3", doc.Strings("eq_rope")),
	)
	gen := testutil.NewFakeGenerator().WithItems(testutil.Items("Longsword")...)
	o := newOrchestrator(st, gen)

	report, err := o.RepairLinks(context.Background(), repairRequest())
	require.NoError(t, err)

	assert.Equal(t, 2, report.Entities)
	assert.Equal(t, 1, report.Groups)
	assert.Equal(t, 2, report.Resolved)
	assert.Equal(t, 1, report.Dropped)
	assert.Equal(t, 2, report.Updated)
	assert.Zero(t, report.Failed)
	assert.Equal(t, 2, report.GeneratorCalls)
	assert.Equal(t, []string{"longsword", "gone item"}, gen.Requested())

	assert.Equal(t, doc.Strings("eq_longsword", "eq_rope"), equipmentOf(t, st, "h1"))
	assert.Equal(t, doc.NewObject(doc.O("1", doc.Strings("eq-0042")), doc.O("2", doc.Strings("eq_rope"))), equipmentOf(t, st, "h2"))
	assert.Equal(t, doc.Strings("eq_rope"), equipmentOf(t, st, "h3"))

	require.Len(t, report.Repairs, 2)
	assert.Equal(t, "h1", report.Repairs[0].ID)
	assert.Equal(t, map[string]string{"eq_longsword": "eq_longsword"}, report.Repairs[0].Resolved)
	assert.Equal(t, []string{"eq_gone_item"}, report.Repairs[0].Dropped)
	assert.Equal(t, map[string]string{"eq_shield": "eq-0042"}, report.Repairs[1].Resolved)
}

func TestRepairLinks_SharedHintGeneratesOnce(t *testing.T) {
	st := memstore.New()
	var heroes []doc.Document
	for i := range 6 {
		heroes = append(heroes, hero(fmt.Sprintf("h%d", i), doc.Strings("eq_lantern")))
	}
	st.Seed("entities", heroes...)
	gen := testutil.NewFakeGenerator().WithItems(testutil.Items("Lantern")...).WithDelay(5 * time.Millisecond)
	o := newOrchestrator(st, gen)

	req := repairRequest()
	req.GroupSize = 3
	report, err := o.RepairLinks(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, 1, gen.OneCalls())
	assert.Equal(t, 6, report.Resolved)
	assert.Equal(t, 2, report.Groups)
	for _, h := range heroes {
		assert.Equal(t, doc.Strings("eq_lantern"), equipmentOf(t, st, h.ID.String()))
	}
}

func TestRepairLinks_BoundsConcurrencyAndPauses(t *testing.T) {
	st := memstore.New()
	var heroes []doc.Document
	for i := range 5 {
		heroes = append(heroes, hero(fmt.Sprintf("h%d", i), doc.Strings(fmt.Sprintf("eq_item_%d", i))))
	}
	st.Seed("entities", heroes...)
	gen := testutil.NewFakeGenerator().WithDelay(10 * time.Millisecond)

	var mu sync.Mutex
	var pauses []time.Duration
	o := newOrchestrator(st, gen, WithPause(func(_ context.Context, d time.Duration) error {
		mu.Lock()
		defer mu.Unlock()
		pauses = append(pauses, d)
		return nil
	}))

	req := repairRequest()
	req.Pause = 250 * time.Millisecond
	report, err := o.RepairLinks(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, 3, report.Groups)
	assert.Equal(t, []time.Duration{250 * time.Millisecond, 250 * time.Millisecond}, pauses)
	assert.LessOrEqual(t, gen.MaxInflight(), 2)
	assert.Equal(t, 5, gen.OneCalls())
	assert.Equal(t, 5, report.Dropped)
}

func TestRepairLinks_FailureDoesNotStopSiblings(t *testing.T) {
	st := memstore.New()
	st.Seed("equipment", doc.NewDocument(doc.StringID("eq-7"), doc.NewObject(doc.O("name", doc.String("Torch")))))
	st.Seed("entities",
		hero("h1", doc.Strings("eq_torch")),
		hero("h2", doc.Strings("eq_torch")),
	)
	var writes atomic.Int32
	st.SetFault(func(op, coll string) error {
		if op == memstore.OpReplace && coll == "entities" && writes.Add(1) == 1 {
			return errors.New("write conflict")
		}
		return nil
	})
	o := newOrchestrator(st, testutil.NewFakeGenerator())

	report, err := o.RepairLinks(context.Background(), repairRequest())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, 1, report.Updated)
}

func TestRepairLinks_Budget(t *testing.T) {
	st := memstore.New()
	st.Seed("entities", hero("h1", doc.Strings("eq_axe", "eq_bow")))
	gen := testutil.NewFakeGenerator().WithItems(testutil.Items("Axe", "Bow")...)
	o := newOrchestrator(st, gen)

	req := repairRequest()
	req.MaxCalls = 1
	report, err := o.RepairLinks(context.Background(), req)
	require.NoError(t, err)

	assert.True(t, report.BudgetExhausted)
	assert.Equal(t, 1, report.GeneratorCalls)
	assert.Equal(t, []string{"eq_bow"}, report.Repairs[0].Kept)
	assert.Equal(t, doc.Strings("eq_axe", "eq_bow"), equipmentOf(t, st, "h1"))
}

func TestRepairLinks_GeneratorOutageKeepsLinks(t *testing.T) {
	st := memstore.New()
	st.Seed("entities",
		hero("h1", doc.Strings("eq_flame_tongue")),
		hero("h2", doc.Strings("eq_lamp", "eq_gone")),
		hero("h3", doc.Strings("eq_flame_tongue")),
	)
	gen := testutil.NewFakeGenerator().
		WithItems(testutil.Items("Lamp")...).
		FailName("flame tongue", transient())
	o := newOrchestrator(st, gen)

	req := repairRequest()
	req.GroupSize = 1
	report, err := o.RepairLinks(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, 2, report.Failed)
	assert.Equal(t, 1, report.Updated)
	assert.Equal(t, 1, report.Dropped)
	assert.False(t, report.BudgetExhausted)
	// Failures are not cached: h3 asks again.
	assert.Equal(t, 8, gen.OneCalls())

	require.Len(t, report.Repairs, 3)
	for _, i := range []int{0, 2} {
		rep := report.Repairs[i]
		assert.Equal(t, []string{"eq_flame_tongue"}, rep.Kept)
		assert.Empty(t, rep.Dropped)
		assert.False(t, rep.Updated)
		assert.Contains(t, rep.Error, "generator failed")
	}
	assert.Equal(t, doc.Strings("eq_flame_tongue"), equipmentOf(t, st, "h1"))
	assert.Equal(t, doc.Strings("eq_flame_tongue"), equipmentOf(t, st, "h3"))
	assert.Equal(t, doc.Strings("eq_lamp"), equipmentOf(t, st, "h2"))
}

func TestFetchOrCreate_TransientOutageIsNotFound(t *testing.T) {
	gen := testutil.NewFakeGenerator().FailName("flame tongue", transient())
	o := newOrchestrator(memstore.New(), gen)

	_, found, err := o.FetchOrCreate(context.Background(), "equipment", "equipment", "eq_", "Flame Tongue")
	require.NoError(t, err)
	assert.False(t, found)
	assert.Equal(t, 3, gen.OneCalls())
}

func TestRepairLinks_PauseCancelled(t *testing.T) {
	st := memstore.New()
	st.Seed("entities", hero("h1", doc.Strings("eq_a")), hero("h2", doc.Strings("eq_b")))
	o := newOrchestrator(st, testutil.NewFakeGenerator(), WithPause(func(context.Context, time.Duration) error {
		return context.Canceled
	}))

	req := repairRequest()
	req.GroupSize = 1
	report, err := o.RepairLinks(context.Background(), req)
	assert.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, report)
	assert.Equal(t, 1, report.Groups)
}

func TestRepairLinks_NothingToDo(t *testing.T) {
	st := memstore.New()
	st.Seed("equipment", doc.NewDocument(doc.StringID("eq_rope"), doc.NewObject(doc.O("name", doc.String("Rope")))))
	st.Seed("entities", hero("h1", doc.Strings("eq_rope")))
	gen := testutil.NewFakeGenerator()
	o := newOrchestrator(st, gen)

	report, err := o.RepairLinks(context.Background(), repairRequest())
	require.NoError(t, err)
	assert.Zero(t, report.Entities)
	assert.Empty(t, report.Repairs)
	assert.Zero(t, gen.OneCalls())
}

func TestRepairLinks_InvalidRequest(t *testing.T) {
	o := newOrchestrator(memstore.New(), testutil.NewFakeGenerator())
	req := repairRequest()
	req.Field = ""
	_, err := o.RepairLinks(context.Background(), req)
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestHumanize(t *testing.T) {
	assert.Equal(t, "bag of holding", Humanize("eq_bag_of_holding", "eq_"))
	assert.Equal(t, "Longsword", Humanize("Longsword", "eq_"))
	assert.Equal(t, "a b", Humanize("__a__b__", ""))
	assert.Empty(t, Humanize("65a1f0c2e4b0a1b2c3d4e5f6", "eq_"))
}
