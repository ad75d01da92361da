package testutil

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/grimoire/internal/doc"
)

func TestFakeGenerator_BatchesInOrder(t *testing.T) {
	g := NewFakeGenerator(Items("a", "b", "c"), Items("d"))
	ctx := context.Background()

	first, err := g.GenerateBatch(ctx, "spells", nil, 2)
	require.NoError(t, err)
	assert.Len(t, first, 2)

	second, err := g.GenerateBatch(ctx, "spells", []string{"a", "b"}, 2)
	require.NoError(t, err)
	assert.Len(t, second, 1)

	third, err := g.GenerateBatch(ctx, "spells", nil, 2)
	require.NoError(t, err)
	assert.Empty(t, third)

	assert.Equal(t, 3, g.BatchCalls())
	assert.Equal(t, []string{"a", "b"}, g.Excluded()[1])
}

func TestFakeGenerator_GenerateOne(t *testing.T) {
	g := NewFakeGenerator().WithItems(doc.NewObject(doc.O("name", doc.String("Longsword")), doc.O("cost", doc.Int(15))))
	ctx := context.Background()

	it, err := g.GenerateOne(ctx, "equipment", "LONGSWORD")
	require.NoError(t, err)
	assert.Equal(t, doc.Int(15), it["cost"])

	it, err = g.GenerateOne(ctx, "equipment", "Spoon")
	require.NoError(t, err)
	assert.Nil(t, it)

	assert.Equal(t, []string{"LONGSWORD", "Spoon"}, g.Requested())
}

func TestFakeGenerator_QueuedErrors(t *testing.T) {
	boom := errors.New("boom")
	g := NewFakeGenerator(Items("a")).FailWith(boom).FailName("cursed", boom)
	ctx := context.Background()

	_, err := g.GenerateBatch(ctx, "spells", nil, 5)
	assert.ErrorIs(t, err, boom)
	batch, err := g.GenerateBatch(ctx, "spells", nil, 5)
	require.NoError(t, err)
	assert.Len(t, batch, 1)

	_, err = g.GenerateOne(ctx, "spells", "Cursed")
	assert.ErrorIs(t, err, boom)
}

func TestFakeGenerator_TracksConcurrency(t *testing.T) {
	g := NewFakeGenerator().WithDelay(20 * time.Millisecond)
	var wg sync.WaitGroup
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = g.GenerateOne(context.Background(), "rules", "x")
		}()
	}
	wg.Wait()
	assert.Greater(t, g.MaxInflight(), 1)
	assert.LessOrEqual(t, g.MaxInflight(), 4)
}

func TestFakeGenerator_DelayHonorsContext(t *testing.T) {
	g := NewFakeGenerator().WithDelay(time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := g.GenerateOne(ctx, "rules", "x")
	assert.ErrorIs(t, err, context.Canceled)
}
