package reconcile

import (
	"context"
	"errors"
	"testing"

	"github.com/alvmarrod/bechdel-mirror/internal/memory"
	"github.com/alvmarrod/bechdel-mirror/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func insert(year, count int) storage.YearCountMutation {
	return storage.YearCountMutation{Kind: storage.MutationInsert, Year: year, Count: count}
}

func update(year, count, previous int) storage.YearCountMutation {
	return storage.YearCountMutation{Kind: storage.MutationUpdate, Year: year, Count: count, Previous: previous}
}

func TestReconcile(t *testing.T) {
	tests := []struct {
		name      string
		scraped   []storage.YearCount
		persisted MapLookup
		mutations []storage.YearCountMutation
		stale     []int
	}{
		{
			name:      "new year is inserted",
			scraped:   []storage.YearCount{{Year: 2020, Count: 18}},
			persisted: MapLookup{},
			mutations: []storage.YearCountMutation{insert(2020, 18)},
			stale:     []int{2020},
		},
		{
			name:      "changed count is updated",
			scraped:   []storage.YearCount{{Year: 2020, Count: 20}},
			persisted: MapLookup{2020: 18},
			mutations: []storage.YearCountMutation{update(2020, 20, 18)},
			stale:     []int{2020},
		},
		{
			name:      "equal count is a no-op",
			scraped:   []storage.YearCount{{Year: 2020, Count: 18}},
			persisted: MapLookup{2020: 18},
			mutations: []storage.YearCountMutation{},
			stale:     []int{},
		},
		{
			name:      "empty input",
			scraped:   nil,
			persisted: MapLookup{2020: 18},
			mutations: []storage.YearCountMutation{},
			stale:     []int{},
		},
		{
			name: "order follows the scraped input",
			scraped: []storage.YearCount{
				{Year: 2021, Count: 3},
				{Year: 1999, Count: 40},
				{Year: 2020, Count: 18},
				{Year: 1950, Count: 0},
			},
			persisted: MapLookup{1999: 39, 2020: 18},
			mutations: []storage.YearCountMutation{
				insert(2021, 3),
				update(1999, 40, 39),
				insert(1950, 0),
			},
			stale: []int{2021, 1999, 1950},
		},
		{
			name: "repeated year is planned once with its last count",
			scraped: []storage.YearCount{
				{Year: 2020, Count: 18},
				{Year: 1990, Count: 4},
				{Year: 2020, Count: 19},
			},
			persisted: MapLookup{1990: 4},
			mutations: []storage.YearCountMutation{insert(2020, 19)},
			stale:     []int{2020},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plan, err := Reconcile(context.Background(), tt.scraped, tt.persisted)
			require.NoError(t, err)
			assert.Equal(t, tt.mutations, plan.Mutations)
			assert.Equal(t, tt.stale, plan.Stale)
		})
	}
}

func TestReconcileIsDeterministic(t *testing.T) {
	scraped := []storage.YearCount{{Year: 2020, Count: 20}, {Year: 2019, Count: 5}}
	persisted := MapLookup{2020: 18}

	first, err := Reconcile(context.Background(), scraped, persisted)
	require.NoError(t, err)
	second, err := Reconcile(context.Background(), scraped, persisted)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, MapLookup{2020: 18}, persisted, "lookup must not be mutated")
}

func TestApplyThenReconcileIsEmpty(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	require.NoError(t, store.InsertYearCount(ctx, 2020, 18))
	require.NoError(t, store.InsertYearCount(ctx, 1930, 2))

	scraped := []storage.YearCount{
		{Year: 2020, Count: 20},
		{Year: 2021, Count: 1},
		{Year: 1930, Count: 2},
		{Year: 2021, Count: 2},
	}

	plan, err := Reconcile(ctx, scraped, store)
	require.NoError(t, err)
	require.False(t, plan.Empty())

	inserted, updated, unchanged := plan.Summary()
	assert.Equal(t, 1, inserted)
	assert.Equal(t, 1, updated)
	assert.Equal(t, 1, unchanged)
	assert.Equal(t, 1, plan.Duplicates)
	assert.Equal(t, []int{2020, 2021}, plan.Stale)

	require.NoError(t, Apply(ctx, store, plan))

	count, found, err := store.GetCount(ctx, 2021)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, 2, count)

	again, err := Reconcile(ctx, scraped, store)
	require.NoError(t, err)
	assert.True(t, again.Empty())
	assert.Empty(t, again.Stale)
}

func TestReconcileLookupFailure(t *testing.T) {
	store := memory.NewStore()
	cause := errors.New("database is locked")
	store.FailLookups = cause

	plan, err := Reconcile(context.Background(), []storage.YearCount{{Year: 2020, Count: 1}}, store)
	require.Error(t, err)
	assert.Nil(t, plan)

	assert.ErrorIs(t, err, ErrPersistenceUnavailable)
	assert.ErrorIs(t, err, cause)

	var lookupErr *LookupError
	require.ErrorAs(t, err, &lookupErr)
	assert.Equal(t, 2020, lookupErr.Year)
}

func TestReconcileEmptyInputSkipsLookups(t *testing.T) {
	store := memory.NewStore()
	store.FailLookups = errors.New("unreachable")

	plan, err := Reconcile(context.Background(), nil, store)
	require.NoError(t, err)
	assert.True(t, plan.Empty())
}

func TestReconcileRejectsNegativeCount(t *testing.T) {
	_, err := Reconcile(context.Background(), []storage.YearCount{{Year: 2020, Count: -1}}, MapLookup{})
	require.ErrorIs(t, err, ErrInvalidCount)
}

type failingMutator struct{ err error }

func (f failingMutator) ApplyYearCounts(context.Context, []storage.YearCountMutation) error {
	return f.err
}

func TestApplyPropagatesStoreErrors(t *testing.T) {
	plan := &Plan{Mutations: []storage.YearCountMutation{insert(2020, 1)}, Stale: []int{2020}}
	cause := errors.New("constraint violation")

	err := Apply(context.Background(), failingMutator{err: cause}, plan)
	require.ErrorIs(t, err, cause)

	require.NoError(t, Apply(context.Background(), failingMutator{err: cause}, &Plan{}))
}
