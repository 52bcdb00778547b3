package docstore

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemory_GetSetDelete(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	_, err := m.Get(ctx, "products", "p1")
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, m.Set(ctx, "products", "p1", []byte(`{"id":"p1"}`)))

	body, err := m.Get(ctx, "products", "p1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"p1"}`, string(body))

	require.NoError(t, m.Delete(ctx, "products", "p1"))
	_, err = m.Get(ctx, "products", "p1")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestMemory_ListScopedToCollection(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	require.NoError(t, m.Set(ctx, "products", "p1", []byte(`1`)))
	require.NoError(t, m.Set(ctx, "products", "p2", []byte(`2`)))
	require.NoError(t, m.Set(ctx, "orders", "o1", []byte(`3`)))

	docs, err := m.List(ctx, "products")
	require.NoError(t, err)
	assert.Len(t, docs, 2)
	assert.Contains(t, docs, "p1")
	assert.Contains(t, docs, "p2")
}

func TestMemory_TransactionCommits(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	require.NoError(t, m.Set(ctx, "products", "p1", []byte(`{"stock":5}`)))

	err := m.RunTransaction(ctx, func(ctx context.Context, tx Tx) error {
		if _, err := tx.Get(ctx, "products", "p1"); err != nil {
			return err
		}
		tx.Set("products", "p1", []byte(`{"stock":4}`))
		tx.Set("orders", "o1", []byte(`{"id":"o1"}`))
		return nil
	})
	require.NoError(t, err)

	body, err := m.Get(ctx, "products", "p1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"stock":4}`, string(body))

	_, err = m.Get(ctx, "orders", "o1")
	require.NoError(t, err)
}

func TestMemory_TransactionBodyErrorAborts(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	require.NoError(t, m.Set(ctx, "products", "p1", []byte(`{"stock":5}`)))

	bodyErr := assert.AnError
	calls := 0
	err := m.RunTransaction(ctx, func(ctx context.Context, tx Tx) error {
		calls++
		tx.Set("products", "p1", []byte(`{"stock":0}`))
		return bodyErr
	})
	require.ErrorIs(t, err, bodyErr)
	assert.Equal(t, 1, calls, "body errors must not be retried")

	body, err := m.Get(ctx, "products", "p1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"stock":5}`, string(body), "no partial application")
}

func TestMemory_ConflictRetriesWithFreshReads(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	require.NoError(t, m.Set(ctx, "products", "p1", []byte(`1`)))

	// First attempt: a concurrent writer bumps p1 between read and commit.
	m.SetCommitHook(func(attempt int) {
		if attempt == 1 {
			require.NoError(t, m.Set(ctx, "products", "p1", []byte(`2`)))
		}
	})

	var seen []string
	err := m.RunTransaction(ctx, func(ctx context.Context, tx Tx) error {
		body, err := tx.Get(ctx, "products", "p1")
		if err != nil {
			return err
		}
		seen = append(seen, string(body))
		tx.Set("products", "p1", []byte(`3`))
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "2"}, seen, "retry must observe the fresh value")

	body, err := m.Get(ctx, "products", "p1")
	require.NoError(t, err)
	assert.Equal(t, "3", string(body))
}

func TestMemory_ConflictBudgetExhausted(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	require.NoError(t, m.Set(ctx, "products", "p1", []byte(`1`)))

	// Every attempt loses the race.
	m.SetCommitHook(func(int) {
		require.NoError(t, m.Set(ctx, "products", "p1", []byte(`x`)))
	})

	err := m.RunTransaction(ctx, func(ctx context.Context, tx Tx) error {
		_, err := tx.Get(ctx, "products", "p1")
		if err != nil {
			return err
		}
		tx.Set("products", "p1", []byte(`y`))
		return nil
	})
	require.ErrorIs(t, err, ErrConflict)
}

func TestMemory_AbsentReadConflictsWithConcurrentInsert(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	m.SetCommitHook(func(attempt int) {
		if attempt == 1 {
			require.NoError(t, m.Set(ctx, "coupons", "SAVE10", []byte(`{}`)))
		}
	})

	attempts := 0
	err := m.RunTransaction(ctx, func(ctx context.Context, tx Tx) error {
		attempts++
		_, err := tx.Get(ctx, "coupons", "SAVE10")
		if attempts == 1 {
			require.ErrorIs(t, err, ErrNotFound)
		} else {
			require.NoError(t, err)
		}
		tx.Set("orders", "o1", []byte(`{}`))
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, attempts)
}

func TestMemory_ReadsSeeOwnStagedWrites(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	err := m.RunTransaction(ctx, func(ctx context.Context, tx Tx) error {
		tx.Set("products", "p1", []byte(`1`))
		body, err := tx.Get(ctx, "products", "p1")
		require.NoError(t, err)
		assert.Equal(t, "1", string(body))

		tx.Delete("products", "p1")
		_, err = tx.Get(ctx, "products", "p1")
		assert.ErrorIs(t, err, ErrNotFound)
		return nil
	})
	require.NoError(t, err)
}

func TestMemory_ConcurrentIncrementsDoNotLoseUpdates(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	require.NoError(t, m.Set(ctx, "counters", "c", []byte(`0`)))

	const workers = 4
	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			// Retry around the bounded budget: contention here is artificial
			// and much higher than the store's default tolerates.
			for {
				err := m.RunTransaction(ctx, func(ctx context.Context, tx Tx) error {
					body, err := tx.Get(ctx, "counters", "c")
					if err != nil {
						return err
					}
					tx.Set("counters", "c", []byte(string(body)+"+"))
					return nil
				})
				if err == nil {
					return
				}
			}
		}()
	}
	wg.Wait()

	body, err := m.Get(ctx, "counters", "c")
	require.NoError(t, err)
	assert.Len(t, string(body), 1+workers)
}
