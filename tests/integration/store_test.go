//go:build integration

// Package integration exercises the Postgres-backed document store against a
// real database started with testcontainers.
package integration

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	pgcontainer "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"cartledger/internal/docstore"
	"cartledger/internal/domain/catalog"
	"cartledger/internal/domain/order"
	"cartledger/internal/ledger"
	"cartledger/internal/postgres"
)

var pool *pgxpool.Pool

func TestMain(m *testing.M) {
	os.Exit(testMain(m))
}

func testMain(m *testing.M) int {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	container, err := pgcontainer.Run(ctx,
		"postgres:16",
		pgcontainer.WithDatabase("cartledger"),
		pgcontainer.WithUsername("cartledger"),
		pgcontainer.WithPassword("cartledger"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	if err != nil {
		log.Fatalf("start postgres container: %v", err)
	}
	defer func() {
		if err := container.Terminate(context.Background()); err != nil {
			log.Printf("terminate container: %v", err)
		}
	}()

	databaseURL, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		log.Fatalf("connection string: %v", err)
	}

	pool, err = postgres.NewPool(ctx, databaseURL)
	if err != nil {
		log.Fatalf("create pool: %v", err)
	}
	defer pool.Close()

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		log.Fatalf("run migrations: %v", err)
	}

	return m.Run()
}

func newStore(t *testing.T) *postgres.Store {
	t.Helper()
	// Each test works in its own collections via unique prefixes instead of
	// truncating shared tables.
	return postgres.NewStore(pool)
}

func collection(t *testing.T, name string) string {
	t.Helper()
	return t.Name() + "/" + name
}

func TestStoreCRUD(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	coll := collection(t, "docs")

	_, err := store.Get(ctx, coll, "missing")
	require.ErrorIs(t, err, docstore.ErrNotFound)

	require.NoError(t, store.Set(ctx, coll, "d1", []byte(`{"n":1}`)))
	body, err := store.Get(ctx, coll, "d1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"n":1}`, string(body))

	require.NoError(t, store.Set(ctx, coll, "d1", []byte(`{"n":2}`)))
	body, err = store.Get(ctx, coll, "d1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"n":2}`, string(body))

	require.NoError(t, store.Set(ctx, coll, "d2", []byte(`{"n":3}`)))
	docs, err := store.List(ctx, coll)
	require.NoError(t, err)
	assert.Len(t, docs, 2)

	require.NoError(t, store.Delete(ctx, coll, "d1"))
	_, err = store.Get(ctx, coll, "d1")
	require.ErrorIs(t, err, docstore.ErrNotFound)

	// Deleting twice is not an error.
	require.NoError(t, store.Delete(ctx, coll, "d1"))
}

func TestTransactionCommit(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	coll := collection(t, "docs")

	err := store.RunTransaction(ctx, func(ctx context.Context, tx docstore.Tx) error {
		if _, err := tx.Get(ctx, coll, "d1"); !errors.Is(err, docstore.ErrNotFound) {
			return err
		}
		tx.Set(coll, "d1", []byte(`{"created":true}`))
		tx.Set(coll, "d2", []byte(`{"created":true}`))
		return nil
	})
	require.NoError(t, err)

	docs, err := store.List(ctx, coll)
	require.NoError(t, err)
	assert.Len(t, docs, 2)
}

func TestTransactionBodyErrorAborts(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	coll := collection(t, "docs")

	sentinel := assert.AnError
	err := store.RunTransaction(ctx, func(ctx context.Context, tx docstore.Tx) error {
		tx.Set(coll, "d1", []byte(`{}`))
		return sentinel
	})
	require.ErrorIs(t, err, sentinel)

	_, err = store.Get(ctx, coll, "d1")
	require.ErrorIs(t, err, docstore.ErrNotFound)
}

func TestTransactionReadsOwnWrites(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	coll := collection(t, "docs")

	err := store.RunTransaction(ctx, func(ctx context.Context, tx docstore.Tx) error {
		tx.Set(coll, "d1", []byte(`{"n":1}`))
		body, err := tx.Get(ctx, coll, "d1")
		if err != nil {
			return err
		}
		assert.JSONEq(t, `{"n":1}`, string(body))

		tx.Delete(coll, "d1")
		_, err = tx.Get(ctx, coll, "d1")
		assert.ErrorIs(t, err, docstore.ErrNotFound)
		return nil
	})
	require.NoError(t, err)
}

type counterDoc struct {
	N int `json:"n"`
}

// TestConcurrentIncrements drives many read-modify-write transactions at one
// document; the final count proves every commit was serialized.
func TestConcurrentIncrements(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	coll := collection(t, "docs")

	require.NoError(t, store.Set(ctx, coll, "counter", []byte(`{"n":0}`)))

	const workers = 4
	var wg sync.WaitGroup
	errs := make([]error, workers)
	for i := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = store.RunTransaction(ctx, func(ctx context.Context, tx docstore.Tx) error {
				body, err := tx.Get(ctx, coll, "counter")
				if err != nil {
					return err
				}
				var doc counterDoc
				if err := json.Unmarshal(body, &doc); err != nil {
					return err
				}
				doc.N++
				next, err := json.Marshal(doc)
				if err != nil {
					return err
				}
				tx.Set(coll, "counter", next)
				return nil
			})
		}()
	}
	wg.Wait()

	committed := 0
	for _, err := range errs {
		if err == nil {
			committed++
			continue
		}
		require.ErrorIs(t, err, docstore.ErrConflict)
	}

	body, err := store.Get(ctx, coll, "counter")
	require.NoError(t, err)
	var doc counterDoc
	require.NoError(t, json.Unmarshal(body, &doc))
	assert.Equal(t, committed, doc.N)
	assert.Positive(t, committed)
}

// TestOrderFlowEndToEnd runs the real order lifecycle against Postgres:
// placement debits stock, rejection restores it, deletion removes the order.
func TestOrderFlowEndToEnd(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)

	seed := catalog.Product{ID: "it-lamp", Name: "Lamp", Price: decimal.NewFromInt(30), Stock: 5}
	body, err := json.Marshal(seed)
	require.NoError(t, err)
	require.NoError(t, store.Set(ctx, catalog.Collection, seed.ID, body))

	svc := order.NewService(store, nil)

	placed, err := svc.PlaceOrder(ctx, order.PlaceOrderRequest{
		Items: []order.CartItem{{ProductID: seed.ID, Quantity: 2}},
	})
	require.NoError(t, err)

	p, err := catalog.NewRepo(store).GetByID(ctx, seed.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, p.Stock)

	_, err = svc.ChangeOrderStatus(ctx, placed.ID, order.StatusRejected)
	require.NoError(t, err)

	p, err = catalog.NewRepo(store).GetByID(ctx, seed.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, p.Stock)

	// Oversell after restore is still rejected.
	_, err = svc.PlaceOrder(ctx, order.PlaceOrderRequest{
		Items: []order.CartItem{{ProductID: seed.ID, Quantity: 6}},
	})
	var short *ledger.InsufficientStockError
	require.ErrorAs(t, err, &short)

	require.NoError(t, svc.DeleteOrder(ctx, placed.ID))
	_, err = order.NewRepo(store).GetByID(ctx, placed.ID)
	require.ErrorIs(t, err, order.ErrNotFound)
}
