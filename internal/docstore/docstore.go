// Package docstore defines the document store contract used by the order
// and catalog subsystems.
//
// The store is schema-less: documents are opaque JSON bodies addressed by
// (collection, id). Besides plain reads and writes it offers a transactional
// unit of work with optimistic concurrency: the transaction body reads a
// snapshot, stages writes, and the store commits only if none of the read
// documents changed in the meantime. On conflict the whole body is
// re-executed with fresh reads, up to a bounded number of attempts.
package docstore

import (
	"context"

	"github.com/go-faster/errors"
)

var (
	// ErrNotFound is returned when a document does not exist.
	ErrNotFound = errors.New("document not found")

	// ErrConflict is returned by RunTransaction after the retry budget is
	// exhausted. Callers should treat it as transient and offer a retry.
	ErrConflict = errors.New("transaction conflict")

	// ErrUnavailable tags store I/O failures: an unreachable or refusing
	// database rather than a fault in the request. Callers should surface it
	// as a transient outage.
	ErrUnavailable = errors.New("store unavailable")
)

// DefaultMaxAttempts bounds transaction re-execution under contention.
const DefaultMaxAttempts = 5

// Tx is the view of the store inside a transaction body. Get records the
// version of every document it reads (including reads of absent documents);
// Set and Delete stage writes that are applied atomically at commit, and only
// if all recorded versions are still current.
type Tx interface {
	Get(ctx context.Context, collection, id string) ([]byte, error)
	Set(collection, id string, body []byte)
	Delete(collection, id string)
}

// TxFunc is a transaction body. It must be safe to re-execute: any state it
// mutates outside the transaction has to be reset at the top of the function.
type TxFunc func(ctx context.Context, tx Tx) error

// Store is the document store client. Implementations: postgres.Store for
// production, Memory for tests.
type Store interface {
	Get(ctx context.Context, collection, id string) ([]byte, error)
	Set(ctx context.Context, collection, id string, body []byte) error
	Delete(ctx context.Context, collection, id string) error
	List(ctx context.Context, collection string) (map[string][]byte, error)

	// RunTransaction executes fn, retrying on write conflicts. A non-nil
	// error from fn aborts the transaction immediately without retries and
	// is returned unchanged.
	RunTransaction(ctx context.Context, fn TxFunc) error
}
