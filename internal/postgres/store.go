// Package postgres implements the document store on PostgreSQL. Documents
// live in a single table keyed by (collection, id) with a JSONB body and a
// version counter; transactions run under SERIALIZABLE isolation with
// version-checked writes and a bounded retry loop.
package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	pgxdecimal "github.com/jackc/pgx-shopspring-decimal"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"cartledger/db"
	"cartledger/internal/docstore"
)

// NewPool creates a pgxpool.Pool configured with shopspring/decimal support
// for NUMERIC columns.
func NewPool(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, errors.Wrap(err, "parsing database config")
	}

	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		pgxdecimal.Register(conn.TypeMap())
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, errors.Wrap(err, "creating connection pool")
	}

	return pool, nil
}

// RunMigrations applies the embedded goose migrations against the pool.
func RunMigrations(ctx context.Context, pool *pgxpool.Pool) error {
	goose.SetBaseFS(db.Migrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return errors.Wrap(err, "setting goose dialect")
	}

	sqlDB := stdlib.OpenDBFromPool(pool)
	defer func() { _ = sqlDB.Close() }()

	if err := goose.UpContext(ctx, sqlDB, "migrations"); err != nil {
		return errors.Wrap(err, "running migrations")
	}
	return nil
}

// Store implements docstore.Store on a pgx connection pool.
type Store struct {
	pool        *pgxpool.Pool
	maxAttempts int
}

var _ docstore.Store = (*Store)(nil)

// NewStore returns a Store backed by the given pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool, maxAttempts: docstore.DefaultMaxAttempts}
}

// unavailable tags a transport failure with docstore.ErrUnavailable so the
// edge can distinguish a database outage from a fault in the request.
func unavailable(err error) error {
	return fmt.Errorf("%w: %w", docstore.ErrUnavailable, err)
}

// Get returns a document body, or docstore.ErrNotFound.
func (s *Store) Get(ctx context.Context, collection, id string) ([]byte, error) {
	var body []byte
	err := s.pool.QueryRow(ctx,
		`SELECT body FROM documents WHERE collection = $1 AND id = $2`,
		collection, id,
	).Scan(&body)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, docstore.ErrNotFound
		}
		return nil, unavailable(errors.Wrapf(err, "get %s/%s", collection, id))
	}
	return body, nil
}

// Set writes the document unconditionally, bumping its version.
func (s *Store) Set(ctx context.Context, collection, id string, body []byte) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO documents (collection, id, body)
		VALUES ($1, $2, $3)
		ON CONFLICT (collection, id) DO UPDATE
		SET body = EXCLUDED.body, version = documents.version + 1, updated_at = now()`,
		collection, id, body,
	)
	if err != nil {
		return unavailable(errors.Wrapf(err, "set %s/%s", collection, id))
	}
	return nil
}

// Delete removes the document. Deleting an absent document is not an error.
func (s *Store) Delete(ctx context.Context, collection, id string) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM documents WHERE collection = $1 AND id = $2`,
		collection, id,
	)
	if err != nil {
		return unavailable(errors.Wrapf(err, "delete %s/%s", collection, id))
	}
	return nil
}

// List returns every document in the collection, keyed by id.
func (s *Store) List(ctx context.Context, collection string) (map[string][]byte, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, body FROM documents WHERE collection = $1`,
		collection,
	)
	if err != nil {
		return nil, unavailable(errors.Wrapf(err, "list %s", collection))
	}
	defer rows.Close()

	out := make(map[string][]byte)
	for rows.Next() {
		var (
			id   string
			body []byte
		)
		if err := rows.Scan(&id, &body); err != nil {
			return nil, unavailable(errors.Wrapf(err, "scan %s", collection))
		}
		out[id] = body
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable(errors.Wrapf(err, "list %s", collection))
	}
	return out, nil
}

// RunTransaction implements the optimistic retry loop. Each attempt runs the
// body against a SERIALIZABLE snapshot, then flushes staged writes with
// version checks. Serialization failures and version mismatches roll the
// attempt back and re-execute the body with fresh reads.
func (s *Store) RunTransaction(ctx context.Context, fn docstore.TxFunc) error {
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		conflicted, err := s.attempt(ctx, fn)
		if err != nil {
			return err
		}
		if !conflicted {
			return nil
		}
	}
	return docstore.ErrConflict
}

// attempt runs one transaction try. It returns (true, nil) when the attempt
// lost a race and should be retried, and passes body errors through verbatim.
func (s *Store) attempt(ctx context.Context, fn docstore.TxFunc) (conflicted bool, err error) {
	pgtx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return false, unavailable(errors.Wrap(err, "begin transaction"))
	}
	defer func() { _ = pgtx.Rollback(ctx) }()

	tx := &docTx{pgtx: pgtx, reads: make(map[[2]string]int64)}
	if err := fn(ctx, tx); err != nil {
		return false, err
	}

	if err := tx.flush(ctx); err != nil {
		if isConflict(err) {
			return true, nil
		}
		return false, err
	}

	if err := pgtx.Commit(ctx); err != nil {
		if isConflict(err) {
			return true, nil
		}
		return false, unavailable(errors.Wrap(err, "commit transaction"))
	}
	return false, nil
}

// errStaleVersion marks a version-checked write that matched zero rows.
var errStaleVersion = errors.New("stale document version")

// isConflict reports whether err is a lost optimistic race rather than a
// hard failure. Covers our own version checks plus the SQLSTATEs Postgres
// raises for serialization failures, deadlocks, and racing inserts.
func isConflict(err error) bool {
	if errors.Is(err, errStaleVersion) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01", "23505":
			return true
		}
	}
	return false
}

type docWrite struct {
	collection string
	id         string
	body       []byte
	delete     bool
}

// docTx is one transaction attempt. Reads record the document version seen
// (zero for absent documents); writes are buffered and flushed with version
// guards after the body returns.
type docTx struct {
	pgtx   pgx.Tx
	reads  map[[2]string]int64
	writes []docWrite
}

var _ docstore.Tx = (*docTx)(nil)

func (t *docTx) Get(ctx context.Context, collection, id string) ([]byte, error) {
	// Reads observe earlier staged writes within the same transaction.
	for i := len(t.writes) - 1; i >= 0; i-- {
		w := t.writes[i]
		if w.collection == collection && w.id == id {
			if w.delete {
				return nil, docstore.ErrNotFound
			}
			return w.body, nil
		}
	}

	var (
		body    []byte
		version int64
	)
	err := t.pgtx.QueryRow(ctx,
		`SELECT body, version FROM documents WHERE collection = $1 AND id = $2`,
		collection, id,
	).Scan(&body, &version)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, unavailable(errors.Wrapf(err, "get %s/%s", collection, id))
	}

	k := [2]string{collection, id}
	if _, seen := t.reads[k]; !seen {
		t.reads[k] = version
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, docstore.ErrNotFound
	}
	return body, nil
}

func (t *docTx) Set(collection, id string, body []byte) {
	t.writes = append(t.writes, docWrite{collection: collection, id: id, body: body})
}

func (t *docTx) Delete(collection, id string) {
	t.writes = append(t.writes, docWrite{collection: collection, id: id, delete: true})
}

// flush applies staged writes in order. Documents read at a known version get
// version-guarded statements; zero matched rows means a concurrent commit won
// and the attempt must retry.
func (t *docTx) flush(ctx context.Context) error {
	for _, w := range t.writes {
		version, read := t.reads[[2]string{w.collection, w.id}]

		var (
			tag pgconn.CommandTag
			err error
		)
		switch {
		case w.delete:
			tag, err = t.pgtx.Exec(ctx,
				`DELETE FROM documents WHERE collection = $1 AND id = $2`,
				w.collection, w.id,
			)
			if err == nil && read && version > 0 && tag.RowsAffected() == 0 {
				err = errStaleVersion
			}

		case read && version == 0:
			// Read as absent: the insert must not clobber a racing one.
			tag, err = t.pgtx.Exec(ctx, `
				INSERT INTO documents (collection, id, body)
				VALUES ($1, $2, $3)
				ON CONFLICT (collection, id) DO NOTHING`,
				w.collection, w.id, w.body,
			)
			if err == nil && tag.RowsAffected() == 0 {
				err = errStaleVersion
			}
			// Later writes to the same document in this attempt are updates.
			t.reads[[2]string{w.collection, w.id}] = 1

		case read:
			tag, err = t.pgtx.Exec(ctx, `
				UPDATE documents
				SET body = $3, version = version + 1, updated_at = now()
				WHERE collection = $1 AND id = $2 AND version = $4`,
				w.collection, w.id, w.body, version,
			)
			if err == nil && tag.RowsAffected() == 0 {
				err = errStaleVersion
			}
			t.reads[[2]string{w.collection, w.id}] = version + 1

		default:
			// Blind write, no prior read in this transaction.
			_, err = t.pgtx.Exec(ctx, `
				INSERT INTO documents (collection, id, body)
				VALUES ($1, $2, $3)
				ON CONFLICT (collection, id) DO UPDATE
				SET body = EXCLUDED.body, version = documents.version + 1, updated_at = now()`,
				w.collection, w.id, w.body,
			)
		}
		if err != nil {
			if errors.Is(err, errStaleVersion) || isConflict(err) {
				return err
			}
			return unavailable(errors.Wrapf(err, "flush %s/%s", w.collection, w.id))
		}
	}
	return nil
}
