package docstore

import (
	"context"
	"sync"
)

type memRecord struct {
	body    []byte
	version uint64
}

// Memory is an in-process Store used by tests and local development. It
// implements the same optimistic concurrency contract as the production
// backend: versions recorded at read time are validated at commit.
type Memory struct {
	mu   sync.Mutex
	docs map[string]memRecord

	hook        func(attempt int)
	maxAttempts int
}

var _ Store = (*Memory)(nil)

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		docs:        make(map[string]memRecord),
		maxAttempts: DefaultMaxAttempts,
	}
}

// SetCommitHook installs fn to run after each transaction body returns and
// before its staged writes are validated. Tests use it to mutate the store
// between read and commit, forcing deterministic conflicts.
func (m *Memory) SetCommitHook(fn func(attempt int)) {
	m.hook = fn
}

func key(collection, id string) string {
	return collection + "/" + id
}

// Get returns a copy of the document body.
func (m *Memory) Get(_ context.Context, collection, id string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.docs[key(collection, id)]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), rec.body...), nil
}

// Set writes the document unconditionally, bumping its version.
func (m *Memory) Set(_ context.Context, collection, id string, body []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := key(collection, id)
	rec := m.docs[k]
	m.docs[k] = memRecord{
		body:    append([]byte(nil), body...),
		version: rec.version + 1,
	}
	return nil
}

// Delete removes the document. Deleting an absent document is not an error.
func (m *Memory) Delete(_ context.Context, collection, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.docs, key(collection, id))
	return nil
}

// List returns a copy of every document in the collection, keyed by id.
func (m *Memory) List(_ context.Context, collection string) (map[string][]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	prefix := collection + "/"
	out := make(map[string][]byte)
	for k, rec := range m.docs {
		if len(k) > len(prefix) && k[:len(prefix)] == prefix {
			out[k[len(prefix):]] = append([]byte(nil), rec.body...)
		}
	}
	return out, nil
}

// RunTransaction implements the optimistic retry loop against the in-memory
// document map.
func (m *Memory) RunTransaction(ctx context.Context, fn TxFunc) error {
	for attempt := 1; attempt <= m.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		tx := &memTx{store: m, reads: make(map[string]uint64)}
		if err := fn(ctx, tx); err != nil {
			return err
		}

		if m.hook != nil {
			m.hook(attempt)
		}

		if m.commit(tx) {
			return nil
		}
	}
	return ErrConflict
}

// commit validates recorded read versions and applies staged writes under a
// single lock acquisition. Returns false on conflict.
func (m *Memory) commit(tx *memTx) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	for k, ver := range tx.reads {
		if m.docs[k].version != ver {
			return false
		}
	}
	for _, w := range tx.writes {
		if w.delete {
			delete(m.docs, w.key)
			continue
		}
		rec := m.docs[w.key]
		m.docs[w.key] = memRecord{
			body:    append([]byte(nil), w.body...),
			version: rec.version + 1,
		}
	}
	return true
}

type stagedWrite struct {
	key    string
	body   []byte
	delete bool
}

// memTx tracks read versions and staged writes for one transaction attempt.
// A version of zero records a read of an absent document, so a concurrent
// insert of that document is detected as a conflict.
type memTx struct {
	store  *Memory
	reads  map[string]uint64
	writes []stagedWrite
}

func (t *memTx) Get(_ context.Context, collection, id string) ([]byte, error) {
	// Reads observe earlier staged writes within the same transaction.
	k := key(collection, id)
	for i := len(t.writes) - 1; i >= 0; i-- {
		if t.writes[i].key == k {
			if t.writes[i].delete {
				return nil, ErrNotFound
			}
			return append([]byte(nil), t.writes[i].body...), nil
		}
	}

	t.store.mu.Lock()
	rec, ok := t.store.docs[k]
	t.store.mu.Unlock()

	if _, seen := t.reads[k]; !seen {
		t.reads[k] = rec.version
	}
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), rec.body...), nil
}

func (t *memTx) Set(collection, id string, body []byte) {
	t.writes = append(t.writes, stagedWrite{
		key:  key(collection, id),
		body: append([]byte(nil), body...),
	})
}

func (t *memTx) Delete(collection, id string) {
	t.writes = append(t.writes, stagedWrite{key: key(collection, id), delete: true})
}
