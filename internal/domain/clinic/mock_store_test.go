package clinic

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cian/agenda/internal/platform/store"
)

// memStore is an in-memory store.Store with sequential keys.
type memStore struct {
	mu     sync.Mutex
	tables map[string][]store.Record
	seq    int
	// insertErr, when set, is returned by Insert and Upsert.
	insertErr error
	fetchErr  error
	// fetchDelay stalls FetchAll without watching the context, like the
	// file backend does.
	fetchDelay time.Duration
}

func newMemStore() *memStore {
	return &memStore{tables: map[string][]store.Record{}}
}

func (m *memStore) FetchAll(_ context.Context, table string) ([]store.Record, error) {
	if m.fetchDelay > 0 && table == store.Appointments {
		time.Sleep(m.fetchDelay)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fetchErr != nil {
		return nil, m.fetchErr
	}
	out := make([]store.Record, 0, len(m.tables[table]))
	for _, r := range m.tables[table] {
		out = append(out, r.Clone())
	}
	return out, nil
}

func (m *memStore) Insert(_ context.Context, table string, rec store.Record) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.insertErr != nil {
		return "", m.insertErr
	}
	return m.insertLocked(table, rec), nil
}

func (m *memStore) insertLocked(table string, rec store.Record) string {
	r := rec.Clone()
	if r["id"] == "" {
		m.seq++
		r["id"] = fmt.Sprintf("%s-%d", table[:3], m.seq)
	}
	m.tables[table] = append(m.tables[table], r)
	return r["id"]
}

func (m *memStore) Upsert(_ context.Context, table string, rec store.Record, pk string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.insertErr != nil {
		return "", m.insertErr
	}
	if pk == "" {
		pk = store.DefaultPK
	}
	key := rec[pk]
	if key != "" {
		for _, r := range m.tables[table] {
			if r[pk] == key {
				for k, v := range rec {
					r[k] = v
				}
				return key, nil
			}
		}
	}
	return m.insertLocked(table, rec), nil
}

func (m *memStore) Delete(_ context.Context, table, pkValue, pk string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rows := m.tables[table][:0]
	for _, r := range m.tables[table] {
		if r[pk] != pkValue {
			rows = append(rows, r)
		}
	}
	m.tables[table] = rows
	return nil
}

func (m *memStore) Backend() string { return "memory" }
func (m *memStore) Close()          {}

func (m *memStore) rows(table string) []store.Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tables[table]
}

var errBackendDown = errors.New("backend down")
