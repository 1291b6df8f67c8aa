// Package cratestore provides storage backends for crate rows.
package cratestore

import (
	"context"
	"sync"

	"github.com/cockroachdb/errors"

	"github.com/osa030/cratebox/internal/domain/crate"
	"github.com/osa030/cratebox/internal/infra/config"
)

// Store keeps crate rows in insertion order.
type Store interface {
	Add(ctx context.Context, row crate.Row) error
	// Remove deletes the row at index i. Out-of-range indices are ignored.
	Remove(ctx context.Context, i int) error
	Clear(ctx context.Context) error
	List(ctx context.Context) ([]crate.Row, error)
	Close() error
}

// New creates the store selected by cfg.
func New(ctx context.Context, cfg config.CrateConfig) (Store, error) {
	switch cfg.Backend {
	case "memory", "":
		return NewMemory(), nil
	case "redis":
		return NewRedis(ctx, RedisConfig{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Key:      cfg.Redis.Key,
		})
	default:
		return nil, errors.Newf("unsupported crate backend: %s", cfg.Backend)
	}
}

// Memory is an in-process Store.
type Memory struct {
	mu   sync.RWMutex
	rows []crate.Row
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) Add(_ context.Context, row crate.Row) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows = append(m.rows, row)
	return nil
}

func (m *Memory) Remove(_ context.Context, i int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if i < 0 || i >= len(m.rows) {
		return nil
	}
	rows := make([]crate.Row, 0, len(m.rows)-1)
	rows = append(rows, m.rows[:i]...)
	m.rows = append(rows, m.rows[i+1:]...)
	return nil
}

func (m *Memory) Clear(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows = nil
	return nil
}

func (m *Memory) List(_ context.Context) ([]crate.Row, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]crate.Row{}, m.rows...), nil
}

func (m *Memory) Close() error {
	return nil
}
