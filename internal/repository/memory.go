package repository

import (
	"context"
	"sync"

	"github.com/mmeshcher/virtual-bank/internal/model"
)

// MemoryStore хранит снимок состояния в памяти процесса. Используется, если DATABASE_URI не задан.
type MemoryStore struct {
	mu    sync.RWMutex
	state *model.State
	saves int
}

// NewMemoryStore создаёт пустое хранилище в памяти.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Load возвращает копию последнего сохранённого снимка.
func (m *MemoryStore) Load(_ context.Context) (*model.State, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.state == nil {
		return nil, ErrSnapshotNotFound
	}
	return m.state.Clone(), nil
}

// Save сохраняет копию снимка.
func (m *MemoryStore) Save(_ context.Context, state *model.State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.state = state.Clone()
	m.saves++
	return nil
}

// Saves возвращает число выполненных сохранений.
func (m *MemoryStore) Saves() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.saves
}

// Close ничего не делает.
func (m *MemoryStore) Close() error {
	return nil
}
