// Package ledger реализует хранилище состояния банка с единой точкой изменения.
//
// Все изменения выполняются через Update: состояние копируется, функция изменения
// применяется к копии, копия сохраняется целиком и только затем становится текущей.
// Читатели получают неизменяемый снимок без блокировок.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mmeshcher/virtual-bank/internal/metrics"
	"github.com/mmeshcher/virtual-bank/internal/model"
	"github.com/mmeshcher/virtual-bank/internal/repository"
)

// ErrNoChange возвращается функцией изменения, если изменять нечего. Update отбрасывает копию и возвращает nil.
var ErrNoChange = errors.New("no change")

// Persister описывает хранилище снимков состояния.
type Persister interface {
	Load(ctx context.Context) (*model.State, error)
	Save(ctx context.Context, state *model.State) error
}

// Notifier получает уведомления после успешной фиксации изменения.
type Notifier interface {
	Publish(ctx context.Context, events []model.NotificationEvent)
}

// Option настраивает Ledger.
type Option func(*Ledger)

// WithClock задаёт источник текущего времени.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) {
		l.now = now
	}
}

// WithMetrics подключает сбор метрик.
func WithMetrics(m *metrics.Collector) Option {
	return func(l *Ledger) {
		l.metrics = m
	}
}

// WithIDGenerator задаёт генератор идентификаторов записей.
func WithIDGenerator(newID func() string) Option {
	return func(l *Ledger) {
		l.newID = newID
	}
}

// Ledger — единственный владелец состояния банка.
type Ledger struct {
	mu       sync.Mutex
	state    atomic.Pointer[model.State]
	store    Persister
	notifier Notifier
	logger   *zap.Logger
	metrics  *metrics.Collector
	now      func() time.Time
	newID    func() string
}

// New загружает последний снимок из хранилища или создаёт пустое состояние.
func New(ctx context.Context, store Persister, notifier Notifier, logger *zap.Logger, opts ...Option) (*Ledger, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	l := &Ledger{
		store:    store,
		notifier: notifier,
		logger:   logger,
		now:      time.Now,
		newID:    uuid.NewString,
	}
	for _, opt := range opts {
		opt(l)
	}

	state, err := store.Load(ctx)
	if err != nil {
		if !errors.Is(err, repository.ErrSnapshotNotFound) {
			return nil, fmt.Errorf("load state: %w", err)
		}
		state = model.NewState()
		logger.Info("starting with empty state")
	}
	l.state.Store(state)
	l.metrics.SetAccounts(len(state.Accounts))

	return l, nil
}

// Now возвращает текущее время по часам хранилища.
func (l *Ledger) Now() time.Time {
	return l.now()
}

// Update применяет fn к копии состояния в момент Now.
func (l *Ledger) Update(ctx context.Context, fn func(tx *Tx) error) error {
	return l.UpdateAt(ctx, l.now(), fn)
}

// UpdateAt применяет fn к копии состояния в момент now, сохраняет снимок и делает его текущим.
// Если fn или сохранение завершились ошибкой, текущее состояние не меняется.
// Уведомления публикуются после снятия блокировки.
func (l *Ledger) UpdateAt(ctx context.Context, now time.Time, fn func(tx *Tx) error) error {
	tx, err := l.commit(ctx, now, fn)
	if err != nil {
		if errors.Is(err, ErrNoChange) {
			return nil
		}
		return err
	}

	l.metrics.SetAccounts(len(tx.state.Accounts))
	if l.notifier != nil && len(tx.events) > 0 {
		l.notifier.Publish(ctx, tx.events)
	}
	return nil
}

// commit выполняет изменение под блокировкой. Паника внутри fn снимает блокировку.
func (l *Ledger) commit(ctx context.Context, now time.Time, fn func(tx *Tx) error) (*Tx, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	tx := &Tx{
		state: l.state.Load().Clone(),
		now:   now,
		newID: l.newID,
	}

	if err := fn(tx); err != nil {
		return nil, err
	}

	tx.state.UpdatedAt = now

	start := time.Now()
	err := l.store.Save(ctx, tx.state)
	l.metrics.ObserveCommit(time.Since(start), err)
	if err != nil {
		l.logger.Error("persist state failed", zap.Error(err))
		return nil, fmt.Errorf("persist state: %w", err)
	}

	l.state.Store(tx.state)
	return tx, nil
}

// View вызывает fn с текущим снимком. Снимок нельзя изменять.
func (l *Ledger) View(fn func(state *model.State)) {
	fn(l.state.Load())
}

// Snapshot возвращает глубокую копию текущего состояния.
func (l *Ledger) Snapshot() *model.State {
	return l.state.Load().Clone()
}

// Account возвращает копию счёта.
func (l *Ledger) Account(id string) (*model.Account, error) {
	acc, ok := l.state.Load().Accounts[id]
	if !ok {
		return nil, model.ErrAccountNotFound
	}
	return acc.Clone(), nil
}

// Accounts возвращает копии всех счетов в порядке идентификаторов.
func (l *Ledger) Accounts() []*model.Account {
	state := l.state.Load()
	out := make([]*model.Account, 0, len(state.Accounts))
	for _, id := range state.AccountIDs() {
		out = append(out, state.Accounts[id].Clone())
	}
	return out
}

// Mutate атомарно изменяет один счёт и возвращает его новое состояние.
func (l *Ledger) Mutate(ctx context.Context, id string, fn func(acc *model.Account) error) (*model.Account, error) {
	var out *model.Account
	err := l.Update(ctx, func(tx *Tx) error {
		acc, err := tx.Account(id)
		if err != nil {
			return err
		}
		if err := fn(acc); err != nil {
			return err
		}
		out = acc.Clone()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// DynamicEventsEnabled сообщает, включены ли динамические экономические проверки.
func (l *Ledger) DynamicEventsEnabled() bool {
	return l.state.Load().Economy.DynamicEvents
}
