// Package repository содержит реализации хранилища снимков состояния банка.
package repository

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/mmeshcher/virtual-bank/internal/model"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrSnapshotNotFound возвращается, если снимок состояния ещё не сохранялся.
var ErrSnapshotNotFound = errors.New("snapshot not found")

// pool описывает используемое подмножество *pgxpool.Pool.
type pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// PostgresStore хранит снимок состояния банка в PostgreSQL одной строкой JSONB.
type PostgresStore struct {
	pool   pool
	delays []time.Duration
}

// NewPostgresStore создаёт хранилище и инициализирует схему БД через миграции.
func NewPostgresStore(dsn string) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	p, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := p.Ping(ctx); err != nil {
		p.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := runMigrations(ctx, p); err != nil {
		p.Close()
		return nil, err
	}

	return &PostgresStore{
		pool:   p,
		delays: []time.Duration{1 * time.Second, 3 * time.Second, 5 * time.Second},
	}, nil
}

func runMigrations(ctx context.Context, p *pgxpool.Pool) error {
	db := stdlib.OpenDBFromPool(p)
	defer db.Close()

	goose.SetBaseFS(migrationsFS)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}

func (s *PostgresStore) withRetry(ctx context.Context, fn func() error) error {
	var err error

	for i := 0; i <= len(s.delays); i++ {
		err = fn()
		if err == nil {
			return nil
		}

		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		if !isRetryable(err) || i == len(s.delays) {
			break
		}

		timer := time.NewTimer(s.delays[i])
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return err
}

func isRetryable(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgerrcode.SerializationFailure || pgErr.Code == pgerrcode.DeadlockDetected
	}
	return isConnectionError(err)
}

func isConnectionError(err error) bool {
	// Упрощенная проверка на ошибки соединения
	return strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "broken pipe") ||
		strings.Contains(err.Error(), "connection reset by peer")
}

// Close закрывает пул соединений с БД.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// Load читает сохранённый снимок состояния.
func (s *PostgresStore) Load(ctx context.Context) (*model.State, error) {
	var raw []byte
	err := s.withRetry(ctx, func() error {
		return s.pool.QueryRow(ctx, `SELECT snapshot FROM bank_state WHERE id = 1`).Scan(&raw)
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSnapshotNotFound
		}
		return nil, fmt.Errorf("select snapshot: %w", err)
	}

	state := model.NewState()
	if err := json.Unmarshal(raw, state); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	if state.Accounts == nil {
		state.Accounts = make(map[string]*model.Account)
	}

	return state, nil
}

// Save сохраняет снимок состояния целиком.
func (s *PostgresStore) Save(ctx context.Context, state *model.State) error {
	raw, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}

	err = s.withRetry(ctx, func() error {
		_, err := s.pool.Exec(ctx,
			`INSERT INTO bank_state (id, snapshot, updated_at) VALUES (1, $1, $2)
			 ON CONFLICT (id) DO UPDATE
			 SET snapshot = EXCLUDED.snapshot, version = bank_state.version + 1, updated_at = EXCLUDED.updated_at`,
			raw, state.UpdatedAt,
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}

	return nil
}
