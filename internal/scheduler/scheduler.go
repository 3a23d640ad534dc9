// Package scheduler периодически запускает проверки движков без участия пользователя.
package scheduler

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mmeshcher/virtual-bank/internal/metrics"
)

// Loans — проверки кредитного движка.
type Loans interface {
	CheckAutoRepayment(ctx context.Context, now time.Time) (int, error)
	CheckCreditCrisis(ctx context.Context, now time.Time) (bool, error)
}

// Auctions — проверки движка аукционов.
type Auctions interface {
	CheckSpecialLots(ctx context.Context, now time.Time) (int, error)
	CheckGeneral(ctx context.Context, now time.Time) (bool, error)
}

// Economy — проверки движка экономических событий.
type Economy interface {
	CheckCrimeWave(ctx context.Context, now time.Time) (bool, error)
	ApplyCrimeWave(ctx context.Context, now time.Time) (int, error)
	ApplyDueEvents(ctx context.Context, now time.Time) (int, error)
}

// Bank — проверки хранилища состояния.
type Bank interface {
	MatureDeposits(ctx context.Context, now time.Time) (int, error)
	DynamicEventsEnabled() bool
}

// Market — обновление цен биржи.
type Market interface {
	UpdatePrices(ctx context.Context, now time.Time) error
}

// Intervals задаёт периодичность запуска.
type Intervals struct {
	Tick        time.Duration
	LoanCheck   time.Duration
	PriceUpdate time.Duration
}

// Scheduler выполняет шаги в фиксированном порядке. Ошибка шага не прерывает остальные шаги.
type Scheduler struct {
	loans     Loans
	auctions  Auctions
	economy   Economy
	bank      Bank
	market    Market
	intervals Intervals
	clock     func() time.Time
	logger    *zap.Logger
	metrics   *metrics.Collector

	mu              sync.Mutex
	lastLoanCheck   time.Time
	lastPriceUpdate time.Time
}

// New создаёт планировщик.
func New(loans Loans, auctions Auctions, economy Economy, bank Bank, market Market,
	intervals Intervals, clock func() time.Time, logger *zap.Logger, m *metrics.Collector) *Scheduler {
	if clock == nil {
		clock = time.Now
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		loans:     loans,
		auctions:  auctions,
		economy:   economy,
		bank:      bank,
		market:    market,
		intervals: intervals,
		clock:     clock,
		logger:    logger,
		metrics:   m,
	}
}

func due(last, now time.Time, every time.Duration) bool {
	return last.IsZero() || now.Sub(last) >= every
}

func (s *Scheduler) step(name string, fn func() error) {
	start := time.Now()
	err := fn()
	s.metrics.ObserveStep(name, time.Since(start))
	if err != nil {
		s.logger.Warn("scheduler step failed", zap.String("step", name), zap.Error(err))
	}
}

// Tick выполняет один проход планировщика в момент now.
// Взыскание кредитов выполняется до завершения аукционов. Проходы не пересекаются.
func (s *Scheduler) Tick(ctx context.Context, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	slow := due(s.lastLoanCheck, now, s.intervals.LoanCheck)
	if slow {
		s.lastLoanCheck = now
		s.step("loan_auto_repayment", func() error {
			_, err := s.loans.CheckAutoRepayment(ctx, now)
			return err
		})
	}

	s.step("special_lots", func() error {
		_, err := s.auctions.CheckSpecialLots(ctx, now)
		return err
	})
	s.step("general_auction", func() error {
		_, err := s.auctions.CheckGeneral(ctx, now)
		return err
	})

	if s.bank.DynamicEventsEnabled() {
		s.step("credit_crisis", func() error {
			_, err := s.loans.CheckCreditCrisis(ctx, now)
			return err
		})
		s.step("crime_wave", func() error {
			_, err := s.economy.CheckCrimeWave(ctx, now)
			return err
		})
		if slow {
			s.step("crime_wave_thefts", func() error {
				_, err := s.economy.ApplyCrimeWave(ctx, now)
				return err
			})
		}
	}

	s.step("scheduled_events", func() error {
		_, err := s.economy.ApplyDueEvents(ctx, now)
		return err
	})
	s.step("deposits", func() error {
		_, err := s.bank.MatureDeposits(ctx, now)
		return err
	})

	if due(s.lastPriceUpdate, now, s.intervals.PriceUpdate) {
		s.lastPriceUpdate = now
		s.step("prices", func() error {
			return s.market.UpdatePrices(ctx, now)
		})
	}
}

// Run выполняет Tick с периодом Intervals.Tick до отмены ctx.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info("scheduler started", zap.Duration("tick", s.intervals.Tick))

	ticker := time.NewTicker(s.intervals.Tick)
	defer ticker.Stop()

	s.Tick(ctx, s.clock())
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopped")
			return nil
		case <-ticker.C:
			s.Tick(ctx, s.clock())
		}
	}
}
