// Package main запускает HTTP-сервер и планировщик виртуального банка.
package main

import (
	"context"
	"fmt"
	"math/rand/v2"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mmeshcher/virtual-bank/internal/auction"
	"github.com/mmeshcher/virtual-bank/internal/config"
	"github.com/mmeshcher/virtual-bank/internal/economy"
	"github.com/mmeshcher/virtual-bank/internal/exchange"
	"github.com/mmeshcher/virtual-bank/internal/handler"
	"github.com/mmeshcher/virtual-bank/internal/ledger"
	"github.com/mmeshcher/virtual-bank/internal/loan"
	"github.com/mmeshcher/virtual-bank/internal/metrics"
	"github.com/mmeshcher/virtual-bank/internal/middleware"
	"github.com/mmeshcher/virtual-bank/internal/notify"
	"github.com/mmeshcher/virtual-bank/internal/repository"
	"github.com/mmeshcher/virtual-bank/internal/scheduler"
	"github.com/mmeshcher/virtual-bank/internal/service"
)

type snapshotStore interface {
	ledger.Persister
	Close() error
}

func newLogger(level string) (*zap.Logger, error) {
	if level == "debug" {
		return zap.NewDevelopment()
	}
	cfg := zap.NewProductionConfig()
	if err := cfg.Level.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("parse log level: %w", err)
	}
	return cfg.Build()
}

func newStore(cfg *config.Config, logger *zap.Logger) (snapshotStore, error) {
	if cfg.DatabaseURI == "" {
		logger.Warn("DATABASE_URI is empty, state is kept in memory only")
		return repository.NewMemoryStore(), nil
	}
	return repository.NewPostgresStore(cfg.DatabaseURI)
}

func newPublisher(cfg *config.Config, logger *zap.Logger) (notify.Publisher, error) {
	if cfg.AMQPURL == "" {
		return notify.NewLogPublisher(logger), nil
	}
	return notify.NewAMQPPublisher(cfg.AMQPURL, cfg.AMQPExchange)
}

func main() {
	cfg, err := config.Parse()
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger initialization error: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	sugar := logger.Sugar()

	store, err := newStore(cfg, logger)
	if err != nil {
		sugar.Fatalw("storage initialization error", "error", err.Error())
	}
	defer store.Close()

	m := metrics.NewCollector()

	publisher, err := newPublisher(cfg, logger)
	if err != nil {
		sugar.Fatalw("notification publisher initialization error", "error", err.Error())
	}
	dispatcher, err := notify.NewDispatcher(publisher, cfg.NotifyWorkers, logger, m)
	if err != nil {
		sugar.Fatalw("notification dispatcher initialization error", "error", err.Error())
	}
	defer dispatcher.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	l, err := ledger.New(ctx, store, dispatcher, logger, ledger.WithMetrics(m))
	if err != nil {
		sugar.Fatalw("ledger initialization error", "error", err.Error())
	}

	auctions := auction.New(l, logger)
	loans := loan.New(l, logger)
	events := economy.New(l, logger, economy.WithMetrics(m))
	market := exchange.New(l, rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())), m)

	sched := scheduler.New(loans, auctions, events, l, market, scheduler.Intervals{
		Tick:        cfg.TickInterval,
		LoanCheck:   cfg.LoanCheckInterval,
		PriceUpdate: cfg.PriceUpdateInterval,
	}, l.Now, logger, m)

	svc := service.NewService(service.Engines{
		Ledger:   l,
		Auctions: auctions,
		Loans:    loans,
		Economy:  events,
		Exchange: market,
		Ticker:   sched,
	}, logger, m)

	if err := svc.Bootstrap(ctx, cfg.AdminPassword); err != nil {
		sugar.Fatalw("bootstrap error", "error", err.Error())
	}

	authMiddleware := middleware.NewAuthMiddleware(cfg.AuthSecret)
	h := handler.NewHandler(svc, logger, authMiddleware, m.Handler())

	server := &http.Server{
		Addr:              cfg.RunAddress,
		Handler:           h.SetupRouter(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return sched.Run(ctx)
	})

	g.Go(func() error {
		sugar.Infow("starting virtual bank server", "addr", cfg.RunAddress)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	// Graceful shutdown при отмене контекста (сигнал или ошибка в другой горутине)
	g.Go(func() error {
		<-ctx.Done()
		sugar.Info("shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
		sugar.Info("server stopped gracefully")
		return nil
	})

	if err := g.Wait(); err != nil {
		sugar.Fatalw("application terminated with error", "error", err)
	}
}
