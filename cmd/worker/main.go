// Package main - точка входа для фоновых процессов (Worker) движка очков.
//
// Worker отвечает за периодические задачи:
// - Сверка кешированных сумм с журналом начислений
// - Перестроение рангового индекса в Redis
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/bonkcomputer/points-engine/config"
	"github.com/bonkcomputer/points-engine/internal/app"
	"github.com/bonkcomputer/points-engine/internal/infrastructure/scheduler"
	"github.com/bonkcomputer/points-engine/internal/infrastructure/scheduler/jobs"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer stop()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "fatal error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	// ─────────────────────────────────────────────────────────────────────────
	// 1. ЗАГРУЗКА КОНФИГУРАЦИИ
	// ─────────────────────────────────────────────────────────────────────────
	cfg, err := config.LoadFile(".env")
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if !cfg.Scheduler.Enabled {
		return errors.New("scheduler is disabled (SCHEDULER_ENABLED=false)")
	}
	if cfg.Store.Driver == config.StoreDriverMemory {
		return errors.New("worker needs a shared store, STORE_DRIVER=memory is not supported")
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 2. СБОРКА ДВИЖКА
	// Каталог сидирует сервер, worker его не трогает.
	// ─────────────────────────────────────────────────────────────────────────
	cfg.Engine.SeedCatalog = false
	a, err := app.New(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to build engine: %w", err)
	}
	defer a.Close()

	log := a.Slog.With("component", "worker")
	log.Info("starting points engine worker",
		"env", cfg.App.Environment,
		"redis", a.Index != nil,
	)

	// ─────────────────────────────────────────────────────────────────────────
	// 3. РЕГИСТРАЦИЯ ЗАДАЧ
	// ─────────────────────────────────────────────────────────────────────────
	sched := scheduler.New(scheduler.Config{Logger: a.Slog})

	reconcile := jobs.NewReconcileLedgerJob(a.Store, a.Commands.Reconcile, a.Slog, jobs.ReconcileLedgerConfig{
		PageSize:    cfg.Scheduler.ReconcilePageSize,
		Concurrency: cfg.Scheduler.ReconcileConcurrency,
		Timeout:     cfg.Scheduler.JobTimeout,
	})
	if err := sched.Register(reconcile, scheduler.Every(cfg.Scheduler.ReconcileInterval)); err != nil {
		return fmt.Errorf("register %s: %w", reconcile.Name(), err)
	}

	if a.Index != nil {
		rebuild := jobs.NewRebuildRankIndexJob(a.Store, a.Index, a.Slog, cfg.Scheduler.JobTimeout)
		schedule := scheduler.Every(cfg.Scheduler.RankRebuildInterval).Immediately()
		if err := sched.Register(rebuild, schedule); err != nil {
			return fmt.Errorf("register %s: %w", rebuild.Name(), err)
		}
	} else {
		log.Info("redis disabled, rank index rebuild not scheduled")
	}

	sched.OnJobComplete(func(r scheduler.JobResult) {
		if !r.Success {
			log.Warn("job failed", "job", r.JobName, "error", r.Error, "duration", r.Duration)
		}
	})

	// ─────────────────────────────────────────────────────────────────────────
	// 4. ЗАПУСК И GRACEFUL SHUTDOWN
	// ─────────────────────────────────────────────────────────────────────────
	if err := sched.Start(ctx); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}
	for _, j := range sched.ListJobs() {
		log.Info("job scheduled", "job", j.Name, "schedule", j.Schedule, "next_run", j.NextRun)
	}

	<-ctx.Done()
	log.Info("received shutdown signal, stopping scheduler")

	if err := sched.Stop(); err != nil {
		return fmt.Errorf("failed to stop scheduler: %w", err)
	}
	log.Info("shutdown completed successfully")
	return nil
}
