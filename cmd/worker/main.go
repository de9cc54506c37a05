package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"orchestrator/internal/adapter/repo"
	"orchestrator/internal/app"
	"orchestrator/internal/domain"
	"orchestrator/internal/infra"
)

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv, "worker")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := infra.NewDBPool(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: db connection failed")
	}
	defer pool.Close()

	jobs := repo.NewJobRepository(pool)
	groups := repo.NewGroupRepository(pool)

	machine, _, err := app.Build(cfg, logger, jobs, groups)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: wiring failed")
	}

	logger.Info().Msg("worker: started")
	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("worker: stopped")
			return
		default:
		}

		if n, err := jobs.ReclaimStale(ctx, cfg.StaleJobReclaim); err != nil {
			if !errors.Is(err, context.Canceled) {
				logger.Error().Err(err).Msg("worker: stale job reclaim failed")
			}
		} else if n > 0 {
			logger.Info().Int("jobs", n).Msg("worker: reclaimed stale jobs")
		}

		job, err := jobs.ClaimPending(ctx)
		if err != nil {
			if !errors.Is(err, domain.ErrNotFound) && !errors.Is(err, context.Canceled) {
				logger.Error().Err(err).Msg("worker: failed to claim job")
			}
			sleep(ctx, cfg.WorkerPollInterval)
			continue
		}

		logger.Info().Str("job_id", job.ID).Msg("worker: picked job")
		if err := machine.Run(ctx, job.ID); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error().Err(err).Str("job_id", job.ID).Msg("worker: run failed")
		}
	}
}

func sleep(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}
