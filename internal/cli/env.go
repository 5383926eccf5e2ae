// README: Shared setup for CLI commands: config, logger, database pool and services.
package cli

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"tourdispatch/internal/config"
	"tourdispatch/internal/infra"
	"tourdispatch/internal/modules/demand"
	"tourdispatch/internal/modules/fleet"
	"tourdispatch/internal/modules/tour"
)

type env struct {
	cfg *config.Config
	db  *pgxpool.Pool
}

func openEnv(ctx context.Context) (*env, error) {
	cfg, err := config.Load(".")
	if err != nil {
		return nil, err
	}
	if err := infra.InitLogger(cfg.Environment, cfg.LogLevel); err != nil {
		return nil, err
	}
	db, err := infra.NewDB(ctx, cfg.DB.DSN)
	if err != nil {
		return nil, err
	}
	return &env{cfg: cfg, db: db}, nil
}

func (e *env) Close() {
	e.db.Close()
	infra.SyncLogger()
}

func (e *env) demands() *demand.Service {
	s := e.cfg.Scoring
	scorer := demand.NewScorer(demand.Weights{
		Age:                 s.AgeWeight,
		Deadline:            s.DeadlineWeight,
		Quantity:            s.QuantityWeight,
		AgeHorizonDays:      s.AgeHorizonDays,
		DeadlineHorizonDays: s.DeadlineHorizonDays,
		QuantitySaturation:  s.QuantitySaturation,
		NoDeadlineDays:      s.NoDeadlineDays,
	})
	m := e.cfg.Maintenance
	return demand.NewService(demand.NewStore(e.db), scorer, demand.MaintenanceConfig{
		IntervalSeconds: m.IntervalSeconds,
		RetentionDays:   m.RetentionDays,
		ExpireGraceDays: m.ExpireGraceDays,
	}, infra.Logger().Named("demand"))
}

func (e *env) fleet() *fleet.Service {
	return fleet.NewService(fleet.NewStore(e.db))
}

func (e *env) builder() *tour.Builder {
	return tour.NewBuilder(tour.BuildConfig{
		PriorityDivisor: e.cfg.Dispatch.PriorityDivisor,
		MaxIterations:   e.cfg.Dispatch.MaxIterations,
	})
}

func (e *env) feedTimeout() time.Duration {
	return time.Duration(e.cfg.Feed.TimeoutSeconds) * time.Second
}
