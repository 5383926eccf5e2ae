// README: Entry point; loads config, wires services, starts the HTTP server and background tickers.
package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"tourdispatch/internal/config"
	httptransport "tourdispatch/internal/http"
	"tourdispatch/internal/http/handlers"
	"tourdispatch/internal/infra"
	"tourdispatch/internal/maps"
	"tourdispatch/internal/metrics"
	"tourdispatch/internal/modules/demand"
	"tourdispatch/internal/modules/feed"
	"tourdispatch/internal/modules/fleet"
	"tourdispatch/internal/modules/location"
	"tourdispatch/internal/modules/notify"
	"tourdispatch/internal/modules/tour"
)

func main() {
	cfg, err := config.Load(".")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := infra.InitLogger(cfg.Environment, cfg.LogLevel); err != nil {
		log.Fatalf("Failed to init logger: %v", err)
	}
	defer infra.SyncLogger()
	l := infra.Logger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metrics.RegisterDefault()

	var (
		verifier infra.TokenVerifier
		notifier tour.Notifier
	)
	if cfg.HTTP.AuthDisabled {
		l.Warn("auth disabled: bearer tokens are taken as driver uids")
		verifier = infra.StaticVerifier{Role: "driver"}
	} else {
		if cfg.Firebase.ProjectID == "" {
			l.Fatal("DISPATCH_FIREBASE_PROJECT_ID is required unless DISPATCH_AUTH_DISABLED is set")
		}
		fb, err := infra.NewFirebase(ctx, cfg.Firebase.ProjectID, cfg.Firebase.CredentialsFile)
		if err != nil {
			l.Fatal("firebase init", zap.Error(err))
		}
		verifier = fb.Verifier
		notifier = notify.NewFCMNotifier(fb.Messaging, l.Named("notify"))
	}

	dbPool, err := infra.NewDB(ctx, cfg.DB.DSN)
	if err != nil {
		l.Fatal("postgres init", zap.Error(err))
	}
	defer dbPool.Close()

	redisClient, err := infra.NewRedis(ctx, cfg.Redis.Addr)
	if err != nil {
		l.Fatal("redis init", zap.Error(err))
	}
	defer redisClient.Close()

	fleetSvc := fleet.NewService(fleet.NewStore(dbPool))
	locationSvc := location.NewService(location.NewStore(redisClient), l.Named("location"))

	scorer := demand.NewScorer(demand.Weights{
		Age:                 cfg.Scoring.AgeWeight,
		Deadline:            cfg.Scoring.DeadlineWeight,
		Quantity:            cfg.Scoring.QuantityWeight,
		AgeHorizonDays:      cfg.Scoring.AgeHorizonDays,
		DeadlineHorizonDays: cfg.Scoring.DeadlineHorizonDays,
		QuantitySaturation:  cfg.Scoring.QuantitySaturation,
		NoDeadlineDays:      cfg.Scoring.NoDeadlineDays,
	})
	demandSvc := demand.NewService(demand.NewStore(dbPool), scorer, demand.MaintenanceConfig{
		IntervalSeconds: cfg.Maintenance.IntervalSeconds,
		RetentionDays:   cfg.Maintenance.RetentionDays,
		ExpireGraceDays: cfg.Maintenance.ExpireGraceDays,
	}, l.Named("demand"))

	tourSvc := tour.NewService(tour.Deps{
		Repo:      tour.NewStore(dbPool),
		Pool:      demandSvc,
		Fleet:     fleetSvc,
		Positions: locationSvc,
		Locker:    tour.NewRedisLocker(redisClient),
		Notifier:  notifier,
		Log:       l.Named("tour"),
	}, tour.Config{
		PoolLimit: cfg.Dispatch.PoolLimit,
		Build: tour.BuildConfig{
			PriorityDivisor: cfg.Dispatch.PriorityDivisor,
			MaxIterations:   cfg.Dispatch.MaxIterations,
		},
		LockTTL:  cfg.LockTTL(),
		Location: cfg.Location(),
	})

	var syncer handlers.FeedSyncer
	if cfg.Feed.URL != "" {
		var geocoder feed.Geocoder
		if cfg.Maps.APIKey != "" {
			g, err := maps.NewGeocoder(cfg.Maps.APIKey, maps.Options{})
			if err != nil {
				l.Fatal("maps init", zap.Error(err))
			}
			geocoder = g
		}
		feedSvc := feed.NewService(
			feed.NewHTTPSource(feed.HTTPSourceConfig{
				URL:        cfg.Feed.URL,
				Token:      cfg.Feed.Token,
				Timeout:    time.Duration(cfg.Feed.TimeoutSeconds) * time.Second,
				MaxRetries: cfg.Feed.MaxRetries,
			}),
			demandSvc,
			geocoder,
			time.Duration(cfg.Feed.IntervalSeconds)*time.Second,
			l.Named("feed"),
		)
		syncer = feedSvc
		go feedSvc.RunSyncTicker(ctx)
	}
	go demandSvc.RunMaintenanceTicker(ctx)

	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	handler := httptransport.NewServer(httptransport.ServerDeps{
		Tour:           tourSvc,
		Demand:         demandSvc,
		Fleet:          fleetSvc,
		Location:       locationSvc,
		Feed:           syncer,
		Maintainer:     demandSvc,
		Verifier:       verifier,
		Log:            l.Named("http"),
		RateLimitRPS:   cfg.HTTP.RateLimitRPS,
		RateLimitBurst: cfg.HTTP.RateLimitBurst,
	})

	server := &http.Server{Addr: cfg.HTTP.Addr, Handler: handler.Routes(), ReadHeaderTimeout: 10 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	l.Info("dispatch api listening", zap.String("addr", cfg.HTTP.Addr), zap.String("environment", cfg.Environment))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		l.Fatal("server failed", zap.Error(err))
	}
}
