package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"

	"github.com/example/ride-hailing/internal/admin"
	"github.com/example/ride-hailing/internal/captains"
	"github.com/example/ride-hailing/internal/config"
	"github.com/example/ride-hailing/internal/dispatch"
	"github.com/example/ride-hailing/internal/geo"
	httpapi "github.com/example/ride-hailing/internal/http"
	"github.com/example/ride-hailing/internal/ingest"
	"github.com/example/ride-hailing/internal/logging"
	"github.com/example/ride-hailing/internal/matcher"
	"github.com/example/ride-hailing/internal/models"
	"github.com/example/ride-hailing/internal/payments"
	"github.com/example/ride-hailing/internal/rides"
	"github.com/example/ride-hailing/internal/storage"
)

func main() {
	if err := run(); err != nil {
		slog.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadServerConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := logging.NewLogger("server", cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var (
		store   storage.Store
		pingers []func(context.Context) error
	)
	if cfg.PGDSN != "" {
		ps, err := storage.NewPostgresStore(cfg.PGDSN)
		if err != nil {
			return fmt.Errorf("open postgres: %w", err)
		}
		defer ps.Close()
		if cfg.RunMigrations {
			if err := ps.Migrate(ctx); err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
			logger.Info("migrations applied")
		}
		store = ps
		pingers = append(pingers, ps.Ping)
	} else {
		logger.Warn("PG_DSN not set, using in-memory store")
		store = storage.NewMemoryStore()
	}

	var index geo.Index
	if cfg.RedisAddr != "" {
		rc := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		defer rc.Close()
		index = geo.NewRedisIndex(rc, cfg.RedisGeoKey)
		pingers = append(pingers, func(ctx context.Context) error { return rc.Ping(ctx).Err() })
	} else {
		index = geo.NewMemoryIndex()
	}

	lookup := geo.NewCachedLookup(geo.NewMapsClient(cfg.MapsEndpoint, cfg.MapsAPIKey), cfg.RouteCacheTTL, cfg.RouteCacheSize)

	hub := dispatch.NewHub(logger, cfg.LocationBroadcast)
	adminSvc := &admin.Service{Store: store, Notifier: hub, Index: index, Logger: logger}

	matcherSvc := &matcher.Service{
		Store:    store,
		Geo:      lookup,
		Index:    index,
		Notifier: hub,
		Presence: hub,
		Admin:    adminSvc,
		Logger:   logger,
		Config: matcher.Config{
			DispatchRadiusKm:    cfg.DispatchRadiusKm,
			ResolicitRadiusKm:   cfg.ResolicitRadiusKm,
			IntercityThresholdM: cfg.IntercityThresholdM,
			PoolDetourBudget:    cfg.PoolDetourBudget,
			PoolMaxLegs:         cfg.PoolMaxLegs,
			SpeedMps:            matcher.DefaultConfig().SpeedMps,
		},
	}
	ridesSvc := &rides.Service{
		Store:    store,
		Signer:   payments.NewSigner(cfg.PaymentSecret),
		Currency: cfg.PaymentCurrency,
		Notifier: hub,
		Stats:    adminSvc,
		Logger:   logger,
	}
	captainsSvc := &captains.Service{
		Store:           store,
		Index:           index,
		Notifier:        hub,
		Feed:            adminSvc,
		Logger:          logger,
		AccrualInterval: cfg.OnlineAccrualInterval,
	}

	if cfg.StripeAPIKey != "" {
		ridesSvc.Gateway = payments.NewStripeGateway(cfg.StripeAPIKey)
	} else {
		logger.Warn("STRIPE_API_KEY not set, payment orders are disabled")
	}

	if len(cfg.KafkaBrokers) > 0 {
		locations := ingest.NewKafkaProducer(cfg.KafkaBrokers, cfg.KafkaLocationTopic)
		events := ingest.NewKafkaProducer(cfg.KafkaBrokers, cfg.KafkaRideEventsTopic)
		defer locations.Close()
		defer events.Close()
		captainsSvc.Locations = locations
		matcherSvc.Events = events
		ridesSvc.Events = events
	}

	hub.OnJoin(func(s *dispatch.Session) {
		if s.Actor.Role == models.RoleCaptain {
			go captainsSvc.Track(s.Context(), s.Actor.ID)
		}
	})

	api := httpapi.NewServer(httpapi.Deps{
		Matcher:  matcherSvc,
		Rides:    ridesSvc,
		Captains: captainsSvc,
		Admin:    adminSvc,
		Hub:      hub,
		Auth:     httpapi.NewAuthenticator(cfg.JWTSecret),
		Logger:   logger,
		Ready: func(ctx context.Context) error {
			var errs []error
			for _, ping := range pingers {
				errs = append(errs, ping(ctx))
			}
			return errors.Join(errs...)
		},
	})

	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      api,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("ride-hailing listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
