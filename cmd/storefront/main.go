package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/quickdash/storefront-core/internal/api"
	"github.com/quickdash/storefront-core/internal/core/ports"
	"github.com/quickdash/storefront-core/internal/core/service"
	"github.com/quickdash/storefront-core/internal/infrastructure/config"
	redisdb "github.com/quickdash/storefront-core/internal/infrastructure/db/redis"
	"github.com/quickdash/storefront-core/internal/infrastructure/geoip"
	"github.com/quickdash/storefront-core/internal/infrastructure/rest"
	"github.com/quickdash/storefront-core/internal/infrastructure/store"
	"github.com/quickdash/storefront-core/internal/infrastructure/ws"
	"github.com/quickdash/storefront-core/pkg/logger"
)

// logSink is the MapSink used when no real renderer is attached: every
// validated position is logged instead of drawn.
type logSink struct {
	log zerolog.Logger
}

func (s *logSink) SetMarker(lat, lng float64) {
	s.log.Info().Float64("lat", lat).Float64("lng", lng).Msg("rider position")
}

func (s *logSink) Pan(float64, float64) {}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	orderID := flag.String("order", "", "order id to track after binding")
	pinLat := flag.Float64("lat", 0, "manual pin latitude (skips device location)")
	pinLng := flag.Float64("lng", 0, "manual pin longitude")
	flag.Parse()

	cfg, err := config.Load(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	log := logger.Init(logger.Options{
		Level:  cfg.LogLevel,
		Pretty: cfg.Env == "development",
	})

	// --- Session binding store: Redis when configured, memory otherwise ---
	var bindings ports.BindingStore
	rdb, err := connectRedis(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("redis connection failed")
	}
	if rdb != nil {
		bindings = redisdb.NewBindingStore(rdb)
	} else {
		bindings = store.NewMemoryBindingStore()
	}

	// --- Ops server (health + metrics) ---
	ops := api.NewRouter(rdb)
	go func() {
		if err := ops.Start(":" + cfg.OpsPort); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("ops server failed")
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = ops.Shutdown(shutdownCtx)
	}()

	backend := rest.NewClient(cfg.APIBaseURL, cfg.AuthToken, 0)

	// --- Location resolution flow ---
	resolver := service.NewLocationResolver(
		backend,
		geoip.NewLocator(cfg.GeoIP.Endpoint),
		bindings,
		cfg.SessionID,
		service.ResolverOptions{
			Debounce:       cfg.Resolver.Debounce,
			GeocodeTimeout: cfg.Resolver.GeocodeTimeout,
		},
		logger.Component("resolver"),
	)

	settled := make(chan service.ResolverState, 1)
	resolver.OnStateChange(func(st service.ResolverState) {
		if !st.Resolving {
			select {
			case settled <- st:
			default:
			}
		}
	})

	if *pinLat != 0 || *pinLng != 0 {
		resolver.OnMapMoveSettled(*pinLat, *pinLng)
	} else if err := resolver.TriggerDeviceLocation(ctx); err != nil {
		log.Fatal().Err(err).Msg("no device location and no manual pin; pass -lat/-lng")
	}

	var st service.ResolverState
	select {
	case st = <-settled:
	case <-ctx.Done():
		return
	}
	if st.Err != nil {
		log.Fatal().Err(st.Err).Msg("location resolution failed")
	}
	if !st.Candidate.IsServiceable {
		log.Error().
			Str("address", st.Candidate.ResolvedAddress).
			Msg("location is outside the serviceable area")
		os.Exit(1)
	}

	binding, err := resolver.Confirm(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to confirm location")
	}
	log.Info().
		Str("address", st.Candidate.ResolvedAddress).
		Str("warehouse_id", binding.WarehouseID).
		Msg("location bound")

	if est, err := backend.Estimate(ctx, binding.Lat, binding.Lng, binding.WarehouseID); err != nil {
		log.Warn().Err(err).Msg("delivery estimate unavailable")
	} else {
		log.Info().Int("eta_minutes", est.EtaMinutes).Float64("distance_km", est.DistanceKm).Msg("delivery estimate")
	}

	if *orderID == "" {
		return
	}

	// --- Live order tracking ---
	dialer, err := ws.NewDialer(cfg.APIBaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid tracking endpoint")
	}
	manager := service.NewTrackingManager(dialer, backend, service.Backoff{
		Base:        cfg.Tracking.BackoffBase,
		Max:         cfg.Tracking.BackoffMax,
		MaxAttempts: cfg.Tracking.MaxAttempts,
		DialTimeout: cfg.Tracking.DialTimeout,
	}, logger.Component("tracking"))

	session, err := manager.Open(ctx, *orderID, cfg.AuthToken)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open tracking session")
	}
	session.AddSink(&logSink{log: log.With().Str("order_id", *orderID).Logger()})

	select {
	case <-ctx.Done():
		session.Close()
	case <-session.Done():
	}
}

// connectRedis returns nil without error when no Redis address is configured.
func connectRedis(ctx context.Context, cfg *config.Config) (*redis.Client, error) {
	if cfg.Redis.Addr == "" {
		return nil, nil
	}
	return redisdb.Connect(ctx, cfg.Redis.Addr, cfg.Redis.DB)
}
