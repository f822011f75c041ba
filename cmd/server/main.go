package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/DoyleJ11/quiz-multiplayer-backend/internal/auth"
	"github.com/DoyleJ11/quiz-multiplayer-backend/internal/config"
	"github.com/DoyleJ11/quiz-multiplayer-backend/internal/coordinator"
	"github.com/DoyleJ11/quiz-multiplayer-backend/internal/httpapi"
	"github.com/DoyleJ11/quiz-multiplayer-backend/internal/hub"
	"github.com/DoyleJ11/quiz-multiplayer-backend/internal/logging"
	"github.com/DoyleJ11/quiz-multiplayer-backend/internal/metrics"
	"github.com/DoyleJ11/quiz-multiplayer-backend/internal/store"
	"github.com/DoyleJ11/quiz-multiplayer-backend/internal/store/memory"
	"github.com/DoyleJ11/quiz-multiplayer-backend/internal/store/postgres"
	"github.com/DoyleJ11/quiz-multiplayer-backend/internal/ws"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "server:", err)
		os.Exit(1)
	}
}

func run() (err error) {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log, err := logging.New(cfg.LogLevel, cfg.LogDev)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, st.Close()) }()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	authn, err := auth.NewJWTVerifier(cfg.JWTSecret)
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)

	h := hub.NewHub(ctx, log, hub.WithIdleTTL(cfg.Fanout.IdleTTL), hub.WithMetrics(m))
	defer h.Close()

	var pub coordinator.Publisher = h
	if cfg.Redis.Enabled {
		rc, rerr := hub.NewRedisClient(ctx, hub.RedisOptions{
			Addrs:      cfg.Redis.Addrs,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			MasterName: cfg.Redis.MasterName,
		})
		if rerr != nil {
			return rerr
		}
		defer func() { err = multierr.Append(err, rc.Close()) }()

		relay := hub.NewRedisRelay(rc, h, cfg.Redis.ChannelPrefix, log)
		pub = relay
		g.Go(func() error { return relay.Run(ctx) })
		log.Info("cross-instance fan-out enabled", zap.Strings("redis", cfg.Redis.Addrs))
	}

	coord := coordinator.New(st, pub, log, coordinator.WithMetrics(m))
	wsHandler := ws.NewHandler(coord, h, authn, log,
		ws.WithHeartbeat(cfg.WS.PingInterval, cfg.WS.ReadTimeout),
		ws.WithOutboxSize(cfg.WS.OutboxSize),
		ws.WithMetrics(m),
	)

	srv := &http.Server{
		Addr: cfg.HTTPAddr,
		Handler: httpapi.SetupRoutes(httpapi.Deps{
			Coordinator: coord,
			Auth:        authn,
			Health:      st,
			WS:          wsHandler,
			Gatherer:    reg,
			Metrics:     m,
			Log:         log,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g.Go(func() error {
		log.Info("listening", zap.String("addr", cfg.HTTPAddr), zap.String("store", cfg.StoreDriver))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func openStore(ctx context.Context, cfg *config.Config, log *zap.Logger) (store.Store, error) {
	switch cfg.StoreDriver {
	case config.DriverPostgres:
		return postgres.Open(ctx, cfg.DatabaseURL, log)
	default:
		log.Warn("using in-memory store; sessions are lost on restart")
		return memory.New(), nil
	}
}
