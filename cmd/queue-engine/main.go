package main

import (
	"context"
	"expvar"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/Empredndedor/turnord-oficial/internal/breaks"
	"github.com/Empredndedor/turnord-oficial/internal/catalog"
	"github.com/Empredndedor/turnord-oficial/internal/config"
	"github.com/Empredndedor/turnord-oficial/internal/engine"
	"github.com/Empredndedor/turnord-oficial/internal/httpapi"
	"github.com/Empredndedor/turnord-oficial/internal/monitoring"
	"github.com/Empredndedor/turnord-oficial/internal/notify"
	"github.com/Empredndedor/turnord-oficial/internal/sequence"
	"github.com/Empredndedor/turnord-oficial/internal/store/postgres"
	"github.com/Empredndedor/turnord-oficial/internal/telemetry"
)

func main() {
	cfg := config.Load()

	shutdownTelemetry := telemetry.Setup("queue-engine")
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTelemetry(ctx)
	}()

	pool, err := pgxpool.New(context.Background(), cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db connect: %v", err)
	}
	defer pool.Close()

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer rdb.Close()

	loc, err := time.LoadLocation(cfg.BusinessTZ)
	if err != nil {
		log.Fatalf("bad BUSINESS_TZ %q: %v", cfg.BusinessTZ, err)
	}

	letters := sequence.New(sequence.Policy(cfg.SequenceLetterPolicy), parseEpoch(cfg.SequenceEpoch))
	st := postgres.NewStore(pool, postgres.Options{Letters: letters})

	cat := catalog.New(st, cfg.BusinessID)
	if err := cat.Refresh(context.Background()); err != nil {
		log.Printf("initial catalog refresh: %v", err)
	}

	hub := notify.NewHub()
	eng := engine.New(st, cat, breaks.New(rdb), hub, cfg.BusinessID, loc)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.ConfigRefreshInterval > 0 {
		go cat.Run(ctx, cfg.ConfigRefreshInterval)
	}
	if cfg.OutboxPollInterval > 0 {
		go notify.NewPoller(st, hub, cfg.BusinessID, cfg.OutboxPollInterval).Run(ctx)
	}
	if cfg.DepthSampleInterval > 0 {
		go monitoring.NewMonitor(st, cfg.BusinessID, loc).Run(ctx, cfg.DepthSampleInterval)
	}

	handler := httpapi.NewHandler(eng)
	limiter := httpapi.NewRateLimiter(httpapi.RateLimitConfig{
		PerMinute: cfg.RateLimitPerMinute,
		Burst:     cfg.RateLimitBurst,
	})

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/debug/vars", expvar.Handler())
	mux.Handle("/realtime/", httpapi.RealtimeHandler(eng))
	mux.Handle("/", limiter.Middleware(handler.Routes()))

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      otelhttp.NewHandler(httpapi.LoggingMiddleware(mux), "queue-engine"),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("queue-engine listening on %s business_id=%s", server.Addr, cfg.BusinessID)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}

func parseEpoch(raw string) time.Time {
	if raw == "" {
		return sequence.DefaultEpoch
	}
	epoch, err := time.Parse("2006-01-02", raw)
	if err != nil {
		log.Printf("bad SEQUENCE_EPOCH %q, using default: %v", raw, err)
		return sequence.DefaultEpoch
	}
	return epoch
}
