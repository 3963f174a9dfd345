// Command server wires the cache/tracker service together: the bulk
// loader's initial population, the change subscriber's LISTEN loop, the
// HTTP read surface, the scheduled tracker duties, and graceful shutdown.
// Startup and shutdown ordering follow the teacher's own
// examples/pipeline_integration_example.go.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pegesund/concentratee-cache-sub000/internal/adminauth"
	"github.com/pegesund/concentratee-cache-sub000/internal/api"
	"github.com/pegesund/concentratee-cache-sub000/internal/cleaner"
	"github.com/pegesund/concentratee-cache-sub000/internal/config"
	"github.com/pegesund/concentratee-cache-sub000/internal/handlers"
	"github.com/pegesund/concentratee-cache-sub000/internal/index"
	"github.com/pegesund/concentratee-cache-sub000/internal/livefeed"
	"github.com/pegesund/concentratee-cache-sub000/internal/loader"
	"github.com/pegesund/concentratee-cache-sub000/internal/notify"
	"github.com/pegesund/concentratee-cache-sub000/internal/obslog"
	"github.com/pegesund/concentratee-cache-sub000/internal/obsmetrics"
	"github.com/pegesund/concentratee-cache-sub000/internal/resolve"
	"github.com/pegesund/concentratee-cache-sub000/internal/store"
	"github.com/pegesund/concentratee-cache-sub000/internal/tracker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		obslog.Fatal("failed to load configuration", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.Database.ConnString())
	if err != nil {
		obslog.Fatal("failed to create database pool", err)
	}
	defer pool.Close()
	if err := pool.Ping(ctx); err != nil {
		obslog.Fatal("database not reachable at startup", err)
	}

	st := store.New()
	sessionIdx := index.NewSessionIndex()
	ruleIdx := index.NewRuleIndex()

	ld := loader.New(pool, st, sessionIdx, ruleIdx, cfg.Tracker.ForwardWindow)
	obslog.Info("running initial load")
	if err := ld.LoadAll(ctx); err != nil {
		obslog.Fatal("initial load failed", err)
	}

	router := handlers.New(st, sessionIdx, ruleIdx, ld)
	sub := notify.New(cfg.Database.ConnString(), router, ld)

	// There is a small staleness window here: any database row change
	// committed between LoadAll returning and the subscriber's first
	// successful LISTEN is not observed until its own change notification
	// (or the next reconnect-triggered reload) arrives. §4.3 accepts this
	// as the cost of not holding readers off during the LISTEN handshake.
	go func() {
		if err := sub.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			obslog.Error("change subscriber exited", err)
		}
	}()

	persister := &sessionAggregatePersister{pool: pool, timeout: cfg.Tracker.PersistWriteTimeout}
	trackers := tracker.NewRegistry(cfg.Tracker.ActivityThreshold, cfg.Tracker.RuleTrackerStaleAfter, persister, cfg.Tracker.PersistRetryQueue)
	startTrackerSchedules(ctx, trackers, cfg)

	cl := cleaner.New(st, sessionIdx, ruleIdx, cfg.Tracker.CleanupInterval, cfg.Tracker.StartupCleanupDelay)
	go cl.Run(ctx)

	resolver := resolve.New(st, sessionIdx, ruleIdx, trackers)

	var auth *adminauth.Service
	if cfg.Admin.PasswordHash != "" && cfg.JWT.Secret != "" {
		auth = adminauth.NewService(cfg.Admin.PasswordHash, cfg.JWT.Secret, cfg.JWT.Expiry)
	}
	hub := livefeed.NewHub(auth)
	go hub.Run()

	svc := api.New(st, sessionIdx, ruleIdx, resolver, trackers, cl, poolHealth{pool})
	handler := api.NewServer(svc, auth, hub)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: withMetrics(handler),
	}

	go func() {
		obslog.Info("server listening", obslog.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			obslog.Fatal("server failed", err)
		}
	}()

	<-ctx.Done()
	obslog.Info("shutdown signal received, draining connections")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		obslog.Error("graceful shutdown failed", err)
	}
}

// startTrackerSchedules starts the three scheduled tracker duties §4.9
// names: per-minute rotation, periodic persistence of ended trackers, and
// periodic eviction of stale rule trackers.
func startTrackerSchedules(ctx context.Context, trackers *tracker.Registry, cfg *config.Config) {
	go runTicker(ctx, cfg.Tracker.RotationInterval, func() {
		trackers.RotateAll()
	})
	go runTicker(ctx, cfg.Tracker.SessionTrackerCleanup, func() {
		trackers.PersistEnded(ctx, time.Now())
	})
	go runTicker(ctx, cfg.Tracker.RuleTrackerCleanup, func() {
		trackers.EvictStaleRuleTrackers(time.Now())
	})
}

func runTicker(ctx context.Context, interval time.Duration, fn func()) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn()
		}
	}
}

// sessionAggregatePersister adapts a pgxpool.Pool to tracker.Persister,
// writing the two-column aggregate the registry computes on tracker
// eviction back to the sessions table.
type sessionAggregatePersister struct {
	pool    *pgxpool.Pool
	timeout time.Duration
}

func (p *sessionAggregatePersister) PersistSessionAggregate(ctx context.Context, sessionID int64, isActive bool, percentage float64) error {
	writeCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	_, err := p.pool.Exec(writeCtx, `UPDATE sessions SET is_active = $1, percentage = $2 WHERE id = $3`, isActive, percentage, sessionID)
	return err
}

// poolHealth adapts a pgxpool.Pool to api.HealthChecker.
type poolHealth struct {
	pool *pgxpool.Pool
}

func (h poolHealth) Ping(ctx context.Context) error {
	return h.pool.Ping(ctx)
}

// withMetrics mounts the Prometheus /metrics endpoint beside handler,
// matching the teacher's own promhttp.Handler() wiring in its monitoring
// package. Requests to other paths go to handler unchanged; no per-request
// HTTP metrics are recorded.
func withMetrics(next http.Handler) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", obsmetrics.NewMetricsCollector().Handler())
	mux.Handle("/", next)
	return mux
}
