// Command ucgcore wires the Config Store, Registry, Firewall, UCG Store
// (Live Content / Performance Cache / Structural Backup), Search Index and
// Facade together and exposes only an operational surface (metrics,
// health). The Facade itself is consumed by callers embedding this module,
// not over a network API — shipping an HTTP/CLI surface is out of scope.
package main

import (
	"context"
	"database/sql"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/ucgraph/core/internal/facade"
	"github.com/ucgraph/core/internal/firewall"
	"github.com/ucgraph/core/internal/registry"
	"github.com/ucgraph/core/internal/search"
	"github.com/ucgraph/core/internal/ucg"
	"github.com/ucgraph/core/internal/ucg/storage/backup"
	"github.com/ucgraph/core/internal/ucg/storage/cache"
	"github.com/ucgraph/core/internal/ucg/storage/memory"
	"github.com/ucgraph/core/internal/ucg/storage/postgres"
	"github.com/ucgraph/core/pkg/logging"
	"github.com/ucgraph/core/pkg/metrics"
	rtconfig "github.com/ucgraph/core/pkg/runtimeconfig"

	_ "github.com/lib/pq"
)

// Config controls which storage backends ucgcore wires up. An empty DSN or
// Redis address falls back to the in-process memory/local implementations,
// which is convenient for development but forfeits durability and the
// multi-instance coherency guarantees described in §4.4.
type Config struct {
	ListenAddr          string
	ConfigRoot          string
	PostgresDSN         string
	RedisAddr           string
	PCExpendableTTL     time.Duration
	PCMaxMemory         string
	BackupCron          string
	OrphanCron          string
	ExternalRuleTimeout time.Duration
}

func main() {
	var cfg Config
	flag.StringVar(&cfg.ListenAddr, "listen", rtconfig.GetEnv("UCG_METRICS_ADDR", ":9090"), "address metrics/health are served on")
	flag.StringVar(&cfg.ConfigRoot, "config-root", rtconfig.GetEnv("UCG_CONFIG_ROOT", "./config"), "Config Store directory of CSV files")
	flag.StringVar(&cfg.PostgresDSN, "postgres-dsn", rtconfig.GetEnv("UCG_POSTGRES_DSN", ""), "Live Content Postgres DSN (empty uses in-memory LC)")
	flag.StringVar(&cfg.RedisAddr, "redis-addr", rtconfig.GetEnv("UCG_REDIS_ADDR", ""), "Performance Cache Redis address (empty uses local in-process PC)")
	flag.DurationVar(&cfg.PCExpendableTTL, "pc-expendable-ttl", rtconfig.GetEnvDuration("UCG_PC_EXPENDABLE_TTL", 10*time.Minute), "TTL applied to expendable Performance Cache keys")
	flag.StringVar(&cfg.PCMaxMemory, "pc-max-memory", rtconfig.GetEnv("UCG_PC_MAX_MEMORY", ""), "host memory budget (e.g. 4GB) before the Performance Cache enters rebuild mode; empty disables the monitor")
	flag.StringVar(&cfg.BackupCron, "backup-cron", rtconfig.GetEnv("UCG_BACKUP_CRON", "@every 1h"), "Structural Backup resync schedule")
	flag.StringVar(&cfg.OrphanCron, "orphan-cron", rtconfig.GetEnv("UCG_ORPHAN_CRON", "@every 6h"), "Search Index orphan-cleanup schedule")
	flag.DurationVar(&cfg.ExternalRuleTimeout, "firewall-external-timeout", rtconfig.GetEnvDuration("UCG_FIREWALL_EXTERNAL_TIMEOUT", 200*time.Millisecond), "per-call timeout for external (JS) firewall rules")
	flag.Parse()

	log := logging.NewFromEnv("ucgcore")
	m := metrics.New()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	lc, lcDB, closeLC := mustLiveContent(ctx, cfg, log)
	defer closeLC()

	pc := mustPerformanceCache(cfg, log)

	// SB needs a durable database to snapshot into; in-memory LC runs
	// without a Structural Backup layer (§4.4.4 "SB unavailable" semantics
	// apply from the start).
	var sb ucg.StructuralBackup
	if lcDB != nil {
		bw := backup.New(lcDB, lc, log, m)
		if err := bw.Start(cfg.BackupCron); err != nil {
			log.WithError(err).Warn("structural backup scheduler not started")
		} else {
			defer bw.Stop()
		}
		sb = bw
	}

	fw := firewall.New(log, cfg.ExternalRuleTimeout)

	hotLog := zerolog.New(os.Stderr).With().Timestamp().Str("component", "search").Logger()
	idx := search.New(pc, nil, 2, hotLog)

	sched := search.NewScheduler(idx, lc, log)
	wordKeys := func() []string {
		keys, err := idx.AllWordKeys(ctx)
		if err != nil {
			log.WithError(err).Warn("could not list search word keys")
			return nil
		}
		return keys
	}
	if err := sched.Start(cfg.OrphanCron, wordKeys); err != nil {
		log.WithError(err).Warn("search orphan-cleanup scheduler not started")
	}
	defer sched.Stop()

	reg := registry.New()
	store := ucg.New(lc, pc, sb, reg, fw, log,
		ucg.WithSearchIndexer(idx),
		ucg.WithMetrics(m),
	)

	startPressureMonitor(ctx, cfg, store, log)

	f := facade.New(store, fw, idx, reg, log)
	if err := f.ReloadConfig(cfg.ConfigRoot); err != nil {
		log.WithError(err).Warn("initial config load failed; serving with empty registry")
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	srv := &http.Server{Addr: cfg.ListenAddr, Handler: mux}
	go func() {
		log.WithField("addr", cfg.ListenAddr).Info("serving metrics and health checks")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Error("metrics server stopped")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	log.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = srv.Shutdown(shutdownCtx)
	cancel()
}

// mustLiveContent returns the LiveContent implementation plus the raw *sql.DB
// backing it (nil for the in-memory store), since the Structural Backup
// worker writes backup rows directly rather than through the LiveContent
// interface.
func mustLiveContent(ctx context.Context, cfg Config, log *logging.Logger) (ucg.LiveContent, *sql.DB, func()) {
	if cfg.PostgresDSN == "" {
		log.Warn("no postgres DSN configured; using in-memory Live Content (no durability)")
		return memory.New(), nil, func() {}
	}
	db, err := sql.Open("postgres", cfg.PostgresDSN)
	if err != nil {
		log.WithError(err).Fatal("open postgres")
	}
	if err := db.PingContext(ctx); err != nil {
		log.WithError(err).Fatal("ping postgres")
	}
	if err := postgres.Migrate(db); err != nil {
		log.WithError(err).Fatal("run migrations")
	}
	store := postgres.New(sqlx.NewDb(db, "postgres"))
	return store, db, func() { _ = db.Close() }
}

// startPressureMonitor enters rebuild mode (§4.4.4) when host memory usage
// crosses the configured pc_max_memory budget: the Performance Cache is
// flushed and repopulated from Live Content, with reads transparently
// falling back to LC in the meantime.
func startPressureMonitor(ctx context.Context, cfg Config, store *ucg.Store, log *logging.Logger) {
	if cfg.PCMaxMemory == "" {
		return
	}
	maxBytes, ok := rtconfig.ParseByteSize(cfg.PCMaxMemory)
	if !ok {
		log.WithField("pc_max_memory", cfg.PCMaxMemory).Warn("unparseable memory budget; pressure monitoring disabled")
		return
	}
	monitor := cache.NewPressureMonitor(uint64(maxBytes))
	go func() {
		t := time.NewTicker(30 * time.Second)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				under, err := monitor.UnderPressure()
				if err != nil {
					log.WithError(err).Warn("memory pressure check failed")
					continue
				}
				if !under {
					continue
				}
				log.Warn("memory pressure: flushing and rebuilding performance cache")
				if err := store.RebuildPC(ctx); err != nil {
					log.WithError(err).Error("performance cache rebuild failed")
				}
			}
		}
	}()
}

func mustPerformanceCache(cfg Config, log *logging.Logger) ucg.PerformanceCache {
	if cfg.RedisAddr == "" {
		log.Warn("no redis address configured; using local in-process Performance Cache")
		return cache.NewLocal(30 * time.Second)
	}
	client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	redisPC := cache.NewRedis(client, cfg.PCExpendableTTL)
	local := cache.NewLocal(30 * time.Second)
	return cache.NewFallback(redisPC, local)
}
