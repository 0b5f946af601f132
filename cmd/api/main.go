package main

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"tinylink.local/internal/app/tinylink"
	appcache "tinylink.local/internal/app/tinylink/cache"
	"tinylink.local/internal/app/tinylink/httpapi"
	"tinylink.local/internal/app/tinylink/repo"
	"tinylink.local/internal/app/tinylink/stats"
	usagesync "tinylink.local/internal/app/tinylink/sync"
	"tinylink.local/internal/platform/auth"
	platformcache "tinylink.local/internal/platform/cache"
	"tinylink.local/internal/platform/config"
	"tinylink.local/internal/platform/db"
	"tinylink.local/internal/platform/httpmiddleware"
	"tinylink.local/internal/platform/httpserver"
	"tinylink.local/internal/platform/metrics"
	"tinylink.local/internal/platform/migrate"
	"tinylink.local/internal/platform/trace"
	"tinylink.local/internal/platform/worker"
)

var version = "dev"

func main() {
	cfg := config.Load()
	initLogger(cfg)

	stopCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.TracingEnabled {
		shutdown := trace.InitTrace(cfg.OtlpGrpcEndpoint, cfg.OtlpServiceName)
		if shutdown != nil {
			defer func() {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := shutdown(ctx); err != nil {
					slog.Warn("trace shutdown failed", "err", err)
				}
			}()
		}
	}

	// 数据库：权威存储，起不来就没法服务
	pool, err := db.New(stopCtx, cfg.DBDSN)
	if err != nil {
		slog.Error("database connect failed", "err", err)
		os.Exit(1)
	}
	defer pool.Close()

	migrateRes, err := migrate.Up(stopCtx, pool, migrate.Options{Dir: cfg.MigrationsDir})
	if err != nil {
		slog.Error("migrations failed", "err", err)
		os.Exit(1)
	}
	slog.Info("migrations ok", "dir", migrateRes.Dir, "applied", len(migrateRes.AppliedFiles), "skipped", len(migrateRes.SkippedFiles))

	// 布隆过滤器 + 存储
	filter := appcache.NewBloomFilter(1_000_000, 0.01)
	links := repo.NewLinksRepo(pool, filter)
	if n, err := links.WarmFilter(stopCtx); err != nil {
		slog.Warn("bloom filter warmup failed", "err", err)
	} else {
		slog.Info("bloom filter warmed", "codes", n)
	}

	// 缓存：Redis 起不来就降级为直接落库（无读加速，正确性不变）
	var (
		urls      tinylink.URLCache
		counter   tinylink.UsageCounter
		usage     *appcache.UsageCache
		withRedis bool
	)
	rdb, err := platformcache.NewRedisClient(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		slog.Warn("redis unavailable, running without cache", "addr", cfg.RedisAddr, "err", err)
		urls = appcache.NoopURLCache{}
		counter = repo.NewStoreCounter(links)
	} else {
		defer rdb.Close()
		local, err := appcache.NewLocalCache(100_000, 1<<24)
		if err != nil {
			slog.Error("local cache init failed", "err", err)
			os.Exit(1)
		}
		usage = appcache.New(rdb, local, appcache.Options{
			TTL:      cfg.LinkTTL,
			EmptyTTL: cfg.NegativeTTL,
		})
		defer usage.Close()
		urls = usage
		counter = usage
		withRedis = true
	}

	svc := tinylink.NewService(links, urls, counter, tinylink.Options{
		AnonExpiry:          cfg.AnonExpiry,
		InactivityThreshold: cfg.InactivityThreshold,
		OwnedCodeLen:        cfg.OwnedCodeLen,
		AnonCodeLen:         cfg.AnonCodeLen,
		SweepBatchSize:      cfg.SweepBatchSize,
	})

	ts, err := auth.NewHS256Service(cfg.JWTSecret, cfg.JWTIssuer, cfg.JWTTTL)
	if err != nil {
		slog.Error("token service init failed", "err", err)
		os.Exit(1)
	}

	metrics.Init()

	// 后台任务
	var wg sync.WaitGroup
	runWorker := func(fn func(ctx context.Context)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn(stopCtx)
		}()
	}

	if withRedis {
		syncer := usagesync.New(counter, links, cfg.SyncWindow)
		runWorker(worker.Periodic{
			Name:     "usage-sync",
			Interval: cfg.SyncInterval,
			Fn:       syncer.Sync,
		}.Run)
	}
	runWorker(worker.Periodic{
		Name:     "deactivation-sweep",
		Interval: cfg.SweepInterval,
		Fn: func(ctx context.Context) error {
			n, err := svc.DeactivateStale(ctx)
			if n > 0 {
				metrics.LinksDeactivatedTotal.Add(float64(n))
			}
			return err
		},
	}.Run)

	// 点击事件：默认进程内 channel，多实例部署切 Kafka
	clicks := repo.NewClicksRepo(pool)
	var collector stats.Collector
	if cfg.KafkaEnabled {
		kc := stats.NewKafkaCollector(cfg.KafkaBrokers, cfg.KafkaTopic)
		defer kc.Close()
		collector = kc
		consumer := stats.NewKafkaConsumer(cfg.KafkaBrokers, cfg.KafkaTopic, cfg.ServiceName, clicks)
		runWorker(consumer.Run)
	} else {
		cc := stats.NewChannelCollector(4096)
		collector = cc
		consumer := stats.NewConsumer(cc.Events(), clicks, 100, 2*time.Second)
		runWorker(consumer.Run)
	}

	// 业务路由
	r := chi.NewRouter()
	r.Use(httpmiddleware.AccessLog, httpmiddleware.Metrics)
	httpapi.Register(r, httpapi.NewHandlers(svc, collector), ts)

	var handler http.Handler = r
	if cfg.TracingEnabled {
		handler = otelhttp.NewHandler(r, "http.server")
	}

	// 管理端口：metrics/readyz/pprof 不暴露在公网
	admin := http.NewServeMux()
	admin.Handle("/metrics", promhttp.Handler())
	admin.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), time.Second)
		defer cancel()
		if err := pool.Ping(ctx); err != nil {
			http.Error(w, "db not ready", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	admin.HandleFunc("/version", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(version))
	})
	if cfg.PprofEnabled {
		admin.HandleFunc("/debug/pprof/", pprof.Index)
		admin.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		admin.HandleFunc("/debug/pprof/profile", pprof.Profile)
		admin.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		admin.HandleFunc("/debug/pprof/trace", pprof.Trace)
	}

	adminSrv := httpserver.New(cfg, cfg.AdminAddr, admin)
	go func() {
		if err := httpserver.RunWithGracefulShutdownContext(adminSrv, cfg.ShutdownTimeout, stopCtx); err != nil {
			slog.Error("admin server failed", "err", err)
		}
	}()

	srv := httpserver.New(cfg, cfg.Addr, handler)
	slog.Info("server starting", "addr", cfg.Addr, "admin_addr", cfg.AdminAddr, "redis", withRedis, "version", version)
	if err := httpserver.RunWithGracefulShutdownContext(srv, cfg.ShutdownTimeout, stopCtx); err != nil {
		slog.Error("server failed", "err", err)
		os.Exit(1)
	}

	stop()
	wg.Wait()
	slog.Info("server stopped")
}

func initLogger(cfg config.Config) {
	opts := &slog.HandlerOptions{Level: cfg.LogLevel}
	var h slog.Handler
	if cfg.LogFormat == "text" {
		h = slog.NewTextHandler(os.Stdout, opts)
	} else {
		h = slog.NewJSONHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(h.WithAttrs([]slog.Attr{slog.String("service", cfg.ServiceName)})))
}
