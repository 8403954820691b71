package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/xela07ax/freedom-sandbox/internal/audit"
	"github.com/xela07ax/freedom-sandbox/internal/domain"
	"github.com/xela07ax/freedom-sandbox/internal/infra"
	"github.com/xela07ax/freedom-sandbox/internal/infra/auth"
	"github.com/xela07ax/freedom-sandbox/internal/provider"
	"github.com/xela07ax/freedom-sandbox/internal/repository/postgres"
	"github.com/xela07ax/freedom-sandbox/internal/sandbox"
	"github.com/xela07ax/freedom-sandbox/internal/server"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

func main() {
	// 1. Конфигурация и логгер
	cfg, err := infra.LoadConfig()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger, err := infra.NewLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()

	// Контекст жизненного цикла фоновых горутин: janitor, слушатель Redis,
	// опрос метрик. SIGTERM гасит все разом через cancel()
	appCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 2. Postgres (опционально): экспорт аудита + пул для DB-провайдеров
	var (
		sink    audit.Sink
		archive server.AuditArchive
		repo    *postgres.AuditRepo
	)
	if cfg.Database.URL != "" {
		repo, err = postgres.NewAuditRepo(cfg.Database.URL, cfg.Database.MaxConns)
		if err != nil {
			logger.Fatal("postgres init failed", zap.Error(err))
		}
		defer repo.Close()

		pingCtx, pingCancel := context.WithTimeout(appCtx, 5*time.Second)
		if err := repo.Ping(pingCtx); err != nil {
			pingCancel()
			logger.Fatal("postgres unreachable", zap.Error(err))
		}
		pingCancel()

		batch := audit.NewBatchSink(repo, cfg.Sandbox.AuditBufferSize, cfg.Sandbox.AuditFlushInterval, logger)
		batch.Start()
		defer batch.Stop() // Drain: остаток буфера дописывается при выходе
		sink = batch
		archive = repo
		logger.Info("audit export enabled", zap.Int("buffer", cfg.Sandbox.AuditBufferSize))
	} else {
		logger.Warn("database.url is empty: audit chain lives in RAM only")
	}

	// 3. Метрики
	reg := prometheus.NewRegistry()
	metrics := sandbox.NewMetrics(reg)

	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		addr := fmt.Sprintf(":%d", cfg.Server.MetricsPort)
		logger.Info("metrics endpoint started", zap.String("addr", addr))
		if err := http.ListenAndServe(addr, mux); err != nil {
			logger.Error("metrics server stopped", zap.Error(err))
		}
	}()

	// 4. Провайдеры. Внешние эффекты (сеть, кошелек) — под Reliability
	// (Retries, Circuit Breaker); локальные файлы и лог — напрямую.
	providers := provider.NewRegistry()
	providers.Register(domain.KindLog, provider.NewLogProvider(logger))

	files := provider.NewFileProviders(cfg.Sandbox.SandboxDir)
	providers.Register(domain.KindFileRead, files.Read())
	providers.Register(domain.KindFileWrite, files.Write())

	fetch := provider.NewReliability(provider.NewFetchProvider(nil), provider.ReliabilitySettings{Name: "fetch"})
	providers.Register(domain.KindNetworkFetch, fetch)

	providers.Register(domain.KindSpawnProcess, provider.NewSpawnProvider(cfg.Sandbox.SandboxDir))

	transfer := provider.NewReliability(provider.NewTransferProvider(logger), provider.ReliabilitySettings{Name: "transfer"})
	providers.Register(domain.KindTransfer, transfer)

	if repo != nil {
		dbp := provider.NewDBProviders(repo.DB())
		providers.Register(domain.KindReadDB, dbp.Read())
		providers.Register(domain.KindWriteDB, dbp.Write())
	}

	// 5. Ядро
	facade := sandbox.New(cfg.Sandbox, providers, sink, metrics, logger)
	facade.StartJanitor(appCtx, time.Second)

	// Фоновый опрос состояния предохранителей и буфера аудита
	go pollHealthGauges(appCtx, metrics, sink, map[string]*provider.Reliability{
		"fetch":    fetch,
		"transfer": transfer,
	})

	// 6. Redis (опционально): решения оператора через Pub/Sub
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		listener := sandbox.NewDecisionListener(facade, rdb, logger)
		go listener.Listen(appCtx)
		logger.Info("redis decision listener started", zap.String("addr", cfg.Redis.Addr))
	}

	// 7. Периметр: RS256, если дали публичный ключ
	var validator auth.TokenValidator
	if len(cfg.Auth.PublicKey) > 0 {
		pubKey, err := auth.ParseRSAPublicKey(cfg.Auth.PublicKey)
		if err != nil {
			logger.Fatal("auth public key invalid", zap.Error(err))
		}
		validator = auth.NewBaseValidator(pubKey)
		logger.Info("perimeter auth enabled (RS256)")
	} else {
		logger.Warn("perimeter auth disabled: no public key configured")
	}

	// 8. HTTP Server
	api := server.New(cfg, facade, archive, validator, logger)
	srv := &http.Server{
		Addr:         api.Addr(),
		Handler:      api,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// 9. Graceful Shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		logger.Info("freedom sandbox started",
			zap.String("addr", srv.Addr),
			zap.String("agent_id", cfg.Sandbox.AgentID),
			zap.Bool("allow_live", cfg.Sandbox.AllowLive),
		)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("listen failed", zap.Error(err))
		}
	}()

	<-stop // Ждем сигнал
	logger.Info("shutting down...")

	// Даем 5 секунд на завершение запросов; затем defer'ы дольют аудит и
	// закроют пул
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", zap.Error(err))
	}
	logger.Info("freedom sandbox exited properly")
}

// pollHealthGauges снимает saturation-метрики раз в секунду:
// состояние Circuit Breaker по провайдерам и заполненность буфера аудита.
func pollHealthGauges(ctx context.Context, m *sandbox.Metrics, sink audit.Sink, wrapped map[string]*provider.Reliability) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	batch, _ := sink.(*audit.BatchSink)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for name, w := range wrapped {
				var open float64
				if w.State() == gobreaker.StateOpen {
					open = 1
				}
				m.CircuitBreakerState.WithLabelValues(name).Set(open)
			}
			if batch != nil {
				m.AuditBufferFill.Set(float64(batch.Pending()))
			}
		}
	}
}
