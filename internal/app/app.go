package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/pvzzle/nonceguard/internal/bus"
	"github.com/pvzzle/nonceguard/internal/chain"
	"github.com/pvzzle/nonceguard/internal/ethwatch"
	"github.com/pvzzle/nonceguard/internal/logger"
	"github.com/pvzzle/nonceguard/internal/metrics"
	"github.com/pvzzle/nonceguard/internal/races"
	"github.com/pvzzle/nonceguard/internal/storage"
	"github.com/pvzzle/nonceguard/internal/storage/pg"
	"github.com/pvzzle/nonceguard/internal/tg"

	tgbot "github.com/go-telegram/bot"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const notifyDrainTimeout = 5 * time.Second

func Run(ctx context.Context) error {
	cfg, warning, err := LoadConfig()
	if err != nil {
		return err
	}

	log, err := logger.New(cfg.AppEnv)
	if err != nil {
		return fmt.Errorf("logger init: %w", err)
	}
	defer func() { _ = log.Sync() }()

	if warning != "" {
		log.Warn(warning)
	}

	account, err := cfg.Account()
	if err != nil {
		return err
	}

	client, err := chain.Dial(ctx, cfg.EthWSURL, chain.Options{
		ChainID:   cfg.ChainIDOrNil(),
		LookupRPS: cfg.LookupRPS,
		Logger:    log,
	})
	if err != nil {
		return fmt.Errorf("dial eth ws: %w", err)
	}
	defer client.Close()

	chainID := client.ChainID()
	network := chain.NetworkName(chainID)

	repo, closeRepo, err := openRepository(ctx, cfg.PostgresURL, log)
	if err != nil {
		return err
	}
	defer closeRepo()

	wm := metrics.NewWatcherMetrics()
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	if err := wm.Register(reg); err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}
	stopMetrics := serveMetrics(cfg.MetricsAddr, reg, log)
	defer stopMetrics()

	registry := races.NewRegistry(cfg.NonceDedup)

	var notifyCh chan bus.Notification
	if cfg.TelegramToken != "" {
		notifyCh = make(chan bus.Notification, cfg.NotifyBuffer)
	}

	watcher := ethwatch.NewWatcher(client, account, registry, notifyCh, repo, wm, log, ethwatch.WatcherConfig{
		Workers:     cfg.WatcherWorkers,
		TasksBuffer: cfg.TasksBuffer,
		BumpPercent: cfg.FeeBumpPercent,
		ChainID:     chainID,
	})

	// бот живёт чуть дольше вотчера, чтобы успеть отправить последнее уведомление
	botCtx, stopBot := context.WithCancel(context.WithoutCancel(ctx))
	defer stopBot()

	if cfg.TelegramToken != "" {
		b, err := tgbot.New(cfg.TelegramToken,
			tgbot.WithMiddlewares(tg.OperatorOnly(cfg.TelegramChatID, log)),
			tgbot.WithWorkers(4),
			tgbot.WithNotAsyncHandlers(),
		)
		if err != nil {
			return fmt.Errorf("telegram bot init: %w", err)
		}

		svc := tg.NewService(b, cfg.TelegramChatID, account.Address, network, watcher, registry, notifyCh, repo, log)
		go svc.StartNotifyLoop(botCtx)
		go b.Start(botCtx)
	}

	log.Info("started",
		zap.String("network", network),
		zap.Stringer("chain_id", chainID),
		zap.Stringer("account", account.Address),
		zap.Int64("fee_bump_percent", cfg.FeeBumpPercent),
		zap.Int("workers", cfg.WatcherWorkers),
		zap.Bool("nonce_dedup", cfg.NonceDedup),
	)

	err = watcher.Start(ctx)
	if !errors.Is(err, context.Canceled) {
		log.Error("watcher stopped", zap.Error(err))
		waitDrained(notifyCh, notifyDrainTimeout)
	}
	return err
}

func openRepository(ctx context.Context, dsn string, log *zap.Logger) (storage.Repository, func(), error) {
	if dsn == "" {
		log.Info("POSTGRES_URL not set, race history is not persisted")
		return storage.Nop{}, func() {}, nil
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("pgxpool new: %w", err)
	}

	repo := pg.New(pool)
	if err := repo.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("ensure schema: %w", err)
	}
	return repo, pool.Close, nil
}

func serveMetrics(addr string, reg *prometheus.Registry, log *zap.Logger) func() {
	if addr == "" {
		return func() {}
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics server", zap.Error(err))
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}

func waitDrained(ch chan bus.Notification, timeout time.Duration) {
	if ch == nil {
		return
	}
	deadline := time.Now().Add(timeout)
	for len(ch) > 0 && time.Now().Before(deadline) {
		time.Sleep(50 * time.Millisecond)
	}
}
