// Package app wires configuration into running market schedulers.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"volume_miner/internal/domain"
	"volume_miner/internal/engine"
	"volume_miner/internal/execution"
	"volume_miner/internal/infra"
	"volume_miner/internal/infra/bitget"
	"volume_miner/internal/infra/notify"
	"volume_miner/internal/infra/redislock"
	"volume_miner/internal/infra/storage"
	"volume_miner/internal/infra/wallet"
)

// Options come from the command line and override the config file.
type Options struct {
	ConfigPath string
	LogLevel   string
	Paper      bool
}

// Bootstrap orchestrates the application startup sequence
type Bootstrap struct {
	opts Options

	Config     *infra.Config
	Logger     *slog.Logger
	Metrics    *infra.Metrics
	Storage    *storage.Storage
	Notifier   *notify.Notifier
	Prices     domain.PriceSource
	Venue      domain.TradingVenue
	Schedulers []*engine.MarketScheduler

	stream *bitget.StreamSource
	locker *redislock.Locker
}

// NewBootstrap creates a new Bootstrap instance
func NewBootstrap(opts Options) *Bootstrap {
	return &Bootstrap{opts: opts, Metrics: infra.GlobalMetrics}
}

// Initialize loads configuration and builds every component. The venue
// session is opened here; when that fails nothing is scheduled.
func (b *Bootstrap) Initialize(ctx context.Context) error {
	// 1. Load Config
	cfg, err := infra.LoadConfig(infra.ResolveConfigPath(b.opts.ConfigPath))
	if err != nil {
		return err
	}
	if b.opts.LogLevel != "" {
		cfg.General.LogLevel = b.opts.LogLevel
	}
	if b.opts.Paper {
		cfg.O2.Mode = execution.ModePaper
	}
	b.Config = cfg

	// 2. Setup Logger
	b.Logger = infra.NewLogger(cfg.General.LogLevel, cfg.General.LogDir)
	slog.SetDefault(b.Logger)
	b.Logger.Info("🚀 Bootstrapping volume miner...",
		slog.String("mode", cfg.O2.Mode),
		slog.Int("markets", len(cfg.O2.Markets)),
	)

	// 3. Incident store
	store, err := storage.NewStorage(cfg.Storage.IncidentsDB)
	if err != nil {
		return err
	}
	b.Storage = store
	b.Logger.Info("✅ Incident store ready")
	b.warnOpenIncidents(ctx)

	// 4. Notifier
	b.Notifier = notify.NewNotifier(b.Logger, senders(cfg.Notify)...)

	// 5. Price source
	if err := b.initPrices(ctx); err != nil {
		return err
	}

	// 6. Venue + session
	venue, err := execution.NewVenue(cfg.O2.Mode, cfg.O2.BaseURL)
	if err != nil {
		return err
	}
	signer, err := wallet.New(cfg.O2.Account.Type, cfg.O2.Account.PrivateKey)
	if err != nil {
		return fmt.Errorf("wallet: %w", err)
	}
	err = venue.InitSession(ctx, domain.SessionParams{
		Signer:          signer,
		NetworkURL:      cfg.O2.NetworkURL,
		TradingContract: cfg.O2.TradingContract,
	})
	if err != nil {
		return fmt.Errorf("%w: %w", domain.ErrNotInitialized, err)
	}
	b.Venue = venue
	b.Logger.Info("✅ Venue session ready", slog.String("owner", signer.Address()))

	// 7. Optional distributed guard
	if cfg.Guard.RedisAddr != "" {
		locker, err := redislock.New(ctx, redislock.Config{
			Addr:     cfg.Guard.RedisAddr,
			Password: cfg.Guard.RedisPassword,
			DB:       cfg.Guard.RedisDB,
		})
		if err != nil {
			return err
		}
		b.locker = locker
		b.Logger.Info("✅ Distributed cycle lock enabled", slog.String("redis", cfg.Guard.RedisAddr))
	}

	// 8. One cycle + scheduler per market
	return b.buildSchedulers()
}

func senders(cfg infra.NotifyConfig) []notify.Sender {
	var out []notify.Sender
	if cfg.Telegram.Token != "" {
		out = append(out, notify.NewTelegramSender("", cfg.Telegram.Token, cfg.Telegram.ChatID))
	}
	if cfg.Discord.WebhookURL != "" {
		out = append(out, notify.NewDiscordSender(cfg.Discord.WebhookURL))
	}
	return out
}

func (b *Bootstrap) initPrices(ctx context.Context) error {
	cfg := b.Config.Bitget
	rest := bitget.NewClient(cfg.RestURL)

	if cfg.Mode != "stream" {
		b.Prices = rest
		b.Logger.Info("✅ Bitget REST price source ready")
		return nil
	}

	stream := bitget.NewStreamSource(cfg.WSURL, b.Config.BitgetSymbols(), cfg.StaleAfter(),
		bitget.WithFallback(rest),
		bitget.WithStreamMetrics(b.Metrics),
	)
	if err := stream.Connect(ctx); err != nil {
		return err
	}
	b.stream = stream
	b.Prices = stream
	b.Logger.Info("✅ Bitget stream price source started")
	return nil
}

func (b *Bootstrap) buildSchedulers() error {
	cfg := b.Config
	policy := engine.RetryPolicy{
		MaxAttempts: cfg.Retry.SellMaxAttempts,
		Delay:       cfg.Retry.SellDelay(),
		Multiplier:  cfg.Retry.SellBackoffMultiplier,
		MaxDelay:    cfg.Retry.SellMaxDelay(),
	}

	alerters := []domain.Alerter{b.Storage}
	if b.Notifier.Enabled() {
		alerters = append(alerters, b.Notifier)
	}

	for _, mc := range cfg.O2.Markets {
		cycle, err := engine.NewMarketCycle(mc, b.Prices, b.Venue,
			engine.WithRetryPolicy(policy),
			engine.WithAlerters(alerters...),
			engine.WithMetrics(b.Metrics),
			engine.WithLogger(b.Logger),
			engine.WithUSDCSymbol(cfg.Bitget.USDCUSDTSymbol),
		)
		if err != nil {
			return err
		}

		opts := []engine.SchedulerOption{
			engine.WithSchedulerMetrics(b.Metrics),
			engine.WithSchedulerLogger(b.Logger),
		}
		if b.locker != nil {
			opts = append(opts, engine.WithLocker(b.locker, cfg.Guard.LockTTL()))
		}
		b.Schedulers = append(b.Schedulers, engine.NewMarketScheduler(mc.ID, mc.CycleInterval(), cycle, opts...))
	}
	return nil
}

// Run starts every scheduler and blocks until ctx is done. In-flight cycles
// are then drained for up to the configured grace period.
func (b *Bootstrap) Run(ctx context.Context) error {
	b.notify(ctx, "volume-miner started", fmt.Sprintf("mode=%s markets=%d", b.Config.O2.Mode, len(b.Schedulers)))
	g, gctx := errgroup.WithContext(ctx)
	for _, s := range b.Schedulers {
		g.Go(func() error { return s.Run(gctx) })
	}
	g.Go(func() error {
		b.reportMetrics(gctx)
		return nil
	})

	b.Logger.Info("✨ Volume miner operational", slog.Int("markets", len(b.Schedulers)))
	runErr := g.Wait()

	b.Logger.Info("👋 Draining in-flight cycles...", slog.Duration("grace", b.Config.General.ShutdownGrace()))
	drainErr := b.drain()
	snap := b.Metrics.Snapshot()
	b.Logger.Info("METRICS_FINAL", slog.Any("metrics", snap))

	// ctx is already done here
	stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	b.notify(stopCtx, "volume-miner stopped", fmt.Sprintf("cycles=%d aborted=%d sell_exhausted=%d",
		snap.CyclesCompleted+snap.CyclesAborted, snap.CyclesAborted, snap.SellExhausted))

	return errors.Join(runErr, drainErr)
}

func (b *Bootstrap) notify(ctx context.Context, title, message string) {
	if !b.Notifier.Enabled() {
		return
	}
	if err := b.Notifier.Send(ctx, title, message); err != nil {
		b.Logger.Warn("NOTIFY_FAILED", slog.String("title", title), slog.Any("error", err))
	}
}

// warnOpenIncidents reminds the operator of incidents left from earlier runs.
func (b *Bootstrap) warnOpenIncidents(ctx context.Context) {
	open, err := b.Storage.ListUnresolved(ctx)
	if err != nil {
		b.Logger.Warn("INCIDENT_LIST_FAILED", slog.Any("error", err))
		return
	}
	for _, inc := range open {
		b.Logger.Warn("OPEN_INCIDENT",
			slog.String("id", inc.ID),
			slog.String("market", inc.MarketID),
			slog.String("kind", string(inc.Kind)),
			slog.Time("created_at", inc.CreatedAt),
		)
	}
	if len(open) > 0 {
		b.Logger.Warn("⚠️ Unresolved incidents need reconciliation", slog.Int("count", len(open)))
	}
}

func (b *Bootstrap) drain() error {
	ctx, cancel := context.WithTimeout(context.Background(), b.Config.General.ShutdownGrace())
	defer cancel()

	var errs []error
	for _, s := range b.Schedulers {
		if err := s.Wait(ctx); err != nil {
			b.Logger.Error("DRAIN_TIMEOUT", slog.Any("error", err))
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (b *Bootstrap) reportMetrics(ctx context.Context) {
	interval := b.Config.General.MetricsInterval()
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.Logger.Info("METRICS", slog.Any("metrics", b.Metrics.Snapshot()))
		}
	}
}

// Close releases connections opened by Initialize.
func (b *Bootstrap) Close() {
	if b.stream != nil {
		b.stream.Disconnect()
	}
	if b.locker != nil {
		_ = b.locker.Close()
	}
	if b.Storage != nil {
		_ = b.Storage.Close()
	}
}
