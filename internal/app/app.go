package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	tg "github.com/go-telegram/bot"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"token-buy-alerts/internal/alerting"
	"token-buy-alerts/internal/config"
	"token-buy-alerts/internal/explorer"
	"token-buy-alerts/internal/ledger"
	"token-buy-alerts/internal/monitor"
	"token-buy-alerts/internal/notifier"
	"token-buy-alerts/internal/pricing"
	"token-buy-alerts/internal/server"
	"token-buy-alerts/internal/storage"
	"token-buy-alerts/internal/telegram"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger

	mon   *monitor.Monitor
	notif *notifier.Telegram
	fmtr  *alerting.Formatter
	expl  *explorer.Client
	token *pricing.Resolver
	pair  *pricing.Pair
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger()}
}

func (a *App) newExplorer() *explorer.Client {
	cfg := a.Config.Explorer
	return explorer.New(explorer.Options{
		BaseURL:        cfg.BaseURL,
		APIKey:         cfg.APIKey,
		Contract:       cfg.ContractAddress,
		Watched:        cfg.WatchedAddress,
		PageSize:       cfg.PageSize,
		Timeout:        cfg.RequestTimeout,
		CacheTTL:       cfg.CacheTTL,
		SupplyFallback: decimal.NewFromFloat(a.Config.Alert.SupplyCap),
		TokenDecimals:  a.Config.Alert.TokenDecimals,
	}, a.Logger)
}

// newResolvers builds the native coin resolver and the token price
// resolver with the configured source chain.
func (a *App) newResolvers() (*pricing.Resolver, *pricing.Resolver, error) {
	pcfg := a.Config.Pricing

	nativeOpts := pricing.Options{
		Attempts:  pcfg.RetryAttempts,
		BaseDelay: pcfg.RetryBaseDelay,
		CacheTTL:  pcfg.CacheTTL,
		Fallback:  decimal.NewFromFloat(pcfg.FallbackNativePrice),
	}
	native := pricing.NewResolver(pcfg.NativeSymbol, []pricing.Source{
		pricing.NewGecko(pricing.GeckoOptions{
			BaseURL:      pcfg.GeckoBaseURL,
			Network:      pcfg.GeckoNetwork,
			TokenAddress: pcfg.NativeTokenAddress,
			Timeout:      pcfg.RequestTimeout,
		}),
	}, nativeOpts, a.Logger)

	sources := make([]pricing.Source, 0, len(pcfg.Sources))
	for _, name := range pcfg.Sources {
		switch name {
		case "gecko":
			sources = append(sources, pricing.NewGecko(pricing.GeckoOptions{
				BaseURL:      pcfg.GeckoBaseURL,
				Network:      pcfg.GeckoNetwork,
				TokenAddress: a.Config.Explorer.ContractAddress,
				Timeout:      pcfg.RequestTimeout,
			}))
		case "cmc":
			sources = append(sources, pricing.NewCMC(pricing.CMCOptions{
				BaseURL: pcfg.CMCBaseURL,
				APIKey:  pcfg.CMCAPIKey,
				Symbol:  a.Config.Alert.TokenSymbol,
				Timeout: pcfg.RequestTimeout,
			}))
		case "pair":
			pair := pricing.NewPair(pricing.PairOptions{
				RPCURL:        pcfg.RPCURL,
				PairAddress:   pcfg.PairAddress,
				TokenAddress:  a.Config.Explorer.ContractAddress,
				TokenDecimals: a.Config.Alert.TokenDecimals,
				Timeout:       pcfg.RequestTimeout,
			}, native)
			a.pair = pair
			sources = append(sources, pair)
		case "static":
			sources = append(sources, pricing.NewStatic(decimal.NewFromFloat(pcfg.FallbackTokenPrice)))
		default:
			return nil, nil, fmt.Errorf("pricing.sources: unknown source %q", name)
		}
	}

	tokenOpts := pricing.Options{
		Attempts:  pcfg.RetryAttempts,
		BaseDelay: pcfg.RetryBaseDelay,
		CacheTTL:  pcfg.CacheTTL,
		Fallback:  decimal.NewFromFloat(pcfg.FallbackTokenPrice),
	}
	token := pricing.NewResolver(a.Config.Alert.TokenSymbol, sources, tokenOpts, a.Logger)

	return token, native, nil
}

func (a *App) newFormatter() *alerting.Formatter {
	acfg := a.Config.Alert
	thresholds := make([]decimal.Decimal, len(acfg.ThresholdsUSD))
	for i, t := range acfg.ThresholdsUSD {
		thresholds[i] = decimal.NewFromFloat(t)
	}
	return alerting.New(alerting.Options{
		TokenSymbol:   acfg.TokenSymbol,
		TokenDecimals: acfg.TokenDecimals,
		MinUSD:        decimal.NewFromFloat(acfg.MinUSD),
		ThresholdsUSD: thresholds,
		ChatID:        a.Config.Telegram.ChatID,
		VideoBaseURL:  acfg.VideoBaseURL,
		Videos:        acfg.Videos,
		TxURLPrefix:   acfg.TxURLPrefix,
		BuyURL:        acfg.BuyURL,
		ChartURL:      acfg.ChartURL,
		StakingURL:    acfg.StakingURL,
	})
}

func (a *App) newBot() (*tg.Bot, error) {
	return tg.New(a.Config.Telegram.BotToken)
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, nil
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}

	store := storage.NewStore(pool)
	closer := func() {
		store.Close()
	}
	return store, closer, nil
}

// Run executes the long-running alerting service.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		a.Logger.Warn().Msg("database.dsn not configured; alert auditing disabled")
	}
	if closeStore != nil {
		defer closeStore()
	}

	led, err := ledger.Open(a.Config.Ledger.Path, a.Logger)
	if err != nil {
		return err
	}
	defer led.Close()

	a.expl = a.newExplorer()
	token, _, err := a.newResolvers()
	if err != nil {
		return err
	}
	a.token = token
	a.fmtr = a.newFormatter()

	bot, err := a.newBot()
	if err != nil {
		return fmt.Errorf("create bot: %w", err)
	}

	a.notif = notifier.NewTelegram(bot, notifier.Options{}, a.Logger)

	var alertStore storage.AlertStore
	if store != nil {
		alertStore = store
	}

	a.mon = monitor.New(monitor.Options{
		PollInterval:    a.Config.Monitor.PollInterval,
		StartupDelay:    a.Config.Monitor.StartupDelay,
		ErrorBufferSize: a.Config.Monitor.ErrorBufferSize,
		TokenDecimals:   a.Config.Alert.TokenDecimals,
	}, a.expl, token, led, a.fmtr, a.notif, alertStore, a.Logger)

	handler := telegram.New(bot, a, a.Config.Telegram.AdminChatID, a.Logger)
	handler.Register()

	webhook := a.Config.Telegram.WebhookBaseURL != ""
	if webhook {
		url := a.Config.Telegram.WebhookBaseURL + "/webhook"
		if _, err := bot.SetWebhook(ctx, &tg.SetWebhookParams{URL: url}); err != nil {
			return fmt.Errorf("set webhook: %w", err)
		}
		a.Logger.Info().Str("url", url).Msg("webhook registered")
		go bot.StartWebhook(ctx)
	} else {
		if _, err := bot.DeleteWebhook(ctx, &tg.DeleteWebhookParams{DropPendingUpdates: true}); err != nil {
			a.Logger.Warn().Err(err).Msg("delete webhook failed, long polling may stall")
		}
		go bot.Start(ctx)
	}

	if a.Config.Monitor.StartTracking {
		if err := a.mon.Start(ctx); err != nil {
			return err
		}
	}

	checks := map[string]server.HealthCheck{
		"telegram": func(ctx context.Context) error {
			_, err := bot.GetMe(ctx)
			return err
		},
		"explorer": func(ctx context.Context) error {
			_, err := a.expl.LatestBlock(ctx)
			return err
		},
	}
	if a.pair != nil {
		checks["rpc"] = a.pair.Ping
	}

	var webhookHandler http.Handler
	if webhook {
		webhookHandler = bot.WebhookHandler()
	}
	srv := server.New(server.Options{ListenAddr: a.Config.Server.ListenAddr}, webhookHandler, checks, a.expl, a.Logger)

	a.Logger.Info().Msg("starting alerting service")
	err = srv.Run(ctx)

	a.mon.Stop()

	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("service terminated with error")
		return err
	}

	a.Logger.Info().Msg("alerting service stopped")
	return nil
}

// StartTracking launches the polling loop.
func (a *App) StartTracking(ctx context.Context) error {
	if a.mon == nil {
		return errors.New("monitor not initialised")
	}
	return a.mon.Start(ctx)
}

// StopTracking halts the polling loop.
func (a *App) StopTracking() {
	if a.mon != nil {
		a.mon.Stop()
	}
}

// Status reports the monitor snapshot.
func (a *App) Status() monitor.Snapshot {
	if a.mon == nil {
		return monitor.Snapshot{State: monitor.StateIdle}
	}
	return a.mon.Status()
}

// SetNoVideo toggles video delivery.
func (a *App) SetNoVideo(enabled bool) {
	if a.notif != nil {
		a.notif.SetNoVideo(enabled)
	}
}

var _ telegram.Controller = (*App)(nil)

// ExportOptions hold parameters for exporting the alert history.
type ExportOptions struct {
	From      *time.Time
	To        *time.Time
	PNGPath   string
	CSVPath   string
	MaxPoints int
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Limit int
}

// ReplayOptions configure the replay job.
type ReplayOptions struct {
	FromBlock int64
	ToBlock   int64
	DryRun    bool
}
