package app

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"coinwatch/internal/alerting"
	"coinwatch/internal/config"
	"coinwatch/internal/fetcher"
	"coinwatch/internal/scheduler"
	"coinwatch/internal/service"
	"coinwatch/internal/storage"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger()}
}

func (a *App) newFetcher() fetcher.MarketFetcher {
	return fetcher.NewCoinGecko(fetcher.Options{
		BaseURL:        a.Config.CoinGecko.BaseURL,
		VsCurrency:     a.Config.CoinGecko.VsCurrency,
		Timeout:        a.Config.CoinGecko.RequestTimeout,
		MaxAttempts:    a.Config.CoinGecko.MaxAttempts,
		InitialBackoff: a.Config.CoinGecko.InitialBackoff,
		UserAgent:      a.Config.CoinGecko.UserAgent,
	}, a.Logger)
}

func (a *App) newChannels() []alerting.Channel {
	var channels []alerting.Channel
	for _, name := range a.Config.Alerting.Channels {
		switch name {
		case "telegram":
			if a.Config.Alerting.Telegram.Enabled {
				cfg := a.Config.Alerting.Telegram
				channels = append(channels, alerting.NewTelegramChannel(cfg.BotToken, cfg.ChatID, cfg.APIBase, a.Config.Alerting.ChannelTimeout, a.Logger))
			}
		case "email":
			if a.Config.Alerting.Email.Enabled {
				cfg := a.Config.Alerting.Email
				channels = append(channels, alerting.NewEmailChannel(alerting.EmailOptions{
					Host:     cfg.Host,
					Port:     cfg.Port,
					Username: cfg.Username,
					Password: cfg.Password,
					From:     cfg.From,
					To:       cfg.To,
				}, a.Logger))
			}
		default:
			a.Logger.Warn().Str("channel", name).Msg("unknown alert channel ignored")
		}
	}
	return channels
}

func (a *App) newEngine() *alerting.Engine {
	if !a.Config.Alerting.Enabled {
		return nil
	}
	return alerting.NewEngine(alerting.EngineOptions{
		PriceDropPct:   decimal.NewFromFloat(a.Config.Alerting.PriceDropPct),
		VolumeSpikePct: decimal.NewFromFloat(a.Config.Alerting.VolumeSpikePct),
		Change24hPct:   decimal.NewFromFloat(a.Config.Alerting.Change24hPct),
		Lookback:       a.Config.Alerting.Lookback,
		VolumeBaseline: a.Config.Alerting.VolumeBaseline,
	}, a.Logger)
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, errors.New("database.dsn is not configured")
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

func (a *App) newService(sched *scheduler.Scheduler, store *storage.Store) *service.Service {
	var dispatcher *alerting.Dispatcher
	if channels := a.newChannels(); len(channels) > 0 {
		dispatcher = alerting.NewDispatcher(channels, store, a.Config.Alerting.ChannelTimeout, a.Logger)
	}
	return service.New(a.Config, sched, a.newFetcher(), a.newEngine(), dispatcher, store, store, a.Logger)
}

// Run executes the long-running ingestion service.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	sched := scheduler.New(scheduler.Options{
		Interval:        a.Config.Scheduler.Interval,
		AlignToInterval: a.Config.Scheduler.AlignToInterval,
		StartupDelay:    a.Config.Scheduler.StartupDelay,
	}, a.Logger)

	svc := a.newService(sched, store)

	a.Logger.Info().Msg("starting ingestion service")
	err = svc.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("service terminated with error")
		return err
	}

	a.Logger.Info().Msg("ingestion service stopped")
	return nil
}

// Once executes a single pipeline run and exits; suited to external
// schedulers such as cron.
func (a *App) Once(ctx context.Context) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	svc := a.newService(nil, store)

	runAt := time.Now().UTC()
	if err := svc.ProcessRun(ctx, runAt); err != nil {
		return fmt.Errorf("run at %s: %w", runAt.Format(time.RFC3339), err)
	}
	return nil
}

// ExportOptions hold parameters for exporting one coin's history.
type ExportOptions struct {
	CoinID    string
	From      *time.Time
	To        *time.Time
	PNGPath   string
	CSVPath   string
	MaxPoints int
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Limit  int
	Errors bool
}
