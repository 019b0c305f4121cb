package app

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"coinwatch/internal/alerting"
	"coinwatch/internal/storage"
)

// SimulateAlerts 构造一对合成快照并走完真实的告警评估与推送流程。
// No store is touched; the synthetic scenario trips every rule once so
// channel wiring can be verified end to end.
func (a *App) SimulateAlerts(ctx context.Context) error {
	if !a.Config.Alerting.Enabled {
		return errors.New("alerting 未启用")
	}

	channels := a.newChannels()
	if len(channels) == 0 {
		return errors.New("未配置任何告警通道")
	}

	engine := a.newEngine()
	dispatcher := alerting.NewDispatcher(channels, nil, a.Config.Alerting.ChannelTimeout, a.Logger)

	now := time.Now().UTC()
	prior := []storage.PriceRecord{
		simRecord("bitcoin", 100000, 2_000_000_000, 30_000_000, 1.0, now.Add(-10*time.Minute)),
		simRecord("ethereum", 4000, 1_800_000_000, 20_000_000, 0.5, now.Add(-10*time.Minute)),
	}
	current := []storage.PriceRecord{
		simRecord("bitcoin", 90000, 1_700_000_000, 50_000_000, -12.0, now),
		simRecord("ethereum", 4100, 1_900_000_000, 21_000_000, 2.0, now),
	}

	priorLatest := make(map[string]storage.PriceRecord, len(prior))
	for _, rec := range prior {
		priorLatest[rec.CoinID] = rec
	}

	events := engine.Evaluate(current, priorLatest, prior)
	if len(events) == 0 {
		return errors.New("simulation produced no events; thresholds may be off")
	}

	a.Logger.Info().Int("events", len(events)).Msg("dispatching simulated alerts")
	dispatcher.Dispatch(ctx, events)
	return nil
}

func simRecord(coinID string, price, marketCap, volume, change24h float64, ingestedAt time.Time) storage.PriceRecord {
	return storage.PriceRecord{
		CoinID:            coinID,
		Symbol:            coinID[:3],
		Name:              coinID,
		CurrentPrice:      decimal.NewFromFloat(price),
		MarketCap:         decimal.NewFromFloat(marketCap),
		TotalVolume:       decimal.NewFromFloat(volume),
		PriceChangePct24h: decimal.NewFromFloat(change24h),
		IngestedAt:        ingestedAt,
	}
}
