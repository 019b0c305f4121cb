package alerting

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coinwatch/internal/config"
	"coinwatch/internal/storage"
)

func defaultEngine() *Engine {
	return NewEngine(EngineOptions{
		PriceDropPct:   decimal.NewFromInt(-5),
		VolumeSpikePct: decimal.NewFromInt(50),
		Change24hPct:   decimal.NewFromInt(-10),
		Lookback:       time.Hour,
		VolumeBaseline: config.VolumeBaselineWindowAverage,
	}, zerolog.Nop())
}

func record(coinID string, price, marketCap, volume, change24h float64) storage.PriceRecord {
	return storage.PriceRecord{
		CoinID:            coinID,
		CurrentPrice:      decimal.NewFromFloat(price),
		MarketCap:         decimal.NewFromFloat(marketCap),
		TotalVolume:       decimal.NewFromFloat(volume),
		PriceChangePct24h: decimal.NewFromFloat(change24h),
		IngestedAt:        time.Now().UTC(),
	}
}

func latestOf(records ...storage.PriceRecord) map[string]storage.PriceRecord {
	latest := make(map[string]storage.PriceRecord, len(records))
	for _, rec := range records {
		latest[rec.CoinID] = rec
	}
	return latest
}

func eventsOfKind(events []Event, kind Kind) []Event {
	var out []Event
	for _, ev := range events {
		if ev.Kind == kind {
			out = append(out, ev)
		}
	}
	return out
}

func TestPriceDropAgainstWindowPeak(t *testing.T) {
	engine := defaultEngine()
	window := []storage.PriceRecord{
		record("bitcoin", 98, 1e12, 1e9, 0),
		record("bitcoin", 100, 1e12, 1e9, 0), // window peak
		record("bitcoin", 99, 1e12, 1e9, 0),
	}

	cases := []struct {
		name  string
		price float64
		fires bool
	}{
		{"six percent drop fires", 94, true},
		{"four percent drop does not fire", 96, false},
		{"exactly five percent fires (boundary inclusive)", 95, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			current := []storage.PriceRecord{record("bitcoin", tc.price, 1e12, 1e9, 0)}
			events := eventsOfKind(engine.Evaluate(current, nil, window), KindPriceDrop)

			if !tc.fires {
				assert.Empty(t, events)
				return
			}
			require.Len(t, events, 1)
			assert.Equal(t, "bitcoin", events[0].CoinID)
			assert.True(t, events[0].MetricBefore.Equal(decimal.NewFromInt(100)), "before metric should be the window peak")
			assert.True(t, events[0].MetricAfter.Equal(decimal.NewFromFloat(tc.price)))
		})
	}
}

func TestPriceDropNeedsWindowHistory(t *testing.T) {
	engine := defaultEngine()
	current := []storage.PriceRecord{record("bitcoin", 50, 1e12, 1e9, 0)}

	events := eventsOfKind(engine.Evaluate(current, nil, nil), KindPriceDrop)
	assert.Empty(t, events, "no window history, no comparison baseline")
}

func TestWindowRecordsOutsideLookbackAreIgnored(t *testing.T) {
	engine := defaultEngine()
	now := time.Now().UTC()

	stale := record("bitcoin", 100, 1e12, 1e9, 0)
	stale.IngestedAt = now.Add(-2 * time.Hour) // beyond the 1h lookback
	fresh := record("bitcoin", 96, 1e12, 1e9, 0)
	fresh.IngestedAt = now.Add(-10 * time.Minute)

	current := record("bitcoin", 94, 1e12, 1e9, 0)
	current.IngestedAt = now

	events := eventsOfKind(
		engine.Evaluate([]storage.PriceRecord{current}, nil, []storage.PriceRecord{stale, fresh}),
		KindPriceDrop,
	)

	// against the fresh peak of 96 the drop is only ~2%; the stale peak of
	// 100 must not count
	assert.Empty(t, events)
}

func TestVolumeSpikeAgainstWindowAverage(t *testing.T) {
	engine := defaultEngine()
	window := []storage.PriceRecord{
		record("bitcoin", 100, 1e12, 900, 0),
		record("bitcoin", 100, 1e12, 1100, 0), // average 1000
	}

	fires := []storage.PriceRecord{record("bitcoin", 100, 1e12, 1500, 0)} // +50% exactly
	events := eventsOfKind(engine.Evaluate(fires, nil, window), KindVolumeSpike)
	require.Len(t, events, 1)
	assert.True(t, events[0].MetricBefore.Equal(decimal.NewFromInt(1000)))

	quiet := []storage.PriceRecord{record("bitcoin", 100, 1e12, 1400, 0)} // +40%
	events = eventsOfKind(engine.Evaluate(quiet, nil, window), KindVolumeSpike)
	assert.Empty(t, events)
}

func TestVolumeSpikePreviousTickBaseline(t *testing.T) {
	engine := NewEngine(EngineOptions{
		PriceDropPct:   decimal.NewFromInt(-5),
		VolumeSpikePct: decimal.NewFromInt(50),
		Change24hPct:   decimal.NewFromInt(-10),
		Lookback:       time.Hour,
		VolumeBaseline: config.VolumeBaselinePreviousTick,
	}, zerolog.Nop())

	prior := latestOf(record("bitcoin", 100, 1e12, 1000, 0))
	current := []storage.PriceRecord{record("bitcoin", 100, 1e12, 1600, 0)}

	events := eventsOfKind(engine.Evaluate(current, prior, nil), KindVolumeSpike)
	require.Len(t, events, 1)
	assert.True(t, events[0].MetricBefore.Equal(decimal.NewFromInt(1000)), "baseline should be the prior tick, not the window")
}

func TestChange24hPassThrough(t *testing.T) {
	engine := defaultEngine()

	current := []storage.PriceRecord{
		record("bitcoin", 100, 1e12, 1e9, -10), // boundary, fires
		record("ethereum", 100, 1e11, 1e9, -9.9),
		record("solana", 100, 1e10, 1e9, 4),
	}

	events := eventsOfKind(engine.Evaluate(current, nil, nil), KindChange24h)
	require.Len(t, events, 1)
	assert.Equal(t, "bitcoin", events[0].CoinID)
}

func TestRankOvertakeFiresOnlyForClimbers(t *testing.T) {
	engine := defaultEngine()

	prior := latestOf(
		record("a", 1, 300, 1, 0),
		record("b", 1, 200, 1, 0),
		record("c", 1, 100, 1, 0),
	)
	current := []storage.PriceRecord{
		record("a", 1, 250, 1, 0), // drops to rank 1
		record("b", 1, 260, 1, 0), // climbs to rank 0
		record("c", 1, 100, 1, 0), // stays rank 2
	}

	events := eventsOfKind(engine.Evaluate(current, prior, nil), KindRankOvertake)
	require.Len(t, events, 1)
	assert.Equal(t, "b", events[0].CoinID)
	assert.True(t, events[0].MetricBefore.Equal(decimal.NewFromInt(1)))
	assert.True(t, events[0].MetricAfter.Equal(decimal.Zero))
}

func TestRankOvertakeSkipsCoinsWithoutPriorRank(t *testing.T) {
	engine := defaultEngine()

	prior := latestOf(record("a", 1, 300, 1, 0))
	current := []storage.PriceRecord{
		record("a", 1, 300, 1, 0),
		record("newcoin", 1, 500, 1, 0), // top of current ranking, but no prior rank
	}

	events := eventsOfKind(engine.Evaluate(current, prior, nil), KindRankOvertake)
	assert.Empty(t, events)
}

func TestRankOvertakeBitcoinEthereumScenario(t *testing.T) {
	engine := defaultEngine()

	prior := latestOf(
		record("bitcoin", 1, 1_000_000, 1, 0),
		record("ethereum", 1, 900_000, 1, 0),
	)
	current := []storage.PriceRecord{
		record("bitcoin", 1, 890_000, 1, 0),
		record("ethereum", 1, 950_000, 1, 0),
	}

	events := eventsOfKind(engine.Evaluate(current, prior, nil), KindRankOvertake)
	require.Len(t, events, 1)
	assert.Equal(t, "ethereum", events[0].CoinID)
}

func TestRankOvertakeTieBreaksByCoinID(t *testing.T) {
	engine := defaultEngine()

	// equal market caps: ordering must be coin_id ascending both times,
	// so nothing moves and nothing fires
	prior := latestOf(
		record("aaa", 1, 100, 1, 0),
		record("bbb", 1, 100, 1, 0),
	)
	current := []storage.PriceRecord{
		record("bbb", 1, 100, 1, 0),
		record("aaa", 1, 100, 1, 0),
	}

	events := eventsOfKind(engine.Evaluate(current, prior, nil), KindRankOvertake)
	assert.Empty(t, events)
}

func TestMultipleRulesMayFireForOneCoin(t *testing.T) {
	engine := defaultEngine()

	window := []storage.PriceRecord{record("bitcoin", 100, 1e12, 1000, 0)}
	prior := latestOf(record("bitcoin", 100, 1e12, 1000, 0))
	current := []storage.PriceRecord{record("bitcoin", 90, 1e12, 2000, -15)}

	events := engine.Evaluate(current, prior, window)
	require.Len(t, events, 3)

	kinds := map[Kind]int{}
	for _, ev := range events {
		assert.Equal(t, "bitcoin", ev.CoinID)
		kinds[ev.Kind]++
	}
	assert.Equal(t, map[Kind]int{KindPriceDrop: 1, KindVolumeSpike: 1, KindChange24h: 1}, kinds,
		"one event per (coin, rule) pair")
}

func TestSeverityGrading(t *testing.T) {
	engine := defaultEngine()
	window := []storage.PriceRecord{record("bitcoin", 100, 1e12, 1000, 0)}

	warning := eventsOfKind(engine.Evaluate([]storage.PriceRecord{record("bitcoin", 94, 1e12, 1000, 0)}, nil, window), KindPriceDrop)
	require.Len(t, warning, 1)
	assert.Equal(t, SeverityWarning, warning[0].Severity)

	critical := eventsOfKind(engine.Evaluate([]storage.PriceRecord{record("bitcoin", 88, 1e12, 1000, 0)}, nil, window), KindPriceDrop)
	require.Len(t, critical, 1)
	assert.Equal(t, SeverityCritical, critical[0].Severity)
}
