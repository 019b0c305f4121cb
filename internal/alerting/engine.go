package alerting

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"coinwatch/internal/config"
	"coinwatch/internal/storage"
)

var hundred = decimal.NewFromInt(100)

// EngineOptions hold the rule thresholds. PriceDropPct and Change24hPct
// are negative percentages, VolumeSpikePct a positive one.
type EngineOptions struct {
	PriceDropPct   decimal.Decimal
	VolumeSpikePct decimal.Decimal
	Change24hPct   decimal.Decimal
	Lookback       time.Duration
	VolumeBaseline string
}

// Engine evaluates the alert rules against one run's batch plus prior
// persisted history. Stateless: all cross-run state arrives as input.
type Engine struct {
	opts   EngineOptions
	logger zerolog.Logger
}

// NewEngine constructs an alert engine.
func NewEngine(opts EngineOptions, logger zerolog.Logger) *Engine {
	if opts.VolumeBaseline == "" {
		opts.VolumeBaseline = config.VolumeBaselineWindowAverage
	}
	return &Engine{opts: opts, logger: logger.With().Str("component", "alert_engine").Logger()}
}

// windowStats aggregates one coin's prior records within the lookback window.
type windowStats struct {
	maxPrice  decimal.Decimal
	volumeSum decimal.Decimal
	count     int64
}

// Evaluate runs every rule over the current batch. Each firing rule emits
// exactly one event per (coin, rule) pair; multiple rules may fire for the
// same coin. Deduplication across runs is not this component's job.
func (e *Engine) Evaluate(current []storage.PriceRecord, priorLatest map[string]storage.PriceRecord, priorWindow []storage.PriceRecord) []Event {
	stats := collectWindowStats(e.trimWindow(current, priorWindow))

	var events []Event
	for _, rec := range current {
		if ev, ok := e.checkPriceDrop(rec, stats[rec.CoinID]); ok {
			events = append(events, ev)
		}
		if ev, ok := e.checkVolumeSpike(rec, stats[rec.CoinID], priorLatest); ok {
			events = append(events, ev)
		}
		if ev, ok := e.checkChange24h(rec); ok {
			events = append(events, ev)
		}
	}

	events = append(events, e.checkRankOvertakes(current, priorLatest)...)

	if len(events) > 0 {
		e.logger.Info().Int("events", len(events)).Msg("alert rules fired")
	}
	return events
}

// trimWindow drops window records older than the lookback horizon,
// anchored on the current batch's ingestion instant. The store query
// already bounds the window; this keeps the engine correct when a caller
// hands it a wider slice.
func (e *Engine) trimWindow(current, window []storage.PriceRecord) []storage.PriceRecord {
	if e.opts.Lookback <= 0 || len(current) == 0 || len(window) == 0 {
		return window
	}

	cutoff := current[0].IngestedAt.Add(-e.opts.Lookback)
	trimmed := make([]storage.PriceRecord, 0, len(window))
	for _, rec := range window {
		if rec.IngestedAt.Before(cutoff) {
			continue
		}
		trimmed = append(trimmed, rec)
	}
	return trimmed
}

func collectWindowStats(window []storage.PriceRecord) map[string]*windowStats {
	stats := make(map[string]*windowStats)
	for _, rec := range window {
		st, ok := stats[rec.CoinID]
		if !ok {
			st = &windowStats{maxPrice: rec.CurrentPrice}
			stats[rec.CoinID] = st
		}
		if rec.CurrentPrice.GreaterThan(st.maxPrice) {
			st.maxPrice = rec.CurrentPrice
		}
		st.volumeSum = st.volumeSum.Add(rec.TotalVolume)
		st.count++
	}
	return stats
}

// checkPriceDrop compares against the window peak rather than the previous
// tick so gradual slides still trip the rule. Boundary inclusive.
func (e *Engine) checkPriceDrop(rec storage.PriceRecord, st *windowStats) (Event, bool) {
	if st == nil || st.count == 0 || !st.maxPrice.IsPositive() {
		return Event{}, false
	}

	changePct := rec.CurrentPrice.Sub(st.maxPrice).Div(st.maxPrice).Mul(hundred)
	if changePct.GreaterThan(e.opts.PriceDropPct) {
		return Event{}, false
	}

	return Event{
		Kind:         KindPriceDrop,
		CoinID:       rec.CoinID,
		MetricBefore: st.maxPrice,
		MetricAfter:  rec.CurrentPrice,
		Severity:     thresholdSeverity(changePct, e.opts.PriceDropPct),
		Message: fmt.Sprintf("%s price dropped %s%% from window high %s to %s",
			rec.CoinID, changePct.StringFixed(2), st.maxPrice.StringFixed(2), rec.CurrentPrice.StringFixed(2)),
	}, true
}

func (e *Engine) checkVolumeSpike(rec storage.PriceRecord, st *windowStats, priorLatest map[string]storage.PriceRecord) (Event, bool) {
	baseline, ok := e.volumeBaseline(rec.CoinID, st, priorLatest)
	if !ok || !baseline.IsPositive() {
		return Event{}, false
	}

	changePct := rec.TotalVolume.Sub(baseline).Div(baseline).Mul(hundred)
	if changePct.LessThan(e.opts.VolumeSpikePct) {
		return Event{}, false
	}

	return Event{
		Kind:         KindVolumeSpike,
		CoinID:       rec.CoinID,
		MetricBefore: baseline,
		MetricAfter:  rec.TotalVolume,
		Severity:     thresholdSeverity(changePct, e.opts.VolumeSpikePct),
		Message: fmt.Sprintf("%s volume spiked %s%% over baseline %s to %s",
			rec.CoinID, changePct.StringFixed(2), baseline.StringFixed(0), rec.TotalVolume.StringFixed(0)),
	}, true
}

func (e *Engine) volumeBaseline(coinID string, st *windowStats, priorLatest map[string]storage.PriceRecord) (decimal.Decimal, bool) {
	if e.opts.VolumeBaseline == config.VolumeBaselinePreviousTick {
		prior, ok := priorLatest[coinID]
		if !ok {
			return decimal.Decimal{}, false
		}
		return prior.TotalVolume, true
	}
	if st == nil || st.count == 0 {
		return decimal.Decimal{}, false
	}
	return st.volumeSum.Div(decimal.NewFromInt(st.count)), true
}

// checkChange24h passes the API-reported figure straight through; no
// history needed.
func (e *Engine) checkChange24h(rec storage.PriceRecord) (Event, bool) {
	if rec.PriceChangePct24h.GreaterThan(e.opts.Change24hPct) {
		return Event{}, false
	}

	return Event{
		Kind:         KindChange24h,
		CoinID:       rec.CoinID,
		MetricBefore: decimal.Zero,
		MetricAfter:  rec.PriceChangePct24h,
		Severity:     thresholdSeverity(rec.PriceChangePct24h, e.opts.Change24hPct),
		Message: fmt.Sprintf("%s is down %s%% over 24h",
			rec.CoinID, rec.PriceChangePct24h.Abs().StringFixed(2)),
	}, true
}

// checkRankOvertakes fires for every coin whose market-cap rank improved
// against the prior snapshot. Coins without a prior rank are skipped.
func (e *Engine) checkRankOvertakes(current []storage.PriceRecord, priorLatest map[string]storage.PriceRecord) []Event {
	if len(priorLatest) == 0 {
		return nil
	}

	priorRecords := make([]storage.PriceRecord, 0, len(priorLatest))
	for _, rec := range priorLatest {
		priorRecords = append(priorRecords, rec)
	}

	newRanks := rankSnapshot(current)
	oldRanks := rankSnapshot(priorRecords)

	var events []Event
	for _, rec := range current {
		newRank, ok := newRanks[rec.CoinID]
		if !ok {
			continue
		}
		oldRank, ok := oldRanks[rec.CoinID]
		if !ok || newRank >= oldRank {
			continue
		}

		events = append(events, Event{
			Kind:         KindRankOvertake,
			CoinID:       rec.CoinID,
			MetricBefore: decimal.NewFromInt(int64(oldRank)),
			MetricAfter:  decimal.NewFromInt(int64(newRank)),
			Severity:     SeverityInfo,
			Message: fmt.Sprintf("%s moved up the market cap ranking from #%d to #%d",
				rec.CoinID, oldRank+1, newRank+1),
		})
	}
	return events
}

// thresholdSeverity grades a breach: warning at the threshold, critical
// once the metric passes twice the threshold magnitude.
func thresholdSeverity(value, threshold decimal.Decimal) string {
	if value.Abs().GreaterThanOrEqual(threshold.Abs().Mul(decimal.NewFromInt(2))) {
		return SeverityCritical
	}
	return SeverityWarning
}
