package alerting

import "github.com/shopspring/decimal"

// Kind identifies the rule that produced an event.
type Kind string

const (
	KindPriceDrop    Kind = "price_drop"
	KindVolumeSpike  Kind = "volume_spike"
	KindChange24h    Kind = "change_24h"
	KindRankOvertake Kind = "rank_overtake"
)

// Severity buckets.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// Event is an ephemeral alert produced by one rule for one coin within a
// single run. It is consumed by the dispatcher and never persisted.
type Event struct {
	Kind         Kind
	CoinID       string
	MetricBefore decimal.Decimal
	MetricAfter  decimal.Decimal
	Severity     string
	Message      string
}
