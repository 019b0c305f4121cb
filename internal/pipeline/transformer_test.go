package pipeline

import (
	"encoding/json"
	"errors"
	"reflect"
	"testing"
	"time"
)

func validatedBatch(t *testing.T) []RawCoin {
	t.Helper()
	payload := json.RawMessage(`[
		{"id":"bitcoin","symbol":"btc","name":"Bitcoin","current_price":100000,"market_cap":2000000000000,"total_volume":30000000000,"price_change_percentage_24h":-2.5,"last_updated":"2025-11-03T12:00:00Z"},
		{"id":"ethereum","symbol":"eth","name":"Ethereum","current_price":4000,"market_cap":500000000000,"total_volume":20000000000}
	]`)
	coins, rejected, err := Validate(payload)
	if err != nil || len(rejected) != 0 {
		t.Fatalf("fixture must validate cleanly: err=%v rejected=%d", err, len(rejected))
	}
	return coins
}

func TestTransformStampsBatchWideIngestionInstant(t *testing.T) {
	coins := validatedBatch(t)
	ingestedAt := time.Date(2025, 11, 3, 12, 5, 0, 0, time.UTC)

	records, err := Transform(coins, ingestedAt)
	if err != nil {
		t.Fatalf("transform failed: %v", err)
	}
	if len(records) != len(coins) {
		t.Fatalf("expected %d records, got %d", len(coins), len(records))
	}
	for _, rec := range records {
		if !rec.IngestedAt.Equal(ingestedAt) {
			t.Fatalf("record %s carries ingested_at %s, want %s", rec.CoinID, rec.IngestedAt, ingestedAt)
		}
	}
}

func TestTransformIsDeterministic(t *testing.T) {
	coins := validatedBatch(t)
	ingestedAt := time.Date(2025, 11, 3, 12, 5, 0, 0, time.UTC)

	first, err := Transform(coins, ingestedAt)
	if err != nil {
		t.Fatalf("first transform failed: %v", err)
	}
	second, err := Transform(coins, ingestedAt)
	if err != nil {
		t.Fatalf("second transform failed: %v", err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Fatal("transform must be a pure function of its inputs")
	}
}

func TestTransformMapsSourceFields(t *testing.T) {
	coins := validatedBatch(t)

	records, err := Transform(coins, time.Now().UTC())
	if err != nil {
		t.Fatalf("transform failed: %v", err)
	}

	btc := records[0]
	if btc.CoinID != "bitcoin" || btc.Symbol != "btc" || btc.Name != "Bitcoin" {
		t.Fatalf("identity fields mismapped: %+v", btc)
	}
	if btc.SourceUpdatedAt.IsZero() {
		t.Fatal("last_updated should map to SourceUpdatedAt")
	}
	if !btc.PriceChangePct24h.IsNegative() {
		t.Fatalf("24h change should stay negative: %s", btc.PriceChangePct24h)
	}

	// ethereum omitted the optional fields
	eth := records[1]
	if !eth.SourceUpdatedAt.IsZero() {
		t.Fatal("missing last_updated should leave SourceUpdatedAt zero")
	}
	if !eth.PriceChangePct24h.IsZero() {
		t.Fatalf("missing 24h change should coerce to zero, got %s", eth.PriceChangePct24h)
	}
}

func TestTransformRejectsBadTimestamp(t *testing.T) {
	coins := validatedBatch(t)
	coins[0].LastUpdated = "yesterday"

	_, err := Transform(coins, time.Now().UTC())

	var transformErr *TransformError
	if !errors.As(err, &transformErr) {
		t.Fatalf("expected *TransformError, got %T (%v)", err, err)
	}
	if transformErr.CoinID != "bitcoin" || transformErr.Field != "last_updated" {
		t.Fatalf("unexpected error detail: %+v", transformErr)
	}
}
