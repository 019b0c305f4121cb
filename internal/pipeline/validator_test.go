package pipeline

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestValidateRejectsNonSequencePayload(t *testing.T) {
	_, _, err := Validate(json.RawMessage(`{"error":"rate limited"}`))

	var structural *StructuralError
	if !errors.As(err, &structural) {
		t.Fatalf("expected *StructuralError, got %T (%v)", err, err)
	}
}

func TestValidateRejectsEmptyPayload(t *testing.T) {
	_, _, err := Validate(json.RawMessage(`[]`))

	var structural *StructuralError
	if !errors.As(err, &structural) {
		t.Fatalf("expected *StructuralError for empty array, got %v", err)
	}
}

func TestValidateDropsRecordMissingPrice(t *testing.T) {
	payload := json.RawMessage(`[
		{"id":"bitcoin","current_price":100000,"market_cap":2000000000000,"total_volume":30000000000},
		{"id":"ethereum","market_cap":500000000000,"total_volume":20000000000}
	]`)

	valid, rejected, err := Validate(payload)
	if err != nil {
		t.Fatalf("partial batch should survive: %v", err)
	}
	if len(valid) != 1 || valid[0].ID != "bitcoin" {
		t.Fatalf("expected only bitcoin to survive, got %#v", valid)
	}
	if len(rejected) != 1 {
		t.Fatalf("expected exactly one rejected record, got %d", len(rejected))
	}
	if rejected[0].CoinID != "ethereum" || rejected[0].Field != "current_price" {
		t.Fatalf("unexpected rejection: %+v", rejected[0])
	}
}

func TestValidateDropsNullAndNegativeAmounts(t *testing.T) {
	payload := json.RawMessage(`[
		{"id":"a","current_price":null,"market_cap":1,"total_volume":1},
		{"id":"b","current_price":1,"market_cap":-5,"total_volume":1},
		{"id":"c","current_price":1,"market_cap":0,"total_volume":1}
	]`)

	valid, rejected, err := Validate(payload)
	if err != nil {
		t.Fatalf("unexpected structural failure: %v", err)
	}
	if len(valid) != 1 || valid[0].ID != "c" {
		t.Fatalf("only c should survive (zero market cap is allowed), got %#v", valid)
	}
	if len(rejected) != 2 {
		t.Fatalf("expected two rejections, got %d", len(rejected))
	}
}

func TestValidateRejectsEmptyID(t *testing.T) {
	payload := json.RawMessage(`[{"id":"","current_price":1,"market_cap":1,"total_volume":1}]`)

	_, rejected, err := Validate(payload)

	var structural *StructuralError
	if !errors.As(err, &structural) {
		t.Fatalf("zero surviving elements must be structural, got %v", err)
	}
	if len(rejected) != 1 || rejected[0].Field != "id" {
		t.Fatalf("expected one id rejection, got %#v", rejected)
	}
}

func TestValidateAllowsNegative24hChange(t *testing.T) {
	payload := json.RawMessage(`[{"id":"bitcoin","current_price":1,"market_cap":1,"total_volume":1,"price_change_percentage_24h":-12.5}]`)

	valid, rejected, err := Validate(payload)
	if err != nil || len(rejected) != 0 {
		t.Fatalf("negative 24h change must pass: err=%v rejected=%d", err, len(rejected))
	}
	if valid[0].PriceChangePct24h == nil || !valid[0].PriceChangePct24h.IsNegative() {
		t.Fatalf("24h change should be preserved: %#v", valid[0].PriceChangePct24h)
	}
}
