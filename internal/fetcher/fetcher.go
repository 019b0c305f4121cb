package fetcher

import (
	"context"
	"encoding/json"
)

// MarketFetcher retrieves the raw market snapshot batch for a coin set.
// The payload is handed to the validator untouched.
type MarketFetcher interface {
	Fetch(ctx context.Context, coinIDs []string) (json.RawMessage, error)
}
