package fetcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
)

const marketsPath = "/coins/markets"

// Options parameterise the CoinGecko fetcher.
type Options struct {
	BaseURL        string
	VsCurrency     string
	Timeout        time.Duration
	MaxAttempts    int
	InitialBackoff time.Duration
	UserAgent      string
}

// CoinGecko fetches market snapshots from the CoinGecko markets endpoint.
type CoinGecko struct {
	opts    Options
	logger  zerolog.Logger
	client  *http.Client
	baseURL string
}

// NewCoinGecko constructs a CoinGecko market fetcher.
func NewCoinGecko(opts Options, logger zerolog.Logger) *CoinGecko {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 4
	}
	if opts.InitialBackoff <= 0 {
		opts.InitialBackoff = time.Second
	}
	if opts.VsCurrency == "" {
		opts.VsCurrency = "usd"
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.coingecko.com/api/v3"
	}

	return &CoinGecko{
		opts:    opts,
		logger:  logger.With().Str("component", "coingecko_fetcher").Logger(),
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
	}
}

// FetchError carries the last underlying cause after the retry budget was
// exhausted or a permanent failure occurred.
type FetchError struct {
	Attempts int
	Err      error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch market snapshot failed after %d attempt(s): %v", e.Attempts, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Fetch retrieves the market snapshot for the given coin set. Transient
// failures (timeouts, connection errors, 5xx, 429) are retried with
// exponential backoff and jitter up to MaxAttempts; other HTTP failures
// abort immediately. Result ordering is whatever the API returns.
func (c *CoinGecko) Fetch(ctx context.Context, coinIDs []string) (json.RawMessage, error) {
	if len(coinIDs) == 0 {
		return nil, errors.New("coin id set must not be empty")
	}

	endpoint, err := c.requestURL(coinIDs)
	if err != nil {
		return nil, &FetchError{Attempts: 0, Err: err}
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = c.opts.InitialBackoff
	policy.RandomizationFactor = 0.3
	policy.MaxElapsedTime = 0

	attempts := 0
	operation := func() (json.RawMessage, error) {
		attempts++
		payload, opErr := c.doRequest(ctx, endpoint)
		if opErr != nil {
			c.logger.Warn().Err(opErr).Int("attempt", attempts).Msg("market snapshot request failed")
		}
		return payload, opErr
	}

	payload, err := backoff.RetryWithData(
		operation,
		backoff.WithContext(backoff.WithMaxRetries(policy, uint64(c.opts.MaxAttempts-1)), ctx),
	)
	if err != nil {
		return nil, &FetchError{Attempts: attempts, Err: err}
	}
	return payload, nil
}

func (c *CoinGecko) requestURL(coinIDs []string) (string, error) {
	base, err := url.Parse(c.baseURL + marketsPath)
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}

	query := base.Query()
	query.Set("vs_currency", c.opts.VsCurrency)
	query.Set("ids", strings.Join(coinIDs, ","))
	query.Set("order", "market_cap_desc")
	base.RawQuery = query.Encode()
	return base.String(), nil
}

func (c *CoinGecko) doRequest(ctx context.Context, endpoint string) (json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, backoff.Permanent(err)
	}
	req.Header.Set("Accept", "application/json")
	if ua := strings.TrimSpace(c.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	} else {
		req.Header.Set("User-Agent", "coinwatch/1.0")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		// timeouts and connection resets; the retry policy decides how often
		return nil, err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode == http.StatusOK {
		return json.RawMessage(payload), nil
	}

	apiErr := parseHTTPError(resp.StatusCode, payload)
	if transientStatus(resp.StatusCode) {
		return nil, apiErr
	}
	return nil, backoff.Permanent(apiErr)
}

func transientStatus(status int) bool {
	return status >= http.StatusInternalServerError || status == http.StatusTooManyRequests
}

type errorResponse struct {
	Error  string `json:"error"`
	Status struct {
		ErrorMessage string `json:"error_message"`
	} `json:"status"`
}

func parseHTTPError(status int, payload []byte) error {
	var apiErr errorResponse
	if err := json.Unmarshal(payload, &apiErr); err == nil {
		if apiErr.Status.ErrorMessage != "" {
			return fmt.Errorf("coingecko api error (%d): %s", status, apiErr.Status.ErrorMessage)
		}
		if apiErr.Error != "" {
			return fmt.Errorf("coingecko api error (%d): %s", status, apiErr.Error)
		}
	}
	if len(payload) > 0 {
		return fmt.Errorf("coingecko api error (%d): %s", status, strings.TrimSpace(string(payload)))
	}
	return fmt.Errorf("coingecko api error (%d)", status)
}

var _ MarketFetcher = (*CoinGecko)(nil)
