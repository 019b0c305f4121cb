package fetcher

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func testOptions(baseURL string) Options {
	return Options{
		BaseURL:        baseURL,
		VsCurrency:     "usd",
		Timeout:        time.Second,
		MaxAttempts:    3,
		InitialBackoff: time.Millisecond,
		UserAgent:      "test",
	}
}

func TestFetchEmptyCoinSet(t *testing.T) {
	f := NewCoinGecko(testOptions("http://localhost"), noopLogger())
	if _, err := f.Fetch(context.Background(), nil); err == nil {
		t.Fatal("空 coin 集合应返回错误")
	}
}

func TestFetchSuccess(t *testing.T) {
	var gotQuery atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery.Store(r.URL.Query().Encode())
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode([]map[string]any{
			{"id": "bitcoin", "current_price": 100000.0, "market_cap": 2.0e12, "total_volume": 3.0e10},
		})
	}))
	defer srv.Close()

	f := NewCoinGecko(testOptions(srv.URL), noopLogger())
	payload, err := f.Fetch(context.Background(), []string{"bitcoin", "ethereum"})
	if err != nil {
		t.Fatalf("成功响应不应报错: %v", err)
	}

	var decoded []map[string]any
	if err := json.Unmarshal(payload, &decoded); err != nil {
		t.Fatalf("返回的 payload 应为 JSON 数组: %v", err)
	}
	if len(decoded) != 1 || decoded[0]["id"] != "bitcoin" {
		t.Fatalf("payload 内容不正确: %#v", decoded)
	}

	query, _ := gotQuery.Load().(string)
	if query != "ids=bitcoin%2Cethereum&order=market_cap_desc&vs_currency=usd" {
		t.Fatalf("请求参数不正确: %s", query)
	}
}

func TestFetchRetriesTransientFailure(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_ = json.NewEncoder(w).Encode([]map[string]any{{"id": "bitcoin"}})
	}))
	defer srv.Close()

	f := NewCoinGecko(testOptions(srv.URL), noopLogger())
	if _, err := f.Fetch(context.Background(), []string{"bitcoin"}); err != nil {
		t.Fatalf("5xx 重试后成功不应报错: %v", err)
	}
	if calls.Load() != 3 {
		t.Fatalf("期望 3 次请求, 实际 %d", calls.Load())
	}
}

func TestFetchPermanentFailureNoRetry(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "coin not found"})
	}))
	defer srv.Close()

	f := NewCoinGecko(testOptions(srv.URL), noopLogger())
	_, err := f.Fetch(context.Background(), []string{"nope"})
	if err == nil {
		t.Fatal("HTTP 404 应返回错误")
	}
	if calls.Load() != 1 {
		t.Fatalf("4xx 不应重试, 实际请求 %d 次", calls.Load())
	}

	var fetchErr *FetchError
	if !errors.As(err, &fetchErr) {
		t.Fatalf("应返回 *FetchError, 实际 %T", err)
	}
	if fetchErr.Attempts != 1 {
		t.Fatalf("Attempts 应为 1, 实际 %d", fetchErr.Attempts)
	}
}

func TestFetchExhaustsRetryBudget(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	f := NewCoinGecko(testOptions(srv.URL), noopLogger())
	_, err := f.Fetch(context.Background(), []string{"bitcoin"})
	if err == nil {
		t.Fatal("重试耗尽应返回错误")
	}
	if calls.Load() != 3 {
		t.Fatalf("期望 MaxAttempts=3 次请求, 实际 %d", calls.Load())
	}

	var fetchErr *FetchError
	if !errors.As(err, &fetchErr) {
		t.Fatalf("应返回 *FetchError, 实际 %T", err)
	}
	if fetchErr.Attempts != 3 {
		t.Fatalf("Attempts 应为 3, 实际 %d", fetchErr.Attempts)
	}
}

func noopLogger() zerolog.Logger {
	return zerolog.Nop()
}
