package alerting

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coinwatch/internal/storage"
)

type fakeChannel struct {
	name string
	fail bool

	mu   sync.Mutex
	sent []string
}

func (c *fakeChannel) Name() string { return c.name }

func (c *fakeChannel) Send(ctx context.Context, text string) error {
	if c.fail {
		return errors.New("transport unreachable")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, text)
	return nil
}

type fakeErrorSink struct {
	mu      sync.Mutex
	entries []storage.ErrorLogEntry
}

func (s *fakeErrorSink) InsertErrorLog(ctx context.Context, entry storage.ErrorLogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, entry)
	return nil
}

func sampleEvents(n int) []Event {
	events := make([]Event, 0, n)
	for i := 0; i < n; i++ {
		events = append(events, Event{
			Kind:         KindPriceDrop,
			CoinID:       "bitcoin",
			MetricBefore: decimal.NewFromInt(100),
			MetricAfter:  decimal.NewFromInt(90),
			Severity:     SeverityWarning,
			Message:      "bitcoin price dropped",
		})
	}
	return events
}

func TestDispatchIsolatesFailingChannel(t *testing.T) {
	good := &fakeChannel{name: "good"}
	bad := &fakeChannel{name: "bad", fail: true}
	sink := &fakeErrorSink{}

	d := NewDispatcher([]Channel{good, bad}, sink, time.Second, zerolog.Nop())
	d.Dispatch(context.Background(), sampleEvents(3))

	assert.Len(t, good.sent, 3, "surviving channel must still receive every event")
	require.Len(t, sink.entries, 3, "exactly one error log entry per failed send")
	for _, entry := range sink.entries {
		assert.Equal(t, storage.SourceDispatch, entry.Source)
		assert.Contains(t, entry.Message, "bad")
	}
}

func TestDispatchNoEventsNoSends(t *testing.T) {
	ch := &fakeChannel{name: "only"}
	d := NewDispatcher([]Channel{ch}, &fakeErrorSink{}, time.Second, zerolog.Nop())

	d.Dispatch(context.Background(), nil)
	assert.Empty(t, ch.sent)
}

func TestDispatchToleratesNilErrorSink(t *testing.T) {
	bad := &fakeChannel{name: "bad", fail: true}
	d := NewDispatcher([]Channel{bad}, nil, time.Second, zerolog.Nop())

	assert.NotPanics(t, func() {
		d.Dispatch(context.Background(), sampleEvents(1))
	})
}

func TestRenderTextContainsEventFields(t *testing.T) {
	text := RenderText(Event{
		Kind:         KindRankOvertake,
		CoinID:       "ethereum",
		MetricBefore: decimal.NewFromInt(1),
		MetricAfter:  decimal.Zero,
		Severity:     SeverityInfo,
		Message:      "ethereum moved up the market cap ranking from #2 to #1",
	})

	assert.Contains(t, text, "rank_overtake")
	assert.Contains(t, text, "ethereum")
	assert.Contains(t, text, "info")
	assert.Contains(t, text, "#1")
}
