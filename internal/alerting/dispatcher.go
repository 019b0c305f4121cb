package alerting

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"coinwatch/internal/storage"
)

// ErrorSink receives one error-log entry per failed send.
type ErrorSink interface {
	InsertErrorLog(ctx context.Context, entry storage.ErrorLogEntry) error
}

// Dispatcher fans fired events out to every enabled channel. Channels are
// mutually isolated: each gets its own goroutine and deadline, and a
// failing or hanging channel never blocks the others or the run.
type Dispatcher struct {
	channels []Channel
	errSink  ErrorSink
	timeout  time.Duration
	logger   zerolog.Logger
}

// NewDispatcher constructs a dispatcher. errSink may be nil (simulation
// mode); failures are then only logged.
func NewDispatcher(channels []Channel, errSink ErrorSink, timeout time.Duration, logger zerolog.Logger) *Dispatcher {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Dispatcher{
		channels: channels,
		errSink:  errSink,
		timeout:  timeout,
		logger:   logger.With().Str("component", "dispatcher").Logger(),
	}
}

// Dispatch sends every event to every channel. Per-send failures are
// logged and recorded in the error log; delivery guarantees beyond that
// belong to the channels themselves.
func (d *Dispatcher) Dispatch(ctx context.Context, events []Event) {
	if len(events) == 0 || len(d.channels) == 0 {
		return
	}

	var wg sync.WaitGroup
	for _, channel := range d.channels {
		wg.Add(1)
		go func(ch Channel) {
			defer wg.Done()
			d.sendAll(ctx, ch, events)
		}(channel)
	}
	wg.Wait()
}

func (d *Dispatcher) sendAll(ctx context.Context, ch Channel, events []Event) {
	chCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	sent := 0
	for _, ev := range events {
		if err := ch.Send(chCtx, RenderText(ev)); err != nil {
			d.logger.Error().Err(err).
				Str("channel", ch.Name()).
				Str("coin_id", ev.CoinID).
				Str("kind", string(ev.Kind)).
				Msg("failed to deliver alert")
			d.recordFailure(ch.Name(), ev, err)
			continue
		}
		sent++
	}

	d.logger.Info().Str("channel", ch.Name()).Int("sent", sent).Int("total", len(events)).Msg("dispatch finished")
}

// recordFailure writes the error log on a fresh context so an expired
// channel deadline cannot also lose the failure record.
func (d *Dispatcher) recordFailure(channel string, ev Event, sendErr error) {
	if d.errSink == nil {
		return
	}

	logCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	entry := storage.ErrorLogEntry{
		Message:    "channel " + channel + " failed for " + ev.CoinID + " (" + string(ev.Kind) + "): " + sendErr.Error(),
		Source:     storage.SourceDispatch,
		OccurredAt: time.Now().UTC(),
	}
	if err := d.errSink.InsertErrorLog(logCtx, entry); err != nil {
		d.logger.Error().Err(err).Str("channel", channel).Msg("failed to record dispatch failure")
	}
}
