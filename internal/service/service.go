package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"coinwatch/internal/alerting"
	"coinwatch/internal/config"
	"coinwatch/internal/fetcher"
	"coinwatch/internal/pipeline"
	"coinwatch/internal/scheduler"
	"coinwatch/internal/storage"
)

// Service orchestrates one pipeline run:
// fetch → validate → transform → evaluate → persist ∥ dispatch.
// The core holds no state between runs; all cross-run history lives in
// the store.
type Service struct {
	scheduler  *scheduler.Scheduler
	fetcher    fetcher.MarketFetcher
	engine     *alerting.Engine
	dispatcher *alerting.Dispatcher
	prices     storage.PriceStore
	errLog     storage.ErrorLogStore
	logger     zerolog.Logger

	coins      []string
	lookback   time.Duration
	runTimeout time.Duration
	locker     storage.AdvisoryLocker
	lockKey    int64
	now        func() time.Time
}

// New constructs the ingestion service.
func New(cfg *config.Config, sched *scheduler.Scheduler, fetch fetcher.MarketFetcher, engine *alerting.Engine, dispatcher *alerting.Dispatcher, prices storage.PriceStore, errLog storage.ErrorLogStore, logger zerolog.Logger) *Service {
	var locker storage.AdvisoryLocker
	if l, ok := prices.(storage.AdvisoryLocker); ok {
		locker = l
	}

	return &Service{
		scheduler:  sched,
		fetcher:    fetch,
		engine:     engine,
		dispatcher: dispatcher,
		prices:     prices,
		errLog:     errLog,
		logger:     logger.With().Str("component", "service").Logger(),
		coins:      cfg.CoinGecko.Coins,
		lookback:   cfg.Alerting.Lookback,
		runTimeout: cfg.Scheduler.RunTimeout,
		locker:     locker,
		lockKey:    cfg.Scheduler.AdvisoryLockKey,
		now:        time.Now,
	}
}

// Run begins the scheduled ingestion loop.
func (s *Service) Run(ctx context.Context) error {
	if s.scheduler == nil {
		return fmt.Errorf("scheduler not configured")
	}
	return s.scheduler.Run(ctx, s.ProcessRun)
}

// ProcessRun 执行单次采集管线。Skips the run when another replica holds
// the advisory lock.
func (s *Service) ProcessRun(ctx context.Context, runAt time.Time) error {
	unlock, proceed, err := s.acquireLock(ctx)
	if err != nil {
		return err
	}
	if !proceed {
		s.logger.Debug().Time("run_at", runAt).Msg("skip run because advisory lock held elsewhere")
		return nil
	}
	if unlock != nil {
		defer unlock()
	}

	return s.executeRun(ctx, runAt)
}

func (s *Service) executeRun(ctx context.Context, runAt time.Time) error {
	if s.runTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.runTimeout)
		defer cancel()
	}

	s.logger.Debug().Str("stage", "fetching").Time("run_at", runAt).Msg("run started")
	raw, err := s.fetcher.Fetch(ctx, s.coins)
	if err != nil {
		return s.failRun(storage.SourceFetch, runAt, err)
	}

	s.logger.Debug().Str("stage", "validating").Msg("payload received")
	valid, rejected, err := pipeline.Validate(raw)
	for i := range rejected {
		fieldErr := rejected[i]
		s.logger.Warn().Str("coin_id", fieldErr.CoinID).Str("field", fieldErr.Field).Msg("record rejected")
		s.writeErrorLog(storage.SourceValidate, fieldErr.Error())
	}
	if err != nil {
		return s.failRun(storage.SourceValidate, runAt, err)
	}

	s.logger.Debug().Str("stage", "transforming").Int("records", len(valid)).Msg("batch validated")
	ingestedAt := s.now().UTC()
	records, err := pipeline.Transform(valid, ingestedAt)
	if err != nil {
		return s.failRun(storage.SourceTransform, runAt, err)
	}

	// Evaluating reads prior state before the current batch is persisted,
	// so the window and latest-per-coin snapshots never include this run.
	s.logger.Debug().Str("stage", "evaluating").Msg("batch transformed")
	var events []alerting.Event
	if s.engine != nil {
		priorLatest, err := s.prices.LatestPerCoin(ctx)
		if err != nil {
			return s.failRun(storage.SourceStore, runAt, fmt.Errorf("read latest per coin: %w", err))
		}
		priorWindow, err := s.prices.ListSince(ctx, ingestedAt.Add(-s.lookback))
		if err != nil {
			return s.failRun(storage.SourceStore, runAt, fmt.Errorf("read lookback window: %w", err))
		}
		events = s.engine.Evaluate(records, priorLatest, priorWindow)
	}

	// Persisting and dispatching are two independent side effects of one
	// successful evaluation; neither failure suppresses the other.
	var wg sync.WaitGroup
	var storeErr error

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := s.prices.InsertPriceBatch(ctx, records); err != nil {
			storeErr = fmt.Errorf("persist batch: %w", err)
			s.logger.Error().Err(err).Time("ingested_at", ingestedAt).Msg("failed to persist batch")
			s.writeErrorLog(storage.SourceStore, err.Error())
		}
	}()

	if len(events) > 0 && s.dispatcher != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.dispatcher.Dispatch(ctx, events)
		}()
	}

	wg.Wait()

	s.logger.Info().Time("run_at", runAt).
		Time("ingested_at", ingestedAt).
		Int("records", len(records)).
		Int("rejected", len(rejected)).
		Int("events", len(events)).
		Msg("run complete")

	return storeErr
}

// failRun records an unrecoverable stage failure and returns the run to
// idle without touching evaluation, persistence, or dispatch.
func (s *Service) failRun(source string, runAt time.Time, err error) error {
	s.logger.Error().Err(err).Str("source", source).Time("run_at", runAt).Msg("run aborted")
	s.writeErrorLog(source, err.Error())
	return err
}

// writeErrorLog appends to the error log on a fresh context so an expired
// run deadline cannot also lose the failure record.
func (s *Service) writeErrorLog(source, message string) {
	if s.errLog == nil {
		return
	}

	logCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	entry := storage.ErrorLogEntry{
		Message:    message,
		Source:     source,
		OccurredAt: s.now().UTC(),
	}
	if err := s.errLog.InsertErrorLog(logCtx, entry); err != nil {
		s.logger.Error().Err(err).Str("source", source).Msg("failed to write error log")
	}
}

func (s *Service) acquireLock(ctx context.Context) (func(), bool, error) {
	if s.lockKey == 0 || s.locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := s.locker.TryAdvisoryLock(ctx, s.lockKey)
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}
