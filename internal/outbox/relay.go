// Package outbox implements the relay that drives persisted handoff intents
// (outbox pattern). Intents are written before any outbound call; the relay
// polls for intents that are due (new, rescheduled, or running with an
// expired lease) and hands each to an Executor, which claims and runs it.
//
// The relay also purges expired update-dedupe entries on every poll.
package outbox

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/tbourn/resume-intake-bot/internal/repo"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	defaultPollingInterval = 5 * time.Second
	defaultBatchSize       = 10
)

// Executor claims and runs a single intent by id.
type Executor interface {
	Execute(ctx context.Context, id string) error
}

// Relay polls the handoffs table and executes due intents.
type Relay struct {
	db              *gorm.DB
	exec            Executor
	logger          zerolog.Logger
	pollingInterval time.Duration
	batchSize       int
	attemptTimeout  time.Duration
	now             func() time.Time
	tracer          trace.Tracer

	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// Option customizes a Relay.
type Option func(*Relay)

// WithPollingInterval sets the delay between polls.
func WithPollingInterval(d time.Duration) Option {
	return func(r *Relay) {
		if d > 0 {
			r.pollingInterval = d
		}
	}
}

// WithBatchSize caps the intents handled per poll.
func WithBatchSize(n int) Option {
	return func(r *Relay) {
		if n > 0 {
			r.batchSize = n
		}
	}
}

// WithAttemptTimeout bounds each execution.
func WithAttemptTimeout(d time.Duration) Option {
	return func(r *Relay) { r.attemptTimeout = d }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(r *Relay) { r.now = now }
}

// NewRelay creates a relay. Call Start to begin polling.
func NewRelay(db *gorm.DB, exec Executor, logger zerolog.Logger, opts ...Option) *Relay {
	r := &Relay{
		db:              db,
		exec:            exec,
		logger:          logger.With().Str("component", "outbox-relay").Logger(),
		pollingInterval: defaultPollingInterval,
		batchSize:       defaultBatchSize,
		attemptTimeout:  2 * time.Minute,
		now:             func() time.Time { return time.Now().UTC() },
		tracer:          otel.Tracer("outbox-relay"),
		done:            make(chan struct{}),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Start begins polling in a background goroutine.
func (r *Relay) Start() {
	r.logger.Info().Dur("interval", r.pollingInterval).Int("batch", r.batchSize).Msg("relay starting")
	ticker := time.NewTicker(r.pollingInterval)

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer ticker.Stop()
		for {
			select {
			case <-r.done:
				r.logger.Info().Msg("relay stopped")
				return
			case <-ticker.C:
				if _, err := r.ProcessDue(context.Background()); err != nil {
					r.logger.Error().Err(err).Msg("process due handoffs")
				}
			}
		}
	}()
}

// Stop signals the polling goroutine and waits for the current batch.
func (r *Relay) Stop() {
	r.stopOnce.Do(func() {
		r.logger.Info().Msg("relay stopping")
		close(r.done)
	})
	r.wg.Wait()
}

// ProcessDue executes one batch of due intents and returns how many were
// handed to the executor. Executor errors are logged, not returned.
func (r *Relay) ProcessDue(ctx context.Context) (int, error) {
	now := r.now()
	if n, err := repo.PurgeExpiredUpdates(ctx, r.db, now); err != nil {
		r.logger.Warn().Err(err).Msg("purge processed updates")
	} else if n > 0 {
		r.logger.Debug().Int64("purged", n).Msg("processed updates purged")
	}

	ids, err := repo.DueHandoffs(ctx, r.db, now, r.batchSize)
	if err != nil {
		return 0, err
	}
	// No span for empty polls.
	if len(ids) == 0 {
		return 0, nil
	}

	ctx, span := r.tracer.Start(ctx, "outbox.ProcessBatch",
		trace.WithAttributes(attribute.Int("handoff.batch_size", len(ids))),
	)
	defer span.End()
	r.logger.Debug().Int("count", len(ids)).Msg("due handoffs fetched")

	n := 0
	for _, id := range ids {
		select {
		case <-r.done:
			return n, nil
		default:
		}
		actx, cancel := context.WithTimeout(ctx, r.attemptTimeout)
		if err := r.exec.Execute(actx, id); err != nil {
			r.logger.Error().Err(err).Str("handoff_id", id).Msg("execute handoff")
		}
		cancel()
		n++
	}
	return n, nil
}
