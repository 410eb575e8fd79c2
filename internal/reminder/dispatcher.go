package reminder

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/hackgods/specialist-booking/internal/config"
	"github.com/hackgods/specialist-booking/internal/metrics"
)

const (
	resultTimeout = 5 * time.Second
	listDueLimit  = 500
)

type Dispatcher struct {
	store   Store
	sender  Sender
	cfg     config.ReminderConfig
	log     zerolog.Logger
	metrics *metrics.Collectors
	now     func() time.Time
}

type Option func(*Dispatcher)

func WithMetrics(m *metrics.Collectors) Option {
	return func(d *Dispatcher) { d.metrics = m }
}

func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) { d.now = now }
}

func NewDispatcher(store Store, sender Sender, cfg config.ReminderConfig, log zerolog.Logger, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		store:  store,
		sender: sender,
		cfg:    cfg,
		log:    log,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.cfg.Concurrency <= 0 {
		d.cfg.Concurrency = 1
	}
	if d.cfg.BatchSize <= 0 {
		d.cfg.BatchSize = 50
	}
	if d.cfg.MaxAttempts <= 0 {
		d.cfg.MaxAttempts = 3
	}
	return d
}

// RunStats summarises one polling pass.
type RunStats struct {
	Claimed   int
	Sent      int
	Retried   int
	Failed    int
	Discarded int
}

func (d *Dispatcher) policy() RetryPolicy {
	return RetryPolicy{MaxAttempts: d.cfg.MaxAttempts, RetryDelay: d.cfg.RetryDelay}
}

// Run polls once immediately and then on every interval tick until ctx is done.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.runOnce(ctx)

	ticker := time.NewTicker(d.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			d.log.Info().Msg("shutdown signal received, stopping reminder dispatcher")
			return nil
		case <-ticker.C:
			d.runOnce(ctx)
		}
	}
}

func (d *Dispatcher) runOnce(ctx context.Context) {
	start := time.Now()
	stats, err := d.RunOnce(ctx)
	if err != nil {
		d.log.Error().Err(err).Msg("reminder run failed")
		return
	}
	if stats.Claimed > 0 {
		d.log.Info().
			Int("claimed", stats.Claimed).
			Int("sent", stats.Sent).
			Int("retried", stats.Retried).
			Int("failed", stats.Failed).
			Int("discarded", stats.Discarded).
			Dur("took", time.Since(start)).
			Msg("reminder run complete")
	}
}

// RunOnce claims one batch of due reminders and delivers them with bounded
// concurrency. Delivery failures are recorded on the reminder, never returned.
func (d *Dispatcher) RunOnce(ctx context.Context) (RunStats, error) {
	var stats RunStats

	claimed, err := d.store.ClaimDue(ctx, d.now(), d.cfg.Lease, d.cfg.BatchSize)
	if err != nil {
		return stats, fmt.Errorf("claim due reminders: %w", err)
	}
	stats.Claimed = len(claimed)
	d.metrics.ReminderClaims(len(claimed))
	if len(claimed) == 0 {
		return stats, nil
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.cfg.Concurrency)

	for _, delivery := range claimed {
		g.Go(func() error {
			result := d.process(gctx, delivery)
			mu.Lock()
			switch result {
			case "sent":
				stats.Sent++
			case "retry":
				stats.Retried++
			case "failed":
				stats.Failed++
			default:
				stats.Discarded++
			}
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	return stats, nil
}

func (d *Dispatcher) process(ctx context.Context, delivery Delivery) string {
	log := d.log.With().
		Str("reminder_id", delivery.ID.String()).
		Str("appointment_id", delivery.AppointmentID.String()).
		Str("kind", string(delivery.Kind)).
		Logger()

	start := time.Now()
	sendErr := d.send(ctx, delivery.Destination, Message(delivery))

	outcome := Outcome{Delivered: sendErr == nil}
	if sendErr != nil {
		outcome.Error = sendErr.Error()
	}

	// the result must be stored even when shutdown cancelled the run context
	recordCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), resultTimeout)
	defer cancel()

	updated, err := d.store.RecordResult(recordCtx, delivery.ID, delivery.ClaimToken, outcome, d.policy(), d.now())
	result := resultOf(updated, err)
	d.metrics.Delivery(result, time.Since(start))

	switch {
	case err != nil && (errors.Is(err, ErrLeaseLost) || errors.Is(err, ErrReminderNotPending)):
		log.Warn().Err(err).Msg("reminder result discarded")
	case err != nil:
		log.Error().Err(err).Msg("failed to record reminder result")
	case sendErr != nil:
		log.Warn().Err(sendErr).Int("attempts", updated.Attempts).Str("status", string(updated.Status)).Msg("reminder delivery failed")
	default:
		log.Debug().Msg("reminder sent")
	}

	return result
}

func resultOf(r *Reminder, err error) string {
	if err != nil || r == nil {
		return "discarded"
	}
	switch r.Status {
	case StatusSent:
		return "sent"
	case StatusFailed:
		return "failed"
	default:
		return "retry"
	}
}

// send bounds the call by SendTimeout even if the sender ignores ctx.
// A timeout counts as a failed attempt.
func (d *Dispatcher) send(ctx context.Context, destination, message string) error {
	timeout := d.cfg.SendTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	sendCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- d.sender.Send(sendCtx, destination, message)
	}()

	select {
	case err := <-done:
		return err
	case <-sendCtx.Done():
		return fmt.Errorf("%w: %v", ErrDeliveryFailure, sendCtx.Err())
	}
}

// ListDueReminders returns reminders that are due now, including ones
// currently leased by a dispatcher.
func (d *Dispatcher) ListDueReminders(ctx context.Context) ([]Reminder, error) {
	due, err := d.store.ListDue(ctx, d.now(), listDueLimit)
	if err != nil {
		return nil, fmt.Errorf("list due reminders: %w", err)
	}
	return due, nil
}

// MarkReminderResult records an outcome reported out of band, for example by
// a gateway that confirms delivery asynchronously. No lease is required.
func (d *Dispatcher) MarkReminderResult(ctx context.Context, id uuid.UUID, outcome Outcome) (*Reminder, error) {
	updated, err := d.store.RecordResult(ctx, id, uuid.Nil, outcome, d.policy(), d.now())
	if err != nil {
		return nil, err
	}
	d.metrics.Delivery(resultOf(updated, nil), 0)
	return updated, nil
}
