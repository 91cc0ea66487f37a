package appointment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	redisclient "github.com/hackgods/clinic-appointment-engine/internal/redis"
)

const sweepLockKey = "lock:sweep"

type SweepResult struct {
	Scanned      int
	Transitioned int
	Skipped      int
	Failed       int
	// Partial is set when the pass deadline expired before every scanned
	// record was visited. The next pass picks up the rest.
	Partial bool
}

// Remaining is the number of scanned records the pass did not reach.
func (r SweepResult) Remaining() int {
	return r.Scanned - r.Transitioned - r.Skipped - r.Failed
}

// RunSweep marks every Booked appointment whose instant is before now as
// Missed. Each record is written with the same guarded update as other
// transitions, so a concurrent cancel or complete wins and the record is
// skipped. A failure on one record does not stop the batch. Running out of
// deadline mid-batch returns the progress so far with Partial set.
func (s *Service) RunSweep(ctx context.Context, now time.Time) (SweepResult, error) {
	var res SweepResult

	overdue, err := call(ctx, s, func(ctx context.Context) ([]Appointment, error) {
		return s.repo.FindOverdueBooked(ctx, now)
	})
	if err != nil {
		return res, fmt.Errorf("find overdue appointments: %w", err)
	}
	res.Scanned = len(overdue)

	for _, appt := range overdue {
		if err := ctx.Err(); err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				res.Partial = true
				return res, nil
			}
			return res, err
		}

		to, err := Transition(appt, ActionMiss, SystemActor, now)
		if err != nil {
			res.Skipped++
			continue
		}

		_, err = call(ctx, s, func(ctx context.Context) (*Appointment, error) {
			return s.repo.UpdateAppointmentStatus(ctx, appt.ID, StatusBooked, to)
		})
		switch {
		case errors.Is(err, ErrStaleState), errors.Is(err, ErrNotFound):
			res.Skipped++
			continue
		case err != nil && ctx.Err() != nil:
			// deadline or shutdown hit mid-write; the loop head decides
			continue
		case err != nil:
			res.Failed++
			s.log(ctx).Error().Err(err).
				Str("appointment_id", appt.ID.String()).
				Str("kind", ErrorKind(err)).
				Msg("failed to mark appointment missed")
			continue
		}

		res.Transitioned++
		s.logEvent(ctx, appt.ID, EventAppointmentMissed, map[string]any{
			"reason":  "sweep",
			"instant": appt.Instant().Format(time.DateTime),
		})
	}

	if errors.Is(ctx.Err(), context.DeadlineExceeded) && res.Remaining() > 0 {
		res.Partial = true
	}
	return res, nil
}

// Sweeper runs RunSweep on a fixed interval. When a locker is set, only one
// sweeper across the deployment runs a pass at a time.
type Sweeper struct {
	svc      *Service
	locker   redisclient.Locker
	interval time.Duration
	budget   time.Duration
	logger   zerolog.Logger
}

const defaultSweepBudget = 20 * time.Second

// NewSweeper builds a sweeper whose passes stop after budget. With a locker
// the budget must be shorter than the lock TTL, since the locker cancels the
// pass when its key expires.
func NewSweeper(svc *Service, locker redisclient.Locker, interval, budget time.Duration, logger zerolog.Logger) *Sweeper {
	if budget <= 0 {
		budget = defaultSweepBudget
	}
	return &Sweeper{
		svc:      svc,
		locker:   locker,
		interval: interval,
		budget:   budget,
		logger:   logger.With().Str("component", "sweeper").Logger(),
	}
}

// Run sweeps once immediately and then on every tick until ctx is done.
func (w *Sweeper) Run(ctx context.Context) {
	w.RunOnce(ctx)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info().Msg("shutdown signal received, stopping sweeper")
			return
		case <-ticker.C:
			w.RunOnce(ctx)
		}
	}
}

// RunOnce performs a single pass and logs its outcome.
func (w *Sweeper) RunOnce(ctx context.Context) (SweepResult, error) {
	runCtx, cancel := context.WithTimeout(ctx, w.budget)
	defer cancel()

	start := time.Now()
	var res SweepResult

	pass := func(ctx context.Context) error {
		var err error
		res, err = w.svc.RunSweep(ctx, w.svc.now())
		return err
	}

	var err error
	if w.locker != nil {
		err = w.locker.TryWithLock(runCtx, sweepLockKey, pass)
		if errors.Is(err, redisclient.ErrLockNotAcquired) {
			w.logger.Debug().Msg("another sweeper holds the lock, skipping pass")
			return res, nil
		}
	} else {
		err = pass(runCtx)
	}

	if err != nil {
		w.logger.Error().Err(err).Msg("sweep run error")
		return res, err
	}

	if res.Partial {
		w.logger.Warn().
			Int("transitioned", res.Transitioned).
			Int("remaining", res.Remaining()).
			Dur("budget", w.budget).
			Msg("sweep pass stopped at deadline, resuming next tick")
		return res, nil
	}

	w.logger.Info().
		Int("scanned", res.Scanned).
		Int("transitioned", res.Transitioned).
		Int("skipped", res.Skipped).
		Int("failed", res.Failed).
		Dur("took", time.Since(start)).
		Msg("sweep run complete")
	return res, nil
}
