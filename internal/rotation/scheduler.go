// Package rotation runs scheduled key rotations in the background.
package rotation

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/keyhub/keyhub/internal/model"
)

// Rotator rotates every key that is due on the given day.
type Rotator interface {
	RotateDue(ctx context.Context, today model.Date) (int, error)
}

// Scheduler periodically fires the rotations whose date has arrived.
type Scheduler struct {
	rotator  Rotator
	interval time.Duration
	timeout  time.Duration
	today    func() model.Date
	log      *slog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a Scheduler. It returns nil when interval is not positive,
// which disables scheduled rotation; a nil Scheduler is safe to Start and
// Shutdown.
func New(rotator Rotator, interval time.Duration, log *slog.Logger) *Scheduler {
	if interval <= 0 {
		return nil
	}
	if log == nil {
		log = slog.Default()
	}
	return &Scheduler{
		rotator:  rotator,
		interval: interval,
		timeout:  interval,
		today:    model.Today,
		log:      log,
	}
}

// Start runs a pass immediately and then once per interval. Non-blocking.
func (s *Scheduler) Start() {
	if s == nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		s.RunOnce(ctx)

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				s.RunOnce(ctx)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// RunOnce rotates the keys due today and logs the outcome.
func (s *Scheduler) RunOnce(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	today := s.today()
	n, err := s.rotator.RotateDue(ctx, today)
	if err != nil {
		s.log.Error("scheduled rotation pass failed", "date", today.String(), "rotated", n, "error", err)
		return
	}
	if n > 0 {
		s.log.Info("scheduled rotation pass", "date", today.String(), "rotated", n)
	}
}

// Shutdown stops the loop and waits for an in-flight pass to finish.
func (s *Scheduler) Shutdown() {
	if s == nil {
		return
	}
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}
