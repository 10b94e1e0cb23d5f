package session

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/adhocore/gronx"
)

// Sweeper periodically deletes expired sessions on a cron schedule. Purely a
// storage-reclamation job: Load already filters expired rows, so correctness
// never depends on the sweeper running.
type Sweeper struct {
	store    Store
	schedule string
}

// NewSweeper validates the cron expression and returns a sweeper.
func NewSweeper(store Store, schedule string) (*Sweeper, error) {
	if !gronx.New().IsValid(schedule) {
		return nil, fmt.Errorf("invalid sweep schedule %q", schedule)
	}
	return &Sweeper{store: store, schedule: schedule}, nil
}

// Run blocks until ctx is cancelled, sweeping at each scheduled tick.
func (s *Sweeper) Run(ctx context.Context) {
	for {
		next, err := gronx.NextTick(s.schedule, false)
		if err != nil {
			slog.Error("session sweeper: compute next tick", "error", err)
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Until(next)):
		}

		n, err := s.store.Sweep(ctx)
		if err != nil {
			slog.Warn("session sweep failed", "error", err)
			continue
		}
		if n > 0 {
			slog.Info("session sweep completed", "deleted", n)
		}
	}
}
