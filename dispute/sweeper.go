package dispute

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// SweepObserver is told about each dispute the sweeper closes.
type SweepObserver interface {
	SweepResolved()
}

// Sweeper resolves disputes whose voting deadline has passed. Resolve is
// permissionless, so the sweeper needs no caller identity.
type Sweeper struct {
	svc      *Service
	logger   *slog.Logger
	observer SweepObserver
}

func NewSweeper(svc *Service, logger *slog.Logger) *Sweeper {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{svc: svc, logger: logger.With("component", "dispute-sweeper")}
}

func (s *Sweeper) WithObserver(o SweepObserver) *Sweeper {
	s.observer = o
	return s
}

// RunOnce resolves every dispute due at the service clock's current time and
// returns how many were closed. Rejected and unsettleable disputes are logged
// and skipped; an infrastructure error ends the pass.
func (s *Sweeper) RunOnce(ctx context.Context) (int, error) {
	ids, err := s.svc.DueForResolution(ctx, s.svc.now())
	if err != nil {
		return 0, err
	}
	closed := 0
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return closed, err
		}
		res, err := s.svc.Resolve(ctx, id)
		if err != nil {
			switch {
			case Rejected(err):
				s.logger.WarnContext(ctx, "skip dispute", "dispute_id", id, "error", err)
				continue
			case KindOf(err) == KindInvariant:
				s.logger.ErrorContext(ctx, "dispute cannot be settled", "dispute_id", id, "error", err)
				continue
			}
			return closed, err
		}
		closed++
		if s.observer != nil {
			s.observer.SweepResolved()
		}
		s.logger.DebugContext(ctx, "swept dispute", "dispute_id", id, "quorum", res.QuorumReached)
	}
	return closed, nil
}

// Run sweeps every interval until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if _, err := s.RunOnce(ctx); err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			s.logger.ErrorContext(ctx, "sweep failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
