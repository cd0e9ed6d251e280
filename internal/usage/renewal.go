package usage

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	robfigcron "github.com/robfig/cron/v3"
)

// DefaultResetSchedule resets period usage at midnight on the first of
// every month.
const DefaultResetSchedule = "0 0 1 * *"

// PeriodResetter clears the rolling period counter of every user.
type PeriodResetter interface {
	ResetPeriodUsage(ctx context.Context) (int64, error)
}

// RenewalScheduler resets period usage on a cron schedule, for deployments
// where subscription renewals do not arrive as billing events.
type RenewalScheduler struct {
	resetter PeriodResetter
	spec     string
	loc      *time.Location
	robfig   *robfigcron.Cron
}

// NewRenewalScheduler validates spec (standard 5-field cron or @descriptor) and returns a
// scheduler that has not been started. An empty spec uses
// DefaultResetSchedule.
func NewRenewalScheduler(resetter PeriodResetter, spec string, loc *time.Location) (*RenewalScheduler, error) {
	if spec == "" {
		spec = DefaultResetSchedule
	}
	if loc == nil {
		loc = time.UTC
	}
	parser := robfigcron.NewParser(
		robfigcron.Minute | robfigcron.Hour | robfigcron.Dom | robfigcron.Month | robfigcron.Dow | robfigcron.Descriptor,
	)
	if _, err := parser.Parse(spec); err != nil {
		return nil, fmt.Errorf("parse renewal schedule %q: %w", spec, err)
	}
	return &RenewalScheduler{
		resetter: resetter,
		spec:     spec,
		loc:      loc,
		robfig:   robfigcron.New(robfigcron.WithLocation(loc)),
	}, nil
}

// Next returns the next reset time after t.
func (s *RenewalScheduler) Next(t time.Time) time.Time {
	sched, err := robfigcron.ParseStandard(s.spec)
	if err != nil {
		return time.Time{}
	}
	return sched.Next(t.In(s.loc))
}

// Start arms the schedule and blocks until ctx is cancelled.
func (s *RenewalScheduler) Start(ctx context.Context) error {
	if _, err := s.robfig.AddFunc(s.spec, func() { s.RunOnce(ctx) }); err != nil {
		return fmt.Errorf("schedule renewal: %w", err)
	}
	s.robfig.Start()
	slog.Info("usage renewal: started", "schedule", s.spec, "next", s.Next(time.Now()))

	<-ctx.Done()

	<-s.robfig.Stop().Done()
	return nil
}

// RunOnce performs a single reset and logs the outcome.
func (s *RenewalScheduler) RunOnce(ctx context.Context) {
	n, err := s.resetter.ResetPeriodUsage(ctx)
	if err != nil {
		slog.Error("usage renewal: reset failed", "err", err)
		return
	}
	slog.Info("usage renewal: period usage reset", "users", n)
}
