package queue

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// FireFunc is invoked each time a schedule's cron expression matches.
type FireFunc func(ctx context.Context, s Schedule) error

// Scheduler turns stored schedules into cron entries.
type Scheduler struct {
	queue  Queue
	fire   FireFunc
	logger zerolog.Logger
	cron   *cron.Cron
}

func NewScheduler(q Queue, fire FireFunc, logger zerolog.Logger) *Scheduler {
	return &Scheduler{
		queue:  q,
		fire:   fire,
		logger: logger,
		cron:   cron.New(),
	}
}

// ValidateCron checks a standard five-field expression.
func ValidateCron(expr string) error {
	if _, err := cron.ParseStandard(expr); err != nil {
		return fmt.Errorf("invalid cron %q: %w", expr, err)
	}
	return nil
}

// Run loads schedules, starts the cron loop and blocks until ctx is done.
func (s *Scheduler) Run(ctx context.Context) error {
	schedules, err := s.queue.Schedules(ctx)
	if err != nil {
		return fmt.Errorf("load schedules: %w", err)
	}

	for _, schedule := range schedules {
		schedule := schedule
		_, err := s.cron.AddFunc(schedule.Cron, func() {
			if err := s.fire(ctx, schedule); err != nil {
				s.logger.Error().
					Err(err).
					Str("topic", schedule.Topic).
					Str("schedule", schedule.Name).
					Msg("scheduled trigger failed")
			}
		})
		if err != nil {
			return fmt.Errorf("register schedule %s/%s: %w", schedule.Topic, schedule.Name, err)
		}
		s.logger.Info().
			Str("topic", schedule.Topic).
			Str("schedule", schedule.Name).
			Str("cron", schedule.Cron).
			Msg("schedule registered")
	}

	s.cron.Start()
	<-ctx.Done()
	stopped := s.cron.Stop()
	<-stopped.Done()
	return nil
}
