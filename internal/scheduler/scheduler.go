// Package scheduler runs the background sweeps of the booking core. Each
// sweep shares no state with request handling except the storage layer:
// token activation/expiry, reservation expiry, compensation retry and
// outbox maintenance are cron jobs, while the latency-sensitive outbox
// relay runs on its own tight ticker loop.
package scheduler

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/iliyamo/concert-ticket-booking/internal/service"
)

// Intervals collects the sweep cadences, all sourced from configuration.
type Intervals struct {
	QueueSweep        time.Duration
	ReservationSweep  time.Duration
	CompensationRetry time.Duration
	OutboxPoll        time.Duration
	OutboxCleanup     time.Duration
	OutboxRetry       time.Duration
}

// Scheduler owns the periodic jobs and their lifecycle.
type Scheduler struct {
	cron      *cron.Cron
	queue     *service.QueueService
	resv      *service.ReservationService
	payments  *service.PaymentService
	outbox    *service.OutboxService
	intervals Intervals

	cancel context.CancelFunc
	done   chan struct{}
}

// New constructs a Scheduler over the four services.
func New(queue *service.QueueService, resv *service.ReservationService, payments *service.PaymentService, outbox *service.OutboxService, intervals Intervals) *Scheduler {
	return &Scheduler{
		cron:      cron.New(cron.WithSeconds()),
		queue:     queue,
		resv:      resv,
		payments:  payments,
		outbox:    outbox,
		intervals: intervals,
		done:      make(chan struct{}),
	}
}

// Start registers the cron jobs and launches the relay loop. Job errors
// are logged, never fatal; the next tick tries again.
func (s *Scheduler) Start() error {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	jobs := []struct {
		name  string
		every time.Duration
		run   func(context.Context) error
	}{
		{"queue-sweep", s.intervals.QueueSweep, s.queue.Sweep},
		{"reservation-sweep", s.intervals.ReservationSweep, func(ctx context.Context) error {
			_, err := s.resv.ExpireSweep(ctx)
			return err
		}},
		{"compensation-retry", s.intervals.CompensationRetry, s.payments.RetryCompensations},
		{"outbox-cleanup", s.intervals.OutboxCleanup, s.outbox.RemoveSent},
		{"outbox-retry", s.intervals.OutboxRetry, s.outbox.RetryErrors},
	}
	for _, j := range jobs {
		job := j
		spec := fmt.Sprintf("@every %s", job.every)
		if _, err := s.cron.AddFunc(spec, func() {
			if err := job.run(ctx); err != nil {
				log.Printf("%s: %v", job.name, err)
			}
		}); err != nil {
			return fmt.Errorf("schedule %s: %w", job.name, err)
		}
	}
	s.cron.Start()

	go s.relayLoop(ctx)
	return nil
}

// Stop halts the cron jobs and the relay loop, waiting for the relay to
// finish its current pass.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	<-s.cron.Stop().Done()
	<-s.done
}

// relayLoop drains PENDING outbox entries on a short fixed interval so a
// staged event reaches the broker within milliseconds of its commit.
func (s *Scheduler) relayLoop(ctx context.Context) {
	defer close(s.done)
	ticker := time.NewTicker(s.intervals.OutboxPoll)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.outbox.SendPending(ctx); err != nil {
				log.Printf("outbox-relay: %v", err)
			}
		}
	}
}
