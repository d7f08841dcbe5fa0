package reminder

import (
	"context"
	"time"

	"crewtext/backend/pkg/logger"

	"github.com/robfig/cron/v3"
)

// CronRunner drives the scheduled reminder batch on a cron spec.
type CronRunner struct {
	cron      *cron.Cron
	scheduler *Scheduler
	spec      string
	logger    *logger.Logger
}

func NewCronRunner(scheduler *Scheduler, spec string, log *logger.Logger) *CronRunner {
	if spec == "" {
		spec = "0 * * * *"
	}
	return &CronRunner{
		cron:      cron.New(),
		scheduler: scheduler,
		spec:      spec,
		logger:    log,
	}
}

// Start registers the batch job and starts the cron loop.
func (r *CronRunner) Start() error {
	_, err := r.cron.AddFunc(r.spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
		defer cancel()

		start := time.Now()
		results := r.scheduler.ProcessScheduledReminders(ctx)

		sent := 0
		for _, res := range results {
			if res.Success {
				sent++
			}
		}
		r.logger.Info("Reminder batch completed",
			"processed", len(results),
			"sent", sent,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
	if err != nil {
		return err
	}

	r.cron.Start()
	r.logger.Info("Reminder cron started", "spec", r.spec)
	return nil
}

// Stop halts the cron loop, waiting for a running batch to finish.
func (r *CronRunner) Stop() {
	ctx := r.cron.Stop()
	<-ctx.Done()
}
