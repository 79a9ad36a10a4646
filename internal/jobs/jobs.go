package jobs

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

const defaultJobTimeout = 10 * time.Minute

// Job is one scheduled task: a cron spec and the function it runs.
type Job struct {
	Name string
	Spec string
	Run  func(ctx context.Context) error
}

// Register adds the jobs to the scheduler. Each run gets its own timeout
// context; failures are logged and the schedule keeps going.
func Register(c *cron.Cron, log *zap.Logger, jobs []Job) error {
	for _, job := range jobs {
		job := job
		_, err := c.AddFunc(job.Spec, func() {
			ctx, cancel := context.WithTimeout(context.Background(), defaultJobTimeout)
			defer cancel()

			start := time.Now()
			if err := job.Run(ctx); err != nil {
				log.Error("job failed",
					zap.String("job", job.Name),
					zap.Duration("elapsed", time.Since(start)),
					zap.Error(err),
				)
				return
			}
			log.Info("job completed",
				zap.String("job", job.Name),
				zap.Duration("elapsed", time.Since(start)),
			)
		})
		if err != nil {
			return err
		}
	}
	return nil
}
