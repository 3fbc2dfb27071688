package taskqueue

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/AMD-AGI/Skylapse/brain/pkg/logger/log"
)

// Janitor periodically redelivers abandoned jobs and prunes old done jobs.
// Dead-letter jobs are never touched.
type Janitor struct {
	queue Queue
	cron  *cron.Cron

	retention time.Duration
}

func NewJanitor(queue Queue, config *Config) *Janitor {
	if config == nil {
		config = DefaultConfig()
	}
	retention := time.Duration(config.RetentionDays) * 24 * time.Hour
	return &Janitor{
		queue:     queue,
		cron:      cron.New(),
		retention: retention,
	}
}

func (j *Janitor) Start(ctx context.Context) error {
	if _, err := j.cron.AddFunc("@every 1m", func() {
		count, err := j.queue.ReclaimExpired(ctx)
		if err != nil {
			log.Errorf("Janitor: reclaim failed: %v", err)
			return
		}
		if count > 0 {
			log.Infof("Janitor: redelivered %d expired jobs", count)
		}
	}); err != nil {
		return err
	}

	if _, err := j.cron.AddFunc("@every 1h", func() {
		count, err := j.queue.Cleanup(ctx, j.retention)
		if err != nil {
			log.Errorf("Janitor: cleanup failed: %v", err)
			return
		}
		if count > 0 {
			log.Infof("Janitor: pruned %d done jobs older than %s", count, j.retention)
		}
	}); err != nil {
		return err
	}

	j.cron.Start()
	return nil
}

func (j *Janitor) Stop() {
	<-j.cron.Stop().Done()
}
