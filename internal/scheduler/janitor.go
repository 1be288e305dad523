// Package scheduler runs periodic maintenance jobs for the service.
package scheduler

import (
	"time"

	"github.com/go-co-op/gocron"
	"github.com/sirupsen/logrus"
)

// CachePurger removes cached archive files older than a given age.
type CachePurger interface {
	PurgeOlderThan(age time.Duration) (int, error)
}

// Janitor periodically evicts stale files from the archive cache.
type Janitor struct {
	scheduler *gocron.Scheduler
	cache     CachePurger
	maxAge    time.Duration
	interval  time.Duration
	log       logrus.FieldLogger
}

// NewJanitor creates a janitor that runs every interval and removes files
// older than maxAge.
func NewJanitor(cache CachePurger, maxAge, interval time.Duration, log logrus.FieldLogger) *Janitor {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Janitor{
		scheduler: gocron.NewScheduler(time.UTC),
		cache:     cache,
		maxAge:    maxAge,
		interval:  interval,
		log:       log.WithField("job", "cache-janitor"),
	}
}

// Start schedules the job and starts the scheduler. A zero maxAge or
// interval leaves the janitor idle.
func (j *Janitor) Start() error {
	if j.maxAge <= 0 || j.interval <= 0 {
		j.log.Info("cache janitor disabled")
		return nil
	}

	if _, err := j.scheduler.Every(j.interval).Do(func() { j.RunOnce() }); err != nil {
		return err
	}
	j.scheduler.StartAsync()
	j.log.WithFields(logrus.Fields{"interval": j.interval, "max_age": j.maxAge}).Info("cache janitor started")
	return nil
}

// RunOnce purges the cache immediately and returns the number of files
// removed.
func (j *Janitor) RunOnce() int {
	n, err := j.cache.PurgeOlderThan(j.maxAge)
	if err != nil {
		j.log.WithError(err).Warn("cache purge failed")
	}
	if n > 0 {
		j.log.WithField("removed", n).Info("purged stale archive files")
	}
	return n
}

// Stop stops the scheduler and cancels future runs.
func (j *Janitor) Stop() {
	if j.scheduler != nil {
		j.scheduler.Stop()
	}
}
