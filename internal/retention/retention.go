// Package retention prunes aged rows from the audit stores on a schedule.
package retention

import (
	"log"
	"time"

	"github.com/robfig/cron/v3"
)

// Pruner deletes rows created before a cutoff and reports how many went.
type Pruner interface {
	PruneOlderThan(cutoff time.Time) (int64, error)
}

// Job runs all registered pruners on a cron schedule.
type Job struct {
	schedule string
	maxAge   time.Duration
	pruners  map[string]Pruner
	cron     *cron.Cron
	now      func() time.Time
}

// New creates a retention job. schedule is a standard cron expression;
// maxDays is how long rows live.
func New(schedule string, maxDays int) *Job {
	return &Job{
		schedule: schedule,
		maxAge:   time.Duration(maxDays) * 24 * time.Hour,
		pruners:  map[string]Pruner{},
		now:      time.Now,
	}
}

// Add registers a named pruner. Call before Start.
func (j *Job) Add(name string, p Pruner) {
	j.pruners[name] = p
}

// Start schedules the job. Returns an error only for a bad cron expression.
func (j *Job) Start() error {
	j.cron = cron.New()
	if _, err := j.cron.AddFunc(j.schedule, j.Run); err != nil {
		return err
	}
	j.cron.Start()
	log.Printf("retention: scheduled %q, max age %s", j.schedule, j.maxAge)
	return nil
}

// Stop halts the schedule and waits for a running prune to finish.
func (j *Job) Stop() {
	if j.cron != nil {
		<-j.cron.Stop().Done()
	}
}

// Run prunes every registered store once. Failures are logged per store;
// one failing store does not stop the others.
func (j *Job) Run() {
	cutoff := j.now().Add(-j.maxAge)
	for name, p := range j.pruners {
		n, err := p.PruneOlderThan(cutoff)
		if err != nil {
			log.Printf("retention: prune %s: %v", name, err)
			continue
		}
		if n > 0 {
			log.Printf("retention: pruned %d rows from %s", n, name)
		}
	}
}
