package services

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// Job is one periodic task.
type Job struct {
	Name string
	Spec string
	Run  func(ctx context.Context) error
}

// ScheduleOptions wires the services the periodic jobs call. Nil services skip their jobs.
type ScheduleOptions struct {
	Votes      *VoteService
	Reports    *ReportService
	Archive    *LogArchiveService
	Matcher    *LineGroupMatcher
	ReminderAt string
	Now        func() time.Time
}

// Scheduler runs the background jobs on a cron table.
type Scheduler struct {
	cron *cron.Cron
	jobs []Job
}

// DefaultJobs builds the job table: vote expiry, report reminders, log flushing and archiving,
// and LINE group matching.
func DefaultJobs(o ScheduleOptions) []Job {
	now := o.Now
	if now == nil {
		now = time.Now
	}
	var jobs []Job
	if o.Votes != nil {
		jobs = append(jobs, Job{Name: "expire_votes", Spec: "*/10 * * * *", Run: func(context.Context) error {
			_, err := o.Votes.ExpireVotes(now().UTC())
			return err
		}})
	}
	if o.Reports != nil && o.ReminderAt != "" {
		jobs = append(jobs, Job{Name: "report_reminders", Spec: o.ReminderAt, Run: func(context.Context) error {
			n, err := o.Reports.RemindMissing(now())
			if n > 0 {
				logrus.WithField("halaqat", n).Info("sent missing report reminders")
			}
			return err
		}})
	}
	if o.Archive != nil {
		jobs = append(jobs,
			Job{Name: "flush_logs", Spec: "@hourly", Run: func(ctx context.Context) error {
				_, err := o.Archive.FlushCachedLogs(ctx)
				return err
			}},
			Job{Name: "archive_logs", Spec: "0 2 * * *", Run: func(ctx context.Context) error {
				_, err := o.Archive.ArchiveOldLogs(ctx)
				return err
			}},
		)
	}
	if o.Matcher != nil {
		jobs = append(jobs, Job{Name: "match_line_groups", Spec: "@every 30m", Run: func(context.Context) error {
			return o.Matcher.MatchAll()
		}})
	}
	return jobs
}

// NewScheduler registers jobs on a cron table that skips overlapping runs and recovers panics.
func NewScheduler(jobs []Job, loc *time.Location) (*Scheduler, error) {
	if loc == nil {
		loc = time.UTC
	}
	logger := cron.PrintfLogger(logrus.StandardLogger())
	c := cron.New(
		cron.WithLocation(loc),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
	for _, j := range jobs {
		j := j
		if _, err := c.AddFunc(j.Spec, func() { runJob(j) }); err != nil {
			return nil, errors.Wrapf(err, "schedule %s (%q)", j.Name, j.Spec)
		}
	}
	return &Scheduler{cron: c, jobs: jobs}, nil
}

func runJob(j Job) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()
	start := time.Now()
	entry := logrus.WithField("job", j.Name)
	if err := j.Run(ctx); err != nil {
		entry.WithError(err).Error("scheduled job failed")
		return
	}
	entry.WithField("duration", time.Since(start).String()).Debug("scheduled job done")
}

func (s *Scheduler) Start() {
	s.cron.Start()
	logrus.WithField("jobs", len(s.jobs)).Info("scheduler started")
}

// Stop waits for running jobs to finish or ctx to end.
func (s *Scheduler) Stop(ctx context.Context) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
		logrus.Warn("scheduler stop timed out")
	}
}

// Entries reports the number of registered jobs.
func (s *Scheduler) Entries() int { return len(s.cron.Entries()) }
