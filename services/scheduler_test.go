package services

import (
	"context"
	"testing"
	"time"

	"halaqat_go/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultJobsFollowWiredServices(t *testing.T) {
	assert.Empty(t, DefaultJobs(ScheduleOptions{}))

	db := testutil.NewDB(t)
	jobs := DefaultJobs(ScheduleOptions{
		Votes:      NewVoteService(db, NewPurchaseService(db, nil), nil, time.Hour),
		Reports:    NewReportService(db, nil, 5),
		Archive:    NewLogArchiveService(db, nil, nil, 30),
		Matcher:    NewLineGroupMatcher(db),
		ReminderAt: "0 18 * * *",
	})
	names := map[string]string{}
	for _, j := range jobs {
		names[j.Name] = j.Spec
	}
	assert.Equal(t, map[string]string{
		"expire_votes":      "*/10 * * * *",
		"report_reminders":  "0 18 * * *",
		"flush_logs":        "@hourly",
		"archive_logs":      "0 2 * * *",
		"match_line_groups": "@every 30m",
	}, names)

	s, err := NewScheduler(jobs, nil)
	require.NoError(t, err)
	assert.Equal(t, len(jobs), s.Entries())

	for _, j := range jobs {
		if j.Name == "expire_votes" || j.Name == "flush_logs" || j.Name == "match_line_groups" {
			assert.NoError(t, j.Run(context.Background()), j.Name)
		}
	}
}

func TestSchedulerRejectsBadSpec(t *testing.T) {
	_, err := NewScheduler([]Job{{Name: "broken", Spec: "every tuesday", Run: func(context.Context) error { return nil }}}, time.UTC)
	assert.Error(t, err)
}

func TestSchedulerStartStop(t *testing.T) {
	s, err := NewScheduler([]Job{{Name: "noop", Spec: "@every 1h", Run: func(context.Context) error { return nil }}}, time.UTC)
	require.NoError(t, err)
	s.Start()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	s.Stop(ctx)
}
