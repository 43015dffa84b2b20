package services

import (
	"context"
	"testing"
	"time"

	"halaqat_go/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHealthReportWithoutRedis(t *testing.T) {
	h := NewHealthService(testutil.NewDB(t), nil, HealthOptions{Environment: "test", StorageOn: true})
	h.SetStartTime(time.Now().Add(-90 * time.Minute))

	r := h.Report(context.Background())
	assert.Equal(t, "ok", r.Status)
	assert.Equal(t, "Halaqat API", r.Service)
	assert.Equal(t, "1h 30m", r.UptimeHuman)
	require.Len(t, r.Dependencies, 4)
	assert.Equal(t, "up", r.Dependencies[0].Status)
	assert.Equal(t, "disabled", r.Dependencies[1].Status)
	assert.Equal(t, "disabled", r.Dependencies[2].Status)
	assert.Equal(t, "up", r.Dependencies[3].Status)
	assert.NotNil(t, r.Metrics.Database)
	assert.Equal(t, 200, h.HTTPStatusForOverall(r.Status))
}

func TestHealthCriticalWithoutDatabase(t *testing.T) {
	h := NewHealthService(nil, nil, HealthOptions{})
	r := h.Report(context.Background())
	assert.Equal(t, "critical", r.Status)
	assert.Equal(t, 503, h.HTTPStatusForOverall(r.Status))
}

func TestCombineStatusKeepsWorst(t *testing.T) {
	assert.Equal(t, "degraded", combineStatus("ok", "degraded"))
	assert.Equal(t, "critical", combineStatus("critical", "degraded"))
	assert.Equal(t, "0s", humanizeDuration(0))
	assert.Equal(t, "1d 2h", humanizeDuration(26*time.Hour))
}
