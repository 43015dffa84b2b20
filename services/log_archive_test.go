package services

import (
	"archive/zip"
	"bytes"
	"context"
	"io"
	"testing"
	"time"

	"halaqat_go/models"
	"halaqat_go/testutil"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memObjects struct {
	objects map[string][]byte
}

func (m *memObjects) Put(_ context.Context, key string, body []byte, _ string, _ bool) error {
	if m.objects == nil {
		m.objects = map[string][]byte{}
	}
	m.objects[key] = append([]byte(nil), body...)
	return nil
}

func (m *memObjects) Get(_ context.Context, key string) (io.ReadCloser, error) {
	b, ok := m.objects[key]
	if !ok {
		return nil, errors.New("no such key")
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}

func (m *memObjects) Delete(_ context.Context, key string) error {
	delete(m.objects, key)
	return nil
}

func (m *memObjects) URL(key string) string { return "https://cdn.test/" + key }

func (m *memObjects) KeyFromURL(url string) string {
	return url[len("https://cdn.test/"):]
}

func TestRecordWithoutRedisWritesRow(t *testing.T) {
	w := testutil.NewWorld(t)
	logs := NewLogArchiveService(w.DB, nil, nil, 30)

	logs.Record(context.Background(), models.ActivityLog{UserID: w.Admin.UserID, CenterID: w.Admin.CenterID, Action: "create", Resource: "students"})

	var n int64
	require.NoError(t, w.DB.Model(&models.ActivityLog{}).Count(&n).Error)
	assert.EqualValues(t, 1, n)

	flushed, err := logs.FlushCachedLogs(context.Background())
	require.NoError(t, err)
	assert.Zero(t, flushed)
}

func TestArchiveOldLogs(t *testing.T) {
	w := testutil.NewWorld(t)
	now := time.Date(2024, 5, 20, 2, 0, 0, 0, time.UTC)
	store := &memObjects{}
	logs := NewLogArchiveService(w.DB, nil, store, 3)
	logs.now = func() time.Time { return now }

	for _, age := range []int{30, 10, 1} {
		require.NoError(t, w.DB.Create(&models.ActivityLog{
			BaseModel: models.BaseModel{CreatedAt: now.AddDate(0, 0, -age)},
			UserID:    w.Admin.UserID,
			CenterID:  w.Admin.CenterID,
			Action:    "update",
			Resource:  "halaqat",
			Details:   []byte(`{"age":1}`),
		}).Error)
	}

	archive, err := logs.ArchiveOldLogs(context.Background())
	require.NoError(t, err)
	require.NotNil(t, archive)
	assert.Equal(t, models.ArchiveCompleted, archive.Status)
	assert.Equal(t, 2, archive.RecordCount, "retention never drops below a week")
	assert.Equal(t, "logs/archived/2024/05/activity_logs_2024-05-13.zip", archive.S3Key)

	body, ok := store.objects[archive.S3Key]
	require.True(t, ok)
	zr, err := zip.NewReader(bytes.NewReader(body), int64(len(body)))
	require.NoError(t, err)
	var names []string
	for _, f := range zr.File {
		names = append(names, f.Name)
	}
	assert.ElementsMatch(t, []string{"activity_logs.json", "activity_logs.csv", "metadata.json"}, names)

	var left int64
	require.NoError(t, w.DB.Model(&models.ActivityLog{}).Count(&left).Error)
	assert.EqualValues(t, 1, left)

	again, err := logs.ArchiveOldLogs(context.Background())
	require.NoError(t, err)
	assert.Nil(t, again)

	_, _, err = logs.Download(context.Background(), w.Admin, archive.ID)
	assert.Equal(t, "forbidden", Kind(err))
	r, name, err := logs.Download(context.Background(), w.Super, archive.ID)
	require.NoError(t, err)
	defer r.Close()
	assert.Equal(t, archive.FileName, name)
	got, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, body, got)

	list, err := logs.Archives(w.Super)
	require.NoError(t, err)
	assert.Len(t, list, 1)
	_, err = logs.Archives(w.Admin)
	assert.Equal(t, "forbidden", Kind(err))
}

func TestArchiveNeedsStorage(t *testing.T) {
	logs := NewLogArchiveService(testutil.NewDB(t), nil, nil, 30)
	_, err := logs.ArchiveOldLogs(context.Background())
	assert.Error(t, err)
}

func TestDownloadRejectsFailedArchive(t *testing.T) {
	w := testutil.NewWorld(t)
	failed := models.LogArchive{FileName: "x.zip", S3Key: "logs/x.zip", StartDate: time.Now(), EndDate: time.Now(), Status: models.ArchiveFailed}
	require.NoError(t, w.DB.Create(&failed).Error)
	logs := NewLogArchiveService(w.DB, nil, &memObjects{}, 30)

	_, _, err := logs.Download(context.Background(), w.Super, failed.ID)
	assert.Equal(t, "conflict", Kind(err))
	_, _, err = logs.Download(context.Background(), w.Super, 999)
	assert.Equal(t, "not_found", Kind(err))
}

func TestListLogsScopedToCenter(t *testing.T) {
	w := testutil.NewWorld(t)
	other := w.NewCenter(t, "مركز آخر")
	logs := NewLogArchiveService(w.DB, nil, nil, 30)
	ctx := context.Background()
	logs.Record(ctx, models.ActivityLog{UserID: 1, CenterID: &w.Center.ID, Action: "create", Resource: "students"})
	logs.Record(ctx, models.ActivityLog{UserID: 1, CenterID: &w.Center.ID, Action: "delete", Resource: "parents"})
	logs.Record(ctx, models.ActivityLog{UserID: 2, CenterID: &other.ID, Action: "create", Resource: "students"})

	mine, total, err := logs.ListLogs(w.Admin, LogFilter{})
	require.NoError(t, err)
	assert.EqualValues(t, 2, total)
	assert.Len(t, mine, 2)

	_, total, err = logs.ListLogs(w.Super, LogFilter{Action: "create"})
	require.NoError(t, err)
	assert.EqualValues(t, 2, total)

	_, _, err = logs.ListLogs(w.TeacherActor, LogFilter{})
	assert.Equal(t, "forbidden", Kind(err))
}
