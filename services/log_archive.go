package services

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"halaqat_go/access"
	"halaqat_go/models"
	"halaqat_go/storage"

	"github.com/go-redis/redis/v8"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const (
	logQueueKey     = "logs:queue"
	logCacheTTL     = 24 * time.Hour
	minArchiveDays  = 7
	archiveBatch    = 1000
	archiveFolder   = "logs/archived"
	archiveMimeType = "application/zip"
)

// LogArchiveService records activity logs, flushes the Redis cache into the database
// and moves old rows to object storage.
type LogArchiveService struct {
	db            *gorm.DB
	rdb           *redis.Client
	store         storage.ObjectStore
	retentionDays int
	now           func() time.Time
}

func NewLogArchiveService(db *gorm.DB, rdb *redis.Client, store storage.ObjectStore, retentionDays int) *LogArchiveService {
	return &LogArchiveService{db: db, rdb: rdb, store: store, retentionDays: retentionDays, now: nowUTC}
}

// ArchivedLog is the exported representation stored inside archives
type ArchivedLog struct {
	ID         uint           `json:"id"`
	UserID     uint           `json:"user_id"`
	CenterID   *uint          `json:"center_id,omitempty"`
	Action     string         `json:"action"`
	Resource   string         `json:"resource"`
	ResourceID uint           `json:"resource_id"`
	Details    map[string]any `json:"details,omitempty"`
	IPAddress  string         `json:"ip_address"`
	UserAgent  string         `json:"user_agent"`
	CreatedAt  time.Time      `json:"created_at"`
}

// Record caches a log entry in Redis, or writes it straight to the database when Redis is
// unavailable.
func (s *LogArchiveService) Record(ctx context.Context, entry models.ActivityLog) {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = s.now()
	}
	if s.rdb != nil {
		err := s.cache(ctx, entry)
		if err == nil {
			return
		}
		logrus.WithError(err).Warn("activity log not cached, saving directly")
	}
	if err := s.db.Create(&entry).Error; err != nil {
		logrus.WithError(err).Error("failed to save activity log")
	}
}

func (s *LogArchiveService) cache(ctx context.Context, entry models.ActivityLog) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return errors.Wrap(err, "marshal log")
	}
	key := fmt.Sprintf("log:%d:%s:%d", entry.UserID, entry.Action, entry.CreatedAt.UnixNano())
	pipe := s.rdb.TxPipeline()
	pipe.Set(ctx, key, data, logCacheTTL)
	pipe.ZAdd(ctx, logQueueKey, &redis.Z{Score: float64(entry.CreatedAt.Unix()), Member: key})
	_, err = pipe.Exec(ctx)
	return errors.Wrap(err, "cache log")
}

// FlushCachedLogs moves every queued log from Redis into the database.
func (s *LogArchiveService) FlushCachedLogs(ctx context.Context) (int, error) {
	if s.rdb == nil {
		return 0, nil
	}
	keys, err := s.rdb.ZRangeByScore(ctx, logQueueKey, &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(s.now().Unix(), 10),
	}).Result()
	if err != nil {
		return 0, errors.Wrap(err, "read log queue")
	}

	flushed, failed := 0, 0
	for _, key := range keys {
		raw, err := s.rdb.Get(ctx, key).Result()
		if err == redis.Nil {
			s.rdb.ZRem(ctx, logQueueKey, key)
			continue
		}
		if err != nil {
			failed++
			continue
		}
		var entry models.ActivityLog
		if err := json.Unmarshal([]byte(raw), &entry); err != nil {
			logrus.WithError(err).WithField("key", key).Error("dropping unreadable cached log")
			s.rdb.Del(ctx, key)
			s.rdb.ZRem(ctx, logQueueKey, key)
			failed++
			continue
		}
		entry.ID = 0
		if err := s.db.Create(&entry).Error; err != nil {
			logrus.WithError(err).Error("failed to persist cached log")
			failed++
			continue
		}
		pipe := s.rdb.Pipeline()
		pipe.Del(ctx, key)
		pipe.ZRem(ctx, logQueueKey, key)
		if _, err := pipe.Exec(ctx); err != nil {
			logrus.WithError(err).WithField("key", key).Warn("flushed log still cached")
		}
		flushed++
	}
	if len(keys) > 0 {
		logrus.WithFields(logrus.Fields{"flushed": flushed, "failed": failed}).Info("activity log cache flushed")
	}
	return flushed, nil
}

// ArchiveOldLogs zips every log older than the retention window, uploads it and deletes
// the archived rows. The archive row records the outcome either way.
func (s *LogArchiveService) ArchiveOldLogs(ctx context.Context) (*models.LogArchive, error) {
	days := s.retentionDays
	if days < minArchiveDays {
		days = minArchiveDays
	}
	if s.store == nil {
		return nil, errors.New("object storage is not configured")
	}
	cutoff := s.now().AddDate(0, 0, -days)

	var all []ArchivedLog
	var lastID uint
	for {
		var batch []models.ActivityLog
		if err := s.db.Where("created_at < ? AND id > ?", cutoff, lastID).
			Order("id").Limit(archiveBatch).Find(&batch).Error; err != nil {
			return nil, errors.Wrap(err, "load logs to archive")
		}
		if len(batch) == 0 {
			break
		}
		for _, l := range batch {
			all = append(all, toArchived(l))
		}
		lastID = batch[len(batch)-1].ID
	}
	if len(all) == 0 {
		logrus.Info("no activity logs to archive")
		return nil, nil
	}

	name := fmt.Sprintf("activity_logs_%s.zip", cutoff.Format("2006-01-02"))
	key := fmt.Sprintf("%s/%d/%02d/%s", archiveFolder, cutoff.Year(), cutoff.Month(), name)
	record := &models.LogArchive{
		FileName:    name,
		S3Key:       key,
		StartDate:   all[0].CreatedAt,
		EndDate:     cutoff,
		RecordCount: len(all),
		Status:      models.ArchivePending,
	}

	buf, err := zipLogs(all, name, s.now())
	if err == nil {
		record.FileSize = int64(buf.Len())
		err = s.store.Put(ctx, key, buf.Bytes(), archiveMimeType, false)
	}
	if err != nil {
		record.Status, record.Error = models.ArchiveFailed, err.Error()
		if cerr := s.db.Create(record).Error; cerr != nil {
			logrus.WithError(cerr).Error("failed to record archive failure")
		}
		return record, errors.Wrap(err, "upload archive")
	}

	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("created_at < ? AND id <= ?", cutoff, lastID).Delete(&models.ActivityLog{}).Error; err != nil {
			return errors.Wrap(err, "delete archived logs")
		}
		record.Status = models.ArchiveCompleted
		return errors.Wrap(tx.Create(record).Error, "save archive record")
	})
	if err != nil {
		return nil, err
	}
	logrus.WithFields(logrus.Fields{"key": key, "records": len(all)}).Info("activity logs archived")
	return record, nil
}

func toArchived(l models.ActivityLog) ArchivedLog {
	a := ArchivedLog{
		ID:         l.ID,
		UserID:     l.UserID,
		CenterID:   l.CenterID,
		Action:     l.Action,
		Resource:   l.Resource,
		ResourceID: l.ResourceID,
		IPAddress:  l.IPAddress,
		UserAgent:  l.UserAgent,
		CreatedAt:  l.CreatedAt,
	}
	if len(l.Details) > 0 {
		var details map[string]any
		if json.Unmarshal(l.Details, &details) == nil {
			a.Details = details
		}
	}
	return a
}

// zipLogs writes the logs as JSON and CSV plus a metadata file.
func zipLogs(logs []ArchivedLog, name string, now time.Time) (*bytes.Buffer, error) {
	buf := new(bytes.Buffer)
	zw := zip.NewWriter(buf)

	f, err := zw.Create("activity_logs.json")
	if err != nil {
		return nil, err
	}
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(map[string]any{
		"export_date":    now,
		"record_count":   len(logs),
		"format_version": "1.0",
		"logs":           logs,
	}); err != nil {
		return nil, errors.Wrap(err, "encode logs")
	}

	f, err = zw.Create("activity_logs.csv")
	if err != nil {
		return nil, err
	}
	w := csv.NewWriter(f)
	_ = w.Write([]string{"id", "user_id", "center_id", "action", "resource", "resource_id", "ip_address", "user_agent", "created_at", "details"})
	for _, l := range logs {
		center := ""
		if l.CenterID != nil {
			center = strconv.FormatUint(uint64(*l.CenterID), 10)
		}
		details := ""
		if l.Details != nil {
			if b, err := json.Marshal(l.Details); err == nil {
				details = string(b)
			}
		}
		_ = w.Write([]string{
			strconv.FormatUint(uint64(l.ID), 10),
			strconv.FormatUint(uint64(l.UserID), 10),
			center,
			l.Action,
			l.Resource,
			strconv.FormatUint(uint64(l.ResourceID), 10),
			l.IPAddress,
			l.UserAgent,
			l.CreatedAt.Format(time.RFC3339),
			details,
		})
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, errors.Wrap(err, "write csv")
	}

	f, err = zw.Create("metadata.json")
	if err != nil {
		return nil, err
	}
	if err := json.NewEncoder(f).Encode(map[string]any{
		"file_name":      name,
		"created_at":     now,
		"record_count":   len(logs),
		"date_range":     map[string]any{"start": logs[0].CreatedAt, "end": logs[len(logs)-1].CreatedAt},
		"schema_version": "1.0",
	}); err != nil {
		return nil, errors.Wrap(err, "encode metadata")
	}
	if err := zw.Close(); err != nil {
		return nil, errors.Wrap(err, "close zip")
	}
	return buf, nil
}

type LogFilter struct {
	UserID   uint
	Action   string
	Resource string
	From     *time.Time
	To       *time.Time
	Pagination
}

// ListLogs returns audit entries of the actor's center, newest first.
func (s *LogArchiveService) ListLogs(actor access.Actor, f LogFilter) ([]models.ActivityLog, int64, error) {
	if err := requireCapability(actor, access.ViewAuditLogs); err != nil {
		return nil, 0, err
	}
	q := scopeCenter(s.db.Model(&models.ActivityLog{}), actor, "center_id")
	if f.UserID != 0 {
		q = q.Where("user_id = ?", f.UserID)
	}
	if f.Action != "" {
		q = q.Where("action = ?", f.Action)
	}
	if f.Resource != "" {
		q = q.Where("resource = ?", f.Resource)
	}
	if f.From != nil {
		q = q.Where("created_at >= ?", *f.From)
	}
	if f.To != nil {
		q = q.Where("created_at < ?", *f.To)
	}
	q = q.Session(&gorm.Session{})
	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, errors.Wrap(err, "count logs")
	}
	offset, limit := f.normalize()
	var out []models.ActivityLog
	err := q.Order("created_at DESC, id DESC").Offset(offset).Limit(limit).Find(&out).Error
	return out, total, errors.Wrap(err, "list logs")
}

// Archives lists stored archives. Archives span all centers, so only global actors see them.
func (s *LogArchiveService) Archives(actor access.Actor) ([]models.LogArchive, error) {
	if err := requireCapability(actor, access.ViewAuditLogs); err != nil {
		return nil, err
	}
	if !actor.IsGlobal() {
		return nil, forbidden("archives span all centers")
	}
	var out []models.LogArchive
	return out, errors.Wrap(s.db.Order("created_at DESC").Find(&out).Error, "list archives")
}

// Download opens a completed archive.
func (s *LogArchiveService) Download(ctx context.Context, actor access.Actor, id uint) (io.ReadCloser, string, error) {
	if err := requireCapability(actor, access.ViewAuditLogs); err != nil {
		return nil, "", err
	}
	if !actor.IsGlobal() {
		return nil, "", forbidden("archives span all centers")
	}
	var a models.LogArchive
	if err := s.db.First(&a, id).Error; err != nil {
		return nil, "", lookup(err, "archive")
	}
	if a.Status != models.ArchiveCompleted {
		return nil, "", conflict("archive is " + a.Status)
	}
	if s.store == nil {
		return nil, "", errors.New("object storage is not configured")
	}
	r, err := s.store.Get(ctx, a.S3Key)
	if err != nil {
		return nil, "", err
	}
	return r, a.FileName, nil
}
