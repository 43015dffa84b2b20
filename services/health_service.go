package services

import (
	"context"
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"
)

const (
	overallStatusOK       = "ok"
	overallStatusDegraded = "degraded"
	overallStatusCritical = "critical"

	dependencyStatusUp       = "up"
	dependencyStatusDown     = "down"
	dependencyStatusDisabled = "disabled"

	defaultServiceName = "Halaqat API"
	defaultVersion     = "1.0.0"
	defaultTimeout     = 1500 * time.Millisecond
)

// HealthService reports on the database, Redis, LINE and object storage.
type HealthService struct {
	db          *gorm.DB
	rdb         *redis.Client
	serviceName string
	version     string
	environment string
	lineEnabled bool
	storageOn   bool
	startTime   time.Time
	timeout     time.Duration
}

type HealthReport struct {
	Status        string             `json:"status"`
	Service       string             `json:"service"`
	Version       string             `json:"version"`
	Environment   string             `json:"environment"`
	Time          time.Time          `json:"time"`
	UptimeSeconds float64            `json:"uptime_seconds"`
	UptimeHuman   string             `json:"uptime_human"`
	Dependencies  []DependencyStatus `json:"dependencies"`
	Metrics       HealthMetrics      `json:"metrics"`
	System        HealthSystem       `json:"system"`
}

type DependencyStatus struct {
	Name      string                 `json:"name"`
	Status    string                 `json:"status"`
	LatencyMs int64                  `json:"latency_ms"`
	Error     string                 `json:"error,omitempty"`
	Details   map[string]interface{} `json:"details,omitempty"`
}

type HealthMetrics struct {
	Goroutines int            `json:"goroutines"`
	HeapBytes  uint64         `json:"heap_alloc_bytes"`
	SysBytes   uint64         `json:"sys_bytes"`
	LastGCUnix *int64         `json:"last_gc_unix,omitempty"`
	Database   *DatabaseStats `json:"database,omitempty"`
}

type DatabaseStats struct {
	OpenConnections    int   `json:"open_connections"`
	InUse              int   `json:"in_use"`
	Idle               int   `json:"idle"`
	WaitCount          int64 `json:"wait_count"`
	MaxOpenConnections int   `json:"max_open_connections"`
}

type HealthSystem struct {
	GoVersion string `json:"go_version"`
	GoOS      string `json:"go_os"`
	GoArch    string `json:"go_arch"`
}

// HealthOptions describes the optional integrations that are switched on.
type HealthOptions struct {
	ServiceName string
	Version     string
	Environment string
	LineEnabled bool
	StorageOn   bool
}

func NewHealthService(db *gorm.DB, rdb *redis.Client, opts HealthOptions) *HealthService {
	if strings.TrimSpace(opts.ServiceName) == "" {
		opts.ServiceName = defaultServiceName
	}
	if strings.TrimSpace(opts.Version) == "" {
		opts.Version = defaultVersion
	}
	if strings.TrimSpace(opts.Environment) == "" {
		opts.Environment = "unknown"
	}
	return &HealthService{
		db:          db,
		rdb:         rdb,
		serviceName: opts.ServiceName,
		version:     opts.Version,
		environment: opts.Environment,
		lineEnabled: opts.LineEnabled,
		storageOn:   opts.StorageOn,
		startTime:   time.Now(),
		timeout:     defaultTimeout,
	}
}

// SetStartTime overrides the start time used for uptime calculations.
func (s *HealthService) SetStartTime(t time.Time) {
	if !t.IsZero() {
		s.startTime = t
	}
}

// Report collects the current health information.
func (s *HealthService) Report(ctx context.Context) HealthReport {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	report := HealthReport{
		Status:      overallStatusOK,
		Service:     s.serviceName,
		Version:     s.version,
		Environment: s.environment,
		Time:        time.Now().UTC(),
	}
	uptime := time.Since(s.startTime)
	if uptime < 0 {
		uptime = 0
	}
	report.UptimeSeconds = uptime.Seconds()
	report.UptimeHuman = humanizeDuration(uptime)

	dbDep, dbStats := s.checkDatabase(ctx)
	report.Status = combineStatus(report.Status, statusFor(dbDep, overallStatusCritical))
	redisDep := s.checkRedis(ctx)
	report.Status = combineStatus(report.Status, statusFor(redisDep, overallStatusDegraded))

	report.Dependencies = []DependencyStatus{
		dbDep,
		redisDep,
		toggle("line", s.lineEnabled),
		toggle("object_storage", s.storageOn),
	}
	report.Metrics = collectSystemMetrics(dbStats)
	report.System = HealthSystem{GoVersion: runtime.Version(), GoOS: runtime.GOOS, GoArch: runtime.GOARCH}
	return report
}

// HTTPStatusForOverall maps a health status to an HTTP status code.
func (s *HealthService) HTTPStatusForOverall(status string) int {
	if status == overallStatusCritical {
		return 503
	}
	return 200
}

func statusFor(dep DependencyStatus, whenDown string) string {
	if dep.Status == dependencyStatusDown {
		return whenDown
	}
	return overallStatusOK
}

func toggle(name string, on bool) DependencyStatus {
	if on {
		return DependencyStatus{Name: name, Status: dependencyStatusUp}
	}
	return DependencyStatus{Name: name, Status: dependencyStatusDisabled}
}

func (s *HealthService) checkDatabase(ctx context.Context) (DependencyStatus, *DatabaseStats) {
	dep := DependencyStatus{Name: "database"}
	if s.db == nil {
		dep.Status, dep.Error = dependencyStatusDown, "database connection not initialised"
		return dep, nil
	}
	dep.Name = s.db.Dialector.Name()
	sqlDB, err := s.db.DB()
	if err != nil {
		dep.Status, dep.Error = dependencyStatusDown, fmt.Sprintf("sql DB handle error: %v", err)
		return dep, nil
	}
	start := time.Now()
	err = sqlDB.PingContext(ctx)
	dep.LatencyMs = time.Since(start).Milliseconds()
	if err != nil {
		dep.Status, dep.Error = dependencyStatusDown, err.Error()
		return dep, nil
	}
	dep.Status = dependencyStatusUp
	st := sqlDB.Stats()
	return dep, &DatabaseStats{
		OpenConnections:    st.OpenConnections,
		InUse:              st.InUse,
		Idle:               st.Idle,
		WaitCount:          st.WaitCount,
		MaxOpenConnections: st.MaxOpenConnections,
	}
}

// checkRedis reports "disabled" without a client since every Redis path has a database fallback.
func (s *HealthService) checkRedis(ctx context.Context) DependencyStatus {
	dep := DependencyStatus{Name: "redis"}
	if s.rdb == nil {
		dep.Status = dependencyStatusDisabled
		return dep
	}
	start := time.Now()
	err := s.rdb.Ping(ctx).Err()
	dep.LatencyMs = time.Since(start).Milliseconds()
	if err != nil {
		dep.Status, dep.Error = dependencyStatusDown, err.Error()
		return dep
	}
	dep.Status = dependencyStatusUp
	dep.Details = map[string]interface{}{"address": s.rdb.Options().Addr}
	return dep
}

func collectSystemMetrics(dbStats *DatabaseStats) HealthMetrics {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	m := HealthMetrics{
		Goroutines: runtime.NumGoroutine(),
		HeapBytes:  mem.HeapAlloc,
		SysBytes:   mem.Sys,
		Database:   dbStats,
	}
	if mem.LastGC != 0 {
		unix := time.Unix(0, int64(mem.LastGC)).Unix()
		m.LastGCUnix = &unix
	}
	return m
}

func combineStatus(current, candidate string) string {
	order := map[string]int{
		overallStatusOK:       0,
		overallStatusDegraded: 1,
		overallStatusCritical: 2,
	}
	if _, ok := order[current]; !ok {
		current = overallStatusOK
	}
	if v, ok := order[candidate]; ok && v > order[current] {
		return candidate
	}
	return current
}

func humanizeDuration(d time.Duration) string {
	if d <= 0 {
		return "0s"
	}
	d = d.Round(time.Second)
	days := d / (24 * time.Hour)
	d %= 24 * time.Hour
	hours := d / time.Hour
	d %= time.Hour
	minutes := d / time.Minute
	seconds := (d % time.Minute) / time.Second

	parts := []string{}
	if days > 0 {
		parts = append(parts, fmt.Sprintf("%dd", days))
	}
	if hours > 0 {
		parts = append(parts, fmt.Sprintf("%dh", hours))
	}
	if minutes > 0 {
		parts = append(parts, fmt.Sprintf("%dm", minutes))
	}
	if seconds > 0 || len(parts) == 0 {
		parts = append(parts, fmt.Sprintf("%ds", seconds))
	}
	return strings.Join(parts, " ")
}
