package database

import (
	"context"
	"fmt"
	"time"

	"halaqat_go/config"
	"halaqat_go/models"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var DB *gorm.DB
var RedisClient *redis.Client

// Connect initializes the database and Redis connections
func Connect(cfg *config.Config) {
	connectDatabase(cfg)
	connectRedis(cfg)
}

func dialector(cfg *config.Config) gorm.Dialector {
	if cfg.DBDriver == "postgres" {
		return postgres.Open(cfg.GetDSN())
	}
	return mysql.Open(cfg.GetDSN())
}

// connectDatabase opens the configured driver, retrying transient failures
func connectDatabase(cfg *config.Config) {
	var err error

	gormLogger := logger.Default.LogMode(logger.Silent)
	if cfg.IsDevelopment() {
		gormLogger = logger.Default.LogMode(logger.Info)
	}

	var lastErr error
	for attempt := 1; attempt <= 8; attempt++ {
		DB, err = gorm.Open(dialector(cfg), &gorm.Config{
			Logger:  gormLogger,
			NowFunc: func() time.Time { return time.Now().UTC() },
		})
		if err == nil {
			lastErr = nil
			break
		}
		lastErr = err
		logrus.WithField("attempt", attempt).WithError(err).Warn("database connect attempt failed")
		time.Sleep(time.Duration(attempt*attempt) * 300 * time.Millisecond)
	}
	if lastErr != nil {
		logrus.WithError(lastErr).Fatal("failed to connect to database after retries")
	}

	logrus.WithField("driver", cfg.DBDriver).Info("database connected")

	sqlDB, err := DB.DB()
	if err != nil {
		logrus.WithError(err).Fatal("failed to get database instance")
	}
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(50)
	sqlDB.SetConnMaxLifetime(55 * time.Minute)

	if cfg.SkipMigrate {
		logrus.Info("SKIP_MIGRATE=true, skipping auto migration")
		return
	}
	if err := AutoMigrate(DB); err != nil {
		logrus.WithError(err).Fatal("auto migration failed")
	}
	logrus.Info("database migration completed")
}

// AutoMigrate creates or updates every table the service uses.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.Center{},
		&models.User{},
		&models.Teacher{},
		&models.Halqa{},
		&models.Student{},
		&models.Parent{},
		&models.StudentParent{},
		&models.LedgerEntry{},
		&models.Badge{},
		&models.StudentBadge{},
		&models.CatalogItem{},
		&models.PurchaseRequest{},
		&models.GroupPurchaseVote{},
		&models.StudentVote{},
		&models.Report{},
		&models.ReportEntry{},
		&models.Recitation{},
		&models.Activity{},
		&models.ActivityApproval{},
		&models.Holiday{},
		&models.HolidayAttendance{},
		&models.Notification{},
		&models.ActivityLog{},
		&models.LogArchive{},
		&models.LineGroup{},
	)
}

// connectRedis initializes the Redis connection. Redis is optional; without it
// notifications and activity logs go straight to the database.
func connectRedis(cfg *config.Config) {
	RedisClient = redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%s", cfg.RedisHost, cfg.RedisPort),
		Password: cfg.RedisPassword,
		DB:       0,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if _, err := RedisClient.Ping(ctx).Result(); err != nil {
		logrus.WithError(err).Warn("redis connection failed, continuing without redis")
		RedisClient = nil
		return
	}

	logrus.Info("redis connected")
}

// GetRedisClient returns the Redis client instance
func GetRedisClient() *redis.Client {
	return RedisClient
}

// GetDB returns the database instance
func GetDB() *gorm.DB {
	return DB
}

// Close closes the database connection
func Close() {
	if DB == nil {
		return
	}
	sqlDB, err := DB.DB()
	if err != nil {
		logrus.WithError(err).Error("error getting database instance")
		return
	}
	if err := sqlDB.Close(); err != nil {
		logrus.WithError(err).Error("error closing database connection")
		return
	}
	logrus.Info("database connection closed")
}
