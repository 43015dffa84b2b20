package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"halaqat_go/config"
	"halaqat_go/controllers"
	"halaqat_go/database"
	"halaqat_go/database/seeders"
	"halaqat_go/handlers"
	"halaqat_go/logger"
	"halaqat_go/middleware"
	"halaqat_go/routes"
	"halaqat_go/services"
	"halaqat_go/services/notifications"
	"halaqat_go/services/websocket"
	"halaqat_go/storage"
	"halaqat_go/utils"

	"github.com/go-redis/redis/v8"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/helmet"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/sirupsen/logrus"
)

const version = "1.0.0"

func main() {
	seed := flag.Bool("seed", false, "seed the super admin and global badges, then exit")
	demo := flag.Bool("demo", false, "with -seed, also add a demo center")
	flag.Parse()

	cfg := config.LoadConfig()
	logger.Setup(cfg)
	defer logger.Close()

	database.Connect(cfg)
	defer database.Close()
	db := database.GetDB()
	rdb := database.GetRedisClient()

	if *seed {
		err := seeders.SeedAll(db, seeders.Options{
			SuperUsername: os.Getenv("SUPER_ADMIN_USERNAME"),
			SuperPassword: os.Getenv("SUPER_ADMIN_PASSWORD"),
			Demo:          *demo,
		})
		if err != nil {
			logrus.WithError(err).Fatal("seeding failed")
		}
		return
	}

	// Object storage is optional; without it uploads answer 503 and archiving is skipped.
	var store storage.ObjectStore
	var images *storage.ImageUploader
	if s3, err := storage.NewStorageService(context.Background(), cfg); err != nil {
		logrus.WithError(err).Warn("object storage disabled")
	} else {
		store = s3
		images = storage.NewImageUploader(s3)
	}

	wsHub := websocket.NewHub()
	go wsHub.Run()

	line := services.NewLineMessagingService(cfg)
	var queue *redis.Client
	if cfg.UseRedisNotifications {
		queue = rdb
	}
	notifier := notifications.NewService(db, queue, wsHub, line)
	stopWorker := make(chan struct{})
	notifier.StartWorker(stopWorker)

	accounts := services.NewAccountService(db, rdb)
	directory := services.NewDirectoryService(db)
	ledger := services.NewLedgerService(db)
	catalog := services.NewCatalogService(db)
	purchases := services.NewPurchaseService(db, notifier)
	votes := services.NewVoteService(db, purchases, notifier, cfg.VoteDuration)
	badges := services.NewBadgeService(db, ledger, notifier)
	reports := services.NewReportService(db, notifier, cfg.AttendancePoints)
	consent := services.NewConsentService(db, notifier, line)
	archive := services.NewLogArchiveService(db, rdb, store, cfg.LogRetentionDays)
	matcher := services.NewLineGroupMatcher(db)
	sheets := services.NewSpreadsheetService(directory, accounts)
	privileged := services.NewPrivilegedService(db)
	health := services.NewHealthService(db, rdb, services.HealthOptions{
		Version:     version,
		Environment: cfg.AppEnv,
		LineEnabled: line.Enabled(),
		StorageOn:   store != nil,
	})

	scheduler, err := services.NewScheduler(services.DefaultJobs(services.ScheduleOptions{
		Votes:      votes,
		Reports:    reports,
		Archive:    archive,
		Matcher:    matcher,
		ReminderAt: cfg.ReportReminderAt,
	}), time.UTC)
	if err != nil {
		logrus.WithError(err).Fatal("invalid job schedule")
	}
	scheduler.Start()

	auth := middleware.NewAuth(cfg.JWTSecret, cfg.JWTExpiresIn, db, accounts)
	activity := middleware.NewActivityLogger(archive)
	uploads := controllers.NewUploads(images, cfg.MaxFileSize, cfg.AllowedExtensions)

	var webhook *handlers.LineWebhookHandler
	if line.Enabled() {
		webhook = handlers.NewLineWebhookHandler(cfg.LineChannelSecret, line, matcher)
	} else {
		logrus.Warn("LINE webhook disabled")
	}

	app := fiber.New(fiber.Config{
		ErrorHandler: customErrorHandler,
		BodyLimit:    int(cfg.MaxFileSize),
		AppName:      "Halaqat API " + version,
	})
	app.Use(recover.New())
	app.Use(helmet.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,HEAD,PUT,DELETE,PATCH,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept,Authorization",
	}))
	app.Use(middleware.LoggerMiddleware())

	routes.SetupRoutes(app, auth, activity, routes.Controllers{
		Auth:     controllers.NewAuthController(accounts, auth, activity),
		Accounts: controllers.NewAccountController(accounts, activity),
		Directory: controllers.NewDirectoryController(directory, uploads),
		Rewards: controllers.NewRewardsController(controllers.RewardServices{
			Ledger:    ledger,
			Catalog:   catalog,
			Purchases: purchases,
			Votes:     votes,
			Badges:    badges,
		}, uploads, activity),
		Workflows:     controllers.NewWorkflowController(reports, consent, sheets, activity),
		Notifications: controllers.NewNotificationController(notifier),
		Logs:          controllers.NewLogController(archive),
		Privileged:    controllers.NewPrivilegedController(privileged, activity),
		WebSocket:     controllers.NewWebSocketController(wsHub, auth),
		Health:        controllers.NewHealthController(health),
		LineWebhook:   webhook,
	})

	// 404 handler
	app.Use(func(c *fiber.Ctx) error {
		return utils.Fail(c, fiber.StatusNotFound, "not_found", "route not found: "+c.Method()+" "+c.Path(), nil)
	})

	go func() {
		logrus.WithFields(logrus.Fields{"port": cfg.Port, "env": cfg.AppEnv, "version": version}).Info("server starting")
		if err := app.Listen(":" + cfg.Port); err != nil {
			logrus.WithError(err).Fatal("failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit
	logrus.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := app.ShutdownWithContext(ctx); err != nil {
		logrus.WithError(err).Error("server shutdown failed")
	}
	scheduler.Stop(ctx)
	close(stopWorker)
	wsHub.Stop()
	if _, err := archive.FlushCachedLogs(ctx); err != nil {
		logrus.WithError(err).Warn("final log flush failed")
	}
}

// customErrorHandler handles errors that escape the controllers, mostly fiber's own.
func customErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "internal server error"
	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
		message = e.Message
	}
	logrus.WithFields(logrus.Fields{
		"error":  err.Error(),
		"path":   c.Path(),
		"method": c.Method(),
		"ip":     c.IP(),
		"status": code,
	}).Error("Request error")

	kind := "internal"
	switch {
	case code == fiber.StatusNotFound:
		kind = "not_found"
	case code < 500:
		kind = "validation"
	}
	return utils.Fail(c, code, kind, message, nil)
}
