package routes

import (
	"halaqat_go/access"
	"halaqat_go/controllers"
	"halaqat_go/handlers"
	"halaqat_go/middleware"

	"github.com/gofiber/fiber/v2"
)

// Controllers bundles every HTTP handler the API mounts.
type Controllers struct {
	Auth          *controllers.AuthController
	Accounts      *controllers.AccountController
	Directory     *controllers.DirectoryController
	Rewards       *controllers.RewardsController
	Workflows     *controllers.WorkflowController
	Notifications *controllers.NotificationController
	Logs          *controllers.LogController
	Privileged    *controllers.PrivilegedController
	WebSocket     *controllers.WebSocketController
	Health        *controllers.HealthController
	LineWebhook   *handlers.LineWebhookHandler
}

// SetupRoutes configures all application routes
func SetupRoutes(app *fiber.App, auth *middleware.Auth, activity *middleware.ActivityLogger, h Controllers) {
	app.Get("/health", h.Health.GetHealthStatus)
	app.Get("/health/live", h.Health.Live)

	if h.LineWebhook != nil {
		app.Post("/line/webhook", h.LineWebhook.Handle)
	}

	app.Use("/ws", h.WebSocket.Upgrade)
	app.Get("/ws", h.WebSocket.Handler())

	api := app.Group("/api")

	// Authentication routes (no middleware)
	api.Post("/auth/login", h.Auth.Login)

	protected := api.Group("/", auth.JWTMiddleware(), activity.Middleware())

	protected.Post("/auth/logout", h.Auth.Logout)
	protected.Get("/auth/profile", h.Auth.GetProfile)
	protected.Put("/auth/password", h.Auth.ChangePassword)

	accounts := protected.Group("/accounts", middleware.RequireCapability(access.ManageAccounts))
	accounts.Get("/", h.Accounts.List)
	accounts.Post("/students", h.Accounts.ProvisionStudent)
	accounts.Post("/staff", h.Accounts.CreateStaff)
	accounts.Put("/:id/status", h.Accounts.SetStatus)
	accounts.Put("/:id/password", h.Accounts.ResetPassword)

	centers := protected.Group("/centers")
	centers.Get("/", h.Directory.ListCenters)
	centers.Post("/", h.Directory.CreateCenter)
	centers.Get("/:id", h.Directory.GetCenter)
	centers.Put("/:id", h.Directory.UpdateCenter)
	centers.Delete("/:id", h.Directory.DeactivateCenter)
	centers.Post("/:id/logo", h.Directory.UploadCenterLogo)

	halaqat := protected.Group("/halaqat")
	halaqat.Get("/", h.Directory.ListHalaqat)
	halaqat.Post("/", h.Directory.CreateHalqa)
	halaqat.Get("/:id", h.Directory.GetHalqa)
	halaqat.Put("/:id", h.Directory.UpdateHalqa)
	halaqat.Delete("/:id", h.Directory.DeactivateHalqa)
	halaqat.Get("/:id/balance", h.Rewards.GroupBalance)
	halaqat.Get("/:id/ledger", h.Rewards.GroupHistory)
	halaqat.Get("/:id/roster", h.Workflows.Roster)
	halaqat.Post("/:id/import", h.Workflows.ImportStudents)
	halaqat.Get("/:id/attendance.xlsx", h.Workflows.ExportAttendance)

	teachers := protected.Group("/teachers")
	teachers.Get("/", h.Directory.ListTeachers)
	teachers.Put("/:id", h.Directory.UpdateTeacher)

	students := protected.Group("/students")
	students.Get("/", h.Directory.ListStudents)
	students.Post("/", h.Directory.CreateStudent)
	students.Get("/:id", h.Directory.GetStudent)
	students.Put("/:id", h.Directory.UpdateStudent)
	students.Delete("/:id", h.Directory.DeactivateStudent)
	students.Post("/:id/photo", h.Directory.UploadStudentPhoto)
	students.Post("/:id/parents", h.Directory.LinkParent)
	students.Delete("/:id/parents/:parent_id", h.Directory.UnlinkParent)
	students.Get("/:id/balance", h.Rewards.Balance)
	students.Get("/:id/ledger", h.Rewards.StudentHistory)
	students.Get("/:id/badges", h.Rewards.StudentBadges)

	parents := protected.Group("/parents")
	parents.Get("/", h.Directory.ListParents)
	parents.Post("/", h.Directory.CreateParent)
	parents.Put("/:id", h.Directory.UpdateParent)
	parents.Delete("/:id", h.Directory.DeleteParent)
	parents.Get("/:id/children", h.Directory.Children)

	protected.Post("/ledger/grants", h.Rewards.Grant)

	catalog := protected.Group("/catalog")
	catalog.Get("/", h.Rewards.ListItems)
	catalog.Post("/", h.Rewards.CreateItem)
	catalog.Get("/:id", h.Rewards.GetItem)
	catalog.Put("/:id", h.Rewards.UpdateItem)
	catalog.Delete("/:id", h.Rewards.DeactivateItem)
	catalog.Post("/:id/image", h.Rewards.UploadItemImage)

	purchases := protected.Group("/purchases")
	purchases.Get("/", h.Rewards.ListPurchases)
	purchases.Post("/", h.Rewards.CreatePurchase)
	purchases.Get("/:id", h.Rewards.GetPurchase)
	purchases.Post("/:id/deliver", h.Rewards.DeliverPurchase)
	purchases.Post("/:id/reject", h.Rewards.RejectPurchase)

	votes := protected.Group("/votes")
	votes.Get("/", h.Rewards.ListVotes)
	votes.Post("/", h.Rewards.StartVote)
	votes.Get("/:id", h.Rewards.GetVote)
	votes.Post("/:id/ballots", h.Rewards.CastVote)
	votes.Post("/:id/convert", h.Rewards.ConvertVote)

	badges := protected.Group("/badges")
	badges.Get("/", h.Rewards.ListBadges)
	badges.Post("/", h.Rewards.CreateBadge)
	badges.Delete("/:id", h.Rewards.DeactivateBadge)
	badges.Post("/:id/awards", h.Rewards.AwardBadge)

	reports := protected.Group("/reports")
	reports.Get("/", h.Workflows.ListReports)
	reports.Post("/", h.Workflows.SubmitReport)
	reports.Get("/:id", h.Workflows.GetReport)
	reports.Put("/:id", h.Workflows.ResubmitReport)
	reports.Post("/:id/review", h.Workflows.ReviewReport)

	protected.Get("/consents/pending", h.Workflows.PendingConsents)

	activities := protected.Group("/activities")
	activities.Get("/", h.Workflows.ListActivities)
	activities.Post("/", h.Workflows.CreateActivity)
	activities.Get("/:id", h.Workflows.GetActivity)
	protected.Post("/activity-approvals/:id", h.Workflows.RespondActivity)

	holidays := protected.Group("/holidays")
	holidays.Get("/", h.Workflows.ListHolidays)
	holidays.Post("/", h.Workflows.CreateHoliday)
	holidays.Get("/:id", h.Workflows.GetHoliday)
	protected.Post("/holiday-attendances/:id/consent", h.Workflows.RespondHoliday)
	protected.Post("/holiday-attendances/:id/attendance", h.Workflows.MarkHolidayAttendance)

	notifications := protected.Group("/notifications")
	notifications.Get("/", h.Notifications.GetNotifications)
	notifications.Get("/unread-count", h.Notifications.UnreadCount)
	notifications.Put("/read-all", h.Notifications.MarkAllAsRead)
	notifications.Put("/:id/read", h.Notifications.MarkAsRead)
	notifications.Delete("/:id", h.Notifications.Delete)

	logs := protected.Group("/logs", middleware.RequireCapability(access.ViewAuditLogs))
	logs.Get("/", h.Logs.GetLogs)
	logs.Get("/archives", h.Logs.ListArchives)
	logs.Get("/archives/:id/download", h.Logs.DownloadArchive)
	logs.Post("/archives", h.Logs.ArchiveNow)

	admin := protected.Group("/admin", middleware.RequireCapability(access.ExecutePrivileged))
	admin.Post("/execute", h.Privileged.Execute)
	admin.Get("/ws-stats", h.WebSocket.Stats)
}
