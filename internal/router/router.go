package router

import (
	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/ilyes-bd/presence-api/api/swagger"
	"github.com/ilyes-bd/presence-api/internal/handler"
	"github.com/ilyes-bd/presence-api/internal/middleware"
	"github.com/ilyes-bd/presence-api/internal/models"
	"github.com/ilyes-bd/presence-api/internal/service"
	"github.com/ilyes-bd/presence-api/internal/ws"
	"github.com/ilyes-bd/presence-api/pkg/config"
	"github.com/ilyes-bd/presence-api/pkg/logger"
	corsmiddleware "github.com/ilyes-bd/presence-api/pkg/middleware/cors"
	reqidmiddleware "github.com/ilyes-bd/presence-api/pkg/middleware/requestid"
)

// Deps carries everything the router needs to mount the API.
type Deps struct {
	Config *config.Config
	Logger *zap.Logger

	AuthService    *service.AuthService
	MetricsService *service.MetricsService
	AuditStore     middleware.AuditStore
	Hub            *ws.Hub
	Ready          gin.HandlerFunc

	Auth           *handler.AuthHandler
	Users          *handler.UserHandler
	Students       *handler.StudentHandler
	Teachers       *handler.TeacherHandler
	Levels         *handler.LevelHandler
	Modules        *handler.ModuleHandler
	Enrollments    *handler.EnrollmentHandler
	Schedules      *handler.ScheduleHandler
	Sessions       *handler.SessionHandler
	Justifications *handler.JustificationHandler
	Exclusions     *handler.ExclusionHandler
	Notifications  *handler.NotificationHandler
	Reports        *handler.ReportHandler
	Metrics        *handler.MetricsHandler
}

// New assembles the gin engine: global middleware, ops endpoints and the
// versioned API surface with per-group RBAC.
func New(deps Deps) *gin.Engine {
	cfg := deps.Config
	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(deps.Logger))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.WithResponseMeta())
	r.Use(middleware.Metrics(deps.MetricsService))

	r.GET("/health", deps.Metrics.Health)
	ready := deps.Ready
	if ready == nil {
		ready = deps.Metrics.Health
	}
	r.GET("/ready", ready)
	r.GET("/metrics", deps.Metrics.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	audit := func(action models.AuditAction, resource string) gin.HandlerFunc {
		if deps.AuditStore == nil {
			return func(c *gin.Context) { c.Next() }
		}
		return middleware.Audit(deps.AuditStore, action, resource)
	}

	api := r.Group(cfg.APIPrefix)

	// Public: credentials exchange and signed report downloads.
	api.POST("/auth/login", deps.Auth.Login)
	api.POST("/auth/refresh", deps.Auth.Refresh)
	api.POST("/auth/forgot-password", deps.Auth.ForgotPassword)
	api.POST("/auth/reset-password", deps.Auth.ResetPassword)
	if deps.Reports != nil {
		api.GET("/reports/files/:token", deps.Reports.DownloadReport)
	}

	// The websocket handler authenticates from the query token itself.
	if deps.Hub != nil {
		api.GET("/ws/monitor", ws.Handler(deps.AuthService, deps.Hub))
	}

	authed := api.Group("", middleware.JWT(deps.AuthService))
	{
		authed.POST("/auth/logout", deps.Auth.Logout)
		authed.POST("/auth/change-password", deps.Auth.ChangePassword)
		authed.GET("/me", deps.Auth.Me)

		authed.GET("/schedules/:levelId", deps.Schedules.Weekly)
		authed.GET("/schedules/modules/:moduleId", deps.Schedules.ByModule)
		authed.GET("/files/justifications/:name", deps.Justifications.File)

		authed.GET("/notifications", deps.Notifications.List)
		authed.POST("/notifications/:id/read", deps.Notifications.MarkRead)
		authed.POST("/notifications/read-all", deps.Notifications.MarkAllRead)
		authed.GET("/notifications/unread/count", deps.Notifications.UnreadCount)
	}

	staff := authed.Group("", middleware.RequireRoles(models.RoleAdmin, models.RoleTeacher))
	{
		staff.GET("/levels", deps.Levels.List)
		staff.GET("/levels/:id", deps.Levels.Get)
		staff.GET("/modules", deps.Modules.List)
		staff.GET("/modules/:id", deps.Modules.Get)
		staff.GET("/students", deps.Students.List)
		staff.GET("/students/:id", deps.Students.Get)
		staff.GET("/enrollments", deps.Enrollments.List)

		staff.POST("/sessions", deps.Sessions.Open)
		staff.GET("/sessions", deps.Sessions.List)
		staff.GET("/sessions/:id", deps.Sessions.Get)
		staff.POST("/sessions/:id/close", deps.Sessions.Close)
		staff.GET("/sessions/:id/roster", deps.Sessions.Roster)

		staff.GET("/exclusions/rules", deps.Exclusions.Rules)
		staff.GET("/exclusions/overview", deps.Exclusions.Overview)
		staff.GET("/exclusions/excluded", deps.Exclusions.Excluded)
		staff.GET("/exclusions/near", deps.Exclusions.Near)
		staff.GET("/exclusions/modules/:code", deps.Exclusions.ModuleDetail)
		staff.GET("/exclusions/export", deps.Exclusions.ExportCSV)

		// Report jobs: admins report on anything, the service limits
		// teachers to modules they teach.
		if deps.Reports != nil {
			staff.POST("/reports", deps.Reports.GenerateReport)
			staff.GET("/reports/:id", deps.Reports.ReportStatus)
			staff.GET("/reports/:id/download", deps.Reports.Download)
		}
	}

	authed.GET("/students/:id/absences",
		middleware.RequireRoles(models.RoleAdmin, models.RoleTeacher, models.RoleStudent),
		deps.Students.Absences)
	authed.GET("/justifications/:id",
		middleware.RequireRoles(models.RoleAdmin, models.RoleStudent),
		deps.Justifications.Get)

	student := authed.Group("", middleware.RequireRoles(models.RoleStudent))
	{
		student.POST("/attendance/mark", deps.Sessions.Mark)
		student.POST("/justifications", deps.Justifications.Submit)
	}

	admin := authed.Group("", middleware.RequireRoles(models.RoleAdmin))
	{
		admin.GET("/users", deps.Users.List)
		admin.GET("/users/:id", deps.Users.Get)
		admin.POST("/users", audit(models.AuditActionUserCreate, "users"), deps.Users.Create)
		admin.PUT("/users/:id", audit(models.AuditActionUserUpdate, "users"), deps.Users.Update)
		admin.DELETE("/users/:id", audit(models.AuditActionUserDelete, "users"), deps.Users.Delete)

		admin.POST("/levels", deps.Levels.Create)
		admin.PUT("/levels/:id", deps.Levels.Update)
		admin.DELETE("/levels/:id", deps.Levels.Delete)

		admin.POST("/modules", deps.Modules.Create)
		admin.PUT("/modules/:id", deps.Modules.Update)
		admin.DELETE("/modules/:id", deps.Modules.Deactivate)

		admin.POST("/students", deps.Students.Create)
		admin.PUT("/students/:id", deps.Students.Update)
		admin.DELETE("/students/:id", deps.Students.Deactivate)
		admin.POST("/students/import", audit(models.AuditActionStudentImport, "students"), deps.Students.Import)

		admin.GET("/teachers", deps.Teachers.List)
		admin.GET("/teachers/:id", deps.Teachers.Get)
		admin.POST("/teachers", deps.Teachers.Create)
		admin.PUT("/teachers/:id", deps.Teachers.Update)
		admin.DELETE("/teachers/:id", deps.Teachers.Deactivate)
		admin.GET("/teachers/:id/modules", deps.Teachers.Assignments)
		admin.POST("/teachers/:id/modules", deps.Teachers.Assign)
		admin.DELETE("/teachers/:id/modules/:moduleId", deps.Teachers.Unassign)

		admin.POST("/enrollments", deps.Enrollments.Enroll)
		admin.POST("/enrollments/level", deps.Enrollments.EnrollLevel)
		admin.DELETE("/enrollments/:id", deps.Enrollments.Withdraw)

		admin.POST("/schedules", deps.Schedules.Create)
		admin.DELETE("/schedules/:id", deps.Schedules.Delete)

		admin.GET("/justifications", deps.Justifications.List)
		admin.GET("/justifications/pending/count", deps.Justifications.PendingCount)
		admin.POST("/justifications/:id/approve", deps.Justifications.Approve)
		admin.POST("/justifications/:id/reject", deps.Justifications.Reject)

		admin.POST("/exclusions/apply", audit(models.AuditActionExclusionApply, "exclusions"), deps.Exclusions.Apply)
		admin.POST("/exclusions/reinstate", audit(models.AuditActionExclusionReinstate, "exclusions"), deps.Exclusions.Reinstate)
		admin.GET("/monitor", deps.Exclusions.Monitor)
		admin.GET("/system/stats", deps.Metrics.Stats)
	}

	return r
}
