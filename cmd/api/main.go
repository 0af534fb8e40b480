package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/ilyes-bd/presence-api/internal/fixture"
	"github.com/ilyes-bd/presence-api/internal/handler"
	"github.com/ilyes-bd/presence-api/internal/router"
	"github.com/ilyes-bd/presence-api/internal/service"
	"github.com/ilyes-bd/presence-api/internal/ws"
	"github.com/ilyes-bd/presence-api/pkg/cache"
	"github.com/ilyes-bd/presence-api/pkg/config"
	"github.com/ilyes-bd/presence-api/pkg/database"
	"github.com/ilyes-bd/presence-api/pkg/logger"
)

// @title Presence API
// @version 1.0.0
// @description Attendance, justification and exclusion tracking for module-based cohorts
// @BasePath /
// @schemes http
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var (
		b   backends
		db  *sqlx.DB
		rdb *redis.Client
	)

	if cfg.Demo.Enabled {
		seedDate := time.Now().UTC()
		if cfg.Demo.SeedDate != "" {
			parsed, err := time.Parse("2006-01-02", cfg.Demo.SeedDate)
			if err != nil {
				logr.Sugar().Fatalw("invalid DEMO_SEED_DATE", "value", cfg.Demo.SeedDate, "error", err)
			}
			seedDate = parsed
		}
		store := fixture.NewStore()
		store.Load(fixture.Generate(fixture.GeneratorConfig{SeedDate: seedDate}))
		b = demoBackends(store)
		logr.Sugar().Infow("demo mode enabled",
			"seed_date", seedDate.Format("2006-01-02"),
			"admin_email", fixture.AdminEmail,
		)
	} else {
		db, err = database.NewPostgres(ctx, cfg.Database)
		if err != nil {
			logr.Sugar().Fatalw("failed to connect to postgres", "error", err)
		}
		defer db.Close()

		rdb, err = cache.NewRedis(ctx, cfg.Redis)
		if err != nil {
			logr.Sugar().Warnw("redis unavailable, exclusion caching disabled", "error", err)
			rdb = nil
		}
		b = sqlBackends(db, rdb, logr)
	}

	var hub *ws.Hub
	if cfg.Live.Enabled {
		hub = ws.NewHub(logr)
		go hub.Run(ctx)
	}

	svcs, err := buildServices(cfg, logr, b, hub)
	if err != nil {
		logr.Sugar().Fatalw("failed to build services", "error", err)
	}

	if svcs.queue != nil {
		svcs.queue.Start(ctx)
		defer svcs.queue.Stop()
		svcs.reports.RecoverPendingJobs(ctx)
		svcs.reports.StartCleanup(ctx)
	}

	if cfg.Sessions.AutoCloseSweep > 0 {
		go sweepExpiredSessions(ctx, svcs.sessions, cfg.Sessions.AutoCloseSweep, logr)
	}

	deps := router.Deps{
		Config:         cfg,
		Logger:         logr,
		AuthService:    svcs.auth,
		MetricsService: svcs.metrics,
		AuditStore:     b.users,
		Hub:            hub,
		Ready:          readyProbe(db, rdb),

		Auth:           handler.NewAuthHandler(svcs.auth),
		Users:          handler.NewUserHandler(svcs.users),
		Students:       handler.NewStudentHandler(svcs.students),
		Teachers:       handler.NewTeacherHandler(svcs.teachers),
		Levels:         handler.NewLevelHandler(svcs.levels),
		Modules:        handler.NewModuleHandler(svcs.modules),
		Enrollments:    handler.NewEnrollmentHandler(svcs.enrollments),
		Schedules:      handler.NewScheduleHandler(svcs.schedules),
		Sessions:       handler.NewSessionHandler(svcs.sessions),
		Justifications: handler.NewJustificationHandler(svcs.justifications, svcs.attachments),
		Exclusions:     handler.NewExclusionHandler(svcs.exclusions, svcs.exports),
		Notifications:  handler.NewNotificationHandler(svcs.notifications),
		Metrics:        handler.NewMetricsHandler(svcs.metrics),
	}
	if svcs.reports != nil {
		deps.Reports = handler.NewReportHandler(svcs.reports, logr)
	}

	engine := router.New(deps)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logr.Sugar().Infow("server starting",
			"addr", srv.Addr,
			"env", cfg.Env,
			"demo", cfg.Demo.Enabled,
			"reports", cfg.Reports.Enabled,
			"live", cfg.Live.Enabled,
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logr.Sugar().Infow("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Sugar().Errorw("graceful shutdown failed", "error", err)
	}

	if svcs.queue != nil {
		if pending := svcs.queue.Len(); pending > 0 {
			logr.Sugar().Warnw("stopping report queue with jobs still pending", "pending", pending)
		}
	}
}

// sweepExpiredSessions periodically closes sessions whose planned end
// time has passed without an explicit close from the teacher.
func sweepExpiredSessions(ctx context.Context, sessions *service.SessionService, interval time.Duration, logr *zap.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			closed, err := sessions.CloseExpired(ctx, time.Now().UTC())
			if err != nil {
				logr.Sugar().Warnw("session sweep failed", "error", err)
				continue
			}
			if closed > 0 {
				logr.Sugar().Infow("auto-closed expired sessions", "count", closed)
			}
		}
	}
}

func readyProbe(db *sqlx.DB, rdb *redis.Client) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if db != nil {
			if err := db.PingContext(ctx); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "database": err.Error()})
				return
			}
		}
		if rdb != nil {
			if err := rdb.Ping(ctx).Err(); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "redis": err.Error()})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	}
}
