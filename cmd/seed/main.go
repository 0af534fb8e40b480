package main

import (
	"context"
	"flag"
	"log"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/ilyes-bd/presence-api/internal/fixture"
	"github.com/ilyes-bd/presence-api/internal/repository"
	"github.com/ilyes-bd/presence-api/pkg/config"
	"github.com/ilyes-bd/presence-api/pkg/database"
	"github.com/ilyes-bd/presence-api/pkg/logger"
)

// Seeds Postgres with the deterministic demo dataset. The same date
// always produces the same rows, so staging environments can be
// rebuilt at will.
func main() {
	var (
		dateFlag = flag.String("date", "", "seed date (YYYY-MM-DD, default today)")
		wipeFlag = flag.Bool("wipe", false, "delete existing rows before inserting")
		dsnFlag  = flag.String("dsn", "", "postgres DSN (default from environment)")
	)
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck
	sugar := logr.Sugar()

	seedDate := time.Now().UTC()
	if *dateFlag != "" {
		parsed, err := time.Parse("2006-01-02", *dateFlag)
		if err != nil {
			sugar.Fatalw("invalid -date", "value", *dateFlag, "error", err)
		}
		seedDate = parsed
	}

	ctx := context.Background()

	var db *sqlx.DB
	if *dsnFlag != "" {
		db, err = sqlx.Connect("postgres", *dsnFlag)
	} else {
		db, err = database.NewPostgres(ctx, cfg.Database)
	}
	if err != nil {
		sugar.Fatalw("failed to connect to postgres", "error", err)
	}
	defer db.Close()

	if *wipeFlag {
		if err := wipe(ctx, db); err != nil {
			sugar.Fatalw("wipe failed", "error", err)
		}
		sugar.Infow("existing rows deleted")
	}

	ds := fixture.Generate(fixture.GeneratorConfig{SeedDate: seedDate})
	if err := insert(ctx, db, ds); err != nil {
		sugar.Fatalw("seed failed", "error", err)
	}

	sugar.Infow("seed complete",
		"seed_date", seedDate.Format("2006-01-02"),
		"users", len(ds.Users),
		"levels", len(ds.Levels),
		"modules", len(ds.Modules),
		"teachers", len(ds.Teachers),
		"students", len(ds.Students),
		"enrollments", len(ds.Enrollments),
		"sessions", len(ds.Sessions),
		"records", len(ds.Records),
		"justifications", len(ds.Justifications),
		"admin_email", fixture.AdminEmail,
		"password", fixture.DemoPassword,
	)
}

// wipe removes seedable rows, children before parents.
func wipe(ctx context.Context, db *sqlx.DB) error {
	tables := []string{
		"justifications",
		"absence_records",
		"sessions",
		"schedule_slots",
		"enrollments",
		"teacher_assignments",
		"notifications",
		"report_jobs",
		"refresh_tokens",
		"audit_logs",
		"students",
		"teachers",
		"modules",
		"levels",
		"users",
	}
	for _, table := range tables {
		if _, err := db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return err
		}
	}
	return nil
}

// insert loads the dataset through the same repositories the API uses,
// parents before children.
func insert(ctx context.Context, db *sqlx.DB, ds *fixture.Dataset) error {
	users := repository.NewUserRepository(db)
	levels := repository.NewLevelRepository(db)
	modules := repository.NewModuleRepository(db)
	teachers := repository.NewTeacherRepository(db)
	students := repository.NewStudentRepository(db)
	enrollments := repository.NewEnrollmentRepository(db)
	schedules := repository.NewScheduleRepository(db)
	sessions := repository.NewSessionRepository(db)
	records := repository.NewAbsenceRecordRepository(db)
	justifications := repository.NewJustificationRepository(db)

	for i := range ds.Users {
		if err := users.Create(ctx, &ds.Users[i]); err != nil {
			return err
		}
	}
	for i := range ds.Levels {
		if err := levels.Create(ctx, &ds.Levels[i]); err != nil {
			return err
		}
	}
	for i := range ds.Modules {
		if err := modules.Create(ctx, &ds.Modules[i]); err != nil {
			return err
		}
	}
	for i := range ds.Teachers {
		if err := teachers.Create(ctx, &ds.Teachers[i]); err != nil {
			return err
		}
	}
	for i := range ds.Assignments {
		if err := teachers.Assign(ctx, &ds.Assignments[i]); err != nil {
			return err
		}
	}
	for i := range ds.Students {
		if err := students.Create(ctx, &ds.Students[i]); err != nil {
			return err
		}
	}
	for i := range ds.Enrollments {
		if err := enrollments.Create(ctx, &ds.Enrollments[i]); err != nil {
			return err
		}
	}
	for i := range ds.Slots {
		if err := schedules.Create(ctx, &ds.Slots[i]); err != nil {
			return err
		}
	}
	for i := range ds.Sessions {
		if err := sessions.Create(ctx, &ds.Sessions[i]); err != nil {
			return err
		}
	}
	if err := records.BulkInsert(ctx, ds.Records); err != nil {
		return err
	}
	for i := range ds.Justifications {
		if err := justifications.Create(ctx, &ds.Justifications[i]); err != nil {
			return err
		}
	}
	return nil
}
