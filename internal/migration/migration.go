// Package migration bootstraps a development warehouse. Production
// warehouses own their schema; the loader only relies on it.
package migration

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	etldomain "github.com/smallbiznis/saaswarehouse/internal/etl/domain"
	"github.com/smallbiznis/saaswarehouse/internal/mrr"
	"github.com/smallbiznis/saaswarehouse/internal/warehouse/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const migrationsDir = "migrations"

//go:embed migrations/*.sql
var embeddedMigrations embed.FS

// Calendar bounds of the seeded date dimension.
var (
	FirstDate = time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	LastDate  = time.Date(2030, 12, 31, 0, 0, 0, 0, time.UTC)
)

// Up creates the warehouse tables and seeds plans and dates. Postgres uses
// the embedded SQL migrations; SQLite is built from the gorm models.
func Up(ctx context.Context, conn *gorm.DB) error {
	if conn == nil {
		return errors.New("migration database handle is required")
	}
	switch conn.Dialector.Name() {
	case "postgres":
		sqlDB, err := conn.DB()
		if err != nil {
			return err
		}
		return RunMigrations(sqlDB)
	case "sqlite":
		return bootstrapSQLite(ctx, conn)
	default:
		return fmt.Errorf("unsupported migration dialect %q", conn.Dialector.Name())
	}
}

func RunMigrations(db *sql.DB) error {
	if db == nil {
		return errors.New("migration database handle is required")
	}

	sub, err := fs.Sub(embeddedMigrations, migrationsDir)
	if err != nil {
		return fmt.Errorf("open migrations: %w", err)
	}

	source, err := iofs.New(sub, ".")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("create migration driver: %w", err)
	}

	migrator, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}

	upErr := migrator.Up()
	if upErr != nil && !errors.Is(upErr, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", upErr)
	}
	// Do not call migrator.Close here because it would close the shared *sql.DB.

	return nil
}

func bootstrapSQLite(ctx context.Context, conn *gorm.DB) error {
	db := conn.WithContext(ctx)

	// Only missing tables are created. The sqlite migrator cannot re-parse
	// numeric(10,2) columns of an existing table.
	var missing []any
	for _, model := range []any{&domain.DimUser{}, &domain.DimPlan{}, &domain.DimDate{}, &domain.FactSubscription{}} {
		if !db.Migrator().HasTable(model) {
			missing = append(missing, model)
		}
	}
	if len(missing) > 0 {
		if err := db.AutoMigrate(missing...); err != nil {
			return fmt.Errorf("auto migrate: %w", err)
		}
	}

	pricing := etldomain.DefaultPlanPricing()
	plans := make([]domain.DimPlan, 0, len(pricing))
	for _, plan := range pricing.Plans() {
		plans = append(plans, domain.DimPlan{PlanID: string(plan), MonthlyPrice: pricing[plan]})
	}
	if err := db.Clauses(clause.OnConflict{DoNothing: true}).Create(&plans).Error; err != nil {
		return fmt.Errorf("seed dim_plans: %w", err)
	}

	dates := Calendar(FirstDate, LastDate)
	if err := db.Clauses(clause.OnConflict{DoNothing: true}).CreateInBatches(&dates, 500).Error; err != nil {
		return fmt.Errorf("seed dim_dates: %w", err)
	}
	return nil
}

// Calendar returns one date dimension row per day in [from, to].
func Calendar(from, to time.Time) []domain.DimDate {
	var dates []domain.DimDate
	for d := from.UTC().Truncate(24 * time.Hour); !d.After(to); d = d.AddDate(0, 0, 1) {
		dates = append(dates, domain.DimDate{
			DateKey:  mrr.DateKey(d),
			FullDate: d,
			Year:     d.Year(),
			Quarter:  (int(d.Month())-1)/3 + 1,
			Month:    int(d.Month()),
			Day:      d.Day(),
		})
	}
	return dates
}
