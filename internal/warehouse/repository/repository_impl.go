package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/saaswarehouse/internal/warehouse/domain"
	"gorm.io/gorm"
)

const defaultBatchSize = 500

type repo struct {
	batchSize int
}

// New returns a repository writing multi-row statements of at most
// batchSize rows.
func New(batchSize int) domain.Repository {
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	return &repo{batchSize: batchSize}
}

// UpsertUsers inserts users keyed on user_id. Existing rows get their
// descriptive attributes and updated_at overwritten; user_key and
// signup_date are never touched.
func (r *repo) UpsertUsers(ctx context.Context, db *gorm.DB, users []domain.DimUser) error {
	for start := 0; start < len(users); start += r.batchSize {
		end := min(start+r.batchSize, len(users))
		batch := users[start:end]

		placeholders := make([]string, 0, len(batch))
		args := make([]any, 0, len(batch)*6)
		for _, u := range batch {
			placeholders = append(placeholders, "(?, ?, ?, ?, ?, ?)")
			args = append(args, u.UserID, u.Email, u.SignupDate, u.CompanySize, u.Industry, u.UpdatedAt)
		}

		if err := db.WithContext(ctx).Exec(
			`INSERT INTO dim_users (user_id, email, signup_date, company_size, industry, updated_at)
			 VALUES `+strings.Join(placeholders, ", ")+`
			 ON CONFLICT (user_id)
			 DO UPDATE SET email = EXCLUDED.email,
			               company_size = EXCLUDED.company_size,
			               industry = EXCLUDED.industry,
			               updated_at = EXCLUDED.updated_at`,
			args...,
		).Error; err != nil {
			return err
		}
	}
	return nil
}

func (r *repo) InsertFacts(ctx context.Context, db *gorm.DB, facts []domain.FactSubscription) error {
	for start := 0; start < len(facts); start += r.batchSize {
		end := min(start+r.batchSize, len(facts))
		batch := facts[start:end]

		placeholders := make([]string, 0, len(batch))
		args := make([]any, 0, len(batch)*5)
		for _, f := range batch {
			placeholders = append(placeholders, "(?, ?, ?, ?, ?)")
			args = append(args, f.UserKey, f.PlanKey, f.DateKey, f.EventType, f.MRRAmount)
		}

		if err := db.WithContext(ctx).Exec(
			`INSERT INTO fact_subscriptions (user_key, plan_key, date_key, event_type, mrr_amount)
			 VALUES `+strings.Join(placeholders, ", "),
			args...,
		).Error; err != nil {
			return err
		}
	}
	return nil
}

func (r *repo) FindUserKeys(ctx context.Context, db *gorm.DB, userIDs []int64) (map[int64]int64, error) {
	return ResolveKeys(ctx, db, domain.UsersDimension, userIDs)
}

func (r *repo) FindPlanKeys(ctx context.Context, db *gorm.DB, planIDs []string) (map[string]int64, error) {
	return ResolveKeys(ctx, db, domain.PlansDimension, planIDs)
}

// ResolveKeys maps natural keys to surrogate keys with a single query.
// Keys without a dimension row are absent from the result.
func ResolveKeys[K comparable](ctx context.Context, db *gorm.DB, dim domain.Dimension, ids []K) (map[K]int64, error) {
	out := make(map[K]int64, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	filter, keySet, err := keySetFilter(db.Dialector.Name(), dim.NaturalKey, ids)
	if err != nil {
		return nil, err
	}
	rows, err := db.WithContext(ctx).Raw(
		fmt.Sprintf(`SELECT %s AS natural_key, %s AS surrogate_key FROM %s WHERE %s`,
			dim.NaturalKey, dim.SurrogateKey, dim.Table, filter),
		keySet,
	).Rows()
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			natural   K
			surrogate int64
		)
		if err := rows.Scan(&natural, &surrogate); err != nil {
			return nil, err
		}
		out[natural] = surrogate
	}
	return out, rows.Err()
}

// keySetFilter binds the whole key set as one parameter: a postgres array
// or, on sqlite, a JSON array expanded with json_each. Statement size stays
// constant however many keys a batch references.
func keySetFilter[K comparable](dialect, column string, ids []K) (string, any, error) {
	if dialect == "sqlite" {
		payload, err := json.Marshal(ids)
		if err != nil {
			return "", nil, fmt.Errorf("encode %s key set: %w", column, err)
		}
		return fmt.Sprintf("%s IN (SELECT value FROM json_each(?))", column), string(payload), nil
	}
	return fmt.Sprintf("%s = ANY(?)", column), pq.Array(ids), nil
}

func (r *repo) CountFactsInWindow(ctx context.Context, db *gorm.DB, fromKey, toKey int) (int64, error) {
	var count int64
	err := db.WithContext(ctx).Raw(
		`SELECT COUNT(*) FROM fact_subscriptions WHERE date_key BETWEEN ? AND ?`,
		fromKey,
		toKey,
	).Scan(&count).Error
	return count, err
}

type totalsRow struct {
	ActiveUsers int64               `gorm:"column:active_users"`
	TotalMRR    decimal.NullDecimal `gorm:"column:total_mrr"`
}

func (r *repo) Verify(ctx context.Context, db *gorm.DB, cancelEvent string) (domain.Verification, error) {
	var v domain.Verification

	orphanChecks := []struct {
		dest *int64
		sql  string
	}{
		{&v.OrphanedUserFacts, `SELECT COUNT(*) FROM fact_subscriptions f
			LEFT JOIN dim_users u ON f.user_key = u.user_key
			WHERE u.user_key IS NULL`},
		{&v.OrphanedPlanFacts, `SELECT COUNT(*) FROM fact_subscriptions f
			LEFT JOIN dim_plans p ON f.plan_key = p.plan_key
			WHERE p.plan_key IS NULL`},
		{&v.MissingDateFacts, `SELECT COUNT(*) FROM fact_subscriptions f
			LEFT JOIN dim_dates d ON f.date_key = d.date_key
			WHERE d.date_key IS NULL`},
	}
	for _, check := range orphanChecks {
		if err := db.WithContext(ctx).Raw(check.sql).Scan(check.dest).Error; err != nil {
			return domain.Verification{}, err
		}
	}

	var totals totalsRow
	if err := db.WithContext(ctx).Raw(
		`SELECT COUNT(DISTINCT user_key) AS active_users, SUM(mrr_amount) AS total_mrr
		 FROM fact_subscriptions
		 WHERE event_type <> ?`,
		cancelEvent,
	).Scan(&totals).Error; err != nil {
		return domain.Verification{}, err
	}
	v.ActiveUsers = totals.ActiveUsers
	v.TotalMRR = decimal.Zero
	if totals.TotalMRR.Valid {
		v.TotalMRR = totals.TotalMRR.Decimal
	}
	return v, nil
}

func (r *repo) TableCounts(ctx context.Context, db *gorm.DB) ([]domain.TableCount, error) {
	counts := make([]domain.TableCount, 0, len(domain.Tables))
	for _, table := range domain.Tables {
		var n int64
		if err := db.WithContext(ctx).Raw(`SELECT COUNT(*) FROM ` + table).Scan(&n).Error; err != nil {
			return nil, fmt.Errorf("count %s: %w", table, err)
		}
		counts = append(counts, domain.TableCount{Table: table, Rows: n})
	}
	return counts, nil
}

// ClearAll removes facts then user dimension rows. Plans and dates are
// reference data and stay.
func (r *repo) ClearAll(ctx context.Context, db *gorm.DB) error {
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec(`DELETE FROM fact_subscriptions`).Error; err != nil {
			return err
		}
		return tx.Exec(`DELETE FROM dim_users`).Error
	})
}

func (r *repo) ServerVersion(ctx context.Context, db *gorm.DB) (string, error) {
	query := `SELECT version()`
	if db.Dialector.Name() == "sqlite" {
		query = `SELECT 'SQLite ' || sqlite_version()`
	}
	var version string
	err := db.WithContext(ctx).Raw(query).Scan(&version).Error
	return version, err
}
