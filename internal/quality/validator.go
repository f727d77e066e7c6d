// Package quality runs read-only data-quality checks over cleaned tables.
// Findings are reported, never fixed; only missing required columns are
// fatal because every later stage depends on them.
package quality

import (
	"fmt"
	"time"

	"github.com/smallbiznis/saaswarehouse/internal/clock"
	"github.com/smallbiznis/saaswarehouse/internal/etl/domain"
	"go.uber.org/zap"
)

type Option func(*Validator)

// WithMinDate enables the lower bound of the event date-range check.
func WithMinDate(t time.Time) Option {
	return func(v *Validator) { v.minDate = t }
}

type Validator struct {
	clock   clock.Clock
	log     *zap.Logger
	minDate time.Time
}

func New(clk clock.Clock, log *zap.Logger, opts ...Option) *Validator {
	if clk == nil {
		clk = clock.SystemClock{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	v := &Validator{clock: clk, log: log.Named("quality")}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// RequireColumns returns a *SchemaError naming every required column that
// is absent from columns.
func RequireColumns(table string, columns, required []string) error {
	have := make(map[string]struct{}, len(columns))
	for _, c := range columns {
		have[c] = struct{}{}
	}
	var missing []string
	for _, c := range required {
		if _, ok := have[c]; !ok {
			missing = append(missing, c)
		}
	}
	if len(missing) > 0 {
		return &domain.SchemaError{Table: table, Missing: missing}
	}
	return nil
}

// CheckRaw verifies the extracted tables carry the columns cleaning needs.
func (v *Validator) CheckRaw(users, subs domain.RawTable) error {
	if err := RequireColumns(users.Name, users.Columns, domain.RequiredUserColumns); err != nil {
		return err
	}
	return RequireColumns(subs.Name, subs.Columns, domain.RequiredSubscriptionColumns)
}

// Validate runs the full battery. Every check runs; the report lists
// findings in check order.
func (v *Validator) Validate(ds domain.Dataset) (domain.ValidationReport, error) {
	if err := RequireColumns(ds.Users.Name, ds.Users.Columns, domain.RequiredUserColumns); err != nil {
		return domain.ValidationReport{}, err
	}
	if err := RequireColumns(ds.Subscriptions.Name, ds.Subscriptions.Columns, domain.RequiredSubscriptionColumns); err != nil {
		return domain.ValidationReport{}, err
	}

	var report domain.ValidationReport
	v.checkNulls(&report, ds)
	v.checkDuplicates(&report, ds)
	v.checkWhitelists(&report, ds.Subscriptions)
	v.checkOrphans(&report, ds)
	v.checkDateRange(&report, ds.Subscriptions)

	if report.OK() {
		v.log.Info("all data quality checks passed")
	} else {
		for _, issue := range report.Issues {
			v.log.Warn("data quality issue",
				zap.String("kind", string(issue.Kind)),
				zap.String("table", issue.Table),
				zap.Int("count", issue.Count),
				zap.String("issue", issue.Message),
			)
		}
	}
	return report, nil
}

func (v *Validator) checkNulls(report *domain.ValidationReport, ds domain.Dataset) {
	users := ds.Users
	nullIssue(report, users.Name, domain.FieldEmail, countWhere(users.Rows, func(u domain.UserRecord) bool { return u.Email == "" }))

	subs := ds.Subscriptions
	nullIssue(report, subs.Name, domain.FieldSubscriptionID, countWhere(subs.Rows, func(s domain.SubscriptionEvent) bool { return s.SubscriptionID == "" }))
	nullIssue(report, subs.Name, domain.FieldUserID, countWhere(subs.Rows, func(s domain.SubscriptionEvent) bool { return s.MissingUserID }))
	nullIssue(report, subs.Name, domain.FieldPlanID, countWhere(subs.Rows, func(s domain.SubscriptionEvent) bool { return s.PlanID == "" }))
	nullIssue(report, subs.Name, domain.FieldEventType, countWhere(subs.Rows, func(s domain.SubscriptionEvent) bool { return s.EventType == "" }))
	nullIssue(report, subs.Name, domain.FieldEventDate, countWhere(subs.Rows, func(s domain.SubscriptionEvent) bool { return s.EventDate.IsZero() }))
}

func nullIssue(report *domain.ValidationReport, table, column string, n int) {
	if n == 0 {
		return
	}
	report.Add(domain.Issue{
		Kind:    domain.IssueNullValues,
		Table:   table,
		Count:   n,
		Message: fmt.Sprintf("%s.%s: %d nulls", table, column, n),
	})
}

// checkDuplicates counts every row that shares its key with another row,
// the first occurrence included.
func (v *Validator) checkDuplicates(report *domain.ValidationReport, ds domain.Dataset) {
	userKeys := make([]int64, 0, len(ds.Users.Rows))
	for _, u := range ds.Users.Rows {
		userKeys = append(userKeys, u.UserID)
	}
	dupIssue(report, ds.Users.Name, duplicateRows(userKeys))

	subKeys := make([]string, 0, len(ds.Subscriptions.Rows))
	for _, s := range ds.Subscriptions.Rows {
		subKeys = append(subKeys, s.SubscriptionID)
	}
	dupIssue(report, ds.Subscriptions.Name, duplicateRows(subKeys))
}

func dupIssue(report *domain.ValidationReport, table string, n int) {
	if n == 0 {
		return
	}
	report.Add(domain.Issue{
		Kind:    domain.IssueDuplicateKeys,
		Table:   table,
		Count:   n,
		Message: fmt.Sprintf("%s: %d duplicate records found", table, n),
	})
}

func (v *Validator) checkWhitelists(report *domain.ValidationReport, subs domain.Table[domain.SubscriptionEvent]) {
	if n := countWhere(subs.Rows, func(s domain.SubscriptionEvent) bool { return !s.EventType.Valid() }); n > 0 {
		report.Add(domain.Issue{
			Kind:    domain.IssueInvalidEventTypes,
			Table:   subs.Name,
			Count:   n,
			Message: fmt.Sprintf("%d invalid event types", n),
		})
	}
	if n := countWhere(subs.Rows, func(s domain.SubscriptionEvent) bool { return !s.PlanID.Valid() }); n > 0 {
		report.Add(domain.Issue{
			Kind:    domain.IssueInvalidPlans,
			Table:   subs.Name,
			Count:   n,
			Message: fmt.Sprintf("%d invalid plan ids", n),
		})
	}
}

func (v *Validator) checkOrphans(report *domain.ValidationReport, ds domain.Dataset) {
	known := make(map[int64]struct{}, len(ds.Users.Rows))
	for _, u := range ds.Users.Rows {
		known[u.UserID] = struct{}{}
	}

	rows := 0
	distinct := make(map[int64]struct{})
	for _, s := range ds.Subscriptions.Rows {
		if s.MissingUserID {
			rows++
			continue
		}
		if _, ok := known[s.UserID]; ok {
			continue
		}
		rows++
		distinct[s.UserID] = struct{}{}
	}
	if rows == 0 {
		return
	}
	report.Add(domain.Issue{
		Kind:    domain.IssueOrphanedRows,
		Table:   ds.Subscriptions.Name,
		Count:   rows,
		Message: fmt.Sprintf("Found %d subscriptions with no matching user (%d distinct user_id)", rows, len(distinct)),
	})
}

func (v *Validator) checkDateRange(report *domain.ValidationReport, subs domain.Table[domain.SubscriptionEvent]) {
	now := v.clock.Now()
	if n := countWhere(subs.Rows, func(s domain.SubscriptionEvent) bool { return s.EventDate.After(now) }); n > 0 {
		report.Add(domain.Issue{
			Kind:    domain.IssueFutureDates,
			Table:   subs.Name,
			Count:   n,
			Message: fmt.Sprintf("Found %d subscriptions with future dates", n),
		})
	}

	if v.minDate.IsZero() {
		return
	}
	if n := countWhere(subs.Rows, func(s domain.SubscriptionEvent) bool { return s.EventDate.Before(v.minDate) }); n > 0 {
		report.Add(domain.Issue{
			Kind:    domain.IssueDatesBeforeMin,
			Table:   subs.Name,
			Count:   n,
			Message: fmt.Sprintf("%d records before %s", n, v.minDate.Format("2006-01-02")),
		})
	}
}

func countWhere[T any](rows []T, pred func(T) bool) int {
	n := 0
	for _, r := range rows {
		if pred(r) {
			n++
		}
	}
	return n
}

func duplicateRows[K comparable](keys []K) int {
	counts := make(map[K]int, len(keys))
	for _, k := range keys {
		counts[k]++
	}
	n := 0
	for _, c := range counts {
		if c > 1 {
			n += c
		}
	}
	return n
}
