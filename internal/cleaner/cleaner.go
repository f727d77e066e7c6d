// Package cleaner normalizes extracted user and subscription tables.
//
// Rows are visited strictly in input order and the first occurrence of a
// natural key wins. Every input row gets a RowOutcome so the number of
// dropped rows, and why, is always observable.
package cleaner

import (
	"math"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/smallbiznis/saaswarehouse/internal/etl/domain"
	"go.uber.org/zap"
)

// Result is a cleaned table plus the decision taken for every input row.
type Result[T any] struct {
	Table    domain.Table[T]
	Outcomes domain.Outcomes
}

type Cleaner struct {
	log      *zap.Logger
	validate *validator.Validate
}

func New(log *zap.Logger) *Cleaner {
	if log == nil {
		log = zap.NewNop()
	}
	return &Cleaner{
		log:      log.Named("cleaner"),
		validate: validator.New(),
	}
}

// CleanUsers deduplicates on user_id, parses signup_date, fills missing
// descriptive attributes and lowercases email.
func (c *Cleaner) CleanUsers(raw domain.RawTable) (Result[domain.UserRecord], error) {
	rows := make([]domain.UserRecord, 0, len(raw.Rows))
	outcomes := make(domain.Outcomes, 0, len(raw.Rows))
	seen := make(map[int64]struct{}, len(raw.Rows))

	for i, row := range raw.Rows {
		rawID, _ := row.Value(domain.FieldUserID)
		userID, ok := parseID(rawID)
		if !ok {
			outcomes = append(outcomes, domain.RowOutcome{Row: i, Key: rawID, Reason: domain.DropMissingKey})
			continue
		}
		key := strconv.FormatInt(userID, 10)
		if _, dup := seen[userID]; dup {
			outcomes = append(outcomes, domain.RowOutcome{Row: i, Key: key, Reason: domain.DropDuplicateKey})
			continue
		}
		seen[userID] = struct{}{}

		rawDate, _ := row.Value(domain.FieldSignupDate)
		signup, err := ParseDate(rawDate)
		if err != nil {
			return Result[domain.UserRecord]{}, &domain.MalformedDateError{
				Table: tableName(raw, domain.TableUsers),
				Field: domain.FieldSignupDate,
				Row:   i,
				Value: rawDate,
				Err:   err,
			}
		}

		email, _ := row.Value(domain.FieldEmail)
		rows = append(rows, domain.UserRecord{
			UserID:      userID,
			Email:       strings.ToLower(email),
			SignupDate:  signup,
			CompanySize: valueOr(row, domain.FieldCompanySize, domain.Unknown),
			Industry:    valueOr(row, domain.FieldIndustry, domain.Unknown),
		})
		outcomes = append(outcomes, domain.RowOutcome{Row: i, Key: key, Keep: true})
	}

	c.logResult(domain.TableUsers, outcomes)
	return Result[domain.UserRecord]{
		Table: domain.Table[domain.UserRecord]{
			Name:    tableName(raw, domain.TableUsers),
			Columns: mergeColumns(raw.Columns, []string{domain.FieldCompanySize, domain.FieldIndustry}),
			Rows:    rows,
		},
		Outcomes: outcomes,
	}, nil
}

// CleanSubscriptions deduplicates on subscription_id, parses event_date and
// excludes rows outside the event type and plan whitelists.
func (c *Cleaner) CleanSubscriptions(raw domain.RawTable) (Result[domain.SubscriptionEvent], error) {
	rows := make([]domain.SubscriptionEvent, 0, len(raw.Rows))
	outcomes := make(domain.Outcomes, 0, len(raw.Rows))
	seen := make(map[string]struct{}, len(raw.Rows))

	for i, row := range raw.Rows {
		subID, ok := row.Value(domain.FieldSubscriptionID)
		if !ok {
			outcomes = append(outcomes, domain.RowOutcome{Row: i, Reason: domain.DropMissingKey})
			continue
		}
		if _, dup := seen[subID]; dup {
			outcomes = append(outcomes, domain.RowOutcome{Row: i, Key: subID, Reason: domain.DropDuplicateKey})
			continue
		}
		seen[subID] = struct{}{}

		rawDate, _ := row.Value(domain.FieldEventDate)
		eventDate, err := ParseDate(rawDate)
		if err != nil {
			return Result[domain.SubscriptionEvent]{}, &domain.MalformedDateError{
				Table: tableName(raw, domain.TableSubscriptions),
				Field: domain.FieldEventDate,
				Row:   i,
				Value: rawDate,
				Err:   err,
			}
		}

		// Rows without a user_id are kept; orphan filtering removes them later.
		rawUser, _ := row.Value(domain.FieldUserID)
		userID, hasUser := parseID(rawUser)
		planID, _ := row.Value(domain.FieldPlanID)
		eventType, _ := row.Value(domain.FieldEventType)

		event := domain.SubscriptionEvent{
			SubscriptionID: subID,
			UserID:         userID,
			MissingUserID:  !hasUser,
			PlanID:         domain.PlanID(planID),
			EventType:      domain.EventType(eventType),
			EventDate:      eventDate,
		}
		if reason, drop := c.whitelist(event); drop {
			outcomes = append(outcomes, domain.RowOutcome{Row: i, Key: subID, Reason: reason})
			continue
		}

		rows = append(rows, event)
		outcomes = append(outcomes, domain.RowOutcome{Row: i, Key: subID, Keep: true})
	}

	c.logResult(domain.TableSubscriptions, outcomes)
	return Result[domain.SubscriptionEvent]{
		Table: domain.Table[domain.SubscriptionEvent]{
			Name:    tableName(raw, domain.TableSubscriptions),
			Columns: mergeColumns(raw.Columns, nil),
			Rows:    rows,
		},
		Outcomes: outcomes,
	}, nil
}

// whitelist checks event type before plan, matching the order rows are
// excluded in.
func (c *Cleaner) whitelist(event domain.SubscriptionEvent) (domain.DropReason, bool) {
	if err := c.validate.StructPartial(event, "EventType"); err != nil {
		return domain.DropInvalidEventType, true
	}
	if err := c.validate.StructPartial(event, "PlanID"); err != nil {
		return domain.DropInvalidPlan, true
	}
	return "", false
}

func (c *Cleaner) logResult(table string, outcomes domain.Outcomes) {
	fields := []zap.Field{
		zap.String("table", table),
		zap.Int("input_rows", len(outcomes)),
		zap.Int("kept_rows", outcomes.Kept()),
	}
	for _, reason := range outcomes.Reasons() {
		fields = append(fields, zap.Int("dropped_"+string(reason), outcomes.DroppedBy()[reason]))
	}
	c.log.Info("table cleaned", fields...)
}

// parseID accepts integer ids, including the "12.0" form produced by
// spreadsheet exports of numeric columns with blanks.
func parseID(value string) (int64, bool) {
	if value == "" {
		return 0, false
	}
	if id, err := strconv.ParseInt(value, 10, 64); err == nil {
		return id, true
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) {
		return 0, false
	}
	// float64(math.MaxInt64) rounds up to 2^63, which does not fit.
	if f >= float64(math.MaxInt64) || f < float64(math.MinInt64) {
		return 0, false
	}
	return int64(f), true
}

func valueOr(row domain.RawRow, column, def string) string {
	if v, ok := row.Value(column); ok {
		return v
	}
	return def
}

func tableName(raw domain.RawTable, def string) string {
	if raw.Name != "" {
		return raw.Name
	}
	return def
}

func mergeColumns(have, want []string) []string {
	out := make([]string, 0, len(have)+len(want))
	seen := make(map[string]struct{}, len(have)+len(want))
	for _, cols := range [][]string{have, want} {
		for _, c := range cols {
			if _, ok := seen[c]; ok {
				continue
			}
			seen[c] = struct{}{}
			out = append(out, c)
		}
	}
	return out
}
