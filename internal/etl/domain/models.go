// Package domain contains the records, tables and errors shared by the
// transform and load stages of the warehouse pipeline.
package domain

import (
	"slices"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	FieldUserID         = "user_id"
	FieldEmail          = "email"
	FieldSignupDate     = "signup_date"
	FieldCompanySize    = "company_size"
	FieldIndustry       = "industry"
	FieldSubscriptionID = "subscription_id"
	FieldPlanID         = "plan_id"
	FieldEventType      = "event_type"
	FieldEventDate      = "event_date"
	FieldMRRAmount      = "mrr_amount"
	FieldDateKey        = "date_key"
)

const (
	TableUsers         = "users"
	TableSubscriptions = "subscriptions"
	TableEvents        = "events"
)

// Unknown is written into descriptive user attributes that were absent.
const Unknown = "unknown"

var (
	UserColumns         = []string{FieldUserID, FieldEmail, FieldSignupDate, FieldCompanySize, FieldIndustry}
	SubscriptionColumns = []string{FieldSubscriptionID, FieldUserID, FieldPlanID, FieldEventType, FieldEventDate}

	RequiredUserColumns         = []string{FieldUserID, FieldEmail, FieldSignupDate}
	RequiredSubscriptionColumns = []string{FieldSubscriptionID, FieldUserID, FieldPlanID, FieldEventType, FieldEventDate}
)

// PlanID identifies a subscription plan.
type PlanID string

const (
	PlanFree       PlanID = "free"
	PlanPro        PlanID = "pro"
	PlanEnterprise PlanID = "enterprise"
)

// Valid reports whether the plan is one the warehouse knows about.
func (p PlanID) Valid() bool {
	switch p {
	case PlanFree, PlanPro, PlanEnterprise:
		return true
	default:
		return false
	}
}

// EventType is the lifecycle transition recorded by a subscription event.
type EventType string

const (
	EventSignup    EventType = "signup"
	EventUpgrade   EventType = "upgrade"
	EventDowngrade EventType = "downgrade"
	EventCancel    EventType = "cancel"
)

func (e EventType) Valid() bool {
	switch e {
	case EventSignup, EventUpgrade, EventDowngrade, EventCancel:
		return true
	default:
		return false
	}
}

// RawRow is one extracted record keyed by column name. Absent keys and
// blank cells are both treated as null.
type RawRow map[string]string

// Value returns the trimmed cell and whether it is non-null.
func (r RawRow) Value(column string) (string, bool) {
	v, ok := r[column]
	if !ok {
		return "", false
	}
	v = strings.TrimSpace(v)
	return v, v != ""
}

// RawTable is the tabular output of extraction, rows kept in file order.
type RawTable struct {
	Name    string
	Columns []string
	Rows    []RawRow
}

func (t RawTable) HasColumn(column string) bool {
	return slices.Contains(t.Columns, column)
}

// Table is a typed stage output. Columns tracks the logical column set so
// that schema checks can run on any stage's output.
type Table[T any] struct {
	Name    string
	Columns []string
	Rows    []T
}

func (t Table[T]) Len() int { return len(t.Rows) }

func (t Table[T]) HasColumn(column string) bool {
	return slices.Contains(t.Columns, column)
}

// WithRows returns a table with the same name and columns holding rows.
// The column slice is copied so stages never share backing arrays.
func (t Table[T]) WithRows(rows []T, extra ...string) Table[T] {
	cols := slices.Clone(t.Columns)
	for _, c := range extra {
		if !slices.Contains(cols, c) {
			cols = append(cols, c)
		}
	}
	return Table[T]{Name: t.Name, Columns: cols, Rows: rows}
}

// UserRecord is a cleaned row destined for dim_users.
type UserRecord struct {
	UserID      int64
	Email       string
	SignupDate  time.Time
	CompanySize string
	Industry    string
	DateKey     int
}

// DateValue exposes the record's date columns by name.
func (u UserRecord) DateValue(field string) (time.Time, bool) {
	if field != FieldSignupDate || u.SignupDate.IsZero() {
		return time.Time{}, false
	}
	return u.SignupDate, true
}

func (u UserRecord) WithDateKey(key int) UserRecord {
	u.DateKey = key
	return u
}

// SubscriptionEvent is a cleaned row destined for fact_subscriptions.
type SubscriptionEvent struct {
	SubscriptionID string
	UserID         int64
	// MissingUserID marks a source row without a parseable user_id. UserID
	// is zero then, and zero is otherwise a valid id.
	MissingUserID  bool
	PlanID         PlanID    `validate:"oneof=free pro enterprise"`
	EventType      EventType `validate:"oneof=signup upgrade downgrade cancel"`
	EventDate      time.Time
	MRRAmount      decimal.Decimal
	DateKey        int
}

func (s SubscriptionEvent) DateValue(field string) (time.Time, bool) {
	if field != FieldEventDate || s.EventDate.IsZero() {
		return time.Time{}, false
	}
	return s.EventDate, true
}

func (s SubscriptionEvent) WithDateKey(key int) SubscriptionEvent {
	s.DateKey = key
	return s
}

// Dataset groups the tables flowing between stages.
type Dataset struct {
	Users         Table[UserRecord]
	Subscriptions Table[SubscriptionEvent]
}
