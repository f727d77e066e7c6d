package quality

import (
	"errors"
	"testing"
	"time"

	"github.com/smallbiznis/saaswarehouse/internal/clock"
	"github.com/smallbiznis/saaswarehouse/internal/etl/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var now = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func dataset(users []domain.UserRecord, subs []domain.SubscriptionEvent) domain.Dataset {
	return domain.Dataset{
		Users:         domain.Table[domain.UserRecord]{Name: domain.TableUsers, Columns: domain.UserColumns, Rows: users},
		Subscriptions: domain.Table[domain.SubscriptionEvent]{Name: domain.TableSubscriptions, Columns: domain.SubscriptionColumns, Rows: subs},
	}
}

func event(id string, user int64, date time.Time) domain.SubscriptionEvent {
	return domain.SubscriptionEvent{
		SubscriptionID: id,
		UserID:         user,
		PlanID:         domain.PlanPro,
		EventType:      domain.EventSignup,
		EventDate:      date,
	}
}

func TestValidate_CleanDataset(t *testing.T) {
	v := New(clock.NewFakeClock(now), zap.NewNop())
	ds := dataset(
		[]domain.UserRecord{{UserID: 1, Email: "a@x.com"}},
		[]domain.SubscriptionEvent{event("s1", 1, now.AddDate(0, -1, 0))},
	)

	report, err := v.Validate(ds)
	require.NoError(t, err)
	assert.True(t, report.OK(), "unexpected issues: %v", report.Strings())
}

func TestValidate_OrphanedSubscription(t *testing.T) {
	v := New(clock.NewFakeClock(now), zap.NewNop())
	ds := dataset(
		[]domain.UserRecord{{UserID: 1, Email: "a@x.com"}},
		[]domain.SubscriptionEvent{
			event("s1", 1, now.AddDate(0, -1, 0)),
			event("s2", 99, now.AddDate(0, -1, 0)),
		},
	)

	report, err := v.Validate(ds)
	require.NoError(t, err)
	orphans := report.Find(domain.IssueOrphanedRows)
	require.Len(t, orphans, 1)
	assert.Equal(t, 1, orphans[0].Count)
	assert.Len(t, report.Issues, 1)
	assert.Len(t, ds.Subscriptions.Rows, 2, "validator must not filter")
}

func TestValidate_ReportsEveryCheck(t *testing.T) {
	v := New(clock.NewFakeClock(now), zap.NewNop(), WithMinDate(time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)))
	noUser := event("s3", 0, now.AddDate(0, 0, -3))
	noUser.MissingUserID = true
	bad := event("s4", 1, now)
	bad.EventType = "pause"
	bad.PlanID = "gold"
	ds := dataset(
		[]domain.UserRecord{{UserID: 1}, {UserID: 1, Email: "b@x.com"}},
		[]domain.SubscriptionEvent{
			event("s1", 1, now.AddDate(0, 0, 3)),
			event("s1", 1, time.Date(2019, 5, 1, 0, 0, 0, 0, time.UTC)),
			noUser,
			bad,
		},
	)

	report, err := v.Validate(ds)
	require.NoError(t, err)

	assert.Equal(t, []string{
		"users.email: 1 nulls",
		"subscriptions.user_id: 1 nulls",
		"users: 2 duplicate records found",
		"subscriptions: 2 duplicate records found",
		"1 invalid event types",
		"1 invalid plan ids",
		"Found 1 subscriptions with no matching user (0 distinct user_id)",
		"Found 1 subscriptions with future dates",
		"1 records before 2020-01-01",
	}, report.Strings())
}

func TestValidate_UserZeroIsNotNull(t *testing.T) {
	v := New(clock.NewFakeClock(now), zap.NewNop())
	ds := dataset(
		[]domain.UserRecord{{UserID: 0, Email: "zero@x.com"}},
		[]domain.SubscriptionEvent{event("s1", 0, now.AddDate(0, -1, 0))},
	)

	report, err := v.Validate(ds)
	require.NoError(t, err)
	assert.True(t, report.OK(), "unexpected issues: %v", report.Strings())
}

func TestValidate_MissingColumnsIsFatal(t *testing.T) {
	v := New(clock.NewFakeClock(now), zap.NewNop())
	ds := dataset(nil, nil)
	ds.Subscriptions.Columns = []string{domain.FieldSubscriptionID, domain.FieldUserID}

	_, err := v.Validate(ds)
	require.Error(t, err)

	var schemaErr *domain.SchemaError
	require.True(t, errors.As(err, &schemaErr))
	assert.Equal(t, []string{domain.FieldPlanID, domain.FieldEventType, domain.FieldEventDate}, schemaErr.Missing)
	assert.ErrorIs(t, err, domain.ErrSchema)
}

func TestCheckRaw(t *testing.T) {
	v := New(nil, nil)
	users := domain.RawTable{Name: domain.TableUsers, Columns: []string{"user_id", "email"}}
	subs := domain.RawTable{Name: domain.TableSubscriptions, Columns: domain.SubscriptionColumns}

	err := v.CheckRaw(users, subs)
	assert.ErrorIs(t, err, domain.ErrSchema)
	assert.EqualError(t, err, "users missing columns: [signup_date]")

	users.Columns = domain.UserColumns
	assert.NoError(t, v.CheckRaw(users, subs))
}
