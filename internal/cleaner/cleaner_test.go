package cleaner

import (
	"errors"
	"testing"
	"time"

	"github.com/smallbiznis/saaswarehouse/internal/etl/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func usersTable(rows ...domain.RawRow) domain.RawTable {
	return domain.RawTable{Name: domain.TableUsers, Columns: domain.UserColumns, Rows: rows}
}

func subsTable(rows ...domain.RawRow) domain.RawTable {
	return domain.RawTable{Name: domain.TableSubscriptions, Columns: domain.SubscriptionColumns, Rows: rows}
}

func TestCleanUsers_NormalizesRecord(t *testing.T) {
	c := New(zap.NewNop())

	res, err := c.CleanUsers(usersTable(domain.RawRow{
		"user_id":     "1",
		"email":       " A@X.COM ",
		"signup_date": "2023-01-01",
	}))
	require.NoError(t, err)
	require.Len(t, res.Table.Rows, 1)

	u := res.Table.Rows[0]
	assert.Equal(t, int64(1), u.UserID)
	assert.Equal(t, "a@x.com", u.Email)
	assert.Equal(t, time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC), u.SignupDate)
	assert.Equal(t, domain.Unknown, u.CompanySize)
	assert.Equal(t, domain.Unknown, u.Industry)
	assert.Equal(t, 1, res.Outcomes.Kept())
}

func TestCleanUsers_FirstOccurrenceWins(t *testing.T) {
	c := New(zap.NewNop())

	res, err := c.CleanUsers(usersTable(
		domain.RawRow{"user_id": "7", "email": "first@x.com", "signup_date": "2023-01-01", "industry": "saas"},
		domain.RawRow{"user_id": "8", "email": "other@x.com", "signup_date": "2023-01-02"},
		domain.RawRow{"user_id": "7", "email": "second@x.com", "signup_date": "not-a-date"},
	))
	require.NoError(t, err, "duplicates are removed before their dates are parsed")
	require.Len(t, res.Table.Rows, 2)
	assert.Equal(t, "first@x.com", res.Table.Rows[0].Email)
	assert.Equal(t, "saas", res.Table.Rows[0].Industry)
	assert.Equal(t, int64(8), res.Table.Rows[1].UserID)

	require.Len(t, res.Outcomes, 3)
	assert.False(t, res.Outcomes[2].Keep)
	assert.Equal(t, domain.DropDuplicateKey, res.Outcomes[2].Reason)
	assert.Equal(t, map[domain.DropReason]int{domain.DropDuplicateKey: 1}, res.Outcomes.DroppedBy())
}

func TestCleanUsers_MissingIDIsDropped(t *testing.T) {
	c := New(zap.NewNop())

	res, err := c.CleanUsers(usersTable(
		domain.RawRow{"email": "a@x.com", "signup_date": "2023-01-01"},
		domain.RawRow{"user_id": "2.0", "email": "b@x.com", "signup_date": "2023-01-01"},
	))
	require.NoError(t, err)
	require.Len(t, res.Table.Rows, 1)
	assert.Equal(t, int64(2), res.Table.Rows[0].UserID)
	assert.Equal(t, domain.DropMissingKey, res.Outcomes[0].Reason)
}

func TestCleanUsers_MalformedDate(t *testing.T) {
	c := New(zap.NewNop())

	_, err := c.CleanUsers(usersTable(
		domain.RawRow{"user_id": "1", "email": "a@x.com", "signup_date": "2023-01-01"},
		domain.RawRow{"user_id": "2", "email": "b@x.com", "signup_date": "31/31/2023"},
	))
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrMalformedDate))

	var dateErr *domain.MalformedDateError
	require.True(t, errors.As(err, &dateErr))
	assert.Equal(t, 1, dateErr.Row)
	assert.Equal(t, domain.FieldSignupDate, dateErr.Field)
	assert.Equal(t, "31/31/2023", dateErr.Value)
}

func TestCleanUsers_DoesNotMutateInput(t *testing.T) {
	c := New(zap.NewNop())
	raw := usersTable(domain.RawRow{"user_id": "1", "email": "A@X.COM", "signup_date": "2023-01-01"})

	_, err := c.CleanUsers(raw)
	require.NoError(t, err)
	assert.Equal(t, "A@X.COM", raw.Rows[0]["email"])
	assert.Equal(t, domain.UserColumns, raw.Columns)
}

func TestCleanSubscriptions_Whitelists(t *testing.T) {
	c := New(zap.NewNop())

	res, err := c.CleanSubscriptions(subsTable(
		domain.RawRow{"subscription_id": "s1", "user_id": "1", "plan_id": "pro", "event_type": "signup", "event_date": "2023-01-02"},
		domain.RawRow{"subscription_id": "s2", "user_id": "1", "plan_id": "pro", "event_type": "pause", "event_date": "2023-01-03"},
		domain.RawRow{"subscription_id": "s3", "user_id": "1", "plan_id": "gold", "event_type": "upgrade", "event_date": "2023-01-04"},
		domain.RawRow{"subscription_id": "s1", "user_id": "2", "plan_id": "free", "event_type": "signup", "event_date": "2023-01-05"},
		domain.RawRow{"subscription_id": "s4", "user_id": "1", "plan_id": "enterprise", "event_type": "cancel", "event_date": "2023-02-01T10:30:00Z"},
	))
	require.NoError(t, err)
	require.Len(t, res.Table.Rows, 2)
	assert.Equal(t, "s1", res.Table.Rows[0].SubscriptionID)
	assert.Equal(t, int64(1), res.Table.Rows[0].UserID)
	assert.Equal(t, "s4", res.Table.Rows[1].SubscriptionID)
	assert.Equal(t, time.Date(2023, 2, 1, 10, 30, 0, 0, time.UTC), res.Table.Rows[1].EventDate)

	assert.Equal(t, map[domain.DropReason]int{
		domain.DropInvalidEventType: 1,
		domain.DropInvalidPlan:      1,
		domain.DropDuplicateKey:     1,
	}, res.Outcomes.DroppedBy())
}

func TestCleanSubscriptions_MalformedDate(t *testing.T) {
	c := New(zap.NewNop())

	_, err := c.CleanSubscriptions(subsTable(
		domain.RawRow{"subscription_id": "s1", "user_id": "1", "plan_id": "gold", "event_type": "signup", "event_date": "yesterday"},
	))
	assert.ErrorIs(t, err, domain.ErrMalformedDate)
}

func TestCleanSubscriptions_MissingUserKeptForOrphanFiltering(t *testing.T) {
	c := New(zap.NewNop())

	res, err := c.CleanSubscriptions(subsTable(
		domain.RawRow{"subscription_id": "s1", "plan_id": "free", "event_type": "signup", "event_date": "2023-01-02"},
	))
	require.NoError(t, err)
	require.Len(t, res.Table.Rows, 1)
	assert.Zero(t, res.Table.Rows[0].UserID)
	assert.True(t, res.Table.Rows[0].MissingUserID)
}

func TestCleanSubscriptions_UserZeroIsAKey(t *testing.T) {
	c := New(zap.NewNop())

	res, err := c.CleanSubscriptions(subsTable(
		domain.RawRow{"subscription_id": "s1", "user_id": "0", "plan_id": "free", "event_type": "signup", "event_date": "2023-01-02"},
	))
	require.NoError(t, err)
	require.Len(t, res.Table.Rows, 1)
	assert.Zero(t, res.Table.Rows[0].UserID)
	assert.False(t, res.Table.Rows[0].MissingUserID)
}

func TestParseID(t *testing.T) {
	cases := []struct {
		in   string
		want int64
		ok   bool
	}{
		{"42", 42, true},
		{"0", 0, true},
		{"12.0", 12, true},
		{"1e3", 1000, true},
		{"12.5", 0, false},
		{"", 0, false},
		{"abc", 0, false},
		{"1e19", 0, false},
		{"2e19", 0, false},
		{"-1e19", 0, false},
		{"9.223372036854775807e18", 0, false},
	}
	for _, tc := range cases {
		got, ok := parseID(tc.in)
		assert.Equal(t, tc.ok, ok, tc.in)
		assert.Equal(t, tc.want, got, tc.in)
	}
}

func TestCleanUsers_OutOfRangeIDsAreDroppedNotMerged(t *testing.T) {
	c := New(zap.NewNop())

	res, err := c.CleanUsers(usersTable(
		domain.RawRow{"user_id": "1e19", "email": "a@x.com", "signup_date": "2023-01-01"},
		domain.RawRow{"user_id": "2e19", "email": "b@x.com", "signup_date": "2023-01-01"},
	))
	require.NoError(t, err)
	assert.Empty(t, res.Table.Rows)
	assert.Equal(t, 2, res.Outcomes.DroppedBy()[domain.DropMissingKey])
	assert.Zero(t, res.Outcomes.DroppedBy()[domain.DropDuplicateKey])
}

func TestParseDate_KeepsSourceOffset(t *testing.T) {
	got, err := ParseDate("2023-01-01T23:30:00-05:00")
	require.NoError(t, err)
	y, m, d := got.Date()
	assert.Equal(t, 2023, y)
	assert.Equal(t, time.January, m)
	assert.Equal(t, 1, d)
	assert.True(t, got.Equal(time.Date(2023, 1, 2, 4, 30, 0, 0, time.UTC)))

	plain, err := ParseDate("2023-01-01 23:30:00")
	require.NoError(t, err)
	assert.Equal(t, time.UTC, plain.Location())
}

func TestClean_Idempotent(t *testing.T) {
	c := New(zap.NewNop())

	users, err := c.CleanUsers(usersTable(
		domain.RawRow{"user_id": "1", "email": "A@X.COM", "signup_date": "2023-01-01", "company_size": "11-50"},
		domain.RawRow{"user_id": "1", "email": "dup@x.com", "signup_date": "2023-01-01"},
		domain.RawRow{"user_id": "2", "email": "b@x.com", "signup_date": "2023-03-05"},
	))
	require.NoError(t, err)
	again, err := c.CleanUsers(RawUsers(users.Table))
	require.NoError(t, err)
	assert.Equal(t, users.Table.Rows, again.Table.Rows)
	assert.Zero(t, again.Outcomes.Dropped())

	subs, err := c.CleanSubscriptions(subsTable(
		domain.RawRow{"subscription_id": "s1", "user_id": "1", "plan_id": "pro", "event_type": "signup", "event_date": "2023-01-02"},
		domain.RawRow{"subscription_id": "s2", "user_id": "2", "plan_id": "free", "event_type": "cancel", "event_date": "2023-01-03T08:00:00Z"},
		domain.RawRow{"subscription_id": "s2", "user_id": "2", "plan_id": "free", "event_type": "cancel", "event_date": "2023-01-03"},
	))
	require.NoError(t, err)
	subsAgain, err := c.CleanSubscriptions(RawSubscriptions(subs.Table))
	require.NoError(t, err)
	assert.Equal(t, subs.Table.Rows, subsAgain.Table.Rows)
	assert.Zero(t, subsAgain.Outcomes.Dropped())
}
