package repository

import (
	"context"
	"testing"
	"time"

	"github.com/smallbiznis/saaswarehouse/internal/warehouse/domain"
	"github.com/smallbiznis/saaswarehouse/pkg/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func newWarehouse(t *testing.T) *gorm.DB {
	t.Helper()

	conn, err := db.NewTest()
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(&domain.DimUser{}, &domain.DimPlan{}))
	t.Cleanup(func() {
		if sqlDB, err := conn.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return conn
}

// SQLite caps bound variables at 32766; the key set must not count
// against it.
func TestFindUserKeysAboveBindVariableLimit(t *testing.T) {
	conn := newWarehouse(t)
	r := New(500)
	ctx := context.Background()

	const n = 40000
	signup := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	users := make([]domain.DimUser, 0, n)
	ids := make([]int64, 0, n)
	for i := 0; i < n; i++ {
		users = append(users, domain.DimUser{UserID: int64(i), Email: "u@x.com", SignupDate: signup, UpdatedAt: signup})
		ids = append(ids, int64(i))
	}
	require.NoError(t, r.UpsertUsers(ctx, conn, users))

	keys, err := r.FindUserKeys(ctx, conn, append(ids, -1))
	require.NoError(t, err)
	assert.Len(t, keys, n)
	assert.Contains(t, keys, int64(0))
	assert.NotContains(t, keys, int64(-1))
}

func TestFindPlanKeysOnSQLite(t *testing.T) {
	conn := newWarehouse(t)
	require.NoError(t, conn.Create(&[]domain.DimPlan{{PlanID: "free"}, {PlanID: "pro"}}).Error)

	keys, err := New(500).FindPlanKeys(context.Background(), conn, []string{"pro", "gold", "free"})
	require.NoError(t, err)
	assert.Len(t, keys, 2)
	assert.Contains(t, keys, "pro")
	assert.Contains(t, keys, "free")
}
