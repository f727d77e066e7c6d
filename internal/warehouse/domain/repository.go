package domain

import (
	"context"

	"gorm.io/gorm"
)

type Repository interface {
	UpsertUsers(ctx context.Context, db *gorm.DB, users []DimUser) error
	InsertFacts(ctx context.Context, db *gorm.DB, facts []FactSubscription) error
	FindUserKeys(ctx context.Context, db *gorm.DB, userIDs []int64) (map[int64]int64, error)
	FindPlanKeys(ctx context.Context, db *gorm.DB, planIDs []string) (map[string]int64, error)
	CountFactsInWindow(ctx context.Context, db *gorm.DB, fromKey, toKey int) (int64, error)
	Verify(ctx context.Context, db *gorm.DB, cancelEvent string) (Verification, error)
	TableCounts(ctx context.Context, db *gorm.DB) ([]TableCount, error)
	ClearAll(ctx context.Context, db *gorm.DB) error
	ServerVersion(ctx context.Context, db *gorm.DB) (string, error)
}
