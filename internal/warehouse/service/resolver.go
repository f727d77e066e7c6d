package service

import (
	"context"

	etldomain "github.com/smallbiznis/saaswarehouse/internal/etl/domain"
	"github.com/smallbiznis/saaswarehouse/internal/warehouse/domain"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// KeyResolver maps natural keys to warehouse surrogate keys. Each call
// issues exactly one query for the full set of distinct keys it is given.
type KeyResolver struct {
	repo domain.Repository
	log  *zap.Logger
}

func NewKeyResolver(repo domain.Repository, log *zap.Logger) *KeyResolver {
	return &KeyResolver{
		repo: repo,
		log:  log.Named("warehouse.resolver"),
	}
}

// UserKeys resolves the user_key of every distinct user referenced by
// events. Unmatched user ids are absent from the result.
func (r *KeyResolver) UserKeys(ctx context.Context, db *gorm.DB, events []etldomain.SubscriptionEvent) (map[int64]int64, error) {
	ids := distinct(events, func(e etldomain.SubscriptionEvent) (int64, bool) { return e.UserID, !e.MissingUserID })
	keys, err := r.repo.FindUserKeys(ctx, db, ids)
	if err != nil {
		return nil, err
	}
	r.log.Debug("resolved user keys", zap.Int("requested", len(ids)), zap.Int("resolved", len(keys)))
	return keys, nil
}

// PlanKeys resolves the plan_key of every distinct plan referenced by events.
func (r *KeyResolver) PlanKeys(ctx context.Context, db *gorm.DB, events []etldomain.SubscriptionEvent) (map[string]int64, error) {
	ids := distinct(events, func(e etldomain.SubscriptionEvent) (string, bool) { return string(e.PlanID), e.PlanID != "" })
	keys, err := r.repo.FindPlanKeys(ctx, db, ids)
	if err != nil {
		return nil, err
	}
	r.log.Debug("resolved plan keys", zap.Int("requested", len(ids)), zap.Int("resolved", len(keys)))
	return keys, nil
}

// distinct returns the present keys of rows in first-seen order.
func distinct[T any, K comparable](rows []T, key func(T) (K, bool)) []K {
	seen := make(map[K]struct{}, len(rows))
	out := make([]K, 0, len(rows))
	for _, row := range rows {
		k, ok := key(row)
		if !ok {
			continue
		}
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	return out
}
