package service

import (
	"context"
	"fmt"

	"github.com/smallbiznis/saaswarehouse/internal/clock"
	etldomain "github.com/smallbiznis/saaswarehouse/internal/etl/domain"
	"github.com/smallbiznis/saaswarehouse/internal/mrr"
	"github.com/smallbiznis/saaswarehouse/internal/warehouse/domain"
	"github.com/smallbiznis/saaswarehouse/pkg/db"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Session is one connected load run. It is not safe for concurrent use.
type Session struct {
	handle   *db.Handle
	repo     domain.Repository
	resolver *KeyResolver
	clock    clock.Clock
	log      *zap.Logger
	mode     domain.FactLoadMode
	state    domain.State
}

func (s *Session) State() domain.State { return s.state }

// DB exposes the session handle for maintenance tasks.
func (s *Session) DB() (*gorm.DB, error) {
	if err := s.requireConnected("db"); err != nil {
		return nil, err
	}
	return s.handle.DB, nil
}

func (s *Session) requireConnected(op string) error {
	if s.state == domain.StateDisconnected {
		return fmt.Errorf("%w: %s while %s", etldomain.ErrInvalidState, op, s.state)
	}
	return nil
}

func (s *Session) advance(to domain.State) {
	if to > s.state {
		s.state = to
	}
}

// LoadUsers upserts users into dim_users inside one transaction. Existing
// rows keep their user_key and signup_date.
func (s *Session) LoadUsers(ctx context.Context, users etldomain.Table[etldomain.UserRecord]) (domain.UserLoadResult, error) {
	if err := s.requireConnected("load users"); err != nil {
		return domain.UserLoadResult{}, err
	}

	now := s.clock.Now()
	rows := make([]domain.DimUser, 0, users.Len())
	for _, u := range users.Rows {
		rows = append(rows, domain.DimUser{
			UserID:      u.UserID,
			Email:       u.Email,
			SignupDate:  u.SignupDate,
			CompanySize: u.CompanySize,
			Industry:    u.Industry,
			UpdatedAt:   now,
		})
	}

	err := s.handle.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return s.repo.UpsertUsers(ctx, tx, rows)
	})
	if err != nil {
		s.log.Error("user load rolled back", zap.Int("rows", len(rows)), zap.Error(err))
		return domain.UserLoadResult{}, fmt.Errorf("load users: %w", err)
	}

	s.advance(domain.StateUsersLoaded)
	s.log.Info("loaded users", zap.Int("upserted", len(rows)))
	return domain.UserLoadResult{Upserted: len(rows)}, nil
}

// LoadSubscriptions resolves surrogate keys and appends fact rows inside
// one transaction. Rows whose user or plan key cannot be resolved are
// excluded and reported in the result outcomes.
func (s *Session) LoadSubscriptions(ctx context.Context, subs etldomain.Table[etldomain.SubscriptionEvent]) (domain.SubscriptionLoadResult, error) {
	if err := s.requireConnected("load subscriptions"); err != nil {
		return domain.SubscriptionLoadResult{}, err
	}

	var result domain.SubscriptionLoadResult
	err := s.handle.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		userKeys, err := s.resolver.UserKeys(ctx, tx, subs.Rows)
		if err != nil {
			return fmt.Errorf("resolve user keys: %w", err)
		}
		planKeys, err := s.resolver.PlanKeys(ctx, tx, subs.Rows)
		if err != nil {
			return fmt.Errorf("resolve plan keys: %w", err)
		}

		facts, outcomes := buildFacts(subs.Rows, userKeys, planKeys)
		if s.mode == domain.FactLoadStrict {
			if err := s.checkWindow(ctx, tx, facts); err != nil {
				return err
			}
		}

		if err := s.repo.InsertFacts(ctx, tx, facts); err != nil {
			if db.IsDuplicateKeyErr(err) {
				return fmt.Errorf("%w: %v", etldomain.ErrFactOverlap, err)
			}
			return fmt.Errorf("insert facts: %w", err)
		}

		result = domain.SubscriptionLoadResult{Inserted: len(facts), Outcomes: outcomes}
		return nil
	})
	if err != nil {
		s.log.Error("subscription load rolled back", zap.Int("rows", subs.Len()), zap.Error(err))
		return domain.SubscriptionLoadResult{}, fmt.Errorf("load subscriptions: %w", err)
	}

	if missingUsers, missingPlans := result.MissingUserKeys(), result.MissingPlanKeys(); missingUsers+missingPlans > 0 {
		s.log.Warn("skipped subscriptions with unresolved keys",
			zap.Int("missing_user_keys", missingUsers),
			zap.Int("missing_plan_keys", missingPlans),
		)
	}
	s.advance(domain.StateSubscriptionsLoaded)
	s.log.Info("loaded subscriptions", zap.Int("inserted", result.Inserted), zap.String("mode", string(s.mode)))
	return result, nil
}

func buildFacts(events []etldomain.SubscriptionEvent, userKeys map[int64]int64, planKeys map[string]int64) ([]domain.FactSubscription, etldomain.Outcomes) {
	facts := make([]domain.FactSubscription, 0, len(events))
	outcomes := make(etldomain.Outcomes, 0, len(events))
	for i, e := range events {
		outcome := etldomain.RowOutcome{Row: i, Key: e.SubscriptionID}

		userKey, okUser := userKeys[e.UserID]
		planKey, okPlan := planKeys[string(e.PlanID)]
		switch {
		case e.MissingUserID || !okUser:
			outcome.Reason = etldomain.DropUnresolvedUserKey
		case !okPlan:
			outcome.Reason = etldomain.DropUnresolvedPlanKey
		default:
			outcome.Keep = true
			dateKey := e.DateKey
			if dateKey == 0 {
				dateKey = mrr.DateKey(e.EventDate)
			}
			facts = append(facts, domain.FactSubscription{
				UserKey:   userKey,
				PlanKey:   planKey,
				DateKey:   dateKey,
				EventType: string(e.EventType),
				MRRAmount: e.MRRAmount,
			})
		}
		outcomes = append(outcomes, outcome)
	}
	return facts, outcomes
}

func (s *Session) checkWindow(ctx context.Context, tx *gorm.DB, facts []domain.FactSubscription) error {
	if len(facts) == 0 {
		return nil
	}
	from, to := facts[0].DateKey, facts[0].DateKey
	for _, f := range facts[1:] {
		from = min(from, f.DateKey)
		to = max(to, f.DateKey)
	}

	existing, err := s.repo.CountFactsInWindow(ctx, tx, from, to)
	if err != nil {
		return fmt.Errorf("count facts in window: %w", err)
	}
	if existing > 0 {
		return fmt.Errorf("%w: %d fact rows already between %d and %d", etldomain.ErrFactOverlap, existing, from, to)
	}
	return nil
}

// Statistics returns the row count of every warehouse table.
func (s *Session) Statistics(ctx context.Context) ([]domain.TableCount, error) {
	if err := s.requireConnected("statistics"); err != nil {
		return nil, err
	}
	return s.repo.TableCounts(ctx, s.handle.DB)
}

// Verify reconciles the fact table against its dimensions. Orphaned
// facts are logged as warnings; they never fail the run.
func (s *Session) Verify(ctx context.Context) (domain.Verification, error) {
	if err := s.requireConnected("verify"); err != nil {
		return domain.Verification{}, err
	}

	v, err := s.repo.Verify(ctx, s.handle.DB, string(etldomain.EventCancel))
	if err != nil {
		return domain.Verification{}, fmt.Errorf("verify: %w", err)
	}

	if v.OrphanedUserFacts > 0 {
		s.log.Warn("fact rows without user dimension", zap.Int64("count", v.OrphanedUserFacts))
	}
	if v.OrphanedPlanFacts > 0 {
		s.log.Warn("fact rows without plan dimension", zap.Int64("count", v.OrphanedPlanFacts))
	}
	if v.MissingDateFacts > 0 {
		s.log.Warn("fact rows without date dimension", zap.Int64("count", v.MissingDateFacts))
	}
	s.log.Info("verified warehouse",
		zap.Int64("active_users", v.ActiveUsers),
		zap.String("total_mrr", v.TotalMRR.StringFixed(2)),
	)

	s.advance(domain.StateVerified)
	return v, nil
}

func (s *Session) ServerVersion(ctx context.Context) (string, error) {
	if err := s.requireConnected("server version"); err != nil {
		return "", err
	}
	return s.repo.ServerVersion(ctx, s.handle.DB)
}

// ClearAll deletes every fact row and every user dimension row.
func (s *Session) ClearAll(ctx context.Context) error {
	if err := s.requireConnected("clear"); err != nil {
		return err
	}
	if err := s.repo.ClearAll(ctx, s.handle.DB); err != nil {
		return fmt.Errorf("clear warehouse: %w", err)
	}
	s.log.Warn("cleared fact_subscriptions and dim_users")
	return nil
}

// Disconnect releases the handle. Calling it more than once is a no-op.
func (s *Session) Disconnect() error {
	if s.state == domain.StateDisconnected {
		return nil
	}
	s.state = domain.StateDisconnected
	return s.handle.Close()
}
