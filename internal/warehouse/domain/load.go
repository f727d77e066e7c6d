package domain

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	etldomain "github.com/smallbiznis/saaswarehouse/internal/etl/domain"
)

// FactLoadMode selects how fact inserts treat data already in the warehouse.
type FactLoadMode string

const (
	// FactLoadAppend inserts every resolvable row. Re-running over
	// overlapping input double counts.
	FactLoadAppend FactLoadMode = "append"
	// FactLoadStrict refuses the load when fact rows already exist inside
	// the batch's date_key window.
	FactLoadStrict FactLoadMode = "strict"
)

func ParseFactLoadMode(v string) (FactLoadMode, error) {
	switch FactLoadMode(strings.ToLower(strings.TrimSpace(v))) {
	case FactLoadAppend, "":
		return FactLoadAppend, nil
	case FactLoadStrict:
		return FactLoadStrict, nil
	default:
		return "", fmt.Errorf("unsupported fact load mode %q", v)
	}
}

// State is the position of a load session in its lifecycle.
type State int

const (
	StateDisconnected State = iota
	StateConnected
	StateUsersLoaded
	StateSubscriptionsLoaded
	StateVerified
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnected:
		return "connected"
	case StateUsersLoaded:
		return "users_loaded"
	case StateSubscriptionsLoaded:
		return "subscriptions_loaded"
	case StateVerified:
		return "verified"
	default:
		return "unknown"
	}
}

type UserLoadResult struct {
	Upserted int
}

type SubscriptionLoadResult struct {
	Inserted int
	// Outcomes holds one entry per input event; unresolved rows carry
	// DropUnresolvedUserKey or DropUnresolvedPlanKey.
	Outcomes etldomain.Outcomes
}

func (r SubscriptionLoadResult) MissingUserKeys() int {
	return r.Outcomes.DroppedBy()[etldomain.DropUnresolvedUserKey]
}

func (r SubscriptionLoadResult) MissingPlanKeys() int {
	return r.Outcomes.DroppedBy()[etldomain.DropUnresolvedPlanKey]
}

type TableCount struct {
	Table string
	Rows  int64
}

// Verification is the post-load reconciliation of the fact table.
type Verification struct {
	OrphanedUserFacts int64
	OrphanedPlanFacts int64
	MissingDateFacts  int64
	ActiveUsers       int64
	TotalMRR          decimal.Decimal
}

// Clean reports whether every fact row resolves to its dimensions.
func (v Verification) Clean() bool {
	return v.OrphanedUserFacts == 0 && v.OrphanedPlanFacts == 0 && v.MissingDateFacts == 0
}
