package domain

import (
	"sort"

	"github.com/shopspring/decimal"
)

// PlanPricing maps each plan to its monthly price.
type PlanPricing map[PlanID]decimal.Decimal

// DefaultPlanPricing returns the list prices used when no pricing file is configured.
func DefaultPlanPricing() PlanPricing {
	return PlanPricing{
		PlanFree:       decimal.RequireFromString("0.00"),
		PlanPro:        decimal.RequireFromString("29.00"),
		PlanEnterprise: decimal.RequireFromString("99.00"),
	}
}

// Price returns the monthly price for plan or an *UnknownPlanError.
func (p PlanPricing) Price(plan PlanID) (decimal.Decimal, error) {
	price, ok := p[plan]
	if !ok {
		return decimal.Zero, &UnknownPlanError{PlanID: string(plan)}
	}
	return price, nil
}

// Plans returns the priced plan ids in a stable order.
func (p PlanPricing) Plans() []PlanID {
	plans := make([]PlanID, 0, len(p))
	for plan := range p {
		plans = append(plans, plan)
	}
	sort.Slice(plans, func(i, j int) bool { return plans[i] < plans[j] })
	return plans
}
