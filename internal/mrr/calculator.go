// Package mrr derives monthly recurring revenue and integer date keys for
// cleaned subscription events.
package mrr

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/saaswarehouse/internal/etl/domain"
	"go.uber.org/zap"
)

type Calculator struct {
	pricing domain.PlanPricing
	log     *zap.Logger
}

// NewCalculator binds the calculator to an explicit price list.
func NewCalculator(pricing domain.PlanPricing, log *zap.Logger) *Calculator {
	if log == nil {
		log = zap.NewNop()
	}
	return &Calculator{pricing: pricing, log: log.Named("mrr")}
}

// CalculateMRR sets mrr_amount on every event: zero for cancellations and
// the plan's monthly price otherwise. The input table is left untouched.
func (c *Calculator) CalculateMRR(subs domain.Table[domain.SubscriptionEvent]) (domain.Table[domain.SubscriptionEvent], error) {
	rows := make([]domain.SubscriptionEvent, len(subs.Rows))
	for i, ev := range subs.Rows {
		price, err := c.pricing.Price(ev.PlanID)
		if err != nil {
			return domain.Table[domain.SubscriptionEvent]{}, err
		}
		if ev.EventType == domain.EventCancel {
			price = decimal.Zero
		}
		ev.MRRAmount = price
		rows[i] = ev
	}

	out := subs.WithRows(rows, domain.FieldMRRAmount)
	c.log.Info("mrr calculated",
		zap.Int("events", len(rows)),
		zap.String("total_mrr", TotalMRR(out).StringFixed(2)),
	)
	return out, nil
}

// TotalMRR sums mrr_amount across non-cancel events.
func TotalMRR(subs domain.Table[domain.SubscriptionEvent]) decimal.Decimal {
	total := decimal.Zero
	for _, ev := range subs.Rows {
		if ev.EventType != domain.EventCancel {
			total = total.Add(ev.MRRAmount)
		}
	}
	return total
}

// PlanBreakdown is the non-cancel event count and MRR for one plan.
type PlanBreakdown struct {
	PlanID   domain.PlanID
	Events   int
	TotalMRR decimal.Decimal
}

// BreakdownByPlan groups non-cancel MRR by plan, ordered by plan id.
func (c *Calculator) BreakdownByPlan(subs domain.Table[domain.SubscriptionEvent]) []PlanBreakdown {
	byPlan := make(map[domain.PlanID]*PlanBreakdown)
	for _, ev := range subs.Rows {
		if ev.EventType == domain.EventCancel {
			continue
		}
		b, ok := byPlan[ev.PlanID]
		if !ok {
			b = &PlanBreakdown{PlanID: ev.PlanID, TotalMRR: decimal.Zero}
			byPlan[ev.PlanID] = b
		}
		b.Events++
		b.TotalMRR = b.TotalMRR.Add(ev.MRRAmount)
	}

	out := make([]PlanBreakdown, 0, len(byPlan))
	for _, plan := range c.pricing.Plans() {
		if b, ok := byPlan[plan]; ok {
			out = append(out, *b)
		}
	}
	return out
}

// DateKey encodes a calendar date as the integer YYYYMMDD.
func DateKey(t time.Time) int {
	return t.Year()*10000 + int(t.Month())*100 + t.Day()
}

// Dated is implemented by records that expose named date fields and can
// carry a derived date key.
type Dated[T any] interface {
	DateValue(field string) (time.Time, bool)
	WithDateKey(key int) T
}

// EnrichWithDateKey derives date_key from field for every row. A field the
// record does not carry, or an empty date, is a MalformedDateError.
func EnrichWithDateKey[T Dated[T]](table domain.Table[T], field string) (domain.Table[T], error) {
	if len(table.Rows) > 0 && !table.HasColumn(field) {
		return domain.Table[T]{}, &domain.MalformedDateError{Table: table.Name, Field: field, Row: -1}
	}
	rows := make([]T, len(table.Rows))
	for i, row := range table.Rows {
		t, ok := row.DateValue(field)
		if !ok {
			return domain.Table[T]{}, &domain.MalformedDateError{Table: table.Name, Field: field, Row: i}
		}
		rows[i] = row.WithDateKey(DateKey(t))
	}
	return table.WithRows(rows, domain.FieldDateKey), nil
}
