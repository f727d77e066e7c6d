package domain

import "sort"

// DropReason names why a row was excluded from a stage's output.
type DropReason string

const (
	DropDuplicateKey      DropReason = "duplicate_key"
	DropMissingKey        DropReason = "missing_key"
	DropInvalidEventType  DropReason = "invalid_event_type"
	DropInvalidPlan       DropReason = "invalid_plan"
	DropOrphanedUser      DropReason = "orphaned_user"
	DropUnresolvedUserKey DropReason = "unresolved_user_key"
	DropUnresolvedPlanKey DropReason = "unresolved_plan_key"
)

// RowOutcome records the keep/drop decision for one input row.
type RowOutcome struct {
	Row    int
	Key    string
	Keep   bool
	Reason DropReason
}

// Outcomes is the per-row decision log of a filtering stage, in input order.
type Outcomes []RowOutcome

func (o Outcomes) Kept() int {
	n := 0
	for _, r := range o {
		if r.Keep {
			n++
		}
	}
	return n
}

func (o Outcomes) Dropped() int { return len(o) - o.Kept() }

// DroppedBy counts dropped rows per reason.
func (o Outcomes) DroppedBy() map[DropReason]int {
	counts := make(map[DropReason]int)
	for _, r := range o {
		if !r.Keep {
			counts[r.Reason]++
		}
	}
	return counts
}

// Reasons returns the drop reasons present, sorted.
func (o Outcomes) Reasons() []DropReason {
	counts := o.DroppedBy()
	reasons := make([]DropReason, 0, len(counts))
	for r := range counts {
		reasons = append(reasons, r)
	}
	sort.Slice(reasons, func(i, j int) bool { return reasons[i] < reasons[j] })
	return reasons
}
