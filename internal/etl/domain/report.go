package domain

// IssueKind classifies a data-quality finding.
type IssueKind string

const (
	IssueNullValues        IssueKind = "null_values"
	IssueDuplicateKeys     IssueKind = "duplicate_keys"
	IssueOrphanedRows      IssueKind = "orphaned_subscriptions"
	IssueFutureDates       IssueKind = "future_dates"
	IssueDatesBeforeMin    IssueKind = "dates_before_min"
	IssueInvalidEventTypes IssueKind = "invalid_event_types"
	IssueInvalidPlans      IssueKind = "invalid_plans"
)

// Issue is one human-readable data-quality finding.
type Issue struct {
	Kind    IssueKind
	Table   string
	Count   int
	Message string
}

func (i Issue) String() string { return i.Message }

// ValidationReport is the ordered list of findings from one validation pass.
type ValidationReport struct {
	Issues []Issue
}

func (r *ValidationReport) Add(issue Issue) {
	r.Issues = append(r.Issues, issue)
}

func (r ValidationReport) OK() bool { return len(r.Issues) == 0 }

func (r ValidationReport) Strings() []string {
	out := make([]string, 0, len(r.Issues))
	for _, i := range r.Issues {
		out = append(out, i.Message)
	}
	return out
}

// Find returns the issues of the given kind.
func (r ValidationReport) Find(kind IssueKind) []Issue {
	var out []Issue
	for _, i := range r.Issues {
		if i.Kind == kind {
			out = append(out, i)
		}
	}
	return out
}
