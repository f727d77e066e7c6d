package pipeline

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	etldomain "github.com/smallbiznis/saaswarehouse/internal/etl/domain"
	"github.com/smallbiznis/saaswarehouse/internal/mrr"
	whdomain "github.com/smallbiznis/saaswarehouse/internal/warehouse/domain"
)

const timeLayout = "2006-01-02 15:04:05"

type Counts struct {
	Users         int
	Subscriptions int
	Events        int
}

// Drop counts rows a stage excluded for one reason.
type Drop struct {
	Stage  string
	Reason etldomain.DropReason
	Count  int
}

type TransformSummary struct {
	CleanedUsers         int
	CleanedSubscriptions int
	Drops                []Drop
	TotalMRR             decimal.Decimal
	MRRByPlan            []mrr.PlanBreakdown
	Report               etldomain.ValidationReport
}

func (s *TransformSummary) addDrops(stage string, outcomes etldomain.Outcomes) {
	counts := outcomes.DroppedBy()
	for _, reason := range outcomes.Reasons() {
		s.Drops = append(s.Drops, Drop{Stage: stage, Reason: reason, Count: counts[reason]})
	}
}

// Dropped totals drops for reason across stages.
func (s TransformSummary) Dropped(reason etldomain.DropReason) int {
	n := 0
	for _, d := range s.Drops {
		if d.Reason == reason {
			n += d.Count
		}
	}
	return n
}

type LoadSummary struct {
	UsersUpserted int
	FactsInserted int
	Dropped       map[etldomain.DropReason]int
	Statistics    []whdomain.TableCount
	Verification  whdomain.Verification
}

// Summary is the progress report of one run.
type Summary struct {
	RunID      string
	StartedAt  time.Time
	FinishedAt time.Time
	Duration   time.Duration
	Extracted  Counts
	Transform  TransformSummary
	Load       LoadSummary
	Err        error
}

func (s Summary) Succeeded() bool { return s.Err == nil }

// Write renders the human-readable run report.
func (s Summary) Write(w io.Writer) error {
	rule := strings.Repeat("=", 60)
	b := &strings.Builder{}

	fmt.Fprintln(b, rule)
	fmt.Fprintln(b, "SaaS ETL PIPELINE")
	fmt.Fprintln(b, rule)
	fmt.Fprintf(b, "Run:        %s\n", s.RunID)
	fmt.Fprintf(b, "Started at: %s\n", s.StartedAt.Format(timeLayout))

	fmt.Fprintln(b, "\nEXTRACT")
	fmt.Fprintf(b, "  users: %d  subscriptions: %d  events: %d\n",
		s.Extracted.Users, s.Extracted.Subscriptions, s.Extracted.Events)

	t := s.Transform
	fmt.Fprintln(b, "\nTRANSFORM")
	fmt.Fprintf(b, "  cleaned users: %d  cleaned subscriptions: %d\n", t.CleanedUsers, t.CleanedSubscriptions)
	for _, d := range t.Drops {
		fmt.Fprintf(b, "  dropped %d rows at %s: %s\n", d.Count, d.Stage, d.Reason)
	}
	fmt.Fprintf(b, "  total MRR: $%s\n", t.TotalMRR.StringFixed(2))
	for _, p := range t.MRRByPlan {
		fmt.Fprintf(b, "    %-10s %4d events  $%s\n", p.PlanID, p.Events, p.TotalMRR.StringFixed(2))
	}
	if t.Report.OK() {
		fmt.Fprintln(b, "  all data quality checks passed")
	} else {
		fmt.Fprintf(b, "  %d data quality issues:\n", len(t.Report.Issues))
		for _, issue := range t.Report.Strings() {
			fmt.Fprintf(b, "    - %s\n", issue)
		}
	}

	l := s.Load
	fmt.Fprintln(b, "\nLOAD")
	fmt.Fprintf(b, "  users upserted: %d  facts inserted: %d\n", l.UsersUpserted, l.FactsInserted)
	if n := l.Dropped[etldomain.DropUnresolvedUserKey]; n > 0 {
		fmt.Fprintf(b, "  %d subscriptions with missing user keys (skipped)\n", n)
	}
	if n := l.Dropped[etldomain.DropUnresolvedPlanKey]; n > 0 {
		fmt.Fprintf(b, "  %d subscriptions with missing plan keys (skipped)\n", n)
	}
	for _, c := range l.Statistics {
		fmt.Fprintf(b, "  %s: %d rows\n", c.Table, c.Rows)
	}
	v := l.Verification
	if v.OrphanedUserFacts > 0 {
		fmt.Fprintf(b, "  %d orphaned subscriptions found!\n", v.OrphanedUserFacts)
	}
	if v.OrphanedPlanFacts > 0 {
		fmt.Fprintf(b, "  %d facts without a plan\n", v.OrphanedPlanFacts)
	}
	if v.MissingDateFacts > 0 {
		fmt.Fprintf(b, "  %d facts without a date\n", v.MissingDateFacts)
	}
	fmt.Fprintf(b, "  active users: %d  total MRR: $%s\n", v.ActiveUsers, v.TotalMRR.StringFixed(2))

	fmt.Fprintln(b, "\n"+rule)
	if s.Err != nil {
		fmt.Fprintln(b, "ETL PIPELINE FAILED")
		fmt.Fprintf(b, "Error: %v\n", s.Err)
	} else {
		fmt.Fprintln(b, "ETL PIPELINE COMPLETED SUCCESSFULLY")
	}
	fmt.Fprintln(b, rule)
	fmt.Fprintf(b, "Duration: %.2f seconds\n", s.Duration.Seconds())
	fmt.Fprintf(b, "Finished at: %s\n", s.FinishedAt.Format(timeLayout))

	_, err := io.WriteString(w, b.String())
	return err
}
