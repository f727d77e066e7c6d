// Package pipeline runs one batch: extract, transform, validate and load.
package pipeline

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/saaswarehouse/internal/cleaner"
	"github.com/smallbiznis/saaswarehouse/internal/clock"
	etldomain "github.com/smallbiznis/saaswarehouse/internal/etl/domain"
	"github.com/smallbiznis/saaswarehouse/internal/extract"
	"github.com/smallbiznis/saaswarehouse/internal/mrr"
	"github.com/smallbiznis/saaswarehouse/internal/observability/logger"
	"github.com/smallbiznis/saaswarehouse/internal/observability/metrics"
	"github.com/smallbiznis/saaswarehouse/internal/observability/tracing"
	"github.com/smallbiznis/saaswarehouse/internal/quality"
	whdomain "github.com/smallbiznis/saaswarehouse/internal/warehouse/domain"
	"github.com/smallbiznis/saaswarehouse/internal/warehouse/service"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	StageExtract   = "extract"
	StageClean     = "clean"
	StageFilter    = "filter"
	StageLoad      = "load"
	StageTransform = "transform"
)

type Config struct {
	// FilterOrphans drops subscriptions whose user is absent from the
	// batch before load.
	FilterOrphans bool
}

type Params struct {
	fx.In

	Config     Config
	Extractor  *extract.Extractor
	Cleaner    *cleaner.Cleaner
	Calculator *mrr.Calculator
	Validator  *quality.Validator
	Loader     *service.Loader
	Clock      clock.Clock
	GenID      *snowflake.Node
	Metrics    *metrics.Metrics `optional:"true"`
	Log        *zap.Logger
}

type Pipeline struct {
	cfg        Config
	extractor  *extract.Extractor
	cleaner    *cleaner.Cleaner
	calculator *mrr.Calculator
	validator  *quality.Validator
	loader     *service.Loader
	clock      clock.Clock
	genID      *snowflake.Node
	metrics    *metrics.Metrics
	log        *zap.Logger
}

func New(p Params) *Pipeline {
	return &Pipeline{
		cfg:        p.Config,
		extractor:  p.Extractor,
		cleaner:    p.Cleaner,
		calculator: p.Calculator,
		validator:  p.Validator,
		loader:     p.Loader,
		clock:      p.Clock,
		genID:      p.GenID,
		metrics:    p.Metrics,
		log:        p.Log.Named("pipeline"),
	}
}

// Run executes the full pipeline once. The returned summary is filled as
// far as the run got, also when err is non-nil.
func (p *Pipeline) Run(ctx context.Context) (summary Summary, err error) {
	summary.RunID = p.genID.Generate().String()
	summary.StartedAt = p.clock.Now()

	ctx = logger.WithRunID(ctx, summary.RunID)
	log := logger.WithContext(ctx, p.log)
	ctx, end := tracing.StartStage(ctx, "run", attribute.String("etl.run_id", summary.RunID))

	log.Info("pipeline started", zap.Time("started_at", summary.StartedAt))
	defer func() {
		summary.FinishedAt = p.clock.Now()
		summary.Duration = summary.FinishedAt.Sub(summary.StartedAt)
		summary.Err = err
		end(err)
		p.metrics.RecordRun(ctx, summary.FinishedAt, summary.Duration, err)

		if err != nil {
			log.Error("pipeline failed", zap.Duration("duration", summary.Duration), zap.Error(err))
			return
		}
		log.Info("pipeline completed", zap.Duration("duration", summary.Duration))
	}()

	var extracted extract.Extracted
	err = p.stage(ctx, StageExtract, func(ctx context.Context) error {
		var err error
		extracted, err = p.extractor.All(ctx)
		return err
	})
	if err != nil {
		return summary, err
	}
	summary.Extracted = Counts{
		Users:         len(extracted.Users.Rows),
		Subscriptions: len(extracted.Subscriptions.Rows),
		Events:        len(extracted.Events.Rows),
	}
	p.metrics.RecordRows(ctx, StageExtract, etldomain.TableUsers, summary.Extracted.Users)
	p.metrics.RecordRows(ctx, StageExtract, etldomain.TableSubscriptions, summary.Extracted.Subscriptions)
	p.metrics.RecordRows(ctx, StageExtract, etldomain.TableEvents, summary.Extracted.Events)

	var transformed Transformed
	err = p.stage(ctx, StageTransform, func(ctx context.Context) error {
		var err error
		transformed, err = p.Transform(ctx, extracted)
		return err
	})
	summary.Transform = transformed.Summary
	if err != nil {
		return summary, err
	}

	err = p.stage(ctx, StageLoad, func(ctx context.Context) error {
		var err error
		summary.Load, err = p.Load(ctx, transformed)
		return err
	})
	return summary, err
}

func (p *Pipeline) stage(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	ctx, end := tracing.StartStage(ctx, name)
	start := time.Now()
	err := fn(ctx)
	p.metrics.RecordStage(ctx, name, time.Since(start), err)
	end(err)
	return err
}

// Transformed is the load-ready output of Transform.
type Transformed struct {
	Users         etldomain.Table[etldomain.UserRecord]
	Subscriptions etldomain.Table[etldomain.SubscriptionEvent]
	Summary       TransformSummary
}

// Transform cleans, prices, date-keys and validates the extracted tables,
// then drops orphaned subscriptions when configured to. Only a schema
// violation, a malformed date or an unpriced plan stops it.
func (p *Pipeline) Transform(ctx context.Context, extracted extract.Extracted) (Transformed, error) {
	var out Transformed
	log := logger.WithContext(ctx, p.log)

	if err := p.validator.CheckRaw(extracted.Users, extracted.Subscriptions); err != nil {
		return out, err
	}

	users, err := p.cleaner.CleanUsers(extracted.Users)
	if err != nil {
		return out, err
	}
	subs, err := p.cleaner.CleanSubscriptions(extracted.Subscriptions)
	if err != nil {
		return out, err
	}
	out.Summary.CleanedUsers = users.Table.Len()
	out.Summary.CleanedSubscriptions = subs.Table.Len()
	out.Summary.addDrops(StageClean, users.Outcomes)
	out.Summary.addDrops(StageClean, subs.Outcomes)
	p.metrics.RecordRows(ctx, StageClean, etldomain.TableUsers, users.Table.Len())
	p.metrics.RecordRows(ctx, StageClean, etldomain.TableSubscriptions, subs.Table.Len())
	p.metrics.RecordDropped(ctx, StageClean, reasonCounts(users.Outcomes, subs.Outcomes))

	priced, err := p.calculator.CalculateMRR(subs.Table)
	if err != nil {
		return out, err
	}
	priced, err = mrr.EnrichWithDateKey(priced, etldomain.FieldEventDate)
	if err != nil {
		return out, err
	}
	cleanUsers, err := mrr.EnrichWithDateKey(users.Table, etldomain.FieldSignupDate)
	if err != nil {
		return out, err
	}
	out.Summary.TotalMRR = mrr.TotalMRR(priced)
	out.Summary.MRRByPlan = p.calculator.BreakdownByPlan(priced)

	report, err := p.validator.Validate(etldomain.Dataset{Users: cleanUsers, Subscriptions: priced})
	if err != nil {
		return out, err
	}
	out.Summary.Report = report

	if p.cfg.FilterOrphans {
		var outcomes etldomain.Outcomes
		priced, outcomes = FilterOrphans(cleanUsers, priced)
		out.Summary.addDrops(StageFilter, outcomes)
		p.metrics.RecordDropped(ctx, StageFilter, reasonCounts(outcomes))
		if n := outcomes.Dropped(); n > 0 {
			log.Warn("filtered orphaned subscriptions", zap.Int("count", n))
		}
	}

	out.Users = cleanUsers
	out.Subscriptions = priced
	log.Info("transform complete",
		zap.Int("users", cleanUsers.Len()),
		zap.Int("subscriptions", priced.Len()),
		zap.String("total_mrr", out.Summary.TotalMRR.StringFixed(2)),
		zap.Int("issues", len(report.Issues)),
	)
	return out, nil
}

// FilterOrphans keeps subscriptions whose user_id is present in users.
func FilterOrphans(users etldomain.Table[etldomain.UserRecord], subs etldomain.Table[etldomain.SubscriptionEvent]) (etldomain.Table[etldomain.SubscriptionEvent], etldomain.Outcomes) {
	known := make(map[int64]struct{}, users.Len())
	for _, u := range users.Rows {
		known[u.UserID] = struct{}{}
	}

	kept := make([]etldomain.SubscriptionEvent, 0, subs.Len())
	outcomes := make(etldomain.Outcomes, 0, subs.Len())
	for i, s := range subs.Rows {
		outcome := etldomain.RowOutcome{Row: i, Key: s.SubscriptionID, Keep: true}
		if _, ok := known[s.UserID]; !ok || s.MissingUserID {
			outcome.Keep = false
			outcome.Reason = etldomain.DropOrphanedUser
		} else {
			kept = append(kept, s)
		}
		outcomes = append(outcomes, outcome)
	}
	return subs.WithRows(kept), outcomes
}

// Load writes the transformed tables in one scoped warehouse session:
// users, subscriptions, statistics, verification.
func (p *Pipeline) Load(ctx context.Context, t Transformed) (LoadSummary, error) {
	var out LoadSummary
	err := p.loader.Run(ctx, func(ctx context.Context, s *service.Session) error {
		users, err := s.LoadUsers(ctx, t.Users)
		if err != nil {
			return err
		}
		out.UsersUpserted = users.Upserted
		p.metrics.RecordRows(ctx, StageLoad, whdomain.TableDimUsers, users.Upserted)

		subs, err := s.LoadSubscriptions(ctx, t.Subscriptions)
		if err != nil {
			return err
		}
		out.FactsInserted = subs.Inserted
		out.Dropped = subs.Outcomes.DroppedBy()
		p.metrics.RecordRows(ctx, StageLoad, whdomain.TableFactSubscriptions, subs.Inserted)
		p.metrics.RecordDropped(ctx, StageLoad, reasonCounts(subs.Outcomes))

		if out.Statistics, err = s.Statistics(ctx); err != nil {
			return err
		}
		out.Verification, err = s.Verify(ctx)
		return err
	})
	return out, err
}

func reasonCounts(sets ...etldomain.Outcomes) map[string]int {
	counts := make(map[string]int)
	for _, outcomes := range sets {
		for reason, n := range outcomes.DroppedBy() {
			counts[string(reason)] += n
		}
	}
	return counts
}
