package pipeline

import (
	"fmt"

	"github.com/smallbiznis/saaswarehouse/internal/cleaner"
	"github.com/smallbiznis/saaswarehouse/internal/clock"
	"github.com/smallbiznis/saaswarehouse/internal/config"
	"github.com/smallbiznis/saaswarehouse/internal/extract"
	"github.com/smallbiznis/saaswarehouse/internal/mrr"
	"github.com/smallbiznis/saaswarehouse/internal/quality"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("pipeline",
	fx.Provide(
		func(cfg config.Config) Config {
			return Config{FilterOrphans: cfg.FilterOrphans}
		},
		func(cfg config.Config, log *zap.Logger) *extract.Extractor {
			return extract.New(cfg.DataPath, log)
		},
		cleaner.New,
		mrr.NewCalculator,
		newValidator,
		New,
	),
)

func newValidator(cfg config.Config, clk clock.Clock, log *zap.Logger) (*quality.Validator, error) {
	var opts []quality.Option
	if cfg.MinEventDate != "" {
		minDate, err := cleaner.ParseDate(cfg.MinEventDate)
		if err != nil {
			return nil, fmt.Errorf("ETL_MIN_EVENT_DATE %q: %w", cfg.MinEventDate, err)
		}
		opts = append(opts, quality.WithMinDate(minDate))
	}
	return quality.New(clk, log, opts...), nil
}
