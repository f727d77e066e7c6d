package config

import (
	"github.com/smallbiznis/saaswarehouse/pkg/db"
	"go.uber.org/fx"
)

var Module = fx.Module("config",
	fx.Provide(
		Load,
		LoadPricing,
		func(cfg Config) db.Config { return cfg.Database() },
	),
)
