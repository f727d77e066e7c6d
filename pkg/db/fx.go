package db

import (
	"go.uber.org/fx"
	"go.uber.org/zap"
	gormlogger "gorm.io/gorm/logger"
)

// Module provides a Connector that dials a fresh pool per load run.
var Module = fx.Module("db",
	fx.Provide(func(cfg Config, logger gormlogger.Interface, log *zap.Logger) Connector {
		return NewDialer(cfg, logger, log)
	}),
)
