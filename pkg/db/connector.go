package db

import (
	"context"
	"errors"

	"github.com/uptrace/opentelemetry-go-extra/otelgorm"
	"go.uber.org/zap"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Handle is an acquired warehouse connection. Close releases it.
type Handle struct {
	DB      *gorm.DB
	release func() error
}

func (h *Handle) Close() error {
	if h == nil || h.release == nil {
		return nil
	}
	release := h.release
	h.release = nil
	return release()
}

// Connector acquires warehouse handles.
type Connector interface {
	Connect(ctx context.Context) (*Handle, error)
}

// Dialer opens a fresh connection pool per Connect call.
type Dialer struct {
	cfg    Config
	logger gormlogger.Interface
	log    *zap.Logger
}

func NewDialer(cfg Config, logger gormlogger.Interface, log *zap.Logger) *Dialer {
	if log == nil {
		log = zap.NewNop()
	}
	return &Dialer{cfg: cfg, logger: logger, log: log.Named("db")}
}

func (d *Dialer) Connect(ctx context.Context) (*Handle, error) {
	dialector, err := Dialect(d.cfg)
	if err != nil {
		return nil, err
	}

	gcfg := &gorm.Config{}
	if d.logger != nil {
		gcfg.Logger = d.logger
	}
	conn, err := gorm.Open(dialector, gcfg)
	if err != nil {
		return nil, err
	}
	if d.cfg.Tracing {
		plugin := otelgorm.NewPlugin(otelgorm.WithDBName(d.cfg.Name), otelgorm.WithoutQueryVariables())
		if err := conn.Use(plugin); err != nil {
			return nil, err
		}
	}

	sqlDB, err := conn.DB()
	if err != nil {
		return nil, err
	}
	if d.cfg.MaxIdleConn > 0 {
		sqlDB.SetMaxIdleConns(d.cfg.MaxIdleConn)
	}
	if d.cfg.MaxOpenConn > 0 {
		sqlDB.SetMaxOpenConns(d.cfg.MaxOpenConn)
	}
	if d.cfg.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(d.cfg.ConnMaxLifetime)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return nil, errors.Join(err, sqlDB.Close())
	}

	d.log.Info("connected to warehouse",
		zap.String("type", d.cfg.Type),
		zap.String("host", d.cfg.Host),
		zap.String("database", d.cfg.Name),
	)
	return &Handle{
		DB: conn,
		release: func() error {
			d.log.Info("disconnected from warehouse")
			return sqlDB.Close()
		},
	}, nil
}

type shared struct {
	db *gorm.DB
}

// Shared wraps an already-open handle. Closing the returned handles leaves
// the underlying pool open; its owner closes it.
func Shared(conn *gorm.DB) Connector {
	return shared{db: conn}
}

func (s shared) Connect(ctx context.Context) (*Handle, error) {
	if s.db == nil {
		return nil, errors.New("nil database handle")
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return nil, err
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return nil, err
	}
	return &Handle{DB: s.db, release: func() error { return nil }}, nil
}
