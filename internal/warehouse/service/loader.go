package service

import (
	"context"
	"errors"

	"github.com/smallbiznis/saaswarehouse/internal/clock"
	etldomain "github.com/smallbiznis/saaswarehouse/internal/etl/domain"
	"github.com/smallbiznis/saaswarehouse/internal/warehouse/domain"
	"github.com/smallbiznis/saaswarehouse/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type LoaderConfig struct {
	BatchSize int
	FactMode  domain.FactLoadMode
}

type LoaderParams struct {
	fx.In

	Connector db.Connector
	Repo      domain.Repository
	Resolver  *KeyResolver
	Clock     clock.Clock
	Log       *zap.Logger
	Config    LoaderConfig
}

// Loader owns the warehouse write protocol: dimension upserts, fact
// appends and post-load verification, each run inside a scoped session.
type Loader struct {
	connector db.Connector
	repo      domain.Repository
	resolver  *KeyResolver
	clock     clock.Clock
	log       *zap.Logger
	cfg       LoaderConfig
}

func NewLoader(p LoaderParams) *Loader {
	cfg := p.Config
	if cfg.FactMode == "" {
		cfg.FactMode = domain.FactLoadAppend
	}
	return &Loader{
		connector: p.Connector,
		repo:      p.Repo,
		resolver:  p.Resolver,
		clock:     p.Clock,
		log:       p.Log.Named("warehouse.loader"),
		cfg:       cfg,
	}
}

// Connect acquires a warehouse handle and returns a session in the
// Connected state. The caller must Disconnect it; prefer Run.
func (l *Loader) Connect(ctx context.Context) (*Session, error) {
	handle, err := l.connector.Connect(ctx)
	if err != nil {
		l.log.Error("warehouse connection failed", zap.Error(err))
		return nil, &etldomain.ConnectionError{Err: err}
	}
	return &Session{
		handle:   handle,
		repo:     l.repo,
		resolver: l.resolver,
		clock:    l.clock,
		log:      l.log,
		mode:     l.cfg.FactMode,
		state:    domain.StateConnected,
	}, nil
}

// Run connects, hands the session to fn and disconnects on every exit
// path. Disconnect errors are joined with fn's error.
func (l *Loader) Run(ctx context.Context, fn func(ctx context.Context, s *Session) error) (err error) {
	session, err := l.Connect(ctx)
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, session.Disconnect())
	}()
	return fn(ctx, session)
}
