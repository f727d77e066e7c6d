package main

import (
	"context"
	"os"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/saaswarehouse/internal/clock"
	"github.com/smallbiznis/saaswarehouse/internal/config"
	"github.com/smallbiznis/saaswarehouse/internal/migration"
	"github.com/smallbiznis/saaswarehouse/internal/observability"
	"github.com/smallbiznis/saaswarehouse/internal/pipeline"
	"github.com/smallbiznis/saaswarehouse/internal/warehouse"
	"github.com/smallbiznis/saaswarehouse/internal/warehouse/service"
	"github.com/smallbiznis/saaswarehouse/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,

		warehouse.Module,
		pipeline.Module,

		fx.Invoke(RunPipeline),
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}

type RunParams struct {
	fx.In

	Lifecycle  fx.Lifecycle
	Shutdowner fx.Shutdowner
	Config     config.Config
	Loader     *service.Loader
	Pipeline   *pipeline.Pipeline
	Log        *zap.Logger
}

// RunPipeline runs one batch after start-up and shuts the app down with
// exit code 1 when the run fails.
func RunPipeline(p RunParams) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	p.Lifecycle.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				defer close(done)
				code := 0
				if err := run(ctx, p); err != nil {
					code = 1
				}
				if err := p.Shutdowner.Shutdown(fx.ExitCode(code)); err != nil {
					p.Log.Error("shutdown failed", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			cancel()
			select {
			case <-done:
			case <-stopCtx.Done():
			}
			return nil
		},
	})
}

func run(ctx context.Context, p RunParams) error {
	if p.Config.AutoMigrate {
		err := p.Loader.Run(ctx, func(ctx context.Context, s *service.Session) error {
			conn, err := s.DB()
			if err != nil {
				return err
			}
			return migration.Up(ctx, conn)
		})
		if err != nil {
			p.Log.Error("warehouse migration failed", zap.Error(err))
			return err
		}
	}

	summary, err := p.Pipeline.Run(ctx)
	if werr := summary.Write(os.Stderr); werr != nil {
		p.Log.Warn("failed to write run report", zap.Error(werr))
	}
	return err
}
