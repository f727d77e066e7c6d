package warehouse

import (
	"github.com/smallbiznis/saaswarehouse/internal/config"
	"github.com/smallbiznis/saaswarehouse/internal/warehouse/domain"
	"github.com/smallbiznis/saaswarehouse/internal/warehouse/repository"
	"github.com/smallbiznis/saaswarehouse/internal/warehouse/service"
	"go.uber.org/fx"
)

var Module = fx.Module("warehouse.service",
	fx.Provide(
		provideLoaderConfig,
		func(cfg service.LoaderConfig) domain.Repository {
			return repository.New(cfg.BatchSize)
		},
		service.NewKeyResolver,
		service.NewLoader,
	),
)

func provideLoaderConfig(cfg config.Config) (service.LoaderConfig, error) {
	mode, err := domain.ParseFactLoadMode(cfg.FactLoadMode)
	if err != nil {
		return service.LoaderConfig{}, err
	}
	return service.LoaderConfig{BatchSize: cfg.BatchSize, FactMode: mode}, nil
}
