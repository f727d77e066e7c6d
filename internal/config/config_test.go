package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/saaswarehouse/internal/etl/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{"DB_HOST", "DB_PORT", "DB_NAME", "DB_USER", "DB_PASSWORD", "ETL_FACT_LOAD_MODE", "ETL_FILTER_ORPHANS", "ETL_BATCH_SIZE", "ETL_MIN_EVENT_DATE"} {
		t.Setenv(key, "")
	}

	cfg := Load()
	dbCfg := cfg.Database()

	assert.Equal(t, "localhost", dbCfg.Host)
	assert.Equal(t, "5432", dbCfg.Port)
	assert.Equal(t, "saas_db", dbCfg.Name)
	assert.Equal(t, "postgres", dbCfg.User)
	assert.Empty(t, dbCfg.Password)
	assert.Equal(t, "append", cfg.FactLoadMode)
	assert.True(t, cfg.FilterOrphans)
	assert.Equal(t, 500, cfg.BatchSize)
	assert.Empty(t, cfg.MinEventDate)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("DB_HOST", "warehouse.internal")
	t.Setenv("DB_PORT", "6543")
	t.Setenv("DB_PASSWORD", "s3cret")
	t.Setenv("DB_CONN_MAX_LIFETIME", "60")
	t.Setenv("ETL_FACT_LOAD_MODE", "strict")
	t.Setenv("ETL_FILTER_ORPHANS", "no")
	t.Setenv("ETL_BATCH_SIZE", "not-a-number")
	t.Setenv("ETL_MIN_EVENT_DATE", "2020-01-01")

	cfg := Load()
	dbCfg := cfg.Database()

	assert.Equal(t, "warehouse.internal", dbCfg.Host)
	assert.Equal(t, "6543", dbCfg.Port)
	assert.Equal(t, "s3cret", dbCfg.Password)
	assert.Equal(t, time.Minute, dbCfg.ConnMaxLifetime)
	assert.Equal(t, "strict", cfg.FactLoadMode)
	assert.False(t, cfg.FilterOrphans)
	assert.Equal(t, 500, cfg.BatchSize)
	assert.Equal(t, "2020-01-01", cfg.MinEventDate)
}

func TestLoadPricingDefaults(t *testing.T) {
	pricing, err := LoadPricingFrom(t.TempDir())
	require.NoError(t, err)

	assert.Len(t, pricing, 3)
	assert.True(t, pricing[domain.PlanFree].IsZero())
	assert.True(t, pricing[domain.PlanPro].Equal(decimal.RequireFromString("29.00")))
	assert.True(t, pricing[domain.PlanEnterprise].Equal(decimal.RequireFromString("99.00")))
}

func TestLoadPricingFromFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	content := "pricing:\n  plans:\n    pro: \"35.50\"\n    team: \"49.00\"\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "pricing.yml"), []byte(content), 0o600))
	t.Setenv("ETL_PRICING_PLANS_ENTERPRISE", "120.00")

	pricing, err := LoadPricingFrom(dir)
	require.NoError(t, err)

	assert.True(t, pricing[domain.PlanPro].Equal(decimal.RequireFromString("35.50")))
	assert.True(t, pricing["team"].Equal(decimal.RequireFromString("49")))
	assert.True(t, pricing[domain.PlanEnterprise].Equal(decimal.RequireFromString("120")))
	assert.True(t, pricing[domain.PlanFree].IsZero())
}

func TestLoadPricingRejectsNegativePrice(t *testing.T) {
	dir := t.TempDir()
	content := "pricing:\n  plans:\n    pro: \"-1\"\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "pricing.yml"), []byte(content), 0o600))

	_, err := LoadPricingFrom(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cannot be negative")
}
