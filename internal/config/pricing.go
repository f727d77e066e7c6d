package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/saaswarehouse/internal/etl/domain"
	"github.com/spf13/viper"
)

var defaultPricingPaths = []string{"/etc/saaswarehouse", "."}

// LoadPricing reads plan prices from pricing.yml, falling back to the
// list prices when no file is present. Individual prices can be
// overridden with ETL_PRICING_PLANS_<PLAN>.
func LoadPricing() (domain.PlanPricing, error) {
	return LoadPricingFrom(defaultPricingPaths...)
}

func LoadPricingFrom(paths ...string) (domain.PlanPricing, error) {
	v := viper.New()

	v.SetConfigName("pricing")
	v.SetConfigType("yml")
	for _, p := range paths {
		v.AddConfigPath(p)
	}

	v.SetEnvPrefix("ETL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for plan, price := range domain.DefaultPlanPricing() {
		v.SetDefault("pricing.plans."+string(plan), price.StringFixed(2))
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	const prefix = "pricing.plans."
	pricing := make(domain.PlanPricing)
	for _, key := range v.AllKeys() {
		plan, ok := strings.CutPrefix(key, prefix)
		if !ok || plan == "" || strings.Contains(plan, ".") {
			continue
		}
		value := strings.TrimSpace(v.GetString(key))
		price, err := decimal.NewFromString(value)
		if err != nil {
			return nil, fmt.Errorf("pricing.plans.%s: %w", plan, err)
		}
		pricing[domain.PlanID(plan)] = price
	}
	if err := validatePricing(pricing); err != nil {
		return nil, err
	}
	return pricing, nil
}

func validatePricing(pricing domain.PlanPricing) error {
	if len(pricing) == 0 {
		return errors.New("pricing.plans cannot be empty")
	}
	for _, plan := range pricing.Plans() {
		if pricing[plan].IsNegative() {
			return fmt.Errorf("pricing.plans.%s cannot be negative", plan)
		}
	}
	return nil
}
