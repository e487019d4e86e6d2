package clob

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

// Config carries engine defaults read from the environment. A .env file in
// the working directory is loaded first when present.
type Config struct {
	MinOrderSize      decimal.Decimal
	MinExecutionSize  decimal.Decimal
	PriceIncrement    decimal.Decimal
	QuantityIncrement decimal.Decimal
}

// Environment variable names.
const (
	EnvMinOrderSize      = "CLOB_MIN_ORDER_SIZE"
	EnvMinExecutionSize  = "CLOB_MIN_EXECUTION_SIZE"
	EnvPriceIncrement    = "CLOB_PRICE_INCREMENT"
	EnvQuantityIncrement = "CLOB_QUANTITY_INCREMENT"
)

// LoadConfig reads engine defaults from the environment, falling back to
// DefaultTradingRules for anything unset.
func LoadConfig() (*Config, error) {
	// Missing .env is fine, the environment may be set directly.
	_ = godotenv.Load()

	defaults := DefaultTradingRules()
	cfg := &Config{
		MinOrderSize:      defaults.MinOrderSize,
		MinExecutionSize:  defaults.MinExecutionSize,
		PriceIncrement:    defaults.PriceIncrement,
		QuantityIncrement: defaults.QuantityIncrement,
	}

	for _, binding := range []struct {
		env    string
		target *decimal.Decimal
	}{
		{EnvMinOrderSize, &cfg.MinOrderSize},
		{EnvMinExecutionSize, &cfg.MinExecutionSize},
		{EnvPriceIncrement, &cfg.PriceIncrement},
		{EnvQuantityIncrement, &cfg.QuantityIncrement},
	} {
		raw := os.Getenv(binding.env)
		if raw == "" {
			continue
		}
		value, err := decimal.NewFromString(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: %s=%q is not a decimal", ErrValidation, binding.env, raw)
		}
		*binding.target = value
	}

	rules := cfg.TradingRules()
	if err := rules.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// TradingRules converts the configured defaults into trading rules.
func (c *Config) TradingRules() TradingRules {
	return TradingRules{
		MinOrderSize:      c.MinOrderSize,
		MinExecutionSize:  c.MinExecutionSize,
		PriceIncrement:    c.PriceIncrement,
		QuantityIncrement: c.QuantityIncrement,
	}
}
