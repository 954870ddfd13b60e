// Package config loads process configuration from the environment (and .env)
// and the optional YAML file of bottleneck thresholds.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"commerce-pipeline/internal/core"
)

// Storage backends.
const (
	StorageMemory   = "memory"
	StoragePostgres = "postgres"
)

// Inventory sync modes.
const (
	InventorySyncLog   = "log"   // log the receipt and do nothing else
	InventorySyncStock = "stock" // book inventory_movements in PostgreSQL
	InventorySyncAMQP  = "amqp"  // publish a receipt event to RabbitMQ
)

type Config struct {
	DatabaseURL    string   `envconfig:"DATABASE_URL"`
	Storage        string   `envconfig:"STORAGE" default:"postgres"`
	ServerPort     string   `envconfig:"SERVER_PORT" default:"8080"`
	AllowedOrigins []string `envconfig:"ALLOWED_ORIGINS" default:"http://localhost:3000"`
	JWTSecret      string   `envconfig:"JWT_SECRET"`
	LogMode        string   `envconfig:"LOG_MODE" default:"release"`
	CompanyCode    string   `envconfig:"COMPANY_CODE" default:"1000"` // CLI default; seeded with STORAGE=memory

	TaxRate  string `envconfig:"TAX_RATE" default:"0.18"`
	Currency string `envconfig:"CURRENCY" default:"INR"`

	InventorySync        string        `envconfig:"INVENTORY_SYNC" default:"log"`
	InventorySyncTimeout time.Duration `envconfig:"INVENTORY_SYNC_TIMEOUT" default:"2s"`
	AMQPURL              string        `envconfig:"AMQP_URL"`
	AMQPExchange         string        `envconfig:"AMQP_EXCHANGE" default:"pipeline.events"`

	ThresholdsFile     string        `envconfig:"PIPELINE_THRESHOLDS_FILE"`
	BottleneckLookback time.Duration `envconfig:"BOTTLENECK_LOOKBACK"`
	ConvertRoles       []string      `envconfig:"CONVERT_ROLES" default:"ADMIN,MANAGER,SALES,PURCHASING"`
}

// Load reads .env (if present) and the environment, then validates the result.
func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to read environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	c.Storage = strings.ToLower(strings.TrimSpace(c.Storage))
	switch c.Storage {
	case StorageMemory:
	case StoragePostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required when STORAGE=%s", StoragePostgres)
		}
	default:
		return fmt.Errorf("STORAGE must be %q or %q, got %q", StorageMemory, StoragePostgres, c.Storage)
	}

	c.InventorySync = strings.ToLower(strings.TrimSpace(c.InventorySync))
	switch c.InventorySync {
	case InventorySyncLog:
	case InventorySyncStock:
		if c.Storage != StoragePostgres {
			return fmt.Errorf("INVENTORY_SYNC=%s requires STORAGE=%s", InventorySyncStock, StoragePostgres)
		}
	case InventorySyncAMQP:
		if c.AMQPURL == "" {
			return fmt.Errorf("AMQP_URL is required when INVENTORY_SYNC=%s", InventorySyncAMQP)
		}
	default:
		return fmt.Errorf("unknown INVENTORY_SYNC mode %q", c.InventorySync)
	}

	if _, err := core.NewTaxPolicy(c.TaxRate); err != nil {
		return fmt.Errorf("TAX_RATE: %w", err)
	}
	if len(c.Currency) != 3 {
		return fmt.Errorf("CURRENCY must be a 3-letter code, got %q", c.Currency)
	}
	c.Currency = strings.ToUpper(c.Currency)
	return nil
}

// TaxPolicy returns the configured tax policy. Validate has already checked the rate.
func (c *Config) TaxPolicy() core.TaxPolicy {
	p, err := core.NewTaxPolicy(c.TaxRate)
	if err != nil {
		return core.DefaultTaxPolicy()
	}
	return p
}

// Thresholds returns the default thresholds overlaid with the YAML file and
// BOTTLENECK_LOOKBACK, in that order.
func (c *Config) Thresholds() (core.BottleneckThresholds, error) {
	th := core.DefaultBottleneckThresholds()
	if c.ThresholdsFile != "" {
		var err error
		if th, err = LoadThresholds(c.ThresholdsFile); err != nil {
			return th, err
		}
	}
	if c.BottleneckLookback > 0 {
		th.Lookback = c.BottleneckLookback
	}
	return th, nil
}

// LoadThresholds reads a flat YAML mapping of threshold keys to values, e.g.
//
//	min_quotation_conversion_pct: 25
//	stale_accepted_days: 10
//
// Keys are the pipeline_thresholds keys, case-insensitive. Missing keys keep
// their defaults.
func LoadThresholds(path string) (core.BottleneckThresholds, error) {
	th := core.DefaultBottleneckThresholds()

	data, err := os.ReadFile(path)
	if err != nil {
		return th, fmt.Errorf("failed to read thresholds file: %w", err)
	}

	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return th, fmt.Errorf("failed to parse thresholds file %s: %w", path, err)
	}
	for key, v := range raw {
		value, err := decimal.NewFromString(fmt.Sprint(v))
		if err != nil {
			return th, fmt.Errorf("threshold %s: %q is not a number", key, fmt.Sprint(v))
		}
		if err := th.Set(strings.ToUpper(key), value); err != nil {
			return th, err
		}
	}
	return th, nil
}
