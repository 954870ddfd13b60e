package core

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// BottleneckThresholds are the limits AnalyticsService.Bottlenecks checks
// against. They are configuration, not business facts.
type BottleneckThresholds struct {
	MinQuotationConversion  decimal.Decimal // percent
	MinOrderConversion      decimal.Decimal // percent
	MaxQuoteToOrderCycle    time.Duration
	MaxOrderToTerminalCycle time.Duration
	StaleAcceptedAfter      time.Duration
	MinSample               int           // fewer predecessors than this are not judged
	Lookback                time.Duration // window ending now
}

func DefaultBottleneckThresholds() BottleneckThresholds {
	return BottleneckThresholds{
		MinQuotationConversion:  decimal.NewFromInt(30),
		MinOrderConversion:      decimal.NewFromInt(50),
		MaxQuoteToOrderCycle:    14 * 24 * time.Hour,
		MaxOrderToTerminalCycle: 30 * 24 * time.Hour,
		StaleAcceptedAfter:      7 * 24 * time.Hour,
		MinSample:               1,
		Lookback:                90 * 24 * time.Hour,
	}
}

// ThresholdProvider supplies thresholds per tenant.
type ThresholdProvider interface {
	Thresholds(ctx context.Context, tenantID int) (BottleneckThresholds, error)
}

// StaticThresholds serves the same thresholds to every tenant.
type StaticThresholds BottleneckThresholds

func (t StaticThresholds) Thresholds(context.Context, int) (BottleneckThresholds, error) {
	return BottleneckThresholds(t), nil
}

// Threshold keys stored in pipeline_thresholds. Percentages are percent,
// durations are days.
const (
	ThresholdMinQuotationConversion = "MIN_QUOTATION_CONVERSION_PCT"
	ThresholdMinOrderConversion     = "MIN_ORDER_CONVERSION_PCT"
	ThresholdMaxQuoteToOrderDays    = "MAX_QUOTE_TO_ORDER_DAYS"
	ThresholdMaxOrderToTerminalDays = "MAX_ORDER_TO_TERMINAL_DAYS"
	ThresholdStaleAcceptedDays      = "STALE_ACCEPTED_DAYS"
	ThresholdMinSample              = "MIN_SAMPLE"
	ThresholdLookbackDays           = "LOOKBACK_DAYS"
)

// pgThresholdProvider overlays per-company rows from pipeline_thresholds on
// top of a fallback set.
type pgThresholdProvider struct {
	pool     *pgxpool.Pool
	fallback BottleneckThresholds
}

// NewPgThresholdProvider constructs a ThresholdProvider backed by the pipeline_thresholds table.
func NewPgThresholdProvider(pool *pgxpool.Pool, fallback BottleneckThresholds) ThresholdProvider {
	return &pgThresholdProvider{pool: pool, fallback: fallback}
}

// Thresholds returns the fallback with every active override applied,
// highest priority first.
func (p *pgThresholdProvider) Thresholds(ctx context.Context, tenantID int) (BottleneckThresholds, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT DISTINCT ON (threshold_key) threshold_key, threshold_value
		FROM pipeline_thresholds
		WHERE company_id = $1
		  AND (effective_to IS NULL OR effective_to >= CURRENT_DATE)
		ORDER BY threshold_key, priority DESC
	`, tenantID)
	if err != nil {
		return BottleneckThresholds{}, fmt.Errorf("failed to load pipeline thresholds (company_id=%d): %w", tenantID, err)
	}
	defer rows.Close()

	t := p.fallback
	for rows.Next() {
		var key string
		var value decimal.Decimal
		if err := rows.Scan(&key, &value); err != nil {
			return BottleneckThresholds{}, fmt.Errorf("failed to scan pipeline threshold: %w", err)
		}
		if err := t.Set(key, value); err != nil {
			return BottleneckThresholds{}, fmt.Errorf("company_id %d: %w", tenantID, err)
		}
	}
	return t, rows.Err()
}

// maxThresholdDays caps day-valued thresholds well inside time.Duration's range.
const maxThresholdDays = 36500

var dayThresholds = map[string]bool{
	ThresholdMaxQuoteToOrderDays:    true,
	ThresholdMaxOrderToTerminalDays: true,
	ThresholdStaleAcceptedDays:      true,
	ThresholdLookbackDays:           true,
}

// Set overrides one threshold by key.
func (t *BottleneckThresholds) Set(key string, value decimal.Decimal) error {
	if value.IsNegative() {
		return fmt.Errorf("threshold %s cannot be negative, got %s", key, value)
	}
	if dayThresholds[key] && value.GreaterThan(decimal.NewFromInt(maxThresholdDays)) {
		return fmt.Errorf("threshold %s cannot exceed %d days, got %s", key, maxThresholdDays, value)
	}
	days := func() time.Duration {
		return time.Duration(value.Mul(decimal.NewFromInt(int64(24 * time.Hour))).IntPart())
	}
	switch key {
	case ThresholdMinQuotationConversion:
		t.MinQuotationConversion = value
	case ThresholdMinOrderConversion:
		t.MinOrderConversion = value
	case ThresholdMaxQuoteToOrderDays:
		t.MaxQuoteToOrderCycle = days()
	case ThresholdMaxOrderToTerminalDays:
		t.MaxOrderToTerminalCycle = days()
	case ThresholdStaleAcceptedDays:
		t.StaleAcceptedAfter = days()
	case ThresholdMinSample:
		t.MinSample = int(value.IntPart())
	case ThresholdLookbackDays:
		t.Lookback = days()
	default:
		return fmt.Errorf("unknown threshold key %q", key)
	}
	return nil
}
