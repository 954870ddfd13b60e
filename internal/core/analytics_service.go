package core

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

// ── Report types ──────────────────────────────────────────────────────────────

// AnalyticsQuery scopes a report to one tenant, side and creation window.
// An empty Side means SALES; a zero Window.To means now.
type AnalyticsQuery struct {
	TenantID int
	Side     Side
	Window   Window
}

// PipelineStats summarises one side of the pipeline over a window.
// Rates are percentages rounded to two places; a stage with no predecessors
// has rate 0. AvgCycleTime is keyed "QUOTATION->ORDER", "ORDER->INVOICE" or
// "ORDER->RECEIPT" and omits transitions with no conversions.
type PipelineStats struct {
	Side                 Side
	From                 time.Time
	To                   time.Time
	CountsByStage        map[Stage]int
	QuotationToOrderRate decimal.Decimal
	OrderToTerminalRate  decimal.Decimal
	AvgCycleTime         map[string]time.Duration
}

// FunnelStage is one row of the funnel. DropOffPercentage compares the stage
// with the one before it; the first stage is always 0.
type FunnelStage struct {
	Stage             Stage           `json:"stage"`
	Count             int             `json:"count"`
	MonetaryTotal     decimal.Decimal `json:"monetary_total"`
	DropOffPercentage decimal.Decimal `json:"drop_off_percentage"`
}

// CycleKey names the transition between two stages in PipelineStats.AvgCycleTime.
func CycleKey(from, to Stage) string {
	return string(from) + "->" + string(to)
}

// ── Interface ─────────────────────────────────────────────────────────────────

// AnalyticsService computes funnel statistics over persisted documents.
// It never writes and never caches; each call reads fresh state.
type AnalyticsService interface {
	Stats(ctx context.Context, q AnalyticsQuery) (*PipelineStats, error)
	Funnel(ctx context.Context, q AnalyticsQuery) ([]FunnelStage, error)
	// Bottlenecks evaluates both sides over the trailing lookback window and
	// returns one finding per violated threshold, sales first.
	Bottlenecks(ctx context.Context, tenantID int) ([]string, error)
}

// ── Implementation ────────────────────────────────────────────────────────────

type analyticsService struct {
	reader     PipelineReader
	thresholds ThresholdProvider
	now        func() time.Time
}

// NewAnalyticsService constructs an AnalyticsService. A nil provider uses
// DefaultBottleneckThresholds.
func NewAnalyticsService(reader PipelineReader, thresholds ThresholdProvider, now func() time.Time) AnalyticsService {
	if thresholds == nil {
		thresholds = StaticThresholds(DefaultBottleneckThresholds())
	}
	if now == nil {
		now = time.Now
	}
	return &analyticsService{reader: reader, thresholds: thresholds, now: now}
}

var hundred = decimal.NewFromInt(100)

// percentage returns part/whole × 100 rounded to two places, or 0 when whole is 0.
func percentage(part, whole int) decimal.Decimal {
	if whole == 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(int64(part)).Mul(hundred).Div(decimal.NewFromInt(int64(whole))).Round(2)
}

func (s *analyticsService) normalize(q AnalyticsQuery) (AnalyticsQuery, error) {
	side, err := ParseSide(string(q.Side))
	if err != nil {
		return q, err
	}
	q.Side = side
	if q.Window.To.IsZero() {
		q.Window.To = s.now()
	}
	if q.Window.From.After(q.Window.To) {
		return q, fmt.Errorf("%w: from %s is after to %s", ErrInvalidWindow,
			q.Window.From.Format(time.RFC3339), q.Window.To.Format(time.RFC3339))
	}
	return q, nil
}

// ── Stats ─────────────────────────────────────────────────────────────────────

func (s *analyticsService) Stats(ctx context.Context, q AnalyticsQuery) (*PipelineStats, error) {
	q, err := s.normalize(q)
	if err != nil {
		return nil, err
	}

	var summaries []StageSummary
	var pairs []ConversionPair
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		summaries, err = s.reader.StageSummaries(gctx, q.TenantID, q.Side, q.Window)
		return err
	})
	g.Go(func() error {
		var err error
		pairs, err = s.reader.ConversionPairs(gctx, q.TenantID, q.Side, q.Window)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("failed to read pipeline state: %w", err)
	}

	return buildStats(q, summaries, pairs), nil
}

func buildStats(q AnalyticsQuery, summaries []StageSummary, pairs []ConversionPair) *PipelineStats {
	stages := PipelineStages(q.Side)
	counts := make(map[Stage]int, len(stages))
	for _, st := range stages {
		counts[st] = 0
	}
	for _, sum := range summaries {
		counts[sum.Stage] = sum.Count
	}

	converted := make(map[string]int)
	elapsed := make(map[string]time.Duration)
	for _, p := range pairs {
		key := CycleKey(p.From, p.To)
		converted[key]++
		elapsed[key] += p.SuccessorCreatedAt.Sub(p.PredecessorCreatedAt)
	}
	avg := make(map[string]time.Duration, len(converted))
	for key, n := range converted {
		avg[key] = elapsed[key] / time.Duration(n)
	}

	terminal := TerminalStage(q.Side)
	return &PipelineStats{
		Side:                 q.Side,
		From:                 q.Window.From,
		To:                   q.Window.To,
		CountsByStage:        counts,
		QuotationToOrderRate: percentage(converted[CycleKey(StageQuotation, StageOrder)], counts[StageQuotation]),
		OrderToTerminalRate:  percentage(converted[CycleKey(StageOrder, terminal)], counts[StageOrder]),
		AvgCycleTime:         avg,
	}
}

// ── Funnel ────────────────────────────────────────────────────────────────────

func (s *analyticsService) Funnel(ctx context.Context, q AnalyticsQuery) ([]FunnelStage, error) {
	q, err := s.normalize(q)
	if err != nil {
		return nil, err
	}

	summaries, err := s.reader.StageSummaries(ctx, q.TenantID, q.Side, q.Window)
	if err != nil {
		return nil, fmt.Errorf("failed to read stage summaries: %w", err)
	}
	byStage := make(map[Stage]StageSummary, len(summaries))
	for _, sum := range summaries {
		byStage[sum.Stage] = sum
	}

	stages := PipelineStages(q.Side)
	funnel := make([]FunnelStage, 0, len(stages))
	for i, st := range stages {
		sum := byStage[st]
		row := FunnelStage{Stage: st, Count: sum.Count, MonetaryTotal: sum.Total, DropOffPercentage: decimal.Zero}
		if i > 0 {
			prev := funnel[i-1].Count
			row.DropOffPercentage = percentage(prev-sum.Count, prev)
		}
		funnel = append(funnel, row)
	}
	return funnel, nil
}

// ── Bottlenecks ───────────────────────────────────────────────────────────────

func (s *analyticsService) Bottlenecks(ctx context.Context, tenantID int) ([]string, error) {
	th, err := s.thresholds.Thresholds(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	window := Window{From: now.Add(-th.Lookback), To: now}
	findings := []string{}
	for _, side := range []Side{SideSales, SidePurchase} {
		stats, err := s.Stats(ctx, AnalyticsQuery{TenantID: tenantID, Side: side, Window: window})
		if err != nil {
			return nil, err
		}
		stale := 0
		if th.StaleAcceptedAfter > 0 {
			stale, err = s.reader.CountStale(ctx, tenantID, side, StageQuotation, StatusAccepted, now.Add(-th.StaleAcceptedAfter))
			if err != nil {
				return nil, fmt.Errorf("failed to count stale quotations: %w", err)
			}
		}
		findings = append(findings, evaluateBottlenecks(stats, stale, th)...)
	}
	return findings, nil
}

func evaluateBottlenecks(stats *PipelineStats, stale int, th BottleneckThresholds) []string {
	var out []string
	side := sideLabel(stats.Side)
	terminal := TerminalStage(stats.Side)
	minSample := max(th.MinSample, 1)

	if n := stats.CountsByStage[StageQuotation]; n >= minSample && stats.QuotationToOrderRate.LessThan(th.MinQuotationConversion) {
		out = append(out, fmt.Sprintf("low quotation conversion (%s): %s%% of %d quotations became orders (threshold %s%%)",
			side, stats.QuotationToOrderRate.StringFixed(2), n, th.MinQuotationConversion.StringFixed(2)))
	}
	if n := stats.CountsByStage[StageOrder]; n >= minSample && stats.OrderToTerminalRate.LessThan(th.MinOrderConversion) {
		out = append(out, fmt.Sprintf("low order conversion (%s): %s%% of %d orders became %ss (threshold %s%%)",
			side, stats.OrderToTerminalRate.StringFixed(2), n, terminal.label(), th.MinOrderConversion.StringFixed(2)))
	}
	if avg, ok := stats.AvgCycleTime[CycleKey(StageQuotation, StageOrder)]; ok && th.MaxQuoteToOrderCycle > 0 && avg > th.MaxQuoteToOrderCycle {
		out = append(out, fmt.Sprintf("slow quotation turnaround (%s): quotations take %s on average to become orders (threshold %s)",
			side, formatDays(avg), formatDays(th.MaxQuoteToOrderCycle)))
	}
	if avg, ok := stats.AvgCycleTime[CycleKey(StageOrder, terminal)]; ok && th.MaxOrderToTerminalCycle > 0 && avg > th.MaxOrderToTerminalCycle {
		out = append(out, fmt.Sprintf("slow order fulfilment (%s): orders take %s on average to become %ss (threshold %s)",
			side, formatDays(avg), terminal.label(), formatDays(th.MaxOrderToTerminalCycle)))
	}
	if stale > 0 {
		out = append(out, fmt.Sprintf("stale accepted quotations (%s): %d accepted quotations waiting more than %s for conversion",
			side, stale, formatDays(th.StaleAcceptedAfter)))
	}
	return out
}

func formatDays(d time.Duration) string {
	return fmt.Sprintf("%.1f days", d.Hours()/24)
}
