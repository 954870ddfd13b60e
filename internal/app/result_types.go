package app

import (
	"time"

	"github.com/shopspring/decimal"

	"commerce-pipeline/internal/core"
)

// DocumentResult is returned by single-document operations.
type DocumentResult struct {
	CompanyCode string                   `json:"company_code"`
	Document    *core.CommercialDocument `json:"document"`
	// NextStatuses lists the manual transitions available from the current status.
	NextStatuses []core.Status `json:"next_statuses"`
}

// DocumentListResult is returned by ListDocuments.
type DocumentListResult struct {
	CompanyCode string                    `json:"company_code"`
	Documents   []core.CommercialDocument `json:"documents"`
}

// StatsResult is returned by GetPipelineStats. Cycle times are in hours.
type StatsResult struct {
	CompanyCode          string                     `json:"company_code"`
	Side                 core.Side                  `json:"side"`
	From                 time.Time                  `json:"from"`
	To                   time.Time                  `json:"to"`
	CountsByStage        map[core.Stage]int         `json:"counts_by_stage"`
	QuotationToOrderRate decimal.Decimal            `json:"quotation_to_order_rate"`
	OrderToTerminalRate  decimal.Decimal            `json:"order_to_terminal_rate"`
	AvgCycleTimeHours    map[string]decimal.Decimal `json:"avg_cycle_time_hours"`
}

// FunnelResult is returned by GetFunnel.
type FunnelResult struct {
	CompanyCode string             `json:"company_code"`
	Side        core.Side          `json:"side"`
	Stages      []core.FunnelStage `json:"stages"`
}

// BottlenecksResult is returned by GetBottlenecks. Findings is never nil.
type BottlenecksResult struct {
	CompanyCode string   `json:"company_code"`
	Findings    []string `json:"findings"`
}

func newStatsResult(companyCode string, s *core.PipelineStats) *StatsResult {
	hours := make(map[string]decimal.Decimal, len(s.AvgCycleTime))
	for k, d := range s.AvgCycleTime {
		hours[k] = decimal.NewFromFloat(d.Hours()).Round(2)
	}
	return &StatsResult{
		CompanyCode:          companyCode,
		Side:                 s.Side,
		From:                 s.From,
		To:                   s.To,
		CountsByStage:        s.CountsByStage,
		QuotationToOrderRate: s.QuotationToOrderRate,
		OrderToTerminalRate:  s.OrderToTerminalRate,
		AvgCycleTimeHours:    hours,
	}
}
