package app

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"commerce-pipeline/internal/core"
)

// Services are the core services the facade delegates to.
type Services struct {
	Companies   core.CompanyDirectory
	Lifecycle   core.LifecycleService
	Conversions core.ConversionService
	Analytics   core.AnalyticsService
	Logger      *zap.Logger
}

type appService struct {
	companies   core.CompanyDirectory
	lifecycle   core.LifecycleService
	conversions core.ConversionService
	analytics   core.AnalyticsService
	log         *zap.Logger
}

// NewAppService constructs an appService that satisfies ApplicationService.
func NewAppService(s Services) ApplicationService {
	log := s.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &appService{
		companies:   s.Companies,
		lifecycle:   s.Lifecycle,
		conversions: s.Conversions,
		analytics:   s.Analytics,
		log:         log,
	}
}

func fieldError(field, format string, args ...any) error {
	return fmt.Errorf("%w: %s %s", core.ErrInvalidInput, field, fmt.Sprintf(format, args...))
}

func (s *appService) ResolveCompany(ctx context.Context, companyCode string) (*core.Company, error) {
	if companyCode == "" {
		return nil, fieldError("company_code", "is required")
	}
	return s.companies.ResolveCompany(ctx, companyCode)
}

// ── Documents ────────────────────────────────────────────────────────────────

func (s *appService) CreateQuotation(ctx context.Context, req CreateQuotationRequest) (*DocumentResult, error) {
	company, err := s.ResolveCompany(ctx, req.CompanyCode)
	if err != nil {
		return nil, err
	}
	delivery, err := parseDate("requested_delivery_date", req.RequestedDeliveryDate)
	if err != nil {
		return nil, err
	}
	currency := req.Currency
	if currency == "" {
		currency = company.BaseCurrency
	}

	doc, err := s.lifecycle.CreateQuotation(ctx, company.ID, core.QuotationInput{
		Side:                  core.Side(req.Side),
		CounterpartyID:        req.CounterpartyID,
		Lines:                 req.Lines,
		Currency:              currency,
		Notes:                 req.Notes,
		RequestedDeliveryDate: delivery,
	})
	if err != nil {
		return nil, err
	}
	return newDocumentResult(company.CompanyCode, doc), nil
}

func (s *appService) GetDocument(ctx context.Context, companyCode string, documentID int) (*DocumentResult, error) {
	company, err := s.ResolveCompany(ctx, companyCode)
	if err != nil {
		return nil, err
	}
	doc, err := s.lifecycle.GetDocument(ctx, company.ID, documentID)
	if err != nil {
		return nil, err
	}
	return newDocumentResult(company.CompanyCode, doc), nil
}

func (s *appService) ListDocuments(ctx context.Context, req ListDocumentsRequest) (*DocumentListResult, error) {
	company, err := s.ResolveCompany(ctx, req.CompanyCode)
	if err != nil {
		return nil, err
	}

	var f core.DocumentFilter
	if req.Side != "" {
		if f.Side, err = core.ParseSide(req.Side); err != nil {
			return nil, err
		}
	}
	if f.Stage, err = core.ParseStage(req.Stage); err != nil {
		return nil, err
	}
	if f.Status, err = core.ParseStatus(req.Status); err != nil {
		return nil, err
	}
	if req.Limit < 0 {
		return nil, fieldError("limit", "cannot be negative")
	}
	f.Limit = req.Limit

	docs, err := s.lifecycle.ListDocuments(ctx, company.ID, f)
	if err != nil {
		return nil, err
	}
	if docs == nil {
		docs = []core.CommercialDocument{}
	}
	return &DocumentListResult{CompanyCode: company.CompanyCode, Documents: docs}, nil
}

func (s *appService) TransitionDocument(ctx context.Context, companyCode string, documentID int, status string) (*DocumentResult, error) {
	company, err := s.ResolveCompany(ctx, companyCode)
	if err != nil {
		return nil, err
	}
	to, err := core.ParseStatus(status)
	if err != nil {
		return nil, err
	}
	if to == "" {
		return nil, fieldError("status", "is required")
	}
	doc, err := s.lifecycle.Transition(ctx, company.ID, documentID, to)
	if err != nil {
		return nil, err
	}
	return newDocumentResult(company.CompanyCode, doc), nil
}

func newDocumentResult(companyCode string, doc *core.CommercialDocument) *DocumentResult {
	next := core.NextStatuses(doc.Stage, doc.Status)
	if next == nil {
		next = []core.Status{}
	}
	return &DocumentResult{CompanyCode: companyCode, Document: doc, NextStatuses: next}
}

// ── Conversions ──────────────────────────────────────────────────────────────

func (s *appService) ConvertQuotationToOrder(ctx context.Context, req ConvertRequest) (*core.OrderConversion, error) {
	company, err := s.ResolveCompany(ctx, req.CompanyCode)
	if err != nil {
		return nil, err
	}
	delivery, err := parseDate("requested_delivery_date", req.RequestedDeliveryDate)
	if err != nil {
		return nil, err
	}
	return s.conversions.ConvertQuotationToOrder(ctx, company.ID, req.DocumentID, core.OrderOptions{
		Notes:                 req.Notes,
		RequestedDeliveryDate: delivery,
	})
}

func (s *appService) ConvertOrderToInvoice(ctx context.Context, req ConvertRequest) (*core.InvoiceConversion, error) {
	company, err := s.ResolveCompany(ctx, req.CompanyCode)
	if err != nil {
		return nil, err
	}
	return s.conversions.ConvertOrderToInvoice(ctx, company.ID, req.DocumentID, core.InvoiceOptions{Notes: req.Notes})
}

func (s *appService) ConvertOrderToReceipt(ctx context.Context, req ReceiptRequest) (*core.ReceiptConversion, error) {
	company, err := s.ResolveCompany(ctx, req.CompanyCode)
	if err != nil {
		return nil, err
	}
	return s.conversions.ConvertOrderToReceipt(ctx, company.ID, req.DocumentID, core.ReceiptOptions{
		Notes:              req.Notes,
		ReceivedQuantities: req.ReceivedQuantities,
	})
}

func (s *appService) RunFullPipeline(ctx context.Context, req PipelineRequest) (*core.PipelineRun, error) {
	company, err := s.ResolveCompany(ctx, req.CompanyCode)
	if err != nil {
		return nil, err
	}
	delivery, err := parseDate("requested_delivery_date", req.RequestedDeliveryDate)
	if err != nil {
		return nil, err
	}
	return s.conversions.RunFullPipeline(ctx, company.ID, req.QuotationID, core.PipelineOptions{
		AutoIssueTerminal:     req.AutoIssueTerminal,
		RequestedDeliveryDate: delivery,
		Notes:                 req.Notes,
	})
}

// ── Analytics ────────────────────────────────────────────────────────────────

// analyticsQuery turns inclusive calendar dates into the half-open window
// [from 00:00, day after to 00:00).
func (s *appService) analyticsQuery(ctx context.Context, req AnalyticsRequest) (*core.Company, core.AnalyticsQuery, error) {
	var q core.AnalyticsQuery
	company, err := s.ResolveCompany(ctx, req.CompanyCode)
	if err != nil {
		return nil, q, err
	}
	if q.Side, err = core.ParseSide(req.Side); err != nil {
		return nil, q, err
	}
	from, err := parseDate("from", req.From)
	if err != nil {
		return nil, q, err
	}
	to, err := parseDate("to", req.To)
	if err != nil {
		return nil, q, err
	}
	q.TenantID = company.ID
	if from != nil {
		q.Window.From = *from
	}
	if to != nil {
		q.Window.To = to.AddDate(0, 0, 1)
	}
	return company, q, nil
}

func (s *appService) GetPipelineStats(ctx context.Context, req AnalyticsRequest) (*StatsResult, error) {
	company, q, err := s.analyticsQuery(ctx, req)
	if err != nil {
		return nil, err
	}
	stats, err := s.analytics.Stats(ctx, q)
	if err != nil {
		return nil, err
	}
	return newStatsResult(company.CompanyCode, stats), nil
}

func (s *appService) GetFunnel(ctx context.Context, req AnalyticsRequest) (*FunnelResult, error) {
	company, q, err := s.analyticsQuery(ctx, req)
	if err != nil {
		return nil, err
	}
	stages, err := s.analytics.Funnel(ctx, q)
	if err != nil {
		return nil, err
	}
	return &FunnelResult{CompanyCode: company.CompanyCode, Side: q.Side, Stages: stages}, nil
}

func (s *appService) GetBottlenecks(ctx context.Context, companyCode string) (*BottlenecksResult, error) {
	company, err := s.ResolveCompany(ctx, companyCode)
	if err != nil {
		return nil, err
	}
	findings, err := s.analytics.Bottlenecks(ctx, company.ID)
	if err != nil {
		return nil, err
	}
	if len(findings) > 0 {
		s.log.Info("pipeline bottlenecks detected",
			zap.String("company_code", company.CompanyCode),
			zap.Int("findings", len(findings)),
		)
	}
	return &BottlenecksResult{CompanyCode: company.CompanyCode, Findings: findings}, nil
}
