package app

import (
	"context"

	"commerce-pipeline/internal/core"
)

// ApplicationService is the single interface all adapters (CLI, Web) call.
// It resolves company codes to tenants and turns adapter input into core calls.
// Implementations contain no display logic of any kind.
//
// The acting user travels in ctx (core.WithActor); conversions are checked
// against it.
type ApplicationService interface {
	// ResolveCompany returns the tenant behind a company code.
	ResolveCompany(ctx context.Context, companyCode string) (*core.Company, error)

	// CreateQuotation stores a new PENDING quotation.
	CreateQuotation(ctx context.Context, req CreateQuotationRequest) (*DocumentResult, error)

	// GetDocument returns one document of the company by id.
	GetDocument(ctx context.Context, companyCode string, documentID int) (*DocumentResult, error)

	// ListDocuments returns the company's documents, newest first.
	ListDocuments(ctx context.Context, req ListDocumentsRequest) (*DocumentListResult, error)

	// TransitionDocument applies a manual status change.
	TransitionDocument(ctx context.Context, companyCode string, documentID int, status string) (*DocumentResult, error)

	// ConvertQuotationToOrder turns an ACCEPTED quotation into a PENDING order.
	ConvertQuotationToOrder(ctx context.Context, req ConvertRequest) (*core.OrderConversion, error)

	// ConvertOrderToInvoice turns a SHIPPED sales order into an invoice.
	ConvertOrderToInvoice(ctx context.Context, req ConvertRequest) (*core.InvoiceConversion, error)

	// ConvertOrderToReceipt turns a SHIPPED purchase order into a goods receipt.
	ConvertOrderToReceipt(ctx context.Context, req ReceiptRequest) (*core.ReceiptConversion, error)

	// RunFullPipeline converts a quotation and optionally carries it through to
	// its terminal document.
	RunFullPipeline(ctx context.Context, req PipelineRequest) (*core.PipelineRun, error)

	// GetPipelineStats returns counts, conversion rates and cycle times.
	GetPipelineStats(ctx context.Context, req AnalyticsRequest) (*StatsResult, error)

	// GetFunnel returns one row per pipeline stage.
	GetFunnel(ctx context.Context, req AnalyticsRequest) (*FunnelResult, error)

	// GetBottlenecks returns the threshold violations of both pipelines.
	GetBottlenecks(ctx context.Context, companyCode string) (*BottlenecksResult, error)
}
