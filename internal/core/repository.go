package core

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// DocumentRepository persists commercial documents. Every call is scoped by
// tenant; a document owned by another tenant is reported as not found.
type DocumentRepository interface {
	FindByID(ctx context.Context, tenantID, id int) (*CommercialDocument, error)
	// FindSuccessorOf returns nil, nil when the document has not been converted.
	FindSuccessorOf(ctx context.Context, tenantID, predecessorID int) (*CommercialDocument, error)
	ListDocuments(ctx context.Context, tenantID int, f DocumentFilter) ([]CommercialDocument, error)
	// UpdateStatus is a compare-and-set: it fails with ErrInvalidState when the
	// current status is not `from`.
	UpdateStatus(ctx context.Context, tenantID, id int, from, to Status) error
	// WithTransaction runs fn in one atomic unit. A returned error rolls back.
	// A violated one-successor constraint surfaces as ErrStorageConflict.
	WithTransaction(ctx context.Context, fn func(tx DocumentTx) error) error
}

// DocumentTx is the write side of DocumentRepository inside one transaction.
type DocumentTx interface {
	// LockByID reads the document and holds it against concurrent writers.
	LockByID(ctx context.Context, tenantID, id int) (*CommercialDocument, error)
	FindSuccessorOf(ctx context.Context, tenantID, predecessorID int) (*CommercialDocument, error)
	// Insert stores doc, assigning ID and DocumentNumber. CreatedAt is kept
	// when set.
	Insert(ctx context.Context, doc *CommercialDocument) error
	UpdateStatus(ctx context.Context, tenantID, id int, from, to Status) error
}

// DocumentFilter narrows ListDocuments. Zero fields do not filter.
type DocumentFilter struct {
	Side   Side
	Stage  Stage
	Status Status
	Limit  int
}

func (f DocumentFilter) matches(d *CommercialDocument) bool {
	if f.Side != "" && d.Side != f.Side {
		return false
	}
	if f.Stage != "" && d.Stage != f.Stage {
		return false
	}
	if f.Status != "" && d.Status != f.Status {
		return false
	}
	return true
}

// CompanyDirectory resolves tenant company codes.
type CompanyDirectory interface {
	ResolveCompany(ctx context.Context, companyCode string) (*Company, error)
}

// ── Analytics read model ─────────────────────────────────────────────────────

// Window is the half-open interval [From, To) on document creation time.
type Window struct {
	From time.Time
	To   time.Time
}

func (w Window) contains(t time.Time) bool {
	return !t.Before(w.From) && t.Before(w.To)
}

// StageSummary aggregates the documents of one stage created in a window.
type StageSummary struct {
	Stage Stage
	Count int
	Total decimal.Decimal
}

// ConversionPair is one predecessor/successor link whose predecessor was
// created in the window.
type ConversionPair struct {
	From                 Stage
	To                   Stage
	PredecessorCreatedAt time.Time
	SuccessorCreatedAt   time.Time
}

// PipelineReader is the read-only query port used by AnalyticsService.
type PipelineReader interface {
	StageSummaries(ctx context.Context, tenantID int, side Side, w Window) ([]StageSummary, error)
	ConversionPairs(ctx context.Context, tenantID int, side Side, w Window) ([]ConversionPair, error)
	// CountStale counts documents sitting in status since before olderThan.
	CountStale(ctx context.Context, tenantID int, side Side, stage Stage, status Status, olderThan time.Time) (int, error)
}
