package core

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
)

// LifecycleService covers what happens to documents between conversions:
// quotation intake, operational status changes and reads.
type LifecycleService interface {
	// CreateQuotation stores a PENDING quotation with amounts computed from its lines.
	CreateQuotation(ctx context.Context, tenantID int, in QuotationInput) (*CommercialDocument, error)
	// Transition applies a forward-only manual status change.
	Transition(ctx context.Context, tenantID, documentID int, to Status) (*CommercialDocument, error)
	GetDocument(ctx context.Context, tenantID, documentID int) (*CommercialDocument, error)
	ListDocuments(ctx context.Context, tenantID int, f DocumentFilter) ([]CommercialDocument, error)
}

// QuotationInput is the intake payload of a quotation.
type QuotationInput struct {
	Side                  Side
	CounterpartyID        int
	Lines                 []LineItem
	Currency              string
	Notes                 string
	RequestedDeliveryDate *time.Time
}

type LifecycleDeps struct {
	Repo     DocumentRepository
	Tax      TaxPolicy
	Currency string // used when the input names none
	Logger   *zap.Logger
	Now      func() time.Time
}

type lifecycleService struct {
	repo     DocumentRepository
	tax      TaxPolicy
	currency string
	log      *zap.Logger
	now      func() time.Time
}

func NewLifecycleService(deps LifecycleDeps) LifecycleService {
	s := &lifecycleService{
		repo:     deps.Repo,
		tax:      deps.Tax,
		currency: deps.Currency,
		log:      deps.Logger,
		now:      deps.Now,
	}
	if s.tax.isZero() {
		s.tax = DefaultTaxPolicy()
	}
	if s.currency == "" {
		s.currency = "INR"
	}
	if s.log == nil {
		s.log = zap.NewNop()
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

func (s *lifecycleService) CreateQuotation(ctx context.Context, tenantID int, in QuotationInput) (*CommercialDocument, error) {
	side, err := ParseSide(string(in.Side))
	if err != nil {
		return nil, err
	}
	if in.CounterpartyID <= 0 {
		return nil, fmt.Errorf("%w: counterparty is required", ErrInvalidInput)
	}

	lines := cloneLines(in.Lines)
	for i := range lines {
		lines[i].LineNumber = i + 1
		lines[i].ReceivedQuantity = nil
	}
	amounts, err := s.tax.Compute(lines)
	if err != nil {
		return nil, err
	}

	currency := strings.ToUpper(strings.TrimSpace(in.Currency))
	if currency == "" {
		currency = s.currency
	}

	doc := &CommercialDocument{
		TenantID:              tenantID,
		Side:                  side,
		Stage:                 StageQuotation,
		Status:                StatusPending,
		CounterpartyID:        in.CounterpartyID,
		Lines:                 lines,
		Amounts:               amounts,
		Currency:              currency,
		Notes:                 in.Notes,
		RequestedDeliveryDate: in.RequestedDeliveryDate,
		CreatedAt:             s.now(),
	}
	err = s.repo.WithTransaction(ctx, func(tx DocumentTx) error {
		return tx.Insert(ctx, doc)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create quotation: %w", err)
	}

	s.log.Info("quotation created",
		zap.Int("tenant_id", tenantID),
		zap.Int("document_id", doc.ID),
		zap.String("document_number", doc.DocumentNumber),
		zap.String("side", string(side)),
	)
	return doc, nil
}

func (s *lifecycleService) Transition(ctx context.Context, tenantID, documentID int, to Status) (*CommercialDocument, error) {
	doc, err := s.repo.FindByID(ctx, tenantID, documentID)
	if err != nil {
		return nil, err
	}

	if !CanTransition(doc.Stage, doc.Status, to) {
		ce := &ConversionError{
			Err:        ErrInvalidState,
			DocumentID: doc.ID,
			Stage:      doc.Stage,
			Status:     doc.Status,
		}
		if from := sourcesOf(doc.Stage, to); len(from) == 1 {
			ce.Expected = from[0]
		}
		ce.Details = transitionHint(doc, to)
		return nil, ce
	}

	if err := s.repo.UpdateStatus(ctx, tenantID, documentID, doc.Status, to); err != nil {
		return nil, err
	}

	s.log.Info("document status changed",
		zap.Int("tenant_id", tenantID),
		zap.Int("document_id", documentID),
		zap.String("from", string(doc.Status)),
		zap.String("to", string(to)),
	)
	return s.repo.FindByID(ctx, tenantID, documentID)
}

func transitionHint(doc *CommercialDocument, to Status) string {
	for _, r := range conversionRules {
		if r.From == doc.Stage && r.ConvertedStatus == to {
			return fmt.Sprintf("%s is set only by %s", to, r.Kind)
		}
	}
	next := NextStatuses(doc.Stage, doc.Status)
	if len(next) == 0 {
		return fmt.Sprintf("no manual transitions from %s", doc.Status)
	}
	names := make([]string, len(next))
	for i, n := range next {
		names[i] = string(n)
	}
	return fmt.Sprintf("cannot move to %s; allowed: %s", to, strings.Join(names, ", "))
}

// ── Queries ──────────────────────────────────────────────────────────────────

func (s *lifecycleService) GetDocument(ctx context.Context, tenantID, documentID int) (*CommercialDocument, error) {
	return s.repo.FindByID(ctx, tenantID, documentID)
}

func (s *lifecycleService) ListDocuments(ctx context.Context, tenantID int, f DocumentFilter) ([]CommercialDocument, error) {
	return s.repo.ListDocuments(ctx, tenantID, f)
}
