package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// defaultSyncTimeout bounds the post-commit inventory notification.
const defaultSyncTimeout = 2 * time.Second

// stepOrderAdvance names the pipeline step that walks an order to SHIPPED.
const stepOrderAdvance = "ORDER_ADVANCE"

// orderAdvancePath is the order status sequence RunFullPipeline walks through
// before the terminal conversion. No status is skipped.
var orderAdvancePath = []Status{StatusConfirmed, StatusInProgress, StatusShipped}

// ConversionService advances documents from one pipeline stage to the next.
type ConversionService interface {
	// ConvertQuotationToOrder turns an ACCEPTED quotation into a PENDING order.
	ConvertQuotationToOrder(ctx context.Context, tenantID, quotationID int, opts OrderOptions) (*OrderConversion, error)
	// ConvertOrderToInvoice turns a SHIPPED sales order into an ISSUED invoice.
	ConvertOrderToInvoice(ctx context.Context, tenantID, orderID int, opts InvoiceOptions) (*InvoiceConversion, error)
	// ConvertOrderToReceipt turns a SHIPPED purchase order into an ISSUED goods
	// receipt and then notifies inventory.
	ConvertOrderToReceipt(ctx context.Context, tenantID, orderID int, opts ReceiptOptions) (*ReceiptConversion, error)
	// RunFullPipeline converts the quotation and, when AutoIssueTerminal is set,
	// ships the order and converts it to its terminal document. A failure after
	// the first conversion is reported in the run, not as an error.
	RunFullPipeline(ctx context.Context, tenantID, quotationID int, opts PipelineOptions) (*PipelineRun, error)

	// Convert runs any rule. The named methods above are thin wrappers.
	Convert(ctx context.Context, rule ConversionRule, tenantID, sourceID int, opts ConvertOptions) (*Conversion, error)
}

// ConversionDeps wires a ConversionService.
type ConversionDeps struct {
	Repo        DocumentRepository
	Tax         TaxPolicy         // zero value: DefaultTaxPolicy
	Inventory   InventorySync     // nil: receipts are not signalled
	Permissions PermissionChecker // nil: every actor may convert
	Logger      *zap.Logger
	SyncTimeout time.Duration
	Now         func() time.Time
}

type conversionService struct {
	repo        DocumentRepository
	tax         TaxPolicy
	inventory   InventorySync
	permissions PermissionChecker
	log         *zap.Logger
	syncTimeout time.Duration
	now         func() time.Time
}

func NewConversionService(deps ConversionDeps) ConversionService {
	s := &conversionService{
		repo:        deps.Repo,
		tax:         deps.Tax,
		inventory:   deps.Inventory,
		permissions: deps.Permissions,
		log:         deps.Logger,
		syncTimeout: deps.SyncTimeout,
		now:         deps.Now,
	}
	if s.tax.isZero() {
		s.tax = DefaultTaxPolicy()
	}
	if s.log == nil {
		s.log = zap.NewNop()
	}
	if s.syncTimeout <= 0 {
		s.syncTimeout = defaultSyncTimeout
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// ── Named conversions ────────────────────────────────────────────────────────

func (s *conversionService) ConvertQuotationToOrder(ctx context.Context, tenantID, quotationID int, opts OrderOptions) (*OrderConversion, error) {
	rule, _ := RuleFor(RuleQuotationToOrder)
	c, err := s.Convert(ctx, rule, tenantID, quotationID, ConvertOptions{
		Notes:                 opts.Notes,
		RequestedDeliveryDate: opts.RequestedDeliveryDate,
	})
	if err != nil {
		return nil, err
	}
	return &OrderConversion{Quotation: c.Source, Order: c.Destination}, nil
}

func (s *conversionService) ConvertOrderToInvoice(ctx context.Context, tenantID, orderID int, opts InvoiceOptions) (*InvoiceConversion, error) {
	rule, _ := RuleFor(RuleOrderToInvoice)
	c, err := s.Convert(ctx, rule, tenantID, orderID, ConvertOptions{Notes: opts.Notes})
	if err != nil {
		return nil, err
	}
	return &InvoiceConversion{Order: c.Source, Invoice: c.Destination}, nil
}

func (s *conversionService) ConvertOrderToReceipt(ctx context.Context, tenantID, orderID int, opts ReceiptOptions) (*ReceiptConversion, error) {
	rule, _ := RuleFor(RuleOrderToReceipt)
	c, err := s.Convert(ctx, rule, tenantID, orderID, ConvertOptions{
		Notes:              opts.Notes,
		ReceivedQuantities: opts.ReceivedQuantities,
	})
	if err != nil {
		return nil, err
	}
	return &ReceiptConversion{
		Order:           c.Source,
		Receipt:         c.Destination,
		InventorySynced: c.InventorySynced,
		SyncError:       c.SyncError,
	}, nil
}

// ── Generic conversion ───────────────────────────────────────────────────────

// Convert runs the conversion protocol for rule:
//
//  1. check the actor's permission
//  2. lock the source (tenant scoped)
//  3. reject a source that already has a successor (AlreadyConverted)
//  4. require rule.RequiredStatus (InvalidState)
//  5. recompute amounts from the source lines
//  6. insert the successor and move the source to rule.ConvertedStatus atomically
//  7. after commit, notify inventory when the rule asks for it
//
// The successor check runs before the status check so that a repeated call
// reports AlreadyConverted instead of complaining about the CONVERTED status.
func (s *conversionService) Convert(ctx context.Context, rule ConversionRule, tenantID, sourceID int, opts ConvertOptions) (*Conversion, error) {
	if err := s.authorize(ctx, tenantID, sourceID); err != nil {
		return nil, err
	}

	result := &Conversion{Rule: rule.Kind}
	err := s.repo.WithTransaction(ctx, func(tx DocumentTx) error {
		src, err := tx.LockByID(ctx, tenantID, sourceID)
		if err != nil {
			return err
		}
		if !rule.Applies(src) {
			return rule.mismatch(src)
		}

		successor, err := tx.FindSuccessorOf(ctx, tenantID, src.ID)
		if err != nil {
			return err
		}
		if successor != nil {
			return alreadyConverted(src, successor.ID)
		}

		if src.Status != rule.RequiredStatus {
			return &ConversionError{
				Err:        ErrInvalidState,
				DocumentID: src.ID,
				Stage:      src.Stage,
				Status:     src.Status,
				Expected:   rule.RequiredStatus,
			}
		}

		// Stored totals are never reused.
		amounts, err := s.tax.Compute(src.Lines)
		if err != nil {
			var ce *ConversionError
			if errors.As(err, &ce) {
				ce.DocumentID, ce.Stage, ce.Status = src.ID, src.Stage, src.Status
			}
			return err
		}

		lines, err := destinationLines(src, rule, opts.ReceivedQuantities)
		if err != nil {
			return err
		}

		now := s.now()
		predecessorID := src.ID
		dst := &CommercialDocument{
			TenantID:              tenantID,
			Side:                  src.Side,
			Stage:                 rule.To,
			Status:                rule.InitialStatus,
			CounterpartyID:        src.CounterpartyID,
			PredecessorID:         &predecessorID,
			Lines:                 lines,
			Amounts:               amounts,
			Currency:              src.Currency,
			Notes:                 opts.Notes,
			RequestedDeliveryDate: opts.RequestedDeliveryDate,
			CreatedAt:             now,
		}
		if rule.InitialStatus == StatusIssued {
			dst.IssuedAt = &now
		}

		if err := tx.Insert(ctx, dst); err != nil {
			return err
		}
		if err := tx.UpdateStatus(ctx, tenantID, src.ID, rule.RequiredStatus, rule.ConvertedStatus); err != nil {
			return err
		}

		src.Status = rule.ConvertedStatus
		src.StatusChangedAt = &now
		result.Source = src
		result.Destination = dst
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrStorageConflict) {
			return nil, s.resolveConflict(ctx, tenantID, sourceID, err)
		}
		return nil, err
	}

	s.log.Info("document converted",
		zap.String("rule", string(rule.Kind)),
		zap.Int("tenant_id", tenantID),
		zap.Int("source_id", result.Source.ID),
		zap.Int("destination_id", result.Destination.ID),
		zap.String("document_number", result.Destination.DocumentNumber),
		zap.String("total", result.Destination.Total.StringFixed(s.tax.Places)),
	)

	if rule.SignalsInventory {
		s.signalInventory(ctx, result)
	}
	return result, nil
}

func (s *conversionService) authorize(ctx context.Context, tenantID, documentID int) error {
	if s.permissions == nil {
		return nil
	}
	actorID, _ := ActorFromContext(ctx)
	ok, err := s.permissions.CanConvert(ctx, actorID, tenantID, documentID)
	if err != nil {
		return fmt.Errorf("failed to check conversion permission: %w", err)
	}
	if !ok {
		return &ConversionError{
			Err:        ErrForbidden,
			DocumentID: documentID,
			Details:    fmt.Sprintf("actor %d may not convert documents of tenant %d", actorID, tenantID),
		}
	}
	return nil
}

// resolveConflict turns a lost race on the one-successor constraint into
// AlreadyConverted after one more successor lookup.
func (s *conversionService) resolveConflict(ctx context.Context, tenantID, sourceID int, cause error) error {
	s.log.Info("concurrent conversion detected",
		zap.Int("tenant_id", tenantID),
		zap.Int("source_id", sourceID),
		zap.Error(cause),
	)

	ce := &ConversionError{Err: ErrAlreadyConverted, DocumentID: sourceID}
	if src, err := s.repo.FindByID(ctx, tenantID, sourceID); err == nil {
		ce.Stage, ce.Status = src.Stage, src.Status
	}
	successor, err := s.repo.FindSuccessorOf(ctx, tenantID, sourceID)
	if err == nil && successor != nil {
		id := successor.ID
		ce.SuccessorID = &id
	} else {
		ce.Details = "a concurrent conversion committed first"
	}
	return ce
}

// signalInventory notifies InventorySync without letting it hold the caller
// longer than syncTimeout. Failures are logged and recorded on the result.
func (s *conversionService) signalInventory(ctx context.Context, c *Conversion) {
	if s.inventory == nil {
		return
	}
	receiptID := c.Destination.ID
	lines := cloneLines(c.Destination.Lines)

	syncCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.syncTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- s.inventory.NotifyReceipt(syncCtx, receiptID, lines)
	}()

	var err error
	select {
	case err = <-done:
	case <-syncCtx.Done():
		err = syncCtx.Err()
	}
	if err != nil {
		syncErr := fmt.Errorf("%w: receipt %d: %v", ErrDownstreamSyncFailed, receiptID, err)
		s.log.Warn("inventory sync failed",
			zap.Int("receipt_id", receiptID),
			zap.Duration("timeout", s.syncTimeout),
			zap.Error(syncErr),
		)
		c.SyncError = syncErr.Error()
		return
	}
	c.InventorySynced = true
}

// destinationLines copies the source lines. For goods receipts it also records
// the received quantity of every line, defaulting to the ordered quantity.
func destinationLines(src *CommercialDocument, rule ConversionRule, received map[int]int64) ([]LineItem, error) {
	lines := cloneLines(src.Lines)
	if rule.To != StageReceipt {
		if len(received) > 0 {
			return nil, &ConversionError{
				Err:        ErrInvalidLineItem,
				DocumentID: src.ID,
				Details:    "received quantities apply only to goods receipts",
			}
		}
		return lines, nil
	}

	known := make(map[int]bool, len(lines))
	for i := range lines {
		l := &lines[i]
		known[l.LineNumber] = true
		qty := l.Quantity
		if q, ok := received[l.LineNumber]; ok {
			if q <= 0 || q > l.Quantity {
				return nil, &ConversionError{
					Err:        ErrInvalidLineItem,
					DocumentID: src.ID,
					Details:    fmt.Sprintf("line %d: received quantity %d must be between 1 and ordered quantity %d", l.LineNumber, q, l.Quantity),
				}
			}
			qty = q
		}
		l.ReceivedQuantity = &qty
	}
	for n := range received {
		if !known[n] {
			return nil, &ConversionError{
				Err:        ErrInvalidLineItem,
				DocumentID: src.ID,
				Details:    fmt.Sprintf("line %d does not exist on order %d", n, src.ID),
			}
		}
	}
	return lines, nil
}

// ── Compound pipeline ────────────────────────────────────────────────────────

func (s *conversionService) RunFullPipeline(ctx context.Context, tenantID, quotationID int, opts PipelineOptions) (*PipelineRun, error) {
	oc, err := s.ConvertQuotationToOrder(ctx, tenantID, quotationID, OrderOptions{
		Notes:                 opts.Notes,
		RequestedDeliveryDate: opts.RequestedDeliveryDate,
	})
	if err != nil {
		return nil, err
	}

	run := &PipelineRun{
		Quotation: oc.Quotation,
		Order:     oc.Order,
		Steps: []PipelineStep{
			{Name: string(RuleQuotationToOrder), Completed: true, DocumentID: oc.Order.ID},
		},
	}

	terminal := TerminalRule(oc.Order.Side)
	if !opts.AutoIssueTerminal {
		run.Steps = append(run.Steps, PipelineStep{Name: string(terminal.Kind), Skipped: true})
		return run, nil
	}

	if err := s.advanceOrder(ctx, tenantID, run.Order); err != nil {
		run.fail(stepOrderAdvance, run.Order.ID, err)
		s.logPartial(tenantID, quotationID, stepOrderAdvance, err)
		return run, nil
	}
	run.Steps = append(run.Steps, PipelineStep{Name: stepOrderAdvance, Completed: true, DocumentID: run.Order.ID})

	c, err := s.Convert(ctx, terminal, tenantID, run.Order.ID, ConvertOptions{Notes: opts.Notes})
	if err != nil {
		run.fail(string(terminal.Kind), run.Order.ID, err)
		s.logPartial(tenantID, quotationID, string(terminal.Kind), err)
		return run, nil
	}
	run.Order = c.Source
	run.Terminal = c.Destination
	run.InventorySynced = c.InventorySynced
	run.SyncError = c.SyncError
	run.Steps = append(run.Steps, PipelineStep{Name: string(terminal.Kind), Completed: true, DocumentID: c.Destination.ID})
	return run, nil
}

// advanceOrder walks a freshly created order through orderAdvancePath.
func (s *conversionService) advanceOrder(ctx context.Context, tenantID int, order *CommercialDocument) error {
	for _, next := range orderAdvancePath {
		if err := s.repo.UpdateStatus(ctx, tenantID, order.ID, order.Status, next); err != nil {
			return err
		}
		order.Status = next
	}
	return nil
}

func (s *conversionService) logPartial(tenantID, quotationID int, step string, err error) {
	s.log.Warn("pipeline run stopped after first conversion",
		zap.Int("tenant_id", tenantID),
		zap.Int("quotation_id", quotationID),
		zap.String("step", step),
		zap.Error(err),
	)
}
