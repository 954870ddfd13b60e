package core

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Side distinguishes the sales pipeline from the purchase pipeline.
type Side string

const (
	SideSales    Side = "SALES"
	SidePurchase Side = "PURCHASE"
)

// ParseSide normalises a side name. An empty value defaults to SALES.
func ParseSide(s string) (Side, error) {
	switch Side(strings.ToUpper(strings.TrimSpace(s))) {
	case "", SideSales:
		return SideSales, nil
	case SidePurchase:
		return SidePurchase, nil
	}
	return "", fmt.Errorf("%w: unknown side %q (must be SALES or PURCHASE)", ErrInvalidInput, s)
}

// Stage is the position of a document in the pipeline.
type Stage string

const (
	StageQuotation Stage = "QUOTATION"
	StageOrder     Stage = "ORDER"
	StageInvoice   Stage = "INVOICE" // sales terminal
	StageReceipt   Stage = "RECEIPT" // purchase terminal (goods receipt)
)

// Rank orders stages so that a successor always ranks above its predecessor.
func (s Stage) Rank() int {
	switch s {
	case StageQuotation:
		return 0
	case StageOrder:
		return 1
	case StageInvoice, StageReceipt:
		return 2
	}
	return -1
}

func (s Stage) label() string {
	return strings.ToLower(string(s))
}

// ParseStage normalises a stage name. An empty value stays empty.
func ParseStage(s string) (Stage, error) {
	st := Stage(strings.ToUpper(strings.TrimSpace(s)))
	if st == "" || st.Rank() >= 0 {
		return st, nil
	}
	return "", fmt.Errorf("%w: unknown stage %q", ErrInvalidInput, s)
}

// TerminalStage returns the last stage of the pipeline for a side.
func TerminalStage(side Side) Stage {
	if side == SidePurchase {
		return StageReceipt
	}
	return StageInvoice
}

// PipelineStages lists the stages of a side in pipeline order.
func PipelineStages(side Side) []Stage {
	return []Stage{StageQuotation, StageOrder, TerminalStage(side)}
}

// Status is a stage-specific document status.
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusAccepted   Status = "ACCEPTED"
	StatusConverted  Status = "CONVERTED"
	StatusRejected   Status = "REJECTED"
	StatusConfirmed  Status = "CONFIRMED"
	StatusInProgress Status = "IN_PROGRESS"
	StatusShipped    Status = "SHIPPED"
	StatusInvoiced   Status = "INVOICED"
	StatusReceived   Status = "RECEIVED"
	StatusCancelled  Status = "CANCELLED"
	StatusIssued     Status = "ISSUED"
)

var knownStatuses = map[Status]bool{
	StatusPending: true, StatusAccepted: true, StatusConverted: true, StatusRejected: true,
	StatusConfirmed: true, StatusInProgress: true, StatusShipped: true, StatusInvoiced: true,
	StatusReceived: true, StatusCancelled: true, StatusIssued: true,
}

// ParseStatus normalises a status name. An empty value stays empty.
func ParseStatus(s string) (Status, error) {
	st := Status(strings.ToUpper(strings.TrimSpace(s)))
	if st == "" || knownStatuses[st] {
		return st, nil
	}
	return "", fmt.Errorf("%w: unknown status %q", ErrInvalidInput, s)
}

// manualTransitions holds the status changes that operational callers may request.
// CONVERTED, INVOICED and RECEIVED are reached only through a conversion.
var manualTransitions = map[Stage]map[Status][]Status{
	StageQuotation: {
		StatusPending:  {StatusAccepted, StatusRejected},
		StatusAccepted: {StatusRejected},
	},
	StageOrder: {
		StatusPending:    {StatusConfirmed, StatusCancelled},
		StatusConfirmed:  {StatusInProgress, StatusCancelled},
		StatusInProgress: {StatusShipped, StatusCancelled},
	},
	StageInvoice: {
		StatusIssued: {StatusCancelled},
	},
	StageReceipt: {
		StatusIssued: {StatusCancelled},
	},
}

// NextStatuses returns the statuses a document may be moved to by hand.
func NextStatuses(stage Stage, from Status) []Status {
	return manualTransitions[stage][from]
}

// CanTransition reports whether from → to is an allowed manual status change.
func CanTransition(stage Stage, from, to Status) bool {
	for _, s := range manualTransitions[stage][from] {
		if s == to {
			return true
		}
	}
	return false
}

// sourcesOf returns every status from which `to` can be reached by hand.
func sourcesOf(stage Stage, to Status) []Status {
	var out []Status
	for from, next := range manualTransitions[stage] {
		for _, s := range next {
			if s == to {
				out = append(out, from)
			}
		}
	}
	return out
}

// DocumentTypeCode returns the numbering prefix for a side and stage.
func DocumentTypeCode(side Side, stage Stage) string {
	if side == SidePurchase {
		switch stage {
		case StageQuotation:
			return "PQ"
		case StageOrder:
			return "PO"
		case StageReceipt:
			return "GR"
		}
	}
	switch stage {
	case StageQuotation:
		return "SQ"
	case StageOrder:
		return "SO"
	case StageInvoice:
		return "SI"
	}
	return "XX"
}

// LineItem is one priced line on a commercial document.
// ReceivedQuantity is only set on goods receipt lines.
type LineItem struct {
	LineNumber       int             `json:"line_number"`
	ProductID        int             `json:"product_id"`
	Description      string          `json:"description,omitempty"`
	Quantity         int64           `json:"quantity"`
	UnitPrice        decimal.Decimal `json:"unit_price"`
	LineDiscount     decimal.Decimal `json:"line_discount"`
	ReceivedQuantity *int64          `json:"received_quantity,omitempty"`
}

// Amounts are always derived from line items by TaxPolicy.Compute.
type Amounts struct {
	Subtotal decimal.Decimal `json:"subtotal"`
	Discount decimal.Decimal `json:"discount"`
	Tax      decimal.Decimal `json:"tax"`
	Total    decimal.Decimal `json:"total"`
}

// CommercialDocument is a quotation, order, invoice or goods receipt.
// PredecessorID links a converted document back to its source.
type CommercialDocument struct {
	ID                    int        `json:"id"`
	TenantID              int        `json:"tenant_id"`
	Side                  Side       `json:"side"`
	Stage                 Stage      `json:"stage"`
	Status                Status     `json:"status"`
	DocumentNumber        string     `json:"document_number"`
	CounterpartyID        int        `json:"counterparty_id"`
	PredecessorID         *int       `json:"predecessor_id,omitempty"`
	Lines                 []LineItem `json:"lines"`
	Amounts
	Currency              string     `json:"currency"`
	Notes                 string     `json:"notes"`
	RequestedDeliveryDate *time.Time `json:"requested_delivery_date,omitempty"`
	CreatedAt             time.Time  `json:"created_at"`
	IssuedAt              *time.Time `json:"issued_at,omitempty"`
	StatusChangedAt       *time.Time `json:"status_changed_at,omitempty"`
}

// clone returns a deep copy so that stored documents are never shared with callers.
func (d *CommercialDocument) clone() *CommercialDocument {
	if d == nil {
		return nil
	}
	c := *d
	c.Lines = cloneLines(d.Lines)
	if d.PredecessorID != nil {
		id := *d.PredecessorID
		c.PredecessorID = &id
	}
	c.RequestedDeliveryDate = cloneTime(d.RequestedDeliveryDate)
	c.IssuedAt = cloneTime(d.IssuedAt)
	c.StatusChangedAt = cloneTime(d.StatusChangedAt)
	return &c
}

func cloneLines(lines []LineItem) []LineItem {
	if lines == nil {
		return nil
	}
	out := make([]LineItem, len(lines))
	for i, l := range lines {
		out[i] = l
		if l.ReceivedQuantity != nil {
			q := *l.ReceivedQuantity
			out[i].ReceivedQuantity = &q
		}
	}
	return out
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// Company is a tenant.
type Company struct {
	ID           int    `json:"id"`
	CompanyCode  string `json:"company_code"`
	Name         string `json:"name"`
	BaseCurrency string `json:"base_currency"`
}
