package core

import "time"

// OrderOptions are caller-supplied fields of a new order.
type OrderOptions struct {
	Notes                 string
	RequestedDeliveryDate *time.Time
}

type InvoiceOptions struct {
	Notes string
}

// ReceiptOptions carries the quantities actually received, keyed by order
// line number. Lines not listed are received in full. Amounts are always
// computed from the ordered quantities.
type ReceiptOptions struct {
	ReceivedQuantities map[int]int64
	Notes              string
}

type PipelineOptions struct {
	AutoIssueTerminal     bool
	RequestedDeliveryDate *time.Time
	Notes                 string
}

// ConvertOptions is the union of the per-rule options.
type ConvertOptions struct {
	Notes                 string
	RequestedDeliveryDate *time.Time
	ReceivedQuantities    map[int]int64
}

// Conversion is the outcome of ConversionService.Convert.
type Conversion struct {
	Rule            RuleKind
	Source          *CommercialDocument
	Destination     *CommercialDocument
	InventorySynced bool
	SyncError       string
}

type OrderConversion struct {
	Quotation *CommercialDocument `json:"quotation"`
	Order     *CommercialDocument `json:"order"`
}

type InvoiceConversion struct {
	Order   *CommercialDocument `json:"order"`
	Invoice *CommercialDocument `json:"invoice"`
}

// ReceiptConversion reports the inventory signal separately: a failed sync
// leaves the committed receipt in place.
type ReceiptConversion struct {
	Order           *CommercialDocument `json:"order"`
	Receipt         *CommercialDocument `json:"receipt"`
	InventorySynced bool                `json:"inventory_synced"`
	SyncError       string              `json:"sync_error,omitempty"`
}

// PipelineStep is one step of RunFullPipeline.
type PipelineStep struct {
	Name       string `json:"name"`
	Completed  bool   `json:"completed"`
	Skipped    bool   `json:"skipped,omitempty"`
	Error      string `json:"error,omitempty"`
	DocumentID int    `json:"document_id,omitempty"`
}

// PipelineRun reports which steps completed. Partial is set when a step after
// the first conversion failed; the first conversion stays committed.
type PipelineRun struct {
	Quotation       *CommercialDocument `json:"quotation"`
	Order           *CommercialDocument `json:"order"`
	Terminal        *CommercialDocument `json:"terminal,omitempty"`
	Steps           []PipelineStep      `json:"steps"`
	Partial         bool                `json:"partial"`
	InventorySynced bool                `json:"inventory_synced,omitempty"`
	SyncError       string              `json:"sync_error,omitempty"`
}

func (r *PipelineRun) fail(step string, documentID int, err error) {
	r.Partial = true
	r.Steps = append(r.Steps, PipelineStep{Name: step, Error: err.Error(), DocumentID: documentID})
}
