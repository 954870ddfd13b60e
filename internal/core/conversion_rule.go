package core

import "fmt"

// RuleKind identifies a stage-to-stage conversion.
type RuleKind string

const (
	RuleQuotationToOrder RuleKind = "QUOTATION_TO_ORDER"
	RuleOrderToInvoice   RuleKind = "ORDER_TO_INVOICE"
	RuleOrderToReceipt   RuleKind = "ORDER_TO_RECEIPT"
)

// ConversionRule describes one transition of the pipeline. Every conversion
// runs through ConversionService.Convert driven by one of these values.
type ConversionRule struct {
	Kind             RuleKind
	Side             Side // empty: both sides
	From             Stage
	To               Stage
	RequiredStatus   Status // source status that allows the conversion
	ConvertedStatus  Status // source status after the conversion
	InitialStatus    Status // status of the new document
	SignalsInventory bool   // notify InventorySync after commit
}

var conversionRules = []ConversionRule{
	{
		Kind:            RuleQuotationToOrder,
		From:            StageQuotation,
		To:              StageOrder,
		RequiredStatus:  StatusAccepted,
		ConvertedStatus: StatusConverted,
		InitialStatus:   StatusPending,
	},
	{
		Kind:            RuleOrderToInvoice,
		Side:            SideSales,
		From:            StageOrder,
		To:              StageInvoice,
		RequiredStatus:  StatusShipped,
		ConvertedStatus: StatusInvoiced,
		InitialStatus:   StatusIssued,
	},
	{
		Kind:             RuleOrderToReceipt,
		Side:             SidePurchase,
		From:             StageOrder,
		To:               StageReceipt,
		RequiredStatus:   StatusShipped,
		ConvertedStatus:  StatusReceived,
		InitialStatus:    StatusIssued,
		SignalsInventory: true,
	},
}

// RuleFor looks up a conversion rule by kind.
func RuleFor(kind RuleKind) (ConversionRule, error) {
	for _, r := range conversionRules {
		if r.Kind == kind {
			return r, nil
		}
	}
	return ConversionRule{}, fmt.Errorf("%w: unknown conversion %q", ErrInvalidInput, kind)
}

// TerminalRule returns the Order → Invoice/Receipt rule for a side.
func TerminalRule(side Side) ConversionRule {
	kind := RuleOrderToInvoice
	if side == SidePurchase {
		kind = RuleOrderToReceipt
	}
	r, _ := RuleFor(kind)
	return r
}

// Applies reports whether the rule can act on a document of this stage and side.
func (r ConversionRule) Applies(doc *CommercialDocument) bool {
	if doc.Stage != r.From {
		return false
	}
	return r.Side == "" || r.Side == doc.Side
}

func (r ConversionRule) mismatch(doc *CommercialDocument) error {
	return &ConversionError{
		Err:        ErrInvalidState,
		DocumentID: doc.ID,
		Stage:      doc.Stage,
		Status:     doc.Status,
		Details: fmt.Sprintf("%s does not apply to a %s %s",
			r.Kind, sideLabel(doc.Side), doc.Stage.label()),
	}
}

func sideLabel(s Side) string {
	if s == SidePurchase {
		return "purchase"
	}
	return "sales"
}
