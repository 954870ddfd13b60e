package app

import (
	"time"

	"commerce-pipeline/internal/core"
)

// CreateQuotationRequest is the input for creating a quotation.
type CreateQuotationRequest struct {
	CompanyCode           string          `json:"-"`
	Side                  string          `json:"side"` // SALES (default) or PURCHASE
	CounterpartyID        int             `json:"counterparty_id"`
	Currency              string          `json:"currency"`
	Notes                 string          `json:"notes"`
	RequestedDeliveryDate string          `json:"requested_delivery_date"` // YYYY-MM-DD, optional
	Lines                 []core.LineItem `json:"lines"`
}

// ListDocumentsRequest filters ListDocuments. Empty fields match everything.
type ListDocumentsRequest struct {
	CompanyCode string
	Side        string
	Stage       string
	Status      string
	Limit       int
}

// ConvertRequest is the input for the quotation and invoice conversions.
type ConvertRequest struct {
	CompanyCode           string `json:"-"`
	DocumentID            int    `json:"-"`
	Notes                 string `json:"notes"`
	RequestedDeliveryDate string `json:"requested_delivery_date"` // orders only
}

// ReceiptRequest is the input for ConvertOrderToReceipt. ReceivedQuantities
// is keyed by order line number; lines left out were received in full.
type ReceiptRequest struct {
	CompanyCode        string        `json:"-"`
	DocumentID         int           `json:"-"`
	Notes              string        `json:"notes"`
	ReceivedQuantities map[int]int64 `json:"received_quantities"`
}

// PipelineRequest is the input for RunFullPipeline.
type PipelineRequest struct {
	CompanyCode           string `json:"-"`
	QuotationID           int    `json:"-"`
	AutoIssueTerminal     bool   `json:"auto_issue_terminal"`
	Notes                 string `json:"notes"`
	RequestedDeliveryDate string `json:"requested_delivery_date"`
}

// AnalyticsRequest scopes the pipeline reports. From and To are inclusive
// calendar dates (YYYY-MM-DD); an empty From means all history and an empty
// To means now.
type AnalyticsRequest struct {
	CompanyCode string
	Side        string
	From        string
	To          string
}

const dateLayout = "2006-01-02"

func parseDate(field, s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	d, err := time.Parse(dateLayout, s)
	if err != nil {
		return nil, fieldError(field, "must be a date in YYYY-MM-DD format, got %q", s)
	}
	return &d, nil
}
