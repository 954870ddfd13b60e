package core

import (
	"context"

	"go.uber.org/zap"
)

// InventorySync is told about completed goods receipts. The pipeline does not
// own stock; a failing sync never undoes a conversion.
type InventorySync interface {
	NotifyReceipt(ctx context.Context, receiptID int, lines []LineItem) error
}

// receivedQuantity is the quantity that entered stock for a receipt line.
func receivedQuantity(l LineItem) int64 {
	if l.ReceivedQuantity != nil {
		return *l.ReceivedQuantity
	}
	return l.Quantity
}

type loggingInventorySync struct {
	log *zap.Logger
}

// NewLoggingInventorySync only records receipts in the log.
func NewLoggingInventorySync(log *zap.Logger) InventorySync {
	if log == nil {
		log = zap.NewNop()
	}
	return &loggingInventorySync{log: log}
}

func (s *loggingInventorySync) NotifyReceipt(_ context.Context, receiptID int, lines []LineItem) error {
	var units int64
	for _, l := range lines {
		units += receivedQuantity(l)
	}
	s.log.Info("goods receipt recorded",
		zap.Int("receipt_id", receiptID),
		zap.Int("lines", len(lines)),
		zap.Int64("units", units),
	)
	return nil
}
