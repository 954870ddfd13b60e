package core

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// stockMovementSync books one inventory movement per receipt line and raises
// qty_on_hand. Movements are unique per (receipt, line), so a repeated
// notification for the same receipt changes nothing.
type stockMovementSync struct {
	pool *pgxpool.Pool
}

// NewStockMovementSync returns an InventorySync writing to inventory_items
// and inventory_movements.
func NewStockMovementSync(pool *pgxpool.Pool) InventorySync {
	return &stockMovementSync{pool: pool}
}

func (s *stockMovementSync) NotifyReceipt(ctx context.Context, receiptID int, lines []LineItem) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var companyID int
	var stage Stage
	err = tx.QueryRow(ctx,
		"SELECT company_id, stage FROM commercial_documents WHERE id = $1",
		receiptID,
	).Scan(&companyID, &stage)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("receipt %d not found", receiptID)
		}
		return fmt.Errorf("failed to fetch receipt %d: %w", receiptID, err)
	}
	if stage != StageReceipt {
		return fmt.Errorf("document %d is a %s, not a goods receipt", receiptID, stage.label())
	}

	for _, l := range lines {
		qty := receivedQuantity(l)
		if qty <= 0 {
			continue
		}

		tag, err := tx.Exec(ctx, `
			INSERT INTO inventory_movements (company_id, product_id, receipt_id, line_number, quantity, unit_cost)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (receipt_id, line_number) DO NOTHING
		`, companyID, l.ProductID, receiptID, l.LineNumber, qty, l.UnitPrice)
		if err != nil {
			return fmt.Errorf("line %d: failed to insert inventory movement: %w", l.LineNumber, err)
		}
		if tag.RowsAffected() == 0 {
			continue
		}

		// Create the inventory_item on first receipt, otherwise add to on-hand.
		_, err = tx.Exec(ctx, `
			INSERT INTO inventory_items (company_id, product_id, qty_on_hand)
			VALUES ($1, $2, $3)
			ON CONFLICT (company_id, product_id)
			DO UPDATE SET qty_on_hand = inventory_items.qty_on_hand + EXCLUDED.qty_on_hand, updated_at = NOW()
		`, companyID, l.ProductID, qty)
		if err != nil {
			return fmt.Errorf("line %d: failed to update inventory item: %w", l.LineNumber, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit inventory movements: %w", err)
	}
	return nil
}
