package core

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// pgxQuerier is satisfied by both *pgxpool.Pool and pgx.Tx, enabling shared query helpers.
type pgxQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// pgxRowQuerier is satisfied by both *pgxpool.Pool and pgx.Tx (for Query).
type pgxRowQuerier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// nextDocumentNumber allocates the next gapless number for (company, type, year).
// It must run inside the transaction that inserts the document so that a
// rollback also releases the number.
func nextDocumentNumber(ctx context.Context, q pgxQuerier, companyID int, typeCode string, year int) (string, error) {
	var lastNumber int64
	err := q.QueryRow(ctx, `
		INSERT INTO document_sequences (company_id, type_code, year, last_number)
		VALUES ($1, $2, $3, 1)
		ON CONFLICT (company_id, type_code, year)
		DO UPDATE SET last_number = document_sequences.last_number + 1
		RETURNING last_number
	`, companyID, typeCode, year).Scan(&lastNumber)
	if err != nil {
		return "", fmt.Errorf("failed to generate gapless sequence number: %w", err)
	}
	return formatDocumentNumber(typeCode, year, lastNumber), nil
}

// formatDocumentNumber renders SO-2026-00042.
func formatDocumentNumber(typeCode string, year int, n int64) string {
	return fmt.Sprintf("%s-%d-%05d", typeCode, year, n)
}
