package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// predecessorConstraint is the UNIQUE (predecessor_id) constraint that makes
// conversion one-to-one under concurrency.
const predecessorConstraint = "uq_commercial_documents_predecessor"

// PgDocumentRepository implements DocumentRepository and PipelineReader on PostgreSQL.
type PgDocumentRepository struct {
	pool *pgxpool.Pool
}

func NewPgDocumentRepository(pool *pgxpool.Pool) *PgDocumentRepository {
	return &PgDocumentRepository{pool: pool}
}

// pgxQueryRunner is satisfied by both *pgxpool.Pool and pgx.Tx.
type pgxQueryRunner interface {
	pgxQuerier
	pgxRowQuerier
}

const documentColumns = `
	id, company_id, side, stage, status, document_number, counterparty_id, predecessor_id,
	subtotal, discount, tax, total, currency, notes, requested_delivery_date,
	created_at, issued_at, status_changed_at`

func scanDocument(row pgx.Row) (*CommercialDocument, error) {
	var d CommercialDocument
	err := row.Scan(
		&d.ID, &d.TenantID, &d.Side, &d.Stage, &d.Status, &d.DocumentNumber, &d.CounterpartyID, &d.PredecessorID,
		&d.Subtotal, &d.Discount, &d.Tax, &d.Total, &d.Currency, &d.Notes, &d.RequestedDeliveryDate,
		&d.CreatedAt, &d.IssuedAt, &d.StatusChangedAt,
	)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func getDocument(ctx context.Context, q pgxQueryRunner, tenantID, id int, lock bool) (*CommercialDocument, error) {
	query := "SELECT " + documentColumns + " FROM commercial_documents WHERE id = $1 AND company_id = $2"
	if lock {
		query += " FOR UPDATE"
	}
	d, err := scanDocument(q.QueryRow(ctx, query, id, tenantID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, notFound(id)
		}
		return nil, fmt.Errorf("failed to fetch document %d: %w", id, err)
	}

	lines, err := fetchDocumentLines(ctx, q, id)
	if err != nil {
		return nil, err
	}
	d.Lines = lines
	return d, nil
}

func fetchDocumentLines(ctx context.Context, q pgxRowQuerier, documentID int) ([]LineItem, error) {
	rows, err := q.Query(ctx, `
		SELECT line_number, product_id, description, quantity, unit_price, line_discount, received_quantity
		FROM commercial_document_lines
		WHERE document_id = $1
		ORDER BY line_number
	`, documentID)
	if err != nil {
		return nil, fmt.Errorf("failed to query document lines: %w", err)
	}
	defer rows.Close()

	var lines []LineItem
	for rows.Next() {
		var l LineItem
		if err := rows.Scan(&l.LineNumber, &l.ProductID, &l.Description, &l.Quantity,
			&l.UnitPrice, &l.LineDiscount, &l.ReceivedQuantity); err != nil {
			return nil, fmt.Errorf("failed to scan document line: %w", err)
		}
		lines = append(lines, l)
	}
	return lines, rows.Err()
}

func findSuccessor(ctx context.Context, q pgxQueryRunner, tenantID, predecessorID int) (*CommercialDocument, error) {
	var id int
	err := q.QueryRow(ctx,
		"SELECT id FROM commercial_documents WHERE predecessor_id = $1 AND company_id = $2",
		predecessorID, tenantID,
	).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to look up successor of document %d: %w", predecessorID, err)
	}
	return getDocument(ctx, q, tenantID, id, false)
}

func isUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" && (constraint == "" || pgErr.ConstraintName == constraint)
	}
	return false
}

// ── Queries ──────────────────────────────────────────────────────────────────

func (r *PgDocumentRepository) FindByID(ctx context.Context, tenantID, id int) (*CommercialDocument, error) {
	return getDocument(ctx, r.pool, tenantID, id, false)
}

func (r *PgDocumentRepository) FindSuccessorOf(ctx context.Context, tenantID, predecessorID int) (*CommercialDocument, error) {
	return findSuccessor(ctx, r.pool, tenantID, predecessorID)
}

func (r *PgDocumentRepository) ListDocuments(ctx context.Context, tenantID int, f DocumentFilter) ([]CommercialDocument, error) {
	query := "SELECT " + documentColumns + " FROM commercial_documents WHERE company_id = $1"
	args := []any{tenantID}

	if f.Side != "" {
		args = append(args, f.Side)
		query += fmt.Sprintf(" AND side = $%d", len(args))
	}
	if f.Stage != "" {
		args = append(args, f.Stage)
		query += fmt.Sprintf(" AND stage = $%d", len(args))
	}
	if f.Status != "" {
		args = append(args, f.Status)
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}
	query += " ORDER BY id DESC"
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query documents: %w", err)
	}
	defer rows.Close()

	var docs []CommercialDocument
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan document: %w", err)
		}
		docs = append(docs, *d)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read documents: %w", err)
	}
	if len(docs) == 0 {
		return docs, nil
	}

	ids := make([]int, len(docs))
	index := make(map[int]int, len(docs))
	for i, d := range docs {
		ids[i] = d.ID
		index[d.ID] = i
	}
	lines, err := fetchLinesForDocuments(ctx, r.pool, ids)
	if err != nil {
		return nil, err
	}
	for id, l := range lines {
		docs[index[id]].Lines = l
	}
	return docs, nil
}

// fetchLinesForDocuments loads the lines of several documents in one query.
func fetchLinesForDocuments(ctx context.Context, q pgxRowQuerier, documentIDs []int) (map[int][]LineItem, error) {
	rows, err := q.Query(ctx, `
		SELECT document_id, line_number, product_id, description, quantity, unit_price, line_discount, received_quantity
		FROM commercial_document_lines
		WHERE document_id = ANY($1)
		ORDER BY document_id, line_number
	`, documentIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to query document lines: %w", err)
	}
	defer rows.Close()

	out := make(map[int][]LineItem, len(documentIDs))
	for rows.Next() {
		var docID int
		var l LineItem
		if err := rows.Scan(&docID, &l.LineNumber, &l.ProductID, &l.Description, &l.Quantity,
			&l.UnitPrice, &l.LineDiscount, &l.ReceivedQuantity); err != nil {
			return nil, fmt.Errorf("failed to scan document line: %w", err)
		}
		out[docID] = append(out[docID], l)
	}
	return out, rows.Err()
}

// ── Transactions ─────────────────────────────────────────────────────────────

func (r *PgDocumentRepository) UpdateStatus(ctx context.Context, tenantID, id int, from, to Status) error {
	return r.WithTransaction(ctx, func(tx DocumentTx) error {
		return tx.UpdateStatus(ctx, tenantID, id, from, to)
	})
}

func (r *PgDocumentRepository) WithTransaction(ctx context.Context, fn func(tx DocumentTx) error) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(&pgDocumentTx{tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		if isUniqueViolation(err, predecessorConstraint) {
			return fmt.Errorf("%w: %v", ErrStorageConflict, err)
		}
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

type pgDocumentTx struct {
	tx pgx.Tx
}

func (t *pgDocumentTx) LockByID(ctx context.Context, tenantID, id int) (*CommercialDocument, error) {
	return getDocument(ctx, t.tx, tenantID, id, true)
}

func (t *pgDocumentTx) FindSuccessorOf(ctx context.Context, tenantID, predecessorID int) (*CommercialDocument, error) {
	return findSuccessor(ctx, t.tx, tenantID, predecessorID)
}

func (t *pgDocumentTx) Insert(ctx context.Context, doc *CommercialDocument) error {
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = time.Now()
	}

	number, err := nextDocumentNumber(ctx, t.tx, doc.TenantID, DocumentTypeCode(doc.Side, doc.Stage), doc.CreatedAt.Year())
	if err != nil {
		return err
	}

	err = t.tx.QueryRow(ctx, `
		INSERT INTO commercial_documents (
			company_id, side, stage, status, document_number, counterparty_id, predecessor_id,
			subtotal, discount, tax, total, currency, notes, requested_delivery_date, created_at, issued_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		RETURNING id
	`, doc.TenantID, doc.Side, doc.Stage, doc.Status, number, doc.CounterpartyID, doc.PredecessorID,
		doc.Subtotal, doc.Discount, doc.Tax, doc.Total, doc.Currency, doc.Notes, doc.RequestedDeliveryDate,
		doc.CreatedAt, doc.IssuedAt,
	).Scan(&doc.ID)
	if err != nil {
		if isUniqueViolation(err, predecessorConstraint) {
			return fmt.Errorf("%w: document %d already has a successor", ErrStorageConflict, *doc.PredecessorID)
		}
		return fmt.Errorf("failed to insert %s: %w", doc.Stage.label(), err)
	}

	for i, l := range doc.Lines {
		_, err = t.tx.Exec(ctx, `
			INSERT INTO commercial_document_lines
				(document_id, line_number, product_id, description, quantity, unit_price, line_discount, received_quantity)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`, doc.ID, l.LineNumber, l.ProductID, l.Description, l.Quantity, l.UnitPrice, l.LineDiscount, l.ReceivedQuantity)
		if err != nil {
			return fmt.Errorf("failed to insert document line %d: %w", i+1, err)
		}
	}

	doc.DocumentNumber = number
	return nil
}

func (t *pgDocumentTx) UpdateStatus(ctx context.Context, tenantID, id int, from, to Status) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE commercial_documents
		SET status = $1, status_changed_at = NOW()
		WHERE id = $2 AND company_id = $3 AND status = $4
	`, to, id, tenantID, from)
	if err != nil {
		return fmt.Errorf("failed to update status of document %d: %w", id, err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	cur, err := getDocument(ctx, t.tx, tenantID, id, false)
	if err != nil {
		return err
	}
	return &ConversionError{Err: ErrInvalidState, DocumentID: id, Stage: cur.Stage, Status: cur.Status, Expected: from}
}

// ── PipelineReader ───────────────────────────────────────────────────────────

func (r *PgDocumentRepository) StageSummaries(ctx context.Context, tenantID int, side Side, w Window) ([]StageSummary, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT stage, COUNT(*), COALESCE(SUM(total), 0)
		FROM commercial_documents
		WHERE company_id = $1 AND side = $2
		  AND created_at >= $3 AND created_at < $4
		GROUP BY stage
	`, tenantID, side, w.From, w.To)
	if err != nil {
		return nil, fmt.Errorf("failed to query stage summaries: %w", err)
	}
	defer rows.Close()

	byStage := make(map[Stage]StageSummary)
	for rows.Next() {
		var s StageSummary
		var total decimal.Decimal
		if err := rows.Scan(&s.Stage, &s.Count, &total); err != nil {
			return nil, fmt.Errorf("failed to scan stage summary: %w", err)
		}
		s.Total = total
		byStage[s.Stage] = s
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read stage summaries: %w", err)
	}

	var out []StageSummary
	for _, st := range PipelineStages(side) {
		if s, ok := byStage[st]; ok {
			out = append(out, s)
		}
	}
	return out, nil
}

func (r *PgDocumentRepository) ConversionPairs(ctx context.Context, tenantID int, side Side, w Window) ([]ConversionPair, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT p.stage, s.stage, p.created_at, s.created_at
		FROM commercial_documents s
		JOIN commercial_documents p ON p.id = s.predecessor_id
		WHERE p.company_id = $1 AND p.side = $2
		  AND p.created_at >= $3 AND p.created_at < $4
		ORDER BY p.created_at
	`, tenantID, side, w.From, w.To)
	if err != nil {
		return nil, fmt.Errorf("failed to query conversion pairs: %w", err)
	}
	defer rows.Close()

	var pairs []ConversionPair
	for rows.Next() {
		var p ConversionPair
		if err := rows.Scan(&p.From, &p.To, &p.PredecessorCreatedAt, &p.SuccessorCreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan conversion pair: %w", err)
		}
		pairs = append(pairs, p)
	}
	return pairs, rows.Err()
}

func (r *PgDocumentRepository) CountStale(ctx context.Context, tenantID int, side Side, stage Stage, status Status, olderThan time.Time) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx, `
		SELECT COUNT(*)
		FROM commercial_documents
		WHERE company_id = $1 AND side = $2 AND stage = $3 AND status = $4
		  AND COALESCE(status_changed_at, created_at) < $5
	`, tenantID, side, stage, status, olderThan).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count stale %s documents: %w", strings.ToLower(string(stage)), err)
	}
	return n, nil
}

// ── Companies ────────────────────────────────────────────────────────────────

type companyDirectory struct {
	pool *pgxpool.Pool
}

// NewCompanyDirectory resolves tenants from the companies table.
func NewCompanyDirectory(pool *pgxpool.Pool) CompanyDirectory {
	return &companyDirectory{pool: pool}
}

func (c *companyDirectory) ResolveCompany(ctx context.Context, companyCode string) (*Company, error) {
	var co Company
	err := c.pool.QueryRow(ctx,
		"SELECT id, company_code, name, base_currency FROM companies WHERE company_code = $1",
		companyCode,
	).Scan(&co.ID, &co.CompanyCode, &co.Name, &co.BaseCurrency)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: company code %s not found", ErrNotFound, companyCode)
		}
		return nil, fmt.Errorf("failed to resolve company %s: %w", companyCode, err)
	}
	return &co, nil
}
