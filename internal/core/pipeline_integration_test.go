package core_test

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"commerce-pipeline/internal/core"
)

// setupPipelineDB truncates the test database and seeds company 1000 (id 1)
// with one MANAGER and one inactive user.
func setupPipelineDB(t *testing.T) *pgxpool.Pool {
	t.Helper()
	_ = godotenv.Load("../../.env")

	// Use a dedicated TEST database to avoid wiping the live app database.
	dbURL := os.Getenv("TEST_DATABASE_URL")
	if dbURL == "" {
		t.Skip("TEST_DATABASE_URL not set, skipping integration test")
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		t.Fatalf("Failed to connect to test database: %v", err)
	}

	_, err = pool.Exec(ctx, `
		TRUNCATE TABLE inventory_movements, inventory_items, pipeline_thresholds, document_sequences,
			commercial_document_lines, commercial_documents, counterparties, users, companies
			RESTART IDENTITY CASCADE;

		INSERT INTO companies (id, company_code, name, base_currency) VALUES
		(1, '1000', 'Test Company', 'INR'),
		(2, '2000', 'Other Company', 'INR');

		INSERT INTO users (id, company_id, username, email, role, is_active) VALUES
		(1, 1, 'manager', 'manager@test.local', 'MANAGER', true),
		(2, 1, 'former',  'former@test.local',  'MANAGER', false),
		(3, 1, 'viewer',  'viewer@test.local',  'VIEWER',  true);
	`)
	if err != nil {
		t.Fatalf("Failed to seed test database: %v", err)
	}
	return pool
}

func pgServices(pool *pgxpool.Pool) (*core.PgDocumentRepository, core.LifecycleService, core.ConversionService) {
	repo := core.NewPgDocumentRepository(pool)
	lifecycle := core.NewLifecycleService(core.LifecycleDeps{Repo: repo})
	conversions := core.NewConversionService(core.ConversionDeps{
		Repo:        repo,
		Inventory:   core.NewStockMovementSync(pool),
		Permissions: core.NewRolePermissionChecker(core.NewUserService(pool), core.DefaultConvertRoles),
	})
	return repo, lifecycle, conversions
}

func createAccepted(t *testing.T, ctx context.Context, lifecycle core.LifecycleService, side core.Side) *core.CommercialDocument {
	t.Helper()
	q, err := lifecycle.CreateQuotation(ctx, 1, core.QuotationInput{Side: side, CounterpartyID: 7, Lines: scenarioLines()})
	if err != nil {
		t.Fatalf("CreateQuotation failed: %v", err)
	}
	if _, err := lifecycle.Transition(ctx, 1, q.ID, core.StatusAccepted); err != nil {
		t.Fatalf("Transition to ACCEPTED failed: %v", err)
	}
	return q
}

func TestPgPipeline_SalesCycle(t *testing.T) {
	pool := setupPipelineDB(t)
	defer pool.Close()
	_, lifecycle, conversions := pgServices(pool)
	ctx := core.WithActor(context.Background(), 1)

	q := createAccepted(t, ctx, lifecycle, core.SideSales)
	if q.DocumentNumber != "SQ-"+time.Now().Format("2006")+"-00001" {
		t.Errorf("Unexpected quotation number %s", q.DocumentNumber)
	}

	oc, err := conversions.ConvertQuotationToOrder(ctx, 1, q.ID, core.OrderOptions{})
	if err != nil {
		t.Fatalf("ConvertQuotationToOrder failed: %v", err)
	}
	if !oc.Order.Total.Equal(decimal.RequireFromString("1392.40")) {
		t.Errorf("Expected total 1392.40, got %s", oc.Order.Total)
	}
	if oc.Order.PredecessorID == nil || *oc.Order.PredecessorID != q.ID {
		t.Errorf("Order predecessor should be %d", q.ID)
	}

	// Lines survive the round trip.
	stored, err := lifecycle.GetDocument(ctx, 1, oc.Order.ID)
	if err != nil {
		t.Fatalf("GetDocument failed: %v", err)
	}
	if len(stored.Lines) != 2 || stored.Lines[0].ProductID != 101 {
		t.Errorf("Unexpected order lines: %+v", stored.Lines)
	}

	_, err = conversions.ConvertQuotationToOrder(ctx, 1, q.ID, core.OrderOptions{})
	var ce *core.ConversionError
	if !errors.As(err, &ce) || !errors.Is(err, core.ErrAlreadyConverted) {
		t.Fatalf("Expected ALREADY_CONVERTED, got %v", err)
	}
	if ce.SuccessorID == nil || *ce.SuccessorID != oc.Order.ID {
		t.Errorf("Expected successor %d, got %v", oc.Order.ID, ce.SuccessorID)
	}

	for _, s := range []core.Status{core.StatusConfirmed, core.StatusInProgress, core.StatusShipped} {
		if _, err := lifecycle.Transition(ctx, 1, oc.Order.ID, s); err != nil {
			t.Fatalf("Transition to %s failed: %v", s, err)
		}
	}
	ic, err := conversions.ConvertOrderToInvoice(ctx, 1, oc.Order.ID, core.InvoiceOptions{})
	if err != nil {
		t.Fatalf("ConvertOrderToInvoice failed: %v", err)
	}
	if ic.Order.Status != core.StatusInvoiced || ic.Invoice.Status != core.StatusIssued {
		t.Errorf("Unexpected statuses: order %s, invoice %s", ic.Order.Status, ic.Invoice.Status)
	}
}

func TestPgPipeline_ConcurrentConversion(t *testing.T) {
	pool := setupPipelineDB(t)
	defer pool.Close()
	repo, lifecycle, conversions := pgServices(pool)
	ctx := core.WithActor(context.Background(), 1)

	q := createAccepted(t, ctx, lifecycle, core.SideSales)

	const attempts = 8
	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded, duplicates := 0, 0
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := conversions.ConvertQuotationToOrder(ctx, 1, q.ID, core.OrderOptions{})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case errors.Is(err, core.ErrAlreadyConverted):
				duplicates++
			default:
				t.Errorf("Unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if succeeded != 1 || duplicates != attempts-1 {
		t.Errorf("Expected 1 success and %d duplicates, got %d and %d", attempts-1, succeeded, duplicates)
	}
	orders, err := repo.ListDocuments(ctx, 1, core.DocumentFilter{Stage: core.StageOrder})
	if err != nil {
		t.Fatalf("ListDocuments failed: %v", err)
	}
	if len(orders) != 1 {
		t.Fatalf("Expected exactly one order, got %d", len(orders))
	}
	if len(orders[0].Lines) != 2 {
		t.Errorf("Expected listed order to carry 2 lines, got %d", len(orders[0].Lines))
	}
}

func TestPgPipeline_ReceiptUpdatesInventory(t *testing.T) {
	pool := setupPipelineDB(t)
	defer pool.Close()
	_, lifecycle, conversions := pgServices(pool)
	ctx := core.WithActor(context.Background(), 1)

	q := createAccepted(t, ctx, lifecycle, core.SidePurchase)
	run, err := conversions.RunFullPipeline(ctx, 1, q.ID, core.PipelineOptions{AutoIssueTerminal: true})
	if err != nil {
		t.Fatalf("RunFullPipeline failed: %v", err)
	}
	if run.Partial || run.Terminal == nil {
		t.Fatalf("Expected a complete run, got %+v", run.Steps)
	}
	if !run.InventorySynced {
		t.Fatalf("Inventory sync failed: %s", run.SyncError)
	}

	var onHand int64
	err = pool.QueryRow(ctx, "SELECT qty_on_hand FROM inventory_items WHERE company_id = 1 AND product_id = 101").Scan(&onHand)
	if err != nil {
		t.Fatalf("Failed to read inventory: %v", err)
	}
	if onHand != 2 {
		t.Errorf("Expected 2 on hand, got %d", onHand)
	}

	// A repeated notification books nothing.
	if err := core.NewStockMovementSync(pool).NotifyReceipt(ctx, run.Terminal.ID, run.Terminal.Lines); err != nil {
		t.Fatalf("Repeated NotifyReceipt failed: %v", err)
	}
	_ = pool.QueryRow(ctx, "SELECT qty_on_hand FROM inventory_items WHERE company_id = 1 AND product_id = 101").Scan(&onHand)
	if onHand != 2 {
		t.Errorf("Repeated notification changed on-hand to %d", onHand)
	}
}

func TestPgPipeline_PermissionAndTenancy(t *testing.T) {
	pool := setupPipelineDB(t)
	defer pool.Close()
	_, lifecycle, conversions := pgServices(pool)
	q := createAccepted(t, context.Background(), lifecycle, core.SideSales)

	for _, actor := range []int{0, 2, 3, 99} {
		_, err := conversions.ConvertQuotationToOrder(core.WithActor(context.Background(), actor), 1, q.ID, core.OrderOptions{})
		if !errors.Is(err, core.ErrForbidden) {
			t.Errorf("Actor %d: expected FORBIDDEN, got %v", actor, err)
		}
	}

	_, err := conversions.ConvertQuotationToOrder(core.WithActor(context.Background(), 1), 2, q.ID, core.OrderOptions{})
	if !errors.Is(err, core.ErrForbidden) && !errors.Is(err, core.ErrNotFound) {
		t.Errorf("Expected cross-tenant conversion to fail, got %v", err)
	}
}

func TestPgPipeline_AnalyticsAndThresholds(t *testing.T) {
	pool := setupPipelineDB(t)
	defer pool.Close()
	repo, lifecycle, conversions := pgServices(pool)
	ctx := core.WithActor(context.Background(), 1)

	for i := 0; i < 3; i++ {
		q := createAccepted(t, ctx, lifecycle, core.SideSales)
		if i == 0 {
			if _, err := conversions.ConvertQuotationToOrder(ctx, 1, q.ID, core.OrderOptions{}); err != nil {
				t.Fatalf("ConvertQuotationToOrder failed: %v", err)
			}
		}
	}

	_, err := pool.Exec(ctx, `
		INSERT INTO pipeline_thresholds (company_id, threshold_key, threshold_value, priority) VALUES
		(1, 'MIN_QUOTATION_CONVERSION_PCT', 10, 0),
		(1, 'MIN_QUOTATION_CONVERSION_PCT', 50, 10),
		(1, 'MIN_ORDER_CONVERSION_PCT', 0, 0)
	`)
	if err != nil {
		t.Fatalf("Failed to seed thresholds: %v", err)
	}

	analytics := core.NewAnalyticsService(repo, core.NewPgThresholdProvider(pool, core.DefaultBottleneckThresholds()), nil)
	stats, err := analytics.Stats(ctx, core.AnalyticsQuery{TenantID: 1, Window: core.Window{From: time.Now().Add(-time.Hour)}})
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if got := stats.QuotationToOrderRate.StringFixed(2); got != "33.33" {
		t.Errorf("Expected 33.33%% quotation conversion, got %s", got)
	}

	findings, err := analytics.Bottlenecks(ctx, 1)
	if err != nil {
		t.Fatalf("Bottlenecks failed: %v", err)
	}
	if len(findings) != 1 {
		t.Fatalf("Expected one finding from the priority-10 threshold, got %v", findings)
	}
}
