package core_test

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"commerce-pipeline/internal/core"
)

func TestConvertQuotationToOrder_CopiesLinesAndTotals(t *testing.T) {
	f := newFixture(t)
	q := f.acceptedQuotation(t, core.SideSales)

	oc, err := f.conversions.ConvertQuotationToOrder(f.ctx, f.tenant.ID, q.ID, core.OrderOptions{Notes: "rush"})
	require.NoError(t, err)

	order := oc.Order
	assert.Equal(t, "1180.00", order.Subtotal.StringFixed(2))
	assert.Equal(t, "0.00", order.Discount.StringFixed(2))
	assert.Equal(t, "212.40", order.Tax.StringFixed(2))
	assert.Equal(t, "1392.40", order.Total.StringFixed(2))
	require.NotNil(t, order.PredecessorID)
	assert.Equal(t, q.ID, *order.PredecessorID)
	assert.Equal(t, core.StageOrder, order.Stage)
	assert.Equal(t, core.StatusPending, order.Status)
	assert.Equal(t, "SO-2026-00001", order.DocumentNumber)
	assert.Equal(t, "rush", order.Notes)
	assert.Len(t, order.Lines, 2)

	assert.Equal(t, core.StatusConverted, oc.Quotation.Status)
	stored, err := f.store.FindByID(f.ctx, f.tenant.ID, q.ID)
	require.NoError(t, err)
	assert.Equal(t, core.StatusConverted, stored.Status)
}

func TestConvertQuotationToOrder_PendingQuotation(t *testing.T) {
	f := newFixture(t)
	q := f.quotation(t, core.SideSales)

	_, err := f.conversions.ConvertQuotationToOrder(f.ctx, f.tenant.ID, q.ID, core.OrderOptions{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, core.ErrInvalidState))

	var ce *core.ConversionError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, q.ID, ce.DocumentID)
	assert.Equal(t, core.StatusPending, ce.Status)
	assert.Equal(t, core.StatusAccepted, ce.Expected)
	assert.Contains(t, err.Error(), "expected ACCEPTED")
	assert.Equal(t, 0, f.successors(t, q.ID))
}

func TestConvertQuotationToOrder_SecondCallReportsAlreadyConverted(t *testing.T) {
	f := newFixture(t)
	q := f.acceptedQuotation(t, core.SideSales)

	first, err := f.conversions.ConvertQuotationToOrder(f.ctx, f.tenant.ID, q.ID, core.OrderOptions{})
	require.NoError(t, err)
	before, err := f.store.ListDocuments(f.ctx, f.tenant.ID, core.DocumentFilter{})
	require.NoError(t, err)

	_, err = f.conversions.ConvertQuotationToOrder(f.ctx, f.tenant.ID, q.ID, core.OrderOptions{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, core.ErrAlreadyConverted))

	var ce *core.ConversionError
	require.True(t, errors.As(err, &ce))
	require.NotNil(t, ce.SuccessorID)
	assert.Equal(t, first.Order.ID, *ce.SuccessorID)
	assert.Equal(t, core.StatusConverted, ce.Status)

	after, err := f.store.ListDocuments(f.ctx, f.tenant.ID, core.DocumentFilter{})
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestConvertQuotationToOrder_ConcurrentAttempts(t *testing.T) {
	f := newFixture(t)
	q := f.acceptedQuotation(t, core.SideSales)

	const attempts = 8
	var wg sync.WaitGroup
	errs := make([]error, attempts)
	start := make(chan struct{})
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			_, errs[i] = f.conversions.ConvertQuotationToOrder(f.ctx, f.tenant.ID, q.ID, core.OrderOptions{})
		}(i)
	}
	close(start)
	wg.Wait()

	succeeded, duplicates := 0, 0
	for _, err := range errs {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, core.ErrAlreadyConverted):
			duplicates++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, attempts-1, duplicates)
	assert.Equal(t, 1, f.successors(t, q.ID))
}

// Every attempt passes the successor check before any of them commits. The
// losers must still report AlreadyConverted.
func TestConvertQuotationToOrder_RaceAfterSuccessorCheck(t *testing.T) {
	const attempts = 5
	repo := &hookedRepo{}
	f := newFixture(t, func(d *core.ConversionDeps) {
		repo.MemoryStore = d.Repo.(*core.MemoryStore)
		d.Repo = repo
	})
	q := f.acceptedQuotation(t, core.SideSales)

	var reached sync.WaitGroup
	reached.Add(attempts)
	release := make(chan struct{})
	repo.afterSuccessor = func() {
		reached.Done()
		<-release
	}

	var wg sync.WaitGroup
	errs := make([]error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.conversions.ConvertQuotationToOrder(f.ctx, f.tenant.ID, q.ID, core.OrderOptions{})
		}(i)
	}
	reached.Wait()
	close(release)
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		require.True(t, errors.Is(err, core.ErrAlreadyConverted), "got %v", err)
		var ce *core.ConversionError
		require.True(t, errors.As(err, &ce))
		require.NotNil(t, ce.SuccessorID)
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 1, f.successors(t, q.ID))

	stored, err := f.store.FindByID(f.ctx, f.tenant.ID, q.ID)
	require.NoError(t, err)
	assert.Equal(t, core.StatusConverted, stored.Status)
}

func TestConvert_StorageConflictReadsAsAlreadyConverted(t *testing.T) {
	conflict := fmt.Errorf("%w: document already has a successor", core.ErrStorageConflict)

	t.Run("successor visible", func(t *testing.T) {
		repo := &hookedRepo{}
		f := newFixture(t, func(d *core.ConversionDeps) {
			repo.MemoryStore = d.Repo.(*core.MemoryStore)
			d.Repo = repo
		})
		q := f.acceptedQuotation(t, core.SideSales)
		oc, err := f.conversions.ConvertQuotationToOrder(f.ctx, f.tenant.ID, q.ID, core.OrderOptions{})
		require.NoError(t, err)

		repo.txErr = conflict
		_, err = f.conversions.ConvertQuotationToOrder(f.ctx, f.tenant.ID, q.ID, core.OrderOptions{})
		require.True(t, errors.Is(err, core.ErrAlreadyConverted), "got %v", err)
		assert.False(t, errors.Is(err, core.ErrStorageConflict))

		var ce *core.ConversionError
		require.True(t, errors.As(err, &ce))
		require.NotNil(t, ce.SuccessorID)
		assert.Equal(t, oc.Order.ID, *ce.SuccessorID)
		assert.Equal(t, q.ID, ce.DocumentID)
		assert.Equal(t, core.StageQuotation, ce.Stage)
		assert.Equal(t, core.StatusConverted, ce.Status)
		assert.Empty(t, ce.Details)
	})

	t.Run("successor not yet visible", func(t *testing.T) {
		repo := &hookedRepo{}
		f := newFixture(t, func(d *core.ConversionDeps) {
			repo.MemoryStore = d.Repo.(*core.MemoryStore)
			d.Repo = repo
		})
		q := f.acceptedQuotation(t, core.SideSales)

		repo.txErr = conflict
		_, err := f.conversions.ConvertQuotationToOrder(f.ctx, f.tenant.ID, q.ID, core.OrderOptions{})
		require.True(t, errors.Is(err, core.ErrAlreadyConverted), "got %v", err)

		var ce *core.ConversionError
		require.True(t, errors.As(err, &ce))
		assert.Nil(t, ce.SuccessorID)
		assert.Equal(t, core.StatusAccepted, ce.Status)
		assert.Equal(t, "a concurrent conversion committed first", ce.Details)
	})
}

func TestConvert_TenantScoping(t *testing.T) {
	f := newFixture(t)
	q := f.acceptedQuotation(t, core.SideSales)

	t.Run("other tenant", func(t *testing.T) {
		_, err := f.conversions.ConvertQuotationToOrder(f.ctx, f.other.ID, q.ID, core.OrderOptions{})
		assert.True(t, errors.Is(err, core.ErrNotFound))
	})

	t.Run("unknown document", func(t *testing.T) {
		_, err := f.conversions.ConvertQuotationToOrder(f.ctx, f.tenant.ID, 9999, core.OrderOptions{})
		assert.True(t, errors.Is(err, core.ErrNotFound))
		assert.Contains(t, err.Error(), "9999")
	})

	stored, err := f.store.FindByID(f.ctx, f.tenant.ID, q.ID)
	require.NoError(t, err)
	assert.Equal(t, core.StatusAccepted, stored.Status)
}

func TestConvert_RuleMustMatchStageAndSide(t *testing.T) {
	f := newFixture(t)

	t.Run("invoice from purchase order", func(t *testing.T) {
		order := f.shippedOrder(t, core.SidePurchase)
		_, err := f.conversions.ConvertOrderToInvoice(f.ctx, f.tenant.ID, order.ID, core.InvoiceOptions{})
		assert.True(t, errors.Is(err, core.ErrInvalidState))
		assert.Contains(t, err.Error(), "purchase order")
	})

	t.Run("receipt from sales order", func(t *testing.T) {
		order := f.shippedOrder(t, core.SideSales)
		_, err := f.conversions.ConvertOrderToReceipt(f.ctx, f.tenant.ID, order.ID, core.ReceiptOptions{})
		assert.True(t, errors.Is(err, core.ErrInvalidState))
	})

	t.Run("invoice from quotation", func(t *testing.T) {
		q := f.acceptedQuotation(t, core.SideSales)
		_, err := f.conversions.ConvertOrderToInvoice(f.ctx, f.tenant.ID, q.ID, core.InvoiceOptions{})
		assert.True(t, errors.Is(err, core.ErrInvalidState))
	})
}

func TestConvert_PermissionDenied(t *testing.T) {
	var seen []int
	f := newFixture(t, func(d *core.ConversionDeps) {
		d.Permissions = permissionFunc(func(actorID, tenantID, documentID int) bool {
			seen = []int{actorID, tenantID, documentID}
			return actorID == 42
		})
	})
	q := f.acceptedQuotation(t, core.SideSales)

	_, err := f.conversions.ConvertQuotationToOrder(core.WithActor(f.ctx, 7), f.tenant.ID, q.ID, core.OrderOptions{})
	assert.True(t, errors.Is(err, core.ErrForbidden))
	assert.Equal(t, []int{7, f.tenant.ID, q.ID}, seen)
	assert.Equal(t, 0, f.successors(t, q.ID))

	_, err = f.conversions.ConvertQuotationToOrder(core.WithActor(f.ctx, 42), f.tenant.ID, q.ID, core.OrderOptions{})
	assert.NoError(t, err)
}

func TestConvert_RecomputesAmountsFromSourceLines(t *testing.T) {
	f := newFixture(t, func(d *core.ConversionDeps) {
		d.Repo = &hookedRepo{
			MemoryStore: d.Repo.(*core.MemoryStore),
			onLock: func(doc *core.CommercialDocument) {
				doc.Total = dec("1.00")
				doc.Tax = dec("0.50")
			},
		}
	})
	q := f.acceptedQuotation(t, core.SideSales)

	oc, err := f.conversions.ConvertQuotationToOrder(f.ctx, f.tenant.ID, q.ID, core.OrderOptions{})
	require.NoError(t, err)
	assert.Equal(t, "212.40", oc.Order.Tax.StringFixed(2))
	assert.Equal(t, "1392.40", oc.Order.Total.StringFixed(2))
}

func TestConvertOrderToInvoice(t *testing.T) {
	f := newFixture(t)

	t.Run("shipped order", func(t *testing.T) {
		order := f.shippedOrder(t, core.SideSales)

		ic, err := f.conversions.ConvertOrderToInvoice(f.ctx, f.tenant.ID, order.ID, core.InvoiceOptions{Notes: "net 30"})
		require.NoError(t, err)
		assert.Equal(t, core.StageInvoice, ic.Invoice.Stage)
		assert.Equal(t, core.StatusIssued, ic.Invoice.Status)
		assert.NotNil(t, ic.Invoice.IssuedAt)
		assert.Equal(t, "1392.40", ic.Invoice.Total.StringFixed(2))
		assert.Equal(t, core.StatusInvoiced, ic.Order.Status)
		assert.Equal(t, order.ID, *ic.Invoice.PredecessorID)
		assert.Equal(t, "SI-2026-00001", ic.Invoice.DocumentNumber)
		assert.Empty(t, f.inventory.receipts)
	})

	t.Run("order not shipped", func(t *testing.T) {
		q := f.acceptedQuotation(t, core.SideSales)
		oc, err := f.conversions.ConvertQuotationToOrder(f.ctx, f.tenant.ID, q.ID, core.OrderOptions{})
		require.NoError(t, err)

		_, err = f.conversions.ConvertOrderToInvoice(f.ctx, f.tenant.ID, oc.Order.ID, core.InvoiceOptions{})
		var ce *core.ConversionError
		require.True(t, errors.As(err, &ce))
		assert.Equal(t, core.StatusPending, ce.Status)
		assert.Equal(t, core.StatusShipped, ce.Expected)
	})
}

func TestConvertOrderToReceipt(t *testing.T) {
	t.Run("signals inventory with received quantities", func(t *testing.T) {
		f := newFixture(t)
		order := f.shippedOrder(t, core.SidePurchase)

		rc, err := f.conversions.ConvertOrderToReceipt(f.ctx, f.tenant.ID, order.ID, core.ReceiptOptions{
			ReceivedQuantities: map[int]int64{1: 1},
		})
		require.NoError(t, err)
		assert.True(t, rc.InventorySynced)
		assert.Empty(t, rc.SyncError)
		assert.Equal(t, core.StatusReceived, rc.Order.Status)
		assert.Equal(t, "GR-2026-00001", rc.Receipt.DocumentNumber)
		assert.Equal(t, "1392.40", rc.Receipt.Total.StringFixed(2))

		lines, ok := f.inventory.received(rc.Receipt.ID)
		require.True(t, ok)
		require.Len(t, lines, 2)
		assert.Equal(t, int64(1), *lines[0].ReceivedQuantity)
		assert.Equal(t, int64(1), *lines[1].ReceivedQuantity)
	})

	t.Run("rejects impossible quantities", func(t *testing.T) {
		f := newFixture(t)
		order := f.shippedOrder(t, core.SidePurchase)

		for name, qty := range map[string]map[int]int64{
			"more than ordered": {1: 3},
			"zero":              {2: 0},
			"unknown line":      {9: 1},
		} {
			_, err := f.conversions.ConvertOrderToReceipt(f.ctx, f.tenant.ID, order.ID, core.ReceiptOptions{ReceivedQuantities: qty})
			assert.True(t, errors.Is(err, core.ErrInvalidLineItem), name)
		}
		assert.Equal(t, 0, f.successors(t, order.ID))
	})

	t.Run("sync failure keeps the receipt", func(t *testing.T) {
		f := newFixture(t)
		f.inventory.err = errors.New("warehouse service unavailable")
		order := f.shippedOrder(t, core.SidePurchase)

		rc, err := f.conversions.ConvertOrderToReceipt(f.ctx, f.tenant.ID, order.ID, core.ReceiptOptions{})
		require.NoError(t, err)
		assert.False(t, rc.InventorySynced)
		assert.Contains(t, rc.SyncError, "downstream sync failed")
		assert.Contains(t, rc.SyncError, "warehouse service unavailable")

		stored, err := f.store.FindByID(f.ctx, f.tenant.ID, rc.Receipt.ID)
		require.NoError(t, err)
		assert.Equal(t, core.StatusIssued, stored.Status)
		assert.Equal(t, 1, f.successors(t, order.ID))
	})

	t.Run("slow sync is abandoned after the timeout", func(t *testing.T) {
		f := newFixture(t, func(d *core.ConversionDeps) {
			d.SyncTimeout = 20 * time.Millisecond
		})
		f.inventory.block = make(chan struct{})
		defer close(f.inventory.block)
		order := f.shippedOrder(t, core.SidePurchase)

		started := time.Now()
		rc, err := f.conversions.ConvertOrderToReceipt(f.ctx, f.tenant.ID, order.ID, core.ReceiptOptions{})
		require.NoError(t, err)
		assert.Less(t, time.Since(started), time.Second)
		assert.False(t, rc.InventorySynced)
		assert.Contains(t, rc.SyncError, "deadline exceeded")
	})
}

func TestRunFullPipeline(t *testing.T) {
	t.Run("sales pipeline to invoice", func(t *testing.T) {
		f := newFixture(t)
		q := f.acceptedQuotation(t, core.SideSales)

		run, err := f.conversions.RunFullPipeline(f.ctx, f.tenant.ID, q.ID, core.PipelineOptions{AutoIssueTerminal: true})
		require.NoError(t, err)
		assert.False(t, run.Partial)
		require.NotNil(t, run.Terminal)
		assert.Equal(t, core.StageInvoice, run.Terminal.Stage)
		assert.Equal(t, core.StatusInvoiced, run.Order.Status)
		require.Len(t, run.Steps, 3)
		for _, s := range run.Steps {
			assert.True(t, s.Completed, s.Name)
		}
		assert.Equal(t, "ORDER_TO_INVOICE", run.Steps[2].Name)
	})

	t.Run("purchase pipeline to receipt", func(t *testing.T) {
		f := newFixture(t)
		q := f.acceptedQuotation(t, core.SidePurchase)

		run, err := f.conversions.RunFullPipeline(f.ctx, f.tenant.ID, q.ID, core.PipelineOptions{AutoIssueTerminal: true})
		require.NoError(t, err)
		require.NotNil(t, run.Terminal)
		assert.Equal(t, core.StageReceipt, run.Terminal.Stage)
		assert.True(t, run.InventorySynced)
		_, ok := f.inventory.received(run.Terminal.ID)
		assert.True(t, ok)
	})

	t.Run("terminal step skipped", func(t *testing.T) {
		f := newFixture(t)
		q := f.acceptedQuotation(t, core.SideSales)

		run, err := f.conversions.RunFullPipeline(f.ctx, f.tenant.ID, q.ID, core.PipelineOptions{})
		require.NoError(t, err)
		assert.Nil(t, run.Terminal)
		assert.Equal(t, core.StatusPending, run.Order.Status)
		require.Len(t, run.Steps, 2)
		assert.True(t, run.Steps[1].Skipped)
		assert.False(t, run.Partial)
	})

	t.Run("second conversion fails", func(t *testing.T) {
		f := newFixture(t, func(d *core.ConversionDeps) {
			d.Repo = &hookedRepo{
				MemoryStore: d.Repo.(*core.MemoryStore),
				failInsert: func(doc *core.CommercialDocument) error {
					if doc.Stage == core.StageInvoice {
						return errors.New("disk full")
					}
					return nil
				},
			}
		})
		q := f.acceptedQuotation(t, core.SideSales)

		run, err := f.conversions.RunFullPipeline(f.ctx, f.tenant.ID, q.ID, core.PipelineOptions{AutoIssueTerminal: true})
		require.NoError(t, err)
		assert.True(t, run.Partial)
		assert.Nil(t, run.Terminal)
		last := run.Steps[len(run.Steps)-1]
		assert.Equal(t, "ORDER_TO_INVOICE", last.Name)
		assert.Contains(t, last.Error, "disk full")

		order, err := f.store.FindByID(f.ctx, f.tenant.ID, run.Order.ID)
		require.NoError(t, err)
		assert.Equal(t, core.StatusShipped, order.Status)
		assert.Equal(t, 0, f.successors(t, order.ID))
		assert.Equal(t, 1, f.successors(t, q.ID))
	})

	t.Run("first conversion fails", func(t *testing.T) {
		f := newFixture(t)
		q := f.quotation(t, core.SideSales)

		run, err := f.conversions.RunFullPipeline(f.ctx, f.tenant.ID, q.ID, core.PipelineOptions{AutoIssueTerminal: true})
		assert.Nil(t, run)
		assert.True(t, errors.Is(err, core.ErrInvalidState))
	})
}
