package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"commerce-pipeline/internal/app"
	"commerce-pipeline/internal/config"
	"commerce-pipeline/internal/core"
)

func newService(t *testing.T) app.ApplicationService {
	t.Helper()
	cfg := &config.Config{
		Storage:              config.StorageMemory,
		CompanyCode:          "1000",
		TaxRate:              "0.18",
		Currency:             "INR",
		InventorySync:        config.InventorySyncLog,
		InventorySyncTimeout: time.Second,
	}
	require.NoError(t, cfg.Validate())
	rt, err := app.Wire(context.Background(), cfg, nil)
	require.NoError(t, err)
	t.Cleanup(rt.Close)
	return rt.Service
}

func run(svc app.ApplicationService, args ...string) (string, error) {
	var out bytes.Buffer
	err := NewApp(svc, "1000", &out).Run(append([]string{"pipeline"}, args...))
	return out.String(), err
}

func TestCLI_SalesPipeline(t *testing.T) {
	svc := newService(t)

	out, err := run(svc, "create-quotation", "--counterparty", "3", "--line", "101:2:500.00", "--line", "102:1:180.00")
	require.NoError(t, err)
	assert.Contains(t, out, "SALES QUOTATION")
	assert.Contains(t, out, "1392.40 INR")
	assert.Contains(t, out, "Next: ACCEPTED, REJECTED")

	out, err = run(svc, "transition", "1", "accepted")
	require.NoError(t, err)
	assert.Contains(t, out, "Status       : ACCEPTED")

	out, err = run(svc, "--json", "--actor", "5", "run-pipeline", "--issue-terminal", "1")
	require.NoError(t, err)
	var pr core.PipelineRun
	require.NoError(t, json.Unmarshal([]byte(out), &pr), out)
	assert.False(t, pr.Partial)
	require.Len(t, pr.Steps, 3)
	require.NotNil(t, pr.Terminal)
	assert.Equal(t, core.StageInvoice, pr.Terminal.Stage)

	out, err = run(svc, "list", "--stage", "invoice")
	require.NoError(t, err)
	assert.Contains(t, out, pr.Terminal.DocumentNumber)

	out, err = run(svc, "funnel")
	require.NoError(t, err)
	assert.Contains(t, out, "FUNNEL  Company 1000  SALES")
	assert.Contains(t, out, "QUOTATION")

	out, err = run(svc, "stats")
	require.NoError(t, err)
	assert.Contains(t, out, "Quotation to order")
	assert.Contains(t, out, "100.00%")

	out, err = run(svc, "bottlenecks")
	require.NoError(t, err)
	assert.Contains(t, out, "company 1000")
}

func TestCLI_PurchaseReceipt(t *testing.T) {
	svc := newService(t)

	_, err := run(svc, "create-quotation", "--side", "purchase", "--counterparty", "4", "--line", "201:3:40")
	require.NoError(t, err)
	_, err = run(svc, "transition", "1", "ACCEPTED")
	require.NoError(t, err)
	out, err := run(svc, "convert-quotation", "--delivery", "2026-05-01", "1")
	require.NoError(t, err)
	assert.Contains(t, out, "Order: PO-")

	for _, s := range []string{"CONFIRMED", "IN_PROGRESS", "SHIPPED"} {
		_, err := run(svc, "transition", "2", s)
		require.NoError(t, err)
	}

	out, err = run(svc, "receive-order", "--received", "1=2", "2")
	require.NoError(t, err)
	assert.Contains(t, out, "Goods receipt: GR-")
	assert.NotContains(t, out, "WARNING")

	out, err = run(svc, "show", "3")
	require.NoError(t, err)
	assert.Contains(t, out, "PURCHASE RECEIPT")
}

func TestCLI_Errors(t *testing.T) {
	svc := newService(t)

	_, err := run(svc, "show", "99")
	assert.True(t, errors.Is(err, core.ErrNotFound))

	_, err = run(svc, "show")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "usage: show <document-id>")

	_, err = run(svc, "--company", "2000", "funnel")
	assert.True(t, errors.Is(err, core.ErrNotFound))

	_, err = run(svc, "create-quotation", "--counterparty", "3", "--line", "101:x:5")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid quantity")

	_, err = run(svc, "receive-order", "--received", "1:2", "1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "want line=quantity")
}

func TestParseLine(t *testing.T) {
	line, err := parseLine("101:4:250.00:100")
	require.NoError(t, err)
	assert.Equal(t, 101, line.ProductID)
	assert.Equal(t, int64(4), line.Quantity)
	assert.Equal(t, "250.00", line.UnitPrice.StringFixed(2))
	assert.Equal(t, "100.00", line.LineDiscount.StringFixed(2))

	for _, bad := range []string{"101", "101:1", "a:1:1", "1:1:x", "1:1:1:y", "1:1:1:1:1"} {
		_, err := parseLine(bad)
		assert.Error(t, err, bad)
	}
}
