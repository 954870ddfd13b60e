package core_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"commerce-pipeline/internal/core"
)

// --- Clock ---

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// --- Fixture ---

type pipelineFixture struct {
	ctx         context.Context
	store       *core.MemoryStore
	tenant      *core.Company
	other       *core.Company
	clock       *fakeClock
	lifecycle   core.LifecycleService
	conversions core.ConversionService
	inventory   *recordingInventory
}

// newFixture wires the services over a fresh MemoryStore. Options may replace
// any dependency before the conversion service is built.
func newFixture(t *testing.T, opts ...func(*core.ConversionDeps)) *pipelineFixture {
	t.Helper()
	clock := newFakeClock()
	store := core.NewMemoryStore().WithClock(clock.Now)
	inv := &recordingInventory{}

	deps := core.ConversionDeps{
		Repo:      store,
		Tax:       core.DefaultTaxPolicy(),
		Inventory: inv,
		Now:       clock.Now,
	}
	for _, opt := range opts {
		opt(&deps)
	}

	return &pipelineFixture{
		ctx:    context.Background(),
		store:  store,
		tenant: store.AddCompany("1000", "Acme Traders", "INR"),
		other:  store.AddCompany("2000", "Other Co", "INR"),
		clock:  clock,
		lifecycle: core.NewLifecycleService(core.LifecycleDeps{
			Repo: deps.Repo,
			Tax:  deps.Tax,
			Now:  clock.Now,
		}),
		conversions: core.NewConversionService(deps),
		inventory:   inv,
	}
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// scenarioLines totals 1180.00 before tax.
func scenarioLines() []core.LineItem {
	return []core.LineItem{
		{ProductID: 101, Description: "Steel bracket", Quantity: 2, UnitPrice: dec("500.00")},
		{ProductID: 102, Description: "Mounting kit", Quantity: 1, UnitPrice: dec("180.00")},
	}
}

func (f *pipelineFixture) quotation(t *testing.T, side core.Side) *core.CommercialDocument {
	t.Helper()
	q, err := f.lifecycle.CreateQuotation(f.ctx, f.tenant.ID, core.QuotationInput{
		Side:           side,
		CounterpartyID: 7,
		Lines:          scenarioLines(),
	})
	require.NoError(t, err)
	return q
}

func (f *pipelineFixture) transition(t *testing.T, id int, to ...core.Status) {
	t.Helper()
	for _, s := range to {
		_, err := f.lifecycle.Transition(f.ctx, f.tenant.ID, id, s)
		require.NoError(t, err)
	}
}

func (f *pipelineFixture) acceptedQuotation(t *testing.T, side core.Side) *core.CommercialDocument {
	t.Helper()
	q := f.quotation(t, side)
	f.transition(t, q.ID, core.StatusAccepted)
	return q
}

func (f *pipelineFixture) shippedOrder(t *testing.T, side core.Side) *core.CommercialDocument {
	t.Helper()
	q := f.acceptedQuotation(t, side)
	oc, err := f.conversions.ConvertQuotationToOrder(f.ctx, f.tenant.ID, q.ID, core.OrderOptions{})
	require.NoError(t, err)
	f.transition(t, oc.Order.ID, core.StatusConfirmed, core.StatusInProgress, core.StatusShipped)
	return oc.Order
}

func (f *pipelineFixture) successors(t *testing.T, id int) int {
	t.Helper()
	docs, err := f.store.ListDocuments(f.ctx, f.tenant.ID, core.DocumentFilter{})
	require.NoError(t, err)
	n := 0
	for _, d := range docs {
		if d.PredecessorID != nil && *d.PredecessorID == id {
			n++
		}
	}
	return n
}

// --- Collaborator doubles ---

type recordingInventory struct {
	mu       sync.Mutex
	receipts map[int][]core.LineItem
	err      error
	block    chan struct{}
}

func (r *recordingInventory) NotifyReceipt(_ context.Context, receiptID int, lines []core.LineItem) error {
	if r.block != nil {
		<-r.block
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	if r.receipts == nil {
		r.receipts = make(map[int][]core.LineItem)
	}
	r.receipts[receiptID] = lines
	return nil
}

func (r *recordingInventory) received(receiptID int) ([]core.LineItem, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.receipts[receiptID]
	return l, ok
}

type permissionFunc func(actorID, tenantID, documentID int) bool

func (f permissionFunc) CanConvert(_ context.Context, actorID, tenantID, documentID int) (bool, error) {
	return f(actorID, tenantID, documentID), nil
}

// hookedRepo wraps a MemoryStore to tamper with reads or fail writes inside
// transactions.
type hookedRepo struct {
	*core.MemoryStore
	onLock         func(*core.CommercialDocument)
	afterSuccessor func()
	failInsert     func(*core.CommercialDocument) error
	txErr          error
}

func (r *hookedRepo) WithTransaction(ctx context.Context, fn func(tx core.DocumentTx) error) error {
	if r.txErr != nil {
		return r.txErr
	}
	return r.MemoryStore.WithTransaction(ctx, func(tx core.DocumentTx) error {
		return fn(&hookedTx{DocumentTx: tx, repo: r})
	})
}

type hookedTx struct {
	core.DocumentTx
	repo *hookedRepo
}

func (t *hookedTx) LockByID(ctx context.Context, tenantID, id int) (*core.CommercialDocument, error) {
	d, err := t.DocumentTx.LockByID(ctx, tenantID, id)
	if err == nil && t.repo.onLock != nil {
		t.repo.onLock(d)
	}
	return d, err
}

func (t *hookedTx) FindSuccessorOf(ctx context.Context, tenantID, predecessorID int) (*core.CommercialDocument, error) {
	d, err := t.DocumentTx.FindSuccessorOf(ctx, tenantID, predecessorID)
	if t.repo.afterSuccessor != nil {
		t.repo.afterSuccessor()
	}
	return d, err
}

func (t *hookedTx) Insert(ctx context.Context, doc *core.CommercialDocument) error {
	if t.repo.failInsert != nil {
		if err := t.repo.failInsert(doc); err != nil {
			return err
		}
	}
	return t.DocumentTx.Insert(ctx, doc)
}
