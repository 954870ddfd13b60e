package core

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// MemoryStore is an in-process DocumentRepository, PipelineReader and
// CompanyDirectory. Transactions are optimistic: writes are buffered and
// validated at commit against the one-successor rule and the expected source
// status, so concurrent conversions behave as they do against PostgreSQL.
type MemoryStore struct {
	mu         sync.RWMutex
	docs       map[int]*CommercialDocument
	successors map[int]int // predecessor id → successor id
	sequences  map[string]int64
	companies  map[string]*Company
	nextDocID  int
	nextCoID   int
	now        func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		docs:       make(map[int]*CommercialDocument),
		successors: make(map[int]int),
		sequences:  make(map[string]int64),
		companies:  make(map[string]*Company),
		now:        time.Now,
	}
}

// WithClock replaces the clock used for status change timestamps.
func (s *MemoryStore) WithClock(now func() time.Time) *MemoryStore {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
	return s
}

// AddCompany registers a tenant and returns it.
func (s *MemoryStore) AddCompany(code, name, baseCurrency string) *Company {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.companies[code]; ok {
		return c
	}
	s.nextCoID++
	c := &Company{ID: s.nextCoID, CompanyCode: code, Name: name, BaseCurrency: baseCurrency}
	s.companies[code] = c
	return c
}

func (s *MemoryStore) ResolveCompany(_ context.Context, companyCode string) (*Company, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.companies[companyCode]
	if !ok {
		return nil, fmt.Errorf("%w: company code %s not found", ErrNotFound, companyCode)
	}
	cc := *c
	return &cc, nil
}

// ── Reads ────────────────────────────────────────────────────────────────────

func (s *MemoryStore) FindByID(_ context.Context, tenantID, id int) (*CommercialDocument, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.docs[id]
	if !ok || d.TenantID != tenantID {
		return nil, notFound(id)
	}
	return d.clone(), nil
}

func (s *MemoryStore) FindSuccessorOf(_ context.Context, tenantID, predecessorID int) (*CommercialDocument, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.successorLocked(tenantID, predecessorID), nil
}

func (s *MemoryStore) successorLocked(tenantID, predecessorID int) *CommercialDocument {
	id, ok := s.successors[predecessorID]
	if !ok {
		return nil
	}
	d := s.docs[id]
	if d.TenantID != tenantID {
		return nil
	}
	return d.clone()
}

func (s *MemoryStore) ListDocuments(_ context.Context, tenantID int, f DocumentFilter) ([]CommercialDocument, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []CommercialDocument
	for _, d := range s.docs {
		if d.TenantID == tenantID && f.matches(d) {
			out = append(out, *d.clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

// ── Writes ───────────────────────────────────────────────────────────────────

func (s *MemoryStore) UpdateStatus(ctx context.Context, tenantID, id int, from, to Status) error {
	return s.WithTransaction(ctx, func(tx DocumentTx) error {
		return tx.UpdateStatus(ctx, tenantID, id, from, to)
	})
}

func (s *MemoryStore) WithTransaction(ctx context.Context, fn func(tx DocumentTx) error) error {
	tx := &memTx{store: s}
	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.commit(tx)
}

type statusUpdate struct {
	tenantID int
	id       int
	from     Status
	to       Status
}

// memTx reads each document once and keeps that snapshot for the rest of the
// transaction. Status checks inside the transaction run against the snapshot;
// commit compares it with the live state.
type memTx struct {
	store    *MemoryStore
	snapshot map[int]*CommercialDocument
	inserts  []*CommercialDocument
	updates  []statusUpdate
}

func (tx *memTx) LockByID(ctx context.Context, tenantID, id int) (*CommercialDocument, error) {
	d, ok := tx.snapshot[id]
	if !ok || d.TenantID != tenantID {
		read, err := tx.store.FindByID(ctx, tenantID, id)
		if err != nil {
			return nil, err
		}
		if tx.snapshot == nil {
			tx.snapshot = make(map[int]*CommercialDocument)
		}
		tx.snapshot[id] = read
		d = read
	}
	d = d.clone()
	for _, u := range tx.updates {
		if u.id == id {
			d.Status = u.to
		}
	}
	return d, nil
}

func (tx *memTx) FindSuccessorOf(ctx context.Context, tenantID, predecessorID int) (*CommercialDocument, error) {
	for _, d := range tx.inserts {
		if d.TenantID == tenantID && d.PredecessorID != nil && *d.PredecessorID == predecessorID {
			return d.clone(), nil
		}
	}
	return tx.store.FindSuccessorOf(ctx, tenantID, predecessorID)
}

func (tx *memTx) Insert(_ context.Context, doc *CommercialDocument) error {
	if doc.PredecessorID != nil {
		for _, d := range tx.inserts {
			if d.PredecessorID != nil && *d.PredecessorID == *doc.PredecessorID {
				return fmt.Errorf("%w: document %d already has a successor", ErrStorageConflict, *doc.PredecessorID)
			}
		}
	}
	tx.inserts = append(tx.inserts, doc)
	return nil
}

func (tx *memTx) UpdateStatus(ctx context.Context, tenantID, id int, from, to Status) error {
	d, err := tx.LockByID(ctx, tenantID, id)
	if err != nil {
		return err
	}
	if d.Status != from {
		return &ConversionError{Err: ErrInvalidState, DocumentID: id, Stage: d.Stage, Status: d.Status, Expected: from}
	}
	tx.updates = append(tx.updates, statusUpdate{tenantID: tenantID, id: id, from: from, to: to})
	return nil
}

// commit validates the buffered writes against the current state and applies
// them all, or none. The successor rule is checked first, so a transaction that
// lost a conversion race fails with ErrStorageConflict rather than with the
// source's new status.
func (s *MemoryStore) commit(tx *memTx) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, d := range tx.inserts {
		if d.PredecessorID == nil {
			continue
		}
		if _, taken := s.successors[*d.PredecessorID]; taken {
			return fmt.Errorf("%w: document %d already has a successor", ErrStorageConflict, *d.PredecessorID)
		}
	}

	// Status changes are replayed in order, so chained updates within one
	// transaction see each other.
	pending := make(map[int]Status)
	for _, u := range tx.updates {
		cur, ok := s.docs[u.id]
		if !ok || cur.TenantID != u.tenantID {
			return notFound(u.id)
		}
		status, seen := pending[u.id]
		if !seen {
			status = cur.Status
		}
		if status != u.from {
			return &ConversionError{Err: ErrInvalidState, DocumentID: u.id, Stage: cur.Stage, Status: status, Expected: u.from}
		}
		pending[u.id] = u.to
	}

	now := s.now()
	for _, d := range tx.inserts {
		s.nextDocID++
		d.ID = s.nextDocID
		if d.CreatedAt.IsZero() {
			d.CreatedAt = now
		}
		d.DocumentNumber = s.nextNumberLocked(d)
		s.docs[d.ID] = d.clone()
		if d.PredecessorID != nil {
			s.successors[*d.PredecessorID] = d.ID
		}
	}
	for _, u := range tx.updates {
		cur := s.docs[u.id]
		cur.Status = u.to
		t := now
		cur.StatusChangedAt = &t
	}
	return nil
}

func (s *MemoryStore) nextNumberLocked(d *CommercialDocument) string {
	code := DocumentTypeCode(d.Side, d.Stage)
	year := d.CreatedAt.Year()
	key := fmt.Sprintf("%d/%s/%d", d.TenantID, code, year)
	s.sequences[key]++
	return formatDocumentNumber(code, year, s.sequences[key])
}

// ── PipelineReader ───────────────────────────────────────────────────────────

func (s *MemoryStore) StageSummaries(_ context.Context, tenantID int, side Side, w Window) ([]StageSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	byStage := make(map[Stage]*StageSummary)
	for _, d := range s.docs {
		if d.TenantID != tenantID || d.Side != side || !w.contains(d.CreatedAt) {
			continue
		}
		sum, ok := byStage[d.Stage]
		if !ok {
			sum = &StageSummary{Stage: d.Stage, Total: decimal.Zero}
			byStage[d.Stage] = sum
		}
		sum.Count++
		sum.Total = sum.Total.Add(d.Total)
	}

	var out []StageSummary
	for _, st := range PipelineStages(side) {
		if sum, ok := byStage[st]; ok {
			out = append(out, *sum)
		}
	}
	return out, nil
}

func (s *MemoryStore) ConversionPairs(_ context.Context, tenantID int, side Side, w Window) ([]ConversionPair, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []ConversionPair
	for predID, succID := range s.successors {
		pred := s.docs[predID]
		if pred.TenantID != tenantID || pred.Side != side || !w.contains(pred.CreatedAt) {
			continue
		}
		succ := s.docs[succID]
		out = append(out, ConversionPair{
			From:                 pred.Stage,
			To:                   succ.Stage,
			PredecessorCreatedAt: pred.CreatedAt,
			SuccessorCreatedAt:   succ.CreatedAt,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].From != out[j].From {
			return out[i].From.Rank() < out[j].From.Rank()
		}
		return out[i].PredecessorCreatedAt.Before(out[j].PredecessorCreatedAt)
	})
	return out, nil
}

func (s *MemoryStore) CountStale(_ context.Context, tenantID int, side Side, stage Stage, status Status, olderThan time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, d := range s.docs {
		if d.TenantID != tenantID || d.Side != side || d.Stage != stage || d.Status != status {
			continue
		}
		since := d.CreatedAt
		if d.StatusChangedAt != nil {
			since = *d.StatusChangedAt
		}
		if since.Before(olderThan) {
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) String() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	codes := make([]string, 0, len(s.companies))
	for c := range s.companies {
		codes = append(codes, c)
	}
	sort.Strings(codes)
	return fmt.Sprintf("memory store: %d documents, companies [%s]", len(s.docs), strings.Join(codes, ","))
}
