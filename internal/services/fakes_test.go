package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/adsettle/backend/internal/models"
	"github.com/adsettle/backend/internal/repositories"
)

// In-memory doubles for the store and blockchain ports. They reproduce the
// compare-and-set semantics of the real repositories, which is what most of
// these tests are actually about.

type fakeDealStore struct {
	mu    sync.Mutex
	deals map[uuid.UUID]*models.Deal
}

func newFakeDealStore(deals ...*models.Deal) *fakeDealStore {
	s := &fakeDealStore{deals: make(map[uuid.UUID]*models.Deal)}
	for _, d := range deals {
		if d.ID == uuid.Nil {
			d.ID = uuid.New()
		}
		s.deals[d.ID] = d
	}
	return s
}

func (s *fakeDealStore) Create(ctx context.Context, d *models.Deal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	d.CreatedAt = time.Now().UTC()
	d.UpdatedAt = d.CreatedAt
	cp := *d
	s.deals[d.ID] = &cp
	return nil
}

func (s *fakeDealStore) GetByID(ctx context.Context, id uuid.UUID) (*models.Deal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.deals[id]
	if !ok {
		return nil, errors.New("deal not found")
	}
	cp := *d
	return &cp, nil
}

func (s *fakeDealStore) UpdateStatusFrom(ctx context.Context, id uuid.UUID, from []string, to string, u repositories.DealUpdate) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.deals[id]
	if !ok {
		return false, nil
	}
	match := false
	for _, f := range from {
		if d.Status == f {
			match = true
			break
		}
	}
	if !match {
		return false, nil
	}
	d.Status = to
	if u.PlatformPostID != nil {
		d.PlatformPostID = u.PlatformPostID
	}
	if u.TrackingStartedAt != nil {
		d.TrackingStartedAt = u.TrackingStartedAt
	}
	if u.PostVerifiedAt != nil {
		d.PostVerifiedAt = u.PostVerifiedAt
	}
	if u.CompletedAt != nil {
		d.CompletedAt = u.CompletedAt
	}
	if u.FailReason != nil {
		d.FailReason = u.FailReason
	}
	d.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (s *fakeDealStore) SetEscrow(ctx context.Context, id uuid.UUID, address string, mnemonicEnc []byte) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.deals[id]
	if !ok || d.EscrowAddress != nil {
		return false, nil
	}
	d.EscrowAddress = &address
	d.EscrowMnemonicEnc = mnemonicEnc
	return true, nil
}

func (s *fakeDealStore) ListByStatus(ctx context.Context, status string) ([]models.Deal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Deal
	for _, d := range s.deals {
		if d.Status == status {
			out = append(out, *d)
		}
	}
	return out, nil
}

func (s *fakeDealStore) ListAwaitingFunding(ctx context.Context) ([]models.Deal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Deal
	for _, d := range s.deals {
		if d.Status == models.DealStatusPendingPayment && d.EscrowAddress != nil {
			out = append(out, *d)
		}
	}
	return out, nil
}

func (s *fakeDealStore) ListStalled(ctx context.Context, status string, timeoutSeconds int) ([]models.Deal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := time.Now().UTC().Add(-time.Duration(timeoutSeconds) * time.Second)
	var out []models.Deal
	for _, d := range s.deals {
		if d.Status == status && d.UpdatedAt.Before(cutoff) {
			out = append(out, *d)
		}
	}
	return out, nil
}

func (s *fakeDealStore) ListScheduledDue(ctx context.Context) ([]models.Deal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	var out []models.Deal
	for _, d := range s.deals {
		if d.Status == models.DealStatusScheduled && d.ScheduledPostAt != nil && !d.ScheduledPostAt.After(now) {
			out = append(out, *d)
		}
	}
	return out, nil
}

func (s *fakeDealStore) ListPurgeable(ctx context.Context, statuses []string, cutoff time.Time, limit int) ([]models.Deal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Deal
	for _, d := range s.deals {
		if len(out) >= limit {
			break
		}
		if d.Purged() || d.CompletedAt == nil || d.CompletedAt.After(cutoff) {
			continue
		}
		for _, st := range statuses {
			if d.Status == st {
				out = append(out, *d)
				break
			}
		}
	}
	return out, nil
}

func (s *fakeDealStore) PurgeDealData(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.deals[id]
	if !ok {
		return errors.New("deal not found")
	}
	d.CreativeText = nil
	d.ReviewerNotes = nil
	d.EscrowMnemonicEnc = nil
	d.EscrowAddress = nil
	return nil
}

type fakeTxStore struct {
	mu  sync.Mutex
	txs []models.Transaction
}

func (s *fakeTxStore) Create(ctx context.Context, t *models.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t.ID = uuid.New()
	t.CreatedAt = time.Now().UTC()
	s.txs = append(s.txs, *t)
	return nil
}

func (s *fakeTxStore) ListByDeal(ctx context.Context, dealID uuid.UUID) ([]models.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Transaction
	for _, t := range s.txs {
		if t.DealID == dealID {
			out = append(out, t)
		}
	}
	return out, nil
}

func (s *fakeTxStore) byDirection(direction string) []models.Transaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Transaction
	for _, t := range s.txs {
		if t.Direction == direction {
			out = append(out, t)
		}
	}
	return out
}

type fakePendingStore struct {
	mu        sync.Mutex
	transfers map[uuid.UUID]*models.PendingTransfer
}

func newFakePendingStore() *fakePendingStore {
	return &fakePendingStore{transfers: make(map[uuid.UUID]*models.PendingTransfer)}
}

func (s *fakePendingStore) Create(ctx context.Context, p *models.PendingTransfer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ex := range s.transfers {
		if ex.DealID == p.DealID && ex.Direction == p.Direction {
			ex.LastError = p.LastError
			*p = *ex
			return nil
		}
	}
	p.ID = uuid.New()
	p.CreatedAt = time.Now().UTC()
	cp := *p
	s.transfers[p.ID] = &cp
	return nil
}

func (s *fakePendingStore) List(ctx context.Context) ([]models.PendingTransfer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.PendingTransfer
	for _, p := range s.transfers {
		out = append(out, *p)
	}
	return out, nil
}

func (s *fakePendingStore) ExistsForDeal(ctx context.Context, dealID uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.transfers {
		if p.DealID == dealID {
			return true, nil
		}
	}
	return false, nil
}

func (s *fakePendingStore) Claim(ctx context.Context, id uuid.UUID, seenAttempts int, dueBefore time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.transfers[id]
	if !ok || p.Attempts != seenAttempts {
		return false, nil
	}
	if p.LastAttemptAt != nil && p.LastAttemptAt.After(dueBefore) {
		return false, nil
	}
	now := time.Now().UTC()
	p.Attempts++
	p.LastAttemptAt = &now
	return true, nil
}

func (s *fakePendingStore) SetLastError(ctx context.Context, id uuid.UUID, msg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.transfers[id]; ok {
		p.LastError = &msg
	}
	return nil
}

func (s *fakePendingStore) Delete(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.transfers, id)
	return nil
}

type fakeChain struct {
	mu sync.Mutex

	balances map[string]decimal.Decimal // escrow address -> balance
	swept    map[uint32]bool

	sendErr   error // next SendFromMaster fails with this
	sweepErr  error
	sends     []fakeSend
	sweeps    int
	addresses map[uint32]string
}

type fakeSend struct {
	To     string
	Amount decimal.Decimal
}

func newFakeChain() *fakeChain {
	return &fakeChain{
		balances:  make(map[string]decimal.Decimal),
		swept:     make(map[uint32]bool),
		addresses: make(map[uint32]string),
	}
}

func (c *fakeChain) MasterAddress() string { return "EQmaster" }

func (c *fakeChain) EscrowAddress(ctx context.Context, sub uint32) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	addr, ok := c.addresses[sub]
	if !ok {
		addr = "EQescrow" + uuid.New().String()[:8]
		c.addresses[sub] = addr
	}
	return addr, nil
}

func (c *fakeChain) Balance(ctx context.Context, address string) (decimal.Decimal, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.balances[address], nil
}

func (c *fakeChain) SweepToMaster(ctx context.Context, sub uint32, comment string) (string, decimal.Decimal, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sweepErr != nil {
		return "", decimal.Zero, c.sweepErr
	}
	addr := c.addresses[sub]
	bal := c.balances[addr]
	if !bal.IsPositive() {
		return "", decimal.Zero, errors.New("escrow balance is zero")
	}
	c.balances[addr] = decimal.Zero
	c.swept[sub] = true
	c.sweeps++
	return "sweephash", bal, nil
}

func (c *fakeChain) SendFromMaster(ctx context.Context, to string, amount decimal.Decimal, comment string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendErr != nil {
		err := c.sendErr
		return "", err
	}
	c.sends = append(c.sends, fakeSend{To: to, Amount: amount})
	return "sendhash", nil
}

type fakeDisputeStore struct {
	mu       sync.Mutex
	disputes map[uuid.UUID]*models.Dispute
}

func newFakeDisputeStore() *fakeDisputeStore {
	return &fakeDisputeStore{disputes: make(map[uuid.UUID]*models.Dispute)}
}

func (s *fakeDisputeStore) Create(ctx context.Context, d *models.Dispute) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d.ID = uuid.New()
	d.CreatedAt = time.Now().UTC()
	cp := *d
	s.disputes[d.ID] = &cp
	return nil
}

func (s *fakeDisputeStore) GetByID(ctx context.Context, id uuid.UUID) (*models.Dispute, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.disputes[id]
	if !ok {
		return nil, errors.New("dispute not found")
	}
	cp := *d
	return &cp, nil
}

func (s *fakeDisputeStore) GetActiveByDeal(ctx context.Context, dealID uuid.UUID) (*models.Dispute, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range s.disputes {
		if d.DealID == dealID && d.Status != models.DisputeStatusResolved {
			cp := *d
			return &cp, nil
		}
	}
	return nil, errors.New("no active dispute")
}

func (s *fakeDisputeStore) AppendEvidence(ctx context.Context, id uuid.UUID, ev models.DisputeEvidence) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.disputes[id]
	if !ok {
		return errors.New("dispute not found")
	}
	d.Evidence = append(d.Evidence, ev)
	return nil
}

func (s *fakeDisputeStore) AppendProposal(ctx context.Context, id uuid.UUID, p models.DisputeProposal, from []string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.disputes[id]
	if !ok {
		return false, errors.New("dispute not found")
	}
	allowed := false
	for _, f := range from {
		if d.Status == f {
			allowed = true
			break
		}
	}
	if !allowed {
		return false, nil
	}
	d.Proposals = append(d.Proposals, p)
	d.Status = models.DisputeStatusAwaitingAccept
	return true, nil
}

func (s *fakeDisputeStore) Resolve(ctx context.Context, id uuid.UUID, seenProposals int, resolvedAt time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.disputes[id]
	if !ok {
		return false, nil
	}
	if d.Status != models.DisputeStatusAwaitingAccept || len(d.Proposals) != seenProposals {
		return false, nil
	}
	d.Status = models.DisputeStatusResolved
	d.ResolvedAt = &resolvedAt
	return true, nil
}

func (s *fakeDisputeStore) UpdateStatusFrom(ctx context.Context, id uuid.UUID, from []string, to string, resolvedAt *time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.disputes[id]
	if !ok {
		return false, nil
	}
	for _, f := range from {
		if d.Status == f {
			d.Status = to
			if resolvedAt != nil {
				d.ResolvedAt = resolvedAt
			}
			return true, nil
		}
	}
	return false, nil
}

func (s *fakeDisputeStore) ListEscalatable(ctx context.Context, now time.Time) ([]models.Dispute, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Dispute
	for _, d := range s.disputes {
		if (d.Status == models.DisputeStatusOpen || d.Status == models.DisputeStatusAwaitingAccept) && d.DeadlineAt.Before(now) {
			out = append(out, *d)
		}
	}
	return out, nil
}

type fakeReceiptStore struct {
	mu       sync.Mutex
	receipts map[uuid.UUID]*models.DealReceipt
	upserts  int
}

func newFakeReceiptStore() *fakeReceiptStore {
	return &fakeReceiptStore{receipts: make(map[uuid.UUID]*models.DealReceipt)}
}

func (s *fakeReceiptStore) Upsert(ctx context.Context, r *models.DealReceipt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.upserts++
	if _, ok := s.receipts[r.DealID]; ok {
		return nil // ON CONFLICT DO NOTHING
	}
	r.ID = uuid.New()
	r.CreatedAt = time.Now().UTC()
	cp := *r
	s.receipts[r.DealID] = &cp
	return nil
}

func (s *fakeReceiptStore) GetByDealID(ctx context.Context, dealID uuid.UUID) (*models.DealReceipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.receipts[dealID]
	if !ok {
		return nil, errors.New("receipt not found")
	}
	cp := *r
	return &cp, nil
}

type fakeAuditStore struct {
	mu     sync.Mutex
	events []models.DealEvent
}

func (s *fakeAuditStore) Log(ctx context.Context, e *models.DealEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e.ID = uuid.New()
	s.events = append(s.events, *e)
	return nil
}

func (s *fakeAuditStore) ListByDeal(ctx context.Context, dealID uuid.UUID) ([]models.DealEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.DealEvent
	for _, e := range s.events {
		if e.DealID == dealID {
			out = append(out, e)
		}
	}
	return out, nil
}

type nopNotifier struct {
	mu    sync.Mutex
	kinds []string
}

func (n *nopNotifier) Notify(ctx context.Context, entityID uuid.UUID, kind string, payload map[string]any) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.kinds = append(n.kinds, kind)
}
