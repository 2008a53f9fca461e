package workers

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"

	"github.com/adsettle/backend/internal/models"
	"github.com/adsettle/backend/internal/platform"
	"github.com/adsettle/backend/internal/repositories"
)

type memDealStore struct {
	mu    sync.Mutex
	deals map[uuid.UUID]*models.Deal
}

func newMemDealStore(deals ...*models.Deal) *memDealStore {
	s := &memDealStore{deals: make(map[uuid.UUID]*models.Deal)}
	for _, d := range deals {
		if d.ID == uuid.Nil {
			d.ID = uuid.New()
		}
		s.deals[d.ID] = d
	}
	return s
}

func (s *memDealStore) Create(ctx context.Context, d *models.Deal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d.ID = uuid.New()
	cp := *d
	s.deals[d.ID] = &cp
	return nil
}

func (s *memDealStore) GetByID(ctx context.Context, id uuid.UUID) (*models.Deal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.deals[id]
	if !ok {
		return nil, errors.New("deal not found")
	}
	cp := *d
	return &cp, nil
}

func (s *memDealStore) UpdateStatusFrom(ctx context.Context, id uuid.UUID, from []string, to string, u repositories.DealUpdate) (bool, error) {
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

func (s *memDealStore) SetEscrow(ctx context.Context, id uuid.UUID, address string, mnemonicEnc []byte) (bool, error) {
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

func (s *memDealStore) ListByStatus(ctx context.Context, status string) ([]models.Deal, error) {
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

func (s *memDealStore) ListAwaitingFunding(ctx context.Context) ([]models.Deal, error) {
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

func (s *memDealStore) ListStalled(ctx context.Context, status string, timeoutSeconds int) ([]models.Deal, error) {
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

func (s *memDealStore) ListScheduledDue(ctx context.Context) ([]models.Deal, error) {
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

func (s *memDealStore) ListPurgeable(ctx context.Context, statuses []string, cutoff time.Time, limit int) ([]models.Deal, error) {
	return nil, nil
}

func (s *memDealStore) PurgeDealData(ctx context.Context, id uuid.UUID) error { return nil }

type memTxStore struct {
	mu  sync.Mutex
	txs []models.Transaction
}

func (s *memTxStore) Create(ctx context.Context, t *models.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.txs = append(s.txs, *t)
	return nil
}

func (s *memTxStore) ListByDeal(ctx context.Context, dealID uuid.UUID) ([]models.Transaction, error) {
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

type memPendingStore struct {
	mu        sync.Mutex
	transfers map[uuid.UUID]*models.PendingTransfer
}

func newMemPendingStore() *memPendingStore {
	return &memPendingStore{transfers: make(map[uuid.UUID]*models.PendingTransfer)}
}

func (s *memPendingStore) Create(ctx context.Context, p *models.PendingTransfer) error {
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

func (s *memPendingStore) List(ctx context.Context) ([]models.PendingTransfer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.PendingTransfer
	for _, p := range s.transfers {
		out = append(out, *p)
	}
	return out, nil
}

func (s *memPendingStore) ExistsForDeal(ctx context.Context, dealID uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.transfers {
		if p.DealID == dealID {
			return true, nil
		}
	}
	return false, nil
}

func (s *memPendingStore) Claim(ctx context.Context, id uuid.UUID, seenAttempts int, dueBefore time.Time) (bool, error) {
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

func (s *memPendingStore) SetLastError(ctx context.Context, id uuid.UUID, msg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.transfers[id]; ok {
		p.LastError = &msg
	}
	return nil
}

func (s *memPendingStore) Delete(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.transfers, id)
	return nil
}

type memRequirementStore struct {
	mu   sync.Mutex
	reqs []models.Requirement
}

func (s *memRequirementStore) Create(ctx context.Context, r *models.Requirement) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reqs = append(s.reqs, *r)
	return nil
}

func (s *memRequirementStore) ListByDeal(ctx context.Context, dealID uuid.UUID) ([]models.Requirement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Requirement
	for _, r := range s.reqs {
		if r.DealID == dealID {
			out = append(out, r)
		}
	}
	return out, nil
}

type memAuditStore struct{}

func (memAuditStore) Log(ctx context.Context, e *models.DealEvent) error { return nil }
func (memAuditStore) ListByDeal(ctx context.Context, dealID uuid.UUID) ([]models.DealEvent, error) {
	return nil, nil
}

type memNotifier struct{}

func (memNotifier) Notify(ctx context.Context, entityID uuid.UUID, kind string, payload map[string]any) {
}

// memChain is the in-memory Blockchain double. Escrow addresses derive
// deterministically from the subwallet id so tests can fund them up front.
type memChain struct {
	mu       sync.Mutex
	balances map[string]decimal.Decimal
	sendErr  error
	sends    []string // recipient addresses, in order
	sweeps   int
}

func newMemChain() *memChain {
	return &memChain{balances: make(map[string]decimal.Decimal)}
}

func escrowAddrFor(sub uint32) string {
	return fmt.Sprintf("EQescrow-%d", sub)
}

func (c *memChain) fund(sub uint32, amount decimal.Decimal) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.balances[escrowAddrFor(sub)] = amount
}

func (c *memChain) MasterAddress() string { return "EQmaster" }

func (c *memChain) EscrowAddress(ctx context.Context, sub uint32) (string, error) {
	return escrowAddrFor(sub), nil
}

func (c *memChain) Balance(ctx context.Context, address string) (decimal.Decimal, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.balances[address], nil
}

func (c *memChain) SweepToMaster(ctx context.Context, sub uint32, comment string) (string, decimal.Decimal, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	addr := escrowAddrFor(sub)
	bal := c.balances[addr]
	if !bal.IsPositive() {
		return "", decimal.Zero, errors.New("escrow balance is zero")
	}
	c.balances[addr] = decimal.Zero
	c.sweeps++
	return "sweephash", bal, nil
}

func (c *memChain) SendFromMaster(ctx context.Context, to string, amount decimal.Decimal, comment string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendErr != nil {
		return "", c.sendErr
	}
	c.sends = append(c.sends, to)
	return "sendhash", nil
}

// memLocker mirrors the redis lock contract: non-blocking acquire, held
// locks are simply skipped.
type memLocker struct {
	mu   sync.Mutex
	held map[string]bool
}

func newMemLocker() *memLocker {
	return &memLocker{held: make(map[string]bool)}
}

func (l *memLocker) Acquire(ctx context.Context, key string, ttl time.Duration) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[key] {
		return false
	}
	l.held[key] = true
	return true
}

func (l *memLocker) Release(ctx context.Context, key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.held, key)
}

// stubAdapter scripts platform responses per test.
type stubAdapter struct {
	canPost      bool
	publishErr   error
	published    []string // channel ids posted to
	postExists   bool
	existsErr    error
	isAdmin      bool
	adminErr     error
	metrics      *platform.PostMetrics
	metricsErr   error
	publishCount int
	mu           sync.Mutex
}

func (a *stubAdapter) CanPost(ctx context.Context, channelID string) (bool, error) {
	return a.canPost, nil
}

func (a *stubAdapter) PublishPost(ctx context.Context, channelID, text string, mediaURL, mediaType *string) (*platform.PublishedPost, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.publishErr != nil {
		return nil, a.publishErr
	}
	a.publishCount++
	a.published = append(a.published, channelID)
	return &platform.PublishedPost{PostID: "12345", URL: "https://t.me/" + channelID + "/12345"}, nil
}

func (a *stubAdapter) FetchPostMetrics(ctx context.Context, channelID, postID string) (*platform.PostMetrics, error) {
	if a.metricsErr != nil {
		return nil, a.metricsErr
	}
	return a.metrics, nil
}

func (a *stubAdapter) VerifyPostExists(ctx context.Context, channelID, postID string) (bool, error) {
	if a.existsErr != nil {
		return false, a.existsErr
	}
	return a.postExists, nil
}

func (a *stubAdapter) VerifyUserAdmin(ctx context.Context, channelID string, userID int64) (bool, error) {
	if a.adminErr != nil {
		return false, a.adminErr
	}
	return a.isAdmin, nil
}

func testMetrics() *Metrics {
	return NewMetrics(prometheus.NewRegistry())
}
