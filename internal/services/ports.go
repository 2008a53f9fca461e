package services

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/adsettle/backend/internal/models"
	"github.com/adsettle/backend/internal/repositories"
)

// Store interfaces mirror the repository layer so services can be exercised
// against in-memory doubles in tests.

type DealStore interface {
	Create(ctx context.Context, d *models.Deal) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Deal, error)
	UpdateStatusFrom(ctx context.Context, id uuid.UUID, from []string, to string, u repositories.DealUpdate) (bool, error)
	SetEscrow(ctx context.Context, id uuid.UUID, address string, mnemonicEnc []byte) (bool, error)
	ListByStatus(ctx context.Context, status string) ([]models.Deal, error)
	ListAwaitingFunding(ctx context.Context) ([]models.Deal, error)
	ListStalled(ctx context.Context, status string, timeoutSeconds int) ([]models.Deal, error)
	ListScheduledDue(ctx context.Context) ([]models.Deal, error)
	ListPurgeable(ctx context.Context, statuses []string, cutoff time.Time, limit int) ([]models.Deal, error)
	PurgeDealData(ctx context.Context, id uuid.UUID) error
}

type TransactionStore interface {
	Create(ctx context.Context, t *models.Transaction) error
	ListByDeal(ctx context.Context, dealID uuid.UUID) ([]models.Transaction, error)
}

type PendingTransferStore interface {
	Create(ctx context.Context, p *models.PendingTransfer) error
	List(ctx context.Context) ([]models.PendingTransfer, error)
	ExistsForDeal(ctx context.Context, dealID uuid.UUID) (bool, error)
	Claim(ctx context.Context, id uuid.UUID, seenAttempts int, dueBefore time.Time) (bool, error)
	SetLastError(ctx context.Context, id uuid.UUID, msg string) error
	Delete(ctx context.Context, id uuid.UUID) error
}

type DisputeStore interface {
	Create(ctx context.Context, d *models.Dispute) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Dispute, error)
	GetActiveByDeal(ctx context.Context, dealID uuid.UUID) (*models.Dispute, error)
	AppendEvidence(ctx context.Context, id uuid.UUID, ev models.DisputeEvidence) error
	AppendProposal(ctx context.Context, id uuid.UUID, p models.DisputeProposal, from []string) (bool, error)
	Resolve(ctx context.Context, id uuid.UUID, seenProposals int, resolvedAt time.Time) (bool, error)
	UpdateStatusFrom(ctx context.Context, id uuid.UUID, from []string, to string, resolvedAt *time.Time) (bool, error)
	ListEscalatable(ctx context.Context, now time.Time) ([]models.Dispute, error)
}

type ReceiptStore interface {
	Upsert(ctx context.Context, r *models.DealReceipt) error
	GetByDealID(ctx context.Context, dealID uuid.UUID) (*models.DealReceipt, error)
}

type RequirementStore interface {
	Create(ctx context.Context, r *models.Requirement) error
	ListByDeal(ctx context.Context, dealID uuid.UUID) ([]models.Requirement, error)
}

type AuditStore interface {
	Log(ctx context.Context, e *models.DealEvent) error
	ListByDeal(ctx context.Context, dealID uuid.UUID) ([]models.DealEvent, error)
}

// Blockchain is the slice of the TON layer the settlement path depends on.
type Blockchain interface {
	MasterAddress() string
	EscrowAddress(ctx context.Context, subwalletID uint32) (string, error)
	Balance(ctx context.Context, address string) (decimal.Decimal, error)
	SweepToMaster(ctx context.Context, subwalletID uint32, comment string) (txHash string, swept decimal.Decimal, err error)
	SendFromMaster(ctx context.Context, to string, amount decimal.Decimal, comment string) (txHash string, err error)
}
