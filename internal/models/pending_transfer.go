package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PendingTransfer directions decide the deal's final status once hop 2 lands.
const (
	TransferDirectionRelease = "release"
	TransferDirectionRefund  = "refund"
)

// PendingTransfer is the recovery record written when hop 1 of a payout
// swept the escrow but hop 2 to the final recipient failed. Owned by the
// escrow service; deleted when hop 2 eventually succeeds.
type PendingTransfer struct {
	ID               uuid.UUID       `json:"id"`
	DealID           uuid.UUID       `json:"deal_id"`
	Direction        string          `json:"direction"`
	RecipientAddress string          `json:"recipient_address"`
	Amount           decimal.Decimal `json:"amount"`
	Attempts         int             `json:"attempts"`
	LastError        *string         `json:"last_error,omitempty"`
	LastAttemptAt    *time.Time      `json:"last_attempt_at,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
}

// RetryDelay is the backoff a row with this many attempts must sit out
// before hop 2 may be re-sent, exponential in the attempt count and capped
// at maxDelay. A never-attempted row has no delay.
func (p *PendingTransfer) RetryDelay(base, maxDelay time.Duration) time.Duration {
	if p.Attempts <= 0 {
		return 0
	}
	delay := base << uint(p.Attempts-1)
	if delay > maxDelay || delay <= 0 {
		delay = maxDelay
	}
	return delay
}

// NextAttemptAfter returns when the transfer becomes due again. The backoff
// is anchored to the last claim, not the row's creation, so an attempt that
// is still in flight keeps the row off-limits for a full delay.
func (p *PendingTransfer) NextAttemptAfter(base, maxDelay time.Duration) time.Time {
	if p.LastAttemptAt == nil {
		return p.CreatedAt
	}
	return p.LastAttemptAt.Add(p.RetryDelay(base, maxDelay))
}
