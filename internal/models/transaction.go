package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Transaction directions: one row per on-chain movement tied to a deal.
const (
	TxDirectionFunding = "funding" // advertiser -> escrow
	TxDirectionSweep   = "sweep"   // escrow -> master (hop 1)
	TxDirectionPayout  = "payout"  // master -> channel owner (hop 2)
	TxDirectionRefund  = "refund"  // master -> advertiser (hop 2)
)

type Transaction struct {
	ID          uuid.UUID       `json:"id"`
	DealID      uuid.UUID       `json:"deal_id"`
	Direction   string          `json:"direction"`
	FromAddress *string         `json:"from_address,omitempty"`
	ToAddress   *string         `json:"to_address,omitempty"`
	Amount      decimal.Decimal `json:"amount"`
	TxHash      *string         `json:"tx_hash,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}
