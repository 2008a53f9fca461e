package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// DealReceipt is created once, at purge time. After the purge it is the
// sole durable proof that the deal existed and how it ended.
type DealReceipt struct {
	ID              uuid.UUID       `json:"id"`
	DealID          uuid.UUID       `json:"deal_id"`
	ChannelTitle    string          `json:"channel_title"`
	AdvertiserAlias string          `json:"advertiser_alias"`
	OwnerAlias      string          `json:"owner_alias"`
	AmountTon       decimal.Decimal `json:"amount_ton"`
	FinalStatus     string          `json:"final_status"`
	DataHash        string          `json:"data_hash"`
	CompletedAt     *time.Time      `json:"completed_at,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
}
