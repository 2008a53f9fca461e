package repositories

import (
	"context"

	"github.com/adsettle/backend/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

type ReceiptRepo struct {
	pool *pgxpool.Pool
}

func NewReceiptRepo(pool *pgxpool.Pool) *ReceiptRepo {
	return &ReceiptRepo{pool: pool}
}

// Upsert creates the receipt once; re-running a purge cycle over the same
// deal is a no-op. The first written hash wins and is never overwritten.
func (r *ReceiptRepo) Upsert(ctx context.Context, rec *models.DealReceipt) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO deal_receipts (deal_id, channel_title, advertiser_alias, owner_alias,
		                           amount_ton, final_status, data_hash, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (deal_id) DO NOTHING
	`, rec.DealID, rec.ChannelTitle, rec.AdvertiserAlias, rec.OwnerAlias,
		rec.AmountTon, rec.FinalStatus, rec.DataHash, rec.CompletedAt)
	return err
}

func (r *ReceiptRepo) GetByDealID(ctx context.Context, dealID uuid.UUID) (*models.DealReceipt, error) {
	var rec models.DealReceipt
	err := r.pool.QueryRow(ctx, `
		SELECT id, deal_id, channel_title, advertiser_alias, owner_alias,
		       amount_ton, final_status, data_hash, completed_at, created_at
		FROM deal_receipts WHERE deal_id = $1
	`, dealID).Scan(&rec.ID, &rec.DealID, &rec.ChannelTitle, &rec.AdvertiserAlias, &rec.OwnerAlias,
		&rec.AmountTon, &rec.FinalStatus, &rec.DataHash, &rec.CompletedAt, &rec.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}
