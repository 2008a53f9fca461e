package repositories

import (
	"context"

	"github.com/adsettle/backend/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

type TransactionRepo struct {
	pool *pgxpool.Pool
}

func NewTransactionRepo(pool *pgxpool.Pool) *TransactionRepo {
	return &TransactionRepo{pool: pool}
}

func (r *TransactionRepo) Create(ctx context.Context, t *models.Transaction) error {
	return r.pool.QueryRow(ctx, `
		INSERT INTO transactions (deal_id, direction, from_address, to_address, amount, tx_hash)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at
	`, t.DealID, t.Direction, t.FromAddress, t.ToAddress, t.Amount, t.TxHash,
	).Scan(&t.ID, &t.CreatedAt)
}

func (r *TransactionRepo) ListByDeal(ctx context.Context, dealID uuid.UUID) ([]models.Transaction, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, deal_id, direction, from_address, to_address, amount, tx_hash, created_at
		FROM transactions WHERE deal_id = $1 ORDER BY created_at ASC
	`, dealID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var txs []models.Transaction
	for rows.Next() {
		var t models.Transaction
		if err := rows.Scan(&t.ID, &t.DealID, &t.Direction, &t.FromAddress, &t.ToAddress,
			&t.Amount, &t.TxHash, &t.CreatedAt); err != nil {
			return nil, err
		}
		txs = append(txs, t)
	}
	return txs, rows.Err()
}
