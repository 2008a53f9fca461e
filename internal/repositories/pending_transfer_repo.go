package repositories

import (
	"context"
	"errors"
	"time"

	"github.com/adsettle/backend/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PendingTransferRepo struct {
	pool *pgxpool.Pool
}

func NewPendingTransferRepo(pool *pgxpool.Pool) *PendingTransferRepo {
	return &PendingTransferRepo{pool: pool}
}

// Create persists a hop-2 recovery record. One per deal and direction; a
// re-run of a failed payout must not produce a second row.
func (r *PendingTransferRepo) Create(ctx context.Context, p *models.PendingTransfer) error {
	return r.pool.QueryRow(ctx, `
		INSERT INTO pending_transfers (deal_id, direction, recipient_address, amount, attempts, last_error)
		VALUES ($1, $2, $3, $4, 0, $5)
		ON CONFLICT (deal_id, direction) DO UPDATE SET last_error = EXCLUDED.last_error
		RETURNING id, attempts, created_at
	`, p.DealID, p.Direction, p.RecipientAddress, p.Amount, p.LastError,
	).Scan(&p.ID, &p.Attempts, &p.CreatedAt)
}

func (r *PendingTransferRepo) List(ctx context.Context) ([]models.PendingTransfer, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, deal_id, direction, recipient_address, amount, attempts, last_error, last_attempt_at, created_at
		FROM pending_transfers ORDER BY created_at ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var transfers []models.PendingTransfer
	for rows.Next() {
		var p models.PendingTransfer
		if err := rows.Scan(&p.ID, &p.DealID, &p.Direction, &p.RecipientAddress,
			&p.Amount, &p.Attempts, &p.LastError, &p.LastAttemptAt, &p.CreatedAt); err != nil {
			return nil, err
		}
		transfers = append(transfers, p)
	}
	return transfers, rows.Err()
}

func (r *PendingTransferRepo) ExistsForDeal(ctx context.Context, dealID uuid.UUID) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM pending_transfers WHERE deal_id = $1)`, dealID).Scan(&exists)
	return exists, err
}

// Claim bumps attempts and stamps the claim time, but only if the row still
// shows the attempt count the caller saw and its last claim is older than
// the dueBefore cutoff. The time predicate keeps a cycle that listed the row
// after another cycle's claim from re-sending while that attempt is still in
// flight; the attempt CAS settles races between cycles that listed together.
func (r *PendingTransferRepo) Claim(ctx context.Context, id uuid.UUID, seenAttempts int, dueBefore time.Time) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE pending_transfers SET attempts = attempts + 1, last_attempt_at = now()
		WHERE id = $1 AND attempts = $2
		  AND (last_attempt_at IS NULL OR last_attempt_at <= $3)
	`, id, seenAttempts, dueBefore)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *PendingTransferRepo) SetLastError(ctx context.Context, id uuid.UUID, msg string) error {
	_, err := r.pool.Exec(ctx, `UPDATE pending_transfers SET last_error = $1 WHERE id = $2`, msg, id)
	return err
}

func (r *PendingTransferRepo) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM pending_transfers WHERE id = $1`, id)
	return err
}

func IsNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}
