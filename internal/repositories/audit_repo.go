package repositories

import (
	"context"
	"encoding/json"

	"github.com/adsettle/backend/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

type AuditRepo struct {
	pool *pgxpool.Pool
}

func NewAuditRepo(pool *pgxpool.Pool) *AuditRepo {
	return &AuditRepo{pool: pool}
}

func (r *AuditRepo) Log(ctx context.Context, e *models.DealEvent) error {
	meta, _ := json.Marshal(e.Meta)
	_, err := r.pool.Exec(ctx, `
		INSERT INTO deal_events (deal_id, actor_id, actor_type, action, meta)
		VALUES ($1, $2, $3, $4, $5)
	`, e.DealID, e.ActorID, e.ActorType, e.Action, meta)
	return err
}

func (r *AuditRepo) ListByDeal(ctx context.Context, dealID uuid.UUID) ([]models.DealEvent, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, deal_id, actor_id, actor_type, action, meta, created_at
		FROM deal_events WHERE deal_id = $1 ORDER BY created_at ASC
	`, dealID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []models.DealEvent
	for rows.Next() {
		var e models.DealEvent
		var meta []byte
		if err := rows.Scan(&e.ID, &e.DealID, &e.ActorID, &e.ActorType, &e.Action, &meta, &e.CreatedAt); err != nil {
			return nil, err
		}
		_ = json.Unmarshal(meta, &e.Meta)
		events = append(events, e)
	}
	return events, rows.Err()
}
