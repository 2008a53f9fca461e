package repositories

import (
	"context"

	"github.com/adsettle/backend/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

type RequirementRepo struct {
	pool *pgxpool.Pool
}

func NewRequirementRepo(pool *pgxpool.Pool) *RequirementRepo {
	return &RequirementRepo{pool: pool}
}

func (r *RequirementRepo) Create(ctx context.Context, req *models.Requirement) error {
	return r.pool.QueryRow(ctx, `
		INSERT INTO requirements (deal_id, kind, target, waived, confirmed_manually)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at
	`, req.DealID, req.Kind, req.Target, req.Waived, req.ConfirmedManually,
	).Scan(&req.ID, &req.CreatedAt)
}

func (r *RequirementRepo) ListByDeal(ctx context.Context, dealID uuid.UUID) ([]models.Requirement, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, deal_id, kind, target, waived, confirmed_manually, created_at
		FROM requirements WHERE deal_id = $1 ORDER BY created_at ASC
	`, dealID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var reqs []models.Requirement
	for rows.Next() {
		var req models.Requirement
		if err := rows.Scan(&req.ID, &req.DealID, &req.Kind, &req.Target,
			&req.Waived, &req.ConfirmedManually, &req.CreatedAt); err != nil {
			return nil, err
		}
		reqs = append(reqs, req)
	}
	return reqs, rows.Err()
}
