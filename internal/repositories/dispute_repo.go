package repositories

import (
	"context"
	"encoding/json"
	"time"

	"github.com/adsettle/backend/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type DisputeRepo struct {
	pool *pgxpool.Pool
}

func NewDisputeRepo(pool *pgxpool.Pool) *DisputeRepo {
	return &DisputeRepo{pool: pool}
}

const disputeColumns = `
	id, deal_id, opened_by, reason, evidence, proposals, status, deadline_at, resolved_at, created_at
`

func scanDispute(row pgx.Row) (*models.Dispute, error) {
	var d models.Dispute
	var evidence, proposals []byte
	err := row.Scan(&d.ID, &d.DealID, &d.OpenedBy, &d.Reason, &evidence, &proposals,
		&d.Status, &d.DeadlineAt, &d.ResolvedAt, &d.CreatedAt)
	if err != nil {
		return nil, err
	}
	_ = json.Unmarshal(evidence, &d.Evidence)
	_ = json.Unmarshal(proposals, &d.Proposals)
	return &d, nil
}

func (r *DisputeRepo) Create(ctx context.Context, d *models.Dispute) error {
	return r.pool.QueryRow(ctx, `
		INSERT INTO disputes (deal_id, opened_by, reason, evidence, proposals, status, deadline_at)
		VALUES ($1, $2, $3, '[]'::jsonb, '[]'::jsonb, $4, $5)
		RETURNING id, created_at
	`, d.DealID, d.OpenedBy, d.Reason, d.Status, d.DeadlineAt).Scan(&d.ID, &d.CreatedAt)
}

func (r *DisputeRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Dispute, error) {
	return scanDispute(r.pool.QueryRow(ctx,
		`SELECT `+disputeColumns+` FROM disputes WHERE id = $1`, id))
}

// GetActiveByDeal returns the one unresolved dispute a deal may carry.
func (r *DisputeRepo) GetActiveByDeal(ctx context.Context, dealID uuid.UUID) (*models.Dispute, error) {
	return scanDispute(r.pool.QueryRow(ctx, `
		SELECT `+disputeColumns+` FROM disputes
		WHERE deal_id = $1 AND status <> $2
		ORDER BY created_at DESC LIMIT 1
	`, dealID, models.DisputeStatusResolved))
}

func (r *DisputeRepo) AppendEvidence(ctx context.Context, id uuid.UUID, e models.DisputeEvidence) error {
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx,
		`UPDATE disputes SET evidence = evidence || $1::jsonb WHERE id = $2`, data, id)
	return err
}

// AppendProposal atomically appends the proposal and moves the dispute to
// awaiting_accept, but only while it is still in one of the caller's
// expected statuses.
func (r *DisputeRepo) AppendProposal(ctx context.Context, id uuid.UUID, p models.DisputeProposal, from []string) (bool, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return false, err
	}
	tag, err := r.pool.Exec(ctx, `
		UPDATE disputes SET proposals = proposals || $1::jsonb, status = $2
		WHERE id = $3 AND status = ANY($4)
	`, data, models.DisputeStatusAwaitingAccept, id, from)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// Resolve finalizes the dispute only if no proposal landed after the one the
// accepting party read. A counter-proposal bumps the array length, which
// fails the predicate and forces the caller to re-read.
func (r *DisputeRepo) Resolve(ctx context.Context, id uuid.UUID, seenProposals int, resolvedAt time.Time) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE disputes SET status = $2, resolved_at = $3
		WHERE id = $1 AND status = $4 AND jsonb_array_length(proposals) = $5
	`, id, models.DisputeStatusResolved, resolvedAt, models.DisputeStatusAwaitingAccept, seenProposals)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// UpdateStatusFrom is the dispute counterpart of the deal CAS.
func (r *DisputeRepo) UpdateStatusFrom(ctx context.Context, id uuid.UUID, from []string, to string, resolvedAt *time.Time) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE disputes SET status = $2, resolved_at = COALESCE($4, resolved_at)
		WHERE id = $1 AND status = ANY($3)
	`, id, to, from, resolvedAt)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// ListEscalatable returns disputes whose mutual-resolution window expired
// without an accepted proposal.
func (r *DisputeRepo) ListEscalatable(ctx context.Context, now time.Time) ([]models.Dispute, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+disputeColumns+` FROM disputes
		WHERE status = ANY($1) AND deadline_at < $2
	`, []string{models.DisputeStatusOpen, models.DisputeStatusAwaitingAccept}, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var disputes []models.Dispute
	for rows.Next() {
		d, err := scanDispute(rows)
		if err != nil {
			return nil, err
		}
		disputes = append(disputes, *d)
	}
	return disputes, rows.Err()
}
