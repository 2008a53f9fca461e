package repositories

import (
	"context"
	"strconv"
	"time"

	"github.com/adsettle/backend/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const dealColumns = `
	id, channel_id, advertiser_id, ad_format_id, status, platform_channel_id, owner_platform_user_id,
	amount_ton, escrow_address, escrow_mnemonic_enc, owner_payout_address, advertiser_refund_address,
	platform_post_id, scheduled_post_at, tracking_started_at, post_verified_at,
	verification_window_hours, advertiser_alias, owner_alias, channel_title,
	creative_text, reviewer_notes, fail_reason, completed_at, created_at, updated_at
`

type DealRepo struct {
	pool *pgxpool.Pool
}

func NewDealRepo(pool *pgxpool.Pool) *DealRepo {
	return &DealRepo{pool: pool}
}

func scanDeal(row pgx.Row) (*models.Deal, error) {
	var d models.Deal
	err := row.Scan(
		&d.ID, &d.ChannelID, &d.AdvertiserID, &d.AdFormatID, &d.Status, &d.PlatformChannelID, &d.OwnerPlatformUserID,
		&d.AmountTon, &d.EscrowAddress, &d.EscrowMnemonicEnc, &d.OwnerPayoutAddress, &d.AdvertiserRefundAddress,
		&d.PlatformPostID, &d.ScheduledPostAt, &d.TrackingStartedAt, &d.PostVerifiedAt,
		&d.VerificationWindowHours, &d.AdvertiserAlias, &d.OwnerAlias, &d.ChannelTitle,
		&d.CreativeText, &d.ReviewerNotes, &d.FailReason, &d.CompletedAt, &d.CreatedAt, &d.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (r *DealRepo) scanDeals(rows pgx.Rows) ([]models.Deal, error) {
	defer rows.Close()
	var deals []models.Deal
	for rows.Next() {
		d, err := scanDeal(rows)
		if err != nil {
			return nil, err
		}
		deals = append(deals, *d)
	}
	return deals, rows.Err()
}

func (r *DealRepo) Create(ctx context.Context, d *models.Deal) error {
	return r.pool.QueryRow(ctx, `
		INSERT INTO deals (channel_id, advertiser_id, ad_format_id, status, platform_channel_id,
		                   owner_platform_user_id, amount_ton, verification_window_hours,
		                   advertiser_alias, owner_alias, channel_title,
		                   owner_payout_address, advertiser_refund_address, scheduled_post_at, creative_text)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		RETURNING id, created_at, updated_at
	`, d.ChannelID, d.AdvertiserID, d.AdFormatID, d.Status, d.PlatformChannelID,
		d.OwnerPlatformUserID, d.AmountTon, d.VerificationWindowHours,
		d.AdvertiserAlias, d.OwnerAlias, d.ChannelTitle,
		d.OwnerPayoutAddress, d.AdvertiserRefundAddress, d.ScheduledPostAt, d.CreativeText,
	).Scan(&d.ID, &d.CreatedAt, &d.UpdatedAt)
}

func (r *DealRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Deal, error) {
	return scanDeal(r.pool.QueryRow(ctx, `SELECT `+dealColumns+` FROM deals WHERE id = $1`, id))
}

// DealUpdate carries the optional field writes that accompany a status
// transition. Nil fields are left untouched.
type DealUpdate struct {
	PlatformPostID    *string
	TrackingStartedAt *time.Time
	PostVerifiedAt    *time.Time
	CompletedAt       *time.Time
	FailReason        *string
}

// UpdateStatusFrom is the compare-and-set behind the state machine: the
// status column is changed only if it still matches one of the expected
// source statuses. Returns false when another worker got there first.
func (r *DealRepo) UpdateStatusFrom(ctx context.Context, id uuid.UUID, from []string, to string, u DealUpdate) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE deals SET
			status = $2,
			platform_post_id = COALESCE($4, platform_post_id),
			tracking_started_at = COALESCE($5, tracking_started_at),
			post_verified_at = COALESCE($6, post_verified_at),
			completed_at = COALESCE($7, completed_at),
			fail_reason = COALESCE($8, fail_reason),
			updated_at = now()
		WHERE id = $1 AND status = ANY($3)
	`, id, to, from, u.PlatformPostID, u.TrackingStartedAt, u.PostVerifiedAt, u.CompletedAt, u.FailReason)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// SetEscrow assigns the escrow wallet exactly once. Returns false when the
// deal already carries an address, so concurrent assignments are harmless.
func (r *DealRepo) SetEscrow(ctx context.Context, id uuid.UUID, address string, mnemonicEnc []byte) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE deals SET escrow_address = $1, escrow_mnemonic_enc = $2, updated_at = now()
		WHERE id = $3 AND escrow_address IS NULL
	`, address, mnemonicEnc, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// batchLimit caps every worker poll; the next tick picks up the rest.
const batchLimit = 100

func (r *DealRepo) ListByStatus(ctx context.Context, status string) ([]models.Deal, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+dealColumns+` FROM deals
		WHERE status = $1 ORDER BY updated_at ASC LIMIT $2
	`, status, batchLimit)
	if err != nil {
		return nil, err
	}
	return r.scanDeals(rows)
}

// ListAwaitingFunding returns pending_payment deals that already have an
// escrow address to poll.
func (r *DealRepo) ListAwaitingFunding(ctx context.Context) ([]models.Deal, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+dealColumns+` FROM deals
		WHERE status = $1 AND escrow_address IS NOT NULL
		ORDER BY updated_at ASC LIMIT $2
	`, models.DealStatusPendingPayment, batchLimit)
	if err != nil {
		return nil, err
	}
	return r.scanDeals(rows)
}

// ListStalled returns deals stuck in the given status longer than the
// timeout, on top of what updated_at records as their last progress.
func (r *DealRepo) ListStalled(ctx context.Context, status string, timeoutSeconds int) ([]models.Deal, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+dealColumns+` FROM deals
		WHERE status = $1 AND updated_at < now() - ($2 || ' seconds')::interval
	`, status, strconv.Itoa(timeoutSeconds))
	if err != nil {
		return nil, err
	}
	return r.scanDeals(rows)
}

// ListScheduledDue returns scheduled deals whose posting time has come.
func (r *DealRepo) ListScheduledDue(ctx context.Context) ([]models.Deal, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+dealColumns+` FROM deals
		WHERE status = $1 AND (scheduled_post_at IS NULL OR scheduled_post_at <= now())
		ORDER BY scheduled_post_at ASC NULLS FIRST LIMIT $2
	`, models.DealStatusScheduled, batchLimit)
	if err != nil {
		return nil, err
	}
	return r.scanDeals(rows)
}

// ListPurgeable returns terminal deals past retention whose escrow secret
// is still present (the not-yet-purged sentinel), oldest first.
func (r *DealRepo) ListPurgeable(ctx context.Context, terminal []string, cutoff time.Time, limit int) ([]models.Deal, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+dealColumns+` FROM deals
		WHERE status = ANY($1)
		  AND completed_at IS NOT NULL AND completed_at < $2
		  AND escrow_mnemonic_enc IS NOT NULL
		ORDER BY completed_at ASC LIMIT $3
	`, terminal, cutoff, limit)
	if err != nil {
		return nil, err
	}
	return r.scanDeals(rows)
}

// PurgeDealData runs the irreversible purge as one transaction: creative
// content and reviewer notes are nulled, the audit trail is deleted,
// transaction addresses and hashes are nulled, and the escrow secret and
// address are cleared. The deal row itself survives as proof of existence.
func (r *DealRepo) PurgeDealData(ctx context.Context, dealID uuid.UUID) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `
		UPDATE deals SET creative_text = NULL, reviewer_notes = NULL,
		                 escrow_mnemonic_enc = NULL, escrow_address = NULL,
		                 updated_at = now()
		WHERE id = $1
	`, dealID); err != nil {
		return err
	}

	if _, err := tx.Exec(ctx, `DELETE FROM deal_events WHERE deal_id = $1`, dealID); err != nil {
		return err
	}

	if _, err := tx.Exec(ctx, `
		UPDATE transactions SET from_address = NULL, to_address = NULL, tx_hash = NULL
		WHERE deal_id = $1
	`, dealID); err != nil {
		return err
	}

	return tx.Commit(ctx)
}
