package models

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Deal statuses
const (
	DealStatusPendingPayment    = "pending_payment"
	DealStatusFunded            = "funded"
	DealStatusCreativePending   = "creative_pending"
	DealStatusCreativeSubmitted = "creative_submitted"
	DealStatusCreativeRevision  = "creative_revision"
	DealStatusCreativeApproved  = "creative_approved"
	DealStatusScheduled         = "scheduled"
	DealStatusPosted            = "posted"
	DealStatusTracking          = "tracking"
	DealStatusVerified          = "verified"
	DealStatusCompleted         = "completed"
	DealStatusFailed            = "failed"
	DealStatusRefunded          = "refunded"
	DealStatusCancelled         = "cancelled"
	DealStatusDisputed          = "disputed"
	DealStatusTimedOut          = "timed_out"
)

// sideBranches are reachable from every non-terminal status.
var sideBranches = []string{DealStatusCancelled, DealStatusDisputed, DealStatusTimedOut}

// Valid state transitions: from -> []to
var ValidDealTransitions = map[string][]string{
	DealStatusPendingPayment:    withSideBranches(DealStatusFunded),
	DealStatusFunded:            withSideBranches(DealStatusCreativePending),
	DealStatusCreativePending:   withSideBranches(DealStatusCreativeSubmitted),
	DealStatusCreativeSubmitted: withSideBranches(DealStatusCreativeApproved, DealStatusCreativeRevision),
	DealStatusCreativeRevision:  withSideBranches(DealStatusCreativeSubmitted),
	DealStatusCreativeApproved:  withSideBranches(DealStatusScheduled, DealStatusPosted),
	// Posting can fail outright (rights revoked), so scheduled may fail too.
	DealStatusScheduled: withSideBranches(DealStatusPosted, DealStatusFailed),
	DealStatusPosted:    withSideBranches(DealStatusTracking),
	DealStatusTracking:  withSideBranches(DealStatusVerified, DealStatusFailed),
	DealStatusVerified:  withSideBranches(DealStatusCompleted),
	// failed is transient: an automatic refund attempt always follows it.
	DealStatusFailed:   withSideBranches(DealStatusRefunded),
	DealStatusDisputed: {DealStatusCompleted, DealStatusRefunded, DealStatusCancelled},
	// Terminal. cancelled/timed_out keep a refund edge for deals that
	// already held funds when they were closed.
	DealStatusCompleted: {},
	DealStatusRefunded:  {},
	DealStatusCancelled: {DealStatusRefunded},
	DealStatusTimedOut:  {DealStatusRefunded},
}

func withSideBranches(to ...string) []string {
	out := make([]string, 0, len(to)+len(sideBranches))
	out = append(out, to...)
	out = append(out, sideBranches...)
	return out
}

func IsValidTransition(from, to string) bool {
	allowed, ok := ValidDealTransitions[from]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}

// Terminal statuses. A deal in one of these never moves again except for
// the cancelled/timed_out -> refunded refund edge.
var terminalStatuses = map[string]bool{
	DealStatusCompleted: true,
	DealStatusRefunded:  true,
	DealStatusCancelled: true,
	DealStatusTimedOut:  true,
}

func IsTerminalStatus(status string) bool {
	return terminalStatuses[status]
}

func TerminalStatuses() []string {
	out := make([]string, 0, len(terminalStatuses))
	for s := range terminalStatuses {
		out = append(out, s)
	}
	return out
}

// ParseAmount parses a TON amount into a decimal, rejecting non-positive
// values. Money never travels through floats.
func ParseAmount(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, err
	}
	if !d.IsPositive() {
		return decimal.Zero, errors.New("amount must be positive")
	}
	return d, nil
}

// fundsHeldStatuses are statuses in which advertiser money sits in escrow,
// so closing the deal from them must be followed by a refund.
var fundsHeldStatuses = map[string]bool{
	DealStatusFunded:            true,
	DealStatusCreativePending:   true,
	DealStatusCreativeSubmitted: true,
	DealStatusCreativeRevision:  true,
	DealStatusCreativeApproved:  true,
	DealStatusScheduled:         true,
	DealStatusPosted:            true,
	DealStatusTracking:          true,
	DealStatusVerified:          true,
	DealStatusFailed:            true,
	DealStatusDisputed:          true,
}

func HoldsFunds(status string) bool {
	return fundsHeldStatuses[status]
}

type Deal struct {
	ID           uuid.UUID `json:"id"`
	ChannelID    uuid.UUID `json:"channel_id"`
	AdvertiserID uuid.UUID `json:"advertiser_id"`
	AdFormatID   uuid.UUID `json:"ad_format_id"`
	Status       string    `json:"status"`
	// PlatformChannelID / OwnerPlatformUserID are the surface-level channel
	// handle and owner account the platform adapter understands.
	PlatformChannelID       string          `json:"platform_channel_id"`
	OwnerPlatformUserID     int64           `json:"owner_platform_user_id"`
	AmountTon               decimal.Decimal `json:"amount_ton"`
	EscrowAddress           *string         `json:"escrow_address,omitempty"`
	EscrowMnemonicEnc       []byte          `json:"-"`
	OwnerPayoutAddress      *string         `json:"owner_payout_address,omitempty"`
	AdvertiserRefundAddress *string         `json:"advertiser_refund_address,omitempty"`
	PlatformPostID          *string         `json:"platform_post_id,omitempty"`
	ScheduledPostAt         *time.Time      `json:"scheduled_post_at,omitempty"`
	TrackingStartedAt       *time.Time      `json:"tracking_started_at,omitempty"`
	PostVerifiedAt          *time.Time      `json:"post_verified_at,omitempty"`
	VerificationWindowHours int             `json:"verification_window_hours"`
	AdvertiserAlias         string          `json:"advertiser_alias"`
	OwnerAlias              string          `json:"owner_alias"`
	ChannelTitle            string          `json:"channel_title"`
	CreativeText            *string         `json:"creative_text,omitempty"`
	ReviewerNotes           *string         `json:"reviewer_notes,omitempty"`
	FailReason              *string         `json:"fail_reason,omitempty"`
	CompletedAt             *time.Time      `json:"completed_at,omitempty"`
	CreatedAt               time.Time       `json:"created_at"`
	UpdatedAt               time.Time       `json:"updated_at"`
}

// Purged reports whether the deal's sensitive detail has already been
// replaced by a receipt. The encrypted escrow secret doubles as the sentinel.
func (d *Deal) Purged() bool {
	return len(d.EscrowMnemonicEnc) == 0
}
