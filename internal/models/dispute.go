package models

import (
	"time"

	"github.com/google/uuid"
)

// Dispute statuses
const (
	DisputeStatusOpen           = "open"
	DisputeStatusAwaitingAccept = "awaiting_accept"
	DisputeStatusAdminReview    = "admin_review"
	DisputeStatusResolved       = "resolved"
)

// Proposal outcomes
const (
	DisputeOutcomeRelease = "release" // full release to channel owner
	DisputeOutcomeRefund  = "refund"  // full refund to advertiser
	DisputeOutcomeSplit   = "split"   // percentage split, splitPercent to owner
)

type DisputeEvidence struct {
	PartyID     uuid.UUID `json:"party_id"`
	Description string    `json:"description"`
	URL         string    `json:"url,omitempty"`
	SubmittedAt time.Time `json:"submitted_at"`
}

type DisputeProposal struct {
	PartyID      uuid.UUID `json:"party_id"`
	Outcome      string    `json:"outcome"`
	SplitPercent int       `json:"split_percent,omitempty"`
	ProposedAt   time.Time `json:"proposed_at"`
}

// Dispute is the one active dispute allowed per deal.
type Dispute struct {
	ID         uuid.UUID         `json:"id"`
	DealID     uuid.UUID         `json:"deal_id"`
	OpenedBy   uuid.UUID         `json:"opened_by"`
	Reason     string            `json:"reason"`
	Evidence   []DisputeEvidence `json:"evidence"`
	Proposals  []DisputeProposal `json:"proposals"`
	Status     string            `json:"status"`
	DeadlineAt time.Time         `json:"deadline_at"`
	ResolvedAt *time.Time        `json:"resolved_at,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
}

// LastProposal returns the most recent proposal, or nil if none was made.
func (d *Dispute) LastProposal() *DisputeProposal {
	if len(d.Proposals) == 0 {
		return nil
	}
	return &d.Proposals[len(d.Proposals)-1]
}
