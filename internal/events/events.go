package events

import (
	"context"

	"github.com/google/uuid"
)

// Notification kinds emitted by the settlement engine. Delivery is
// fire-and-forget; a failed notification never rolls back a transition.
const (
	EventDealStatusChanged = "deal_status_changed"
	EventDealFunded        = "deal_funded"
	EventDealPosted        = "deal_posted"
	EventDealCompleted     = "deal_completed"
	EventDealFailed        = "deal_failed"
	EventDealRefunded      = "deal_refunded"
	EventDealTimedOut      = "deal_timed_out"
	EventDealPurged        = "deal_purged"
	EventDisputeOpened     = "dispute_opened"
	EventDisputeProposal   = "dispute_proposal"
	EventDisputeResolved   = "dispute_resolved"
	EventDisputeEscalated  = "dispute_escalated"
)

type Event struct {
	Type    string         `json:"type"`
	Payload map[string]any `json:"payload"`
}

// Notifier is the notification sink port. Injected into services and
// workers at startup; never looked up from shared mutable state.
type Notifier interface {
	Notify(ctx context.Context, entityID uuid.UUID, kind string, payload map[string]any)
}

type Publisher interface {
	Publish(ctx context.Context, stream string, event Event) error
}
