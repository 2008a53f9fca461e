package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	ActorUser   = "user"
	ActorSystem = "system"
	ActorWorker = "worker"
)

// DealEvent is one row of a deal's audit trail. The whole trail is deleted
// when the deal is purged.
type DealEvent struct {
	ID        uuid.UUID  `json:"id"`
	DealID    uuid.UUID  `json:"deal_id"`
	ActorID   *uuid.UUID `json:"actor_id,omitempty"`
	ActorType string     `json:"actor_type"` // user/system/worker
	Action    string     `json:"action"`
	Meta      any        `json:"meta,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}
