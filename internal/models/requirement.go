package models

import (
	"time"

	"github.com/google/uuid"
)

// Requirement kinds
const (
	RequirementKindViews    = "views"
	RequirementKindLikes    = "likes"
	RequirementKindComments = "comments"
	RequirementKindCustom   = "custom"
)

// Requirement is a deal-specific success criterion checked against the
// platform metrics of the published post.
type Requirement struct {
	ID                uuid.UUID `json:"id"`
	DealID            uuid.UUID `json:"deal_id"`
	Kind              string    `json:"kind"`
	Target            int64     `json:"target"`
	Waived            bool      `json:"waived"`
	ConfirmedManually bool      `json:"confirmed_manually"`
	CreatedAt         time.Time `json:"created_at"`
}
