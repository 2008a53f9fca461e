package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/adsettle/backend/internal/crypto"
	"github.com/adsettle/backend/internal/events"
	"github.com/adsettle/backend/internal/models"
	"github.com/adsettle/backend/internal/repositories"
)

// IllegalTransitionError reports a status transition the state machine does
// not allow. When two workers race over the same deal the loser sees this
// error; the deal row itself is never left in an inconsistent state.
type IllegalTransitionError struct {
	DealID uuid.UUID
	From   string
	To     string
}

func (e *IllegalTransitionError) Error() string {
	return fmt.Sprintf("deal %s: illegal transition %s -> %s", e.DealID, e.From, e.To)
}

func IsIllegalTransition(err error) bool {
	var ite *IllegalTransitionError
	return errors.As(err, &ite)
}

type DealService struct {
	deals         DealStore
	audit         AuditStore
	notifier      events.Notifier
	defaultWindow int // verification window hours for deals without an override
	log           *zap.Logger
}

func NewDealService(deals DealStore, audit AuditStore, notifier events.Notifier, defaultWindowHours int, log *zap.Logger) *DealService {
	return &DealService{deals: deals, audit: audit, notifier: notifier, defaultWindow: defaultWindowHours, log: log}
}

type CreateDealInput struct {
	ChannelID               uuid.UUID
	AdvertiserID            uuid.UUID
	AdFormatID              uuid.UUID
	PlatformChannelID       string
	OwnerPlatformUserID     int64
	AmountTon               string
	ChannelTitle            string
	OwnerPayoutAddress      string
	AdvertiserRefundAddress string
	ScheduledPostAt         *time.Time
	CreativeText            *string
	VerificationWindowHours int
}

// CreateDeal inserts a new deal in pending_payment with fresh party aliases.
// The escrow wallet is attached separately so a failed wallet derivation does
// not leave a half-created deal behind.
func (s *DealService) CreateDeal(ctx context.Context, in CreateDealInput) (*models.Deal, error) {
	amount, err := models.ParseAmount(in.AmountTon)
	if err != nil {
		return nil, fmt.Errorf("parse amount: %w", err)
	}
	window := in.VerificationWindowHours
	if window <= 0 {
		window = s.defaultWindow
	}

	d := &models.Deal{
		ChannelID:               in.ChannelID,
		AdvertiserID:            in.AdvertiserID,
		AdFormatID:              in.AdFormatID,
		Status:                  models.DealStatusPendingPayment,
		PlatformChannelID:       in.PlatformChannelID,
		OwnerPlatformUserID:     in.OwnerPlatformUserID,
		AmountTon:               amount,
		ChannelTitle:            in.ChannelTitle,
		OwnerPayoutAddress:      optional(in.OwnerPayoutAddress),
		AdvertiserRefundAddress: optional(in.AdvertiserRefundAddress),
		ScheduledPostAt:         in.ScheduledPostAt,
		CreativeText:            in.CreativeText,
		AdvertiserAlias:         crypto.NewAlias("adv"),
		OwnerAlias:              crypto.NewAlias("own"),
		VerificationWindowHours: window,
	}
	if err := s.deals.Create(ctx, d); err != nil {
		return nil, fmt.Errorf("create deal: %w", err)
	}

	s.recordEvent(ctx, d.ID, nil, models.ActorSystem, "deal_created", map[string]any{
		"amount_ton": d.AmountTon.String(),
	})
	s.log.Info("deal created",
		zap.String("deal_id", d.ID.String()),
		zap.String("amount_ton", d.AmountTon.String()),
	)
	return d, nil
}

// Transition moves the deal to target from any status the state machine
// allows as a source for target. The update is a single compare-and-set, so
// concurrent workers racing over the same deal resolve to exactly one winner.
func (s *DealService) Transition(ctx context.Context, dealID uuid.UUID, target string, u repositories.DealUpdate) (*models.Deal, error) {
	return s.transition(ctx, dealID, sourcesFor(target), target, u)
}

// TransitionFrom is Transition restricted to a single expected source status.
// Workers use it to guarantee they only ever advance the deal they observed.
func (s *DealService) TransitionFrom(ctx context.Context, dealID uuid.UUID, from, target string, u repositories.DealUpdate) (*models.Deal, error) {
	if !models.IsValidTransition(from, target) {
		return nil, &IllegalTransitionError{DealID: dealID, From: from, To: target}
	}
	return s.transition(ctx, dealID, []string{from}, target, u)
}

func (s *DealService) transition(ctx context.Context, dealID uuid.UUID, sources []string, target string, u repositories.DealUpdate) (*models.Deal, error) {
	if len(sources) == 0 {
		return nil, fmt.Errorf("deal %s: no status may transition to %s", dealID, target)
	}

	// Terminal statuses carry a completion timestamp so retention has a
	// reference point even for cancelled and timed out deals.
	if models.IsTerminalStatus(target) && u.CompletedAt == nil {
		now := time.Now().UTC()
		u.CompletedAt = &now
	}

	ok, err := s.deals.UpdateStatusFrom(ctx, dealID, sources, target, u)
	if err != nil {
		return nil, fmt.Errorf("update deal status: %w", err)
	}
	if !ok {
		cur, gerr := s.deals.GetByID(ctx, dealID)
		if gerr != nil {
			return nil, fmt.Errorf("deal %s: transition to %s failed and reload failed: %w", dealID, target, gerr)
		}
		return nil, &IllegalTransitionError{DealID: dealID, From: cur.Status, To: target}
	}

	deal, err := s.deals.GetByID(ctx, dealID)
	if err != nil {
		return nil, fmt.Errorf("reload deal: %w", err)
	}

	s.recordEvent(ctx, dealID, nil, models.ActorSystem, "status_changed", map[string]any{
		"to": target,
	})
	s.notifier.Notify(ctx, dealID, events.EventDealStatusChanged, map[string]any{
		"status": target,
	})
	s.log.Info("deal status changed",
		zap.String("deal_id", dealID.String()),
		zap.String("status", target),
	)
	return deal, nil
}

// Fail moves the deal to failed with a reason. The reason survives until the
// privacy purge clears it.
func (s *DealService) Fail(ctx context.Context, dealID uuid.UUID, from, reason string) (*models.Deal, error) {
	deal, err := s.TransitionFrom(ctx, dealID, from, models.DealStatusFailed, repositories.DealUpdate{FailReason: &reason})
	if err != nil {
		return nil, err
	}
	s.notifier.Notify(ctx, dealID, events.EventDealFailed, map[string]any{"reason": reason})
	return deal, nil
}

func (s *DealService) GetByID(ctx context.Context, dealID uuid.UUID) (*models.Deal, error) {
	return s.deals.GetByID(ctx, dealID)
}

func (s *DealService) recordEvent(ctx context.Context, dealID uuid.UUID, actorID *uuid.UUID, actorType, action string, meta map[string]any) {
	if s.audit == nil {
		return
	}
	e := &models.DealEvent{
		DealID:    dealID,
		ActorID:   actorID,
		ActorType: actorType,
		Action:    action,
		Meta:      meta,
	}
	if err := s.audit.Log(ctx, e); err != nil {
		s.log.Warn("audit log failed",
			zap.String("deal_id", dealID.String()),
			zap.String("action", action),
			zap.Error(err),
		)
	}
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func sourcesFor(target string) []string {
	var sources []string
	for from, targets := range models.ValidDealTransitions {
		for _, t := range targets {
			if t == target {
				sources = append(sources, from)
				break
			}
		}
	}
	return sources
}
