package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/adsettle/backend/internal/events"
	"github.com/adsettle/backend/internal/models"
	"github.com/adsettle/backend/internal/repositories"
)

var (
	ErrDisputeClosed     = errors.New("dispute is not accepting this action")
	ErrNotCounterparty   = errors.New("only the other party may accept a proposal")
	ErrNoProposal        = errors.New("no proposal to accept")
	ErrDealNotDisputable = errors.New("deal cannot be disputed in its current status")
)

type DisputeService struct {
	disputes     DisputeStore
	dealSvc      *DealService
	escrow       *EscrowService
	notifier     events.Notifier
	mutualWindow time.Duration
	log          *zap.Logger
}

func NewDisputeService(
	disputes DisputeStore,
	dealSvc *DealService,
	escrow *EscrowService,
	notifier events.Notifier,
	mutualWindow time.Duration,
	log *zap.Logger,
) *DisputeService {
	return &DisputeService{
		disputes:     disputes,
		dealSvc:      dealSvc,
		escrow:       escrow,
		notifier:     notifier,
		mutualWindow: mutualWindow,
		log:          log,
	}
}

// ActiveForDeal returns the deal's unresolved dispute, if any.
func (s *DisputeService) ActiveForDeal(ctx context.Context, dealID uuid.UUID) (*models.Dispute, error) {
	return s.disputes.GetActiveByDeal(ctx, dealID)
}

// OpenDispute freezes the deal in disputed and opens the mutual-resolution
// window. The deal transition is the concurrency guard: it fails for a deal
// that is already disputed or terminal, so at most one dispute is ever
// active per deal.
func (s *DisputeService) OpenDispute(ctx context.Context, dealID, partyID uuid.UUID, reason string) (*models.Dispute, error) {
	_, err := s.dealSvc.Transition(ctx, dealID, models.DealStatusDisputed, repositories.DealUpdate{})
	if err != nil {
		if IsIllegalTransition(err) {
			return nil, fmt.Errorf("%w: %v", ErrDealNotDisputable, err)
		}
		return nil, err
	}

	d := &models.Dispute{
		DealID:     dealID,
		OpenedBy:   partyID,
		Reason:     reason,
		Status:     models.DisputeStatusOpen,
		DeadlineAt: time.Now().UTC().Add(s.mutualWindow),
	}
	if err := s.disputes.Create(ctx, d); err != nil {
		return nil, fmt.Errorf("create dispute: %w", err)
	}

	s.notifier.Notify(ctx, dealID, events.EventDisputeOpened, map[string]any{
		"dispute_id": d.ID.String(),
		"reason":     reason,
	})
	s.log.Info("dispute opened",
		zap.String("deal_id", dealID.String()),
		zap.String("dispute_id", d.ID.String()),
	)
	return d, nil
}

// SubmitEvidence attaches evidence while the dispute is still in its mutual
// window. Once a proposal has been made or the dispute escalated, the
// evidence record is frozen.
func (s *DisputeService) SubmitEvidence(ctx context.Context, disputeID, partyID uuid.UUID, description, url string) error {
	d, err := s.disputes.GetByID(ctx, disputeID)
	if err != nil {
		return fmt.Errorf("load dispute: %w", err)
	}
	if d.Status != models.DisputeStatusOpen {
		return ErrDisputeClosed
	}
	ev := models.DisputeEvidence{
		PartyID:     partyID,
		Description: description,
		URL:         url,
		SubmittedAt: time.Now().UTC(),
	}
	if err := s.disputes.AppendEvidence(ctx, disputeID, ev); err != nil {
		return fmt.Errorf("append evidence: %w", err)
	}
	return nil
}

// ProposeResolution replaces any standing proposal with a new one and moves
// the dispute to awaiting_accept. Either party may counter-propose until the
// other accepts or the window expires.
func (s *DisputeService) ProposeResolution(ctx context.Context, disputeID, partyID uuid.UUID, outcome string, splitPercent int) error {
	if err := validateOutcome(outcome, splitPercent); err != nil {
		return err
	}
	p := models.DisputeProposal{
		PartyID:      partyID,
		Outcome:      outcome,
		SplitPercent: splitPercent,
		ProposedAt:   time.Now().UTC(),
	}
	ok, err := s.disputes.AppendProposal(ctx, disputeID, p,
		[]string{models.DisputeStatusOpen, models.DisputeStatusAwaitingAccept})
	if err != nil {
		return fmt.Errorf("append proposal: %w", err)
	}
	if !ok {
		return ErrDisputeClosed
	}

	d, err := s.disputes.GetByID(ctx, disputeID)
	if err != nil {
		return fmt.Errorf("load dispute: %w", err)
	}
	s.notifier.Notify(ctx, d.DealID, events.EventDisputeProposal, map[string]any{
		"dispute_id": disputeID.String(),
		"outcome":    outcome,
	})
	return nil
}

// AcceptProposal lets the counterparty accept the standing proposal, which
// resolves the dispute and settles the escrow accordingly.
func (s *DisputeService) AcceptProposal(ctx context.Context, disputeID, partyID uuid.UUID) error {
	d, err := s.disputes.GetByID(ctx, disputeID)
	if err != nil {
		return fmt.Errorf("load dispute: %w", err)
	}
	return s.acceptSeen(ctx, partyID, d)
}

// acceptSeen resolves against the dispute snapshot the accepting party read.
// The proposal count pins the acceptance to that exact proposal; a counter
// landing after the read fails the resolve instead of being overridden.
func (s *DisputeService) acceptSeen(ctx context.Context, partyID uuid.UUID, d *models.Dispute) error {
	last := d.LastProposal()
	if last == nil {
		return ErrNoProposal
	}
	if last.PartyID == partyID {
		return ErrNotCounterparty
	}

	now := time.Now().UTC()
	ok, err := s.disputes.Resolve(ctx, d.ID, len(d.Proposals), now)
	if err != nil {
		return fmt.Errorf("resolve dispute: %w", err)
	}
	if !ok {
		return ErrDisputeClosed
	}

	return s.applyOutcome(ctx, d.DealID, d.ID, last.Outcome, last.SplitPercent)
}

// RecordAdminDecision resolves an escalated dispute with an operator ruling.
// The decision is appended to the proposal trail so the stored dispute shows
// who decided what.
func (s *DisputeService) RecordAdminDecision(ctx context.Context, disputeID, adminID uuid.UUID, outcome string, splitPercent int) error {
	if err := validateOutcome(outcome, splitPercent); err != nil {
		return err
	}
	d, err := s.disputes.GetByID(ctx, disputeID)
	if err != nil {
		return fmt.Errorf("load dispute: %w", err)
	}
	if d.Status != models.DisputeStatusAdminReview {
		return ErrDisputeClosed
	}

	p := models.DisputeProposal{
		PartyID:      adminID,
		Outcome:      outcome,
		SplitPercent: splitPercent,
		ProposedAt:   time.Now().UTC(),
	}
	// AppendProposal moves the dispute back to awaiting_accept, which the
	// resolve below immediately finalizes.
	ok, err := s.disputes.AppendProposal(ctx, disputeID, p,
		[]string{models.DisputeStatusAdminReview})
	if err != nil {
		return fmt.Errorf("record decision: %w", err)
	}
	if !ok {
		return ErrDisputeClosed
	}

	now := time.Now().UTC()
	ok, err = s.disputes.UpdateStatusFrom(ctx, disputeID,
		[]string{models.DisputeStatusAwaitingAccept, models.DisputeStatusAdminReview},
		models.DisputeStatusResolved, &now)
	if err != nil {
		return fmt.Errorf("resolve dispute: %w", err)
	}
	if !ok {
		return ErrDisputeClosed
	}

	return s.applyOutcome(ctx, d.DealID, disputeID, outcome, splitPercent)
}

// EscalateExpired moves disputes past their mutual window into admin_review.
// Returns how many disputes were escalated.
func (s *DisputeService) EscalateExpired(ctx context.Context) (int, error) {
	disputes, err := s.disputes.ListEscalatable(ctx, time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("list escalatable: %w", err)
	}

	escalated := 0
	for i := range disputes {
		d := &disputes[i]
		ok, err := s.disputes.UpdateStatusFrom(ctx, d.ID,
			[]string{models.DisputeStatusOpen, models.DisputeStatusAwaitingAccept},
			models.DisputeStatusAdminReview, nil)
		if err != nil {
			s.log.Warn("escalate dispute failed",
				zap.String("dispute_id", d.ID.String()), zap.Error(err))
			continue
		}
		if !ok {
			continue
		}
		s.notifier.Notify(ctx, d.DealID, events.EventDisputeEscalated, map[string]any{
			"dispute_id": d.ID.String(),
		})
		s.log.Info("dispute escalated to admin review",
			zap.String("dispute_id", d.ID.String()),
			zap.String("deal_id", d.DealID.String()),
		)
		escalated++
	}
	return escalated, nil
}

// applyOutcome settles the deal per the resolved dispute. Split settlements
// complete the deal; the refunded portion shows up in the transaction log.
func (s *DisputeService) applyOutcome(ctx context.Context, dealID, disputeID uuid.UUID, outcome string, splitPercent int) error {
	s.notifier.Notify(ctx, dealID, events.EventDisputeResolved, map[string]any{
		"dispute_id": disputeID.String(),
		"outcome":    outcome,
	})

	switch outcome {
	case models.DisputeOutcomeRelease:
		if _, err := s.dealSvc.TransitionFrom(ctx, dealID, models.DealStatusDisputed, models.DealStatusCompleted, repositories.DealUpdate{}); err != nil {
			return err
		}
		return s.escrow.ReleaseFunds(ctx, dealID)
	case models.DisputeOutcomeRefund:
		if err := s.escrow.RefundFunds(ctx, dealID); err != nil {
			// Partial refunds leave the deal in disputed; recovery
			// transitions it to refunded once hop 2 lands.
			return err
		}
		_, err := s.dealSvc.TransitionFrom(ctx, dealID, models.DealStatusDisputed, models.DealStatusRefunded, repositories.DealUpdate{})
		return err
	case models.DisputeOutcomeSplit:
		if _, err := s.dealSvc.TransitionFrom(ctx, dealID, models.DealStatusDisputed, models.DealStatusCompleted, repositories.DealUpdate{}); err != nil {
			return err
		}
		return s.escrow.SettleSplit(ctx, dealID, splitPercent)
	default:
		return fmt.Errorf("dispute %s: unknown outcome %q", disputeID, outcome)
	}
}

func validateOutcome(outcome string, splitPercent int) error {
	switch outcome {
	case models.DisputeOutcomeRelease, models.DisputeOutcomeRefund:
		return nil
	case models.DisputeOutcomeSplit:
		if splitPercent < 0 || splitPercent > 100 {
			return fmt.Errorf("split percent %d out of range", splitPercent)
		}
		return nil
	default:
		return fmt.Errorf("unknown outcome %q", outcome)
	}
}
