package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/adsettle/backend/internal/crypto"
	"github.com/adsettle/backend/internal/events"
	"github.com/adsettle/backend/internal/models"
	"github.com/adsettle/backend/internal/repositories"
	"github.com/adsettle/backend/internal/ton"
)

// PartialTransferError means hop 1 (escrow -> master) succeeded but hop 2
// (master -> recipient) did not land. A PendingTransfer row exists and the
// recovery worker will finish the payout; callers must NOT retry the whole
// settlement, the escrow wallet is already empty.
type PartialTransferError struct {
	DealID    uuid.UUID
	Direction string
	Err       error
}

func (e *PartialTransferError) Error() string {
	return fmt.Sprintf("deal %s: %s transfer stalled after sweep: %v", e.DealID, e.Direction, e.Err)
}

func (e *PartialTransferError) Unwrap() error { return e.Err }

func IsPartialTransfer(err error) bool {
	var pte *PartialTransferError
	return errors.As(err, &pte)
}

type EscrowService struct {
	deals      DealStore
	txs        TransactionStore
	pending    PendingTransferStore
	chain      Blockchain
	dealSvc    *DealService
	notifier   events.Notifier
	feePercent decimal.Decimal
	encKey     []byte
	retryBase  time.Duration
	retryMax   time.Duration
	log        *zap.Logger
}

func NewEscrowService(
	deals DealStore,
	txs TransactionStore,
	pending PendingTransferStore,
	chain Blockchain,
	dealSvc *DealService,
	notifier events.Notifier,
	feePercent decimal.Decimal,
	encKey []byte,
	retryBase, retryMax time.Duration,
	log *zap.Logger,
) *EscrowService {
	return &EscrowService{
		deals:      deals,
		txs:        txs,
		pending:    pending,
		chain:      chain,
		dealSvc:    dealSvc,
		notifier:   notifier,
		feePercent: feePercent,
		encKey:     encKey,
		retryBase:  retryBase,
		retryMax:   retryMax,
		log:        log,
	}
}

// SplitFee returns (net, fee) for a gross amount. The platform fee is taken
// from releases only; refunds always return the full escrow balance.
func (s *EscrowService) SplitFee(gross decimal.Decimal) (net, fee decimal.Decimal) {
	fee = gross.Mul(s.feePercent).Div(decimal.NewFromInt(100)).RoundDown(9)
	return gross.Sub(fee), fee
}

// CreateEscrowWallet derives the per-deal escrow subwallet and attaches its
// address to the deal. Idempotent: a deal that already has an address keeps
// it, no matter how many callers race here.
func (s *EscrowService) CreateEscrowWallet(ctx context.Context, dealID uuid.UUID) (string, error) {
	deal, err := s.deals.GetByID(ctx, dealID)
	if err != nil {
		return "", fmt.Errorf("load deal: %w", err)
	}
	if deal.EscrowAddress != nil {
		return *deal.EscrowAddress, nil
	}

	sub := ton.SubwalletID(dealID)
	addr, err := s.chain.EscrowAddress(ctx, sub)
	if err != nil {
		return "", fmt.Errorf("derive escrow address: %w", err)
	}

	// The sealed wallet spec doubles as the "not yet purged" marker.
	sealed, err := crypto.Seal(s.encKey, []byte(fmt.Sprintf("v4r2:%d", sub)))
	if err != nil {
		return "", fmt.Errorf("seal wallet spec: %w", err)
	}

	set, err := s.deals.SetEscrow(ctx, dealID, addr, sealed)
	if err != nil {
		return "", fmt.Errorf("attach escrow: %w", err)
	}
	if !set {
		// Lost the race; the winner's address is authoritative.
		deal, err = s.deals.GetByID(ctx, dealID)
		if err != nil {
			return "", fmt.Errorf("reload deal: %w", err)
		}
		if deal.EscrowAddress == nil {
			return "", fmt.Errorf("deal %s: escrow attach raced but no address present", dealID)
		}
		return *deal.EscrowAddress, nil
	}

	s.log.Info("escrow wallet created",
		zap.String("deal_id", dealID.String()),
		zap.String("address", addr),
	)
	return addr, nil
}

// CheckFunding polls the escrow balance and confirms funding once it covers
// the deal amount. Returns true only for the call that actually moved the
// deal to funded; overpayments are accepted and settled later in full.
func (s *EscrowService) CheckFunding(ctx context.Context, dealID uuid.UUID) (bool, error) {
	deal, err := s.deals.GetByID(ctx, dealID)
	if err != nil {
		return false, fmt.Errorf("load deal: %w", err)
	}
	if deal.Status != models.DealStatusPendingPayment {
		return false, nil
	}
	if deal.EscrowAddress == nil {
		return false, fmt.Errorf("deal %s: no escrow address", dealID)
	}

	balance, err := s.chain.Balance(ctx, *deal.EscrowAddress)
	if err != nil {
		return false, fmt.Errorf("escrow balance: %w", err)
	}
	if balance.LessThan(deal.AmountTon) {
		return false, nil
	}

	_, err = s.dealSvc.TransitionFrom(ctx, dealID, models.DealStatusPendingPayment, models.DealStatusFunded, repositories.DealUpdate{})
	if err != nil {
		if IsIllegalTransition(err) {
			return false, nil
		}
		return false, err
	}

	s.recordTx(ctx, dealID, models.TxDirectionFunding, nil, deal.EscrowAddress, balance, nil)
	s.notifier.Notify(ctx, dealID, events.EventDealFunded, map[string]any{
		"balance_ton": balance.String(),
	})
	s.log.Info("deal funded",
		zap.String("deal_id", dealID.String()),
		zap.String("balance_ton", balance.String()),
	)
	return true, nil
}

// ReleaseFunds settles the escrow to the channel owner, net of the platform
// fee. Two hops: sweep the escrow subwallet into the master wallet, then pay
// the owner from the master wallet.
func (s *EscrowService) ReleaseFunds(ctx context.Context, dealID uuid.UUID) error {
	deal, err := s.deals.GetByID(ctx, dealID)
	if err != nil {
		return fmt.Errorf("load deal: %w", err)
	}
	if deal.OwnerPayoutAddress == nil || *deal.OwnerPayoutAddress == "" {
		return fmt.Errorf("deal %s: no owner payout address", dealID)
	}
	net, fee := s.SplitFee(deal.AmountTon)
	s.log.Info("releasing escrow",
		zap.String("deal_id", dealID.String()),
		zap.String("net_ton", net.String()),
		zap.String("fee_ton", fee.String()),
	)
	return s.settle(ctx, deal, models.TransferDirectionRelease, *deal.OwnerPayoutAddress, net)
}

// RefundFunds returns the full escrow balance to the advertiser. No fee.
func (s *EscrowService) RefundFunds(ctx context.Context, dealID uuid.UUID) error {
	deal, err := s.deals.GetByID(ctx, dealID)
	if err != nil {
		return fmt.Errorf("load deal: %w", err)
	}
	if deal.AdvertiserRefundAddress == nil || *deal.AdvertiserRefundAddress == "" {
		return fmt.Errorf("deal %s: no advertiser refund address", dealID)
	}
	return s.settle(ctx, deal, models.TransferDirectionRefund, *deal.AdvertiserRefundAddress, deal.AmountTon)
}

// SettleSplit divides the escrow between both parties per a dispute outcome.
// releasePercent goes to the owner (fee applies to that portion only), the
// rest is refunded to the advertiser fee-free. Sub-nanoton remainders round
// toward the released portion.
func (s *EscrowService) SettleSplit(ctx context.Context, dealID uuid.UUID, releasePercent int) error {
	if releasePercent < 0 || releasePercent > 100 {
		return fmt.Errorf("deal %s: release percent %d out of range", dealID, releasePercent)
	}
	deal, err := s.deals.GetByID(ctx, dealID)
	if err != nil {
		return fmt.Errorf("load deal: %w", err)
	}
	if deal.OwnerPayoutAddress == nil || deal.AdvertiserRefundAddress == nil {
		return fmt.Errorf("deal %s: missing settlement addresses", dealID)
	}

	refundGross := deal.AmountTon.
		Mul(decimal.NewFromInt(int64(100 - releasePercent))).
		Div(decimal.NewFromInt(100)).
		RoundDown(9)
	releaseGross := deal.AmountTon.Sub(refundGross)
	releaseNet, _ := s.SplitFee(releaseGross)

	if exists, err := s.pending.ExistsForDeal(ctx, dealID); err != nil {
		return fmt.Errorf("check pending transfers: %w", err)
	} else if exists {
		return &PartialTransferError{DealID: dealID, Direction: models.TransferDirectionRelease,
			Err: errors.New("pending transfer already recorded, waiting for recovery")}
	}

	if err := s.sweep(ctx, deal); err != nil {
		return err
	}

	var firstPartial error
	if releaseNet.IsPositive() {
		if err := s.hopTwo(ctx, deal, models.TransferDirectionRelease, *deal.OwnerPayoutAddress, releaseNet); err != nil {
			firstPartial = err
		}
	}
	if refundGross.IsPositive() {
		if err := s.hopTwo(ctx, deal, models.TransferDirectionRefund, *deal.AdvertiserRefundAddress, refundGross); err != nil && firstPartial == nil {
			firstPartial = err
		}
	}
	return firstPartial
}

// settle is the shared two-hop path for full releases and full refunds.
func (s *EscrowService) settle(ctx context.Context, deal *models.Deal, direction, recipient string, amount decimal.Decimal) error {
	if exists, err := s.pending.ExistsForDeal(ctx, deal.ID); err != nil {
		return fmt.Errorf("check pending transfers: %w", err)
	} else if exists {
		// The escrow was already swept; only hop 2 is outstanding.
		return &PartialTransferError{DealID: deal.ID, Direction: direction,
			Err: errors.New("pending transfer already recorded, waiting for recovery")}
	}
	if err := s.sweep(ctx, deal); err != nil {
		return err
	}
	return s.hopTwo(ctx, deal, direction, recipient, amount)
}

func (s *EscrowService) sweep(ctx context.Context, deal *models.Deal) error {
	sub := ton.SubwalletID(deal.ID)
	hash, swept, err := s.chain.SweepToMaster(ctx, sub, "deal:"+deal.ID.String())
	if err != nil {
		return fmt.Errorf("sweep escrow: %w", err)
	}
	master := s.chain.MasterAddress()
	s.recordTx(ctx, deal.ID, models.TxDirectionSweep, deal.EscrowAddress, &master, swept, &hash)
	return nil
}

func (s *EscrowService) hopTwo(ctx context.Context, deal *models.Deal, direction, recipient string, amount decimal.Decimal) error {
	hash, err := s.chain.SendFromMaster(ctx, recipient, amount, "deal:"+deal.ID.String())
	if err != nil {
		perr := &PartialTransferError{DealID: deal.ID, Direction: direction, Err: err}
		msg := err.Error()
		pt := &models.PendingTransfer{
			DealID:           deal.ID,
			Direction:        direction,
			RecipientAddress: recipient,
			Amount:           amount,
			LastError:        &msg,
		}
		if cerr := s.pending.Create(ctx, pt); cerr != nil {
			// Without the recovery record the funds sit in the master
			// wallet untracked. Surface both errors.
			return fmt.Errorf("record pending transfer after failed hop 2 (%v): %w", err, cerr)
		}
		s.log.Error("hop 2 failed, pending transfer recorded",
			zap.String("deal_id", deal.ID.String()),
			zap.String("direction", direction),
			zap.Error(err),
		)
		return perr
	}

	master := s.chain.MasterAddress()
	s.recordTx(ctx, deal.ID, txDirectionFor(direction), &master, &recipient, amount, &hash)
	return nil
}

// RetryPendingTransfers re-attempts hop 2 for stalled transfers. Each row is
// claimed with a compare-and-set on its attempt counter plus a claim-age
// predicate, so overlapping recovery cycles never double-send even when one
// cycle lists the row after another cycle already claimed it.
func (s *EscrowService) RetryPendingTransfers(ctx context.Context) (int, error) {
	transfers, err := s.pending.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("list pending transfers: %w", err)
	}

	healed := 0
	now := time.Now().UTC()
	for i := range transfers {
		pt := &transfers[i]
		if now.Before(pt.NextAttemptAfter(s.retryBase, s.retryMax)) {
			continue
		}
		// Any claim newer than this cutoff means another cycle owns the
		// row; the claim below rejects it atomically.
		dueBefore := now.Add(-pt.RetryDelay(s.retryBase, s.retryMax))
		claimed, err := s.pending.Claim(ctx, pt.ID, pt.Attempts, dueBefore)
		if err != nil {
			s.log.Warn("claim pending transfer failed",
				zap.String("transfer_id", pt.ID.String()), zap.Error(err))
			continue
		}
		if !claimed {
			continue
		}

		hash, err := s.chain.SendFromMaster(ctx, pt.RecipientAddress, pt.Amount, "deal:"+pt.DealID.String()+":recovery")
		if err != nil {
			if serr := s.pending.SetLastError(ctx, pt.ID, err.Error()); serr != nil {
				s.log.Warn("record transfer error failed",
					zap.String("transfer_id", pt.ID.String()), zap.Error(serr))
			}
			s.log.Warn("pending transfer retry failed",
				zap.String("deal_id", pt.DealID.String()),
				zap.Int("attempts", pt.Attempts+1),
				zap.Error(err),
			)
			continue
		}

		master := s.chain.MasterAddress()
		s.recordTx(ctx, pt.DealID, txDirectionFor(pt.Direction), &master, &pt.RecipientAddress, pt.Amount, &hash)
		if err := s.pending.Delete(ctx, pt.ID); err != nil {
			s.log.Warn("delete healed transfer failed",
				zap.String("transfer_id", pt.ID.String()), zap.Error(err))
		}

		if pt.Direction == models.TransferDirectionRefund {
			// The deal was parked in a fund-holding status while the
			// refund was stuck; it can move to refunded now.
			if _, terr := s.dealSvc.Transition(ctx, pt.DealID, models.DealStatusRefunded, repositories.DealUpdate{}); terr != nil && !IsIllegalTransition(terr) {
				s.log.Warn("post-recovery transition failed",
					zap.String("deal_id", pt.DealID.String()), zap.Error(terr))
			}
			s.notifier.Notify(ctx, pt.DealID, events.EventDealRefunded, map[string]any{
				"amount_ton": pt.Amount.String(),
				"recovered":  true,
			})
		} else {
			s.notifier.Notify(ctx, pt.DealID, events.EventDealCompleted, map[string]any{
				"amount_ton": pt.Amount.String(),
				"recovered":  true,
			})
		}

		healed++
		s.log.Info("pending transfer healed",
			zap.String("deal_id", pt.DealID.String()),
			zap.String("direction", pt.Direction),
		)
	}
	return healed, nil
}

func (s *EscrowService) recordTx(ctx context.Context, dealID uuid.UUID, direction string, from, to *string, amount decimal.Decimal, hash *string) {
	t := &models.Transaction{
		DealID:      dealID,
		Direction:   direction,
		FromAddress: from,
		ToAddress:   to,
		Amount:      amount,
		TxHash:      hash,
	}
	if err := s.txs.Create(ctx, t); err != nil {
		s.log.Error("record transaction failed",
			zap.String("deal_id", dealID.String()),
			zap.String("direction", direction),
			zap.Error(err),
		)
	}
}

func txDirectionFor(transferDirection string) string {
	if transferDirection == models.TransferDirectionRefund {
		return models.TxDirectionRefund
	}
	return models.TxDirectionPayout
}
