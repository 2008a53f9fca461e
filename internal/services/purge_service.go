package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/adsettle/backend/internal/events"
	"github.com/adsettle/backend/internal/models"
)

// DealSnapshot is the pre-purge state that gets hashed into the receipt.
// EscrowAddressSet distinguishes "column was null" from "deal never had an
// escrow address object at all"; the two must hash differently.
type DealSnapshot struct {
	DealID           uuid.UUID
	ChannelID        uuid.UUID
	AdvertiserID     uuid.UUID
	AmountTon        decimal.Decimal
	FinalStatus      string
	EscrowAddressSet bool
	EscrowAddress    *string
	CompletedAt      *time.Time
}

// HashDealData produces the canonical hash stored on the receipt. The input
// is a JSON object with keys in fixed lexicographic order; absent, null and
// empty-string escrowAddress all yield distinct digests.
func HashDealData(s DealSnapshot) string {
	var b strings.Builder
	b.WriteByte('{')
	b.WriteString(`"advertiserId":"` + s.AdvertiserID.String() + `",`)
	b.WriteString(`"amountTon":"` + s.AmountTon.String() + `",`)
	b.WriteString(`"channelId":"` + s.ChannelID.String() + `",`)
	if s.CompletedAt != nil {
		b.WriteString(`"completedAt":"` + s.CompletedAt.UTC().Format(time.RFC3339Nano) + `",`)
	} else {
		b.WriteString(`"completedAt":null,`)
	}
	b.WriteString(`"dealId":"` + s.DealID.String() + `",`)
	if s.EscrowAddressSet {
		if s.EscrowAddress != nil {
			b.WriteString(`"escrowAddress":` + quoteJSON(*s.EscrowAddress) + `,`)
		} else {
			b.WriteString(`"escrowAddress":null,`)
		}
	}
	b.WriteString(`"finalStatus":"` + s.FinalStatus + `"`)
	b.WriteByte('}')

	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

func quoteJSON(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `"`, `\"`)
	return `"` + r.Replace(s) + `"`
}

type PurgeService struct {
	deals     DealStore
	receipts  ReceiptStore
	notifier  events.Notifier
	retention time.Duration
	batchSize int
	log       *zap.Logger
}

func NewPurgeService(deals DealStore, receipts ReceiptStore, notifier events.Notifier, retention time.Duration, batchSize int, log *zap.Logger) *PurgeService {
	return &PurgeService{
		deals:     deals,
		receipts:  receipts,
		notifier:  notifier,
		retention: retention,
		batchSize: batchSize,
		log:       log,
	}
}

// PurgeDeal writes the anonymized receipt and then strips the deal of its
// sensitive data in one transaction. Safe to call twice: the receipt upsert
// is a no-op on conflict and an already purged deal has nothing left to null.
func (s *PurgeService) PurgeDeal(ctx context.Context, deal *models.Deal) error {
	snap := DealSnapshot{
		DealID:           deal.ID,
		ChannelID:        deal.ChannelID,
		AdvertiserID:     deal.AdvertiserID,
		AmountTon:        deal.AmountTon,
		FinalStatus:      deal.Status,
		EscrowAddressSet: true,
		EscrowAddress:    deal.EscrowAddress,
		CompletedAt:      deal.CompletedAt,
	}

	receipt := &models.DealReceipt{
		DealID:          deal.ID,
		ChannelTitle:    deal.ChannelTitle,
		AdvertiserAlias: deal.AdvertiserAlias,
		OwnerAlias:      deal.OwnerAlias,
		AmountTon:       deal.AmountTon,
		FinalStatus:     deal.Status,
		DataHash:        HashDealData(snap),
		CompletedAt:     deal.CompletedAt,
	}
	if err := s.receipts.Upsert(ctx, receipt); err != nil {
		return fmt.Errorf("write receipt: %w", err)
	}

	if err := s.deals.PurgeDealData(ctx, deal.ID); err != nil {
		return fmt.Errorf("purge deal data: %w", err)
	}

	s.notifier.Notify(ctx, deal.ID, events.EventDealPurged, map[string]any{
		"final_status": deal.Status,
	})
	s.log.Info("deal purged",
		zap.String("deal_id", deal.ID.String()),
		zap.String("final_status", deal.Status),
	)
	return nil
}

// PurgeExpired purges one bounded batch of terminal deals past retention.
// Returns how many deals were purged this pass.
func (s *PurgeService) PurgeExpired(ctx context.Context) (int, error) {
	cutoff := time.Now().UTC().Add(-s.retention)
	deals, err := s.deals.ListPurgeable(ctx, models.TerminalStatuses(), cutoff, s.batchSize)
	if err != nil {
		return 0, fmt.Errorf("list purgeable: %w", err)
	}

	purged := 0
	for i := range deals {
		if err := s.PurgeDeal(ctx, &deals[i]); err != nil {
			s.log.Error("purge failed",
				zap.String("deal_id", deals[i].ID.String()), zap.Error(err))
			continue
		}
		purged++
	}
	return purged, nil
}
