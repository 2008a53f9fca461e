package ton

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/xssnick/tonutils-go/address"
	"github.com/xssnick/tonutils-go/tlb"
	"github.com/xssnick/tonutils-go/ton"
	"github.com/xssnick/tonutils-go/ton/wallet"
	"go.uber.org/zap"
)

// Wallets manages the master custody wallet and the per-deal escrow
// subwallets derived from it. A deal's subwallet ID is a stable function of
// the deal UUID, so re-deriving an escrow address is always idempotent.
type Wallets struct {
	api    ton.APIClientWrapped
	master *wallet.Wallet
	log    *zap.Logger
}

func NewWallets(api ton.APIClientWrapped, masterSeed []string, log *zap.Logger) (*Wallets, error) {
	master, err := wallet.FromSeed(api, masterSeed, wallet.V4R2)
	if err != nil {
		return nil, fmt.Errorf("master wallet from seed: %w", err)
	}
	return &Wallets{api: api, master: master, log: log}, nil
}

// SubwalletID maps a deal UUID onto a V4R2 subwallet ID. The default
// subwallet ID space starts at 698983191; offsetting by it keeps deal
// subwallets clear of the master wallet itself.
func SubwalletID(dealID uuid.UUID) uint32 {
	sum := sha256.Sum256(dealID[:])
	return wallet.DefaultSubwallet + 1 + binary.BigEndian.Uint32(sum[:4])%1_000_000_000
}

func (w *Wallets) MasterAddress() string {
	return w.master.WalletAddress().String()
}

func (w *Wallets) EscrowAddress(ctx context.Context, sub uint32) (string, error) {
	sw, err := w.master.GetSubwallet(sub)
	if err != nil {
		return "", fmt.Errorf("derive subwallet %d: %w", sub, err)
	}
	return sw.WalletAddress().String(), nil
}

func (w *Wallets) Balance(ctx context.Context, addr string) (decimal.Decimal, error) {
	parsed, err := address.ParseAddr(addr)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse address %s: %w", addr, err)
	}

	block, err := w.api.CurrentMasterchainInfo(ctx)
	if err != nil {
		return decimal.Zero, fmt.Errorf("get master block: %w", err)
	}

	account, err := w.api.GetAccount(ctx, block, parsed)
	if err != nil {
		return decimal.Zero, fmt.Errorf("get account: %w", err)
	}
	if account == nil || !account.IsActive {
		return decimal.Zero, nil
	}
	return FromNano(account.State.Balance.Nano()), nil
}

// SweepToMaster executes hop 1: it moves the entire balance of the deal's
// escrow subwallet to the master wallet (mode 128 carries the full balance,
// +32 destroys the emptied subaccount).
func (w *Wallets) SweepToMaster(ctx context.Context, sub uint32, comment string) (string, decimal.Decimal, error) {
	sw, err := w.master.GetSubwallet(sub)
	if err != nil {
		return "", decimal.Zero, fmt.Errorf("derive subwallet %d: %w", sub, err)
	}

	swept, err := w.Balance(ctx, sw.WalletAddress().String())
	if err != nil {
		return "", decimal.Zero, err
	}
	if swept.IsZero() {
		return "", decimal.Zero, fmt.Errorf("escrow subwallet %d is empty", sub)
	}

	body, err := wallet.CreateCommentCell(comment)
	if err != nil {
		return "", decimal.Zero, err
	}

	msg := &wallet.Message{
		Mode: 128 + 32,
		InternalMessage: &tlb.InternalMessage{
			IHRDisabled: true,
			Bounce:      false,
			DstAddr:     w.master.WalletAddress(),
			Amount:      tlb.MustFromTON("0"),
			Body:        body,
		},
	}

	tx, _, err := sw.SendWaitTransaction(ctx, msg)
	if err != nil {
		return "", decimal.Zero, fmt.Errorf("sweep subwallet %d: %w", sub, err)
	}

	hash := hex.EncodeToString(tx.Hash)
	w.log.Info("escrow swept to master",
		zap.Uint32("subwallet", sub),
		zap.String("amount", swept.String()),
		zap.String("tx_hash", hash),
	)
	return hash, swept, nil
}

// SendFromMaster executes hop 2: a plain transfer of the net amount from the
// master wallet to the final recipient.
func (w *Wallets) SendFromMaster(ctx context.Context, toAddr string, amount decimal.Decimal, comment string) (string, error) {
	dst, err := address.ParseAddr(toAddr)
	if err != nil {
		return "", fmt.Errorf("parse recipient %s: %w", toAddr, err)
	}

	body, err := wallet.CreateCommentCell(comment)
	if err != nil {
		return "", err
	}

	msg := wallet.SimpleMessage(dst, tlb.FromNanoTON(ToNano(amount)), body)
	tx, _, err := w.master.SendWaitTransaction(ctx, msg)
	if err != nil {
		return "", fmt.Errorf("send %s TON to %s: %w", amount.String(), toAddr, err)
	}

	hash := hex.EncodeToString(tx.Hash)
	w.log.Info("master wallet transfer sent",
		zap.String("to", toAddr),
		zap.String("amount", amount.String()),
		zap.String("tx_hash", hash),
	)
	return hash, nil
}
