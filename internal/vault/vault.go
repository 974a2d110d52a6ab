// Package vault splits real assets into per-outcome conditional tokens and
// merges complete sets back.
package vault

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/zcombinatorio/percent-sub003/internal/chain"
	"github.com/zcombinatorio/percent-sub003/internal/domain"
)

// Reader is the chain access the vault adapter needs.
type Reader interface {
	HasCode(ctx context.Context, addr common.Address) (bool, error)
	Call(ctx context.Context, to common.Address, contract *abi.ABI, method string, args ...any) ([]any, error)
	BalanceOf(ctx context.Context, token, owner common.Address) (*big.Int, error)
}

// Submitter sends instructions on behalf of the wallet.
type Submitter interface {
	Submit(ctx context.Context, inst domain.UnsignedInstruction) (domain.Receipt, error)
}

// Adapter builds and submits split and merge calls.
type Adapter struct {
	reader    Reader
	submitter Submitter
	logger    *slog.Logger
	now       func() time.Time
}

// NewAdapter creates a vault Adapter.
func NewAdapter(reader Reader, submitter Submitter, logger *slog.Logger) *Adapter {
	return &Adapter{
		reader:    reader,
		submitter: submitter,
		logger:    logger.With(slog.String("component", "vault")),
		now:       time.Now,
	}
}

// Split deposits amount of the real asset and mints one conditional token
// per outcome, 1:1. The owner must hold at least amount.
func (a *Adapter) Split(ctx context.Context, owner, vault common.Address, class domain.AssetClass, amount *big.Int) (domain.LegResult, error) {
	if amount == nil || amount.Sign() <= 0 {
		return domain.LegResult{}, fmt.Errorf("vault: split of non-positive amount")
	}
	token, err := a.underlying(ctx, vault, class)
	if err != nil {
		return domain.LegResult{}, err
	}
	bal, err := a.reader.BalanceOf(ctx, token, owner)
	if err != nil {
		return domain.LegResult{}, fmt.Errorf("vault: balance of %s: %w", token.Hex(), err)
	}
	if bal.Cmp(amount) < 0 {
		return domain.LegResult{}, fmt.Errorf("vault: split %s %s, have %s: %w", amount, class, bal, domain.ErrInsufficientBalance)
	}

	data, err := chain.VaultABI.Pack("split", uint8(class), amount)
	if err != nil {
		return domain.LegResult{}, fmt.Errorf("vault: pack split: %w", err)
	}
	rcpt, err := a.submitter.Submit(ctx, domain.UnsignedInstruction{
		Label:    "split " + class.String(),
		To:       vault,
		Data:     data,
		Approval: &domain.Approval{Token: token, Spender: vault, Amount: new(big.Int).Set(amount)},
	})
	if err != nil {
		return domain.LegResult{}, fmt.Errorf("vault: split: %w", err)
	}
	a.logger.InfoContext(ctx, "split confirmed",
		slog.String("class", class.String()),
		slog.String("amount", amount.String()),
		slog.String("tx", rcpt.TxHash.Hex()),
	)
	return a.result(domain.LegSplit, rcpt, amount), nil
}

// Merge burns amount of every outcome's conditional token and returns
// amount of the real asset. Callers pass the smallest leg balance.
func (a *Adapter) Merge(ctx context.Context, owner, vault common.Address, class domain.AssetClass, amount *big.Int) (domain.LegResult, error) {
	if amount == nil || amount.Sign() <= 0 {
		return domain.LegResult{}, fmt.Errorf("vault: merge of non-positive amount")
	}
	if err := a.ensureVault(ctx, vault); err != nil {
		return domain.LegResult{}, err
	}
	data, err := chain.VaultABI.Pack("merge", uint8(class), amount)
	if err != nil {
		return domain.LegResult{}, fmt.Errorf("vault: pack merge: %w", err)
	}
	rcpt, err := a.submitter.Submit(ctx, domain.UnsignedInstruction{
		Label: "merge " + class.String(),
		To:    vault,
		Data:  data,
	})
	if err != nil {
		return domain.LegResult{}, fmt.Errorf("vault: merge: %w", err)
	}
	a.logger.InfoContext(ctx, "merge confirmed",
		slog.String("class", class.String()),
		slog.String("amount", amount.String()),
		slog.String("owner", owner.Hex()),
		slog.String("tx", rcpt.TxHash.Hex()),
	)
	return a.result(domain.LegMerge, rcpt, amount), nil
}

func (a *Adapter) result(kind domain.LegKind, rcpt domain.Receipt, amount *big.Int) domain.LegResult {
	return domain.LegResult{
		Kind:      kind,
		Leg:       -1,
		TxHash:    rcpt.TxHash.Hex(),
		AmountIn:  new(big.Int).Set(amount),
		AmountOut: new(big.Int).Set(amount),
		At:        a.now(),
	}
}

func (a *Adapter) ensureVault(ctx context.Context, vault common.Address) error {
	ok, err := a.reader.HasCode(ctx, vault)
	if err != nil {
		return fmt.Errorf("vault: %s: %w: %w", vault.Hex(), domain.ErrVaultUnavailable, err)
	}
	if !ok {
		return fmt.Errorf("vault: no contract at %s: %w", vault.Hex(), domain.ErrVaultUnavailable)
	}
	return nil
}

// underlying resolves the real token the vault holds for class.
func (a *Adapter) underlying(ctx context.Context, vault common.Address, class domain.AssetClass) (common.Address, error) {
	if err := a.ensureVault(ctx, vault); err != nil {
		return common.Address{}, err
	}
	method := "quoteToken"
	if class == domain.AssetBase {
		method = "baseToken"
	}
	out, err := a.reader.Call(ctx, vault, chain.VaultABI, method)
	if err != nil || len(out) == 0 {
		return common.Address{}, fmt.Errorf("vault: %s of %s: %w: %v", method, vault.Hex(), domain.ErrVaultUnavailable, err)
	}
	token, ok := out[0].(common.Address)
	if !ok {
		return common.Address{}, fmt.Errorf("vault: %s returned %T: %w", method, out[0], domain.ErrVaultUnavailable)
	}
	return token, nil
}
