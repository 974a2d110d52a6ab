package chain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/zcombinatorio/percent-sub003/internal/domain"
)

// TxSigner signs transactions for the wallet address.
type TxSigner interface {
	Address() common.Address
	ChainID() *big.Int
	SignTx(tx *types.Transaction) (*types.Transaction, error)
}

// WalletConfig tunes transaction submission.
type WalletConfig struct {
	Confirmations   uint64
	PollInterval    time.Duration
	ReceiptTimeout  time.Duration
	GasLimitPercent uint64 // applied to the estimate, e.g. 120
}

// Wallet submits instructions from the signer's address and waits for
// them to confirm.
type Wallet struct {
	client *Client
	signer TxSigner
	cfg    WalletConfig
	logger *slog.Logger
}

// NewWallet creates a Wallet.
func NewWallet(client *Client, signer TxSigner, cfg WalletConfig, logger *slog.Logger) *Wallet {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.ReceiptTimeout <= 0 {
		cfg.ReceiptTimeout = 3 * time.Minute
	}
	if cfg.GasLimitPercent < 100 {
		cfg.GasLimitPercent = 120
	}
	if cfg.Confirmations == 0 {
		cfg.Confirmations = 1
	}
	return &Wallet{
		client: client,
		signer: signer,
		cfg:    cfg,
		logger: logger.With(slog.String("component", "wallet"), slog.String("address", signer.Address().Hex())),
	}
}

// Address returns the signing address.
func (w *Wallet) Address() common.Address { return w.signer.Address() }

// Balance returns the wallet's balance of token.
func (w *Wallet) Balance(ctx context.Context, token common.Address) (*big.Int, error) {
	return w.client.BalanceOf(ctx, token, w.Address())
}

// Submit grants any allowance the instruction needs, then sends it and
// waits for a successful receipt.
func (w *Wallet) Submit(ctx context.Context, inst domain.UnsignedInstruction) (domain.Receipt, error) {
	if inst.Approval != nil {
		if err := w.ensureAllowance(ctx, *inst.Approval); err != nil {
			return domain.Receipt{}, fmt.Errorf("chain: %s: %w", inst.Label, err)
		}
	}
	return w.send(ctx, inst.Label, inst.To, inst.Data, inst.Value)
}

func (w *Wallet) ensureAllowance(ctx context.Context, a domain.Approval) error {
	current, err := w.client.Allowance(ctx, a.Token, w.Address(), a.Spender)
	if err != nil {
		return err
	}
	if current.Cmp(a.Amount) >= 0 {
		return nil
	}

	w.logger.InfoContext(ctx, "approving spender",
		slog.String("token", a.Token.Hex()),
		slog.String("spender", a.Spender.Hex()),
		slog.String("amount", a.Amount.String()),
	)
	data, err := ERC20ABI.Pack("approve", a.Spender, a.Amount)
	if err != nil {
		return fmt.Errorf("pack approve: %w", err)
	}
	_, err = w.send(ctx, "approve", a.Token, data, nil)
	return err
}

func (w *Wallet) send(ctx context.Context, label string, to common.Address, data []byte, value *big.Int) (domain.Receipt, error) {
	b := w.client.backend
	from := w.Address()
	if value == nil {
		value = new(big.Int)
	}

	nonce, err := b.PendingNonceAt(ctx, from)
	if err != nil {
		return domain.Receipt{}, fmt.Errorf("chain: nonce: %w", err)
	}
	tip, feeCap, err := w.fees(ctx)
	if err != nil {
		return domain.Receipt{}, err
	}
	gas, err := b.EstimateGas(ctx, ethereum.CallMsg{From: from, To: &to, Data: data, Value: value})
	if err != nil {
		return domain.Receipt{}, fmt.Errorf("chain: estimate gas for %s: %w", label, err)
	}
	gas = gas * w.cfg.GasLimitPercent / 100

	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   w.signer.ChainID(),
		Nonce:     nonce,
		GasTipCap: tip,
		GasFeeCap: feeCap,
		Gas:       gas,
		To:        &to,
		Value:     value,
		Data:      data,
	})
	signed, err := w.signer.SignTx(tx)
	if err != nil {
		return domain.Receipt{}, err
	}
	if err := b.SendTransaction(ctx, signed); err != nil {
		return domain.Receipt{}, fmt.Errorf("chain: send %s: %w", label, err)
	}
	w.logger.DebugContext(ctx, "transaction sent",
		slog.String("label", label),
		slog.String("tx", signed.Hash().Hex()),
		slog.Uint64("nonce", nonce),
	)

	hash := signed.Hash()
	receipt, err := w.waitMined(ctx, hash)
	if err != nil {
		return domain.Receipt{TxHash: hash}, &domain.TxError{
			TxHash: hash,
			Err:    fmt.Errorf("chain: %s: %w", label, err),
		}
	}
	out := domain.Receipt{
		TxHash:      receipt.TxHash,
		BlockNumber: receipt.BlockNumber.Uint64(),
		GasUsed:     receipt.GasUsed,
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return out, &domain.TxError{
			TxHash: hash,
			Err:    fmt.Errorf("chain: %s %s: %w", label, hash.Hex(), domain.ErrTxReverted),
		}
	}
	return out, nil
}

func (w *Wallet) fees(ctx context.Context) (tip, feeCap *big.Int, err error) {
	b := w.client.backend
	head, err := b.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("chain: header: %w", err)
	}
	tip, err = b.SuggestGasTipCap(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("chain: tip cap: %w", err)
	}
	if head.BaseFee == nil {
		price, err := b.SuggestGasPrice(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("chain: gas price: %w", err)
		}
		return price, price, nil
	}
	feeCap = new(big.Int).Add(tip, new(big.Int).Mul(head.BaseFee, big.NewInt(2)))
	return tip, feeCap, nil
}

// waitMined polls for the receipt and then for the configured number of
// confirmations.
func (w *Wallet) waitMined(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	ctx, cancel := context.WithTimeout(ctx, w.cfg.ReceiptTimeout)
	defer cancel()

	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	var receipt *types.Receipt
	for {
		if receipt == nil {
			r, err := w.client.backend.TransactionReceipt(ctx, hash)
			switch {
			case err == nil:
				receipt = r
			case errors.Is(err, ethereum.NotFound):
			default:
				return nil, fmt.Errorf("receipt %s: %w", hash.Hex(), err)
			}
		}
		if receipt != nil {
			if w.cfg.Confirmations <= 1 {
				return receipt, nil
			}
			head, err := w.client.backend.HeaderByNumber(ctx, nil)
			if err != nil {
				return nil, fmt.Errorf("header: %w", err)
			}
			if head.Number.Uint64()+1 >= receipt.BlockNumber.Uint64()+w.cfg.Confirmations {
				return receipt, nil
			}
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("waiting for %s: %w", hash.Hex(), ctx.Err())
		case <-ticker.C:
		}
	}
}
