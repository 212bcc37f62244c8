package token

import (
	"encoding/hex"
	"errors"
	"math/big"
	"strings"
)

// Storage abstracts the subset of state manager functionality required by the
// token ledger.
type Storage interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
}

var (
	balancePrefix   = "token/balance/"
	allowancePrefix = "token/allowance/"
)

var errNilStore = errors.New("token: storage not configured")

// Ledger maintains fungible balances and pull-payment allowances per asset.
// It stands in for a conventional ERC20-style token: Mint is an open faucet,
// Transfer moves funds, and Approve/TransferFrom implement the
// authorize-then-pull flow the flash-loan executor relies on when collecting
// repayment.
type Ledger struct {
	store Storage
}

// NewLedger constructs a ledger bound to the provided storage backend.
func NewLedger(store Storage) *Ledger {
	return &Ledger{store: store}
}

// NormalizeAsset canonicalises an asset symbol, rejecting empty values.
func NormalizeAsset(symbol string) (string, error) {
	trimmed := strings.ToUpper(strings.TrimSpace(symbol))
	if trimmed == "" {
		return "", ErrInvalidAsset
	}
	return trimmed, nil
}

// BalanceOf returns the asset balance held by addr. Unknown accounts hold
// zero.
func (l *Ledger) BalanceOf(asset string, addr [20]byte) (*big.Int, error) {
	if l == nil || l.store == nil {
		return nil, errNilStore
	}
	asset, err := NormalizeAsset(asset)
	if err != nil {
		return nil, err
	}
	return l.readAmount(balanceKey(asset, addr))
}

// Mint credits freshly issued units of asset to the recipient. The faucet is
// deliberately unauthenticated; playground assets carry no scarcity.
func (l *Ledger) Mint(asset string, to [20]byte, amount *big.Int) error {
	if l == nil || l.store == nil {
		return errNilStore
	}
	asset, err := NormalizeAsset(asset)
	if err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	balance, err := l.readAmount(balanceKey(asset, to))
	if err != nil {
		return err
	}
	return l.writeAmount(balanceKey(asset, to), new(big.Int).Add(balance, amount))
}

// Transfer moves amount of asset from one holder to another.
func (l *Ledger) Transfer(asset string, from, to [20]byte, amount *big.Int) error {
	if l == nil || l.store == nil {
		return errNilStore
	}
	asset, err := NormalizeAsset(asset)
	if err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	fromBalance, err := l.readAmount(balanceKey(asset, from))
	if err != nil {
		return err
	}
	if fromBalance.Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	toBalance, err := l.readAmount(balanceKey(asset, to))
	if err != nil {
		return err
	}
	if err := l.writeAmount(balanceKey(asset, from), new(big.Int).Sub(fromBalance, amount)); err != nil {
		return err
	}
	return l.writeAmount(balanceKey(asset, to), new(big.Int).Add(toBalance, amount))
}

// Approve authorises spender to pull up to amount of asset from owner. A zero
// amount clears the allowance.
func (l *Ledger) Approve(asset string, owner, spender [20]byte, amount *big.Int) error {
	if l == nil || l.store == nil {
		return errNilStore
	}
	asset, err := NormalizeAsset(asset)
	if err != nil {
		return err
	}
	if amount == nil || amount.Sign() < 0 {
		return ErrInvalidAmount
	}
	return l.writeAmount(allowanceKey(asset, owner, spender), amount)
}

// Allowance returns the remaining amount spender may pull from owner.
func (l *Ledger) Allowance(asset string, owner, spender [20]byte) (*big.Int, error) {
	if l == nil || l.store == nil {
		return nil, errNilStore
	}
	asset, err := NormalizeAsset(asset)
	if err != nil {
		return nil, err
	}
	return l.readAmount(allowanceKey(asset, owner, spender))
}

// TransferFrom pulls amount of asset from the owner to the recipient on the
// strength of a prior Approve by the owner for the spender.
func (l *Ledger) TransferFrom(asset string, spender, from, to [20]byte, amount *big.Int) error {
	if l == nil || l.store == nil {
		return errNilStore
	}
	asset, err := NormalizeAsset(asset)
	if err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	allowance, err := l.readAmount(allowanceKey(asset, from, spender))
	if err != nil {
		return err
	}
	if allowance.Cmp(amount) < 0 {
		return ErrInsufficientAllowance
	}
	if err := l.Transfer(asset, from, to, amount); err != nil {
		return err
	}
	return l.writeAmount(allowanceKey(asset, from, spender), new(big.Int).Sub(allowance, amount))
}

func (l *Ledger) readAmount(key []byte) (*big.Int, error) {
	var stored string
	ok, err := l.store.KVGet(key, &stored)
	if err != nil {
		return nil, err
	}
	if !ok || stored == "" {
		return big.NewInt(0), nil
	}
	value, valid := new(big.Int).SetString(stored, 10)
	if !valid {
		return nil, errors.New("token: corrupt amount record")
	}
	return value, nil
}

func (l *Ledger) writeAmount(key []byte, amount *big.Int) error {
	return l.store.KVPut(key, amount.String())
}

func balanceKey(asset string, addr [20]byte) []byte {
	return []byte(balancePrefix + asset + "/" + hex.EncodeToString(addr[:]))
}

func allowanceKey(asset string, owner, spender [20]byte) []byte {
	return []byte(allowancePrefix + asset + "/" + hex.EncodeToString(owner[:]) + "/" + hex.EncodeToString(spender[:]))
}
