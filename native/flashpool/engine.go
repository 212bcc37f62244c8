package flashpool

import (
	"bytes"
	"errors"
	"fmt"
	"math/big"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/agehcx/flashloan-playground/core/events"
	nativecommon "github.com/agehcx/flashloan-playground/native/common"
	"github.com/agehcx/flashloan-playground/native/token"
)

const moduleName = "flashpool"

// MaxFeeBasisPoints caps the configurable flash-loan fee at 10%.
const MaxFeeBasisPoints = 1000

var basisPoints = big.NewInt(10_000)

var (
	errNilStore   = errors.New("flashpool engine: storage not configured")
	errNilLedger  = errors.New("flashpool engine: token ledger not configured")
	errCorruptBig = errors.New("flashpool engine: corrupt amount record")
)

var (
	poolPrefix   = "flashpool/pool/"
	feeConfigKey = []byte("flashpool/fee")
)

// Storage abstracts the subset of state manager functionality required by the
// pool engine.
type Storage interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
}

// TokenLedger is the fungible-asset collaborator used to move liquidity in
// and out of the pool vault.
type TokenLedger interface {
	BalanceOf(asset string, addr [20]byte) (*big.Int, error)
	Transfer(asset string, from, to [20]byte, amount *big.Int) error
	TransferFrom(asset string, spender, from, to [20]byte, amount *big.Int) error
}

// VaultAddress derives the account that holds pooled liquidity.
func VaultAddress() [20]byte {
	var addr [20]byte
	copy(addr[:], ethcrypto.Keccak256([]byte("flashpool/vault"))[12:])
	return addr
}

// Engine owns the per-asset pool records, the whitelist, and the global fee
// configuration.
type Engine struct {
	store   Storage
	tokens  TokenLedger
	vault   [20]byte
	admin   [20]byte
	emitter events.Emitter
	pauses  nativecommon.PauseView
}

// NewEngine constructs a pool engine gated by the supplied admin principal.
func NewEngine(admin [20]byte) *Engine {
	return &Engine{
		vault:   VaultAddress(),
		admin:   admin,
		emitter: events.NoopEmitter{},
	}
}

// SetStore wires the engine to the external persistence layer.
func (e *Engine) SetStore(store Storage) { e.store = store }

// SetTokenLedger wires the fungible-asset collaborator.
func (e *Engine) SetTokenLedger(tokens TokenLedger) { e.tokens = tokens }

// SetPauses installs the module pause switches.
func (e *Engine) SetPauses(p nativecommon.PauseView) {
	if e == nil {
		return
	}
	e.pauses = p
}

// SetEmitter configures the event emitter used by the engine. Passing nil
// resets the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// Vault returns the address holding pooled liquidity.
func (e *Engine) Vault() [20]byte { return e.vault }

// SetWhitelist toggles borrow/liquidity eligibility for the asset. The pool
// record is created on first use; an existing balance is unaffected.
func (e *Engine) SetWhitelist(caller [20]byte, asset string, enabled bool) error {
	if e == nil || e.store == nil {
		return errNilStore
	}
	if err := e.requireAdmin(caller); err != nil {
		return err
	}
	asset, err := token.NormalizeAsset(asset)
	if err != nil {
		return err
	}
	pool, err := e.loadPool(asset)
	if err != nil {
		return err
	}
	pool.Whitelisted = enabled
	if err := e.storePool(pool); err != nil {
		return err
	}
	e.emitter.Emit(events.TokenWhitelisted{Asset: asset, Enabled: enabled})
	return nil
}

// SetFee updates the global flash-loan fee. Values above MaxFeeBasisPoints
// are rejected.
func (e *Engine) SetFee(caller [20]byte, bps uint32) error {
	if e == nil || e.store == nil {
		return errNilStore
	}
	if err := e.requireAdmin(caller); err != nil {
		return err
	}
	if bps > MaxFeeBasisPoints {
		return ErrFeeTooHigh
	}
	current, err := e.FeeBasisPoints()
	if err != nil {
		return err
	}
	if err := e.store.KVPut(feeConfigKey, &storedFeeConfig{BasisPoints: bps}); err != nil {
		return err
	}
	e.emitter.Emit(events.FeeUpdated{OldBps: current, NewBps: bps})
	return nil
}

// FeeBasisPoints returns the currently configured fee.
func (e *Engine) FeeBasisPoints() (uint32, error) {
	if e == nil || e.store == nil {
		return 0, errNilStore
	}
	var stored storedFeeConfig
	ok, err := e.store.KVGet(feeConfigKey, &stored)
	if err != nil || !ok {
		return 0, err
	}
	return stored.BasisPoints, nil
}

// CalculateFee computes the flash-loan fee for the amount under the current
// configuration. The fee rounds down and can be zero for tiny amounts.
func (e *Engine) CalculateFee(asset string, amount *big.Int) (*big.Int, error) {
	if _, err := token.NormalizeAsset(asset); err != nil {
		return nil, err
	}
	if amount == nil || amount.Sign() < 0 {
		return nil, ErrInvalidAmount
	}
	bps, err := e.FeeBasisPoints()
	if err != nil {
		return nil, err
	}
	if bps == 0 {
		return big.NewInt(0), nil
	}
	fee := new(big.Int).Mul(amount, new(big.Int).SetUint64(uint64(bps)))
	return fee.Quo(fee, basisPoints), nil
}

// AddLiquidity transfers amount of asset from the caller into the pool vault.
// Anyone may provision a whitelisted asset.
func (e *Engine) AddLiquidity(caller [20]byte, asset string, amount *big.Int) error {
	if e == nil || e.store == nil {
		return errNilStore
	}
	if e.tokens == nil {
		return errNilLedger
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	asset, err := token.NormalizeAsset(asset)
	if err != nil {
		return err
	}
	pool, err := e.loadPool(asset)
	if err != nil {
		return err
	}
	if !pool.Whitelisted {
		return ErrNotWhitelisted
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	if err := e.tokens.Transfer(asset, caller, e.vault, amount); err != nil {
		return err
	}
	pool.Balance = new(big.Int).Add(pool.Balance, amount)
	return e.storePool(pool)
}

// RemoveLiquidity releases amount of asset from the pool vault back to the
// caller. Admin only.
func (e *Engine) RemoveLiquidity(caller [20]byte, asset string, amount *big.Int) error {
	if e == nil || e.store == nil {
		return errNilStore
	}
	if e.tokens == nil {
		return errNilLedger
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	if err := e.requireAdmin(caller); err != nil {
		return err
	}
	asset, err := token.NormalizeAsset(asset)
	if err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	pool, err := e.loadPool(asset)
	if err != nil {
		return err
	}
	if pool.Balance.Cmp(amount) < 0 {
		return ErrInsufficientLiquidity
	}
	if err := e.tokens.Transfer(asset, e.vault, caller, amount); err != nil {
		return err
	}
	pool.Balance = new(big.Int).Sub(pool.Balance, amount)
	return e.storePool(pool)
}

// AvailableLiquidity returns the pool balance for the asset.
func (e *Engine) AvailableLiquidity(asset string) (*big.Int, error) {
	pool, err := e.Pool(asset)
	if err != nil {
		return nil, err
	}
	return new(big.Int).Set(pool.Balance), nil
}

// IsWhitelisted reports whether the asset is eligible for pool operations.
func (e *Engine) IsWhitelisted(asset string) (bool, error) {
	pool, err := e.Pool(asset)
	if err != nil {
		return false, err
	}
	return pool.Whitelisted, nil
}

// Pool returns a copy of the pool record for the asset. Unknown assets
// resolve to an empty, non-whitelisted record.
func (e *Engine) Pool(asset string) (*Pool, error) {
	if e == nil || e.store == nil {
		return nil, errNilStore
	}
	asset, err := token.NormalizeAsset(asset)
	if err != nil {
		return nil, err
	}
	return e.loadPool(asset)
}

// Disburse debits the pool and transfers amount of asset from the vault to
// the recipient. Intended to be driven by the loan executor inside a
// snapshot-guarded session.
func (e *Engine) Disburse(asset string, to [20]byte, amount *big.Int) error {
	if e == nil || e.store == nil {
		return errNilStore
	}
	if e.tokens == nil {
		return errNilLedger
	}
	pool, err := e.loadPool(asset)
	if err != nil {
		return err
	}
	if pool.Balance.Cmp(amount) < 0 {
		return ErrInsufficientLiquidity
	}
	if err := e.tokens.Transfer(asset, e.vault, to, amount); err != nil {
		return err
	}
	pool.Balance = new(big.Int).Sub(pool.Balance, amount)
	return e.storePool(pool)
}

// Collect pulls amount of asset from the payer into the vault using the
// payer's allowance for the vault, crediting the pool balance.
func (e *Engine) Collect(asset string, from [20]byte, amount *big.Int) error {
	if e == nil || e.store == nil {
		return errNilStore
	}
	if e.tokens == nil {
		return errNilLedger
	}
	if err := e.tokens.TransferFrom(asset, e.vault, from, e.vault, amount); err != nil {
		return err
	}
	pool, err := e.loadPool(asset)
	if err != nil {
		return err
	}
	pool.Balance = new(big.Int).Add(pool.Balance, amount)
	return e.storePool(pool)
}

// RecordSettlement books the borrow/repay counters for a settled session.
func (e *Engine) RecordSettlement(asset string, amount, fee *big.Int) error {
	if e == nil || e.store == nil {
		return errNilStore
	}
	pool, err := e.loadPool(asset)
	if err != nil {
		return err
	}
	pool.TotalBorrowed = new(big.Int).Add(pool.TotalBorrowed, amount)
	repaid := new(big.Int).Add(amount, fee)
	pool.TotalRepaid = new(big.Int).Add(pool.TotalRepaid, repaid)
	return e.storePool(pool)
}

func (e *Engine) requireAdmin(caller [20]byte) error {
	if !bytes.Equal(caller[:], e.admin[:]) {
		return ErrUnauthorized
	}
	return nil
}

func (e *Engine) loadPool(asset string) (*Pool, error) {
	var stored storedPool
	ok, err := e.store.KVGet(poolKey(asset), &stored)
	if err != nil {
		return nil, err
	}
	if !ok {
		return &Pool{
			Asset:         asset,
			Balance:       big.NewInt(0),
			TotalBorrowed: big.NewInt(0),
			TotalRepaid:   big.NewInt(0),
		}, nil
	}
	pool := &Pool{Asset: stored.Asset, Whitelisted: stored.Whitelisted}
	if pool.Balance, err = parseAmount(stored.Balance); err != nil {
		return nil, err
	}
	if pool.TotalBorrowed, err = parseAmount(stored.TotalBorrowed); err != nil {
		return nil, err
	}
	if pool.TotalRepaid, err = parseAmount(stored.TotalRepaid); err != nil {
		return nil, err
	}
	return pool, nil
}

func (e *Engine) storePool(pool *Pool) error {
	stored := &storedPool{
		Asset:         pool.Asset,
		Balance:       pool.Balance.String(),
		Whitelisted:   pool.Whitelisted,
		TotalBorrowed: pool.TotalBorrowed.String(),
		TotalRepaid:   pool.TotalRepaid.String(),
	}
	return e.store.KVPut(poolKey(pool.Asset), stored)
}

func parseAmount(raw string) (*big.Int, error) {
	if raw == "" {
		return big.NewInt(0), nil
	}
	value, ok := new(big.Int).SetString(raw, 10)
	if !ok {
		return nil, fmt.Errorf("%w: %q", errCorruptBig, raw)
	}
	return value, nil
}

func poolKey(asset string) []byte {
	return []byte(poolPrefix + asset)
}
