package flashloan

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/agehcx/flashloan-playground/core/events"
	"github.com/agehcx/flashloan-playground/native/achievements"
	nativecommon "github.com/agehcx/flashloan-playground/native/common"
	"github.com/agehcx/flashloan-playground/native/flashpool"
	"github.com/agehcx/flashloan-playground/native/token"
)

const moduleName = "flashloan"

// DefaultCallbackBudget bounds how long a borrower callback may run before
// the session is aborted. Callbacks are expected to be computational, not
// I/O-bound.
const DefaultCallbackBudget = 5 * time.Second

var (
	errNilPool    = errors.New("flashloan engine: liquidity pool not configured")
	errNilState   = errors.New("flashloan engine: session state not configured")
	errNilTracker = errors.New("flashloan engine: achievement tracker not configured")

	zeroAddress [20]byte
)

// Receiver is the borrower callback capability. OnFlashLoan runs mid-session
// with the borrowed funds already credited to Address(); by the time it
// returns it must have authorised the pool vault to pull amount+fee, or the
// session aborts.
type Receiver interface {
	Address() [20]byte
	OnFlashLoan(ctx context.Context, asset string, amount, fee *big.Int, data []byte) (bool, error)
}

type liquidityPool interface {
	IsWhitelisted(asset string) (bool, error)
	AvailableLiquidity(asset string) (*big.Int, error)
	CalculateFee(asset string, amount *big.Int) (*big.Int, error)
	Disburse(asset string, to [20]byte, amount *big.Int) error
	Collect(asset string, from [20]byte, amount *big.Int) error
	RecordSettlement(asset string, amount, fee *big.Int) error
}

type badgeTracker interface {
	HasBadge(user [20]byte) (bool, error)
	Mint(caller, user [20]byte) (*achievements.Badge, error)
}

// sessionState exposes the snapshot hooks the engine needs to undo every
// effect of an aborted session as a unit.
type sessionState interface {
	Snapshot() int
	RevertTo(snapshot int)
}

// ExecutorAddress derives the identity the executor presents to the
// achievement tracker when minting first-success badges.
func ExecutorAddress() [20]byte {
	var addr [20]byte
	copy(addr[:], ethcrypto.Keccak256([]byte("flashloan/executor"))[12:])
	return addr
}

// Engine orchestrates flash-loan sessions: it validates requests, disburses
// liquidity, invokes the borrower callback, collects repayment, and settles
// or rolls back the whole sequence atomically. At most one session may be in
// flight per engine; a concurrent call fails immediately rather than queueing.
type Engine struct {
	mu sync.Mutex

	pool           liquidityPool
	tracker        badgeTracker
	state          sessionState
	emitter        events.Emitter
	pauses         nativecommon.PauseView
	identity       [20]byte
	callbackBudget time.Duration
}

// NewEngine constructs a loan executor bound to the supplied pool and
// achievement tracker.
func NewEngine(pool liquidityPool, tracker badgeTracker) *Engine {
	return &Engine{
		pool:           pool,
		tracker:        tracker,
		emitter:        events.NoopEmitter{},
		identity:       ExecutorAddress(),
		callbackBudget: DefaultCallbackBudget,
	}
}

// SetState wires the snapshot-capable state the engine reverts on abort.
func (e *Engine) SetState(state sessionState) { e.state = state }

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

// SetCallbackBudget overrides the wall-clock budget granted to borrower
// callbacks. Non-positive values restore the default.
func (e *Engine) SetCallbackBudget(budget time.Duration) {
	if budget <= 0 {
		budget = DefaultCallbackBudget
	}
	e.callbackBudget = budget
}

// Identity returns the address the executor uses when minting badges.
func (e *Engine) Identity() [20]byte { return e.identity }

// FlashLoan executes one complete borrow-callback-repay session. On any
// failure after disbursement the session is rolled back as a unit: pool
// balances, counters, and badge state are left exactly as before the call.
func (e *Engine) FlashLoan(ctx context.Context, initiator [20]byte, asset string, amount *big.Int, receiver Receiver, data []byte) error {
	if e == nil || e.pool == nil {
		return errNilPool
	}
	if e.state == nil {
		return errNilState
	}
	if e.tracker == nil {
		return errNilTracker
	}
	if !e.mu.TryLock() {
		return ErrReentrantCall
	}
	defer e.mu.Unlock()

	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	asset, err := token.NormalizeAsset(asset)
	if err != nil {
		return err
	}
	whitelisted, err := e.pool.IsWhitelisted(asset)
	if err != nil {
		return err
	}
	if !whitelisted {
		return flashpool.ErrNotWhitelisted
	}
	if amount == nil || amount.Sign() <= 0 {
		return flashpool.ErrInvalidAmount
	}
	if receiver == nil || receiver.Address() == zeroAddress {
		return ErrInvalidReceiver
	}
	balanceBefore, err := e.pool.AvailableLiquidity(asset)
	if err != nil {
		return err
	}
	if balanceBefore.Cmp(amount) < 0 {
		return flashpool.ErrInsufficientLiquidity
	}
	fee, err := e.pool.CalculateFee(asset, amount)
	if err != nil {
		return err
	}

	session := newLoanSession(initiator, asset, amount, fee, balanceBefore, receiver.Address())
	snapshot := e.state.Snapshot()

	session.Status = StatusDisbursed
	if err := e.pool.Disburse(asset, session.Receiver, amount); err != nil {
		return e.abort(snapshot, session, err)
	}

	session.Status = StatusAwaitingRepayment
	ok, err := e.invokeCallback(ctx, receiver, session, data)
	if err != nil || !ok {
		// A callback that tripped the in-flight guard surfaces the
		// re-entrancy to the outer caller, not a generic callback failure.
		if errors.Is(err, ErrReentrantCall) {
			return e.abort(snapshot, session, ErrReentrantCall)
		}
		if err == nil {
			err = errors.New("callback reported failure")
		}
		return e.abort(snapshot, session, fmt.Errorf("%w: %w", ErrCallbackFailed, err))
	}

	repayment := new(big.Int).Add(session.Amount, session.Fee)
	if err := e.pool.Collect(asset, session.Receiver, repayment); err != nil {
		return e.abort(snapshot, session, fmt.Errorf("%w: %w", ErrRepaymentFailed, err))
	}

	// The pool must hold at least its pre-loan balance plus the fee before
	// the session can settle, whatever the callback did to the ledger.
	balanceAfter, err := e.pool.AvailableLiquidity(asset)
	if err != nil {
		return e.abort(snapshot, session, err)
	}
	expected := new(big.Int).Add(session.BalanceBefore, session.Fee)
	if balanceAfter.Cmp(expected) < 0 {
		return e.abort(snapshot, session, ErrBalanceInvariantViolated)
	}

	if err := e.pool.RecordSettlement(asset, session.Amount, session.Fee); err != nil {
		return e.abort(snapshot, session, err)
	}
	badged, err := e.tracker.HasBadge(initiator)
	if err != nil {
		return e.abort(snapshot, session, err)
	}
	if !badged {
		if _, err := e.tracker.Mint(e.identity, initiator); err != nil {
			return e.abort(snapshot, session, err)
		}
	}
	session.Status = StatusSettled

	e.emitter.Emit(events.FlashLoanExecuted{
		SessionID: session.ID.String(),
		Borrower:  session.Receiver,
		Asset:     asset,
		Amount:    session.Amount,
		Fee:       session.Fee,
	})
	e.emitter.Emit(events.FlashLoanSuccess{
		SessionID: session.ID.String(),
		Initiator: initiator,
		Asset:     asset,
		Amount:    session.Amount,
	})
	return nil
}

func (e *Engine) abort(snapshot int, session *LoanSession, err error) error {
	e.state.RevertTo(snapshot)
	session.Status = StatusAborted
	return err
}

// invokeCallback runs the borrower callback under the configured wall-clock
// budget. The callback receives a context it should honour; a callback that
// overruns the budget is treated as failed and its session rolled back.
func (e *Engine) invokeCallback(ctx context.Context, receiver Receiver, session *LoanSession, data []byte) (bool, error) {
	budget := e.callbackBudget
	if budget <= 0 {
		budget = DefaultCallbackBudget
	}
	callCtx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	type outcome struct {
		ok  bool
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		ok, err := receiver.OnFlashLoan(callCtx, session.Asset, session.Amount, session.Fee, data)
		done <- outcome{ok: ok, err: err}
	}()
	select {
	case res := <-done:
		return res.ok, res.err
	case <-callCtx.Done():
		return false, callCtx.Err()
	}
}
