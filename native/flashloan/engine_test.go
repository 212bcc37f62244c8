package flashloan

import (
	"bytes"
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/agehcx/flashloan-playground/core/events"
	"github.com/agehcx/flashloan-playground/core/state"
	"github.com/agehcx/flashloan-playground/native/achievements"
	"github.com/agehcx/flashloan-playground/native/flashpool"
	"github.com/agehcx/flashloan-playground/native/token"
	"github.com/agehcx/flashloan-playground/storage"
)

func testAddress(fill byte) [20]byte {
	var addr [20]byte
	copy(addr[:], bytes.Repeat([]byte{fill}, 20))
	return addr
}

type captureEmitter struct {
	events []events.Event
}

func (c *captureEmitter) Emit(evt events.Event) {
	c.events = append(c.events, evt)
}

func (c *captureEmitter) successCount() int {
	count := 0
	for _, evt := range c.events {
		if _, ok := evt.(events.FlashLoanSuccess); ok {
			count++
		}
	}
	return count
}

type harness struct {
	state   *state.Manager
	ledger  *token.Ledger
	pool    *flashpool.Engine
	tracker *achievements.Tracker
	engine  *Engine
	emitter *captureEmitter
	admin   [20]byte
}

func newHarness(t *testing.T, liquidity int64, bps uint32) *harness {
	t.Helper()
	admin := testAddress(0xAD)
	provider := testAddress(0x01)

	manager := state.NewManager(storage.NewMemDB())
	ledger := token.NewLedger(manager)

	pool := flashpool.NewEngine(admin)
	pool.SetStore(manager)
	pool.SetTokenLedger(ledger)

	tracker := achievements.NewTracker(ExecutorAddress())
	tracker.SetStore(manager)

	emitter := &captureEmitter{}
	engine := NewEngine(pool, tracker)
	engine.SetState(manager)
	engine.SetEmitter(emitter)

	if err := pool.SetFee(admin, bps); err != nil {
		t.Fatalf("set fee: %v", err)
	}
	if err := pool.SetWhitelist(admin, "TEST", true); err != nil {
		t.Fatalf("whitelist: %v", err)
	}
	if liquidity > 0 {
		if err := ledger.Mint("TEST", provider, big.NewInt(liquidity)); err != nil {
			t.Fatalf("mint: %v", err)
		}
		if err := pool.AddLiquidity(provider, "TEST", big.NewInt(liquidity)); err != nil {
			t.Fatalf("add liquidity: %v", err)
		}
	}
	return &harness{
		state:   manager,
		ledger:  ledger,
		pool:    pool,
		tracker: tracker,
		engine:  engine,
		emitter: emitter,
		admin:   admin,
	}
}

func (h *harness) fundedReceiver(t *testing.T, addr [20]byte, reserve int64) *FundedReceiver {
	t.Helper()
	if reserve > 0 {
		if err := h.ledger.Mint("TEST", addr, big.NewInt(reserve)); err != nil {
			t.Fatalf("fund receiver: %v", err)
		}
	}
	return NewFundedReceiver(addr, h.ledger, h.pool.Vault())
}

// requireUntouched asserts the ledger, pool counters, and badge state carry no
// trace of an aborted session.
func (h *harness) requireUntouched(t *testing.T, poolBalance, receiverBalance int64, receiver, initiator [20]byte) {
	t.Helper()
	liquidity, err := h.pool.AvailableLiquidity("TEST")
	if err != nil {
		t.Fatalf("liquidity: %v", err)
	}
	if liquidity.Cmp(big.NewInt(poolBalance)) != 0 {
		t.Fatalf("expected pool balance %d after abort, got %s", poolBalance, liquidity)
	}
	balance, err := h.ledger.BalanceOf("TEST", receiver)
	if err != nil {
		t.Fatalf("receiver balance: %v", err)
	}
	if balance.Cmp(big.NewInt(receiverBalance)) != 0 {
		t.Fatalf("expected receiver balance %d after abort, got %s", receiverBalance, balance)
	}
	record, err := h.pool.Pool("TEST")
	if err != nil {
		t.Fatalf("pool record: %v", err)
	}
	if record.TotalBorrowed.Sign() != 0 || record.TotalRepaid.Sign() != 0 {
		t.Fatalf("expected zero counters after abort, got borrowed=%s repaid=%s", record.TotalBorrowed, record.TotalRepaid)
	}
	badged, err := h.tracker.HasBadge(initiator)
	if err != nil {
		t.Fatalf("has badge: %v", err)
	}
	if badged {
		t.Fatalf("expected no badge after abort")
	}
	if h.emitter.successCount() != 0 {
		t.Fatalf("expected no success events after abort")
	}
}

func TestFlashLoanSettlesAndMintsBadge(t *testing.T) {
	h := newHarness(t, 100_000, 30)
	initiator := testAddress(0x11)
	receiverAddr := testAddress(0xBB)
	receiver := h.fundedReceiver(t, receiverAddr, 3)

	err := h.engine.FlashLoan(context.Background(), initiator, "TEST", big.NewInt(1_000), receiver, nil)
	if err != nil {
		t.Fatalf("flash loan: %v", err)
	}

	liquidity, _ := h.pool.AvailableLiquidity("TEST")
	if liquidity.Cmp(big.NewInt(100_003)) != 0 {
		t.Fatalf("expected pool balance 100003, got %s", liquidity)
	}
	receiverBalance, _ := h.ledger.BalanceOf("TEST", receiverAddr)
	if receiverBalance.Sign() != 0 {
		t.Fatalf("expected receiver reserve fully spent, got %s", receiverBalance)
	}
	record, _ := h.pool.Pool("TEST")
	if record.TotalBorrowed.Cmp(big.NewInt(1_000)) != 0 {
		t.Fatalf("expected total borrowed 1000, got %s", record.TotalBorrowed)
	}
	if record.TotalRepaid.Cmp(big.NewInt(1_003)) != 0 {
		t.Fatalf("expected total repaid 1003, got %s", record.TotalRepaid)
	}

	badge, err := h.tracker.BadgeOf(initiator)
	if err != nil {
		t.Fatalf("badge lookup: %v", err)
	}
	if badge.ID != 0 {
		t.Fatalf("expected first badge id 0, got %d", badge.ID)
	}
	if h.emitter.successCount() != 1 {
		t.Fatalf("expected one success event, got %d", h.emitter.successCount())
	}
}

func TestSecondLoanKeepsSingleBadge(t *testing.T) {
	h := newHarness(t, 100_000, 30)
	initiator := testAddress(0x11)
	receiver := h.fundedReceiver(t, testAddress(0xBB), 6)

	for i := 0; i < 2; i++ {
		if err := h.engine.FlashLoan(context.Background(), initiator, "TEST", big.NewInt(1_000), receiver, nil); err != nil {
			t.Fatalf("loan %d: %v", i, err)
		}
	}

	badge, err := h.tracker.BadgeOf(initiator)
	if err != nil {
		t.Fatalf("badge lookup: %v", err)
	}
	if badge.ID != 0 {
		t.Fatalf("expected the original badge to survive, got id %d", badge.ID)
	}
	if h.emitter.successCount() != 2 {
		t.Fatalf("expected two success events, got %d", h.emitter.successCount())
	}
}

func TestFlashLoanRejectsNonWhitelistedAsset(t *testing.T) {
	h := newHarness(t, 100_000, 30)
	receiver := h.fundedReceiver(t, testAddress(0xBB), 3)

	err := h.engine.FlashLoan(context.Background(), testAddress(0x11), "OTHER", big.NewInt(1_000), receiver, nil)
	if !errors.Is(err, flashpool.ErrNotWhitelisted) {
		t.Fatalf("expected ErrNotWhitelisted, got %v", err)
	}
}

func TestFlashLoanRejectsNonPositiveAmount(t *testing.T) {
	h := newHarness(t, 100_000, 30)
	receiver := h.fundedReceiver(t, testAddress(0xBB), 3)

	for _, amount := range []*big.Int{nil, big.NewInt(0), big.NewInt(-5)} {
		err := h.engine.FlashLoan(context.Background(), testAddress(0x11), "TEST", amount, receiver, nil)
		if !errors.Is(err, flashpool.ErrInvalidAmount) {
			t.Fatalf("amount %v: expected ErrInvalidAmount, got %v", amount, err)
		}
	}
}

type addressOnlyReceiver struct {
	addr [20]byte
}

func (r addressOnlyReceiver) Address() [20]byte { return r.addr }

func (r addressOnlyReceiver) OnFlashLoan(context.Context, string, *big.Int, *big.Int, []byte) (bool, error) {
	return true, nil
}

func TestFlashLoanRejectsInvalidReceiver(t *testing.T) {
	h := newHarness(t, 100_000, 30)

	err := h.engine.FlashLoan(context.Background(), testAddress(0x11), "TEST", big.NewInt(1_000), nil, nil)
	if !errors.Is(err, ErrInvalidReceiver) {
		t.Fatalf("expected ErrInvalidReceiver for nil receiver, got %v", err)
	}
	err = h.engine.FlashLoan(context.Background(), testAddress(0x11), "TEST", big.NewInt(1_000), addressOnlyReceiver{}, nil)
	if !errors.Is(err, ErrInvalidReceiver) {
		t.Fatalf("expected ErrInvalidReceiver for zero address, got %v", err)
	}
}

func TestFlashLoanRejectsOversizedRequest(t *testing.T) {
	h := newHarness(t, 1_000, 30)
	receiver := h.fundedReceiver(t, testAddress(0xBB), 3)

	err := h.engine.FlashLoan(context.Background(), testAddress(0x11), "TEST", big.NewInt(1_001), receiver, nil)
	if !errors.Is(err, flashpool.ErrInsufficientLiquidity) {
		t.Fatalf("expected ErrInsufficientLiquidity, got %v", err)
	}
}

// sinkReceiver moves the borrowed funds somewhere unrecoverable and then
// reports failure, exercising rollback of callback-side ledger effects.
type sinkReceiver struct {
	addr   [20]byte
	ledger *token.Ledger
}

func (r sinkReceiver) Address() [20]byte { return r.addr }

func (r sinkReceiver) OnFlashLoan(_ context.Context, asset string, amount, _ *big.Int, _ []byte) (bool, error) {
	if err := r.ledger.Transfer(asset, r.addr, testAddress(0xDD), amount); err != nil {
		return false, err
	}
	return false, errors.New("strategy exploded")
}

func TestCallbackErrorRollsBackLedgerEffects(t *testing.T) {
	h := newHarness(t, 100_000, 30)
	initiator := testAddress(0x11)
	receiverAddr := testAddress(0xBB)
	receiver := sinkReceiver{addr: receiverAddr, ledger: h.ledger}

	err := h.engine.FlashLoan(context.Background(), initiator, "TEST", big.NewInt(1_000), receiver, nil)
	if !errors.Is(err, ErrCallbackFailed) {
		t.Fatalf("expected ErrCallbackFailed, got %v", err)
	}
	h.requireUntouched(t, 100_000, 0, receiverAddr, initiator)

	sink, _ := h.ledger.BalanceOf("TEST", testAddress(0xDD))
	if sink.Sign() != 0 {
		t.Fatalf("expected sink transfer to be reverted, got %s", sink)
	}
}

type decliningReceiver struct {
	addr [20]byte
}

func (r decliningReceiver) Address() [20]byte { return r.addr }

func (r decliningReceiver) OnFlashLoan(context.Context, string, *big.Int, *big.Int, []byte) (bool, error) {
	return false, nil
}

func TestCallbackDeclineAborts(t *testing.T) {
	h := newHarness(t, 100_000, 30)
	initiator := testAddress(0x11)
	receiverAddr := testAddress(0xBB)

	err := h.engine.FlashLoan(context.Background(), initiator, "TEST", big.NewInt(1_000), decliningReceiver{addr: receiverAddr}, nil)
	if !errors.Is(err, ErrCallbackFailed) {
		t.Fatalf("expected ErrCallbackFailed, got %v", err)
	}
	h.requireUntouched(t, 100_000, 0, receiverAddr, initiator)
}

func TestMissingRepaymentAuthorizationAborts(t *testing.T) {
	h := newHarness(t, 100_000, 30)
	initiator := testAddress(0x11)
	receiverAddr := testAddress(0xBB)

	// The receiver keeps the funds and never authorises collection.
	err := h.engine.FlashLoan(context.Background(), initiator, "TEST", big.NewInt(1_000), addressOnlyReceiver{addr: receiverAddr}, nil)
	if !errors.Is(err, ErrRepaymentFailed) {
		t.Fatalf("expected ErrRepaymentFailed, got %v", err)
	}
	if !errors.Is(err, token.ErrInsufficientAllowance) {
		t.Fatalf("expected the allowance cause beneath ErrRepaymentFailed, got %v", err)
	}
	h.requireUntouched(t, 100_000, 0, receiverAddr, initiator)
}

type reentrantReceiver struct {
	addr   [20]byte
	engine *Engine
}

func (r reentrantReceiver) Address() [20]byte { return r.addr }

func (r reentrantReceiver) OnFlashLoan(ctx context.Context, asset string, amount, _ *big.Int, _ []byte) (bool, error) {
	err := r.engine.FlashLoan(ctx, r.addr, asset, amount, r, nil)
	if err != nil {
		return false, err
	}
	return true, nil
}

func TestReentrantCallbackAborts(t *testing.T) {
	h := newHarness(t, 100_000, 30)
	initiator := testAddress(0x11)
	receiverAddr := testAddress(0xBB)
	receiver := reentrantReceiver{addr: receiverAddr, engine: h.engine}

	err := h.engine.FlashLoan(context.Background(), initiator, "TEST", big.NewInt(1_000), receiver, nil)
	if !errors.Is(err, ErrReentrantCall) {
		t.Fatalf("expected ErrReentrantCall, got %v", err)
	}
	h.requireUntouched(t, 100_000, 0, receiverAddr, initiator)
}

type slowReceiver struct {
	addr [20]byte
}

func (r slowReceiver) Address() [20]byte { return r.addr }

func (r slowReceiver) OnFlashLoan(ctx context.Context, _ string, _, _ *big.Int, _ []byte) (bool, error) {
	<-ctx.Done()
	return false, ctx.Err()
}

func TestCallbackBudgetEnforced(t *testing.T) {
	h := newHarness(t, 100_000, 30)
	h.engine.SetCallbackBudget(20 * time.Millisecond)
	initiator := testAddress(0x11)
	receiverAddr := testAddress(0xBB)

	start := time.Now()
	err := h.engine.FlashLoan(context.Background(), initiator, "TEST", big.NewInt(1_000), slowReceiver{addr: receiverAddr}, nil)
	if !errors.Is(err, ErrCallbackFailed) {
		t.Fatalf("expected ErrCallbackFailed, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("budget not enforced, call took %s", elapsed)
	}
	h.requireUntouched(t, 100_000, 0, receiverAddr, initiator)
}

// crossfireReceiver kicks off a rival state transaction mid-session and then
// fails the loan. The rival write must wait for the session's transaction
// and land untouched by the rollback.
type crossfireReceiver struct {
	addr   [20]byte
	state  *state.Manager
	ledger *token.Ledger
	rival  chan error
}

func (r crossfireReceiver) Address() [20]byte { return r.addr }

func (r crossfireReceiver) OnFlashLoan(context.Context, string, *big.Int, *big.Int, []byte) (bool, error) {
	go func() {
		r.rival <- r.state.Update(func() error {
			return r.ledger.Mint("TEST", testAddress(0xDD), big.NewInt(500))
		})
	}()
	time.Sleep(50 * time.Millisecond)
	return false, errors.New("strategy exploded")
}

func TestRivalWriterDuringSessionDoesNotBreakRollback(t *testing.T) {
	h := newHarness(t, 100_000, 30)
	initiator := testAddress(0x11)
	receiverAddr := testAddress(0xBB)
	receiver := crossfireReceiver{
		addr:   receiverAddr,
		state:  h.state,
		ledger: h.ledger,
		rival:  make(chan error, 1),
	}

	err := h.state.Update(func() error {
		return h.engine.FlashLoan(context.Background(), initiator, "TEST", big.NewInt(1_000), receiver, nil)
	})
	if !errors.Is(err, ErrCallbackFailed) {
		t.Fatalf("expected ErrCallbackFailed, got %v", err)
	}
	if err := <-receiver.rival; err != nil {
		t.Fatalf("rival transaction: %v", err)
	}

	h.requireUntouched(t, 100_000, 0, receiverAddr, initiator)
	outsider, err := h.ledger.BalanceOf("TEST", testAddress(0xDD))
	if err != nil {
		t.Fatalf("outsider balance: %v", err)
	}
	if outsider.Cmp(big.NewInt(500)) != 0 {
		t.Fatalf("expected rival mint to survive the rollback, got %s", outsider)
	}
}

// drainingPool reports a post-settlement balance below the pre-loan balance
// plus fee, which a healthy pool cannot produce.
type drainingPool struct {
	calls int
}

func (p *drainingPool) IsWhitelisted(string) (bool, error) { return true, nil }

func (p *drainingPool) AvailableLiquidity(string) (*big.Int, error) {
	p.calls++
	if p.calls == 1 {
		return big.NewInt(10_000), nil
	}
	return big.NewInt(9_000), nil
}

func (p *drainingPool) CalculateFee(string, *big.Int) (*big.Int, error) {
	return big.NewInt(3), nil
}

func (p *drainingPool) Disburse(string, [20]byte, *big.Int) error         { return nil }
func (p *drainingPool) Collect(string, [20]byte, *big.Int) error          { return nil }
func (p *drainingPool) RecordSettlement(string, *big.Int, *big.Int) error { return nil }

func TestBalanceInvariantViolationAborts(t *testing.T) {
	tracker := achievements.NewTracker(ExecutorAddress())
	tracker.SetStore(state.NewManager(storage.NewMemDB()))

	engine := NewEngine(&drainingPool{}, tracker)
	engine.SetState(state.NewManager(storage.NewMemDB()))

	err := engine.FlashLoan(context.Background(), testAddress(0x11), "TEST", big.NewInt(1_000), addressOnlyReceiver{addr: testAddress(0xBB)}, nil)
	if !errors.Is(err, ErrBalanceInvariantViolated) {
		t.Fatalf("expected ErrBalanceInvariantViolated, got %v", err)
	}
}
