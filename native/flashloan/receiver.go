package flashloan

import (
	"context"
	"math/big"
)

// TokenApprover is the slice of ledger functionality a receiver needs to
// authorise repayment collection.
type TokenApprover interface {
	Approve(asset string, owner, spender [20]byte, amount *big.Int) error
}

// FundedReceiver is a cooperative strategy: it repays the principal out of
// the borrowed funds and the fee out of its own pre-funded reserve. The
// daemon uses it to serve loan requests arriving over RPC; adversarial
// strategies live in the test suite.
type FundedReceiver struct {
	addr    [20]byte
	tokens  TokenApprover
	spender [20]byte
}

// NewFundedReceiver constructs a receiver that authorises the supplied
// spender (normally the pool vault) to pull repayment from addr.
func NewFundedReceiver(addr [20]byte, tokens TokenApprover, spender [20]byte) *FundedReceiver {
	return &FundedReceiver{addr: addr, tokens: tokens, spender: spender}
}

// Address implements the Receiver interface.
func (r *FundedReceiver) Address() [20]byte { return r.addr }

// OnFlashLoan approves principal plus fee for collection. The approval
// succeeds regardless of reserves; collection fails later if the receiver
// cannot actually cover the fee.
func (r *FundedReceiver) OnFlashLoan(_ context.Context, asset string, amount, fee *big.Int, _ []byte) (bool, error) {
	repayment := new(big.Int).Add(amount, fee)
	if err := r.tokens.Approve(asset, r.addr, r.spender, repayment); err != nil {
		return false, err
	}
	return true, nil
}
