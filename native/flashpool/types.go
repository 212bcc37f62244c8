package flashpool

import "math/big"

// Pool captures the per-asset accounting state for the flash-loan pool.
// Amount values are expressed as big integers to match on-chain precision.
type Pool struct {
	// Asset is the canonical symbol this record accounts for.
	Asset string
	// Balance is the liquidity currently held by the pool vault.
	Balance *big.Int
	// Whitelisted gates eligibility for liquidity and borrow operations.
	Whitelisted bool
	// TotalBorrowed accumulates the principal disbursed across settled
	// sessions.
	TotalBorrowed *big.Int
	// TotalRepaid accumulates principal plus fees collected across settled
	// sessions. It never falls below TotalBorrowed.
	TotalRepaid *big.Int
}

// Clone returns a deep copy of the pool record so callers can safely mutate
// the copy without affecting the stored instance.
func (p *Pool) Clone() *Pool {
	if p == nil {
		return nil
	}
	clone := *p
	if p.Balance != nil {
		clone.Balance = new(big.Int).Set(p.Balance)
	}
	if p.TotalBorrowed != nil {
		clone.TotalBorrowed = new(big.Int).Set(p.TotalBorrowed)
	}
	if p.TotalRepaid != nil {
		clone.TotalRepaid = new(big.Int).Set(p.TotalRepaid)
	}
	return &clone
}

// FeeConfig holds the global flash-loan fee expressed in basis points.
type FeeConfig struct {
	BasisPoints uint32
}

type storedPool struct {
	Asset         string
	Balance       string
	Whitelisted   bool
	TotalBorrowed string
	TotalRepaid   string
}

type storedFeeConfig struct {
	BasisPoints uint32
}
