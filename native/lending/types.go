package lending

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Loan captures the outstanding borrow position backed by a single collateral
// receipt. Amount fields are big integers in the unit noted per field to match
// on-chain precision. At most one active loan exists per collateral id.
type Loan struct {
	// CollateralID is the receipt identifier the loan is keyed by.
	CollateralID uint64
	// Active reports whether a borrow is outstanding. When false the numeric
	// fields are stale and must be ignored; a new borrow rewrites the record
	// from scratch.
	Active bool
	// Borrower is the receipt owner at origination. Liquidation does not
	// transfer this.
	Borrower common.Address
	// DebtAsset is the borrowed token, fixed for the life of the loan.
	DebtAsset common.Address
	// Principal is the outstanding borrowed amount in the debt asset's native
	// units. It only increases at origination.
	Principal *big.Int
	// RemainingCollateral is the stable unit amount (6 decimals) still backing
	// the loan. It shrinks on liquidation and is otherwise fixed.
	RemainingCollateral *big.Int
	// StartTime and EndTime bound the requested borrow window; EndTime is
	// StartTime plus the requested duration.
	StartTime int64
	EndTime   int64
	// Duration is the requested borrow duration in seconds.
	Duration int64
	// RateBps is the annualized interest rate selected by Duration at
	// origination. Stored on the loan so later rate-table edits never re-key
	// an open position.
	RateBps uint64
	// LastInterestAccrual is the checkpoint up to which interest has been
	// folded into AccruedInterest (debt asset native units).
	LastInterestAccrual int64
	AccruedInterest     *big.Int
	// LastPenaltyAccrual is the checkpoint up to which the overdue penalty
	// has been folded into AccruedPenalty (debt asset native units).
	LastPenaltyAccrual int64
	AccruedPenalty     *big.Int
}

// Clone returns a deep copy of the loan record.
func (l *Loan) Clone() *Loan {
	if l == nil {
		return nil
	}
	clone := *l
	clone.Principal = cloneBigInt(l.Principal)
	clone.RemainingCollateral = cloneBigInt(l.RemainingCollateral)
	clone.AccruedInterest = cloneBigInt(l.AccruedInterest)
	clone.AccruedPenalty = cloneBigInt(l.AccruedPenalty)
	return &clone
}

// TotalDebt returns principal plus both accrued balances. The caller is
// responsible for settling accrual first when a current figure is required.
func (l *Loan) TotalDebt() *big.Int {
	if l == nil {
		return big.NewInt(0)
	}
	total := cloneBigInt(l.Principal)
	total.Add(total, cloneBigInt(l.AccruedInterest))
	total.Add(total, cloneBigInt(l.AccruedPenalty))
	return total
}

func (l *Loan) ensureDefaults() {
	if l.Principal == nil {
		l.Principal = big.NewInt(0)
	}
	if l.RemainingCollateral == nil {
		l.RemainingCollateral = big.NewInt(0)
	}
	if l.AccruedInterest == nil {
		l.AccruedInterest = big.NewInt(0)
	}
	if l.AccruedPenalty == nil {
		l.AccruedPenalty = big.NewInt(0)
	}
}
