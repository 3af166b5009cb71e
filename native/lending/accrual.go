package lending

import "math/big"

// projectInterest computes the interest balance the loan would carry if it
// were settled at the provided timestamp. The loan is not mutated.
//
// Interest runs continuously from the later of the start time and the last
// settlement checkpoint; it does not stop at the due date.
func (e *Engine) projectInterest(loan *Loan, now int64) *big.Int {
	if loan == nil || !loan.Active {
		return big.NewInt(0)
	}
	accrued := cloneBigInt(loan.AccruedInterest)
	from := loan.LastInterestAccrual
	if loan.StartTime > from {
		from = loan.StartTime
	}
	elapsed := now - from
	if elapsed <= 0 {
		return accrued
	}
	delta := new(big.Int).Set(loan.Principal)
	delta.Mul(delta, new(big.Int).SetUint64(loan.RateBps))
	delta.Mul(delta, big.NewInt(elapsed))
	delta.Quo(delta, new(big.Int).Mul(basisPoints, big.NewInt(secondsPerYear)))
	return accrued.Add(accrued, delta)
}

// projectPenalty computes the overdue penalty balance the loan would carry if
// it were settled at the provided timestamp. The loan is not mutated.
//
// The penalty charges on principal only, per whole overdue day rounded up, and
// only once the fixed buffer past the due date has elapsed.
func (e *Engine) projectPenalty(loan *Loan, now int64) *big.Int {
	if loan == nil || !loan.Active {
		return big.NewInt(0)
	}
	accrued := cloneBigInt(loan.AccruedPenalty)
	if now <= loan.EndTime+penaltyDelay {
		return accrued
	}
	from := loan.LastPenaltyAccrual
	if loan.EndTime > from {
		from = loan.EndTime
	}
	overdueDays := ceilDaysBetween(from, now)
	if overdueDays == 0 {
		return accrued
	}
	delta := new(big.Int).Set(loan.Principal)
	delta.Mul(delta, new(big.Int).SetUint64(e.params.PenaltyRatioBps))
	delta.Mul(delta, big.NewInt(overdueDays))
	delta.Quo(delta, basisPoints)
	return accrued.Add(accrued, delta)
}

// settleAccrual folds both projections into the stored balances and advances
// the checkpoints to now. Every operation that reads or mutates principal or
// the accrued balances settles first so no branch ever observes a stale
// figure.
func (e *Engine) settleAccrual(loan *Loan, now int64) {
	if loan == nil || !loan.Active {
		return
	}
	loan.AccruedInterest = e.projectInterest(loan, now)
	loan.AccruedPenalty = e.projectPenalty(loan, now)
	loan.LastInterestAccrual = now
	loan.LastPenaltyAccrual = now
}
