package lending

import (
	"math/big"
	"testing"
)

// maxedLoan opens a loan at the full ceiling: 1000 stable of collateral at a
// 1:1 price and a 12500 bps liquidation ratio supports exactly 800 units of a
// 6-decimal debt asset, which sits right on the liquidation boundary.
func maxedLoan(t *testing.T, f *testFixture) *Loan {
	t.Helper()
	f.mintReceipt(1, f.borrower, stable(1000))
	return f.openLoan(t, 1, stable(800), 7*secondsPerDay)
}

func TestLiquidateRestoresTargetRatio(t *testing.T) {
	f := newTestFixture(t)
	maxedLoan(t, f)
	liquidator := makeAddress(0x55)

	repaid, reward, err := f.engine.Liquidate(liquidator, 1, nil)
	if err != nil {
		t.Fatalf("liquidate: %v", err)
	}

	// Closed form: (800*1.3 - 1000) / (1.3 - 1 - 0.03) = 148.148148 repaid,
	// rewarded 1.03x at par price = 152.592592 stable.
	if repaid.Cmp(big.NewInt(148_148_148)) != 0 {
		t.Fatalf("unexpected repay: got %s want 148148148", repaid)
	}
	if reward.Cmp(big.NewInt(152_592_592)) != 0 {
		t.Fatalf("unexpected reward: got %s want 152592592", reward)
	}

	loan, _ := f.state.GetLoan(1)
	if loan.Principal.Cmp(big.NewInt(651_851_852)) != 0 {
		t.Fatalf("unexpected principal: %s", loan.Principal)
	}
	if loan.RemainingCollateral.Cmp(big.NewInt(847_407_408)) != 0 {
		t.Fatalf("unexpected collateral: %s", loan.RemainingCollateral)
	}

	// Round trip: the post-state collateral ratio must land on the target
	// within integer truncation tolerance.
	ratioBps := new(big.Int).Mul(loan.RemainingCollateral, basisPoints)
	ratioBps.Quo(ratioBps, loan.Principal)
	if ratioBps.Int64() < 12_999 || ratioBps.Int64() > 13_000 {
		t.Fatalf("post-liquidation ratio off target: %s bps", ratioBps)
	}
}

func TestLiquidateMovesFundsAndNotifiesOwner(t *testing.T) {
	f := newTestFixture(t)
	maxedLoan(t, f)
	liquidator := makeAddress(0x55)

	repaid, reward, err := f.engine.Liquidate(liquidator, 1, nil)
	if err != nil {
		t.Fatalf("liquidate: %v", err)
	}

	if len(f.vault.payIns) != 1 {
		t.Fatalf("expected one vault pay-in, got %d", len(f.vault.payIns))
	}
	in := f.vault.payIns[0]
	if in.asset != f.debtAsset || in.counter != liquidator || in.amount.Cmp(repaid) != 0 {
		t.Fatalf("unexpected pay-in: %+v", in)
	}

	// Origination payout plus the stable-unit reward payout.
	if len(f.vault.payOuts) != 2 {
		t.Fatalf("expected two vault payouts, got %d", len(f.vault.payOuts))
	}
	out := f.vault.payOuts[1]
	if out.asset != f.stableAsset || out.counter != liquidator || out.amount.Cmp(reward) != 0 {
		t.Fatalf("unexpected reward payout: %+v", out)
	}

	if len(f.owner.reductions) != 1 {
		t.Fatalf("expected collateral owner notification, got %d", len(f.owner.reductions))
	}
	note := f.owner.reductions[0]
	loan, _ := f.state.GetLoan(1)
	if note.id != 1 || note.remaining.Cmp(loan.RemainingCollateral) != 0 {
		t.Fatalf("unexpected owner notification: %+v", note)
	}
}

func TestLiquidateRejectsHealthyPosition(t *testing.T) {
	f := newTestFixture(t)
	f.mintReceipt(1, f.borrower, stable(1000))
	f.openLoan(t, 1, stable(500), 7*secondsPerDay)

	if _, _, err := f.engine.Liquidate(makeAddress(0x55), 1, nil); err != errNotLiquidatable {
		t.Fatalf("expected not-liquidatable error, got %v", err)
	}
}

func TestLiquidateEligibilityIgnoresAccruedFees(t *testing.T) {
	f := newTestFixture(t)
	f.mintReceipt(1, f.borrower, stable(1000))
	f.openLoan(t, 1, stable(500), 7*secondsPerDay)

	// Years of accrued interest alone never make the position eligible; the
	// check compares the ceiling against principal only.
	f.advance(60 * secondsPerDay)
	if _, _, err := f.engine.Liquidate(makeAddress(0x55), 1, nil); err != errNotLiquidatable {
		t.Fatalf("expected principal-only eligibility to hold, got %v", err)
	}
}

func TestLiquidateHonorsCallerCap(t *testing.T) {
	f := newTestFixture(t)
	maxedLoan(t, f)

	cap := big.NewInt(100_000_000) // below the 148.1 unit requirement
	if _, _, err := f.engine.Liquidate(makeAddress(0x55), 1, cap); err != errRepayCapExceeded {
		t.Fatalf("expected repay cap error, got %v", err)
	}
	if len(f.vault.payIns) != 0 {
		t.Fatalf("expected no vault movement on a rejected liquidation")
	}
}

func TestLiquidateNeverOverdrawsCollateralOrPrincipal(t *testing.T) {
	f := newTestFixture(t)
	loan := maxedLoan(t, f)
	preCollateral := new(big.Int).Set(loan.RemainingCollateral)

	// Drive the price up so the position goes deeply underwater, then keep
	// liquidating until the engine refuses.
	newRate := new(big.Int).Mul(wad, big.NewInt(12))
	newRate.Quo(newRate, big.NewInt(10))
	f.oracle.set(f.debtAsset, newRate, f.now)

	for i := 0; i < 16; i++ {
		_, _, err := f.engine.Liquidate(makeAddress(0x55), 1, nil)
		if err != nil {
			break
		}
	}

	final, _ := f.state.GetLoan(1)
	if final.Principal.Sign() < 0 {
		t.Fatalf("principal went negative: %s", final.Principal)
	}
	if final.RemainingCollateral.Sign() < 0 {
		t.Fatalf("collateral went negative: %s", final.RemainingCollateral)
	}
	if final.RemainingCollateral.Cmp(preCollateral) > 0 {
		t.Fatalf("collateral grew during liquidation: %s -> %s", preCollateral, final.RemainingCollateral)
	}
}

func TestLiquidateRejectsInfeasibleParams(t *testing.T) {
	f := newTestFixture(t)
	maxedLoan(t, f)

	// Force an inconsistent parameter set directly; SetParams would reject
	// it, so the engine must still fail closed.
	f.engine.params.TargetRatioBps = 10_200
	f.engine.params.LiquidationBonusBps = 300

	if _, _, err := f.engine.Liquidate(makeAddress(0x55), 1, nil); err != errLiquidationInfeasible {
		t.Fatalf("expected infeasible params error, got %v", err)
	}
}

func TestLiquidateRequiresActiveLoan(t *testing.T) {
	f := newTestFixture(t)
	f.mintReceipt(1, f.borrower, stable(1000))
	if _, _, err := f.engine.Liquidate(makeAddress(0x55), 1, nil); err != errNoActiveLoan {
		t.Fatalf("expected no-loan error, got %v", err)
	}
}
