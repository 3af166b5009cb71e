package lending

import (
	"errors"
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/common"
)

var (
	errRatioBelowPar       = errors.New("lending params: collateral ratios must be at least 10000 bps")
	errRatioOrdering       = errors.New("lending params: liquidation ratio must be below target ratio")
	errBonusTooLarge       = errors.New("lending params: target ratio leaves no room for the liquidation bonus")
	errEmptyRateTable      = errors.New("lending params: at least one duration rate is required")
	errZeroDurationRate    = errors.New("lending params: rate table durations must be positive")
	errNegativeGracePeriod = errors.New("lending params: grace period cannot be negative")
)

// Params groups the governance controlled knobs consumed by the lending
// engine. Ratios and rates are expressed in basis points for deterministic
// accounting.
type Params struct {
	// LiquidationRatioBps is the minimum safe collateral ratio; borrow
	// ceilings are quoted against it and positions below it become eligible
	// for liquidation.
	LiquidationRatioBps uint64
	// TargetRatioBps is the collateral ratio a liquidation restores.
	TargetRatioBps uint64
	// LiquidationBonusBps is the liquidator's reward on top of the repaid
	// amount, paid out of seized collateral.
	LiquidationBonusBps uint64
	// PenaltyRatioBps is charged on principal per whole overdue day once the
	// penalty buffer has elapsed.
	PenaltyRatioBps uint64
	// GracePeriod is the window after the due date during which repayment is
	// still accepted. Beyond it only seizure remains.
	GracePeriod int64
	// DurationRates maps a requested loan duration in seconds to the
	// annualized interest rate in basis points. The rate is fixed at
	// origination by the requested duration.
	DurationRates map[int64]uint64
	// AllowedAssets is the set of debt assets the module will lend.
	AllowedAssets map[common.Address]bool
}

// Validate checks the internal consistency of the parameter set.
func (p Params) Validate() error {
	if p.LiquidationRatioBps < 10_000 || p.TargetRatioBps < 10_000 {
		return errRatioBelowPar
	}
	if p.LiquidationRatioBps >= p.TargetRatioBps {
		return errRatioOrdering
	}
	// The liquidation formula divides by t - 1 - b; the target must exceed
	// par plus the bonus or the sizing is infeasible.
	if p.TargetRatioBps <= 10_000+p.LiquidationBonusBps {
		return errBonusTooLarge
	}
	if len(p.DurationRates) == 0 {
		return errEmptyRateTable
	}
	for duration := range p.DurationRates {
		if duration <= 0 {
			return errZeroDurationRate
		}
	}
	if p.GracePeriod < 0 {
		return errNegativeGracePeriod
	}
	return nil
}

// Clone returns a deep copy of the parameter set.
func (p Params) Clone() Params {
	clone := p
	if p.DurationRates != nil {
		clone.DurationRates = make(map[int64]uint64, len(p.DurationRates))
		for k, v := range p.DurationRates {
			clone.DurationRates[k] = v
		}
	}
	if p.AllowedAssets != nil {
		clone.AllowedAssets = make(map[common.Address]bool, len(p.AllowedAssets))
		for k, v := range p.AllowedAssets {
			clone.AllowedAssets[k] = v
		}
	}
	return clone
}

// RateFor resolves the annualized rate for a requested duration. The lookup is
// exact: durations absent from the table are not interpolated.
func (p Params) RateFor(duration int64) (uint64, error) {
	rate, ok := p.DurationRates[duration]
	if !ok {
		return 0, fmt.Errorf("lending params: no rate configured for duration %d", duration)
	}
	return rate, nil
}

// AssetAllowed reports whether the debt asset is in the allowlist.
func (p Params) AssetAllowed(asset common.Address) bool {
	return p.AllowedAssets[asset]
}

// Durations returns the configured loan durations in ascending order.
func (p Params) Durations() []int64 {
	out := make([]int64, 0, len(p.DurationRates))
	for duration := range p.DurationRates {
		out = append(out, duration)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// DefaultParams provides a conservative starting configuration: borrow up to
// 80% of collateral value, liquidate back to 130% with a 3% bonus.
func DefaultParams() Params {
	return Params{
		LiquidationRatioBps: 12_500,
		TargetRatioBps:      13_000,
		LiquidationBonusBps: 300,
		PenaltyRatioBps:     30,
		GracePeriod:         7 * secondsPerDay,
		DurationRates: map[int64]uint64{
			7 * secondsPerDay:  30,
			14 * secondsPerDay: 60,
			30 * secondsPerDay: 120,
			90 * secondsPerDay: 350,
		},
		AllowedAssets: map[common.Address]bool{},
	}
}
