package lending

import (
	"math/big"
	"sort"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"phoenixchain/core/types"
)

const (
	EventTypeLoanBorrowed   = "lending.borrowed"
	EventTypeLoanRepaid     = "lending.repaid"
	EventTypeLoanLiquidated = "lending.liquidated"
	EventTypeLoanSeized     = "lending.seized"
	EventTypeParamsUpdated  = "lending.params_updated"
)

type lendingEvent struct {
	evt *types.Event
}

func (e lendingEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e lendingEvent) Event() *types.Event { return e.evt }

// NewBorrowedEvent returns the canonical payload for a loan origination.
func NewBorrowedEvent(loan *Loan) *types.Event {
	attrs := loanAttributes(loan)
	return &types.Event{Type: EventTypeLoanBorrowed, Attributes: attrs}
}

// NewRepaidEvent returns the payload emitted after a repayment is applied.
func NewRepaidEvent(loan *Loan, payer common.Address, applied *big.Int) *types.Event {
	attrs := loanAttributes(loan)
	attrs["payer"] = strings.ToLower(payer.Hex())
	attrs["applied"] = bigString(applied)
	return &types.Event{Type: EventTypeLoanRepaid, Attributes: attrs}
}

// NewLiquidatedEvent returns the payload emitted after a liquidation call.
func NewLiquidatedEvent(loan *Loan, liquidator common.Address, repaid, reward *big.Int) *types.Event {
	attrs := loanAttributes(loan)
	attrs["liquidator"] = strings.ToLower(liquidator.Hex())
	attrs["repaid"] = bigString(repaid)
	attrs["reward"] = bigString(reward)
	return &types.Event{Type: EventTypeLoanLiquidated, Attributes: attrs}
}

// NewSeizedEvent returns the payload emitted after an administrative seizure.
func NewSeizedEvent(loan *Loan, recipient common.Address) *types.Event {
	attrs := loanAttributes(loan)
	attrs["recipient"] = strings.ToLower(recipient.Hex())
	return &types.Event{Type: EventTypeLoanSeized, Attributes: attrs}
}

// NewParamsUpdatedEvent returns the payload emitted when the risk parameter
// set changes.
func NewParamsUpdatedEvent(params Params) *types.Event {
	attrs := map[string]string{
		"liquidationRatioBps": strconv.FormatUint(params.LiquidationRatioBps, 10),
		"targetRatioBps":      strconv.FormatUint(params.TargetRatioBps, 10),
		"liquidationBonusBps": strconv.FormatUint(params.LiquidationBonusBps, 10),
		"penaltyRatioBps":     strconv.FormatUint(params.PenaltyRatioBps, 10),
		"gracePeriod":         strconv.FormatInt(params.GracePeriod, 10),
		"allowedAssets":       allowedAssetList(params.AllowedAssets),
	}
	return &types.Event{Type: EventTypeParamsUpdated, Attributes: attrs}
}

// allowedAssetList renders the allowlist deterministically so consumers can
// diff consecutive params_updated events.
func allowedAssetList(allowed map[common.Address]bool) string {
	entries := make([]string, 0, len(allowed))
	for asset, ok := range allowed {
		if !ok {
			continue
		}
		entries = append(entries, strings.ToLower(asset.Hex()))
	}
	sort.Strings(entries)
	return strings.Join(entries, ",")
}

func loanAttributes(loan *Loan) map[string]string {
	attrs := make(map[string]string)
	if loan == nil {
		return attrs
	}
	attrs["collateralId"] = strconv.FormatUint(loan.CollateralID, 10)
	attrs["borrower"] = strings.ToLower(loan.Borrower.Hex())
	attrs["debtAsset"] = strings.ToLower(loan.DebtAsset.Hex())
	attrs["principal"] = bigString(loan.Principal)
	attrs["remainingCollateral"] = bigString(loan.RemainingCollateral)
	attrs["active"] = strconv.FormatBool(loan.Active)
	attrs["endTime"] = strconv.FormatInt(loan.EndTime, 10)
	return attrs
}

func bigString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
