package vault

import (
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

var (
	errNilState          = errors.New("vault: state not configured")
	errNotAdmin          = errors.New("vault: caller is not the vault admin")
	errInvalidAmount     = errors.New("vault: amount must be positive")
	errInsufficientFunds = errors.New("vault: insufficient balance")
)

type ledgerState interface {
	GetBalance(asset, holder common.Address) (*big.Int, error)
	SetBalance(asset, holder common.Address, amount *big.Int) error
}

// Metrics receives the reserve balance after every settlement that touches it.
type Metrics interface {
	RecordReserve(asset string, balance *big.Int)
}

// Vault holds the protocol's pooled funds and settles transfers between the
// reserve and individual accounts. Balances are kept per asset in the asset's
// native decimals.
type Vault struct {
	state   ledgerState
	admin   common.Address
	reserve common.Address
	metrics Metrics
}

// NewVault constructs a vault whose pooled funds live at the reserve address.
func NewVault(admin, reserve common.Address) *Vault {
	return &Vault{admin: admin, reserve: reserve}
}

// SetState wires the vault to its persistence layer.
func (v *Vault) SetState(state ledgerState) { v.state = state }

// SetMetrics configures the instrumentation sink. Nil disables recording.
func (v *Vault) SetMetrics(metrics Metrics) { v.metrics = metrics }

func (v *Vault) recordReserve(asset common.Address) {
	if v == nil || v.metrics == nil {
		return
	}
	bal, err := v.balance(asset, v.reserve)
	if err != nil {
		return
	}
	v.metrics.RecordReserve(asset.Hex(), bal)
}

func (v *Vault) balance(asset, holder common.Address) (*big.Int, error) {
	bal, err := v.state.GetBalance(asset, holder)
	if err != nil {
		return nil, err
	}
	if bal == nil {
		return big.NewInt(0), nil
	}
	return new(big.Int).Set(bal), nil
}

func (v *Vault) move(asset, from, to common.Address, amount *big.Int) error {
	if v == nil || v.state == nil {
		return errNilState
	}
	if amount == nil || amount.Sign() <= 0 {
		return errInvalidAmount
	}
	fromBal, err := v.balance(asset, from)
	if err != nil {
		return err
	}
	if fromBal.Cmp(amount) < 0 {
		return errInsufficientFunds
	}
	toBal, err := v.balance(asset, to)
	if err != nil {
		return err
	}
	if err := v.state.SetBalance(asset, from, new(big.Int).Sub(fromBal, amount)); err != nil {
		return err
	}
	if err := v.state.SetBalance(asset, to, new(big.Int).Add(toBal, amount)); err != nil {
		return err
	}
	v.recordReserve(asset)
	return nil
}

// PayOut transfers funds from the reserve to the recipient.
func (v *Vault) PayOut(asset, to common.Address, amount *big.Int) error {
	return v.move(asset, v.reserve, to, amount)
}

// PayIn transfers funds from the payer into the reserve.
func (v *Vault) PayIn(asset, from common.Address, amount *big.Int) error {
	return v.move(asset, from, v.reserve, amount)
}

// Fund credits the holder's balance directly. Admin only; used to seed the
// reserve and test accounts.
func (v *Vault) Fund(caller, asset, holder common.Address, amount *big.Int) error {
	if v == nil || v.state == nil {
		return errNilState
	}
	if caller != v.admin {
		return errNotAdmin
	}
	if amount == nil || amount.Sign() <= 0 {
		return errInvalidAmount
	}
	bal, err := v.balance(asset, holder)
	if err != nil {
		return err
	}
	if err := v.state.SetBalance(asset, holder, new(big.Int).Add(bal, amount)); err != nil {
		return err
	}
	if holder == v.reserve {
		v.recordReserve(asset)
	}
	return nil
}

// Balance returns the holder's balance in the asset.
func (v *Vault) Balance(asset, holder common.Address) (*big.Int, error) {
	if v == nil || v.state == nil {
		return nil, errNilState
	}
	return v.balance(asset, holder)
}

// ReserveBalance returns the pooled reserve balance in the asset.
func (v *Vault) ReserveBalance(asset common.Address) (*big.Int, error) {
	return v.Balance(asset, v.reserve)
}
