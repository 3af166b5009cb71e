package receipt

import (
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

var (
	errNilState        = errors.New("receipt registry: state not configured")
	errNotAdmin        = errors.New("receipt registry: caller is not the registry admin")
	errReceiptExists   = errors.New("receipt registry: receipt already minted")
	errReceiptNotFound = errors.New("receipt registry: receipt not found")
	errNotOwner        = errors.New("receipt registry: caller does not own the receipt")
	errInCustody       = errors.New("receipt registry: receipt already in custody")
	errInvalidAmount   = errors.New("receipt registry: locked amount must be positive")
)

// Receipt is the non-fungible record of a locked yield-bearing position. The
// locked amount is denominated in the protocol's 6-decimal stable unit.
type Receipt struct {
	ID           uint64
	Owner        common.Address
	Active       bool
	InCustody    bool
	LockedAmount *big.Int
}

// Clone returns a deep copy of the receipt record.
func (r *Receipt) Clone() *Receipt {
	if r == nil {
		return nil
	}
	clone := *r
	if r.LockedAmount != nil {
		clone.LockedAmount = new(big.Int).Set(r.LockedAmount)
	} else {
		clone.LockedAmount = big.NewInt(0)
	}
	return &clone
}

type registryState interface {
	GetReceipt(id uint64) (*Receipt, error)
	PutReceipt(*Receipt) error
}

// Registry tracks receipt ownership, the locked stable amount behind each
// receipt, and whether the receipt sits in lending custody.
type Registry struct {
	state registryState
	admin common.Address
}

// NewRegistry constructs a registry administered by the provided address.
func NewRegistry(admin common.Address) *Registry {
	return &Registry{admin: admin}
}

// SetState wires the registry to its persistence layer.
func (r *Registry) SetState(state registryState) { r.state = state }

func (r *Registry) load(id uint64) (*Receipt, error) {
	if r == nil || r.state == nil {
		return nil, errNilState
	}
	rec, err := r.state.GetReceipt(id)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, errReceiptNotFound
	}
	rec = rec.Clone()
	if rec.LockedAmount == nil {
		rec.LockedAmount = big.NewInt(0)
	}
	return rec, nil
}

// Mint records a new receipt for a locked position. Admin only.
func (r *Registry) Mint(caller common.Address, id uint64, owner common.Address, locked *big.Int) error {
	if r == nil || r.state == nil {
		return errNilState
	}
	if caller != r.admin {
		return errNotAdmin
	}
	if locked == nil || locked.Sign() <= 0 {
		return errInvalidAmount
	}
	existing, err := r.state.GetReceipt(id)
	if err != nil {
		return err
	}
	if existing != nil {
		return errReceiptExists
	}
	return r.state.PutReceipt(&Receipt{
		ID:           id,
		Owner:        owner,
		Active:       true,
		LockedAmount: new(big.Int).Set(locked),
	})
}

// OwnerOf returns the current holder of the receipt.
func (r *Registry) OwnerOf(id uint64) (common.Address, error) {
	rec, err := r.load(id)
	if err != nil {
		return common.Address{}, err
	}
	return rec.Owner, nil
}

// IsActive reports whether the underlying position is still live.
func (r *Registry) IsActive(id uint64) (bool, error) {
	rec, err := r.load(id)
	if err != nil {
		return false, err
	}
	return rec.Active, nil
}

// LockedAmount returns the stable-unit amount backing the receipt.
func (r *Registry) LockedAmount(id uint64) (*big.Int, error) {
	rec, err := r.load(id)
	if err != nil {
		return nil, err
	}
	return new(big.Int).Set(rec.LockedAmount), nil
}

// TransferToCustody locks the receipt against any other use while a loan is
// open. The transfer must originate from the current owner.
func (r *Registry) TransferToCustody(id uint64, from common.Address) error {
	rec, err := r.load(id)
	if err != nil {
		return err
	}
	if rec.Owner != from {
		return errNotOwner
	}
	if rec.InCustody {
		return errInCustody
	}
	rec.InCustody = true
	return r.state.PutReceipt(rec)
}

// ReleaseTo hands the receipt out of custody to the given address. Used both
// for returning collateral to the borrower and for administrative seizure.
func (r *Registry) ReleaseTo(id uint64, to common.Address) error {
	rec, err := r.load(id)
	if err != nil {
		return err
	}
	rec.InCustody = false
	rec.Owner = to
	return r.state.PutReceipt(rec)
}

// SetLockedAmount rewrites the stable amount backing the receipt. Called by
// the collateral-accounting owner after a liquidation shrinks the position.
func (r *Registry) SetLockedAmount(id uint64, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return errInvalidAmount
	}
	rec, err := r.load(id)
	if err != nil {
		return err
	}
	rec.LockedAmount = new(big.Int).Set(amount)
	return r.state.PutReceipt(rec)
}

// Deactivate marks the underlying position closed. Admin only.
func (r *Registry) Deactivate(caller common.Address, id uint64) error {
	if caller != r.admin {
		return errNotAdmin
	}
	rec, err := r.load(id)
	if err != nil {
		return err
	}
	rec.Active = false
	return r.state.PutReceipt(rec)
}

// Get returns a copy of the full receipt record.
func (r *Registry) Get(id uint64) (*Receipt, error) {
	return r.load(id)
}

// CollateralSync feeds liquidation-driven collateral reductions back into the
// registry so the position's own accounting stays consistent. It stands in
// for the farm-like controller that owns collateral bookkeeping.
type CollateralSync struct {
	registry *Registry
}

// NewCollateralSync wires a sync callback around the registry.
func NewCollateralSync(registry *Registry) *CollateralSync {
	return &CollateralSync{registry: registry}
}

// OnCollateralReduced records the post-liquidation locked amount.
func (s *CollateralSync) OnCollateralReduced(id uint64, remaining *big.Int) error {
	if s == nil || s.registry == nil {
		return errNilState
	}
	return s.registry.SetLockedAmount(id, remaining)
}
