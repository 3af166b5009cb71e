package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"phoenixchain/native/lending"
	"phoenixchain/native/receipt"
	"phoenixchain/storage"
)

const (
	loanKeyPrefix    = "lending/loan/"
	receiptKeyPrefix = "receipt/"
	balanceKeyPrefix = "vault/balance/"
)

var errNilDatabase = errors.New("state: database not configured")

// LoanStore persists lending loans keyed by collateral receipt id.
type LoanStore struct {
	db storage.Database
}

// NewLoanStore wraps the database in a loan store.
func NewLoanStore(db storage.Database) *LoanStore {
	return &LoanStore{db: db}
}

func loanKey(collateralID uint64) []byte {
	return []byte(fmt.Sprintf("%s%d", loanKeyPrefix, collateralID))
}

// GetLoan loads the loan for the receipt, returning nil when none exists.
func (s *LoanStore) GetLoan(collateralID uint64) (*lending.Loan, error) {
	if s == nil || s.db == nil {
		return nil, errNilDatabase
	}
	raw, err := s.db.Get(loanKey(collateralID))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var loan lending.Loan
	if err := json.Unmarshal(raw, &loan); err != nil {
		return nil, fmt.Errorf("state: decode loan %d: %w", collateralID, err)
	}
	return &loan, nil
}

// PutLoan writes the loan record.
func (s *LoanStore) PutLoan(loan *lending.Loan) error {
	if s == nil || s.db == nil {
		return errNilDatabase
	}
	if loan == nil {
		return errors.New("state: nil loan")
	}
	raw, err := json.Marshal(loan)
	if err != nil {
		return fmt.Errorf("state: encode loan %d: %w", loan.CollateralID, err)
	}
	return s.db.Put(loanKey(loan.CollateralID), raw)
}

// ReceiptStore persists collateral receipts keyed by id.
type ReceiptStore struct {
	db storage.Database
}

// NewReceiptStore wraps the database in a receipt store.
func NewReceiptStore(db storage.Database) *ReceiptStore {
	return &ReceiptStore{db: db}
}

func receiptKey(id uint64) []byte {
	return []byte(fmt.Sprintf("%s%d", receiptKeyPrefix, id))
}

// GetReceipt loads the receipt, returning nil when none exists.
func (s *ReceiptStore) GetReceipt(id uint64) (*receipt.Receipt, error) {
	if s == nil || s.db == nil {
		return nil, errNilDatabase
	}
	raw, err := s.db.Get(receiptKey(id))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var rec receipt.Receipt
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("state: decode receipt %d: %w", id, err)
	}
	return &rec, nil
}

// PutReceipt writes the receipt record.
func (s *ReceiptStore) PutReceipt(rec *receipt.Receipt) error {
	if s == nil || s.db == nil {
		return errNilDatabase
	}
	if rec == nil {
		return errors.New("state: nil receipt")
	}
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("state: encode receipt %d: %w", rec.ID, err)
	}
	return s.db.Put(receiptKey(rec.ID), raw)
}

// BalanceStore persists vault balances keyed by asset and holder.
type BalanceStore struct {
	db storage.Database
}

// NewBalanceStore wraps the database in a balance store.
func NewBalanceStore(db storage.Database) *BalanceStore {
	return &BalanceStore{db: db}
}

func balanceKey(asset, holder common.Address) []byte {
	return []byte(balanceKeyPrefix + asset.Hex() + "/" + holder.Hex())
}

// GetBalance loads the holder's balance, returning nil when never written.
func (s *BalanceStore) GetBalance(asset, holder common.Address) (*big.Int, error) {
	if s == nil || s.db == nil {
		return nil, errNilDatabase
	}
	raw, err := s.db.Get(balanceKey(asset, holder))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	bal, ok := new(big.Int).SetString(string(raw), 10)
	if !ok {
		return nil, fmt.Errorf("state: decode balance for %s/%s", asset.Hex(), holder.Hex())
	}
	return bal, nil
}

// SetBalance writes the holder's balance.
func (s *BalanceStore) SetBalance(asset, holder common.Address, amount *big.Int) error {
	if s == nil || s.db == nil {
		return errNilDatabase
	}
	if amount == nil {
		return errors.New("state: nil balance")
	}
	if amount.Sign() < 0 {
		return errors.New("state: negative balance")
	}
	return s.db.Put(balanceKey(asset, holder), []byte(amount.String()))
}
