package lending

import (
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"phoenixchain/core/events"
)

type mockLoanState struct {
	loans map[uint64]*Loan
}

func newMockLoanState() *mockLoanState {
	return &mockLoanState{loans: make(map[uint64]*Loan)}
}

func (m *mockLoanState) GetLoan(id uint64) (*Loan, error) {
	if loan, ok := m.loans[id]; ok {
		return loan, nil
	}
	return nil, nil
}

func (m *mockLoanState) PutLoan(loan *Loan) error {
	if loan == nil {
		return nil
	}
	m.loans[loan.CollateralID] = loan
	return nil
}

type mockReceipt struct {
	owner     common.Address
	active    bool
	locked    *big.Int
	custodial bool
}

type mockRegistry struct {
	receipts map[uint64]*mockReceipt
	released map[uint64]common.Address
}

func newMockRegistry() *mockRegistry {
	return &mockRegistry{
		receipts: make(map[uint64]*mockReceipt),
		released: make(map[uint64]common.Address),
	}
}

var errReceiptMissing = errors.New("mock registry: receipt not found")

func (m *mockRegistry) receipt(id uint64) (*mockReceipt, error) {
	if r, ok := m.receipts[id]; ok {
		return r, nil
	}
	return nil, errReceiptMissing
}

func (m *mockRegistry) OwnerOf(id uint64) (common.Address, error) {
	r, err := m.receipt(id)
	if err != nil {
		return common.Address{}, err
	}
	return r.owner, nil
}

func (m *mockRegistry) IsActive(id uint64) (bool, error) {
	r, err := m.receipt(id)
	if err != nil {
		return false, err
	}
	return r.active, nil
}

func (m *mockRegistry) LockedAmount(id uint64) (*big.Int, error) {
	r, err := m.receipt(id)
	if err != nil {
		return nil, err
	}
	return new(big.Int).Set(r.locked), nil
}

func (m *mockRegistry) TransferToCustody(id uint64, from common.Address) error {
	r, err := m.receipt(id)
	if err != nil {
		return err
	}
	if r.owner != from {
		return errors.New("mock registry: custody transfer from non-owner")
	}
	r.custodial = true
	return nil
}

func (m *mockRegistry) ReleaseTo(id uint64, to common.Address) error {
	r, err := m.receipt(id)
	if err != nil {
		return err
	}
	r.custodial = false
	r.owner = to
	m.released[id] = to
	return nil
}

type vaultTransfer struct {
	asset   common.Address
	counter common.Address
	amount  *big.Int
}

type mockVault struct {
	payOuts []vaultTransfer
	payIns  []vaultTransfer
	failOut error
	failIn  error
}

func (m *mockVault) PayOut(asset, to common.Address, amount *big.Int) error {
	if m.failOut != nil {
		return m.failOut
	}
	m.payOuts = append(m.payOuts, vaultTransfer{asset: asset, counter: to, amount: new(big.Int).Set(amount)})
	return nil
}

func (m *mockVault) PayIn(asset, from common.Address, amount *big.Int) error {
	if m.failIn != nil {
		return m.failIn
	}
	m.payIns = append(m.payIns, vaultTransfer{asset: asset, counter: from, amount: new(big.Int).Set(amount)})
	return nil
}

type oracleQuote struct {
	rate      *big.Int
	timestamp int64
}

type mockOracle struct {
	quotes map[common.Address]oracleQuote
}

func newMockOracle() *mockOracle {
	return &mockOracle{quotes: make(map[common.Address]oracleQuote)}
}

func (m *mockOracle) set(asset common.Address, rate *big.Int, ts int64) {
	m.quotes[asset] = oracleQuote{rate: rate, timestamp: ts}
}

func (m *mockOracle) Price(asset common.Address) (*big.Int, int64, error) {
	q, ok := m.quotes[asset]
	if !ok {
		return nil, 0, errors.New("mock oracle: no quote")
	}
	return q.rate, q.timestamp, nil
}

type mockTokenBook struct {
	decimals map[common.Address]uint8
}

func newMockTokenBook() *mockTokenBook {
	return &mockTokenBook{decimals: make(map[common.Address]uint8)}
}

func (m *mockTokenBook) Decimals(asset common.Address) (uint8, error) {
	d, ok := m.decimals[asset]
	if !ok {
		return 0, errors.New("mock token book: unknown asset")
	}
	return d, nil
}

type collateralReduction struct {
	id        uint64
	remaining *big.Int
}

type mockCollateralOwner struct {
	reductions []collateralReduction
}

func (m *mockCollateralOwner) OnCollateralReduced(id uint64, remaining *big.Int) error {
	m.reductions = append(m.reductions, collateralReduction{id: id, remaining: new(big.Int).Set(remaining)})
	return nil
}

type captureEmitter struct {
	events []events.Event
}

func (c *captureEmitter) Emit(evt events.Event) {
	c.events = append(c.events, evt)
}

func makeAddress(suffix byte) common.Address {
	var addr common.Address
	addr[len(addr)-1] = suffix
	return addr
}

type testFixture struct {
	engine   *Engine
	state    *mockLoanState
	registry *mockRegistry
	vault    *mockVault
	oracle   *mockOracle
	tokens   *mockTokenBook
	owner    *mockCollateralOwner
	emitter  *captureEmitter
	now      int64

	stableAsset common.Address
	debtAsset   common.Address
	borrower    common.Address
}

func newTestFixture(t *testing.T) *testFixture {
	t.Helper()
	f := &testFixture{
		state:       newMockLoanState(),
		registry:    newMockRegistry(),
		vault:       &mockVault{},
		oracle:      newMockOracle(),
		tokens:      newMockTokenBook(),
		owner:       &mockCollateralOwner{},
		emitter:     &captureEmitter{},
		now:         1_700_000_000,
		stableAsset: makeAddress(0xF0),
		debtAsset:   makeAddress(0xD0),
		borrower:    makeAddress(0x01),
	}

	params := DefaultParams()
	params.AllowedAssets[f.debtAsset] = true

	engine := NewEngine(f.stableAsset, params)
	engine.SetState(f.state)
	engine.SetRegistry(f.registry)
	engine.SetVault(f.vault)
	engine.SetOracle(f.oracle)
	engine.SetTokenBook(f.tokens)
	engine.SetCollateralOwner(f.owner)
	engine.SetEmitter(f.emitter)
	engine.SetAdmin(makeAddress(0xAD))
	engine.SetNowFunc(func() int64 { return f.now })
	f.engine = engine

	f.tokens.decimals[f.debtAsset] = 6
	f.oracle.set(f.debtAsset, new(big.Int).Set(wad), f.now)
	return f
}

func (f *testFixture) advance(seconds int64) {
	f.now += seconds
	// Keep the oracle quote fresh unless a test explicitly ages it.
	if q, ok := f.oracle.quotes[f.debtAsset]; ok {
		f.oracle.set(f.debtAsset, q.rate, f.now)
	}
}

func (f *testFixture) mintReceipt(id uint64, owner common.Address, locked *big.Int) {
	f.registry.receipts[id] = &mockReceipt{owner: owner, active: true, locked: new(big.Int).Set(locked)}
}

// stable converts a whole stable-unit figure to its 6-decimal representation.
func stable(units int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(units), big.NewInt(1_000_000))
}

func (f *testFixture) openLoan(t *testing.T, id uint64, amount *big.Int, duration int64) *Loan {
	t.Helper()
	loan, err := f.engine.Borrow(f.borrower, id, f.debtAsset, amount, duration)
	if err != nil {
		t.Fatalf("borrow: %v", err)
	}
	return loan
}
