package lending

import (
	"errors"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"phoenixchain/core/events"
	"phoenixchain/core/types"
	nativecommon "phoenixchain/native/common"
)

var (
	errNilState                = errors.New("lending engine: state not configured")
	errNilRegistry             = errors.New("lending engine: collateral registry not configured")
	errNilVault                = errors.New("lending engine: vault not configured")
	errNilOracle               = errors.New("lending engine: price oracle not configured")
	errNilTokenBook            = errors.New("lending engine: token book not configured")
	errInvalidAmount           = errors.New("lending engine: amount must be positive")
	errAssetNotAllowed         = errors.New("lending engine: debt asset not allowed")
	errNotReceiptOwner         = errors.New("lending engine: caller does not own the collateral receipt")
	errReceiptInactive         = errors.New("lending engine: collateral position not active")
	errLoanExists              = errors.New("lending engine: loan already active for collateral")
	errNoActiveLoan            = errors.New("lending engine: no active loan for collateral")
	errExceedsMaxBorrowable    = errors.New("lending engine: amount exceeds borrow ceiling")
	errZeroPrice               = errors.New("lending engine: oracle returned zero price")
	errStalePrice              = errors.New("lending engine: oracle price is stale")
	errLoanPastGrace           = errors.New("lending engine: loan past grace period, repay is closed")
	errLoanNotOverdue          = errors.New("lending engine: loan not past grace period")
	errNotAdmin                = errors.New("lending engine: caller is not the module admin")
	errNotLiquidatable         = errors.New("lending engine: position not eligible for liquidation")
	errLiquidationInfeasible   = errors.New("lending engine: target ratio leaves no room for the bonus")
	errLiquidationDust         = errors.New("lending engine: computed repay amount truncates to zero")
	errRepayExceedsPrincipal   = errors.New("lending engine: computed repay exceeds outstanding principal")
	errRepayCapExceeded        = errors.New("lending engine: computed repay exceeds caller cap")
	errRewardExceedsCollateral = errors.New("lending engine: reward exceeds remaining collateral")
)

const moduleName = "lending"

type loanState interface {
	GetLoan(collateralID uint64) (*Loan, error)
	PutLoan(*Loan) error
}

// CollateralRegistry tracks ownership and the locked stable amount behind each
// collateral receipt.
type CollateralRegistry interface {
	OwnerOf(collateralID uint64) (common.Address, error)
	IsActive(collateralID uint64) (bool, error)
	LockedAmount(collateralID uint64) (*big.Int, error)
	TransferToCustody(collateralID uint64, from common.Address) error
	ReleaseTo(collateralID uint64, to common.Address) error
}

// Vault holds the pooled funds and executes asset transfers on the module's
// behalf. Transfers either complete or fail with no partial movement.
type Vault interface {
	PayOut(asset common.Address, to common.Address, amount *big.Int) error
	PayIn(asset common.Address, from common.Address, amount *big.Int) error
}

// PriceOracle supplies the stable-unit value of one debt asset unit, 18
// decimal precision, together with the quote's observation timestamp.
type PriceOracle interface {
	Price(asset common.Address) (rate *big.Int, timestamp int64, err error)
}

// TokenBook resolves the native decimal precision of a debt asset.
type TokenBook interface {
	Decimals(asset common.Address) (uint8, error)
}

// CollateralOwner is informed whenever a liquidation shrinks the locked
// collateral so external yield bookkeeping stays consistent.
type CollateralOwner interface {
	OnCollateralReduced(collateralID uint64, remaining *big.Int) error
}

// Metrics receives lifecycle instrumentation from the engine. Implementations
// must be safe for concurrent use.
type Metrics interface {
	ObserveOperation(operation string, err error)
	RecordPrincipalChange(asset string, delta *big.Int)
}

// Engine orchestrates borrow, repay, liquidation and seizure against the loan
// ledger. An internal mutex serializes all exported calls, so concurrent RPC
// handlers never interleave a read-modify-write on the same loan record.
type Engine struct {
	mu              sync.Mutex
	state           loanState
	registry        CollateralRegistry
	vault           Vault
	oracle          PriceOracle
	tokens          TokenBook
	collateralOwner CollateralOwner
	params          Params
	stableAsset     common.Address
	admin           common.Address
	pauses          nativecommon.PauseView
	emitter         events.Emitter
	metrics         Metrics
	nowFn           func() int64
}

// NewEngine constructs a lending engine with the provided risk parameters and
// the asset identifier used when paying liquidation rewards in stable units.
func NewEngine(stableAsset common.Address, params Params) *Engine {
	return &Engine{
		params:      params.Clone(),
		stableAsset: stableAsset,
		emitter:     events.NoopEmitter{},
		nowFn:       func() int64 { return time.Now().Unix() },
	}
}

// SetState wires the engine to the loan ledger persistence layer.
func (e *Engine) SetState(state loanState) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state = state
}

// SetRegistry wires the collateral receipt registry collaborator.
func (e *Engine) SetRegistry(registry CollateralRegistry) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.registry = registry
}

// SetVault wires the custodial vault collaborator.
func (e *Engine) SetVault(vault Vault) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.vault = vault
}

// SetOracle wires the price oracle collaborator.
func (e *Engine) SetOracle(oracle PriceOracle) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.oracle = oracle
}

// SetTokenBook wires the token metadata lookup.
func (e *Engine) SetTokenBook(tokens TokenBook) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.tokens = tokens
}

// SetCollateralOwner wires the callback target notified after liquidations.
func (e *Engine) SetCollateralOwner(owner CollateralOwner) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.collateralOwner = owner
}

// SetAdmin configures the address allowed to seize overdue collateral.
func (e *Engine) SetAdmin(admin common.Address) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.admin = admin
}

// SetPauses wires the module pause switchboard.
func (e *Engine) SetPauses(p nativecommon.PauseView) {
	if e == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pauses = p
}

// SetEmitter configures the event emitter. Passing nil resets to a no-op.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetMetrics configures the instrumentation sink. Nil disables recording.
func (e *Engine) SetMetrics(metrics Metrics) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.metrics = metrics
}

// SetNowFunc overrides the time source. Primarily intended for tests.
func (e *Engine) SetNowFunc(now func() int64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

// SetParams replaces the risk parameter set after validation.
func (e *Engine) SetParams(params Params) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.applyParams(params)
}

// Params returns a copy of the active parameter set.
func (e *Engine) Params() Params {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.params.Clone()
}

// SetAssetAllowed adds or removes a debt asset from the allowlist. The change
// runs through the same validation and audit event as a full params update.
func (e *Engine) SetAssetAllowed(asset common.Address, allowed bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	params := e.params.Clone()
	if params.AllowedAssets == nil {
		params.AllowedAssets = make(map[common.Address]bool)
	}
	if allowed {
		params.AllowedAssets[asset] = true
	} else {
		delete(params.AllowedAssets, asset)
	}
	return e.applyParams(params)
}

// applyParams validates, installs, and announces a parameter change. The
// caller must hold e.mu.
func (e *Engine) applyParams(params Params) error {
	if err := params.Validate(); err != nil {
		return err
	}
	e.params = params.Clone()
	e.emit(NewParamsUpdatedEvent(e.params))
	return nil
}

func (e *Engine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

func (e *Engine) emit(event *types.Event) {
	if e == nil || e.emitter == nil || event == nil {
		return
	}
	e.emitter.Emit(lendingEvent{evt: event})
}

func (e *Engine) observe(operation string, err error) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.ObserveOperation(operation, err)
}

// recordPrincipalChange reports the outstanding-principal delta caused by a
// completed operation. Positive for borrows, negative for repayments.
func (e *Engine) recordPrincipalChange(asset common.Address, delta *big.Int) {
	if e == nil || e.metrics == nil || delta == nil || delta.Sign() == 0 {
		return
	}
	e.metrics.RecordPrincipalChange(asset.Hex(), delta)
}

func (e *Engine) checkWiring() error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if e.registry == nil {
		return errNilRegistry
	}
	if e.vault == nil {
		return errNilVault
	}
	if e.oracle == nil {
		return errNilOracle
	}
	if e.tokens == nil {
		return errNilTokenBook
	}
	return nil
}

// fetchPrice reads the oracle and fails closed on a zero rate or a quote older
// than the staleness bound. The bound is re-checked on every price dependent
// call rather than cached.
func (e *Engine) fetchPrice(asset common.Address, now int64) (*big.Int, error) {
	rate, observed, err := e.oracle.Price(asset)
	if err != nil {
		return nil, err
	}
	if rate == nil || rate.Sign() == 0 {
		return nil, errZeroPrice
	}
	if now-observed > maxPriceAge {
		return nil, errStalePrice
	}
	return rate, nil
}

// MaxBorrowable quotes the borrow ceiling for a collateral receipt against the
// given debt asset at the current oracle price. The result is floored to the
// asset's native precision so the quote is always conservative.
func (e *Engine) MaxBorrowable(collateralID uint64, asset common.Address) (*big.Int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.checkWiring(); err != nil {
		return nil, err
	}
	active, err := e.registry.IsActive(collateralID)
	if err != nil {
		return nil, err
	}
	if !active {
		return nil, errReceiptInactive
	}
	locked, err := e.registry.LockedAmount(collateralID)
	if err != nil {
		return nil, err
	}
	return e.borrowCeiling(locked, asset, e.now())
}

// borrowCeiling converts a stable-unit collateral amount into the maximum
// native-unit borrow allowed by the liquidation ratio.
func (e *Engine) borrowCeiling(collateral *big.Int, asset common.Address, now int64) (*big.Int, error) {
	price, err := e.fetchPrice(asset, now)
	if err != nil {
		return nil, err
	}
	decimals, err := e.tokens.Decimals(asset)
	if err != nil {
		return nil, err
	}
	collateralWad := stableToWad(collateral)
	valueInDebtUnits := mulDiv(collateralWad, wad, price)
	ceiling := mulDiv(valueInDebtUnits, basisPoints, new(big.Int).SetUint64(e.params.LiquidationRatioBps))
	return fromWad(ceiling, decimals), nil
}

// Borrow opens a loan against the caller's collateral receipt: the vault pays
// out the requested amount, the receipt moves into custody, and a fresh loan
// record is written. No interest is owed at origination.
func (e *Engine) Borrow(caller common.Address, collateralID uint64, asset common.Address, amount *big.Int, duration int64) (loan *Loan, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	defer func() { e.observe("borrow", err) }()
	if err := e.checkWiring(); err != nil {
		return nil, err
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	if !e.params.AssetAllowed(asset) {
		return nil, errAssetNotAllowed
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, errInvalidAmount
	}
	rate, err := e.params.RateFor(duration)
	if err != nil {
		return nil, err
	}

	owner, err := e.registry.OwnerOf(collateralID)
	if err != nil {
		return nil, err
	}
	if owner != caller {
		return nil, errNotReceiptOwner
	}
	active, err := e.registry.IsActive(collateralID)
	if err != nil {
		return nil, err
	}
	if !active {
		return nil, errReceiptInactive
	}

	existing, err := e.state.GetLoan(collateralID)
	if err != nil {
		return nil, err
	}
	if existing != nil && existing.Active {
		return nil, errLoanExists
	}

	locked, err := e.registry.LockedAmount(collateralID)
	if err != nil {
		return nil, err
	}
	now := e.now()
	ceiling, err := e.borrowCeiling(locked, asset, now)
	if err != nil {
		return nil, err
	}
	if amount.Cmp(ceiling) > 0 {
		return nil, errExceedsMaxBorrowable
	}

	if err := e.vault.PayOut(asset, caller, amount); err != nil {
		return nil, err
	}
	if err := e.registry.TransferToCustody(collateralID, caller); err != nil {
		return nil, err
	}

	loan = &Loan{
		CollateralID:        collateralID,
		Active:              true,
		Borrower:            caller,
		DebtAsset:           asset,
		Principal:           cloneBigInt(amount),
		RemainingCollateral: cloneBigInt(locked),
		StartTime:           now,
		EndTime:             now + duration,
		Duration:            duration,
		RateBps:             rate,
		LastInterestAccrual: now,
		AccruedInterest:     big.NewInt(0),
		AccruedPenalty:      big.NewInt(0),
	}
	if err := e.state.PutLoan(loan); err != nil {
		return nil, err
	}

	e.emit(NewBorrowedEvent(loan))
	e.recordPrincipalChange(asset, amount)
	return loan.Clone(), nil
}

// Repay applies a payment to the loan in waterfall order: penalty first, then
// interest, then principal. Overpayment is capped at the total debt rather
// than refunded; callers should query the exact figure first. Repayment is
// closed once the loan has run past the grace period.
func (e *Engine) Repay(caller common.Address, collateralID uint64, amount *big.Int) (applied *big.Int, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	defer func() { e.observe("repay", err) }()
	if err := e.checkWiring(); err != nil {
		return nil, err
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, errInvalidAmount
	}

	loan, err := e.activeLoan(collateralID)
	if err != nil {
		return nil, err
	}

	now := e.now()
	e.settleAccrual(loan, now)

	if now >= loan.EndTime+e.params.GracePeriod {
		return nil, errLoanPastGrace
	}

	totalDebt := loan.TotalDebt()
	applied = cloneBigInt(amount)
	if applied.Cmp(totalDebt) > 0 {
		applied = totalDebt
	}

	if err := e.vault.PayIn(loan.DebtAsset, caller, applied); err != nil {
		return nil, err
	}

	principalBefore := cloneBigInt(loan.Principal)

	// Waterfall order. A partial payment that lands inside a tier reduces
	// only that tier.
	remaining := cloneBigInt(applied)
	if remaining.Cmp(loan.AccruedPenalty) < 0 {
		loan.AccruedPenalty = new(big.Int).Sub(loan.AccruedPenalty, remaining)
		remaining.SetInt64(0)
	} else {
		remaining.Sub(remaining, loan.AccruedPenalty)
		loan.AccruedPenalty = big.NewInt(0)
		if remaining.Cmp(loan.AccruedInterest) < 0 {
			loan.AccruedInterest = new(big.Int).Sub(loan.AccruedInterest, remaining)
			remaining.SetInt64(0)
		} else {
			remaining.Sub(remaining, loan.AccruedInterest)
			loan.AccruedInterest = big.NewInt(0)
			loan.Principal = new(big.Int).Sub(loan.Principal, remaining)
		}
	}

	if loan.Principal.Sign() == 0 {
		loan.Active = false
		if err := e.registry.ReleaseTo(collateralID, loan.Borrower); err != nil {
			return nil, err
		}
	}
	if err := e.state.PutLoan(loan); err != nil {
		return nil, err
	}

	e.emit(NewRepaidEvent(loan, caller, applied))
	e.recordPrincipalChange(loan.DebtAsset, new(big.Int).Sub(loan.Principal, principalBefore))
	return applied, nil
}

// liquidationPlan carries the amounts derived by the closed-form sizing
// formula before any state is touched.
type liquidationPlan struct {
	repay  *big.Int // debt asset native units
	reward *big.Int // stable units
}

// planLiquidation derives the repay amount that restores the target ratio
// while paying the liquidator bonus, and the stable-unit reward it earns.
// Everything is validated before any transfer so a rejection leaves no
// partial state.
func (e *Engine) planLiquidation(loan *Loan, price *big.Int, decimals uint8, maxRepay *big.Int) (*liquidationPlan, error) {
	target := bpsToWad(e.params.TargetRatioBps)
	bonus := bpsToWad(e.params.LiquidationBonusBps)

	// The denominator t - 1 - b must be positive or the sizing has no
	// solution. Params.Validate enforces this too; fail closed regardless.
	denominator := new(big.Int).Sub(target, wad)
	denominator.Sub(denominator, bonus)
	if denominator.Sign() <= 0 {
		return nil, errLiquidationInfeasible
	}

	collateralWad := stableToWad(loan.RemainingCollateral)
	debtWad := toWad(loan.Principal, decimals)
	collateralValue := mulDiv(collateralWad, wad, price)

	numerator := mulDiv(debtWad, target, wad)
	numerator.Sub(numerator, collateralValue)
	if numerator.Sign() <= 0 {
		return nil, errNotLiquidatable
	}

	requiredWad := mulDiv(numerator, wad, denominator)
	repay := fromWad(requiredWad, decimals)
	if repay.Sign() == 0 {
		return nil, errLiquidationDust
	}
	if repay.Cmp(loan.Principal) > 0 {
		return nil, errRepayExceedsPrincipal
	}
	if maxRepay != nil && maxRepay.Sign() > 0 && repay.Cmp(maxRepay) > 0 {
		return nil, errRepayCapExceeded
	}

	// Reward = repay * (1 + bonus) valued at the oracle price, floored to the
	// stable unit's precision so the vault never over-pays from collateral.
	repayWad := toWad(repay, decimals)
	gross := mulDiv(repayWad, new(big.Int).Add(basisPoints, new(big.Int).SetUint64(e.params.LiquidationBonusBps)), basisPoints)
	rewardWad := mulDiv(gross, price, wad)
	reward := stableFromWad(rewardWad)
	if reward.Cmp(loan.RemainingCollateral) > 0 {
		return nil, errRewardExceedsCollateral
	}

	return &liquidationPlan{repay: repay, reward: reward}, nil
}

// Liquidate repays part of an undercollateralized loan on the liquidator's
// behalf and seizes collateral worth the repaid amount plus the bonus. A
// single call is sized to land the loan exactly at the target ratio; a deeply
// underwater position takes repeated calls, each recomputed against the
// updated state. maxRepay caps the liquidator's exposure; zero or nil means
// no cap.
func (e *Engine) Liquidate(caller common.Address, collateralID uint64, maxRepay *big.Int) (repaid, reward *big.Int, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	defer func() { e.observe("liquidate", err) }()
	if err := e.checkWiring(); err != nil {
		return nil, nil, err
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, nil, err
	}

	loan, err := e.activeLoan(collateralID)
	if err != nil {
		return nil, nil, err
	}

	now := e.now()

	// Eligibility compares the current ceiling against principal only;
	// accrued interest and penalty never trigger liquidation on their own.
	ceiling, err := e.borrowCeiling(loan.RemainingCollateral, loan.DebtAsset, now)
	if err != nil {
		return nil, nil, err
	}
	if ceiling.Cmp(loan.Principal) > 0 {
		return nil, nil, errNotLiquidatable
	}

	price, err := e.fetchPrice(loan.DebtAsset, now)
	if err != nil {
		return nil, nil, err
	}
	decimals, err := e.tokens.Decimals(loan.DebtAsset)
	if err != nil {
		return nil, nil, err
	}

	plan, err := e.planLiquidation(loan, price, decimals, maxRepay)
	if err != nil {
		return nil, nil, err
	}

	if err := e.vault.PayIn(loan.DebtAsset, caller, plan.repay); err != nil {
		return nil, nil, err
	}

	e.settleAccrual(loan, now)
	loan.Principal = new(big.Int).Sub(loan.Principal, plan.repay)
	loan.RemainingCollateral = new(big.Int).Sub(loan.RemainingCollateral, plan.reward)
	if loan.Principal.Sign() == 0 {
		loan.Active = false
		if err := e.registry.ReleaseTo(collateralID, loan.Borrower); err != nil {
			return nil, nil, err
		}
	}
	if err := e.state.PutLoan(loan); err != nil {
		return nil, nil, err
	}

	if e.collateralOwner != nil {
		if err := e.collateralOwner.OnCollateralReduced(collateralID, cloneBigInt(loan.RemainingCollateral)); err != nil {
			return nil, nil, err
		}
	}

	if err := e.vault.PayOut(e.stableAsset, caller, plan.reward); err != nil {
		return nil, nil, err
	}

	e.emit(NewLiquidatedEvent(loan, caller, plan.repay, plan.reward))
	e.recordPrincipalChange(loan.DebtAsset, new(big.Int).Neg(plan.repay))
	return plan.repay, plan.reward, nil
}

// SeizeOverdue is the admin-only escape hatch for loans that ran past the
// grace period: the receipt is released to the caller, not the borrower, and
// the loan is closed unconditionally, bypassing the liquidation formula.
func (e *Engine) SeizeOverdue(caller common.Address, collateralID uint64) (err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	defer func() { e.observe("seize", err) }()
	if err := e.checkWiring(); err != nil {
		return err
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	if caller != e.admin {
		return errNotAdmin
	}

	loan, err := e.activeLoan(collateralID)
	if err != nil {
		return err
	}
	if e.now() <= loan.EndTime+e.params.GracePeriod {
		return errLoanNotOverdue
	}

	if err := e.registry.ReleaseTo(collateralID, caller); err != nil {
		return err
	}
	loan.Active = false
	if err := e.state.PutLoan(loan); err != nil {
		return err
	}

	e.emit(NewSeizedEvent(loan, caller))
	e.recordPrincipalChange(loan.DebtAsset, new(big.Int).Neg(loan.Principal))
	return nil
}

// LoanStatus returns a copy of the loan with interest and penalty projected to
// the current time. The stored record is not mutated, so the projection is
// safe to serve as a read-only quote. Closed loans are served as-is so their
// final state stays queryable.
func (e *Engine) LoanStatus(collateralID uint64) (*Loan, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.loanStatus(collateralID)
}

// OutstandingDebt quotes principal plus projected interest and penalty.
func (e *Engine) OutstandingDebt(collateralID uint64) (*big.Int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	loan, err := e.loanStatus(collateralID)
	if err != nil {
		return nil, err
	}
	return loan.TotalDebt(), nil
}

// loanStatus implements the projection. The caller must hold e.mu.
func (e *Engine) loanStatus(collateralID uint64) (*Loan, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	loan, err := e.state.GetLoan(collateralID)
	if err != nil {
		return nil, err
	}
	if loan == nil {
		return nil, errNoActiveLoan
	}
	loan = loan.Clone()
	loan.ensureDefaults()
	now := e.now()
	loan.AccruedInterest = e.projectInterest(loan, now)
	loan.AccruedPenalty = e.projectPenalty(loan, now)
	return loan, nil
}

// activeLoan loads the loan for the collateral id and rejects missing or
// inactive records. The returned value is a deep copy; mutations only take
// effect through PutLoan.
func (e *Engine) activeLoan(collateralID uint64) (*Loan, error) {
	loan, err := e.state.GetLoan(collateralID)
	if err != nil {
		return nil, err
	}
	if loan == nil || !loan.Active {
		return nil, errNoActiveLoan
	}
	loan = loan.Clone()
	loan.ensureDefaults()
	return loan, nil
}
