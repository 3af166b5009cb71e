package rpc

import (
	"encoding/json"
	"math/big"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"phoenixchain/native/lending"
)

type loanQueryParams struct {
	CollateralID uint64 `json:"collateralId"`
}

type maxBorrowableParams struct {
	CollateralID uint64 `json:"collateralId"`
	Asset        string `json:"asset"`
}

type borrowParams struct {
	Caller          string `json:"caller"`
	CollateralID    uint64 `json:"collateralId"`
	Asset           string `json:"asset"`
	Amount          string `json:"amount"`
	DurationSeconds int64  `json:"durationSeconds"`
}

type repayParams struct {
	Caller       string `json:"caller"`
	CollateralID uint64 `json:"collateralId"`
	Amount       string `json:"amount"`
}

type liquidateParams struct {
	Caller       string `json:"caller"`
	CollateralID uint64 `json:"collateralId"`
	MaxRepay     string `json:"maxRepay,omitempty"`
}

type seizeParams struct {
	Caller       string `json:"caller"`
	CollateralID uint64 `json:"collateralId"`
}

type mintReceiptParams struct {
	Caller       string `json:"caller"`
	CollateralID uint64 `json:"collateralId"`
	Owner        string `json:"owner"`
	LockedAmount string `json:"lockedAmount"`
}

type vaultBalanceParams struct {
	Asset  string `json:"asset"`
	Holder string `json:"holder"`
}

type vaultFundParams struct {
	Caller string `json:"caller"`
	Asset  string `json:"asset"`
	Holder string `json:"holder"`
	Amount string `json:"amount"`
}

type durationRateResult struct {
	DurationSeconds int64  `json:"durationSeconds"`
	RateBps         uint64 `json:"rateBps"`
}

type paramsPayload struct {
	LiquidationRatioBps uint64               `json:"liquidationRatioBps"`
	TargetRatioBps      uint64               `json:"targetRatioBps"`
	LiquidationBonusBps uint64               `json:"liquidationBonusBps"`
	PenaltyRatioBps     uint64               `json:"penaltyRatioBps"`
	GracePeriodSeconds  int64                `json:"gracePeriodSeconds"`
	DurationRates       []durationRateResult `json:"durationRates"`
	AllowedAssets       []string             `json:"allowedAssets"`
}

type loanResult struct {
	CollateralID        uint64 `json:"collateralId"`
	Active              bool   `json:"active"`
	Borrower            string `json:"borrower"`
	DebtAsset           string `json:"debtAsset"`
	Principal           string `json:"principal"`
	RemainingCollateral string `json:"remainingCollateral"`
	StartTime           int64  `json:"startTime"`
	EndTime             int64  `json:"endTime"`
	DurationSeconds     int64  `json:"durationSeconds"`
	RateBps             uint64 `json:"rateBps"`
	AccruedInterest     string `json:"accruedInterest"`
	AccruedPenalty      string `json:"accruedPenalty"`
	TotalDebt           string `json:"totalDebt"`
}

type liquidateResult struct {
	Repaid string `json:"repaid"`
	Reward string `json:"reward"`
}

type receiptResult struct {
	ID           uint64 `json:"id"`
	Owner        string `json:"owner"`
	Active       bool   `json:"active"`
	InCustody    bool   `json:"inCustody"`
	LockedAmount string `json:"lockedAmount"`
}

type tokenResult struct {
	Address  string `json:"address"`
	Symbol   string `json:"symbol"`
	Decimals uint8  `json:"decimals"`
}

func bigString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func loanToResult(loan *lending.Loan) *loanResult {
	if loan == nil {
		return nil
	}
	return &loanResult{
		CollateralID:        loan.CollateralID,
		Active:              loan.Active,
		Borrower:            loan.Borrower.Hex(),
		DebtAsset:           loan.DebtAsset.Hex(),
		Principal:           bigString(loan.Principal),
		RemainingCollateral: bigString(loan.RemainingCollateral),
		StartTime:           loan.StartTime,
		EndTime:             loan.EndTime,
		DurationSeconds:     loan.Duration,
		RateBps:             loan.RateBps,
		AccruedInterest:     bigString(loan.AccruedInterest),
		AccruedPenalty:      bigString(loan.AccruedPenalty),
		TotalDebt:           bigString(loan.TotalDebt()),
	}
}

func decodeParams(w http.ResponseWriter, req *RPCRequest, out interface{}) bool {
	if len(req.Params) == 0 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "parameter object required", nil)
		return false
	}
	if err := json.Unmarshal(req.Params[0], out); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameter object", err.Error())
		return false
	}
	return true
}

func parseAddr(w http.ResponseWriter, req *RPCRequest, field, value string) (common.Address, bool) {
	trimmed := strings.TrimSpace(value)
	if !common.IsHexAddress(trimmed) {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, field+" must be a hex address", value)
		return common.Address{}, false
	}
	return common.HexToAddress(trimmed), true
}

func parseAmount(w http.ResponseWriter, req *RPCRequest, field, value string) (*big.Int, bool) {
	amount, ok := new(big.Int).SetString(strings.TrimSpace(value), 10)
	if !ok {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, field+" must be a base-10 integer", value)
		return nil, false
	}
	return amount, true
}

func writeEngineError(w http.ResponseWriter, req *RPCRequest, err error) {
	writeError(w, http.StatusBadRequest, req.ID, codeServerError, err.Error(), nil)
}

func (s *Server) handleGetLoan(w http.ResponseWriter, req *RPCRequest) {
	var params loanQueryParams
	if !decodeParams(w, req, &params) {
		return
	}
	loan, err := s.engine.LoanStatus(params.CollateralID)
	if err != nil {
		writeEngineError(w, req, err)
		return
	}
	writeResult(w, req.ID, loanToResult(loan))
}

func (s *Server) handleGetDebt(w http.ResponseWriter, req *RPCRequest) {
	var params loanQueryParams
	if !decodeParams(w, req, &params) {
		return
	}
	debt, err := s.engine.OutstandingDebt(params.CollateralID)
	if err != nil {
		writeEngineError(w, req, err)
		return
	}
	writeResult(w, req.ID, map[string]string{"debt": bigString(debt)})
}

func (s *Server) handleMaxBorrowable(w http.ResponseWriter, req *RPCRequest) {
	var params maxBorrowableParams
	if !decodeParams(w, req, &params) {
		return
	}
	asset, ok := parseAddr(w, req, "asset", params.Asset)
	if !ok {
		return
	}
	ceiling, err := s.engine.MaxBorrowable(params.CollateralID, asset)
	if err != nil {
		writeEngineError(w, req, err)
		return
	}
	writeResult(w, req.ID, map[string]string{"maxBorrowable": bigString(ceiling)})
}

func (s *Server) handleGetParams(w http.ResponseWriter, req *RPCRequest) {
	params := s.engine.Params()
	payload := paramsPayload{
		LiquidationRatioBps: params.LiquidationRatioBps,
		TargetRatioBps:      params.TargetRatioBps,
		LiquidationBonusBps: params.LiquidationBonusBps,
		PenaltyRatioBps:     params.PenaltyRatioBps,
		GracePeriodSeconds:  params.GracePeriod,
	}
	for _, duration := range params.Durations() {
		payload.DurationRates = append(payload.DurationRates, durationRateResult{
			DurationSeconds: duration,
			RateBps:         params.DurationRates[duration],
		})
	}
	for asset, allowed := range params.AllowedAssets {
		if allowed {
			payload.AllowedAssets = append(payload.AllowedAssets, asset.Hex())
		}
	}
	writeResult(w, req.ID, payload)
}

func (s *Server) handleBorrow(w http.ResponseWriter, req *RPCRequest) {
	var params borrowParams
	if !decodeParams(w, req, &params) {
		return
	}
	caller, ok := parseAddr(w, req, "caller", params.Caller)
	if !ok {
		return
	}
	asset, ok := parseAddr(w, req, "asset", params.Asset)
	if !ok {
		return
	}
	amount, ok := parseAmount(w, req, "amount", params.Amount)
	if !ok {
		return
	}
	loan, err := s.engine.Borrow(caller, params.CollateralID, asset, amount, params.DurationSeconds)
	if err != nil {
		writeEngineError(w, req, err)
		return
	}
	writeResult(w, req.ID, loanToResult(loan))
}

func (s *Server) handleRepay(w http.ResponseWriter, req *RPCRequest) {
	var params repayParams
	if !decodeParams(w, req, &params) {
		return
	}
	caller, ok := parseAddr(w, req, "caller", params.Caller)
	if !ok {
		return
	}
	amount, ok := parseAmount(w, req, "amount", params.Amount)
	if !ok {
		return
	}
	applied, err := s.engine.Repay(caller, params.CollateralID, amount)
	if err != nil {
		writeEngineError(w, req, err)
		return
	}
	writeResult(w, req.ID, map[string]string{"applied": bigString(applied)})
}

func (s *Server) handleLiquidate(w http.ResponseWriter, req *RPCRequest) {
	var params liquidateParams
	if !decodeParams(w, req, &params) {
		return
	}
	caller, ok := parseAddr(w, req, "caller", params.Caller)
	if !ok {
		return
	}
	var maxRepay *big.Int
	if strings.TrimSpace(params.MaxRepay) != "" {
		parsed, ok := parseAmount(w, req, "maxRepay", params.MaxRepay)
		if !ok {
			return
		}
		maxRepay = parsed
	}
	repaid, reward, err := s.engine.Liquidate(caller, params.CollateralID, maxRepay)
	if err != nil {
		writeEngineError(w, req, err)
		return
	}
	writeResult(w, req.ID, liquidateResult{Repaid: bigString(repaid), Reward: bigString(reward)})
}

func (s *Server) handleSeize(w http.ResponseWriter, req *RPCRequest) {
	var params seizeParams
	if !decodeParams(w, req, &params) {
		return
	}
	caller, ok := parseAddr(w, req, "caller", params.Caller)
	if !ok {
		return
	}
	if err := s.engine.SeizeOverdue(caller, params.CollateralID); err != nil {
		writeEngineError(w, req, err)
		return
	}
	writeResult(w, req.ID, map[string]bool{"seized": true})
}

func (s *Server) handleSetParams(w http.ResponseWriter, req *RPCRequest) {
	var payload paramsPayload
	if !decodeParams(w, req, &payload) {
		return
	}
	params := lending.Params{
		LiquidationRatioBps: payload.LiquidationRatioBps,
		TargetRatioBps:      payload.TargetRatioBps,
		LiquidationBonusBps: payload.LiquidationBonusBps,
		PenaltyRatioBps:     payload.PenaltyRatioBps,
		GracePeriod:         payload.GracePeriodSeconds,
		DurationRates:       make(map[int64]uint64, len(payload.DurationRates)),
		AllowedAssets:       make(map[common.Address]bool, len(payload.AllowedAssets)),
	}
	for _, dr := range payload.DurationRates {
		params.DurationRates[dr.DurationSeconds] = dr.RateBps
	}
	for _, raw := range payload.AllowedAssets {
		asset, ok := parseAddr(w, req, "allowedAssets", raw)
		if !ok {
			return
		}
		params.AllowedAssets[asset] = true
	}
	if err := s.engine.SetParams(params); err != nil {
		writeEngineError(w, req, err)
		return
	}
	writeResult(w, req.ID, map[string]bool{"updated": true})
}

func (s *Server) handleGetReceipt(w http.ResponseWriter, req *RPCRequest) {
	if s.registry == nil {
		writeError(w, http.StatusInternalServerError, req.ID, codeServerError, "receipt registry not configured", nil)
		return
	}
	var params loanQueryParams
	if !decodeParams(w, req, &params) {
		return
	}
	rec, err := s.registry.Get(params.CollateralID)
	if err != nil {
		writeEngineError(w, req, err)
		return
	}
	writeResult(w, req.ID, receiptResult{
		ID:           rec.ID,
		Owner:        rec.Owner.Hex(),
		Active:       rec.Active,
		InCustody:    rec.InCustody,
		LockedAmount: bigString(rec.LockedAmount),
	})
}

func (s *Server) handleMintReceipt(w http.ResponseWriter, req *RPCRequest) {
	if s.registry == nil {
		writeError(w, http.StatusInternalServerError, req.ID, codeServerError, "receipt registry not configured", nil)
		return
	}
	var params mintReceiptParams
	if !decodeParams(w, req, &params) {
		return
	}
	caller, ok := parseAddr(w, req, "caller", params.Caller)
	if !ok {
		return
	}
	owner, ok := parseAddr(w, req, "owner", params.Owner)
	if !ok {
		return
	}
	amount, ok := parseAmount(w, req, "lockedAmount", params.LockedAmount)
	if !ok {
		return
	}
	if err := s.registry.Mint(caller, params.CollateralID, owner, amount); err != nil {
		writeEngineError(w, req, err)
		return
	}
	writeResult(w, req.ID, map[string]bool{"minted": true})
}

func (s *Server) handleVaultBalance(w http.ResponseWriter, req *RPCRequest) {
	if s.vault == nil {
		writeError(w, http.StatusInternalServerError, req.ID, codeServerError, "vault not configured", nil)
		return
	}
	var params vaultBalanceParams
	if !decodeParams(w, req, &params) {
		return
	}
	asset, ok := parseAddr(w, req, "asset", params.Asset)
	if !ok {
		return
	}
	holder, ok := parseAddr(w, req, "holder", params.Holder)
	if !ok {
		return
	}
	bal, err := s.vault.Balance(asset, holder)
	if err != nil {
		writeEngineError(w, req, err)
		return
	}
	writeResult(w, req.ID, map[string]string{"balance": bigString(bal)})
}

func (s *Server) handleVaultFund(w http.ResponseWriter, req *RPCRequest) {
	if s.vault == nil {
		writeError(w, http.StatusInternalServerError, req.ID, codeServerError, "vault not configured", nil)
		return
	}
	var params vaultFundParams
	if !decodeParams(w, req, &params) {
		return
	}
	caller, ok := parseAddr(w, req, "caller", params.Caller)
	if !ok {
		return
	}
	asset, ok := parseAddr(w, req, "asset", params.Asset)
	if !ok {
		return
	}
	holder, ok := parseAddr(w, req, "holder", params.Holder)
	if !ok {
		return
	}
	amount, ok := parseAmount(w, req, "amount", params.Amount)
	if !ok {
		return
	}
	if err := s.vault.Fund(caller, asset, holder, amount); err != nil {
		writeEngineError(w, req, err)
		return
	}
	writeResult(w, req.ID, map[string]bool{"funded": true})
}

func (s *Server) handleTokenList(w http.ResponseWriter, req *RPCRequest) {
	if s.tokens == nil {
		writeError(w, http.StatusInternalServerError, req.ID, codeServerError, "token book not configured", nil)
		return
	}
	out := make([]tokenResult, 0)
	for _, tok := range s.tokens.List() {
		out = append(out, tokenResult{Address: tok.Address.Hex(), Symbol: tok.Symbol, Decimals: tok.Decimals})
	}
	writeResult(w, req.ID, out)
}
