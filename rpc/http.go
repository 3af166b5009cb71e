package rpc

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"phoenixchain/native/lending"
	"phoenixchain/native/receipt"
	"phoenixchain/native/token"
	"phoenixchain/native/vault"
)

const (
	jsonRPCVersion  = "2.0"
	maxRequestBytes = 1 << 20 // 1 MiB
)

const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeUnauthorized   = -32001
	codeServerError    = -32000
)

// moduleObserver records request metrics. Satisfied by
// observability.ModuleMetrics().
type moduleObserver interface {
	Observe(module, method string, status int, duration time.Duration)
}

type Server struct {
	engine    *lending.Engine
	registry  *receipt.Registry
	vault     *vault.Vault
	tokens    *token.Book
	authToken string
	log       *slog.Logger
	metrics   moduleObserver

	httpMu     sync.Mutex
	httpSrv    *http.Server
	listenAddr string
}

// NewServer constructs a JSON-RPC server around the lending engine. The auth
// token protects state-changing methods; when empty they are rejected.
func NewServer(engine *lending.Engine, authToken string, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		engine:    engine,
		authToken: strings.TrimSpace(authToken),
		log:       log,
	}
}

// SetRegistry wires the receipt registry used by receipt methods.
func (s *Server) SetRegistry(registry *receipt.Registry) { s.registry = registry }

// SetVault wires the vault used by balance methods.
func (s *Server) SetVault(v *vault.Vault) { s.vault = v }

// SetTokenBook wires the token book used by asset listing methods.
func (s *Server) SetTokenBook(book *token.Book) { s.tokens = book }

// SetMetrics wires the request metrics recorder.
func (s *Server) SetMetrics(metrics moduleObserver) { s.metrics = metrics }

// Router assembles the HTTP surface: the JSON-RPC endpoint, a liveness check,
// and the Prometheus scrape endpoint.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())
	r.Post("/rpc", s.handle)
	r.Post("/", s.handle)
	return r
}

// Start serves the router on the supplied address and blocks until the
// listener fails or Shutdown is called. The header read timeout bounds how
// long a slow client can hold a connection before sending its request.
func (s *Server) Start(addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	httpSrv := &http.Server{
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.httpMu.Lock()
	s.httpSrv = httpSrv
	s.listenAddr = listener.Addr().String()
	s.httpMu.Unlock()
	s.log.Info("starting JSON-RPC server", "addr", s.ListenAddr())
	if err := httpSrv.Serve(listener); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully stops a server previously started with Start. It is a
// no-op when Start was never called.
func (s *Server) Shutdown(ctx context.Context) error {
	s.httpMu.Lock()
	httpSrv := s.httpSrv
	s.httpMu.Unlock()
	if httpSrv == nil {
		return nil
	}
	return httpSrv.Shutdown(ctx)
}

// ListenAddr reports the bound address once Start has opened its listener.
func (s *Server) ListenAddr() string {
	s.httpMu.Lock()
	defer s.httpMu.Unlock()
	return s.listenAddr
}

type RPCRequest struct {
	JSONRPC string            `json:"jsonrpc"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
	ID      int               `json:"id"`
}

type RPCResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *RPCError   `json:"error,omitempty"`
}

type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func writeError(w http.ResponseWriter, status int, id interface{}, code int, message string, data interface{}) {
	if status <= 0 {
		status = http.StatusBadRequest
	}
	if status != http.StatusOK {
		w.WriteHeader(status)
	}
	errObj := &RPCError{Code: code, Message: message}
	if data != nil {
		errObj.Data = data
	}
	resp := RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Error: errObj}
	_ = json.NewEncoder(w).Encode(resp)
}

func writeResult(w http.ResponseWriter, id interface{}, result interface{}) {
	resp := RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Result: result}
	_ = json.NewEncoder(w).Encode(resp)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// handle is the main request handler that routes to specific handlers.
func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
	method := s.dispatch(recorder, r)
	if s.metrics != nil {
		module := method
		if idx := strings.IndexByte(method, '_'); idx > 0 {
			module = method[:idx]
		}
		s.metrics.Observe(module, method, recorder.status, time.Since(start))
	}
	if recorder.status >= 400 {
		s.log.Warn("rpc request failed", "method", method, "status", recorder.status)
	}
}

func (s *Server) dispatch(w http.ResponseWriter, r *http.Request) string {
	reader := http.MaxBytesReader(w, r.Body, maxRequestBytes)
	defer func() {
		_ = reader.Close()
	}()

	w.Header().Set("Content-Type", "application/json")

	body, err := io.ReadAll(reader)
	if err != nil {
		status := http.StatusBadRequest
		message := "failed to read request body"
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			status = http.StatusRequestEntityTooLarge
			message = fmt.Sprintf("request body exceeds %d bytes", maxRequestBytes)
		}
		writeError(w, status, nil, codeInvalidRequest, message, err.Error())
		return "unknown"
	}
	if len(bytes.TrimSpace(body)) == 0 {
		writeError(w, http.StatusBadRequest, nil, codeInvalidRequest, "request body required", nil)
		return "unknown"
	}

	req := &RPCRequest{}
	if err := json.Unmarshal(body, req); err != nil {
		writeError(w, http.StatusBadRequest, nil, codeParseError, "invalid JSON payload", err.Error())
		return "unknown"
	}
	if req.JSONRPC != "" && req.JSONRPC != jsonRPCVersion {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "unsupported jsonrpc version", req.JSONRPC)
		return req.Method
	}
	if req.Method == "" {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "method required", nil)
		return "unknown"
	}

	switch req.Method {
	case "lend_getLoan":
		s.handleGetLoan(w, req)
	case "lend_getDebt":
		s.handleGetDebt(w, req)
	case "lend_maxBorrowable":
		s.handleMaxBorrowable(w, req)
	case "lend_getParams":
		s.handleGetParams(w, req)
	case "lend_borrow":
		s.authed(w, r, req, s.handleBorrow)
	case "lend_repay":
		s.authed(w, r, req, s.handleRepay)
	case "lend_liquidate":
		s.authed(w, r, req, s.handleLiquidate)
	case "lend_seize":
		s.authed(w, r, req, s.handleSeize)
	case "lend_setParams":
		s.authed(w, r, req, s.handleSetParams)
	case "receipt_get":
		s.handleGetReceipt(w, req)
	case "receipt_mint":
		s.authed(w, r, req, s.handleMintReceipt)
	case "vault_balance":
		s.handleVaultBalance(w, req)
	case "vault_fund":
		s.authed(w, r, req, s.handleVaultFund)
	case "token_list":
		s.handleTokenList(w, req)
	default:
		writeError(w, http.StatusNotFound, req.ID, codeMethodNotFound, fmt.Sprintf("method %s not found", req.Method), nil)
	}
	return req.Method
}

func (s *Server) authed(w http.ResponseWriter, r *http.Request, req *RPCRequest, handler func(http.ResponseWriter, *RPCRequest)) {
	if authErr := s.requireAuth(r); authErr != nil {
		writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
		return
	}
	handler(w, req)
}

func (s *Server) requireAuth(r *http.Request) *RPCError {
	if s.authToken == "" {
		return &RPCError{Code: codeUnauthorized, Message: "RPC authentication token not configured"}
	}
	header := r.Header.Get("Authorization")
	if header == "" {
		return &RPCError{Code: codeUnauthorized, Message: "missing Authorization header"}
	}
	if !strings.HasPrefix(header, "Bearer ") {
		return &RPCError{Code: codeUnauthorized, Message: "Authorization header must use Bearer scheme"}
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		return &RPCError{Code: codeUnauthorized, Message: "missing bearer token"}
	}
	if subtle.ConstantTimeCompare([]byte(token), []byte(s.authToken)) != 1 {
		return &RPCError{Code: codeUnauthorized, Message: "invalid RPC credentials"}
	}
	return nil
}
