package rpc

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/agehcx/flashloan-playground/core/state"
	"github.com/agehcx/flashloan-playground/native/achievements"
	"github.com/agehcx/flashloan-playground/native/flashloan"
	"github.com/agehcx/flashloan-playground/native/flashpool"
	"github.com/agehcx/flashloan-playground/native/token"
	"github.com/agehcx/flashloan-playground/observability"
)

const (
	jsonRPCVersion  = "2.0"
	maxRequestBytes = 1 << 20 // 1 MiB
	authTokenEnv    = "FLASHLOAN_RPC_TOKEN"
)

const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeUnauthorized   = -32001
	codeServerError    = -32000
)

// Server exposes the protocol operations over JSON-RPC 2.0.
type Server struct {
	pool     *flashpool.Engine
	executor *flashloan.Engine
	tracker  *achievements.Tracker
	tokens   *token.Ledger
	state    *state.Manager
	receiver flashloan.Receiver
	admin    [20]byte

	authToken string
	limiter   *rateLimiter
	logger    *slog.Logger
	metrics   *observability.FlashLoanMetrics
}

// NewServer wires the RPC surface to the protocol engines. The receiver is
// the strategy used to serve flashloan_execute requests.
func NewServer(pool *flashpool.Engine, executor *flashloan.Engine, tracker *achievements.Tracker, tokens *token.Ledger, st *state.Manager, receiver flashloan.Receiver, admin [20]byte, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		pool:      pool,
		executor:  executor,
		tracker:   tracker,
		tokens:    tokens,
		state:     st,
		receiver:  receiver,
		admin:     admin,
		authToken: strings.TrimSpace(os.Getenv(authTokenEnv)),
		logger:    logger,
		metrics:   observability.Metrics(),
	}
}

// SetRateLimit throttles each client to perMinute requests with the supplied
// burst. A non-positive perMinute disables throttling.
func (s *Server) SetRateLimit(perMinute float64, burst int) {
	s.limiter = newRateLimiter(perMinute, burst)
}

// Start serves the JSON-RPC endpoint and the Prometheus metrics handler on
// the supplied address.
func (s *Server) Start(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/", s.handle)
	s.logger.Info("starting JSON-RPC server", slog.String("address", addr))
	return http.ListenAndServe(addr, mux)
}

type RPCRequest struct {
	JSONRPC string            `json:"jsonrpc"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
	ID      interface{}       `json:"id"`
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

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, nil, codeInvalidRequest, "POST required", nil)
		return
	}
	if !s.limiter.allow(r) {
		writeError(w, http.StatusTooManyRequests, nil, codeServerError, "rate limit exceeded", nil)
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, nil, codeParseError, "unable to read request body", nil)
		return
	}
	var req RPCRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, nil, codeParseError, "invalid JSON-RPC request", err.Error())
		return
	}

	handler, ok := s.routes()[req.Method]
	if !ok {
		s.metrics.RPCRequests.WithLabelValues(req.Method, "not_found").Inc()
		writeError(w, http.StatusNotFound, req.ID, codeMethodNotFound, fmt.Sprintf("unknown method %q", req.Method), nil)
		return
	}
	if adminMethods[req.Method] && !s.authorized(r) {
		s.metrics.RPCRequests.WithLabelValues(req.Method, "unauthorized").Inc()
		writeError(w, http.StatusUnauthorized, req.ID, codeUnauthorized, "bearer token required", nil)
		return
	}
	rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
	handler(rec, r, &req)
	outcome := "ok"
	if rec.status >= http.StatusBadRequest {
		outcome = "error"
	}
	s.metrics.RPCRequests.WithLabelValues(req.Method, outcome).Inc()
}

// statusRecorder remembers the status a handler wrote so the request counter
// can separate successful calls from rejected ones.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) routes() map[string]func(http.ResponseWriter, *http.Request, *RPCRequest) {
	return map[string]func(http.ResponseWriter, *http.Request, *RPCRequest){
		"flashloan_getPool":         s.handleGetPool,
		"flashloan_getFee":          s.handleGetFee,
		"flashloan_addLiquidity":    s.handleAddLiquidity,
		"flashloan_removeLiquidity": s.handleRemoveLiquidity,
		"flashloan_setFee":          s.handleSetFee,
		"flashloan_setWhitelist":    s.handleSetWhitelist,
		"flashloan_execute":         s.handleExecute,
		"flashloan_getBadge":        s.handleGetBadge,
		"token_mint":                s.handleTokenMint,
		"token_balanceOf":           s.handleTokenBalanceOf,
	}
}

var adminMethods = map[string]bool{
	"flashloan_removeLiquidity": true,
	"flashloan_setFee":          true,
	"flashloan_setWhitelist":    true,
}

func (s *Server) authorized(r *http.Request) bool {
	if s.authToken == "" {
		return false
	}
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(header, "Bearer ") {
		return false
	}
	presented := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	return subtle.ConstantTimeCompare([]byte(presented), []byte(s.authToken)) == 1
}

// mutate funnels every state-changing handler through the manager's
// transaction lock. Handlers run concurrently under net/http, and a commit
// landing mid-session would invalidate the executor's snapshot marker, so
// all mutation is serialized here.
func (s *Server) mutate(fn func() error) error {
	return s.state.Update(fn)
}

func decodeParams(req *RPCRequest, out interface{}) error {
	if len(req.Params) != 1 {
		return errors.New("expected a single parameter object")
	}
	return json.Unmarshal(req.Params[0], out)
}
