package rpc

import (
	"bytes"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"ipmarket/core"
	"ipmarket/rpc/modules"
)

const (
	jsonRPCVersion  = "2.0"
	maxRequestBytes = 1 << 20 // 1 MiB
	rateLimitWindow = time.Minute
	maxTxPerWindow  = 60
)

const (
	codeParseError          = -32700
	codeInvalidRequest      = -32600
	codeMethodNotFound      = -32601
	codeInvalidParams       = -32602
	codeUnauthorized        = -32001
	codeServerError         = -32000
	codeRateLimited         = -32020
	codeNotFound            = -32030
	codeNotOwner            = -32031
	codeInvalidState        = -32032
	codeInsufficientPayment = -32033
)

// AuthTokenEnv names the environment variable holding the bearer token that
// protects mutating methods.
const AuthTokenEnv = "IPMARKET_RPC_TOKEN"

type rateLimiter struct {
	count       int
	windowStart time.Time
}

type Server struct {
	node *core.Node

	mu           sync.Mutex
	rateLimiters map[string]*rateLimiter
	authToken    string
	market       *modules.MarketModule
}

func NewServer(node *core.Node) *Server {
	token := strings.TrimSpace(os.Getenv(AuthTokenEnv))
	return &Server{
		node:         node,
		rateLimiters: make(map[string]*rateLimiter),
		authToken:    token,
		market:       modules.NewMarketModule(node),
	}
}

func (s *Server) Start(addr string) error {
	fmt.Printf("Starting JSON-RPC server on %s\n", addr)
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handle)
	return http.ListenAndServe(addr, mux)
}

// Handler exposes the RPC entrypoint for embedding in an existing mux,
// primarily used in tests.
func (s *Server) Handler() http.Handler {
	return http.HandlerFunc(s.handle)
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

func writeModuleError(w http.ResponseWriter, id interface{}, err *modules.ModuleError) {
	if err == nil {
		writeError(w, http.StatusInternalServerError, id, codeServerError, "unknown module failure", nil)
		return
	}
	writeError(w, err.HTTPStatus, id, err.Code, err.Message, err.Data)
}

// handle is the main request handler that routes to specific handlers.
func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
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
		return
	}
	if len(bytes.TrimSpace(body)) == 0 {
		writeError(w, http.StatusBadRequest, nil, codeInvalidRequest, "request body required", nil)
		return
	}

	req := &RPCRequest{}
	if err := json.Unmarshal(body, req); err != nil {
		writeError(w, http.StatusBadRequest, nil, codeParseError, "invalid JSON payload", err.Error())
		return
	}
	if req.JSONRPC != "" && req.JSONRPC != jsonRPCVersion {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "unsupported jsonrpc version", req.JSONRPC)
		return
	}
	if req.Method == "" {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "method required", nil)
		return
	}

	if mutatingMethods[req.Method] {
		if authErr := s.requireAuth(r); authErr != nil {
			writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
			return
		}
		if !s.allowSource(clientIP(r), time.Now()) {
			writeError(w, http.StatusTooManyRequests, req.ID, codeRateLimited, "rate limit exceeded", nil)
			return
		}
	}

	switch req.Method {
	case "market_createListing":
		s.handleCreateListing(w, req)
	case "market_cancelListing":
		s.handleCancelListing(w, req)
	case "market_createInterest":
		s.handleCreateInterest(w, req)
	case "market_deactivateInterest":
		s.handleDeactivateInterest(w, req)
	case "market_proposeDeal":
		s.handleProposeDeal(w, req)
	case "market_acceptDeal":
		s.handleAcceptDeal(w, req)
	case "market_completeDeal":
		s.handleCompleteDeal(w, req)
	case "market_mint":
		s.handleMint(w, req)
	case "market_getListing":
		s.handleGetListing(w, req)
	case "market_getInterest":
		s.handleGetInterest(w, req)
	case "market_getDeal":
		s.handleGetDeal(w, req)
	case "market_getActiveListings":
		s.handleGetActiveListings(w, req)
	case "market_getSellerListings":
		s.handleGetSellerListings(w, req)
	case "market_getBuyerInterests":
		s.handleGetBuyerInterests(w, req)
	case "market_getUserDeals":
		s.handleGetUserDeals(w, req)
	case "market_getListingDescription":
		s.handleListingHandle(w, req, listingDescriptionField)
	case "market_getListingDetails":
		s.handleListingHandle(w, req, listingDetailsField)
	case "market_getInterestProfile":
		s.handleInterestHandle(w, req, interestProfileField)
	case "market_getInterestCriteria":
		s.handleInterestHandle(w, req, interestCriteriaField)
	case "market_getDealSellerData":
		s.handleDealHandle(w, req, dealSellerDataField)
	case "market_getDealBuyerData":
		s.handleDealHandle(w, req, dealBuyerDataField)
	case "market_getBalance":
		s.handleGetBalance(w, req)
	case "market_listEvents":
		s.handleListEvents(w, req)
	default:
		writeError(w, http.StatusNotFound, req.ID, codeMethodNotFound, fmt.Sprintf("method %q not found", req.Method), nil)
	}
}

// mutatingMethods require bearer authentication and count against the
// per-source rate limit.
var mutatingMethods = map[string]bool{
	"market_createListing":      true,
	"market_cancelListing":      true,
	"market_createInterest":     true,
	"market_deactivateInterest": true,
	"market_proposeDeal":        true,
	"market_acceptDeal":         true,
	"market_completeDeal":       true,
	"market_mint":               true,
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

func (s *Server) allowSource(source string, now time.Time) bool {
	if source == "" {
		source = "unknown"
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	limiter, ok := s.rateLimiters[source]
	if !ok {
		limiter = &rateLimiter{windowStart: now}
		s.rateLimiters[source] = limiter
	}
	if now.Sub(limiter.windowStart) >= rateLimitWindow {
		limiter.windowStart = now
		limiter.count = 0
	}
	if limiter.count >= maxTxPerWindow {
		return false
	}
	limiter.count++
	return true
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
