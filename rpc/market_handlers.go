package rpc

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"

	"ipmarket/crypto"
	"ipmarket/native/market"
	nativecommon "ipmarket/native/common"
	"ipmarket/observability/metrics"
)

// listing, interest, and deal handle accessors share one handler each with a
// field selector.
type listingHandleField int

const (
	listingDescriptionField listingHandleField = iota
	listingDetailsField
)

type interestHandleField int

const (
	interestProfileField interestHandleField = iota
	interestCriteriaField
)

type dealHandleField int

const (
	dealSellerDataField dealHandleField = iota
	dealBuyerDataField
)

type ListingResult struct {
	ID                   uint64 `json:"id"`
	Owner                string `json:"owner"`
	Type                 string `json:"ipType"`
	Title                string `json:"title"`
	EncryptedDescription string `json:"encryptedDescription"`
	EncryptedDetails     string `json:"encryptedDetails,omitempty"`
	Price                string `json:"price"`
	Status               string `json:"status"`
	CreatedAt            int64  `json:"createdAt"`
}

type InterestResult struct {
	ID                 uint64 `json:"id"`
	Buyer              string `json:"buyer"`
	Category           string `json:"category"`
	EncryptedInterests string `json:"encryptedInterests"`
	EncryptedCriteria  string `json:"encryptedCriteria,omitempty"`
	MaxPrice           string `json:"maxPrice"`
	CreatedAt          int64  `json:"createdAt"`
	Active             bool   `json:"active"`
}

type DealResult struct {
	ID                  uint64 `json:"id"`
	ListingID           uint64 `json:"listingId"`
	InterestID          uint64 `json:"interestId"`
	Seller              string `json:"seller"`
	Buyer               string `json:"buyer"`
	ProposedPrice       string `json:"proposedPrice"`
	EncryptedSellerData string `json:"encryptedSellerData,omitempty"`
	EncryptedBuyerData  string `json:"encryptedBuyerData,omitempty"`
	Status              string `json:"status"`
	CreatedAt           int64  `json:"createdAt"`
	CompletedAt         int64  `json:"completedAt,omitempty"`
}

type HandleResult struct {
	ID     uint64 `json:"id"`
	Field  string `json:"field"`
	Handle string `json:"handle"`
}

func formatAddress(addr [20]byte) string {
	return crypto.NewAddress(crypto.IPMPrefix, addr[:]).String()
}

func formatHandle(h market.Handle) string {
	if h.IsZero() {
		return ""
	}
	return hex.EncodeToString(h[:])
}

func formatListing(l *market.Listing) *ListingResult {
	if l == nil {
		return nil
	}
	return &ListingResult{
		ID:                   l.ID,
		Owner:                formatAddress(l.Owner),
		Type:                 l.Type.String(),
		Title:                l.Title,
		EncryptedDescription: formatHandle(l.EncryptedDescription),
		EncryptedDetails:     formatHandle(l.EncryptedDetails),
		Price:                l.Price.String(),
		Status:               l.Status.String(),
		CreatedAt:            l.CreatedAt,
	}
}

func formatInterest(b *market.BuyerInterest) *InterestResult {
	if b == nil {
		return nil
	}
	return &InterestResult{
		ID:                 b.ID,
		Buyer:              formatAddress(b.Buyer),
		Category:           b.Category,
		EncryptedInterests: formatHandle(b.EncryptedInterests),
		EncryptedCriteria:  formatHandle(b.EncryptedCriteria),
		MaxPrice:           b.MaxPrice.String(),
		CreatedAt:          b.CreatedAt,
		Active:             b.Active,
	}
}

func formatDeal(d *market.Deal) *DealResult {
	if d == nil {
		return nil
	}
	return &DealResult{
		ID:                  d.ID,
		ListingID:           d.ListingID,
		InterestID:          d.InterestID,
		Seller:              formatAddress(d.Seller),
		Buyer:               formatAddress(d.Buyer),
		ProposedPrice:       d.ProposedPrice.String(),
		EncryptedSellerData: formatHandle(d.EncryptedSellerData),
		EncryptedBuyerData:  formatHandle(d.EncryptedBuyerData),
		Status:              d.Status.String(),
		CreatedAt:           d.CreatedAt,
		CompletedAt:         d.CompletedAt,
	}
}

func decodeParams(req *RPCRequest, out interface{}) error {
	if len(req.Params) != 1 {
		return fmt.Errorf("expected a single parameter object")
	}
	return json.Unmarshal(req.Params[0], out)
}

func parseCaller(raw string) ([20]byte, error) {
	var out [20]byte
	decoded, err := crypto.DecodeAddress(strings.TrimSpace(raw))
	if err != nil {
		return out, fmt.Errorf("invalid caller address: %w", err)
	}
	copy(out[:], decoded.Bytes())
	return out, nil
}

// parseHandle accepts an empty string as the zero handle; otherwise the value
// must be exactly 32 hex-encoded bytes.
func parseHandle(raw string) (market.Handle, error) {
	var h market.Handle
	trimmed := strings.TrimSpace(strings.TrimPrefix(raw, "0x"))
	if trimmed == "" {
		return h, nil
	}
	decoded, err := hex.DecodeString(trimmed)
	if err != nil {
		return h, fmt.Errorf("invalid handle encoding: %w", err)
	}
	if len(decoded) != market.HandleSize {
		return h, fmt.Errorf("handle must be %d bytes, got %d", market.HandleSize, len(decoded))
	}
	copy(h[:], decoded)
	return h, nil
}

func parseAmount(raw string) (*big.Int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, fmt.Errorf("amount required")
	}
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("invalid decimal amount %q", raw)
	}
	return amount, nil
}

// errorToRPC maps the marketplace failure taxonomy onto HTTP statuses and
// JSON-RPC codes.
func errorToRPC(err error) (int, int) {
	switch {
	case errors.Is(err, market.ErrInvalidInput):
		return http.StatusBadRequest, codeInvalidParams
	case errors.Is(err, market.ErrNotFound):
		return http.StatusNotFound, codeNotFound
	case errors.Is(err, market.ErrNotOwner), errors.Is(err, market.ErrNotAuthorized):
		return http.StatusForbidden, codeNotOwner
	case errors.Is(err, market.ErrInvalidState):
		return http.StatusConflict, codeInvalidState
	case errors.Is(err, market.ErrInsufficientPayment):
		return http.StatusPaymentRequired, codeInsufficientPayment
	case errors.Is(err, nativecommon.ErrModulePaused):
		return http.StatusServiceUnavailable, codeServerError
	default:
		return http.StatusInternalServerError, codeServerError
	}
}

func writeEngineError(w http.ResponseWriter, id interface{}, method string, err error) {
	metrics.Market().ObserveOperationFailure(method)
	status, code := errorToRPC(err)
	writeError(w, status, id, code, err.Error(), nil)
}

type createListingParams struct {
	Caller               string `json:"caller"`
	IPType               string `json:"ipType"`
	Title                string `json:"title"`
	EncryptedDescription string `json:"encryptedDescription"`
	EncryptedDetails     string `json:"encryptedDetails,omitempty"`
	Price                string `json:"price"`
}

func (s *Server) handleCreateListing(w http.ResponseWriter, req *RPCRequest) {
	var params createListingParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameter object", err.Error())
		return
	}
	caller, err := parseCaller(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	ipType, err := market.ParseIPType(params.IPType)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	description, err := parseHandle(params.EncryptedDescription)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	details, err := parseHandle(params.EncryptedDetails)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	price, err := parseAmount(params.Price)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	listing, err := s.node.CreateListing(caller, ipType, params.Title, description, details, price)
	if err != nil {
		writeEngineError(w, req.ID, "market_createListing", err)
		return
	}
	metrics.Market().ObserveListingCreated()
	writeResult(w, req.ID, formatListing(listing))
}

type idActionParams struct {
	Caller string `json:"caller"`
	ID     uint64 `json:"id"`
}

func (s *Server) handleCancelListing(w http.ResponseWriter, req *RPCRequest) {
	var params idActionParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameter object", err.Error())
		return
	}
	caller, err := parseCaller(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	if err := s.node.CancelListing(caller, params.ID); err != nil {
		writeEngineError(w, req.ID, "market_cancelListing", err)
		return
	}
	writeResult(w, req.ID, map[string]bool{"cancelled": true})
}

type createInterestParams struct {
	Caller             string `json:"caller"`
	Category           string `json:"category"`
	EncryptedInterests string `json:"encryptedInterests"`
	EncryptedCriteria  string `json:"encryptedCriteria,omitempty"`
	MaxPrice           string `json:"maxPrice"`
}

func (s *Server) handleCreateInterest(w http.ResponseWriter, req *RPCRequest) {
	var params createInterestParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameter object", err.Error())
		return
	}
	caller, err := parseCaller(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	interests, err := parseHandle(params.EncryptedInterests)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	criteria, err := parseHandle(params.EncryptedCriteria)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	maxPrice, err := parseAmount(params.MaxPrice)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	interest, err := s.node.CreateInterest(caller, params.Category, interests, criteria, maxPrice)
	if err != nil {
		writeEngineError(w, req.ID, "market_createInterest", err)
		return
	}
	metrics.Market().ObserveInterestCreated()
	writeResult(w, req.ID, formatInterest(interest))
}

func (s *Server) handleDeactivateInterest(w http.ResponseWriter, req *RPCRequest) {
	var params idActionParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameter object", err.Error())
		return
	}
	caller, err := parseCaller(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	if err := s.node.DeactivateInterest(caller, params.ID); err != nil {
		writeEngineError(w, req.ID, "market_deactivateInterest", err)
		return
	}
	writeResult(w, req.ID, map[string]bool{"deactivated": true})
}

type proposeDealParams struct {
	Caller              string `json:"caller"`
	ListingID           uint64 `json:"listingId"`
	InterestID          uint64 `json:"interestId"`
	Price               string `json:"price"`
	EncryptedSellerData string `json:"encryptedSellerData,omitempty"`
	EncryptedBuyerData  string `json:"encryptedBuyerData,omitempty"`
}

func (s *Server) handleProposeDeal(w http.ResponseWriter, req *RPCRequest) {
	var params proposeDealParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameter object", err.Error())
		return
	}
	caller, err := parseCaller(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	price, err := parseAmount(params.Price)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	sellerData, err := parseHandle(params.EncryptedSellerData)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	buyerData, err := parseHandle(params.EncryptedBuyerData)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	deal, err := s.node.ProposeDeal(caller, params.ListingID, params.InterestID, price, sellerData, buyerData)
	if err != nil {
		writeEngineError(w, req.ID, "market_proposeDeal", err)
		return
	}
	metrics.Market().ObserveDealTransition(deal.Status.String())
	writeResult(w, req.ID, formatDeal(deal))
}

type acceptDealParams struct {
	Caller string `json:"caller"`
	ID     uint64 `json:"id"`
}

func (s *Server) handleAcceptDeal(w http.ResponseWriter, req *RPCRequest) {
	var params acceptDealParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameter object", err.Error())
		return
	}
	caller, err := parseCaller(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	deal, err := s.node.AcceptDeal(caller, params.ID)
	if err != nil {
		writeEngineError(w, req.ID, "market_acceptDeal", err)
		return
	}
	metrics.Market().ObserveDealTransition(deal.Status.String())
	writeResult(w, req.ID, formatDeal(deal))
}

type completeDealParams struct {
	Caller  string `json:"caller"`
	ID      uint64 `json:"id"`
	Payment string `json:"payment"`
}

func (s *Server) handleCompleteDeal(w http.ResponseWriter, req *RPCRequest) {
	var params completeDealParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameter object", err.Error())
		return
	}
	caller, err := parseCaller(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	payment, err := parseAmount(params.Payment)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	deal, err := s.node.CompleteDeal(caller, params.ID, payment)
	if err != nil {
		writeEngineError(w, req.ID, "market_completeDeal", err)
		return
	}
	metrics.Market().ObserveDealTransition(deal.Status.String())
	settled, _ := new(big.Float).SetInt(deal.ProposedPrice).Float64()
	metrics.Market().ObserveSettlement(settled)
	writeResult(w, req.ID, formatDeal(deal))
}

type mintParams struct {
	Address string `json:"address"`
	Amount  string `json:"amount"`
}

func (s *Server) handleMint(w http.ResponseWriter, req *RPCRequest) {
	var params mintParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameter object", err.Error())
		return
	}
	addr, err := parseCaller(params.Address)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	amount, err := parseAmount(params.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	if err := s.node.Mint(addr, amount); err != nil {
		writeEngineError(w, req.ID, "market_mint", err)
		return
	}
	writeResult(w, req.ID, map[string]bool{"minted": true})
}

type idQueryParams struct {
	ID uint64 `json:"id"`
	// Proof carries an external authorization artifact for ciphertext
	// accessors. Verification happens off-ledger; the field is accepted and
	// ignored here.
	Proof string `json:"proof,omitempty"`
}

func (s *Server) handleGetListing(w http.ResponseWriter, req *RPCRequest) {
	result, modErr := s.market.GetListing(singleParam(req))
	if modErr != nil {
		writeModuleError(w, req.ID, modErr)
		return
	}
	writeResult(w, req.ID, result)
}

func (s *Server) handleGetInterest(w http.ResponseWriter, req *RPCRequest) {
	result, modErr := s.market.GetInterest(singleParam(req))
	if modErr != nil {
		writeModuleError(w, req.ID, modErr)
		return
	}
	writeResult(w, req.ID, result)
}

func (s *Server) handleGetDeal(w http.ResponseWriter, req *RPCRequest) {
	result, modErr := s.market.GetDeal(singleParam(req))
	if modErr != nil {
		writeModuleError(w, req.ID, modErr)
		return
	}
	writeResult(w, req.ID, result)
}

func (s *Server) handleGetActiveListings(w http.ResponseWriter, req *RPCRequest) {
	result, modErr := s.market.GetActiveListings(singleParam(req))
	if modErr != nil {
		writeModuleError(w, req.ID, modErr)
		return
	}
	writeResult(w, req.ID, result)
}

func (s *Server) handleGetSellerListings(w http.ResponseWriter, req *RPCRequest) {
	result, modErr := s.market.GetSellerListings(singleParam(req))
	if modErr != nil {
		writeModuleError(w, req.ID, modErr)
		return
	}
	writeResult(w, req.ID, result)
}

func (s *Server) handleGetBuyerInterests(w http.ResponseWriter, req *RPCRequest) {
	result, modErr := s.market.GetBuyerInterests(singleParam(req))
	if modErr != nil {
		writeModuleError(w, req.ID, modErr)
		return
	}
	writeResult(w, req.ID, result)
}

func (s *Server) handleGetUserDeals(w http.ResponseWriter, req *RPCRequest) {
	result, modErr := s.market.GetUserDeals(singleParam(req))
	if modErr != nil {
		writeModuleError(w, req.ID, modErr)
		return
	}
	writeResult(w, req.ID, result)
}

func (s *Server) handleGetBalance(w http.ResponseWriter, req *RPCRequest) {
	result, modErr := s.market.GetBalance(singleParam(req))
	if modErr != nil {
		writeModuleError(w, req.ID, modErr)
		return
	}
	writeResult(w, req.ID, result)
}

func (s *Server) handleListEvents(w http.ResponseWriter, req *RPCRequest) {
	raw := json.RawMessage(nil)
	if len(req.Params) == 1 {
		raw = req.Params[0]
	}
	result, modErr := s.market.ListEvents(raw)
	if modErr != nil {
		writeModuleError(w, req.ID, modErr)
		return
	}
	writeResult(w, req.ID, result)
}

func singleParam(req *RPCRequest) json.RawMessage {
	if len(req.Params) == 1 {
		return req.Params[0]
	}
	return nil
}

func (s *Server) handleListingHandle(w http.ResponseWriter, req *RPCRequest, field listingHandleField) {
	var params idQueryParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameter object", err.Error())
		return
	}
	listing, ok := s.node.GetListing(params.ID)
	if !ok {
		writeError(w, http.StatusNotFound, req.ID, codeNotFound, fmt.Sprintf("listing %d not found", params.ID), nil)
		return
	}
	result := &HandleResult{ID: params.ID}
	switch field {
	case listingDescriptionField:
		result.Field = "encryptedDescription"
		result.Handle = formatHandle(listing.EncryptedDescription)
	case listingDetailsField:
		result.Field = "encryptedDetails"
		result.Handle = formatHandle(listing.EncryptedDetails)
	}
	writeResult(w, req.ID, result)
}

func (s *Server) handleInterestHandle(w http.ResponseWriter, req *RPCRequest, field interestHandleField) {
	var params idQueryParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameter object", err.Error())
		return
	}
	interest, ok := s.node.GetInterest(params.ID)
	if !ok {
		writeError(w, http.StatusNotFound, req.ID, codeNotFound, fmt.Sprintf("interest %d not found", params.ID), nil)
		return
	}
	result := &HandleResult{ID: params.ID}
	switch field {
	case interestProfileField:
		result.Field = "encryptedInterests"
		result.Handle = formatHandle(interest.EncryptedInterests)
	case interestCriteriaField:
		result.Field = "encryptedCriteria"
		result.Handle = formatHandle(interest.EncryptedCriteria)
	}
	writeResult(w, req.ID, result)
}

func (s *Server) handleDealHandle(w http.ResponseWriter, req *RPCRequest, field dealHandleField) {
	var params idQueryParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameter object", err.Error())
		return
	}
	deal, ok := s.node.GetDeal(params.ID)
	if !ok {
		writeError(w, http.StatusNotFound, req.ID, codeNotFound, fmt.Sprintf("deal %d not found", params.ID), nil)
		return
	}
	result := &HandleResult{ID: params.ID}
	switch field {
	case dealSellerDataField:
		result.Field = "encryptedSellerData"
		result.Handle = formatHandle(deal.EncryptedSellerData)
	case dealBuyerDataField:
		result.Field = "encryptedBuyerData"
		result.Handle = formatHandle(deal.EncryptedBuyerData)
	}
	writeResult(w, req.ID, result)
}
