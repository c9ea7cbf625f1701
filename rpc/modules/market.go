package modules

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"ipmarket/core"
	"ipmarket/crypto"
	"ipmarket/native/market"
)

// defaultEventLimit caps market_listEvents responses when the caller does not
// supply a limit.
const defaultEventLimit = 100

// MarketModule exposes read helpers over committed marketplace state and the
// event history.
type MarketModule struct {
	node *core.Node
}

// NewMarketModule constructs a marketplace RPC helper module.
func NewMarketModule(node *core.Node) *MarketModule {
	return &MarketModule{node: node}
}

var errModuleOffline = &ModuleError{HTTPStatus: http.StatusInternalServerError, Code: codeServerError, Message: "market module not initialised"}

type idParams struct {
	ID uint64 `json:"id"`
}

type limitParams struct {
	Limit *int `json:"limit,omitempty"`
}

type addressParams struct {
	Address string `json:"address"`
}

type listEventsParams struct {
	Prefix string `json:"prefix,omitempty"`
	Limit  *int   `json:"limit,omitempty"`
}

// ListingResult represents a listing returned over RPC.
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

// InterestResult represents a buyer interest returned over RPC.
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

// DealResult represents a deal returned over RPC.
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

// BalanceResult reports the committed ledger balance of an account.
type BalanceResult struct {
	Address string `json:"address"`
	Balance string `json:"balance"`
}

// EventResult represents an emitted marketplace event.
type EventResult struct {
	Sequence   int               `json:"sequence"`
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}

func invalidParams(err error) *ModuleError {
	return &ModuleError{HTTPStatus: http.StatusBadRequest, Code: codeInvalidParams, Message: "invalid parameter object", Data: err.Error()}
}

func notFound(kind string, id uint64) *ModuleError {
	return &ModuleError{HTTPStatus: http.StatusNotFound, Code: codeNotFound, Message: fmt.Sprintf("%s %d not found", kind, id)}
}

func serverError(err error) *ModuleError {
	return &ModuleError{HTTPStatus: http.StatusInternalServerError, Code: codeServerError, Message: err.Error()}
}

func formatAddr(addr [20]byte) string {
	return crypto.NewAddress(crypto.IPMPrefix, addr[:]).String()
}

func formatHandleHex(h market.Handle) string {
	if h.IsZero() {
		return ""
	}
	return hex.EncodeToString(h[:])
}

func formatListing(l *market.Listing) *ListingResult {
	return &ListingResult{
		ID:                   l.ID,
		Owner:                formatAddr(l.Owner),
		Type:                 l.Type.String(),
		Title:                l.Title,
		EncryptedDescription: formatHandleHex(l.EncryptedDescription),
		EncryptedDetails:     formatHandleHex(l.EncryptedDetails),
		Price:                l.Price.String(),
		Status:               l.Status.String(),
		CreatedAt:            l.CreatedAt,
	}
}

func formatInterest(b *market.BuyerInterest) *InterestResult {
	return &InterestResult{
		ID:                 b.ID,
		Buyer:              formatAddr(b.Buyer),
		Category:           b.Category,
		EncryptedInterests: formatHandleHex(b.EncryptedInterests),
		EncryptedCriteria:  formatHandleHex(b.EncryptedCriteria),
		MaxPrice:           b.MaxPrice.String(),
		CreatedAt:          b.CreatedAt,
		Active:             b.Active,
	}
}

func formatDeal(d *market.Deal) *DealResult {
	return &DealResult{
		ID:                  d.ID,
		ListingID:           d.ListingID,
		InterestID:          d.InterestID,
		Seller:              formatAddr(d.Seller),
		Buyer:               formatAddr(d.Buyer),
		ProposedPrice:       d.ProposedPrice.String(),
		EncryptedSellerData: formatHandleHex(d.EncryptedSellerData),
		EncryptedBuyerData:  formatHandleHex(d.EncryptedBuyerData),
		Status:              d.Status.String(),
		CreatedAt:           d.CreatedAt,
		CompletedAt:         d.CompletedAt,
	}
}

func decodeAddressParam(raw json.RawMessage) ([20]byte, *ModuleError) {
	var out [20]byte
	var params addressParams
	if err := json.Unmarshal(raw, &params); err != nil {
		return out, invalidParams(err)
	}
	decoded, err := crypto.DecodeAddress(strings.TrimSpace(params.Address))
	if err != nil {
		return out, &ModuleError{HTTPStatus: http.StatusBadRequest, Code: codeInvalidParams, Message: err.Error()}
	}
	copy(out[:], decoded.Bytes())
	return out, nil
}

// GetListing resolves a listing by id.
func (m *MarketModule) GetListing(raw json.RawMessage) (*ListingResult, *ModuleError) {
	if m == nil || m.node == nil {
		return nil, errModuleOffline
	}
	var params idParams
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, invalidParams(err)
	}
	listing, ok := m.node.GetListing(params.ID)
	if !ok {
		return nil, notFound("listing", params.ID)
	}
	return formatListing(listing), nil
}

// GetInterest resolves a buyer interest by id.
func (m *MarketModule) GetInterest(raw json.RawMessage) (*InterestResult, *ModuleError) {
	if m == nil || m.node == nil {
		return nil, errModuleOffline
	}
	var params idParams
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, invalidParams(err)
	}
	interest, ok := m.node.GetInterest(params.ID)
	if !ok {
		return nil, notFound("interest", params.ID)
	}
	return formatInterest(interest), nil
}

// GetDeal resolves a deal by id.
func (m *MarketModule) GetDeal(raw json.RawMessage) (*DealResult, *ModuleError) {
	if m == nil || m.node == nil {
		return nil, errModuleOffline
	}
	var params idParams
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, invalidParams(err)
	}
	deal, ok := m.node.GetDeal(params.ID)
	if !ok {
		return nil, notFound("deal", params.ID)
	}
	return formatDeal(deal), nil
}

// GetActiveListings returns currently purchasable listings in ascending id
// order, optionally capped by limit.
func (m *MarketModule) GetActiveListings(raw json.RawMessage) ([]*ListingResult, *ModuleError) {
	if m == nil || m.node == nil {
		return nil, errModuleOffline
	}
	limit := 0
	if len(raw) > 0 {
		var params limitParams
		if err := json.Unmarshal(raw, &params); err != nil {
			return nil, invalidParams(err)
		}
		if params.Limit != nil {
			limit = *params.Limit
		}
	}
	listings, err := m.node.ActiveListings(limit)
	if err != nil {
		return nil, serverError(err)
	}
	results := make([]*ListingResult, 0, len(listings))
	for _, l := range listings {
		results = append(results, formatListing(l))
	}
	return results, nil
}

// GetSellerListings returns every listing the address has ever created,
// retired ones included, in creation order.
func (m *MarketModule) GetSellerListings(raw json.RawMessage) ([]*ListingResult, *ModuleError) {
	if m == nil || m.node == nil {
		return nil, errModuleOffline
	}
	addr, modErr := decodeAddressParam(raw)
	if modErr != nil {
		return nil, modErr
	}
	listings, err := m.node.ListingsByOwner(addr)
	if err != nil {
		return nil, serverError(err)
	}
	results := make([]*ListingResult, 0, len(listings))
	for _, l := range listings {
		results = append(results, formatListing(l))
	}
	return results, nil
}

// GetBuyerInterests returns every interest profile the address has created,
// inactive ones included, in creation order.
func (m *MarketModule) GetBuyerInterests(raw json.RawMessage) ([]*InterestResult, *ModuleError) {
	if m == nil || m.node == nil {
		return nil, errModuleOffline
	}
	addr, modErr := decodeAddressParam(raw)
	if modErr != nil {
		return nil, modErr
	}
	interests, err := m.node.InterestsByBuyer(addr)
	if err != nil {
		return nil, serverError(err)
	}
	results := make([]*InterestResult, 0, len(interests))
	for _, b := range interests {
		results = append(results, formatInterest(b))
	}
	return results, nil
}

// GetUserDeals returns every deal the address participates in, as seller or
// buyer, in creation order.
func (m *MarketModule) GetUserDeals(raw json.RawMessage) ([]*DealResult, *ModuleError) {
	if m == nil || m.node == nil {
		return nil, errModuleOffline
	}
	addr, modErr := decodeAddressParam(raw)
	if modErr != nil {
		return nil, modErr
	}
	deals, err := m.node.DealsByParty(addr)
	if err != nil {
		return nil, serverError(err)
	}
	results := make([]*DealResult, 0, len(deals))
	for _, d := range deals {
		results = append(results, formatDeal(d))
	}
	return results, nil
}

// GetBalance reports the committed ledger balance of an account.
func (m *MarketModule) GetBalance(raw json.RawMessage) (*BalanceResult, *ModuleError) {
	if m == nil || m.node == nil {
		return nil, errModuleOffline
	}
	addr, modErr := decodeAddressParam(raw)
	if modErr != nil {
		return nil, modErr
	}
	balance, err := m.node.Balance(addr)
	if err != nil {
		return nil, serverError(err)
	}
	return &BalanceResult{Address: formatAddr(addr), Balance: balance.String()}, nil
}

// ListEvents returns emitted marketplace events in emission order, optionally
// filtered by type prefix and capped by limit.
func (m *MarketModule) ListEvents(raw json.RawMessage) ([]*EventResult, *ModuleError) {
	if m == nil || m.node == nil {
		return nil, errModuleOffline
	}
	var params listEventsParams
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &params); err != nil {
			return nil, invalidParams(err)
		}
	}
	limit := defaultEventLimit
	if params.Limit != nil {
		if *params.Limit <= 0 {
			return nil, &ModuleError{HTTPStatus: http.StatusBadRequest, Code: codeInvalidParams, Message: "limit must be positive"}
		}
		limit = *params.Limit
	}
	prefix := strings.TrimSpace(params.Prefix)

	all := m.node.Events()
	results := make([]*EventResult, 0, limit)
	for seq, evt := range all {
		if evt == nil {
			continue
		}
		if prefix != "" && !strings.HasPrefix(evt.Type, prefix) {
			continue
		}
		attrs := make(map[string]string, len(evt.Attributes))
		for k, v := range evt.Attributes {
			attrs[k] = v
		}
		results = append(results, &EventResult{Sequence: seq, Type: evt.Type, Attributes: attrs})
		if len(results) >= limit {
			break
		}
	}
	return results, nil
}
