package market

import (
	"encoding/hex"
	"math/big"
	"strconv"

	"ipmarket/core/types"
)

const (
	EventTypeListingCreated       = "market.listing.created"
	EventTypeListingStatusChanged = "market.listing.status_changed"
	EventTypeInterestCreated      = "market.interest.created"
	EventTypeInterestDeactivated  = "market.interest.deactivated"
	EventTypeDealProposed         = "market.deal.proposed"
	EventTypeDealAccepted         = "market.deal.accepted"
	EventTypeDealCompleted        = "market.deal.completed"
	EventTypeMint                 = "market.mint"
)

// NewListingCreatedEvent returns the canonical event payload for a newly
// published listing.
func NewListingCreatedEvent(l *Listing) *types.Event {
	return newListingEvent(EventTypeListingCreated, l)
}

// NewListingStatusChangedEvent returns the payload emitted whenever a listing
// leaves the active state.
func NewListingStatusChangedEvent(l *Listing) *types.Event {
	return newListingEvent(EventTypeListingStatusChanged, l)
}

// NewInterestCreatedEvent returns the payload for a newly published buyer
// interest.
func NewInterestCreatedEvent(b *BuyerInterest) *types.Event {
	return newInterestEvent(EventTypeInterestCreated, b)
}

// NewInterestDeactivatedEvent returns the payload emitted when an interest is
// retired.
func NewInterestDeactivatedEvent(b *BuyerInterest) *types.Event {
	return newInterestEvent(EventTypeInterestDeactivated, b)
}

// NewDealProposedEvent returns the payload for a freshly proposed deal.
func NewDealProposedEvent(d *Deal) *types.Event { return newDealEvent(EventTypeDealProposed, d) }

// NewDealAcceptedEvent returns the payload emitted when a counterparty
// accepts a pending deal.
func NewDealAcceptedEvent(d *Deal) *types.Event { return newDealEvent(EventTypeDealAccepted, d) }

// NewDealCompletedEvent returns the payload emitted after settlement.
func NewDealCompletedEvent(d *Deal) *types.Event { return newDealEvent(EventTypeDealCompleted, d) }

// NewMintEvent returns the payload emitted when new funds are issued.
func NewMintEvent(addr [20]byte, amount *big.Int) *types.Event {
	attrs := map[string]string{
		"account": hex.EncodeToString(addr[:]),
	}
	if amount != nil {
		attrs["amount"] = amount.String()
	}
	return &types.Event{Type: EventTypeMint, Attributes: attrs}
}

func newListingEvent(eventType string, l *Listing) *types.Event {
	attrs := make(map[string]string)
	if l == nil {
		return &types.Event{Type: eventType, Attributes: attrs}
	}
	sanitized, err := SanitizeListing(l)
	if err != nil {
		return &types.Event{Type: eventType, Attributes: attrs}
	}
	attrs["id"] = strconv.FormatUint(sanitized.ID, 10)
	attrs["owner"] = hex.EncodeToString(sanitized.Owner[:])
	attrs["ipType"] = sanitized.Type.String()
	attrs["price"] = sanitized.Price.String()
	attrs["status"] = sanitized.Status.String()
	attrs["createdAt"] = strconv.FormatInt(sanitized.CreatedAt, 10)
	return &types.Event{Type: eventType, Attributes: attrs}
}

func newInterestEvent(eventType string, b *BuyerInterest) *types.Event {
	attrs := make(map[string]string)
	if b == nil {
		return &types.Event{Type: eventType, Attributes: attrs}
	}
	sanitized, err := SanitizeInterest(b)
	if err != nil {
		return &types.Event{Type: eventType, Attributes: attrs}
	}
	attrs["id"] = strconv.FormatUint(sanitized.ID, 10)
	attrs["buyer"] = hex.EncodeToString(sanitized.Buyer[:])
	attrs["category"] = sanitized.Category
	attrs["maxPrice"] = sanitized.MaxPrice.String()
	attrs["active"] = strconv.FormatBool(sanitized.Active)
	attrs["createdAt"] = strconv.FormatInt(sanitized.CreatedAt, 10)
	return &types.Event{Type: eventType, Attributes: attrs}
}

func newDealEvent(eventType string, d *Deal) *types.Event {
	attrs := make(map[string]string)
	if d == nil {
		return &types.Event{Type: eventType, Attributes: attrs}
	}
	sanitized, err := SanitizeDeal(d)
	if err != nil {
		return &types.Event{Type: eventType, Attributes: attrs}
	}
	attrs["id"] = strconv.FormatUint(sanitized.ID, 10)
	attrs["listingId"] = strconv.FormatUint(sanitized.ListingID, 10)
	attrs["interestId"] = strconv.FormatUint(sanitized.InterestID, 10)
	attrs["seller"] = hex.EncodeToString(sanitized.Seller[:])
	attrs["buyer"] = hex.EncodeToString(sanitized.Buyer[:])
	attrs["price"] = sanitized.ProposedPrice.String()
	attrs["status"] = sanitized.Status.String()
	attrs["createdAt"] = strconv.FormatInt(sanitized.CreatedAt, 10)
	if sanitized.CompletedAt != 0 {
		attrs["completedAt"] = strconv.FormatInt(sanitized.CompletedAt, 10)
	}
	return &types.Event{Type: eventType, Attributes: attrs}
}
