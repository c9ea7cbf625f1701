package market

import (
	"fmt"
	"math/big"

	nativecommon "ipmarket/native/common"
)

// ProposeDeal opens a pending deal between an active listing and an active
// interest. Either the listing owner or the interest buyer may propose; the
// counterparties and price are snapshotted into the deal and never re-derived.
func (e *Engine) ProposeDeal(caller [20]byte, listingID, interestID uint64, price *big.Int, encSellerData, encBuyerData Handle) (*Deal, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if err := nativecommon.Guard(e.pauses, dealModuleName); err != nil {
		return nil, err
	}
	amount := cloneBigInt(price)
	if amount.Sign() <= 0 {
		return nil, fmt.Errorf("%w: proposed price must be positive", ErrInvalidInput)
	}
	listing, ok := e.state.ListingGet(listingID)
	if !ok {
		return nil, fmt.Errorf("%w: listing %d", ErrNotFound, listingID)
	}
	if listing.Status != ListingActive {
		return nil, fmt.Errorf("%w: listing %d is %s", ErrInvalidState, listingID, listing.Status)
	}
	interest, ok := e.state.InterestGet(interestID)
	if !ok {
		return nil, fmt.Errorf("%w: interest %d", ErrNotFound, interestID)
	}
	if !interest.Active {
		return nil, fmt.Errorf("%w: interest %d is inactive", ErrInvalidState, interestID)
	}
	if caller != listing.Owner && caller != interest.Buyer {
		return nil, fmt.Errorf("%w: caller is neither listing owner nor interest buyer", ErrNotAuthorized)
	}
	if amount.Cmp(interest.MaxPrice) > 0 {
		return nil, fmt.Errorf("%w: proposed price %s exceeds interest ceiling %s", ErrInvalidInput, amount, interest.MaxPrice)
	}
	id, err := e.state.NextDealID()
	if err != nil {
		return nil, err
	}
	deal := &Deal{
		ID:                  id,
		ListingID:           listingID,
		InterestID:          interestID,
		Seller:              listing.Owner,
		Buyer:               interest.Buyer,
		ProposedPrice:       amount,
		EncryptedSellerData: encSellerData,
		EncryptedBuyerData:  encBuyerData,
		Status:              DealPending,
		CreatedAt:           e.now(),
	}
	if err := e.state.DealPut(deal); err != nil {
		return nil, err
	}
	if err := e.state.DealIndexAppend(deal.Seller, id); err != nil {
		return nil, err
	}
	if deal.Buyer != deal.Seller {
		if err := e.state.DealIndexAppend(deal.Buyer, id); err != nil {
			return nil, err
		}
	}
	e.emit(NewDealProposedEvent(deal))
	return deal.Clone(), nil
}

// AcceptDeal moves a pending deal to accepted. Either counterparty may
// accept; the degenerate case where one account sits on both sides is
// refused. The referenced listing and interest must both still be live; a
// retirement between proposal and acceptance dead-ends the deal.
func (e *Engine) AcceptDeal(caller [20]byte, dealID uint64) (*Deal, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if err := nativecommon.Guard(e.pauses, dealModuleName); err != nil {
		return nil, err
	}
	deal, ok := e.state.DealGet(dealID)
	if !ok {
		return nil, fmt.Errorf("%w: deal %d", ErrNotFound, dealID)
	}
	if caller != deal.Buyer && caller != deal.Seller {
		return nil, fmt.Errorf("%w: deal %d", ErrNotAuthorized, dealID)
	}
	if deal.Buyer == deal.Seller {
		return nil, fmt.Errorf("%w: deal %d is self-dealing", ErrNotAuthorized, dealID)
	}
	if deal.Status != DealPending {
		return nil, fmt.Errorf("%w: deal %d is %s", ErrInvalidState, dealID, deal.Status)
	}
	listing, ok := e.state.ListingGet(deal.ListingID)
	if !ok {
		return nil, fmt.Errorf("%w: listing %d", ErrNotFound, deal.ListingID)
	}
	if listing.Status != ListingActive {
		return nil, fmt.Errorf("%w: listing %d is %s", ErrInvalidState, deal.ListingID, listing.Status)
	}
	interest, ok := e.state.InterestGet(deal.InterestID)
	if !ok {
		return nil, fmt.Errorf("%w: interest %d", ErrNotFound, deal.InterestID)
	}
	if !interest.Active {
		return nil, fmt.Errorf("%w: interest %d is inactive", ErrInvalidState, deal.InterestID)
	}
	deal.Status = DealAccepted
	if err := e.state.DealPut(deal); err != nil {
		return nil, err
	}
	e.emit(NewDealAcceptedEvent(deal))
	return deal.Clone(), nil
}

// CompleteDeal settles an accepted deal. Only the buyer may complete, and the
// attached payment must cover the proposed price. Settlement pays the seller
// exactly the proposed price and returns any surplus to the buyer; the deal,
// listing, and payment either all take effect or none do.
func (e *Engine) CompleteDeal(caller [20]byte, dealID uint64, payment *big.Int) (*Deal, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if err := nativecommon.Guard(e.pauses, dealModuleName); err != nil {
		return nil, err
	}
	deal, ok := e.state.DealGet(dealID)
	if !ok {
		return nil, fmt.Errorf("%w: deal %d", ErrNotFound, dealID)
	}
	if caller != deal.Buyer {
		return nil, fmt.Errorf("%w: deal %d", ErrNotAuthorized, dealID)
	}
	if deal.Status != DealAccepted {
		return nil, fmt.Errorf("%w: deal %d is %s", ErrInvalidState, dealID, deal.Status)
	}
	offered := cloneBigInt(payment)
	if offered.Cmp(deal.ProposedPrice) < 0 {
		return nil, fmt.Errorf("%w: payment %s below price %s", ErrInsufficientPayment, offered, deal.ProposedPrice)
	}
	listing, ok := e.state.ListingGet(deal.ListingID)
	if !ok {
		return nil, fmt.Errorf("%w: listing %d", ErrNotFound, deal.ListingID)
	}
	if listing.Status != ListingActive {
		return nil, fmt.Errorf("%w: listing %d is %s", ErrInvalidState, deal.ListingID, listing.Status)
	}

	// Record the outcome before moving funds. The node discards the whole
	// write set if any transfer leg fails, so a partial settlement is never
	// observable.
	deal.Status = DealCompleted
	deal.CompletedAt = e.now()
	if err := e.state.DealPut(deal); err != nil {
		return nil, err
	}
	listing.Status = ListingSold
	if err := e.state.ListingPut(listing); err != nil {
		return nil, err
	}
	if err := e.state.ActiveListingRemove(listing.ID); err != nil {
		return nil, err
	}

	vault := e.state.MarketVaultAddress()
	if err := e.transfer(deal.Buyer, vault, offered); err != nil {
		return nil, err
	}
	if err := e.transfer(vault, deal.Seller, deal.ProposedPrice); err != nil {
		return nil, err
	}
	surplus := new(big.Int).Sub(offered, deal.ProposedPrice)
	if err := e.transfer(vault, deal.Buyer, surplus); err != nil {
		return nil, err
	}

	e.emit(NewDealCompletedEvent(deal))
	e.emit(NewListingStatusChangedEvent(listing))
	return deal.Clone(), nil
}
