package core

import (
	"errors"
	"math/big"
	"testing"

	"ipmarket/native/market"
	"ipmarket/storage"
)

func testAddr(fill byte) [20]byte {
	var addr [20]byte
	for i := range addr {
		addr[i] = fill
	}
	return addr
}

func testHandle(fill byte) market.Handle {
	var h market.Handle
	for i := range h {
		h[i] = fill
	}
	return h
}

func newTestNode(t *testing.T) *Node {
	t.Helper()
	node := NewNode(storage.NewMemDB())
	node.SetNowFunc(func() int64 { return 1_700_000_000 })
	return node
}

func TestNodeFullDealLifecycle(t *testing.T) {
	node := newTestNode(t)
	seller := testAddr(0x01)
	buyer := testAddr(0x02)

	if err := node.Mint(buyer, big.NewInt(2000)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	listing, err := node.CreateListing(seller, market.IPTypeTradeSecret, "sensor firmware", testHandle(0x10), testHandle(0x11), big.NewInt(1000))
	if err != nil {
		t.Fatalf("create listing: %v", err)
	}
	interest, err := node.CreateInterest(buyer, "hardware", testHandle(0x20), testHandle(0x21), big.NewInt(3000))
	if err != nil {
		t.Fatalf("create interest: %v", err)
	}
	deal, err := node.ProposeDeal(seller, listing.ID, interest.ID, big.NewInt(900), testHandle(0x30), testHandle(0x40))
	if err != nil {
		t.Fatalf("propose deal: %v", err)
	}
	if _, err := node.AcceptDeal(buyer, deal.ID); err != nil {
		t.Fatalf("accept deal: %v", err)
	}
	completed, err := node.CompleteDeal(buyer, deal.ID, big.NewInt(1100))
	if err != nil {
		t.Fatalf("complete deal: %v", err)
	}
	if completed.Status != market.DealCompleted {
		t.Fatalf("expected completed, got %s", completed.Status)
	}

	sellerBal, err := node.Balance(seller)
	if err != nil {
		t.Fatalf("seller balance: %v", err)
	}
	if sellerBal.Cmp(big.NewInt(900)) != 0 {
		t.Fatalf("seller should hold exactly the proposed price, got %s", sellerBal)
	}
	buyerBal, err := node.Balance(buyer)
	if err != nil {
		t.Fatalf("buyer balance: %v", err)
	}
	// 2000 minted, 1100 attached, 200 surplus refunded.
	if buyerBal.Cmp(big.NewInt(1100)) != 0 {
		t.Fatalf("buyer should end at 1100 after refund, got %s", buyerBal)
	}

	stored, ok := node.GetListing(listing.ID)
	if !ok || stored.Status != market.ListingSold {
		t.Fatalf("listing should be sold, got %+v ok=%v", stored, ok)
	}
	active, err := node.ActiveListings(0)
	if err != nil {
		t.Fatalf("active listings: %v", err)
	}
	if len(active) != 0 {
		t.Fatalf("sold listing still enumerated as active: %v", active)
	}

	evts := node.Events()
	wantTypes := []string{
		market.EventTypeMint,
		market.EventTypeListingCreated,
		market.EventTypeInterestCreated,
		market.EventTypeDealProposed,
		market.EventTypeDealAccepted,
		market.EventTypeDealCompleted,
		market.EventTypeListingStatusChanged,
	}
	if len(evts) != len(wantTypes) {
		t.Fatalf("expected %d events, got %d", len(wantTypes), len(evts))
	}
	for i, want := range wantTypes {
		if evts[i].Type != want {
			t.Fatalf("event %d: expected %s, got %s", i, want, evts[i].Type)
		}
	}
}

func TestNodeFailedOperationLeavesNoTrace(t *testing.T) {
	node := newTestNode(t)
	seller := testAddr(0x01)
	buyer := testAddr(0x02)

	listing, err := node.CreateListing(seller, market.IPTypePatent, "laser lens", testHandle(0x10), market.Handle{}, big.NewInt(500))
	if err != nil {
		t.Fatalf("create listing: %v", err)
	}
	interest, err := node.CreateInterest(buyer, "optics", testHandle(0x20), market.Handle{}, big.NewInt(600))
	if err != nil {
		t.Fatalf("create interest: %v", err)
	}
	deal, err := node.ProposeDeal(seller, listing.ID, interest.ID, big.NewInt(500), market.Handle{}, market.Handle{})
	if err != nil {
		t.Fatalf("propose deal: %v", err)
	}
	if _, err := node.AcceptDeal(buyer, deal.ID); err != nil {
		t.Fatalf("accept deal: %v", err)
	}
	eventsBefore := len(node.Events())

	// The buyer holds nothing, so settlement fails at the payment debit,
	// after the deal and listing were already marked in the overlay.
	if _, err := node.CompleteDeal(buyer, deal.ID, big.NewInt(500)); !errors.Is(err, market.ErrInsufficientPayment) {
		t.Fatalf("expected ErrInsufficientPayment, got %v", err)
	}

	stored, ok := node.GetDeal(deal.ID)
	if !ok || stored.Status != market.DealAccepted {
		t.Fatalf("deal should remain accepted after rollback, got %+v ok=%v", stored, ok)
	}
	storedListing, ok := node.GetListing(listing.ID)
	if !ok || storedListing.Status != market.ListingActive {
		t.Fatalf("listing should remain active after rollback, got %+v ok=%v", storedListing, ok)
	}
	active, err := node.ActiveListings(0)
	if err != nil {
		t.Fatalf("active listings: %v", err)
	}
	if len(active) != 1 {
		t.Fatalf("active index should survive rollback, got %v", active)
	}
	if got := len(node.Events()); got != eventsBefore {
		t.Fatalf("failed operation emitted events: %d -> %d", eventsBefore, got)
	}

	// The deal is still completable once the buyer is funded.
	if err := node.Mint(buyer, big.NewInt(500)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if _, err := node.CompleteDeal(buyer, deal.ID, big.NewInt(500)); err != nil {
		t.Fatalf("retry complete: %v", err)
	}
}

func TestNodeApplyGenesisIsIdempotent(t *testing.T) {
	node := newTestNode(t)
	account := testAddr(0x07)
	alloc := map[[20]byte]*big.Int{account: big.NewInt(1000)}

	if err := node.ApplyGenesis(alloc); err != nil {
		t.Fatalf("apply genesis: %v", err)
	}
	if err := node.ApplyGenesis(alloc); err != nil {
		t.Fatalf("re-apply genesis: %v", err)
	}
	balance, err := node.Balance(account)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance.Cmp(big.NewInt(1000)) != 0 {
		t.Fatalf("genesis should apply exactly once, got %s", balance)
	}
}

func TestNodeEnumerationOrdering(t *testing.T) {
	node := newTestNode(t)
	seller := testAddr(0x01)

	for i := 0; i < 3; i++ {
		if _, err := node.CreateListing(seller, market.IPTypeInnovation, "proposal", testHandle(byte(0x10+i)), market.Handle{}, big.NewInt(100)); err != nil {
			t.Fatalf("create listing %d: %v", i, err)
		}
	}
	if err := node.CancelListing(seller, 1); err != nil {
		t.Fatalf("cancel listing: %v", err)
	}

	mine, err := node.ListingsByOwner(seller)
	if err != nil {
		t.Fatalf("listings by owner: %v", err)
	}
	if len(mine) != 3 {
		t.Fatalf("owner enumeration should include retired listings, got %d", len(mine))
	}
	for i, l := range mine {
		if l.ID != uint64(i) {
			t.Fatalf("owner enumeration out of order: %v", mine)
		}
	}

	active, err := node.ActiveListings(0)
	if err != nil {
		t.Fatalf("active listings: %v", err)
	}
	if len(active) != 2 || active[0].ID != 0 || active[1].ID != 2 {
		t.Fatalf("active enumeration mismatch: %+v", active)
	}
}
