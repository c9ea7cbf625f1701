package state

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"ipmarket/core/types"
	"ipmarket/native/market"
	"ipmarket/storage"
)

func testListing(id uint64, owner byte, status market.ListingStatus) *market.Listing {
	var addr [20]byte
	var desc market.Handle
	for i := range addr {
		addr[i] = owner
	}
	desc[0] = 0x01
	return &market.Listing{
		ID:                   id,
		Owner:                addr,
		Type:                 market.IPTypePatent,
		Title:                "listing",
		EncryptedDescription: desc,
		Price:                big.NewInt(100),
		Status:               status,
		CreatedAt:            1_700_000_000,
	}
}

func TestListingRoundTrip(t *testing.T) {
	m := NewManager(storage.NewMemDB())
	listing := testListing(3, 0x01, market.ListingActive)
	listing.EncryptedDetails[5] = 0xAB

	require.NoError(t, m.ListingPut(listing))
	got, ok := m.ListingGet(3)
	require.True(t, ok)
	require.Equal(t, listing.ID, got.ID)
	require.Equal(t, listing.Owner, got.Owner)
	require.Equal(t, listing.EncryptedDescription, got.EncryptedDescription)
	require.Equal(t, listing.EncryptedDetails, got.EncryptedDetails)
	require.Zero(t, listing.Price.Cmp(got.Price))
	require.Equal(t, listing.Status, got.Status)
	require.Equal(t, listing.CreatedAt, got.CreatedAt)

	_, ok = m.ListingGet(99)
	require.False(t, ok)
}

func TestInterestRoundTrip(t *testing.T) {
	m := NewManager(storage.NewMemDB())
	var buyer [20]byte
	buyer[0] = 0x02
	var handle market.Handle
	handle[0] = 0x01
	interest := &market.BuyerInterest{
		ID:                 7,
		Buyer:              buyer,
		Category:           "robotics",
		EncryptedInterests: handle,
		MaxPrice:           big.NewInt(5000),
		CreatedAt:          1_700_000_000,
		Active:             true,
	}
	require.NoError(t, m.InterestPut(interest))
	got, ok := m.InterestGet(7)
	require.True(t, ok)
	require.Equal(t, interest.Category, got.Category)
	require.True(t, got.Active)

	got.Active = false
	require.NoError(t, m.InterestPut(got))
	reread, ok := m.InterestGet(7)
	require.True(t, ok)
	require.False(t, reread.Active)
}

func TestDealRoundTrip(t *testing.T) {
	m := NewManager(storage.NewMemDB())
	var seller, buyer [20]byte
	seller[0], buyer[0] = 0x01, 0x02
	deal := &market.Deal{
		ID:            0,
		ListingID:     1,
		InterestID:    2,
		Seller:        seller,
		Buyer:         buyer,
		ProposedPrice: big.NewInt(750),
		Status:        market.DealAccepted,
		CreatedAt:     1_700_000_000,
	}
	require.NoError(t, m.DealPut(deal))
	got, ok := m.DealGet(0)
	require.True(t, ok)
	require.Equal(t, market.DealAccepted, got.Status)
	require.Zero(t, got.CompletedAt)

	got.Status = market.DealCompleted
	got.CompletedAt = 1_700_000_100
	require.NoError(t, m.DealPut(got))
	reread, ok := m.DealGet(0)
	require.True(t, ok)
	require.Equal(t, market.DealCompleted, reread.Status)
	require.Equal(t, int64(1_700_000_100), reread.CompletedAt)
}

func TestIDAllocatorsAreDenseAndIndependent(t *testing.T) {
	m := NewManager(storage.NewMemDB())
	for want := uint64(0); want < 3; want++ {
		id, err := m.NextListingID()
		require.NoError(t, err)
		require.Equal(t, want, id)
	}
	id, err := m.NextInterestID()
	require.NoError(t, err)
	require.Zero(t, id)
	id, err = m.NextDealID()
	require.NoError(t, err)
	require.Zero(t, id)
}

func TestActiveListingIndex(t *testing.T) {
	m := NewManager(storage.NewMemDB())
	require.NoError(t, m.ListingPut(testListing(0, 0x01, market.ListingActive)))
	require.NoError(t, m.ListingPut(testListing(1, 0x01, market.ListingActive)))
	require.NoError(t, m.ListingPut(testListing(2, 0x02, market.ListingActive)))
	for id := uint64(0); id < 3; id++ {
		require.NoError(t, m.ActiveListingAdd(id))
	}
	// Adding twice must not duplicate.
	require.NoError(t, m.ActiveListingAdd(1))

	all, err := m.ActiveListings(0)
	require.NoError(t, err)
	require.Len(t, all, 3)

	limited, err := m.ActiveListings(2)
	require.NoError(t, err)
	require.Len(t, limited, 2)
	require.Equal(t, uint64(0), limited[0].ID)
	require.Equal(t, uint64(1), limited[1].ID)

	require.NoError(t, m.ActiveListingRemove(1))
	remaining, err := m.ActiveListings(0)
	require.NoError(t, err)
	require.Len(t, remaining, 2)
	require.Equal(t, uint64(0), remaining[0].ID)
	require.Equal(t, uint64(2), remaining[1].ID)
}

func TestPerAccountIndexes(t *testing.T) {
	m := NewManager(storage.NewMemDB())
	var owner [20]byte
	owner[0] = 0x01
	require.NoError(t, m.ListingPut(testListing(0, 0x01, market.ListingActive)))
	require.NoError(t, m.ListingPut(testListing(1, 0x01, market.ListingCancelled)))
	require.NoError(t, m.ListingIndexAppend(owner, 0))
	require.NoError(t, m.ListingIndexAppend(owner, 1))

	listings, err := m.ListingsByOwner(owner)
	require.NoError(t, err)
	require.Len(t, listings, 2)
	require.Equal(t, market.ListingCancelled, listings[1].Status)

	var other [20]byte
	other[0] = 0x09
	empty, err := m.ListingsByOwner(other)
	require.NoError(t, err)
	require.Empty(t, empty)
}

func TestAccountRoundTrip(t *testing.T) {
	m := NewManager(storage.NewMemDB())
	var addr [20]byte
	addr[0] = 0x05

	acc, err := m.GetAccount(addr[:])
	require.NoError(t, err)
	require.Zero(t, acc.Balance.Sign())

	acc.Balance = big.NewInt(1234)
	acc.Nonce = 7
	require.NoError(t, m.PutAccount(addr[:], acc))

	got, err := m.GetAccount(addr[:])
	require.NoError(t, err)
	require.Equal(t, uint64(7), got.Nonce)
	require.Zero(t, got.Balance.Cmp(big.NewInt(1234)))
}

func TestOverlayCommitAndDiscard(t *testing.T) {
	base := storage.NewMemDB()
	overlay := NewOverlay(base)
	m := NewManager(overlay)

	require.NoError(t, m.ListingPut(testListing(0, 0x01, market.ListingActive)))
	require.True(t, overlay.Dirty())
	// The base sees nothing before commit.
	baseManager := NewManager(base)
	_, ok := baseManager.ListingGet(0)
	require.False(t, ok)

	require.NoError(t, overlay.Commit())
	require.False(t, overlay.Dirty())
	_, ok = baseManager.ListingGet(0)
	require.True(t, ok)

	require.NoError(t, m.ListingPut(testListing(1, 0x01, market.ListingActive)))
	overlay.Discard()
	_, ok = baseManager.ListingGet(1)
	require.False(t, ok)
	_, ok = m.ListingGet(1)
	require.False(t, ok)
}

func TestOverlayReadsThroughToBase(t *testing.T) {
	base := storage.NewMemDB()
	baseManager := NewManager(base)
	require.NoError(t, baseManager.PutAccount(make([]byte, 20), &types.Account{Balance: big.NewInt(42)}))

	overlay := NewOverlay(base)
	m := NewManager(overlay)
	acc, err := m.GetAccount(make([]byte, 20))
	require.NoError(t, err)
	require.Zero(t, acc.Balance.Cmp(big.NewInt(42)))
}

func TestVaultAddressIsStable(t *testing.T) {
	a := MarketVaultAddress()
	b := MarketVaultAddress()
	require.Equal(t, a, b)
	require.NotEqual(t, [20]byte{}, a)
}
