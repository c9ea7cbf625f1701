package state

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/rlp"

	"ipmarket/core/types"
	"ipmarket/native/market"
	"ipmarket/storage"
)

// Manager provides typed access to marketplace records over a raw key-value
// database. Every record is stored under a hashed, prefixed key and encoded
// with RLP.
type Manager struct {
	db storage.Database
}

// NewManager wraps the given database.
func NewManager(db storage.Database) *Manager {
	return &Manager{db: db}
}

func (m *Manager) get(key []byte, out interface{}) (bool, error) {
	raw, err := m.db.Get(key)
	if err != nil {
		if errors.Is(err, storage.ErrKeyNotFound) {
			return false, nil
		}
		return false, err
	}
	if err := rlp.DecodeBytes(raw, out); err != nil {
		return false, fmt.Errorf("state: decode record: %w", err)
	}
	return true, nil
}

func (m *Manager) put(key []byte, in interface{}) error {
	raw, err := rlp.EncodeToBytes(in)
	if err != nil {
		return fmt.Errorf("state: encode record: %w", err)
	}
	return m.db.Put(key, raw)
}

// RLP has no signed integer support, so persisted records mirror the domain
// types with unsigned timestamps.

type storedListing struct {
	ID                   uint64
	Owner                [20]byte
	Type                 uint8
	Title                string
	EncryptedDescription market.Handle
	EncryptedDetails     market.Handle
	Price                *big.Int
	Status               uint8
	CreatedAt            uint64
}

type storedInterest struct {
	ID                 uint64
	Buyer              [20]byte
	Category           string
	EncryptedInterests market.Handle
	EncryptedCriteria  market.Handle
	MaxPrice           *big.Int
	CreatedAt          uint64
	Active             bool
}

type storedDeal struct {
	ID                  uint64
	ListingID           uint64
	InterestID          uint64
	Seller              [20]byte
	Buyer               [20]byte
	ProposedPrice       *big.Int
	EncryptedSellerData market.Handle
	EncryptedBuyerData  market.Handle
	Status              uint8
	CreatedAt           uint64
	CompletedAt         uint64
}

// GetAccount loads the account for the given address. Unknown addresses
// resolve to a fresh zero-balance account.
func (m *Manager) GetAccount(addr []byte) (*types.Account, error) {
	acc := &types.Account{Balance: big.NewInt(0)}
	ok, err := m.get(accountKey(addr), acc)
	if err != nil {
		return nil, err
	}
	if !ok {
		return &types.Account{Balance: big.NewInt(0)}, nil
	}
	if acc.Balance == nil {
		acc.Balance = big.NewInt(0)
	}
	return acc, nil
}

// PutAccount persists the account under the given address.
func (m *Manager) PutAccount(addr []byte, account *types.Account) error {
	if account == nil {
		return fmt.Errorf("state: nil account")
	}
	stored := &types.Account{Nonce: account.Nonce, Balance: big.NewInt(0)}
	if account.Balance != nil {
		stored.Balance = new(big.Int).Set(account.Balance)
	}
	return m.put(accountKey(addr), stored)
}

// MarketVaultAddress returns the derived settlement vault account address.
func (m *Manager) MarketVaultAddress() [20]byte { return MarketVaultAddress() }

// ListingPut validates and persists a listing.
func (m *Manager) ListingPut(l *market.Listing) error {
	sanitized, err := market.SanitizeListing(l)
	if err != nil {
		return fmt.Errorf("state: %w", err)
	}
	stored := &storedListing{
		ID:                   sanitized.ID,
		Owner:                sanitized.Owner,
		Type:                 uint8(sanitized.Type),
		Title:                sanitized.Title,
		EncryptedDescription: sanitized.EncryptedDescription,
		EncryptedDetails:     sanitized.EncryptedDetails,
		Price:                sanitized.Price,
		Status:               uint8(sanitized.Status),
		CreatedAt:            uint64(sanitized.CreatedAt),
	}
	return m.put(listingKey(sanitized.ID), stored)
}

// ListingGet loads a listing by id.
func (m *Manager) ListingGet(id uint64) (*market.Listing, bool) {
	stored := new(storedListing)
	ok, err := m.get(listingKey(id), stored)
	if err != nil || !ok {
		return nil, false
	}
	return &market.Listing{
		ID:                   stored.ID,
		Owner:                stored.Owner,
		Type:                 market.IPType(stored.Type),
		Title:                stored.Title,
		EncryptedDescription: stored.EncryptedDescription,
		EncryptedDetails:     stored.EncryptedDetails,
		Price:                stored.Price,
		Status:               market.ListingStatus(stored.Status),
		CreatedAt:            int64(stored.CreatedAt),
	}, true
}

// InterestPut validates and persists a buyer interest.
func (m *Manager) InterestPut(b *market.BuyerInterest) error {
	sanitized, err := market.SanitizeInterest(b)
	if err != nil {
		return fmt.Errorf("state: %w", err)
	}
	stored := &storedInterest{
		ID:                 sanitized.ID,
		Buyer:              sanitized.Buyer,
		Category:           sanitized.Category,
		EncryptedInterests: sanitized.EncryptedInterests,
		EncryptedCriteria:  sanitized.EncryptedCriteria,
		MaxPrice:           sanitized.MaxPrice,
		CreatedAt:          uint64(sanitized.CreatedAt),
		Active:             sanitized.Active,
	}
	return m.put(interestKey(sanitized.ID), stored)
}

// InterestGet loads a buyer interest by id.
func (m *Manager) InterestGet(id uint64) (*market.BuyerInterest, bool) {
	stored := new(storedInterest)
	ok, err := m.get(interestKey(id), stored)
	if err != nil || !ok {
		return nil, false
	}
	return &market.BuyerInterest{
		ID:                 stored.ID,
		Buyer:              stored.Buyer,
		Category:           stored.Category,
		EncryptedInterests: stored.EncryptedInterests,
		EncryptedCriteria:  stored.EncryptedCriteria,
		MaxPrice:           stored.MaxPrice,
		CreatedAt:          int64(stored.CreatedAt),
		Active:             stored.Active,
	}, true
}

// DealPut validates and persists a deal.
func (m *Manager) DealPut(d *market.Deal) error {
	sanitized, err := market.SanitizeDeal(d)
	if err != nil {
		return fmt.Errorf("state: %w", err)
	}
	stored := &storedDeal{
		ID:                  sanitized.ID,
		ListingID:           sanitized.ListingID,
		InterestID:          sanitized.InterestID,
		Seller:              sanitized.Seller,
		Buyer:               sanitized.Buyer,
		ProposedPrice:       sanitized.ProposedPrice,
		EncryptedSellerData: sanitized.EncryptedSellerData,
		EncryptedBuyerData:  sanitized.EncryptedBuyerData,
		Status:              uint8(sanitized.Status),
		CreatedAt:           uint64(sanitized.CreatedAt),
		CompletedAt:         uint64(sanitized.CompletedAt),
	}
	return m.put(dealKey(sanitized.ID), stored)
}

// DealGet loads a deal by id.
func (m *Manager) DealGet(id uint64) (*market.Deal, bool) {
	stored := new(storedDeal)
	ok, err := m.get(dealKey(id), stored)
	if err != nil || !ok {
		return nil, false
	}
	return &market.Deal{
		ID:                  stored.ID,
		ListingID:           stored.ListingID,
		InterestID:          stored.InterestID,
		Seller:              stored.Seller,
		Buyer:               stored.Buyer,
		ProposedPrice:       stored.ProposedPrice,
		EncryptedSellerData: stored.EncryptedSellerData,
		EncryptedBuyerData:  stored.EncryptedBuyerData,
		Status:              market.DealStatus(stored.Status),
		CreatedAt:           int64(stored.CreatedAt),
		CompletedAt:         int64(stored.CompletedAt),
	}, true
}

func (m *Manager) nextID(key []byte) (uint64, error) {
	var counter uint64
	ok, err := m.get(key, &counter)
	if err != nil {
		return 0, err
	}
	if !ok {
		counter = 0
	}
	if err := m.put(key, counter+1); err != nil {
		return 0, err
	}
	return counter, nil
}

// NextListingID allocates the next dense listing identifier, starting at 0.
func (m *Manager) NextListingID() (uint64, error) { return m.nextID(listingSeqKey()) }

// NextInterestID allocates the next dense interest identifier, starting at 0.
func (m *Manager) NextInterestID() (uint64, error) { return m.nextID(interestSeqKey()) }

// NextDealID allocates the next dense deal identifier, starting at 0.
func (m *Manager) NextDealID() (uint64, error) { return m.nextID(dealSeqKey()) }

func (m *Manager) indexList(key []byte) ([]uint64, error) {
	var ids []uint64
	if _, err := m.get(key, &ids); err != nil {
		return nil, err
	}
	return ids, nil
}

func (m *Manager) indexAppend(key []byte, id uint64) error {
	ids, err := m.indexList(key)
	if err != nil {
		return err
	}
	return m.put(key, append(ids, id))
}

// ListingIndexAppend records a listing id under its owner, in creation order.
func (m *Manager) ListingIndexAppend(addr [20]byte, id uint64) error {
	return m.indexAppend(ownerListingsKey(addr), id)
}

// InterestIndexAppend records an interest id under its buyer, in creation
// order.
func (m *Manager) InterestIndexAppend(addr [20]byte, id uint64) error {
	return m.indexAppend(buyerInterestsKey(addr), id)
}

// DealIndexAppend records a deal id under one of its parties, in creation
// order.
func (m *Manager) DealIndexAppend(addr [20]byte, id uint64) error {
	return m.indexAppend(partyDealsKey(addr), id)
}

// ActiveListingAdd inserts a listing id into the active-listing index.
func (m *Manager) ActiveListingAdd(id uint64) error {
	ids, err := m.indexList(activeListingsKey())
	if err != nil {
		return err
	}
	for _, existing := range ids {
		if existing == id {
			return nil
		}
	}
	return m.put(activeListingsKey(), append(ids, id))
}

// ActiveListingRemove drops a listing id from the active-listing index. The
// removal is order preserving for the remaining ids.
func (m *Manager) ActiveListingRemove(id uint64) error {
	ids, err := m.indexList(activeListingsKey())
	if err != nil {
		return err
	}
	filtered := ids[:0]
	for _, existing := range ids {
		if existing != id {
			filtered = append(filtered, existing)
		}
	}
	return m.put(activeListingsKey(), filtered)
}

// ActiveListings returns up to limit active listings in ascending id order.
// A non-positive limit returns the whole index.
func (m *Manager) ActiveListings(limit int) ([]*market.Listing, error) {
	ids, err := m.indexList(activeListingsKey())
	if err != nil {
		return nil, err
	}
	listings := make([]*market.Listing, 0, len(ids))
	for _, id := range ids {
		if limit > 0 && len(listings) >= limit {
			break
		}
		listing, ok := m.ListingGet(id)
		if !ok {
			return nil, fmt.Errorf("state: active index references missing listing %d", id)
		}
		listings = append(listings, listing)
	}
	return listings, nil
}

// ListingsByOwner returns the owner's listings in creation order, regardless
// of status.
func (m *Manager) ListingsByOwner(addr [20]byte) ([]*market.Listing, error) {
	ids, err := m.indexList(ownerListingsKey(addr))
	if err != nil {
		return nil, err
	}
	listings := make([]*market.Listing, 0, len(ids))
	for _, id := range ids {
		listing, ok := m.ListingGet(id)
		if !ok {
			return nil, fmt.Errorf("state: owner index references missing listing %d", id)
		}
		listings = append(listings, listing)
	}
	return listings, nil
}

// InterestsByBuyer returns the buyer's interest profiles in creation order,
// active and inactive alike.
func (m *Manager) InterestsByBuyer(addr [20]byte) ([]*market.BuyerInterest, error) {
	ids, err := m.indexList(buyerInterestsKey(addr))
	if err != nil {
		return nil, err
	}
	interests := make([]*market.BuyerInterest, 0, len(ids))
	for _, id := range ids {
		interest, ok := m.InterestGet(id)
		if !ok {
			return nil, fmt.Errorf("state: buyer index references missing interest %d", id)
		}
		interests = append(interests, interest)
	}
	return interests, nil
}

// DealsByParty returns every deal the address participates in, as seller or
// buyer, in creation order.
func (m *Manager) DealsByParty(addr [20]byte) ([]*market.Deal, error) {
	ids, err := m.indexList(partyDealsKey(addr))
	if err != nil {
		return nil, err
	}
	deals := make([]*market.Deal, 0, len(ids))
	for _, id := range ids {
		deal, ok := m.DealGet(id)
		if !ok {
			return nil, fmt.Errorf("state: party index references missing deal %d", id)
		}
		deals = append(deals, deal)
	}
	return deals, nil
}
