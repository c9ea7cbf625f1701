package core

import (
	"fmt"
	"math/big"
	"sync"

	"ipmarket/core/events"
	"ipmarket/core/state"
	"ipmarket/core/types"
	"ipmarket/native/market"
	nativecommon "ipmarket/native/common"
	"ipmarket/storage"
)

// Node serializes marketplace operations over a single database. Each
// mutating operation runs against a fresh write overlay; the overlay commits
// only when the operation succeeds, so a failure leaves neither state writes
// nor events behind.
type Node struct {
	mu     sync.Mutex
	db     storage.Database
	pauses nativecommon.PauseView
	nowFn  func() int64

	events []*types.Event
}

// NewNode creates a node over the given database.
func NewNode(db storage.Database) *Node {
	return &Node{db: db}
}

// SetPauses installs the administrative pause view consulted by every
// mutating operation.
func (n *Node) SetPauses(p nativecommon.PauseView) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.pauses = p
}

// SetNowFunc overrides the time source, primarily used in tests.
func (n *Node) SetNowFunc(now func() int64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.nowFn = now
}

// recordingEmitter buffers events for one operation. The node appends the
// buffer to its log only after the overlay commits.
type recordingEmitter struct {
	buffered []*types.Event
}

type payloadEvent interface {
	Event() *types.Event
}

func (r *recordingEmitter) Emit(evt events.Event) {
	if typed, ok := evt.(payloadEvent); ok && typed.Event() != nil {
		r.buffered = append(r.buffered, typed.Event())
	}
}

// withEngine runs fn against an engine bound to a fresh overlay, committing
// on success and discarding on failure.
func (n *Node) withEngine(fn func(*market.Engine) error) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	overlay := state.NewOverlay(n.db)
	manager := state.NewManager(overlay)
	recorder := &recordingEmitter{}

	engine := market.NewEngine()
	engine.SetState(manager)
	engine.SetEmitter(recorder)
	engine.SetPauses(n.pauses)
	if n.nowFn != nil {
		engine.SetNowFunc(n.nowFn)
	}

	if err := fn(engine); err != nil {
		overlay.Discard()
		return err
	}
	if err := overlay.Commit(); err != nil {
		return err
	}
	n.events = append(n.events, recorder.buffered...)
	return nil
}

// WithState runs fn against a read-only manager over committed state.
func (n *Node) WithState(fn func(*state.Manager) error) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return fn(state.NewManager(n.db))
}

// CreateListing publishes a listing owned by caller.
func (n *Node) CreateListing(caller [20]byte, ipType market.IPType, title string, encDescription, encDetails market.Handle, price *big.Int) (*market.Listing, error) {
	var listing *market.Listing
	err := n.withEngine(func(e *market.Engine) error {
		var err error
		listing, err = e.CreateListing(caller, ipType, title, encDescription, encDetails, price)
		return err
	})
	if err != nil {
		return nil, err
	}
	return listing, nil
}

// CancelListing retires an active listing owned by caller.
func (n *Node) CancelListing(caller [20]byte, id uint64) error {
	return n.withEngine(func(e *market.Engine) error {
		return e.CancelListing(caller, id)
	})
}

// CreateInterest publishes a buyer interest profile owned by caller.
func (n *Node) CreateInterest(caller [20]byte, category string, encInterests, encCriteria market.Handle, maxPrice *big.Int) (*market.BuyerInterest, error) {
	var interest *market.BuyerInterest
	err := n.withEngine(func(e *market.Engine) error {
		var err error
		interest, err = e.CreateInterest(caller, category, encInterests, encCriteria, maxPrice)
		return err
	})
	if err != nil {
		return nil, err
	}
	return interest, nil
}

// DeactivateInterest retires an interest profile owned by caller.
func (n *Node) DeactivateInterest(caller [20]byte, id uint64) error {
	return n.withEngine(func(e *market.Engine) error {
		return e.DeactivateInterest(caller, id)
	})
}

// ProposeDeal opens a pending deal between a listing and an interest on
// behalf of either counterparty.
func (n *Node) ProposeDeal(caller [20]byte, listingID, interestID uint64, price *big.Int, encSellerData, encBuyerData market.Handle) (*market.Deal, error) {
	var deal *market.Deal
	err := n.withEngine(func(e *market.Engine) error {
		var err error
		deal, err = e.ProposeDeal(caller, listingID, interestID, price, encSellerData, encBuyerData)
		return err
	})
	if err != nil {
		return nil, err
	}
	return deal, nil
}

// AcceptDeal moves a pending deal to accepted.
func (n *Node) AcceptDeal(caller [20]byte, dealID uint64) (*market.Deal, error) {
	var deal *market.Deal
	err := n.withEngine(func(e *market.Engine) error {
		var err error
		deal, err = e.AcceptDeal(caller, dealID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return deal, nil
}

// CompleteDeal settles an accepted deal with the attached payment.
func (n *Node) CompleteDeal(caller [20]byte, dealID uint64, payment *big.Int) (*market.Deal, error) {
	var deal *market.Deal
	err := n.withEngine(func(e *market.Engine) error {
		var err error
		deal, err = e.CompleteDeal(caller, dealID, payment)
		return err
	})
	if err != nil {
		return nil, err
	}
	return deal, nil
}

// Mint credits newly issued funds to an account. Authorization happens at
// the RPC boundary.
func (n *Node) Mint(addr [20]byte, amount *big.Int) error {
	return n.withEngine(func(e *market.Engine) error {
		return e.Mint(addr, amount)
	})
}

// GetListing returns the listing with the given id from committed state.
func (n *Node) GetListing(id uint64) (*market.Listing, bool) {
	var listing *market.Listing
	var ok bool
	_ = n.WithState(func(m *state.Manager) error {
		listing, ok = m.ListingGet(id)
		return nil
	})
	return listing, ok
}

// GetInterest returns the interest with the given id from committed state.
func (n *Node) GetInterest(id uint64) (*market.BuyerInterest, bool) {
	var interest *market.BuyerInterest
	var ok bool
	_ = n.WithState(func(m *state.Manager) error {
		interest, ok = m.InterestGet(id)
		return nil
	})
	return interest, ok
}

// GetDeal returns the deal with the given id from committed state.
func (n *Node) GetDeal(id uint64) (*market.Deal, bool) {
	var deal *market.Deal
	var ok bool
	_ = n.WithState(func(m *state.Manager) error {
		deal, ok = m.DealGet(id)
		return nil
	})
	return deal, ok
}

// ActiveListings returns up to limit active listings in ascending id order.
func (n *Node) ActiveListings(limit int) ([]*market.Listing, error) {
	var listings []*market.Listing
	err := n.WithState(func(m *state.Manager) error {
		var err error
		listings, err = m.ActiveListings(limit)
		return err
	})
	return listings, err
}

// ListingsByOwner returns the owner's listings in creation order.
func (n *Node) ListingsByOwner(addr [20]byte) ([]*market.Listing, error) {
	var listings []*market.Listing
	err := n.WithState(func(m *state.Manager) error {
		var err error
		listings, err = m.ListingsByOwner(addr)
		return err
	})
	return listings, err
}

// InterestsByBuyer returns the buyer's interest profiles in creation order.
func (n *Node) InterestsByBuyer(addr [20]byte) ([]*market.BuyerInterest, error) {
	var interests []*market.BuyerInterest
	err := n.WithState(func(m *state.Manager) error {
		var err error
		interests, err = m.InterestsByBuyer(addr)
		return err
	})
	return interests, err
}

// DealsByParty returns every deal the address participates in.
func (n *Node) DealsByParty(addr [20]byte) ([]*market.Deal, error) {
	var deals []*market.Deal
	err := n.WithState(func(m *state.Manager) error {
		var err error
		deals, err = m.DealsByParty(addr)
		return err
	})
	return deals, err
}

// Balance returns the committed ledger balance of an account.
func (n *Node) Balance(addr [20]byte) (*big.Int, error) {
	var balance *big.Int
	err := n.WithState(func(m *state.Manager) error {
		acc, err := m.GetAccount(addr[:])
		if err != nil {
			return err
		}
		balance = acc.Balance
		return nil
	})
	return balance, err
}

// Events returns a snapshot of the committed event log, oldest first.
func (n *Node) Events() []*types.Event {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]*types.Event, len(n.events))
	copy(out, n.events)
	return out
}

var genesisMarkerKey = []byte("market/genesis-applied")

// ApplyGenesis seeds configured account balances exactly once per database.
// Re-running a node against the same data directory is a no-op.
func (n *Node) ApplyGenesis(allocations map[[20]byte]*big.Int) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if _, err := n.db.Get(genesisMarkerKey); err == nil {
		return nil
	}
	overlay := state.NewOverlay(n.db)
	manager := state.NewManager(overlay)
	for addr, amount := range allocations {
		if amount == nil || amount.Sign() < 0 {
			return fmt.Errorf("genesis allocation for %x must be non-negative", addr)
		}
		acc, err := manager.GetAccount(addr[:])
		if err != nil {
			return err
		}
		acc.Balance = new(big.Int).Add(acc.Balance, amount)
		if err := manager.PutAccount(addr[:], acc); err != nil {
			return err
		}
	}
	if err := overlay.Put(genesisMarkerKey, []byte{0x01}); err != nil {
		return err
	}
	return overlay.Commit()
}
