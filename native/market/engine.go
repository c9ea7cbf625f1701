package market

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"ipmarket/core/events"
	"ipmarket/core/types"
	nativecommon "ipmarket/native/common"
)

var errNilState = errors.New("market engine: state not configured")

const (
	listingModuleName  = "market.listings"
	interestModuleName = "market.interests"
	dealModuleName     = "market.deals"
)

// engineState is the mutable state surface the engine depends on. The
// canonical implementation is the core state manager; tests provide an
// in-memory mock.
type engineState interface {
	ListingPut(*Listing) error
	ListingGet(id uint64) (*Listing, bool)
	InterestPut(*BuyerInterest) error
	InterestGet(id uint64) (*BuyerInterest, bool)
	DealPut(*Deal) error
	DealGet(id uint64) (*Deal, bool)

	NextListingID() (uint64, error)
	NextInterestID() (uint64, error)
	NextDealID() (uint64, error)

	ListingIndexAppend(addr [20]byte, id uint64) error
	InterestIndexAppend(addr [20]byte, id uint64) error
	DealIndexAppend(addr [20]byte, id uint64) error
	ActiveListingAdd(id uint64) error
	ActiveListingRemove(id uint64) error

	GetAccount(addr []byte) (*types.Account, error)
	PutAccount(addr []byte, account *types.Account) error
	MarketVaultAddress() [20]byte
}

type marketEvent struct {
	evt *types.Event
}

func (e marketEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e marketEvent) Event() *types.Event { return e.evt }

// Engine wires the marketplace business logic with external state and event
// emitters. Every operation validates its preconditions against committed
// state before mutating anything, so a failed call leaves no trace.
type Engine struct {
	state   engineState
	emitter events.Emitter
	nowFn   func() int64
	pauses  nativecommon.PauseView
}

// NewEngine creates a marketplace engine with a no-op emitter. Callers can
// override the emitter via SetEmitter.
func NewEngine() *Engine {
	return &Engine{
		emitter: events.NoopEmitter{},
		nowFn:   func() int64 { return time.Now().Unix() },
	}
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetEmitter configures the event emitter used by the engine. Passing nil
// resets the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetPauses configures the administrative pause view consulted before every
// mutating operation.
func (e *Engine) SetPauses(p nativecommon.PauseView) {
	if e == nil {
		return
	}
	e.pauses = p
}

// SetNowFunc overrides the time source, primarily used in tests.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

func (e *Engine) emit(evt *types.Event) {
	if e == nil || e.emitter == nil || evt == nil {
		return
	}
	e.emitter.Emit(marketEvent{evt: evt})
}

func (e *Engine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

func cloneBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}

func ensureAccount(acc *types.Account) *types.Account {
	if acc == nil {
		return &types.Account{Balance: big.NewInt(0)}
	}
	if acc.Balance == nil {
		acc.Balance = big.NewInt(0)
	}
	return acc
}

// transfer moves amount between two ledger accounts. A zero amount is a
// no-op; the source must hold the full amount.
func (e *Engine) transfer(from, to [20]byte, amount *big.Int) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	amt := cloneBigInt(amount)
	if amt.Sign() == 0 {
		return nil
	}
	if amt.Sign() < 0 {
		return fmt.Errorf("market: negative transfer amount")
	}
	fromAcc, err := e.state.GetAccount(from[:])
	if err != nil {
		return err
	}
	toAcc, err := e.state.GetAccount(to[:])
	if err != nil {
		return err
	}
	fromAcc = ensureAccount(fromAcc)
	toAcc = ensureAccount(toAcc)
	if fromAcc.Balance.Cmp(amt) < 0 {
		return fmt.Errorf("%w: balance %s below %s", ErrInsufficientPayment, fromAcc.Balance, amt)
	}
	fromAcc.Balance = new(big.Int).Sub(fromAcc.Balance, amt)
	toAcc.Balance = new(big.Int).Add(toAcc.Balance, amt)
	if err := e.state.PutAccount(from[:], fromAcc); err != nil {
		return err
	}
	return e.state.PutAccount(to[:], toAcc)
}

// CreateListing publishes a new listing owned by the caller. Anyone may list;
// there is no ownership precondition.
func (e *Engine) CreateListing(caller [20]byte, ipType IPType, title string, encDescription, encDetails Handle, price *big.Int) (*Listing, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if err := nativecommon.Guard(e.pauses, listingModuleName); err != nil {
		return nil, err
	}
	if strings.TrimSpace(title) == "" {
		return nil, fmt.Errorf("%w: title must not be empty", ErrInvalidInput)
	}
	if encDescription.IsZero() {
		return nil, fmt.Errorf("%w: description handle must not be zero", ErrInvalidInput)
	}
	amount := cloneBigInt(price)
	if amount.Sign() <= 0 {
		return nil, fmt.Errorf("%w: price must be positive", ErrInvalidInput)
	}
	if !ipType.Valid() {
		return nil, fmt.Errorf("%w: unsupported ip type %d", ErrInvalidInput, ipType)
	}
	id, err := e.state.NextListingID()
	if err != nil {
		return nil, err
	}
	listing := &Listing{
		ID:                   id,
		Owner:                caller,
		Type:                 ipType,
		Title:                title,
		EncryptedDescription: encDescription,
		EncryptedDetails:     encDetails,
		Price:                amount,
		Status:               ListingActive,
		CreatedAt:            e.now(),
	}
	if err := e.state.ListingPut(listing); err != nil {
		return nil, err
	}
	if err := e.state.ListingIndexAppend(caller, id); err != nil {
		return nil, err
	}
	if err := e.state.ActiveListingAdd(id); err != nil {
		return nil, err
	}
	e.emit(NewListingCreatedEvent(listing))
	return listing.Clone(), nil
}

// CancelListing retires an active listing. Only the recorded owner may
// cancel, and only while the listing is still active. Nothing was escrowed at
// listing time, so there is no refund.
func (e *Engine) CancelListing(caller [20]byte, id uint64) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if err := nativecommon.Guard(e.pauses, listingModuleName); err != nil {
		return err
	}
	listing, ok := e.state.ListingGet(id)
	if !ok {
		return fmt.Errorf("%w: listing %d", ErrNotFound, id)
	}
	if listing.Owner != caller {
		return fmt.Errorf("%w: listing %d", ErrNotOwner, id)
	}
	if listing.Status != ListingActive {
		return fmt.Errorf("%w: listing %d is %s", ErrInvalidState, id, listing.Status)
	}
	listing.Status = ListingCancelled
	if err := e.state.ListingPut(listing); err != nil {
		return err
	}
	if err := e.state.ActiveListingRemove(id); err != nil {
		return err
	}
	e.emit(NewListingStatusChangedEvent(listing))
	return nil
}

// CreateInterest publishes a new buyer interest profile owned by the caller.
// A buyer may hold any number of concurrent active interests.
func (e *Engine) CreateInterest(caller [20]byte, category string, encInterests, encCriteria Handle, maxPrice *big.Int) (*BuyerInterest, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if err := nativecommon.Guard(e.pauses, interestModuleName); err != nil {
		return nil, err
	}
	if strings.TrimSpace(category) == "" {
		return nil, fmt.Errorf("%w: category must not be empty", ErrInvalidInput)
	}
	if encInterests.IsZero() {
		return nil, fmt.Errorf("%w: interests handle must not be zero", ErrInvalidInput)
	}
	ceiling := cloneBigInt(maxPrice)
	if ceiling.Sign() <= 0 {
		return nil, fmt.Errorf("%w: max price must be positive", ErrInvalidInput)
	}
	id, err := e.state.NextInterestID()
	if err != nil {
		return nil, err
	}
	interest := &BuyerInterest{
		ID:                 id,
		Buyer:              caller,
		Category:           category,
		EncryptedInterests: encInterests,
		EncryptedCriteria:  encCriteria,
		MaxPrice:           ceiling,
		CreatedAt:          e.now(),
		Active:             true,
	}
	if err := e.state.InterestPut(interest); err != nil {
		return nil, err
	}
	if err := e.state.InterestIndexAppend(caller, id); err != nil {
		return nil, err
	}
	e.emit(NewInterestCreatedEvent(interest))
	return interest.Clone(), nil
}

// DeactivateInterest irreversibly retires an interest profile. The record
// persists; there is no reactivation path.
func (e *Engine) DeactivateInterest(caller [20]byte, id uint64) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if err := nativecommon.Guard(e.pauses, interestModuleName); err != nil {
		return err
	}
	interest, ok := e.state.InterestGet(id)
	if !ok {
		return fmt.Errorf("%w: interest %d", ErrNotFound, id)
	}
	if interest.Buyer != caller {
		return fmt.Errorf("%w: interest %d", ErrNotOwner, id)
	}
	if !interest.Active {
		return fmt.Errorf("%w: interest %d already inactive", ErrInvalidState, id)
	}
	interest.Active = false
	if err := e.state.InterestPut(interest); err != nil {
		return err
	}
	e.emit(NewInterestDeactivatedEvent(interest))
	return nil
}

// Mint credits freshly issued funds to the given account. Authorization is
// enforced at the RPC boundary; the engine only applies the balance change.
func (e *Engine) Mint(addr [20]byte, amount *big.Int) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	amt := cloneBigInt(amount)
	if amt.Sign() <= 0 {
		return fmt.Errorf("%w: mint amount must be positive", ErrInvalidInput)
	}
	acc, err := e.state.GetAccount(addr[:])
	if err != nil {
		return err
	}
	acc = ensureAccount(acc)
	acc.Balance = new(big.Int).Add(acc.Balance, amt)
	if err := e.state.PutAccount(addr[:], acc); err != nil {
		return err
	}
	e.emit(NewMintEvent(addr, amt))
	return nil
}
