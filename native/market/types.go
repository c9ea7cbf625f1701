package market

import (
	"fmt"
	"math/big"
	"strings"
)

// HandleSize is the width of every ciphertext handle accepted by the ledger.
const HandleSize = 32

// Handle is an opaque fixed-size reference to ciphertext managed entirely by
// the external encryption subsystem. The ledger stores and returns it
// verbatim; equality against the zero handle is the only operation performed
// on it.
type Handle [HandleSize]byte

// IsZero reports whether the handle is the all-zero value, which the ledger
// treats as "no ciphertext attached".
func (h Handle) IsZero() bool {
	return h == Handle{}
}

// IPType classifies the kind of intellectual property a listing offers.
type IPType uint8

const (
	IPTypePatent IPType = iota
	IPTypeTrademark
	IPTypeTradeSecret
	IPTypeCopyright
	IPTypeInnovation
)

// Valid reports whether the value is within the supported range.
func (t IPType) Valid() bool {
	switch t {
	case IPTypePatent, IPTypeTrademark, IPTypeTradeSecret, IPTypeCopyright, IPTypeInnovation:
		return true
	default:
		return false
	}
}

func (t IPType) String() string {
	switch t {
	case IPTypePatent:
		return "patent"
	case IPTypeTrademark:
		return "trademark"
	case IPTypeTradeSecret:
		return "trade_secret"
	case IPTypeCopyright:
		return "copyright"
	case IPTypeInnovation:
		return "innovation"
	default:
		return "unknown"
	}
}

// ParseIPType resolves the canonical lowercase name of an IP type.
func ParseIPType(name string) (IPType, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "patent":
		return IPTypePatent, nil
	case "trademark":
		return IPTypeTrademark, nil
	case "trade_secret", "tradesecret":
		return IPTypeTradeSecret, nil
	case "copyright":
		return IPTypeCopyright, nil
	case "innovation":
		return IPTypeInnovation, nil
	default:
		return 0, fmt.Errorf("unsupported ip type: %s", name)
	}
}

// ListingStatus represents the lifecycle states of a listing.
type ListingStatus uint8

const (
	ListingActive ListingStatus = iota
	ListingSold
	ListingCancelled
)

func (s ListingStatus) Valid() bool {
	switch s {
	case ListingActive, ListingSold, ListingCancelled:
		return true
	default:
		return false
	}
}

func (s ListingStatus) String() string {
	switch s {
	case ListingActive:
		return "active"
	case ListingSold:
		return "sold"
	case ListingCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// DealStatus represents the lifecycle states of a deal.
type DealStatus uint8

const (
	DealPending DealStatus = iota
	DealAccepted
	DealCompleted
	// DealRejected is a declared terminal state; no transition currently
	// produces it.
	DealRejected
)

func (s DealStatus) Valid() bool {
	switch s {
	case DealPending, DealAccepted, DealCompleted, DealRejected:
		return true
	default:
		return false
	}
}

func (s DealStatus) String() string {
	switch s {
	case DealPending:
		return "pending"
	case DealAccepted:
		return "accepted"
	case DealCompleted:
		return "completed"
	case DealRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// Listing captures a sell-side offer of confidential IP. The encrypted fields
// are opaque handles produced off-ledger; the public fields drive every
// authorization and settlement decision.
type Listing struct {
	ID                   uint64
	Owner                [20]byte
	Type                 IPType
	Title                string
	EncryptedDescription Handle
	EncryptedDetails     Handle
	Price                *big.Int
	Status               ListingStatus
	CreatedAt            int64
}

// Clone returns a deep copy so callers can safely mutate the copy without
// affecting the stored instance.
func (l *Listing) Clone() *Listing {
	if l == nil {
		return nil
	}
	clone := *l
	if l.Price != nil {
		clone.Price = new(big.Int).Set(l.Price)
	} else {
		clone.Price = big.NewInt(0)
	}
	return &clone
}

// BuyerInterest captures a buy-side profile. Deactivation flips Active and is
// irreversible; the record itself persists.
type BuyerInterest struct {
	ID                 uint64
	Buyer              [20]byte
	Category           string
	EncryptedInterests Handle
	EncryptedCriteria  Handle
	MaxPrice           *big.Int
	CreatedAt          int64
	Active             bool
}

func (b *BuyerInterest) Clone() *BuyerInterest {
	if b == nil {
		return nil
	}
	clone := *b
	if b.MaxPrice != nil {
		clone.MaxPrice = new(big.Int).Set(b.MaxPrice)
	} else {
		clone.MaxPrice = big.NewInt(0)
	}
	return &clone
}

// Deal links one listing to one interest. Seller and buyer are snapshotted at
// proposal time and never re-derived.
type Deal struct {
	ID                  uint64
	ListingID           uint64
	InterestID          uint64
	Seller              [20]byte
	Buyer               [20]byte
	ProposedPrice       *big.Int
	EncryptedSellerData Handle
	EncryptedBuyerData  Handle
	Status              DealStatus
	CreatedAt           int64
	CompletedAt         int64
}

func (d *Deal) Clone() *Deal {
	if d == nil {
		return nil
	}
	clone := *d
	if d.ProposedPrice != nil {
		clone.ProposedPrice = new(big.Int).Set(d.ProposedPrice)
	} else {
		clone.ProposedPrice = big.NewInt(0)
	}
	return &clone
}

// SanitizeListing validates a stored listing and returns a defensive clone
// with a non-nil price. The original value is not mutated.
func SanitizeListing(l *Listing) (*Listing, error) {
	if l == nil {
		return nil, fmt.Errorf("nil listing")
	}
	clone := l.Clone()
	if strings.TrimSpace(clone.Title) == "" {
		return nil, fmt.Errorf("listing title must not be empty")
	}
	if clone.EncryptedDescription.IsZero() {
		return nil, fmt.Errorf("listing description handle must not be zero")
	}
	if clone.Price.Sign() <= 0 {
		return nil, fmt.Errorf("listing price must be positive")
	}
	if !clone.Type.Valid() {
		return nil, fmt.Errorf("invalid ip type: %d", clone.Type)
	}
	if !clone.Status.Valid() {
		return nil, fmt.Errorf("invalid listing status: %d", clone.Status)
	}
	return clone, nil
}

// SanitizeInterest validates a stored buyer interest and returns a defensive
// clone with a non-nil max price.
func SanitizeInterest(b *BuyerInterest) (*BuyerInterest, error) {
	if b == nil {
		return nil, fmt.Errorf("nil interest")
	}
	clone := b.Clone()
	if strings.TrimSpace(clone.Category) == "" {
		return nil, fmt.Errorf("interest category must not be empty")
	}
	if clone.EncryptedInterests.IsZero() {
		return nil, fmt.Errorf("interest handle must not be zero")
	}
	if clone.MaxPrice.Sign() <= 0 {
		return nil, fmt.Errorf("interest max price must be positive")
	}
	return clone, nil
}

// SanitizeDeal validates a stored deal and returns a defensive clone.
func SanitizeDeal(d *Deal) (*Deal, error) {
	if d == nil {
		return nil, fmt.Errorf("nil deal")
	}
	clone := d.Clone()
	if clone.ProposedPrice.Sign() <= 0 {
		return nil, fmt.Errorf("deal price must be positive")
	}
	if !clone.Status.Valid() {
		return nil, fmt.Errorf("invalid deal status: %d", clone.Status)
	}
	return clone, nil
}
