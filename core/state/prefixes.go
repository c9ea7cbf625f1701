package state

import (
	"encoding/binary"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// Key prefixes namespace every record class stored by the manager. Keys are
// hashed so their length stays uniform regardless of suffix size.
const (
	prefixAccount       = "market/account/"
	prefixListing       = "market/listing/"
	prefixInterest      = "market/interest/"
	prefixDeal          = "market/deal/"
	prefixListingSeq    = "market/seq/listing"
	prefixInterestSeq   = "market/seq/interest"
	prefixDealSeq       = "market/seq/deal"
	prefixOwnerListings = "market/index/owner-listings/"
	prefixBuyerIntents  = "market/index/buyer-interests/"
	prefixPartyDeals    = "market/index/party-deals/"
	prefixActiveList    = "market/index/active-listings"
	prefixVaultSeed     = "market/vault"
)

func hashKey(prefix string, suffix []byte) []byte {
	return ethcrypto.Keccak256(append([]byte(prefix), suffix...))
}

func idSuffix(id uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, id)
	return buf
}

func accountKey(addr []byte) []byte        { return hashKey(prefixAccount, addr) }
func listingKey(id uint64) []byte          { return hashKey(prefixListing, idSuffix(id)) }
func interestKey(id uint64) []byte         { return hashKey(prefixInterest, idSuffix(id)) }
func dealKey(id uint64) []byte             { return hashKey(prefixDeal, idSuffix(id)) }
func listingSeqKey() []byte                { return hashKey(prefixListingSeq, nil) }
func interestSeqKey() []byte               { return hashKey(prefixInterestSeq, nil) }
func dealSeqKey() []byte                   { return hashKey(prefixDealSeq, nil) }
func ownerListingsKey(addr [20]byte) []byte { return hashKey(prefixOwnerListings, addr[:]) }
func buyerInterestsKey(addr [20]byte) []byte { return hashKey(prefixBuyerIntents, addr[:]) }
func partyDealsKey(addr [20]byte) []byte   { return hashKey(prefixPartyDeals, addr[:]) }
func activeListingsKey() []byte            { return hashKey(prefixActiveList, nil) }

// MarketVaultAddress derives the settlement vault account. The vault is a
// plain ledger account with no private key; only settlement code moves funds
// through it.
func MarketVaultAddress() [20]byte {
	var addr [20]byte
	digest := ethcrypto.Keccak256([]byte(prefixVaultSeed))
	copy(addr[:], digest[12:])
	return addr
}
