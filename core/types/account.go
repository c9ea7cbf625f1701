package types

import "math/big"

// Account holds the ledger-native balance used for deal settlement. Accounts
// are created lazily on first use; a missing record is equivalent to a zero
// balance.
type Account struct {
	Nonce   uint64   `json:"nonce"`
	Balance *big.Int `json:"balance"`
}
