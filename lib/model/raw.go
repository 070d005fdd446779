package model

import "encoding/json"

// AccountChange is the native balance of an account before and after a transaction, in lamports.
type AccountChange struct {
	Address string `json:"address"`
	Pre     uint64 `json:"preBalance"`
	Post    uint64 `json:"postBalance"`
}

// TokenChange is a token account balance before and after a transaction. Amounts are raw integer strings (not scaled
// by Decimals) as the network reports them; an empty string means the account did not exist.
type TokenChange struct {
	Account  string `json:"account"`
	Owner    string `json:"owner"`
	Mint     string `json:"mint"`
	Decimals int32  `json:"decimals"`
	Pre      string `json:"preAmount"`
	Post     string `json:"postAmount"`
}

// RawEvent is the payload of one transaction notification as decoded from the stream. It lives only until it has
// been normalized.
type RawEvent struct {
	Signature string          `json:"signature"`
	Slot      uint64          `json:"slot"`
	BlockTime int64           `json:"blockTime,omitempty"` // unix seconds, 0 when unknown
	Err       json.RawMessage `json:"err,omitempty"`       // null or absent on success
	Accounts  []AccountChange `json:"accounts,omitempty"`
	Tokens    []TokenChange   `json:"tokenBalances,omitempty"`
	Programs  []string        `json:"programIds,omitempty"`
}

// Failed reports whether the network flagged the transaction as failed.
func (r *RawEvent) Failed() bool {
	s := string(r.Err)

	return s != "" && s != "null" && s != `""`
}
