package models

// Token describes a currency payments can be made in.
type Token struct {
	// Symbol is the short symbol of the currency (e.g., XCB, CTN)
	Symbol string `json:"symbol"`
	// Address is the contract address of the token; empty for the native currency
	Address string `json:"address,omitempty"`
	// Decimals is the number of decimals of the base unit
	Decimals int `json:"decimals"`
	// Native marks the chain currency, paid with plain value transfers
	Native bool `json:"native"`
	// Name is the full name of the token
	Name string `json:"name,omitempty"`
	// UpdatedAt is the timestamp when the token info was last updated
	UpdatedAt int64 `json:"updated_at,omitempty"`
}

// TokenRegistry resolves currencies to token metadata.
type TokenRegistry interface {
	Lookup(currency string) (*Token, bool)
}
