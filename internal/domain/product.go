package domain

import "github.com/shopspring/decimal"

func init() {
	// Prices and totals are JSON numbers on both the HTTP and bus wire, as
	// the product and user services send them.
	decimal.MarshalJSONWithoutQuotes = true
}

// Product is the catalog record returned by the product service.
type Product struct {
	ID    string          `json:"id"`
	Name  string          `json:"name,omitempty"`
	Price decimal.Decimal `json:"price"`
	Stock int             `json:"stock"`
}

// User is the directory record returned by the user service. Only the ID is
// relied upon.
type User struct {
	ID    string `json:"id"`
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
}
