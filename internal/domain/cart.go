package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Cart is the persisted cart aggregate. Totals are derived from Items and
// must always match them after a mutation.
type Cart struct {
	ID         string          `json:"id"`
	UserID     string          `json:"userId"`
	TotalItems int             `json:"totalItems"`
	TotalPrice decimal.Decimal `json:"totalPrice"`
	Version    int             `json:"version"`
	CreatedAt  time.Time       `json:"createdAt"`
	UpdatedAt  time.Time       `json:"updatedAt"`
	Items      []CartItem      `json:"items"`
}

// CartItem is one persisted line. It carries no product data; prices are
// looked up on every read.
type CartItem struct {
	ID        string    `json:"id"`
	CartID    string    `json:"cartId"`
	ProductID string    `json:"productId"`
	Quantity  int       `json:"quantity"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// ItemFor returns the line for productID, if any.
func (c *Cart) ItemFor(productID string) (CartItem, bool) {
	for _, item := range c.Items {
		if item.ProductID == productID {
			return item, true
		}
	}
	return CartItem{}, false
}

// ProductIDs lists the distinct products referenced by the cart.
func (c *Cart) ProductIDs() []string {
	seen := make(map[string]struct{}, len(c.Items))
	ids := make([]string, 0, len(c.Items))
	for _, item := range c.Items {
		if _, ok := seen[item.ProductID]; ok {
			continue
		}
		seen[item.ProductID] = struct{}{}
		ids = append(ids, item.ProductID)
	}
	return ids
}

// Totals is the derived part of a cart.
type Totals struct {
	Items int
	Price decimal.Decimal
}

// Totals returns the cart's stored totals.
func (c *Cart) Totals() Totals {
	return Totals{Items: c.TotalItems, Price: c.TotalPrice}
}

// EnrichedItem is a line joined with live product data at response time.
type EnrichedItem struct {
	CartItem
	Product   *Product        `json:"product"`
	LineTotal decimal.Decimal `json:"lineTotal"`
}

// CartView is the response shape of a cart. Items shadows Cart.Items.
type CartView struct {
	Cart
	Items []EnrichedItem `json:"items"`
}

// EmptyCart is the transient cart returned for users who have none yet.
func EmptyCart(userID string) *CartView {
	return &CartView{
		Cart: Cart{
			UserID:     userID,
			TotalPrice: decimal.Zero,
		},
		Items: []EnrichedItem{},
	}
}
