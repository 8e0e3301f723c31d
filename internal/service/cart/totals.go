package cart

import (
	"fmt"
	"strings"

	"cartservice/internal/domain"

	"github.com/shopspring/decimal"
)

// PriceFunc returns the current unit price of a product, zero when unknown.
type PriceFunc func(productID string) decimal.Decimal

// Change describes one line mutation: Diff is new quantity minus old.
type Change struct {
	ProductID string
	Diff      int
}

// Strategy derives the cart totals after a mutation. items is the item set
// after the change has been applied.
type Strategy interface {
	Name() string
	Next(prev domain.Totals, items []domain.CartItem, change Change, price PriceFunc) domain.Totals
}

// FullRecompute sums every line at current prices. It repairs any drift
// left by earlier writes at the cost of one price per distinct product.
type FullRecompute struct{}

func (FullRecompute) Name() string { return "full" }

func (FullRecompute) Next(_ domain.Totals, items []domain.CartItem, _ Change, price PriceFunc) domain.Totals {
	out := domain.Totals{Price: decimal.Zero}
	for _, item := range items {
		out.Items += item.Quantity
		out.Price = out.Price.Add(price(item.ProductID).Mul(decimal.NewFromInt(int64(item.Quantity))))
	}
	return out
}

// Incremental applies the changed line's difference to the stored totals.
// It only needs the changed product's price and trusts prev to be correct.
type Incremental struct{}

func (Incremental) Name() string { return "incremental" }

func (Incremental) Next(prev domain.Totals, _ []domain.CartItem, change Change, price PriceFunc) domain.Totals {
	diff := decimal.NewFromInt(int64(change.Diff))
	return domain.Totals{
		Items: prev.Items + change.Diff,
		Price: prev.Price.Add(price(change.ProductID).Mul(diff)),
	}
}

// ParseStrategy maps a config value to a Strategy.
func ParseStrategy(name string) (Strategy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "full":
		return FullRecompute{}, nil
	case "incremental":
		return Incremental{}, nil
	default:
		return nil, fmt.Errorf("unknown totals strategy %q", name)
	}
}
