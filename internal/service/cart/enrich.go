package cart

import (
	"context"
	"errors"

	"cartservice/internal/domain"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// productCache holds the products looked up during one request. A nil entry
// records a product that no longer exists. It is not safe for concurrent use.
type productCache struct {
	lookup   ProductLookup
	log      *zap.Logger
	products map[string]*domain.Product
}

func newProductCache(lookup ProductLookup, log *zap.Logger) *productCache {
	return &productCache{
		lookup:   lookup,
		log:      log,
		products: make(map[string]*domain.Product),
	}
}

func (c *productCache) put(p *domain.Product) {
	c.products[p.ID] = p
}

func (c *productCache) has(productID string) bool {
	_, ok := c.products[productID]
	return ok
}

// prefetch looks up every id not seen yet. Missing products are recorded,
// any other failure aborts.
func (c *productCache) prefetch(ctx context.Context, ids []string) error {
	for _, id := range ids {
		if c.has(id) {
			continue
		}
		p, err := c.lookup.GetProduct(ctx, id)
		switch {
		case errors.Is(err, domain.ErrProductNotFound):
			c.log.Warn("cart references a missing product", zap.String("product_id", id))
			c.products[id] = nil
		case err != nil:
			return err
		default:
			c.products[id] = p
		}
	}
	return nil
}

func (c *productCache) price(productID string) decimal.Decimal {
	if p := c.products[productID]; p != nil {
		return p.Price
	}
	return decimal.Zero
}

// enrich joins each line with its product. Lines of missing products keep
// a nil Product and a zero line total.
func enrich(c *domain.Cart, products map[string]*domain.Product) *domain.CartView {
	view := &domain.CartView{
		Cart:  *c,
		Items: make([]domain.EnrichedItem, 0, len(c.Items)),
	}
	view.Cart.Items = nil
	for _, item := range c.Items {
		line := domain.EnrichedItem{CartItem: item, LineTotal: decimal.Zero}
		if p := products[item.ProductID]; p != nil {
			line.Product = p
			line.LineTotal = p.Price.Mul(decimal.NewFromInt(int64(item.Quantity)))
		}
		view.Items = append(view.Items, line)
	}
	return view
}
