package cart

import (
	"context"
	"errors"
	"fmt"

	"cartservice/internal/domain"
	cartrepo "cartservice/internal/repository/cart"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ProductLookup resolves catalog products.
type ProductLookup interface {
	GetProduct(ctx context.Context, productID string) (*domain.Product, error)
}

// UserLookup resolves users.
type UserLookup interface {
	GetUser(ctx context.Context, userID string) (*domain.User, error)
}

// maxAttempts bounds the retries of a mutation whose cart gained a product
// between price prefetch and row lock.
const maxAttempts = 3

var errStalePrices = errors.New("cart changed after prices were fetched")

// Service is the only writer of carts and their items.
type Service struct {
	repo     cartrepo.Repository
	products ProductLookup
	users    UserLookup
	totals   Strategy
	log      *zap.Logger
}

func New(repo cartrepo.Repository, products ProductLookup, users UserLookup, totals Strategy, log *zap.Logger) *Service {
	if totals == nil {
		totals = FullRecompute{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{repo: repo, products: products, users: users, totals: totals, log: log}
}

// quantityRule computes a line's next quantity from its current one.
// A result <= 0 removes the line.
type quantityRule func(current int, exists bool) (int, error)

// AddQuantity adds quantity to the user's line for productID, creating the
// cart and the line when needed. A negative quantity only decrements an
// existing line; reaching zero or below removes it.
func (s *Service) AddQuantity(ctx context.Context, userID, productID string, quantity int) (*domain.CartView, error) {
	return s.mutate(ctx, "add quantity", userID, productID, quantity, func(current int, exists bool) (int, error) {
		if !exists && quantity <= 0 {
			return 0, domain.NewError(domain.KindInvalidQuantity, "quantity must be positive for a new item", nil)
		}
		return current + quantity, nil
	})
}

// SetQuantity makes quantity the user's absolute quantity for productID.
// Zero removes the line.
func (s *Service) SetQuantity(ctx context.Context, userID, productID string, quantity int) (*domain.CartView, error) {
	if quantity < 0 {
		return nil, domain.ErrInvalidQuantity
	}
	return s.mutate(ctx, "set quantity", userID, productID, quantity, func(int, bool) (int, error) {
		return quantity, nil
	})
}

func (s *Service) mutate(ctx context.Context, op, userID, productID string, requested int, rule quantityRule) (*domain.CartView, error) {
	product, err := s.resolve(ctx, userID, productID)
	if err != nil {
		return nil, err
	}
	if requested > product.Stock {
		return nil, domain.NewError(domain.KindInsufficientStock,
			fmt.Sprintf("requested %d, only %d in stock", requested, product.Stock), nil)
	}

	cache := newProductCache(s.products, s.log)
	cache.put(product)

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		current, err := s.repo.FindByUser(ctx, userID)
		switch {
		case errors.Is(err, domain.ErrNotFound):
		case err != nil:
			return nil, s.fail(op, err)
		default:
			if err := cache.prefetch(ctx, current.ProductIDs()); err != nil {
				return nil, err
			}
		}

		var result *domain.Cart
		err = s.repo.WithTx(ctx, func(ctx context.Context, ops cartrepo.Ops) error {
			c, err := s.apply(ctx, ops, cache, userID, productID, rule)
			result = c
			return err
		})
		if errors.Is(err, errStalePrices) {
			s.log.Debug("cart changed during mutation, retrying",
				zap.String("user_id", userID), zap.Int("attempt", attempt))
			continue
		}
		if err != nil {
			return nil, s.fail(op, err)
		}
		if result == nil {
			return domain.EmptyCart(userID), nil
		}
		return enrich(result, cache.products), nil
	}
	return nil, domain.NewError(domain.KindStorage, op+": cart kept changing", errStalePrices)
}

// resolve checks the user and fetches the product concurrently.
func (s *Service) resolve(ctx context.Context, userID, productID string) (*domain.Product, error) {
	var product *domain.Product
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		_, err := s.users.GetUser(gctx, userID)
		return err
	})
	g.Go(func() error {
		p, err := s.products.GetProduct(gctx, productID)
		product = p
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return product, nil
}

// apply runs under the store transaction. It returns a nil cart when the
// user has none and the rule asks for nothing to be stored.
func (s *Service) apply(ctx context.Context, ops cartrepo.Ops, cache *productCache, userID, productID string, rule quantityRule) (*domain.Cart, error) {
	for pass := 0; pass < 2; pass++ {
		c, err := ops.FindByUser(ctx, userID)
		if err == nil {
			return s.applyToCart(ctx, ops, cache, c, productID, rule)
		}
		if !errors.Is(err, domain.ErrNotFound) {
			return nil, err
		}

		next, err := rule(0, false)
		if err != nil {
			return nil, err
		}
		if next <= 0 {
			return nil, nil
		}
		items := []domain.CartItem{{ProductID: productID, Quantity: next}}
		totals := s.totals.Next(domain.Totals{}, items, Change{ProductID: productID, Diff: next}, cache.price)
		created, err := ops.Create(ctx, cartrepo.CreateCartInput{
			UserID:     userID,
			TotalItems: totals.Items,
			TotalPrice: totals.Price,
		})
		if errors.Is(err, domain.ErrConflict) {
			// Another request created the cart first; continue on theirs.
			continue
		}
		if err != nil {
			return nil, err
		}
		item, err := ops.CreateItem(ctx, cartrepo.CreateItemInput{CartID: created.ID, ProductID: productID, Quantity: next})
		if err != nil {
			return nil, err
		}
		created.Items = []domain.CartItem{*item}
		return created, nil
	}
	return nil, errStalePrices
}

func (s *Service) applyToCart(ctx context.Context, ops cartrepo.Ops, cache *productCache, c *domain.Cart, productID string, rule quantityRule) (*domain.Cart, error) {
	for _, id := range c.ProductIDs() {
		if !cache.has(id) {
			return nil, errStalePrices
		}
	}

	existing, exists := c.ItemFor(productID)
	next, err := rule(existing.Quantity, exists)
	if err != nil {
		return nil, err
	}
	if next < 0 {
		next = 0
	}
	items := make([]domain.CartItem, 0, len(c.Items)+1)
	switch {
	case next == existing.Quantity:
		items = append(items, c.Items...)
	case !exists:
		item, err := ops.CreateItem(ctx, cartrepo.CreateItemInput{CartID: c.ID, ProductID: productID, Quantity: next})
		if err != nil {
			return nil, err
		}
		items = append(append(items, c.Items...), *item)
	case next == 0:
		if err := ops.DeleteItem(ctx, existing.ID); err != nil {
			return nil, err
		}
		for _, item := range c.Items {
			if item.ID != existing.ID {
				items = append(items, item)
			}
		}
	default:
		updated, err := ops.UpdateItem(ctx, existing.ID, cartrepo.ItemUpdate{Quantity: &next})
		if err != nil {
			return nil, err
		}
		for _, item := range c.Items {
			if item.ID == existing.ID {
				item = *updated
			}
			items = append(items, item)
		}
	}

	totals := s.totals.Next(c.Totals(), items, Change{ProductID: productID, Diff: next - existing.Quantity}, cache.price)
	return ops.Update(ctx, c.ID, cartrepo.CartUpdate{TotalItems: &totals.Items, TotalPrice: &totals.Price})
}

// GetCart returns the user's enriched cart. A user without one gets a
// transient empty cart; nothing is stored until the first add.
func (s *Service) GetCart(ctx context.Context, userID string) (*domain.CartView, error) {
	if _, err := s.users.GetUser(ctx, userID); err != nil {
		return nil, err
	}
	c, err := s.repo.FindByUser(ctx, userID)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.EmptyCart(userID), nil
	}
	if err != nil {
		return nil, s.fail("get cart", err)
	}
	return s.enrich(ctx, c)
}

// GetByUserID is a plain store lookup for other services. It returns nil
// when the user has no cart and does not check the user exists.
func (s *Service) GetByUserID(ctx context.Context, userID string) (*domain.CartView, error) {
	c, err := s.repo.FindByUser(ctx, userID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, s.fail("get cart by user", err)
	}
	return s.enrich(ctx, c)
}

func (s *Service) GetUser(ctx context.Context, userID string) (*domain.User, error) {
	return s.users.GetUser(ctx, userID)
}

// DeleteCart removes a cart and its items and returns what was removed.
func (s *Service) DeleteCart(ctx context.Context, cartID string) (*domain.Cart, error) {
	var deleted *domain.Cart
	err := s.repo.WithTx(ctx, func(ctx context.Context, ops cartrepo.Ops) error {
		c, err := ops.Delete(ctx, cartID)
		deleted = c
		return err
	})
	if errors.Is(err, domain.ErrNotFound) {
		return nil, domain.ErrCartNotFound
	}
	if err != nil {
		return nil, s.fail("delete cart", err)
	}
	s.log.Info("cart deleted", zap.String("cart_id", cartID), zap.String("user_id", deleted.UserID))
	return deleted, nil
}

// enrich builds a read view. Its totals come from the configured strategy at
// the prices just fetched; nothing is written back.
func (s *Service) enrich(ctx context.Context, c *domain.Cart) (*domain.CartView, error) {
	cache := newProductCache(s.products, s.log)
	if err := cache.prefetch(ctx, c.ProductIDs()); err != nil {
		return nil, err
	}
	view := enrich(c, cache.products)
	totals := s.totals.Next(c.Totals(), c.Items, Change{}, cache.price)
	view.TotalItems, view.TotalPrice = totals.Items, totals.Price
	return view, nil
}

// fail keeps kinded errors and caller cancellation as they are and wraps the
// rest, expired deadlines included, as storage failures.
func (s *Service) fail(op string, err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	return domain.Storage(op, err)
}
