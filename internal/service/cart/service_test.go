package cart

import (
	"context"
	"errors"
	"sync"
	"testing"

	"cartservice/internal/domain"
	cartrepo "cartservice/internal/repository/cart"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"golang.org/x/sync/errgroup"
)

type stubProducts struct {
	mu       sync.Mutex
	products map[string]domain.Product
	err      error
	calls    map[string]int
	onGet    func(productID string)
}

func newStubProducts(products ...domain.Product) *stubProducts {
	s := &stubProducts{products: make(map[string]domain.Product), calls: make(map[string]int)}
	for _, p := range products {
		s.products[p.ID] = p
	}
	return s
}

func (s *stubProducts) GetProduct(_ context.Context, productID string) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[productID]++
	if s.onGet != nil {
		s.onGet(productID)
	}
	if s.err != nil {
		return nil, s.err
	}
	p, ok := s.products[productID]
	if !ok {
		return nil, domain.ErrProductNotFound
	}
	return &p, nil
}

func (s *stubProducts) set(p domain.Product) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.products[p.ID] = p
}

func (s *stubProducts) remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.products, id)
}

type stubUsers struct {
	known map[string]bool
	err   error
}

func (s stubUsers) GetUser(_ context.Context, userID string) (*domain.User, error) {
	if s.err != nil {
		return nil, s.err
	}
	if !s.known[userID] {
		return nil, domain.ErrUserNotFound
	}
	return &domain.User{ID: userID}, nil
}

func price(v string) decimal.Decimal { return decimal.RequireFromString(v) }

type fixture struct {
	svc      *Service
	repo     *cartrepo.Memory
	products *stubProducts
}

func newFixture(t *testing.T, strategy Strategy) fixture {
	t.Helper()
	repo := cartrepo.NewMemory()
	products := newStubProducts(
		domain.Product{ID: "7", Name: "Lamp", Price: price("10"), Stock: 5},
		domain.Product{ID: "8", Name: "Mug", Price: price("2.50"), Stock: 100},
	)
	users := stubUsers{known: map[string]bool{"u1": true, "u2": true}}
	return fixture{
		svc:      New(repo, products, users, strategy, zaptest.NewLogger(t)),
		repo:     repo,
		products: products,
	}
}

func assertTotals(t *testing.T, view *domain.CartView, items int, total string) {
	t.Helper()
	assert.Equal(t, items, view.TotalItems)
	assert.True(t, price(total).Equal(view.TotalPrice), "total price %s, want %s", view.TotalPrice, total)
}

func TestAddQuantityScenario(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, FullRecompute{})

	view, err := f.svc.AddQuantity(ctx, "u1", "7", 2)
	require.NoError(t, err)
	assertTotals(t, view, 2, "20")
	require.Len(t, view.Items, 1)
	assert.Equal(t, "7", view.Items[0].ProductID)
	assert.Equal(t, 2, view.Items[0].Quantity)
	require.NotNil(t, view.Items[0].Product)
	assert.Equal(t, "Lamp", view.Items[0].Product.Name)
	assert.True(t, price("20").Equal(view.Items[0].LineTotal))

	view, err = f.svc.AddQuantity(ctx, "u1", "7", 3)
	require.NoError(t, err)
	assertTotals(t, view, 5, "50")
	require.Len(t, view.Items, 1, "one line per product")
	assert.Equal(t, 5, view.Items[0].Quantity)

	view, err = f.svc.AddQuantity(ctx, "u1", "7", -5)
	require.NoError(t, err)
	assertTotals(t, view, 0, "0")
	assert.Empty(t, view.Items)

	stored, err := f.repo.FindByUser(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, stored.Items)
	assert.Equal(t, 1, f.repo.CartCount())
}

func TestAddQuantityBelowZeroRemovesLine(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, FullRecompute{})

	_, err := f.svc.AddQuantity(ctx, "u1", "7", 2)
	require.NoError(t, err)
	_, err = f.svc.AddQuantity(ctx, "u1", "8", 4)
	require.NoError(t, err)

	view, err := f.svc.AddQuantity(ctx, "u1", "7", -3)
	require.NoError(t, err)
	require.Len(t, view.Items, 1)
	assert.Equal(t, "8", view.Items[0].ProductID)
	assertTotals(t, view, 4, "10")
}

func TestAddQuantityNegativeForNewItemIsInvalid(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, FullRecompute{})

	_, err := f.svc.AddQuantity(ctx, "u1", "7", -1)
	assert.ErrorIs(t, err, domain.ErrInvalidQuantity)
	assert.Zero(t, f.repo.CartCount(), "no cart created")

	_, err = f.svc.AddQuantity(ctx, "u1", "8", 1)
	require.NoError(t, err)
	before, err := f.repo.FindByUser(ctx, "u1")
	require.NoError(t, err)

	_, err = f.svc.AddQuantity(ctx, "u1", "7", -2)
	assert.ErrorIs(t, err, domain.ErrInvalidQuantity)
	_, err = f.svc.AddQuantity(ctx, "u1", "7", 0)
	assert.ErrorIs(t, err, domain.ErrInvalidQuantity)

	after, err := f.repo.FindByUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, before, after, "cart unchanged")
}

func TestAddQuantityInsufficientStock(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, FullRecompute{})

	_, err := f.svc.AddQuantity(ctx, "u1", "7", 2)
	require.NoError(t, err)
	before, err := f.repo.FindByUser(ctx, "u1")
	require.NoError(t, err)

	_, err = f.svc.AddQuantity(ctx, "u1", "7", 6)
	assert.ErrorIs(t, err, domain.ErrInsufficientStock)

	after, err := f.repo.FindByUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestAddQuantityUnknownUserOrProduct(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, FullRecompute{})

	_, err := f.svc.AddQuantity(ctx, "ghost", "7", 1)
	assert.ErrorIs(t, err, domain.ErrUserNotFound)

	_, err = f.svc.AddQuantity(ctx, "u1", "404", 1)
	assert.ErrorIs(t, err, domain.ErrProductNotFound)
	assert.Zero(t, f.repo.CartCount())
}

func TestAddQuantityDependencyUnavailable(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, FullRecompute{})
	f.products.err = domain.Unavailable("product service", errors.New("timeout"))

	_, err := f.svc.AddQuantity(ctx, "u1", "7", 1)
	assert.ErrorIs(t, err, domain.ErrDependencyUnavailable)
	assert.Equal(t, domain.KindDependencyUnavailable, domain.KindOf(err))
	assert.Zero(t, f.repo.CartCount())
}

func TestAddQuantityCancelledAfterLookupStoresNothing(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	f := newFixture(t, FullRecompute{})
	f.products.onGet = func(string) { cancel() }

	_, err := f.svc.AddQuantity(ctx, "u1", "7", 1)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, f.repo.CartCount())
}

func TestSetQuantity(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, FullRecompute{})

	view, err := f.svc.SetQuantity(ctx, "u1", "7", 0)
	require.NoError(t, err)
	assert.Empty(t, view.ID, "zero on a missing cart stores nothing")
	assert.Zero(t, f.repo.CartCount())

	view, err = f.svc.SetQuantity(ctx, "u1", "7", 3)
	require.NoError(t, err)
	assertTotals(t, view, 3, "30")

	view, err = f.svc.SetQuantity(ctx, "u1", "7", 1)
	require.NoError(t, err)
	assertTotals(t, view, 1, "10")
	require.Len(t, view.Items, 1)
	assert.Equal(t, 1, view.Items[0].Quantity)

	_, err = f.svc.SetQuantity(ctx, "u1", "7", -1)
	assert.ErrorIs(t, err, domain.ErrInvalidQuantity)
	_, err = f.svc.SetQuantity(ctx, "u1", "7", 6)
	assert.ErrorIs(t, err, domain.ErrInsufficientStock)

	view, err = f.svc.SetQuantity(ctx, "u1", "7", 0)
	require.NoError(t, err)
	assert.Empty(t, view.Items)
	assertTotals(t, view, 0, "0")
}

func TestGetCartWithoutCartPersistsNothing(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, FullRecompute{})

	view, err := f.svc.GetCart(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "u1", view.UserID)
	assertTotals(t, view, 0, "0")
	assert.NotNil(t, view.Items)
	assert.Empty(t, view.Items)
	assert.Zero(t, f.repo.CartCount())

	_, err = f.svc.GetCart(ctx, "ghost")
	assert.ErrorIs(t, err, domain.ErrUserNotFound)
}

func TestGetCartEnrichesWithLivePrices(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, FullRecompute{})

	_, err := f.svc.AddQuantity(ctx, "u1", "7", 2)
	require.NoError(t, err)
	_, err = f.svc.AddQuantity(ctx, "u1", "8", 2)
	require.NoError(t, err)

	f.products.set(domain.Product{ID: "7", Name: "Lamp", Price: price("12"), Stock: 5})
	f.products.remove("8")

	view, err := f.svc.GetCart(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, view.Items, 2)
	assert.True(t, price("24").Equal(view.Items[0].LineTotal))
	assert.Nil(t, view.Items[1].Product, "missing product enriches as nil")
	assert.True(t, view.Items[1].LineTotal.IsZero())
	assertTotals(t, view, 4, "24")

	stored, err := f.repo.FindByUser(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, price("25").Equal(stored.TotalPrice), "reads do not write totals back")
}

func TestGetCartIncrementalReportsStoredTotals(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Incremental{})

	_, err := f.svc.AddQuantity(ctx, "u1", "7", 2)
	require.NoError(t, err)
	f.products.set(domain.Product{ID: "7", Name: "Lamp", Price: price("12"), Stock: 5})

	view, err := f.svc.GetCart(ctx, "u1")
	require.NoError(t, err)
	assertTotals(t, view, 2, "20")
}

func TestMutationLooksUpEachProductOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, FullRecompute{})

	_, err := f.svc.AddQuantity(ctx, "u1", "7", 1)
	require.NoError(t, err)
	_, err = f.svc.AddQuantity(ctx, "u1", "8", 1)
	require.NoError(t, err)

	f.products.calls = make(map[string]int)
	_, err = f.svc.AddQuantity(ctx, "u1", "8", 1)
	require.NoError(t, err)
	assert.Equal(t, 1, f.products.calls["7"])
	assert.Equal(t, 1, f.products.calls["8"])
}

func TestFullRecomputeRepairsDrift(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, FullRecompute{})

	view, err := f.svc.AddQuantity(ctx, "u1", "7", 1)
	require.NoError(t, err)

	wrong := 99
	_, err = f.repo.Update(ctx, view.ID, cartrepo.CartUpdate{TotalItems: &wrong})
	require.NoError(t, err)

	view, err = f.svc.AddQuantity(ctx, "u1", "7", 1)
	require.NoError(t, err)
	assertTotals(t, view, 2, "20")
}

func TestNoOpMutationRecomputesTotals(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, FullRecompute{})

	view, err := f.svc.AddQuantity(ctx, "u1", "7", 2)
	require.NoError(t, err)
	f.products.set(domain.Product{ID: "7", Name: "Lamp", Price: price("12"), Stock: 5})

	view, err = f.svc.AddQuantity(ctx, "u1", "7", 0)
	require.NoError(t, err)
	assertTotals(t, view, 2, "24")
	assert.True(t, price("24").Equal(view.Items[0].LineTotal))

	wrong := price("999")
	_, err = f.repo.Update(ctx, view.ID, cartrepo.CartUpdate{TotalPrice: &wrong})
	require.NoError(t, err)

	view, err = f.svc.SetQuantity(ctx, "u1", "7", 2)
	require.NoError(t, err)
	assertTotals(t, view, 2, "24")

	stored, err := f.repo.FindByUser(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, price("24").Equal(stored.TotalPrice), "recomputed totals are persisted, got %s", stored.TotalPrice)
	assert.Equal(t, 2, stored.Items[0].Quantity)
}

func TestSetQuantityZeroOnAbsentItemKeepsTotals(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, FullRecompute{})

	_, err := f.svc.AddQuantity(ctx, "u1", "7", 1)
	require.NoError(t, err)

	view, err := f.svc.SetQuantity(ctx, "u1", "8", 0)
	require.NoError(t, err)
	assertTotals(t, view, 1, "10")
	assert.Len(t, view.Items, 1)
}

func TestIncrementalStrategy(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Incremental{})

	view, err := f.svc.AddQuantity(ctx, "u1", "7", 2)
	require.NoError(t, err)
	assertTotals(t, view, 2, "20")

	view, err = f.svc.AddQuantity(ctx, "u1", "8", 2)
	require.NoError(t, err)
	assertTotals(t, view, 4, "25")

	view, err = f.svc.AddQuantity(ctx, "u1", "7", -2)
	require.NoError(t, err)
	assertTotals(t, view, 2, "5")

	wrong := 99
	_, err = f.repo.Update(ctx, view.ID, cartrepo.CartUpdate{TotalItems: &wrong})
	require.NoError(t, err)
	view, err = f.svc.AddQuantity(ctx, "u1", "8", 1)
	require.NoError(t, err)
	assert.Equal(t, 100, view.TotalItems, "incremental trusts stored totals")
}

func TestConcurrentAddsShareOneCart(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, FullRecompute{})

	var g errgroup.Group
	for i := 0; i < 20; i++ {
		productID := "8"
		if i%2 == 0 {
			productID = "7"
		}
		qty := 1
		if productID == "8" {
			qty = 3
		}
		g.Go(func() error {
			_, err := f.svc.AddQuantity(ctx, "u2", productID, qty)
			return err
		})
	}
	require.NoError(t, g.Wait())

	assert.Equal(t, 1, f.repo.CartCount())
	view, err := f.svc.GetCart(ctx, "u2")
	require.NoError(t, err)
	require.Len(t, view.Items, 2)
	// 10 adds of one lamp at 10, 10 adds of three mugs at 2.50.
	assertTotals(t, view, 40, "175")
}

func TestDeleteCart(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, FullRecompute{})

	view, err := f.svc.AddQuantity(ctx, "u1", "7", 2)
	require.NoError(t, err)

	deleted, err := f.svc.DeleteCart(ctx, view.ID)
	require.NoError(t, err)
	assert.Equal(t, view.ID, deleted.ID)
	assert.Len(t, deleted.Items, 1)
	assert.Zero(t, f.repo.CartCount())

	_, err = f.svc.DeleteCart(ctx, view.ID)
	assert.ErrorIs(t, err, domain.ErrCartNotFound)
	_, err = f.svc.DeleteCart(ctx, "does-not-exist")
	assert.ErrorIs(t, err, domain.ErrCartNotFound)
}

func TestGetByUserIDAndGetUser(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, FullRecompute{})

	view, err := f.svc.GetByUserID(ctx, "nobody")
	require.NoError(t, err)
	assert.Nil(t, view)

	_, err = f.svc.AddQuantity(ctx, "u1", "8", 2)
	require.NoError(t, err)
	view, err = f.svc.GetByUserID(ctx, "u1")
	require.NoError(t, err)
	require.NotNil(t, view)
	assertTotals(t, view, 2, "5")

	user, err := f.svc.GetUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "u1", user.ID)
	_, err = f.svc.GetUser(ctx, "ghost")
	assert.ErrorIs(t, err, domain.ErrUserNotFound)
}

type failingRepo struct {
	*cartrepo.Memory
}

func (failingRepo) FindByUser(context.Context, string) (*domain.Cart, error) {
	return nil, errors.New("connection reset")
}

func TestStorageFailureIsKinded(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, FullRecompute{})
	svc := New(failingRepo{f.repo}, f.products, stubUsers{known: map[string]bool{"u1": true}}, nil, nil)

	_, err := svc.AddQuantity(ctx, "u1", "7", 1)
	assert.ErrorIs(t, err, domain.ErrStorage)
	assert.Equal(t, "storage failure", domain.PublicMessage(err))

	_, err = svc.GetCart(ctx, "u1")
	assert.ErrorIs(t, err, domain.ErrStorage)
}
