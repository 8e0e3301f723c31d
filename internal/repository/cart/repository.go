package cart

import (
	"context"

	"cartservice/internal/domain"

	"github.com/shopspring/decimal"
)

// CreateCartInput seeds a new cart. Totals are supplied by the caller.
type CreateCartInput struct {
	UserID     string
	TotalItems int
	TotalPrice decimal.Decimal
}

// CartUpdate holds the fields of a partial cart update; nil means unchanged.
// Every update bumps the cart version.
type CartUpdate struct {
	TotalItems *int
	TotalPrice *decimal.Decimal
}

// CreateItemInput creates one line.
type CreateItemInput struct {
	CartID    string
	ProductID string
	Quantity  int
}

// ItemUpdate holds the fields of a partial item update.
type ItemUpdate struct {
	Quantity *int
}

// Ops are the CRUD operations on carts and their items.
//
// Lookups return domain.ErrNotFound when nothing matches. Create returns
// domain.ErrConflict when the user already owns a cart. Returned carts always
// carry their current items.
type Ops interface {
	FindByUser(ctx context.Context, userID string) (*domain.Cart, error)
	FindByID(ctx context.Context, cartID string) (*domain.Cart, error)
	Create(ctx context.Context, in CreateCartInput) (*domain.Cart, error)
	Update(ctx context.Context, cartID string, in CartUpdate) (*domain.Cart, error)
	Delete(ctx context.Context, cartID string) (*domain.Cart, error)
	CreateItem(ctx context.Context, in CreateItemInput) (*domain.CartItem, error)
	UpdateItem(ctx context.Context, itemID string, in ItemUpdate) (*domain.CartItem, error)
	DeleteItem(ctx context.Context, itemID string) error
}

// Repository is the cart store. Ops used directly run in autocommit mode.
//
// WithTx runs fn in a single transaction: carts read through the Ops given to
// fn are locked until fn returns, and any error from fn rolls every write
// back. fn must not perform remote calls.
type Repository interface {
	Ops
	WithTx(ctx context.Context, fn func(ctx context.Context, ops Ops) error) error
}
