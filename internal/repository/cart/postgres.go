package cart

import (
	"context"
	"errors"
	"fmt"

	"cartservice/internal/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

const uniqueViolation = "23505"

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type postgresRepo struct {
	pgOps
	pool *pgxpool.Pool
}

// NewPostgres returns a Repository backed by the carts and cart_items tables.
func NewPostgres(pool *pgxpool.Pool) Repository {
	return &postgresRepo{pgOps: pgOps{q: pool}, pool: pool}
}

func (r *postgresRepo) WithTx(ctx context.Context, fn func(ctx context.Context, ops Ops) error) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := fn(ctx, pgOps{q: tx, forUpdate: true}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// pgOps runs cart queries on a pool or a transaction. Inside a transaction
// cart rows are read FOR UPDATE, which serializes writers per cart.
type pgOps struct {
	q         querier
	forUpdate bool
}

const cartColumns = `id::text, user_id, total_items, total_price::text, version, created_at, updated_at`

func (o pgOps) FindByUser(ctx context.Context, userID string) (*domain.Cart, error) {
	return o.fetchCart(ctx, `SELECT `+cartColumns+` FROM carts WHERE user_id = $1`, userID)
}

func (o pgOps) FindByID(ctx context.Context, cartID string) (*domain.Cart, error) {
	if _, err := uuid.Parse(cartID); err != nil {
		return nil, domain.ErrNotFound
	}
	return o.fetchCart(ctx, `SELECT `+cartColumns+` FROM carts WHERE id = $1`, cartID)
}

func (o pgOps) Create(ctx context.Context, in CreateCartInput) (*domain.Cart, error) {
	const q = `
INSERT INTO carts (user_id, total_items, total_price)
VALUES ($1, $2, $3::numeric)
ON CONFLICT (user_id) DO NOTHING
RETURNING ` + cartColumns

	cart, err := scanCart(o.q.QueryRow(ctx, q, in.UserID, in.TotalItems, in.TotalPrice.String()))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrConflict
		}
		return nil, err
	}
	cart.Items = []domain.CartItem{}
	return cart, nil
}

func (o pgOps) Update(ctx context.Context, cartID string, in CartUpdate) (*domain.Cart, error) {
	if _, err := uuid.Parse(cartID); err != nil {
		return nil, domain.ErrNotFound
	}
	var price any
	if in.TotalPrice != nil {
		price = in.TotalPrice.String()
	}
	const q = `
UPDATE carts
SET total_items = COALESCE($2, total_items),
    total_price = COALESCE($3::numeric, total_price),
    version = version + 1,
    updated_at = now()
WHERE id = $1
RETURNING ` + cartColumns

	cart, err := scanCart(o.q.QueryRow(ctx, q, cartID, in.TotalItems, price))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	if cart.Items, err = o.listItems(ctx, cart.ID); err != nil {
		return nil, err
	}
	return cart, nil
}

func (o pgOps) Delete(ctx context.Context, cartID string) (*domain.Cart, error) {
	cart, err := o.FindByID(ctx, cartID)
	if err != nil {
		return nil, err
	}
	cmd, err := o.q.Exec(ctx, `DELETE FROM carts WHERE id = $1`, cartID)
	if err != nil {
		return nil, err
	}
	if cmd.RowsAffected() == 0 {
		return nil, domain.ErrNotFound
	}
	return cart, nil
}

const itemColumns = `id::text, cart_id::text, product_id, quantity, created_at, updated_at`

func (o pgOps) CreateItem(ctx context.Context, in CreateItemInput) (*domain.CartItem, error) {
	const q = `
INSERT INTO cart_items (cart_id, product_id, quantity)
VALUES ($1, $2, $3)
RETURNING ` + itemColumns

	item, err := scanItem(o.q.QueryRow(ctx, q, in.CartID, in.ProductID, in.Quantity))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return nil, domain.ErrConflict
		}
		return nil, err
	}
	return item, nil
}

func (o pgOps) UpdateItem(ctx context.Context, itemID string, in ItemUpdate) (*domain.CartItem, error) {
	if _, err := uuid.Parse(itemID); err != nil {
		return nil, domain.ErrNotFound
	}
	const q = `
UPDATE cart_items
SET quantity = COALESCE($2, quantity),
    updated_at = now()
WHERE id = $1
RETURNING ` + itemColumns

	item, err := scanItem(o.q.QueryRow(ctx, q, itemID, in.Quantity))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return item, nil
}

func (o pgOps) DeleteItem(ctx context.Context, itemID string) error {
	if _, err := uuid.Parse(itemID); err != nil {
		return domain.ErrNotFound
	}
	cmd, err := o.q.Exec(ctx, `DELETE FROM cart_items WHERE id = $1`, itemID)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (o pgOps) fetchCart(ctx context.Context, cartQuery string, args ...any) (*domain.Cart, error) {
	if o.forUpdate {
		cartQuery += ` FOR UPDATE`
	}
	cart, err := scanCart(o.q.QueryRow(ctx, cartQuery, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	if cart.Items, err = o.listItems(ctx, cart.ID); err != nil {
		return nil, err
	}
	return cart, nil
}

func (o pgOps) listItems(ctx context.Context, cartID string) ([]domain.CartItem, error) {
	rows, err := o.q.Query(ctx, `
SELECT `+itemColumns+`
FROM cart_items
WHERE cart_id = $1
ORDER BY created_at ASC, id ASC
`, cartID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := []domain.CartItem{}
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

func scanCart(row pgx.Row) (*domain.Cart, error) {
	var (
		cart  domain.Cart
		price string
	)
	if err := row.Scan(
		&cart.ID,
		&cart.UserID,
		&cart.TotalItems,
		&price,
		&cart.Version,
		&cart.CreatedAt,
		&cart.UpdatedAt,
	); err != nil {
		return nil, err
	}
	total, err := decimal.NewFromString(price)
	if err != nil {
		return nil, fmt.Errorf("parse total_price %q: %w", price, err)
	}
	cart.TotalPrice = total
	return &cart, nil
}

func scanItem(row pgx.Row) (*domain.CartItem, error) {
	var item domain.CartItem
	if err := row.Scan(
		&item.ID,
		&item.CartID,
		&item.ProductID,
		&item.Quantity,
		&item.CreatedAt,
		&item.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &item, nil
}
