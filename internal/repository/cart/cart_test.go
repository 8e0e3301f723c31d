package cart

import (
	"context"
	"os"
	"testing"

	"cartservice/internal/domain"
	"cartservice/internal/migrate"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

func TestPostgres_CreateFindUpdateDelete(t *testing.T) {
	ctx := context.Background()
	pool := testPool(ctx, t)
	defer pool.Close()

	if _, err := migrate.Apply(ctx, pool); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	resetTables(ctx, t, pool)

	repo := NewPostgres(pool)
	created, err := repo.Create(ctx, CreateCartInput{
		UserID:     "user-1",
		TotalItems: 2,
		TotalPrice: decimal.RequireFromString("20.00"),
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if created.UserID != "user-1" || created.TotalItems != 2 || created.Version != 1 {
		t.Fatalf("unexpected cart %+v", created)
	}

	if _, err := repo.Create(ctx, CreateCartInput{UserID: "user-1"}); err != domain.ErrConflict {
		t.Fatalf("expected conflict on second cart, got %v", err)
	}

	item, err := repo.CreateItem(ctx, CreateItemInput{CartID: created.ID, ProductID: "7", Quantity: 2})
	if err != nil {
		t.Fatalf("CreateItem: %v", err)
	}
	if _, err := repo.CreateItem(ctx, CreateItemInput{CartID: created.ID, ProductID: "7", Quantity: 1}); err != domain.ErrConflict {
		t.Fatalf("expected conflict on duplicate line, got %v", err)
	}

	qty := 5
	if _, err := repo.UpdateItem(ctx, item.ID, ItemUpdate{Quantity: &qty}); err != nil {
		t.Fatalf("UpdateItem: %v", err)
	}
	total := decimal.RequireFromString("50.00")
	updated, err := repo.Update(ctx, created.ID, CartUpdate{TotalItems: &qty, TotalPrice: &total})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if updated.Version != 2 || !updated.TotalPrice.Equal(total) || len(updated.Items) != 1 || updated.Items[0].Quantity != 5 {
		t.Fatalf("unexpected updated cart %+v", updated)
	}

	fetched, err := repo.FindByUser(ctx, "user-1")
	if err != nil {
		t.Fatalf("FindByUser: %v", err)
	}
	if fetched.ID != created.ID {
		t.Fatalf("fetched mismatch %+v", fetched)
	}

	deleted, err := repo.Delete(ctx, created.ID)
	if err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if len(deleted.Items) != 1 {
		t.Fatalf("expected deleted cart to carry its items, got %+v", deleted)
	}
	if err := repo.DeleteItem(ctx, item.ID); err != domain.ErrNotFound {
		t.Fatalf("expected cascade delete of items, got %v", err)
	}
	if _, err := repo.FindByID(ctx, "not-a-uuid"); err != domain.ErrNotFound {
		t.Fatalf("expected not found for malformed id, got %v", err)
	}
}

func TestPostgres_WithTxRollsBack(t *testing.T) {
	ctx := context.Background()
	pool := testPool(ctx, t)
	defer pool.Close()

	if _, err := migrate.Apply(ctx, pool); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	resetTables(ctx, t, pool)

	repo := NewPostgres(pool)
	err := repo.WithTx(ctx, func(ctx context.Context, ops Ops) error {
		if _, err := ops.Create(ctx, CreateCartInput{UserID: "user-2"}); err != nil {
			return err
		}
		return domain.ErrInvalidQuantity
	})
	if err != domain.ErrInvalidQuantity {
		t.Fatalf("expected fn error back, got %v", err)
	}
	if _, err := repo.FindByUser(ctx, "user-2"); err != domain.ErrNotFound {
		t.Fatalf("expected rollback, got %v", err)
	}
}

func testPool(ctx context.Context, t *testing.T) *pgxpool.Pool {
	t.Helper()
	dsn := os.Getenv("TEST_DB_DSN")
	if dsn == "" {
		t.Skip("TEST_DB_DSN not set")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("connect db: %v", err)
	}
	return pool
}

func resetTables(ctx context.Context, t *testing.T, pool *pgxpool.Pool) {
	t.Helper()
	if _, err := pool.Exec(ctx, `TRUNCATE cart_items, carts RESTART IDENTITY CASCADE`); err != nil {
		t.Fatalf("truncate tables: %v", err)
	}
}
