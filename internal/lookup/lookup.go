// Package lookup resolves users and products held by other services.
package lookup

import (
	"context"
	"errors"

	"cartservice/internal/bus"
	"cartservice/internal/domain"
)

const (
	cmdGetProduct = "get_product"
	cmdGetUser    = "get_user"
)

// Caller is the part of bus.Client the lookups need.
type Caller interface {
	Call(ctx context.Context, queue, cmd string, data, out any) error
}

// ProductClient asks the catalog service for products.
type ProductClient struct {
	bus   Caller
	queue string
}

// NewProductClient returns a ProductClient sending to queue.
func NewProductClient(c Caller, queue string) *ProductClient {
	return &ProductClient{bus: c, queue: queue}
}

// GetProduct returns the product or domain.ErrProductNotFound.
func (p *ProductClient) GetProduct(ctx context.Context, productID string) (*domain.Product, error) {
	var out domain.Product
	err := p.bus.Call(ctx, p.queue, cmdGetProduct, map[string]string{"productId": productID}, &out)
	if err != nil {
		return nil, translate(ctx, err, domain.ErrProductNotFound, "product service")
	}
	if out.ID == "" {
		out.ID = productID
	}
	return &out, nil
}

// UserClient asks the user service for users.
type UserClient struct {
	bus   Caller
	queue string
}

// NewUserClient returns a UserClient sending to queue.
func NewUserClient(c Caller, queue string) *UserClient {
	return &UserClient{bus: c, queue: queue}
}

// GetUser returns the user or domain.ErrUserNotFound.
func (u *UserClient) GetUser(ctx context.Context, userID string) (*domain.User, error) {
	var out domain.User
	err := u.bus.Call(ctx, u.queue, cmdGetUser, map[string]string{"userId": userID}, &out)
	if err != nil {
		return nil, translate(ctx, err, domain.ErrUserNotFound, "user service")
	}
	if out.ID == "" {
		out.ID = userID
	}
	return &out, nil
}

func translate(ctx context.Context, err error, notFound *domain.Error, service string) error {
	switch {
	case errors.Is(err, bus.ErrNullResponse):
		return notFound
	case errors.Is(ctx.Err(), context.Canceled):
		return ctx.Err()
	default:
		return domain.Unavailable(service, err)
	}
}
