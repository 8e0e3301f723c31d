// Package messaging serves the cart operations on the request/reply bus.
package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"cartservice/internal/bus"
	"cartservice/internal/cache"
	"cartservice/internal/domain"

	"go.uber.org/zap"
)

const (
	CmdGetCart         = "get_cart"
	CmdAddToCart       = "add_to_cart"
	CmdSetQuantity     = "set_quantity"
	CmdGetCartByUserID = "get_cart_by_user_id"
	CmdGetUser         = "get_user"
	CmdDeleteCart      = "delete_cart"
)

// CartService is the part of the cart service exposed on the bus.
type CartService interface {
	AddQuantity(ctx context.Context, userID, productID string, quantity int) (*domain.CartView, error)
	SetQuantity(ctx context.Context, userID, productID string, quantity int) (*domain.CartView, error)
	GetCart(ctx context.Context, userID string) (*domain.CartView, error)
	GetByUserID(ctx context.Context, userID string) (*domain.CartView, error)
	GetUser(ctx context.Context, userID string) (*domain.User, error)
	DeleteCart(ctx context.Context, cartID string) (*domain.Cart, error)
}

// Options tune the handlers.
type Options struct {
	// ReplyTTL is how long the first reply to a mutating command is kept
	// for redeliveries.
	ReplyTTL time.Duration
	// Lease bounds how long a crashed handler blocks redeliveries.
	Lease time.Duration
}

// Handlers adapts CartService to bus handlers.
type Handlers struct {
	svc   CartService
	store cache.IdempotencyStore
	opts  Options
	log   *zap.Logger
}

func New(svc CartService, store cache.IdempotencyStore, opts Options, log *zap.Logger) *Handlers {
	if opts.ReplyTTL <= 0 {
		opts.ReplyTTL = 24 * time.Hour
	}
	if opts.Lease <= 0 {
		opts.Lease = 30 * time.Second
	}
	return &Handlers{svc: svc, store: store, opts: opts, log: log}
}

// Register installs every cart command on srv.
func (h *Handlers) Register(srv *bus.Server) {
	srv.Handle(CmdGetCart, h.getCart)
	srv.Handle(CmdAddToCart, h.once(CmdAddToCart, h.addToCart))
	srv.Handle(CmdSetQuantity, h.once(CmdSetQuantity, h.setQuantity))
	srv.Handle(CmdGetCartByUserID, h.getCartByUserID)
	srv.Handle(CmdGetUser, h.getUser)
	srv.Handle(CmdDeleteCart, h.once(CmdDeleteCart, h.deleteCart))
}

type itemPayload struct {
	UserID    bus.ID `json:"userId"`
	ProductID bus.ID `json:"productId"`
	Quantity  int    `json:"quantity"`
}

func (h *Handlers) getCart(ctx context.Context, req bus.Request) (any, error) {
	userID, err := bus.DecodeID(req.Data, "userId")
	if err != nil {
		return nil, err
	}
	return orNull(h.svc.GetCart(ctx, userID))
}

func (h *Handlers) addToCart(ctx context.Context, req bus.Request) (any, error) {
	var in itemPayload
	if err := decodeItem(req.Data, &in); err != nil {
		return nil, err
	}
	return orNull(h.svc.AddQuantity(ctx, string(in.UserID), string(in.ProductID), in.Quantity))
}

func (h *Handlers) setQuantity(ctx context.Context, req bus.Request) (any, error) {
	var in itemPayload
	if err := decodeItem(req.Data, &in); err != nil {
		return nil, err
	}
	return orNull(h.svc.SetQuantity(ctx, string(in.UserID), string(in.ProductID), in.Quantity))
}

func (h *Handlers) getCartByUserID(ctx context.Context, req bus.Request) (any, error) {
	userID, err := bus.DecodeID(req.Data, "userId")
	if err != nil {
		return nil, err
	}
	return orNull(h.svc.GetByUserID(ctx, userID))
}

func (h *Handlers) getUser(ctx context.Context, req bus.Request) (any, error) {
	userID, err := bus.DecodeID(req.Data, "userId")
	if err != nil {
		return nil, err
	}
	return orNull(h.svc.GetUser(ctx, userID))
}

func (h *Handlers) deleteCart(ctx context.Context, req bus.Request) (any, error) {
	cartID, err := bus.DecodeID(req.Data, "id")
	if err != nil {
		return nil, err
	}
	return orNull(h.svc.DeleteCart(ctx, cartID))
}

// orNull drops typed nil pointers so they reply as JSON null.
func orNull[T any](v *T, err error) (any, error) {
	if err != nil || v == nil {
		return nil, err
	}
	return v, nil
}

// storedReply is what the idempotency store keeps for a handled message.
type storedReply struct {
	Response json.RawMessage `json:"response,omitempty"`
	Err      *bus.ReplyError `json:"err,omitempty"`
}

// once answers a redelivered message with the reply of its first delivery.
// Only results that a retry would reproduce are kept; infrastructure
// failures release the claim so the redelivery runs again.
func (h *Handlers) once(cmd string, fn bus.HandlerFunc) bus.HandlerFunc {
	return func(ctx context.Context, req bus.Request) (any, error) {
		key := cmd + ":" + req.ID
		claimed, cached, err := h.store.Claim(ctx, key, h.opts.Lease)
		if err != nil {
			h.log.Warn("idempotency store unavailable, handling without dedup", zap.String("cmd", cmd), zap.Error(err))
			return fn(ctx, req)
		}
		if !claimed {
			if cached == nil {
				return nil, bus.ErrNoReply
			}
			return replay(cached)
		}

		result, err := fn(ctx, req)
		if err != nil && !deterministic(err) {
			if rerr := h.store.Release(ctx, key); rerr != nil {
				h.log.Warn("release idempotency claim", zap.String("key", key), zap.Error(rerr))
			}
			return nil, err
		}

		stored := storedReply{}
		if err != nil {
			stored.Err = ToReplyError(err)
		} else if result != nil {
			body, merr := json.Marshal(result)
			if merr != nil {
				return nil, merr
			}
			stored.Response = body
			result = json.RawMessage(body)
		}
		raw, merr := json.Marshal(stored)
		if merr == nil {
			merr = h.store.Complete(ctx, key, raw, h.opts.ReplyTTL)
		}
		if merr != nil {
			h.log.Warn("store reply for redelivery", zap.String("key", key), zap.Error(merr))
		}
		return result, err
	}
}

func replay(cached []byte) (any, error) {
	var stored storedReply
	if err := json.Unmarshal(cached, &stored); err != nil {
		return nil, fmt.Errorf("decode stored reply: %w", err)
	}
	if stored.Err != nil {
		return nil, stored.Err
	}
	if len(stored.Response) == 0 {
		return nil, nil
	}
	return stored.Response, nil
}

func deterministic(err error) bool {
	switch domain.KindOf(err) {
	case domain.KindUserNotFound, domain.KindProductNotFound, domain.KindCartNotFound,
		domain.KindInvalidQuantity, domain.KindInsufficientStock:
		return true
	}
	var re *bus.ReplyError
	return errors.As(err, &re)
}

func decodeItem(raw json.RawMessage, in *itemPayload) error {
	if err := json.Unmarshal(raw, in); err != nil {
		return bus.InvalidPayload(err.Error())
	}
	if in.UserID == "" || in.ProductID == "" {
		return bus.InvalidPayload("userId and productId required")
	}
	return nil
}

// ToReplyError maps an error to its stable code and caller-facing message.
func ToReplyError(err error) *bus.ReplyError {
	var re *bus.ReplyError
	if errors.As(err, &re) {
		return re
	}
	return &bus.ReplyError{Code: string(domain.KindOf(err)), Message: domain.PublicMessage(err)}
}

// MapError is the bus.ErrorMapper for cart handlers. Infrastructure
// failures are logged with their cause before it is dropped.
func MapError(log *zap.Logger) bus.ErrorMapper {
	return func(err error) *bus.ReplyError {
		switch domain.KindOf(err) {
		case domain.KindDependencyUnavailable, domain.KindStorage, domain.KindInternal:
			var re *bus.ReplyError
			if !errors.As(err, &re) {
				log.Error("bus handler failed", zap.Error(err))
			}
		}
		return ToReplyError(err)
	}
}
