package cart

import (
	"context"
	"sort"
	"sync"
	"time"

	"cartservice/internal/domain"

	"github.com/google/uuid"
)

// Memory is an in-process Repository. Transactions work on a copy of the
// state that replaces the original only when fn succeeds, so a failed fn
// leaves nothing behind. One mutex serializes every operation.
type Memory struct {
	mu    sync.Mutex
	state *memState
	now   func() time.Time
}

type memItem struct {
	item domain.CartItem
	seq  int64
}

type memState struct {
	carts   map[string]domain.Cart
	items   map[string]memItem
	nextSeq int64
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		state: &memState{
			carts: make(map[string]domain.Cart),
			items: make(map[string]memItem),
		},
		now: func() time.Time { return time.Now().UTC() },
	}
}

// CartCount reports how many carts are stored.
func (m *Memory) CartCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.state.carts)
}

func (m *Memory) WithTx(ctx context.Context, fn func(ctx context.Context, ops Ops) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	draft := m.state.clone()
	if err := fn(ctx, memOps{s: draft, now: m.now}); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	m.state = draft
	return nil
}

func (m *Memory) do(ctx context.Context, fn func(o memOps) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	return fn(memOps{s: m.state, now: m.now})
}

func (m *Memory) FindByUser(ctx context.Context, userID string) (cart *domain.Cart, err error) {
	err = m.do(ctx, func(o memOps) error {
		cart, err = o.FindByUser(ctx, userID)
		return err
	})
	return cart, err
}

func (m *Memory) FindByID(ctx context.Context, cartID string) (cart *domain.Cart, err error) {
	err = m.do(ctx, func(o memOps) error {
		cart, err = o.FindByID(ctx, cartID)
		return err
	})
	return cart, err
}

func (m *Memory) Create(ctx context.Context, in CreateCartInput) (cart *domain.Cart, err error) {
	err = m.do(ctx, func(o memOps) error {
		cart, err = o.Create(ctx, in)
		return err
	})
	return cart, err
}

func (m *Memory) Update(ctx context.Context, cartID string, in CartUpdate) (cart *domain.Cart, err error) {
	err = m.do(ctx, func(o memOps) error {
		cart, err = o.Update(ctx, cartID, in)
		return err
	})
	return cart, err
}

func (m *Memory) Delete(ctx context.Context, cartID string) (cart *domain.Cart, err error) {
	err = m.do(ctx, func(o memOps) error {
		cart, err = o.Delete(ctx, cartID)
		return err
	})
	return cart, err
}

func (m *Memory) CreateItem(ctx context.Context, in CreateItemInput) (item *domain.CartItem, err error) {
	err = m.do(ctx, func(o memOps) error {
		item, err = o.CreateItem(ctx, in)
		return err
	})
	return item, err
}

func (m *Memory) UpdateItem(ctx context.Context, itemID string, in ItemUpdate) (item *domain.CartItem, err error) {
	err = m.do(ctx, func(o memOps) error {
		item, err = o.UpdateItem(ctx, itemID, in)
		return err
	})
	return item, err
}

func (m *Memory) DeleteItem(ctx context.Context, itemID string) error {
	return m.do(ctx, func(o memOps) error {
		return o.DeleteItem(ctx, itemID)
	})
}

func (s *memState) clone() *memState {
	out := &memState{
		carts:   make(map[string]domain.Cart, len(s.carts)),
		items:   make(map[string]memItem, len(s.items)),
		nextSeq: s.nextSeq,
	}
	for k, v := range s.carts {
		out.carts[k] = v
	}
	for k, v := range s.items {
		out.items[k] = v
	}
	return out
}

type memOps struct {
	s   *memState
	now func() time.Time
}

func (o memOps) FindByUser(_ context.Context, userID string) (*domain.Cart, error) {
	for _, c := range o.s.carts {
		if c.UserID == userID {
			return o.withItems(c), nil
		}
	}
	return nil, domain.ErrNotFound
}

func (o memOps) FindByID(_ context.Context, cartID string) (*domain.Cart, error) {
	c, ok := o.s.carts[cartID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return o.withItems(c), nil
}

func (o memOps) Create(_ context.Context, in CreateCartInput) (*domain.Cart, error) {
	for _, c := range o.s.carts {
		if c.UserID == in.UserID {
			return nil, domain.ErrConflict
		}
	}
	now := o.now()
	c := domain.Cart{
		ID:         uuid.NewString(),
		UserID:     in.UserID,
		TotalItems: in.TotalItems,
		TotalPrice: in.TotalPrice,
		Version:    1,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	o.s.carts[c.ID] = c
	return o.withItems(c), nil
}

func (o memOps) Update(_ context.Context, cartID string, in CartUpdate) (*domain.Cart, error) {
	c, ok := o.s.carts[cartID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	if in.TotalItems != nil {
		c.TotalItems = *in.TotalItems
	}
	if in.TotalPrice != nil {
		c.TotalPrice = *in.TotalPrice
	}
	c.Version++
	c.UpdatedAt = o.now()
	o.s.carts[cartID] = c
	return o.withItems(c), nil
}

func (o memOps) Delete(_ context.Context, cartID string) (*domain.Cart, error) {
	c, ok := o.s.carts[cartID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	out := o.withItems(c)
	for id, it := range o.s.items {
		if it.item.CartID == cartID {
			delete(o.s.items, id)
		}
	}
	delete(o.s.carts, cartID)
	return out, nil
}

func (o memOps) CreateItem(_ context.Context, in CreateItemInput) (*domain.CartItem, error) {
	if _, ok := o.s.carts[in.CartID]; !ok {
		return nil, domain.ErrNotFound
	}
	for _, it := range o.s.items {
		if it.item.CartID == in.CartID && it.item.ProductID == in.ProductID {
			return nil, domain.ErrConflict
		}
	}
	now := o.now()
	item := domain.CartItem{
		ID:        uuid.NewString(),
		CartID:    in.CartID,
		ProductID: in.ProductID,
		Quantity:  in.Quantity,
		CreatedAt: now,
		UpdatedAt: now,
	}
	o.s.nextSeq++
	o.s.items[item.ID] = memItem{item: item, seq: o.s.nextSeq}
	return &item, nil
}

func (o memOps) UpdateItem(_ context.Context, itemID string, in ItemUpdate) (*domain.CartItem, error) {
	it, ok := o.s.items[itemID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	if in.Quantity != nil {
		it.item.Quantity = *in.Quantity
	}
	it.item.UpdatedAt = o.now()
	o.s.items[itemID] = it
	item := it.item
	return &item, nil
}

func (o memOps) DeleteItem(_ context.Context, itemID string) error {
	if _, ok := o.s.items[itemID]; !ok {
		return domain.ErrNotFound
	}
	delete(o.s.items, itemID)
	return nil
}

func (o memOps) withItems(c domain.Cart) *domain.Cart {
	var lines []memItem
	for _, it := range o.s.items {
		if it.item.CartID == c.ID {
			lines = append(lines, it)
		}
	}
	sort.Slice(lines, func(i, j int) bool { return lines[i].seq < lines[j].seq })

	c.Items = make([]domain.CartItem, 0, len(lines))
	for _, it := range lines {
		c.Items = append(c.Items, it.item)
	}
	return &c
}

var _ Repository = (*Memory)(nil)
