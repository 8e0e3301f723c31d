// Package fixture serves a CSV-backed stand-in for the product and user
// services so the cart service can run without them.
package fixture

import (
	"context"
	"embed"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"cartservice/internal/bus"
	"cartservice/internal/domain"

	"github.com/shopspring/decimal"
)

//go:embed demo/*.csv
var demoFiles embed.FS

// Catalog holds fixture products and users. It is read-only after load.
type Catalog struct {
	products map[string]domain.Product
	users    map[string]domain.User
}

// Demo returns the embedded demo catalog.
func Demo() (*Catalog, error) {
	pf, err := demoFiles.Open("demo/products.csv")
	if err != nil {
		return nil, err
	}
	defer pf.Close()
	uf, err := demoFiles.Open("demo/users.csv")
	if err != nil {
		return nil, err
	}
	defer uf.Close()
	return Load(pf, uf)
}

// Load reads a products CSV (id,name,price,stock) and a users CSV
// (id,name,email). Columns are matched by header name.
func Load(products, users io.Reader) (*Catalog, error) {
	c := &Catalog{
		products: make(map[string]domain.Product),
		users:    make(map[string]domain.User),
	}
	err := readRows(products, func(row map[string]string) error {
		p, err := parseProduct(row)
		if err != nil {
			return err
		}
		c.products[p.ID] = p
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("load products: %w", err)
	}
	err = readRows(users, func(row map[string]string) error {
		id := row["id"]
		if id == "" {
			return errors.New("user row without id")
		}
		c.users[id] = domain.User{ID: id, Name: row["name"], Email: row["email"]}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("load users: %w", err)
	}
	return c, nil
}

func (c *Catalog) Product(id string) (domain.Product, bool) {
	p, ok := c.products[id]
	return p, ok
}

func (c *Catalog) User(id string) (domain.User, bool) {
	u, ok := c.users[id]
	return u, ok
}

// Len reports how many products and users were loaded.
func (c *Catalog) Len() (products, users int) {
	return len(c.products), len(c.users)
}

// ServeProducts answers get_product on srv. Unknown ids reply null.
func (c *Catalog) ServeProducts(srv *bus.Server) {
	srv.Handle("get_product", func(_ context.Context, req bus.Request) (any, error) {
		id, err := bus.DecodeID(req.Data, "productId")
		if err != nil {
			return nil, err
		}
		if p, ok := c.Product(id); ok {
			return p, nil
		}
		return nil, nil
	})
}

// ServeUsers answers get_user on srv. Unknown ids reply null.
func (c *Catalog) ServeUsers(srv *bus.Server) {
	srv.Handle("get_user", func(_ context.Context, req bus.Request) (any, error) {
		id, err := bus.DecodeID(req.Data, "userId")
		if err != nil {
			return nil, err
		}
		if u, ok := c.User(id); ok {
			return u, nil
		}
		return nil, nil
	})
}

func parseProduct(row map[string]string) (domain.Product, error) {
	id, name := row["id"], row["name"]
	if id == "" || row["price"] == "" {
		return domain.Product{}, fmt.Errorf("invalid product row (missing required fields) for id %q", id)
	}
	price, err := decimal.NewFromString(row["price"])
	if err != nil || price.IsNegative() {
		return domain.Product{}, fmt.Errorf("invalid price for id %q: %s", id, row["price"])
	}
	stock := 0
	if s := row["stock"]; s != "" {
		stock, err = strconv.Atoi(s)
		if err != nil || stock < 0 {
			return domain.Product{}, fmt.Errorf("invalid stock for id %q: %s", id, s)
		}
	}
	return domain.Product{ID: id, Name: name, Price: price, Stock: stock}, nil
}

func readRows(r io.Reader, fn func(row map[string]string) error) error {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1 // rows may have trailing commas
	headers, err := reader.Read()
	if err != nil {
		return fmt.Errorf("read headers: %w", err)
	}
	index := headerIndex(headers)
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read row: %w", err)
		}
		row := make(map[string]string, len(index))
		for name := range index {
			row[name] = pick(record, index, name)
		}
		if isBlank(row) {
			continue
		}
		if err := fn(row); err != nil {
			return err
		}
	}
}

func headerIndex(headers []string) map[string]int {
	idx := make(map[string]int, len(headers))
	for i, h := range headers {
		idx[strings.ToLower(strings.TrimSpace(h))] = i
	}
	return idx
}

func pick(record []string, index map[string]int, key string) string {
	pos, ok := index[key]
	if !ok || pos >= len(record) {
		return ""
	}
	return strings.TrimSpace(record[pos])
}

func isBlank(row map[string]string) bool {
	for _, v := range row {
		if v != "" {
			return false
		}
	}
	return true
}
