package catalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/noah-isme/backend-kasir/internal/cache"
	"github.com/noah-isme/backend-kasir/internal/common"
)

// Service serves catalog reads for the cashier screen.
type Service struct {
	Store        Store
	Cache        *cache.JSON
	DefaultLimit int
	MaxLimit     int
}

// Page is one page of products.
type Page struct {
	Products []Product `json:"products"`
	Total    int       `json:"total"`
}

// List returns active in-stock products for the cashier grid.
func (s *Service) List(ctx context.Context, page, limit int) (Page, error) {
	if s == nil || s.Store == nil {
		return Page{}, errors.New("catalog service not configured")
	}
	if limit <= 0 {
		limit = s.DefaultLimit
	}
	if limit <= 0 {
		limit = 50
	}
	if page <= 0 {
		page = 1
	}
	key := s.Cache.Key("products", "instock", page, limit)
	var cached Page
	if ok, _ := s.Cache.Get(ctx, key, &cached); ok {
		return cached, nil
	}
	products, total, err := s.Store.ListProducts(ctx, true, limit, common.Offset(page, limit))
	if err != nil {
		return Page{}, err
	}
	out := Page{Products: products, Total: total}
	_ = s.Cache.Set(ctx, key, out)
	return out, nil
}

// Lookup loads the products referenced by a cart. Stock must be read fresh,
// so the cache is bypassed. Every id must resolve to an active product.
func (s *Service) Lookup(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]Product, error) {
	if s == nil || s.Store == nil {
		return nil, errors.New("catalog service not configured")
	}
	products, err := s.Store.GetProducts(ctx, ids)
	if err != nil {
		return nil, err
	}
	for _, id := range ids {
		p, ok := products[id]
		if !ok {
			return nil, ErrProductNotFound
		}
		if !p.Active {
			return nil, fmt.Errorf("%w: %s is inactive", ErrProductNotFound, p.Name)
		}
	}
	return products, nil
}

// Invalidate drops cached listings after stock changes.
func (s *Service) Invalidate(ctx context.Context) error {
	if s == nil {
		return nil
	}
	return s.Cache.Invalidate(ctx)
}
