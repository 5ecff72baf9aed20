package catalog

import (
	"context"
	"fmt"

	"github.com/aq2208/garden-checkout/internal/usecase"
	"github.com/shopspring/decimal"
)

// Item is one configured catalog entry.
type Item struct {
	ID    string `koanf:"id"`
	Name  string `koanf:"name"`
	Price string `koanf:"price"`
}

// Static serves canonical prices from configuration.
type Static struct {
	products map[string]usecase.Product
}

func NewStatic(items []Item) (*Static, error) {
	products := make(map[string]usecase.Product, len(items))
	for _, it := range items {
		if it.ID == "" {
			return nil, fmt.Errorf("catalog: product without id")
		}
		price, err := decimal.NewFromString(it.Price)
		if err != nil {
			return nil, fmt.Errorf("catalog: product %s price %q: %w", it.ID, it.Price, err)
		}
		if price.IsNegative() {
			return nil, fmt.Errorf("catalog: product %s has negative price", it.ID)
		}
		if _, dup := products[it.ID]; dup {
			return nil, fmt.Errorf("catalog: duplicate product %s", it.ID)
		}
		products[it.ID] = usecase.Product{ID: it.ID, Name: it.Name, Price: price}
	}
	return &Static{products: products}, nil
}

func (s *Static) PriceByProductID(_ context.Context, id string) (usecase.Product, error) {
	p, ok := s.products[id]
	if !ok {
		return usecase.Product{}, &usecase.UnknownProductError{ProductID: id}
	}
	return p, nil
}

var _ usecase.Catalog = (*Static)(nil)
