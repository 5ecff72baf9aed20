package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/aq2208/garden-checkout/internal/logging"
	"github.com/aq2208/garden-checkout/internal/usecase"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"
)

// PriceCache fronts a Catalog with Redis. Concurrent misses for one product
// share a single upstream lookup. Redis errors degrade to the upstream.
type PriceCache struct {
	next  usecase.Catalog
	rdb   *redis.Client
	ttl   time.Duration
	group singleflight.Group
	log   *slog.Logger
}

func NewPriceCache(next usecase.Catalog, rdb *redis.Client, ttl time.Duration) *PriceCache {
	return &PriceCache{next: next, rdb: rdb, ttl: ttl, log: logging.New("catalog")}
}

type cachedProduct struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Price decimal.Decimal `json:"price"`
}

func priceKey(id string) string { return "catalog:price:" + id }

func (c *PriceCache) PriceByProductID(ctx context.Context, id string) (usecase.Product, error) {
	raw, err := c.rdb.Get(ctx, priceKey(id)).Bytes()
	if err == nil {
		var cp cachedProduct
		if jerr := json.Unmarshal(raw, &cp); jerr == nil {
			return usecase.Product(cp), nil
		}
	} else if !errors.Is(err, redis.Nil) {
		c.log.Warn("price cache read failed", "product_id", id, "err", err)
	}

	v, err, _ := c.group.Do(id, func() (any, error) {
		p, err := c.next.PriceByProductID(ctx, id)
		if err != nil {
			return usecase.Product{}, err
		}
		if b, jerr := json.Marshal(cachedProduct(p)); jerr == nil {
			if serr := c.rdb.Set(ctx, priceKey(id), b, c.ttl).Err(); serr != nil {
				c.log.Warn("price cache write failed", "product_id", id, "err", serr)
			}
		}
		return p, nil
	})
	if err != nil {
		return usecase.Product{}, err
	}
	return v.(usecase.Product), nil
}

var _ usecase.Catalog = (*PriceCache)(nil)
