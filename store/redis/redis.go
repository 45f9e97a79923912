/*
Package redis provides a Redis-backed product store.

PURPOSE:
  Implements stock.ProductStore on Redis for deployments where the stock
  ledger must be shared across processes with low latency. Sessions, tasks
  and the audit trail stay in the relational store; only the hot
  quantity/version path moves here.

DATA MODEL:
  Each product is a hash at "product:<id>" with two fields:

    data     JSON-encoded stock.Product
    version  the optimistic-lock counter, stored separately so the
             compare-and-swap script can read it without decoding JSON

  A set at "products" indexes the known ids for ListProducts.

COMPARE-AND-SWAP:
  The version check runs server-side as a Lua script, which Redis executes
  atomically. The script compares the stored version field against the
  caller's expected version and only then writes the new data and version.
  No WATCH/MULTI round-trips, no race window.

SEE ALSO:
  - stock/store.go: The version-check contract this store implements
  - store/sqlite: The relational implementation of the same contract
*/
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/neobrain/inventory-engine/stock"
)

const (
	productKeyPrefix = "product:"
	productIndexKey  = "products"
)

// casScript compares the stored version against ARGV[1] and, on match,
// writes ARGV[2] (data) and ARGV[3] (new version). Returns:
//
//	-2  key does not exist
//	-1  version mismatch (the actual version is returned via error path)
//	 1  write applied
//
// On mismatch the actual version is returned as the second array element.
var casScript = redis.NewScript(`
local key = KEYS[1]

if redis.call('EXISTS', key) == 0 then
	return {-2, 0}
end

local current = tonumber(redis.call('HGET', key, 'version'))
local expected = tonumber(ARGV[1])
if current ~= expected then
	return {-1, current}
end

redis.call('HSET', key, 'data', ARGV[2], 'version', ARGV[3])
return {1, tonumber(ARGV[3])}
`)

// Store implements stock.ProductStore on Redis.
type Store struct {
	client *redis.Client
}

// New creates a Redis product store around an existing client.
func New(client *redis.Client) *Store {
	return &Store{client: client}
}

// Ping checks connectivity. Useful at startup to fail fast on a bad address.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *Store) CreateProduct(ctx context.Context, p stock.Product) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal product: %w", err)
	}
	key := productKey(p.ID)

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key, "data", string(data), "version", p.Version)
	pipe.SAdd(ctx, productIndexKey, string(p.ID))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("create product: %w", err)
	}
	return nil
}

func (s *Store) GetProduct(ctx context.Context, id stock.ProductID) (stock.Product, error) {
	data, err := s.client.HGet(ctx, productKey(id), "data").Result()
	if err == redis.Nil {
		return stock.Product{}, stock.ErrProductNotFound
	}
	if err != nil {
		return stock.Product{}, fmt.Errorf("get product: %w", err)
	}

	var p stock.Product
	if err := json.Unmarshal([]byte(data), &p); err != nil {
		return stock.Product{}, fmt.Errorf("unmarshal product: %w", err)
	}
	return p, nil
}

// UpdateProduct persists p only if the stored version still equals
// expectedVersion. The comparison and write run atomically in Lua.
func (s *Store) UpdateProduct(ctx context.Context, p stock.Product, expectedVersion int64) (stock.Product, error) {
	p.Version = expectedVersion + 1
	data, err := json.Marshal(p)
	if err != nil {
		return stock.Product{}, fmt.Errorf("marshal product: %w", err)
	}

	result, err := casScript.Run(ctx, s.client,
		[]string{productKey(p.ID)},
		strconv.FormatInt(expectedVersion, 10),
		string(data),
		strconv.FormatInt(p.Version, 10),
	).Int64Slice()
	if err != nil {
		return stock.Product{}, fmt.Errorf("update product: %w", err)
	}
	if len(result) != 2 {
		return stock.Product{}, fmt.Errorf("update product: unexpected script reply %v", result)
	}

	switch result[0] {
	case 1:
		return p, nil
	case -1:
		return stock.Product{}, &stock.StaleVersionError{
			ProductID: p.ID,
			Expected:  expectedVersion,
			Actual:    result[1],
		}
	case -2:
		return stock.Product{}, stock.ErrProductNotFound
	default:
		return stock.Product{}, fmt.Errorf("update product: unexpected script reply %v", result)
	}
}

func (s *Store) ListProducts(ctx context.Context) ([]stock.Product, error) {
	ids, err := s.client.SMembers(ctx, productIndexKey).Result()
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}

	var products []stock.Product
	for _, id := range ids {
		p, err := s.GetProduct(ctx, stock.ProductID(id))
		if errors.Is(err, stock.ErrProductNotFound) {
			// Index entry without a hash: skip rather than fail the listing.
			continue
		}
		if err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	return products, nil
}

func productKey(id stock.ProductID) string {
	return productKeyPrefix + string(id)
}
