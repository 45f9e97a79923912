/*
redis_test.go - Integration tests for the Redis product store

These tests need a reachable Redis (REDIS_ADDR, default localhost:6379)
and skip themselves otherwise.

Tests for:
- Product round-trips through the hash encoding
- The Lua compare-and-swap honoring the version contract
- Concurrent writers through the ledger retry loop
*/
package redis

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neobrain/inventory-engine/stock"
)

func getRedisClient(t *testing.T) *goredis.Client {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}

	client := goredis.NewClient(&goredis.Options{Addr: addr})
	if err := client.Ping(context.Background()).Err(); err != nil {
		t.Skipf("Redis not available: %v", err)
	}
	return client
}

func newRedisStore(t *testing.T, ids ...string) *Store {
	t.Helper()
	client := getRedisClient(t)
	t.Cleanup(func() { client.Close() })

	ctx := context.Background()
	for _, id := range ids {
		client.Del(ctx, productKey(stock.ProductID(id)))
		client.SRem(ctx, productIndexKey, id)
	}
	return New(client)
}

func redisProduct(id string, qty int) stock.Product {
	now := time.Now()
	return stock.Product{
		ID:        stock.ProductID(id),
		Code:      "C-" + id,
		Name:      "Product " + id,
		UnitPrice: decimal.NewFromInt(4),
		Quantity:  qty,
		Threshold: 2,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestRedis_Product_RoundTrip(t *testing.T) {
	store := newRedisStore(t, "rt-1")
	ctx := context.Background()

	require.NoError(t, store.CreateProduct(ctx, redisProduct("rt-1", 50)))

	p, err := store.GetProduct(ctx, "rt-1")
	require.NoError(t, err)
	assert.Equal(t, "C-rt-1", p.Code)
	assert.Equal(t, 50, p.Quantity)
	assert.Equal(t, int64(0), p.Version)
}

func TestRedis_Product_NotFound(t *testing.T) {
	store := newRedisStore(t, "missing-1")

	_, err := store.GetProduct(context.Background(), "missing-1")
	assert.True(t, stock.IsNotFound(err))

	_, err = store.UpdateProduct(context.Background(), redisProduct("missing-1", 1), 0)
	assert.True(t, stock.IsNotFound(err))
}

func TestRedis_UpdateProduct_VersionContract(t *testing.T) {
	store := newRedisStore(t, "cas-1")
	ctx := context.Background()
	require.NoError(t, store.CreateProduct(ctx, redisProduct("cas-1", 50)))

	p, err := store.GetProduct(ctx, "cas-1")
	require.NoError(t, err)

	p.Quantity = 47
	updated, err := store.UpdateProduct(ctx, p, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), updated.Version)

	p.Quantity = 48
	_, err = store.UpdateProduct(ctx, p, 0)

	var stale *stock.StaleVersionError
	require.ErrorAs(t, err, &stale)
	assert.Equal(t, int64(1), stale.Actual)

	current, err := store.GetProduct(ctx, "cas-1")
	require.NoError(t, err)
	assert.Equal(t, 47, current.Quantity)
}

func TestRedis_Ledger_ConcurrentDeltas(t *testing.T) {
	store := newRedisStore(t, "conc-1")
	ctx := context.Background()
	require.NoError(t, store.CreateProduct(ctx, redisProduct("conc-1", 100)))

	ledger := stock.NewLedger(store, nil)
	ledger.MaxRetries = 100

	var wg sync.WaitGroup
	errs := make(chan error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := ledger.RemoveStock(ctx, "conc-1", 1, "tester")
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	qty, version, err := ledger.QuantityAndVersion(ctx, "conc-1")
	require.NoError(t, err)
	assert.Equal(t, 90, qty)
	assert.Equal(t, int64(10), version)
}
