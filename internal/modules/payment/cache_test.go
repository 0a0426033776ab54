package payment

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingGateway struct {
	charge    Charge
	retrieves int
}

func (g *countingGateway) Retrieve(_ context.Context, _ string) (Charge, error) {
	g.retrieves++
	return g.charge, nil
}

func (g *countingGateway) Refund(_ context.Context, req RefundRequest) (Refund, error) {
	return Refund{ID: "re_1", Amount: req.Amount, Status: "succeeded"}, nil
}

func setupRedis(t *testing.T) *redis.Client {
	t.Helper()
	addr := os.Getenv("CVNEAT_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("CVNEAT_TEST_REDIS_ADDR not set; skipping redis-backed cache tests")
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = rdb.Close() })
	require.NoError(t, rdb.Ping(context.Background()).Err())
	return rdb
}

func TestCachedGatewayCachesSettledCharges(t *testing.T) {
	rdb := setupRedis(t)
	ctx := context.Background()
	ref := "pi_cache_" + time.Now().Format("150405.000000")
	t.Cleanup(func() { rdb.Del(ctx, chargeKeyPrefix+ref) })

	next := &countingGateway{charge: Charge{Reference: ref, Amount: decimal.RequireFromString("12.30"), Status: StatusPaid}}
	gw := NewCachedGateway(next, rdb, time.Minute, nil)

	for i := 0; i < 3; i++ {
		c, err := gw.Retrieve(ctx, ref)
		require.NoError(t, err)
		assert.True(t, c.Amount.Equal(decimal.RequireFromString("12.30")))
	}
	assert.Equal(t, 1, next.retrieves)

	_, err := gw.Refund(ctx, RefundRequest{Reference: ref, Amount: decimal.NewFromInt(1)})
	require.NoError(t, err)
	_, err = gw.Retrieve(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, 2, next.retrieves)
}

func TestCachedGatewaySkipsPending(t *testing.T) {
	rdb := setupRedis(t)
	ctx := context.Background()
	ref := "pi_pending_" + time.Now().Format("150405.000000")

	next := &countingGateway{charge: Charge{Reference: ref, Status: StatusPending}}
	gw := NewCachedGateway(next, rdb, time.Minute, nil)

	_, _ = gw.Retrieve(ctx, ref)
	_, _ = gw.Retrieve(ctx, ref)
	assert.Equal(t, 2, next.retrieves)
}
