// README: Redis read-through cache in front of the gateway's payment lookups.
package payment

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const chargeKeyPrefix = "payment:charge:"

// CachedGateway caches settled charges only; pending payments are always
// looked up again.
type CachedGateway struct {
	next Gateway
	rdb  *redis.Client
	ttl  time.Duration
	log  *zap.Logger
}

func NewCachedGateway(next Gateway, rdb *redis.Client, ttl time.Duration, log *zap.Logger) *CachedGateway {
	if log == nil {
		log = zap.NewNop()
	}
	return &CachedGateway{next: next, rdb: rdb, ttl: ttl, log: log}
}

func (g *CachedGateway) Retrieve(ctx context.Context, reference string) (Charge, error) {
	key := chargeKeyPrefix + reference
	raw, err := g.rdb.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var c Charge
		if jerr := json.Unmarshal(raw, &c); jerr == nil {
			return c, nil
		}
	case !errors.Is(err, redis.Nil):
		g.log.Debug("payment cache read failed", zap.String("reference", reference), zap.Error(err))
	}

	c, err := g.next.Retrieve(ctx, reference)
	if err != nil {
		return c, err
	}
	if c.Status == StatusPaid || c.Status == StatusRefunded {
		if data, jerr := json.Marshal(c); jerr == nil {
			if serr := g.rdb.Set(ctx, key, data, g.ttl).Err(); serr != nil {
				g.log.Debug("payment cache write failed", zap.String("reference", reference), zap.Error(serr))
			}
		}
	}
	return c, nil
}

func (g *CachedGateway) Refund(ctx context.Context, req RefundRequest) (Refund, error) {
	r, err := g.next.Refund(ctx, req)
	if err != nil {
		return r, err
	}
	if derr := g.rdb.Del(ctx, chargeKeyPrefix+req.Reference).Err(); derr != nil {
		g.log.Debug("payment cache invalidate failed", zap.String("reference", req.Reference), zap.Error(derr))
	}
	return r, nil
}
