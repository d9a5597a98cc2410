package session

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/room4-2/tarotobot/cache"
)

const (
	presenceTimeout = 2 * time.Second
	presenceRefresh = 1 * time.Minute
	presenceTTL     = 3 * presenceRefresh
)

// presence mirrors the registry into Redis for operators. Every method is a
// no-op on a nil receiver and errors never reach the registry.
type presence struct {
	rdb *redis.Client
	log *logrus.Entry
}

func newPresence(rdb *redis.Client, log *logrus.Entry) *presence {
	return &presence{rdb: rdb, log: log}
}

func (p *presence) do(op string, fn func(ctx context.Context, pipe redis.Pipeliner)) {
	if p == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), presenceTimeout)
	defer cancel()

	if _, err := p.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		fn(ctx, pipe)
		return nil
	}); err != nil {
		p.log.WithError(err).WithField("op", op).Warn("presence update failed")
	}
}

func (p *presence) addBrowser(id string) {
	p.do("add_browser", func(ctx context.Context, pipe redis.Pipeliner) {
		pipe.SAdd(ctx, cache.BrowsersKey, id)
		pipe.Expire(ctx, cache.BrowsersKey, presenceTTL)
	})
}

func (p *presence) removeBrowser(id string) {
	p.do("remove_browser", func(ctx context.Context, pipe redis.Pipeliner) {
		pipe.SRem(ctx, cache.BrowsersKey, id)
	})
}

func (p *presence) setBridge(id string) {
	p.do("set_bridge", func(ctx context.Context, pipe redis.Pipeliner) {
		pipe.HSet(ctx, cache.BridgeKey, map[string]interface{}{
			"id":           id,
			"connected_at": time.Now().Format(time.RFC3339),
		})
		pipe.Expire(ctx, cache.BridgeKey, presenceTTL)
	})
}

func (p *presence) clearBridge(id string) {
	p.do("clear_bridge", func(ctx context.Context, pipe redis.Pipeliner) {
		pipe.Del(ctx, cache.BridgeKey)
	})
}

func (p *presence) refresh(browserIDs []string, bridgeID string) {
	p.do("refresh", func(ctx context.Context, pipe redis.Pipeliner) {
		pipe.Del(ctx, cache.BrowsersKey)
		if len(browserIDs) > 0 {
			members := make([]interface{}, len(browserIDs))
			for i, id := range browserIDs {
				members[i] = id
			}
			pipe.SAdd(ctx, cache.BrowsersKey, members...)
			pipe.Expire(ctx, cache.BrowsersKey, presenceTTL)
		}
		if bridgeID != "" {
			pipe.HSet(ctx, cache.BridgeKey, "id", bridgeID)
			pipe.Expire(ctx, cache.BridgeKey, presenceTTL)
		} else {
			pipe.Del(ctx, cache.BridgeKey)
		}
	})
}

func (p *presence) reset() {
	p.do("reset", func(ctx context.Context, pipe redis.Pipeliner) {
		pipe.Del(ctx, cache.BrowsersKey, cache.BridgeKey)
	})
}
