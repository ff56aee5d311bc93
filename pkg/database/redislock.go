package database

import (
	"context"
	"sync"
	"time"

	"transcode_pipeline_service/pkg/logger"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// LockProvider definition short-lived named mutual-exclusion lease across workers
type LockProvider interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
}

// redisLockProvider 以 Redis SET NX PX 實現分布式鎖
// 每次 Acquire 產生一個隨機 token，Release 時用 Lua 比對 token 才刪除，
// 避免 TTL 過期後誤刪其他 worker 持有的鎖。
type redisLockProvider struct {
	client *redis.Client

	mu     sync.Mutex
	tokens map[string]string // key -> 本 worker 持有的 token
}

// 比對 token 相同才刪除 key
const releaseScript = `
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end`

// NewRedisLockProvider create a LockProvider backed by redis
func NewRedisLockProvider(client *redis.Client) LockProvider {
	return &redisLockProvider{
		client: client,
		tokens: map[string]string{},
	}
}

// Acquire try to take the named lease, false means another worker holds it
func (p *redisLockProvider) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	token := uuid.NewString()
	ok, err := p.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}

	p.mu.Lock()
	p.tokens[key] = token
	p.mu.Unlock()
	return true, nil
}

// Release release the named lease if this worker still owns it
func (p *redisLockProvider) Release(ctx context.Context, key string) error {
	p.mu.Lock()
	token, ok := p.tokens[key]
	delete(p.tokens, key)
	p.mu.Unlock()
	if !ok {
		return nil
	}

	return p.client.Eval(ctx, releaseScript, []string{key}, token).Err()
}

// WithLock 取得鎖後執行 fn，無論 fn 成功、失敗或 panic 都保證釋放。
// 回傳 acquired=false 表示鎖被其他 worker 持有（非錯誤）。
func WithLock(ctx context.Context, lp LockProvider, key string, ttl time.Duration, fn func(ctx context.Context) error) (acquired bool, err error) {
	ok, err := lp.Acquire(ctx, key, ttl)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}

	defer func() {
		// 即使 ctx 已取消也要釋放，避免鎖掛到 TTL 過期
		releaseCtx := ctx
		if releaseCtx.Err() != nil {
			var cancel context.CancelFunc
			releaseCtx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
		}
		if rerr := lp.Release(releaseCtx, key); rerr != nil {
			logger.Log.Warn("release lock failed", zap.String("key", key), zap.Error(rerr))
		}
	}()

	return true, fn(ctx)
}
