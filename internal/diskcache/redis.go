package diskcache

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/gogpu/mesh3d/internal/logging"
)

// Redis stores tile bytes in a Redis instance under
// "mesh3d:<namespace>:<key>".
type Redis struct {
	client    redis.UniversalClient
	namespace string
	ttl       time.Duration
	timeout   time.Duration
}

var _ Store = (*Redis)(nil)

// NewRedis wraps client. A zero ttl keeps entries forever.
func NewRedis(client redis.UniversalClient, namespace string, ttl time.Duration) *Redis {
	return &Redis{client: client, namespace: namespace, ttl: ttl, timeout: 2 * time.Second}
}

// DialRedis connects to addr and verifies the connection with PING.
func DialRedis(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	c := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	if err := c.Ping(ctx).Err(); err != nil {
		_ = c.Close()
		return nil, err
	}
	return c, nil
}

func (r *Redis) key(k string) string { return "mesh3d:" + r.namespace + ":" + k }

func (r *Redis) ctx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), r.timeout)
}

func (r *Redis) Has(key string) bool {
	ctx, cancel := r.ctx()
	defer cancel()
	n, err := r.client.Exists(ctx, r.key(key)).Result()
	return err == nil && n > 0
}

func (r *Redis) Read(key string) []byte {
	ctx, cancel := r.ctx()
	defer cancel()
	b, err := r.client.Get(ctx, r.key(key)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			logging.L().Warn("diskcache: redis get failed", "key", key, "err", err)
		}
		return nil
	}
	return b
}

func (r *Redis) Write(key string, data []byte) bool {
	ctx, cancel := r.ctx()
	defer cancel()
	if err := r.client.Set(ctx, r.key(key), data, r.ttl).Err(); err != nil {
		logging.L().Warn("diskcache: redis set failed", "key", key, "err", err)
		return false
	}
	return true
}
