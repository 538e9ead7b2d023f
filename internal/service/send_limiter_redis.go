package service

import (
	"context"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const redisSendAllowScript = `
local current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("EXPIRE", KEYS[1], ARGV[1])
end
return current
`

type redisEvaler interface {
	Eval(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd
}

// redisSendLimiter comparte la ventana entre procesos. Si Redis falla deja pasar.
type redisSendLimiter struct {
	client redisEvaler
	logger *zap.Logger
	window time.Duration
	max    int
	prefix string
}

func NewRedisSendLimiter(client *redis.Client, logger *zap.Logger, window time.Duration, max int) SendLimiter {
	if client == nil {
		return nil
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if window <= 0 {
		window = 10 * time.Second
	}
	if max <= 0 {
		max = 1
	}
	return &redisSendLimiter{
		client: client,
		logger: logger,
		window: window,
		max:    max,
		prefix: "consult:send:",
	}
}

func (l *redisSendLimiter) Allow(key string) bool {
	if l == nil || l.client == nil {
		return true
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return false
	}
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	seconds := int(l.window.Seconds())
	if seconds <= 0 {
		seconds = 1
	}
	count, err := l.client.Eval(ctx, redisSendAllowScript, []string{l.prefix + key}, seconds).Int()
	if err != nil {
		if l.logger != nil {
			l.logger.Warn("send limiter unavailable", zap.Error(err))
		}
		return true
	}
	return count <= l.max
}
