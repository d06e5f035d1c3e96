package cache

import (
	"context"
	"time"
)

// BytesCache — минимальный контракт кэша "текущего состояния".
// Кэш best-effort: промах или ошибка никогда не фатальны для вызывающего.
type BytesCache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Del(ctx context.Context, key string) error
}
