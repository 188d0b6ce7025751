package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-redis/redis/v8"
	gocache "github.com/patrickmn/go-cache"
	"go.uber.org/zap"
)

// Константы для TTL кэша
const (
	CacheTTLShort  = 2 * time.Minute  // Сводки дашборда
	CacheTTLMedium = 15 * time.Minute // Справочные данные
)

// CacheService кэш отчетов: Redis, если подключен, иначе кэш в памяти процесса
type CacheService struct {
	redis  *redis.Client
	local  *gocache.Cache
	logger *zap.Logger

	hits   int64
	misses int64
}

// NewCacheService создает новый экземпляр CacheService; redisClient может быть nil
func NewCacheService(redisClient *redis.Client, logger *zap.Logger) *CacheService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CacheService{
		redis:  redisClient,
		local:  gocache.New(CacheTTLShort, 10*time.Minute),
		logger: logger,
	}
}

// ErrCacheMiss ключ отсутствует в кэше
var ErrCacheMiss = fmt.Errorf("ключ не найден")

// Get получает значение из кэша
func (cs *CacheService) Get(ctx context.Context, key string) (string, error) {
	if cs.redis == nil {
		if v, ok := cs.local.Get(key); ok {
			atomic.AddInt64(&cs.hits, 1)
			return v.(string), nil
		}
		atomic.AddInt64(&cs.misses, 1)
		return "", ErrCacheMiss
	}

	val, err := cs.redis.Get(ctx, key).Result()
	if err == redis.Nil {
		atomic.AddInt64(&cs.misses, 1)
		return "", ErrCacheMiss
	}
	if err == nil {
		atomic.AddInt64(&cs.hits, 1)
	}
	return val, err
}

// Set сохраняет значение в кэш
func (cs *CacheService) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if cs.redis == nil {
		cs.local.Set(key, value, ttl)
		return nil
	}
	return cs.redis.Set(ctx, key, value, ttl).Err()
}

// Del удаляет значение из кэша
func (cs *CacheService) Del(ctx context.Context, key string) error {
	if cs.redis == nil {
		cs.local.Delete(key)
		return nil
	}
	return cs.redis.Del(ctx, key).Err()
}

// GetJSON читает значение и раскодирует его в dest; false, если ключа нет
func (cs *CacheService) GetJSON(ctx context.Context, key string, dest interface{}) (bool, error) {
	raw, err := cs.Get(ctx, key)
	if err == ErrCacheMiss {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal([]byte(raw), dest); err != nil {
		return false, fmt.Errorf("ошибка чтения кэша %s: %w", key, err)
	}
	return true, nil
}

// SetJSON кодирует значение в JSON и сохраняет
func (cs *CacheService) SetJSON(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("ошибка сериализации для кэша: %w", err)
	}
	return cs.Set(ctx, key, string(data), ttl)
}

// InvalidatePrefix удаляет все ключи с префиксом
func (cs *CacheService) InvalidatePrefix(ctx context.Context, prefix string) error {
	if cs.redis == nil {
		for key := range cs.local.Items() {
			if strings.HasPrefix(key, prefix) {
				cs.local.Delete(key)
			}
		}
		return nil
	}

	iter := cs.redis.Scan(ctx, 0, prefix+"*", 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	cs.logger.Debug("cache invalidated", zap.String("prefix", prefix), zap.Int("keys", len(keys)))
	return cs.redis.Del(ctx, keys...).Err()
}

// CacheStats статистика попаданий
type CacheStats struct {
	Backend string `json:"backend"`
	Hits    int64  `json:"hits"`
	Misses  int64  `json:"misses"`
}

func (cs *CacheService) Stats() CacheStats {
	backend := "memory"
	if cs.redis != nil {
		backend = "redis"
	}
	return CacheStats{
		Backend: backend,
		Hits:    atomic.LoadInt64(&cs.hits),
		Misses:  atomic.LoadInt64(&cs.misses),
	}
}

// GenerateCacheKey формирует ключ кэша
func GenerateCacheKey(parts ...string) string {
	return "enom:" + strings.Join(parts, ":")
}
