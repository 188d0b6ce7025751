package middleware

import (
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	redis "github.com/go-redis/redis/v8"
	gocache "github.com/patrickmn/go-cache"
)

// RateLimitConfig конфигурация rate limiting
type RateLimitConfig struct {
	Requests     int                       // Количество запросов
	Window       time.Duration             // Временное окно
	KeyGenerator func(*gin.Context) string // Генератор ключей
}

// DefaultKeyGenerator генерирует ключ на основе IP адреса
func DefaultKeyGenerator(c *gin.Context) string {
	return c.ClientIP()
}

// ActorKeyGenerator генерирует ключ на основе пользователя из токена
func ActorKeyGenerator(c *gin.Context) string {
	actor, ok := ActorFrom(c)
	if !ok {
		return c.ClientIP()
	}
	return "user:" + strconv.FormatUint(uint64(actor.ID), 10)
}

// RateLimiter счетчики запросов в Redis или, без Redis, в памяти процесса
type RateLimiter struct {
	redis *redis.Client
	local *gocache.Cache
	mu    sync.Mutex
}

// NewRateLimiter создает ограничитель; redisClient может быть nil
func NewRateLimiter(redisClient *redis.Client) *RateLimiter {
	return &RateLimiter{redis: redisClient, local: gocache.New(time.Minute, 5*time.Minute)}
}

// incr увеличивает счетчик ключа и возвращает новое значение
func (rl *RateLimiter) incr(c *gin.Context, key string, window time.Duration) (int, error) {
	if rl.redis == nil {
		rl.mu.Lock()
		defer rl.mu.Unlock()
		if _, found := rl.local.Get(key); !found {
			rl.local.Set(key, 0, window)
		}
		return rl.local.IncrementInt(key, 1)
	}

	ctx := c.Request.Context()
	n, err := rl.redis.Incr(ctx, key).Result()
	if err != nil {
		return 0, err
	}
	if n == 1 {
		// TTL устанавливается только для первого запроса окна
		if err := rl.redis.Expire(ctx, key, window).Err(); err != nil {
			return 0, err
		}
	}
	return int(n), nil
}

// Limit создает middleware для ограничения частоты запросов
func (rl *RateLimiter) Limit(config RateLimitConfig) gin.HandlerFunc {
	if config.KeyGenerator == nil {
		config.KeyGenerator = DefaultKeyGenerator
	}
	return func(c *gin.Context) {
		key := "enom:rate_limit:" + c.FullPath() + ":" + config.KeyGenerator(c)

		current, err := rl.incr(c, key, config.Window)
		if err != nil {
			// При недоступности хранилища счетчиков запрос пропускается
			c.Next()
			return
		}

		remaining := config.Requests - current
		if remaining < 0 {
			remaining = 0
		}
		c.Header("X-RateLimit-Limit", strconv.Itoa(config.Requests))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(remaining))
		c.Header("X-RateLimit-Reset", strconv.FormatInt(time.Now().Add(config.Window).Unix(), 10))

		if current > config.Requests {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"status": "error",
				"error":  "Rate limit exceeded",
				"message": fmt.Sprintf("Too many requests. Limit: %d requests per %v",
					config.Requests, config.Window),
				"retry_after": config.Window.Seconds(),
			})
			return
		}

		c.Next()
	}
}

// AuthRateLimit ограничение для выдачи токенов
func (rl *RateLimiter) AuthRateLimit() gin.HandlerFunc {
	return rl.Limit(RateLimitConfig{
		Requests:     5,
		Window:       time.Minute,
		KeyGenerator: DefaultKeyGenerator,
	})
}

// UploadRateLimit ограничение для загрузки файлов
func (rl *RateLimiter) UploadRateLimit() gin.HandlerFunc {
	return rl.Limit(RateLimitConfig{
		Requests:     10,
		Window:       time.Minute,
		KeyGenerator: ActorKeyGenerator,
	})
}
