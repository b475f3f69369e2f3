package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const rateWindow = time.Minute

// RateLimiter ограничивает число запросов одного пользователя за минуту.
// Счётчик хранится в Redis под ключом текущей минуты с TTL 60 секунд.
type RateLimiter struct {
	rdb    *redis.Client
	limit  int
	scope  string
	logger *zap.Logger
	now    func() time.Time
}

// NewRateLimiter создаёт ограничитель с лимитом perMinute запросов в минуту.
func NewRateLimiter(rdb *redis.Client, scope string, perMinute int, logger *zap.Logger) *RateLimiter {
	if perMinute <= 0 {
		perMinute = 30
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RateLimiter{
		rdb:    rdb,
		limit:  perMinute,
		scope:  scope,
		logger: logger,
		now:    time.Now,
	}
}

// Allow увеличивает счётчик пользователя и сообщает, укладывается ли запрос в лимит.
// Вторым значением возвращается время до начала следующего окна.
func (l *RateLimiter) Allow(ctx context.Context, userID int64) (bool, time.Duration, error) {
	now := l.now()
	window := now.Unix() / int64(rateWindow/time.Second)
	key := fmt.Sprintf("ratelimit:%s:%d:%d", l.scope, userID, window)

	cnt, err := l.rdb.Incr(ctx, key).Result()
	if err != nil {
		return false, 0, fmt.Errorf("incr %s: %w", key, err)
	}
	if cnt == 1 {
		_ = l.rdb.Expire(ctx, key, rateWindow).Err()
	}

	windowEnd := time.Unix((window+1)*int64(rateWindow/time.Second), 0)
	return cnt <= int64(l.limit), windowEnd.Sub(now), nil
}

// Middleware отвечает 429 при превышении лимита. Запросы без профиля в контексте пропускаются,
// а при недоступности Redis ограничение не применяется.
func (l *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, ok := GetPrincipalFromContext(r.Context())
		if !ok {
			next.ServeHTTP(w, r)
			return
		}

		allowed, retryAfter, err := l.Allow(r.Context(), user.ID)
		if err != nil {
			l.logger.Warn("rate limiter unavailable", zap.Error(err), zap.Int64("userID", user.ID))
			next.ServeHTTP(w, r)
			return
		}

		if !allowed {
			seconds := int(retryAfter.Round(time.Second) / time.Second)
			if seconds < 1 {
				seconds = 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(seconds))
			http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
			return
		}

		next.ServeHTTP(w, r)
	})
}
