// Package ratelimit implements per-caller fixed-window counters shared through redis.
package ratelimit

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/miragespace/vpsdash/auth"
	resp "github.com/miragespace/vpsdash/response"

	"github.com/go-redis/redis/v7"
	extErrors "github.com/pkg/errors"
	"go.uber.org/zap"
)

// DefaultLimit is the number of requests allowed per Window
const DefaultLimit = 30

type Options struct {
	Logger *zap.Logger
	Redis  redis.UniversalClient

	Limit  int
	Window time.Duration
	Prefix string

	// Now is used to pick the current window, time.Now when nil
	Now func() time.Time
}

// Limiter counts requests in fixed windows. Every API instance shares the same counters.
type Limiter struct {
	Options
}

func New(option Options) (*Limiter, error) {
	if option.Logger == nil {
		return nil, fmt.Errorf("nil Logger is invalid")
	}
	if option.Redis == nil {
		return nil, fmt.Errorf("nil Redis is invalid")
	}
	if option.Limit <= 0 {
		option.Limit = DefaultLimit
	}
	if option.Window <= 0 {
		option.Window = time.Minute
	}
	if option.Prefix == "" {
		option.Prefix = "ratelimit"
	}
	if option.Now == nil {
		option.Now = time.Now
	}
	return &Limiter{
		Options: option,
	}, nil
}

func (l *Limiter) windowKey(key string, now time.Time) string {
	bucket := now.UnixNano() / int64(l.Window)
	return l.Prefix + ":" + key + ":" + strconv.FormatInt(bucket, 10)
}

// Allow counts one request for key and reports whether it fits in the current window
func (l *Limiter) Allow(key string) (bool, error) {
	k := l.windowKey(key, l.Now())

	pipe := l.Redis.TxPipeline()
	incr := pipe.Incr(k)
	pipe.Expire(k, l.Window)
	if _, err := pipe.Exec(); err != nil {
		return false, extErrors.Wrap(err, "Cannot increment rate limit counter")
	}
	return incr.Val() <= int64(l.Limit), nil
}

// Middleware limits requests per authenticated user, falling back to the
// remote address. Requests pass when redis is unreachable.
func (l *Limiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := "ip:" + r.RemoteAddr
		if claims, ok := auth.FromContext(r.Context()); ok && claims.UserID() != "" {
			key = "user:" + claims.UserID()
		}

		allowed, err := l.Allow(key)
		if err != nil {
			l.Logger.Warn("Rate limiter unavailable, allowing request",
				zap.String("Key", key),
				zap.Error(err),
			)
			next.ServeHTTP(w, r)
			return
		}
		if !allowed {
			w.Header().Set("Retry-After", strconv.Itoa(int(l.Window.Seconds())))
			resp.WriteError(w, r, resp.ErrTooManyRequests().AddMessages("Too many requests, please slow down"))
			return
		}
		next.ServeHTTP(w, r)
	})
}
