package middleware

import (
	"context"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/angelmondragon/marketplace-fulfillment/api/responses"
	pkgerrors "github.com/angelmondragon/marketplace-fulfillment/pkg/errors"
	"github.com/angelmondragon/marketplace-fulfillment/pkg/logger"
)

// CounterStore increments a windowed counter.
type CounterStore interface {
	IncrWithTTL(context.Context, string, time.Duration) (int64, error)
	RateLimitKey(scope string) string
}

// RateLimitPolicy caps requests per client IP in a fixed window.
type RateLimitPolicy struct {
	Name   string
	Window time.Duration
	Limit  int64
}

func (p RateLimitPolicy) enabled() bool {
	return p.Window > 0 && p.Limit > 0
}

// IPRateLimit throttles unauthenticated surfaces such as the payment webhook
// and download redemption. Redis errors fail open so a cache outage never
// rejects a paid customer's webhook.
func IPRateLimit(policy RateLimitPolicy, store CounterStore, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if !policy.enabled() || store == nil {
			return next
		}
		name := strings.ToLower(strings.TrimSpace(policy.Name))
		if name == "" {
			name = "default"
		}

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			ip := clientIP(r)
			key := store.RateLimitKey(name + ":ip:" + ip)

			count, err := store.IncrWithTTL(ctx, key, policy.Window)
			if err != nil {
				if logg != nil {
					logg.Error(logg.WithField(ctx, "policy", name), "rate limit check failed", err)
				}
				next.ServeHTTP(w, r)
				return
			}
			if count > policy.Limit {
				if logg != nil {
					logg.Warn(logg.WithFields(ctx, map[string]any{
						"policy":         name,
						"ip":             ip,
						"attempts":       count,
						"limit":          policy.Limit,
						"window_seconds": int(policy.Window.Seconds()),
					}), "rate_limit.blocked")
				}
				responses.WriteError(ctx, nil, w, pkgerrors.New(pkgerrors.CodeRateLimit, "rate limit exceeded"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func clientIP(r *http.Request) string {
	if header := r.Header.Get("X-Forwarded-For"); header != "" {
		for _, part := range strings.Split(header, ",") {
			if ip := strings.TrimSpace(part); ip != "" {
				return ip
			}
		}
	}
	if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
		return ip
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil && host != "" {
		return host
	}
	return r.RemoteAddr
}
