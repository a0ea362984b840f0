// Package ratelimit implements the fixed-window limiter (C3) over the
// cache substrate, used for API, auth, and per-provider LLM RPM/TPM
// throttling. Failure is intentionally open: a cache connection failure
// allows the request rather than denying it (spec.md §4.4) — this is an
// availability choice and must never be relied on for auth correctness.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"ragcore/internal/cache"
)

// Result carries the outcome of a single Allow call, mirroring the
// RateLimit-* response headers described in spec.md §4.4/§6.
type Result struct {
	Allowed           bool
	Remaining         int64
	Limit             int64
	ResetSeconds      int64
	RetryAfterSeconds int64
}

// Limiter is a fixed-window token limiter over a cache.Cache.
type Limiter struct {
	c cache.Cache
}

// New builds a Limiter over the given cache backend.
func New(c cache.Cache) *Limiter {
	return &Limiter{c: c}
}

// Allow increments the window counter for key by cost and decides whether
// the request is within capacity for the given window. On any cache
// connection failure, it fails open: Allowed=true, Remaining=capacity, and
// the failure is logged, never surfaced as a denial.
func (l *Limiter) Allow(ctx context.Context, key string, capacity int64, window time.Duration, cost int64) (Result, error) {
	if cost <= 0 {
		cost = 1
	}
	windowKey := fmt.Sprintf("ratelimit:%s", key)

	count, err := l.c.Incr(ctx, windowKey, cost)
	if err != nil {
		log.Warn().Err(err).Str("key", key).Msg("rate_limiter_fail_open_on_cache_error")
		return Result{
			Allowed:      true,
			Remaining:    capacity,
			Limit:        capacity,
			ResetSeconds: int64(window.Seconds()),
		}, nil
	}

	if count == cost {
		// Key was just created by this Incr: start its window.
		if _, err := l.c.Expire(ctx, windowKey, window); err != nil {
			log.Warn().Err(err).Str("key", key).Msg("rate_limiter_window_ttl_failed")
		}
	}

	if count <= capacity {
		remaining := capacity - count
		if remaining < 0 {
			remaining = 0
		}
		return Result{
			Allowed:      true,
			Remaining:    remaining,
			Limit:        capacity,
			ResetSeconds: int64(window.Seconds()),
		}, nil
	}

	// Deny: undo our own increment so the window count reflects only
	// admitted requests.
	if _, err := l.c.Decr(ctx, windowKey, cost); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("rate_limiter_rollback_failed")
	}
	return Result{
		Allowed:           false,
		Remaining:         0,
		Limit:             capacity,
		ResetSeconds:      int64(window.Seconds()),
		RetryAfterSeconds: int64(window.Seconds()),
	}, nil
}

// Scope names the class of request a limiter key belongs to, matching
// spec.md §4.4's API/auth/LLM separation so each gets independent capacity.
type Scope string

const (
	ScopeAPI    Scope = "api"
	ScopeAuth   Scope = "auth"
	ScopeLLM    Scope = "llm"
	ScopePlugin Scope = "plugin"
)

// Key builds a namespaced limiter key for a scope + identity + optional
// sub-resource (e.g. an LLM provider name for RPM/TPM throttling).
func Key(scope Scope, identity, resource string) string {
	if resource == "" {
		return fmt.Sprintf("%s:%s", scope, identity)
	}
	return fmt.Sprintf("%s:%s:%s", scope, identity, resource)
}

// Config is the static capacity/window pair for one limiter instance,
// loaded from SPEC_FULL.md's environment-driven config (rate-limit enables
// and capacities).
type Config struct {
	Capacity int64
	Window   time.Duration
	Enabled  bool
}

// AllowConfig is a convenience wrapper that honors Config.Enabled, always
// allowing when the limiter is disabled.
func (l *Limiter) AllowConfig(ctx context.Context, key string, cfg Config, cost int64) (Result, error) {
	if !cfg.Enabled {
		return Result{Allowed: true, Remaining: cfg.Capacity, Limit: cfg.Capacity}, nil
	}
	return l.Allow(ctx, key, cfg.Capacity, cfg.Window, cost)
}
