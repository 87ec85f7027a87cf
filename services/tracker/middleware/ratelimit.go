// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package middleware provides Gin middleware for the tracker service.
package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// =============================================================================
// Configuration
// =============================================================================

// RateLimitConfig controls the per-client rate limiter.
//
// # Description
//
// Each client (identified by ClientIP) gets its own token bucket.
// Buckets that stay idle longer than IdleTTL are evicted by a background
// sweep so the limiter map does not grow without bound.
type RateLimitConfig struct {
	// RequestsPerSecond is the sustained request rate per client.
	// Default: 50
	RequestsPerSecond float64

	// Burst is the maximum burst size per client. Default: 100
	Burst int

	// IdleTTL is how long an unused bucket survives before eviction.
	// Default: 10 minutes
	IdleTTL time.Duration

	// SweepInterval is how often idle buckets are evicted.
	// Default: 1 minute. Negative disables the sweeper.
	SweepInterval time.Duration
}

// DefaultRateLimitConfig returns the production defaults.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerSecond: 50,
		Burst:             100,
		IdleTTL:           10 * time.Minute,
		SweepInterval:     time.Minute,
	}
}

func applyRateLimitDefaults(cfg RateLimitConfig) RateLimitConfig {
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 50
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 100
	}
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = 10 * time.Minute
	}
	if cfg.SweepInterval == 0 {
		cfg.SweepInterval = time.Minute
	}
	return cfg
}

// =============================================================================
// Implementation
// =============================================================================

type clientBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter is a keyed token-bucket limiter with idle eviction.
//
// # Thread Safety
//
// Safe for concurrent use.
type RateLimiter struct {
	mu      sync.Mutex
	buckets map[string]*clientBucket
	config  RateLimitConfig

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewRateLimiter creates a limiter and starts its eviction sweeper.
func NewRateLimiter(cfg RateLimitConfig) *RateLimiter {
	full := applyRateLimitDefaults(cfg)
	rl := &RateLimiter{
		buckets: make(map[string]*clientBucket),
		config:  full,
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
	if full.SweepInterval > 0 {
		go rl.sweepLoop(full.SweepInterval)
	} else {
		close(rl.doneCh)
	}
	return rl
}

// Allow reports whether the client identified by key may proceed.
func (rl *RateLimiter) Allow(key string) bool {
	rl.mu.Lock()
	b, ok := rl.buckets[key]
	if !ok {
		b = &clientBucket{
			limiter: rate.NewLimiter(rate.Limit(rl.config.RequestsPerSecond), rl.config.Burst),
		}
		rl.buckets[key] = b
	}
	b.lastSeen = time.Now()
	rl.mu.Unlock()

	return b.limiter.Allow()
}

// Len returns the number of tracked client buckets.
func (rl *RateLimiter) Len() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.buckets)
}

// Close stops the eviction sweeper.
func (rl *RateLimiter) Close() {
	select {
	case <-rl.stopCh:
	default:
		close(rl.stopCh)
	}
	<-rl.doneCh
}

func (rl *RateLimiter) sweepLoop(interval time.Duration) {
	defer close(rl.doneCh)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-rl.stopCh:
			return
		case <-ticker.C:
			rl.sweep(time.Now())
		}
	}
}

func (rl *RateLimiter) sweep(now time.Time) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	for key, b := range rl.buckets {
		if now.Sub(b.lastSeen) >= rl.config.IdleTTL {
			delete(rl.buckets, key)
		}
	}
}

// =============================================================================
// Gin Middleware
// =============================================================================

// Handler returns a Gin middleware that rejects over-limit clients
// with 429 Too Many Requests.
func (rl *RateLimiter) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !rl.Allow(c.ClientIP()) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "rate limit exceeded",
				"code":  "RATE_LIMITED",
			})
			return
		}
		c.Next()
	}
}
