// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestRateLimiter_Allow(t *testing.T) {
	t.Run("allows requests within the burst", func(t *testing.T) {
		rl := NewRateLimiter(RateLimitConfig{
			RequestsPerSecond: 1,
			Burst:             5,
			SweepInterval:     -1,
		})
		defer rl.Close()

		for i := 0; i < 5; i++ {
			if !rl.Allow("client-a") {
				t.Fatalf("Request %d within burst was rejected", i)
			}
		}
	})

	t.Run("rejects requests beyond the burst", func(t *testing.T) {
		rl := NewRateLimiter(RateLimitConfig{
			RequestsPerSecond: 0.001,
			Burst:             2,
			SweepInterval:     -1,
		})
		defer rl.Close()

		rl.Allow("client-a")
		rl.Allow("client-a")
		if rl.Allow("client-a") {
			t.Error("Request beyond burst was allowed")
		}
	})

	t.Run("tracks clients independently", func(t *testing.T) {
		rl := NewRateLimiter(RateLimitConfig{
			RequestsPerSecond: 0.001,
			Burst:             1,
			SweepInterval:     -1,
		})
		defer rl.Close()

		if !rl.Allow("client-a") {
			t.Fatal("First request for client-a rejected")
		}
		if rl.Allow("client-a") {
			t.Error("Second request for client-a allowed")
		}
		if !rl.Allow("client-b") {
			t.Error("client-b should have its own bucket")
		}
	})
}

func TestRateLimiter_Sweep(t *testing.T) {
	rl := NewRateLimiter(RateLimitConfig{
		RequestsPerSecond: 1,
		Burst:             1,
		IdleTTL:           time.Millisecond,
		SweepInterval:     -1,
	})
	defer rl.Close()

	rl.Allow("client-a")
	rl.Allow("client-b")
	if rl.Len() != 2 {
		t.Fatalf("Len = %d, want 2", rl.Len())
	}

	rl.sweep(time.Now().Add(time.Minute))
	if rl.Len() != 0 {
		t.Errorf("Len after sweep = %d, want 0", rl.Len())
	}
}

func TestRateLimiter_Handler(t *testing.T) {
	rl := NewRateLimiter(RateLimitConfig{
		RequestsPerSecond: 0.001,
		Burst:             1,
		SweepInterval:     -1,
	})
	defer rl.Close()

	router := gin.New()
	router.Use(rl.Handler())
	router.GET("/ping", func(c *gin.Context) {
		c.String(http.StatusOK, "pong")
	})

	first := httptest.NewRecorder()
	router.ServeHTTP(first, httptest.NewRequest("GET", "/ping", nil))
	if first.Code != http.StatusOK {
		t.Fatalf("First request: status = %d, want 200", first.Code)
	}

	second := httptest.NewRecorder()
	router.ServeHTTP(second, httptest.NewRequest("GET", "/ping", nil))
	if second.Code != http.StatusTooManyRequests {
		t.Errorf("Second request: status = %d, want 429", second.Code)
	}
}
