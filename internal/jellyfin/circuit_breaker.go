// jellysync - Headless Jellyfin Client State Sync
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/jellysync

package jellyfin

import (
	"context"
	"errors"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/tomtom215/jellysync/internal/logging"
	"github.com/tomtom215/jellysync/internal/metrics"
)

// Ensure CircuitBreakerClient implements API
var _ API = (*CircuitBreakerClient)(nil)

// CircuitBreakerClient wraps an API with a circuit breaker. While open, calls
// fail immediately with gobreaker.ErrOpenState instead of reaching the server.
// It never retries.
type CircuitBreakerClient struct {
	client API
	cb     *gobreaker.CircuitBreaker[any]
	name   string
}

// NewCircuitBreakerClient wraps client.
// Circuit breaker configuration:
// - Max 3 concurrent requests in half-open state
// - 1 minute measurement window
// - 2 minute timeout before attempting recovery
// - Opens after 60% failure rate with minimum 10 requests
func NewCircuitBreakerClient(client API) *CircuitBreakerClient {
	cbName := "jellyfin-api"

	metrics.CircuitBreakerState.WithLabelValues(cbName).Set(0) // 0 = closed

	cb := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        cbName,
		MaxRequests: 3,
		Interval:    time.Minute,
		Timeout:     2 * time.Minute,

		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < 10 {
				return false
			}

			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			shouldTrip := failureRatio >= 0.6

			if shouldTrip {
				logging.Warn().Uint32("failures", counts.TotalFailures).Float64("failure_rate", failureRatio*100).Msg("[CIRCUIT BREAKER] Opening Jellyfin circuit")
			}
			return shouldTrip
		},

		OnStateChange: func(name string, from, to gobreaker.State) {
			fromStr := stateToString(from)
			toStr := stateToString(to)

			logging.Info().Str("from", fromStr).Str("to", toStr).Msg("[CIRCUIT BREAKER] Jellyfin state transition")

			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateToFloat(to))
			metrics.CircuitBreakerTransitions.WithLabelValues(name, fromStr, toStr).Inc()
		},

		// A missing user or server is a local condition, not a server fault.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrNotAuthenticated) || errors.Is(err, ErrNoServer) ||
				errors.Is(err, context.Canceled)
		},
	})

	return &CircuitBreakerClient{
		client: client,
		cb:     cb,
		name:   cbName,
	}
}

func (cbc *CircuitBreakerClient) execute(fn func() (any, error)) (any, error) {
	result, err := cbc.cb.Execute(fn)
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			metrics.CircuitBreakerRequests.WithLabelValues(cbc.name, "rejected").Inc()
			logging.Warn().Err(err).Msg("[CIRCUIT BREAKER] Jellyfin request rejected")
		} else {
			metrics.CircuitBreakerRequests.WithLabelValues(cbc.name, "failure").Inc()
		}
		return nil, err
	}

	metrics.CircuitBreakerRequests.WithLabelValues(cbc.name, "success").Inc()
	return result, nil
}

// Ping tests connectivity with circuit breaker protection
func (cbc *CircuitBreakerClient) Ping(ctx context.Context) error {
	_, err := cbc.execute(func() (any, error) {
		return nil, cbc.client.Ping(ctx)
	})
	return err
}

// GetSystemInfo retrieves system information with circuit breaker protection
func (cbc *CircuitBreakerClient) GetSystemInfo(ctx context.Context) (*SystemInfo, error) {
	result, err := cbc.execute(func() (any, error) {
		return cbc.client.GetSystemInfo(ctx)
	})
	if err != nil {
		return nil, err
	}
	info, ok := result.(*SystemInfo)
	if !ok {
		return nil, errors.New("circuit breaker: unexpected result type for GetSystemInfo")
	}
	return info, nil
}

// GetCurrentUser resolves the token's user with circuit breaker protection
func (cbc *CircuitBreakerClient) GetCurrentUser(ctx context.Context) (*User, error) {
	result, err := cbc.execute(func() (any, error) {
		return cbc.client.GetCurrentUser(ctx)
	})
	if err != nil {
		return nil, err
	}
	user, ok := result.(*User)
	if !ok {
		return nil, errors.New("circuit breaker: unexpected result type for GetCurrentUser")
	}
	return user, nil
}

// GetItems lists items with circuit breaker protection
func (cbc *CircuitBreakerClient) GetItems(ctx context.Context, userID string, q ItemsQuery) (*ItemsResult, error) {
	result, err := cbc.execute(func() (any, error) {
		return cbc.client.GetItems(ctx, userID, q)
	})
	if err != nil {
		return nil, err
	}
	items, ok := result.(*ItemsResult)
	if !ok {
		return nil, errors.New("circuit breaker: unexpected result type for GetItems")
	}
	return items, nil
}

// GetUserViews lists user views with circuit breaker protection
func (cbc *CircuitBreakerClient) GetUserViews(ctx context.Context, userID string) (*ItemsResult, error) {
	result, err := cbc.execute(func() (any, error) {
		return cbc.client.GetUserViews(ctx, userID)
	})
	if err != nil {
		return nil, err
	}
	items, ok := result.(*ItemsResult)
	if !ok {
		return nil, errors.New("circuit breaker: unexpected result type for GetUserViews")
	}
	return items, nil
}

// State returns the current circuit breaker state
func (cbc *CircuitBreakerClient) State() gobreaker.State {
	return cbc.cb.State()
}

// Counts returns the current circuit breaker counts
func (cbc *CircuitBreakerClient) Counts() gobreaker.Counts {
	return cbc.cb.Counts()
}

// Name returns the circuit breaker name
func (cbc *CircuitBreakerClient) Name() string {
	return cbc.name
}

func stateToString(s gobreaker.State) string {
	switch s {
	case gobreaker.StateClosed:
		return "closed"
	case gobreaker.StateHalfOpen:
		return "half-open"
	case gobreaker.StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

func stateToFloat(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}
