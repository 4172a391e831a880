package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	appErrors "github.com/rentella/property-auth-api/pkg/errors"
)

// EndpointClass groups routes that share a rate-limit threshold.
type EndpointClass string

const (
	ClassLogin    EndpointClass = "login"
	ClassRegister EndpointClass = "register"
	ClassGeneric  EndpointClass = "generic"
)

// counterStore abstracts the shared fixed-window counter backend.
type counterStore interface {
	IncrementWindow(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error)
}

// RateLimitConfig holds per-class thresholds over a shared window.
type RateLimitConfig struct {
	Window        time.Duration
	LoginLimit    int64
	RegisterLimit int64
	GenericLimit  int64
}

// RateLimitService bounds request frequency per (client key, endpoint
// class). Counters live in an injected shared store with per-key TTL; the
// service itself holds no ambient state and is safe under concurrent use.
type RateLimitService struct {
	store  counterStore
	logger *zap.Logger
	config RateLimitConfig
}

// NewRateLimitService constructs a RateLimitService instance.
func NewRateLimitService(store counterStore, logger *zap.Logger, config RateLimitConfig) *RateLimitService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.Window <= 0 {
		config.Window = time.Minute
	}
	if config.LoginLimit <= 0 {
		config.LoginLimit = 5
	}
	if config.RegisterLimit <= 0 {
		config.RegisterLimit = 3
	}
	if config.GenericLimit <= 0 {
		config.GenericLimit = 60
	}
	return &RateLimitService{store: store, logger: logger, config: config}
}

func (s *RateLimitService) limitFor(class EndpointClass) int64 {
	switch class {
	case ClassLogin:
		return s.config.LoginLimit
	case ClassRegister:
		return s.config.RegisterLimit
	default:
		return s.config.GenericLimit
	}
}

// CheckAndIncrement counts the request against its window. It returns
// RATE_LIMITED with the remaining window once the class threshold is
// exceeded, regardless of whether the request itself would have succeeded.
// A store outage is retried once, then surfaced as BACKEND_UNAVAILABLE.
func (s *RateLimitService) CheckAndIncrement(ctx context.Context, clientKey string, class EndpointClass) (time.Duration, error) {
	key := fmt.Sprintf("ratelimit:%s:%s", class, clientKey)

	count, remaining, err := s.store.IncrementWindow(ctx, key, s.config.Window)
	if err != nil {
		s.logger.Warn("counter store call failed, retrying once", zap.Error(err))
		count, remaining, err = s.store.IncrementWindow(ctx, key, s.config.Window)
	}
	if err != nil {
		return 0, appErrors.Wrap(err, appErrors.ErrBackendUnavailable.Code, appErrors.ErrBackendUnavailable.Status, "rate limit store unavailable")
	}

	if count > s.limitFor(class) {
		if remaining <= 0 {
			remaining = s.config.Window
		}
		return remaining, appErrors.Clone(appErrors.ErrRateLimited, "")
	}
	return 0, nil
}
