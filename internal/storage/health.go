package storage

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/rafaeljc/bifrost/internal/validation"
)

// HealthChecker reports the reachability of the rule storage Redis.
type HealthChecker struct {
	client *redis.Client
}

// NewHealthChecker creates a checker for client. It panics if client is nil.
func NewHealthChecker(client *redis.Client) *HealthChecker {
	validation.AssertNotNil(client, "storage: redis client")
	return &HealthChecker{client: client}
}

// Name returns the component name.
func (h *HealthChecker) Name() string {
	return "redis"
}

// Check pings Redis.
func (h *HealthChecker) Check(ctx context.Context) error {
	if h.client == nil {
		return fmt.Errorf("redis client is nil")
	}
	return h.client.Ping(ctx).Err()
}
