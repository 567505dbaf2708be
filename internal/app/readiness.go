package app

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/fairyhunter13/painpoint-analyzer/internal/adapter/repo/postgres"
)

// BuildReadiness combines dependency checks into one ReadyCheck. The database
// is required; Redis is checked only when configured.
func BuildReadiness(pool postgres.Pinger, rdb *redis.Client) ReadyCheck {
	return func(ctx context.Context) error {
		if pool == nil {
			return fmt.Errorf("db not configured")
		}
		if err := pool.Ping(ctx); err != nil {
			return fmt.Errorf("db: %w", err)
		}
		if rdb != nil {
			if err := rdb.Ping(ctx).Err(); err != nil {
				return fmt.Errorf("redis: %w", err)
			}
		}
		return nil
	}
}
