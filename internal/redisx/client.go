package redisx

import (
	"context"
	"time"

	"github.com/juju/errors"
	"github.com/redis/go-redis/v9"
)

func New(addr string) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})
}

// Ping checks the server is reachable before a session relies on it.
func Ping(ctx context.Context, rdb *redis.Client) error {
	return errors.Annotate(rdb.Ping(ctx).Err(), "ping redis")
}
