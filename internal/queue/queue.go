// Copyright 2022 Northwestern University. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

// Package queue wraps the Redis primitives the dispatcher, supervisor
// and worker use: the shared request list (ISREQUESTS), the per-user
// private queues, and the auth-store hash.
//
// The dispatcher holds two distinct connections, one remote (shared
// queue and auth store) and one local (private queues); this package
// keeps that split as two independently constructed *Client values
// rather than one shared client.
package queue

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// ErrProtocolViolation is returned when the store replies in a shape
// the caller did not expect. Callers on the dispatcher path treat this
// as fatal.
var ErrProtocolViolation = errors.New("queue: unexpected reply shape from store")

// Client wraps a single Redis connection used for one queue role.
type Client struct {
	rdb *redis.Client
}

// Dial opens a Client against addr ("host:port").
func Dial(addr string) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("queue: dial %s: %w", addr, err)
	}
	return &Client{rdb: rdb}, nil
}

// Close releases the underlying connection pool.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// PopRequest performs a blocking right-pop of key with no timeout,
// returning the single string payload (BRPOP returns [key, value];
// this unwraps the value).
func (c *Client) PopRequest(ctx context.Context, key string) (string, error) {
	res, err := c.rdb.BRPop(ctx, 0, key).Result()
	if err != nil {
		return "", fmt.Errorf("queue: brpop %s: %w", key, err)
	}
	if len(res) != 2 {
		return "", fmt.Errorf("%w: brpop %s returned %d elements", ErrProtocolViolation, key, len(res))
	}
	return res[1], nil
}

// PushPrivate left-pushes a job payload onto a user's private queue.
func (c *Client) PushPrivate(ctx context.Context, key, payload string) error {
	if err := c.rdb.LPush(ctx, key, payload).Err(); err != nil {
		return fmt.Errorf("queue: lpush %s: %w", key, err)
	}
	return nil
}

// DeletePrivate removes a private queue key, as done when a supervisor
// tears down.
func (c *Client) DeletePrivate(ctx context.Context, key string) error {
	if err := c.rdb.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("queue: del %s: %w", key, err)
	}
	return nil
}

// GetAuth fetches the encrypted assertion string from the auth-store
// hash at key, field "isAuth". Returns ("", false, nil) on a miss
// (nil reply): the caller drops the request rather than failing.
func (c *Client) GetAuth(ctx context.Context, pid string) (string, bool, error) {
	val, err := c.rdb.HGet(ctx, pid, "isAuth").Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("queue: hget %s isAuth: %w", pid, err)
	}
	return val, true, nil
}

// SessionExists reports whether pid is still present in the store,
// used for the cache-hit liveness check.
func (c *Client) SessionExists(ctx context.Context, pid string) (bool, error) {
	n, err := c.rdb.Exists(ctx, pid).Result()
	if err != nil {
		return false, fmt.Errorf("queue: exists %s: %w", pid, err)
	}
	return n == 1, nil
}
