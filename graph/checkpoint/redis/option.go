//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

// Package redis provides a Redis-backed graph.SnapshotStore for suspended
// and persisted runs.
package redis

import (
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	defaultTTL       = time.Hour * 24 * 7 // 7 days
	defaultKeyPrefix = "seqagent:"
)

var (
	defaultOptions = Options{
		ttl:       defaultTTL,
		keyPrefix: defaultKeyPrefix,
	}
)

// Options is the options for the redis snapshot store.
type Options struct {
	url       string
	client    redis.UniversalClient
	keyPrefix string
	ttl       time.Duration
}

// Option is the option for the redis snapshot store.
type Option func(*Options)

// WithRedisClientURL creates a redis client from URL and sets it to the store.
func WithRedisClientURL(url string) Option {
	return func(opts *Options) {
		opts.url = url
	}
}

// WithClient uses an existing client.
// Note: WithClient has higher priority than WithRedisClientURL.
func WithClient(client redis.UniversalClient) Option {
	return func(opts *Options) {
		opts.client = client
	}
}

// WithKeyPrefix sets the prefix of every key written by the store.
func WithKeyPrefix(prefix string) Option {
	return func(opts *Options) {
		opts.keyPrefix = prefix
	}
}

// WithTTL sets the TTL for the snapshot data in redis.
func WithTTL(ttl time.Duration) Option {
	return func(opts *Options) {
		if ttl <= 0 {
			ttl = defaultTTL
		}
		opts.ttl = ttl
	}
}
