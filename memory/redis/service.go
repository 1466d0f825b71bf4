//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

// Package redis provides a Redis-backed memory.Service. Each session is a
// Redis list of JSON-encoded messages.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"trpc.group/trpc-go/trpc-seqagent-go/memory"
	"trpc.group/trpc-go/trpc-seqagent-go/model"
)

const (
	defaultKeyPrefix = "seqagent:memory:"
	defaultTTL       = time.Hour * 24 * 7 // 7 days
)

var _ memory.Service = (*Service)(nil)

// Options is the options for the redis memory service.
type Options struct {
	url       string
	client    redis.UniversalClient
	keyPrefix string
	ttl       time.Duration
	limit     int
}

// Option is the option for the redis memory service.
type Option func(*Options)

// WithRedisClientURL creates a redis client from URL.
func WithRedisClientURL(url string) Option {
	return func(o *Options) {
		o.url = url
	}
}

// WithClient uses an existing client. It takes precedence over WithRedisClientURL.
func WithClient(client redis.UniversalClient) Option {
	return func(o *Options) {
		o.client = client
	}
}

// WithKeyPrefix sets the key prefix for session lists.
func WithKeyPrefix(prefix string) Option {
	return func(o *Options) {
		o.keyPrefix = prefix
	}
}

// WithTTL sets the expiration refreshed on every write. ttl <= 0 disables expiration.
func WithTTL(ttl time.Duration) Option {
	return func(o *Options) {
		o.ttl = ttl
	}
}

// WithMessageLimit trims each session list to its newest n entries.
func WithMessageLimit(n int) Option {
	return func(o *Options) {
		o.limit = n
	}
}

// Service is the redis memory service.
type Service struct {
	opts   Options
	client redis.UniversalClient
}

// NewService creates a new redis memory service.
func NewService(opts ...Option) (*Service, error) {
	o := Options{keyPrefix: defaultKeyPrefix, ttl: defaultTTL}
	for _, opt := range opts {
		opt(&o)
	}
	client := o.client
	if client == nil {
		if o.url == "" {
			return nil, errors.New("redis memory: url or client is required")
		}
		ropts, err := redis.ParseURL(o.url)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		client = redis.NewClient(ropts)
	}
	return &Service{opts: o, client: client}, nil
}

func (s *Service) key(sessionID string) string {
	return s.opts.keyPrefix + sessionID
}

// GetMessages implements memory.Service.
func (s *Service) GetMessages(ctx context.Context, sessionID string) ([]model.Message, error) {
	if sessionID == "" {
		return nil, memory.ErrSessionIDRequired
	}
	raw, err := s.client.LRange(ctx, s.key(sessionID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("get messages: %w", err)
	}
	msgs := make([]model.Message, 0, len(raw))
	for _, r := range raw {
		var m model.Message
		if err := json.Unmarshal([]byte(r), &m); err != nil {
			return nil, fmt.Errorf("unmarshal message: %w", err)
		}
		msgs = append(msgs, m)
	}
	return msgs, nil
}

// AddMessages implements memory.Service.
func (s *Service) AddMessages(ctx context.Context, sessionID string, messages []model.Message) error {
	if sessionID == "" {
		return memory.ErrSessionIDRequired
	}
	if len(messages) == 0 {
		return nil
	}
	values := make([]any, 0, len(messages))
	for _, m := range messages {
		b, err := json.Marshal(m)
		if err != nil {
			return fmt.Errorf("marshal message: %w", err)
		}
		values = append(values, b)
	}
	key := s.key(sessionID)
	pipe := s.client.TxPipeline()
	pipe.RPush(ctx, key, values...)
	if s.opts.limit > 0 {
		pipe.LTrim(ctx, key, int64(-s.opts.limit), -1)
	}
	if s.opts.ttl > 0 {
		pipe.Expire(ctx, key, s.opts.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("add messages: %w", err)
	}
	return nil
}

// Clear implements memory.Service.
func (s *Service) Clear(ctx context.Context, sessionID string) error {
	return s.client.Del(ctx, s.key(sessionID)).Err()
}

// Close closes the redis client.
func (s *Service) Close() error {
	return s.client.Close()
}
