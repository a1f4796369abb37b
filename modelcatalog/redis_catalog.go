package modelcatalog

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisCatalog shares a Model Catalog across processes, adapted directly
// from pkg/memory/implementations.go's RedisMemory: namespaced keys, JSON
// values, and a capability index kept as Redis sets the way
// core/redis_registry.go indexes service capabilities with SAdd/SMembers.
type RedisCatalog struct {
	client    *redis.Client
	namespace string
}

func NewRedisCatalog(redisURL, namespace string) (*RedisCatalog, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	if namespace == "" {
		namespace = "modelcatalog"
	}
	return &RedisCatalog{client: client, namespace: namespace}, nil
}

func (r *RedisCatalog) modelKey(id string) string        { return fmt.Sprintf("%s:model:%s", r.namespace, id) }
func (r *RedisCatalog) capabilityKey(cap string) string   { return fmt.Sprintf("%s:cap:%s", r.namespace, cap) }

// Register stores the model JSON-encoded and adds it to each capability's
// index set, within a single pipeline for round-trip efficiency.
func (r *RedisCatalog) Register(ctx context.Context, m Model) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to serialize model: %w", err)
	}

	pipe := r.client.TxPipeline()
	pipe.Set(ctx, r.modelKey(m.ID), data, 0)
	for cap := range m.Capabilities {
		pipe.SAdd(ctx, r.capabilityKey(cap), m.ID)
	}
	_, err = pipe.Exec(ctx)
	return err
}

// FindByCapability returns every model id registered under capability, then
// fetches and decodes each one.
func (r *RedisCatalog) FindByCapability(ctx context.Context, capability string) ([]Model, error) {
	ids, err := r.client.SMembers(ctx, r.capabilityKey(capability)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list capability members: %w", err)
	}

	out := make([]Model, 0, len(ids))
	for _, id := range ids {
		data, err := r.client.Get(ctx, r.modelKey(id)).Result()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to fetch model %s: %w", id, err)
		}
		var m Model
		if err := json.Unmarshal([]byte(data), &m); err != nil {
			return nil, fmt.Errorf("failed to decode model %s: %w", id, err)
		}
		out = append(out, m)
	}
	return out, nil
}

func (r *RedisCatalog) Close() error { return r.client.Close() }
