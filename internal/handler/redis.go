package handler

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/tomatool/ketchup/internal/assertion"
	"github.com/tomatool/ketchup/internal/config"
	"github.com/tomatool/ketchup/internal/container"
)

type Redis struct {
	name      string
	config    config.Resource
	container *container.Manager
	client    *redis.Client
}

func NewRedis(name string, cfg config.Resource, cm *container.Manager) (*Redis, error) {
	return &Redis{
		name:      name,
		config:    cfg,
		container: cm,
	}, nil
}

func (r *Redis) Name() string { return r.name }

func (r *Redis) Init(ctx context.Context) error {
	addr, _ := r.config.Options["addr"].(string)
	if r.config.Container != "" {
		if r.container == nil {
			return fmt.Errorf("resource %s references container %s but no containers are running", r.name, r.config.Container)
		}
		host, err := r.container.GetHost(ctx, r.config.Container)
		if err != nil {
			return fmt.Errorf("getting container host: %w", err)
		}
		port, err := r.container.GetPort(ctx, r.config.Container, "6379/tcp")
		if err != nil {
			return fmt.Errorf("getting container port: %w", err)
		}
		addr = fmt.Sprintf("%s:%s", host, port)
	}
	if addr == "" {
		addr = "localhost:6379"
	}

	db := 0
	if d, ok := r.config.Options["db"].(int); ok {
		db = d
	}
	password := ""
	if p, ok := r.config.Options["password"].(string); ok {
		password = p
	}

	r.client = redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return nil
}

func (r *Redis) Ready(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *Redis) Reset(ctx context.Context) error {
	strategy := "flush"
	if s, ok := r.config.Options["reset_strategy"].(string); ok {
		strategy = s
	}

	switch strategy {
	case "pattern":
		pattern := "*"
		if p, ok := r.config.Options["reset_pattern"].(string); ok {
			pattern = p
		}
		return r.deleteByPattern(ctx, pattern)
	default:
		return r.client.FlushDB(ctx).Err()
	}
}

func (r *Redis) deleteByPattern(ctx context.Context, pattern string) error {
	var cursor uint64
	for {
		keys, nextCursor, err := r.client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return err
		}
		if len(keys) > 0 {
			if err := r.client.Del(ctx, keys...).Err(); err != nil {
				return err
			}
		}
		cursor = nextCursor
		if cursor == 0 {
			break
		}
	}
	return nil
}

func (r *Redis) Set(ctx context.Context, key, value string) error {
	return r.client.Set(ctx, key, value, 0).Err()
}

// Get returns redis.Nil wrapped with the key when it is missing
func (r *Redis) Get(ctx context.Context, key string) (string, error) {
	v, err := r.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", fmt.Errorf("cache key %q not found: %w", key, err)
	}
	return v, err
}

func (r *Redis) Delete(ctx context.Context, key string) error {
	return r.client.Del(ctx, key).Err()
}

func (r *Redis) Exists(ctx context.Context, key string) (bool, error) {
	n, err := r.client.Exists(ctx, key).Result()
	return n > 0, err
}

func (r *Redis) Cleanup(ctx context.Context) error {
	if r.client != nil {
		return r.client.Close()
	}
	return nil
}

type cacheSteps struct {
	store CacheStore
	s     *Scenario
	ttl   func(ctx context.Context, key, value string, ttl time.Duration) error
}

func (r *Redis) Steps(s *Scenario) StepCategory {
	return cacheStepCategory(&cacheSteps{
		store: r,
		s:     s,
		ttl: func(ctx context.Context, key, value string, ttl time.Duration) error {
			return r.client.Set(ctx, key, value, ttl).Err()
		},
	})
}

func cacheStepCategory(st *cacheSteps) StepCategory {
	return StepCategory{
		Name:        "Cache",
		Description: "Steps for seeding and checking Redis keys",
		Steps: []StepDef{
			{
				Group:       "Data Setup",
				Pattern:     `^I set cache key "([^"]*)" to "([^"]*)"$`,
				Description: "Set a string key",
				Example:     `I set cache key "session:<user_id>" to "active"`,
				Handler:     st.set,
			},
			{
				Group:       "Data Setup",
				Pattern:     `^I set cache key "([^"]*)" to "([^"]*)" with TTL "([^"]*)"$`,
				Description: "Set a string key that expires after a Go duration",
				Example:     `I set cache key "otp" to "1234" with TTL "1m"`,
				Handler:     st.setWithTTL,
			},
			{
				Group:       "Data Setup",
				Pattern:     `^I delete cache key "([^"]*)"$`,
				Description: "Delete a key",
				Example:     `I delete cache key "otp"`,
				Handler:     st.delete,
			},
			{
				Group:       "Assertions",
				Pattern:     `^the cache key "([^"]*)" should exist$`,
				Description: "Assert key exists",
				Example:     `the cache key "session:<user_id>" should exist`,
				Handler:     st.shouldExist,
			},
			{
				Group:       "Assertions",
				Pattern:     `^the cache key "([^"]*)" should not exist$`,
				Description: "Assert key does not exist",
				Example:     `the cache key "otp" should not exist`,
				Handler:     st.shouldNotExist,
			},
			{
				Group:       "Assertions",
				Pattern:     `^the cache key "([^"]*)" should be "([^"]*)"$`,
				Description: "Assert a key's value",
				Example:     `the cache key "otp" should be "<otp>"`,
				Handler:     st.shouldBe,
			},
			{
				Group:       "Scenario Values",
				Pattern:     `^I store the cache key "([^"]*)" as "([^"]*)"$`,
				Description: "Store a key's value for later steps",
				Example:     `I store the cache key "otp" as "otp"`,
				Handler:     st.storeAs,
			},
		},
	}
}

func (st *cacheSteps) set(ctx context.Context, key, value string) error {
	if err := st.s.Resolve(&key, &value); err != nil {
		return err
	}
	return st.store.Set(ctx, key, value)
}

func (st *cacheSteps) setWithTTL(ctx context.Context, key, value, ttl string) error {
	d, err := time.ParseDuration(ttl)
	if err != nil {
		return fmt.Errorf("invalid TTL duration: %w", err)
	}
	if err := st.s.Resolve(&key, &value); err != nil {
		return err
	}
	return st.ttl(ctx, key, value, d)
}

func (st *cacheSteps) delete(ctx context.Context, key string) error {
	if err := st.s.Resolve(&key); err != nil {
		return err
	}
	return st.store.Delete(ctx, key)
}

func (st *cacheSteps) shouldExist(ctx context.Context, key string) error {
	if err := st.s.Resolve(&key); err != nil {
		return err
	}
	ok, err := st.store.Exists(ctx, key)
	if err != nil {
		return err
	}
	if !ok {
		return &assertion.FailedError{Subject: "cache key " + strconv.Quote(key), Expected: "to exist", Actual: "missing"}
	}
	return nil
}

func (st *cacheSteps) shouldNotExist(ctx context.Context, key string) error {
	if err := st.s.Resolve(&key); err != nil {
		return err
	}
	ok, err := st.store.Exists(ctx, key)
	if err != nil {
		return err
	}
	if ok {
		return &assertion.FailedError{Subject: "cache key " + strconv.Quote(key), Expected: "not to exist", Actual: "present"}
	}
	return nil
}

func (st *cacheSteps) shouldBe(ctx context.Context, key, want string) error {
	if err := st.s.Resolve(&key, &want); err != nil {
		return err
	}
	actual, err := st.store.Get(ctx, key)
	if err != nil {
		return err
	}
	if actual != want {
		return &assertion.FailedError{Subject: "cache key " + strconv.Quote(key), Expected: strconv.Quote(want), Actual: strconv.Quote(actual)}
	}
	return nil
}

func (st *cacheSteps) storeAs(ctx context.Context, key, ctxKey string) error {
	if err := st.s.Resolve(&key); err != nil {
		return err
	}
	v, err := st.store.Get(ctx, key)
	if err != nil {
		return err
	}
	return st.s.Context.Set(ctxKey, v)
}

var _ Handler = (*Redis)(nil)
var _ CacheStore = (*Redis)(nil)
