package handler

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tomatool/ketchup/internal/assertion"
	"github.com/tomatool/ketchup/internal/config"
)

type memCache struct {
	values map[string]string
	ttls   map[string]time.Duration
}

func newMemCache() *memCache {
	return &memCache{values: make(map[string]string), ttls: make(map[string]time.Duration)}
}

func (m *memCache) Set(ctx context.Context, key, value string) error {
	m.values[key] = value
	return nil
}

func (m *memCache) Get(ctx context.Context, key string) (string, error) {
	v, ok := m.values[key]
	if !ok {
		return "", fmt.Errorf("cache key %q not found", key)
	}
	return v, nil
}

func (m *memCache) Delete(ctx context.Context, key string) error {
	delete(m.values, key)
	return nil
}

func (m *memCache) Exists(ctx context.Context, key string) (bool, error) {
	_, ok := m.values[key]
	return ok, nil
}

func newCacheSteps(t *testing.T) (*cacheSteps, *memCache, *Scenario) {
	t.Helper()
	cache := newMemCache()
	s := NewScenario(config.NewProvider(map[string]string{"prefix": "app"}))
	st := &cacheSteps{
		store: cache,
		s:     s,
		ttl: func(ctx context.Context, key, value string, ttl time.Duration) error {
			cache.values[key] = value
			cache.ttls[key] = ttl
			return nil
		},
	}
	return st, cache, s
}

func TestCacheSteps(t *testing.T) {
	st, cache, s := newCacheSteps(t)
	ctx := context.Background()
	require.NoError(t, s.Context.Set("user_id", 7))

	require.NoError(t, st.set(ctx, "$$prefix$$:session:<user_id>", "active"))
	assert.Equal(t, "active", cache.values["app:session:7"])

	assert.NoError(t, st.shouldExist(ctx, "app:session:<user_id>"))
	assert.NoError(t, st.shouldBe(ctx, "app:session:7", "active"))
	assert.ErrorIs(t, st.shouldBe(ctx, "app:session:7", "idle"), assertion.ErrFailed)
	assert.ErrorIs(t, st.shouldNotExist(ctx, "app:session:7"), assertion.ErrFailed)

	require.NoError(t, st.storeAs(ctx, "app:session:7", "state"))
	state, err := s.Context.GetString("state")
	require.NoError(t, err)
	assert.Equal(t, "active", state)

	require.NoError(t, st.delete(ctx, "app:session:<user_id>"))
	assert.NoError(t, st.shouldNotExist(ctx, "app:session:7"))
	assert.ErrorIs(t, st.shouldExist(ctx, "app:session:7"), assertion.ErrFailed)
	assert.Error(t, st.storeAs(ctx, "app:session:7", "state2"))
}

func TestCacheSteps_TTL(t *testing.T) {
	st, cache, _ := newCacheSteps(t)
	ctx := context.Background()

	require.NoError(t, st.setWithTTL(ctx, "otp", "1234", "90s"))
	assert.Equal(t, 90*time.Second, cache.ttls["otp"])
	assert.ErrorContains(t, st.setWithTTL(ctx, "otp", "1", "forever"), "invalid TTL")
}

func TestCacheSteps_MissingConfigKey(t *testing.T) {
	st, _, _ := newCacheSteps(t)
	err := st.set(context.Background(), "$$nope$$", "x")
	assert.Error(t, err)
}

func TestRedis_ContainerWithoutManager(t *testing.T) {
	r, _ := NewRedis("cache", config.Resource{Type: "redis", Container: "redis"}, nil)
	assert.ErrorContains(t, r.Init(context.Background()), "no containers are running")
}
