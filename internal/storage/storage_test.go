package storage

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T, ttl time.Duration) (*RedisStorage, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisStorage(client, ttl), mr
}

func setupTestSQLite(t *testing.T) *SQLiteStorage {
	s, err := NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	require.NoError(t, s.RunMigrations("./migrations"))
	t.Cleanup(func() { s.Close() })
	return s
}

func backends(t *testing.T) map[string]Storage {
	r, _ := setupTestRedis(t, time.Hour)
	return map[string]Storage{
		"memory": NewMemory(),
		"redis":  r,
		"sqlite": setupTestSQLite(t),
	}
}

func TestStorage_Contract(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			_, err := s.Get(ctx, "missing")
			assert.ErrorIs(t, err, ErrNotFound)

			require.NoError(t, s.Set(ctx, "cart:s1", []byte(`{"v":1}`)))
			got, err := s.Get(ctx, "cart:s1")
			require.NoError(t, err)
			assert.JSONEq(t, `{"v":1}`, string(got))

			require.NoError(t, s.Set(ctx, "cart:s1", []byte(`{"v":2}`)))
			got, err = s.Get(ctx, "cart:s1")
			require.NoError(t, err)
			assert.JSONEq(t, `{"v":2}`, string(got))

			require.NoError(t, s.Delete(ctx, "cart:s1"))
			_, err = s.Get(ctx, "cart:s1")
			assert.ErrorIs(t, err, ErrNotFound)

			assert.NoError(t, s.Delete(ctx, "never-set"))
		})
	}
}

func TestJSONHelpers(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()

	type payload struct {
		Version int      `json:"version"`
		Lines   []string `json:"lines"`
	}
	require.NoError(t, SetJSON(ctx, s, "k", payload{Version: 3, Lines: []string{"a"}}))

	var got payload
	require.NoError(t, GetJSON(ctx, s, "k", &got))
	assert.Equal(t, 3, got.Version)

	require.NoError(t, s.Set(ctx, "bad", []byte(`{"version":`)))
	assert.ErrorContains(t, GetJSON(ctx, s, "bad", &got), "unmarshal bad failed")
}

func TestRedisStorage_KeyPrefixAndTTL(t *testing.T) {
	s, mr := setupTestRedis(t, 15*time.Minute)
	require.NoError(t, s.Set(context.Background(), "cart:abc", []byte("{}")))

	assert.True(t, mr.Exists("cartsync:cart:abc"))
	ttl := mr.TTL("cartsync:cart:abc")
	assert.True(t, ttl >= 15*time.Minute, "TTL should be at least base TTL")
	assert.True(t, ttl < 20*time.Minute, "TTL should be base + max jitter")
}

func TestRedisStorage_NoTTL(t *testing.T) {
	s, mr := setupTestRedis(t, 0)
	require.NoError(t, s.Set(context.Background(), "k", []byte("{}")))
	assert.Equal(t, time.Duration(0), mr.TTL("cartsync:k"))
}

func TestMemory_CopiesValues(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	v := []byte("abc")
	require.NoError(t, m.Set(ctx, "k", v))
	v[0] = 'x'
	got, err := m.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "abc", string(got))
}
