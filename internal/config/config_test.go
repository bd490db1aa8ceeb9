package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.HTTPPort)
	assert.Equal(t, "mongo", cfg.CartStore)
	assert.Equal(t, "memory", cfg.StorageDriver)
	assert.Equal(t, 10*time.Minute, cfg.RecentEmptyWindow)
	assert.Equal(t, 150*time.Millisecond, cfg.TouchDebounce)
	assert.Equal(t, 300*time.Millisecond, cfg.PersistDebounce)
	assert.Equal(t, 20*time.Minute, cfg.BillingTTL)
	assert.Equal(t, 10*time.Minute, cfg.ShippingTTL)
	assert.Equal(t, 5000, cfg.ThumbnailMaxEntries)
	assert.Empty(t, cfg.KafkaBrokers)
	assert.Equal(t, 100, cfg.MongoMaxPool)
	assert.Equal(t, 10, cfg.MongoMinPool)
	assert.Equal(t, 5*time.Second, cfg.MongoSelectionTimeout)
}

func TestLoad_FromEnv(t *testing.T) {
	t.Setenv("HTTP_PORT", "9000")
	t.Setenv("CART_STORE", "Memory")
	t.Setenv("STORAGE_DRIVER", "redis")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092,")
	t.Setenv("RECENT_EMPTY_WINDOW", "2m")
	t.Setenv("POSTGRES_PORT", "6543")
	t.Setenv("MONGO_MAX_POOL", "20")
	t.Setenv("MONGO_CONNECT_TIMEOUT", "3s")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "9000", cfg.HTTPPort)
	assert.Equal(t, "memory", cfg.CartStore)
	assert.Equal(t, "redis", cfg.StorageDriver)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, 2*time.Minute, cfg.RecentEmptyWindow)
	assert.Equal(t, 6543, cfg.PostgresPort)
	assert.Equal(t, 20, cfg.MongoMaxPool)
	assert.Equal(t, 3*time.Second, cfg.MongoConnectTimeout)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name, key, value string
	}{
		{"bad duration", "TOUCH_DEBOUNCE", "soon"},
		{"bad int", "THUMBNAIL_MAX_ENTRIES", "many"},
		{"unknown store", "CART_STORE", "dynamo"},
		{"unknown driver", "STORAGE_DRIVER", "floppy"},
		{"min pool above max", "MONGO_MIN_POOL", "500"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			_, err := Load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.key)
		})
	}
}
