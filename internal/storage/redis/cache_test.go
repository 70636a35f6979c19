package redis

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finkargo/tip-analytics/internal/providers"
)

var _ providers.ResponseCache = (*Cache)(nil)

func TestNewClient_AcceptsURLOrAddress(t *testing.T) {
	c := NewClient("redis://:secret@cache.internal:6380/2")
	defer c.Close()
	assert.Equal(t, "cache.internal:6380", c.Options().Addr)
	assert.Equal(t, 2, c.Options().DB)

	plain := NewClient("localhost:6379")
	defer plain.Close()
	assert.Equal(t, "localhost:6379", plain.Options().Addr)
}

func TestCache_UnreachableServerReadsAsMiss(t *testing.T) {
	client := NewClient("redis://127.0.0.1:1/0")
	defer client.Close()
	cache := NewCache(client, "tip:", nil)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	cache.Set(ctx, "k", []byte("v"), time.Minute)
	_, ok := cache.Get(ctx, "k")
	assert.False(t, ok)
	cache.Delete(ctx, "k")
}

func TestConnect_GivesUpAfterAttempts(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := Connect(ctx, "redis://127.0.0.1:1/0", 1, nil)
	assert.Error(t, err)
}

func TestCache_RoundTrip(t *testing.T) {
	url := os.Getenv("TIP_TEST_REDIS_URL")
	if url == "" {
		t.Skip("TIP_TEST_REDIS_URL not set")
	}
	ctx := context.Background()
	client, err := Connect(ctx, url, 1, nil)
	require.NoError(t, err)
	defer client.Close()

	cache := NewCache(client, "tip-test:", nil)
	cache.Set(ctx, "csv:/csv/analytics/acme:acme", []byte(`{"inventory":{}}`), time.Minute)

	raw, err := client.Get(ctx, "tip-test:csv:/csv/analytics/acme:acme").Result()
	require.NoError(t, err)
	assert.Equal(t, `{"inventory":{}}`, raw)

	got, ok := cache.Get(ctx, "csv:/csv/analytics/acme:acme")
	require.True(t, ok)
	assert.Equal(t, `{"inventory":{}}`, string(got))

	cache.Delete(ctx, "csv:/csv/analytics/acme:acme")
	_, ok = cache.Get(ctx, "csv:/csv/analytics/acme:acme")
	assert.False(t, ok)
}
