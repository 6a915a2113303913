//go:build integration

package cache_test

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/birbparty/aleo-beacon/aleo"
	"github.com/birbparty/aleo-beacon/aleo/aleotest"
	"github.com/birbparty/aleo-beacon/internal/cache"
	"github.com/birbparty/aleo-beacon/internal/testutil"
)

var testRedis *cache.RedisCache

func TestMain(m *testing.M) {
	ctx := context.Background()

	rd, err := testutil.StartRedis(ctx)
	if err != nil {
		fmt.Printf("Failed to start redis: %v\n", err)
		os.Exit(1)
	}

	testRedis, err = cache.NewRedisCache(rd.CacheConfig())
	if err != nil {
		fmt.Printf("Failed to connect to redis: %v\n", err)
		_ = rd.Terminate(ctx)
		os.Exit(1)
	}

	code := m.Run()

	_ = testRedis.Close()
	_ = rd.Terminate(ctx)
	os.Exit(code)
}

func TestRedisCache_Integration(t *testing.T) {
	ctx := context.Background()

	require.NoError(t, testRedis.Ping(ctx))

	require.NoError(t, testRedis.Set(ctx, "it:key", []byte("value"), time.Minute))
	got, err := testRedis.Get(ctx, "it:key")
	require.NoError(t, err)
	assert.Equal(t, []byte("value"), got)

	ttl, err := testRedis.TTL(ctx, "it:key")
	require.NoError(t, err)
	assert.Greater(t, ttl, 50*time.Second)

	_, err = testRedis.Get(ctx, "it:missing")
	assert.True(t, cache.IsNotFound(err))

	require.NoError(t, testRedis.SetMultiple(ctx, map[string][]byte{"it:a": []byte("1"), "it:b": []byte("2")}, time.Minute))
	multi, err := testRedis.GetMultiple(ctx, []string{"it:a", "it:b", "it:c"})
	require.NoError(t, err)
	assert.Len(t, multi, 2)

	n, err := testRedis.DeletePattern(ctx, "it:*")
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestNetworkCache_Integration(t *testing.T) {
	ctx := context.Background()
	nc := cache.NewNetworkCache(testRedis, "integration", time.Hour, time.Second)

	blocks := make([]aleo.Block, 0, 5)
	for h := uint32(0); h < 5; h++ {
		data, err := json.Marshal(aleotest.BlockJSON(h))
		require.NoError(t, err)
		var b aleo.Block
		require.NoError(t, json.Unmarshal(data, &b))
		blocks = append(blocks, b)
	}
	require.NoError(t, nc.SetBlocks(ctx, blocks))

	got, err := nc.GetBlocks(ctx, []uint32{0, 2, 4, 6})
	require.NoError(t, err)
	assert.Len(t, got, 3)

	h, err := nc.GetBlockHeightByHash(ctx, aleotest.BlockHash(3))
	require.NoError(t, err)
	assert.Equal(t, uint32(3), h)

	require.NoError(t, nc.SetLatestHeight(ctx, 4))
	tip, err := nc.GetLatestHeight(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint32(4), tip)

	require.NoError(t, nc.DeleteBlocks(ctx, map[uint32]string{0: aleotest.BlockHash(0)}))
	_, err = nc.GetBlock(ctx, 0)
	assert.True(t, cache.IsNotFound(err))

	purged, err := nc.Purge(ctx)
	require.NoError(t, err)
	assert.Greater(t, purged, 0)
}
