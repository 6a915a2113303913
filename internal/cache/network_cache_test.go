package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/birbparty/aleo-beacon/aleo"
)

func testBlock(height uint32, hash string) aleo.Block {
	var b aleo.Block
	b.BlockHash = hash
	b.PreviousHash = "ab1prev"
	b.Header.Metadata.Height = height
	b.Transactions = []aleo.ConfirmedTransaction{
		{Status: "accepted", Type: aleo.TransactionTypeExecute, Transaction: aleo.Transaction{Type: aleo.TransactionTypeExecute, ID: "at1tx"}},
	}
	return b
}

func newTestNetworkCache() (*NetworkCache, *mockCache) {
	mock := newMockCache()
	return NewNetworkCache(mock, "testnet3", time.Hour, 5*time.Second), mock
}

func TestNetworkCache_Block(t *testing.T) {
	nc, mock := newTestNetworkCache()
	ctx := context.Background()

	_, err := nc.GetBlock(ctx, 10)
	assert.True(t, IsNotFound(err))

	block := testBlock(10, "ab1ten")
	require.NoError(t, nc.SetBlock(ctx, &block))

	got, err := nc.GetBlock(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, "ab1ten", got.BlockHash)
	assert.Equal(t, uint32(10), got.Height())
	assert.Equal(t, []string{"at1tx"}, got.TransactionIDs())

	height, err := nc.GetBlockHeightByHash(ctx, "ab1ten")
	require.NoError(t, err)
	assert.Equal(t, uint32(10), height)

	assert.Equal(t, time.Hour, mock.ttls["aleo:testnet3:block:10"])
	assert.Equal(t, time.Hour, mock.ttls["aleo:testnet3:blockhash:ab1ten"])
}

func TestNetworkCache_GetBlocks(t *testing.T) {
	nc, mock := newTestNetworkCache()
	ctx := context.Background()

	require.NoError(t, nc.SetBlocks(ctx, []aleo.Block{testBlock(1, "ab1a"), testBlock(3, "ab1c")}))
	mock.data["aleo:testnet3:block:4"] = []byte("{not json")

	got, err := nc.GetBlocks(ctx, []uint32{1, 2, 3, 4})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "ab1a", got[1].BlockHash)
	assert.Equal(t, "ab1c", got[3].BlockHash)
}

func TestNetworkCache_SetBlocksEmpty(t *testing.T) {
	nc, mock := newTestNetworkCache()
	require.NoError(t, nc.SetBlocks(context.Background(), nil))
	assert.Empty(t, mock.data)
}

func TestNetworkCache_LatestHeight(t *testing.T) {
	nc, mock := newTestNetworkCache()
	ctx := context.Background()

	_, err := nc.GetLatestHeight(ctx)
	assert.ErrorIs(t, err, ErrKeyNotFound)

	require.NoError(t, nc.SetLatestHeight(ctx, 12345))
	h, err := nc.GetLatestHeight(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint32(12345), h)
	assert.Equal(t, 5*time.Second, mock.ttls["aleo:testnet3:latest:height"])

	mock.data["aleo:testnet3:latest:height"] = []byte("tip")
	_, err = nc.GetLatestHeight(ctx)
	require.Error(t, err)
	assert.False(t, IsNotFound(err))
}

func TestNetworkCache_TransactionAndProgram(t *testing.T) {
	nc, _ := newTestNetworkCache()
	ctx := context.Background()

	tx := &aleo.Transaction{Type: aleo.TransactionTypeDeploy, ID: "at1deploy"}
	require.NoError(t, nc.SetTransaction(ctx, tx))
	got, err := nc.GetTransaction(ctx, "at1deploy")
	require.NoError(t, err)
	assert.True(t, got.IsDeploy())

	_, err = nc.GetProgram(ctx, "credits.aleo")
	assert.True(t, IsNotFound(err))

	require.NoError(t, nc.SetProgram(ctx, "credits.aleo", "program credits.aleo;"))
	src, err := nc.GetProgram(ctx, "credits.aleo")
	require.NoError(t, err)
	assert.Equal(t, "program credits.aleo;", src)
}

func TestNetworkCache_DeleteBlocks(t *testing.T) {
	nc, mock := newTestNetworkCache()
	ctx := context.Background()

	require.NoError(t, nc.SetBlocks(ctx, []aleo.Block{testBlock(1, "ab1a"), testBlock(2, "ab1b")}))
	require.NoError(t, nc.DeleteBlocks(ctx, map[uint32]string{1: "ab1a"}))

	_, err := nc.GetBlock(ctx, 1)
	assert.True(t, IsNotFound(err))
	_, err = nc.GetBlockHeightByHash(ctx, "ab1a")
	assert.True(t, IsNotFound(err))
	assert.Len(t, mock.data, 2)
}

func TestNetworkCache_Purge(t *testing.T) {
	nc, mock := newTestNetworkCache()
	ctx := context.Background()

	require.NoError(t, nc.SetLatestHeight(ctx, 1))
	require.NoError(t, nc.SetProgram(ctx, "hello.aleo", "program hello.aleo;"))
	mock.data["aleo:mainnet:latest:height"] = []byte("9")

	n, err := nc.Purge(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Contains(t, mock.data, "aleo:mainnet:latest:height")
}

func TestNetworkCache_BackendErrors(t *testing.T) {
	nc, mock := newTestNetworkCache()
	ctx := context.Background()
	mock.err = NewCacheError("failed to get key", true).WithError(errors.New("connection reset"))

	_, err := nc.GetBlock(ctx, 1)
	require.Error(t, err)
	assert.False(t, IsNotFound(err))

	var cerr *CacheError
	require.True(t, errors.As(err, &cerr))
	assert.True(t, cerr.IsRetryable())
	assert.Error(t, nc.Ping(ctx))
}

func TestCacheError(t *testing.T) {
	underlying := errors.New("dial tcp: refused")
	err := ErrKeyNotFound.WithError(underlying)

	assert.Equal(t, "key not found: dial tcp: refused", err.Error())
	assert.ErrorIs(t, err, ErrKeyNotFound)
	assert.ErrorIs(t, err, underlying)
	assert.Nil(t, ErrKeyNotFound.Underlying, "WithError must not mutate the sentinel")
	assert.NotErrorIs(t, err, ErrCacheClosed)
}
