package cache

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/room4-2/tarotobot/config"
)

func TestConnect_Disabled(t *testing.T) {
	rdb, err := Connect(context.Background(), &config.Config{})
	require.NoError(t, err)
	assert.Nil(t, rdb)
}

func TestConnect(t *testing.T) {
	mr := miniredis.RunT(t)

	rdb, err := Connect(context.Background(), &config.Config{RedisURL: mr.Addr()})
	require.NoError(t, err)
	require.NotNil(t, rdb)
	t.Cleanup(func() { _ = rdb.Close() })

	require.NoError(t, rdb.Set(context.Background(), BridgeKey+":check", "ok", 0).Err())
	assert.True(t, mr.Exists(BridgeKey+":check"))
}

func TestConnect_Password(t *testing.T) {
	mr := miniredis.RunT(t)
	mr.RequireAuth("hunter2")

	_, err := Connect(context.Background(), &config.Config{RedisURL: mr.Addr()})
	assert.Error(t, err)

	rdb, err := Connect(context.Background(), &config.Config{RedisURL: mr.Addr(), RedisPassword: "hunter2"})
	require.NoError(t, err)
	_ = rdb.Close()
}

func TestConnect_Unreachable(t *testing.T) {
	rdb, err := Connect(context.Background(), &config.Config{RedisURL: "127.0.0.1:1"})
	assert.Error(t, err)
	assert.Nil(t, rdb)
}
