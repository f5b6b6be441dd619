package redis

import (
	"testing"

	"coursemail/pkg/config"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNewRedisClient(t *testing.T) {
	mr := miniredis.RunT(t)

	rdb, err := NewRedisClient(config.RedisConfig{Addr: mr.Addr()}, zap.NewNop())
	require.NoError(t, err)
	defer rdb.Close()
	assert.Equal(t, mr.Addr(), rdb.Options().Addr)
}

func TestNewRedisClient_Unreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	rdb, err := NewRedisClient(config.RedisConfig{Addr: addr}, zap.NewNop())
	assert.Error(t, err)
	assert.NotNil(t, rdb)
}
