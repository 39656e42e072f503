package redis

import (
	"testing"
	"time"

	"gitee.com/Ljolan/si-im/config"
	"github.com/alicebob/miniredis/v2"
	redigo "github.com/garyburd/redigo/redis"
	"github.com/stretchr/testify/require"
)

func TestClients(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := config.Redis{Source: mr.Addr(), PoolSize: 2}

	c, err := NewClient(cfg)
	require.NoError(t, err)
	defer c.Close()
	require.NoError(t, c.Set("k", "v", 0).Err())

	p := NewPool(cfg, time.Second)
	defer p.Close()
	conn := p.Get()
	defer conn.Close()
	v, err := redigo.String(conn.Do("GET", "k"))
	require.NoError(t, err)
	require.Equal(t, "v", v)
}

func TestNewClientUnreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()
	_, err := NewClient(config.Redis{Source: addr, PoolSize: 1})
	require.Error(t, err)
}
