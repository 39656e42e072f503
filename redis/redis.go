package redis

import (
	"time"

	"gitee.com/Ljolan/si-im/config"
	redigo "github.com/garyburd/redigo/redis"
	goredis "github.com/go-redis/redis"
)

/**
* 两套客户端:
*  go-redis 负责会话、发号、去重、离线队列和 broker 推送频道 (pub/sub)
*  redigo 连接池负责业务域队列的 LPUSH / BRPOP，阻塞读独占连接，和上面分开
**/

// NewClient 创建 go-redis 客户端并 ping 一次
func NewClient(cfg config.Redis) (*goredis.Client, error) {
	c := goredis.NewClient(&goredis.Options{
		Network:  "tcp",
		Addr:     cfg.Source,
		Password: cfg.Password,
		DB:       cfg.Db,
		PoolSize: cfg.PoolSize,
	})
	if _, err := c.Ping().Result(); err != nil {
		_ = c.Close()
		return nil, err
	}
	return c, nil
}

// NewPool 创建 redigo 连接池，blockTimeout 为 BRPOP 的阻塞时间，读超时要比它长
func NewPool(cfg config.Redis, blockTimeout time.Duration) *redigo.Pool {
	return &redigo.Pool{
		MaxIdle:     cfg.PoolSize,
		MaxActive:   cfg.PoolSize * 2,
		IdleTimeout: 5 * time.Minute,
		Wait:        true,
		Dial: func() (redigo.Conn, error) {
			return redigo.Dial("tcp", cfg.Source,
				redigo.DialDatabase(cfg.Db),
				redigo.DialPassword(cfg.Password),
				redigo.DialConnectTimeout(3*time.Second),
				redigo.DialReadTimeout(blockTimeout+3*time.Second),
				redigo.DialWriteTimeout(3*time.Second),
			)
		},
		TestOnBorrow: func(c redigo.Conn, t time.Time) error {
			if time.Since(t) < time.Minute {
				return nil
			}
			_, err := c.Do("PING")
			return err
		},
	}
}
