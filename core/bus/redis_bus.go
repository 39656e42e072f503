package bus

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"gitee.com/Ljolan/si-im/logger"
	"gitee.com/Ljolan/si-im/utils/runtimex"
	redigo "github.com/garyburd/redigo/redis"
	goredis "github.com/go-redis/redis"
)

// RedisBus 上行队列使用 list (LPUSH / BRPOP)，下行频道使用 pub/sub
type RedisBus struct {
	pool         *redigo.Pool
	client       *goredis.Client
	blockTimeout time.Duration

	quit chan struct{}
	once sync.Once
	wg   sync.WaitGroup
}

func NewRedisBus(pool *redigo.Pool, client *goredis.Client, blockTimeout time.Duration) *RedisBus {
	if blockTimeout < time.Second {
		blockTimeout = time.Second
	}
	return &RedisBus{
		pool:         pool,
		client:       client,
		blockTimeout: blockTimeout,
		quit:         make(chan struct{}),
	}
}

func (b *RedisBus) closed() bool {
	select {
	case <-b.quit:
		return true
	default:
		return false
	}
}

func (b *RedisBus) PublishUpstream(_ context.Context, queue string, env *Envelope) error {
	if b.closed() {
		return ErrClosed
	}
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	conn := b.pool.Get()
	defer conn.Close()
	_, err = conn.Do("LPUSH", queue, data)
	return err
}

func (b *RedisBus) ConsumeUpstream(ctx context.Context, queue string, h Handler) error {
	if b.closed() {
		return ErrClosed
	}
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		b.consume(ctx, queue, h)
	}()
	return nil
}

func (b *RedisBus) consume(ctx context.Context, queue string, h Handler) {
	conn := b.pool.Get()
	defer func() { _ = conn.Close() }()
	secs := int(b.blockTimeout / time.Second)
	for {
		select {
		case <-ctx.Done():
			return
		case <-b.quit:
			return
		default:
		}
		reply, err := redigo.ByteSlices(conn.Do("BRPOP", queue, secs))
		if err == redigo.ErrNil {
			continue
		}
		if err != nil {
			if b.closed() || ctx.Err() != nil {
				return
			}
			logger.Logger.Errorf("bus brpop %s: %v", queue, err)
			_ = conn.Close()
			select {
			case <-time.After(b.blockTimeout):
			case <-b.quit:
				return
			case <-ctx.Done():
				return
			}
			conn = b.pool.Get()
			continue
		}
		if len(reply) != 2 {
			continue
		}
		env := &Envelope{}
		if err = json.Unmarshal(reply[1], env); err != nil {
			logger.Logger.Errorf("bus decode %s: %v", queue, err)
			continue
		}
		func() {
			defer runtimex.Recover()
			h(ctx, env)
		}()
	}
}

func (b *RedisBus) PublishToBroker(_ context.Context, brokerId string, p *Push) error {
	if b.closed() {
		return ErrClosed
	}
	data, err := json.Marshal(p)
	if err != nil {
		return err
	}
	return b.client.Publish(BrokerChannel(brokerId), data).Err()
}

// SubscribeBroker 等到订阅确认后返回，之后的推送不会丢
func (b *RedisBus) SubscribeBroker(ctx context.Context, brokerId string, h PushHandler) error {
	if b.closed() {
		return ErrClosed
	}
	ps := b.client.Subscribe(BrokerChannel(brokerId))
	if _, err := ps.Receive(); err != nil {
		_ = ps.Close()
		return err
	}
	ch := ps.Channel()
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		defer ps.Close()
		for {
			select {
			case msg, ok := <-ch:
				if !ok {
					return
				}
				p := &Push{}
				if err := json.Unmarshal([]byte(msg.Payload), p); err != nil {
					logger.Logger.Errorf("bus decode push on %s: %v", msg.Channel, err)
					continue
				}
				func() {
					defer runtimex.Recover()
					h(ctx, p)
				}()
			case <-ctx.Done():
				return
			case <-b.quit:
				return
			}
		}
	}()
	return nil
}

// Close 通知后台协程退出，BRPOP 最多再阻塞一个 blockTimeout
func (b *RedisBus) Close() error {
	b.once.Do(func() { close(b.quit) })
	b.wg.Wait()
	return nil
}
