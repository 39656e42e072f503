package registry

import (
	"sync"
	"time"

	"gitee.com/Ljolan/si-im/core/message"
	"github.com/bsm/ratelimit"
	"go.uber.org/atomic"
)

// Transport 连接底层的传输，TCP 与 WebSocket 都实现它
type Transport interface {
	WritePack(p *message.MessagePack) error
	Close()
	IsClosed() bool
	RemoteAddr() string
}

type Connection struct {
	id        int64
	transport Transport

	mu       sync.RWMutex
	identity *Identity

	lastRead  *atomic.Int64 // unix nano
	cleaned   *atomic.Bool  // 已清理过，断线回调不再重复处理
	closeOnce sync.Once
	limiter   *ratelimit.RateLimiter
}

func newConnection(id int64, t Transport, limiter *ratelimit.RateLimiter) *Connection {
	return &Connection{
		id:        id,
		transport: t,
		lastRead:  atomic.NewInt64(time.Now().UnixNano()),
		cleaned:   atomic.NewBool(false),
		limiter:   limiter,
	}
}

func (c *Connection) Id() int64 {
	return c.id
}

func (c *Connection) Identity() (Identity, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.identity == nil {
		return Identity{}, false
	}
	return *c.identity, true
}

func (c *Connection) setIdentity(id *Identity) {
	c.mu.Lock()
	c.identity = id
	c.mu.Unlock()
}

// Touch 刷新最后读时间，心跳超时以它为准
func (c *Connection) Touch() {
	c.lastRead.Store(time.Now().UnixNano())
}

func (c *Connection) LastRead() time.Time {
	return time.Unix(0, c.lastRead.Load())
}

// Idle 距离最后一次读超过 timeout
func (c *Connection) Idle(timeout time.Duration, now time.Time) bool {
	return timeout > 0 && now.Sub(c.LastRead()) > timeout
}

// Limited 是否超过每秒上行限制，未配置限流时总是 false
func (c *Connection) Limited() bool {
	return c.limiter != nil && c.limiter.Limit()
}

func (c *Connection) Write(p *message.MessagePack) error {
	return c.transport.WritePack(p)
}

// Close 只会关闭一次底层传输
func (c *Connection) Close() {
	c.closeOnce.Do(func() {
		if !c.transport.IsClosed() {
			c.transport.Close()
		}
	})
}

func (c *Connection) Cleaned() bool {
	return c.cleaned.Load()
}

func (c *Connection) RemoteAddr() string {
	return c.transport.RemoteAddr()
}

func (c *Connection) String() string {
	if id, ok := c.Identity(); ok {
		return id.Key() + "@" + c.RemoteAddr()
	}
	return "unbound@" + c.RemoteAddr()
}
