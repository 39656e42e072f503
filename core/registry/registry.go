package registry

import (
	"context"
	"errors"
	"hash/fnv"
	"sync"
	"time"

	"gitee.com/Ljolan/si-im/core/message"
	"gitee.com/Ljolan/si-im/logger"
	"gitee.com/Ljolan/si-im/store"
	"github.com/bsm/ratelimit"
	"go.uber.org/atomic"
)

const lockStripes = 64

var ErrConnectionClosed = errors.New("registry: connection already closed")

// StatusNotifier 上下线事件，由注册表异步调用
type StatusNotifier interface {
	Notify(ctx context.Context, ev *message.UserStatusChangeNotify) error
}

type Options struct {
	BrokerId   string
	BrokerHost string
	RateLimit  int // 每个连接每秒上行报文数，0 不限制
	Sessions   store.SessionStore
	Notifier   StatusNotifier
	// Async 执行异步任务，默认直接起协程
	Async func(func())
}

// Registry 本 broker 上的连接表。
// 读并发，写按 identity 分段加锁，同一个 identity 的绑定与清理互斥
type Registry struct {
	opts Options
	seq  *atomic.Int64

	rwm   sync.RWMutex
	conns map[int64]*Connection
	bound map[string]*Connection            // identity key --> conn
	users map[string]map[string]*Connection // appId:userId --> identity key --> conn

	locks [lockStripes]sync.Mutex
}

func New(opts Options) *Registry {
	if opts.Async == nil {
		opts.Async = func(f func()) { go f() }
	}
	return &Registry{
		opts:  opts,
		seq:   atomic.NewInt64(0),
		conns: make(map[int64]*Connection),
		bound: make(map[string]*Connection),
		users: make(map[string]map[string]*Connection),
	}
}

func (r *Registry) BrokerId() string {
	return r.opts.BrokerId
}

func (r *Registry) lockOf(key string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return &r.locks[h.Sum32()%lockStripes]
}

// Add 传输建立后登记一个未认证连接
func (r *Registry) Add(t Transport) *Connection {
	var limiter *ratelimit.RateLimiter
	if r.opts.RateLimit > 0 {
		limiter = ratelimit.New(r.opts.RateLimit, time.Second)
	}
	c := newConnection(r.seq.Inc(), t, limiter)
	r.rwm.Lock()
	r.conns[c.id] = c
	r.rwm.Unlock()
	return c
}

// Bind 登录成功后绑定身份。
// 同一设备已有旧连接时，先标记旧连接已清理、移出注册表并关闭，再安装新连接，返回被替换的旧连接
func (r *Registry) Bind(ctx context.Context, id Identity, c *Connection) (*Connection, error) {
	key := id.Key()

	// 同一个连接换身份重新登录，先解绑旧身份
	if prev, ok := c.Identity(); ok && prev.Key() != key {
		pl := r.lockOf(prev.Key())
		pl.Lock()
		r.unbindLocked(prev, c)
		pl.Unlock()
	}

	l := r.lockOf(key)
	l.Lock()
	defer l.Unlock()

	// 先写身份再检查 cleaned：并发的 teardown 要么在这里被拒绝，要么读到新身份并等待同一把锁后移除
	idc := id
	c.setIdentity(&idc)
	if c.Cleaned() {
		return nil, ErrConnectionClosed
	}

	r.rwm.Lock()
	old := r.bound[key]
	if old == c {
		old = nil
	}
	if old != nil {
		old.cleaned.Store(true)
		r.removeLocked(key, id, old)
	}
	r.conns[c.id] = c
	r.bound[key] = c
	uk := userKey(id.AppId, id.UserId)
	us, ok := r.users[uk]
	if !ok {
		us = make(map[string]*Connection)
		r.users[uk] = us
	}
	us[key] = c
	r.rwm.Unlock()

	if old != nil {
		logger.Logger.Infof("rebind %s, close old connection %s", key, old.RemoteAddr())
		old.Close()
	}

	err := r.opts.Sessions.Save(ctx, &store.Session{
		AppId:        id.AppId,
		UserId:       id.UserId,
		ClientType:   id.ClientType,
		Imei:         id.Imei,
		ConnectState: message.Online,
		BrokerId:     r.opts.BrokerId,
		BrokerHost:   r.opts.BrokerHost,
		LoginTime:    time.Now().UnixNano() / int64(time.Millisecond),
	})
	if err != nil {
		return old, err
	}
	r.notify(id, message.Online)
	return old, nil
}

// SetOffline 被动断开：移出注册表，会话标记为离线但保留
func (r *Registry) SetOffline(ctx context.Context, c *Connection) error {
	return r.teardown(ctx, c, false)
}

// Logout 主动退出或被踢：移出注册表并删除会话
func (r *Registry) Logout(ctx context.Context, c *Connection) error {
	return r.teardown(ctx, c, true)
}

func (r *Registry) teardown(ctx context.Context, c *Connection, deleteSession bool) error {
	if !c.cleaned.CAS(false, true) {
		return nil
	}
	defer c.Close()

	id, ok := c.Identity()
	if !ok {
		r.rwm.Lock()
		delete(r.conns, c.id)
		r.rwm.Unlock()
		return nil
	}

	key := id.Key()
	l := r.lockOf(key)
	l.Lock()
	defer l.Unlock()

	r.rwm.Lock()
	owner := r.bound[key] == c
	if owner {
		r.removeLocked(key, id, c)
	} else {
		delete(r.conns, c.id)
	}
	r.rwm.Unlock()
	if !owner {
		// 已被新连接替换，会话属于新连接
		return nil
	}

	var err error
	if deleteSession {
		err = r.opts.Sessions.Delete(ctx, id.AppId, id.UserId, id.ClientType, id.Imei, r.opts.BrokerId)
	} else {
		err = r.opts.Sessions.MarkOffline(ctx, id.AppId, id.UserId, id.ClientType, id.Imei, r.opts.BrokerId)
	}
	if errors.Is(err, store.ErrNotOwner) {
		logger.Logger.Debugf("session %s moved to another broker", key)
		err = nil
	}
	r.notify(id, message.Offline)
	return err
}

func (r *Registry) unbindLocked(id Identity, c *Connection) {
	key := id.Key()
	r.rwm.Lock()
	if r.bound[key] == c {
		r.removeLocked(key, id, c)
		r.conns[c.id] = c
	}
	r.rwm.Unlock()
}

// removeLocked 需持有 rwm 写锁
func (r *Registry) removeLocked(key string, id Identity, c *Connection) {
	delete(r.conns, c.id)
	if r.bound[key] == c {
		delete(r.bound, key)
	}
	uk := userKey(id.AppId, id.UserId)
	if us, ok := r.users[uk]; ok {
		if us[key] == c {
			delete(us, key)
		}
		if len(us) == 0 {
			delete(r.users, uk)
		}
	}
}

func (r *Registry) notify(id Identity, state message.ConnectState) {
	if r.opts.Notifier == nil {
		return
	}
	ev := &message.UserStatusChangeNotify{
		AppId:      id.AppId,
		UserId:     id.UserId,
		Status:     state,
		ClientType: id.ClientType,
		Imei:       id.Imei,
		BrokerId:   r.opts.BrokerId,
	}
	r.opts.Async(func() {
		if err := r.opts.Notifier.Notify(context.Background(), ev); err != nil {
			logger.Logger.Errorf("notify status of %s: %v", id, err)
		}
	})
}

func (r *Registry) GetConnection(id Identity) *Connection {
	r.rwm.RLock()
	defer r.rwm.RUnlock()
	return r.bound[id.Key()]
}

func (r *Registry) GetConnectionsForUser(appId int32, userId string) []*Connection {
	r.rwm.RLock()
	defer r.rwm.RUnlock()
	us := r.users[userKey(appId, userId)]
	out := make([]*Connection, 0, len(us))
	for _, c := range us {
		out = append(out, c)
	}
	return out
}

func (r *Registry) GetIdentity(c *Connection) (Identity, bool) {
	return c.Identity()
}

// Count 返回连接总数与已登录连接数
func (r *Registry) Count() (int, int) {
	r.rwm.RLock()
	defer r.rwm.RUnlock()
	return len(r.conns), len(r.bound)
}

// Range 遍历所有连接的快照，fn 返回 false 时停止
func (r *Registry) Range(fn func(c *Connection) bool) {
	r.rwm.RLock()
	snapshot := make([]*Connection, 0, len(r.conns))
	for _, c := range r.conns {
		snapshot = append(snapshot, c)
	}
	r.rwm.RUnlock()
	for _, c := range snapshot {
		if !fn(c) {
			return
		}
	}
}
