package redisimpl

import (
	"errors"
	"fmt"
	"time"

	"gitee.com/Ljolan/si-im/store"
	"github.com/go-redis/redis"
	"github.com/valyala/fastrand"
)

var (
	ErrNoFreeNode = errors.New("redisimpl: all key generator nodes are leased")
	ErrNodeTaken  = errors.New("redisimpl: key generator node leased by another broker")
	ErrNodeLost   = errors.New("redisimpl: key generator node lease lost")
)

// 续约时租约已过期且无人占用就重新占回，被别的 broker 占用返回 0
var refreshNode = redis.NewScript(`
	local v = redis.call('GET', KEYS[1])
	if v == ARGV[1] then
		return redis.call('PEXPIRE', KEYS[1], ARGV[2])
	end
	if not v then
		redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[2])
		return 1
	end
	return 0
`)

var releaseNode = redis.NewScript(`
	if redis.call('GET', KEYS[1]) == ARGV[1] then
		return redis.call('DEL', KEYS[1])
	end
	return 0
`)

// NodeLease 同一时刻每个节点号只属于一个 broker，持有者需要定期 Refresh
type NodeLease struct {
	c     *redis.Client
	owner string
	node  int64
	ttl   time.Duration
}

// AcquireNode want < 0 时从随机位置开始找一个空闲节点，否则只占用 want
func AcquireNode(c *redis.Client, owner string, want, maxNode int64, ttl time.Duration) (*NodeLease, error) {
	if want >= 0 {
		if want > maxNode {
			return nil, fmt.Errorf("redisimpl: node %d out of range [0, %d]", want, maxNode)
		}
		ok, err := claimNode(c, owner, want, ttl)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, ErrNodeTaken
		}
		return &NodeLease{c: c, owner: owner, node: want, ttl: ttl}, nil
	}

	start := int64(fastrand.Uint32n(uint32(maxNode + 1)))
	for i := int64(0); i <= maxNode; i++ {
		n := (start + i) % (maxNode + 1)
		ok, err := claimNode(c, owner, n, ttl)
		if err != nil {
			return nil, err
		}
		if ok {
			return &NodeLease{c: c, owner: owner, node: n, ttl: ttl}, nil
		}
	}
	return nil, ErrNoFreeNode
}

// claimNode 空闲或已经属于 owner（同一个 broker 重启）都算占用成功
func claimNode(c *redis.Client, owner string, node int64, ttl time.Duration) (bool, error) {
	v, err := refreshNode.Run(c, []string{store.NodeKey(node)}, owner, ttl.Milliseconds()).Result()
	if err != nil {
		return false, err
	}
	n, _ := v.(int64)
	return n == 1, nil
}

func (l *NodeLease) Node() int64 {
	return l.node
}

// Refresh 续约，返回 ErrNodeLost 说明节点已经被别的 broker 占用
func (l *NodeLease) Refresh() error {
	ok, err := claimNode(l.c, l.owner, l.node, l.ttl)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNodeLost
	}
	return nil
}

// Release 只删除自己持有的租约
func (l *NodeLease) Release() error {
	return releaseNode.Run(l.c, []string{store.NodeKey(l.node)}, l.owner).Err()
}
