package utils

import (
	"fmt"
	"sync"
	"time"
)

// 消息 key 需要同时作为 redis zset 的 score，必须能被 float64 精确表示，
// 所以总长度控制在 53 位以内：41 位毫秒时间 + 5 位节点 + 7 位序号。
const (
	keyEpoch    int64 = 1640995200000 // 2022-01-01 00:00:00 UTC
	nodeBits          = 5
	seqBits           = 7
	MaxNode           = 1<<nodeBits - 1
	maxSeqInMs        = 1<<seqBits - 1
	nodeShift         = seqBits
	timeShift         = seqBits + nodeBits
	MaxMessageKey     = 1<<53 - 1
)

// KeyGenerator 生成单调递增的消息 key
type KeyGenerator struct {
	mu     sync.Mutex
	node   int64
	lastMs int64
	seq    int64
	now    func() time.Time
}

// NewKeyGenerator 同时在线的 broker 必须使用不同的节点号，否则同一毫秒内会生成相同的 key
func NewKeyGenerator(node int64) (*KeyGenerator, error) {
	if node < 0 || node > MaxNode {
		return nil, fmt.Errorf("key generator: node %d out of range [0, %d]", node, MaxNode)
	}
	return &KeyGenerator{node: node, now: time.Now}, nil
}

func (g *KeyGenerator) Node() int64 {
	return g.node
}

func (g *KeyGenerator) Next() int64 {
	g.mu.Lock()
	defer g.mu.Unlock()

	ms := g.now().UnixMilli() - keyEpoch
	if ms < g.lastMs {
		// 时钟回拨时沿用上一个毫秒
		ms = g.lastMs
	}
	if ms == g.lastMs {
		g.seq++
		if g.seq > maxSeqInMs {
			for ms <= g.lastMs {
				time.Sleep(100 * time.Microsecond)
				ms = g.now().UnixMilli() - keyEpoch
			}
			g.seq = 0
		}
	} else {
		g.seq = 0
	}
	g.lastMs = ms
	return ms<<timeShift | g.node<<nodeShift | g.seq
}
