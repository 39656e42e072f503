package registry

import (
	"sync"

	"gitee.com/Ljolan/si-im/core/message"
	"go.uber.org/atomic"
)

// MockTransport 内存传输，记录写出的报文，测试和压测工具使用
type MockTransport struct {
	Addr string

	mu      sync.Mutex
	packs   []*message.MessagePack
	closed  *atomic.Bool
	closes  *atomic.Int32
	WriteFn func(p *message.MessagePack) error
}

func NewMockTransport(addr string) *MockTransport {
	return &MockTransport{Addr: addr, closed: atomic.NewBool(false), closes: atomic.NewInt32(0)}
}

func (m *MockTransport) WritePack(p *message.MessagePack) error {
	if m.WriteFn != nil {
		if err := m.WriteFn(p); err != nil {
			return err
		}
	}
	m.mu.Lock()
	m.packs = append(m.packs, p)
	m.mu.Unlock()
	return nil
}

func (m *MockTransport) Close() {
	m.closes.Inc()
	m.closed.Store(true)
}

func (m *MockTransport) IsClosed() bool {
	return m.closed.Load()
}

func (m *MockTransport) RemoteAddr() string {
	return m.Addr
}

func (m *MockTransport) Closes() int {
	return int(m.closes.Load())
}

func (m *MockTransport) Packs() []*message.MessagePack {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*message.MessagePack(nil), m.packs...)
}

// Commands 按写出顺序返回命令字
func (m *MockTransport) Commands() []message.Command {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]message.Command, 0, len(m.packs))
	for _, p := range m.packs {
		out = append(out, p.Command)
	}
	return out
}
