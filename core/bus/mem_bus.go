package bus

import (
	"context"
	"sync"

	"gitee.com/Ljolan/si-im/logger"
	"gitee.com/Ljolan/si-im/utils/runtimex"
)

const memQueueSize = 1024

// MemBus 单进程部署使用，队列与频道都是带缓冲的 channel
type MemBus struct {
	mu      sync.Mutex
	queues  map[string]chan *Envelope
	brokers map[string]chan *Push
	quit    chan struct{}
	once    sync.Once
	wg      sync.WaitGroup
}

func NewMemBus() *MemBus {
	return &MemBus{
		queues:  make(map[string]chan *Envelope),
		brokers: make(map[string]chan *Push),
		quit:    make(chan struct{}),
	}
}

func (m *MemBus) queue(name string) chan *Envelope {
	m.mu.Lock()
	defer m.mu.Unlock()
	q, ok := m.queues[name]
	if !ok {
		q = make(chan *Envelope, memQueueSize)
		m.queues[name] = q
	}
	return q
}

func (m *MemBus) broker(id string) chan *Push {
	m.mu.Lock()
	defer m.mu.Unlock()
	q, ok := m.brokers[id]
	if !ok {
		q = make(chan *Push, memQueueSize)
		m.brokers[id] = q
	}
	return q
}

func (m *MemBus) closed() bool {
	select {
	case <-m.quit:
		return true
	default:
		return false
	}
}

// PublishUpstream 不阻塞调用方（通常是连接的读协程），队列满时返回 ErrQueueFull
func (m *MemBus) PublishUpstream(_ context.Context, queue string, env *Envelope) error {
	if m.closed() {
		return ErrClosed
	}
	select {
	case m.queue(queue) <- env:
		return nil
	case <-m.quit:
		return ErrClosed
	default:
		return ErrQueueFull
	}
}

func (m *MemBus) ConsumeUpstream(ctx context.Context, queue string, h Handler) error {
	if m.closed() {
		return ErrClosed
	}
	q := m.queue(queue)
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		for {
			select {
			case env := <-q:
				func() {
					defer runtimex.Recover()
					h(ctx, env)
				}()
			case <-ctx.Done():
				return
			case <-m.quit:
				return
			}
		}
	}()
	logger.Logger.Debugf("mem bus consume %s", queue)
	return nil
}

func (m *MemBus) PublishToBroker(_ context.Context, brokerId string, p *Push) error {
	if m.closed() {
		return ErrClosed
	}
	select {
	case m.broker(brokerId) <- p:
		return nil
	case <-m.quit:
		return ErrClosed
	default:
		return ErrQueueFull
	}
}

func (m *MemBus) SubscribeBroker(ctx context.Context, brokerId string, h PushHandler) error {
	if m.closed() {
		return ErrClosed
	}
	q := m.broker(brokerId)
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		for {
			select {
			case p := <-q:
				func() {
					defer runtimex.Recover()
					h(ctx, p)
				}()
			case <-ctx.Done():
				return
			case <-m.quit:
				return
			}
		}
	}()
	return nil
}

func (m *MemBus) Close() error {
	m.once.Do(func() { close(m.quit) })
	m.wg.Wait()
	return nil
}
