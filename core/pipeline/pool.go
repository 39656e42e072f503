package pipeline

import (
	"errors"

	"gitee.com/Ljolan/si-im/logger"
	"github.com/panjf2000/ants/v2"
)

var ErrPoolOverload = errors.New("pipeline: worker pool overload")

// Pool 业务协程池，非阻塞提交，满了直接返回 ErrPoolOverload 由调用方回失败确认
type Pool struct {
	p *ants.Pool
}

func NewPool(size int) (*Pool, error) {
	p, err := ants.NewPool(size, ants.WithPanicHandler(func(i interface{}) {
		logger.Logger.Errorf("协程池处理错误：%v", i)
	}), ants.WithNonblocking(true), ants.WithPreAlloc(false))
	if err != nil {
		return nil, err
	}
	return &Pool{p: p}, nil
}

func (p *Pool) Submit(f func()) error {
	err := p.p.Submit(f)
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, ants.ErrPoolOverload):
		return ErrPoolOverload
	case errors.Is(err, ants.ErrPoolClosed):
		logger.Logger.Errorf("协程池已关闭：%v", err)
		return err
	default:
		logger.Logger.Errorf("协程池处理异常：%v", err)
		return err
	}
}

func (p *Pool) Running() int {
	return p.p.Running()
}

func (p *Pool) Cap() int {
	return p.p.Cap()
}

func (p *Pool) Release() {
	p.p.Release()
}
