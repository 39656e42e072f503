package pipeline

import (
	"context"

	"gitee.com/Ljolan/si-im/core/bus"
	"gitee.com/Ljolan/si-im/core/message"
	"gitee.com/Ljolan/si-im/logger"
)

// Consumer 消费单聊与群聊两个业务域的上行队列
type Consumer struct {
	P2P     *P2PService
	Group   *GroupService
	Receipt *ReceiptService
}

func NewConsumer(d *Deps) *Consumer {
	return &Consumer{
		P2P:     NewP2PService(d),
		Group:   NewGroupService(d),
		Receipt: NewReceiptService(d),
	}
}

func (c *Consumer) Handle(ctx context.Context, env *bus.Envelope) {
	switch env.Command {
	case message.MsgP2P:
		c.P2P.Process(ctx, env)
	case message.MsgGroup:
		c.Group.Process(ctx, env)
	case message.MsgReceiveAck:
		c.Receipt.ReceiveAck(ctx, env)
	case message.MsgReaded:
		c.Receipt.Readed(ctx, env)
	case message.MsgGroupReaded:
		c.Receipt.GroupReaded(ctx, env)
	default:
		logger.Logger.Debugf("pipeline: ignore %s from %d:%s", env.Command, env.AppId, env.UserId)
	}
}

// Start 订阅单聊和群聊两个队列
func (c *Consumer) Start(ctx context.Context, b bus.Bus) error {
	for _, q := range []string{message.DomainQueue(message.DomainMessage), message.DomainQueue(message.DomainGroup)} {
		if err := b.ConsumeUpstream(ctx, q, c.Handle); err != nil {
			return err
		}
	}
	return nil
}
