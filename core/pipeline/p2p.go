package pipeline

import (
	"context"
	"encoding/json"

	"gitee.com/Ljolan/si-im/core/bus"
	"gitee.com/Ljolan/si-im/core/message"
	"gitee.com/Ljolan/si-im/logger"
	"gitee.com/Ljolan/si-im/store"
)

// P2PService 单聊消息处理
type P2PService struct {
	*Deps
}

func NewP2PService(d *Deps) *P2PService {
	return &P2PService{Deps: d}
}

// Process 处理一条单聊消息。
// 同一个 messageId 在缓存有效期内重复到达时不再分配序号和持久化，只重新回执和投递；
// 第一份还在处理中时重复到达的直接丢弃
func (s *P2PService) Process(ctx context.Context, env *bus.Envelope) {
	c := &message.MessageContent{}
	if err := json.Unmarshal(env.Data, c); err != nil {
		logger.Logger.Warnf("p2p: bad content from %s: %v", sender(env), err)
		s.nack(ctx, env, message.MsgAck, message.ErrParam, "")
		return
	}
	stamp(c, env)

	cached, ok := s.admit(ctx, c.AppId, c.MessageId)
	if !ok {
		return
	}
	if cached != nil {
		dup := &message.MessageContent{}
		if err := json.Unmarshal(cached, dup); err != nil {
			logger.Logger.Errorf("p2p: broken cache of %s: %v", c.MessageId, err)
			s.nack(ctx, env, message.MsgAck, message.ErrSystem, c.MessageId)
			return
		}
		logger.Logger.Debugf("p2p: duplicate message %s, resend ack", c.MessageId)
		s.submit(ctx, env, dup, true)
		return
	}

	if ce := s.beforeSend(ctx, env); ce != nil {
		s.forget(ctx, c.AppId, c.MessageId)
		s.nack(ctx, env, message.MsgAck, ce, c.MessageId)
		return
	}

	seq, err := s.Sequencer.Next(ctx, c.AppId, store.P2PScope(c.FromId, c.ToId))
	if err != nil {
		logger.Logger.Errorf("p2p: next sequence: %v", err)
		s.forget(ctx, c.AppId, c.MessageId)
		s.nack(ctx, env, message.MsgAck, message.ErrSystem, c.MessageId)
		return
	}
	c.MessageSequence = seq
	c.MessageKey = s.Keys.Next()
	s.submit(ctx, env, c, false)
}

func (s *P2PService) submit(ctx context.Context, env *bus.Envelope, c *message.MessageContent, dup bool) {
	err := s.Pool.Submit(func() {
		s.deliver(ctx, env, c, dup)
	})
	if err != nil {
		logger.Logger.Warnf("p2p: submit %s: %v", c.MessageId, err)
		if !dup {
			s.forget(ctx, c.AppId, c.MessageId)
		}
		s.nack(ctx, env, message.MsgAck, message.ErrPoolOverload, c.MessageId)
	}
}

func (s *P2PService) deliver(ctx context.Context, env *bus.Envelope, c *message.MessageContent, dup bool) {
	var payload []byte
	if !dup {
		if err := s.persist(ctx, c, ""); err != nil {
			logger.Logger.Errorf("p2p: persist %s: %v", c.MessageId, err)
			s.forget(ctx, c.AppId, c.MessageId)
			s.nack(ctx, env, message.MsgAck, message.ErrSystem, c.MessageId)
			return
		}
		var err error
		if payload, err = json.Marshal(c); err != nil {
			logger.Logger.Errorf("p2p: marshal %s: %v", c.MessageId, err)
			s.forget(ctx, c.AppId, c.MessageId)
			return
		}
		s.appendOffline(ctx, c.AppId, c.ToId, payload, c.MessageKey)
		s.appendOffline(ctx, c.AppId, c.FromId, payload, c.MessageKey)
	}

	from := sender(env)
	s.toSender(ctx, env, message.MsgAck, message.Success(&message.ChatMessageAck{
		MessageId:       c.MessageId,
		MessageSequence: c.MessageSequence,
	}))
	if _, err := s.Router.ToOtherDevices(ctx, c.AppId, c.FromId, message.MsgP2P, c, from); err != nil {
		logger.Logger.Errorf("p2p: sync to other devices of %s: %v", c.FromId, err)
	}
	live, err := s.Router.ToAllDevices(ctx, c.AppId, c.ToId, message.MsgP2P, c)
	if err != nil {
		logger.Logger.Errorf("p2p: deliver to %s: %v", c.ToId, err)
	}
	if len(live) == 0 {
		// 接收方没有在线设备，由服务端代发送达回执
		ack := &message.MessageReceiveAckContent{
			ClientInfo:      c.ClientInfo,
			FromId:          c.ToId,
			ToId:            c.FromId,
			MessageId:       c.MessageId,
			MessageKey:      c.MessageKey,
			MessageSequence: c.MessageSequence,
			ServerSend:      true,
		}
		if _, err = s.Router.ToSpecificDevice(ctx, from, message.MsgReceiveAck, ack); err != nil {
			logger.Logger.Errorf("p2p: server receive ack to %s: %v", from, err)
		}
	}

	if dup {
		return
	}
	if err = s.Dedup.Remember(ctx, c.AppId, c.MessageId, payload); err != nil {
		logger.Logger.Errorf("p2p: remember %s: %v", c.MessageId, err)
	}
	s.afterSend(ctx, env, payload)
}
