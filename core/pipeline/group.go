package pipeline

import (
	"context"
	"encoding/json"

	"gitee.com/Ljolan/si-im/core/bus"
	"gitee.com/Ljolan/si-im/core/message"
	"gitee.com/Ljolan/si-im/logger"
	"gitee.com/Ljolan/si-im/store"
)

// GroupService 群聊消息处理，成员列表在真正投递时读取
type GroupService struct {
	*Deps
}

func NewGroupService(d *Deps) *GroupService {
	return &GroupService{Deps: d}
}

func (s *GroupService) Process(ctx context.Context, env *bus.Envelope) {
	c := &message.GroupChatMessageContent{}
	if err := json.Unmarshal(env.Data, c); err != nil || c.GroupId == "" {
		logger.Logger.Warnf("group: bad content from %s: %v", sender(env), err)
		s.nack(ctx, env, message.GroupMsgAck, message.ErrParam, c.MessageId)
		return
	}
	stamp(&c.MessageContent, env)

	cached, ok := s.admit(ctx, c.AppId, c.MessageId)
	if !ok {
		return
	}
	if cached != nil {
		dup := &message.GroupChatMessageContent{}
		if err := json.Unmarshal(cached, dup); err != nil {
			logger.Logger.Errorf("group: broken cache of %s: %v", c.MessageId, err)
			s.nack(ctx, env, message.GroupMsgAck, message.ErrSystem, c.MessageId)
			return
		}
		logger.Logger.Debugf("group: duplicate message %s, resend ack", c.MessageId)
		s.submit(ctx, env, dup, true)
		return
	}

	if ce := s.beforeSend(ctx, env); ce != nil {
		s.forget(ctx, c.AppId, c.MessageId)
		s.nack(ctx, env, message.GroupMsgAck, ce, c.MessageId)
		return
	}

	seq, err := s.Sequencer.Next(ctx, c.AppId, store.GroupScope(c.GroupId))
	if err != nil {
		logger.Logger.Errorf("group: next sequence: %v", err)
		s.forget(ctx, c.AppId, c.MessageId)
		s.nack(ctx, env, message.GroupMsgAck, message.ErrSystem, c.MessageId)
		return
	}
	c.MessageSequence = seq
	c.MessageKey = s.Keys.Next()
	s.submit(ctx, env, c, false)
}

func (s *GroupService) submit(ctx context.Context, env *bus.Envelope, c *message.GroupChatMessageContent, dup bool) {
	err := s.Pool.Submit(func() {
		s.deliver(ctx, env, c, dup)
	})
	if err != nil {
		logger.Logger.Warnf("group: submit %s: %v", c.MessageId, err)
		if !dup {
			s.forget(ctx, c.AppId, c.MessageId)
		}
		s.nack(ctx, env, message.GroupMsgAck, message.ErrPoolOverload, c.MessageId)
	}
}

func (s *GroupService) deliver(ctx context.Context, env *bus.Envelope, c *message.GroupChatMessageContent, dup bool) {
	members, err := s.Members.Members(ctx, c.AppId, c.GroupId)
	if err != nil {
		logger.Logger.Errorf("group: members of %s: %v", c.GroupId, err)
		if !dup {
			s.forget(ctx, c.AppId, c.MessageId)
		}
		s.nack(ctx, env, message.GroupMsgAck, message.ErrSystem, c.MessageId)
		return
	}

	var payload []byte
	if !dup {
		if err = s.persist(ctx, &c.MessageContent, c.GroupId); err != nil {
			logger.Logger.Errorf("group: persist %s: %v", c.MessageId, err)
			s.forget(ctx, c.AppId, c.MessageId)
			s.nack(ctx, env, message.GroupMsgAck, message.ErrSystem, c.MessageId)
			return
		}
		if payload, err = json.Marshal(c); err != nil {
			logger.Logger.Errorf("group: marshal %s: %v", c.MessageId, err)
			s.forget(ctx, c.AppId, c.MessageId)
			return
		}
		for _, m := range members {
			s.appendOffline(ctx, c.AppId, m, payload, c.MessageKey)
		}
	}

	from := sender(env)
	s.toSender(ctx, env, message.GroupMsgAck, message.Success(&message.ChatMessageAck{
		MessageId:       c.MessageId,
		MessageSequence: c.MessageSequence,
	}))
	if _, err = s.Router.ToOtherDevices(ctx, c.AppId, c.FromId, message.MsgGroup, c, from); err != nil {
		logger.Logger.Errorf("group: sync to other devices of %s: %v", c.FromId, err)
	}
	for _, m := range members {
		if m == c.FromId {
			continue
		}
		if _, err = s.Router.ToAllDevices(ctx, c.AppId, m, message.MsgGroup, c); err != nil {
			logger.Logger.Errorf("group: deliver %s to %s: %v", c.MessageId, m, err)
		}
	}

	if dup {
		return
	}
	if err = s.Dedup.Remember(ctx, c.AppId, c.MessageId, payload); err != nil {
		logger.Logger.Errorf("group: remember %s: %v", c.MessageId, err)
	}
	s.afterSend(ctx, env, payload)
}
