package pipeline

import (
	"context"
	"encoding/json"

	"gitee.com/Ljolan/si-im/core/bus"
	"gitee.com/Ljolan/si-im/core/message"
	"gitee.com/Ljolan/si-im/logger"
)

// ReceiptService 送达和已读回执，只做转发，不持久化
type ReceiptService struct {
	*Deps
}

func NewReceiptService(d *Deps) *ReceiptService {
	return &ReceiptService{Deps: d}
}

// ReceiveAck 接收方确认收到，转发给原发送方的所有设备
func (s *ReceiptService) ReceiveAck(ctx context.Context, env *bus.Envelope) {
	c := &message.MessageReceiveAckContent{}
	if err := json.Unmarshal(env.Data, c); err != nil {
		logger.Logger.Warnf("receipt: bad receive ack from %s: %v", sender(env), err)
		return
	}
	c.ClientInfo = message.ClientInfo{AppId: env.AppId, ClientType: env.ClientType, Imei: env.Imei}
	c.FromId = env.UserId
	c.ServerSend = false
	if _, err := s.Router.ToAllDevices(ctx, c.AppId, c.ToId, message.MsgReceiveAck, c); err != nil {
		logger.Logger.Errorf("receipt: receive ack to %s: %v", c.ToId, err)
	}
}

// Readed 已读上报：同步给自己的其它设备，再通知对方
func (s *ReceiptService) Readed(ctx context.Context, env *bus.Envelope) {
	c, ok := s.readed(env)
	if !ok {
		return
	}
	c.ConversationType = message.ConversationP2P
	if _, err := s.Router.ToOtherDevices(ctx, c.AppId, c.FromId, message.MsgReadedNotify, c, sender(env)); err != nil {
		logger.Logger.Errorf("receipt: readed notify of %s: %v", c.FromId, err)
	}
	if _, err := s.Router.ToAllDevices(ctx, c.AppId, c.ToId, message.MsgReadedReceipt, c); err != nil {
		logger.Logger.Errorf("receipt: readed receipt to %s: %v", c.ToId, err)
	}
}

// GroupReaded 群已读：同步自己的其它设备，回执给消息作者
func (s *ReceiptService) GroupReaded(ctx context.Context, env *bus.Envelope) {
	c, ok := s.readed(env)
	if !ok {
		return
	}
	c.ConversationType = message.ConversationGroup
	if _, err := s.Router.ToOtherDevices(ctx, c.AppId, c.FromId, message.MsgGroupReadedNotify, c, sender(env)); err != nil {
		logger.Logger.Errorf("receipt: group readed notify of %s: %v", c.FromId, err)
	}
	if c.ToId == "" || c.ToId == c.FromId {
		return
	}
	if _, err := s.Router.ToAllDevices(ctx, c.AppId, c.ToId, message.MsgReadedReceipt, c); err != nil {
		logger.Logger.Errorf("receipt: group readed receipt to %s: %v", c.ToId, err)
	}
}

func (s *ReceiptService) readed(env *bus.Envelope) (*message.MessageReadedContent, bool) {
	c := &message.MessageReadedContent{}
	if err := json.Unmarshal(env.Data, c); err != nil {
		logger.Logger.Warnf("receipt: bad readed from %s: %v", sender(env), err)
		return nil, false
	}
	c.ClientInfo = message.ClientInfo{AppId: env.AppId, ClientType: env.ClientType, Imei: env.Imei}
	c.FromId = env.UserId
	return c, true
}
