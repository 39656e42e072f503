package pipeline

import (
	"context"
	"encoding/json"
	"time"

	"gitee.com/Ljolan/si-im/core/auth"
	"gitee.com/Ljolan/si-im/core/bus"
	"gitee.com/Ljolan/si-im/core/message"
	"gitee.com/Ljolan/si-im/core/registry"
	"gitee.com/Ljolan/si-im/core/router"
	"gitee.com/Ljolan/si-im/logger"
	"gitee.com/Ljolan/si-im/store"
)

// KeyGenerator 生成全局唯一的 messageKey
type KeyGenerator interface {
	Next() int64
}

// Deps 单聊与群聊流程共用的依赖
type Deps struct {
	Router    *router.Router
	Pool      *Pool
	Sequencer store.Sequencer
	Dedup     store.DedupCache
	Offline   store.OfflineQueue
	History   store.HistoryStore
	Members   store.GroupMemberStore
	Callback  auth.Callback
	Keys      KeyGenerator
}

func sender(env *bus.Envelope) registry.Identity {
	return registry.Identity{AppId: env.AppId, UserId: env.UserId, ClientType: env.ClientType, Imei: env.Imei}
}

// toSender 回执只发给发出消息的那台设备
func (d *Deps) toSender(ctx context.Context, env *bus.Envelope, cmd message.Command, vo *message.ResponseVO) {
	if _, err := d.Router.ToSpecificDevice(ctx, sender(env), cmd, vo); err != nil {
		logger.Logger.Errorf("ack %s to %s: %v", cmd, sender(env), err)
	}
}

func (d *Deps) nack(ctx context.Context, env *bus.Envelope, cmd message.Command, e *message.CodeError, messageId string) {
	d.toSender(ctx, env, cmd, message.FailWith(e, &message.ChatMessageAck{MessageId: messageId}))
}

// admit 去重入口。
// 已处理过返回缓存内容；新消息占位成功返回 (nil, true)；
// 同一条消息正在处理中返回 (nil, false)，调用方直接丢弃，发送方会收到第一条的回执
func (d *Deps) admit(ctx context.Context, appId int32, messageId string) ([]byte, bool) {
	cached, err := d.Dedup.Recall(ctx, appId, messageId)
	if err != nil {
		logger.Logger.Errorf("recall %s: %v", messageId, err)
		return nil, true
	}
	if cached == nil {
		reserved, err := d.Dedup.Reserve(ctx, appId, messageId)
		if err != nil {
			logger.Logger.Errorf("reserve %s: %v", messageId, err)
			return nil, true
		}
		if reserved {
			return nil, true
		}
		// 被同时到达的另一份抢先占位，或者它刚好处理完
		if cached, err = d.Dedup.Recall(ctx, appId, messageId); err != nil {
			logger.Logger.Errorf("recall %s: %v", messageId, err)
			return nil, false
		}
	}
	if cached == nil || store.IsPending(cached) {
		logger.Logger.Debugf("message %s in flight, duplicate dropped", messageId)
		return nil, false
	}
	return cached, true
}

// forget 处理失败时撤销占位，客户端重发可以重新处理
func (d *Deps) forget(ctx context.Context, appId int32, messageId string) {
	if err := d.Dedup.Forget(ctx, appId, messageId); err != nil {
		logger.Logger.Errorf("forget %s: %v", messageId, err)
	}
}

// beforeSend 持久化前的业务回调，拒绝时返回错误码
func (d *Deps) beforeSend(ctx context.Context, env *bus.Envelope) *message.CodeError {
	err := d.Callback.BeforeSend(ctx, &auth.CallbackReq{AppId: env.AppId, Command: env.Command, Data: env.Data})
	if err == nil {
		return nil
	}
	if ce, ok := err.(*message.CodeError); ok {
		return ce
	}
	return message.ErrSystem
}

func (d *Deps) afterSend(ctx context.Context, env *bus.Envelope, data json.RawMessage) {
	d.Callback.AfterSend(ctx, &auth.CallbackReq{AppId: env.AppId, Command: env.Command, Data: data})
}

// appendOffline 写入离线队列，队列满时淘汰最旧的消息
func (d *Deps) appendOffline(ctx context.Context, appId int32, userId string, payload []byte, key int64) {
	evicted, err := d.Offline.Append(ctx, appId, userId, payload, key)
	if err != nil {
		logger.Logger.Errorf("append offline for %s: %v", userId, err)
		return
	}
	if evicted > 0 {
		logger.Logger.Debugf("offline queue of %d:%s full, evicted %d oldest", appId, userId, evicted)
	}
}

func (d *Deps) persist(ctx context.Context, c *message.MessageContent, groupId string) error {
	return d.History.Save(ctx, &store.HistoryRecord{
		AppId:       c.AppId,
		MessageKey:  c.MessageKey,
		MessageId:   c.MessageId,
		FromId:      c.FromId,
		ToId:        c.ToId,
		GroupId:     groupId,
		MessageBody: c.MessageBody,
		Sequence:    c.MessageSequence,
		MessageTime: c.MessageTime,
		Extra:       string(c.Extra),
		CreateTime:  time.Now().UnixNano() / int64(time.Millisecond),
	})
}

func stamp(c *message.MessageContent, env *bus.Envelope) {
	c.AppId = env.AppId
	c.ClientType = env.ClientType
	c.Imei = env.Imei
	c.FromId = env.UserId
	if c.MessageTime == 0 {
		c.MessageTime = time.Now().UnixNano() / int64(time.Millisecond)
	}
}
