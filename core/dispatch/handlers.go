package dispatch

import (
	"context"
	"encoding/json"
	"errors"

	"gitee.com/Ljolan/si-im/core/auth"
	"gitee.com/Ljolan/si-im/core/consts"
	"gitee.com/Ljolan/si-im/core/login"
	"gitee.com/Ljolan/si-im/core/message"
	"gitee.com/Ljolan/si-im/core/registry"
	"gitee.com/Ljolan/si-im/logger"
)

func (d *Dispatcher) login(ctx context.Context, c *registry.Connection, msg *message.Message) {
	pack := &message.LoginPack{}
	if err := msg.Unmarshal(pack); err != nil {
		d.nack(c, msg.Header.Command, message.ErrParam, nil)
		return
	}
	h := msg.Header
	if !h.ClientType.Valid() || h.Imei == "" {
		d.nack(c, msg.Header.Command, message.ErrParam, nil)
		return
	}
	info := &message.ClientInfo{AppId: h.AppId, ClientType: h.ClientType, Imei: h.Imei}
	if err := d.opts.Authenticator.Authenticate(ctx, info, pack); err != nil {
		logger.Logger.Infof("login rejected %s from %s: %v", pack.UserId, c.RemoteAddr(), err)
		d.nack(c, msg.Header.Command, message.ErrDenied, nil)
		return
	}

	id := registry.Identity{AppId: h.AppId, UserId: pack.UserId, ClientType: h.ClientType, Imei: h.Imei}
	if _, err := d.opts.Registry.Bind(ctx, id, c); err != nil {
		if errors.Is(err, registry.ErrConnectionClosed) {
			return
		}
		logger.Logger.Errorf("bind %s: %v", id, err)
		d.nack(c, msg.Header.Command, message.ErrSystem, nil)
		return
	}
	d.reply(c, message.LoginAck, message.Success(&message.LoginAckPack{UserId: pack.UserId, BrokerId: d.opts.BrokerId}))
	logger.Logger.Infof("login %s from %s", id, c.RemoteAddr())

	d.kick(ctx, id)
}

// kick 按多端策略通知需要下线的其它设备，由客户端收到通知后自行退出
func (d *Dispatcher) kick(ctx context.Context, id registry.Identity) {
	sessions, err := d.opts.Sessions.List(ctx, id.AppId, id.UserId)
	if err != nil {
		logger.Logger.Errorf("list sessions of %s: %v", id, err)
		return
	}
	existing := make([]registry.Identity, 0, len(sessions))
	for _, s := range sessions {
		if s.Online() {
			existing = append(existing, registry.FromSession(s))
		}
	}
	notice := &message.MutualLoginPack{ClientType: id.ClientType, Imei: id.Imei}
	for _, old := range login.Resolve(d.opts.LoginModel, id, existing) {
		if _, err = d.opts.Router.ToSpecificDevice(ctx, old, message.MutualLogin, notice); err != nil {
			logger.Logger.Errorf("notify %s to step down: %v", old, err)
		}
	}
}

func (d *Dispatcher) logout(ctx context.Context, c *registry.Connection, _ *message.Message) {
	if err := d.opts.Registry.Logout(ctx, c); err != nil {
		logger.Logger.Errorf("logout %s: %v", c, err)
	}
}

// checkSend 发送前同步校验权限，拒绝或超时时给发送方回失败确认，不再转发
func (d *Dispatcher) checkSend(ctx context.Context, c *registry.Connection, msg *message.Message) {
	cmd := msg.Header.Command
	if msg.IsUnparsed() {
		d.nack(c, cmd, message.ErrUnparsedBody, nil)
		return
	}
	content := &message.GroupChatMessageContent{}
	if err := msg.Unmarshal(content); err != nil {
		d.nack(c, cmd, message.ErrParam, nil)
		return
	}
	id, _ := c.Identity()
	req := &auth.AuthorizeReq{AppId: id.AppId, FromId: id.UserId, ToId: content.ToId, Command: cmd}
	if cmd == message.MsgGroup {
		req.ToId = content.GroupId
	}
	ack := &message.ChatMessageAck{MessageId: content.MessageId}
	if content.MessageId == "" || req.ToId == "" {
		d.nack(c, cmd, message.ErrParam, ack)
		return
	}
	if err := d.opts.Authorizer.Authorize(ctx, req); err != nil {
		var ce *message.CodeError
		if !errors.As(err, &ce) {
			ce = message.ErrAuthTimeout
		}
		d.nack(c, cmd, ce, ack)
		return
	}
	d.forward(ctx, c, msg)
}

func (d *Dispatcher) syncOffline(ctx context.Context, c *registry.Connection, msg *message.Message) {
	req := &message.SyncOfflineReq{}
	if err := msg.Unmarshal(req); err != nil {
		d.nack(c, msg.Header.Command, message.ErrParam, nil)
		return
	}
	limit := d.opts.SyncMaxCount
	if limit <= 0 {
		limit = consts.SyncMaxCount
	}
	if req.MaxLimit > 0 && req.MaxLimit < int64(limit) {
		limit = int(req.MaxLimit)
	}
	id, _ := c.Identity()
	entries, maxScore, err := d.opts.Offline.ReadRange(ctx, id.AppId, id.UserId, req.LastSequence, limit)
	if err != nil {
		logger.Logger.Errorf("read offline of %s: %v", id, err)
		d.nack(c, msg.Header.Command, message.ErrSystem, nil)
		return
	}
	resp := &message.SyncOfflineResp{
		MaxSequence: maxScore,
		Completed:   len(entries) < limit,
		DataList:    make([]json.RawMessage, 0, len(entries)),
	}
	if maxScore == 0 {
		resp.MaxSequence = req.LastSequence
	}
	for _, e := range entries {
		resp.DataList = append(resp.DataList, e.Payload)
	}
	d.reply(c, message.MsgSyncOfflineAck, message.Success(resp))
}
