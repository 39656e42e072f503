package dispatch

import (
	"context"
	"encoding/json"

	"gitee.com/Ljolan/si-im/core/auth"
	"gitee.com/Ljolan/si-im/core/bus"
	"gitee.com/Ljolan/si-im/core/login"
	"gitee.com/Ljolan/si-im/core/message"
	"gitee.com/Ljolan/si-im/core/registry"
	"gitee.com/Ljolan/si-im/core/router"
	"gitee.com/Ljolan/si-im/logger"
	"gitee.com/Ljolan/si-im/store"
)

type Handler interface {
	Handle(ctx context.Context, c *registry.Connection, msg *message.Message)
}

type HandlerFunc func(ctx context.Context, c *registry.Connection, msg *message.Message)

func (f HandlerFunc) Handle(ctx context.Context, c *registry.Connection, msg *message.Message) {
	f(ctx, c, msg)
}

type Options struct {
	BrokerId      string
	LoginModel    login.Model
	SyncMaxCount  int
	Registry      *registry.Registry
	Router        *router.Router
	Sessions      store.SessionStore
	Offline       store.OfflineQueue
	Bus           bus.Bus
	Authenticator auth.Authenticator
	Authorizer    auth.Authorizer
}

// Dispatcher 按指令字分发上行报文，处理表只在创建时构建。
// 未登记的指令原样转发到所属业务域队列
type Dispatcher struct {
	opts     Options
	handlers map[message.Command]Handler
}

func New(opts Options) *Dispatcher {
	d := &Dispatcher{opts: opts}
	d.handlers = map[message.Command]Handler{
		message.Ping:           HandlerFunc(d.ping),
		message.Login:          HandlerFunc(d.login),
		message.Logout:         HandlerFunc(d.logout),
		message.MsgP2P:         HandlerFunc(d.checkSend),
		message.MsgGroup:       HandlerFunc(d.checkSend),
		message.MsgSyncOffline: HandlerFunc(d.syncOffline),
	}
	return d
}

// 无需登录即可发送的指令
var anonymous = map[message.Command]bool{
	message.Login: true,
	message.Ping:  true,
}

// ackCommand 失败回执使用的指令字
func ackCommand(cmd message.Command) message.Command {
	switch cmd {
	case message.Login:
		return message.LoginAck
	case message.MsgP2P:
		return message.MsgAck
	case message.MsgGroup:
		return message.GroupMsgAck
	case message.MsgSyncOffline:
		return message.MsgSyncOfflineAck
	default:
		return cmd
	}
}

func (d *Dispatcher) Dispatch(ctx context.Context, c *registry.Connection, msg *message.Message) {
	cmd := msg.Header.Command
	c.Touch()

	if _, bound := c.Identity(); !bound && !anonymous[cmd] {
		d.nack(c, cmd, message.ErrNotLoggedIn, nil)
		return
	}
	if cmd != message.Ping && c.Limited() {
		d.nack(c, cmd, message.ErrRateLimited, nil)
		return
	}
	if h, ok := d.handlers[cmd]; ok {
		h.Handle(ctx, c, msg)
		return
	}
	d.forward(ctx, c, msg)
}

func (d *Dispatcher) nack(c *registry.Connection, cmd message.Command, e *message.CodeError, data interface{}) {
	d.reply(c, ackCommand(cmd), message.FailWith(e, data))
}

func (d *Dispatcher) reply(c *registry.Connection, cmd message.Command, vo *message.ResponseVO) {
	if err := c.Write(message.NewPack(cmd, vo)); err != nil {
		logger.Logger.Warnf("reply %s to %s: %v", cmd, c, err)
	}
}

func (d *Dispatcher) ping(_ context.Context, c *registry.Connection, _ *message.Message) {
	c.Touch()
}

// forward 转发到业务域队列，附带发送连接的身份
func (d *Dispatcher) forward(ctx context.Context, c *registry.Connection, msg *message.Message) {
	cmd := msg.Header.Command
	queue := cmd.Queue()
	if queue == "" {
		logger.Logger.Warnf("no domain for %s from %s, dropped", cmd, c)
		return
	}
	if msg.IsUnparsed() {
		d.nack(c, cmd, message.ErrUnparsedBody, nil)
		return
	}
	id, _ := c.Identity()
	err := d.opts.Bus.PublishUpstream(ctx, queue, &bus.Envelope{
		Command:    cmd,
		AppId:      id.AppId,
		UserId:     id.UserId,
		ClientType: id.ClientType,
		Imei:       id.Imei,
		BrokerId:   d.opts.BrokerId,
		Data:       json.RawMessage(msg.Body),
	})
	if err != nil {
		logger.Logger.Errorf("forward %s from %s to %s: %v", cmd, id, queue, err)
		d.nack(c, cmd, message.ErrSystem, nil)
	}
}
