package router

import (
	"context"
	"encoding/json"
	"fmt"

	"gitee.com/Ljolan/si-im/core/bus"
	"gitee.com/Ljolan/si-im/core/message"
	"gitee.com/Ljolan/si-im/core/registry"
	"gitee.com/Ljolan/si-im/logger"
	"gitee.com/Ljolan/si-im/store"
)

// Router 按会话把下行消息投递到设备：本机连接直接写，其它 broker 上的会话通过总线转发
type Router struct {
	brokerId string
	reg      *registry.Registry
	sessions store.SessionStore
	bus      bus.Bus
}

func New(brokerId string, reg *registry.Registry, sessions store.SessionStore, b bus.Bus) *Router {
	return &Router{brokerId: brokerId, reg: reg, sessions: sessions, bus: b}
}

type target struct {
	id       registry.Identity
	conn     *registry.Connection
	brokerId string
}

// resolve 合并共享会话与本机连接，同一设备只出现一次，离线会话跳过
func (r *Router) resolve(ctx context.Context, appId int32, userId string) ([]target, error) {
	sessions, err := r.sessions.List(ctx, appId, userId)
	if err != nil {
		return nil, err
	}
	local := r.reg.GetConnectionsForUser(appId, userId)

	seen := make(map[string]struct{}, len(sessions)+len(local))
	out := make([]target, 0, len(sessions)+len(local))
	for _, c := range local {
		id, ok := c.Identity()
		if !ok {
			continue
		}
		seen[id.Key()] = struct{}{}
		out = append(out, target{id: id, conn: c, brokerId: r.brokerId})
	}
	for _, s := range sessions {
		if !s.Online() {
			continue
		}
		id := registry.FromSession(s)
		if _, dup := seen[id.Key()]; dup {
			continue
		}
		seen[id.Key()] = struct{}{}
		if s.BrokerId == r.brokerId {
			// 会话记录在本机但连接已不在，等待心跳或重连修正
			logger.Logger.Debugf("stale session %s on %s", id, r.brokerId)
			continue
		}
		out = append(out, target{id: id, brokerId: s.BrokerId})
	}
	return out, nil
}

func encode(data interface{}) (json.RawMessage, error) {
	switch d := data.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		return d, nil
	case []byte:
		return d, nil
	}
	b, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("router: encode payload: %w", err)
	}
	return b, nil
}

// send 写给单个目标，成功时返回 true
func (r *Router) send(ctx context.Context, t target, cmd message.Command, body json.RawMessage) bool {
	if t.conn != nil {
		if err := t.conn.Write(message.NewPack(cmd, body)); err != nil {
			logger.Logger.Warnf("write %s to %s: %v", cmd, t.id, err)
			return false
		}
		return true
	}
	err := r.bus.PublishToBroker(ctx, t.brokerId, &bus.Push{
		AppId:      t.id.AppId,
		UserId:     t.id.UserId,
		ClientType: t.id.ClientType,
		Imei:       t.id.Imei,
		Command:    cmd,
		Data:       body,
	})
	if err != nil {
		logger.Logger.Errorf("publish %s for %s to broker %s: %v", cmd, t.id, t.brokerId, err)
		return false
	}
	return true
}

// ToAllDevices 投递到用户的所有在线设备，返回投递成功的设备，空表示用户完全离线
func (r *Router) ToAllDevices(ctx context.Context, appId int32, userId string, cmd message.Command, data interface{}) ([]registry.Identity, error) {
	return r.fanout(ctx, appId, userId, cmd, data, nil)
}

// ToOtherDevices 投递到用户除 exclude 以外的在线设备，用于多端同步
func (r *Router) ToOtherDevices(ctx context.Context, appId int32, userId string, cmd message.Command, data interface{}, exclude registry.Identity) ([]registry.Identity, error) {
	return r.fanout(ctx, appId, userId, cmd, data, &exclude)
}

func (r *Router) fanout(ctx context.Context, appId int32, userId string, cmd message.Command, data interface{}, exclude *registry.Identity) ([]registry.Identity, error) {
	body, err := encode(data)
	if err != nil {
		return nil, err
	}
	targets, err := r.resolve(ctx, appId, userId)
	if err != nil {
		return nil, err
	}
	var live []registry.Identity
	for _, t := range targets {
		if exclude != nil && t.id == *exclude {
			continue
		}
		if r.send(ctx, t, cmd, body) {
			live = append(live, t.id)
		}
	}
	return live, nil
}

// ToSpecificDevice 只投递给指定设备，设备不在线时什么都不做
func (r *Router) ToSpecificDevice(ctx context.Context, id registry.Identity, cmd message.Command, data interface{}) (bool, error) {
	body, err := encode(data)
	if err != nil {
		return false, err
	}
	if c := r.reg.GetConnection(id); c != nil {
		return r.send(ctx, target{id: id, conn: c, brokerId: r.brokerId}, cmd, body), nil
	}
	s, err := r.sessions.Get(ctx, id.AppId, id.UserId, id.ClientType, id.Imei)
	if err != nil {
		return false, err
	}
	if s == nil || !s.Online() || s.BrokerId == r.brokerId {
		return false, nil
	}
	return r.send(ctx, target{id: id, brokerId: s.BrokerId}, cmd, body), nil
}

// Deliver 消费本 broker 频道上的推送，只写本机连接
func (r *Router) Deliver(_ context.Context, p *bus.Push) {
	id := registry.Identity{AppId: p.AppId, UserId: p.UserId, ClientType: p.ClientType, Imei: p.Imei}
	c := r.reg.GetConnection(id)
	if c == nil {
		logger.Logger.Debugf("push %s for %s dropped, not connected here", p.Command, id)
		return
	}
	if err := c.Write(message.NewPack(p.Command, p.Data)); err != nil {
		logger.Logger.Warnf("deliver %s to %s: %v", p.Command, id, err)
	}
}
