package router

import (
	"context"
	"testing"
	"time"

	"gitee.com/Ljolan/si-im/core/bus"
	"gitee.com/Ljolan/si-im/core/message"
	"gitee.com/Ljolan/si-im/core/registry"
	"gitee.com/Ljolan/si-im/store"
	"gitee.com/Ljolan/si-im/store/memimpl"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	reg      *registry.Registry
	sessions store.SessionStore
	bus      *bus.MemBus
	router   *Router
	remote   chan *bus.Push
}

func newFixture(t *testing.T) *fixture {
	ss := memimpl.NewMemSessionStore()
	b := bus.NewMemBus()
	t.Cleanup(func() { _ = b.Close() })
	reg := registry.New(registry.Options{BrokerId: "node-1", Sessions: ss, Async: func(f func()) { f() }})
	f := &fixture{reg: reg, sessions: ss, bus: b, router: New("node-1", reg, ss, b), remote: make(chan *bus.Push, 16)}
	require.NoError(t, b.SubscribeBroker(context.Background(), "node-2", func(_ context.Context, p *bus.Push) {
		f.remote <- p
	}))
	return f
}

func (f *fixture) bind(t *testing.T, id registry.Identity) *registry.MockTransport {
	tr := registry.NewMockTransport(id.Imei)
	c := f.reg.Add(tr)
	_, err := f.reg.Bind(context.Background(), id, c)
	require.NoError(t, err)
	return tr
}

func (f *fixture) remoteSession(t *testing.T, id registry.Identity, state message.ConnectState) {
	require.NoError(t, f.sessions.Save(context.Background(), &store.Session{
		AppId: id.AppId, UserId: id.UserId, ClientType: id.ClientType, Imei: id.Imei,
		ConnectState: state, BrokerId: "node-2",
	}))
}

func (f *fixture) drainRemote() []*bus.Push {
	var out []*bus.Push
	for {
		select {
		case p := <-f.remote:
			out = append(out, p)
		case <-time.After(100 * time.Millisecond):
			return out
		}
	}
}

var (
	phone   = registry.Identity{AppId: 1, UserId: "bob", ClientType: message.Android, Imei: "phone"}
	desktop = registry.Identity{AppId: 1, UserId: "bob", ClientType: message.Mac, Imei: "mac"}
	web     = registry.Identity{AppId: 1, UserId: "bob", ClientType: message.Web, Imei: "web"}
)

func TestToAllDevicesOffline(t *testing.T) {
	f := newFixture(t)
	live, err := f.router.ToAllDevices(context.Background(), 1, "nobody", message.MsgP2P, map[string]string{"a": "b"})
	require.NoError(t, err)
	require.Empty(t, live)

	// 离线会话不计入
	f.remoteSession(t, web, message.Offline)
	live, err = f.router.ToAllDevices(context.Background(), 1, "bob", message.MsgP2P, nil)
	require.NoError(t, err)
	require.Empty(t, live)
	require.Empty(t, f.drainRemote())
}

func TestToAllDevicesLocalAndRemote(t *testing.T) {
	f := newFixture(t)
	trPhone := f.bind(t, phone)
	trDesktop := f.bind(t, desktop)
	f.remoteSession(t, web, message.Online)

	live, err := f.router.ToAllDevices(context.Background(), 1, "bob", message.MsgP2P, map[string]string{"messageId": "m1"})
	require.NoError(t, err)
	require.ElementsMatch(t, []registry.Identity{phone, desktop, web}, live)

	require.Equal(t, []message.Command{message.MsgP2P}, trPhone.Commands())
	require.Equal(t, []message.Command{message.MsgP2P}, trDesktop.Commands())
	pushes := f.drainRemote()
	require.Len(t, pushes, 1)
	require.Equal(t, "web", pushes[0].Imei)
	require.JSONEq(t, `{"messageId":"m1"}`, string(pushes[0].Data))
}

func TestToOtherDevicesExcludes(t *testing.T) {
	f := newFixture(t)
	trPhone := f.bind(t, phone)
	trDesktop := f.bind(t, desktop)

	live, err := f.router.ToOtherDevices(context.Background(), 1, "bob", message.MsgP2P, nil, phone)
	require.NoError(t, err)
	require.Equal(t, []registry.Identity{desktop}, live)
	require.Empty(t, trPhone.Commands())
	require.Len(t, trDesktop.Commands(), 1)
}

func TestToOtherDevicesDuplicateRegistration(t *testing.T) {
	f := newFixture(t)
	trPhone := f.bind(t, phone)
	trDesktop := f.bind(t, desktop)
	// 本机连接与共享会话指向同一设备，且会话记录归属另一个 broker
	require.NoError(t, f.sessions.Save(context.Background(), &store.Session{
		AppId: 1, UserId: "bob", ClientType: message.Android, Imei: "phone",
		ConnectState: message.Online, BrokerId: "node-2",
	}))

	live, err := f.router.ToOtherDevices(context.Background(), 1, "bob", message.MsgReadedNotify, nil, phone)
	require.NoError(t, err)
	require.Equal(t, []registry.Identity{desktop}, live)
	require.Empty(t, trPhone.Commands())
	require.Len(t, trDesktop.Commands(), 1)
	require.Empty(t, f.drainRemote())

	live, err = f.router.ToAllDevices(context.Background(), 1, "bob", message.MsgP2P, nil)
	require.NoError(t, err)
	require.Len(t, live, 2)
	require.Len(t, trPhone.Commands(), 1)
	require.Empty(t, f.drainRemote())
}

func TestToSpecificDevice(t *testing.T) {
	f := newFixture(t)
	tr := f.bind(t, phone)
	ctx := context.Background()

	ok, err := f.router.ToSpecificDevice(ctx, phone, message.MutualLogin, message.MutualLoginPack{ClientType: message.IOS, Imei: "new"})
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []message.Command{message.MutualLogin}, tr.Commands())

	ok, err = f.router.ToSpecificDevice(ctx, desktop, message.MutualLogin, nil)
	require.NoError(t, err)
	require.False(t, ok)

	f.remoteSession(t, web, message.Online)
	ok, err = f.router.ToSpecificDevice(ctx, web, message.MutualLogin, nil)
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, f.drainRemote(), 1)
}

func TestDeliver(t *testing.T) {
	f := newFixture(t)
	tr := f.bind(t, phone)
	f.router.Deliver(context.Background(), &bus.Push{AppId: 1, UserId: "bob", ClientType: message.Android, Imei: "phone", Command: message.MsgGroup})
	f.router.Deliver(context.Background(), &bus.Push{AppId: 1, UserId: "bob", ClientType: message.Mac, Imei: "mac", Command: message.MsgGroup})
	require.Equal(t, []message.Command{message.MsgGroup}, tr.Commands())
}

func TestEncodeError(t *testing.T) {
	f := newFixture(t)
	_, err := f.router.ToAllDevices(context.Background(), 1, "bob", message.MsgP2P, make(chan int))
	require.Error(t, err)
}
