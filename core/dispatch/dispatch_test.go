package dispatch

import (
	"context"
	"encoding/json"
	"strconv"
	"testing"
	"time"

	"gitee.com/Ljolan/si-im/core/auth"
	"gitee.com/Ljolan/si-im/core/bus"
	"gitee.com/Ljolan/si-im/core/login"
	"gitee.com/Ljolan/si-im/core/message"
	"gitee.com/Ljolan/si-im/core/registry"
	"gitee.com/Ljolan/si-im/core/router"
	"gitee.com/Ljolan/si-im/store"
	"gitee.com/Ljolan/si-im/store/memimpl"
	"github.com/stretchr/testify/require"
)

type stubAuthorizer struct {
	deny map[string]*message.CodeError
	reqs []*auth.AuthorizeReq
}

func (s *stubAuthorizer) Authorize(_ context.Context, req *auth.AuthorizeReq) error {
	s.reqs = append(s.reqs, req)
	if e, ok := s.deny[req.ToId]; ok {
		return e
	}
	return nil
}

type env struct {
	d        *Dispatcher
	reg      *registry.Registry
	sessions store.SessionStore
	offline  store.OfflineQueue
	bus      *bus.MemBus
	authz    *stubAuthorizer
}

func newEnv(t *testing.T, model login.Model, rateLimit int) *env {
	ss := memimpl.NewMemSessionStore()
	b := bus.NewMemBus()
	t.Cleanup(func() { _ = b.Close() })
	reg := registry.New(registry.Options{BrokerId: "node-1", Sessions: ss, RateLimit: rateLimit, Async: func(f func()) { f() }})
	off := memimpl.NewMemOfflineQueue(100)
	authz := &stubAuthorizer{deny: map[string]*message.CodeError{"blocked": message.NewCodeError(40001, "blocked")}}
	d := New(Options{
		BrokerId:      "node-1",
		LoginModel:    model,
		SyncMaxCount:  2,
		Registry:      reg,
		Router:        router.New("node-1", reg, ss, b),
		Sessions:      ss,
		Offline:       off,
		Bus:           b,
		Authenticator: auth.NewDefaultAuth(),
		Authorizer:    authz,
	})
	return &env{d: d, reg: reg, sessions: ss, offline: off, bus: b, authz: authz}
}

func newMsg(cmd message.Command, ct message.ClientType, imei string, body interface{}) *message.Message {
	var raw []byte
	if body != nil {
		raw, _ = json.Marshal(body)
	}
	return &message.Message{
		Header: message.MessageHeader{Command: cmd, Version: 1, ClientType: ct, AppId: 10000, Imei: imei, BodyLen: int32(len(raw))},
		Body:   raw,
		Data:   json.RawMessage(raw),
	}
}

func lastVO(t *testing.T, tr *registry.MockTransport) (message.Command, *message.ResponseVO) {
	packs := tr.Packs()
	require.NotEmpty(t, packs)
	p := packs[len(packs)-1]
	vo, ok := p.Data.(*message.ResponseVO)
	require.True(t, ok, "pack %s carries %T", p.Command, p.Data)
	return p.Command, vo
}

func (e *env) login(t *testing.T, user string, ct message.ClientType, imei string) (*registry.Connection, *registry.MockTransport) {
	tr := registry.NewMockTransport(imei)
	c := e.reg.Add(tr)
	e.d.Dispatch(context.Background(), c, newMsg(message.Login, ct, imei, message.LoginPack{UserId: user}))
	cmd, vo := lastVO(t, tr)
	require.Equal(t, message.LoginAck, cmd)
	require.True(t, vo.Ok(), vo.Msg)
	return c, tr
}

func (e *env) consume(t *testing.T, queue string) chan *bus.Envelope {
	ch := make(chan *bus.Envelope, 8)
	require.NoError(t, e.bus.ConsumeUpstream(context.Background(), queue, func(_ context.Context, env *bus.Envelope) { ch <- env }))
	return ch
}

func TestNotLoggedIn(t *testing.T) {
	e := newEnv(t, login.Single, 0)
	tr := registry.NewMockTransport("x")
	c := e.reg.Add(tr)

	e.d.Dispatch(context.Background(), c, newMsg(message.MsgP2P, message.Android, "x", message.MessageContent{MessageId: "m", ToId: "b"}))
	cmd, vo := lastVO(t, tr)
	require.Equal(t, message.MsgAck, cmd)
	require.Equal(t, message.CodeNotLoggedIn, vo.Code)

	// ping 不需要登录，也没有回复
	e.d.Dispatch(context.Background(), c, newMsg(message.Ping, message.Android, "x", nil))
	require.Len(t, tr.Packs(), 1)
}

func TestLoginBindsAndAcks(t *testing.T) {
	e := newEnv(t, login.Single, 0)
	c, tr := e.login(t, "alice", message.Android, "phone-1")

	id, ok := c.Identity()
	require.True(t, ok)
	require.Equal(t, "alice", id.UserId)
	require.Equal(t, int32(10000), id.AppId)

	_, vo := lastVO(t, tr)
	ack := vo.Data.(*message.LoginAckPack)
	require.Equal(t, "node-1", ack.BrokerId)

	s, err := e.sessions.Get(context.Background(), 10000, "alice", message.Android, "phone-1")
	require.NoError(t, err)
	require.True(t, s.Online())
}

func TestLoginRejected(t *testing.T) {
	e := newEnv(t, login.Single, 0)
	tr := registry.NewMockTransport("x")
	c := e.reg.Add(tr)

	e.d.Dispatch(context.Background(), c, newMsg(message.Login, message.Android, "x", message.LoginPack{}))
	cmd, vo := lastVO(t, tr)
	require.Equal(t, message.LoginAck, cmd)
	require.Equal(t, message.CodeAuthorizeDeny, vo.Code)

	e.d.Dispatch(context.Background(), c, newMsg(message.Login, message.ClientType(42), "x", message.LoginPack{UserId: "u"}))
	_, vo = lastVO(t, tr)
	require.Equal(t, message.CodeParamError, vo.Code)
	_, bound := c.Identity()
	require.False(t, bound)
}

func TestLoginKicksPerModel(t *testing.T) {
	e := newEnv(t, login.Triple, 0)
	_, phoneA := e.login(t, "u", message.Android, "A")
	_, mac := e.login(t, "u", message.Mac, "M")
	_, web := e.login(t, "u", message.Web, "W")
	require.NotContains(t, phoneA.Commands(), message.MutualLogin)

	_, phoneB := e.login(t, "u", message.IOS, "B")
	require.Contains(t, phoneA.Commands(), message.MutualLogin)
	require.NotContains(t, mac.Commands(), message.MutualLogin)
	require.NotContains(t, web.Commands(), message.MutualLogin)
	require.NotContains(t, phoneB.Commands(), message.MutualLogin)

	for _, p := range phoneA.Packs() {
		if p.Command == message.MutualLogin {
			var notice message.MutualLoginPack
			require.NoError(t, json.Unmarshal(p.Data.(json.RawMessage), &notice))
			require.Equal(t, "B", notice.Imei)
			require.Equal(t, message.IOS, notice.ClientType)
		}
	}
	// 只通知，不主动断开
	require.False(t, phoneA.IsClosed())
}

func TestSameDeviceReloginRebinds(t *testing.T) {
	e := newEnv(t, login.Single, 0)
	_, first := e.login(t, "u", message.Android, "A")
	_, second := e.login(t, "u", message.Android, "A")
	require.True(t, first.IsClosed())
	require.NotContains(t, first.Commands(), message.MutualLogin)
	require.False(t, second.IsClosed())
}

func TestCheckSendForwardsWhenAllowed(t *testing.T) {
	e := newEnv(t, login.Single, 0)
	q := e.consume(t, "im.message")
	c, tr := e.login(t, "alice", message.Android, "A")

	e.d.Dispatch(context.Background(), c, newMsg(message.MsgP2P, message.Android, "A",
		message.MessageContent{MessageId: "m1", FromId: "alice", ToId: "bob", MessageBody: "hi"}))

	select {
	case env := <-q:
		require.Equal(t, message.MsgP2P, env.Command)
		require.Equal(t, "alice", env.UserId)
		require.Equal(t, "node-1", env.BrokerId)
		require.Equal(t, message.Android, env.ClientType)
		var content message.MessageContent
		require.NoError(t, json.Unmarshal(env.Data, &content))
		require.Equal(t, "m1", content.MessageId)
	case <-time.After(time.Second):
		t.Fatal("message not forwarded")
	}
	require.Len(t, tr.Packs(), 1) // 只有登录回执
	require.Equal(t, "bob", e.authz.reqs[0].ToId)
}

func TestCheckSendDenied(t *testing.T) {
	e := newEnv(t, login.Single, 0)
	q := e.consume(t, "im.group")
	c, tr := e.login(t, "alice", message.Android, "A")

	e.d.Dispatch(context.Background(), c, newMsg(message.MsgGroup, message.Android, "A",
		message.GroupChatMessageContent{MessageContent: message.MessageContent{MessageId: "g1"}, GroupId: "blocked"}))
	cmd, vo := lastVO(t, tr)
	require.Equal(t, message.GroupMsgAck, cmd)
	require.Equal(t, 40001, vo.Code)
	require.Equal(t, "g1", vo.Data.(*message.ChatMessageAck).MessageId)

	select {
	case env := <-q:
		t.Fatalf("denied message forwarded: %+v", env)
	case <-time.After(50 * time.Millisecond):
	}
	require.False(t, tr.IsClosed())
}

func TestCheckSendTimeoutIsRejection(t *testing.T) {
	e := newEnv(t, login.Single, 0)
	e.d.opts.Authorizer = authorizerFunc(func(context.Context, *auth.AuthorizeReq) error { return context.DeadlineExceeded })
	c, tr := e.login(t, "alice", message.Android, "A")

	e.d.Dispatch(context.Background(), c, newMsg(message.MsgP2P, message.Android, "A", message.MessageContent{MessageId: "m", ToId: "b"}))
	_, vo := lastVO(t, tr)
	require.Equal(t, message.CodeAuthTimeout, vo.Code)
}

type authorizerFunc func(ctx context.Context, req *auth.AuthorizeReq) error

func (f authorizerFunc) Authorize(ctx context.Context, req *auth.AuthorizeReq) error { return f(ctx, req) }

func TestCheckSendBadInput(t *testing.T) {
	e := newEnv(t, login.Single, 0)
	c, tr := e.login(t, "alice", message.Android, "A")

	e.d.Dispatch(context.Background(), c, newMsg(message.MsgP2P, message.Android, "A", message.MessageContent{ToId: "b"}))
	_, vo := lastVO(t, tr)
	require.Equal(t, message.CodeParamError, vo.Code)

	un := newMsg(message.MsgP2P, message.Android, "A", nil)
	un.Header.Encoding = message.EncodingProtobuf
	un.Body = []byte{0x08, 0x01}
	un.Data = &message.Unparsed{Encoding: message.EncodingProtobuf, Raw: un.Body}
	e.d.Dispatch(context.Background(), c, un)
	_, vo = lastVO(t, tr)
	require.Equal(t, message.CodeUnparsedBody, vo.Code)
	require.False(t, tr.IsClosed())
}

func TestUnmatchedCommandsForwardByDomain(t *testing.T) {
	e := newEnv(t, login.Single, 0)
	friendship := e.consume(t, "im.friendship")
	c, tr := e.login(t, "alice", message.Android, "A")

	e.d.Dispatch(context.Background(), c, newMsg(message.Command(3001), message.Android, "A", map[string]string{"toId": "bob"}))
	select {
	case env := <-friendship:
		require.Equal(t, message.Command(3001), env.Command)
		require.JSONEq(t, `{"toId":"bob"}`, string(env.Data))
	case <-time.After(time.Second):
		t.Fatal("not forwarded")
	}

	// 没有业务域的指令丢弃
	e.d.Dispatch(context.Background(), c, newMsg(message.Command(7001), message.Android, "A", map[string]string{}))
	require.Len(t, tr.Packs(), 1)
}

// 业务域没有消费者、队列积满时，读协程不能被卡住，溢出的消息回复系统错误
func TestForwardQueueSaturated(t *testing.T) {
	e := newEnv(t, login.Single, 0)
	c, tr := e.login(t, "alice", message.Android, "A")

	const n = 1100
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < n; i++ {
			e.d.Dispatch(context.Background(), c, newMsg(message.Command(3001), message.Android, "A", map[string]string{"toId": "bob"}))
		}
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("dispatch blocked on a saturated queue")
	}

	cmd, vo := lastVO(t, tr)
	require.Equal(t, message.Command(3001), cmd)
	require.Equal(t, message.CodeSystemError, vo.Code)
	nacks := 0
	for _, p := range tr.Packs() {
		if p.Command == message.Command(3001) {
			nacks++
		}
	}
	require.Greater(t, nacks, 0)
	require.Less(t, nacks, n)
}

func TestRateLimited(t *testing.T) {
	e := newEnv(t, login.Single, 1)
	c, tr := e.login(t, "alice", message.Android, "A")
	for i := 0; i < 5; i++ {
		e.d.Dispatch(context.Background(), c, newMsg(message.MsgSyncOffline, message.Android, "A", message.SyncOfflineReq{}))
	}
	limited := 0
	for _, p := range tr.Packs() {
		if vo, ok := p.Data.(*message.ResponseVO); ok && vo.Code == message.CodeRateLimited {
			limited++
		}
	}
	require.Greater(t, limited, 0)
}

func TestSyncOffline(t *testing.T) {
	e := newEnv(t, login.Single, 0)
	ctx := context.Background()
	for i := int64(1); i <= 3; i++ {
		_, err := e.offline.Append(ctx, 10000, "alice", []byte(`{"messageKey":`+strconv.FormatInt(i, 10)+`}`), i)
		require.NoError(t, err)
	}
	c, tr := e.login(t, "alice", message.Android, "A")

	e.d.Dispatch(ctx, c, newMsg(message.MsgSyncOffline, message.Android, "A", message.SyncOfflineReq{LastSequence: 0, MaxLimit: 10}))
	cmd, vo := lastVO(t, tr)
	require.Equal(t, message.MsgSyncOfflineAck, cmd)
	resp := vo.Data.(*message.SyncOfflineResp)
	require.Len(t, resp.DataList, 2)
	require.Equal(t, int64(2), resp.MaxSequence)
	require.False(t, resp.Completed)

	e.d.Dispatch(ctx, c, newMsg(message.MsgSyncOffline, message.Android, "A", message.SyncOfflineReq{LastSequence: resp.MaxSequence}))
	_, vo = lastVO(t, tr)
	resp = vo.Data.(*message.SyncOfflineResp)
	require.Len(t, resp.DataList, 1)
	require.Equal(t, int64(3), resp.MaxSequence)
	require.True(t, resp.Completed)

	e.d.Dispatch(ctx, c, newMsg(message.MsgSyncOffline, message.Android, "A", message.SyncOfflineReq{LastSequence: 3}))
	_, vo = lastVO(t, tr)
	resp = vo.Data.(*message.SyncOfflineResp)
	require.Empty(t, resp.DataList)
	require.Equal(t, int64(3), resp.MaxSequence)
	require.True(t, resp.Completed)
}

func TestLogout(t *testing.T) {
	e := newEnv(t, login.Single, 0)
	c, tr := e.login(t, "alice", message.Android, "A")
	e.d.Dispatch(context.Background(), c, newMsg(message.Logout, message.Android, "A", nil))
	require.True(t, tr.IsClosed())
	s, err := e.sessions.Get(context.Background(), 10000, "alice", message.Android, "A")
	require.NoError(t, err)
	require.Nil(t, s)
}
