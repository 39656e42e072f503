package bus

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"gitee.com/Ljolan/si-im/core/message"
	"github.com/alicebob/miniredis/v2"
	redigo "github.com/garyburd/redigo/redis"
	goredis "github.com/go-redis/redis"
	"github.com/stretchr/testify/require"
)

func newRedisBus(t *testing.T) *RedisBus {
	mr := miniredis.RunT(t)
	pool := &redigo.Pool{
		MaxIdle: 4,
		Dial:    func() (redigo.Conn, error) { return redigo.Dial("tcp", mr.Addr()) },
	}
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	b := NewRedisBus(pool, client, time.Second)
	t.Cleanup(func() {
		_ = b.Close()
		_ = client.Close()
		_ = pool.Close()
	})
	return b
}

func exerciseBus(t *testing.T, b Bus) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	envs := make(chan *Envelope, 4)
	require.NoError(t, b.ConsumeUpstream(ctx, "im.message", func(_ context.Context, env *Envelope) {
		envs <- env
	}))
	pushes := make(chan *Push, 4)
	require.NoError(t, b.SubscribeBroker(ctx, "node-1", func(_ context.Context, p *Push) {
		pushes <- p
	}))

	require.NoError(t, b.PublishUpstream(ctx, "im.message", &Envelope{
		Command: message.MsgP2P, AppId: 1, UserId: "a", BrokerId: "node-1", Data: json.RawMessage(`{"toId":"b"}`),
	}))
	select {
	case env := <-envs:
		require.Equal(t, message.MsgP2P, env.Command)
		require.JSONEq(t, `{"toId":"b"}`, string(env.Data))
	case <-time.After(3 * time.Second):
		t.Fatal("upstream envelope not consumed")
	}

	require.NoError(t, b.PublishToBroker(ctx, "node-2", &Push{UserId: "other"}))
	require.NoError(t, b.PublishToBroker(ctx, "node-1", &Push{AppId: 1, UserId: "b", Command: message.MsgP2P, Data: json.RawMessage(`{}`)}))
	select {
	case p := <-pushes:
		require.Equal(t, "b", p.UserId)
	case <-time.After(3 * time.Second):
		t.Fatal("push not delivered")
	}
	select {
	case p := <-pushes:
		t.Fatalf("unexpected push %+v", p)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestMemBus(t *testing.T) {
	b := NewMemBus()
	exerciseBus(t, b)
	require.NoError(t, b.Close())
	require.ErrorIs(t, b.PublishUpstream(context.Background(), "q", &Envelope{}), ErrClosed)
	require.ErrorIs(t, b.PublishToBroker(context.Background(), "n", &Push{}), ErrClosed)
}

// 没有消费者时队列写满，发布立即失败而不是阻塞
func TestMemBusQueueFull(t *testing.T) {
	b := NewMemBus()
	defer b.Close()
	ctx := context.Background()
	for i := 0; i < memQueueSize; i++ {
		require.NoError(t, b.PublishUpstream(ctx, "q", &Envelope{}))
		require.NoError(t, b.PublishToBroker(ctx, "n", &Push{}))
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		require.ErrorIs(t, b.PublishUpstream(ctx, "q", &Envelope{}), ErrQueueFull)
		require.ErrorIs(t, b.PublishToBroker(ctx, "n", &Push{}), ErrQueueFull)
	}()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("publish blocked on a full queue")
	}
}

func TestRedisBus(t *testing.T) {
	b := newRedisBus(t)
	exerciseBus(t, b)
}

func TestHandlerPanicDoesNotStopConsumer(t *testing.T) {
	b := NewMemBus()
	defer b.Close()
	ctx := context.Background()
	got := make(chan string, 2)
	require.NoError(t, b.ConsumeUpstream(ctx, "q", func(_ context.Context, env *Envelope) {
		if env.UserId == "bad" {
			panic("bad envelope")
		}
		got <- env.UserId
	}))
	require.NoError(t, b.PublishUpstream(ctx, "q", &Envelope{UserId: "bad"}))
	require.NoError(t, b.PublishUpstream(ctx, "q", &Envelope{UserId: "good"}))
	select {
	case u := <-got:
		require.Equal(t, "good", u)
	case <-time.After(time.Second):
		t.Fatal("consumer stopped after panic")
	}
}

func TestStatusNotifier(t *testing.T) {
	b := NewMemBus()
	defer b.Close()
	ctx := context.Background()
	got := make(chan *Envelope, 1)
	require.NoError(t, b.ConsumeUpstream(ctx, "im.user", func(_ context.Context, env *Envelope) { got <- env }))

	n := NewStatusNotifier(b)
	require.NoError(t, n.Notify(ctx, &message.UserStatusChangeNotify{AppId: 1, UserId: "u", Status: message.Offline, BrokerId: "node-1"}))
	env := <-got
	require.Equal(t, message.UserOnlineStatusChange, env.Command)
	var ev message.UserStatusChangeNotify
	require.NoError(t, json.Unmarshal(env.Data, &ev))
	require.Equal(t, message.Offline, ev.Status)
}
