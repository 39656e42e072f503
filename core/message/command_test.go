package message

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCommandDomain(t *testing.T) {
	require.Equal(t, DomainMessage, MsgP2P.Domain())
	require.Equal(t, "im.message", MsgP2P.Queue())
	require.Equal(t, DomainGroup, MsgGroup.Domain())
	require.Equal(t, "im.group", MsgGroupReaded.Queue())
	require.Equal(t, DomainFriendship, Command(3001).Domain())
	require.Equal(t, "im.user", UserOnlineStatusChange.Queue())

	require.Equal(t, DomainNone, Login.Domain())
	require.Equal(t, "", Ping.Queue())
	require.Equal(t, DomainNone, Command(42).Domain())
	require.Equal(t, DomainNone, Command(-1103).Domain())
}

func TestCommandString(t *testing.T) {
	require.Equal(t, "MSG_P2P", MsgP2P.String())
	require.Equal(t, "CMD(1234)", Command(1234).String())
}

func TestClientTypeClass(t *testing.T) {
	require.Equal(t, ClassWeb, WebApi.Class())
	require.True(t, Web.IsWeb())
	require.Equal(t, ClassMobile, IOS.Class())
	require.Equal(t, ClassMobile, Android.Class())
	require.Equal(t, ClassDesktop, Windows.Class())
	require.Equal(t, ClassDesktop, Mac.Class())
	require.Equal(t, ClassUnknown, ClientType(9).Class())
	require.False(t, ClientType(9).Valid())
}

func TestMessageUnmarshal(t *testing.T) {
	m := &Message{Body: []byte(`{"userId":"u1"}`)}
	var p LoginPack
	require.NoError(t, m.Unmarshal(&p))
	require.Equal(t, "u1", p.UserId)

	m = &Message{Body: []byte{1, 2}, Data: &Unparsed{Encoding: EncodingProtobuf, Raw: []byte{1, 2}}}
	require.ErrorIs(t, m.Unmarshal(&p), ErrUnparsed)
}
