package codec

import (
	"encoding/binary"
	"encoding/json"
	"testing"

	"gitee.com/Ljolan/si-im/core/message"
	"github.com/stretchr/testify/require"
)

func newClientMessage(cmd message.Command, body string) *message.Message {
	return &message.Message{
		Header: message.MessageHeader{
			Command:    cmd,
			Version:    1,
			ClientType: message.Android,
			Encoding:   message.EncodingJSON,
			AppId:      10000,
			Imei:       "imei-0001",
		},
		Body: []byte(body),
	}
}

func requireSameHeader(t *testing.T, want, got *message.Message) {
	t.Helper()
	require.Equal(t, want.Header.Command, got.Header.Command)
	require.Equal(t, want.Header.Version, got.Header.Version)
	require.Equal(t, want.Header.ClientType, got.Header.ClientType)
	require.Equal(t, want.Header.Encoding, got.Header.Encoding)
	require.Equal(t, want.Header.AppId, got.Header.AppId)
	require.Equal(t, want.Header.Imei, got.Header.Imei)
	require.Equal(t, int32(len(want.Header.Imei)), got.Header.ImeiLength)
	require.Equal(t, int32(len(want.Body)), got.Header.BodyLen)
	require.Equal(t, want.Body, got.Body)
}

func TestClientRoundTrip(t *testing.T) {
	src := newClientMessage(message.MsgP2P, `{"fromId":"a","toId":"b","messageId":"m1"}`)
	b := EncodeClient(src)
	require.Len(t, b, message.HeaderLen+len("imei-0001")+len(src.Body))

	got, n, err := DecodeTCP(b)
	require.NoError(t, err)
	require.Equal(t, len(b), n)
	requireSameHeader(t, src, got)
	require.IsType(t, json.RawMessage{}, got.Data)

	ws, err := DecodeWS(b)
	require.NoError(t, err)
	requireSameHeader(t, src, ws)
}

func TestServerRoundTrip(t *testing.T) {
	pack := message.NewPack(message.MsgAck, message.Success(message.ChatMessageAck{MessageId: "m1", MessageSequence: 7}))
	b, err := Encode(pack)
	require.NoError(t, err)

	got, n, err := DecodeServer(b)
	require.NoError(t, err)
	require.Equal(t, len(b), n)
	require.Equal(t, message.MsgAck, got.Command)
	require.Equal(t, int32(len(b)-message.PackHeaderLen), got.BodyLen)

	var vo struct {
		Code int                    `json:"code"`
		Data message.ChatMessageAck `json:"data"`
	}
	require.NoError(t, got.Unmarshal(&vo))
	require.Equal(t, message.CodeSuccess, vo.Code)
	require.Equal(t, int64(7), vo.Data.MessageSequence)
}

func TestEncodeEmptyAndRaw(t *testing.T) {
	b, err := Encode(message.NewPack(message.Ping, nil))
	require.NoError(t, err)
	require.Len(t, b, message.PackHeaderLen)

	b, err = Encode(message.NewPack(message.MsgP2P, json.RawMessage(`{"a":1}`)))
	require.NoError(t, err)
	got, _, err := DecodeServer(b)
	require.NoError(t, err)
	require.JSONEq(t, `{"a":1}`, string(got.Body))

	_, err = Encode(message.NewPack(message.MsgP2P, make(chan int)))
	require.Error(t, err)
	_, err = Encode(nil)
	require.Error(t, err)
}

func TestPartialReadEveryBoundary(t *testing.T) {
	src := newClientMessage(message.MsgGroup, `{"groupId":"g1","messageBody":"hello"}`)
	whole := EncodeClient(src)

	for split := 0; split <= len(whole); split++ {
		var (
			buf     []byte
			decoded []*message.Message
		)
		feed := func(chunk []byte) {
			buf = append(buf, chunk...)
			for {
				msg, n, err := DecodeTCP(buf)
				require.NoError(t, err)
				if msg == nil {
					require.Equal(t, 0, n)
					return
				}
				decoded = append(decoded, msg)
				buf = buf[n:]
			}
		}
		feed(whole[:split])
		feed(whole[split:])

		require.Len(t, decoded, 1, "split at %d", split)
		requireSameHeader(t, src, decoded[0])
		require.Empty(t, buf)
	}
}

func TestDecodeTCPBackToBackFrames(t *testing.T) {
	a := EncodeClient(newClientMessage(message.Ping, ""))
	b := EncodeClient(newClientMessage(message.Logout, `{}`))
	buf := append(append([]byte{}, a...), b...)

	m1, n1, err := DecodeTCP(buf)
	require.NoError(t, err)
	require.Equal(t, message.Ping, m1.Header.Command)
	require.Nil(t, m1.Data)

	m2, n2, err := DecodeTCP(buf[n1:])
	require.NoError(t, err)
	require.Equal(t, message.Logout, m2.Header.Command)
	require.Equal(t, len(buf), n1+n2)
}

func TestDecodeTCPNegativeLengthIsIncomplete(t *testing.T) {
	b := EncodeClient(newClientMessage(message.MsgP2P, `{}`))
	binary.BigEndian.PutUint32(b[24:], uint32(0xFFFFFFFF)) // bodyLen = -1

	msg, n, err := DecodeTCP(b)
	require.NoError(t, err)
	require.Nil(t, msg)
	require.Equal(t, 0, n)

	msg, _, err = DecodeTCP(b[:10])
	require.NoError(t, err)
	require.Nil(t, msg)
}

func TestDecodeWSMalformed(t *testing.T) {
	_, err := DecodeWS([]byte{0, 0, 1})
	require.ErrorIs(t, err, ErrMalformedFrame)

	b := EncodeClient(newClientMessage(message.MsgP2P, `{"x":1}`))
	_, err = DecodeWS(b[:len(b)-1])
	require.ErrorIs(t, err, ErrMalformedFrame)

	_, err = DecodeWS(append(b, 0))
	require.ErrorIs(t, err, ErrMalformedFrame)

	neg := append([]byte{}, b...)
	binary.BigEndian.PutUint32(neg[20:], uint32(0xFFFFFFFE))
	_, err = DecodeWS(neg)
	require.ErrorIs(t, err, ErrMalformedFrame)
}

func TestDecodeInvalidJSONIsMalformed(t *testing.T) {
	b := EncodeClient(newClientMessage(message.MsgP2P, `{not json`))
	_, _, err := DecodeTCP(b)
	require.ErrorIs(t, err, ErrMalformedFrame)
}

func TestDeclaredEncodingsDecodeToUnparsed(t *testing.T) {
	for _, enc := range []message.Encoding{message.EncodingProtobuf, message.EncodingXML} {
		src := newClientMessage(message.MsgP2P, "\x08\x96\x01")
		src.Header.Encoding = enc
		got, _, err := DecodeTCP(EncodeClient(src))
		require.NoError(t, err)
		require.True(t, got.IsUnparsed())
		un := got.Data.(*message.Unparsed)
		require.Equal(t, enc, un.Encoding)
		require.Equal(t, src.Body, un.Raw)
	}

	src := newClientMessage(message.MsgP2P, `{}`)
	src.Header.Encoding = 7
	_, _, err := DecodeTCP(EncodeClient(src))
	require.ErrorIs(t, err, ErrUnknownEncoding)
}

func TestTCPPkgHandler(t *testing.T) {
	h := &TCPPkgHandler{MaxMsgLen: 64}
	b := EncodeClient(newClientMessage(message.Ping, ""))

	pkg, n, err := h.Read(nil, b[:5])
	require.NoError(t, err)
	require.Nil(t, pkg)
	require.Equal(t, 0, n)

	pkg, n, err = h.Read(nil, b)
	require.NoError(t, err)
	require.Equal(t, len(b), n)
	require.IsType(t, &message.Message{}, pkg)

	big := EncodeClient(newClientMessage(message.MsgP2P, `{"messageBody":"0123456789012345678901234567890123456789"}`))
	_, _, err = h.Read(nil, big[:message.HeaderLen])
	require.ErrorIs(t, err, ErrFrameTooLong)

	out, err := h.Write(nil, message.NewPack(message.LoginAck, message.Success(nil)))
	require.NoError(t, err)
	require.Greater(t, len(out), message.PackHeaderLen)

	out, err = h.Write(nil, []byte{1, 2, 3})
	require.NoError(t, err)
	require.Equal(t, []byte{1, 2, 3}, out)

	_, err = h.Write(nil, "string")
	require.Error(t, err)
}

func TestWSPkgHandler(t *testing.T) {
	h := &WSPkgHandler{}
	b := EncodeClient(newClientMessage(message.Login, `{"userId":"u1"}`))
	pkg, n, err := h.Read(nil, b)
	require.NoError(t, err)
	require.Equal(t, len(b), n)
	require.Equal(t, message.Login, pkg.(*message.Message).Header.Command)

	_, _, err = h.Read(nil, b[:20])
	require.Error(t, err)
}
