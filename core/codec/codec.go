package codec

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"

	"gitee.com/Ljolan/si-im/core/message"
)

var (
	ErrMalformedFrame  = errors.New("codec: malformed frame")
	ErrUnknownEncoding = errors.New("codec: unknown body encoding")
	ErrFrameTooLong    = errors.New("codec: frame exceeds max length")
)

// 客户端与服务端统一使用大端序
var byteOrder = binary.BigEndian

func readHeader(b []byte) message.MessageHeader {
	return message.MessageHeader{
		Command:    message.Command(int32(byteOrder.Uint32(b[0:]))),
		Version:    int32(byteOrder.Uint32(b[4:])),
		ClientType: message.ClientType(int32(byteOrder.Uint32(b[8:]))),
		Encoding:   message.Encoding(int32(byteOrder.Uint32(b[12:]))),
		AppId:      int32(byteOrder.Uint32(b[16:])),
		ImeiLength: int32(byteOrder.Uint32(b[20:])),
		BodyLen:    int32(byteOrder.Uint32(b[24:])),
	}
}

// frameLen 返回整帧长度，长度字段为负时 ok 为 false
func frameLen(h message.MessageHeader) (int64, bool) {
	if h.ImeiLength < 0 || h.BodyLen < 0 {
		return 0, false
	}
	return int64(message.HeaderLen) + int64(h.ImeiLength) + int64(h.BodyLen), true
}

// build 根据头部与剩余字节组装报文，payload 恰好为 imei + body
func build(h message.MessageHeader, payload []byte) (*message.Message, error) {
	h.Imei = string(payload[:h.ImeiLength])
	body := make([]byte, h.BodyLen)
	copy(body, payload[h.ImeiLength:])

	msg := &message.Message{Header: h, Body: body}
	switch h.Encoding {
	case message.EncodingJSON:
		if len(body) > 0 {
			if !json.Valid(body) {
				return nil, fmt.Errorf("%w: invalid json body for %s", ErrMalformedFrame, h.Command)
			}
			msg.Data = json.RawMessage(body)
		}
	case message.EncodingProtobuf, message.EncodingXML:
		msg.Data = &message.Unparsed{Encoding: h.Encoding, Raw: body}
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownEncoding, h.Encoding)
	}
	return msg, nil
}

// DecodeTCP 从字节流中解出一帧。
// 返回 (nil, 0, nil) 表示数据不足，调用方需保留缓冲区等待更多数据；
// 长度字段为负或超过已缓冲字节同样视为数据不足。
func DecodeTCP(data []byte) (*message.Message, int, error) {
	if len(data) < message.HeaderLen {
		return nil, 0, nil
	}
	h := readHeader(data)
	total, ok := frameLen(h)
	if !ok || total > int64(len(data)) {
		return nil, 0, nil
	}
	msg, err := build(h, data[message.HeaderLen:total])
	if err != nil {
		return nil, 0, err
	}
	return msg, int(total), nil
}

// DecodeWS 解码一个完整的 WebSocket 帧，任何不一致都是协议错误
func DecodeWS(frame []byte) (*message.Message, error) {
	if len(frame) < message.HeaderLen {
		return nil, fmt.Errorf("%w: frame length %d shorter than header", ErrMalformedFrame, len(frame))
	}
	h := readHeader(frame)
	total, ok := frameLen(h)
	if !ok || total != int64(len(frame)) {
		return nil, fmt.Errorf("%w: imei %d body %d frame %d", ErrMalformedFrame, h.ImeiLength, h.BodyLen, len(frame))
	}
	return build(h, frame[message.HeaderLen:])
}

// EncodeClient 按客户端上行格式编码，长度字段以实际内容为准
func EncodeClient(m *message.Message) []byte {
	imei := []byte(m.Header.Imei)
	buf := make([]byte, message.HeaderLen+len(imei)+len(m.Body))
	byteOrder.PutUint32(buf[0:], uint32(m.Header.Command))
	byteOrder.PutUint32(buf[4:], uint32(m.Header.Version))
	byteOrder.PutUint32(buf[8:], uint32(m.Header.ClientType))
	byteOrder.PutUint32(buf[12:], uint32(m.Header.Encoding))
	byteOrder.PutUint32(buf[16:], uint32(m.Header.AppId))
	byteOrder.PutUint32(buf[20:], uint32(len(imei)))
	byteOrder.PutUint32(buf[24:], uint32(len(m.Body)))
	copy(buf[message.HeaderLen:], imei)
	copy(buf[message.HeaderLen+len(imei):], m.Body)
	return buf
}

// Encode 按服务端下行格式编码：command + bodyLen + JSON body
func Encode(p *message.MessagePack) ([]byte, error) {
	if p == nil {
		return nil, errors.New("codec: nil pack")
	}
	var (
		body []byte
		err  error
	)
	switch d := p.Data.(type) {
	case nil:
	case json.RawMessage:
		body = d
	default:
		body, err = json.Marshal(d)
		if err != nil {
			return nil, fmt.Errorf("codec: encode %s: %w", p.Command, err)
		}
	}
	buf := make([]byte, message.PackHeaderLen+len(body))
	byteOrder.PutUint32(buf[0:], uint32(p.Command))
	byteOrder.PutUint32(buf[4:], uint32(len(body)))
	copy(buf[message.PackHeaderLen:], body)
	return buf, nil
}

// DecodeServer 解码服务端下行格式，数据不足时返回 (nil, 0, nil)
func DecodeServer(data []byte) (*message.RawPack, int, error) {
	if len(data) < message.PackHeaderLen {
		return nil, 0, nil
	}
	cmd := message.Command(int32(byteOrder.Uint32(data[0:])))
	bodyLen := int32(byteOrder.Uint32(data[4:]))
	if bodyLen < 0 {
		return nil, 0, fmt.Errorf("%w: negative body length", ErrMalformedFrame)
	}
	total := message.PackHeaderLen + int(bodyLen)
	if total > len(data) {
		return nil, 0, nil
	}
	body := make([]byte, bodyLen)
	copy(body, data[message.PackHeaderLen:total])
	return &message.RawPack{Command: cmd, BodyLen: bodyLen, Body: body}, total, nil
}
