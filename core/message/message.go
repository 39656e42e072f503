package message

import (
	"encoding/json"
	"errors"
	"fmt"
)

const (
	// HeaderLen 客户端上行报文固定头长度：7 个 4 字节整数
	HeaderLen = 28
	// PackHeaderLen 服务端下行报文固定头长度：command + bodyLen
	PackHeaderLen = 8
)

var ErrUnparsed = errors.New("message: body encoding is declared but not implemented")

// MessageHeader 上行报文头
type MessageHeader struct {
	Command    Command
	Version    int32
	ClientType ClientType
	Encoding   Encoding
	AppId      int32
	ImeiLength int32
	BodyLen    int32
	Imei       string
}

// Unparsed 已声明但未实现的编码方式，报文体原样保留
type Unparsed struct {
	Encoding Encoding
	Raw      []byte
}

// Message 客户端上行报文（解码侧）
type Message struct {
	Header MessageHeader
	Body   []byte
	// Data 为 json.RawMessage 或 *Unparsed
	Data interface{}
}

func (m *Message) String() string {
	return fmt.Sprintf("%s app=%d client=%d imei=%s len=%d",
		m.Header.Command, m.Header.AppId, m.Header.ClientType, m.Header.Imei, m.Header.BodyLen)
}

// IsUnparsed 报文体是否未被解析
func (m *Message) IsUnparsed() bool {
	_, ok := m.Data.(*Unparsed)
	return ok
}

// Unmarshal 把 JSON 报文体解析到 v
func (m *Message) Unmarshal(v interface{}) error {
	if m.IsUnparsed() {
		return ErrUnparsed
	}
	if len(m.Body) == 0 {
		return errors.New("message: empty body")
	}
	return json.Unmarshal(m.Body, v)
}

// MessagePack 服务端下行报文（编码侧），Data 序列化为 JSON
type MessagePack struct {
	Command Command
	Data    interface{}
}

func NewPack(cmd Command, data interface{}) *MessagePack {
	return &MessagePack{Command: cmd, Data: data}
}

// RawPack 由编码侧解码得到的下行报文
type RawPack struct {
	Command Command
	BodyLen int32
	Body    []byte
}

func (p *RawPack) Unmarshal(v interface{}) error {
	return json.Unmarshal(p.Body, v)
}
