package codec

import (
	"fmt"

	"gitee.com/Ljolan/si-im/core/message"
	getty "github.com/apache/dubbo-getty"
)

// TCPPkgHandler getty 的 TCP 编解码器，数据不足时返回 (nil, 0, nil) 由 getty 保留缓冲区
type TCPPkgHandler struct {
	MaxMsgLen int
}

func (h *TCPPkgHandler) Read(_ getty.Session, data []byte) (interface{}, int, error) {
	if h.MaxMsgLen > 0 && len(data) >= message.HeaderLen {
		hd := readHeader(data)
		if total, ok := frameLen(hd); ok && total > int64(h.MaxMsgLen) {
			return nil, 0, fmt.Errorf("%w: %d > %d", ErrFrameTooLong, total, h.MaxMsgLen)
		}
	}
	msg, n, err := DecodeTCP(data)
	if err != nil {
		return nil, 0, err
	}
	if msg == nil {
		return nil, 0, nil
	}
	return msg, n, nil
}

func (h *TCPPkgHandler) Write(_ getty.Session, pkg interface{}) ([]byte, error) {
	return encodePkg(pkg)
}

// WSPkgHandler getty 的 WebSocket 编解码器，帧总是完整的，解码失败直接断开连接
type WSPkgHandler struct{}

func (h *WSPkgHandler) Read(_ getty.Session, data []byte) (interface{}, int, error) {
	msg, err := DecodeWS(data)
	if err != nil {
		return nil, 0, err
	}
	return msg, len(data), nil
}

func (h *WSPkgHandler) Write(_ getty.Session, pkg interface{}) ([]byte, error) {
	return encodePkg(pkg)
}

func encodePkg(pkg interface{}) ([]byte, error) {
	switch p := pkg.(type) {
	case *message.MessagePack:
		return Encode(p)
	case []byte:
		return p, nil
	default:
		return nil, fmt.Errorf("codec: invalid package type %T", pkg)
	}
}
