package bus

import (
	"context"
	"encoding/json"
	"errors"

	"gitee.com/Ljolan/si-im/core/message"
)

var (
	ErrClosed    = errors.New("bus: closed")
	ErrQueueFull = errors.New("bus: queue full")
)

// Envelope 上行到业务域队列的消息，带上发送连接的身份
type Envelope struct {
	Command    message.Command    `json:"command"`
	AppId      int32              `json:"appId"`
	UserId     string             `json:"userId"`
	ClientType message.ClientType `json:"clientType"`
	Imei       string             `json:"imei"`
	BrokerId   string             `json:"brokerId"`
	Data       json.RawMessage    `json:"data"`
}

// Push 下行到某个 broker 的推送，由持有连接的 broker 写给客户端
type Push struct {
	AppId      int32              `json:"appId"`
	UserId     string             `json:"userId"`
	ClientType message.ClientType `json:"clientType"`
	Imei       string             `json:"imei"`
	Command    message.Command    `json:"command"`
	Data       json.RawMessage    `json:"data"`
}

type (
	Handler     func(ctx context.Context, env *Envelope)
	PushHandler func(ctx context.Context, p *Push)
)

// Bus 消息总线。
// 上行按业务域分队列，竞争消费；下行按 brokerId 分频道，只有对应 broker 订阅
type Bus interface {
	PublishUpstream(ctx context.Context, queue string, env *Envelope) error
	// ConsumeUpstream 订阅成功后在后台消费，ctx 结束或 Close 后停止
	ConsumeUpstream(ctx context.Context, queue string, h Handler) error
	PublishToBroker(ctx context.Context, brokerId string, p *Push) error
	SubscribeBroker(ctx context.Context, brokerId string, h PushHandler) error
	Close() error
}

// BrokerChannel 下行推送频道名
func BrokerChannel(brokerId string) string {
	return "im:broker:" + brokerId
}
