package bus

import (
	"context"
	"encoding/json"
	"time"

	"gitee.com/Ljolan/si-im/core/message"
)

// 用户域没有消费者时队列会堆满，投递最多等待这么久
const notifyTimeout = 3 * time.Second

// StatusNotifier 把上下线事件投递到用户域队列
type StatusNotifier struct {
	b Bus
}

func NewStatusNotifier(b Bus) *StatusNotifier {
	return &StatusNotifier{b: b}
}

func (n *StatusNotifier) Notify(ctx context.Context, ev *message.UserStatusChangeNotify) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, notifyTimeout)
	defer cancel()
	return n.b.PublishUpstream(ctx, message.UserOnlineStatusChange.Queue(), &Envelope{
		Command:    message.UserOnlineStatusChange,
		AppId:      ev.AppId,
		UserId:     ev.UserId,
		ClientType: ev.ClientType,
		Imei:       ev.Imei,
		BrokerId:   ev.BrokerId,
		Data:       data,
	})
}
