package store

import (
	"bytes"
	"context"
	"errors"
	"time"

	"gitee.com/Ljolan/si-im/core/message"
)

var ErrNotOwner = errors.New("store: session owned by another broker")

// Session 某个设备的登录会话，一个用户可以有多条（每个设备一条）
type Session struct {
	AppId        int32                `json:"appId"`
	UserId       string               `json:"userId"`
	ClientType   message.ClientType   `json:"clientType"`
	Imei         string               `json:"imei"`
	ConnectState message.ConnectState `json:"connectState"`
	BrokerId     string               `json:"brokerId"`
	BrokerHost   string               `json:"brokerHost"`
	LoginTime    int64                `json:"loginTime"`
}

func (s *Session) Field() string {
	return SessionField(s.ClientType, s.Imei)
}

func (s *Session) Online() bool {
	return s.ConnectState == message.Online
}

// SessionStore 用户会话，存放在共享的 kv 存储中，多个 broker 共同读写
type SessionStore interface {
	Save(ctx context.Context, s *Session) error
	// MarkOffline 仅当会话仍归属 brokerId 时更新为离线，保留记录
	MarkOffline(ctx context.Context, appId int32, userId string, clientType message.ClientType, imei, brokerId string) error
	// Delete 仅当会话仍归属 brokerId 时删除
	Delete(ctx context.Context, appId int32, userId string, clientType message.ClientType, imei, brokerId string) error
	Get(ctx context.Context, appId int32, userId string, clientType message.ClientType, imei string) (*Session, error)
	List(ctx context.Context, appId int32, userId string) ([]*Session, error)
}

// Sequencer 按 scope 发号，严格递增，允许出现空洞
type Sequencer interface {
	Next(ctx context.Context, appId int32, scope string) (int64, error)
}

// Pending 去重缓存中的占位值，表示消息已被接收但还没有处理完。
// 正常的缓存内容都是 json，不会和它相同
var Pending = []byte("\x00pending")

// PendingTTL 占位的最长存活时间，处理中途进程退出时占位会在此之后失效
const PendingTTL = 30 * time.Second

func IsPending(b []byte) bool {
	return bytes.Equal(b, Pending)
}

// DedupCache 按 messageId 缓存已处理的消息，Recall 未命中时返回 (nil, nil)
type DedupCache interface {
	Remember(ctx context.Context, appId int32, messageId string, payload []byte) error
	Recall(ctx context.Context, appId int32, messageId string) ([]byte, error)
	// Reserve 不存在时写入 Pending 占位并返回 true，已有占位或缓存返回 false
	Reserve(ctx context.Context, appId int32, messageId string) (bool, error)
	// Forget 删除 Pending 占位，已缓存的内容不受影响
	Forget(ctx context.Context, appId int32, messageId string) error
}

type OfflineEntry struct {
	Score   int64
	Payload []byte
}

// OfflineQueue 每个用户一条有界有序队列，超过上限时淘汰 score 最小的消息
type OfflineQueue interface {
	// Append 返回本次被淘汰的条数
	Append(ctx context.Context, appId int32, userId string, payload []byte, score int64) (int64, error)
	// ReadRange 读取 score 大于 fromScore 的最多 maxCount 条，升序
	ReadRange(ctx context.Context, appId int32, userId string, fromScore int64, maxCount int) ([]OfflineEntry, int64, error)
}

// HistoryRecord 持久化到历史库的一条消息
type HistoryRecord struct {
	AppId       int32  `json:"appId"`
	MessageKey  int64  `json:"messageKey"`
	MessageId   string `json:"messageId"`
	FromId      string `json:"fromId"`
	ToId        string `json:"toId"`
	GroupId     string `json:"groupId"`
	MessageBody string `json:"messageBody"`
	Sequence    int64  `json:"sequence"`
	MessageTime int64  `json:"messageTime"`
	Extra       string `json:"extra"`
	CreateTime  int64  `json:"createTime"`
}

type HistoryStore interface {
	Save(ctx context.Context, rec *HistoryRecord) error
	Close() error
}

// GroupMemberStore 群成员，发送时实时读取
type GroupMemberStore interface {
	Members(ctx context.Context, appId int32, groupId string) ([]string, error)
}
