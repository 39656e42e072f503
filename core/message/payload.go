package message

import "encoding/json"

// ClientInfo 发起方的端信息，由服务端根据连接填充
type ClientInfo struct {
	AppId      int32      `json:"appId"`
	ClientType ClientType `json:"clientType"`
	Imei       string     `json:"imei"`
}

// LoginPack 登录报文体
type LoginPack struct {
	UserId           string `json:"userId"`
	CustomStatus     int    `json:"customStatus,omitempty"`
	CustomClientName string `json:"customClientName,omitempty"`
}

// LoginAckPack 登录成功回执
type LoginAckPack struct {
	UserId   string `json:"userId"`
	BrokerId string `json:"brokerId"`
}

// MutualLoginPack 多端登录冲突通知
type MutualLoginPack struct {
	ClientType ClientType `json:"clientType"`
	Imei       string     `json:"imei"`
}

// MessageContent 单聊消息
type MessageContent struct {
	ClientInfo
	MessageId       string          `json:"messageId"`
	FromId          string          `json:"fromId"`
	ToId            string          `json:"toId"`
	MessageBody     string          `json:"messageBody"`
	MessageTime     int64           `json:"messageTime"`
	Extra           json.RawMessage `json:"extra,omitempty"`
	MessageKey      int64           `json:"messageKey"`
	MessageSequence int64           `json:"messageSequence"`
	MessageRandom   int64           `json:"messageRandom,omitempty"`
}

// GroupChatMessageContent 群聊消息
type GroupChatMessageContent struct {
	MessageContent
	GroupId string `json:"groupId"`
}

// ChatMessageAck 发送方收到的服务端确认
type ChatMessageAck struct {
	MessageId       string `json:"messageId"`
	MessageSequence int64  `json:"messageSequence"`
}

// MessageReceiveAckContent 接收方确认收到；ServerSend 为 true 表示接收方无在线设备时由服务端代发
type MessageReceiveAckContent struct {
	ClientInfo
	FromId          string `json:"fromId"`
	ToId            string `json:"toId"`
	MessageId       string `json:"messageId,omitempty"`
	MessageKey      int64  `json:"messageKey"`
	MessageSequence int64  `json:"messageSequence"`
	ServerSend      bool   `json:"serverSend"`
}

// ConversationType 会话类型
type ConversationType int

const (
	ConversationP2P   ConversationType = 0
	ConversationGroup ConversationType = 1
)

// MessageReadedContent 已读上报
type MessageReadedContent struct {
	ClientInfo
	FromId           string           `json:"fromId"`
	ToId             string           `json:"toId"`
	GroupId          string           `json:"groupId,omitempty"`
	MessageSequence  int64            `json:"messageSequence"`
	ConversationType ConversationType `json:"conversationType"`
}

// SyncOfflineReq 客户端按最后一次收到的 key 拉取离线消息
type SyncOfflineReq struct {
	LastSequence int64 `json:"lastSequence"`
	MaxLimit     int64 `json:"maxLimit"`
}

// SyncOfflineResp 离线消息拉取结果
type SyncOfflineResp struct {
	MaxSequence int64             `json:"maxSequence"`
	Completed   bool              `json:"completed"`
	DataList    []json.RawMessage `json:"dataList"`
}

// UserStatusChangeNotify 用户上下线事件
type UserStatusChangeNotify struct {
	AppId      int32        `json:"appId"`
	UserId     string       `json:"userId"`
	Status     ConnectState `json:"status"`
	ClientType ClientType   `json:"clientType"`
	Imei       string       `json:"imei"`
	BrokerId   string       `json:"brokerId"`
}

// ResponseVO 所有回执统一的外层结构
type ResponseVO struct {
	Code int         `json:"code"`
	Msg  string      `json:"msg"`
	Data interface{} `json:"data,omitempty"`
}

func (r *ResponseVO) Ok() bool {
	return r.Code == CodeSuccess
}

func Success(data interface{}) *ResponseVO {
	return &ResponseVO{Code: CodeSuccess, Msg: "success", Data: data}
}

func Fail(code int, msg string, data interface{}) *ResponseVO {
	return &ResponseVO{Code: code, Msg: msg, Data: data}
}

func FailWith(e *CodeError, data interface{}) *ResponseVO {
	return &ResponseVO{Code: e.Code, Msg: e.Msg, Data: data}
}
