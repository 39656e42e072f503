package message

import "strconv"

// Command 报文指令，千位数字表示所属业务域
type Command int32

// 系统指令
const (
	Login       Command = 9000
	LoginAck    Command = 9001
	MutualLogin Command = 9002 // 多端登录冲突，通知旧端下线
	Logout      Command = 9003
	Ping        Command = 9999
)

// 单聊消息指令
const (
	MsgAck            Command = 1046
	MsgReadedNotify   Command = 1053
	MsgReadedReceipt  Command = 1054
	MsgP2P            Command = 1103
	MsgReaded         Command = 1106
	MsgReceiveAck     Command = 1107
	MsgSyncOffline    Command = 1110
	MsgSyncOfflineAck Command = 1111
)

// 群聊消息指令
const (
	GroupMsgAck          Command = 2047
	MsgGroupReadedNotify Command = 2053
	MsgGroup             Command = 2104
	MsgGroupReaded       Command = 2106
)

// 用户事件指令
const (
	UserOnlineStatusChange Command = 4004
)

var commandNames = map[Command]string{
	Login:                  "LOGIN",
	LoginAck:               "LOGIN_ACK",
	MutualLogin:            "MUTUAL_LOGIN",
	Logout:                 "LOGOUT",
	Ping:                   "PING",
	MsgAck:                 "MSG_ACK",
	MsgReadedNotify:        "MSG_READED_NOTIFY",
	MsgReadedReceipt:       "MSG_READED_RECEIPT",
	MsgP2P:                 "MSG_P2P",
	MsgReaded:              "MSG_READED",
	MsgReceiveAck:          "MSG_RECEIVE_ACK",
	MsgSyncOffline:         "MSG_SYNC_OFFLINE",
	MsgSyncOfflineAck:      "MSG_SYNC_OFFLINE_ACK",
	GroupMsgAck:            "GROUP_MSG_ACK",
	MsgGroupReadedNotify:   "MSG_GROUP_READED_NOTIFY",
	MsgGroup:               "MSG_GROUP",
	MsgGroupReaded:         "MSG_GROUP_READED",
	UserOnlineStatusChange: "USER_ONLINE_STATUS_CHANGE",
}

func (c Command) String() string {
	if n, ok := commandNames[c]; ok {
		return n
	}
	return "CMD(" + strconv.Itoa(int(c)) + ")"
}

// Domain 下游业务域
type Domain int

const (
	DomainNone Domain = iota
	DomainMessage
	DomainGroup
	DomainFriendship
	DomainUser
)

// 业务域对应的总线队列名
var domainQueues = map[Domain]string{
	DomainMessage:    "im.message",
	DomainGroup:      "im.group",
	DomainFriendship: "im.friendship",
	DomainUser:       "im.user",
}

// Domain 按指令首位数字路由到业务域
func (c Command) Domain() Domain {
	if c < 1000 || c > 9999 {
		return DomainNone
	}
	switch c / 1000 {
	case 1:
		return DomainMessage
	case 2:
		return DomainGroup
	case 3:
		return DomainFriendship
	case 4:
		return DomainUser
	default:
		return DomainNone
	}
}

// Queue 返回指令所属业务域的队列名，没有对应业务域时返回空串
func (c Command) Queue() string {
	return domainQueues[c.Domain()]
}

// DomainQueue 返回业务域的队列名
func DomainQueue(d Domain) string {
	return domainQueues[d]
}
