package store

import (
	"strconv"
	"strings"

	"gitee.com/Ljolan/si-im/core/message"
)

// key 统一格式 {appId}:{purpose}:{id}
const (
	purposeSession = "userSession"
	purposeSeq     = "seq"
	purposeCache   = "messageCache"
	purposeOffline = "offlineMessage"
)

func join(appId int32, purpose, id string) string {
	var b strings.Builder
	b.Grow(len(purpose) + len(id) + 12)
	b.WriteString(strconv.FormatInt(int64(appId), 10))
	b.WriteByte(':')
	b.WriteString(purpose)
	b.WriteByte(':')
	b.WriteString(id)
	return b.String()
}

func SessionKey(appId int32, userId string) string {
	return join(appId, purposeSession, userId)
}

// SessionField 会话 hash 中的字段名
func SessionField(clientType message.ClientType, imei string) string {
	return strconv.Itoa(int(clientType)) + ":" + imei
}

func SeqKey(appId int32, scope string) string {
	return join(appId, purposeSeq, scope)
}

func DedupKey(appId int32, messageId string) string {
	return join(appId, purposeCache, messageId)
}

func OfflineKey(appId int32, userId string) string {
	return join(appId, purposeOffline, userId)
}

// P2PScope 单聊会话的发号范围，与收发方向无关
func P2PScope(a, b string) string {
	if a > b {
		a, b = b, a
	}
	return "p2p:" + a + ":" + b
}

func GroupScope(groupId string) string {
	return "group:" + groupId
}

// NodeKey 消息 key 节点号的租约，不区分 appId
func NodeKey(node int64) string {
	return "brokerNode:" + strconv.FormatInt(node, 10)
}
