package registry

import (
	"strconv"

	"gitee.com/Ljolan/si-im/core/message"
	"gitee.com/Ljolan/si-im/store"
)

// Identity 一个登录槽位：app + user + 客户端类型 + 设备号，四个字段都相同才是同一个设备
type Identity struct {
	AppId      int32
	UserId     string
	ClientType message.ClientType
	Imei       string
}

func (i Identity) Key() string {
	return userKey(i.AppId, i.UserId) + ":" + store.SessionField(i.ClientType, i.Imei)
}

func (i Identity) SameDevice(o Identity) bool {
	return i.ClientType == o.ClientType && i.Imei == o.Imei
}

func (i Identity) String() string {
	return i.Key()
}

func FromSession(s *store.Session) Identity {
	return Identity{AppId: s.AppId, UserId: s.UserId, ClientType: s.ClientType, Imei: s.Imei}
}

func userKey(appId int32, userId string) string {
	return strconv.FormatInt(int64(appId), 10) + ":" + userId
}
