package po

import "gitee.com/Ljolan/si-im/store"

// MessageHistory 消息历史，mysql 与 mongo 共用
type MessageHistory struct {
	Id          uint64 `gorm:"column:id;primaryKey;autoIncrement" json:"id" bson:"-"`
	AppId       int32  `gorm:"column:app_id;index:idx_owner" json:"app_id" bson:"app_id"`
	MessageKey  int64  `gorm:"column:message_key;uniqueIndex" json:"message_key" bson:"message_key"`
	MessageId   string `gorm:"column:message_id;size:64" json:"message_id" bson:"message_id"`
	FromId      string `gorm:"column:from_id;size:64;index:idx_owner" json:"from_id" bson:"from_id"`
	ToId        string `gorm:"column:to_id;size:64" json:"to_id" bson:"to_id"`
	GroupId     string `gorm:"column:group_id;size:64" json:"group_id" bson:"group_id"`
	MessageBody string `gorm:"column:message_body;type:text" json:"message_body" bson:"message_body"`
	Sequence    int64  `gorm:"column:sequence" json:"sequence" bson:"sequence"`
	MessageTime int64  `gorm:"column:message_time" json:"message_time" bson:"message_time"`
	Extra       string `gorm:"column:extra;type:text" json:"extra" bson:"extra"`
	CreateTime  int64  `gorm:"column:create_time" json:"create_time" bson:"create_time"`
}

func (p MessageHistory) TableName() string {
	return "im_message_history"
}

const (
	MemberJoined = 0
	MemberLeft   = 1
)

type GroupMember struct {
	Id       uint64 `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	AppId    int32  `gorm:"column:app_id;index:idx_group" json:"app_id"`
	GroupId  string `gorm:"column:group_id;size:64;index:idx_group" json:"group_id"`
	MemberId string `gorm:"column:member_id;size:64" json:"member_id"`
	Role     int    `gorm:"column:role" json:"role"`
	Status   int    `gorm:"column:status" json:"status"`
	JoinTime int64  `gorm:"column:join_time" json:"join_time"`
}

func (p GroupMember) TableName() string {
	return "im_group_member"
}

func NewMessageHistory(rec *store.HistoryRecord) *MessageHistory {
	return &MessageHistory{
		AppId:       rec.AppId,
		MessageKey:  rec.MessageKey,
		MessageId:   rec.MessageId,
		FromId:      rec.FromId,
		ToId:        rec.ToId,
		GroupId:     rec.GroupId,
		MessageBody: rec.MessageBody,
		Sequence:    rec.Sequence,
		MessageTime: rec.MessageTime,
		Extra:       rec.Extra,
		CreateTime:  rec.CreateTime,
	}
}
