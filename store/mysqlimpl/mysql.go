package mysqlimpl

import (
	"context"

	"gitee.com/Ljolan/si-im/config"
	"gitee.com/Ljolan/si-im/store"
	"gitee.com/Ljolan/si-im/store/po"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	glog "gorm.io/gorm/logger"
)

// Open 打开 mysql 连接并迁移历史表与群成员表
func Open(cfg config.Mysql) (*gorm.DB, error) {
	db, err := gorm.Open(mysql.Open(cfg.Source), &gorm.Config{
		SkipDefaultTransaction: true,
		Logger:                 glog.Default.LogMode(glog.Error),
		PrepareStmt:            true,
	})
	if err != nil {
		return nil, err
	}
	if err = db.AutoMigrate(&po.MessageHistory{}, &po.GroupMember{}); err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(cfg.PoolSize)
	sqlDB.SetMaxIdleConns(cfg.PoolSize / 2)
	return db, nil
}

type historyStore struct {
	db *gorm.DB
}

func NewHistoryStore(db *gorm.DB) store.HistoryStore {
	return &historyStore{db: db}
}

func (h *historyStore) Save(ctx context.Context, rec *store.HistoryRecord) error {
	return saveQuery(h.db.WithContext(ctx), po.NewMessageHistory(rec)).Error
}

// 同一个 messageKey 重复写入时忽略，重投不会产生重复历史
func saveQuery(db *gorm.DB, m *po.MessageHistory) *gorm.DB {
	return db.Clauses(clause.OnConflict{DoNothing: true}).Create(m)
}

func (h *historyStore) Close() error {
	sqlDB, err := h.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

type groupStore struct {
	db *gorm.DB
}

func NewGroupStore(db *gorm.DB) store.GroupMemberStore {
	return &groupStore{db: db}
}

func (g *groupStore) Members(ctx context.Context, appId int32, groupId string) ([]string, error) {
	var ids []string
	err := membersQuery(g.db.WithContext(ctx), appId, groupId).Pluck("member_id", &ids).Error
	return ids, err
}

func membersQuery(db *gorm.DB, appId int32, groupId string) *gorm.DB {
	return db.Model(&po.GroupMember{}).
		Where("app_id = ? AND group_id = ? AND status = ?", appId, groupId, po.MemberJoined)
}
