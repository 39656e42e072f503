package service

import (
	"context"
	"fmt"
	"time"

	"gitee.com/Ljolan/si-im/config"
	"gitee.com/Ljolan/si-im/core/bus"
	"gitee.com/Ljolan/si-im/core/consts"
	"gitee.com/Ljolan/si-im/logger"
	siredis "gitee.com/Ljolan/si-im/redis"
	"gitee.com/Ljolan/si-im/store"
	"gitee.com/Ljolan/si-im/store/memimpl"
	"gitee.com/Ljolan/si-im/store/mongoimpl"
	"gitee.com/Ljolan/si-im/store/mysqlimpl"
	"gitee.com/Ljolan/si-im/store/redisimpl"
	"gitee.com/Ljolan/si-im/utils"
	goredis "github.com/go-redis/redis"
	"gorm.io/gorm"
)

// components 按配置选择的存储与总线实现
type components struct {
	sessions store.SessionStore
	seq      store.Sequencer
	dedup    store.DedupCache
	offline  store.OfflineQueue
	history  store.HistoryStore
	members  store.GroupMemberStore
	bus      bus.Bus
	keys     *utils.KeyGenerator

	// 有 redis 时节点号通过租约领取，需要定时续约
	lease *redisimpl.NodeLease

	// 内存去重缓存需要定时清理过期项
	memDedup *memimpl.DedupCache

	closers []func() error
}

func openComponents(ctx context.Context, cfg *config.SIConfig) (_ *components, err error) {
	cs := &components{}
	defer func() {
		if err != nil {
			cs.close()
		}
	}()

	var client *goredis.Client
	if cfg.Store.Model == config.RedisStore || cfg.Bus.Model == config.RedisBus {
		if client, err = siredis.NewClient(cfg.Store.Redis); err != nil {
			return nil, err
		}
		cs.closers = append(cs.closers, client.Close)
		logger.Logger.Infof("redis connected: %s", cfg.Store.Redis.Source)
	}

	if cs.keys, err = openKeys(cs, client, cfg.Broker); err != nil {
		return nil, err
	}

	pc := &cfg.Pipeline
	switch cfg.Store.Model {
	case config.RedisStore:
		cs.sessions = redisimpl.NewSessionStore(client)
		cs.seq = redisimpl.NewSequencer(client)
		cs.dedup = redisimpl.NewDedupCache(client, time.Duration(pc.DedupTTL)*time.Second)
		cs.offline = redisimpl.NewOfflineQueue(client, pc.OfflineMaxCount)
	case config.MemStore:
		cs.sessions = memimpl.NewMemSessionStore()
		cs.seq = memimpl.NewMemSequencer()
		cs.memDedup = memimpl.NewDedupCache(time.Duration(pc.DedupTTL) * time.Second)
		cs.dedup = cs.memDedup
		cs.offline = memimpl.NewMemOfflineQueue(pc.OfflineMaxCount)
	default:
		return nil, fmt.Errorf("service: unsupported store model %q", cfg.Store.Model)
	}

	var db *gorm.DB
	openMysql := func() (*gorm.DB, error) {
		if db != nil {
			return db, nil
		}
		var e error
		db, e = mysqlimpl.Open(cfg.Store.Mysql)
		return db, e
	}

	switch cfg.Store.HistoryModel {
	case config.MysqlStore:
		if _, err = openMysql(); err != nil {
			return nil, err
		}
		cs.history = mysqlimpl.NewHistoryStore(db)
	case config.MongoStore:
		if cs.history, err = mongoimpl.NewHistoryStore(ctx, cfg.Store.Mongo); err != nil {
			return nil, err
		}
	case config.MemStore:
		cs.history = memimpl.NewHistoryStore()
	default:
		return nil, fmt.Errorf("service: unsupported history model %q", cfg.Store.HistoryModel)
	}
	cs.closers = append(cs.closers, cs.history.Close)

	switch cfg.Store.GroupModel {
	case config.MysqlStore:
		mysqlShared := db != nil
		if _, err = openMysql(); err != nil {
			return nil, err
		}
		if !mysqlShared {
			cs.closers = append(cs.closers, func() error {
				sqlDB, e := db.DB()
				if e != nil {
					return e
				}
				return sqlDB.Close()
			})
		}
		cs.members = store.MergeMembers(mysqlimpl.NewGroupStore(db))
	case config.MemStore:
		cs.members = store.MergeMembers(memimpl.NewGroupStore())
	default:
		return nil, fmt.Errorf("service: unsupported group model %q", cfg.Store.GroupModel)
	}

	switch cfg.Bus.Model {
	case config.RedisBus:
		pool := siredis.NewPool(cfg.Store.Redis, consts.BusBlockTimeout)
		cs.closers = append(cs.closers, pool.Close)
		cs.bus = bus.NewRedisBus(pool, client, consts.BusBlockTimeout)
	case config.MemBus:
		cs.bus = bus.NewMemBus()
	default:
		return nil, fmt.Errorf("service: unsupported bus model %q", cfg.Bus.Model)
	}
	return cs, nil
}

// openKeys 选择消息 key 的节点号。
// 能连到 redis 就可能有多个 broker 共享存储，节点号必须经租约独占；
// 纯内存部署只有一个进程，直接使用配置值
func openKeys(cs *components, client *goredis.Client, b config.Broker) (*utils.KeyGenerator, error) {
	node := int64(b.NodeId)
	if client != nil {
		want := int64(-1)
		if b.NodeId > 0 {
			want = node
		}
		lease, err := redisimpl.AcquireNode(client, b.BrokerId, want, utils.MaxNode, consts.NodeLeaseTTL)
		if err != nil {
			return nil, fmt.Errorf("service: lease key node: %w", err)
		}
		cs.lease = lease
		cs.closers = append(cs.closers, lease.Release)
		node = lease.Node()
	}
	logger.Logger.Infof("message key node: %d", node)
	return utils.NewKeyGenerator(node)
}

// close 按打开的逆序关闭
func (cs *components) close() {
	if cs.bus != nil {
		if err := cs.bus.Close(); err != nil {
			logger.Logger.Errorf("close bus: %v", err)
		}
		cs.bus = nil
	}
	for i := len(cs.closers) - 1; i >= 0; i-- {
		if err := cs.closers[i](); err != nil {
			logger.Logger.Errorf("close store: %v", err)
		}
	}
	cs.closers = nil
}
