package redisimpl

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"gitee.com/Ljolan/si-im/core/message"
	"gitee.com/Ljolan/si-im/store"
	"github.com/go-redis/redis"
)

// 会话存放在 hash {appId}:userSession:{userId} 中，field 为 {clientType}:{imei}，value 为 json。
// 下线与删除需要先确认会话仍归属当前 broker，用脚本保证原子性
var ownedUpdate = redis.NewScript(`
	local v = redis.call('HGET', KEYS[1], ARGV[1])
	if not v then
		return 0
	end
	local s = cjson.decode(v)
	if s['brokerId'] ~= ARGV[2] then
		return -1
	end
	if ARGV[3] == 'del' then
		redis.call('HDEL', KEYS[1], ARGV[1])
		return 1
	end
	s['connectState'] = tonumber(ARGV[4])
	redis.call('HSET', KEYS[1], ARGV[1], cjson.encode(s))
	return 1
`)

type sessionStore struct {
	c *redis.Client
}

func NewSessionStore(c *redis.Client) store.SessionStore {
	return &sessionStore{c: c}
}

func (r *sessionStore) Save(_ context.Context, s *store.Session) error {
	b, err := json.Marshal(s)
	if err != nil {
		return err
	}
	return r.c.HSet(store.SessionKey(s.AppId, s.UserId), s.Field(), b).Err()
}

func (r *sessionStore) owned(appId int32, userId string, clientType message.ClientType, imei, brokerId, op string) error {
	v, err := ownedUpdate.Run(r.c, []string{store.SessionKey(appId, userId)},
		store.SessionField(clientType, imei), brokerId, op, int(message.Offline)).Result()
	if err != nil {
		return err
	}
	if n, ok := v.(int64); ok && n < 0 {
		return store.ErrNotOwner
	}
	return nil
}

func (r *sessionStore) MarkOffline(_ context.Context, appId int32, userId string, clientType message.ClientType, imei, brokerId string) error {
	return r.owned(appId, userId, clientType, imei, brokerId, "offline")
}

func (r *sessionStore) Delete(_ context.Context, appId int32, userId string, clientType message.ClientType, imei, brokerId string) error {
	return r.owned(appId, userId, clientType, imei, brokerId, "del")
}

func (r *sessionStore) Get(_ context.Context, appId int32, userId string, clientType message.ClientType, imei string) (*store.Session, error) {
	b, err := r.c.HGet(store.SessionKey(appId, userId), store.SessionField(clientType, imei)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	s := &store.Session{}
	if err = json.Unmarshal(b, s); err != nil {
		return nil, fmt.Errorf("redisimpl: decode session: %w", err)
	}
	return s, nil
}

func (r *sessionStore) List(_ context.Context, appId int32, userId string) ([]*store.Session, error) {
	all, err := r.c.HGetAll(store.SessionKey(appId, userId)).Result()
	if err != nil {
		return nil, err
	}
	out := make([]*store.Session, 0, len(all))
	for field, v := range all {
		s := &store.Session{}
		if err = json.Unmarshal([]byte(v), s); err != nil {
			return nil, fmt.Errorf("redisimpl: decode session %s: %w", field, err)
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Field() < out[j].Field() })
	return out, nil
}
