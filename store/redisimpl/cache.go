package redisimpl

import (
	"context"
	"strconv"
	"time"

	"gitee.com/Ljolan/si-im/store"
	"github.com/go-redis/redis"
)

type sequencer struct {
	c *redis.Client
}

func NewSequencer(c *redis.Client) store.Sequencer {
	return &sequencer{c: c}
}

// Next INCR 保证多 broker 并发下同一个 scope 不重号
func (s *sequencer) Next(_ context.Context, appId int32, scope string) (int64, error) {
	return s.c.Incr(store.SeqKey(appId, scope)).Result()
}

type dedupCache struct {
	c   *redis.Client
	ttl time.Duration
}

func NewDedupCache(c *redis.Client, ttl time.Duration) store.DedupCache {
	return &dedupCache{c: c, ttl: ttl}
}

func (d *dedupCache) Remember(_ context.Context, appId int32, messageId string, payload []byte) error {
	return d.c.Set(store.DedupKey(appId, messageId), payload, d.ttl).Err()
}

func (d *dedupCache) Recall(_ context.Context, appId int32, messageId string) ([]byte, error) {
	b, err := d.c.Get(store.DedupKey(appId, messageId)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	return b, err
}

func (d *dedupCache) Reserve(_ context.Context, appId int32, messageId string) (bool, error) {
	ttl := d.ttl
	if ttl > store.PendingTTL {
		ttl = store.PendingTTL
	}
	return d.c.SetNX(store.DedupKey(appId, messageId), store.Pending, ttl).Result()
}

var forgetPending = redis.NewScript(`
	if redis.call('GET', KEYS[1]) == ARGV[1] then
		return redis.call('DEL', KEYS[1])
	end
	return 0
`)

func (d *dedupCache) Forget(_ context.Context, appId int32, messageId string) error {
	return forgetPending.Run(d.c, []string{store.DedupKey(appId, messageId)}, store.Pending).Err()
}

// 离线消息使用 zset，score 为 messageKey，写入与裁剪放在一个事务里
type offlineQueue struct {
	c        *redis.Client
	maxCount int64
}

func NewOfflineQueue(c *redis.Client, maxCount int64) store.OfflineQueue {
	return &offlineQueue{c: c, maxCount: maxCount}
}

func (q *offlineQueue) Append(_ context.Context, appId int32, userId string, payload []byte, score int64) (int64, error) {
	key := store.OfflineKey(appId, userId)
	var trim *redis.IntCmd
	_, err := q.c.TxPipelined(func(pipe redis.Pipeliner) error {
		pipe.ZAdd(key, redis.Z{Score: float64(score), Member: payload})
		if q.maxCount > 0 {
			// 只保留分数最高的 maxCount 条
			trim = pipe.ZRemRangeByRank(key, 0, -(q.maxCount + 1))
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	if trim == nil {
		return 0, nil
	}
	return trim.Val(), nil
}

func (q *offlineQueue) ReadRange(_ context.Context, appId int32, userId string, fromScore int64, maxCount int) ([]store.OfflineEntry, int64, error) {
	opt := redis.ZRangeBy{
		Min: "(" + strconv.FormatInt(fromScore, 10),
		Max: "+inf",
	}
	if maxCount > 0 {
		opt.Count = int64(maxCount)
	}
	zs, err := q.c.ZRangeByScoreWithScores(store.OfflineKey(appId, userId), opt).Result()
	if err != nil {
		return nil, 0, err
	}
	var (
		out      = make([]store.OfflineEntry, 0, len(zs))
		maxScore int64
	)
	for _, z := range zs {
		var b []byte
		switch m := z.Member.(type) {
		case string:
			b = []byte(m)
		case []byte:
			b = m
		}
		sc := int64(z.Score)
		out = append(out, store.OfflineEntry{Score: sc, Payload: b})
		if sc > maxScore {
			maxScore = sc
		}
	}
	return out, maxScore, nil
}
