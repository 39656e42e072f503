package memimpl

import (
	"context"
	"sort"
	"sync"
	"time"

	"gitee.com/Ljolan/si-im/store"
)

type memSequencer struct {
	mu  sync.Mutex
	seq map[string]int64
}

func NewMemSequencer() store.Sequencer {
	return &memSequencer{seq: make(map[string]int64)}
}

func (m *memSequencer) Next(_ context.Context, appId int32, scope string) (int64, error) {
	key := store.SeqKey(appId, scope)
	m.mu.Lock()
	m.seq[key]++
	v := m.seq[key]
	m.mu.Unlock()
	return v, nil
}

type cacheEntry struct {
	payload  []byte
	expireAt time.Time
}

// DedupCache 进程内去重缓存，过期条目在 Recall 时惰性淘汰，Purge 定期清理
type DedupCache struct {
	rwm *sync.RWMutex
	ttl time.Duration
	db  map[string]cacheEntry
	now func() time.Time
}

func NewDedupCache(ttl time.Duration) *DedupCache {
	return &DedupCache{
		rwm: &sync.RWMutex{},
		ttl: ttl,
		db:  make(map[string]cacheEntry),
		now: time.Now,
	}
}

func (c *DedupCache) Remember(_ context.Context, appId int32, messageId string, payload []byte) error {
	cp := make([]byte, len(payload))
	copy(cp, payload)
	c.rwm.Lock()
	c.db[store.DedupKey(appId, messageId)] = cacheEntry{payload: cp, expireAt: c.now().Add(c.ttl)}
	c.rwm.Unlock()
	return nil
}

func (c *DedupCache) Recall(_ context.Context, appId int32, messageId string) ([]byte, error) {
	key := store.DedupKey(appId, messageId)
	c.rwm.RLock()
	e, ok := c.db[key]
	c.rwm.RUnlock()
	if !ok {
		return nil, nil
	}
	if !c.now().Before(e.expireAt) {
		c.rwm.Lock()
		delete(c.db, key)
		c.rwm.Unlock()
		return nil, nil
	}
	return e.payload, nil
}

func (c *DedupCache) Reserve(_ context.Context, appId int32, messageId string) (bool, error) {
	key := store.DedupKey(appId, messageId)
	now := c.now()
	ttl := c.ttl
	if ttl > store.PendingTTL {
		ttl = store.PendingTTL
	}
	c.rwm.Lock()
	defer c.rwm.Unlock()
	if e, ok := c.db[key]; ok && now.Before(e.expireAt) {
		return false, nil
	}
	c.db[key] = cacheEntry{payload: store.Pending, expireAt: now.Add(ttl)}
	return true, nil
}

func (c *DedupCache) Forget(_ context.Context, appId int32, messageId string) error {
	key := store.DedupKey(appId, messageId)
	c.rwm.Lock()
	if e, ok := c.db[key]; ok && store.IsPending(e.payload) {
		delete(c.db, key)
	}
	c.rwm.Unlock()
	return nil
}

// Purge 清理过期条目，返回清理数量
func (c *DedupCache) Purge() int {
	now := c.now()
	c.rwm.Lock()
	defer c.rwm.Unlock()
	n := 0
	for k, e := range c.db {
		if !now.Before(e.expireAt) {
			delete(c.db, k)
			n++
		}
	}
	return n
}

func (c *DedupCache) Len() int {
	c.rwm.RLock()
	defer c.rwm.RUnlock()
	return len(c.db)
}

type memOfflineQueue struct {
	mu       sync.Mutex
	maxCount int64
	db       map[string][]store.OfflineEntry // 按 score 升序
}

func NewMemOfflineQueue(maxCount int64) store.OfflineQueue {
	return &memOfflineQueue{maxCount: maxCount, db: make(map[string][]store.OfflineEntry)}
}

func (m *memOfflineQueue) Append(_ context.Context, appId int32, userId string, payload []byte, score int64) (int64, error) {
	key := store.OfflineKey(appId, userId)
	m.mu.Lock()
	defer m.mu.Unlock()
	list := m.db[key]
	i := sort.Search(len(list), func(i int) bool { return list[i].Score >= score })
	cp := make([]byte, len(payload))
	copy(cp, payload)
	if i < len(list) && list[i].Score == score {
		list[i].Payload = cp
	} else {
		list = append(list, store.OfflineEntry{})
		copy(list[i+1:], list[i:])
		list[i] = store.OfflineEntry{Score: score, Payload: cp}
	}
	var evicted int64
	if m.maxCount > 0 && int64(len(list)) > m.maxCount {
		evicted = int64(len(list)) - m.maxCount
		list = append(list[:0:0], list[evicted:]...)
	}
	m.db[key] = list
	return evicted, nil
}

func (m *memOfflineQueue) ReadRange(_ context.Context, appId int32, userId string, fromScore int64, maxCount int) ([]store.OfflineEntry, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := m.db[store.OfflineKey(appId, userId)]
	i := sort.Search(len(list), func(i int) bool { return list[i].Score > fromScore })
	var (
		out      []store.OfflineEntry
		maxScore int64
	)
	for ; i < len(list) && (maxCount <= 0 || len(out) < maxCount); i++ {
		out = append(out, list[i])
		maxScore = list[i].Score
	}
	return out, maxScore, nil
}
