package memimpl

import (
	"context"
	"strconv"
	"sync"

	"gitee.com/Ljolan/si-im/store"
)

// HistoryStore 只保存在内存里，开发环境使用
type HistoryStore struct {
	mu      sync.Mutex
	records []store.HistoryRecord
}

func NewHistoryStore() *HistoryStore {
	return &HistoryStore{}
}

func (h *HistoryStore) Save(_ context.Context, rec *store.HistoryRecord) error {
	h.mu.Lock()
	h.records = append(h.records, *rec)
	h.mu.Unlock()
	return nil
}

func (h *HistoryStore) Records() []store.HistoryRecord {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]store.HistoryRecord, len(h.records))
	copy(out, h.records)
	return out
}

func (h *HistoryStore) Close() error {
	return nil
}

type GroupStore struct {
	rwm     sync.RWMutex
	members map[string][]string
}

func NewGroupStore() *GroupStore {
	return &GroupStore{members: make(map[string][]string)}
}

func groupKey(appId int32, groupId string) string {
	return strconv.FormatInt(int64(appId), 10) + ":" + groupId
}

func (g *GroupStore) SetMembers(appId int32, groupId string, members ...string) {
	g.rwm.Lock()
	g.members[groupKey(appId, groupId)] = append([]string(nil), members...)
	g.rwm.Unlock()
}

func (g *GroupStore) Members(_ context.Context, appId int32, groupId string) ([]string, error) {
	g.rwm.RLock()
	defer g.rwm.RUnlock()
	return append([]string(nil), g.members[groupKey(appId, groupId)]...), nil
}
