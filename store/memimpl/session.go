package memimpl

import (
	"context"
	"sort"
	"sync"

	"gitee.com/Ljolan/si-im/core/message"
	"gitee.com/Ljolan/si-im/store"
)

type memSessionStore struct {
	rwm *sync.RWMutex
	db  map[string]map[string]store.Session // sessionKey --> field --> session
}

func NewMemSessionStore() store.SessionStore {
	return &memSessionStore{
		rwm: &sync.RWMutex{},
		db:  make(map[string]map[string]store.Session),
	}
}

func (m *memSessionStore) Save(_ context.Context, s *store.Session) error {
	m.rwm.Lock()
	defer m.rwm.Unlock()
	key := store.SessionKey(s.AppId, s.UserId)
	fs, ok := m.db[key]
	if !ok {
		fs = make(map[string]store.Session)
		m.db[key] = fs
	}
	fs[s.Field()] = *s
	return nil
}

func (m *memSessionStore) MarkOffline(_ context.Context, appId int32, userId string, clientType message.ClientType, imei, brokerId string) error {
	m.rwm.Lock()
	defer m.rwm.Unlock()
	fs := m.db[store.SessionKey(appId, userId)]
	field := store.SessionField(clientType, imei)
	s, ok := fs[field]
	if !ok {
		return nil
	}
	if s.BrokerId != brokerId {
		return store.ErrNotOwner
	}
	s.ConnectState = message.Offline
	fs[field] = s
	return nil
}

func (m *memSessionStore) Delete(_ context.Context, appId int32, userId string, clientType message.ClientType, imei, brokerId string) error {
	m.rwm.Lock()
	defer m.rwm.Unlock()
	key := store.SessionKey(appId, userId)
	fs := m.db[key]
	field := store.SessionField(clientType, imei)
	s, ok := fs[field]
	if !ok {
		return nil
	}
	if s.BrokerId != brokerId {
		return store.ErrNotOwner
	}
	delete(fs, field)
	if len(fs) == 0 {
		delete(m.db, key)
	}
	return nil
}

func (m *memSessionStore) Get(_ context.Context, appId int32, userId string, clientType message.ClientType, imei string) (*store.Session, error) {
	m.rwm.RLock()
	defer m.rwm.RUnlock()
	s, ok := m.db[store.SessionKey(appId, userId)][store.SessionField(clientType, imei)]
	if !ok {
		return nil, nil
	}
	return &s, nil
}

func (m *memSessionStore) List(_ context.Context, appId int32, userId string) ([]*store.Session, error) {
	m.rwm.RLock()
	defer m.rwm.RUnlock()
	fs := m.db[store.SessionKey(appId, userId)]
	out := make([]*store.Session, 0, len(fs))
	for _, s := range fs {
		s := s
		out = append(out, &s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Field() < out[j].Field() })
	return out, nil
}
