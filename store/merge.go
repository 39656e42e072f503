package store

import (
	"context"
	"fmt"
	"strconv"
	"sync"
)

// 请求合并：同一个群同时有多条消息在扇出时，只查询一次成员列表

type call struct {
	wg  sync.WaitGroup
	val []string
	err error
}

type mergeGroup struct {
	sync.Mutex
	m map[string]*call
}

// do 同 key 的并发调用只执行一次 fn，其它调用等待并共享结果。
// fn panic 时转为错误返回给所有等待者，避免等待者永久阻塞
func (g *mergeGroup) do(key string, fn func() ([]string, error)) ([]string, error, bool) {
	g.Lock()
	if g.m == nil {
		g.m = make(map[string]*call)
	}
	if c, ok := g.m[key]; ok {
		g.Unlock()
		c.wg.Wait()
		return c.val, c.err, true
	}
	c := new(call)
	c.wg.Add(1)
	g.m[key] = c
	g.Unlock()

	func() {
		defer func() {
			if r := recover(); r != nil {
				c.err = fmt.Errorf("store: member lookup panic: %v", r)
			}
			c.wg.Done()
			g.Lock()
			delete(g.m, key)
			g.Unlock()
		}()
		c.val, c.err = fn()
	}()
	return c.val, c.err, false
}

type mergedMembers struct {
	inner GroupMemberStore
	g     mergeGroup
}

// MergeMembers 给群成员查询加上请求合并
func MergeMembers(inner GroupMemberStore) GroupMemberStore {
	return &mergedMembers{inner: inner}
}

func (m *mergedMembers) Members(ctx context.Context, appId int32, groupId string) ([]string, error) {
	key := strconv.FormatInt(int64(appId), 10) + ":" + groupId
	v, err, shared := m.g.do(key, func() ([]string, error) {
		return m.inner.Members(ctx, appId, groupId)
	})
	if shared && v != nil {
		// 共享结果时复制一份，调用方可以自由修改
		v = append([]string(nil), v...)
	}
	return v, err
}
