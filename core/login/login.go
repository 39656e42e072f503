package login

import (
	"fmt"

	"gitee.com/Ljolan/si-im/core/message"
	"gitee.com/Ljolan/si-im/core/registry"
)

// Model 多端登录策略
type Model int

const (
	Single Model = iota + 1
	Dual
	Triple
	Unrestricted
)

var modelNames = map[string]Model{
	"single":       Single,
	"dual":         Dual,
	"triple":       Triple,
	"unrestricted": Unrestricted,
}

func ParseModel(s string) (Model, error) {
	m, ok := modelNames[s]
	if !ok {
		return 0, fmt.Errorf("login: unknown model %q", s)
	}
	return m, nil
}

func (m Model) String() string {
	for k, v := range modelNames {
		if v == m {
			return k
		}
	}
	return fmt.Sprintf("Model(%d)", int(m))
}

// conflict 判断已在线设备 old 是否需要让位给新登录的 cur
type conflict func(cur, old message.ClientType) bool

var strategies = map[Model]conflict{
	Single: func(_, _ message.ClientType) bool {
		return true
	},
	// web 端不参与互踢，其余任意两个端互斥
	Dual: func(cur, old message.ClientType) bool {
		return !cur.IsWeb() && !old.IsWeb()
	},
	// web 端不参与互踢，移动端之间互斥，桌面端之间互斥
	Triple: func(cur, old message.ClientType) bool {
		if cur.IsWeb() || old.IsWeb() {
			return false
		}
		return cur.Class() == old.Class()
	},
	Unrestricted: func(_, _ message.ClientType) bool {
		return false
	},
}

// Resolve 返回需要收到下线通知的已在线设备。
// 只做判断不做 IO，同一设备重连由注册表的重绑处理，不在这里返回
func Resolve(model Model, cur registry.Identity, existing []registry.Identity) []registry.Identity {
	fn, ok := strategies[model]
	if !ok {
		return nil
	}
	var out []registry.Identity
	seen := make(map[string]struct{}, len(existing))
	for _, old := range existing {
		if old.AppId != cur.AppId || old.UserId != cur.UserId || old.SameDevice(cur) {
			continue
		}
		key := old.Key()
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		if fn(cur.ClientType, old.ClientType) {
			out = append(out, old)
		}
	}
	return out
}
