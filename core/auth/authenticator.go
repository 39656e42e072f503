package auth

import (
	"context"
	"errors"
	"fmt"

	"gitee.com/Ljolan/si-im/core/message"
	"gitee.com/Ljolan/si-im/logger"
)

var ErrAuthFailure = errors.New("auth: authentication failure")

// Authenticator 登录凭证校验，签名验证由外部用户服务负责
type Authenticator interface {
	Authenticate(ctx context.Context, info *message.ClientInfo, pack *message.LoginPack) error
}

const Default = "default"

// 认证插件在这里登记，配置里只能选择登记过的名字
var providers = map[string]func() Authenticator{
	Default: NewDefaultAuth,
}

func NewAuthenticator(name string) (Authenticator, error) {
	if name == "" {
		name = Default
	}
	fn, ok := providers[name]
	if !ok {
		return nil, fmt.Errorf("auth: unknown provider %q", name)
	}
	a := fn()
	logger.Logger.Infof("use authenticator '%s', %T", name, a)
	return a, nil
}

type noAuthenticator struct{}

func NewDefaultAuth() Authenticator {
	return noAuthenticator{}
}

// Authenticate 默认不校验凭证，只要求 userId 非空
func (noAuthenticator) Authenticate(_ context.Context, _ *message.ClientInfo, pack *message.LoginPack) error {
	if pack == nil || pack.UserId == "" {
		return ErrAuthFailure
	}
	return nil
}
