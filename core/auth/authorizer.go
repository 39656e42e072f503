package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"gitee.com/Ljolan/si-im/core/message"
	"gitee.com/Ljolan/si-im/logger"
)

// AuthorizeReq 发送前的权限校验请求
type AuthorizeReq struct {
	AppId   int32           `json:"appId"`
	FromId  string          `json:"fromId"`
	ToId    string          `json:"toId"` // 单聊为接收方，群聊为群 id
	Command message.Command `json:"command"`
}

// Authorizer 同步校验发送权限，拒绝时返回 *message.CodeError
type Authorizer interface {
	Authorize(ctx context.Context, req *AuthorizeReq) error
}

type allowAll struct{}

func AllowAll() Authorizer {
	return allowAll{}
}

func (allowAll) Authorize(context.Context, *AuthorizeReq) error {
	return nil
}

// HTTPAuthorizer 调用业务服务的校验接口。
// 超时或服务不可用按拒绝处理，不重试
type HTTPAuthorizer struct {
	url     string
	timeout time.Duration
	client  *http.Client
}

func NewHTTPAuthorizer(url string, timeout time.Duration) *HTTPAuthorizer {
	return &HTTPAuthorizer{
		url:     url,
		timeout: timeout,
		client:  &http.Client{Timeout: timeout},
	}
}

func (a *HTTPAuthorizer) Authorize(ctx context.Context, req *AuthorizeReq) error {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	resp := &message.ResponseVO{}
	if err := postJSON(ctx, a.client, a.url, req, resp); err != nil {
		logger.Logger.Warnf("authorize %s %s->%s failed: %v", req.Command, req.FromId, req.ToId, err)
		return message.ErrAuthTimeout
	}
	if !resp.Ok() {
		return message.NewCodeError(resp.Code, resp.Msg)
	}
	return nil
}

func postJSON(ctx context.Context, c *http.Client, url string, in, out interface{}) error {
	body, err := json.Marshal(in)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("auth: %s returned %s", url, resp.Status)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// IsDenied 区分业务拒绝与系统错误
func IsDenied(err error) bool {
	var ce *message.CodeError
	return errors.As(err, &ce)
}
