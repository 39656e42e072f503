package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"gitee.com/Ljolan/si-im/core/message"
	"gitee.com/Ljolan/si-im/logger"
)

// CallbackReq 发送前后回调业务服务的内容
type CallbackReq struct {
	AppId   int32           `json:"appId"`
	Command message.Command `json:"command"`
	Data    json.RawMessage `json:"data"`
}

// Callback 消息持久化前后的业务钩子。
// BeforeSend 同步调用，返回 *message.CodeError 表示拒绝；AfterSend 不关心结果
type Callback interface {
	BeforeSend(ctx context.Context, req *CallbackReq) error
	AfterSend(ctx context.Context, req *CallbackReq)
}

type noopCallback struct{}

func NoopCallback() Callback {
	return noopCallback{}
}

func (noopCallback) BeforeSend(context.Context, *CallbackReq) error { return nil }
func (noopCallback) AfterSend(context.Context, *CallbackReq)        {}

type HTTPCallback struct {
	beforeUrl string
	afterUrl  string
	timeout   time.Duration
	client    *http.Client
}

func NewHTTPCallback(beforeUrl, afterUrl string, timeout time.Duration) *HTTPCallback {
	return &HTTPCallback{
		beforeUrl: beforeUrl,
		afterUrl:  afterUrl,
		timeout:   timeout,
		client:    &http.Client{Timeout: timeout},
	}
}

// BeforeSend 回调失败时放行，只有业务明确拒绝才拦截
func (c *HTTPCallback) BeforeSend(ctx context.Context, req *CallbackReq) error {
	if c.beforeUrl == "" {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	resp := &message.ResponseVO{}
	if err := postJSON(ctx, c.client, c.beforeUrl, req, resp); err != nil {
		logger.Logger.Warnf("before send callback %s: %v", req.Command, err)
		return nil
	}
	if !resp.Ok() {
		return message.NewCodeError(resp.Code, resp.Msg)
	}
	return nil
}

func (c *HTTPCallback) AfterSend(ctx context.Context, req *CallbackReq) {
	if c.afterUrl == "" {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	if err := postJSON(ctx, c.client, c.afterUrl, req, nil); err != nil {
		logger.Logger.Warnf("after send callback %s: %v", req.Command, err)
	}
}
