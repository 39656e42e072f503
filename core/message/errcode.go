package message

import "fmt"

const (
	CodeSuccess = 200

	CodeSystemError   = 90000
	CodeParamError    = 90001
	CodePoolOverload  = 90002
	CodeAuthTimeout   = 90003
	CodeRateLimited   = 90004
	CodeNotLoggedIn   = 90005
	CodeUnparsedBody  = 90006
	CodeAuthorizeDeny = 90007
)

// CodeError 携带业务错误码的错误，最终转换为 ResponseVO 回执
type CodeError struct {
	Code int
	Msg  string
}

func (e *CodeError) Error() string {
	return fmt.Sprintf("code %d: %s", e.Code, e.Msg)
}

func NewCodeError(code int, msg string) *CodeError {
	return &CodeError{Code: code, Msg: msg}
}

var (
	ErrSystem       = NewCodeError(CodeSystemError, "system error")
	ErrParam        = NewCodeError(CodeParamError, "parameter error")
	ErrPoolOverload = NewCodeError(CodePoolOverload, "server busy, please retry later")
	ErrAuthTimeout  = NewCodeError(CodeAuthTimeout, "authorization service unavailable")
	ErrRateLimited  = NewCodeError(CodeRateLimited, "too many requests")
	ErrNotLoggedIn  = NewCodeError(CodeNotLoggedIn, "not logged in")
	ErrUnparsedBody = NewCodeError(CodeUnparsedBody, "body encoding not supported")
	ErrDenied       = NewCodeError(CodeAuthorizeDeny, "permission denied")
)
