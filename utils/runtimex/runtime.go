package runtimex

import (
	"runtime/debug"

	"gitee.com/Ljolan/si-im/logger"
)

// Recover 放在 defer 中使用，吞掉 panic 并记录堆栈
func Recover() {
	if err := recover(); err != nil {
		logger.Logger.Errorf("recover: %+v\n%s", err, debug.Stack())
	}
}

// Go 起一个带 recover 的协程
func Go(f func()) {
	go func() {
		defer Recover()
		f()
	}()
}
