package logger

import (
	"gitee.com/Ljolan/si-im/logger/logs"
	"github.com/buguang01/util"
)

// Logger 全局日志，进程启动时由 LogInit 初始化
var Logger = logs.NewNopLog()

func LogInit(level string) {
	util.SetLocation(util.BeiJing)
	logs.LogInit(level)
	Logger = logs.GetLogger()
}
