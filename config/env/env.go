package env

import "os"

const (
	SICfgName = "CFG_NAME"
	SICfgPath = "SI_CFG_PATH"
)

var defaults = map[string]string{
	SICfgName: "config.toml",
	SICfgPath: "",
}

// GetEnv 优先读取进程环境变量，其次使用内置默认值
func GetEnv(envKey string) (string, bool) {
	if v := os.Getenv(envKey); v != "" {
		return v, true
	}
	v, exist := defaults[envKey]
	return v, exist && v != ""
}
