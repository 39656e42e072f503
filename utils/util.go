package utils

import (
	"os"
	"path/filepath"
	"strings"
)

/*
获取程序运行路径
*/
func GetCurrentDirectory() string {
	dir, err := os.Getwd()
	if err != nil {
		panic(err)
	}
	return strings.Replace(dir, "\\", "/", -1)
}

// GetConfigPath 在 dir 及其 config 子目录中查找配置文件，找不到时返回 dir/name
func GetConfigPath(dir, name string) string {
	candidates := []string{
		filepath.Join(dir, name),
		filepath.Join(dir, "config", name),
	}
	for _, p := range candidates {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return candidates[0]
}

func MustPanic(err error) {
	if err != nil {
		panic(err)
	}
}
