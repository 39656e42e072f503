package main

import "gitee.com/Ljolan/si-im/core/cli"

func main() {
	cli.Start()
}
