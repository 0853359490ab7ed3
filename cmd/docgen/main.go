// docgen 在本地跑一次完整的文档生成流水线，不依赖 Redis 和数据库
package main

import (
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
