package cmd

import (
	"fmt"

	"mvgen/cache"

	"github.com/spf13/cobra"
)

var redisCmd = &cobra.Command{
	Use:   "redis",
	Short: "Redis 连接测试",
	Long:  `测试分析缓存使用的 Redis 是否可用，并进行一次读写。`,
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Printf("Redis配置: %s:%s, DB: %d\n", cfg.RedisHost, cfg.RedisPort, cfg.RedisDB)

		if err := cache.ConnectRedis(cfg); err != nil {
			return fmt.Errorf("无法连接到Redis: %w", err)
		}
		defer cache.CloseRedis()
		fmt.Println("Redis连接成功！")

		if err := cache.CheckRedis(cmd.Context()); err != nil {
			return fmt.Errorf("Redis读写测试失败: %w", err)
		}
		fmt.Println("Redis读写测试成功！")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(redisCmd)
}
