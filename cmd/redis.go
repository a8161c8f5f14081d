package cmd

import (
	"fmt"

	"BratGen/core/render"
	"BratGen/db"
	"BratGen/logger"

	"github.com/spf13/cobra"
)

var redisCmd = &cobra.Command{
	Use:   "redis",
	Short: "Redis连接测试",
	Long:  `测试Redis连接是否成功，进行基本读写操作，并显示渲染队列长度。`,
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Printf("Redis配置: %s:%s, DB: %d\n", cfg.RedisHost, cfg.RedisPort, cfg.RedisDB)

		client, err := db.ConnectRedis(cfg)
		if err != nil {
			return err
		}
		defer func() {
			if err := client.Close(); err != nil {
				logger.Warn("关闭Redis连接时发生错误", logger.ErrorField(err))
			}
		}()
		fmt.Println("Redis连接成功！")

		if err := db.CheckRedis(cmd.Context(), client); err != nil {
			return fmt.Errorf("Redis操作测试失败: %w", err)
		}
		fmt.Println("Redis基本操作测试成功！")

		queue := render.NewRedisQueue(client, cfg.RedisQueueKey)
		pending, err := queue.Pending(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Printf("渲染队列 %s: %d 个任务排队中\n", cfg.RedisQueueKey, pending)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(redisCmd)
}
