package cmd

import (
	"BratGen/server"

	"github.com/spf13/cobra"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "启动 BratGen 服务器",
	Long:  `启动 HTTP API 服务器以及渲染 worker 和临时文件清理任务`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return server.Start(cfg)
	},
}

func init() {
	rootCmd.AddCommand(serverCmd)
}
