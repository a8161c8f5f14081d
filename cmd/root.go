package cmd

import (
	"fmt"
	"os"

	"BratGen/config"
	"BratGen/logger"

	"github.com/spf13/cobra"
)

// cfg 由 PersistentPreRunE 加载, 所有子命令共用
var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:           "bratgen",
	Short:         "BratGen lyric-edit backend",
	Long:          `BratGen 选出音乐的最佳片段, 分析节拍、对齐歌词, 并用 ffmpeg 渲染成短视频。`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg = config.Load()
		return logger.InitLogger(logger.Config{
			Level:      logger.LogLevel(cfg.LogLevel),
			OutputPath: cfg.LogFile,
			MaxSize:    cfg.LogMaxSize,
			MaxBackups: cfg.LogMaxBackups,
			MaxAge:     cfg.LogMaxAge,
			Compress:   true,
		})
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logger.Sync()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "BratGen 服务地址, 默认 http://127.0.0.1 加 HTTP_ADDR 端口")
}

// Execute executes the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
