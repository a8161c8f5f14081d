package cmd

import (
	"github.com/spf13/cobra"
)

var analyzeTarget float64

var analyzeCmd = &cobra.Command{
	Use:   "analyze <uploadId>",
	Short: "分析上传的音频",
	Long:  `请求服务计算波形、节拍、速度、能量和色度, 并输出推荐片段。已有分析结果时直接返回。`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		result, err := currentClient().Analyze(cmd.Context(), args[0], analyzeTarget)
		if err != nil {
			return err
		}
		return printJSON(result)
	},
}

func init() {
	analyzeCmd.Flags().Float64VarP(&analyzeTarget, "target", "t", 30, "目标片段时长(秒)")
	rootCmd.AddCommand(analyzeCmd)
}
