package cmd

import (
	"errors"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

var alignLyricsFile string

var alignCmd = &cobra.Command{
	Use:   "align <uploadId>",
	Short: "把歌词对齐到上传的音频",
	Long:  `从文件或标准输入读取歌词, 逐行输出起止时间。转录不可用时按节拍分配。`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var data []byte
		var err error
		if alignLyricsFile == "" || alignLyricsFile == "-" {
			data, err = io.ReadAll(cmd.InOrStdin())
		} else {
			data, err = os.ReadFile(alignLyricsFile)
		}
		if err != nil {
			return err
		}
		if strings.TrimSpace(string(data)) == "" {
			return errors.New("lyrics must not be empty")
		}

		transcript, err := currentClient().Align(cmd.Context(), args[0], string(data))
		if err != nil {
			return err
		}
		return printJSON(transcript)
	},
}

func init() {
	alignCmd.Flags().StringVarP(&alignLyricsFile, "lyrics", "l", "", "歌词文件, 默认读标准输入")
	rootCmd.AddCommand(alignCmd)
}
