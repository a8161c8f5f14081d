package cmd

import (
	"fmt"
	"time"

	"BratGen/storage"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var storagePrefix string

var storageCmd = &cobra.Command{
	Use:   "storage",
	Short: "存储管理",
	Long:  `查看当前存储后端中的文件, 清理过期的本地副本。`,
}

var storageListCmd = &cobra.Command{
	Use:   "ls",
	Short: "列出存储中的文件和统计信息",
	RunE: func(cmd *cobra.Command, args []string) error {
		backend, err := storage.NewBackend(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		objects, err := backend.List(cmd.Context(), storagePrefix)
		if err != nil {
			return err
		}
		usage := storage.SummarizeUsage(objects)

		fmt.Printf("后端: %s %s\n", backend.Kind(), backend.Bucket())
		fmt.Printf("前缀过滤: %q\n", storagePrefix)
		fmt.Printf("总文件数: %d\n", usage.TotalObjects)
		fmt.Printf("总存储大小: %s\n", humanize.Bytes(uint64(usage.TotalSize)))
		if !usage.LastModified.IsZero() {
			fmt.Printf("最后更新时间: %s\n", usage.LastModified.Format("2006-01-02 15:04:05"))
		}
		fmt.Println()
		for _, obj := range objects {
			fmt.Printf("  %-60s %10s  %s\n", obj.Key, humanize.Bytes(uint64(obj.Size)), obj.LastModified.Format(time.DateTime))
		}
		return nil
	},
}

var storageSweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "删除过期的本地临时副本",
	RunE: func(cmd *cobra.Command, args []string) error {
		removed, freed, err := storage.NewSweeper(cfg.TmpDir, cfg.TmpMaxAge).Sweep()
		if err != nil {
			return err
		}
		fmt.Printf("已删除 %d 个文件, 释放 %s\n", removed, humanize.Bytes(uint64(freed)))
		return nil
	},
}

func init() {
	storageListCmd.Flags().StringVarP(&storagePrefix, "prefix", "p", "", "只列出该前缀下的文件")
	storageCmd.AddCommand(storageListCmd, storageSweepCmd)
	rootCmd.AddCommand(storageCmd)
}
