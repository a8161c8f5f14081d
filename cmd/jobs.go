package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "渲染任务管理",
}

var jobsListCmd = &cobra.Command{
	Use:   "list",
	Short: "列出渲染任务",
	RunE: func(cmd *cobra.Command, args []string) error {
		jobs, health, err := currentClient().ListJobs(cmd.Context())
		if err != nil {
			return err
		}
		if health != nil {
			fmt.Printf("队列: %s, 排队中: %d\n\n", health.Backend, health.Queued)
		}

		tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tSTATUS\tPROGRESS\tATTEMPTS\tUPDATED\tERROR")
		for _, j := range jobs {
			errText := ""
			if j.Error != nil {
				errText = *j.Error
			}
			fmt.Fprintf(tw, "%s\t%s\t%.0f%%\t%d\t%s\t%s\n",
				j.ID, j.Status, j.Progress*100, j.Attempts, humanize.RelTime(j.UpdatedAt, time.Now(), "ago", "from now"), errText)
		}
		return tw.Flush()
	},
}

var jobsRetryCmd = &cobra.Command{
	Use:   "retry <jobId>",
	Short: "重新排队失败的任务",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		job, err := currentClient().RetryJob(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Printf("任务 %s 已重新排队 (已尝试 %d 次)\n", job.ID, job.Attempts)
		return nil
	},
}

var jobsCancelCmd = &cobra.Command{
	Use:   "cancel <jobId>",
	Short: "取消排队中的任务",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		job, err := currentClient().CancelJob(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Printf("任务 %s 已取消\n", job.ID)
		return nil
	},
}

func init() {
	jobsCmd.AddCommand(jobsListCmd, jobsRetryCmd, jobsCancelCmd)
	rootCmd.AddCommand(jobsCmd)
}
