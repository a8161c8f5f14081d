package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"BratGen/model"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

var (
	renderStart      float64
	renderEnd        float64
	renderResolution string
	renderAspect     string
	renderMusic      bool
	renderOriginal   bool
	renderGainDb     float64
	renderDuckingDb  float64
	renderFadeMs     float64
	renderWait       bool
)

const pollInterval = 250 * time.Millisecond

var renderCmd = &cobra.Command{
	Use:   "render <uploadId>",
	Short: "提交渲染任务",
	Long: `向运行中的服务提交一个渲染任务。加 --wait 时轮询任务进度直到结束,
并输出下载地址。`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		client := currentClient()

		end := renderEnd
		if end <= 0 {
			upload, err := client.GetUpload(ctx, args[0])
			if err != nil {
				return err
			}
			if upload == nil {
				return fmt.Errorf("upload %s not found", args[0])
			}
			end = upload.Duration
		}
		body := renderBody{
			UploadID: args[0],
			Segment:  model.RenderSegment{Start: renderStart, End: end},
			Options: renderBodyOptions{
				Resolution:  renderResolution,
				Aspect:      renderAspect,
				MusicGainDb: renderGainDb,
			},
		}
		flags := cmd.Flags()
		if flags.Changed("music") {
			body.Options.IncludeMusic = &renderMusic
		}
		if flags.Changed("original") {
			body.Options.IncludeOriginal = &renderOriginal
		}
		if flags.Changed("ducking") {
			body.Options.DuckingDb = &renderDuckingDb
		}
		if flags.Changed("fade") {
			body.Options.FadeMs = &renderFadeMs
		}

		job, err := client.SubmitRender(ctx, body)
		if err != nil {
			return err
		}
		fmt.Printf("渲染任务已提交: %s\n", job.ID)
		if !renderWait {
			return nil
		}

		done, err := waitForJob(ctx, client, job.ID, pollInterval, cmd.ErrOrStderr())
		if err != nil {
			return err
		}
		fmt.Printf("渲染完成: %s%s\n", client.baseURL, done.Output.DownloadURL)
		return nil
	},
}

// waitForJob 轮询任务直到终态, 只有 completed 返回 nil 错误
func waitForJob(ctx context.Context, client *apiClient, id string, interval time.Duration, out io.Writer) (*model.PublicRenderJob, error) {
	bar := progressbar.NewOptions(100,
		progressbar.OptionSetWriter(out),
		progressbar.OptionSetDescription("rendering"),
		progressbar.OptionShowElapsedTimeOnFinish(),
	)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		job, err := client.GetJob(ctx, id)
		if err != nil {
			return nil, err
		}
		_ = bar.Set(int(job.Progress * 100))

		if job.Status.Terminal() {
			_ = bar.Finish()
			fmt.Fprintln(out)
			switch job.Status {
			case model.RenderCompleted:
				if job.Output == nil {
					return nil, errors.New("render completed without output")
				}
				return job, nil
			case model.RenderFailed:
				msg := "unknown error"
				if job.Error != nil {
					msg = *job.Error
				}
				return nil, fmt.Errorf("render failed after %d attempt(s): %s", job.Attempts, msg)
			default:
				return nil, errors.New("render was cancelled")
			}
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func init() {
	f := renderCmd.Flags()
	f.Float64Var(&renderStart, "start", 0, "片段起点(秒)")
	f.Float64Var(&renderEnd, "end", 0, "片段终点(秒), 默认到上传结尾")
	f.StringVar(&renderResolution, "resolution", "720p", "720p 或 1080p")
	f.StringVar(&renderAspect, "aspect", "9:16", "9:16、1:1 或 16:9")
	f.BoolVar(&renderMusic, "music", true, "混入音乐轨, 默认有音乐轨时混入")
	f.BoolVar(&renderOriginal, "original", true, "保留原声")
	f.Float64Var(&renderGainDb, "gain", 0, "音乐增益(dB)")
	f.Float64Var(&renderDuckingDb, "ducking", model.DefaultDuckingDb, "原声闪避量(dB)")
	f.Float64Var(&renderFadeMs, "fade", model.DefaultFadeMs, "淡入淡出(ms)")
	f.BoolVarP(&renderWait, "wait", "w", false, "等待渲染完成")
	rootCmd.AddCommand(renderCmd)
}
