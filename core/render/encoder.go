package render

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"BratGen/logger"
	"BratGen/model"
)

// EncodeRequest 一次编码所需的全部输入
type EncodeRequest struct {
	VideoPath  string
	MusicPath  string
	OutputPath string
	Segment    model.RenderSegment
	Options    model.RenderOptions
}

// Encoder 执行编码, onProgress 可能在任意 goroutine 上被调用
type Encoder interface {
	Encode(ctx context.Context, req EncodeRequest, onProgress func(float64)) error
}

// EncoderError ffmpeg 非零退出
type EncoderError struct {
	Err    error
	Stderr string
}

func (e *EncoderError) Error() string {
	stderr := strings.TrimSpace(e.Stderr)
	if len(stderr) > 2048 {
		stderr = stderr[len(stderr)-2048:]
	}
	if stderr == "" {
		return fmt.Sprintf("ffmpeg exited: %v", e.Err)
	}
	return fmt.Sprintf("ffmpeg exited: %v: %s", e.Err, stderr)
}

func (e *EncoderError) Unwrap() error { return e.Err }

// FFmpegEncoder 调用 ffmpeg 子进程编码, 通过 -progress 文件回报进度
type FFmpegEncoder struct {
	ffmpegPath string
}

func NewFFmpegEncoder(ffmpegPath string) *FFmpegEncoder {
	return &FFmpegEncoder{ffmpegPath: ffmpegPath}
}

func formatSeconds(v float64) string {
	return strconv.FormatFloat(v, 'f', 3, 64)
}

// BuildEncodeArgs 生成 ffmpeg 参数, progressPath 为空时不输出进度
func BuildEncodeArgs(req EncodeRequest, progressPath string) []string {
	duration := req.Segment.Duration()
	graph := BuildMixGraph(req.Options, duration, req.MusicPath != "")

	args := []string{
		"-y", "-hide_banner", "-nostats", "-loglevel", "error",
		"-ss", formatSeconds(req.Segment.Start), "-t", formatSeconds(duration), "-i", req.VideoPath,
	}
	if graph.UsesMusic {
		args = append(args, "-ss", formatSeconds(req.Segment.Start), "-t", formatSeconds(duration), "-i", req.MusicPath)
	}

	filters := VideoFilter(ResolveFrameSize(req.Options.Resolution, req.Options.Aspect))
	if !graph.Silent {
		filters += ";" + graph.Filters
	}
	args = append(args, "-filter_complex", filters, "-map", "[vout]")

	if graph.Silent {
		args = append(args, "-an")
	} else {
		args = append(args, "-map", graph.AudioLabel, "-c:a", "aac", "-b:a", "192k")
	}

	args = append(args,
		"-c:v", "libx264",
		"-preset", "veryfast",
		"-crf", "20",
		"-movflags", "+faststart",
	)
	if progressPath != "" {
		args = append(args, "-progress", progressPath)
	}
	return append(args, req.OutputPath)
}

// Encode 阻塞直到 ffmpeg 退出或 ctx 取消
func (e *FFmpegEncoder) Encode(ctx context.Context, req EncodeRequest, onProgress func(float64)) error {
	outputDir := filepath.Dir(req.OutputPath)
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory %s: %w", outputDir, err)
	}

	progressPath := filepath.Join(outputDir, "progress.log")
	watcher, err := WatchProgress(progressPath, req.Segment.Duration(), onProgress)
	if err != nil {
		logger.Warn("无法监听编码进度", logger.ErrorField(err))
		progressPath = ""
	}

	args := BuildEncodeArgs(req, progressPath)
	cmd := exec.CommandContext(ctx, e.ffmpegPath, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	logger.Debug("执行 FFmpeg 渲染",
		logger.String("output", req.OutputPath),
		logger.String("args", strings.Join(args, " ")))

	runErr := cmd.Run()
	if watcher != nil {
		watcher.Close()
		os.Remove(progressPath)
	}
	if runErr != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return errors.Join(ctxErr, &EncoderError{Err: runErr, Stderr: stderr.String()})
		}
		return &EncoderError{Err: runErr, Stderr: stderr.String()}
	}
	return nil
}
