package audio

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"os/exec"
	"strconv"
	"strings"

	"BratGen/logger"
	"BratGen/model"

	"github.com/tidwall/gjson"
)

// FFmpegProcessor 调用 ffprobe / ffmpeg 子进程实现 MediaTool
type FFmpegProcessor struct {
	ffmpegPath  string
	ffprobePath string
}

// NewFFmpegProcessor ffprobePath 为空时由 ffmpegPath 推导
func NewFFmpegProcessor(ffmpegPath, ffprobePath string) *FFmpegProcessor {
	if ffprobePath == "" {
		ffprobePath = strings.Replace(ffmpegPath, "ffmpeg", "ffprobe", 1)
	}
	return &FFmpegProcessor{ffmpegPath: ffmpegPath, ffprobePath: ffprobePath}
}

// FFmpegPath 返回 ffmpeg 可执行文件路径
func (p *FFmpegProcessor) FFmpegPath() string { return p.ffmpegPath }

// ProbeResult ffprobe 的结果
type ProbeResult struct {
	Duration   float64
	SampleRate int
	Metadata   model.MediaMetadata
}

// Probe 读取时长、采样率以及各流信息
func (p *FFmpegProcessor) Probe(ctx context.Context, inputFile string) (*ProbeResult, error) {
	args := []string{
		"-v", "error",
		"-show_format",
		"-show_streams",
		"-of", "json",
		inputFile,
	}

	cmd := exec.CommandContext(ctx, p.ffprobePath, args...)
	var out bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, &ProbeError{Path: inputFile, Err: err, Stderr: stderr.String()}
	}

	return parseProbeOutput(out.Bytes())
}

func parseProbeOutput(data []byte) (*ProbeResult, error) {
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("failed to parse ffprobe output: invalid json")
	}
	doc := gjson.ParseBytes(data)

	res := &ProbeResult{
		Duration: doc.Get("format.duration").Float(),
	}
	res.Metadata.Duration = res.Duration
	res.Metadata.Bitrate = doc.Get("format.bit_rate").Int()

	doc.Get("streams").ForEach(func(_, stream gjson.Result) bool {
		switch stream.Get("codec_type").String() {
		case "audio":
			if res.Metadata.Audio != nil {
				return true
			}
			rate := int(stream.Get("sample_rate").Int())
			res.Metadata.Audio = &model.AudioStreamInfo{
				SampleRate: rate,
				Channels:   int(stream.Get("channels").Int()),
			}
			res.SampleRate = rate
		case "video":
			if res.Metadata.Video != nil {
				return true
			}
			res.Metadata.Video = &model.VideoStreamInfo{
				Width:  int(stream.Get("width").Int()),
				Height: int(stream.Get("height").Int()),
				FPS:    parseFrameRate(stream.Get("avg_frame_rate").String()),
			}
		}
		return true
	})

	return res, nil
}

// parseFrameRate 解析 "30000/1001" 形式的帧率
func parseFrameRate(s string) float64 {
	num, den, ok := strings.Cut(s, "/")
	if !ok {
		v, _ := strconv.ParseFloat(s, 64)
		return v
	}
	n, err1 := strconv.ParseFloat(num, 64)
	d, err2 := strconv.ParseFloat(den, 64)
	if err1 != nil || err2 != nil || d == 0 {
		return 0
	}
	return n / d
}

// DecodePCM 以 f32le 单声道解码到 stdout
func (p *FFmpegProcessor) DecodePCM(ctx context.Context, inputFile string, sampleRate int) ([]float32, error) {
	args := []string{
		"-v", "error",
		"-i", inputFile,
		"-vn",
		"-ac", "1",
		"-ar", strconv.Itoa(sampleRate),
		"-f", "f32le",
		"pipe:1",
	}

	cmd := exec.CommandContext(ctx, p.ffmpegPath, args...)
	var out bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &stderr

	logger.Debug("执行 FFmpeg 解码",
		logger.String("input", inputFile),
		logger.String("args", strings.Join(args, " ")))

	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = errors.Join(err, ctxErr)
		}
		return nil, &DecodeError{Path: inputFile, Err: err, Stderr: stderr.String()}
	}

	return decodeFloat32LE(out.Bytes()), nil
}

// decodeFloat32LE 末尾不足 4 字节的部分丢弃
func decodeFloat32LE(data []byte) []float32 {
	n := len(data) / 4
	samples := make([]float32, n)
	for i := 0; i < n; i++ {
		bits := binary.LittleEndian.Uint32(data[i*4:])
		samples[i] = math.Float32frombits(bits)
	}
	return samples
}
