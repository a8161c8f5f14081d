package audio

import "context"

// MediaTool 探测与解码媒体文件, 默认实现为 FFmpegProcessor
type MediaTool interface {
	Probe(ctx context.Context, inputFile string) (*ProbeResult, error)
	// DecodePCM 解码为单声道 float32 PCM, 采样率为 sampleRate
	DecodePCM(ctx context.Context, inputFile string, sampleRate int) ([]float32, error)
}
