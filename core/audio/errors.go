package audio

import (
	"errors"
	"fmt"
)

// ErrMissingMedia 上传既没有音频也没有视频文件
var ErrMissingMedia = errors.New("upload has no media file to analyze")

// ProbeError ffprobe 执行失败
type ProbeError struct {
	Path   string
	Err    error
	Stderr string
}

func (e *ProbeError) Error() string {
	return fmt.Sprintf("ffprobe execution failed for %s: %v\nFFprobe Error: %s", e.Path, e.Err, e.Stderr)
}

func (e *ProbeError) Unwrap() error { return e.Err }

// DecodeError ffmpeg 解码失败, Stderr 保留原始输出
type DecodeError struct {
	Path   string
	Err    error
	Stderr string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("ffmpeg execution failed for %s: %v\nFFmpeg Error: %s", e.Path, e.Err, e.Stderr)
}

func (e *DecodeError) Unwrap() error { return e.Err }
