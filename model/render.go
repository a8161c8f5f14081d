package model

import (
	"fmt"
	"time"
)

// RenderStatus 渲染任务状态
type RenderStatus string

const (
	RenderQueued     RenderStatus = "queued"
	RenderProcessing RenderStatus = "processing"
	RenderCompleted  RenderStatus = "completed"
	RenderFailed     RenderStatus = "failed"
	RenderCancelled  RenderStatus = "cancelled"
)

// Terminal 是否为终态
func (s RenderStatus) Terminal() bool {
	return s == RenderCompleted || s == RenderFailed || s == RenderCancelled
}

// RenderSegment 从源视频截取的区间(秒)
type RenderSegment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// Duration 区间时长
func (s RenderSegment) Duration() float64 {
	return s.End - s.Start
}

// AutomationPoint 音乐增益自动化关键点
type AutomationPoint struct {
	At     float64 `json:"at"`
	GainDb float64 `json:"gainDb"`
}

const (
	DefaultDuckingDb = 8.0
	DefaultFadeMs    = 250.0
)

// RenderOptions 渲染参数. DuckingDb / FadeMs 未设置时使用默认值
type RenderOptions struct {
	Resolution      string            `json:"resolution"`
	Aspect          string            `json:"aspect"`
	IncludeMusic    bool              `json:"includeMusic"`
	IncludeOriginal bool              `json:"includeOriginal"`
	MusicGainDb     float64           `json:"musicGainDb"`
	DuckingDb       *float64          `json:"duckingDb,omitempty"`
	FadeMs          *float64          `json:"fadeMs,omitempty"`
	MusicAutomation []AutomationPoint `json:"musicAutomation,omitempty"`
}

// Ducking 返回生效的闪避量(dB)
func (o RenderOptions) Ducking() float64 {
	if o.DuckingDb == nil {
		return DefaultDuckingDb
	}
	return *o.DuckingDb
}

// Fade 返回生效的淡入淡出时长(ms)
func (o RenderOptions) Fade() float64 {
	if o.FadeMs == nil {
		return DefaultFadeMs
	}
	return *o.FadeMs
}

// RenderJobManifest 渲染任务的持久化记录
type RenderJobManifest struct {
	ID        string        `json:"id"`
	UploadID  string        `json:"uploadId"`
	CreatedAt time.Time     `json:"createdAt"`
	UpdatedAt time.Time     `json:"updatedAt"`
	Status    RenderStatus  `json:"status"`
	Segment   RenderSegment `json:"segment"`
	Options   RenderOptions `json:"options"`
	Attempts  int           `json:"attempts"`
	Output    *StoredFile   `json:"output,omitempty"`
	Error     *string       `json:"error,omitempty"`
	Progress  float64       `json:"progress"`
}

// PublicRenderOutput 对外暴露的输出文件信息, 不含内部路径
type PublicRenderOutput struct {
	OriginalName string `json:"originalName"`
	Checksum     string `json:"checksum"`
	MimeType     string `json:"mimeType"`
	Size         int64  `json:"size"`
	DownloadURL  string `json:"downloadUrl"`
}

// PublicRenderJob 对外暴露的任务视图
type PublicRenderJob struct {
	ID        string              `json:"id"`
	UploadID  string              `json:"uploadId"`
	CreatedAt time.Time           `json:"createdAt"`
	UpdatedAt time.Time           `json:"updatedAt"`
	Status    RenderStatus        `json:"status"`
	Segment   RenderSegment       `json:"segment"`
	Options   RenderOptions       `json:"options"`
	Output    *PublicRenderOutput `json:"output"`
	Error     *string             `json:"error"`
	Attempts  int                 `json:"attempts"`
	Progress  float64             `json:"progress"`
}

// RenderDownloadURL 渲染结果下载地址
func RenderDownloadURL(jobID string) string {
	return fmt.Sprintf("/api/render/%s/file", jobID)
}

// Public 转换为对外视图
func (m *RenderJobManifest) Public() *PublicRenderJob {
	if m == nil {
		return nil
	}
	job := &PublicRenderJob{
		ID:        m.ID,
		UploadID:  m.UploadID,
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
		Status:    m.Status,
		Segment:   m.Segment,
		Options:   m.Options,
		Error:     m.Error,
		Attempts:  m.Attempts,
		Progress:  m.Progress,
	}
	if m.Output != nil {
		job.Output = &PublicRenderOutput{
			OriginalName: m.Output.OriginalName,
			Checksum:     m.Output.Checksum,
			MimeType:     m.Output.MimeType,
			Size:         m.Output.Size,
			DownloadURL:  RenderDownloadURL(m.ID),
		}
	}
	return job
}
