package model

import "time"

// StorageKind 文件所在的存储后端
type StorageKind string

const (
	StorageLocal StorageKind = "local"
	StorageMinio StorageKind = "minio"
	StorageS3    StorageKind = "s3"
)

// VideoStreamInfo ffprobe 读出的视频流信息
type VideoStreamInfo struct {
	Width  int     `json:"width"`
	Height int     `json:"height"`
	FPS    float64 `json:"fps"`
}

// AudioStreamInfo ffprobe 读出的音频流信息
type AudioStreamInfo struct {
	SampleRate int `json:"sampleRate"`
	Channels   int `json:"channels"`
}

// MediaMetadata 媒体文件元数据
type MediaMetadata struct {
	Duration float64          `json:"duration,omitempty"`
	Bitrate  int64            `json:"bitrate,omitempty"`
	Video    *VideoStreamInfo `json:"video,omitempty"`
	Audio    *AudioStreamInfo `json:"audio,omitempty"`
}

// StoredFile 一个已落盘(或已上传到对象存储)的文件
type StoredFile struct {
	ID           string         `json:"id"`
	Path         string         `json:"path"`
	Size         int64          `json:"size"`
	OriginalName string         `json:"originalName"`
	MimeType     string         `json:"mimeType"`
	Checksum     string         `json:"checksum"`
	Storage      StorageKind    `json:"storage"`
	Bucket       string         `json:"bucket,omitempty"`
	Key          string         `json:"key,omitempty"`
	Metadata     *MediaMetadata `json:"metadata,omitempty"`
}

// UploadFiles 一次上传包含的文件, Audio 可选
type UploadFiles struct {
	Video *StoredFile `json:"video,omitempty"`
	Audio *StoredFile `json:"audio,omitempty"`
}

// Upload 用户上传的视频, 可带一条独立的音乐轨
type Upload struct {
	ID        string      `json:"id"`
	CreatedAt time.Time   `json:"createdAt"`
	Duration  float64     `json:"duration"`
	Files     UploadFiles `json:"files"`
}

// MediaSource 返回用于分析的文件: 优先音频, 其次视频
func (u *Upload) MediaSource() *StoredFile {
	if u == nil {
		return nil
	}
	if u.Files.Audio != nil && u.Files.Audio.Path != "" {
		return u.Files.Audio
	}
	if u.Files.Video != nil && u.Files.Video.Path != "" {
		return u.Files.Video
	}
	return nil
}

// HasAudio 是否带有独立音乐轨
func (u *Upload) HasAudio() bool {
	return u != nil && u.Files.Audio != nil && u.Files.Audio.Path != ""
}

// GeneratedFileMeta 注册生成文件时携带的描述信息
type GeneratedFileMeta struct {
	OriginalName string
	MimeType     string
	// Key 对象存储中的相对路径, 如 renders/{id}/output.mp4
	Key string
}
