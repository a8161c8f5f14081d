package model

import "time"

// SegmentCandidate 一个候选片段
type SegmentCandidate struct {
	Start      float64 `json:"start"`
	End        float64 `json:"end"`
	Energy     float64 `json:"energy"`
	Loudness   float64 `json:"loudness"`
	Confidence float64 `json:"confidence"`
}

// Duration 片段时长(秒)
func (c SegmentCandidate) Duration() float64 {
	return c.End - c.Start
}

// AudioAnalysis 一次上传的音频分析结果, 与 Upload 一一对应
type AudioAnalysis struct {
	ID         string             `json:"id"`
	UploadID   string             `json:"uploadId"`
	CreatedAt  time.Time          `json:"createdAt"`
	UpdatedAt  time.Time          `json:"updatedAt"`
	Duration   float64            `json:"duration"`
	SampleRate int                `json:"sampleRate"`
	Waveform   []float64          `json:"waveform"`
	Beats      []float64          `json:"beats"`
	Tempo      float64            `json:"tempo"`
	Energy     float64            `json:"energy"`
	Chroma     []float64          `json:"chroma"`
	Segments   []SegmentCandidate `json:"segments"`
}
