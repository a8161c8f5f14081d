package model

import "time"

// AlignmentModel 歌词对齐所用的方法
type AlignmentModel string

const (
	AlignmentBeats         AlignmentModel = "beats"
	AlignmentTranscription AlignmentModel = "transcription"
)

// AlignedLyricLine 对齐后的一行歌词
type AlignedLyricLine struct {
	Text       string  `json:"text"`
	Start      float64 `json:"start"`
	End        float64 `json:"end"`
	Confidence float64 `json:"confidence"`
}

// AlignedLyricWord 对齐后的单词
type AlignedLyricWord struct {
	Text       string  `json:"text"`
	Start      float64 `json:"start"`
	End        float64 `json:"end"`
	Confidence float64 `json:"confidence"`
}

// LyricTranscript 一次对齐结果, 以 (UploadID, LyricsHash) 为键
type LyricTranscript struct {
	ID             string             `json:"id"`
	UploadID       string             `json:"uploadId"`
	LyricsHash     string             `json:"lyricsHash"`
	CreatedAt      time.Time          `json:"createdAt"`
	UpdatedAt      time.Time          `json:"updatedAt"`
	Model          AlignmentModel     `json:"model"`
	Duration       float64            `json:"duration"`
	SourceChecksum string             `json:"sourceChecksum"`
	Lines          []AlignedLyricLine `json:"lines"`
	Words          []AlignedLyricWord `json:"words"`
}

// TranscriptID 拼出转录记录的主键
func TranscriptID(uploadID, lyricsHash string) string {
	return uploadID + ":" + lyricsHash
}
