package lyrics

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"BratGen/logger"
	"BratGen/model"
	"BratGen/repository"
)

const (
	defaultWordConfidence = 0.75
	beatLineConfidence    = 0.6
	beatWordConfidence    = 0.5
	minLineSeconds        = 0.25
	secondsPerToken       = 0.4
	analysisTargetCap     = 30.0
)

// AnalysisProvider 提供上传的音频分析
type AnalysisProvider interface {
	Analyze(ctx context.Context, upload *model.Upload, target float64) (*model.AudioAnalysis, error)
}

// LocalResolver 把存储中的文件解析为本地路径
type LocalResolver interface {
	ResolveLocalPath(ctx context.Context, file *model.StoredFile) (string, error)
}

// Aligner 把歌词对齐到上传的音频上
type Aligner struct {
	analyses   AnalysisProvider
	files      LocalResolver
	repo       repository.TranscriptRepository
	capability *Capability
	ttl        time.Duration
	now        func() time.Time
}

// NewAligner ttl 只约束转录得到的结果, 0 表示永不过期
func NewAligner(analyses AnalysisProvider, files LocalResolver, repo repository.TranscriptRepository, capability *Capability, ttl time.Duration) *Aligner {
	return &Aligner{
		analyses:   analyses,
		files:      files,
		repo:       repo,
		capability: capability,
		ttl:        ttl,
		now:        time.Now,
	}
}

// Align 返回歌词的逐行(及逐词)时间. 转录失败时回退到节拍对齐, 不向调用方报错.
func (a *Aligner) Align(ctx context.Context, upload *model.Upload, text string) (*model.LyricTranscript, error) {
	lines := SplitLines(text)
	hash := HashLyrics(text)
	id := model.TranscriptID(upload.ID, hash)

	checksum := ""
	if src := upload.MediaSource(); src != nil {
		checksum = src.Checksum
	}

	cached, err := a.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if cached != nil && a.fresh(cached, checksum) {
		return cached, nil
	}

	target := math.Min(upload.Duration, analysisTargetCap)
	if target <= 0 {
		target = analysisTargetCap
	}
	analysis, err := a.analyses.Analyze(ctx, upload, target)
	if err != nil {
		return nil, err
	}

	transcriber, available := a.capability.Resolve(ctx)
	alignment := model.AlignmentBeats
	var timed []timedLine

	if len(lines) == 0 {
		if available {
			alignment = model.AlignmentTranscription
		}
	} else {
		if available {
			timed = a.alignTranscribed(ctx, upload, transcriber, lines, analysis)
			if timed != nil {
				alignment = model.AlignmentTranscription
			}
		}
		if timed == nil {
			timed = alignWithBeats(lines, analysis.Beats, analysis.Duration)
		}
		timed = snapLines(timed, analysis.Beats, analysis.Duration)
	}

	now := a.now()
	transcript := &model.LyricTranscript{
		ID:             id,
		UploadID:       upload.ID,
		LyricsHash:     hash,
		CreatedAt:      now,
		UpdatedAt:      now,
		Model:          alignment,
		Duration:       analysis.Duration,
		SourceChecksum: checksum,
		Lines:          []model.AlignedLyricLine{},
		Words:          []model.AlignedLyricWord{},
	}
	if cached != nil {
		transcript.CreatedAt = cached.CreatedAt
	}
	for _, l := range timed {
		transcript.Lines = append(transcript.Lines, model.AlignedLyricLine{
			Text: l.text, Start: l.start, End: l.end, Confidence: l.confidence,
		})
		transcript.Words = append(transcript.Words, l.words...)
	}

	if err := a.repo.Save(ctx, transcript); err != nil {
		return nil, fmt.Errorf("failed to save transcript %s: %w", id, err)
	}

	logger.Info("歌词对齐完成",
		logger.String("uploadId", upload.ID),
		logger.String("model", string(alignment)),
		logger.Int("lines", len(transcript.Lines)),
		logger.Int("words", len(transcript.Words)))
	return transcript, nil
}

func (a *Aligner) fresh(t *model.LyricTranscript, checksum string) bool {
	if t.SourceChecksum != checksum {
		return false
	}
	if t.Model == model.AlignmentTranscription && a.ttl > 0 {
		return a.now().Sub(t.UpdatedAt) <= a.ttl
	}
	return true
}

// alignTranscribed 任何失败都返回 nil, 由调用方回退
func (a *Aligner) alignTranscribed(ctx context.Context, upload *model.Upload, t Transcriber, lines []string, analysis *model.AudioAnalysis) []timedLine {
	src := upload.MediaSource()
	if src == nil {
		return nil
	}
	path, err := a.files.ResolveLocalPath(ctx, src)
	if err != nil {
		logger.Warn("转录源文件不可用", logger.String("uploadId", upload.ID), logger.ErrorField(err))
		return nil
	}
	words, err := t.Transcribe(ctx, path)
	if err != nil {
		logger.Warn("转录失败, 回退到节拍对齐", logger.String("uploadId", upload.ID), logger.ErrorField(err))
		return nil
	}
	timed := alignWithTranscript(lines, words, analysis.Beats, analysis.Duration)
	if timed == nil {
		logger.Info("转录结果与歌词无匹配, 回退到节拍对齐", logger.String("uploadId", upload.ID))
	}
	return timed
}

func findTokenMatch(words []string, token string, from int) int {
	clean := Sanitize(token)
	if clean == "" {
		return -1
	}
	if from < 0 {
		from = 0
	}
	for i := from; i < len(words); i++ {
		w := words[i]
		if w == "" {
			continue
		}
		if strings.Contains(w, clean) || strings.Contains(clean, w) {
			return i
		}
	}
	return -1
}

func wordConfidence(w Word) float64 {
	if w.Confidence == nil {
		return defaultWordConfidence
	}
	return *w.Confidence
}

// averageConfidence 只统计给出置信度的词, 一个都没有时取默认值
func averageConfidence(words []Word) float64 {
	sum, n := 0.0, 0
	for _, w := range words {
		if w.Confidence == nil {
			continue
		}
		sum += *w.Confidence
		n++
	}
	if n == 0 {
		return defaultWordConfidence
	}
	return sum / float64(n)
}

// alignWithTranscript 用每行首尾两个词在转录中定位行的起止. 全部未命中时返回 nil
func alignWithTranscript(lines []string, words []Word, beats []float64, duration float64) []timedLine {
	clean := make([]string, len(words))
	for i, w := range words {
		clean[i] = Sanitize(w.Text)
	}

	var out []timedLine
	cursor := 0
	matched := false

	for _, line := range lines {
		tokens := Tokens(line)
		if len(tokens) == 0 {
			continue
		}

		startIdx := findTokenMatch(clean, tokens[0], cursor)
		from := startIdx
		if from < 0 {
			from = cursor
		}
		endIdx := findTokenMatch(clean, tokens[len(tokens)-1], from)
		if startIdx >= 0 || endIdx >= 0 {
			matched = true
		}

		var startTime float64
		switch {
		case startIdx >= 0:
			startTime = words[startIdx].Start
		case cursor < len(beats):
			startTime = beats[cursor]
		}

		endTime := startTime + math.Max(1, float64(len(tokens))*secondsPerToken)
		if endIdx >= 0 {
			endTime = words[endIdx].End
		}

		if endIdx >= 0 {
			cursor = endIdx + 1
		} else if startIdx >= 0 {
			cursor = startIdx + 1
		}

		lineStart := math.Max(0, startTime)
		lineEnd := math.Min(duration, math.Max(startTime+minLineSeconds, endTime))
		if lineEnd < lineStart {
			lineEnd = lineStart
		}

		spanStart, spanEnd := from, from
		if startIdx >= 0 || endIdx >= 0 {
			spanEnd = int(math.Max(float64(startIdx), float64(endIdx))) + 1
		}
		if spanEnd > len(words) {
			spanEnd = len(words)
		}

		confidence := defaultWordConfidence
		var lineWords []model.AlignedLyricWord
		if spanEnd > spanStart {
			confidence = averageConfidence(words[spanStart:spanEnd])
			for _, w := range words[spanStart:spanEnd] {
				ws := math.Min(lineEnd, math.Max(lineStart, w.Start))
				we := math.Min(lineEnd, math.Max(ws, w.End))
				lineWords = append(lineWords, model.AlignedLyricWord{Text: w.Text, Start: ws, End: we, Confidence: wordConfidence(w)})
			}
		}

		out = append(out, timedLine{
			text:       line,
			start:      lineStart,
			end:        lineEnd,
			confidence: confidence,
			words:      lineWords,
		})
	}

	if !matched {
		return nil
	}
	return out
}

// alignWithBeats 每行占一个拍点区间; 没有拍点时按时长等分
func alignWithBeats(lines []string, beats []float64, duration float64) []timedLine {
	var kept []string
	for _, line := range lines {
		if len(Tokens(line)) > 0 {
			kept = append(kept, line)
		}
	}
	n := len(kept)
	if n == 0 {
		return nil
	}

	slot := duration / float64(n)
	grid := beats
	if len(grid) == 0 {
		grid = make([]float64, n)
		for i := range grid {
			grid[i] = slot * float64(i)
		}
	}

	out := make([]timedLine, 0, n)
	for i, line := range kept {
		start := slot * float64(i)
		if i < len(grid) {
			start = grid[i]
		}
		end := math.Min(duration, start+slot)
		if i+1 < len(grid) {
			end = grid[i+1]
		}
		if end < start {
			end = start
		}

		var display []string
		for _, f := range strings.Fields(line) {
			if Sanitize(f) != "" {
				display = append(display, f)
			}
		}
		tokenDur := (end - start) / float64(len(display))
		words := make([]model.AlignedLyricWord, len(display))
		for j, w := range display {
			ws := start + float64(j)*tokenDur
			words[j] = model.AlignedLyricWord{
				Text:       w,
				Start:      ws,
				End:        ws + tokenDur*0.9,
				Confidence: beatWordConfidence,
			}
		}

		out = append(out, timedLine{
			text:       line,
			start:      start,
			end:        end,
			confidence: beatLineConfidence,
			words:      words,
		})
	}
	return out
}
