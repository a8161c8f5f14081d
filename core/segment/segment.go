// Package segment 为候选片段打分并挑选最贴近目标时长的高能量片段.
package segment

import (
	"math"

	"BratGen/model"
)

// Weights 各项评分的权重
type Weights struct {
	Energy      float64
	Loudness    float64
	Confidence  float64
	DurationFit float64
}

// DefaultWeights 默认权重, 总和为 1
var DefaultWeights = Weights{
	Energy:      0.45,
	Loudness:    0.25,
	Confidence:  0.20,
	DurationFit: 0.10,
}

// Bounds 可接受的片段时长范围(秒, 闭区间)
type Bounds struct {
	Min float64
	Max float64
}

// DefaultBounds 目标时长的 80% ~ 120%
func DefaultBounds(target float64) Bounds {
	return Bounds{Min: target * 0.8, Max: target * 1.2}
}

// Source 候选片段的来源
type Source string

const (
	SourceExternal Source = "external"
	SourceAnalysis Source = "analysis"
)

// Result 选中的片段
type Result struct {
	Start  float64 `json:"start"`
	End    float64 `json:"end"`
	Score  float64 `json:"score"`
	Source Source  `json:"source"`
}

const (
	loudnessFloor = -60.0
	loudnessCeil  = 0.0
)

func normalize(value, min, max float64) float64 {
	if max <= min {
		return 0
	}
	clamped := math.Min(max, math.Max(min, value))
	return (clamped - min) / (max - min)
}

// Score 用默认权重打分. bounds 为 nil 时使用 DefaultBounds.
// 超出范围或目标时长非正时返回 false.
func Score(c model.SegmentCandidate, target float64, bounds *Bounds) (float64, bool) {
	return ScoreWeighted(c, target, bounds, DefaultWeights)
}

// ScoreWeighted 指定权重打分
func ScoreWeighted(c model.SegmentCandidate, target float64, bounds *Bounds, w Weights) (float64, bool) {
	if target <= 0 {
		return 0, false
	}
	b := DefaultBounds(target)
	if bounds != nil {
		b = *bounds
	}

	duration := c.Duration()
	if duration < b.Min || duration > b.Max {
		return 0, false
	}

	durationFit := 1 - math.Min(1, math.Abs(duration-target)/target)
	score := c.Energy*w.Energy +
		normalize(c.Loudness, loudnessFloor, loudnessCeil)*w.Loudness +
		c.Confidence*w.Confidence +
		durationFit*w.DurationFit
	return score, true
}

// Options 选择参数
type Options struct {
	Target  float64
	Bounds  *Bounds
	Weights *Weights
	Source  Source
}

// Select 返回得分最高的候选, 同分时保留先出现的. 没有可用候选返回 nil
func Select(candidates []model.SegmentCandidate, opts Options) *Result {
	w := DefaultWeights
	if opts.Weights != nil {
		w = *opts.Weights
	}
	source := opts.Source
	if source == "" {
		source = SourceExternal
	}

	var best *Result
	for _, c := range candidates {
		score, ok := ScoreWeighted(c, opts.Target, opts.Bounds, w)
		if !ok {
			continue
		}
		if best == nil || score > best.Score {
			best = &Result{Start: c.Start, End: c.End, Score: score, Source: source}
		}
	}
	return best
}

// SelectBest 默认范围和权重下挑选
func SelectBest(candidates []model.SegmentCandidate, target float64) *Result {
	return Select(candidates, Options{Target: target})
}

// SelectBestWithBounds 指定时长范围挑选
func SelectBestWithBounds(candidates []model.SegmentCandidate, target float64, bounds Bounds) *Result {
	return Select(candidates, Options{Target: target, Bounds: &bounds})
}

// SelectFromAnalysis 从音频分析结果里挑选
func SelectFromAnalysis(analysis *model.AudioAnalysis, target float64) *Result {
	if analysis == nil {
		return nil
	}
	return Select(analysis.Segments, Options{Target: target, Source: SourceAnalysis})
}
