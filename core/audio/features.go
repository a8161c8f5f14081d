package audio

import (
	"math"
	"sort"

	"BratGen/model"
)

const (
	maxWaveformBins    = 720
	waveformBinsPerSec = 12
	beatWindowSeconds  = 0.5
	beatRMSThreshold   = 0.2
	beatMinGap         = 0.3
	defaultTempo       = 120
	maxSegments        = 8
)

// waveformBinCount min(720, ceil(duration*12))
func waveformBinCount(duration float64) int {
	if duration <= 0 {
		return 0
	}
	return int(math.Min(maxWaveformBins, math.Ceil(duration*waveformBinsPerSec)))
}

// BuildWaveform 每个 bin 取绝对值峰值, 上限为 1
func BuildWaveform(samples []float32, bins int) []float64 {
	if bins <= 0 {
		return []float64{}
	}
	total := len(samples)
	binSize := total / bins
	if binSize < 1 {
		binSize = 1
	}

	waveform := make([]float64, bins)
	for i := 0; i < bins; i++ {
		start := i * binSize
		end := start + binSize
		if end > total {
			end = total
		}
		peak := 0.0
		for j := start; j < end; j++ {
			v := math.Abs(float64(samples[j]))
			if v > peak {
				peak = v
			}
		}
		waveform[i] = math.Min(1, peak)
	}
	return waveform
}

// DetectBeats 0.5 秒窗口 RMS 超过阈值且距上一拍超过 0.3 秒记为一拍.
// 一拍都没有时退化为 120 bpm 的等距网格.
func DetectBeats(samples []float32, sampleRate int, duration float64) []float64 {
	window := int(math.Floor(float64(sampleRate) * beatWindowSeconds))
	beats := []float64{}

	if window > 0 {
		last := math.Inf(-1)
		for offset := 0; offset < len(samples); offset += window {
			end := offset + window
			if end > len(samples) {
				end = len(samples)
			}
			sum := 0.0
			for _, s := range samples[offset:end] {
				sum += float64(s) * float64(s)
			}
			rms := math.Sqrt(sum / float64(end-offset))
			at := float64(offset) / float64(sampleRate)
			if rms > beatRMSThreshold && at-last > beatMinGap {
				beats = append(beats, at)
				last = at
			}
		}
	}

	if len(beats) > 0 {
		return beats
	}
	for at := 0.0; at < duration; at += beatWindowSeconds {
		beats = append(beats, at)
	}
	return beats
}

// EstimateTempo 不足两拍时返回 120
func EstimateTempo(beats []float64) float64 {
	if len(beats) < 2 {
		return defaultTempo
	}
	sum := 0.0
	for i := 1; i < len(beats); i++ {
		sum += beats[i] - beats[i-1]
	}
	avg := sum / float64(len(beats)-1)
	return math.Round(60 / math.Max(avg, 0.01))
}

// ComputeEnergy 波形均值
func ComputeEnergy(waveform []float64) float64 {
	if len(waveform) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range waveform {
		sum += v
	}
	return sum / float64(len(waveform))
}

// EstimateChroma 把样本按 sampleRate/12 的窗口循环折叠进 12 个桶, 按最大值归一
func EstimateChroma(samples []float32, sampleRate int) []float64 {
	chroma := make([]float64, 12)
	window := sampleRate / 12
	if window <= 0 {
		return chroma
	}
	cycle := window * 12
	for i, s := range samples {
		bucket := (i % cycle) / window
		chroma[bucket] += math.Abs(float64(s))
	}
	max := 1.0
	for _, v := range chroma {
		if v > max {
			max = v
		}
	}
	for i := range chroma {
		chroma[i] /= max
	}
	return chroma
}

// ScoreSegments 以目标时长为窗口、1/4 窗口为步长滑动, 取 energy+confidence 最高的 8 个
func ScoreSegments(waveform []float64, beats []float64, duration, target float64) []model.SegmentCandidate {
	total := len(waveform)
	if total == 0 || duration <= 0 || target <= 0 {
		return []model.SegmentCandidate{}
	}

	secondsPerBin := duration / float64(total)
	windowBins := int(math.Max(1, math.Round(target/secondsPerBin)))
	step := windowBins / 4
	if step < 1 {
		step = 1
	}
	expectedBeats := target / beatWindowSeconds

	candidates := []model.SegmentCandidate{}
	for startBin := 0; startBin+windowBins < total; startBin += step {
		window := waveform[startBin : startBin+windowBins]
		sum, peak := 0.0, 0.0
		for _, v := range window {
			sum += v
			if v > peak {
				peak = v
			}
		}
		start := float64(startBin) * secondsPerBin
		end := start + float64(windowBins)*secondsPerBin

		inWindow := 0
		for _, b := range beats {
			if b >= start && b <= end {
				inWindow++
			}
		}

		candidates = append(candidates, model.SegmentCandidate{
			Start:      start,
			End:        end,
			Energy:     sum / float64(windowBins),
			Loudness:   -6 + peak*-12,
			Confidence: math.Min(1, float64(inWindow)/expectedBeats),
		})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Energy+candidates[i].Confidence > candidates[j].Energy+candidates[j].Confidence
	})
	if len(candidates) > maxSegments {
		candidates = candidates[:maxSegments]
	}
	return candidates
}
