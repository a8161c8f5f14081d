package lyrics

import (
	"math"

	"BratGen/model"
)

// timedLine 对齐过程中的一行, 词按所属行嵌套保存
type timedLine struct {
	text       string
	start      float64
	end        float64
	confidence float64
	words      []model.AlignedLyricWord
}

// closestBeat 距离最近的拍点, 等距时取前一个
func closestBeat(t float64, beats []float64) float64 {
	best := beats[0]
	bestDist := math.Abs(t - best)
	for _, b := range beats[1:] {
		if d := math.Abs(t - b); d < bestDist {
			best, bestDist = b, d
		}
	}
	return best
}

// beatAtOrAfter 第一个不早于 t 的拍点, 没有则取最后一拍
func beatAtOrAfter(t float64, beats []float64) float64 {
	for _, b := range beats {
		if b >= t {
			return b
		}
	}
	return beats[len(beats)-1]
}

// snapLines 行首吸附到最近拍点, 行尾吸附到其后的拍点并限制在时长内.
// 行内的词按比例缩放到新的区间. 对结果再次调用不会改变它.
func snapLines(lines []timedLine, beats []float64, duration float64) []timedLine {
	if len(beats) == 0 {
		return lines
	}

	out := make([]timedLine, len(lines))
	for i, line := range lines {
		start := closestBeat(line.start, beats)
		end := math.Min(duration, beatAtOrAfter(line.end, beats))
		if end < start {
			end = start
		}

		oldSpan := line.end - line.start
		newSpan := end - start
		words := make([]model.AlignedLyricWord, len(line.words))
		for j, w := range line.words {
			ratio := 0.0
			if oldSpan > 0 {
				ratio = math.Min(1, math.Max(0, (w.Start-line.start)/oldSpan))
			}
			ws := start + ratio*newSpan
			we := ws + (w.End - w.Start)
			ws = math.Min(ws, end)
			we = math.Min(we, end)
			if we < ws {
				we = ws
			}
			words[j] = model.AlignedLyricWord{Text: w.Text, Start: ws, End: we, Confidence: w.Confidence}
		}

		out[i] = timedLine{
			text:       line.text,
			start:      start,
			end:        end,
			confidence: line.confidence,
			words:      words,
		}
	}
	return out
}
