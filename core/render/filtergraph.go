package render

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"BratGen/model"
)

// 间隔小于该值的关键点视为同一时刻
const automationEpsilon = 0.001

func dbToLinear(db float64) float64 {
	return math.Pow(10, db/20)
}

// BuildAutomationExpression 把增益关键点转换为 ffmpeg volume 滤镜的分段线性表达式.
// 没有有效关键点时返回 false.
func BuildAutomationExpression(points []model.AutomationPoint) (string, bool) {
	valid := make([]model.AutomationPoint, 0, len(points))
	for _, p := range points {
		if math.IsNaN(p.At) || math.IsInf(p.At, 0) || math.IsNaN(p.GainDb) || math.IsInf(p.GainDb, 0) {
			continue
		}
		valid = append(valid, p)
	}
	if len(valid) == 0 {
		return "", false
	}

	sort.SliceStable(valid, func(i, j int) bool { return valid[i].At < valid[j].At })

	// 同一时刻的关键点以后出现的为准
	deduped := valid[:1]
	for _, p := range valid[1:] {
		last := &deduped[len(deduped)-1]
		if math.Abs(p.At-last.At) < automationEpsilon {
			*last = p
			continue
		}
		deduped = append(deduped, p)
	}

	gains := make([]float64, len(deduped))
	for i, p := range deduped {
		gains[i] = dbToLinear(p.GainDb)
	}

	n := len(deduped)
	expr := fmt.Sprintf("%.6f", gains[n-1])
	for i := n - 1; i >= 1; i-- {
		prev, cur := deduped[i-1], deduped[i]
		slope := (gains[i] - gains[i-1]) / (cur.At - prev.At)
		expr = fmt.Sprintf("if(lt(t,%.3f),%.6f+(%.6f)*(t-%.3f),%s)", cur.At, gains[i-1], slope, prev.At, expr)
	}
	expr = fmt.Sprintf("if(lt(t,%.3f),%.6f,%s)", deduped[0].At, gains[0], expr)
	return expr, true
}

// MixGraph 音频部分的 filter_complex
type MixGraph struct {
	// Filters 以 ';' 连接的滤镜链, Silent 时为空
	Filters string
	// AudioLabel 输出音频的标签, 如 "[aout]"
	AudioLabel string
	// Silent 既无原声也无音乐, 输出不带音轨
	Silent bool
	// UsesMusic 是否需要音乐输入(输入序号 1)
	UsesMusic bool
}

const (
	duckRatio   = 8
	duckAttack  = 20
	duckRelease = 250
)

// BuildMixGraph 根据选项拼接原声与音乐的混音滤镜. 输入 0 为视频, 输入 1 为音乐.
// duration 为片段时长, 用于放置淡出.
func BuildMixGraph(opts model.RenderOptions, duration float64, hasMusic bool) MixGraph {
	useMusic := opts.IncludeMusic && hasMusic
	useOriginal := opts.IncludeOriginal

	if !useMusic && !useOriginal {
		return MixGraph{Silent: true}
	}

	var chains []string
	var mixed string

	musicLabel := ""
	if useMusic {
		chains = append(chains, fmt.Sprintf("[1:a]volume=%.2fdB[music_gain]", opts.MusicGainDb))
		musicLabel = "[music_gain]"
		if expr, ok := BuildAutomationExpression(opts.MusicAutomation); ok {
			chains = append(chains, fmt.Sprintf("%svolume='%s':eval=frame[music_auto]", musicLabel, expr))
			musicLabel = "[music_auto]"
		}
	}

	switch {
	case useMusic && useOriginal:
		ducking := opts.Ducking()
		if ducking > 0 {
			chains = append(chains,
				fmt.Sprintf("%sasplit=2[music_mix][music_key]", musicLabel),
				fmt.Sprintf("[0:a][music_key]sidechaincompress=threshold=%.6f:ratio=%d:attack=%d:release=%d[voice_ducked]",
					dbToLinear(-ducking), duckRatio, duckAttack, duckRelease),
				"[voice_ducked][music_mix]amix=inputs=2:dropout_transition=0[mixed]",
			)
		} else {
			chains = append(chains, fmt.Sprintf("[0:a]%samix=inputs=2:dropout_transition=0[mixed]", musicLabel))
		}
		mixed = "[mixed]"
	case useMusic:
		mixed = musicLabel
	default:
		chains = append(chains, "[0:a]anull[mixed]")
		mixed = "[mixed]"
	}

	fadeSec := opts.Fade() / 1000
	if fadeSec > duration/2 {
		fadeSec = duration / 2
	}
	if fadeSec > 0 {
		chains = append(chains, fmt.Sprintf("%safade=t=in:st=0:d=%.3f,afade=t=out:st=%.3f:d=%.3f[aout]",
			mixed, fadeSec, math.Max(0, duration-fadeSec), fadeSec))
	} else {
		chains = append(chains, fmt.Sprintf("%sanull[aout]", mixed))
	}

	return MixGraph{
		Filters:    strings.Join(chains, ";"),
		AudioLabel: "[aout]",
		UsesMusic:  useMusic,
	}
}

// FrameSize 输出分辨率
type FrameSize struct {
	Width  int
	Height int
}

// ResolveFrameSize 720p/1080p 指短边, aspect 为 9:16、1:1 或 16:9
func ResolveFrameSize(resolution, aspect string) FrameSize {
	short := 720
	if resolution == "1080p" {
		short = 1080
	}
	switch aspect {
	case "1:1":
		return FrameSize{Width: short, Height: short}
	case "16:9":
		return FrameSize{Width: short * 16 / 9, Height: short}
	default:
		return FrameSize{Width: short, Height: short * 16 / 9}
	}
}

// VideoFilter 等比缩放后居中补黑边
func VideoFilter(size FrameSize) string {
	return fmt.Sprintf("[0:v]scale=%d:%d:force_original_aspect_ratio=decrease,pad=%d:%d:(ow-iw)/2:(oh-ih)/2,setsar=1,format=yuv420p[vout]",
		size.Width, size.Height, size.Width, size.Height)
}
