package audio

import (
	"encoding/binary"
	"math"
	"testing"
)

func constantSamples(value float32, seconds float64, rate int) []float32 {
	n := int(seconds * float64(rate))
	out := make([]float32, n)
	for i := range out {
		out[i] = value
	}
	return out
}

func TestBuildWaveform(t *testing.T) {
	samples := []float32{0.1, -0.4, 0.2, 0.3, -2, 0.5}
	got := BuildWaveform(samples, 3)
	want := []float64{0.4, 0.3, 1}
	if len(got) != len(want) {
		t.Fatalf("len = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if math.Abs(got[i]-want[i]) > 1e-6 {
			t.Fatalf("bin %d = %v, want %v", i, got[i], want[i])
		}
	}
	if len(BuildWaveform(samples, 0)) != 0 {
		t.Fatal("zero bins should give an empty waveform")
	}
}

func TestWaveformBinCount(t *testing.T) {
	tests := []struct {
		duration float64
		want     int
	}{
		{0, 0},
		{1.01, 13},
		{10, 120},
		{600, 720},
	}
	for _, tt := range tests {
		if got := waveformBinCount(tt.duration); got != tt.want {
			t.Errorf("waveformBinCount(%v) = %d, want %d", tt.duration, got, tt.want)
		}
	}
}

func TestDetectBeatsLoudSignal(t *testing.T) {
	samples := constantSamples(0.5, 4, AnalysisSampleRate)
	beats := DetectBeats(samples, AnalysisSampleRate, 4)
	if len(beats) != 8 {
		t.Fatalf("got %d beats, want 8: %v", len(beats), beats)
	}
	for i := 1; i < len(beats); i++ {
		if beats[i] <= beats[i-1] {
			t.Fatalf("beats not strictly increasing: %v", beats)
		}
	}
	if tempo := EstimateTempo(beats); tempo != 120 {
		t.Fatalf("tempo = %v, want 120", tempo)
	}
}

func TestDetectBeatsSilenceFallsBackToGrid(t *testing.T) {
	samples := constantSamples(0, 3, AnalysisSampleRate)
	beats := DetectBeats(samples, AnalysisSampleRate, 3)
	want := []float64{0, 0.5, 1, 1.5, 2, 2.5}
	if len(beats) != len(want) {
		t.Fatalf("beats = %v, want %v", beats, want)
	}
	for i := range want {
		if beats[i] != want[i] {
			t.Fatalf("beats = %v, want %v", beats, want)
		}
	}
}

func TestEstimateTempo(t *testing.T) {
	tests := []struct {
		beats []float64
		want  float64
	}{
		{nil, 120},
		{[]float64{1}, 120},
		{[]float64{0, 0.25, 0.5}, 240},
		{[]float64{0, 0.001}, 6000},
	}
	for _, tt := range tests {
		if got := EstimateTempo(tt.beats); got != tt.want {
			t.Errorf("EstimateTempo(%v) = %v, want %v", tt.beats, got, tt.want)
		}
	}
}

func TestEstimateChroma(t *testing.T) {
	rate := 120
	samples := make([]float32, rate)
	// 只有第 3 个桶有能量
	for i := 30; i < 40; i++ {
		samples[i] = 0.5
	}
	chroma := EstimateChroma(samples, rate)
	if len(chroma) != 12 {
		t.Fatalf("len = %d", len(chroma))
	}
	for i, v := range chroma {
		want := 0.0
		if i == 3 {
			want = 1
		}
		if math.Abs(v-want) > 1e-9 {
			t.Fatalf("chroma = %v", chroma)
		}
	}
	quiet := EstimateChroma([]float32{0.01, 0.01}, 12)
	if math.Abs(quiet[0]-0.01) > 1e-6 {
		t.Fatalf("small totals must not be scaled up: %v", quiet)
	}
}

func TestScoreSegments(t *testing.T) {
	waveform := make([]float64, 120)
	for i := range waveform {
		waveform[i] = float64(i) / 120
	}
	beats := []float64{6, 7, 8, 9}
	segments := ScoreSegments(waveform, beats, 10, 2)

	if len(segments) == 0 || len(segments) > 8 {
		t.Fatalf("got %d segments", len(segments))
	}
	for i, s := range segments {
		if s.Start < 0 || s.End > 10 || s.End <= s.Start {
			t.Fatalf("segment %d out of range: %+v", i, s)
		}
		if s.Confidence < 0 || s.Confidence > 1 {
			t.Fatalf("confidence out of range: %+v", s)
		}
		if i > 0 {
			prev := segments[i-1]
			if prev.Energy+prev.Confidence < s.Energy+s.Confidence {
				t.Fatalf("segments not sorted: %+v before %+v", prev, s)
			}
		}
	}
	if got := ScoreSegments(nil, beats, 10, 2); len(got) != 0 {
		t.Fatalf("empty waveform gave %v", got)
	}
}

func TestDecodeFloat32LE(t *testing.T) {
	buf := make([]byte, 9)
	binary.LittleEndian.PutUint32(buf[0:], math.Float32bits(0.25))
	binary.LittleEndian.PutUint32(buf[4:], math.Float32bits(-1))
	got := decodeFloat32LE(buf)
	if len(got) != 2 || got[0] != 0.25 || got[1] != -1 {
		t.Fatalf("decodeFloat32LE = %v", got)
	}
}

func TestParseProbeOutput(t *testing.T) {
	data := []byte(`{
		"streams": [
			{"codec_type": "video", "width": 1920, "height": 1080, "avg_frame_rate": "30000/1001"},
			{"codec_type": "audio", "sample_rate": "48000", "channels": 2}
		],
		"format": {"duration": "12.500000", "bit_rate": "128000"}
	}`)
	res, err := parseProbeOutput(data)
	if err != nil {
		t.Fatal(err)
	}
	if res.Duration != 12.5 || res.SampleRate != 48000 {
		t.Fatalf("unexpected probe %+v", res)
	}
	if res.Metadata.Video == nil || res.Metadata.Video.Width != 1920 || math.Abs(res.Metadata.Video.FPS-29.97) > 0.01 {
		t.Fatalf("video = %+v", res.Metadata.Video)
	}
	if res.Metadata.Audio == nil || res.Metadata.Audio.Channels != 2 || res.Metadata.Bitrate != 128000 {
		t.Fatalf("metadata = %+v", res.Metadata)
	}
	if _, err := parseProbeOutput([]byte("not json")); err == nil {
		t.Fatal("expected error for invalid json")
	}
}
