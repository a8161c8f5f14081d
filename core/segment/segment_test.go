package segment

import (
	"math"
	"math/rand"
	"testing"

	"BratGen/model"
)

func TestSelectBestPrefersLouderHigherEnergy(t *testing.T) {
	candidates := []model.SegmentCandidate{
		{Start: 0, End: 30, Energy: 0.4, Loudness: -10, Confidence: 0.5},
		{Start: 40, End: 70, Energy: 0.9, Loudness: -6, Confidence: 0.7},
	}
	got := SelectBest(candidates, 30)
	if got == nil {
		t.Fatal("expected a result")
	}
	if got.Start != 40 || got.End != 70 {
		t.Fatalf("picked [%v,%v], want [40,70]", got.Start, got.End)
	}
	if got.Score <= 0.6 {
		t.Fatalf("score %v should exceed 0.6", got.Score)
	}
	if got.Source != SourceExternal {
		t.Fatalf("source = %q", got.Source)
	}
}

func TestSelectBestOutOfBounds(t *testing.T) {
	candidates := []model.SegmentCandidate{
		{Start: 0, End: 10, Energy: 1, Loudness: 0, Confidence: 1},
		{Start: 0, End: 90, Energy: 1, Loudness: 0, Confidence: 1},
	}
	if got := SelectBest(candidates, 30); got != nil {
		t.Fatalf("expected nil, got %+v", got)
	}
	if got := SelectBest(nil, 30); got != nil {
		t.Fatalf("expected nil for empty input, got %+v", got)
	}
}

func TestScoreValues(t *testing.T) {
	tests := []struct {
		name string
		c    model.SegmentCandidate
		want float64
	}{
		{"perfect", model.SegmentCandidate{Start: 0, End: 30, Energy: 1, Loudness: 0, Confidence: 1}, 1},
		{"silent", model.SegmentCandidate{Start: 0, End: 30, Energy: 0, Loudness: -80, Confidence: 0}, 0.1},
		{"long", model.SegmentCandidate{Start: 0, End: 36, Energy: 0, Loudness: -60, Confidence: 0}, 0.08},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Score(tt.c, 30, nil)
			if !ok {
				t.Fatal("candidate should be in bounds")
			}
			if math.Abs(got-tt.want) > 1e-9 {
				t.Fatalf("score = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestScoreInvalidTarget(t *testing.T) {
	if _, ok := Score(model.SegmentCandidate{Start: 0, End: 1}, 0, nil); ok {
		t.Fatal("non-positive target must be rejected")
	}
}

func TestScoreMonotonic(t *testing.T) {
	base := model.SegmentCandidate{Start: 0, End: 30, Energy: 0.5, Loudness: -20, Confidence: 0.5}
	s0, _ := Score(base, 30, nil)

	for _, bump := range []func(model.SegmentCandidate) model.SegmentCandidate{
		func(c model.SegmentCandidate) model.SegmentCandidate { c.Energy += 0.1; return c },
		func(c model.SegmentCandidate) model.SegmentCandidate { c.Loudness += 5; return c },
		func(c model.SegmentCandidate) model.SegmentCandidate { c.Confidence += 0.1; return c },
	} {
		s1, ok := Score(bump(base), 30, nil)
		if !ok || s1 <= s0 {
			t.Fatalf("score did not increase: %v -> %v", s0, s1)
		}
	}
}

func TestSelectNeverViolatesBounds(t *testing.T) {
	r := rand.New(rand.NewSource(7))
	for round := 0; round < 200; round++ {
		target := 5 + r.Float64()*60
		var candidates []model.SegmentCandidate
		for i := 0; i < 12; i++ {
			start := r.Float64() * 100
			candidates = append(candidates, model.SegmentCandidate{
				Start:      start,
				End:        start + r.Float64()*target*2,
				Energy:     r.Float64(),
				Loudness:   -60 * r.Float64(),
				Confidence: r.Float64(),
			})
		}
		got := SelectBest(candidates, target)
		if got == nil {
			continue
		}
		d := got.End - got.Start
		if d < target*0.8 || d > target*1.2 {
			t.Fatalf("round %d: duration %v outside bounds for target %v", round, d, target)
		}
	}
}

func TestSelectTieKeepsFirst(t *testing.T) {
	c := model.SegmentCandidate{Start: 0, End: 30, Energy: 0.5, Loudness: -10, Confidence: 0.5}
	other := c
	other.Start, other.End = 50, 80
	got := SelectBest([]model.SegmentCandidate{c, other}, 30)
	if got == nil || got.Start != 0 {
		t.Fatalf("expected first candidate, got %+v", got)
	}
}

func TestSelectFromAnalysis(t *testing.T) {
	a := &model.AudioAnalysis{Segments: []model.SegmentCandidate{{Start: 1, End: 31, Energy: 0.5}}}
	got := SelectFromAnalysis(a, 30)
	if got == nil || got.Source != SourceAnalysis {
		t.Fatalf("unexpected result %+v", got)
	}
	bounded := SelectBestWithBounds(a.Segments, 30, Bounds{Min: 31, Max: 40})
	if bounded != nil {
		t.Fatalf("explicit bounds ignored: %+v", bounded)
	}
}
