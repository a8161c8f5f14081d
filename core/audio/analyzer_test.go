package audio

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"BratGen/db"
	"BratGen/model"
	"BratGen/repository"
)

type fakeTool struct {
	probes    atomic.Int32
	decodes   atomic.Int32
	probeErr  error
	decodeErr error
	duration  float64
	samples   []float32
}

func (f *fakeTool) Probe(context.Context, string) (*ProbeResult, error) {
	f.probes.Add(1)
	if f.probeErr != nil {
		return nil, f.probeErr
	}
	return &ProbeResult{Duration: f.duration, SampleRate: 44100}, nil
}

func (f *fakeTool) DecodePCM(context.Context, string, int) ([]float32, error) {
	f.decodes.Add(1)
	if f.decodeErr != nil {
		return nil, f.decodeErr
	}
	return f.samples, nil
}

type pathResolver struct{}

func (pathResolver) ResolveLocalPath(_ context.Context, f *model.StoredFile) (string, error) {
	return f.Path, nil
}

func newTestAnalyzer(t *testing.T, tool MediaTool) (*Analyzer, repository.AnalysisRepository) {
	t.Helper()
	store, err := db.NewJSONFileStore(filepath.Join(t.TempDir(), "datastore.json"))
	if err != nil {
		t.Fatal(err)
	}
	repo := repository.NewAnalysisRepository(store, nil)
	return NewAnalyzer(tool, pathResolver{}, repo), repo
}

func testUpload() *model.Upload {
	return &model.Upload{
		ID:       "7d8c3c9e-8f6a-4a5b-9b33-0d1f2e3a4b5c",
		Duration: 4,
		Files: model.UploadFiles{
			Video: &model.StoredFile{ID: "v", Path: "/tmp/video.mp4"},
			Audio: &model.StoredFile{ID: "a", Path: "/tmp/audio.mp3"},
		},
	}
}

func TestAnalyzeIsIdempotent(t *testing.T) {
	tool := &fakeTool{duration: 4, samples: constantSamples(0.5, 4, AnalysisSampleRate)}
	analyzer, _ := newTestAnalyzer(t, tool)
	ctx := context.Background()

	first, err := analyzer.Analyze(ctx, testUpload(), 2)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if first.Duration != 4 || first.Tempo != 120 || len(first.Waveform) != 48 || len(first.Chroma) != 12 {
		t.Fatalf("unexpected analysis %+v", first)
	}
	if first.SampleRate != AnalysisSampleRate {
		t.Fatalf("sampleRate = %d", first.SampleRate)
	}

	second, err := analyzer.Analyze(ctx, testUpload(), 2)
	if err != nil {
		t.Fatal(err)
	}
	if second.ID != first.ID {
		t.Fatalf("second analysis id %s != %s", second.ID, first.ID)
	}
	if tool.probes.Load() != 1 || tool.decodes.Load() != 1 {
		t.Fatalf("probe/decode ran %d/%d times, want 1/1", tool.probes.Load(), tool.decodes.Load())
	}
}

func TestAnalyzeConcurrentFirstCallsDecodeOnce(t *testing.T) {
	tool := &fakeTool{duration: 4, samples: constantSamples(0.5, 4, AnalysisSampleRate)}
	analyzer, _ := newTestAnalyzer(t, tool)

	var wg sync.WaitGroup
	ids := make([]string, 8)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			a, err := analyzer.Analyze(context.Background(), testUpload(), 2)
			if err != nil {
				t.Errorf("Analyze: %v", err)
				return
			}
			ids[i] = a.ID
		}(i)
	}
	wg.Wait()

	if n := tool.decodes.Load(); n != 1 {
		t.Fatalf("decoded %d times, want 1", n)
	}
	for _, id := range ids {
		if id != ids[0] {
			t.Fatalf("callers saw different analyses: %v", ids)
		}
	}
}

func TestAnalyzeMissingMedia(t *testing.T) {
	tool := &fakeTool{}
	analyzer, repo := newTestAnalyzer(t, tool)
	upload := &model.Upload{ID: "u-empty"}

	_, err := analyzer.Analyze(context.Background(), upload, 30)
	if !errors.Is(err, ErrMissingMedia) {
		t.Fatalf("err = %v, want ErrMissingMedia", err)
	}
	if got, _ := repo.GetByUploadID(context.Background(), upload.ID); got != nil {
		t.Fatal("failed analysis must not be cached")
	}
	if tool.decodes.Load() != 0 {
		t.Fatal("decoder should not run")
	}
}

func TestAnalyzeDecodeFailureIsNotCached(t *testing.T) {
	tool := &fakeTool{duration: 4, decodeErr: &DecodeError{Path: "x", Err: errors.New("exit status 1"), Stderr: "Invalid data found"}}
	analyzer, repo := newTestAnalyzer(t, tool)

	_, err := analyzer.Analyze(context.Background(), testUpload(), 2)
	var decodeErr *DecodeError
	if !errors.As(err, &decodeErr) || decodeErr.Stderr != "Invalid data found" {
		t.Fatalf("err = %v, want DecodeError with stderr", err)
	}
	if got, _ := repo.GetByUploadID(context.Background(), testUpload().ID); got != nil {
		t.Fatal("failed analysis must not be cached")
	}
}

func TestAnalyzeProbeFailureUsesDefaultDuration(t *testing.T) {
	tool := &fakeTool{probeErr: errors.New("no ffprobe"), samples: constantSamples(0, 1, AnalysisSampleRate)}
	analyzer, _ := newTestAnalyzer(t, tool)

	a, err := analyzer.Analyze(context.Background(), testUpload(), 30)
	if err != nil {
		t.Fatal(err)
	}
	if a.Duration != 30 {
		t.Fatalf("duration = %v, want 30", a.Duration)
	}
	// 静音时用 0.5 秒网格覆盖整个时长
	if len(a.Beats) != 60 {
		t.Fatalf("got %d fallback beats, want 60", len(a.Beats))
	}
}
