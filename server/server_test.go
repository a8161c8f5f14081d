package server

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"BratGen/core/audio"
	"BratGen/core/lyrics"
	"BratGen/core/render"
	"BratGen/db"
	"BratGen/model"
	"BratGen/repository"
	"BratGen/storage"
)

type fakeMedia struct{}

func (fakeMedia) Probe(context.Context, string) (*audio.ProbeResult, error) {
	return &audio.ProbeResult{Duration: 12, SampleRate: 44100, Metadata: model.MediaMetadata{Duration: 12}}, nil
}

func (fakeMedia) DecodePCM(_ context.Context, _ string, rate int) ([]float32, error) {
	out := make([]float32, 12*rate)
	for i := range out {
		// 每 0.5 秒一个脉冲
		if i%(rate/2) < rate/50 {
			out[i] = 0.9
		} else {
			out[i] = 0.05
		}
	}
	return out, nil
}

type fileEncoder struct{}

func (fileEncoder) Encode(_ context.Context, req render.EncodeRequest, onProgress func(float64)) error {
	if err := os.MkdirAll(filepath.Dir(req.OutputPath), 0755); err != nil {
		return err
	}
	onProgress(1)
	return os.WriteFile(req.OutputPath, []byte("rendered-mp4"), 0644)
}

type testServer struct {
	*httptest.Server
	app *App
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	root := t.TempDir()
	records, err := db.NewJSONFileStore(filepath.Join(root, "datastore.json"))
	if err != nil {
		t.Fatal(err)
	}
	analyses := repository.NewAnalysisRepository(records, nil)
	transcripts := repository.NewTranscriptRepository(records)

	st, err := storage.New(storage.Options{
		Backend:     storage.NewLocalBackend(root),
		Uploads:     repository.NewUploadRepository(records),
		Analyses:    analyses,
		Transcripts: transcripts,
		Prober:      fakeMedia{},
		TmpDir:      filepath.Join(root, "uploads", "tmp"),
	})
	if err != nil {
		t.Fatal(err)
	}

	app := &App{Records: records, Storage: st}
	app.Analyzer = audio.NewAnalyzer(fakeMedia{}, st, analyses)
	app.Capability = lyrics.NewCapability(false, nil)
	app.Aligner = lyrics.NewAligner(app.Analyzer, st, transcripts, app.Capability, time.Hour)
	app.Queue = render.NewMemoryQueue()
	app.Scheduler = render.NewScheduler(render.SchedulerOptions{
		Jobs:      repository.NewRenderJobRepository(records),
		Files:     st,
		Encoder:   fileEncoder{},
		Queue:     app.Queue,
		RenderDir: filepath.Join(root, "renders"),
	})

	srv := httptest.NewServer(NewRouter(NewAPIHandler(app)))
	t.Cleanup(srv.Close)
	return &testServer{Server: srv, app: app}
}

func (s *testServer) upload(t *testing.T, withAudio bool) *model.Upload {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, _ := mw.CreateFormFile("video", "clip.mp4")
	fw.Write([]byte("fake-video"))
	if withAudio {
		fa, _ := mw.CreateFormFile("audio", "song.mp3")
		fa.Write([]byte("fake-audio"))
	}
	mw.WriteField("duration", "12")
	mw.Close()

	resp, err := http.Post(s.URL+"/api/uploads", mw.FormDataContentType(), &body)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("upload status = %d", resp.StatusCode)
	}
	var out struct {
		Upload model.Upload `json:"upload"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	return &out.Upload
}

func (s *testServer) do(t *testing.T, method, path string, body any, out any) int {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, _ := json.Marshal(body)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, _ := http.NewRequest(method, s.URL+path, reader)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if out != nil {
		json.NewDecoder(resp.Body).Decode(out)
	}
	return resp.StatusCode
}

func TestUploadLifecycle(t *testing.T) {
	s := newTestServer(t)
	upload := s.upload(t, true)
	if upload.Duration != 12 || !upload.HasAudio() || upload.Files.Video.Checksum == "" {
		t.Fatalf("unexpected upload %+v", upload)
	}

	var list struct {
		Uploads []model.Upload `json:"uploads"`
	}
	if code := s.do(t, http.MethodGet, "/api/uploads", nil, &list); code != http.StatusOK || len(list.Uploads) != 1 {
		t.Fatalf("list = %d, %d uploads", code, len(list.Uploads))
	}

	resp, err := http.Get(s.URL + "/api/uploads/" + upload.ID + "/files/video")
	if err != nil {
		t.Fatal(err)
	}
	var buf bytes.Buffer
	buf.ReadFrom(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || buf.String() != "fake-video" {
		t.Fatalf("download = %d %q", resp.StatusCode, buf.String())
	}
	if resp.Header.Get("X-Checksum-Sha256") != upload.Files.Video.Checksum {
		t.Fatal("missing checksum header")
	}

	if code := s.do(t, http.MethodGet, "/api/uploads/"+upload.ID+"/files/poster", nil, nil); code != http.StatusNotFound {
		t.Fatalf("unknown file = %d", code)
	}
	if code := s.do(t, http.MethodDelete, "/api/uploads/"+upload.ID, nil, nil); code != http.StatusNoContent {
		t.Fatalf("delete = %d", code)
	}
	if code := s.do(t, http.MethodGet, "/api/uploads/"+upload.ID, nil, nil); code != http.StatusNotFound {
		t.Fatalf("get after delete = %d", code)
	}
	if code := s.do(t, http.MethodDelete, "/api/uploads/"+upload.ID, nil, nil); code != http.StatusNotFound {
		t.Fatalf("second delete = %d", code)
	}
}

func TestUploadValidation(t *testing.T) {
	s := newTestServer(t)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	mw.WriteField("duration", "12")
	mw.Close()
	resp, err := http.Post(s.URL+"/api/uploads", mw.FormDataContentType(), &body)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("missing video = %d", resp.StatusCode)
	}

	if code := s.do(t, http.MethodGet, "/api/uploads/not-a-uuid", nil, nil); code != http.StatusBadRequest {
		t.Fatalf("bad id = %d", code)
	}
	if code := s.do(t, http.MethodGet, "/api/uploads/5b0c2d1e-3f4a-4b5c-8d6e-7f8091a2b3c4", nil, nil); code != http.StatusNotFound {
		t.Fatalf("unknown id = %d", code)
	}
}

func TestAnalyzeAudio(t *testing.T) {
	s := newTestServer(t)
	upload := s.upload(t, true)

	if code := s.do(t, http.MethodPost, "/api/analyze/audio", map[string]any{"uploadId": upload.ID, "targetDuration": 200}, nil); code != http.StatusBadRequest {
		t.Fatalf("out of range target = %d", code)
	}
	if code := s.do(t, http.MethodPost, "/api/analyze/audio", map[string]any{"uploadId": "nope"}, nil); code != http.StatusBadRequest {
		t.Fatalf("bad uuid = %d", code)
	}

	var out struct {
		Analysis  model.AudioAnalysis `json:"analysis"`
		Selection *struct {
			Start  float64 `json:"start"`
			End    float64 `json:"end"`
			Source string  `json:"source"`
		} `json:"selection"`
	}
	code := s.do(t, http.MethodPost, "/api/analyze/audio", map[string]any{"uploadId": upload.ID, "targetDuration": 6}, &out)
	if code != http.StatusOK {
		t.Fatalf("analyze = %d", code)
	}
	if out.Analysis.UploadID != upload.ID || out.Analysis.Duration != 12 || len(out.Analysis.Beats) == 0 {
		t.Fatalf("unexpected analysis %+v", out.Analysis)
	}
	if out.Selection == nil || out.Selection.Source != "analysis" {
		t.Fatalf("selection = %+v", out.Selection)
	}
}

func TestAlignLyrics(t *testing.T) {
	s := newTestServer(t)
	upload := s.upload(t, true)

	if code := s.do(t, http.MethodPost, "/api/lyrics/align", map[string]any{"uploadId": upload.ID, "lyrics": "  "}, nil); code != http.StatusBadRequest {
		t.Fatalf("empty lyrics = %d", code)
	}

	var out struct {
		Alignment model.LyricTranscript `json:"alignment"`
	}
	code := s.do(t, http.MethodPost, "/api/lyrics/align", map[string]any{"uploadId": upload.ID, "lyrics": "first line here\nsecond line"}, &out)
	if code != http.StatusOK {
		t.Fatalf("align = %d", code)
	}
	if out.Alignment.Model != model.AlignmentBeats || len(out.Alignment.Lines) != 2 {
		t.Fatalf("unexpected alignment %+v", out.Alignment)
	}
}

type jobResponse struct {
	Job     model.PublicRenderJob `json:"job"`
	Message string                `json:"message"`
}

func TestRenderJobEndpoints(t *testing.T) {
	s := newTestServer(t)
	silent := s.upload(t, false)

	var errResp jobResponse
	code := s.do(t, http.MethodPost, "/api/render", map[string]any{
		"uploadId": silent.ID,
		"segment":  map[string]float64{"start": 0, "end": 5},
		"options":  map[string]any{"includeMusic": true},
	}, &errResp)
	if code != http.StatusBadRequest || errResp.Message != "audio track required to include music" {
		t.Fatalf("music without audio = %d %q", code, errResp.Message)
	}

	if code := s.do(t, http.MethodPost, "/api/render", map[string]any{
		"uploadId": silent.ID,
		"segment":  map[string]float64{"start": 5, "end": 2},
	}, nil); code != http.StatusBadRequest {
		t.Fatalf("invalid segment = %d", code)
	}
	if code := s.do(t, http.MethodPost, "/api/render", map[string]any{
		"uploadId": silent.ID,
		"segment":  map[string]float64{"start": 0, "end": 2},
		"options":  map[string]any{"aspect": "4:3"},
	}, nil); code != http.StatusBadRequest {
		t.Fatalf("invalid aspect = %d", code)
	}

	var created jobResponse
	code = s.do(t, http.MethodPost, "/api/render", map[string]any{
		"uploadId": silent.ID,
		"segment":  map[string]float64{"start": 1, "end": 4},
	}, &created)
	if code != http.StatusAccepted || created.Job.Status != model.RenderQueued {
		t.Fatalf("create = %d %+v", code, created.Job)
	}
	if created.Job.Options.IncludeMusic || !created.Job.Options.IncludeOriginal || created.Job.Options.Resolution != "720p" {
		t.Fatalf("unexpected defaults %+v", created.Job.Options)
	}

	id := created.Job.ID
	if code := s.do(t, http.MethodGet, "/api/render/"+id, nil, nil); code != http.StatusOK {
		t.Fatalf("get = %d", code)
	}
	if code := s.do(t, http.MethodPost, "/api/render/"+id+"/retry", nil, nil); code != http.StatusConflict {
		t.Fatalf("retry queued = %d", code)
	}
	if code := s.do(t, http.MethodGet, "/api/render/"+id+"/file", nil, nil); code != http.StatusNotFound {
		t.Fatalf("file before completion = %d", code)
	}

	var cancelled jobResponse
	if code := s.do(t, http.MethodPost, "/api/render/"+id+"/cancel", nil, &cancelled); code != http.StatusOK || cancelled.Job.Status != model.RenderCancelled {
		t.Fatalf("cancel = %d %+v", code, cancelled.Job)
	}
	if code := s.do(t, http.MethodGet, "/api/render/missing", nil, nil); code != http.StatusNotFound {
		t.Fatalf("unknown job = %d", code)
	}

	var list struct {
		Jobs   []model.PublicRenderJob `json:"jobs"`
		Health render.Health           `json:"health"`
	}
	if code := s.do(t, http.MethodGet, "/api/render", nil, &list); code != http.StatusOK || len(list.Jobs) != 1 || list.Health.Backend != "memory" {
		t.Fatalf("list = %d %+v", code, list)
	}
}

func TestRenderCompletesAndDownloads(t *testing.T) {
	s := newTestServer(t)
	upload := s.upload(t, true)

	ctx := context.Background()
	if err := s.app.Scheduler.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer s.app.Scheduler.Stop()

	var created jobResponse
	code := s.do(t, http.MethodPost, "/api/render", map[string]any{
		"uploadId": upload.ID,
		"segment":  map[string]float64{"start": 0, "end": 6},
		"options":  map[string]any{"resolution": "1080p", "aspect": "1:1", "duckingDb": 6},
	}, &created)
	if code != http.StatusAccepted || !created.Job.Options.IncludeMusic {
		t.Fatalf("create = %d %+v", code, created.Job)
	}

	var job jobResponse
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		s.do(t, http.MethodGet, "/api/render/"+created.Job.ID, nil, &job)
		if job.Job.Status.Terminal() {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if job.Job.Status != model.RenderCompleted || job.Job.Output == nil {
		t.Fatalf("job did not complete: %+v", job.Job)
	}
	if job.Job.Output.DownloadURL != "/api/render/"+created.Job.ID+"/file" {
		t.Fatalf("download url = %s", job.Job.Output.DownloadURL)
	}

	resp, err := http.Get(s.URL + job.Job.Output.DownloadURL)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var buf bytes.Buffer
	buf.ReadFrom(resp.Body)
	if resp.StatusCode != http.StatusOK || buf.String() != "rendered-mp4" || resp.Header.Get("Content-Type") != "video/mp4" {
		t.Fatalf("download = %d %q", resp.StatusCode, buf.String())
	}
}

func TestCORSPreflight(t *testing.T) {
	s := newTestServer(t)
	req, _ := http.NewRequest(http.MethodOptions, s.URL+"/api/render", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || resp.Header.Get("Access-Control-Allow-Origin") != "*" {
		t.Fatalf("preflight = %d", resp.StatusCode)
	}
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)
	var out map[string]any
	if code := s.do(t, http.MethodGet, "/api/health", nil, &out); code != http.StatusOK {
		t.Fatalf("health = %d", code)
	}
	if out["transcription"] != "unavailable" || !strings.EqualFold(out["status"].(string), "ok") {
		t.Fatalf("health = %+v", out)
	}
}
