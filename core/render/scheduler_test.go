package render

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"BratGen/db"
	"BratGen/model"
	"BratGen/repository"
)

type fakeFiles struct {
	uploads    map[string]*model.Upload
	registered atomic.Int32
}

func (f *fakeFiles) GetUpload(_ context.Context, id string) (*model.Upload, error) {
	return f.uploads[id], nil
}

func (f *fakeFiles) ResolveLocalPath(_ context.Context, file *model.StoredFile) (string, error) {
	return file.Path, nil
}

func (f *fakeFiles) RegisterGeneratedOutput(_ context.Context, path string, meta model.GeneratedFileMeta) (*model.StoredFile, error) {
	f.registered.Add(1)
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	return &model.StoredFile{
		ID:           "out",
		Path:         path,
		Size:         info.Size(),
		OriginalName: meta.OriginalName,
		MimeType:     meta.MimeType,
		Key:          meta.Key,
		Storage:      model.StorageLocal,
		Checksum:     "abc",
	}, nil
}

type fakeEncoder struct {
	calls   atomic.Int32
	encode  func(ctx context.Context, req EncodeRequest, onProgress func(float64)) error
	lastReq atomic.Pointer[EncodeRequest]
}

func (e *fakeEncoder) Encode(ctx context.Context, req EncodeRequest, onProgress func(float64)) error {
	e.calls.Add(1)
	e.lastReq.Store(&req)
	if e.encode != nil {
		return e.encode(ctx, req, onProgress)
	}
	return writeOutput(req)
}

func writeOutput(req EncodeRequest) error {
	if err := os.MkdirAll(filepath.Dir(req.OutputPath), 0755); err != nil {
		return err
	}
	return os.WriteFile(req.OutputPath, []byte("mp4"), 0644)
}

const testUploadID = "0f4c9d6e-1a2b-4c3d-8e9f-a0b1c2d3e4f5"

func newTestScheduler(t *testing.T, enc *fakeEncoder, withAudio bool) (*Scheduler, *fakeFiles) {
	t.Helper()
	store, err := db.NewJSONFileStore(filepath.Join(t.TempDir(), "datastore.json"))
	if err != nil {
		t.Fatal(err)
	}
	upload := &model.Upload{
		ID:       testUploadID,
		Duration: 30,
		Files: model.UploadFiles{
			Video: &model.StoredFile{ID: "v", Path: "/media/video.mp4"},
		},
	}
	if withAudio {
		upload.Files.Audio = &model.StoredFile{ID: "a", Path: "/media/music.mp3"}
	}
	files := &fakeFiles{uploads: map[string]*model.Upload{testUploadID: upload}}
	s := NewScheduler(SchedulerOptions{
		Jobs:      repository.NewRenderJobRepository(store),
		Files:     files,
		Encoder:   enc,
		Queue:     NewMemoryQueue(),
		RenderDir: t.TempDir(),
	})
	return s, files
}

var withMusic = model.RenderOptions{IncludeMusic: true, IncludeOriginal: true, Resolution: "720p", Aspect: "9:16"}

func TestSchedulerCompletesJob(t *testing.T) {
	enc := &fakeEncoder{}
	s, files := newTestScheduler(t, enc, true)
	ctx := context.Background()

	job, err := s.Enqueue(ctx, testUploadID, model.RenderSegment{Start: 2, End: 12}, withMusic)
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if job.Status != model.RenderQueued || job.Attempts != 0 || job.Progress != 0 || job.Output != nil {
		t.Fatalf("unexpected new job %+v", job)
	}

	s.process(ctx, job.ID)

	got, err := s.Get(ctx, job.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != model.RenderCompleted || got.Progress != 1 || got.Attempts != 1 || got.Error != nil {
		t.Fatalf("unexpected job %+v", got)
	}
	if got.Output == nil || got.Output.DownloadURL != "/api/render/"+job.ID+"/file" || got.Output.MimeType != "video/mp4" {
		t.Fatalf("unexpected output %+v", got.Output)
	}
	if files.registered.Load() != 1 {
		t.Fatalf("output registered %d times", files.registered.Load())
	}

	req := enc.lastReq.Load()
	if req.MusicPath != "/media/music.mp3" || req.VideoPath != "/media/video.mp4" {
		t.Fatalf("unexpected request %+v", req)
	}
	if req.OutputPath != filepath.Join(s.renderDir, job.ID, "output.mp4") {
		t.Fatalf("output path %s", req.OutputPath)
	}

	manifest, _ := s.Manifest(ctx, job.ID)
	if manifest.Output.Key != "renders/"+job.ID+"/output.mp4" {
		t.Fatalf("output key %s", manifest.Output.Key)
	}
}

func TestSchedulerMissingAudioFailsWithoutEncoding(t *testing.T) {
	enc := &fakeEncoder{}
	s, _ := newTestScheduler(t, enc, false)
	ctx := context.Background()

	job, _ := s.Enqueue(ctx, testUploadID, model.RenderSegment{Start: 0, End: 5}, withMusic)
	s.process(ctx, job.ID)

	got, _ := s.Get(ctx, job.ID)
	if got.Status != model.RenderFailed || got.Error == nil || *got.Error != msgMissingAudio {
		t.Fatalf("unexpected job %+v", got)
	}
	if got.Attempts != 1 || enc.calls.Load() != 0 {
		t.Fatalf("attempts=%d encoder calls=%d", got.Attempts, enc.calls.Load())
	}
}

func TestSchedulerOriginalAudioOnlyNeedsNoMusic(t *testing.T) {
	enc := &fakeEncoder{}
	s, _ := newTestScheduler(t, enc, false)
	ctx := context.Background()

	job, _ := s.Enqueue(ctx, testUploadID, model.RenderSegment{Start: 0, End: 5}, model.RenderOptions{IncludeOriginal: true})
	s.process(ctx, job.ID)

	got, _ := s.Get(ctx, job.ID)
	if got.Status != model.RenderCompleted {
		t.Fatalf("unexpected job %+v", got)
	}
	if enc.lastReq.Load().MusicPath != "" {
		t.Fatal("music should not be resolved")
	}
}

func TestSchedulerUploadNotFound(t *testing.T) {
	s, _ := newTestScheduler(t, &fakeEncoder{}, true)
	ctx := context.Background()

	job, _ := s.Enqueue(ctx, "7b1e2f3a-0000-4000-8000-000000000000", model.RenderSegment{Start: 0, End: 5}, withMusic)
	s.process(ctx, job.ID)

	got, _ := s.Get(ctx, job.ID)
	if got.Status != model.RenderFailed || *got.Error != msgUploadNotFound {
		t.Fatalf("unexpected job %+v", got)
	}
}

func TestSchedulerEncoderFailureAndRetry(t *testing.T) {
	failing := true
	enc := &fakeEncoder{}
	enc.encode = func(_ context.Context, req EncodeRequest, _ func(float64)) error {
		if failing {
			return &EncoderError{Err: errors.New("exit status 1"), Stderr: "Invalid argument"}
		}
		return writeOutput(req)
	}
	s, _ := newTestScheduler(t, enc, true)
	ctx := context.Background()

	job, _ := s.Enqueue(ctx, testUploadID, model.RenderSegment{Start: 0, End: 5}, withMusic)
	s.process(ctx, job.ID)

	got, _ := s.Get(ctx, job.ID)
	if got.Status != model.RenderFailed || got.Error == nil || got.Attempts != 1 {
		t.Fatalf("unexpected job %+v", got)
	}
	if *got.Error != "ffmpeg exited: exit status 1: Invalid argument" {
		t.Fatalf("error = %q", *got.Error)
	}

	retried, err := s.Retry(ctx, job.ID)
	if err != nil {
		t.Fatalf("Retry: %v", err)
	}
	if retried.Status != model.RenderQueued || retried.Error != nil || retried.Attempts != 1 || retried.Progress != 0 {
		t.Fatalf("unexpected retried job %+v", retried)
	}
	if n, _ := s.queue.Pending(ctx); n != 2 {
		t.Fatalf("pending = %d", n)
	}

	failing = false
	s.process(ctx, job.ID)
	got, _ = s.Get(ctx, job.ID)
	if got.Status != model.RenderCompleted || got.Attempts != 2 {
		t.Fatalf("unexpected job %+v", got)
	}

	if _, err := s.Retry(ctx, job.ID); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("Retry on completed job: %v", err)
	}
}

func TestSchedulerCancelQueued(t *testing.T) {
	enc := &fakeEncoder{}
	s, _ := newTestScheduler(t, enc, true)
	ctx := context.Background()

	job, _ := s.Enqueue(ctx, testUploadID, model.RenderSegment{Start: 0, End: 5}, withMusic)
	cancelled, err := s.Cancel(ctx, job.ID)
	if err != nil || cancelled.Status != model.RenderCancelled {
		t.Fatalf("Cancel = %+v, %v", cancelled, err)
	}

	s.process(ctx, job.ID)
	if enc.calls.Load() != 0 {
		t.Fatal("cancelled job must not be encoded")
	}
	got, _ := s.Get(ctx, job.ID)
	if got.Status != model.RenderCancelled || got.Attempts != 0 {
		t.Fatalf("unexpected job %+v", got)
	}

	if _, err := s.Cancel(ctx, job.ID); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("second Cancel: %v", err)
	}
	if _, err := s.Retry(ctx, job.ID); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("Retry on cancelled job: %v", err)
	}
}

func TestSchedulerCancelWhileEncoding(t *testing.T) {
	started := make(chan struct{})
	enc := &fakeEncoder{}
	enc.encode = func(ctx context.Context, req EncodeRequest, onProgress func(float64)) error {
		writeOutput(req)
		onProgress(0.3)
		close(started)
		<-ctx.Done()
		return ctx.Err()
	}
	s, _ := newTestScheduler(t, enc, true)
	ctx := context.Background()

	job, _ := s.Enqueue(ctx, testUploadID, model.RenderSegment{Start: 0, End: 5}, withMusic)

	done := make(chan struct{})
	go func() {
		s.process(ctx, job.ID)
		close(done)
	}()

	<-started
	if h := s.Health(ctx); h.ActiveJob != job.ID || h.Backend != "memory" {
		t.Fatalf("health = %+v", h)
	}
	if _, err := s.Cancel(ctx, job.ID); err != nil {
		t.Fatalf("Cancel: %v", err)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("encoder was not cancelled")
	}

	got, _ := s.Get(ctx, job.ID)
	if got.Status != model.RenderCancelled || got.Output != nil {
		t.Fatalf("unexpected job %+v", got)
	}
	if got.Progress != 0.3 {
		t.Fatalf("progress = %v", got.Progress)
	}
	if _, err := os.Stat(filepath.Join(s.renderDir, job.ID)); !os.IsNotExist(err) {
		t.Fatalf("render directory should be removed, stat err = %v", err)
	}
	if h := s.Health(ctx); h.ActiveJob != "" {
		t.Fatalf("active job = %q", h.ActiveJob)
	}
}

// hookedJobs 在任务第一次进入 processing 后调用 afterProcessing
type hookedJobs struct {
	repository.RenderJobRepository
	once            sync.Once
	afterProcessing func(id string)
}

func (h *hookedJobs) Update(ctx context.Context, id string, fn func(job *model.RenderJobManifest) error) (*model.RenderJobManifest, error) {
	job, err := h.RenderJobRepository.Update(ctx, id, fn)
	if err == nil && job != nil && job.Status == model.RenderProcessing {
		h.once.Do(func() { h.afterProcessing(id) })
	}
	return job, err
}

func TestSchedulerCancelRightAfterProcessingStarts(t *testing.T) {
	var reachedEncode atomic.Bool
	enc := &fakeEncoder{}
	enc.encode = func(ctx context.Context, req EncodeRequest, onProgress func(float64)) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(2 * time.Second):
			reachedEncode.Store(true)
			return writeOutput(req)
		}
	}
	s, files := newTestScheduler(t, enc, true)
	ctx := context.Background()

	hooked := &hookedJobs{RenderJobRepository: s.jobs}
	hooked.afterProcessing = func(id string) {
		if _, err := s.Cancel(ctx, id); err != nil {
			t.Errorf("Cancel: %v", err)
		}
	}
	s.jobs = hooked

	job, err := s.Enqueue(ctx, testUploadID, model.RenderSegment{Start: 0, End: 5}, withMusic)
	if err != nil {
		t.Fatal(err)
	}
	s.process(ctx, job.ID)

	if reachedEncode.Load() {
		t.Fatal("encode ran to completion after cancel")
	}
	got, _ := s.Get(ctx, job.ID)
	if got.Status != model.RenderCancelled || got.Output != nil {
		t.Fatalf("unexpected job %+v", got)
	}
	if files.registered.Load() != 0 {
		t.Fatal("cancelled job registered an output")
	}
}

func TestSchedulerTimeout(t *testing.T) {
	enc := &fakeEncoder{}
	enc.encode = func(ctx context.Context, _ EncodeRequest, _ func(float64)) error {
		<-ctx.Done()
		return ctx.Err()
	}
	s, _ := newTestScheduler(t, enc, true)
	s.timeout = 20 * time.Millisecond
	ctx := context.Background()

	job, _ := s.Enqueue(ctx, testUploadID, model.RenderSegment{Start: 0, End: 5}, withMusic)
	s.process(ctx, job.ID)

	got, _ := s.Get(ctx, job.ID)
	if got.Status != model.RenderFailed || *got.Error != "render timed out after 20ms" {
		t.Fatalf("unexpected job %+v", got)
	}
}

func TestSchedulerPanicMarksJobFailed(t *testing.T) {
	enc := &fakeEncoder{}
	enc.encode = func(context.Context, EncodeRequest, func(float64)) error {
		panic("boom")
	}
	s, _ := newTestScheduler(t, enc, true)
	ctx := context.Background()

	job, _ := s.Enqueue(ctx, testUploadID, model.RenderSegment{Start: 0, End: 5}, withMusic)
	s.process(ctx, job.ID)

	got, _ := s.Get(ctx, job.ID)
	if got.Status != model.RenderFailed || *got.Error != "render worker panic: boom" {
		t.Fatalf("unexpected job %+v", got)
	}
}

func TestSchedulerRejectsInvalidSegment(t *testing.T) {
	s, _ := newTestScheduler(t, &fakeEncoder{}, true)
	ctx := context.Background()

	for _, seg := range []model.RenderSegment{
		{Start: 5, End: 5},
		{Start: 6, End: 5},
		{Start: -1, End: 5},
	} {
		if _, err := s.Enqueue(ctx, testUploadID, seg, withMusic); !errors.Is(err, ErrInvalidSegment) {
			t.Errorf("Enqueue(%+v) err = %v", seg, err)
		}
	}
	jobs, _ := s.List(ctx)
	if len(jobs) != 0 {
		t.Fatalf("invalid jobs were persisted: %d", len(jobs))
	}
}

func TestSchedulerUnknownJob(t *testing.T) {
	s, _ := newTestScheduler(t, &fakeEncoder{}, true)
	ctx := context.Background()

	if _, err := s.Get(ctx, "missing"); !errors.Is(err, ErrJobNotFound) {
		t.Fatalf("Get: %v", err)
	}
	if _, err := s.Retry(ctx, "missing"); !errors.Is(err, ErrJobNotFound) {
		t.Fatalf("Retry: %v", err)
	}
	if _, err := s.Cancel(ctx, "missing"); !errors.Is(err, ErrJobNotFound) {
		t.Fatalf("Cancel: %v", err)
	}
}

func TestSchedulerWorkerDrainsQueue(t *testing.T) {
	s, _ := newTestScheduler(t, &fakeEncoder{}, true)
	ctx := context.Background()

	if err := s.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer s.Stop()

	job, _ := s.Enqueue(ctx, testUploadID, model.RenderSegment{Start: 0, End: 5}, withMusic)

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		got, _ := s.Get(ctx, job.ID)
		if got.Status == model.RenderCompleted {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("job was not processed by the worker")
}

func TestSchedulerRequeuesInterruptedJobs(t *testing.T) {
	s, _ := newTestScheduler(t, &fakeEncoder{}, true)
	ctx := context.Background()

	job, _ := s.Enqueue(ctx, testUploadID, model.RenderSegment{Start: 0, End: 5}, withMusic)
	// 模拟上次进程退出时任务仍在执行
	s.jobs.Update(ctx, job.ID, func(m *model.RenderJobManifest) error {
		m.Status = model.RenderProcessing
		m.Progress = 0.4
		return nil
	})
	s.queue = NewMemoryQueue()

	if err := s.recover(ctx); err != nil {
		t.Fatal(err)
	}
	got, _ := s.Get(ctx, job.ID)
	if got.Status != model.RenderQueued || got.Progress != 0 {
		t.Fatalf("unexpected job %+v", got)
	}
	if n, _ := s.queue.Pending(ctx); n != 1 {
		t.Fatalf("pending = %d", n)
	}
}
