package render

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"
	"time"

	"BratGen/logger"
	"BratGen/model"
	"BratGen/repository"

	"github.com/google/uuid"
)

var (
	ErrInvalidSegment    = errors.New("invalid render segment")
	ErrJobNotFound       = errors.New("render job not found")
	ErrInvalidTransition = errors.New("render job cannot move to the requested state")
)

// 渲染前置条件失败时写入任务的错误信息
const (
	msgUploadNotFound = "upload not found"
	msgMissingAudio   = "upload is missing an audio track for mixing"
	msgMissingVideo   = "upload is missing a video file"
)

// FileStore 渲染需要的存储能力
type FileStore interface {
	GetUpload(ctx context.Context, id string) (*model.Upload, error)
	ResolveLocalPath(ctx context.Context, file *model.StoredFile) (string, error)
	RegisterGeneratedOutput(ctx context.Context, path string, meta model.GeneratedFileMeta) (*model.StoredFile, error)
}

// SchedulerOptions Scheduler 的依赖与参数
type SchedulerOptions struct {
	Jobs             repository.RenderJobRepository
	Files            FileStore
	Encoder          Encoder
	Queue            Queue
	RenderDir        string
	Timeout          time.Duration // 0 表示不限时
	ProgressInterval time.Duration
}

// Health 队列状态
type Health struct {
	Backend   string `json:"backend"`
	Queued    int64  `json:"queued"`
	ActiveJob string `json:"activeJob,omitempty"`
}

// Scheduler 持久化渲染任务并由单个 worker 依次执行
type Scheduler struct {
	jobs             repository.RenderJobRepository
	files            FileStore
	encoder          Encoder
	queue            Queue
	renderDir        string
	timeout          time.Duration
	progressInterval time.Duration
	now              func() time.Time

	mu           sync.Mutex
	activeID     string
	cancelActive context.CancelFunc

	stopChan chan struct{}
	wg       sync.WaitGroup
}

func NewScheduler(opts SchedulerOptions) *Scheduler {
	interval := opts.ProgressInterval
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	return &Scheduler{
		jobs:             opts.Jobs,
		files:            opts.Files,
		encoder:          opts.Encoder,
		queue:            opts.Queue,
		renderDir:        opts.RenderDir,
		timeout:          opts.Timeout,
		progressInterval: interval,
		now:              time.Now,
	}
}

// Start 恢复中断的任务并启动 worker
func (s *Scheduler) Start(ctx context.Context) error {
	if err := s.recover(ctx); err != nil {
		return err
	}

	s.stopChan = make(chan struct{})
	runCtx, cancel := context.WithCancel(ctx)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		<-s.stopChan
		cancel()
	}()

	s.wg.Add(1)
	go s.worker(runCtx)

	logger.Info("渲染 worker 已启动", logger.String("queue", s.queue.Name()))
	return nil
}

// Stop 停止 worker, 正在执行的编码会被取消
func (s *Scheduler) Stop() {
	if s.stopChan == nil {
		return
	}
	close(s.stopChan)
	s.wg.Wait()
	s.stopChan = nil
	logger.Info("渲染 worker 已停止")
}

// recover 处理上次进程退出时仍在 processing 的任务; 进程内队列需要重新提交 queued 任务
func (s *Scheduler) recover(ctx context.Context) error {
	jobs, err := s.jobs.List(ctx)
	if err != nil {
		return err
	}
	resubmit := s.queue.Name() == "memory"
	// List 为倒序, 反向遍历以保持提交顺序
	for i := len(jobs) - 1; i >= 0; i-- {
		job := jobs[i]
		switch job.Status {
		case model.RenderProcessing:
			if _, err := s.jobs.Update(ctx, job.ID, func(m *model.RenderJobManifest) error {
				if m.Status != model.RenderProcessing {
					return repository.ErrSkipUpdate
				}
				m.Status = model.RenderQueued
				m.Progress = 0
				return nil
			}); err != nil {
				return err
			}
			logger.Warn("渲染任务被中断, 重新排队", logger.String("jobId", job.ID))
			if resubmit {
				if err := s.queue.Submit(ctx, job.ID); err != nil {
					return err
				}
			}
		case model.RenderQueued:
			if resubmit {
				if err := s.queue.Submit(ctx, job.ID); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func (s *Scheduler) worker(ctx context.Context) {
	defer s.wg.Done()
	for {
		id, err := s.queue.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Error("读取渲染队列失败", logger.ErrorField(err))
			continue
		}
		s.process(ctx, id)
		if err := s.queue.Done(ctx, id); err != nil {
			logger.Warn("确认渲染任务失败", logger.String("jobId", id), logger.ErrorField(err))
		}
	}
}

func validSegment(seg model.RenderSegment) bool {
	for _, v := range []float64{seg.Start, seg.End} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return seg.Start >= 0 && seg.End > seg.Start
}

// Enqueue 持久化任务并提交到队列, 不等待执行
func (s *Scheduler) Enqueue(ctx context.Context, uploadID string, segment model.RenderSegment, options model.RenderOptions) (*model.PublicRenderJob, error) {
	if !validSegment(segment) {
		return nil, fmt.Errorf("%w: start=%v end=%v", ErrInvalidSegment, segment.Start, segment.End)
	}

	now := s.now()
	job := &model.RenderJobManifest{
		ID:        uuid.NewString(),
		UploadID:  uploadID,
		CreatedAt: now,
		UpdatedAt: now,
		Status:    model.RenderQueued,
		Segment:   segment,
		Options:   options,
	}
	if err := s.jobs.Create(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to persist render job: %w", err)
	}
	if err := s.queue.Submit(ctx, job.ID); err != nil {
		s.fail(ctx, job.ID, "failed to enqueue render job: "+err.Error(), false)
		return nil, fmt.Errorf("failed to enqueue render job %s: %w", job.ID, err)
	}

	logger.Info("渲染任务已入队",
		logger.String("jobId", job.ID),
		logger.String("uploadId", uploadID),
		logger.Float64("start", segment.Start),
		logger.Float64("end", segment.End))
	return job.Public(), nil
}

// Manifest 返回完整的内部记录
func (s *Scheduler) Manifest(ctx context.Context, id string) (*model.RenderJobManifest, error) {
	job, err := s.jobs.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, ErrJobNotFound
	}
	return job, nil
}

func (s *Scheduler) Get(ctx context.Context, id string) (*model.PublicRenderJob, error) {
	job, err := s.Manifest(ctx, id)
	if err != nil {
		return nil, err
	}
	return job.Public(), nil
}

// List 按创建时间倒序
func (s *Scheduler) List(ctx context.Context) ([]*model.PublicRenderJob, error) {
	jobs, err := s.jobs.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*model.PublicRenderJob, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, j.Public())
	}
	return out, nil
}

// Retry 只允许从 failed 重新排队
func (s *Scheduler) Retry(ctx context.Context, id string) (*model.PublicRenderJob, error) {
	job, err := s.jobs.Update(ctx, id, func(m *model.RenderJobManifest) error {
		if m.Status != model.RenderFailed {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, m.Status, model.RenderQueued)
		}
		m.Status = model.RenderQueued
		m.Error = nil
		m.Output = nil
		m.Progress = 0
		return nil
	})
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, ErrJobNotFound
	}
	if err := s.queue.Submit(ctx, id); err != nil {
		return nil, fmt.Errorf("failed to enqueue render job %s: %w", id, err)
	}
	logger.Info("渲染任务重新入队", logger.String("jobId", id), logger.Int("attempts", job.Attempts))
	return job.Public(), nil
}

// Cancel 只允许取消 queued 或 processing 的任务; 正在编码的会被终止
func (s *Scheduler) Cancel(ctx context.Context, id string) (*model.PublicRenderJob, error) {
	job, err := s.jobs.Update(ctx, id, func(m *model.RenderJobManifest) error {
		if m.Status != model.RenderQueued && m.Status != model.RenderProcessing {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, m.Status, model.RenderCancelled)
		}
		m.Status = model.RenderCancelled
		return nil
	})
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, ErrJobNotFound
	}

	s.mu.Lock()
	if s.activeID == id && s.cancelActive != nil {
		s.cancelActive()
	}
	s.mu.Unlock()

	logger.Info("渲染任务已取消", logger.String("jobId", id))
	return job.Public(), nil
}

// Health 队列后端、排队数量和当前任务
func (s *Scheduler) Health(ctx context.Context) Health {
	h := Health{Backend: s.queue.Name()}
	if n, err := s.queue.Pending(ctx); err == nil {
		h.Queued = n
	}
	s.mu.Lock()
	h.ActiveJob = s.activeID
	s.mu.Unlock()
	return h
}

// fail 写入 failed 状态; countAttempt 为 true 时计入一次尝试. 已取消的任务保持不变
func (s *Scheduler) fail(ctx context.Context, id, message string, countAttempt bool) {
	_, err := s.jobs.Update(ctx, id, func(m *model.RenderJobManifest) error {
		if m.Status == model.RenderCancelled || m.Status == model.RenderCompleted {
			return repository.ErrSkipUpdate
		}
		if countAttempt {
			m.Attempts++
		}
		m.Status = model.RenderFailed
		m.Error = &message
		m.Output = nil
		return nil
	})
	if err != nil {
		logger.Error("写入渲染失败状态失败", logger.String("jobId", id), logger.ErrorField(err))
		return
	}
	logger.Warn("渲染任务失败", logger.String("jobId", id), logger.String("error", message))
}

func (s *Scheduler) setActive(id string, cancel context.CancelFunc) {
	s.mu.Lock()
	s.activeID = id
	s.cancelActive = cancel
	s.mu.Unlock()
}

// process 执行一个任务, 任何 panic 都会被转换为任务失败
func (s *Scheduler) process(ctx context.Context, id string) {
	defer func() {
		if r := recover(); r != nil {
			s.setActive("", nil)
			s.fail(ctx, id, fmt.Sprintf("render worker panic: %v", r), false)
		}
	}()

	job, err := s.jobs.GetByID(ctx, id)
	if err != nil {
		logger.Error("读取渲染任务失败", logger.String("jobId", id), logger.ErrorField(err))
		return
	}
	if job == nil || job.Status != model.RenderQueued {
		return
	}

	upload, err := s.files.GetUpload(ctx, job.UploadID)
	if err != nil {
		s.fail(ctx, id, err.Error(), true)
		return
	}
	if upload == nil {
		s.fail(ctx, id, msgUploadNotFound, true)
		return
	}
	if job.Options.IncludeMusic && !upload.HasAudio() {
		s.fail(ctx, id, msgMissingAudio, true)
		return
	}
	if upload.Files.Video == nil || upload.Files.Video.Path == "" {
		s.fail(ctx, id, msgMissingVideo, true)
		return
	}

	// 先登记 cancel, 切换到 processing 之后的 Cancel 才能终止编码
	var jobCtx context.Context
	var cancel context.CancelFunc
	if s.timeout > 0 {
		jobCtx, cancel = context.WithTimeout(ctx, s.timeout)
	} else {
		jobCtx, cancel = context.WithCancel(ctx)
	}
	defer cancel()
	s.setActive(id, cancel)
	defer s.setActive("", nil)

	job, err = s.jobs.Update(ctx, id, func(m *model.RenderJobManifest) error {
		if m.Status != model.RenderQueued {
			return repository.ErrSkipUpdate
		}
		m.Status = model.RenderProcessing
		m.Attempts++
		m.Error = nil
		m.Progress = 0
		return nil
	})
	if err != nil {
		logger.Error("更新渲染任务状态失败", logger.String("jobId", id), logger.ErrorField(err))
		return
	}
	if job == nil || job.Status != model.RenderProcessing {
		return
	}

	logger.Info("开始渲染",
		logger.String("jobId", id),
		logger.Int("attempt", job.Attempts),
		logger.Float64("duration", job.Segment.Duration()))
	started := s.now()

	req, err := s.buildRequest(jobCtx, job, upload)
	if err != nil {
		s.fail(ctx, id, err.Error(), false)
		return
	}

	encodeErr := s.encoder.Encode(jobCtx, req, s.progressReporter(ctx, id))

	if current, _ := s.jobs.GetByID(ctx, id); current != nil && current.Status == model.RenderCancelled {
		os.RemoveAll(filepath.Dir(req.OutputPath))
		logger.Info("渲染已中止", logger.String("jobId", id))
		return
	}
	if encodeErr != nil && ctx.Err() != nil {
		// 服务关闭, 保持 processing, 下次启动时重新排队
		logger.Warn("服务关闭, 渲染被中断", logger.String("jobId", id))
		return
	}
	if encodeErr != nil {
		if errors.Is(encodeErr, context.DeadlineExceeded) {
			s.fail(ctx, id, fmt.Sprintf("render timed out after %s", s.timeout), false)
			return
		}
		s.fail(ctx, id, encodeErr.Error(), false)
		return
	}

	output, err := s.files.RegisterGeneratedOutput(ctx, req.OutputPath, model.GeneratedFileMeta{
		OriginalName: fmt.Sprintf("render-%s.mp4", id),
		MimeType:     "video/mp4",
		Key:          fmt.Sprintf("renders/%s/output.mp4", id),
	})
	if err != nil {
		s.fail(ctx, id, fmt.Sprintf("failed to register render output: %v", err), false)
		return
	}

	_, err = s.jobs.Update(ctx, id, func(m *model.RenderJobManifest) error {
		if m.Status != model.RenderProcessing {
			return repository.ErrSkipUpdate
		}
		m.Status = model.RenderCompleted
		m.Progress = 1
		m.Output = output
		m.Error = nil
		return nil
	})
	if err != nil {
		logger.Error("更新渲染任务状态失败", logger.String("jobId", id), logger.ErrorField(err))
		return
	}
	logger.Info("渲染完成",
		logger.String("jobId", id),
		logger.Size("size", output.Size),
		logger.Duration("elapsed", s.now().Sub(started)))
}

func (s *Scheduler) buildRequest(ctx context.Context, job *model.RenderJobManifest, upload *model.Upload) (EncodeRequest, error) {
	videoPath, err := s.files.ResolveLocalPath(ctx, upload.Files.Video)
	if err != nil {
		return EncodeRequest{}, fmt.Errorf("failed to resolve video: %w", err)
	}
	musicPath := ""
	if job.Options.IncludeMusic {
		musicPath, err = s.files.ResolveLocalPath(ctx, upload.Files.Audio)
		if err != nil {
			return EncodeRequest{}, fmt.Errorf("failed to resolve music: %w", err)
		}
	}
	return EncodeRequest{
		VideoPath:  videoPath,
		MusicPath:  musicPath,
		OutputPath: filepath.Join(s.renderDir, job.ID, "output.mp4"),
		Segment:    job.Segment,
		Options:    job.Options,
	}, nil
}

// progressReporter 限频写入进度, 只在 processing 状态下前进
func (s *Scheduler) progressReporter(ctx context.Context, id string) func(float64) {
	var mu sync.Mutex
	var last time.Time
	return func(p float64) {
		mu.Lock()
		now := s.now()
		if !last.IsZero() && now.Sub(last) < s.progressInterval {
			mu.Unlock()
			return
		}
		last = now
		mu.Unlock()

		_, err := s.jobs.Update(ctx, id, func(m *model.RenderJobManifest) error {
			if m.Status != model.RenderProcessing || p <= m.Progress {
				return repository.ErrSkipUpdate
			}
			m.Progress = math.Min(1, p)
			return nil
		})
		if err != nil {
			logger.Debug("写入渲染进度失败", logger.String("jobId", id), logger.ErrorField(err))
		}
	}
}
