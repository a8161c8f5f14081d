package audio

import (
	"context"
	"fmt"
	"time"

	"BratGen/logger"
	"BratGen/model"
	"BratGen/repository"

	"github.com/google/uuid"
)

const (
	// AnalysisSampleRate 分析时的解码采样率
	AnalysisSampleRate = 16000

	fallbackDuration = 30.0
)

// LocalResolver 把存储中的文件解析为本地可读路径
type LocalResolver interface {
	ResolveLocalPath(ctx context.Context, file *model.StoredFile) (string, error)
}

// Analyzer 计算并缓存上传的音频特征
type Analyzer struct {
	tool  MediaTool
	files LocalResolver
	repo  repository.AnalysisRepository
	locks *keyedLocker
	now   func() time.Time
}

// NewAnalyzer 创建分析器
func NewAnalyzer(tool MediaTool, files LocalResolver, repo repository.AnalysisRepository) *Analyzer {
	return &Analyzer{
		tool:  tool,
		files: files,
		repo:  repo,
		locks: newKeyedLocker(),
		now:   time.Now,
	}
}

// Cached 只读缓存, 没有记录返回 nil, nil
func (a *Analyzer) Cached(ctx context.Context, uploadID string) (*model.AudioAnalysis, error) {
	return a.repo.GetByUploadID(ctx, uploadID)
}

// Analyze 返回上传的音频分析. 同一上传只会计算一次, 并发的首次请求会等待同一结果.
func (a *Analyzer) Analyze(ctx context.Context, upload *model.Upload, target float64) (*model.AudioAnalysis, error) {
	if cached, err := a.repo.GetByUploadID(ctx, upload.ID); err != nil {
		return nil, fmt.Errorf("failed to load cached analysis for %s: %w", upload.ID, err)
	} else if cached != nil {
		return cached, nil
	}

	unlock := a.locks.Lock(upload.ID)
	defer unlock()

	// 等锁期间可能已由其它请求写入
	if cached, err := a.repo.GetByUploadID(ctx, upload.ID); err != nil {
		return nil, fmt.Errorf("failed to load cached analysis for %s: %w", upload.ID, err)
	} else if cached != nil {
		return cached, nil
	}

	analysis, err := a.compute(ctx, upload, target)
	if err != nil {
		return nil, err
	}
	if err := a.repo.Save(ctx, analysis); err != nil {
		return nil, fmt.Errorf("failed to save analysis for %s: %w", upload.ID, err)
	}

	logger.Info("音频分析完成",
		logger.String("uploadId", upload.ID),
		logger.Float64("duration", analysis.Duration),
		logger.Int("beats", len(analysis.Beats)),
		logger.Float64("tempo", analysis.Tempo),
		logger.Int("segments", len(analysis.Segments)))
	return analysis, nil
}

func (a *Analyzer) compute(ctx context.Context, upload *model.Upload, target float64) (*model.AudioAnalysis, error) {
	source := upload.MediaSource()
	if source == nil {
		return nil, ErrMissingMedia
	}

	localPath, err := a.files.ResolveLocalPath(ctx, source)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve media for %s: %w", upload.ID, err)
	}

	duration := fallbackDuration
	probe, err := a.tool.Probe(ctx, localPath)
	if err != nil {
		logger.Warn("ffprobe 失败, 使用默认时长",
			logger.String("uploadId", upload.ID),
			logger.ErrorField(err))
	} else if probe.Duration > 0 {
		duration = probe.Duration
	}

	samples, err := a.tool.DecodePCM(ctx, localPath, AnalysisSampleRate)
	if err != nil {
		return nil, err
	}

	waveform := BuildWaveform(samples, waveformBinCount(duration))
	beats := DetectBeats(samples, AnalysisSampleRate, duration)
	now := a.now()

	return &model.AudioAnalysis{
		ID:         uuid.NewString(),
		UploadID:   upload.ID,
		CreatedAt:  now,
		UpdatedAt:  now,
		Duration:   duration,
		SampleRate: AnalysisSampleRate,
		Waveform:   waveform,
		Beats:      beats,
		Tempo:      EstimateTempo(beats),
		Energy:     ComputeEnergy(waveform),
		Chroma:     EstimateChroma(samples, AnalysisSampleRate),
		Segments:   ScoreSegments(waveform, beats, duration, target),
	}, nil
}
