package server

import (
	"context"
	"fmt"
	"os"

	"BratGen/cache"
	"BratGen/config"
	"BratGen/core/audio"
	"BratGen/core/lyrics"
	"BratGen/core/render"
	"BratGen/db"
	"BratGen/logger"
	"BratGen/repository"
	"BratGen/storage"

	"github.com/go-redis/redis/v8"
)

// App 进程内所有组件, 由 NewApp 按依赖顺序组装
type App struct {
	Config     *config.Config
	Records    db.RecordStore
	Redis      *redis.Client
	Media      *audio.FFmpegProcessor
	Storage    *storage.Storage
	Analyzer   *audio.Analyzer
	Capability *lyrics.Capability
	Aligner    *lyrics.Aligner
	Queue      render.Queue
	Scheduler  *render.Scheduler
	Sweeper    *storage.Sweeper
}

func ensureDirExists(dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}
	return nil
}

// NewApp 连接存储、队列并创建各服务. 不启动 worker
func NewApp(ctx context.Context, cfg *config.Config) (*App, error) {
	for _, dir := range []string{cfg.StorageRoot, cfg.UploadDir, cfg.TmpDir, cfg.RenderDir} {
		if err := ensureDirExists(dir); err != nil {
			return nil, err
		}
	}

	app := &App{Config: cfg}
	var err error

	app.Records, err = db.OpenRecordStore(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open record store: %w", err)
	}

	hot, err := cache.NewAnalysisCache(cfg.AnalysisCacheSize)
	if err != nil {
		app.Close()
		return nil, err
	}
	uploads := repository.NewUploadRepository(app.Records)
	analyses := repository.NewAnalysisRepository(app.Records, hot)
	transcripts := repository.NewTranscriptRepository(app.Records)
	jobs := repository.NewRenderJobRepository(app.Records)

	if cfg.RedisEnabled {
		app.Redis, err = db.ConnectRedis(cfg)
		if err != nil {
			app.Close()
			return nil, err
		}
		logger.Info("Redis 连接成功", logger.String("addr", cfg.RedisHost+":"+cfg.RedisPort))
	}

	app.Media = audio.NewFFmpegProcessor(cfg.FFmpegPath, cfg.FFprobePath)

	backend, err := storage.NewBackend(ctx, cfg)
	if err != nil {
		app.Close()
		return nil, err
	}
	app.Storage, err = storage.New(storage.Options{
		Backend:     backend,
		Uploads:     uploads,
		Analyses:    analyses,
		Transcripts: transcripts,
		Prober:      app.Media,
		TmpDir:      cfg.TmpDir,
	})
	if err != nil {
		app.Close()
		return nil, err
	}

	app.Analyzer = audio.NewAnalyzer(app.Media, app.Storage, analyses)
	app.Capability = lyrics.NewCapability(cfg.TranscriptionEnabled,
		lyrics.NewGeminiLoader(cfg.GeminiAPIKey, cfg.GeminiModel, cfg.FFmpegPath))
	app.Aligner = lyrics.NewAligner(app.Analyzer, app.Storage, transcripts, app.Capability, cfg.TranscriptTTL)

	app.Queue = render.NewQueue(ctx, app.Redis, cfg.RedisQueueKey)
	app.Scheduler = render.NewScheduler(render.SchedulerOptions{
		Jobs:             jobs,
		Files:            app.Storage,
		Encoder:          render.NewFFmpegEncoder(cfg.FFmpegPath),
		Queue:            app.Queue,
		RenderDir:        cfg.RenderDir,
		Timeout:          cfg.RenderTimeout,
		ProgressInterval: cfg.ProgressInterval,
	})
	app.Sweeper = storage.NewSweeper(cfg.TmpDir, cfg.TmpMaxAge)

	logger.Info("BratGen 组件初始化完成",
		logger.String("recordStore", cfg.RecordStore),
		logger.String("storage", string(backend.Kind())),
		logger.String("queue", app.Queue.Name()),
		logger.Bool("transcription", cfg.TranscriptionEnabled))
	return app, nil
}

// Close 关闭队列和连接, 可重复调用
func (a *App) Close() {
	if a.Queue != nil {
		a.Queue.Close()
		a.Queue = nil
	}
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			logger.Warn("关闭 Redis 连接失败", logger.ErrorField(err))
		}
		a.Redis = nil
	}
	if a.Records != nil {
		if err := a.Records.Close(); err != nil {
			logger.Warn("关闭记录存储失败", logger.ErrorField(err))
		}
		a.Records = nil
	}
}
