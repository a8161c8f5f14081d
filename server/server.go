package server

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"BratGen/config"
	"BratGen/logger"

	"github.com/gorilla/mux"
)

// corsMiddleware 允许前端跨域访问 API
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS, HEAD")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Range")
		w.Header().Set("Access-Control-Expose-Headers", "Content-Length, Content-Disposition, X-Checksum-Sha256")
		w.Header().Set("Access-Control-Max-Age", "86400")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// accessLog 记录每个请求的方法、路径、状态码和耗时
func accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		logger.Debug("HTTP 请求",
			logger.String("method", r.Method),
			logger.String("path", r.URL.Path),
			logger.Int("status", rec.status),
			logger.Duration("elapsed", time.Since(start)))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// NewRouter 注册全部 API 路由
func NewRouter(h *APIHandler) *mux.Router {
	router := mux.NewRouter()
	router.Use(corsMiddleware, accessLog)

	api := router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/health", h.HealthHandler).Methods(http.MethodGet)

	// 上传
	api.HandleFunc("/uploads", h.ListUploadsHandler).Methods(http.MethodGet)
	api.HandleFunc("/uploads", h.CreateUploadHandler).Methods(http.MethodPost)
	api.HandleFunc("/uploads/{id}", h.GetUploadHandler).Methods(http.MethodGet)
	api.HandleFunc("/uploads/{id}", h.DeleteUploadHandler).Methods(http.MethodDelete)
	api.HandleFunc("/uploads/{id}/files/{file}", h.UploadFileHandler).Methods(http.MethodGet)

	// 分析与对齐
	api.HandleFunc("/analyze/audio", h.AnalyzeAudioHandler).Methods(http.MethodPost)
	api.HandleFunc("/lyrics/align", h.AlignLyricsHandler).Methods(http.MethodPost)

	// 渲染
	api.HandleFunc("/render", h.ListRenderJobsHandler).Methods(http.MethodGet)
	api.HandleFunc("/render", h.CreateRenderJobHandler).Methods(http.MethodPost)
	api.HandleFunc("/render/{id}", h.GetRenderJobHandler).Methods(http.MethodGet)
	api.HandleFunc("/render/{id}/retry", h.RetryRenderJobHandler).Methods(http.MethodPost)
	api.HandleFunc("/render/{id}/cancel", h.CancelRenderJobHandler).Methods(http.MethodPost)
	api.HandleFunc("/render/{id}/file", h.RenderFileHandler).Methods(http.MethodGet)

	// OPTIONS 预检由中间件处理
	router.Methods(http.MethodOptions).HandlerFunc(func(http.ResponseWriter, *http.Request) {})
	return router
}

// Start 组装组件, 启动渲染 worker、清理任务和 HTTP 服务, 收到信号后优雅退出
func Start(cfg *config.Config) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	app, err := NewApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer app.Close()

	if err := app.Scheduler.Start(ctx); err != nil {
		return err
	}
	defer app.Scheduler.Stop()

	if cfg.TmpMaxAge > 0 && cfg.SweepSchedule != "" {
		if err := app.Sweeper.Start(cfg.SweepSchedule); err != nil {
			logger.Warn("无法启动临时文件清理", logger.String("schedule", cfg.SweepSchedule), logger.ErrorField(err))
		} else {
			defer app.Sweeper.Stop()
		}
	}

	server := &http.Server{
		Addr:        cfg.HTTPAddr,
		Handler:     NewRouter(NewAPIHandler(app)),
		ReadTimeout: 5 * time.Minute,
		IdleTimeout: 120 * time.Second,
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("HTTP 服务启动", logger.String("addr", cfg.HTTPAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-stop:
		logger.Info("正在关闭服务...")
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("服务强制关闭", logger.ErrorField(err))
	}
	logger.Info("服务已停止")
	return nil
}
