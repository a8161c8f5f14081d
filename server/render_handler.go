package server

import (
	"errors"
	"fmt"
	"math"
	"net/http"

	"BratGen/core/render"
	"BratGen/logger"
	"BratGen/model"
)

type renderRequest struct {
	UploadID string              `json:"uploadId"`
	Segment  model.RenderSegment `json:"segment"`
	Options  renderOptionsBody   `json:"options"`
}

type renderOptionsBody struct {
	Resolution      string                  `json:"resolution"`
	Aspect          string                  `json:"aspect"`
	IncludeMusic    *bool                   `json:"includeMusic"`
	IncludeOriginal *bool                   `json:"includeOriginal"`
	MusicGainDb     float64                 `json:"musicGainDb"`
	DuckingDb       *float64                `json:"duckingDb"`
	FadeMs          *float64                `json:"fadeMs"`
	MusicAutomation []model.AutomationPoint `json:"musicAutomation"`
}

func inRange(v, lo, hi float64) bool {
	return !math.IsNaN(v) && v >= lo && v <= hi
}

// toOptions 校验并补全默认值
func (b renderOptionsBody) toOptions() (model.RenderOptions, error) {
	opts := model.RenderOptions{
		Resolution:      b.Resolution,
		Aspect:          b.Aspect,
		IncludeOriginal: true,
		MusicGainDb:     b.MusicGainDb,
		DuckingDb:       b.DuckingDb,
		FadeMs:          b.FadeMs,
		MusicAutomation: b.MusicAutomation,
	}
	if b.IncludeMusic != nil {
		opts.IncludeMusic = *b.IncludeMusic
	}
	if b.IncludeOriginal != nil {
		opts.IncludeOriginal = *b.IncludeOriginal
	}

	switch opts.Resolution {
	case "":
		opts.Resolution = "720p"
	case "720p", "1080p":
	default:
		return opts, fmt.Errorf("resolution must be 720p or 1080p")
	}
	switch opts.Aspect {
	case "":
		opts.Aspect = "9:16"
	case "9:16", "1:1", "16:9":
	default:
		return opts, fmt.Errorf("aspect must be 9:16, 1:1 or 16:9")
	}
	if !inRange(opts.MusicGainDb, -60, 12) {
		return opts, fmt.Errorf("musicGainDb must be between -60 and 12")
	}
	if opts.DuckingDb != nil && !inRange(*opts.DuckingDb, 0, 40) {
		return opts, fmt.Errorf("duckingDb must be between 0 and 40")
	}
	if opts.FadeMs != nil && !inRange(*opts.FadeMs, 0, 10000) {
		return opts, fmt.Errorf("fadeMs must be between 0 and 10000")
	}
	return opts, nil
}

// ListRenderJobsHandler 返回任务列表和队列状态
func (h *APIHandler) ListRenderJobsHandler(w http.ResponseWriter, r *http.Request) {
	jobs, err := h.scheduler.List(r.Context())
	if err != nil {
		logger.Error("读取渲染任务失败", logger.ErrorField(err))
		writeError(w, http.StatusInternalServerError, "failed to list render jobs")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"jobs":   jobs,
		"health": h.scheduler.Health(r.Context()),
	})
}

// CreateRenderJobHandler 校验请求并入队, 返回 202
func (h *APIHandler) CreateRenderJobHandler(w http.ResponseWriter, r *http.Request) {
	var req renderRequest
	if !decodeBody(w, r, &req) {
		return
	}
	opts, err := req.Options.toOptions()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	upload, ok := h.loadUpload(w, r, req.UploadID)
	if !ok {
		return
	}
	// 未指定时有音乐轨就混入
	if req.Options.IncludeMusic == nil {
		opts.IncludeMusic = upload.HasAudio()
	}
	if opts.IncludeMusic && !upload.HasAudio() {
		writeError(w, http.StatusBadRequest, "audio track required to include music")
		return
	}

	job, err := h.scheduler.Enqueue(r.Context(), upload.ID, req.Segment, opts)
	if err != nil {
		if errors.Is(err, render.ErrInvalidSegment) {
			writeError(w, http.StatusBadRequest, "segment must satisfy 0 <= start < end")
			return
		}
		logger.Error("渲染任务入队失败", logger.String("uploadId", upload.ID), logger.ErrorField(err))
		writeError(w, http.StatusInternalServerError, "failed to queue render")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"job": job})
}

// writeJobResult 统一处理任务操作的结果
func writeJobResult(w http.ResponseWriter, id string, job *model.PublicRenderJob, err error, action string) {
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]any{"job": job})
	case errors.Is(err, render.ErrJobNotFound):
		writeError(w, http.StatusNotFound, "render job not found")
	case errors.Is(err, render.ErrInvalidTransition):
		writeError(w, http.StatusConflict, err.Error())
	default:
		logger.Error("渲染任务操作失败", logger.String("jobId", id), logger.String("action", action), logger.ErrorField(err))
		writeError(w, http.StatusInternalServerError, "failed to "+action+" job")
	}
}

func (h *APIHandler) GetRenderJobHandler(w http.ResponseWriter, r *http.Request) {
	id := pathID(r)
	job, err := h.scheduler.Get(r.Context(), id)
	writeJobResult(w, id, job, err, "load")
}

func (h *APIHandler) RetryRenderJobHandler(w http.ResponseWriter, r *http.Request) {
	id := pathID(r)
	job, err := h.scheduler.Retry(r.Context(), id)
	writeJobResult(w, id, job, err, "retry")
}

func (h *APIHandler) CancelRenderJobHandler(w http.ResponseWriter, r *http.Request) {
	id := pathID(r)
	job, err := h.scheduler.Cancel(r.Context(), id)
	writeJobResult(w, id, job, err, "cancel")
}

// RenderFileHandler 下载渲染结果
func (h *APIHandler) RenderFileHandler(w http.ResponseWriter, r *http.Request) {
	manifest, err := h.scheduler.Manifest(r.Context(), pathID(r))
	if err != nil && !errors.Is(err, render.ErrJobNotFound) {
		logger.Error("读取渲染任务失败", logger.ErrorField(err))
		writeError(w, http.StatusInternalServerError, "failed to load render")
		return
	}
	if manifest == nil || manifest.Status != model.RenderCompleted || manifest.Output == nil {
		writeError(w, http.StatusNotFound, "render not found")
		return
	}
	h.serveStoredFile(w, r, manifest.Output)
}
