package server

import (
	"errors"
	"math"
	"net/http"
	"strings"

	"BratGen/core/audio"
	"BratGen/core/segment"
	"BratGen/logger"
)

const (
	defaultTargetDuration = 30.0
	minTargetDuration     = 5.0
	maxTargetDuration     = 120.0
)

type analyzeRequest struct {
	UploadID       string   `json:"uploadId"`
	TargetDuration *float64 `json:"targetDuration"`
}

// AnalyzeAudioHandler 分析上传的音频并给出推荐片段
func (h *APIHandler) AnalyzeAudioHandler(w http.ResponseWriter, r *http.Request) {
	var req analyzeRequest
	if !decodeBody(w, r, &req) {
		return
	}
	target := defaultTargetDuration
	if req.TargetDuration != nil {
		target = *req.TargetDuration
		if math.IsNaN(target) || target < minTargetDuration || target > maxTargetDuration {
			writeError(w, http.StatusBadRequest, "targetDuration must be between 5 and 120")
			return
		}
	}

	upload, ok := h.loadUpload(w, r, req.UploadID)
	if !ok {
		return
	}

	analysis, err := h.analyzer.Analyze(r.Context(), upload, target)
	if err != nil {
		if errors.Is(err, audio.ErrMissingMedia) {
			writeError(w, http.StatusBadRequest, "upload has no audio or video to analyze")
			return
		}
		logger.Error("音频分析失败", logger.String("uploadId", upload.ID), logger.ErrorField(err))
		writeError(w, http.StatusInternalServerError, "failed to analyze audio")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"analysis":  analysis,
		"selection": segment.SelectFromAnalysis(analysis, target),
	})
}

type alignRequest struct {
	UploadID string `json:"uploadId"`
	Lyrics   string `json:"lyrics"`
}

// AlignLyricsHandler 把歌词对齐到上传的音频
func (h *APIHandler) AlignLyricsHandler(w http.ResponseWriter, r *http.Request) {
	var req alignRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Lyrics) == "" {
		writeError(w, http.StatusBadRequest, "lyrics must not be empty")
		return
	}

	upload, ok := h.loadUpload(w, r, req.UploadID)
	if !ok {
		return
	}

	alignment, err := h.aligner.Align(r.Context(), upload, req.Lyrics)
	if err != nil {
		if errors.Is(err, audio.ErrMissingMedia) {
			writeError(w, http.StatusBadRequest, "upload has no audio or video to align against")
			return
		}
		logger.Error("歌词对齐失败", logger.String("uploadId", upload.ID), logger.ErrorField(err))
		writeError(w, http.StatusInternalServerError, "failed to align lyrics")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"alignment": alignment})
}
