package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"BratGen/core/audio"
	"BratGen/core/lyrics"
	"BratGen/core/render"
	"BratGen/logger"
	"BratGen/model"
	"BratGen/storage"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
)

// APIHandler 处理所有 API 请求
type APIHandler struct {
	storage    *storage.Storage
	analyzer   *audio.Analyzer
	aligner    *lyrics.Aligner
	scheduler  *render.Scheduler
	capability *lyrics.Capability
}

// NewAPIHandler 创建新的 API 处理器
func NewAPIHandler(app *App) *APIHandler {
	return &APIHandler{
		storage:    app.Storage,
		analyzer:   app.Analyzer,
		aligner:    app.Aligner,
		scheduler:  app.Scheduler,
		capability: app.Capability,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warn("写入响应失败", logger.ErrorField(err))
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"message": message})
}

func isUUID(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}

// decodeBody 解析 JSON 请求体, 失败时已写入 400
func decodeBody(w http.ResponseWriter, r *http.Request, out any) bool {
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	if err := dec.Decode(out); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

// loadUpload 读取路径或请求体中的上传, 失败时已写入响应
func (h *APIHandler) loadUpload(w http.ResponseWriter, r *http.Request, id string) (*model.Upload, bool) {
	if !isUUID(id) {
		writeError(w, http.StatusBadRequest, "uploadId must be a uuid")
		return nil, false
	}
	upload, err := h.storage.GetUpload(r.Context(), id)
	if err != nil {
		logger.Error("读取上传失败", logger.String("uploadId", id), logger.ErrorField(err))
		writeError(w, http.StatusInternalServerError, "failed to load upload")
		return nil, false
	}
	if upload == nil {
		writeError(w, http.StatusNotFound, "upload not found")
		return nil, false
	}
	return upload, true
}

// serveStoredFile 以附件形式返回文件内容
func (h *APIHandler) serveStoredFile(w http.ResponseWriter, r *http.Request, file *model.StoredFile) {
	rc, err := h.storage.OpenFile(r.Context(), file)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			writeError(w, http.StatusNotFound, "file not found")
			return
		}
		logger.Error("打开文件失败", logger.String("fileId", file.ID), logger.ErrorField(err))
		writeError(w, http.StatusInternalServerError, "failed to open file")
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", file.MimeType)
	w.Header().Set("Content-Length", strconv.FormatInt(file.Size, 10))
	w.Header().Set("X-Checksum-Sha256", file.Checksum)
	if file.OriginalName != "" {
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", file.OriginalName))
	}
	if _, err := io.Copy(w, rc); err != nil {
		logger.Warn("发送文件中断", logger.String("fileId", file.ID), logger.ErrorField(err))
	}
}

// HealthHandler 返回队列和转录能力状态
func (h *APIHandler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":        "ok",
		"queue":         h.scheduler.Health(r.Context()),
		"transcription": h.capability.State().String(),
	})
}

func pathID(r *http.Request) string {
	return mux.Vars(r)["id"]
}
