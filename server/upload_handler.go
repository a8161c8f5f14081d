package server

import (
	"errors"
	"math"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"BratGen/logger"
	"BratGen/model"
	"BratGen/storage"

	"github.com/gorilla/mux"
)

const maxUploadBytes = 200 << 20

func fileInput(file multipart.File, header *multipart.FileHeader) storage.FileInput {
	return storage.FileInput{
		Reader:       file,
		OriginalName: header.Filename,
		MimeType:     header.Header.Get("Content-Type"),
	}
}

// CreateUploadHandler 接收 multipart 表单:
//   - video: 视频文件(必需)
//   - audio: 音乐轨(可选)
//   - duration: 客户端测得的时长, 秒(可选)
func (h *APIHandler) CreateUploadHandler(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes+(1<<20))
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "max 200mb")
			return
		}
		writeError(w, http.StatusBadRequest, "failed to parse multipart form")
		return
	}
	defer r.MultipartForm.RemoveAll()

	duration := 0.0
	if raw := strings.TrimSpace(r.FormValue("duration")); raw != "" {
		d, err := strconv.ParseFloat(raw, 64)
		if err != nil || math.IsNaN(d) || math.IsInf(d, 0) || d <= 0 {
			writeError(w, http.StatusBadRequest, "invalid duration")
			return
		}
		duration = d
	}

	video, videoHeader, err := r.FormFile("video")
	if err != nil {
		writeError(w, http.StatusBadRequest, "video file missing")
		return
	}
	defer video.Close()

	var music *storage.FileInput
	if audioFile, audioHeader, err := r.FormFile("audio"); err == nil {
		defer audioFile.Close()
		in := fileInput(audioFile, audioHeader)
		music = &in
	}

	upload, err := h.storage.CreateUpload(r.Context(), fileInput(video, videoHeader), music, duration)
	if err != nil {
		logger.Error("保存上传失败", logger.ErrorField(err))
		writeError(w, http.StatusInternalServerError, "failed to store upload")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"upload": upload})
}

func (h *APIHandler) ListUploadsHandler(w http.ResponseWriter, r *http.Request) {
	uploads, err := h.storage.ListUploads(r.Context())
	if err != nil {
		logger.Error("读取上传列表失败", logger.ErrorField(err))
		writeError(w, http.StatusInternalServerError, "failed to list uploads")
		return
	}
	if uploads == nil {
		uploads = []*model.Upload{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"uploads": uploads})
}

func (h *APIHandler) GetUploadHandler(w http.ResponseWriter, r *http.Request) {
	upload, ok := h.loadUpload(w, r, pathID(r))
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"upload": upload})
}

func (h *APIHandler) DeleteUploadHandler(w http.ResponseWriter, r *http.Request) {
	id := pathID(r)
	if !isUUID(id) {
		writeError(w, http.StatusBadRequest, "uploadId must be a uuid")
		return
	}
	if err := h.storage.DeleteUpload(r.Context(), id); err != nil {
		if errors.Is(err, storage.ErrUploadNotFound) {
			writeError(w, http.StatusNotFound, "upload not found")
			return
		}
		logger.Error("删除上传失败", logger.String("uploadId", id), logger.ErrorField(err))
		writeError(w, http.StatusInternalServerError, "failed to delete upload")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// UploadFileHandler 下载上传中的 video 或 audio 文件
func (h *APIHandler) UploadFileHandler(w http.ResponseWriter, r *http.Request) {
	upload, ok := h.loadUpload(w, r, pathID(r))
	if !ok {
		return
	}
	var file *model.StoredFile
	switch mux.Vars(r)["file"] {
	case "video":
		file = upload.Files.Video
	case "audio":
		file = upload.Files.Audio
	}
	if file == nil {
		writeError(w, http.StatusNotFound, "file not found")
		return
	}
	h.serveStoredFile(w, r, file)
}
