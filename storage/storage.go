package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"mime"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"BratGen/core/audio"
	"BratGen/logger"
	"BratGen/model"
	"BratGen/repository"

	"github.com/google/uuid"
)

var (
	ErrUploadNotFound = errors.New("upload not found")
	ErrMissingVideo   = errors.New("a video file is required")
)

// Prober 读取媒体元数据, 由 audio.FFmpegProcessor 实现
type Prober interface {
	Probe(ctx context.Context, path string) (*audio.ProbeResult, error)
}

// FileInput 一个待保存的上传文件
type FileInput struct {
	Reader       io.Reader
	OriginalName string
	MimeType     string
}

// Options Storage 的依赖
type Options struct {
	Backend     Backend
	Uploads     repository.UploadRepository
	Analyses    repository.AnalysisRepository
	Transcripts repository.TranscriptRepository
	Prober      Prober
	TmpDir      string
}

// Storage 管理上传记录和文件, 远端文件在使用前下载到 TmpDir
type Storage struct {
	backend     Backend
	uploads     repository.UploadRepository
	analyses    repository.AnalysisRepository
	transcripts repository.TranscriptRepository
	prober      Prober
	tmpDir      string
	now         func() time.Time
}

func New(opts Options) (*Storage, error) {
	if opts.Backend == nil || opts.Uploads == nil {
		return nil, errors.New("storage requires a backend and an upload repository")
	}
	if err := os.MkdirAll(opts.TmpDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create tmp directory %s: %w", opts.TmpDir, err)
	}
	return &Storage{
		backend:     opts.Backend,
		uploads:     opts.Uploads,
		analyses:    opts.Analyses,
		transcripts: opts.Transcripts,
		prober:      opts.Prober,
		tmpDir:      opts.TmpDir,
		now:         time.Now,
	}, nil
}

// Backend 当前使用的存储后端
func (s *Storage) Backend() Backend { return s.backend }

func extensionOf(name, mimeType string) string {
	if ext := strings.ToLower(filepath.Ext(name)); ext != "" {
		return ext
	}
	if exts, _ := mime.ExtensionsByType(mimeType); len(exts) > 0 {
		return exts[0]
	}
	return ".bin"
}

// stage 把输入写到 TmpDir 下的临时文件, 同时计算 sha256
func (s *Storage) stage(r io.Reader) (string, int64, string, error) {
	f, err := os.CreateTemp(s.tmpDir, "incoming-*")
	if err != nil {
		return "", 0, "", err
	}
	hash := sha256.New()
	size, err := io.Copy(io.MultiWriter(f, hash), r)
	closeErr := f.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(f.Name())
		return "", 0, "", err
	}
	return f.Name(), size, hex.EncodeToString(hash.Sum(nil)), nil
}

func (s *Storage) probe(ctx context.Context, path string) *model.MediaMetadata {
	if s.prober == nil {
		return nil
	}
	res, err := s.prober.Probe(ctx, path)
	if err != nil {
		logger.Warn("读取媒体信息失败", logger.String("path", path), logger.ErrorField(err))
		return nil
	}
	return &res.Metadata
}

// saveFile 暂存、探测并交给后端保存
func (s *Storage) saveFile(ctx context.Context, uploadID, role string, in FileInput) (*model.StoredFile, error) {
	staged, size, checksum, err := s.stage(in.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to store %s: %w", role, err)
	}
	metadata := s.probe(ctx, staged)

	mimeType := in.MimeType
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	key := path.Join("uploads", uploadID, role+extensionOf(in.OriginalName, mimeType))
	location, err := s.backend.Put(ctx, key, staged, mimeType)
	if err != nil {
		os.Remove(staged)
		return nil, err
	}
	if s.backend.Kind() != model.StorageLocal {
		os.Remove(staged)
	}

	return &model.StoredFile{
		ID:           uuid.NewString(),
		Path:         location,
		Size:         size,
		OriginalName: in.OriginalName,
		MimeType:     mimeType,
		Checksum:     checksum,
		Storage:      s.backend.Kind(),
		Bucket:       s.backend.Bucket(),
		Key:          key,
		Metadata:     metadata,
	}, nil
}

// CreateUpload 保存视频和可选的音乐轨, 写入上传记录. duration 为客户端给出的时长, 探测不到时使用
func (s *Storage) CreateUpload(ctx context.Context, video FileInput, music *FileInput, duration float64) (*model.Upload, error) {
	if video.Reader == nil {
		return nil, ErrMissingVideo
	}
	upload := &model.Upload{ID: uuid.NewString(), CreatedAt: s.now()}

	videoFile, err := s.saveFile(ctx, upload.ID, "video", video)
	if err != nil {
		return nil, err
	}
	upload.Files.Video = videoFile

	if music != nil && music.Reader != nil {
		audioFile, err := s.saveFile(ctx, upload.ID, "audio", *music)
		if err != nil {
			s.removeFiles(ctx, upload)
			return nil, err
		}
		upload.Files.Audio = audioFile
	}

	switch {
	case videoFile.Metadata != nil && videoFile.Metadata.Duration > 0:
		upload.Duration = videoFile.Metadata.Duration
	case upload.Files.Audio != nil && upload.Files.Audio.Metadata != nil && upload.Files.Audio.Metadata.Duration > 0:
		upload.Duration = upload.Files.Audio.Metadata.Duration
	default:
		upload.Duration = duration
	}

	if err := s.uploads.Save(ctx, upload); err != nil {
		s.removeFiles(ctx, upload)
		return nil, err
	}

	logger.Info("上传已保存",
		logger.String("uploadId", upload.ID),
		logger.Size("videoSize", videoFile.Size),
		logger.Bool("hasAudio", upload.HasAudio()),
		logger.Float64("duration", upload.Duration))
	return upload, nil
}

// GetUpload 不存在时返回 nil, nil
func (s *Storage) GetUpload(ctx context.Context, id string) (*model.Upload, error) {
	return s.uploads.GetByID(ctx, id)
}

// ListUploads 按创建时间倒序
func (s *Storage) ListUploads(ctx context.Context) ([]*model.Upload, error) {
	return s.uploads.List(ctx)
}

func (s *Storage) removeFiles(ctx context.Context, upload *model.Upload) {
	for _, f := range []*model.StoredFile{upload.Files.Video, upload.Files.Audio} {
		if f == nil || f.Key == "" {
			continue
		}
		if err := s.backend.Remove(ctx, f.Key); err != nil {
			logger.Warn("删除文件失败", logger.String("key", f.Key), logger.ErrorField(err))
		}
		os.Remove(s.localCopyPath(f))
	}
}

// DeleteUpload 删除上传及其文件、分析结果和歌词缓存. 渲染任务保留
func (s *Storage) DeleteUpload(ctx context.Context, id string) error {
	upload, err := s.uploads.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if upload == nil {
		return ErrUploadNotFound
	}

	s.removeFiles(ctx, upload)
	if s.analyses != nil {
		if err := s.analyses.DeleteByUploadID(ctx, id); err != nil {
			return err
		}
	}
	removed := 0
	if s.transcripts != nil {
		if removed, err = s.transcripts.DeleteByUploadID(ctx, id); err != nil {
			return err
		}
	}
	if err := s.uploads.Delete(ctx, id); err != nil {
		return err
	}

	logger.Info("上传已删除", logger.String("uploadId", id), logger.Int("transcripts", removed))
	return nil
}

func (s *Storage) localCopyPath(file *model.StoredFile) string {
	return filepath.Join(s.tmpDir, file.ID+path.Ext(file.Key))
}

// ResolveLocalPath 返回可供 ffmpeg 读取的本地路径, 远端文件先下载到 TmpDir
func (s *Storage) ResolveLocalPath(ctx context.Context, file *model.StoredFile) (string, error) {
	if file == nil {
		return "", audio.ErrMissingMedia
	}
	if file.Storage == "" || file.Storage == model.StorageLocal {
		if _, err := os.Stat(file.Path); err != nil {
			return "", fmt.Errorf("local file %s is not available: %w", file.Path, err)
		}
		return file.Path, nil
	}
	if file.Storage != s.backend.Kind() {
		return "", fmt.Errorf("file %s is stored in %s, current backend is %s", file.ID, file.Storage, s.backend.Kind())
	}

	dest := s.localCopyPath(file)
	if info, err := os.Stat(dest); err == nil && info.Size() == file.Size {
		// 刷新修改时间, 避免被清理
		now := s.now()
		os.Chtimes(dest, now, now)
		return dest, nil
	}

	partial := dest + ".part"
	if err := s.backend.Fetch(ctx, file.Key, partial); err != nil {
		os.Remove(partial)
		return "", err
	}
	if err := os.Rename(partial, dest); err != nil {
		os.Remove(partial)
		return "", err
	}
	logger.Debug("已下载到本地", logger.String("key", file.Key), logger.Size("size", file.Size))
	return dest, nil
}

func checksumFile(p string) (string, int64, error) {
	f, err := os.Open(p)
	if err != nil {
		return "", 0, err
	}
	defer f.Close()
	hash := sha256.New()
	size, err := io.Copy(hash, f)
	if err != nil {
		return "", 0, err
	}
	return hex.EncodeToString(hash.Sum(nil)), size, nil
}

// RegisterGeneratedOutput 登记渲染等生成的文件
func (s *Storage) RegisterGeneratedOutput(ctx context.Context, p string, meta model.GeneratedFileMeta) (*model.StoredFile, error) {
	checksum, size, err := checksumFile(p)
	if err != nil {
		return nil, fmt.Errorf("failed to read generated file %s: %w", p, err)
	}
	mimeType := meta.MimeType
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	key := meta.Key
	if key == "" {
		key = path.Join("generated", uuid.NewString()+filepath.Ext(p))
	}

	location, err := s.backend.Put(ctx, key, p, mimeType)
	if err != nil {
		return nil, err
	}
	if s.backend.Kind() != model.StorageLocal {
		os.Remove(p)
	}

	return &model.StoredFile{
		ID:           uuid.NewString(),
		Path:         location,
		Size:         size,
		OriginalName: meta.OriginalName,
		MimeType:     mimeType,
		Checksum:     checksum,
		Storage:      s.backend.Kind(),
		Bucket:       s.backend.Bucket(),
		Key:          key,
	}, nil
}

// OpenFile 打开文件内容用于下载
func (s *Storage) OpenFile(ctx context.Context, file *model.StoredFile) (io.ReadCloser, error) {
	if file == nil {
		return nil, fmt.Errorf("%w: nil file", ErrObjectNotFound)
	}
	if file.Storage == "" || file.Storage == model.StorageLocal {
		f, err := os.Open(file.Path)
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrObjectNotFound, file.Path)
		}
		return f, err
	}
	return s.backend.Open(ctx, file.Key)
}
