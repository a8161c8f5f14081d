package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"BratGen/config"
	"BratGen/logger"
)

// ErrNotFound 记录不存在
var ErrNotFound = errors.New("record not found")

// 表名
const (
	TableUploads     = "uploads"
	TableAnalysis    = "audio_analysis"
	TableTranscripts = "lyric_transcripts"
	TableRenderJobs  = "render_jobs"
)

// RecordStore 按 (table, id) 存取 JSON 记录, 每次写入都是原子的
type RecordStore interface {
	// Get 读取记录并解码到 out, 不存在时返回 ErrNotFound
	Get(ctx context.Context, table, id string, out any) error
	Upsert(ctx context.Context, table, id string, record any) error
	List(ctx context.Context, table string) ([]json.RawMessage, error)
	// Remove 删除不存在的记录不报错
	Remove(ctx context.Context, table, id string) error
	Close() error
}

// OpenRecordStore 根据 RECORD_STORE 选择实现
func OpenRecordStore(cfg *config.Config) (RecordStore, error) {
	switch cfg.RecordStore {
	case "", "json":
		logger.Info("使用 JSON 文件记录存储", logger.String("path", cfg.RecordStorePath))
		return NewJSONFileStore(cfg.RecordStorePath)
	case "sqlite":
		logger.Info("使用 SQLite 记录存储", logger.String("path", cfg.SQLitePath))
		return OpenSQLiteStore(cfg.SQLitePath)
	case "mysql":
		logger.Info("使用 MySQL 记录存储",
			logger.String("host", cfg.DBHost),
			logger.String("database", cfg.DBName))
		return ConnectGormStore(cfg)
	default:
		return nil, fmt.Errorf("unknown record store %q", cfg.RecordStore)
	}
}

// DecodeAll 把 List 的结果解码为具体类型
func DecodeAll[T any](raw []json.RawMessage) ([]*T, error) {
	out := make([]*T, 0, len(raw))
	for _, r := range raw {
		item := new(T)
		if err := json.Unmarshal(r, item); err != nil {
			return nil, fmt.Errorf("failed to decode record: %w", err)
		}
		out = append(out, item)
	}
	return out, nil
}
