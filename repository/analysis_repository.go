package repository

import (
	"context"
	"errors"
	"fmt"

	"BratGen/cache"
	"BratGen/db"
	"BratGen/model"
)

// AnalysisRepository 音频分析记录, 以 uploadId 为主键
type AnalysisRepository interface {
	// GetByUploadID 不存在时返回 nil, nil
	GetByUploadID(ctx context.Context, uploadID string) (*model.AudioAnalysis, error)
	Save(ctx context.Context, analysis *model.AudioAnalysis) error
	DeleteByUploadID(ctx context.Context, uploadID string) error
}

type recordAnalysisRepository struct {
	store db.RecordStore
	cache *cache.AnalysisCache
}

// NewAnalysisRepository hot 可以为 nil
func NewAnalysisRepository(store db.RecordStore, hot *cache.AnalysisCache) AnalysisRepository {
	return &recordAnalysisRepository{store: store, cache: hot}
}

func (r *recordAnalysisRepository) GetByUploadID(ctx context.Context, uploadID string) (*model.AudioAnalysis, error) {
	if a, ok := r.cache.Get(uploadID); ok {
		return a, nil
	}
	var analysis model.AudioAnalysis
	if err := r.store.Get(ctx, db.TableAnalysis, uploadID, &analysis); err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get analysis for %s: %w", uploadID, err)
	}
	r.cache.Add(&analysis)
	return &analysis, nil
}

func (r *recordAnalysisRepository) Save(ctx context.Context, analysis *model.AudioAnalysis) error {
	if err := r.store.Upsert(ctx, db.TableAnalysis, analysis.UploadID, analysis); err != nil {
		return err
	}
	r.cache.Add(analysis)
	return nil
}

func (r *recordAnalysisRepository) DeleteByUploadID(ctx context.Context, uploadID string) error {
	r.cache.Remove(uploadID)
	return r.store.Remove(ctx, db.TableAnalysis, uploadID)
}
