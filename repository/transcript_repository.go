package repository

import (
	"context"
	"errors"
	"fmt"

	"BratGen/db"
	"BratGen/model"
)

// TranscriptRepository 歌词对齐结果
type TranscriptRepository interface {
	// GetByID 不存在时返回 nil, nil
	GetByID(ctx context.Context, id string) (*model.LyricTranscript, error)
	Save(ctx context.Context, transcript *model.LyricTranscript) error
	// DeleteByUploadID 删除该上传的全部转录, 返回删除数量
	DeleteByUploadID(ctx context.Context, uploadID string) (int, error)
}

type recordTranscriptRepository struct {
	store db.RecordStore
}

func NewTranscriptRepository(store db.RecordStore) TranscriptRepository {
	return &recordTranscriptRepository{store: store}
}

func (r *recordTranscriptRepository) GetByID(ctx context.Context, id string) (*model.LyricTranscript, error) {
	var t model.LyricTranscript
	if err := r.store.Get(ctx, db.TableTranscripts, id, &t); err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get transcript %s: %w", id, err)
	}
	return &t, nil
}

func (r *recordTranscriptRepository) Save(ctx context.Context, transcript *model.LyricTranscript) error {
	return r.store.Upsert(ctx, db.TableTranscripts, transcript.ID, transcript)
}

func (r *recordTranscriptRepository) DeleteByUploadID(ctx context.Context, uploadID string) (int, error) {
	raw, err := r.store.List(ctx, db.TableTranscripts)
	if err != nil {
		return 0, fmt.Errorf("failed to list transcripts: %w", err)
	}
	all, err := db.DecodeAll[model.LyricTranscript](raw)
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, t := range all {
		if t.UploadID != uploadID {
			continue
		}
		if err := r.store.Remove(ctx, db.TableTranscripts, t.ID); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}
