package repository

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"BratGen/db"
	"BratGen/model"
)

// UploadRepository 上传记录的读写
type UploadRepository interface {
	// GetByID 不存在时返回 nil, nil
	GetByID(ctx context.Context, id string) (*model.Upload, error)
	Save(ctx context.Context, upload *model.Upload) error
	// List 按创建时间倒序
	List(ctx context.Context) ([]*model.Upload, error)
	Delete(ctx context.Context, id string) error
}

type recordUploadRepository struct {
	store db.RecordStore
}

// NewUploadRepository creates an UploadRepository backed by a RecordStore.
func NewUploadRepository(store db.RecordStore) UploadRepository {
	return &recordUploadRepository{store: store}
}

func (r *recordUploadRepository) GetByID(ctx context.Context, id string) (*model.Upload, error) {
	var upload model.Upload
	if err := r.store.Get(ctx, db.TableUploads, id, &upload); err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get upload %s: %w", id, err)
	}
	return &upload, nil
}

func (r *recordUploadRepository) Save(ctx context.Context, upload *model.Upload) error {
	return r.store.Upsert(ctx, db.TableUploads, upload.ID, upload)
}

func (r *recordUploadRepository) List(ctx context.Context) ([]*model.Upload, error) {
	raw, err := r.store.List(ctx, db.TableUploads)
	if err != nil {
		return nil, fmt.Errorf("failed to list uploads: %w", err)
	}
	uploads, err := db.DecodeAll[model.Upload](raw)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(uploads, func(i, j int) bool {
		return uploads[i].CreatedAt.After(uploads[j].CreatedAt)
	})
	return uploads, nil
}

func (r *recordUploadRepository) Delete(ctx context.Context, id string) error {
	return r.store.Remove(ctx, db.TableUploads, id)
}
