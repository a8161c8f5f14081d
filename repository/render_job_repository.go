package repository

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"BratGen/db"
	"BratGen/model"
)

// ErrSkipUpdate 由 Update 的回调返回, 表示放弃本次修改
var ErrSkipUpdate = errors.New("skip update")

// RenderJobRepository 渲染任务清单
type RenderJobRepository interface {
	Create(ctx context.Context, job *model.RenderJobManifest) error
	// GetByID 不存在时返回 nil, nil
	GetByID(ctx context.Context, id string) (*model.RenderJobManifest, error)
	// Update 读-改-写, 同一进程内串行执行. fn 返回 ErrSkipUpdate 时不写入, 返回当前记录
	Update(ctx context.Context, id string, fn func(job *model.RenderJobManifest) error) (*model.RenderJobManifest, error)
	// List 按创建时间倒序
	List(ctx context.Context) ([]*model.RenderJobManifest, error)
}

type recordRenderJobRepository struct {
	store db.RecordStore
	mu    sync.Mutex
	now   func() time.Time
}

func NewRenderJobRepository(store db.RecordStore) RenderJobRepository {
	return &recordRenderJobRepository{store: store, now: time.Now}
}

func (r *recordRenderJobRepository) Create(ctx context.Context, job *model.RenderJobManifest) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.store.Upsert(ctx, db.TableRenderJobs, job.ID, job)
}

func (r *recordRenderJobRepository) GetByID(ctx context.Context, id string) (*model.RenderJobManifest, error) {
	var job model.RenderJobManifest
	if err := r.store.Get(ctx, db.TableRenderJobs, id, &job); err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get render job %s: %w", id, err)
	}
	return &job, nil
}

func (r *recordRenderJobRepository) Update(ctx context.Context, id string, fn func(job *model.RenderJobManifest) error) (*model.RenderJobManifest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, nil
	}
	if err := fn(job); err != nil {
		if errors.Is(err, ErrSkipUpdate) {
			return job, nil
		}
		return nil, err
	}
	job.UpdatedAt = r.now()
	if err := r.store.Upsert(ctx, db.TableRenderJobs, job.ID, job); err != nil {
		return nil, fmt.Errorf("failed to update render job %s: %w", id, err)
	}
	return job, nil
}

func (r *recordRenderJobRepository) List(ctx context.Context) ([]*model.RenderJobManifest, error) {
	raw, err := r.store.List(ctx, db.TableRenderJobs)
	if err != nil {
		return nil, fmt.Errorf("failed to list render jobs: %w", err)
	}
	jobs, err := db.DecodeAll[model.RenderJobManifest](raw)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(jobs, func(i, j int) bool {
		return jobs[i].CreatedAt.After(jobs[j].CreatedAt)
	})
	return jobs, nil
}
