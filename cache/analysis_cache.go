package cache

import (
	"BratGen/logger"
	"BratGen/model"

	lru "github.com/hashicorp/golang-lru/v2"
)

// AnalysisCache 进程内 LRU, 以 uploadId 为键缓存音频分析结果
type AnalysisCache struct {
	entries *lru.Cache[string, *model.AudioAnalysis]
}

// NewAnalysisCache size <= 0 时返回 nil, nil 缓存的所有方法都是空操作
func NewAnalysisCache(size int) (*AnalysisCache, error) {
	if size <= 0 {
		return nil, nil
	}
	entries, err := lru.New[string, *model.AudioAnalysis](size)
	if err != nil {
		return nil, err
	}
	return &AnalysisCache{entries: entries}, nil
}

// Get 命中时返回缓存的分析
func (c *AnalysisCache) Get(uploadID string) (*model.AudioAnalysis, bool) {
	if c == nil {
		return nil, false
	}
	a, ok := c.entries.Get(uploadID)
	if ok {
		logger.Debug("分析缓存命中", logger.String("uploadId", uploadID))
	}
	return a, ok
}

func (c *AnalysisCache) Add(analysis *model.AudioAnalysis) {
	if c == nil || analysis == nil {
		return
	}
	c.entries.Add(analysis.UploadID, analysis)
}

func (c *AnalysisCache) Remove(uploadID string) {
	if c == nil {
		return
	}
	c.entries.Remove(uploadID)
}

// Len 当前条目数
func (c *AnalysisCache) Len() int {
	if c == nil {
		return 0
	}
	return c.entries.Len()
}
