package storage

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"BratGen/logger"

	"github.com/robfig/cron/v3"
)

// Sweeper 定时清理 TmpDir 中过期的本地副本
type Sweeper struct {
	dir    string
	maxAge time.Duration
	cron   *cron.Cron
	now    func() time.Time
}

func NewSweeper(dir string, maxAge time.Duration) *Sweeper {
	return &Sweeper{dir: dir, maxAge: maxAge, cron: cron.New(), now: time.Now}
}

// Start 按 schedule 定时执行, 支持 cron 表达式和 "@every 30m"
func (s *Sweeper) Start(schedule string) error {
	if _, err := s.cron.AddFunc(schedule, func() {
		if _, _, err := s.Sweep(); err != nil {
			logger.Warn("清理临时文件失败", logger.ErrorField(err))
		}
	}); err != nil {
		return err
	}
	s.cron.Start()
	logger.Info("临时文件清理已启动",
		logger.String("dir", s.dir),
		logger.String("schedule", schedule),
		logger.Duration("maxAge", s.maxAge))
	return nil
}

func (s *Sweeper) Stop() {
	<-s.cron.Stop().Done()
}

// Sweep 删除修改时间早于 maxAge 的文件, 返回删除数量和释放的字节数
func (s *Sweeper) Sweep() (int, int64, error) {
	if s.maxAge <= 0 {
		return 0, 0, nil
	}
	cutoff := s.now().Add(-s.maxAge)

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, 0, nil
		}
		return 0, 0, err
	}

	removed := 0
	var freed int64
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(s.dir, e.Name())); err != nil {
			logger.Warn("删除临时文件失败", logger.String("file", e.Name()), logger.ErrorField(err))
			continue
		}
		removed++
		freed += info.Size()
	}

	if removed > 0 {
		logger.Info("已清理临时文件", logger.Int("count", removed), logger.Size("freed", freed))
	}
	return removed, freed, nil
}
