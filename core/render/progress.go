package render

import (
	"bufio"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"BratGen/logger"

	"github.com/fsnotify/fsnotify"
)

// ProgressWatcher 跟踪 ffmpeg -progress 输出文件, 把已编码时长换算为 0~1 的进度
type ProgressWatcher struct {
	path       string
	total      float64
	onProgress func(float64)

	watcher *fsnotify.Watcher
	stop    chan struct{}
	wg      sync.WaitGroup

	mu      sync.Mutex
	offset  int64
	partial string
}

// WatchProgress 创建(截断)进度文件并开始监听
func WatchProgress(path string, total float64, onProgress func(float64)) (*ProgressWatcher, error) {
	if err := os.WriteFile(path, nil, 0644); err != nil {
		return nil, err
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	// 监听目录, ffmpeg 可能重新创建文件
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return nil, err
	}

	w := &ProgressWatcher{
		path:       path,
		total:      total,
		onProgress: onProgress,
		watcher:    watcher,
		stop:       make(chan struct{}),
	}
	w.wg.Add(1)
	go w.loop()
	return w, nil
}

func (w *ProgressWatcher) loop() {
	defer w.wg.Done()
	target := filepath.Clean(w.path)
	for {
		select {
		case <-w.stop:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&fsnotify.Create != 0 {
				w.mu.Lock()
				w.offset, w.partial = 0, ""
				w.mu.Unlock()
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				w.readNew()
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			logger.Warn("进度文件监听出错", logger.String("path", w.path), logger.ErrorField(err))
		}
	}
}

func (w *ProgressWatcher) readNew() {
	w.mu.Lock()
	defer w.mu.Unlock()

	f, err := os.Open(w.path)
	if err != nil {
		return
	}
	defer f.Close()

	if _, err := f.Seek(w.offset, io.SeekStart); err != nil {
		return
	}
	data, err := io.ReadAll(f)
	if err != nil || len(data) == 0 {
		return
	}
	w.offset += int64(len(data))

	text := w.partial + string(data)
	lastNL := strings.LastIndexByte(text, '\n')
	if lastNL < 0 {
		w.partial = text
		return
	}
	w.partial = text[lastNL+1:]

	scanner := bufio.NewScanner(strings.NewReader(text[:lastNL]))
	for scanner.Scan() {
		if ratio, ok := parseProgressLine(scanner.Text(), w.total); ok && w.onProgress != nil {
			w.onProgress(ratio)
		}
	}
}

// Close 停止监听并读取剩余内容
func (w *ProgressWatcher) Close() error {
	close(w.stop)
	err := w.watcher.Close()
	w.wg.Wait()
	w.readNew()
	return err
}

// parseProgressLine 解析 out_time_us / out_time_ms / out_time 以及 progress=end
func parseProgressLine(line string, total float64) (float64, bool) {
	key, value, ok := strings.Cut(strings.TrimSpace(line), "=")
	if !ok {
		return 0, false
	}

	var seconds float64
	switch key {
	case "out_time_us", "out_time_ms":
		// ffmpeg 的 out_time_ms 实际也是微秒
		us, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return 0, false
		}
		seconds = float64(us) / 1e6
	case "out_time":
		s, ok := parseClock(value)
		if !ok {
			return 0, false
		}
		seconds = s
	case "progress":
		if value == "end" {
			return 1, true
		}
		return 0, false
	default:
		return 0, false
	}

	if total <= 0 {
		return 0, false
	}
	ratio := seconds / total
	if ratio < 0 {
		ratio = 0
	}
	if ratio > 1 {
		ratio = 1
	}
	return ratio, true
}

// parseClock 解析 HH:MM:SS.micro
func parseClock(s string) (float64, bool) {
	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return 0, false
	}
	h, err1 := strconv.ParseFloat(parts[0], 64)
	m, err2 := strconv.ParseFloat(parts[1], 64)
	sec, err3 := strconv.ParseFloat(parts[2], 64)
	if err1 != nil || err2 != nil || err3 != nil {
		return 0, false
	}
	return h*3600 + m*60 + sec, true
}
