package inbox

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"mvgen/logger"
)

// DefaultExtensions 默认接收的音频扩展名
var DefaultExtensions = []string{".wav", ".wave", ".mp3", ".m4a", ".aac", ".flac", ".ogg"}

// Handler 处理一个已写入完成的文件
type Handler func(ctx context.Context, path string) error

// Stats 监听统计
type Stats struct {
	Queued  int32
	Handled int32
	Failed  int32
}

// Watcher 监听目录，新文件稳定后交给 worker 池处理
type Watcher struct {
	dir     string
	handler Handler
	workers int
	settle  time.Duration
	tick    time.Duration
	exts    map[string]bool

	seen    sync.Map
	queued  int32
	handled int32
	failed  int32
}

type Option func(*Watcher)

// WithWorkers 并发处理数
func WithWorkers(n int) Option {
	return func(w *Watcher) {
		if n > 0 {
			w.workers = n
		}
	}
}

// WithSettle 文件大小保持不变多久后视为写入完成
func WithSettle(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.settle = d
			if d/2 < w.tick {
				w.tick = d / 2
			}
		}
	}
}

// WithExtensions 覆盖默认扩展名列表
func WithExtensions(exts ...string) Option {
	return func(w *Watcher) {
		w.exts = toSet(exts)
	}
}

func New(dir string, handler Handler, opts ...Option) *Watcher {
	w := &Watcher{
		dir:     dir,
		handler: handler,
		workers: 2,
		settle:  500 * time.Millisecond,
		tick:    100 * time.Millisecond,
		exts:    toSet(DefaultExtensions),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

func toSet(exts []string) map[string]bool {
	set := make(map[string]bool, len(exts))
	for _, e := range exts {
		set[strings.ToLower(e)] = true
	}
	return set
}

func (w *Watcher) Stats() Stats {
	return Stats{
		Queued:  atomic.LoadInt32(&w.queued),
		Handled: atomic.LoadInt32(&w.handled),
		Failed:  atomic.LoadInt32(&w.failed),
	}
}

func (w *Watcher) accept(path string) bool {
	base := filepath.Base(path)
	if strings.HasPrefix(base, ".") {
		return false
	}
	return w.exts[strings.ToLower(filepath.Ext(base))]
}

// Run 阻塞直到 ctx 结束，返回前等待正在处理的任务完成
func (w *Watcher) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("创建文件监听器失败: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(w.dir); err != nil {
		return fmt.Errorf("监听目录失败: %w", err)
	}

	tasks := make(chan string, w.workers*4)
	var wg sync.WaitGroup
	for i := 0; i < w.workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			w.worker(ctx, workerID, tasks)
		}(i)
	}

	logger.Info("开始监听导入目录",
		logger.String("dir", w.dir),
		logger.Int("workers", w.workers))

	w.loop(ctx, watcher, tasks)

	close(tasks)
	wg.Wait()
	return nil
}

type pendingFile struct {
	size    int64
	changed time.Time
}

func (w *Watcher) loop(ctx context.Context, watcher *fsnotify.Watcher, tasks chan<- string) {
	pending := make(map[string]*pendingFile)

	// 启动前已存在的文件
	if entries, err := os.ReadDir(w.dir); err == nil {
		for _, e := range entries {
			path := filepath.Join(w.dir, e.Name())
			if !e.IsDir() && w.accept(path) {
				pending[path] = &pendingFile{size: -1, changed: time.Now()}
			}
		}
	}

	ticker := time.NewTicker(w.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 && w.accept(event.Name) {
				if p, ok := pending[event.Name]; ok {
					p.changed = time.Now()
				} else {
					pending[event.Name] = &pendingFile{size: -1, changed: time.Now()}
				}
			}
			if event.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
				delete(pending, event.Name)
			}

		case <-ticker.C:
			now := time.Now()
			for path, p := range pending {
				info, err := os.Stat(path)
				if err != nil {
					delete(pending, path)
					continue
				}
				if info.Size() != p.size || info.Size() == 0 {
					p.size = info.Size()
					p.changed = now
					continue
				}
				if now.Sub(p.changed) < w.settle {
					continue
				}

				if _, loaded := w.seen.LoadOrStore(path, true); loaded {
					delete(pending, path)
					continue
				}
				select {
				case tasks <- path:
					atomic.AddInt32(&w.queued, 1)
					delete(pending, path)
				default:
					// 队列满，下个周期重试
					w.seen.Delete(path)
				}
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			logger.Warn("文件监听错误", logger.ErrorField(err))
		}
	}
}

func (w *Watcher) worker(ctx context.Context, workerID int, tasks <-chan string) {
	for path := range tasks {
		if ctx.Err() != nil {
			continue
		}
		start := time.Now()
		if err := w.handler(ctx, path); err != nil {
			atomic.AddInt32(&w.failed, 1)
			logger.Warn("导入文件失败",
				logger.Int("worker", workerID),
				logger.String("file", path),
				logger.ErrorField(err))
			continue
		}
		atomic.AddInt32(&w.handled, 1)
		logger.Info("导入文件完成",
			logger.Int("worker", workerID),
			logger.String("file", path),
			logger.Duration("elapsed", time.Since(start)))
	}
}
