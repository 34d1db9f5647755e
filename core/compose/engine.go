package compose

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"mvgen/core/timeline"
	"mvgen/logger"
)

var (
	ErrNoClips         = errors.New("compose: timeline has no clips")
	ErrAssetLoadFailed = errors.New("compose: failed to load song audio")
	ErrExportFailed    = errors.New("compose: export failed")
	ErrCancelled       = errors.New("compose: export cancelled")
)

// DefaultPollInterval 进度采样间隔
const DefaultPollInterval = 100 * time.Millisecond

// 渲染中的临时文件后缀
const partSuffix = ".part"

type Engine struct {
	source       MediaSource
	renderer     Renderer
	outputDir    string
	pollInterval time.Duration
}

type Option func(*Engine)

// WithOutputDir 成片输出目录，默认系统临时目录
func WithOutputDir(dir string) Option {
	return func(e *Engine) { e.outputDir = dir }
}

func WithPollInterval(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.pollInterval = d
		}
	}
}

func NewEngine(source MediaSource, renderer Renderer, opts ...Option) *Engine {
	e := &Engine{
		source:       source,
		renderer:     renderer,
		outputDir:    os.TempDir(),
		pollInterval: DefaultPollInterval,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Start 校验参数后在后台合成。progress 可为 nil，否则由单个 goroutine 以不减的值调用，
// 成功时在 Done 关闭前最后回调 1.0
func (e *Engine) Start(ctx context.Context, clips []timeline.Clip, audioLocator string, progress func(float64)) (*Job, error) {
	if len(clips) == 0 {
		return nil, ErrNoClips
	}
	if err := os.MkdirAll(e.outputDir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: create output dir: %v", ErrExportFailed, err)
	}

	jobCtx, cancel := context.WithCancel(ctx)
	job := newJob("", cancel)
	job.OutputPath = filepath.Join(e.outputDir, job.ID.String()+".mp4")

	owned := make([]timeline.Clip, len(clips))
	copy(owned, clips)

	job.setState(StateComposing)
	go e.run(jobCtx, job, owned, audioLocator, progress)
	return job, nil
}

// Compose Start 的阻塞版本，返回输出路径
func (e *Engine) Compose(ctx context.Context, clips []timeline.Clip, audioLocator string, progress func(float64)) (string, error) {
	job, err := e.Start(ctx, clips, audioLocator, progress)
	if err != nil {
		return "", err
	}
	<-job.Done()
	if err := job.Err(); err != nil {
		return "", err
	}
	return job.OutputPath, nil
}

func (e *Engine) run(ctx context.Context, job *Job, clips []timeline.Clip, audioLocator string, progress func(float64)) {
	log := func(msg string, err error) {
		logger.Info(msg,
			logger.String("jobId", job.ID.String()),
			logger.String("state", job.State().String()),
			logger.ErrorField(err),
			logger.Duration("elapsed", time.Since(job.StartedAt)))
	}

	audio, err := e.source.LoadAudio(ctx, audioLocator)
	if err != nil {
		if ctx.Err() != nil {
			e.cancelled(job)
			log("composition cancelled", nil)
			return
		}
		job.finish(StateFailed, fmt.Errorf("%w: %v", ErrAssetLoadFailed, err))
		log("composition failed", err)
		return
	}

	plan, skipped, err := buildPlan(ctx, e.source, clips, audio)
	job.setSkipped(skipped)
	if err != nil {
		e.cancelled(job)
		log("composition cancelled", nil)
		return
	}
	if len(plan.Segments) == 0 {
		err := fmt.Errorf("%w: none of %d clips could be loaded", ErrExportFailed, len(clips))
		job.finish(StateFailed, err)
		log("composition failed", err)
		return
	}

	logger.Info("rendering composition",
		logger.String("jobId", job.ID.String()),
		logger.Int("segments", len(plan.Segments)),
		logger.Int("skipped", len(skipped)),
		logger.Float64("duration", plan.Duration()),
		logger.String("output", job.OutputPath))

	partPath := job.OutputPath + partSuffix
	renderErr := e.renderWithProgress(ctx, job, plan, partPath, progress)

	switch {
	case ctx.Err() != nil:
		os.Remove(partPath)
		e.cancelled(job)
		log("composition cancelled", nil)
	case renderErr != nil:
		os.Remove(partPath)
		err := fmt.Errorf("%w: %v", ErrExportFailed, renderErr)
		job.finish(StateFailed, err)
		log("composition failed", renderErr)
	default:
		if err := os.Rename(partPath, job.OutputPath); err != nil {
			os.Remove(partPath)
			job.finish(StateFailed, fmt.Errorf("%w: %v", ErrExportFailed, err))
			log("composition failed", err)
			return
		}
		job.finish(StateCompleted, nil)
		log("composition completed", nil)
	}
}

func (e *Engine) cancelled(job *Job) {
	job.finish(StateCancelled, ErrCancelled)
}

// renderWithProgress 渲染期间由单个轮询协程把原始进度转换为单调回调，返回前轮询协程已退出
func (e *Engine) renderWithProgress(ctx context.Context, job *Job, plan *Plan, partPath string, progress func(float64)) error {
	var raw atomic.Uint64
	report := func(f float64) {
		if math.IsNaN(f) {
			return
		}
		raw.Store(math.Float64bits(math.Max(0, math.Min(1, f))))
	}

	renderDone := make(chan bool, 1)
	pollerDone := make(chan struct{})

	go func() {
		defer close(pollerDone)
		ticker := time.NewTicker(e.pollInterval)
		defer ticker.Stop()

		var last float64
		emit := func(v float64) {
			if v <= last {
				return
			}
			last = v
			job.setProgress(v)
			if progress != nil {
				progress(v)
			}
		}

		for {
			select {
			case <-ticker.C:
				emit(math.Float64frombits(raw.Load()))
			case ok := <-renderDone:
				if ok {
					emit(1.0)
				}
				return
			}
		}
	}()

	err := e.renderer.Render(ctx, plan, partPath, report)
	renderDone <- err == nil && ctx.Err() == nil
	<-pollerDone
	return err
}
