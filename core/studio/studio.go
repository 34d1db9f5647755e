package studio

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"mvgen/cache"
	"mvgen/core/analysis"
	"mvgen/core/compose"
	"mvgen/core/pcm"
	"mvgen/core/progress"
	"mvgen/core/project"
	"mvgen/core/timeline"
	"mvgen/logger"
	"mvgen/model"
	"mvgen/repository"
)

var (
	ErrProjectNotFound  = errors.New("studio: project not found")
	ErrClipNotFound     = errors.New("studio: clip index out of range")
	ErrNotEditable      = errors.New("studio: project cannot be edited in its current status")
	ErrExportInProgress = errors.New("studio: export already in progress")
	ErrNoActiveExport   = errors.New("studio: no export in progress")
	ErrNoExport         = errors.New("studio: project has never been exported")
)

// Publisher 导出产物的发布目标，未配置对象存储时为 nil
type Publisher interface {
	Publish(ctx context.Context, localPath, objectKey string) (string, error)
}

// Composer 启动合成任务，*compose.Engine 即为实现
type Composer interface {
	Start(ctx context.Context, clips []timeline.Clip, audioLocator string, progress func(float64)) (*compose.Job, error)
}

// ObjectKeyFunc 根据项目ID与本地文件生成对象名
type ObjectKeyFunc func(projectID, localPath string) string

// Studio 项目业务管理器：导入歌曲、编辑时间线、导出视频
type Studio struct {
	decoder   pcm.Decoder
	analyzer  *analysis.Engine
	cache     cache.AnalysisCache
	repo      repository.ProjectRepository
	composer  Composer
	hub       *progress.Hub
	publisher Publisher
	objectKey ObjectKeyFunc

	// 串行化 读取-修改-保存
	editMu sync.Mutex

	mu      sync.Mutex
	exports map[string]*exportRun
}

// exportRun 单个项目最近一次导出
type exportRun struct {
	job       *compose.Job
	recordID  string
	objectKey string
	active    bool
}

// Option 配置 Studio
type Option func(*Studio)

// WithCache 设置分析结果缓存
func WithCache(c cache.AnalysisCache) Option {
	return func(s *Studio) { s.cache = c }
}

// WithHub 设置进度推送 Hub
func WithHub(h *progress.Hub) Option {
	return func(s *Studio) { s.hub = h }
}

// WithPublisher 设置导出产物发布目标
func WithPublisher(p Publisher, key ObjectKeyFunc) Option {
	return func(s *Studio) {
		s.publisher = p
		s.objectKey = key
	}
}

// New 创建 Studio
func New(decoder pcm.Decoder, analyzer *analysis.Engine, repo repository.ProjectRepository, composer Composer, opts ...Option) *Studio {
	s := &Studio{
		decoder:  decoder,
		analyzer: analyzer,
		repo:     repo,
		composer: composer,
		exports:  make(map[string]*exportRun),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.cache == nil {
		s.cache = cache.NewMemoryAnalysisCache()
	}
	return s
}

// ========== 歌曲导入 ==========

// ImportSong 解码并分析歌曲，创建新项目
func (s *Studio) ImportSong(ctx context.Context, locator, title string) (*project.Project, error) {
	hash, err := fileHash(locator)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", analysis.ErrLoadFailed, err)
	}
	if title == "" {
		title = "Untitled"
	}

	p := project.New(title, project.Song{Locator: locator, Title: title})
	if err := s.repo.Create(ctx, model.NewProjectRecord(p, hash)); err != nil {
		return nil, fmt.Errorf("创建项目失败: %w", err)
	}

	result, duration, err := s.analyze(ctx, locator, hash)
	if err != nil {
		p.SetStatus(project.StatusFailed)
		if serr := s.repo.Save(ctx, model.NewProjectRecord(p, hash)); serr != nil {
			logger.Warn("保存失败状态出错", logger.String("projectId", p.ID.String()), logger.ErrorField(serr))
		}
		return nil, err
	}

	p.Song.Analysis = result
	p.Song.Duration = duration
	p.Song.Themes = Themes(result.Mood())
	p.SetStatus(project.StatusReady)
	if err := s.repo.Save(ctx, model.NewProjectRecord(p, hash)); err != nil {
		return nil, fmt.Errorf("保存项目失败: %w", err)
	}

	logger.Info("歌曲导入完成",
		logger.String("projectId", p.ID.String()),
		logger.String("title", title),
		logger.Float64("tempo", result.Tempo()),
		logger.String("mood", string(result.Mood())),
		logger.Float64("duration", duration))
	return p, nil
}

// analyze 依次查询缓存、已有项目，最后解码分析
func (s *Studio) analyze(ctx context.Context, locator, hash string) (*analysis.Analysis, float64, error) {
	if a, ok, err := s.cache.Get(ctx, hash); err != nil {
		logger.Warn("读取分析缓存失败", logger.String("hash", hash), logger.ErrorField(err))
	} else if ok {
		logger.Debug("分析缓存命中", logger.String("hash", hash))
		return a, a.Duration(), nil
	}

	if rec, err := s.repo.FindBySongHash(ctx, hash); err == nil && rec != nil && rec.Analysis.Analysis != nil {
		s.remember(ctx, hash, rec.Analysis.Analysis)
		return rec.Analysis.Analysis, rec.SongDuration, nil
	}

	buf, err := s.decoder.Decode(ctx, locator)
	if err != nil {
		return nil, 0, err
	}
	a, err := s.analyzer.Analyze(buf.Samples, buf.SampleRate, buf.Duration)
	if err != nil {
		return nil, 0, err
	}
	s.remember(ctx, hash, a)
	return a, buf.Duration, nil
}

func (s *Studio) remember(ctx context.Context, hash string, a *analysis.Analysis) {
	if err := s.cache.Put(ctx, hash, a); err != nil {
		logger.Warn("写入分析缓存失败", logger.String("hash", hash), logger.ErrorField(err))
	}
}

// Analyze 只做分析不建项目，供命令行使用
func (s *Studio) Analyze(ctx context.Context, locator string) (*analysis.Analysis, error) {
	hash, err := fileHash(locator)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", analysis.ErrLoadFailed, err)
	}
	a, _, err := s.analyze(ctx, locator, hash)
	return a, err
}

// fileHash 计算文件内容的 sha256
func fileHash(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// ========== 项目查询 ==========

// Get 获取项目
func (s *Studio) Get(ctx context.Context, id string) (*project.Project, error) {
	p, _, err := s.load(ctx, id)
	return p, err
}

// List 分页列出项目
func (s *Studio) List(ctx context.Context, limit, offset int) ([]*project.Project, int64, error) {
	recs, total, err := s.repo.List(ctx, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	projects := make([]*project.Project, 0, len(recs))
	for _, rec := range recs {
		p, err := rec.ToProject()
		if err != nil {
			logger.Warn("跳过无法还原的项目", logger.String("projectId", rec.ID), logger.ErrorField(err))
			continue
		}
		projects = append(projects, p)
	}
	return projects, total, nil
}

// Delete 删除项目，导出进行中时拒绝
func (s *Studio) Delete(ctx context.Context, id string) error {
	if s.exporting(id) {
		return ErrExportInProgress
	}
	if _, _, err := s.load(ctx, id); err != nil {
		return err
	}
	return s.repo.Delete(ctx, id)
}

func (s *Studio) load(ctx context.Context, id string) (*project.Project, *model.ProjectRecord, error) {
	rec, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if rec == nil {
		return nil, nil, ErrProjectNotFound
	}
	p, err := rec.ToProject()
	if err != nil {
		return nil, nil, err
	}
	return p, rec, nil
}

// ========== 时间线编辑 ==========

// AddClip 在时间线末尾追加片段
func (s *Studio) AddClip(ctx context.Context, id string, c timeline.Clip) (*project.Project, error) {
	return s.edit(ctx, id, func(tl *timeline.Timeline) (bool, error) {
		return true, tl.Append(c)
	})
}

// RemoveClip 删除指定位置的片段
func (s *Studio) RemoveClip(ctx context.Context, id string, index int) (*project.Project, error) {
	return s.edit(ctx, id, func(tl *timeline.Timeline) (bool, error) {
		return tl.RemoveAt(index), nil
	})
}

// MoveClip 移动片段
func (s *Studio) MoveClip(ctx context.Context, id string, from, to int) (*project.Project, error) {
	return s.edit(ctx, id, func(tl *timeline.Timeline) (bool, error) {
		return tl.MoveClip(from, to), nil
	})
}

// UpdateClip 替换指定位置的片段
func (s *Studio) UpdateClip(ctx context.Context, id string, index int, c timeline.Clip) (*project.Project, error) {
	return s.edit(ctx, id, func(tl *timeline.Timeline) (bool, error) {
		return tl.UpdateAt(index, c)
	})
}

// edit 读取项目、应用修改并保存。已完成或失败的项目编辑后回到 ready
func (s *Studio) edit(ctx context.Context, id string, apply func(*timeline.Timeline) (bool, error)) (*project.Project, error) {
	s.editMu.Lock()
	defer s.editMu.Unlock()

	p, rec, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !p.Status.Editable() || s.exporting(id) {
		return nil, ErrNotEditable
	}

	applied, err := apply(p.Timeline)
	if err != nil {
		return nil, err
	}
	if !applied {
		return nil, ErrClipNotFound
	}

	if p.Status == project.StatusCompleted || p.Status == project.StatusFailed {
		p.Status = project.StatusReady
	}
	p.Touch()
	if err := s.repo.Save(ctx, model.NewProjectRecord(p, rec.SongHash)); err != nil {
		return nil, fmt.Errorf("保存项目失败: %w", err)
	}
	return p, nil
}
