package studio

import (
	"context"
	"errors"
	"fmt"
	"time"

	"mvgen/core/compose"
	"mvgen/core/progress"
	"mvgen/core/project"
	"mvgen/logger"
	"mvgen/model"
)

// ExportInfo 导出任务快照
type ExportInfo struct {
	JobID      string     `json:"jobId"`
	ProjectID  string     `json:"projectId"`
	State      string     `json:"state"`
	Progress   float64    `json:"progress"`
	Error      string     `json:"error,omitempty"`
	OutputPath string     `json:"outputPath"`
	ObjectKey  string     `json:"objectKey,omitempty"`
	Skipped    []string   `json:"skipped"`
	StartedAt  time.Time  `json:"startedAt"`
	FinishedAt *time.Time `json:"finishedAt,omitempty"`
}

// StartExport 启动导出任务，同一项目同时只允许一个导出
func (s *Studio) StartExport(ctx context.Context, id string) (*ExportInfo, error) {
	s.editMu.Lock()
	defer s.editMu.Unlock()

	p, rec, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	if run, ok := s.exports[id]; ok && run.active {
		s.mu.Unlock()
		return nil, ErrExportInProgress
	}
	// 先占位，避免并发请求重复启动
	run := &exportRun{active: true}
	s.exports[id] = run
	s.mu.Unlock()

	release := func() {
		s.mu.Lock()
		delete(s.exports, id)
		s.mu.Unlock()
	}

	if p.Status == project.StatusAnalyzing || p.Status == project.StatusExporting {
		release()
		return nil, ErrNotEditable
	}

	// 导出任务不随请求结束而取消
	jobCtx := context.WithoutCancel(ctx)
	// 回调可能早于 Start 返回，等任务登记后再推送
	registered := make(chan struct{})
	job, err := s.composer.Start(jobCtx, p.Timeline.Snapshot(), p.Song.Locator, func(v float64) {
		<-registered
		s.mu.Lock()
		jobID := run.jobID()
		s.mu.Unlock()
		s.publish(progress.Event{
			Type:      progress.EventProgress,
			ProjectID: id,
			JobID:     jobID,
			Progress:  v,
		})
	})
	if err != nil {
		close(registered)
		release()
		return nil, err
	}

	s.mu.Lock()
	run.job = job
	run.recordID = job.ID.String()
	s.mu.Unlock()
	close(registered)

	p.SetStatus(project.StatusExporting)
	if err := s.repo.Save(ctx, model.NewProjectRecord(p, rec.SongHash)); err != nil {
		logger.Warn("保存导出状态失败", logger.String("projectId", id), logger.ErrorField(err))
	}
	if err := s.repo.CreateExport(ctx, &model.ExportRecord{
		ID:         job.ID.String(),
		ProjectID:  id,
		State:      job.State().String(),
		OutputPath: job.OutputPath,
		StartedAt:  job.StartedAt,
	}); err != nil {
		logger.Warn("写入导出记录失败", logger.String("projectId", id), logger.ErrorField(err))
	}

	s.publish(progress.Event{
		Type:      progress.EventState,
		ProjectID: id,
		JobID:     job.ID.String(),
		State:     job.State().String(),
		Status:    string(project.StatusExporting),
	})
	logger.Info("导出任务已启动",
		logger.String("projectId", id),
		logger.String("jobId", job.ID.String()),
		logger.Int("clips", p.Timeline.Len()))

	s.mu.Lock()
	info := run.info(id)
	s.mu.Unlock()

	go s.awaitExport(jobCtx, id, run)
	return info, nil
}

// awaitExport 等待任务结束并落库、发布产物、推送最终状态
func (s *Studio) awaitExport(ctx context.Context, id string, run *exportRun) {
	job := run.job
	<-job.Done()

	skipped := idStrings(job)
	if len(skipped) > 0 {
		s.publish(progress.Event{
			Type:      progress.EventSkipped,
			ProjectID: id,
			JobID:     job.ID.String(),
			ClipIDs:   skipped,
		})
	}

	var (
		status    project.Status
		errMsg    string
		objectKey string
	)
	switch job.State() {
	case compose.StateCompleted:
		status = project.StatusCompleted
		if s.publisher != nil {
			key, err := s.publisher.Publish(ctx, job.OutputPath, s.objectKey(id, job.OutputPath))
			if err != nil {
				logger.Warn("发布导出文件失败，保留本地文件", logger.String("projectId", id), logger.ErrorField(err))
			} else {
				objectKey = key
			}
		}
	case compose.StateCancelled:
		status = project.StatusReady
		errMsg = compose.ErrCancelled.Error()
	default:
		status = project.StatusFailed
		if err := job.Err(); err != nil {
			errMsg = err.Error()
		}
	}

	if err := s.repo.FinishExport(ctx, run.recordID, job.State().String(), errMsg, objectKey, skipped); err != nil {
		logger.Warn("更新导出记录失败", logger.String("jobId", run.recordID), logger.ErrorField(err))
	}

	locator := objectKey
	if locator == "" && status == project.StatusCompleted {
		locator = job.OutputPath
	}
	if err := s.finishProject(ctx, id, status, locator); err != nil {
		logger.Error("更新项目导出状态失败", logger.String("projectId", id), logger.ErrorField(err))
	}

	s.mu.Lock()
	run.objectKey = objectKey
	run.active = false
	s.mu.Unlock()

	s.publish(progress.Event{
		Type:      progress.EventState,
		ProjectID: id,
		JobID:     job.ID.String(),
		Progress:  job.Progress(),
		State:     job.State().String(),
		Status:    string(status),
		Error:     errMsg,
		Output:    locator,
	})
	logger.Info("导出任务结束",
		logger.String("projectId", id),
		logger.String("jobId", job.ID.String()),
		logger.String("state", job.State().String()),
		logger.Int("skipped", len(skipped)))
}

func (s *Studio) finishProject(ctx context.Context, id string, status project.Status, locator string) error {
	s.editMu.Lock()
	defer s.editMu.Unlock()

	p, rec, err := s.load(ctx, id)
	if err != nil {
		return err
	}
	p.SetStatus(status)
	if locator != "" {
		p.ExportLocator = locator
	}
	return s.repo.Save(ctx, model.NewProjectRecord(p, rec.SongHash))
}

// CancelExport 取消进行中的导出，项目回到 ready
func (s *Studio) CancelExport(id string) error {
	s.mu.Lock()
	var job *compose.Job
	if run, ok := s.exports[id]; ok && run.active {
		job = run.job
	}
	s.mu.Unlock()
	if job == nil {
		return ErrNoActiveExport
	}
	job.Cancel()
	return nil
}

// ExportStatus 返回最近一次导出的状态，进程内无记录时查询数据库
func (s *Studio) ExportStatus(ctx context.Context, id string) (*ExportInfo, error) {
	s.mu.Lock()
	if run, ok := s.exports[id]; ok && run.job != nil {
		info := run.info(id)
		s.mu.Unlock()
		return info, nil
	}
	s.mu.Unlock()

	if _, _, err := s.load(ctx, id); err != nil {
		return nil, err
	}
	recs, err := s.repo.ListExports(ctx, id, 1)
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, ErrNoExport
	}
	return recordInfo(recs[0]), nil
}

// WaitExport 阻塞直到项目当前导出结束并完成落库
func (s *Studio) WaitExport(ctx context.Context, id string) (*ExportInfo, error) {
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for {
		if !s.exporting(id) {
			return s.ExportStatus(ctx, id)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (s *Studio) exporting(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.exports[id]
	return ok && run.active
}

func (s *Studio) publish(e progress.Event) {
	if s.hub != nil {
		s.hub.Publish(e)
	}
}

func (r *exportRun) jobID() string {
	if r.job == nil {
		return ""
	}
	return r.job.ID.String()
}

// info 需持有 s.mu
func (r *exportRun) info(projectID string) *ExportInfo {
	job := r.job
	info := &ExportInfo{
		JobID:      job.ID.String(),
		ProjectID:  projectID,
		State:      job.State().String(),
		Progress:   job.Progress(),
		OutputPath: job.OutputPath,
		ObjectKey:  r.objectKey,
		Skipped:    idStrings(job),
		StartedAt:  job.StartedAt,
	}
	if err := job.Err(); err != nil && !errors.Is(err, compose.ErrCancelled) {
		info.Error = err.Error()
	}
	if job.State().IsTerminal() {
		at := job.FinishedAt()
		info.FinishedAt = &at
	}
	return info
}

func recordInfo(rec *model.ExportRecord) *ExportInfo {
	info := &ExportInfo{
		JobID:      rec.ID,
		ProjectID:  rec.ProjectID,
		State:      rec.State,
		Error:      rec.Error,
		OutputPath: rec.OutputPath,
		ObjectKey:  rec.ObjectKey,
		Skipped:    []string(rec.Skipped),
		StartedAt:  rec.StartedAt,
		FinishedAt: rec.FinishedAt,
	}
	if info.Skipped == nil {
		info.Skipped = []string{}
	}
	if rec.State == compose.StateCompleted.String() {
		info.Progress = 1
	}
	return info
}

func idStrings(job *compose.Job) []string {
	ids := job.Skipped()
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}

// String 便于日志输出
func (i *ExportInfo) String() string {
	return fmt.Sprintf("%s[%s %.0f%%]", i.JobID, i.State, i.Progress*100)
}
