package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"mvgen/core/analysis"
	"mvgen/core/compose"
	"mvgen/core/project"
	"mvgen/core/studio"
	"mvgen/core/timeline"
	"mvgen/logger"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
)

const (
	maxUploadMemory = 32 << 20 // 32MB 内存，超出部分落盘
	maxClipBody     = 1 << 20
	presignExpiry   = time.Hour
)

var allowedAudioExt = map[string]bool{
	".wav": true, ".wave": true, ".mp3": true, ".m4a": true, ".aac": true, ".flac": true, ".ogg": true,
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warn("failed to encode response", logger.ErrorField(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// statusFor 将领域错误映射为 HTTP 状态码
func statusFor(err error) int {
	switch {
	case errors.Is(err, studio.ErrProjectNotFound),
		errors.Is(err, studio.ErrClipNotFound),
		errors.Is(err, studio.ErrNoActiveExport),
		errors.Is(err, studio.ErrNoExport):
		return http.StatusNotFound
	case errors.Is(err, studio.ErrNotEditable),
		errors.Is(err, studio.ErrExportInProgress):
		return http.StatusConflict
	case errors.Is(err, timeline.ErrInvalidTrim),
		errors.Is(err, timeline.ErrInvalidDuration),
		errors.Is(err, timeline.ErrMissingLocator),
		errors.Is(err, timeline.ErrInvalidTransition),
		errors.Is(err, timeline.ErrInvalidGrade),
		errors.Is(err, compose.ErrNoClips),
		errors.Is(err, analysis.ErrLoadFailed):
		return http.StatusBadRequest
	case errors.Is(err, analysis.ErrInvalidFormat),
		errors.Is(err, analysis.ErrEmptySamples):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		logger.Error("request failed",
			logger.String("method", r.Method),
			logger.String("path", r.URL.Path),
			logger.ErrorField(err))
	}
	writeError(w, status, err.Error())
}

// HealthHandler 健康检查
func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ========== 项目 ==========

// CreateProjectHandler 上传歌曲并分析，表单字段 audioFile、title
func (s *Server) CreateProjectHandler(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadMemory); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("Failed to parse multipart form: %v", err))
		return
	}

	file, header, err := r.FormFile("audioFile")
	if err != nil {
		writeError(w, http.StatusBadRequest, "Missing 'audioFile' in form")
		return
	}
	defer file.Close()

	ext := strings.ToLower(filepath.Ext(header.Filename))
	if !allowedAudioExt[ext] {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("Unsupported audio type %q", ext))
		return
	}

	title := strings.TrimSpace(r.FormValue("title"))
	if title == "" {
		title = strings.TrimSuffix(header.Filename, filepath.Ext(header.Filename))
	}

	if err := os.MkdirAll(s.cfg.UploadDir, 0o755); err != nil {
		s.fail(w, r, err)
		return
	}
	dst := filepath.Join(s.cfg.UploadDir, uuid.NewString()+ext)
	out, err := os.Create(dst)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if _, err := io.Copy(out, file); err != nil {
		out.Close()
		os.Remove(dst)
		s.fail(w, r, err)
		return
	}
	if err := out.Close(); err != nil {
		s.fail(w, r, err)
		return
	}

	p, err := s.studio.ImportSong(r.Context(), dst, title)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	logger.Info("project created via upload",
		logger.String("projectId", p.ID.String()),
		logger.String("file", header.Filename),
		logger.Int64("size", header.Size))
	writeJSON(w, http.StatusCreated, p)
}

// ListProjectsHandler 分页列出项目 ?limit=&offset=
func (s *Server) ListProjectsHandler(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 20)
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	offset := queryInt(r, "offset", 0)
	if offset < 0 {
		offset = 0
	}

	projects, total, err := s.studio.List(r.Context(), limit, offset)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if projects == nil {
		projects = []*project.Project{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"projects": projects,
		"total":    total,
		"limit":    limit,
		"offset":   offset,
	})
}

// GetProjectHandler 获取项目详情
func (s *Server) GetProjectHandler(w http.ResponseWriter, r *http.Request) {
	p, err := s.studio.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// DeleteProjectHandler 删除项目
func (s *Server) DeleteProjectHandler(w http.ResponseWriter, r *http.Request) {
	if err := s.studio.Delete(r.Context(), mux.Vars(r)["id"]); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetAnalysisHandler 返回歌曲分析结果
func (s *Server) GetAnalysisHandler(w http.ResponseWriter, r *http.Request) {
	p, err := s.studio.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if p.Song.Analysis == nil {
		writeError(w, http.StatusNotFound, "analysis not available")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"analysis": p.Song.Analysis,
		"themes":   p.Song.Themes,
		"duration": p.Song.Duration,
	})
}

// ========== 时间线 ==========

// AddClipHandler 追加片段
func (s *Server) AddClipHandler(w http.ResponseWriter, r *http.Request) {
	clip, _, err := decodeClip(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	p, err := s.studio.AddClip(r.Context(), mux.Vars(r)["id"], clip)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

// UpdateClipHandler 替换片段，未给出 id 时沿用原片段 id
func (s *Server) UpdateClipHandler(w http.ResponseWriter, r *http.Request) {
	index, _ := strconv.Atoi(mux.Vars(r)["index"])
	clip, hasID, err := decodeClip(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !hasID {
		clip.ID = uuid.Nil
	}
	p, err := s.studio.UpdateClip(r.Context(), mux.Vars(r)["id"], index, clip)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// RemoveClipHandler 删除片段
func (s *Server) RemoveClipHandler(w http.ResponseWriter, r *http.Request) {
	index, _ := strconv.Atoi(mux.Vars(r)["index"])
	p, err := s.studio.RemoveClip(r.Context(), mux.Vars(r)["id"], index)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

type moveRequest struct {
	From *int `json:"from"`
	To   *int `json:"to"`
}

// MoveClipHandler 移动片段 {"from":0,"to":2}
func (s *Server) MoveClipHandler(w http.ResponseWriter, r *http.Request) {
	var req moveRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxClipBody)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.From == nil || req.To == nil {
		writeError(w, http.StatusBadRequest, "'from' and 'to' are required")
		return
	}
	p, err := s.studio.MoveClip(r.Context(), mux.Vars(r)["id"], *req.From, *req.To)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func decodeClip(r *http.Request) (timeline.Clip, bool, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxClipBody))
	if err != nil {
		return timeline.Clip{}, false, fmt.Errorf("failed to read body: %v", err)
	}
	var probe struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(body, &probe); err != nil {
		return timeline.Clip{}, false, fmt.Errorf("invalid clip JSON: %v", err)
	}
	var clip timeline.Clip
	if err := json.Unmarshal(body, &clip); err != nil {
		return timeline.Clip{}, false, fmt.Errorf("invalid clip JSON: %v", err)
	}
	return clip, probe.ID != "", nil
}

// ========== 导出 ==========

// StartExportHandler 启动导出
func (s *Server) StartExportHandler(w http.ResponseWriter, r *http.Request) {
	info, err := s.studio.StartExport(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, info)
}

// ExportStatusHandler 查询导出状态，已发布时附带下载地址
func (s *Server) ExportStatusHandler(w http.ResponseWriter, r *http.Request) {
	info, err := s.studio.ExportStatus(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.fail(w, r, err)
		return
	}

	resp := map[string]interface{}{"export": info}
	if s.store != nil && info.ObjectKey != "" {
		if u, err := s.store.PresignedURL(r.Context(), info.ObjectKey, presignExpiry); err == nil {
			resp["downloadUrl"] = u
		} else {
			logger.Warn("presign failed", logger.String("key", info.ObjectKey), logger.ErrorField(err))
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// CancelExportHandler 取消导出
func (s *Server) CancelExportHandler(w http.ResponseWriter, r *http.Request) {
	if err := s.studio.CancelExport(mux.Vars(r)["id"]); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"message": "Export cancellation requested"})
}

// DownloadExportHandler 下载最近一次成功导出的视频
func (s *Server) DownloadExportHandler(w http.ResponseWriter, r *http.Request) {
	info, err := s.studio.ExportStatus(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if info.State != compose.StateCompleted.String() {
		writeError(w, http.StatusConflict, fmt.Sprintf("export is %s", info.State))
		return
	}

	if s.store != nil && info.ObjectKey != "" {
		u, err := s.store.PresignedURL(r.Context(), info.ObjectKey, presignExpiry)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		http.Redirect(w, r, u, http.StatusFound)
		return
	}

	if _, err := os.Stat(info.OutputPath); err != nil {
		writeError(w, http.StatusGone, "export file no longer available")
		return
	}
	w.Header().Set("Content-Type", "video/mp4")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filepath.Base(info.OutputPath)))
	http.ServeFile(w, r, info.OutputPath)
}

func queryInt(r *http.Request, key string, fallback int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
