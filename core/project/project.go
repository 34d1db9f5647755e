package project

import (
	"time"

	"github.com/google/uuid"

	"mvgen/core/analysis"
	"mvgen/core/timeline"
)

// Status 项目状态
type Status string

const (
	StatusAnalyzing     Status = "analyzing"
	StatusFetchingMedia Status = "fetchingMedia"
	StatusReady         Status = "ready"
	StatusExporting     Status = "exporting"
	StatusCompleted     Status = "completed"
	StatusFailed        Status = "failed"
)

func (s Status) Valid() bool {
	switch s {
	case StatusAnalyzing, StatusFetchingMedia, StatusReady,
		StatusExporting, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// Editable 当前状态是否允许编辑时间线
func (s Status) Editable() bool {
	return s != StatusExporting && s != StatusAnalyzing
}

// Song 项目使用的歌曲
type Song struct {
	ID       uuid.UUID          `json:"id"`
	Locator  string             `json:"locator"`
	Title    string             `json:"title"`
	Duration float64            `json:"duration"`
	Analysis *analysis.Analysis `json:"analysis,omitempty"`
	Themes   []string           `json:"themes"`
}

// Project 歌曲、时间线与导出状态
type Project struct {
	ID            uuid.UUID          `json:"id"`
	Name          string             `json:"name"`
	Song          Song               `json:"song"`
	Timeline      *timeline.Timeline `json:"clips"`
	Status        Status             `json:"status"`
	ExportLocator string             `json:"exportLocator,omitempty"`
	CreatedAt     time.Time          `json:"createdAt"`
	ModifiedAt    time.Time          `json:"modifiedAt"`
}

// New 创建空项目，初始状态为 analyzing
func New(name string, song Song) *Project {
	now := time.Now()
	if song.ID == uuid.Nil {
		song.ID = uuid.New()
	}
	if song.Themes == nil {
		song.Themes = []string{}
	}
	tl, _ := timeline.New()
	return &Project{
		ID:         uuid.New(),
		Name:       name,
		Song:       song,
		Timeline:   tl,
		Status:     StatusAnalyzing,
		CreatedAt:  now,
		ModifiedAt: now,
	}
}

// TotalDuration 时间线总时长
func (p *Project) TotalDuration() float64 {
	if p.Timeline == nil {
		return 0
	}
	return p.Timeline.TotalDuration()
}

// Touch 更新修改时间
func (p *Project) Touch() {
	p.ModifiedAt = time.Now()
}

// SetStatus 修改状态并更新修改时间
func (p *Project) SetStatus(s Status) {
	p.Status = s
	p.Touch()
}
