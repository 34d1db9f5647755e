package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"mvgen/core/analysis"
	"mvgen/core/project"
	"mvgen/core/timeline"
)

// ClipList 时间线片段，以 JSON 存储
type ClipList []timeline.Clip

// Scan 实现 sql.Scanner 接口
func (c *ClipList) Scan(value interface{}) error {
	bytes, ok := jsonBytes(value)
	if !ok {
		*c = nil
		return nil
	}
	return json.Unmarshal(bytes, c)
}

// Value 实现 driver.Valuer 接口
func (c ClipList) Value() (driver.Value, error) {
	if c == nil {
		return "[]", nil
	}
	b, err := json.Marshal(c)
	return string(b), err
}

// StringList 字符串数组 JSON 字段
type StringList []string

func (s *StringList) Scan(value interface{}) error {
	bytes, ok := jsonBytes(value)
	if !ok {
		*s = nil
		return nil
	}
	return json.Unmarshal(bytes, s)
}

func (s StringList) Value() (driver.Value, error) {
	if s == nil {
		return "[]", nil
	}
	b, err := json.Marshal(s)
	return string(b), err
}

// AnalysisColumn 音频分析结果 JSON 字段，可为空
type AnalysisColumn struct {
	Analysis *analysis.Analysis
}

func (a *AnalysisColumn) Scan(value interface{}) error {
	bytes, ok := jsonBytes(value)
	if !ok {
		a.Analysis = nil
		return nil
	}
	var result analysis.Analysis
	if err := json.Unmarshal(bytes, &result); err != nil {
		return err
	}
	a.Analysis = &result
	return nil
}

func (a AnalysisColumn) Value() (driver.Value, error) {
	if a.Analysis == nil {
		return nil, nil
	}
	b, err := json.Marshal(a.Analysis)
	return string(b), err
}

// jsonBytes 统一处理驱动返回的 []byte / string，空值返回 false
func jsonBytes(value interface{}) ([]byte, bool) {
	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return nil, false
	}
	if len(bytes) == 0 || string(bytes) == "null" {
		return nil, false
	}
	return bytes, true
}

// ProjectRecord 项目持久化结构
type ProjectRecord struct {
	ID            string         `json:"id" gorm:"primaryKey;size:36"`
	Name          string         `json:"name" gorm:"size:255"`
	Status        string         `json:"status" gorm:"size:20;index;not null"`
	SongID        string         `json:"songId" gorm:"size:36"`
	SongLocator   string         `json:"songLocator" gorm:"size:1024;not null"`
	SongTitle     string         `json:"songTitle" gorm:"size:255"`
	SongDuration  float64        `json:"songDuration"`
	SongHash      string         `json:"songHash" gorm:"size:64;index"`
	Themes        StringList     `json:"themes" gorm:"type:text"`
	Analysis      AnalysisColumn `json:"-" gorm:"type:longtext"`
	Clips         ClipList       `json:"clips" gorm:"type:longtext"`
	ExportLocator string         `json:"exportLocator" gorm:"size:1024"`
	CreatedAt     time.Time      `json:"createdAt"`
	UpdatedAt     time.Time      `json:"updatedAt"`
}

// TableName 指定表名
func (ProjectRecord) TableName() string {
	return "projects"
}

// ExportRecord 导出任务历史
type ExportRecord struct {
	ID         string     `json:"id" gorm:"primaryKey;size:36"`
	ProjectID  string     `json:"projectId" gorm:"size:36;index;not null"`
	State      string     `json:"state" gorm:"size:20;index"`
	Error      string     `json:"error,omitempty" gorm:"type:text"`
	OutputPath string     `json:"outputPath" gorm:"size:1024"`
	ObjectKey  string     `json:"objectKey,omitempty" gorm:"size:512"`
	Skipped    StringList `json:"skipped" gorm:"type:text"`
	StartedAt  time.Time  `json:"startedAt"`
	FinishedAt *time.Time `json:"finishedAt,omitempty"`
}

// TableName 指定表名
func (ExportRecord) TableName() string {
	return "exports"
}

// NewProjectRecord 由领域对象构造持久化记录
func NewProjectRecord(p *project.Project, songHash string) *ProjectRecord {
	rec := &ProjectRecord{
		ID:            p.ID.String(),
		Name:          p.Name,
		Status:        string(p.Status),
		SongID:        p.Song.ID.String(),
		SongLocator:   p.Song.Locator,
		SongTitle:     p.Song.Title,
		SongDuration:  p.Song.Duration,
		SongHash:      songHash,
		Themes:        StringList(p.Song.Themes),
		Analysis:      AnalysisColumn{Analysis: p.Song.Analysis},
		ExportLocator: p.ExportLocator,
		CreatedAt:     p.CreatedAt,
		UpdatedAt:     p.ModifiedAt,
	}
	if p.Timeline != nil {
		rec.Clips = ClipList(p.Timeline.Snapshot())
	}
	return rec
}

// ToProject 还原领域对象，片段起始时间重新推导
func (r *ProjectRecord) ToProject() (*project.Project, error) {
	id, err := uuid.Parse(r.ID)
	if err != nil {
		return nil, fmt.Errorf("invalid project id %q: %w", r.ID, err)
	}
	songID, err := uuid.Parse(r.SongID)
	if err != nil {
		songID = uuid.New()
	}

	tl, err := timeline.New([]timeline.Clip(r.Clips)...)
	if err != nil {
		return nil, fmt.Errorf("project %s has an invalid timeline: %w", r.ID, err)
	}

	themes := []string(r.Themes)
	if themes == nil {
		themes = []string{}
	}

	return &project.Project{
		ID:   id,
		Name: r.Name,
		Song: project.Song{
			ID:       songID,
			Locator:  r.SongLocator,
			Title:    r.SongTitle,
			Duration: r.SongDuration,
			Analysis: r.Analysis.Analysis,
			Themes:   themes,
		},
		Timeline:      tl,
		Status:        project.Status(r.Status),
		ExportLocator: r.ExportLocator,
		CreatedAt:     r.CreatedAt,
		ModifiedAt:    r.UpdatedAt,
	}, nil
}
