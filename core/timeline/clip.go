package timeline

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"github.com/google/uuid"
)

var (
	// 裁剪为负或裁剪总和超过片段时长
	ErrInvalidTrim = errors.New("timeline: invalid trim")
	// 片段时长不是正数
	ErrInvalidDuration = errors.New("timeline: invalid clip duration")
	// 片段缺少媒体路径
	ErrMissingLocator = errors.New("timeline: clip has no media locator")
	// 未知的转场类型
	ErrInvalidTransition = errors.New("timeline: unknown transition")
	// 调色参数超出 [-1, 1]
	ErrInvalidGrade = errors.New("timeline: color grade out of range")
)

// Source 片段素材来源
type Source string

const (
	SourceLocal        Source = "local"
	SourceStockFootage Source = "stockFootage"
	SourceAIGenerated  Source = "aiGenerated"
)

// Clip 时间线上的一个视频片段，起始时间由 Timeline 在每次修改后重新计算
type Clip struct {
	ID               uuid.UUID   `json:"id"`
	MediaLocator     string      `json:"mediaLocator"`
	ThumbnailLocator string      `json:"thumbnailLocator,omitempty"`
	Duration         float64     `json:"duration"`
	TrimStart        float64     `json:"trimStart"`
	TrimEnd          float64     `json:"trimEnd"`
	Transition       Transition  `json:"transition"`
	ColorGrade       *ColorGrade `json:"colorGrade,omitempty"`
	Tags             []string    `json:"tags"`
	Source           Source      `json:"source"`

	startTime float64
}

// NewClip 创建未裁剪、默认转场的新片段
func NewClip(mediaLocator string, duration float64, tags ...string) (Clip, error) {
	c := Clip{
		ID:           uuid.New(),
		MediaLocator: mediaLocator,
		Duration:     duration,
		Transition:   DefaultTransition,
		Tags:         append([]string{}, tags...),
		Source:       SourceLocal,
	}
	if err := c.Validate(); err != nil {
		return Clip{}, err
	}
	return c, nil
}

// StartTime 片段在成片中的起始时间
func (c Clip) StartTime() float64 { return c.startTime }

// EffectiveDuration 裁剪后的有效时长
func (c Clip) EffectiveDuration() float64 {
	return c.Duration - c.TrimStart - c.TrimEnd
}

// SourceRange 在源素材中播放的区间 [start, end)
func (c Clip) SourceRange() (start, end float64) {
	return c.TrimStart, c.Duration - c.TrimEnd
}

// Validate 校验片段：裁剪非负且总和不超过时长，转场类型已知，调色参数在 [-1, 1] 内
func (c Clip) Validate() error {
	if c.MediaLocator == "" {
		return ErrMissingLocator
	}
	if math.IsNaN(c.Duration) || math.IsInf(c.Duration, 0) || c.Duration <= 0 {
		return fmt.Errorf("%w: %v", ErrInvalidDuration, c.Duration)
	}
	if math.IsNaN(c.TrimStart) || math.IsNaN(c.TrimEnd) || c.TrimStart < 0 || c.TrimEnd < 0 {
		return fmt.Errorf("%w: trimStart=%v trimEnd=%v", ErrInvalidTrim, c.TrimStart, c.TrimEnd)
	}
	if c.TrimStart+c.TrimEnd > c.Duration {
		return fmt.Errorf("%w: trims %v+%v exceed duration %v", ErrInvalidTrim, c.TrimStart, c.TrimEnd, c.Duration)
	}
	if !c.Transition.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidTransition, c.Transition)
	}
	if c.ColorGrade != nil && !c.ColorGrade.InRange() {
		g := c.ColorGrade
		return fmt.Errorf("%w: brightness=%v contrast=%v saturation=%v temperature=%v",
			ErrInvalidGrade, g.Brightness, g.Contrast, g.Saturation, g.Temperature)
	}
	return nil
}

// clone 深拷贝，不共享可变字段
func (c Clip) clone() Clip {
	out := c
	if c.ColorGrade != nil {
		g := *c.ColorGrade
		if g.Preset != nil {
			p := *g.Preset
			g.Preset = &p
		}
		out.ColorGrade = &g
	}
	if c.Tags != nil {
		out.Tags = append([]string{}, c.Tags...)
	}
	return out
}

type clipAlias Clip

type clipJSON struct {
	clipAlias
	StartTime float64 `json:"startTime"`
}

func (c Clip) MarshalJSON() ([]byte, error) {
	w := clipJSON{clipAlias: clipAlias(c), StartTime: c.startTime}
	if w.Tags == nil {
		w.Tags = []string{}
	}
	return json.Marshal(w)
}

// UnmarshalJSON 忽略 startTime，由 Timeline 重新推导
func (c *Clip) UnmarshalJSON(data []byte) error {
	var w clipAlias
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	if w.Transition == "" {
		w.Transition = DefaultTransition
	}
	if w.Source == "" {
		w.Source = SourceLocal
	}
	if w.ID == uuid.Nil {
		w.ID = uuid.New()
	}
	w.startTime = 0
	*c = Clip(w)
	return nil
}
