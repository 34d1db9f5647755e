package analysis

import (
	"encoding/json"
	"errors"
)

var (
	// 音频源无法读取
	ErrLoadFailed = errors.New("analysis: failed to load audio")
	// 解码结果没有采样
	ErrEmptySamples = errors.New("analysis: audio produced no samples")
	// 不是可解码的音频格式
	ErrInvalidFormat = errors.New("analysis: invalid audio format")
)

// Segment 歌曲中的一个定长分段，生成后不可修改
type Segment struct {
	startTime float64
	duration  float64
	tempo     float64
	energy    float64
	loudness  float64
}

func (s Segment) StartTime() float64 { return s.startTime }
func (s Segment) Duration() float64  { return s.duration }
func (s Segment) Tempo() float64     { return s.tempo }
func (s Segment) Energy() float64    { return s.energy }
func (s Segment) Loudness() float64  { return s.loudness }

// End 分段结束时间（不含）
func (s Segment) End() float64 { return s.startTime + s.duration }

type segmentJSON struct {
	StartTime float64 `json:"startTime"`
	Duration  float64 `json:"duration"`
	Tempo     float64 `json:"tempo"`
	Energy    float64 `json:"energy"`
	Loudness  float64 `json:"loudness"`
}

func (s Segment) MarshalJSON() ([]byte, error) {
	return json.Marshal(segmentJSON{s.startTime, s.duration, s.tempo, s.energy, s.loudness})
}

func (s *Segment) UnmarshalJSON(data []byte) error {
	var w segmentJSON
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*s = Segment{w.StartTime, w.Duration, w.Tempo, w.Energy, w.Loudness}
	return nil
}

// Analysis 单个音频的分析结果，只读
type Analysis struct {
	tempo    float64
	energy   float64
	loudness float64
	mood     Mood
	segments []Segment
}

func (a *Analysis) Tempo() float64    { return a.tempo }
func (a *Analysis) Energy() float64   { return a.energy }
func (a *Analysis) Loudness() float64 { return a.loudness }
func (a *Analysis) Mood() Mood        { return a.mood }

// Segments 返回按时间排序的分段副本
func (a *Analysis) Segments() []Segment {
	out := make([]Segment, len(a.segments))
	copy(out, a.segments)
	return out
}

// Duration 分段覆盖的总时长
func (a *Analysis) Duration() float64 {
	if len(a.segments) == 0 {
		return 0
	}
	return a.segments[len(a.segments)-1].End()
}

type analysisJSON struct {
	Tempo    float64   `json:"tempo"`
	Energy   float64   `json:"energy"`
	Loudness float64   `json:"loudness"`
	Mood     Mood      `json:"mood"`
	Segments []Segment `json:"segments"`
}

func (a *Analysis) MarshalJSON() ([]byte, error) {
	segments := a.segments
	if segments == nil {
		segments = []Segment{}
	}
	return json.Marshal(analysisJSON{a.tempo, a.energy, a.loudness, a.mood, segments})
}

func (a *Analysis) UnmarshalJSON(data []byte) error {
	var w analysisJSON
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*a = Analysis{w.Tempo, w.Energy, w.Loudness, w.Mood, w.Segments}
	return nil
}
