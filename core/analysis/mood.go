package analysis

import (
	"encoding/json"
	"fmt"
	"math"
)

// Mood 情绪分类，共八种
type Mood string

const (
	MoodHappy       Mood = "happy"
	MoodSad         Mood = "sad"
	MoodEnergetic   Mood = "energetic"
	MoodCalm        Mood = "calm"
	MoodIntense     Mood = "intense"
	MoodMelancholic Mood = "melancholic"
	MoodUplifting   Mood = "uplifting"
	MoodDark        Mood = "dark"
)

// AllMoods 按声明顺序列出全部情绪
var AllMoods = []Mood{
	MoodHappy, MoodSad, MoodEnergetic, MoodCalm,
	MoodIntense, MoodMelancholic, MoodUplifting, MoodDark,
}

// FallbackMood 没有规则命中时使用
const FallbackMood = MoodHappy

func (m Mood) Valid() bool {
	for _, known := range AllMoods {
		if m == known {
			return true
		}
	}
	return false
}

func (m *Mood) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if !Mood(s).Valid() {
		return fmt.Errorf("unknown mood %q", s)
	}
	*m = Mood(s)
	return nil
}

// span 默认左闭右开 [lo, hi)，closed 时为 [lo, hi]；any 匹配任意值（含 NaN）
type span struct {
	lo, hi float64
	closed bool
	any    bool
}

func (s span) contains(v float64) bool {
	if s.any {
		return true
	}
	if v < s.lo {
		return false
	}
	if s.closed {
		return v <= s.hi
	}
	return v < s.hi
}

func half(lo, hi float64) span   { return span{lo: lo, hi: hi} }
func closed(lo, hi float64) span { return span{lo: lo, hi: hi, closed: true} }

var anyValue = span{any: true}

type moodRule struct {
	tempo  span
	energy span
	mood   func(energy float64) Mood
}

func fixed(m Mood) func(float64) Mood {
	return func(float64) Mood { return m }
}

var moodRules = []moodRule{
	{half(0, 80), half(0, 0.3), fixed(MoodSad)},
	{half(0, 80), half(0.3, 0.6), fixed(MoodCalm)},
	{half(0, 80), closed(0.6, 1.0), fixed(MoodMelancholic)},
	{half(80, 120), half(0, 0.3), fixed(MoodCalm)},
	{half(80, 120), half(0.3, 0.6), fixed(MoodUplifting)},
	{half(80, 120), closed(0.6, 1.0), fixed(MoodHappy)},
	{half(120, 160), half(0, 0.5), fixed(MoodUplifting)},
	{half(120, 160), closed(0.5, 1.0), fixed(MoodEnergetic)},
	{closed(160, math.Inf(1)), anyValue, func(energy float64) Mood {
		if energy > 0.7 {
			return MoodIntense
		}
		return MoodEnergetic
	}},
}

// ClassifyMood 按规则表将节奏与能量映射为情绪
func ClassifyMood(tempo, energy float64) Mood {
	m, _ := classify(tempo, energy)
	return m
}

// classify 同时返回是否命中规则
func classify(tempo, energy float64) (Mood, bool) {
	for _, r := range moodRules {
		if r.tempo.contains(tempo) && r.energy.contains(energy) {
			return r.mood(energy), true
		}
	}
	return FallbackMood, false
}
