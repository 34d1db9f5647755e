package timeline

import (
	"encoding/json"
	"fmt"
	"math"
)

// ColorPreset 调色预设
type ColorPreset string

const (
	PresetNone          ColorPreset = "none"
	PresetVintage       ColorPreset = "vintage"
	PresetCinematic     ColorPreset = "cinematic"
	PresetVibrant       ColorPreset = "vibrant"
	PresetBlackAndWhite ColorPreset = "blackAndWhite"
	PresetCool          ColorPreset = "cool"
	PresetWarm          ColorPreset = "warm"
	PresetDramatic      ColorPreset = "dramatic"
)

// ColorGrade 片段调色参数，取值 [-1, 1]，色温 -1 为冷、1 为暖
type ColorGrade struct {
	Brightness  float64      `json:"brightness"`
	Contrast    float64      `json:"contrast"`
	Saturation  float64      `json:"saturation"`
	Temperature float64      `json:"temperature"`
	Preset      *ColorPreset `json:"preset,omitempty"`
}

var presetGrades = map[ColorPreset][4]float64{
	PresetNone:          {0, 0, 0, 0},
	PresetVintage:       {-0.1, 0.2, -0.3, 0.3},
	PresetCinematic:     {-0.15, 0.3, -0.1, -0.1},
	PresetVibrant:       {0.1, 0.2, 0.5, 0},
	PresetBlackAndWhite: {0, 0.3, -1, 0},
	PresetCool:          {0, 0.1, 0, -0.4},
	PresetWarm:          {0.1, 0, 0.2, 0.5},
	PresetDramatic:      {-0.2, 0.5, 0.2, -0.2},
}

// AllPresets 按展示顺序列出预设
var AllPresets = []ColorPreset{
	PresetNone, PresetVintage, PresetCinematic, PresetVibrant,
	PresetBlackAndWhite, PresetCool, PresetWarm, PresetDramatic,
}

func (p ColorPreset) Valid() bool {
	_, ok := presetGrades[p]
	return ok
}

func (p *ColorPreset) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if !ColorPreset(s).Valid() {
		return fmt.Errorf("unknown color preset %q", s)
	}
	*p = ColorPreset(s)
	return nil
}

// Grade 返回预设对应的调色参数
func (p ColorPreset) Grade() ColorGrade {
	g := ColorGrade{}
	g.ApplyPreset(p)
	return g
}

// ApplyPreset 用预设值整体覆盖四个参数并记录预设，未知预设不做修改
func (g *ColorGrade) ApplyPreset(p ColorPreset) {
	v, ok := presetGrades[p]
	if !ok {
		return
	}
	preset := p
	*g = ColorGrade{
		Brightness:  v[0],
		Contrast:    v[1],
		Saturation:  v[2],
		Temperature: v[3],
		Preset:      &preset,
	}
}

// Clamp 将参数限制在 [-1, 1]，NaN 置 0
func (g *ColorGrade) Clamp() {
	g.Brightness = clampUnit(g.Brightness)
	g.Contrast = clampUnit(g.Contrast)
	g.Saturation = clampUnit(g.Saturation)
	g.Temperature = clampUnit(g.Temperature)
}

// InRange 所有参数都在 [-1, 1] 内
func (g ColorGrade) InRange() bool {
	for _, v := range [4]float64{g.Brightness, g.Contrast, g.Saturation, g.Temperature} {
		if math.IsNaN(v) || v < -1 || v > 1 {
			return false
		}
	}
	return true
}

// IsNeutral 参数全为 0，不产生效果
func (g ColorGrade) IsNeutral() bool {
	return g.Brightness == 0 && g.Contrast == 0 && g.Saturation == 0 && g.Temperature == 0
}

func clampUnit(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(-1, math.Min(1, v))
}
