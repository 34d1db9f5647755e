package project

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"mvgen/core/timeline"
)

// Manifest `mvgen render` 使用的工程文件，相对路径相对于工程文件所在目录
//
//	name: night drive
//	song: audio/drive.mp3
//	clips:
//	  - media: clips/city.mp4
//	    duration: 6
//	    trim_start: 1
//	    transition: dissolve
//	    preset: cinematic
type Manifest struct {
	Name  string         `yaml:"name"`
	Song  string         `yaml:"song"`
	Clips []ManifestClip `yaml:"clips"`

	dir string
}

// ManifestClip 工程文件中的一个片段，设置 preset 时覆盖单独的调色参数
type ManifestClip struct {
	Media       string   `yaml:"media"`
	Duration    float64  `yaml:"duration"`
	TrimStart   float64  `yaml:"trim_start"`
	TrimEnd     float64  `yaml:"trim_end"`
	Transition  string   `yaml:"transition"`
	Preset      string   `yaml:"preset"`
	Brightness  float64  `yaml:"brightness"`
	Contrast    float64  `yaml:"contrast"`
	Saturation  float64  `yaml:"saturation"`
	Temperature float64  `yaml:"temperature"`
	Tags        []string `yaml:"tags"`
}

// LoadManifest 读取并解析 YAML 工程文件
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}
	m, err := ParseManifest(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	m.dir = filepath.Dir(path)
	return m, nil
}

// ParseManifest 只解析内容，不处理路径
func ParseManifest(data []byte) (*Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse manifest: %w", err)
	}
	if m.Song == "" {
		return nil, fmt.Errorf("manifest has no song")
	}
	return &m, nil
}

// SongPath 解析后的歌曲路径
func (m *Manifest) SongPath() string {
	return m.resolve(m.Song)
}

func (m *Manifest) resolve(p string) string {
	if p == "" || filepath.IsAbs(p) || m.dir == "" {
		return p
	}
	return filepath.Join(m.dir, p)
}

// Timeline 根据片段列表构建时间线
func (m *Manifest) Timeline() (*timeline.Timeline, error) {
	clips := make([]timeline.Clip, 0, len(m.Clips))
	for i, mc := range m.Clips {
		c, err := timeline.NewClip(m.resolve(mc.Media), mc.Duration, mc.Tags...)
		if err != nil {
			return nil, fmt.Errorf("clip %d: %w", i, err)
		}
		c.TrimStart = mc.TrimStart
		c.TrimEnd = mc.TrimEnd

		if mc.Transition != "" {
			t := timeline.Transition(mc.Transition)
			if !t.Valid() {
				return nil, fmt.Errorf("clip %d: %w: %q", i, timeline.ErrInvalidTransition, mc.Transition)
			}
			c.Transition = t
		}

		if mc.Preset != "" || mc.Brightness != 0 || mc.Contrast != 0 || mc.Saturation != 0 || mc.Temperature != 0 {
			grade := &timeline.ColorGrade{
				Brightness:  mc.Brightness,
				Contrast:    mc.Contrast,
				Saturation:  mc.Saturation,
				Temperature: mc.Temperature,
			}
			if mc.Preset != "" {
				p := timeline.ColorPreset(mc.Preset)
				if !p.Valid() {
					return nil, fmt.Errorf("clip %d: unknown preset %q", i, mc.Preset)
				}
				grade.ApplyPreset(p)
			}
			c.ColorGrade = grade
		}

		if err := c.Validate(); err != nil {
			return nil, fmt.Errorf("clip %d: %w", i, err)
		}
		clips = append(clips, c)
	}
	return timeline.New(clips...)
}
