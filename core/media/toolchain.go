package media

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"

	"mvgen/core/compose"
)

// 歌曲文件中没有音频流
var ErrNoAudioStream = errors.New("media: no audio stream")

// Toolchain 封装 ffmpeg 与 ffprobe，同时实现 compose.MediaSource 与 compose.Renderer
type Toolchain struct {
	ffmpegPath  string
	ffprobePath string
	threads     int
}

var (
	_ compose.MediaSource = (*Toolchain)(nil)
	_ compose.Renderer    = (*Toolchain)(nil)
)

// NewToolchain 查找可执行文件，ffprobePath 为空时根据 ffmpegPath 推导
func NewToolchain(ffmpegPath, ffprobePath string, threads int) (*Toolchain, error) {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	if ffprobePath == "" {
		dir, base := filepath.Split(ffmpegPath)
		ffprobePath = dir + strings.Replace(base, "ffmpeg", "ffprobe", 1)
	}

	resolvedFFmpeg, err := exec.LookPath(ffmpegPath)
	if err != nil {
		return nil, fmt.Errorf("ffmpeg not found: %w", err)
	}
	resolvedFFprobe, err := exec.LookPath(ffprobePath)
	if err != nil {
		return nil, fmt.Errorf("ffprobe not found: %w", err)
	}

	return &Toolchain{
		ffmpegPath:  resolvedFFmpeg,
		ffprobePath: resolvedFFprobe,
		threads:     threads,
	}, nil
}

// FFmpegPath 实际使用的 ffmpeg 路径
func (t *Toolchain) FFmpegPath() string { return t.ffmpegPath }

func (t *Toolchain) LoadVisual(ctx context.Context, locator string) (*compose.Visual, error) {
	info, err := t.Probe(ctx, locator)
	if err != nil {
		return nil, err
	}
	return &compose.Visual{Locator: locator, Duration: info.Duration, HasVideo: info.HasVideo}, nil
}

func (t *Toolchain) LoadAudio(ctx context.Context, locator string) (*compose.Audio, error) {
	info, err := t.Probe(ctx, locator)
	if err != nil {
		return nil, err
	}
	if !info.HasAudio {
		return nil, fmt.Errorf("%w: %s", ErrNoAudioStream, locator)
	}
	if info.Duration <= 0 {
		return nil, fmt.Errorf("unknown duration for %s", locator)
	}
	return &compose.Audio{Locator: locator, Duration: info.Duration}, nil
}
