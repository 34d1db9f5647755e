package pcm

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"mvgen/core/analysis"
)

// DefaultFFmpegRate 未指定时的重采样率
const DefaultFFmpegRate = 44100

// FFmpegDecoder 通过 ffmpeg 解码为单声道 float32 PCM
type FFmpegDecoder struct {
	ffmpegPath string
	sampleRate int
}

func NewFFmpegDecoder(ffmpegPath string, sampleRate int) *FFmpegDecoder {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	if sampleRate <= 0 {
		sampleRate = DefaultFFmpegRate
	}
	return &FFmpegDecoder{ffmpegPath: ffmpegPath, sampleRate: sampleRate}
}

func (d *FFmpegDecoder) Decode(ctx context.Context, locator string) (*Buffer, error) {
	if _, err := os.Stat(locator); err != nil {
		return nil, fmt.Errorf("%w: %v", analysis.ErrLoadFailed, err)
	}

	args := []string{
		"-hide_banner", "-v", "error",
		"-i", locator,
		"-vn",
		"-ac", "1",
		"-ar", strconv.Itoa(d.sampleRate),
		"-f", "f32le",
		"pipe:1",
	}
	cmd := exec.CommandContext(ctx, d.ffmpegPath, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: ffmpeg: %v: %s", analysis.ErrInvalidFormat, err, strings.TrimSpace(stderr.String()))
	}

	samples, err := float32LE(stdout.Bytes())
	if err != nil {
		return nil, err
	}
	return newBuffer(samples, float64(d.sampleRate))
}

func float32LE(raw []byte) ([]float32, error) {
	if len(raw)%4 != 0 {
		return nil, fmt.Errorf("%w: truncated f32le stream (%d bytes)", analysis.ErrLoadFailed, len(raw))
	}
	samples := make([]float32, len(raw)/4)
	for i := range samples {
		samples[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
	}
	return samples, nil
}
