package pcm

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"mvgen/core/analysis"
	"mvgen/logger"
)

// Buffer 解码后的单声道音频，采样归一化到 [-1, 1]
type Buffer struct {
	Samples    []float32
	SampleRate float64
	Duration   float64
}

// Decoder 将音频路径解码为 PCM
type Decoder interface {
	Decode(ctx context.Context, locator string) (*Buffer, error)
}

// AutoDecoder 按扩展名选择解码器：WAV 与 MP3 进程内解码，其余格式交给 ffmpeg
type AutoDecoder struct {
	wav    Decoder
	mp3    Decoder
	ffmpeg Decoder
}

// NewAutoDecoder ffmpegPath 为空时不启用 ffmpeg 兜底
func NewAutoDecoder(ffmpegPath string) *AutoDecoder {
	d := &AutoDecoder{
		wav: &WAVDecoder{},
		mp3: &MP3Decoder{},
	}
	if ffmpegPath != "" {
		d.ffmpeg = NewFFmpegDecoder(ffmpegPath, 0)
	}
	return d
}

func (d *AutoDecoder) Decode(ctx context.Context, locator string) (*Buffer, error) {
	ext := strings.ToLower(filepath.Ext(locator))

	var primary Decoder
	switch ext {
	case ".wav", ".wave":
		primary = d.wav
	case ".mp3":
		primary = d.mp3
	default:
		if d.ffmpeg == nil {
			return nil, fmt.Errorf("%w: unsupported extension %q", analysis.ErrInvalidFormat, ext)
		}
		return d.ffmpeg.Decode(ctx, locator)
	}

	buf, err := primary.Decode(ctx, locator)
	if err == nil || d.ffmpeg == nil || ctx.Err() != nil {
		return buf, err
	}

	logger.Warn("native decode failed, retrying with ffmpeg",
		logger.String("locator", locator),
		logger.ErrorField(err))
	return d.ffmpeg.Decode(ctx, locator)
}

// newBuffer 空结果返回 ErrEmptySamples
func newBuffer(samples []float32, sampleRate float64) (*Buffer, error) {
	if len(samples) == 0 {
		return nil, analysis.ErrEmptySamples
	}
	if sampleRate <= 0 {
		return nil, fmt.Errorf("%w: sample rate %v", analysis.ErrInvalidFormat, sampleRate)
	}
	return &Buffer{
		Samples:    samples,
		SampleRate: sampleRate,
		Duration:   float64(len(samples)) / sampleRate,
	}, nil
}

// downmix 交错多声道取平均混为单声道，整数采样除以 scale
func downmix(data []int, channels int, scale float64) []float32 {
	if channels <= 0 {
		channels = 1
	}
	frames := len(data) / channels
	out := make([]float32, frames)
	for f := 0; f < frames; f++ {
		var sum float64
		for c := 0; c < channels; c++ {
			sum += float64(data[f*channels+c])
		}
		out[f] = float32(sum / float64(channels) / scale)
	}
	return out
}
