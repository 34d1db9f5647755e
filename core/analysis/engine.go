package analysis

import (
	"fmt"
	"time"

	"mvgen/logger"
)

// Engine 将 PCM 采样分析为 Analysis，无调用间状态，可并发使用
type Engine struct {
	workers int
}

// NewEngine workers <= 0 时按 CPU 核数并发计算分段
func NewEngine(workers int) *Engine {
	return &Engine{workers: workers}
}

// Analyze 计算整首歌及每个分段的特征
func (e *Engine) Analyze(samples []float32, sampleRate, duration float64) (*Analysis, error) {
	if len(samples) == 0 {
		return nil, ErrEmptySamples
	}
	if sampleRate <= 0 {
		return nil, fmt.Errorf("%w: sample rate %v", ErrInvalidFormat, sampleRate)
	}
	if duration <= 0 {
		duration = float64(len(samples)) / sampleRate
	}

	started := time.Now()

	tempo := EstimateTempo(samples, sampleRate)
	energy := Energy(samples)
	result := &Analysis{
		tempo:    tempo,
		energy:   energy,
		loudness: LoudnessFromEnergy(energy),
		mood:     ClassifyMood(tempo, energy),
		segments: segmentParallel(samples, duration, sampleRate, e.workers),
	}

	if _, matched := classify(tempo, energy); !matched {
		logger.Warn("mood table had no rule for track, using fallback",
			logger.Float64("tempo", tempo),
			logger.Float64("energy", energy),
			logger.String("mood", string(FallbackMood)))
	}

	logger.Info("audio analysis complete",
		logger.Float64("tempo", result.tempo),
		logger.Float64("energy", result.energy),
		logger.Float64("loudness", result.loudness),
		logger.String("mood", string(result.mood)),
		logger.Int("segments", len(result.segments)),
		logger.Duration("elapsed", time.Since(started)))

	return result, nil
}
