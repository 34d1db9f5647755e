package analysis

import "math"

const (
	MinBPM     = 60.0
	MaxBPM     = 180.0
	DefaultBPM = 120.0

	// 分析窗口，也是做自相关的最短时长
	tempoWindowSeconds = 3.0
)

// EstimateTempo 对前 3 秒做自相关估计 BPM，lag 覆盖 60-180 BPM。
//
// 不足 3 秒返回 DefaultBPM；静音时相关值始终为 0，结果为最短 lag 即 180 BPM
func EstimateTempo(samples []float32, sampleRate float64) float64 {
	if sampleRate <= 0 {
		return DefaultBPM
	}
	windowSize := int(sampleRate * tempoWindowSeconds)
	if windowSize <= 0 || len(samples) < windowSize {
		return DefaultBPM
	}
	window := samples[:windowSize]

	minLag := int(sampleRate * 60.0 / MaxBPM)
	maxLag := int(sampleRate * 60.0 / MinBPM)
	if minLag < 1 {
		minLag = 1
	}

	bestLag := minLag
	var maxCorrelation float64
	for lag := minLag; lag <= maxLag && lag < len(window); lag++ {
		correlation := autocorrelate(window, lag)
		// 严格大于才替换，相等时保留较短的 lag
		if correlation > maxCorrelation {
			maxCorrelation = correlation
			bestLag = lag
		}
	}

	tempo := 60.0 * sampleRate / float64(bestLag)
	return math.Min(math.Max(tempo, MinBPM), MaxBPM)
}

func autocorrelate(window []float32, lag int) float64 {
	var sum float64
	n := len(window) - lag
	for i := 0; i < n; i++ {
		sum += float64(window[i]) * float64(window[i+lag])
	}
	return sum
}
