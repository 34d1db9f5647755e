package analysis

import "math"

const (
	// 静音时的响度下限
	loudnessFloor = 1e-5
)

// Energy 计算 RMS 能量，限制在 [0, 1]，空输入返回 0
func Energy(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		v := float64(s)
		sum += v * v
	}
	rms := math.Sqrt(sum / float64(len(samples)))
	return math.Min(rms, 1.0)
}

// Loudness 返回 dBFS 响度
func Loudness(samples []float32) float64 {
	return LoudnessFromEnergy(Energy(samples))
}

// LoudnessFromEnergy 能量转分贝，最低 -100 dB
func LoudnessFromEnergy(energy float64) float64 {
	return 20 * math.Log10(math.Max(energy, loudnessFloor))
}
