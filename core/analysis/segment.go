package analysis

import (
	"math"
	"runtime"
	"sync"
)

// SegmentSeconds 分段窗口长度（秒）
const SegmentSeconds = 10.0

// SegmentWindows 按 10 秒切分并计算每段特征
func SegmentWindows(samples []float32, duration, sampleRate float64) []Segment {
	return segmentParallel(samples, duration, sampleRate, 1)
}

type segmentTask struct {
	index int
	slice []float32
}

// segmentParallel 使用 worker 池并行计算，每段只读自己的切片，结果与顺序计算一致
func segmentParallel(samples []float32, duration, sampleRate float64, workers int) []Segment {
	if sampleRate <= 0 || duration <= 0 || len(samples) == 0 {
		return []Segment{}
	}

	count := int(math.Ceil(duration / SegmentSeconds))
	perWindow := int(sampleRate * SegmentSeconds)
	if perWindow <= 0 {
		return []Segment{}
	}

	tasks := make([]segmentTask, 0, count)
	for i := 0; i < count; i++ {
		start := i * perWindow
		if start >= len(samples) {
			break // no trailing empty segments
		}
		end := min(start+perWindow, len(samples))
		tasks = append(tasks, segmentTask{index: i, slice: samples[start:end]})
	}

	segments := make([]Segment, len(tasks))
	measure := func(t segmentTask) {
		startTime := float64(t.index) * SegmentSeconds
		energy := Energy(t.slice)
		segments[t.index] = Segment{
			startTime: startTime,
			duration:  math.Min(SegmentSeconds, duration-startTime),
			tempo:     EstimateTempo(t.slice, sampleRate),
			energy:    energy,
			loudness:  LoudnessFromEnergy(energy),
		}
	}

	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if workers == 1 || len(tasks) <= 1 {
		for _, t := range tasks {
			measure(t)
		}
		return segments
	}

	taskChan := make(chan segmentTask)
	var wg sync.WaitGroup
	for i := 0; i < min(workers, len(tasks)); i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for t := range taskChan {
				measure(t)
			}
		}()
	}
	for _, t := range tasks {
		taskChan <- t
	}
	close(taskChan)
	wg.Wait()

	return segments
}
