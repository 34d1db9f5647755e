package compose

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// State 合成任务状态
type State int

const (
	StateIdle State = iota
	StateComposing
	StateCompleted
	StateFailed
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateComposing:
		return "composing"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	case StateCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// IsTerminal 是否为终态
func (s State) IsTerminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateCancelled
}

// Job 一次合成任务，方法均可并发调用
type Job struct {
	ID         uuid.UUID
	OutputPath string
	StartedAt  time.Time

	mu         sync.Mutex
	state      State
	err        error
	progress   float64
	skipped    []uuid.UUID
	finishedAt time.Time

	cancel context.CancelFunc
	done   chan struct{}
}

func newJob(outputPath string, cancel context.CancelFunc) *Job {
	return &Job{
		ID:         uuid.New(),
		OutputPath: outputPath,
		StartedAt:  time.Now(),
		state:      StateIdle,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
}

func (j *Job) State() State {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.state
}

// Err 失败或取消前为 nil
func (j *Job) Err() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.err
}

// Progress 最近一次回调的进度
func (j *Job) Progress() float64 {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.progress
}

// Skipped 被跳过的片段
func (j *Job) Skipped() []uuid.UUID {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]uuid.UUID(nil), j.skipped...)
}

func (j *Job) FinishedAt() time.Time {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.finishedAt
}

// Done 进入终态后关闭
func (j *Job) Done() <-chan struct{} { return j.done }

// Cancel 请求停止，已结束的任务无影响
func (j *Job) Cancel() {
	j.cancel()
}

// Wait 等待任务结束或 ctx 结束
func (j *Job) Wait(ctx context.Context) error {
	select {
	case <-j.done:
		return j.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (j *Job) setState(s State) bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.state.IsTerminal() {
		return false
	}
	j.state = s
	return true
}

func (j *Job) setProgress(v float64) {
	j.mu.Lock()
	j.progress = v
	j.mu.Unlock()
}

func (j *Job) setSkipped(ids []uuid.UUID) {
	j.mu.Lock()
	j.skipped = ids
	j.mu.Unlock()
}

// finish 设置终态并只关闭一次 Done
func (j *Job) finish(s State, err error) {
	j.mu.Lock()
	if j.state.IsTerminal() {
		j.mu.Unlock()
		return
	}
	j.state = s
	j.err = err
	j.finishedAt = time.Now()
	j.mu.Unlock()

	j.cancel()
	close(j.done)
}
