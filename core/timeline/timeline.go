package timeline

import (
	"encoding/json"
	"sync"

	"github.com/google/uuid"

	"mvgen/logger"
)

// Timeline 项目的有序片段列表。修改时构造新切片、重算起始时间后在锁内提交，
// 持有 Snapshot 的读者不会看到修改到一半的状态
type Timeline struct {
	mu    sync.RWMutex
	clips []Clip
}

// New 按顺序创建时间线，每个片段都需通过校验
func New(clips ...Clip) (*Timeline, error) {
	next := make([]Clip, 0, len(clips))
	for _, c := range clips {
		if err := c.Validate(); err != nil {
			return nil, err
		}
		next = append(next, c.clone())
	}
	t := &Timeline{}
	t.commit(next)
	return t, nil
}

// Append 追加到末尾
func (t *Timeline) Append(c Clip) error {
	if err := c.Validate(); err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	next := make([]Clip, 0, len(t.clips)+1)
	next = append(next, t.clips...)
	next = append(next, c.clone())
	t.commit(next)
	return nil
}

// RemoveAt 删除指定位置的片段，越界时返回 false 且不做修改
func (t *Timeline) RemoveAt(index int) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.inRange(index) {
		logger.Warn("timeline remove ignored, index out of range",
			logger.Int("index", index),
			logger.Int("count", len(t.clips)))
		return false
	}

	next := make([]Clip, 0, len(t.clips)-1)
	next = append(next, t.clips[:index]...)
	next = append(next, t.clips[index+1:]...)
	t.commit(next)
	return true
}

// MoveClip 将 from 处的片段移动到 to，两个下标都必须有效
func (t *Timeline) MoveClip(from, to int) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.inRange(from) || !t.inRange(to) {
		logger.Warn("timeline move ignored, index out of range",
			logger.Int("from", from),
			logger.Int("to", to),
			logger.Int("count", len(t.clips)))
		return false
	}

	moved := t.clips[from]
	rest := make([]Clip, 0, len(t.clips))
	rest = append(rest, t.clips[:from]...)
	rest = append(rest, t.clips[from+1:]...)

	next := make([]Clip, 0, len(t.clips))
	next = append(next, rest[:to]...)
	next = append(next, moved)
	next = append(next, rest[to:]...)
	t.commit(next)
	return true
}

// UpdateAt 替换指定位置的片段，新片段没有 ID 时沿用原 ID；越界返回 false 且无错误
func (t *Timeline) UpdateAt(index int, c Clip) (bool, error) {
	if err := c.Validate(); err != nil {
		return false, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.inRange(index) {
		logger.Warn("timeline update ignored, index out of range",
			logger.Int("index", index),
			logger.Int("count", len(t.clips)))
		return false, nil
	}

	replacement := c.clone()
	if replacement.ID == uuid.Nil {
		replacement.ID = t.clips[index].ID
	}

	next := make([]Clip, len(t.clips))
	copy(next, t.clips)
	next[index] = replacement
	t.commit(next)
	return true, nil
}

// Snapshot 返回带起始时间的独立副本
func (t *Timeline) Snapshot() []Clip {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]Clip, len(t.clips))
	for i, c := range t.clips {
		out[i] = c.clone()
	}
	return out
}

// At 返回指定位置片段的副本
func (t *Timeline) At(index int) (Clip, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if !t.inRange(index) {
		return Clip{}, false
	}
	return t.clips[index].clone(), true
}

func (t *Timeline) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.clips)
}

// TotalDuration 有效时长之和
func (t *Timeline) TotalDuration() float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var total float64
	for _, c := range t.clips {
		total += c.EffectiveDuration()
	}
	return total
}

func (t *Timeline) inRange(index int) bool {
	return index >= 0 && index < len(t.clips)
}

// commit 从左到右计算起始时间并提交，调用方需持有写锁或独占 t
func (t *Timeline) commit(next []Clip) {
	var current float64
	for i := range next {
		next[i].startTime = current
		current += next[i].EffectiveDuration()
	}
	t.clips = next
}

func (t *Timeline) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.Snapshot())
}

func (t *Timeline) UnmarshalJSON(data []byte) error {
	var clips []Clip
	if err := json.Unmarshal(data, &clips); err != nil {
		return err
	}
	for _, c := range clips {
		if err := c.Validate(); err != nil {
			return err
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.commit(clips)
	return nil
}
