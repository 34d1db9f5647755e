package progress

import (
	"encoding/json"
	"sync"
	"time"

	"mvgen/logger"
)

// EventType 导出事件类型
type EventType string

const (
	EventProgress EventType = "progress" // 渲染进度
	EventState    EventType = "state"    // 任务状态变化
	EventSkipped  EventType = "skipped"  // 片段被跳过
)

// Event 推送给订阅者的导出事件
type Event struct {
	Type      EventType `json:"type"`
	ProjectID string    `json:"projectId"`
	JobID     string    `json:"jobId,omitempty"`
	Progress  float64   `json:"progress"`
	State     string    `json:"state,omitempty"`
	Status    string    `json:"status,omitempty"`
	Error     string    `json:"error,omitempty"`
	Output    string    `json:"output,omitempty"`
	ClipIDs   []string  `json:"clipIds,omitempty"`
	Timestamp int64     `json:"timestamp"`
}

// Subscriber 单个订阅者，Send 缓冲区满时会被移除
type Subscriber struct {
	Topic string
	Send  chan []byte
	hub   *Hub
}

// Close 取消订阅
func (s *Subscriber) Close() {
	s.hub.Unsubscribe(s)
}

type broadcast struct {
	topic   string
	payload []byte
}

// Hub 按项目分发导出事件
type Hub struct {
	topics map[string]map[*Subscriber]bool

	register   chan *Subscriber
	unregister chan *Subscriber
	broadcast  chan broadcast

	mu      sync.RWMutex
	done    chan struct{}
	stopped sync.Once
}

// NewHub 创建 Hub，调用方需要启动 Run
func NewHub() *Hub {
	return &Hub{
		topics:     make(map[string]map[*Subscriber]bool),
		register:   make(chan *Subscriber),
		unregister: make(chan *Subscriber),
		broadcast:  make(chan broadcast, 256),
		done:       make(chan struct{}),
	}
}

// Run 启动 Hub 主循环
func (h *Hub) Run() {
	for {
		select {
		case s := <-h.register:
			h.add(s)
		case s := <-h.unregister:
			h.remove(s)
		case msg := <-h.broadcast:
			h.fanOut(msg)
		case <-h.done:
			h.cleanup()
			return
		}
	}
}

// Stop 停止 Hub 并关闭所有订阅
func (h *Hub) Stop() {
	h.stopped.Do(func() { close(h.done) })
}

// Subscribe 订阅某个项目的事件
func (h *Hub) Subscribe(topic string, buffer int) *Subscriber {
	if buffer <= 0 {
		buffer = 16
	}
	s := &Subscriber{Topic: topic, Send: make(chan []byte, buffer), hub: h}
	select {
	case h.register <- s:
	case <-h.done:
		close(s.Send)
	}
	return s
}

// Unsubscribe 取消订阅，可重复调用
func (h *Hub) Unsubscribe(s *Subscriber) {
	select {
	case h.unregister <- s:
	case <-h.done:
	}
}

// Publish 发布事件，Hub 停止后静默丢弃
func (h *Hub) Publish(e Event) {
	if e.Timestamp == 0 {
		e.Timestamp = time.Now().UnixMilli()
	}
	payload, err := json.Marshal(e)
	if err != nil {
		logger.Error("failed to marshal progress event", logger.ErrorField(err))
		return
	}

	select {
	case h.broadcast <- broadcast{topic: e.ProjectID, payload: payload}:
	case <-h.done:
	}
}

// Subscribers 返回某个项目当前的订阅数
func (h *Hub) Subscribers(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.topics[topic])
}

func (h *Hub) add(s *Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.topics[s.Topic] == nil {
		h.topics[s.Topic] = make(map[*Subscriber]bool)
	}
	h.topics[s.Topic][s] = true

	logger.Debug("progress subscriber registered", logger.String("topic", s.Topic))
}

func (h *Hub) remove(s *Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(s)
}

// removeLocked 需要持有写锁
func (h *Hub) removeLocked(s *Subscriber) {
	subs, ok := h.topics[s.Topic]
	if !ok || !subs[s] {
		return
	}
	delete(subs, s)
	close(s.Send)
	if len(subs) == 0 {
		delete(h.topics, s.Topic)
	}
}

func (h *Hub) fanOut(msg broadcast) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for s := range h.topics[msg.topic] {
		select {
		case s.Send <- msg.payload:
		default:
			// 慢订阅者直接移除
			logger.Warn("dropping slow progress subscriber", logger.String("topic", msg.topic))
			h.removeLocked(s)
		}
	}
}

func (h *Hub) cleanup() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, subs := range h.topics {
		for s := range subs {
			close(s.Send)
		}
	}
	h.topics = make(map[string]map[*Subscriber]bool)
}
