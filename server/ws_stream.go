package server

import (
	"encoding/json"
	"net/http"
	"time"

	"mvgen/core/progress"
	"mvgen/logger"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
)

const (
	// WebSocket 配置
	writeWait        = 10 * time.Second
	pongWait         = 60 * time.Second
	pingPeriod       = (pongWait * 9) / 10 // 必须小于 pongWait
	maxMessageSize   = 512
	subscriberBuffer = 64
)

// ExportProgressWSHandler 推送某个项目的导出进度
func (s *Server) ExportProgressWSHandler(w http.ResponseWriter, r *http.Request) {
	if !s.checkQueryToken(r) {
		writeError(w, http.StatusUnauthorized, "Invalid token")
		return
	}

	projectID := mux.Vars(r)["id"]
	if _, err := s.studio.Get(r.Context(), projectID); err != nil {
		s.fail(w, r, err)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Error("websocket upgrade failed", logger.ErrorField(err))
		return
	}

	sub := s.hub.Subscribe(projectID, subscriberBuffer)
	logger.Debug("progress websocket connected", logger.String("projectId", projectID))

	// 先推送当前状态快照
	if info, err := s.studio.ExportStatus(r.Context(), projectID); err == nil {
		snapshot, _ := json.Marshal(progress.Event{
			Type:      progress.EventState,
			ProjectID: projectID,
			JobID:     info.JobID,
			Progress:  info.Progress,
			State:     info.State,
			Error:     info.Error,
			Timestamp: time.Now().UnixMilli(),
		})
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteMessage(websocket.TextMessage, snapshot); err != nil {
			sub.Close()
			conn.Close()
			return
		}
	}

	go writePump(conn, sub)
	readPump(conn, sub)
}

// readPump 只处理控制帧，连接断开时取消订阅
func readPump(conn *websocket.Conn, sub *progress.Subscriber) {
	defer sub.Close()

	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				logger.Warn("progress websocket unexpected close", logger.ErrorField(err))
			}
			return
		}
	}
}

// writePump 转发 Hub 消息并定期 ping
func writePump(conn *websocket.Conn, sub *progress.Subscriber) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case message, ok := <-sub.Send:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Hub 关闭了通道
				conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
