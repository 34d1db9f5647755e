package server

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"mvgen/config"
	"mvgen/core/progress"
	"mvgen/core/studio"
	"mvgen/logger"
	"mvgen/storage"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
)

// Server 持有 HTTP 层依赖
type Server struct {
	cfg      *config.Config
	studio   *studio.Studio
	hub      *progress.Hub
	store    *storage.ArtifactStore
	upgrader websocket.Upgrader
}

// New 创建 Server，store 可以为 nil
func New(cfg *config.Config, st *studio.Studio, hub *progress.Hub, store *storage.ArtifactStore) *Server {
	return &Server{
		cfg:    cfg,
		studio: st,
		hub:    hub,
		store:  store,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// Routes 构建路由
func (s *Server) Routes() http.Handler {
	router := mux.NewRouter()

	router.HandleFunc("/healthz", s.HealthHandler).Methods(http.MethodGet)

	api := router.PathPrefix("/api").Subrouter()
	api.Use(s.authMiddleware)

	// 项目
	api.HandleFunc("/projects", s.CreateProjectHandler).Methods(http.MethodPost)
	api.HandleFunc("/projects", s.ListProjectsHandler).Methods(http.MethodGet)
	api.HandleFunc("/projects/{id}", s.GetProjectHandler).Methods(http.MethodGet)
	api.HandleFunc("/projects/{id}", s.DeleteProjectHandler).Methods(http.MethodDelete)
	api.HandleFunc("/projects/{id}/analysis", s.GetAnalysisHandler).Methods(http.MethodGet)

	// 时间线
	api.HandleFunc("/projects/{id}/clips", s.AddClipHandler).Methods(http.MethodPost)
	api.HandleFunc("/projects/{id}/clips/move", s.MoveClipHandler).Methods(http.MethodPost)
	api.HandleFunc("/projects/{id}/clips/{index:[0-9]+}", s.UpdateClipHandler).Methods(http.MethodPut)
	api.HandleFunc("/projects/{id}/clips/{index:[0-9]+}", s.RemoveClipHandler).Methods(http.MethodDelete)

	// 导出
	api.HandleFunc("/projects/{id}/export", s.StartExportHandler).Methods(http.MethodPost)
	api.HandleFunc("/projects/{id}/export", s.ExportStatusHandler).Methods(http.MethodGet)
	api.HandleFunc("/projects/{id}/export", s.CancelExportHandler).Methods(http.MethodDelete)
	api.HandleFunc("/projects/{id}/export/file", s.DownloadExportHandler).Methods(http.MethodGet)

	// WebSocket 进度推送，浏览器无法带 Authorization 头，使用 query token
	router.HandleFunc("/ws/projects/{id}/export", s.ExportProgressWSHandler)

	// 包在路由外层，预检请求不会匹配任何路由
	return corsMiddleware(router)
}

// Start 启动 HTTP 服务并在收到信号后优雅关闭
func (s *Server) Start() error {
	server := &http.Server{
		Addr:         ":" + s.cfg.ServerPort,
		Handler:      s.Routes(),
		ReadTimeout:  5 * time.Minute, // 大文件上传
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  120 * time.Second,
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(stop)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Server starting", logger.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-stop:
	}
	logger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		return err
	}
	logger.Info("Server stopped")
	return nil
}
