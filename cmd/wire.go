package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"mvgen/cache"
	"mvgen/config"
	"mvgen/core/analysis"
	"mvgen/core/compose"
	"mvgen/core/media"
	"mvgen/core/pcm"
	"mvgen/core/progress"
	"mvgen/core/studio"
	"mvgen/db"
	"mvgen/logger"
	"mvgen/repository"
	"mvgen/storage"
)

// app 组装好的运行时依赖
type app struct {
	studio *studio.Studio
	hub    *progress.Hub
	store  *storage.ArtifactStore
	close  func()
}

// buildApp 连接数据库、缓存、对象存储并创建 Studio
func buildApp(ctx context.Context, cfg *config.Config) (*app, error) {
	toolchain, err := media.NewToolchain(cfg.FFmpegPath, cfg.FFprobePath, 0)
	if err != nil {
		return nil, err
	}

	if err := db.ConnectGormDB(cfg); err != nil {
		return nil, err
	}
	closers := []func(){func() {
		if err := db.CloseGormDB(); err != nil {
			logger.Warn("关闭数据库连接失败", logger.ErrorField(err))
		}
	}}

	var analysisCache cache.AnalysisCache
	if err := cache.ConnectRedis(cfg); err != nil {
		logger.Warn("Redis 不可用，使用进程内分析缓存", logger.ErrorField(err))
		analysisCache = cache.NewMemoryAnalysisCache()
	} else {
		ttl := time.Duration(cfg.CacheTTLHours) * time.Hour
		analysisCache = cache.NewRedisAnalysisCache(cache.RedisClient, ttl)
		closers = append(closers, func() { cache.CloseRedis() })
	}

	hub := progress.NewHub()
	go hub.Run()
	closers = append(closers, hub.Stop)

	opts := []studio.Option{studio.WithCache(analysisCache), studio.WithHub(hub)}

	var store *storage.ArtifactStore
	if cfg.MinioEnabled() {
		store, err = storage.NewMinioStore(ctx, cfg)
		if err != nil {
			logger.Warn("MinIO 不可用，导出文件仅保存在本地", logger.ErrorField(err))
			store = nil
		} else {
			opts = append(opts, studio.WithPublisher(store, storage.ObjectKey))
		}
	}

	composer := compose.NewEngine(toolchain, toolchain, compose.WithOutputDir(cfg.ExportDir))
	st := studio.New(
		pcm.NewAutoDecoder(toolchain.FFmpegPath()),
		analysis.NewEngine(cfg.AnalysisWorkers),
		repository.NewGormProjectRepository(db.GormDB),
		composer,
		opts...,
	)

	return &app{
		studio: st,
		hub:    hub,
		store:  store,
		close: func() {
			for i := len(closers) - 1; i >= 0; i-- {
				closers[i]()
			}
		},
	}, nil
}

// openStore 命令行直接访问对象存储
func openStore(ctx context.Context, cfg *config.Config) (*storage.ArtifactStore, error) {
	store, err := storage.NewMinioStore(ctx, cfg)
	if errors.Is(err, storage.ErrNotConfigured) {
		return nil, fmt.Errorf("请先配置 MINIO_ENDPOINT / MINIO_ACCESS_KEY / MINIO_SECRET_KEY")
	}
	return store, err
}
