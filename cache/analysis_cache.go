package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"

	"mvgen/core/analysis"
	"mvgen/logger"
)

const analysisKeyPrefix = "mvgen:analysis:"

// AnalysisCache 按音频内容哈希缓存分析结果
type AnalysisCache interface {
	Get(ctx context.Context, hash string) (*analysis.Analysis, bool, error)
	Put(ctx context.Context, hash string, a *analysis.Analysis) error
}

// RedisAnalysisCache Redis 实现
type RedisAnalysisCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisAnalysisCache 使用给定客户端创建缓存，client 为 nil 时使用全局客户端
func NewRedisAnalysisCache(client *redis.Client, ttl time.Duration) *RedisAnalysisCache {
	if client == nil {
		client = RedisClient
	}
	return &RedisAnalysisCache{client: client, ttl: ttl}
}

func (c *RedisAnalysisCache) key(hash string) string {
	return analysisKeyPrefix + hash
}

// Get 读取缓存，未命中返回 false
func (c *RedisAnalysisCache) Get(ctx context.Context, hash string) (*analysis.Analysis, bool, error) {
	data, err := c.client.Get(ctx, c.key(hash)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to get analysis cache: %w", err)
	}

	var a analysis.Analysis
	if err := json.Unmarshal(data, &a); err != nil {
		// 损坏的缓存直接删除
		logger.Warn("dropping corrupt analysis cache entry",
			logger.String("hash", hash),
			logger.ErrorField(err))
		c.client.Del(ctx, c.key(hash))
		return nil, false, nil
	}
	return &a, true, nil
}

// Put 写入缓存
func (c *RedisAnalysisCache) Put(ctx context.Context, hash string, a *analysis.Analysis) error {
	data, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("failed to marshal analysis: %w", err)
	}
	if err := c.client.Set(ctx, c.key(hash), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to set analysis cache: %w", err)
	}
	return nil
}

// MemoryAnalysisCache 进程内实现，Redis 不可用时使用
type MemoryAnalysisCache struct {
	mu      sync.RWMutex
	entries map[string][]byte
}

func NewMemoryAnalysisCache() *MemoryAnalysisCache {
	return &MemoryAnalysisCache{entries: make(map[string][]byte)}
}

func (c *MemoryAnalysisCache) Get(_ context.Context, hash string) (*analysis.Analysis, bool, error) {
	c.mu.RLock()
	data, ok := c.entries[hash]
	c.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}
	var a analysis.Analysis
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, false, err
	}
	return &a, true, nil
}

func (c *MemoryAnalysisCache) Put(_ context.Context, hash string, a *analysis.Analysis) error {
	data, err := json.Marshal(a)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.entries[hash] = data
	c.mu.Unlock()
	return nil
}
