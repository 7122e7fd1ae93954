package service

import (
	"context"
	"encoding/json"
	"fmt"
	"k12_agent_backend/internal/model"
	"k12_agent_backend/internal/util"
	"k12_agent_backend/pkg/logger"
	"k12_agent_backend/pkg/monitoring"
	"sync/atomic"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

type cachedRecommendations struct {
	GeneratedAt     time.Time              `json:"generatedAt"`
	Recommendations []model.Recommendation `json:"recommendations"`
}

// RecommendationCache 每个学生一个 hash，field 为上下文 key；Redis 为 nil 时不缓存
type RecommendationCache struct {
	rdb *redis.Client
	ttl atomic.Int64
	now func() time.Time
}

func NewRecommendationCache(rdb *redis.Client, ttl time.Duration) *RecommendationCache {
	c := &RecommendationCache{rdb: rdb, now: time.Now}
	c.SetTTL(ttl)
	return c
}

func (c *RecommendationCache) SetTTL(ttl time.Duration) {
	c.ttl.Store(int64(ttl))
}

func (c *RecommendationCache) enabled() bool {
	return c != nil && c.rdb != nil && c.ttl.Load() > 0
}

func cacheKey(studentID uint) string {
	return fmt.Sprintf("%s%d", util.RecommendationCachePrefix, studentID)
}

func (c *RecommendationCache) Get(ctx context.Context, studentID uint, field string) ([]model.Recommendation, bool) {
	if !c.enabled() {
		return nil, false
	}
	raw, err := c.rdb.HGet(ctx, cacheKey(studentID), field).Bytes()
	if err != nil {
		if err != redis.Nil {
			logger.Log.Warn("Recommendation cache read failed", zap.Uint("studentId", studentID), zap.Error(err))
		}
		monitoring.RecommendationCacheCounter.WithLabelValues("miss").Inc()
		return nil, false
	}
	var entry cachedRecommendations
	if err := json.Unmarshal(raw, &entry); err != nil {
		monitoring.RecommendationCacheCounter.WithLabelValues("miss").Inc()
		return nil, false
	}
	if c.now().Sub(entry.GeneratedAt) > time.Duration(c.ttl.Load()) {
		monitoring.RecommendationCacheCounter.WithLabelValues("expired").Inc()
		return nil, false
	}
	monitoring.RecommendationCacheCounter.WithLabelValues("hit").Inc()
	return entry.Recommendations, true
}

func (c *RecommendationCache) Set(ctx context.Context, studentID uint, field string, recs []model.Recommendation) {
	if !c.enabled() {
		return
	}
	data, err := json.Marshal(cachedRecommendations{GeneratedAt: c.now(), Recommendations: recs})
	if err != nil {
		return
	}
	key := cacheKey(studentID)
	pipe := c.rdb.TxPipeline()
	pipe.HSet(ctx, key, field, data)
	pipe.Expire(ctx, key, time.Duration(c.ttl.Load()))
	if _, err := pipe.Exec(ctx); err != nil {
		logger.Log.Warn("Recommendation cache write failed", zap.Uint("studentId", studentID), zap.Error(err))
	}
}

// Invalidate 学生产生新的答题/作业数据后清除缓存
func (c *RecommendationCache) Invalidate(ctx context.Context, studentID uint) {
	if c == nil || c.rdb == nil {
		return
	}
	if err := c.rdb.Del(ctx, cacheKey(studentID)).Err(); err != nil {
		logger.Log.Warn("Recommendation cache invalidate failed", zap.Uint("studentId", studentID), zap.Error(err))
	}
}
