package controller

import (
	"context"
	"k12_agent_backend/internal/service"
	"k12_agent_backend/internal/util"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"
)

type HealthController struct {
	DB     *gorm.DB
	Redis  *redis.Client
	Engine *service.CoordinationEngine
}

func NewHealthController(db *gorm.DB, rdb *redis.Client, engine *service.CoordinationEngine) *HealthController {
	return &HealthController{DB: db, Redis: rdb, Engine: engine}
}

// @Summary 健康检查
// @Description 检查服务状态
// @Tags 系统
// @Produce json
// @Success 200 {object} util.Response
// @Router /health [get]
func (c *HealthController) HealthCheck(ctx *gin.Context) {
	// 检查数据库连接
	sqlDB, err := c.DB.DB()
	if err != nil {
		util.InternalServerError(ctx)
		return
	}

	if err := sqlDB.PingContext(ctx.Request.Context()); err != nil {
		util.Error(ctx, http.StatusServiceUnavailable, "Database unavailable")
		return
	}

	components := gin.H{"database": "up", "redis": "disabled"}
	if c.Redis != nil {
		pingCtx, cancel := context.WithTimeout(ctx.Request.Context(), 2*time.Second)
		defer cancel()
		if err := c.Redis.Ping(pingCtx).Err(); err != nil {
			components["redis"] = "down"
		} else {
			components["redis"] = "up"
		}
	}

	data := gin.H{
		"status":     "ok",
		"components": components,
	}
	if c.Engine != nil {
		data["activeAgents"] = c.Engine.Registry().Len()
	}
	util.Success(ctx, data)
}
