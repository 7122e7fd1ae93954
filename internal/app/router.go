package app

import (
	"k12_agent_backend/docs"
	"k12_agent_backend/internal/config"
	"k12_agent_backend/internal/middleware"
	"k12_agent_backend/internal/repository"
	"k12_agent_backend/pkg/monitoring"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
)

func (a *App) registerRoutes(router *gin.Engine, c *controllers, cfg *config.Config) {
	docs.SwaggerInfo.BasePath = "/api"
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler, ginSwagger.URL("/swagger/doc.json")))
	router.GET("/metrics", monitoring.PrometheusHandler())

	// 1. 公共路由(无需登录)
	public := router.Group("/api")
	{
		public.GET("/health", c.health.HealthCheck)
	}

	// 2. Agent 接口，只做身份认证
	users := repository.NewUserRepository(a.DB)
	agent := router.Group("/api/agent")
	agent.Use(middleware.AuthMiddleware(cfg), middleware.ActivityMiddleware(users))
	{
		agent.POST("/initialize", c.agent.Initialize)
		agent.POST("/action", c.agent.Action)
		agent.GET("/status", c.agent.Status)
		agent.POST("/shutdown", c.agent.Shutdown)
		agent.GET("/recommendations", c.agent.Recommendations)
		agent.POST("/bulk", c.agent.Bulk)
		agent.GET("/notifications/ws", c.agent.HandleWS)
	}
}
