package middleware

import (
	"context"
	"k12_agent_backend/internal/config"
	"k12_agent_backend/internal/util"
	"k12_agent_backend/pkg/logger"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// AuthMiddleware 只做身份认证，不做角色校验
func AuthMiddleware(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString, err := util.TokenFromRequest(c)
		if err != nil {
			util.Unauthorized(c)
			c.Abort()
			return
		}

		claims, err := util.ParseJWT(tokenString, cfg.JWT.Secret)
		if err != nil {
			logger.Log.Debug("JWT parse failed", zap.Error(err), zap.String("path", c.Request.URL.Path))
			util.Unauthorized(c)
			c.Abort()
			return
		}

		trace.SpanFromContext(c.Request.Context()).SetAttributes(attribute.Int("user.id", int(claims.UserID)))
		c.Set(util.ContextUserKey, claims)
		c.Next()
	}
}

type UserActivityRepo interface {
	TouchLastSeen(ctx context.Context, userID uint, at time.Time) error
}

// ActivityMiddleware 异步更新 last_seen，不阻塞请求
func ActivityMiddleware(repo UserActivityRepo) gin.HandlerFunc {
	return func(c *gin.Context) {
		if claims := util.GetUserFromContext(c); claims != nil {
			userID := claims.UserID
			go func() {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := repo.TouchLastSeen(ctx, userID, time.Now()); err != nil {
					logger.Log.Debug("Failed to update last seen", zap.Uint("userId", userID), zap.Error(err))
				}
			}()
		}
		c.Next()
	}
}
