// @title K12 AI Agent 后端 API
// @version 1.0
// @description K12 学习平台的 AI Agent 协调服务。

// @host localhost:8080
// @BasePath /api
// @securityDefinitions.apikey ApiKeyAuth
// @in header
// @name Authorization

package main

import (
	"flag"
	"fmt"
	"k12_agent_backend/internal/app"
	"k12_agent_backend/internal/config"
	"k12_agent_backend/internal/model"
	"k12_agent_backend/internal/util"
	"k12_agent_backend/pkg/logger"
	"log"
	"time"
)

func main() {
	// 命令行参数
	configDir := flag.String("config", "configs", "配置文件目录")
	migrateOnly := flag.Bool("migrate-only", false, "只执行数据库迁移，完成后退出")
	migrate := flag.Bool("migrate", false, "启动时强制执行数据库迁移（即使是 release 模式）")
	issueToken := flag.Uint("issue-token", 0, "为指定用户签发调试用 JWT 后退出")
	tokenRole := flag.String("token-role", string(model.Student), "签发 token 时写入的角色")
	flag.Parse()

	cfg, err := config.LoadConfig(*configDir)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	if *issueToken > 0 {
		role, ok := model.ParseUserRole(*tokenRole)
		if !ok {
			log.Fatalf("unknown role: %s", *tokenRole)
		}
		ttl := cfg.JWT.ExpireTime
		if ttl <= 0 {
			ttl = 24 * time.Hour
		}
		token, err := util.GenerateJWT(uint(*issueToken), role, cfg.JWT.Secret, ttl)
		if err != nil {
			log.Fatalf("Failed to issue token: %v", err)
		}
		fmt.Println(token)
		return
	}

	cfg.ForceMigrate = *migrate || *migrateOnly
	cfg.MigrateOnly = *migrateOnly

	application := app.NewApp(cfg)
	defer logger.Log.Sync()

	if *migrateOnly {
		logger.Log.Info("Database migration finished, exiting")
		return
	}

	application.Run()
}
