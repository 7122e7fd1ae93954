package app

import (
	"context"
	"k12_agent_backend/internal/config"
	"k12_agent_backend/internal/controller"
	"k12_agent_backend/internal/service"
	"k12_agent_backend/pkg/configwatcher"
	"k12_agent_backend/pkg/database"
	"k12_agent_backend/pkg/logger"
	"k12_agent_backend/pkg/monitoring"
	"k12_agent_backend/pkg/security"
	"k12_agent_backend/pkg/tracing"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"
	"gorm.io/gorm"
)


type App struct {
	Config   *config.Config
	Router   *gin.Engine
	DB       *gorm.DB
	Redis    *redis.Client
	services *services

	limiter        *security.IPLimiter
	tracerProvider *sdktrace.TracerProvider
	ctx            context.Context
	cancel         context.CancelFunc

	callbackMu      sync.Mutex
	configCallbacks []func(*config.Config)
}

type services struct {
	ai           *service.AIService
	store        *service.KnowledgeStore
	engine       *service.RecommendationEngine
	cache        *service.RecommendationCache
	bus          *service.NotificationBus
	hub          *service.NotificationHub
	coordination *service.CoordinationEngine
}

type controllers struct {
	agent  *controller.AgentController
	health *controller.HealthController
}

func (a *App) RegisterConfigCallback(callback func(*config.Config)) {
	a.callbackMu.Lock()
	a.configCallbacks = append(a.configCallbacks, callback)
	a.callbackMu.Unlock()
}

// reloadConfig 配置文件变化后依次通知各组件
func (a *App) reloadConfig(cfg *config.Config) {
	a.callbackMu.Lock()
	callbacks := make([]func(*config.Config), len(a.configCallbacks))
	copy(callbacks, a.configCallbacks)
	a.callbackMu.Unlock()

	for _, cb := range callbacks {
		cb(cfg)
	}
}

func (a *App) initServices(cfg *config.Config, db *gorm.DB, rdb *redis.Client) *services {
	s := &services{}

	s.ai = service.NewAIService(cfg.AI)
	s.store = service.NewKnowledgeStore(db, cfg.Agent)
	s.engine = service.NewRecommendationEngine(s.store, s.ai, cfg.Agent.TraceRecommendations)
	s.cache = service.NewRecommendationCache(rdb, cfg.Agent.RecommendationCacheTTL())

	s.hub = service.NewNotificationHub(rdb, security.OriginChecker(cfg.CORS.AllowedOrigins))
	go s.hub.Run(a.ctx)

	s.bus = service.NewNotificationBus(cfg.Agent.NotificationBuffer)
	s.bus.Subscribe(service.ActivityRecorder(s.store))
	s.bus.Subscribe(s.hub)
	s.bus.Start(a.ctx)

	runtime := service.NewAgentRuntime(s.store, s.engine, s.ai, service.SettingsFromConfig(cfg))
	s.coordination = service.NewCoordinationEngine(runtime, s.cache, s.bus, cfg.Agent)
	s.coordination.StartIdleEviction(a.ctx)

	a.RegisterConfigCallback(logger.SetLevel)
	a.RegisterConfigCallback(s.coordination.ApplyConfig)
	return s
}

func (a *App) initControllers(s *services, db *gorm.DB, rdb *redis.Client) *controllers {
	return &controllers{
		agent:  controller.NewAgentController(s.coordination, s.hub),
		health: controller.NewHealthController(db, rdb, s.coordination),
	}
}

func (a *App) setupMiddlewares(router *gin.Engine, cfg *config.Config) {
	router.Use(security.CORS(cfg.CORS.AllowedOrigins))
	router.Use(security.Secure())

	a.limiter = security.NewIPLimiter(cfg.RateLimit.MaxRequests, time.Duration(cfg.RateLimit.WindowMinutes)*time.Minute)
	go a.limiter.Cleanup(a.ctx)
	router.Use(security.RateLimiter(a.limiter))

	// 分布式追踪中间件
	if cfg.Tracing.Enabled {
		router.Use(tracing.GinMiddleware())
	}

	router.Use(monitoring.MetricsMiddleware())
}

func (a *App) watchConfig() {
	go func() {
		err := configwatcher.WatchConfig(a.ctx, filepath.Join(a.Config.ConfigDir, "config.yaml"), a.reloadConfig)
		if err != nil {
			logger.Log.Error("Config watcher stopped", zap.Error(err))
		}
	}()
}

func NewApp(cfg *config.Config) *App {
	logger.InitLogger(cfg)
	defer logger.Log.Sync()

	logger.Log.Info("Logger initialized successfully")

	db, err := database.InitDB(cfg)
	if err != nil {
		logger.Log.Fatal("Failed to initialize database", zap.Error(err))
		log.Fatalf("Failed to initialize database: %v", err)
	}

	app := &App{
		Config: cfg,
		DB:     db,
	}
	if cfg.MigrateOnly {
		return app
	}

	rdb, err := database.InitRedis(&cfg.Redis)
	if err != nil {
		logger.Log.Fatal("Failed to initialize redis", zap.Error(err))
		log.Fatalf("Failed to initialize redis: %v", err)
	}
	app.Redis = rdb

	app.ctx, app.cancel = context.WithCancel(context.Background())

	// 监控初始化
	monitoring.Init()

	if cfg.Tracing.Enabled {
		tp, err := tracing.InitTracer(tracing.ServiceName, cfg.Tracing.CollectorEndpoint)
		if err != nil {
			logger.Log.Fatal("Failed to initialize tracing", zap.Error(err))
		}
		app.tracerProvider = tp
	}

	app.services = app.initServices(cfg, db, app.Redis)
	controllers := app.initControllers(app.services, db, app.Redis)

	if cfg.Server.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.Default()
	app.Router = router

	app.setupMiddlewares(router, cfg)
	app.registerRoutes(router, controllers, cfg)
	app.watchConfig()

	return app
}

func (a *App) Run() {
	srv := &http.Server{
		Addr:    ":" + a.Config.Server.Port,
		Handler: a.Router,
	}

	// 启动服务器
	go func() {
		log.Printf("Server running on port %s", a.Config.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %s\n", err)
		}
	}()

	// 等待中断信号优雅地关闭服务器（设置5秒的超时时间）
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal("Server forced to shutdown:", err)
	}

	a.shutdown(ctx)
	log.Println("Server exiting")
}

// shutdown 先关闭 Agent（写入会话日志），再排空通知队列并清理 WebSocket 连接和 Redis 在线状态
func (a *App) shutdown(ctx context.Context) {
	if s := a.services; s != nil {
		s.coordination.ShutdownAll(ctx)
		s.bus.Close()
		s.hub.Stop()
	}
	if a.cancel != nil {
		a.cancel()
	}
	if a.tracerProvider != nil {
		if err := a.tracerProvider.Shutdown(ctx); err != nil {
			logger.Log.Error("Failed to shutdown tracer provider", zap.Error(err))
		}
	}
	if a.Redis != nil {
		a.Redis.Close()
	}
}
