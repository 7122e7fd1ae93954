package database

import (
	"fmt"
	"k12_agent_backend/internal/config"
	"k12_agent_backend/internal/model"
	"log"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Models AI Agent 子系统需要的全部表
func Models() []interface{} {
	return []interface{}{
		&model.User{},
		&model.StudentRelation{},
		&model.BehaviorEvent{},
		&model.StudentProfile{},
		&model.KnowledgeMastery{},
		&model.KnowledgePoint{},
		&model.Question{},
		&model.LearningResource{},
		&model.MistakeEntry{},
		&model.AgentActivityLog{},
		&model.RecommendationLog{},
	}
}

func InitDB(cfg *config.Config) (*gorm.DB, error) {
	dbCfg := cfg.Database
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=%s&parseTime=%t&loc=Local",
		dbCfg.User,
		dbCfg.Password,
		dbCfg.Host,
		dbCfg.Port,
		dbCfg.DBName,
		dbCfg.Charset,
		dbCfg.ParseTime,
	)

	logLevel := logger.Warn
	if cfg.Server.Mode == "debug" {
		logLevel = logger.Info
	}

	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logLevel),
	})

	if err != nil {
		return nil, err
	}

	log.Println("Database connection established")

	// release 模式下默认不做迁移，除非显式指定 -migrate
	if cfg.Server.Mode != "release" || cfg.ForceMigrate {
		if err := Migrate(db, cfg.Agent.FoundationalConcepts); err != nil {
			return nil, err
		}
		log.Println("Database migration completed")
	}

	return db, nil
}

// Migrate 建表并写入基础知识点
func Migrate(db *gorm.DB, foundational []string) error {
	if err := db.AutoMigrate(Models()...); err != nil {
		return err
	}

	var count int64
	db.Model(&model.KnowledgePoint{}).Count(&count)
	if count == 0 {
		titles := map[string]string{
			"basic_arithmetic":     "基础运算",
			"algebra_fundamentals": "代数基础",
			"geometry_basics":      "几何基础",
		}
		for _, id := range foundational {
			title := titles[id]
			if title == "" {
				title = id
			}
			kp := model.KnowledgePoint{ID: id, Title: title, Foundational: true}
			if err := db.Create(&kp).Error; err != nil {
				return err
			}
		}
	}
	return nil
}
