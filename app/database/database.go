package database

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"ytdl-worker/app/config"
	"ytdl-worker/app/logger"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// DB 全局数据库实例
var DB *gorm.DB

// Init 初始化全局数据库连接并迁移表结构
func Init(cfg *config.Config, log *logger.Logger) error {
	db, err := Open(cfg.Database, log)
	if err != nil {
		return err
	}
	DB = db
	return nil
}

// Open 按驱动打开数据库并自动迁移
func Open(cfg config.DatabaseConfig, log *logger.Logger) (*gorm.DB, error) {
	gormCfg := &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	}

	var (
		db  *gorm.DB
		err error
	)
	switch cfg.Driver {
	case "postgres":
		db, err = gorm.Open(postgres.Open(cfg.DSN), gormCfg)
	default:
		if err := ensureDir(filepath.Dir(cfg.Path)); err != nil {
			log.Errorf("创建数据库目录失败: %v", err)
			return nil, err
		}
		// 多个消息并发写入，等待锁而不是立即报错
		dsn := cfg.Path + "?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on"
		db, err = gorm.Open(sqlite.Open(dsn), gormCfg)
		if err == nil {
			if sqlDB, dbErr := db.DB(); dbErr == nil {
				sqlDB.SetMaxOpenConns(1)
			}
		}
	}
	if err != nil {
		log.Errorf("连接数据库失败: %v", err)
		return nil, fmt.Errorf("连接数据库失败: %w", err)
	}
	log.Infof("数据库连接成功: %s", cfg.Driver)

	if err := AutoMigrate(db); err != nil {
		log.Errorf("迁移表结构失败: %v", err)
		return nil, fmt.Errorf("迁移表结构失败: %w", err)
	}
	return db, nil
}

// Close 关闭数据库连接
func Close() error {
	if DB != nil {
		sqlDB, err := DB.DB()
		if err != nil {
			return err
		}
		return sqlDB.Close()
	}
	return nil
}

// GetDB 获取数据库实例
func GetDB() *gorm.DB {
	return DB
}

// Ping 检查数据库连接是否可用
func Ping(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Ping()
}

// ensureDir 确保目录存在
func ensureDir(dir string) error {
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return os.MkdirAll(dir, 0755)
	}
	return nil
}
