package database

import (
	"ytdl-worker/app/model"

	"gorm.io/gorm"
)

func AutoMigrate(db *gorm.DB) error {
	// 自动迁移表结构
	return db.AutoMigrate(
		&model.Task{},
		&model.File{},
		&model.Cache{},
		&model.YtdlpVersion{},
	)
}
