package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// File 任务产出的媒体文件，TaskID 只在创建时写入
type File struct {
	ID        string    `json:"id" gorm:"primaryKey;size:36"`
	TaskID    string    `json:"task_id" gorm:"<-:create;size:36;not null;index"`
	Title     string    `json:"title"`
	Name      string    `json:"name" gorm:"not null"`
	Duration  *int      `json:"duration"`
	Width     *int      `json:"width"`
	Height    *int      `json:"height"`
	ThumbName *string   `json:"thumb_name"`
	Meta      string    `json:"-" gorm:"type:text"`
	CreatedAt time.Time `json:"created_at"`
	Cache     *Cache    `json:"cache,omitempty" gorm:"foreignKey:FileID;constraint:OnDelete:CASCADE"`
}

// TableName 指定表名
func (File) TableName() string {
	return "file"
}

func (f *File) BeforeCreate(tx *gorm.DB) error {
	if f.ID == "" {
		f.ID = uuid.NewString()
	}
	return nil
}

// Cache 聊天平台已上传文件的标识，用于跳过重复上传
type Cache struct {
	ID            string    `json:"id" gorm:"primaryKey;size:36"`
	FileID        string    `json:"file_id" gorm:"<-:create;size:36;not null;uniqueIndex"`
	CacheID       string    `json:"cache_id" gorm:"not null"`
	CacheUniqueID string    `json:"cache_unique_id" gorm:"not null"`
	FileSize      int64     `json:"file_size"`
	DateTimestamp time.Time `json:"date_timestamp"`
	CreatedAt     time.Time `json:"created_at"`
}

// TableName 指定表名
func (Cache) TableName() string {
	return "cache"
}

func (c *Cache) BeforeCreate(tx *gorm.DB) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	return nil
}
