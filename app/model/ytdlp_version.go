package model

import "time"

// YtdlpVersion 记录 worker 启动时检测到的 yt-dlp 版本，表中最多一行
type YtdlpVersion struct {
	ID        uint      `json:"id" gorm:"primarykey"`
	Current   string    `json:"current_version" gorm:"size:32;not null"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName 指定表名
func (YtdlpVersion) TableName() string {
	return "yt_dlp"
}
