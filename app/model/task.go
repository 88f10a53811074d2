package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// TaskStatus 任务状态
type TaskStatus string

const (
	TaskStatusPending    TaskStatus = "PENDING"
	TaskStatusProcessing TaskStatus = "PROCESSING"
	TaskStatusFailed     TaskStatus = "FAILED"
	TaskStatusDone       TaskStatus = "DONE"
)

// IsFinished 是否已处于终态
func (s TaskStatus) IsFinished() bool {
	return s == TaskStatusDone || s == TaskStatusFailed
}

// TaskSource 任务来源
type TaskSource string

const (
	TaskSourceAPI TaskSource = "API"
	TaskSourceBot TaskSource = "BOT"
)

// Task 下载任务，ID 由上游提供并作为幂等键
type Task struct {
	ID           string     `json:"id" gorm:"primaryKey;size:36"`
	URL          string     `json:"url" gorm:"not null;index"`
	Status       TaskStatus `json:"status" gorm:"size:16;not null;default:PENDING;index"`
	Source       TaskSource `json:"source" gorm:"size:8;not null"`
	FromChatID   *int64     `json:"from_chat_id"`
	FromChatType *string    `json:"from_chat_type" gorm:"size:32"`
	FromUserID   *int64     `json:"from_user_id" gorm:"index"`
	MessageID    *int64     `json:"message_id"`
	AckMessageID *int64     `json:"ack_message_id"`
	Error        *string    `json:"error" gorm:"type:text"`
	YtdlpVersion *string    `json:"yt_dlp_version" gorm:"size:32"`
	AddedAt      time.Time  `json:"added_at"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	Files        []File     `json:"files,omitempty" gorm:"foreignKey:TaskID;constraint:OnDelete:CASCADE"`
}

// TableName 指定表名
func (Task) TableName() string {
	return "task"
}

// BeforeCreate 未提供 ID 时生成
func (t *Task) BeforeCreate(tx *gorm.DB) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.AddedAt.IsZero() {
		t.AddedAt = time.Now().UTC()
	}
	return nil
}
