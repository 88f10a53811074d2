package schema

import (
	"time"

	"ytdl-worker/app/model"
)

// PayloadType 出站消息类型
type PayloadType string

const (
	PayloadTypeSuccess       PayloadType = "SUCCESS"
	PayloadTypeDownloadError PayloadType = "DOWNLOAD_ERROR"
	PayloadTypeGeneralError  PayloadType = "GENERAL_ERROR"
)

const (
	MessageDownloadError = "Download error"
	MessageGeneralError  = "General worker error"
)

// InbMediaPayload 来自 Bot 或 API 的下载请求
type InbMediaPayload struct {
	ID                 *string          `json:"id" validate:"omitempty,uuid"`
	FromChatID         *int64           `json:"from_chat_id"`
	FromChatType       *string          `json:"from_chat_type" validate:"omitempty,oneof=private bot group supergroup channel"`
	FromUserID         *int64           `json:"from_user_id"`
	MessageID          *int64           `json:"message_id"`
	AckMessageID       *int64           `json:"ack_message_id"`
	URL                string           `json:"url" validate:"required,url"`
	OriginalURL        string           `json:"original_url" validate:"required"`
	Source             model.TaskSource `json:"source" validate:"required,oneof=API BOT"`
	SaveToStorage      bool             `json:"save_to_storage"`
	DownloadMediaType  MediaType        `json:"download_media_type" validate:"required,oneof=AUDIO VIDEO AUDIO_VIDEO"`
	CustomFilename     *string          `json:"custom_filename" validate:"omitempty,max=255"`
	AutomaticExtension bool             `json:"automatic_extension"`
	AddedAt            time.Time        `json:"added_at"`
}

// VideoPayload 旧版请求格式，只支持视频
type VideoPayload struct {
	ID           *string          `json:"id" validate:"omitempty,uuid"`
	FromChatID   *int64           `json:"from_chat_id"`
	FromChatType *string          `json:"from_chat_type" validate:"omitempty,oneof=private bot group supergroup channel"`
	FromUserID   *int64           `json:"from_user_id"`
	MessageID    *int64           `json:"message_id"`
	URL          string           `json:"url" validate:"required,url"`
	Source       model.TaskSource `json:"source" validate:"required,oneof=API BOT"`
	AddedAt      time.Time        `json:"added_at"`
}

// ToMediaPayload 旧格式映射为视频下载请求
func (v *VideoPayload) ToMediaPayload() *InbMediaPayload {
	return &InbMediaPayload{
		ID:                v.ID,
		FromChatID:        v.FromChatID,
		FromChatType:      v.FromChatType,
		FromUserID:        v.FromUserID,
		MessageID:         v.MessageID,
		URL:               v.URL,
		OriginalURL:       v.URL,
		Source:            v.Source,
		DownloadMediaType: MediaTypeVideo,
		AddedAt:           v.AddedAt,
	}
}

// SuccessPayload 下载成功的出站消息
type SuccessPayload struct {
	Type         PayloadType      `json:"type"`
	TaskID       string           `json:"task_id"`
	FromChatID   *int64           `json:"from_chat_id"`
	FromChatType *string          `json:"from_chat_type"`
	FromUserID   *int64           `json:"from_user_id"`
	MessageID    *int64           `json:"message_id"`
	Media        *DownMedia       `json:"media"`
	Context      *InbMediaPayload `json:"context"`
	YtdlpVersion *string          `json:"yt_dlp_version"`
}

// NewSuccessPayload 由任务与下载结果构造成功消息
func NewSuccessPayload(task *model.Task, media *DownMedia, ctx *InbMediaPayload, version *string) *SuccessPayload {
	return &SuccessPayload{
		Type:         PayloadTypeSuccess,
		TaskID:       task.ID,
		FromChatID:   ctx.FromChatID,
		FromChatType: ctx.FromChatType,
		FromUserID:   task.FromUserID,
		MessageID:    task.MessageID,
		Media:        media,
		Context:      ctx,
		YtdlpVersion: version,
	}
}

// ErrorPayload 下载失败或一般错误的出站消息，一般错误时 TaskID 为空
type ErrorPayload struct {
	Type          PayloadType      `json:"type"`
	TaskID        *string          `json:"task_id"`
	FromChatID    *int64           `json:"from_chat_id"`
	FromChatType  *string          `json:"from_chat_type"`
	FromUserID    *int64           `json:"from_user_id"`
	MessageID     *int64           `json:"message_id"`
	Message       string           `json:"message"`
	URL           string           `json:"url"`
	Context       *InbMediaPayload `json:"context"`
	ExceptionMsg  string           `json:"exception_msg"`
	ExceptionType string           `json:"exception_type"`
	YtdlpVersion  *string          `json:"yt_dlp_version"`
}

// NewDownloadErrorPayload 已有任务的下载错误
func NewDownloadErrorPayload(task *model.Task, ctx *InbMediaPayload, errMsg, errType string, version *string) *ErrorPayload {
	id := task.ID
	return &ErrorPayload{
		Type:          PayloadTypeDownloadError,
		TaskID:        &id,
		FromChatID:    ctx.FromChatID,
		FromChatType:  ctx.FromChatType,
		FromUserID:    ctx.FromUserID,
		MessageID:     task.MessageID,
		Message:       MessageDownloadError,
		URL:           ctx.URL,
		Context:       ctx,
		ExceptionMsg:  errMsg,
		ExceptionType: errType,
		YtdlpVersion:  version,
	}
}

// NewGeneralErrorPayload 未能关联任务的一般错误
func NewGeneralErrorPayload(ctx *InbMediaPayload, errMsg, errType string, version *string) *ErrorPayload {
	return &ErrorPayload{
		Type:          PayloadTypeGeneralError,
		FromChatID:    ctx.FromChatID,
		FromChatType:  ctx.FromChatType,
		FromUserID:    ctx.FromUserID,
		MessageID:     ctx.MessageID,
		Message:       MessageGeneralError,
		URL:           ctx.URL,
		Context:       ctx,
		ExceptionMsg:  errMsg,
		ExceptionType: errType,
		YtdlpVersion:  version,
	}
}
