package service

import (
	"context"
	"errors"
	"runtime/debug"

	"ytdl-worker/app/logger"
	"ytdl-worker/app/metrics"
	"ytdl-worker/app/model"
	"ytdl-worker/app/rabbit"
	"ytdl-worker/app/schema"
)

// MediaProcessor 处理单个下载请求
type MediaProcessor interface {
	Process(ctx context.Context, p *schema.InbMediaPayload) (*model.Task, *schema.DownMedia, error)
}

// ResultPublisher 发布处理结果，只有 broker 确认后才返回 nil
type ResultPublisher interface {
	PublishSuccess(ctx context.Context, payload *schema.SuccessPayload) error
	PublishError(ctx context.Context, payload *schema.ErrorPayload) error
}

// VersionProvider 出站消息中携带的 yt-dlp 版本
type VersionProvider interface {
	Current() *string
}

// PayloadHandler 解码消息、处理并发布结果，结果送达后才确认消息
type PayloadHandler struct {
	media     MediaProcessor
	publisher ResultPublisher
	version   VersionProvider
	decoders  []schema.Decoder
	log       *logger.Logger
}

func NewPayloadHandler(media MediaProcessor, publisher ResultPublisher, version VersionProvider, log *logger.Logger) *PayloadHandler {
	return &PayloadHandler{
		media:     media,
		publisher: publisher,
		version:   version,
		decoders:  schema.DefaultDecoders(),
		log:       log.Named("payload_handler"),
	}
}

// HandleDelivery 无法解码、发布失败或 panic 时拒绝且不重新入队
func (h *PayloadHandler) HandleDelivery(ctx context.Context, body []byte, ack rabbit.Acknowledger) {
	defer func() {
		if r := recover(); r != nil {
			h.log.Errorf("处理消息时发生 panic: %v\n%s", r, debug.Stack())
			h.reject(ack)
		}
	}()

	h.log.Debugf("收到消息: %s", body)
	payload, err := schema.DecodeInbound(body, h.decoders...)
	if err != nil {
		h.log.Errorf("消息无法解析，丢弃: %v, 内容: %s", err, body)
		h.reject(ack)
		return
	}

	if err := h.Handle(ctx, payload); err != nil {
		h.log.Errorf("处理结果未能送达，丢弃消息: %v", err)
		h.reject(ack)
		return
	}
	if err := ack.Ack(false); err != nil {
		h.log.Errorf("确认消息失败: %v", err)
		return
	}
	metrics.MessagesTotal.WithLabelValues("ack").Inc()
}

// Handle 处理请求并发布对应结果，返回错误表示结果没有发布成功
func (h *PayloadHandler) Handle(ctx context.Context, p *schema.InbMediaPayload) error {
	task, media, err := h.media.Process(ctx, p)
	version := h.version.Current()
	// 任务结束后即使正在退出也要把结果发出去
	pubCtx := context.WithoutCancel(ctx)

	if err == nil {
		metrics.TasksTotal.WithLabelValues("done").Inc()
		return h.publisher.PublishSuccess(pubCtx, schema.NewSuccessPayload(task, media, p, version))
	}
	if errors.Is(err, ErrAlreadyProcessed) {
		metrics.TasksTotal.WithLabelValues("duplicate").Inc()
		h.log.Infof("任务已处理过，跳过: %s", p.URL)
		return nil
	}

	if t := taskOf(err); t != nil {
		var ppErr *PostProcessError
		if errors.As(err, &ppErr) {
			metrics.TasksTotal.WithLabelValues("postprocess_error").Inc()
		} else {
			metrics.TasksTotal.WithLabelValues("download_error").Inc()
		}
		return h.publisher.PublishError(pubCtx, schema.NewDownloadErrorPayload(t, p, err.Error(), errorType(err), version))
	}

	metrics.TasksTotal.WithLabelValues("error").Inc()
	h.log.Errorf("处理请求出错: %v", err)
	return h.publisher.PublishError(pubCtx, schema.NewGeneralErrorPayload(p, err.Error(), errorType(err), version))
}

func (h *PayloadHandler) reject(ack rabbit.Acknowledger) {
	if err := ack.Reject(false); err != nil {
		h.log.Errorf("拒绝消息失败: %v", err)
		return
	}
	metrics.MessagesTotal.WithLabelValues("reject").Inc()
}
