package cmd

import (
	"context"
	"fmt"
	"time"

	"ytdl-worker/app/config"
	"ytdl-worker/app/logger"
	"ytdl-worker/app/model"
	"ytdl-worker/app/rabbit"
	"ytdl-worker/app/schema"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var enqueueOpts struct {
	url           string
	mediaType     string
	saveToStorage bool
	filename      string
	automaticExt  bool
	userID        int64
}

var enqueueCmd = &cobra.Command{
	Use:   "enqueue",
	Short: "投递一个下载请求到输入队列",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.Load()
		log := logger.New(config.LogConfig{Level: "warn", Format: "text", Output: "stdout"})
		defer log.Close()

		payload := buildEnqueuePayload()
		if err := payload.Validate(); err != nil {
			return fmt.Errorf("无效的请求: %w", err)
		}

		client, err := rabbit.Dial(cfg.RabbitMQ, log)
		if err != nil {
			return err
		}
		defer client.Close()

		ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
		defer cancel()
		if err := client.Publisher().PublishInput(ctx, payload); err != nil {
			return fmt.Errorf("投递失败: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), *payload.ID)
		return nil
	},
}

func buildEnqueuePayload() *schema.InbMediaPayload {
	id := uuid.NewString()
	p := &schema.InbMediaPayload{
		ID:                 &id,
		URL:                enqueueOpts.url,
		OriginalURL:        enqueueOpts.url,
		Source:             model.TaskSourceAPI,
		SaveToStorage:      enqueueOpts.saveToStorage,
		DownloadMediaType:  schema.MediaType(enqueueOpts.mediaType),
		AutomaticExtension: enqueueOpts.automaticExt,
		AddedAt:            time.Now().UTC(),
	}
	if enqueueOpts.filename != "" {
		p.CustomFilename = &enqueueOpts.filename
	}
	if enqueueOpts.userID != 0 {
		p.FromUserID = &enqueueOpts.userID
	}
	return p
}

func init() {
	f := enqueueCmd.Flags()
	f.StringVar(&enqueueOpts.url, "url", "", "下载地址")
	f.StringVar(&enqueueOpts.mediaType, "type", string(schema.MediaTypeVideo), "媒体类型: AUDIO, VIDEO, AUDIO_VIDEO")
	f.BoolVar(&enqueueOpts.saveToStorage, "save-to-storage", false, "复制到存储目录")
	f.StringVar(&enqueueOpts.filename, "filename", "", "存储目录中使用的文件名")
	f.BoolVar(&enqueueOpts.automaticExt, "auto-ext", false, "自定义文件名自动补全扩展名")
	f.Int64Var(&enqueueOpts.userID, "user-id", 0, "请求用户 ID")
	_ = enqueueCmd.MarkFlagRequired("url")

	rootCmd.AddCommand(enqueueCmd)
}
