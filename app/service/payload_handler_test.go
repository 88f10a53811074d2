package service

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"ytdl-worker/app/logger"
	"ytdl-worker/app/model"
	"ytdl-worker/app/rabbit"
	"ytdl-worker/app/schema"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProcessor struct {
	got   *schema.InbMediaPayload
	task  *model.Task
	media *schema.DownMedia
	err   error
	panic bool
}

func (f *fakeProcessor) Process(_ context.Context, p *schema.InbMediaPayload) (*model.Task, *schema.DownMedia, error) {
	f.got = p
	if f.panic {
		panic("boom")
	}
	return f.task, f.media, f.err
}

type fakePublisher struct {
	success []*schema.SuccessPayload
	errs    []*schema.ErrorPayload
	err     error
}

func (f *fakePublisher) PublishSuccess(_ context.Context, p *schema.SuccessPayload) error {
	f.success = append(f.success, p)
	return f.err
}

func (f *fakePublisher) PublishError(_ context.Context, p *schema.ErrorPayload) error {
	f.errs = append(f.errs, p)
	return f.err
}

type fakeAck struct {
	acked    bool
	rejected bool
	requeue  bool
}

func (f *fakeAck) Ack(bool) error {
	f.acked = true
	return nil
}

func (f *fakeAck) Reject(requeue bool) error {
	f.rejected = true
	f.requeue = requeue
	return nil
}

var _ rabbit.DeliveryHandler = (*PayloadHandler)(nil)

type staticVersion string

func (v staticVersion) Current() *string {
	s := string(v)
	return &s
}

const validBody = `{
	"id": "7f0c1e0e-4b8e-4c55-9d7c-0a4a4d1f6c11",
	"url": "https://example.com/watch?v=1",
	"original_url": "https://example.com/watch?v=1",
	"source": "BOT",
	"from_chat_id": 100,
	"from_chat_type": "private",
	"from_user_id": 7,
	"message_id": 5,
	"save_to_storage": false,
	"download_media_type": "VIDEO",
	"automatic_extension": false
}`

func newHandler(proc *fakeProcessor, pub *fakePublisher) *PayloadHandler {
	return NewPayloadHandler(proc, pub, staticVersion("2025.06.30"), logger.Nop())
}

func TestHandleDeliverySuccess(t *testing.T) {
	task := &model.Task{ID: "7f0c1e0e-4b8e-4c55-9d7c-0a4a4d1f6c11", Status: model.TaskStatusDone}
	proc := &fakeProcessor{task: task, media: &schema.DownMedia{MediaType: schema.MediaTypeVideo}}
	pub := &fakePublisher{}
	ack := &fakeAck{}

	newHandler(proc, pub).HandleDelivery(context.Background(), []byte(validBody), ack)

	assert.True(t, ack.acked)
	assert.False(t, ack.rejected)
	require.Len(t, pub.success, 1)
	assert.Equal(t, schema.PayloadTypeSuccess, pub.success[0].Type)
	assert.Equal(t, task.ID, pub.success[0].TaskID)
	assert.Equal(t, "2025.06.30", *pub.success[0].YtdlpVersion)
	assert.Equal(t, int64(100), *pub.success[0].FromChatID)
}

func TestHandleDeliveryUndecodable(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"不是 JSON", "not json"},
		{"未知字段", `{"url": "https://example.com", "source": "API", "extra": 1}`},
		{"校验失败", `{"url": "not-a-url", "source": "API"}`},
		{"未知媒体类型", `{"url": "https://a.com", "original_url": "https://a.com", "source": "BOT", "download_media_type": "GIF"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			proc := &fakeProcessor{}
			pub := &fakePublisher{}
			ack := &fakeAck{}

			newHandler(proc, pub).HandleDelivery(context.Background(), []byte(tt.body), ack)

			assert.True(t, ack.rejected)
			assert.False(t, ack.requeue)
			assert.False(t, ack.acked)
			assert.Nil(t, proc.got)
			assert.Empty(t, pub.errs)
		})
	}
}

func TestHandleDeliveryLegacyPayload(t *testing.T) {
	proc := &fakeProcessor{err: ErrAlreadyProcessed, task: &model.Task{ID: "x"}}
	ack := &fakeAck{}

	newHandler(proc, &fakePublisher{}).HandleDelivery(context.Background(), []byte(`{"url": "https://example.com/v", "source": "API"}`), ack)

	require.NotNil(t, proc.got)
	assert.Equal(t, schema.MediaTypeVideo, proc.got.DownloadMediaType)
	assert.Equal(t, "https://example.com/v", proc.got.OriginalURL)
	assert.True(t, ack.acked)
}

func TestHandleDeliveryDownloadError(t *testing.T) {
	task := &model.Task{ID: "7f0c1e0e-4b8e-4c55-9d7c-0a4a4d1f6c11", Status: model.TaskStatusFailed}
	proc := &fakeProcessor{task: task, err: &DownloadServiceError{Task: task, Err: errors.New("unsupported url")}}
	pub := &fakePublisher{}
	ack := &fakeAck{}

	newHandler(proc, pub).HandleDelivery(context.Background(), []byte(validBody), ack)

	assert.True(t, ack.acked)
	require.Len(t, pub.errs, 1)
	payload := pub.errs[0]
	assert.Equal(t, schema.PayloadTypeDownloadError, payload.Type)
	assert.Equal(t, task.ID, *payload.TaskID)
	assert.Equal(t, schema.MessageDownloadError, payload.Message)
	assert.Equal(t, "unsupported url", payload.ExceptionMsg)
	assert.Equal(t, "DownloadServiceError", payload.ExceptionType)
}

func TestHandleDeliveryPostProcessError(t *testing.T) {
	task := &model.Task{ID: "t1"}
	proc := &fakeProcessor{task: task, err: &PostProcessError{Task: task, Err: errors.New("probe failed")}}
	pub := &fakePublisher{}

	newHandler(proc, pub).HandleDelivery(context.Background(), []byte(validBody), &fakeAck{})

	require.Len(t, pub.errs, 1)
	assert.Equal(t, schema.PayloadTypeDownloadError, pub.errs[0].Type)
	assert.Equal(t, "PostProcessError", pub.errs[0].ExceptionType)
}

func TestHandleDeliveryGeneralError(t *testing.T) {
	proc := &fakeProcessor{err: fmt.Errorf("创建任务失败: %w", errors.New("database is locked"))}
	pub := &fakePublisher{}
	ack := &fakeAck{}

	newHandler(proc, pub).HandleDelivery(context.Background(), []byte(validBody), ack)

	assert.True(t, ack.acked)
	require.Len(t, pub.errs, 1)
	assert.Equal(t, schema.PayloadTypeGeneralError, pub.errs[0].Type)
	assert.Nil(t, pub.errs[0].TaskID)
	assert.Equal(t, schema.MessageGeneralError, pub.errs[0].Message)
	assert.Equal(t, int64(5), *pub.errs[0].MessageID)
	assert.Equal(t, "wrapError", pub.errs[0].ExceptionType)
}

func TestErrorType(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{&DownloadServiceError{Err: errors.New("x")}, "DownloadServiceError"},
		{&PostProcessError{Err: errors.New("x")}, "PostProcessError"},
		{errors.New("x"), "errorString"},
		{ErrAlreadyProcessed, "errorString"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, errorType(tt.err))
		})
	}
}

func TestHandleDeliveryDuplicate(t *testing.T) {
	pub := &fakePublisher{}
	ack := &fakeAck{}

	newHandler(&fakeProcessor{err: ErrAlreadyProcessed}, pub).HandleDelivery(context.Background(), []byte(validBody), ack)

	assert.True(t, ack.acked)
	assert.Empty(t, pub.success)
	assert.Empty(t, pub.errs)
}

func TestHandleDeliveryPublishFailureRejects(t *testing.T) {
	proc := &fakeProcessor{task: &model.Task{ID: "t"}, media: &schema.DownMedia{}}
	pub := &fakePublisher{err: rabbit.ErrPublishUnconfirmed}
	ack := &fakeAck{}

	newHandler(proc, pub).HandleDelivery(context.Background(), []byte(validBody), ack)

	assert.False(t, ack.acked)
	assert.True(t, ack.rejected)
	assert.False(t, ack.requeue)
}

func TestHandleDeliveryPanicRejects(t *testing.T) {
	ack := &fakeAck{}

	assert.NotPanics(t, func() {
		newHandler(&fakeProcessor{panic: true}, &fakePublisher{}).HandleDelivery(context.Background(), []byte(validBody), ack)
	})
	assert.True(t, ack.rejected)
	assert.False(t, ack.acked)
}
