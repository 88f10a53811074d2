package schema

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"ytdl-worker/app/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeInbound(t *testing.T) {
	t.Run("当前格式", func(t *testing.T) {
		body := `{
			"id": "0b5cb4c4-9f5d-4d39-9c0a-23b7c1e0a6a1",
			"from_chat_id": 100, "from_chat_type": "private", "from_user_id": 7,
			"message_id": 55, "ack_message_id": 56,
			"url": "https://www.instagram.com/p/abc/", "original_url": "https://www.instagram.com/p/abc/?igsh=1",
			"source": "BOT", "save_to_storage": true, "download_media_type": "AUDIO_VIDEO",
			"custom_filename": "clip", "automatic_extension": true
		}`
		p, err := DecodeInbound([]byte(body))
		require.NoError(t, err)
		assert.Equal(t, MediaTypeAudioVideo, p.DownloadMediaType)
		assert.Equal(t, model.TaskSourceBot, p.Source)
		assert.True(t, p.SaveToStorage)
		assert.Equal(t, int64(56), *p.AckMessageID)
		assert.False(t, p.AddedAt.IsZero())
	})

	t.Run("旧版视频格式", func(t *testing.T) {
		body := `{"id": null, "from_chat_id": 1, "from_chat_type": "group", "from_user_id": 2,
			"message_id": 3, "url": "https://x.com/a/status/1", "source": "API"}`
		p, err := DecodeInbound([]byte(body))
		require.NoError(t, err)
		assert.Equal(t, MediaTypeVideo, p.DownloadMediaType)
		assert.Equal(t, p.URL, p.OriginalURL)
		assert.False(t, p.SaveToStorage)
	})

	t.Run("未知字段被拒绝", func(t *testing.T) {
		body := `{"url": "https://a.b/c", "original_url": "https://a.b/c", "source": "API",
			"save_to_storage": false, "download_media_type": "VIDEO", "extra": 1}`
		_, err := DecodeInbound([]byte(body))
		assert.ErrorIs(t, err, ErrUndecodable)
	})

	t.Run("非法枚举", func(t *testing.T) {
		body := `{"url": "https://a.b/c", "original_url": "https://a.b/c", "source": "CLI",
			"save_to_storage": false, "download_media_type": "VIDEO"}`
		_, err := DecodeInbound([]byte(body))
		assert.ErrorIs(t, err, ErrUndecodable)
	})

	t.Run("不是 JSON", func(t *testing.T) {
		_, err := DecodeInbound([]byte("hello"))
		assert.ErrorIs(t, err, ErrUndecodable)
	})
}

func TestMarkAsConverted(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "video-h264.mp4")
	require.NoError(t, os.WriteFile(out, []byte("12345"), 0o644))

	v := NewVideo("title", filepath.Join(dir, "video.mp4"), 100, nil, nil, nil, "")
	assert.Equal(t, "video.mp4-thumb.jpg", v.ThumbName)
	assert.Equal(t, "video.mp4", v.CurrentFilename())

	require.NoError(t, v.MarkAsConverted(out))
	assert.True(t, v.IsConverted)
	assert.Equal(t, "video-h264.mp4", v.CurrentFilename())
	assert.Equal(t, int64(5), v.CurrentFileSize())
	assert.Equal(t, "video.mp4", v.Filename)
}

func TestDownMediaValidate(t *testing.T) {
	m := &DownMedia{MediaType: MediaTypeVideo}
	assert.ErrorIs(t, m.Validate(), ErrNoMedia)

	m.Audio = NewAudio("a", "/tmp/a.mp3", 1, nil)
	assert.NoError(t, m.Validate())
	assert.Len(t, m.MediaObjects(), 1)
}

func TestErrorPayloadJSON(t *testing.T) {
	ctx := &InbMediaPayload{URL: "https://a.b/c", Source: model.TaskSourceAPI}
	p := NewGeneralErrorPayload(ctx, "boom", "RuntimeError", nil)

	data, err := json.Marshal(p)
	require.NoError(t, err)

	var out map[string]any
	require.NoError(t, json.Unmarshal(data, &out))
	assert.Equal(t, "GENERAL_ERROR", out["type"])
	assert.Nil(t, out["task_id"])
	assert.Equal(t, MessageGeneralError, out["message"])
}
