package downloader

import (
	"errors"
	"math"
	"path/filepath"
	"strings"

	"ytdl-worker/app/hostconf"
)

const playlistType = "playlist"

// info yt-dlp --dump-single-json 输出中用到的字段
type info struct {
	Type               string              `json:"_type"`
	Title              string              `json:"title"`
	Duration           *float64            `json:"duration"`
	Entries            []info              `json:"entries"`
	RequestedDownloads []requestedDownload `json:"requested_downloads"`
}

type requestedDownload struct {
	Ext      string   `json:"ext"`
	Filename string   `json:"_filename"`
	Filepath string   `json:"filepath"`
	Width    *float64 `json:"width"`
	Height   *float64 `json:"height"`
}

// entry 播放列表只取第一项
func (i *info) entry() (*info, error) {
	if i.Type != playlistType {
		return i, nil
	}
	if len(i.Entries) == 0 {
		return nil, errors.New("播放列表中没有可处理的条目")
	}
	return &i.Entries[0], nil
}

// requestedVideo 找到请求下载中的视频文件
//
// 先取扩展名不是最终音频格式的一项；若视频被转成音频但保留了原视频，
// ext 会与 _filename 的扩展名不一致，此时以 _filename 作为视频路径。
func requestedVideo(downloads []requestedDownload) (*requestedDownload, bool) {
	for i := range downloads {
		if downloads[i].Ext != hostconf.FinalAudioFormat {
			rd := downloads[i]
			return &rd, true
		}
	}
	for i := range downloads {
		rd := downloads[i]
		fileExt := strings.TrimPrefix(filepath.Ext(rd.Filename), ".")
		if rd.Filename != "" && rd.Ext != fileExt {
			rd.Filepath = rd.Filename
			return &rd, true
		}
	}
	return nil, false
}

func toInt(v *float64) *int {
	if v == nil {
		return nil
	}
	n := int(math.Round(*v))
	return &n
}
