package schema

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// MediaType 请求下载的媒体类型
type MediaType string

const (
	MediaTypeAudio      MediaType = "AUDIO"
	MediaTypeVideo      MediaType = "VIDEO"
	MediaTypeAudioVideo MediaType = "AUDIO_VIDEO"
)

// WantsAudio 是否需要音频
func (m MediaType) WantsAudio() bool {
	return m == MediaTypeAudio || m == MediaTypeAudioVideo
}

// WantsVideo 是否需要视频
func (m MediaType) WantsVideo() bool {
	return m == MediaTypeVideo || m == MediaTypeAudioVideo
}

// FileType 单个媒体文件的类型
type FileType string

const (
	FileTypeAudio FileType = "AUDIO"
	FileTypeVideo FileType = "VIDEO"
)

// ErrNoMedia 音频与视频均为空
var ErrNoMedia = errors.New("音频和视频至少需要提供一个")

// BaseMedia 音视频共有字段
type BaseMedia struct {
	FileType  FileType `json:"file_type"`
	Title     string   `json:"title"`
	Filename  string   `json:"filename"`
	Filepath  string   `json:"filepath"`
	FileSize  int64    `json:"file_size"`
	Duration  *float64 `json:"duration"`
	OrmFileID *string  `json:"orm_file_id"`

	SavedToStorage bool    `json:"saved_to_storage"`
	StoragePath    *string `json:"storage_path"`

	IsConverted       bool    `json:"is_converted"`
	ConvertedFilepath *string `json:"converted_filepath"`
	ConvertedFilename *string `json:"converted_filename"`
	ConvertedFileSize *int64  `json:"converted_file_size"`
}

// CurrentFilepath 转码后返回转码文件路径
func (m *BaseMedia) CurrentFilepath() string {
	if m.IsConverted && m.ConvertedFilepath != nil {
		return *m.ConvertedFilepath
	}
	return m.Filepath
}

// CurrentFilename 转码后返回转码文件名
func (m *BaseMedia) CurrentFilename() string {
	if m.IsConverted && m.ConvertedFilename != nil {
		return *m.ConvertedFilename
	}
	return m.Filename
}

// CurrentFileSize 转码后返回转码文件大小
func (m *BaseMedia) CurrentFileSize() int64 {
	if m.ConvertedFileSize != nil {
		return *m.ConvertedFileSize
	}
	return m.FileSize
}

// MarkAsConverted 记录转码结果，原文件保留
func (m *BaseMedia) MarkAsConverted(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("读取转码文件失败: %w", err)
	}
	name := filepath.Base(path)
	size := info.Size()
	m.ConvertedFilepath = &path
	m.ConvertedFilename = &name
	m.ConvertedFileSize = &size
	m.IsConverted = true
	return nil
}

// MarkAsSavedToStorage 记录已复制到存储目录
func (m *BaseMedia) MarkAsSavedToStorage(path string) {
	m.StoragePath = &path
	m.SavedToStorage = true
}

// Base 返回公共字段指针
func (m *BaseMedia) Base() *BaseMedia {
	return m
}

// Audio 下载得到的音频
type Audio struct {
	BaseMedia
}

// NewAudio 创建音频描述
func NewAudio(title, path string, size int64, duration *float64) *Audio {
	return &Audio{BaseMedia{
		FileType: FileTypeAudio,
		Title:    title,
		Filename: filepath.Base(path),
		Filepath: path,
		FileSize: size,
		Duration: duration,
	}}
}

// Video 下载得到的视频，缩略图单独存放
type Video struct {
	BaseMedia
	ThumbName string  `json:"thumb_name"`
	Width     *int    `json:"width"`
	Height    *int    `json:"height"`
	ThumbPath *string `json:"thumb_path"`
}

// NewVideo 创建视频描述，缩略图名默认为 <文件名>-thumb.jpg
func NewVideo(title, path string, size int64, duration *float64, width, height *int, thumbPath string) *Video {
	v := &Video{
		BaseMedia: BaseMedia{
			FileType: FileTypeVideo,
			Title:    title,
			Filename: filepath.Base(path),
			Filepath: path,
			FileSize: size,
			Duration: duration,
		},
		Width:  width,
		Height: height,
	}
	if thumbPath != "" {
		v.ThumbName = filepath.Base(thumbPath)
		v.ThumbPath = &thumbPath
	} else {
		v.ThumbName = v.Filename + "-thumb.jpg"
	}
	return v
}

// DefaultThumbPath 缩略图在视频同目录下的默认位置
func (v *Video) DefaultThumbPath() string {
	return filepath.Join(filepath.Dir(v.Filepath), v.ThumbName)
}

// HasContext 时长与分辨率是否齐全
func (v *Video) HasContext() bool {
	return v.Duration != nil && v.Width != nil && v.Height != nil
}

// MediaFile 音频或视频的共同视图
type MediaFile interface {
	Base() *BaseMedia
}

// DownMedia 一次下载的全部产物
type DownMedia struct {
	Audio     *Audio         `json:"audio"`
	Video     *Video         `json:"video"`
	MediaType MediaType      `json:"media_type"`
	RootPath  string         `json:"root_path"`
	Meta      map[string]any `json:"meta"`
}

// Validate 至少包含音频或视频之一
func (d *DownMedia) Validate() error {
	if d.Audio == nil && d.Video == nil {
		return ErrNoMedia
	}
	return nil
}

// MediaObjects 按音频、视频顺序返回非空的媒体
func (d *DownMedia) MediaObjects() []MediaFile {
	objs := make([]MediaFile, 0, 2)
	if d.Audio != nil {
		objs = append(objs, d.Audio)
	}
	if d.Video != nil {
		objs = append(objs, d.Video)
	}
	return objs
}
