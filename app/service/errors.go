package service

import (
	"errors"
	"fmt"
	"strings"

	"ytdl-worker/app/model"
)

// ErrAlreadyProcessed 任务不是 PENDING，重复投递时直接确认消息
var ErrAlreadyProcessed = errors.New("任务已被处理")

// DownloadServiceError 下载阶段失败，任务已标记为 FAILED
type DownloadServiceError struct {
	Task *model.Task
	Err  error
}

func (e *DownloadServiceError) Error() string {
	return e.Err.Error()
}

func (e *DownloadServiceError) Unwrap() error {
	return e.Err
}

// PostProcessError 后处理失败，产物已清理，任务已标记为 FAILED
type PostProcessError struct {
	Task *model.Task
	Err  error
}

func (e *PostProcessError) Error() string {
	return e.Err.Error()
}

func (e *PostProcessError) Unwrap() error {
	return e.Err
}

// taskOf 返回错误中携带的任务
func taskOf(err error) *model.Task {
	var dlErr *DownloadServiceError
	if errors.As(err, &dlErr) {
		return dlErr.Task
	}
	var ppErr *PostProcessError
	if errors.As(err, &ppErr) {
		return ppErr.Task
	}
	return nil
}

// errorType 出站消息中的 exception_type，取最外层错误不带包名的类型名
func errorType(err error) string {
	name := strings.TrimPrefix(fmt.Sprintf("%T", err), "*")
	if i := strings.LastIndex(name, "."); i >= 0 {
		name = name[i+1:]
	}
	return name
}
