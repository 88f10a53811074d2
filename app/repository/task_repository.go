package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"ytdl-worker/app/logger"
	"ytdl-worker/app/model"
	"ytdl-worker/app/schema"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	// ErrInvalidTransition 状态不符合预期，任务可能已被其他消费者处理
	ErrInvalidTransition = errors.New("任务状态流转非法")
	// ErrNoFiles 没有任何文件的任务不能标记为完成
	ErrNoFiles = errors.New("任务没有关联文件，不能标记为完成")
)

// Stats 任务统计
type Stats struct {
	Total      int64 `json:"total"`
	UniqueURLs int64 `json:"unique_urls"`
	Pending    int64 `json:"pending"`
	Processing int64 `json:"processing"`
	Failed     int64 `json:"failed"`
	Done       int64 `json:"done"`
}

// CacheInfo 聊天平台返回的文件标识
type CacheInfo struct {
	CacheID       string
	CacheUniqueID string
	FileSize      int64
	DateTimestamp time.Time
}

// TaskRepository 任务、文件与缓存的持久化，状态只能单向流转
type TaskRepository struct {
	db  *gorm.DB
	log *logger.Logger

	// 串行化 "创建文件记录并落库" 这一步
	fileMu sync.Mutex

	ytdlpVersion *string
}

func NewTaskRepository(db *gorm.DB, log *logger.Logger) *TaskRepository {
	return &TaskRepository{db: db, log: log.Named("task_repository")}
}

// WithYtdlpVersion 之后开始处理的任务都会记录此版本
func (r *TaskRepository) WithYtdlpVersion(version *string) *TaskRepository {
	r.ytdlpVersion = version
	return r
}

// GetOrCreateTask 以请求 ID 为幂等键，重复投递返回已有任务
func (r *TaskRepository) GetOrCreateTask(ctx context.Context, p *schema.InbMediaPayload) (*model.Task, error) {
	task := &model.Task{
		URL:          p.URL,
		Status:       model.TaskStatusPending,
		Source:       p.Source,
		FromChatID:   p.FromChatID,
		FromChatType: p.FromChatType,
		FromUserID:   p.FromUserID,
		MessageID:    p.MessageID,
		AckMessageID: p.AckMessageID,
		AddedAt:      p.AddedAt,
	}
	if p.ID != nil {
		task.ID = *p.ID
	}

	db := r.db.WithContext(ctx)
	if p.ID == nil {
		if err := db.Create(task).Error; err != nil {
			return nil, fmt.Errorf("创建任务失败: %w", err)
		}
		r.log.Infof("创建任务 %s: %s", task.ID, task.URL)
		return task, nil
	}

	res := db.Clauses(clause.OnConflict{DoNothing: true}).Create(task)
	if res.Error != nil {
		return nil, fmt.Errorf("创建任务失败: %w", res.Error)
	}
	if res.RowsAffected == 1 {
		r.log.Infof("创建任务 %s: %s", task.ID, task.URL)
		return task, nil
	}

	var existing model.Task
	if err := db.First(&existing, "id = ?", task.ID).Error; err != nil {
		return nil, fmt.Errorf("读取任务失败: %w", err)
	}
	r.log.Infof("任务 %s 已存在，状态 %s", existing.ID, existing.Status)
	return &existing, nil
}

// GetTask 按 ID 读取任务及其文件
func (r *TaskRepository) GetTask(ctx context.Context, id string) (*model.Task, error) {
	var task model.Task
	err := r.db.WithContext(ctx).Preload("Files.Cache").First(&task, "id = ?", id).Error
	if err != nil {
		return nil, err
	}
	return &task, nil
}

// SaveAsProcessing PENDING -> PROCESSING
func (r *TaskRepository) SaveAsProcessing(ctx context.Context, task *model.Task) error {
	updates := map[string]any{"status": model.TaskStatusProcessing}
	if r.ytdlpVersion != nil {
		updates["ytdlp_version"] = *r.ytdlpVersion
	}
	if err := r.transition(r.db.WithContext(ctx), task, model.TaskStatusPending, updates); err != nil {
		return err
	}
	task.YtdlpVersion = r.ytdlpVersion
	return nil
}

// SaveAsFailed PROCESSING -> FAILED，记录错误信息
func (r *TaskRepository) SaveAsFailed(ctx context.Context, task *model.Task, errMsg string) error {
	updates := map[string]any{"status": model.TaskStatusFailed, "error": errMsg}
	if err := r.transition(r.db.WithContext(ctx), task, model.TaskStatusProcessing, updates); err != nil {
		return err
	}
	task.Error = &errMsg
	return nil
}

// SaveAsDone PROCESSING -> DONE，要求至少已有一个文件
func (r *TaskRepository) SaveAsDone(ctx context.Context, task *model.Task) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var files int64
		if err := tx.Model(&model.File{}).Where("task_id = ?", task.ID).Count(&files).Error; err != nil {
			return err
		}
		if files == 0 {
			return ErrNoFiles
		}
		return r.transition(tx, task, model.TaskStatusProcessing, map[string]any{"status": model.TaskStatusDone})
	})
}

// transition 条件更新，当前状态不是 from 时不做修改
func (r *TaskRepository) transition(db *gorm.DB, task *model.Task, from model.TaskStatus, updates map[string]any) error {
	to := updates["status"].(model.TaskStatus)
	res := db.Model(&model.Task{}).
		Where("id = ? AND status = ?", task.ID, from).
		Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("更新任务状态失败: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: 任务 %s 期望 %s -> %s", ErrInvalidTransition, task.ID, from, to)
	}
	task.Status = to
	r.log.Infof("任务 %s 状态 %s -> %s", task.ID, from, to)
	return nil
}

// SaveFile 为任务保存一个文件记录，文件名取当前（转码后）文件名
func (r *TaskRepository) SaveFile(ctx context.Context, task *model.Task, media schema.MediaFile, meta map[string]any) (*model.File, error) {
	base := media.Base()
	file := &model.File{
		TaskID: task.ID,
		Title:  base.Title,
		Name:   base.CurrentFilename(),
	}
	if base.Duration != nil {
		d := int(math.Round(*base.Duration))
		file.Duration = &d
	}
	if v, ok := media.(*schema.Video); ok {
		file.Width = v.Width
		file.Height = v.Height
		// 缩略图生成失败时 ThumbPath 被清空，不记录文件名
		if v.ThumbPath != nil && v.ThumbName != "" {
			thumb := v.ThumbName
			file.ThumbName = &thumb
		}
	}
	if meta != nil {
		data, err := json.Marshal(meta)
		if err != nil {
			return nil, fmt.Errorf("序列化元数据失败: %w", err)
		}
		file.Meta = string(data)
	}

	r.fileMu.Lock()
	defer r.fileMu.Unlock()

	if err := r.db.WithContext(ctx).Create(file).Error; err != nil {
		return nil, fmt.Errorf("保存文件记录失败: %w", err)
	}
	id := file.ID
	base.OrmFileID = &id
	return file, nil
}

// SaveFileCache 记录文件在聊天平台上的缓存标识，重复保存时更新
func (r *TaskRepository) SaveFileCache(ctx context.Context, fileID string, info CacheInfo) (*model.Cache, error) {
	cache := &model.Cache{
		FileID:        fileID,
		CacheID:       info.CacheID,
		CacheUniqueID: info.CacheUniqueID,
		FileSize:      info.FileSize,
		DateTimestamp: info.DateTimestamp,
	}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "file_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"cache_id", "cache_unique_id", "file_size", "date_timestamp"}),
	}).Create(cache).Error
	if err != nil {
		return nil, fmt.Errorf("保存缓存失败: %w", err)
	}

	// 走更新分支时 cache.ID 是新生成的，并不是表里的主键，重新读取
	var stored model.Cache
	if err := r.db.WithContext(ctx).Where("file_id = ?", fileID).First(&stored).Error; err != nil {
		return nil, fmt.Errorf("读取缓存失败: %w", err)
	}
	return &stored, nil
}

// PurgeUserTasks 删除指定用户已结束的任务，includeAnonymous 时包含无用户的任务
func (r *TaskRepository) PurgeUserTasks(ctx context.Context, userIDs []int64, includeAnonymous bool) (int64, error) {
	if len(userIDs) == 0 && !includeAnonymous {
		return 0, nil
	}
	return r.purge(ctx, func(q *gorm.DB) *gorm.DB {
		q = q.Where("status NOT IN ?", []model.TaskStatus{model.TaskStatusPending, model.TaskStatusProcessing})
		switch {
		case len(userIDs) > 0 && includeAnonymous:
			return q.Where("from_user_id IN ? OR from_user_id IS NULL", userIDs)
		case len(userIDs) > 0:
			return q.Where("from_user_id IN ?", userIDs)
		default:
			return q.Where("from_user_id IS NULL")
		}
	})
}

// PurgeFinishedBefore 删除指定终态且早于 before 的任务
func (r *TaskRepository) PurgeFinishedBefore(ctx context.Context, status model.TaskStatus, before time.Time) (int64, error) {
	if !status.IsFinished() {
		return 0, fmt.Errorf("只能清理已结束的任务: %s", status)
	}
	return r.purge(ctx, func(q *gorm.DB) *gorm.DB {
		return q.Where("status = ? AND updated_at < ?", status, before.UTC())
	})
}

// purge 删除满足条件的任务及其文件、缓存
func (r *TaskRepository) purge(ctx context.Context, scope func(*gorm.DB) *gorm.DB) (int64, error) {
	var deleted int64
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var taskIDs []string
		if err := scope(tx.Model(&model.Task{})).Pluck("id", &taskIDs).Error; err != nil {
			return err
		}
		if len(taskIDs) == 0 {
			return nil
		}

		fileIDs := tx.Model(&model.File{}).Select("id").Where("task_id IN ?", taskIDs)
		if err := tx.Where("file_id IN (?)", fileIDs).Delete(&model.Cache{}).Error; err != nil {
			return err
		}
		if err := tx.Where("task_id IN ?", taskIDs).Delete(&model.File{}).Error; err != nil {
			return err
		}
		res := tx.Where("id IN ?", taskIDs).Delete(&model.Task{})
		if res.Error != nil {
			return res.Error
		}
		deleted = res.RowsAffected
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("清理任务失败: %w", err)
	}
	if deleted > 0 {
		r.log.Infof("已清理 %d 个任务", deleted)
	}
	return deleted, nil
}

// GetStats 任务总数、去重 URL 数与各状态数量
func (r *TaskRepository) GetStats(ctx context.Context) (*Stats, error) {
	db := r.db.WithContext(ctx)
	stats := &Stats{}

	if err := db.Model(&model.Task{}).Count(&stats.Total).Error; err != nil {
		return nil, err
	}
	if err := db.Model(&model.Task{}).Distinct("url").Count(&stats.UniqueURLs).Error; err != nil {
		return nil, err
	}

	var rows []struct {
		Status model.TaskStatus
		Count  int64
	}
	if err := db.Model(&model.Task{}).Select("status, count(*) AS count").Group("status").Scan(&rows).Error; err != nil {
		return nil, err
	}
	for _, row := range rows {
		switch row.Status {
		case model.TaskStatusPending:
			stats.Pending = row.Count
		case model.TaskStatusProcessing:
			stats.Processing = row.Count
		case model.TaskStatusFailed:
			stats.Failed = row.Count
		case model.TaskStatusDone:
			stats.Done = row.Count
		}
	}
	return stats, nil
}
