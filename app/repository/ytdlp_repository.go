package repository

import (
	"context"
	"errors"
	"fmt"

	"ytdl-worker/app/model"

	"gorm.io/gorm"
)

// ErrMultipleVersions yt_dlp 表中只允许一行
var ErrMultipleVersions = errors.New("yt_dlp 表中存在多条版本记录")

type YtdlpRepository struct {
	db *gorm.DB
}

func NewYtdlpRepository(db *gorm.DB) *YtdlpRepository {
	return &YtdlpRepository{db: db}
}

// CreateOrUpdateVersion 写入当前版本，没有记录时创建
func (r *YtdlpRepository) CreateOrUpdateVersion(ctx context.Context, version string) (*model.YtdlpVersion, error) {
	var result model.YtdlpVersion
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rows []model.YtdlpVersion
		if err := tx.Find(&rows).Error; err != nil {
			return err
		}
		switch len(rows) {
		case 0:
			result = model.YtdlpVersion{Current: version}
			return tx.Create(&result).Error
		case 1:
			result = rows[0]
			result.Current = version
			return tx.Save(&result).Error
		default:
			return ErrMultipleVersions
		}
	})
	if err != nil {
		return nil, fmt.Errorf("保存 yt-dlp 版本失败: %w", err)
	}
	return &result, nil
}

// GetCurrentVersion 没有记录时返回 gorm.ErrRecordNotFound
func (r *YtdlpRepository) GetCurrentVersion(ctx context.Context) (*model.YtdlpVersion, error) {
	var v model.YtdlpVersion
	if err := r.db.WithContext(ctx).First(&v).Error; err != nil {
		return nil, err
	}
	return &v, nil
}
