package ghrelease

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"ytdl-worker/app/config"

	"resty.dev/v3"
)

// Release GitHub 发布信息中用到的字段
type Release struct {
	TagName     string    `json:"tag_name"`
	Name        string    `json:"name"`
	HTMLURL     string    `json:"html_url"`
	PublishedAt time.Time `json:"published_at"`
}

// Client GitHub Releases API 客户端
type Client struct {
	repo   string
	client *resty.Client
}

// New 创建客户端
func New(cfg config.VersionAPIConfig) *Client {
	client := resty.New()
	client.SetBaseURL(cfg.BaseURL)
	client.SetHeader("Accept", "application/vnd.github+json")
	if cfg.Timeout > 0 {
		client.SetTimeout(cfg.Timeout)
	}

	return &Client{
		repo:   cfg.Repo,
		client: client,
	}
}

// LatestRelease 获取仓库最新的正式版本
func (c *Client) LatestRelease(ctx context.Context) (*Release, error) {
	var release Release

	resp, err := c.client.R().
		SetContext(ctx).
		SetResult(&release).
		Get(fmt.Sprintf("/repos/%s/releases/latest", c.repo))
	if err != nil {
		return nil, fmt.Errorf("请求最新版本失败: %w", err)
	}

	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("获取最新版本失败，状态码: %d, 响应: %s", resp.StatusCode(), resp.String())
	}
	if release.TagName == "" {
		return nil, fmt.Errorf("响应中不包含 tag_name")
	}

	return &release, nil
}

// Close 释放连接
func (c *Client) Close() error {
	return c.client.Close()
}
