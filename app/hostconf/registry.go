package hostconf

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
)

var (
	ErrDuplicateFallback = errors.New("兜底站点配置只能有一个")
	ErrDuplicateHostname = errors.New("域名已被其他站点配置占用")
	ErrNoFallback        = errors.New("未注册兜底站点配置")
	ErrRegistryFrozen    = errors.New("站点注册表已冻结")
)

// Registry 域名到站点配置的映射，启动时注册，之后只读
type Registry struct {
	mu       sync.RWMutex
	byHost   map[string]HostConfig
	fallback HostConfig
	frozen   bool
}

func NewRegistry() *Registry {
	return &Registry{byHost: make(map[string]HostConfig)}
}

// Register 登记站点配置，域名冲突或重复兜底时报错且不做任何修改
func (r *Registry) Register(h HostConfig) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen {
		return ErrRegistryFrozen
	}

	hostnames := h.Hostnames()
	if hostnames == nil {
		if r.fallback != nil {
			return fmt.Errorf("%w: %s 与 %s", ErrDuplicateFallback, r.fallback.Name(), h.Name())
		}
		r.fallback = h
		return nil
	}

	normalized := make([]string, 0, len(hostnames))
	seen := make(map[string]struct{}, len(hostnames))
	for _, name := range hostnames {
		key := normalizeHost(name)
		if owner, ok := r.byHost[key]; ok {
			return fmt.Errorf("%w: %s 已属于 %s", ErrDuplicateHostname, key, owner.Name())
		}
		if _, ok := seen[key]; ok {
			return fmt.Errorf("%w: %s 在 %s 中重复", ErrDuplicateHostname, key, h.Name())
		}
		seen[key] = struct{}{}
		normalized = append(normalized, key)
	}
	for _, key := range normalized {
		r.byHost[key] = h
	}
	return nil
}

// Freeze 禁止后续注册
func (r *Registry) Freeze() {
	r.mu.Lock()
	r.frozen = true
	r.mu.Unlock()
}

// Resolve 精确匹配域名，未命中返回兜底配置
func (r *Registry) Resolve(hostname string) (HostConfig, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if h, ok := r.byHost[normalizeHost(hostname)]; ok {
		return h, nil
	}
	if r.fallback == nil {
		return nil, ErrNoFallback
	}
	return r.fallback, nil
}

// ResolveURL 从 URL 中取出域名后解析
func (r *Registry) ResolveURL(rawURL string) (HostConfig, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("解析 URL 失败: %w", err)
	}
	return r.Resolve(u.Hostname())
}

// Names 已注册的站点名称，兜底配置在最前
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.byHost)+1)
	seen := make(map[string]struct{})
	if r.fallback != nil {
		names = append(names, r.fallback.Name())
		seen[r.fallback.Name()] = struct{}{}
	}
	for _, h := range r.byHost {
		if _, ok := seen[h.Name()]; !ok {
			seen[h.Name()] = struct{}{}
			names = append(names, h.Name())
		}
	}
	return names
}

func normalizeHost(h string) string {
	return strings.TrimSuffix(strings.ToLower(strings.TrimSpace(h)), ".")
}
