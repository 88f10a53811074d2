package pathhelper

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// 文件名中不允许出现的字符
var unsafeNamePattern = regexp.MustCompile(`[/\\:*?"<>|\x00-\x1f]+`)

// maxNameBytes 大多数文件系统的文件名长度上限
const maxNameBytes = 255

// IsSubPath 检查 path 是否位于 root 之内
func IsSubPath(path, root string) bool {
	rel, err := filepath.Rel(filepath.Clean(root), filepath.Clean(path))
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// HasExt 比较扩展名，忽略大小写与前导点
func HasExt(path, ext string) bool {
	ext = strings.ToLower(strings.TrimSpace(ext))
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return strings.ToLower(filepath.Ext(path)) == ext
}

// FindByExt 返回目录下第一个匹配扩展名的文件，按名称排序保证结果稳定
func FindByExt(dir, ext string) (string, bool) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", false
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.Type().IsRegular() && HasExt(e.Name(), ext) {
			names = append(names, e.Name())
		}
	}
	if len(names) == 0 {
		return "", false
	}
	sort.Strings(names)
	return filepath.Join(dir, names[0]), true
}

// FileSize 文件大小，失败时返回错误
func FileSize(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// Exists 文件是否存在
func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// MoveFile 优先 rename，跨设备时复制后删除源文件
func MoveFile(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return fmt.Errorf("创建目标目录失败: %w", err)
	}
	if err := os.Rename(src, dst); err == nil {
		return nil
	}
	if err := CopyFile(src, dst); err != nil {
		return err
	}
	if err := os.Remove(src); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("删除源文件失败: %w", err)
	}
	return nil
}

// CopyFile 复制文件内容与权限，目标已存在时覆盖
func CopyFile(src, dst string) error {
	return copyFile(src, func(perm os.FileMode) (*os.File, error) {
		return os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	}, dst)
}

// maxUniqueAttempts CopyFileUnique 尝试的序号上限
const maxUniqueAttempts = 1000

// CopyFileUnique 复制到 dst，已存在时依次尝试 "name (1).ext"、"name (2).ext"，
// 从不覆盖已有文件。返回实际写入的路径
func CopyFileUnique(src, dst string) (string, error) {
	dir := filepath.Dir(dst)
	ext := filepath.Ext(dst)
	stem := strings.TrimSuffix(filepath.Base(dst), ext)

	for i := 0; i < maxUniqueAttempts; i++ {
		target := dst
		if i > 0 {
			target = filepath.Join(dir, fmt.Sprintf("%s (%d)%s", stem, i, ext))
		}
		err := copyFile(src, func(perm os.FileMode) (*os.File, error) {
			return os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_EXCL, perm)
		}, target)
		if err == nil {
			return target, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return "", err
		}
	}
	return "", fmt.Errorf("目标文件名已被占用: %s", dst)
}

func copyFile(src string, create func(perm os.FileMode) (*os.File, error), dst string) (err error) {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("打开源文件失败: %w", err)
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return fmt.Errorf("读取源文件信息失败: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return fmt.Errorf("创建目标目录失败: %w", err)
	}
	out, err := create(info.Mode().Perm())
	if err != nil {
		return fmt.Errorf("创建目标文件失败: %w", err)
	}
	defer func() {
		if cerr := out.Close(); err == nil && cerr != nil {
			err = fmt.Errorf("关闭目标文件失败: %w", cerr)
		}
	}()

	if _, err := io.Copy(out, in); err != nil {
		return fmt.Errorf("复制文件失败: %w", err)
	}
	return nil
}

// SanitizeFilename 用户提供的文件名做 NFC 归一化，去掉路径分隔符与控制字符
func SanitizeFilename(name string) string {
	name = norm.NFC.String(name)
	name = unsafeNamePattern.ReplaceAllString(name, "_")
	name = strings.TrimFunc(name, func(r rune) bool {
		return unicode.IsSpace(r) || r == '.' || r == '_'
	})
	if len(name) > maxNameBytes {
		name = truncateUTF8(name, maxNameBytes)
	}
	return name
}

// StorageFilename 计算复制到存储目录的文件名
func StorageFilename(original string, custom *string, automaticExt bool) string {
	if custom == nil {
		return original
	}
	name := SanitizeFilename(*custom)
	if name == "" {
		return original
	}
	if automaticExt {
		ext := filepath.Ext(original)
		if ext != "" && !HasExt(name, ext) {
			name = truncateUTF8(name, maxNameBytes-len(ext)) + ext
		}
	}
	return name
}

func truncateUTF8(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	cut := 0
	for i := range s {
		if i > limit {
			break
		}
		cut = i
	}
	return s[:cut]
}
