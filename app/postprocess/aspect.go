package postprocess

import (
	"fmt"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp"
)

// AspectRatio 用最大公约数约分宽高
func AspectRatio(width, height int) (int, int) {
	if width <= 0 || height <= 0 {
		return 0, 0
	}
	a, b := width, height
	for b != 0 {
		a, b = b, a%b
	}
	return width / a, height / a
}

// SameAspect 两组宽高约分后是否一致
func SameAspect(w1, h1, w2, h2 int) bool {
	a1, b1 := AspectRatio(w1, h1)
	a2, b2 := AspectRatio(w2, h2)
	return a1 == a2 && b1 == b2
}

// ImageSize 读取图片宽高，支持 jpeg、png、webp
func ImageSize(path string) (int, int, error) {
	img, err := imaging.Open(path)
	if err != nil {
		return 0, 0, fmt.Errorf("读取图片失败: %w", err)
	}
	b := img.Bounds()
	return b.Dx(), b.Dy(), nil
}
