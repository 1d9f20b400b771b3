package image

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/image/draw"

	"scnai-plant-server/src/configs"
	"scnai-plant-server/src/core/utils"
)

const (
	defaultExtension = ".jpg"
	thumbnailPrefix  = "thumb_"
)

// LocalStore 将图片保存到本地目录
type LocalStore struct {
	dir            string
	urlPrefix      string
	thumbnailWidth int
	logger         *utils.TaggedLogger
}

// NewLocalStore 创建本地图片存储
func NewLocalStore(config *configs.UploadConfig, logger *utils.Logger) *LocalStore {
	return &LocalStore{
		dir:            config.Dir,
		urlPrefix:      strings.TrimRight(config.URLPrefix, "/"),
		thumbnailWidth: config.ThumbnailWidth,
		logger:         logger.WithTag("blob"),
	}
}

// Dir 返回存储目录
func (s *LocalStore) Dir() string {
	return s.dir
}

// Save 保存图片，文件名由毫秒时间戳和UUID组成，并发调用无需加锁
func (s *LocalStore) Save(data []byte, originalName string) (*StoredImage, error) {
	// MkdirAll 对已存在的目录返回nil，并发创建同样安全
	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return nil, &StorageError{Op: "创建上传目录", Err: err}
	}

	name := fmt.Sprintf("%d_%s%s", time.Now().UnixMilli(), uuid.New().String(), extensionOf(originalName))
	filePath := filepath.Join(s.dir, name)

	// O_EXCL 保证不会覆盖已有文件
	file, err := os.OpenFile(filePath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return nil, &StorageError{Op: "创建图片文件", Err: err}
	}
	if _, err := file.Write(data); err != nil {
		file.Close()
		os.Remove(filePath)
		return nil, &StorageError{Op: "写入图片文件", Err: err}
	}
	if err := file.Close(); err != nil {
		os.Remove(filePath)
		return nil, &StorageError{Op: "写入图片文件", Err: err}
	}

	stored := &StoredImage{
		Name: name,
		Path: filePath,
		URL:  path.Join(s.urlPrefix, name),
	}

	if s.thumbnailWidth > 0 {
		thumbName, err := s.writeThumbnail(data, name)
		if err != nil {
			s.logger.Warn("生成缩略图失败", map[string]interface{}{
				"name":  name,
				"error": err.Error(),
			})
		} else {
			stored.ThumbnailURL = path.Join(s.urlPrefix, thumbName)
		}
	}

	s.logger.Debug("图片已保存", map[string]interface{}{
		"path": filePath,
		"size": len(data),
	})
	return stored, nil
}

// Delete 删除图片及其缩略图，文件不存在时不报错
func (s *LocalStore) Delete(name string) error {
	if name == "" || name != filepath.Base(name) {
		return &StorageError{Op: "删除图片", Err: fmt.Errorf("非法文件名: %q", name)}
	}

	var errs []error
	for _, n := range []string{name, thumbnailName(name)} {
		if err := os.Remove(filepath.Join(s.dir, n)); err != nil && !os.IsNotExist(err) {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return &StorageError{Op: "删除图片", Err: errors.Join(errs...)}
	}
	return nil
}

// writeThumbnail 按配置宽度等比缩放并保存为JPEG
func (s *LocalStore) writeThumbnail(data []byte, name string) (string, error) {
	decoded, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("解码图片失败: %w", err)
	}
	src := applyOrientation(decoded, ReadOrientation(data))

	bounds := src.Bounds()
	width := min(s.thumbnailWidth, bounds.Dx())
	if width <= 0 {
		return "", fmt.Errorf("图片宽度无效: %d", bounds.Dx())
	}
	height := max(1, bounds.Dy()*width/bounds.Dx())

	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, bounds, draw.Over, nil)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: 85}); err != nil {
		return "", fmt.Errorf("编码缩略图失败: %w", err)
	}

	thumbName := thumbnailName(name)
	if err := os.WriteFile(filepath.Join(s.dir, thumbName), buf.Bytes(), 0644); err != nil {
		return "", fmt.Errorf("保存缩略图失败: %w", err)
	}
	return thumbName, nil
}

func thumbnailName(name string) string {
	return thumbnailPrefix + strings.TrimSuffix(name, filepath.Ext(name)) + ".jpg"
}

// extensionOf 从原始文件名中取扩展名，缺失或异常时使用 .jpg
func extensionOf(originalName string) string {
	ext := strings.ToLower(filepath.Ext(filepath.Base(originalName)))
	if len(ext) < 2 || len(ext) > 8 {
		return defaultExtension
	}
	for _, r := range ext[1:] {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') {
			return defaultExtension
		}
	}
	return ext
}
