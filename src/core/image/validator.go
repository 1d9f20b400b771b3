package image

import (
	"bytes"
	"fmt"
	"image"

	_ "image/jpeg" // 注册JPEG解码器
	_ "image/png"  // 注册PNG解码器

	"scnai-plant-server/src/configs"
	"scnai-plant-server/src/core/utils"
)

// 图片格式魔数签名
var imageSignatures = map[string][]byte{
	ContentTypeJPEG: {0xFF, 0xD8},
	ContentTypePNG:  {0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A},
}

// 可执行文件签名，出现在文件开头即拒绝
var executableSignatures = map[string][]byte{
	"PE":     {0x4D, 0x5A},
	"ELF":    {0x7F, 0x45, 0x4C, 0x46},
	"Mach-O": {0xCA, 0xFE, 0xBA, 0xBE},
}

// 解码器返回的格式名与Content-Type的对应
var decodedFormats = map[string]string{
	"jpeg": ContentTypeJPEG,
	"png":  ContentTypePNG,
}

// UploadValidator 上传图片校验器，无副作用
type UploadValidator struct {
	config *configs.UploadConfig
	logger *utils.TaggedLogger
}

// NewUploadValidator 创建上传图片校验器
func NewUploadValidator(config *configs.UploadConfig, logger *utils.Logger) *UploadValidator {
	return &UploadValidator{
		config: config,
		logger: logger.WithTag("upload"),
	}
}

// MaxFileSize 返回允许的最大文件大小
func (v *UploadValidator) MaxFileSize() int64 {
	return v.config.MaxFileSize
}

// Validate 校验上传图片，不通过时返回 *ValidationError
func (v *UploadValidator) Validate(img UploadedImage) error {
	if len(img.Data) == 0 {
		return &ValidationError{Reason: "文件不能为空"}
	}

	if _, ok := imageSignatures[img.ContentType]; !ok {
		return &ValidationError{Reason: "文件格式不支持，仅支持JPG和PNG格式"}
	}

	size := max(img.Size, int64(len(img.Data)))
	if size > v.config.MaxFileSize {
		v.logger.Warn("上传文件超过大小限制", map[string]interface{}{
			"size":     size,
			"max_size": v.config.MaxFileSize,
		})
		return &ValidationError{
			Reason: fmt.Sprintf("文件大小不能超过%s", formatSize(v.config.MaxFileSize)),
		}
	}

	if v.config.EnableDeepScan {
		return v.deepScan(img)
	}
	return nil
}

// deepScan 校验文件头并尝试解码图片头信息
func (v *UploadValidator) deepScan(img UploadedImage) error {
	for name, signature := range executableSignatures {
		if bytes.HasPrefix(img.Data, signature) {
			v.logger.Warn("文件开头检测到可执行文件签名", map[string]interface{}{
				"signature_type": name,
				"signature_hex":  fmt.Sprintf("%x", signature),
			})
			return &ValidationError{Reason: "检测到潜在恶意内容"}
		}
	}

	if !bytes.HasPrefix(img.Data, imageSignatures[img.ContentType]) {
		v.logger.Warn("文件头与声明类型不匹配", map[string]interface{}{
			"content_type":  img.ContentType,
			"actual_header": fmt.Sprintf("%x", img.Data[:min(len(img.Data), 16)]),
		})
		return &ValidationError{Reason: "文件内容与声明的格式不一致"}
	}

	_, format, err := image.DecodeConfig(bytes.NewReader(img.Data))
	if err != nil {
		return &ValidationError{Reason: fmt.Sprintf("图片解码失败: %v", err)}
	}
	if decodedFormats[format] != img.ContentType {
		return &ValidationError{Reason: "文件内容与声明的格式不一致"}
	}
	return nil
}

func formatSize(n int64) string {
	const mb = 1024 * 1024
	if n%mb == 0 {
		return fmt.Sprintf("%dMB", n/mb)
	}
	return fmt.Sprintf("%d字节", n)
}
