package image

import "fmt"

// 允许上传的图片类型
const (
	ContentTypeJPEG = "image/jpeg"
	ContentTypePNG  = "image/png"
)

// UploadedImage 单次识别请求中上传的图片
type UploadedImage struct {
	Data         []byte // 图片数据
	ContentType  string // 声明的Content-Type
	Size         int64  // 声明的大小（字节）
	OriginalName string // 原始文件名，可为空
}

// StoredImage 已保存图片的引用
type StoredImage struct {
	Name         string // 文件名
	Path         string // 磁盘路径
	URL          string // 访问地址
	ThumbnailURL string // 缩略图地址，未生成时为空
}

// ValidationError 上传内容不符合要求
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return e.Reason
}

// StorageError 本地存储失败
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("%s失败: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}
