package image

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scnai-plant-server/src/configs"
	"scnai-plant-server/src/core/utils"
)

func sampleImage(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 10), G: 180, B: uint8(y * 10), A: 255})
		}
	}
	return img
}

func sampleJPEG(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, sampleImage(w, h), nil))
	return buf.Bytes()
}

func samplePNG(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, sampleImage(w, h)))
	return buf.Bytes()
}

func newValidator(maxSize int64, deepScan bool) *UploadValidator {
	return NewUploadValidator(&configs.UploadConfig{
		MaxFileSize:    maxSize,
		EnableDeepScan: deepScan,
	}, utils.NewNopLogger())
}

func TestValidate(t *testing.T) {
	jpg := sampleJPEG(t, 8, 8)
	pngData := samplePNG(t, 8, 8)

	tests := []struct {
		name    string
		limit   int64
		deep    bool
		img     UploadedImage
		wantErr bool
	}{
		{name: "合法JPEG", limit: 1 << 20, img: UploadedImage{Data: jpg, ContentType: ContentTypeJPEG, Size: int64(len(jpg))}},
		{name: "合法PNG", limit: 1 << 20, img: UploadedImage{Data: pngData, ContentType: ContentTypePNG, Size: int64(len(pngData))}},
		{name: "空文件", limit: 1 << 20, img: UploadedImage{ContentType: ContentTypeJPEG}, wantErr: true},
		{name: "GIF不允许", limit: 1 << 20, img: UploadedImage{Data: jpg, ContentType: "image/gif"}, wantErr: true},
		{name: "类型需精确匹配", limit: 1 << 20, img: UploadedImage{Data: jpg, ContentType: "image/jpg"}, wantErr: true},
		{name: "带参数的类型", limit: 1 << 20, img: UploadedImage{Data: jpg, ContentType: "image/jpeg; charset=binary"}, wantErr: true},
		{name: "声明大小超限", limit: 1024, img: UploadedImage{Data: []byte{0xFF, 0xD8}, ContentType: ContentTypeJPEG, Size: 4096}, wantErr: true},
		{name: "实际大小超限", limit: 4, img: UploadedImage{Data: jpg, ContentType: ContentTypeJPEG, Size: 1}, wantErr: true},
		{name: "恰好等于上限", limit: int64(len(jpg)), img: UploadedImage{Data: jpg, ContentType: ContentTypeJPEG, Size: int64(len(jpg))}},
		{name: "深度扫描通过", limit: 1 << 20, deep: true, img: UploadedImage{Data: pngData, ContentType: ContentTypePNG}},
		{name: "深度扫描类型不一致", limit: 1 << 20, deep: true, img: UploadedImage{Data: pngData, ContentType: ContentTypeJPEG}, wantErr: true},
		{name: "深度扫描可执行文件", limit: 1 << 20, deep: true, img: UploadedImage{Data: []byte("MZ\x90\x00payload"), ContentType: ContentTypeJPEG}, wantErr: true},
		{name: "深度扫描截断数据", limit: 1 << 20, deep: true, img: UploadedImage{Data: jpg[:4], ContentType: ContentTypeJPEG}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := newValidator(tt.limit, tt.deep).Validate(tt.img)
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.NotEmpty(t, verr.Reason)
		})
	}
}

func TestValidateSizeMessage(t *testing.T) {
	err := newValidator(3*1024*1024, false).Validate(UploadedImage{
		Data:        []byte{0xFF, 0xD8},
		ContentType: ContentTypeJPEG,
		Size:        4 * 1024 * 1024,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "3MB")
}

func newStore(t *testing.T, thumbWidth int) *LocalStore {
	t.Helper()
	return NewLocalStore(&configs.UploadConfig{
		Dir:            filepath.Join(t.TempDir(), "uploads", "recognition"),
		URLPrefix:      "/uploads/recognition/",
		ThumbnailWidth: thumbWidth,
	}, utils.NewNopLogger())
}

func TestStoreSaveCreatesDirectoryAndFile(t *testing.T) {
	store := newStore(t, 0)
	data := sampleJPEG(t, 4, 4)

	stored, err := store.Save(data, "leaf.PNG")
	require.NoError(t, err)

	assert.True(t, strings.HasSuffix(stored.Name, ".png"))
	assert.Equal(t, "/uploads/recognition/"+stored.Name, stored.URL)
	assert.Empty(t, stored.ThumbnailURL)

	onDisk, err := os.ReadFile(stored.Path)
	require.NoError(t, err)
	assert.Equal(t, data, onDisk)
}

func TestStoreDefaultExtension(t *testing.T) {
	tests := []struct {
		original string
		expected string
	}{
		{original: "", expected: ".jpg"},
		{original: "leaf", expected: ".jpg"},
		{original: "photo.jpeg", expected: ".jpeg"},
		{original: "../../etc/passwd", expected: ".jpg"},
		{original: "evil.p$p", expected: ".jpg"},
		{original: "a.verylongextension", expected: ".jpg"},
	}
	for _, tt := range tests {
		t.Run(tt.original, func(t *testing.T) {
			assert.Equal(t, tt.expected, extensionOf(tt.original))
		})
	}
}

func TestStoreConcurrentSavesAreUnique(t *testing.T) {
	store := newStore(t, 0)
	data := []byte{0xFF, 0xD8, 0xFF}

	const n = 32
	names := make(chan string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			stored, err := store.Save(data, "a.jpg")
			if assert.NoError(t, err) {
				names <- stored.Name
			}
		}()
	}
	wg.Wait()
	close(names)

	seen := make(map[string]bool)
	for name := range names {
		assert.False(t, seen[name], "重复的文件名 %s", name)
		seen[name] = true
	}
	assert.Len(t, seen, n)

	entries, err := os.ReadDir(store.Dir())
	require.NoError(t, err)
	assert.Len(t, entries, n)
}

func TestStoreSaveFailsWhenDirIsAFile(t *testing.T) {
	base := t.TempDir()
	blocker := filepath.Join(base, "blocked")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0644))

	store := NewLocalStore(&configs.UploadConfig{Dir: filepath.Join(blocker, "sub")}, utils.NewNopLogger())
	_, err := store.Save([]byte{1}, "a.jpg")

	var serr *StorageError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, "创建上传目录", serr.Op)
}

func TestStoreThumbnail(t *testing.T) {
	store := newStore(t, 16)

	stored, err := store.Save(samplePNG(t, 64, 32), "leaf.png")
	require.NoError(t, err)
	require.NotEmpty(t, stored.ThumbnailURL)

	thumbPath := filepath.Join(store.Dir(), filepath.Base(stored.ThumbnailURL))
	f, err := os.Open(thumbPath)
	require.NoError(t, err)
	defer f.Close()

	cfg, format, err := image.DecodeConfig(f)
	require.NoError(t, err)
	assert.Equal(t, "jpeg", format)
	assert.Equal(t, 16, cfg.Width)
	assert.Equal(t, 8, cfg.Height)
}

func TestStoreThumbnailFailureIsNotFatal(t *testing.T) {
	store := newStore(t, 16)

	stored, err := store.Save([]byte("not an image"), "leaf.jpg")
	require.NoError(t, err)
	assert.Empty(t, stored.ThumbnailURL)
}

func TestStoreDelete(t *testing.T) {
	store := newStore(t, 8)
	stored, err := store.Save(sampleJPEG(t, 16, 16), "leaf.jpg")
	require.NoError(t, err)
	require.NotEmpty(t, stored.ThumbnailURL)

	require.NoError(t, store.Delete(stored.Name))
	_, err = os.Stat(stored.Path)
	assert.True(t, os.IsNotExist(err))

	// 重复删除不报错
	assert.NoError(t, store.Delete(stored.Name))

	var serr *StorageError
	assert.ErrorAs(t, store.Delete("../x.jpg"), &serr)
}
