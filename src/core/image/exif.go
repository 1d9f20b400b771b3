package image

import (
	"bytes"
	"image"
	"math"

	"github.com/rwcarlsen/goexif/exif"
	"github.com/shopspring/decimal"
)

// 经纬度保留的小数位数，与数据库列精度一致
const coordinatePlaces = 7

// Location 拍摄位置
type Location struct {
	Latitude  decimal.Decimal
	Longitude decimal.Decimal
}

// ReadLocation 从EXIF中读取GPS坐标，没有或无效时返回false
func ReadLocation(data []byte) (Location, bool) {
	x, err := exif.Decode(bytes.NewReader(data))
	if err != nil {
		return Location{}, false
	}
	lat, lng, err := x.LatLong()
	if err != nil || math.IsNaN(lat) || math.IsNaN(lng) {
		return Location{}, false
	}
	if lat < -90 || lat > 90 || lng < -180 || lng > 180 || (lat == 0 && lng == 0) {
		return Location{}, false
	}
	return Location{
		Latitude:  decimal.NewFromFloat(lat).Round(coordinatePlaces),
		Longitude: decimal.NewFromFloat(lng).Round(coordinatePlaces),
	}, true
}

// ReadOrientation 读取EXIF方向标记，缺失时返回1
func ReadOrientation(data []byte) int {
	x, err := exif.Decode(bytes.NewReader(data))
	if err != nil {
		return 1
	}
	tag, err := x.Get(exif.Orientation)
	if err != nil {
		return 1
	}
	v, err := tag.Int(0)
	if err != nil {
		return 1
	}
	return v
}

// applyOrientation 按方向标记旋转图片，只处理手机拍摄常见的 3/6/8
func applyOrientation(img image.Image, orientation int) image.Image {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()

	switch orientation {
	case 3: // 旋转180度
		dst := image.NewRGBA(image.Rect(0, 0, w, h))
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				dst.Set(w-1-x, h-1-y, img.At(b.Min.X+x, b.Min.Y+y))
			}
		}
		return dst
	case 6: // 顺时针90度
		dst := image.NewRGBA(image.Rect(0, 0, h, w))
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				dst.Set(h-1-y, x, img.At(b.Min.X+x, b.Min.Y+y))
			}
		}
		return dst
	case 8: // 逆时针90度
		dst := image.NewRGBA(image.Rect(0, 0, h, w))
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				dst.Set(y, w-1-x, img.At(b.Min.X+x, b.Min.Y+y))
			}
		}
		return dst
	default:
		return img
	}
}
