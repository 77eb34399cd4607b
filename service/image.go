package service

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/Jwuthri/spacial-limit/utils"
	"go.uber.org/zap"
	"gocv.io/x/gocv"
)

// PreparedImage 预处理后的图片（RGB、白底、PNG）
type PreparedImage struct {
	PNG    []byte
	Width  int
	Height int
}

// DataURI 入库用的 data URI
func (p *PreparedImage) DataURI() string {
	return utils.PNGDataURI(p.PNG)
}

// ImageService 负责图片解码、缩放和格式转换
type ImageService struct{}

func NewImageService() *ImageService {
	return &ImageService{}
}

// Prepare 解码任意格式图片，透明部分合成到白底，按最长边缩放后编码为 PNG
func (s *ImageService) Prepare(data []byte, maxSize int, skipResize bool) (*PreparedImage, error) {
	img, err := decodeToMat(data)
	if err != nil {
		return nil, err
	}
	defer img.Close()

	utils.Logger.Info("image loaded",
		zap.Int("width", img.Cols()),
		zap.Int("height", img.Rows()),
		zap.Int("channels", img.Channels()))

	flat, err := flattenToBGR(img)
	if err != nil {
		return nil, err
	}
	defer flat.Close()

	if !skipResize {
		resized, scale := s.smartResize(&flat, maxSize)
		if scale != 1.0 {
			flat.Close()
			flat = resized
			utils.Logger.Info("image resized",
				zap.Int("width", flat.Cols()),
				zap.Int("height", flat.Rows()))
		} else {
			resized.Close()
		}
	}

	buf, err := gocv.IMEncode(gocv.PNGFileExt, flat)
	if err != nil {
		return nil, fmt.Errorf("failed to encode png: %w", err)
	}
	defer buf.Close()

	return &PreparedImage{
		PNG:    append([]byte(nil), buf.GetBytes()...),
		Width:  flat.Cols(),
		Height: flat.Rows(),
	}, nil
}

// smartResize 最长边超过 maxSide 时等比缩小（Lanczos）
func (s *ImageService) smartResize(img *gocv.Mat, maxSide int) (gocv.Mat, float64) {
	width, height := img.Cols(), img.Rows()
	if maxSide <= 0 || (width <= maxSide && height <= maxSide) {
		return img.Clone(), 1.0
	}

	scale := min(float64(maxSide)/float64(width), float64(maxSide)/float64(height))
	newW := max(1, int(float64(width)*scale))
	newH := max(1, int(float64(height)*scale))

	resized := gocv.NewMat()
	gocv.Resize(*img, &resized, image.Point{X: newW, Y: newH}, 0, 0, gocv.InterpolationLanczos4)
	return resized, scale
}

// decodeToMat OpenCV 不支持的格式（如 GIF）回退到标准库解码
func decodeToMat(data []byte) (gocv.Mat, error) {
	if len(data) == 0 {
		return gocv.NewMat(), errors.New("empty image data")
	}

	mat, err := gocv.IMDecode(data, gocv.IMReadUnchanged)
	if err == nil && !mat.Empty() {
		return mat, nil
	}
	mat.Close()

	img, _, decodeErr := image.Decode(bytes.NewReader(data))
	if decodeErr != nil {
		return gocv.NewMat(), fmt.Errorf("failed to decode image: %w", decodeErr)
	}
	return gocv.ImageToMatRGBA(img)
}

// flattenToBGR 转为 8 位三通道，alpha 通道合成到白底
func flattenToBGR(src gocv.Mat) (gocv.Mat, error) {
	img := src.Clone()
	if is16Bit(img.Type()) {
		converted := gocv.NewMat()
		img.ConvertToWithParams(&converted, gocv.MatTypeCV8U, 1.0/257, 0)
		img.Close()
		img = converted
	}

	switch img.Channels() {
	case 3:
		return img, nil
	case 1:
		bgr := gocv.NewMat()
		gocv.CvtColor(img, &bgr, gocv.ColorGrayToBGR)
		img.Close()
		return bgr, nil
	case 4:
		defer img.Close()
		return compositeOnWhite(img), nil
	default:
		img.Close()
		return gocv.NewMat(), fmt.Errorf("unsupported channel count %d", img.Channels())
	}
}

func is16Bit(t gocv.MatType) bool {
	return t == gocv.MatTypeCV16UC1 || t == gocv.MatTypeCV16UC3 || t == gocv.MatTypeCV16UC4
}

// compositeOnWhite out = bgr*alpha + 255*(1-alpha)
func compositeOnWhite(bgra gocv.Mat) gocv.Mat {
	channels := gocv.Split(bgra)
	defer func() {
		for _, c := range channels {
			c.Close()
		}
	}()

	alpha := gocv.NewMat()
	defer alpha.Close()
	channels[3].ConvertToWithParams(&alpha, gocv.MatTypeCV32F, 1.0/255, 0)

	alpha3 := gocv.NewMat()
	defer alpha3.Close()
	gocv.Merge([]gocv.Mat{alpha, alpha, alpha}, &alpha3)

	bgr := gocv.NewMat()
	defer bgr.Close()
	gocv.Merge(channels[:3], &bgr)

	bgrF := gocv.NewMat()
	defer bgrF.Close()
	bgr.ConvertTo(&bgrF, gocv.MatTypeCV32FC3)

	fg := gocv.NewMat()
	defer fg.Close()
	gocv.Multiply(bgrF, alpha3, &fg)

	ones := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(1, 1, 1, 0), bgra.Rows(), bgra.Cols(), gocv.MatTypeCV32FC3)
	defer ones.Close()

	bg := gocv.NewMat()
	defer bg.Close()
	gocv.Subtract(ones, alpha3, &bg)
	bg.MultiplyFloat(255)

	sum := gocv.NewMat()
	defer sum.Close()
	gocv.Add(fg, bg, &sum)

	out := gocv.NewMat()
	sum.ConvertTo(&out, gocv.MatTypeCV8UC3)
	return out
}
