package service

import (
	"fmt"
	"image"
	"image/color"

	"github.com/Jwuthri/spacial-limit/model"
	"github.com/Jwuthri/spacial-limit/utils"
	"go.uber.org/zap"
	"gocv.io/x/gocv"
)

const (
	overlayFont       = gocv.FontHersheySimplex
	overlayFontScale  = 0.5
	overlayThickness  = 2
	overlayPointSize  = 5
	overlayTextMargin = 4
)

var (
	white = color.RGBA{R: 255, G: 255, B: 255, A: 255}
	black = color.RGBA{A: 255}
)

// OverlayService 在图片上绘制检测结果
type OverlayService struct{}

func NewOverlayService() *OverlayService {
	return &OverlayService{}
}

// Render 返回带标注的 PNG；绘制失败时返回原图
func (s *OverlayService) Render(png []byte, mode model.Mode, dets []model.Detection) []byte {
	out, err := s.render(png, Annotations(mode, dets))
	if err != nil {
		utils.Logger.Warn("failed to render overlay, returning original image",
			zap.String("detect_type", string(mode)),
			zap.Error(err))
		return png
	}
	return out
}

func (s *OverlayService) render(png []byte, annotations []Annotation) (out []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("overlay panic: %v", r)
		}
	}()

	img, err := decodeToMat(png)
	if err != nil {
		return nil, err
	}
	defer img.Close()

	base, err := flattenToBGR(img)
	if err != nil {
		return nil, err
	}
	defer base.Close()

	// 标注画在单独的图层上，再按掩码合成到底图
	layer := gocv.NewMatWithSize(base.Rows(), base.Cols(), gocv.MatTypeCV8UC3)
	defer layer.Close()
	mask := gocv.NewMatWithSize(base.Rows(), base.Cols(), gocv.MatTypeCV8U)
	defer mask.Close()
	mask.SetTo(gocv.NewScalar(0, 0, 0, 0))

	width, height := base.Cols(), base.Rows()
	for _, a := range annotations {
		switch a.Kind {
		case AnnotationBox:
			drawBox(&layer, &mask, a, width, height)
		case AnnotationPoint:
			drawPoint(&layer, &mask, a, width, height)
		}
	}

	if err := composite(&base, &layer, &mask); err != nil {
		return nil, err
	}

	buf, err := gocv.IMEncode(gocv.PNGFileExt, base)
	if err != nil {
		return nil, fmt.Errorf("failed to encode overlay: %w", err)
	}
	defer buf.Close()
	return append([]byte(nil), buf.GetBytes()...), nil
}

// composite 按掩码把图层合成到底图
func composite(base, layer, mask *gocv.Mat) error {
	if err := layer.CopyToWithMask(base, *mask); err != nil {
		return fmt.Errorf("failed to composite overlay: %w", err)
	}
	return nil
}

func drawBox(layer, mask *gocv.Mat, a Annotation, width, height int) {
	rect := image.Rect(
		int(a.X*float64(width)),
		int(a.Y*float64(height)),
		int((a.X+a.Width)*float64(width)),
		int((a.Y+a.Height)*float64(height)),
	)
	gocv.Rectangle(layer, rect, a.Color, overlayThickness)
	gocv.Rectangle(mask, rect, white, overlayThickness)

	if a.Label == "" {
		return
	}
	// 标签底条位于左上角上方
	size := gocv.GetTextSize(a.Label, overlayFont, overlayFontScale, 1)
	strip := image.Rect(rect.Min.X, rect.Min.Y-size.Y-2*overlayTextMargin, rect.Min.X+size.X+2*overlayTextMargin, rect.Min.Y)
	if strip.Min.Y < 0 {
		strip = strip.Add(image.Pt(0, -strip.Min.Y))
	}
	gocv.Rectangle(layer, strip, a.Color, -1)
	gocv.Rectangle(mask, strip, white, -1)

	origin := image.Pt(strip.Min.X+overlayTextMargin, strip.Max.Y-overlayTextMargin)
	gocv.PutText(layer, a.Label, origin, overlayFont, overlayFontScale, textColor(a.Color), 1)
}

func drawPoint(layer, mask *gocv.Mat, a Annotation, width, height int) {
	center := image.Pt(int(a.X*float64(width)), int(a.Y*float64(height)))
	gocv.Circle(layer, center, overlayPointSize, a.Color, -1)
	gocv.Circle(mask, center, overlayPointSize, white, -1)

	if a.Label == "" {
		return
	}
	origin := image.Pt(center.X+overlayPointSize+overlayTextMargin, center.Y+overlayPointSize)
	gocv.PutText(layer, a.Label, origin, overlayFont, overlayFontScale, a.Color, overlayThickness)
	gocv.PutText(mask, a.Label, origin, overlayFont, overlayFontScale, white, overlayThickness)
}

// textColor 浅色底用黑字
func textColor(bg color.RGBA) color.RGBA {
	luma := 0.299*float64(bg.R) + 0.587*float64(bg.G) + 0.114*float64(bg.B)
	if luma > 160 {
		return black
	}
	return white
}
