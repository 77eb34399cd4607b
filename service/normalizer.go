package service

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/Jwuthri/spacial-limit/model"
)

// 模型坐标为 0-1000
const coordScale = 1000.0

// Normalize 将模型原始结果转换为客户端格式。任意一项缺少必需字段时整批失败
func Normalize(mode model.Mode, source Strategy, raws []model.RawDetection) ([]model.Detection, error) {
	spec, err := specFor(mode)
	if err != nil {
		return nil, err
	}
	return spec.Normalize(source, raws)
}

func requireLabel(raw model.RawDetection) error {
	if raw.Label == "" {
		return errors.New("missing label")
	}
	return nil
}

func requireBox2D(raw model.RawDetection) error {
	if len(raw.Box2D) < 4 {
		return fmt.Errorf("box_2d needs 4 values, got %d", len(raw.Box2D))
	}
	return requireLabel(raw)
}

// boxRect 由 [ymin,xmin,ymax,xmax] 计算 x,y,width,height
func boxRect(box []float64) (x, y, w, h float64) {
	x = box[1] / coordScale
	y = box[0] / coordScale
	w = (box[3] - box[1]) / coordScale
	h = (box[2] - box[0]) / coordScale
	return
}

func normalizeBox2D(raw model.RawDetection) (model.Box2D, error) {
	if err := requireBox2D(raw); err != nil {
		return model.Box2D{}, err
	}
	x, y, w, h := boxRect(raw.Box2D)
	return model.Box2D{
		X:          x,
		Y:          y,
		Width:      w,
		Height:     h,
		Label:      raw.Label,
		Confidence: raw.Confidence,
	}, nil
}

func normalizePoint(raw model.RawDetection) (model.Point, error) {
	if len(raw.Point) < 2 {
		return model.Point{}, fmt.Errorf("point needs 2 values, got %d", len(raw.Point))
	}
	if err := requireLabel(raw); err != nil {
		return model.Point{}, err
	}
	return model.Point{
		Point: model.PointXY{
			X: raw.Point[1] / coordScale,
			Y: raw.Point[0] / coordScale,
		},
		Label:      raw.Label,
		Confidence: raw.Confidence,
	}, nil
}

func normalizeBox3D(raw model.RawDetection) (model.Box3D, error) {
	if len(raw.Box3D) < 9 {
		return model.Box3D{}, fmt.Errorf("box_3d needs 9 values, got %d", len(raw.Box3D))
	}
	if err := requireLabel(raw); err != nil {
		return model.Box3D{}, err
	}
	rpy := make([]float64, 3)
	for i, deg := range raw.Box3D[6:9] {
		rpy[i] = deg * math.Pi / 180
	}
	return model.Box3D{
		Center:     append([]float64(nil), raw.Box3D[0:3]...),
		Size:       append([]float64(nil), raw.Box3D[3:6]...),
		RPY:        rpy,
		Label:      raw.Label,
		Confidence: raw.Confidence,
	}, nil
}

func normalizeSegmentation(raw model.RawDetection, source Strategy) (model.SegmentationMask, error) {
	if err := requireBox2D(raw); err != nil {
		return model.SegmentationMask{}, err
	}
	x, y, w, h := boxRect(raw.Box2D)
	mask := model.SegmentationMask{
		X:          x,
		Y:          y,
		Width:      w,
		Height:     h,
		Label:      raw.Label,
		Confidence: raw.Confidence,
	}

	if source == StrategyFreeText {
		// mask 原样透传，不做解码校验
		data := raw.Mask
		mask.ImageData = &data
		return mask, nil
	}

	polygon := make([][]float64, 0, len(raw.Polygon))
	for _, p := range raw.Polygon {
		if len(p) < 2 {
			continue
		}
		polygon = append(polygon, []float64{p[0] / coordScale, p[1] / coordScale})
	}
	if len(polygon) == 0 {
		// 没有多边形时用边界框四角（左上起顺时针）代替
		x2, y2 := raw.Box2D[3]/coordScale, raw.Box2D[2]/coordScale
		polygon = [][]float64{{x, y}, {x2, y}, {x2, y2}, {x, y2}}
	}
	mask.Polygon = polygon
	return mask, nil
}

// sortByArea 按 width*height 从大到小排序
func sortByArea(masks []model.SegmentationMask) {
	sort.SliceStable(masks, func(i, j int) bool {
		return masks[i].Area() > masks[j].Area()
	})
}

// normalizeEach 逐项转换，遇错即止
func normalizeEach[T model.Detection](raws []model.RawDetection, fn func(model.RawDetection) (T, error)) ([]T, error) {
	out := make([]T, 0, len(raws))
	for i, raw := range raws {
		d, err := fn(raw)
		if err != nil {
			return nil, fmt.Errorf("detection %d: %w", i, err)
		}
		out = append(out, d)
	}
	return out, nil
}

func toDetections[T model.Detection](items []T) []model.Detection {
	out := make([]model.Detection, len(items))
	for i, it := range items {
		out[i] = it
	}
	return out
}
