package model

import (
	"fmt"
)

// Mode 检测类型，取值即客户端展示的字符串
type Mode string

const (
	ModeBox2D        Mode = "2D bounding boxes"
	ModeBox3D        Mode = "3D bounding boxes"
	ModeSegmentation Mode = "Segmentation masks"
	ModePoint        Mode = "Points"
)

// Modes 全部支持的检测类型
var Modes = []Mode{ModeBox2D, ModeBox3D, ModeSegmentation, ModePoint}

// ParseMode 严格匹配（区分大小写）
func ParseMode(s string) (Mode, error) {
	for _, m := range Modes {
		if string(m) == s {
			return m, nil
		}
	}
	return "", fmt.Errorf("unknown detect_type %q", s)
}

// RawDetection 模型返回的单个检测项，字段随检测类型不同
type RawDetection struct {
	Box2D      []float64   `json:"box_2d,omitempty"`
	Box3D      []float64   `json:"box_3d,omitempty"`
	Point      []float64   `json:"point,omitempty"`
	Polygon    [][]float64 `json:"polygon,omitempty"`
	Mask       string      `json:"mask,omitempty"`
	Label      string      `json:"label"`
	Confidence *float64    `json:"confidence,omitempty"`
}

// Detection 归一化后的检测结果（坐标为 0-1）
type Detection interface {
	DetectionLabel() string
}

// Box2D 2D 边界框
type Box2D struct {
	X          float64  `json:"x"`
	Y          float64  `json:"y"`
	Width      float64  `json:"width"`
	Height     float64  `json:"height"`
	Label      string   `json:"label"`
	Confidence *float64 `json:"confidence,omitempty"`
}

func (b Box2D) DetectionLabel() string { return b.Label }

// Box3D 3D 边界框，rpy 为弧度
type Box3D struct {
	Center     []float64 `json:"center"`
	Size       []float64 `json:"size"`
	RPY        []float64 `json:"rpy"`
	Label      string    `json:"label"`
	Confidence *float64  `json:"confidence,omitempty"`
}

func (b Box3D) DetectionLabel() string { return b.Label }

// SegmentationMask 分割结果。结构化调用返回 Polygon，文本解析返回 ImageData（base64 PNG）
type SegmentationMask struct {
	X          float64     `json:"x"`
	Y          float64     `json:"y"`
	Width      float64     `json:"width"`
	Height     float64     `json:"height"`
	Label      string      `json:"label"`
	Polygon    [][]float64 `json:"polygon,omitempty"`
	ImageData  *string     `json:"imageData,omitempty"`
	Confidence *float64    `json:"confidence,omitempty"`
}

func (s SegmentationMask) DetectionLabel() string { return s.Label }

// Area 用于按面积排序
func (s SegmentationMask) Area() float64 { return s.Width * s.Height }

// PointXY 归一化坐标点
type PointXY struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Point 关键点
type Point struct {
	Point      PointXY  `json:"point"`
	Label      string   `json:"label"`
	Confidence *float64 `json:"confidence,omitempty"`
}

func (p Point) DetectionLabel() string { return p.Label }
