package service

import (
	"image/color"

	"github.com/Jwuthri/spacial-limit/model"
)

// palette 按序号取色（index mod 8），与标签无关
var palette = [8]color.RGBA{
	{R: 0xE6, G: 0x19, B: 0x4B, A: 0xFF},
	{R: 0x3C, G: 0x89, B: 0xD0, A: 0xFF},
	{R: 0x3C, G: 0xB4, B: 0x4B, A: 0xFF},
	{R: 0xFF, G: 0xE1, B: 0x19, A: 0xFF},
	{R: 0x91, G: 0x1E, B: 0xB4, A: 0xFF},
	{R: 0x42, G: 0xD4, B: 0xF4, A: 0xFF},
	{R: 0xF5, G: 0x82, B: 0x31, A: 0xFF},
	{R: 0xF0, G: 0x32, B: 0xE6, A: 0xFF},
}

func paletteColor(index int) color.RGBA {
	return palette[index%len(palette)]
}

type AnnotationKind int

const (
	AnnotationBox AnnotationKind = iota
	AnnotationPoint
)

// Annotation 叠加层上的一个标注，坐标为 0-1
type Annotation struct {
	Kind   AnnotationKind
	X, Y   float64
	Width  float64
	Height float64
	Label  string
	Color  color.RGBA
}

func boxAnnotations(dets []model.Detection) []Annotation {
	out := make([]Annotation, 0, len(dets))
	for i, d := range dets {
		a := Annotation{Kind: AnnotationBox, Label: d.DetectionLabel(), Color: paletteColor(i)}
		switch v := d.(type) {
		case model.Box2D:
			a.X, a.Y, a.Width, a.Height = v.X, v.Y, v.Width, v.Height
		case model.SegmentationMask:
			a.X, a.Y, a.Width, a.Height = v.X, v.Y, v.Width, v.Height
		default:
			continue
		}
		out = append(out, a)
	}
	return out
}

func pointAnnotations(dets []model.Detection) []Annotation {
	out := make([]Annotation, 0, len(dets))
	for i, d := range dets {
		p, ok := d.(model.Point)
		if !ok {
			continue
		}
		out = append(out, Annotation{
			Kind:  AnnotationPoint,
			X:     p.Point.X,
			Y:     p.Point.Y,
			Label: p.Label,
			Color: paletteColor(i),
		})
	}
	return out
}
