package service

import (
	"math"
	"testing"

	"github.com/Jwuthri/spacial-limit/model"
	"github.com/stretchr/testify/require"
)

func TestNormalize_Box2D(t *testing.T) {
	conf := 0.9
	dets, err := Normalize(model.ModeBox2D, StrategyStructured, []model.RawDetection{
		{Box2D: []float64{100, 200, 400, 600}, Label: "cup", Confidence: &conf},
	})
	require.NoError(t, err)
	require.Len(t, dets, 1)

	box := dets[0].(model.Box2D)
	require.Equal(t, 0.2, box.X)
	require.Equal(t, 0.1, box.Y)
	require.Equal(t, 0.4, box.Width)
	require.Equal(t, 0.3, box.Height)
	require.Equal(t, "cup", box.Label)
	require.NotNil(t, box.Confidence)
	require.Equal(t, 0.9, *box.Confidence)
}

func TestNormalize_Point(t *testing.T) {
	dets, err := Normalize(model.ModePoint, StrategyFreeText, []model.RawDetection{
		{Point: []float64{250, 750}, Label: "handle"},
	})
	require.NoError(t, err)

	p := dets[0].(model.Point)
	require.Equal(t, 0.75, p.Point.X)
	require.Equal(t, 0.25, p.Point.Y)
	require.Nil(t, p.Confidence)
}

func TestNormalize_Box3DConvertsDegrees(t *testing.T) {
	dets, err := Normalize(model.ModeBox3D, StrategyStructured, []model.RawDetection{
		{Box3D: []float64{1, 2, 3, 4, 5, 6, 180, 90, -45}, Label: "table"},
	})
	require.NoError(t, err)

	box := dets[0].(model.Box3D)
	require.Equal(t, []float64{1, 2, 3}, box.Center)
	require.Equal(t, []float64{4, 5, 6}, box.Size)
	require.InDelta(t, math.Pi, box.RPY[0], 1e-12)
	require.InDelta(t, math.Pi/2, box.RPY[1], 1e-12)
	require.InDelta(t, -math.Pi/4, box.RPY[2], 1e-12)
}

func TestNormalize_SegmentationPolygon(t *testing.T) {
	dets, err := Normalize(model.ModeSegmentation, StrategyStructured, []model.RawDetection{
		{Box2D: []float64{0, 0, 1000, 1000}, Polygon: [][]float64{{500, 500}}, Label: "cat"},
	})
	require.NoError(t, err)

	mask := dets[0].(model.SegmentationMask)
	require.Equal(t, [][]float64{{0.5, 0.5}}, mask.Polygon)
	require.Nil(t, mask.ImageData)
}

func TestNormalize_SegmentationSynthesizesCorners(t *testing.T) {
	dets, err := Normalize(model.ModeSegmentation, StrategyStructured, []model.RawDetection{
		{Box2D: []float64{100, 200, 400, 600}, Label: "cat"},
	})
	require.NoError(t, err)

	mask := dets[0].(model.SegmentationMask)
	require.Equal(t, [][]float64{{0.2, 0.1}, {0.6, 0.1}, {0.6, 0.4}, {0.2, 0.4}}, mask.Polygon)
}

func TestNormalize_SegmentationSkipsShortPoints(t *testing.T) {
	dets, err := Normalize(model.ModeSegmentation, StrategyStructured, []model.RawDetection{
		{Box2D: []float64{0, 0, 1000, 1000}, Polygon: [][]float64{{100}, {200, 300}}, Label: "cat"},
	})
	require.NoError(t, err)
	require.Equal(t, [][]float64{{0.2, 0.3}}, dets[0].(model.SegmentationMask).Polygon)
}

func TestNormalize_SegmentationFreeTextKeepsMask(t *testing.T) {
	dets, err := Normalize(model.ModeSegmentation, StrategyFreeText, []model.RawDetection{
		{Box2D: []float64{0, 0, 500, 500}, Mask: "iVBORw0KGgo=", Label: "dog"},
		{Box2D: []float64{0, 0, 100, 100}, Label: "bone"},
	})
	require.NoError(t, err)

	first := dets[0].(model.SegmentationMask)
	require.NotNil(t, first.ImageData)
	require.Equal(t, "iVBORw0KGgo=", *first.ImageData)
	require.Nil(t, first.Polygon)

	second := dets[1].(model.SegmentationMask)
	require.NotNil(t, second.ImageData)
	require.Equal(t, "", *second.ImageData)
}

func TestNormalize_SegmentationSortedByArea(t *testing.T) {
	dets, err := Normalize(model.ModeSegmentation, StrategyStructured, []model.RawDetection{
		{Box2D: []float64{0, 0, 100, 100}, Label: "small"},
		{Box2D: []float64{0, 0, 500, 1000}, Label: "large"},
		{Box2D: []float64{0, 0, 100, 1000}, Label: "medium"},
	})
	require.NoError(t, err)

	labels := make([]string, 0, len(dets))
	for _, d := range dets {
		labels = append(labels, d.DetectionLabel())
	}
	require.Equal(t, []string{"large", "medium", "small"}, labels)
}

func TestNormalize_AllOrNothing(t *testing.T) {
	cases := []struct {
		name string
		mode model.Mode
		raws []model.RawDetection
	}{
		{"box2d short box", model.ModeBox2D, []model.RawDetection{
			{Box2D: []float64{1, 2, 3, 4}, Label: "ok"},
			{Box2D: []float64{1, 2}, Label: "short"},
		}},
		{"box2d missing label", model.ModeBox2D, []model.RawDetection{
			{Box2D: []float64{1, 2, 3, 4}},
		}},
		{"box3d short box", model.ModeBox3D, []model.RawDetection{
			{Box3D: []float64{1, 2, 3}, Label: "table"},
		}},
		{"point missing point", model.ModePoint, []model.RawDetection{
			{Label: "knob"},
		}},
		{"segmentation missing box", model.ModeSegmentation, []model.RawDetection{
			{Polygon: [][]float64{{1, 2}}, Label: "cat"},
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			dets, err := Normalize(tc.mode, StrategyStructured, tc.raws)
			require.Error(t, err)
			require.Nil(t, dets)
		})
	}
}

func TestNormalize_EmptyIsNotNil(t *testing.T) {
	for _, mode := range model.Modes {
		dets, err := Normalize(mode, StrategyStructured, nil)
		require.NoError(t, err)
		require.NotNil(t, dets)
		require.Empty(t, dets)
	}
}

func TestNormalize_UnknownMode(t *testing.T) {
	_, err := Normalize(model.Mode("Polygons"), StrategyStructured, nil)
	require.ErrorIs(t, err, ErrValidation)
}
