package service

import (
	"context"
	"testing"
	"time"

	"github.com/Jwuthri/spacial-limit/config"
	"github.com/Jwuthri/spacial-limit/model"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
)

func newTestGormStore(t *testing.T) *GormHistoryStore {
	t.Helper()
	store, err := NewGormHistoryStore(&config.DatabaseConfig{
		Driver: "sqlite",
		DSN:    "file:" + uuid.NewString() + "?mode=memory&cache=shared",
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func samplePrediction(detectType string, createdAt time.Time) *model.Prediction {
	elapsed := 1.5
	return &model.Prediction{
		ImageName:            "photo.png",
		ImageData:            "data:image/png;base64,AAAA",
		DetectType:           detectType,
		TargetPrompt:         "items",
		SegmentationLanguage: "English",
		Temperature:          0.4,
		ModelUsed:            "gemini-2.5-flash",
		Strategy:             string(StrategyStructured),
		Results:              datatypes.JSON(`[{"x":0.1,"y":0.1,"width":0.2,"height":0.2,"label":"cup"}]`),
		ResultCount:          1,
		CreatedAt:            createdAt,
		ProcessingTime:       &elapsed,
	}
}

func TestGormHistoryStore_CreateGet(t *testing.T) {
	store := newTestGormStore(t)
	ctx := context.Background()

	p := samplePrediction(string(model.ModeBox2D), time.Now())
	require.NoError(t, store.Create(ctx, p))
	require.NotZero(t, p.ID)

	got, err := store.Get(ctx, p.ID)
	require.NoError(t, err)
	require.Equal(t, p.ImageData, got.ImageData)
	require.Equal(t, p.DetectType, got.DetectType)
	require.JSONEq(t, string(p.Results), string(got.Results))
	require.Equal(t, 1.5, *got.ProcessingTime)
}

func TestGormHistoryStore_Delete(t *testing.T) {
	store := newTestGormStore(t)
	ctx := context.Background()

	keep := samplePrediction(string(model.ModeBox2D), time.Now())
	drop := samplePrediction(string(model.ModeBox2D), time.Now())
	require.NoError(t, store.Create(ctx, keep))
	require.NoError(t, store.Create(ctx, drop))

	require.ErrorIs(t, store.Delete(ctx, drop.ID+1000), ErrNotFound)
	all, err := store.List(ctx, HistoryFilter{})
	require.NoError(t, err)
	require.Len(t, all, 2)

	require.NoError(t, store.Delete(ctx, drop.ID))
	_, err = store.Get(ctx, drop.ID)
	require.ErrorIs(t, err, ErrNotFound)

	all, err = store.List(ctx, HistoryFilter{})
	require.NoError(t, err)
	require.Len(t, all, 1)
	require.Equal(t, keep.ID, all[0].ID)

	require.ErrorIs(t, store.Delete(ctx, drop.ID), ErrNotFound)
}

func TestGormHistoryStore_List(t *testing.T) {
	store := newTestGormStore(t)
	ctx := context.Background()

	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	oldest := samplePrediction(string(model.ModeBox2D), base)
	middle := samplePrediction(string(model.ModePoint), base.Add(time.Minute))
	newest := samplePrediction(string(model.ModeBox2D), base.Add(2*time.Minute))
	for _, p := range []*model.Prediction{middle, oldest, newest} {
		require.NoError(t, store.Create(ctx, p))
	}

	all, err := store.List(ctx, HistoryFilter{})
	require.NoError(t, err)
	require.Equal(t, []int64{newest.ID, middle.ID, oldest.ID}, ids(all))

	limited, err := store.List(ctx, HistoryFilter{Limit: 2})
	require.NoError(t, err)
	require.Equal(t, []int64{newest.ID, middle.ID}, ids(limited))

	boxes, err := store.List(ctx, HistoryFilter{DetectType: string(model.ModeBox2D)})
	require.NoError(t, err)
	require.Equal(t, []int64{newest.ID, oldest.ID}, ids(boxes))

	none, err := store.List(ctx, HistoryFilter{DetectType: string(model.ModeSegmentation)})
	require.NoError(t, err)
	require.NotNil(t, none)
	require.Empty(t, none)
}

func TestGormHistoryStore_UnknownDriver(t *testing.T) {
	_, err := NewGormHistoryStore(&config.DatabaseConfig{Driver: "oracle"})
	require.Error(t, err)
}

func ids(predictions []model.Prediction) []int64 {
	out := make([]int64, 0, len(predictions))
	for _, p := range predictions {
		out = append(out, p.ID)
	}
	return out
}
