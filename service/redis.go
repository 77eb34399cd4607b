package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Jwuthri/spacial-limit/config"
	"github.com/Jwuthri/spacial-limit/model"
	"github.com/Jwuthri/spacial-limit/utils"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// CachedResult 缓存的检测结果
type CachedResult struct {
	Mode       model.Mode      `json:"detect_type"`
	Model      string          `json:"model"`
	Detections json.RawMessage `json:"detections"`
}

type RedisService struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisService(cfg *config.RedisConfig) *RedisService {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	return &RedisService{
		client: client,
		ttl:    cfg.TTL,
	}
}

func (s *RedisService) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// CacheKey 同一张图片、同一组参数得到同一个键
func CacheKey(req *DetectionRequest) string {
	return fmt.Sprintf("detection:%s:%s",
		utils.BytesMD5(req.Image),
		utils.BytesMD5([]byte(fmt.Sprintf("%s|%s|%s|%s|%.2f",
			req.Mode, req.TargetPrompt, req.LabelPrompt, req.Language, req.Temperature))))
}

// GetDetections 从缓存读取检测结果，未命中返回 nil, nil
func (s *RedisService) GetDetections(ctx context.Context, key string) ([]model.Detection, string, error) {
	data, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, "", nil // 缓存未命中
		}
		return nil, "", err
	}

	var cached CachedResult
	if err := json.Unmarshal(data, &cached); err != nil {
		utils.Logger.Error("failed to unmarshal cached detections",
			zap.String("key", key), zap.Error(err))
		return nil, "", err
	}

	dets, err := DecodeDetections(cached.Mode, cached.Detections)
	if err != nil {
		return nil, "", err
	}
	return dets, cached.Model, nil
}

// SetDetections 写入检测结果
func (s *RedisService) SetDetections(ctx context.Context, key string, mode model.Mode, modelName string, dets []model.Detection) error {
	detections, err := json.Marshal(dets)
	if err != nil {
		return err
	}
	data, err := json.Marshal(CachedResult{Mode: mode, Model: modelName, Detections: detections})
	if err != nil {
		return err
	}

	return s.client.Set(ctx, key, data, s.ttl).Err()
}

func (s *RedisService) Close() error {
	return s.client.Close()
}
