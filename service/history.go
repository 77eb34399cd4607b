package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/Jwuthri/spacial-limit/config"
	"github.com/Jwuthri/spacial-limit/model"
	"github.com/Jwuthri/spacial-limit/utils"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// DefaultHistoryLimit /history 默认条数
const DefaultHistoryLimit = 50

// HistoryFilter 历史查询条件
type HistoryFilter struct {
	Limit      int
	DetectType string
}

// HistoryStore 预测记录存储。Get/Delete 找不到记录时返回 ErrNotFound
type HistoryStore interface {
	Create(ctx context.Context, p *model.Prediction) error
	Get(ctx context.Context, id int64) (*model.Prediction, error)
	List(ctx context.Context, filter HistoryFilter) ([]model.Prediction, error)
	Delete(ctx context.Context, id int64) error
}

// NewHistoryStore 按 database.driver 选择存储后端
func NewHistoryStore(cfg *config.DatabaseConfig) (HistoryStore, error) {
	switch cfg.Driver {
	case "dynamodb":
		return NewDynamoHistoryStore(cfg), nil
	default:
		return NewGormHistoryStore(cfg)
	}
}

// GormHistoryStore 关系型数据库存储（sqlite / postgres）
type GormHistoryStore struct {
	db *gorm.DB
}

func NewGormHistoryStore(cfg *config.DatabaseConfig) (*GormHistoryStore, error) {
	var dialector gorm.Dialector
	switch cfg.Driver {
	case "", "sqlite":
		dialector = sqlite.Open(cfg.DSN)
	case "postgres":
		dialector = postgres.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.AutoMigrate(&model.Prediction{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	utils.Logger.Info("history store ready",
		zap.String("driver", dialector.Name()))

	return &GormHistoryStore{db: db}, nil
}

func (s *GormHistoryStore) Create(ctx context.Context, p *model.Prediction) error {
	return s.db.WithContext(ctx).Create(p).Error
}

func (s *GormHistoryStore) Get(ctx context.Context, id int64) (*model.Prediction, error) {
	var p model.Prediction
	err := s.db.WithContext(ctx).First(&p, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// List 按创建时间倒序，时间相同时按 id 倒序
func (s *GormHistoryStore) List(ctx context.Context, filter HistoryFilter) ([]model.Prediction, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}

	query := s.db.WithContext(ctx).Model(&model.Prediction{}).
		Omit("image_data", "results")
	if filter.DetectType != "" {
		query = query.Where("detect_type = ?", filter.DetectType)
	}

	predictions := make([]model.Prediction, 0)
	err := query.Order("created_at DESC").Order("id DESC").Limit(limit).Find(&predictions).Error
	return predictions, err
}

func (s *GormHistoryStore) Delete(ctx context.Context, id int64) error {
	result := s.db.WithContext(ctx).Delete(&model.Prediction{}, id)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *GormHistoryStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
