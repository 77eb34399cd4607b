package model

import (
	"time"

	"gorm.io/datatypes"
)

// Prediction 历史记录，每次请求写入一条（失败时 Results 为空数组）
type Prediction struct {
	ID                   int64          `gorm:"primaryKey" json:"id" dynamodbav:"id"`
	ImageName            string         `gorm:"index" json:"image_name" dynamodbav:"image_name"`
	ImageData            string         `gorm:"type:text" json:"image_data" dynamodbav:"image_data"`
	DetectType           string         `gorm:"index" json:"detect_type" dynamodbav:"detect_type"`
	TargetPrompt         string         `json:"target_prompt" dynamodbav:"target_prompt"`
	LabelPrompt          string         `json:"label_prompt" dynamodbav:"label_prompt"`
	SegmentationLanguage string         `gorm:"default:English" json:"segmentation_language" dynamodbav:"segmentation_language"`
	Temperature          float64        `gorm:"default:0.4" json:"temperature" dynamodbav:"temperature"`
	ModelUsed            string         `json:"model_used" dynamodbav:"model_used"`
	Strategy             string         `json:"strategy" dynamodbav:"strategy"`
	Results              datatypes.JSON `json:"results" dynamodbav:"results"`
	ResultCount          int            `json:"result_count" dynamodbav:"result_count"`
	CreatedAt            time.Time      `gorm:"index" json:"created_at" dynamodbav:"created_at"`
	ProcessingTime       *float64       `json:"processing_time" dynamodbav:"processing_time,omitempty"`
}

// PredictionSummary 历史列表项
type PredictionSummary struct {
	ID             int64     `json:"id"`
	ImageName      string    `json:"image_name"`
	DetectType     string    `json:"detect_type"`
	TargetPrompt   string    `json:"target_prompt"`
	CreatedAt      time.Time `json:"created_at"`
	ProcessingTime *float64  `json:"processing_time"`
	ResultCount    int       `json:"result_count"`
}

func (p *Prediction) Summary() PredictionSummary {
	return PredictionSummary{
		ID:             p.ID,
		ImageName:      p.ImageName,
		DetectType:     p.DetectType,
		TargetPrompt:   p.TargetPrompt,
		CreatedAt:      p.CreatedAt,
		ProcessingTime: p.ProcessingTime,
		ResultCount:    p.ResultCount,
	}
}
