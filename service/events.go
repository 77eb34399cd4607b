package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/Jwuthri/spacial-limit/config"
	"github.com/Jwuthri/spacial-limit/model"
	"github.com/Jwuthri/spacial-limit/utils"
	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/sqs"
	"github.com/aws/aws-sdk-go/service/sqs/sqsiface"
	"go.uber.org/zap"
)

const (
	EventPredictionCreated = "prediction.created"
	EventPredictionDeleted = "prediction.deleted"
)

// PredictionEvent 预测记录变更事件
type PredictionEvent struct {
	Event        string    `json:"event"`
	PredictionID int64     `json:"prediction_id"`
	DetectType   string    `json:"detect_type,omitempty"`
	ResultCount  int       `json:"result_count"`
	At           time.Time `json:"at"`
}

func NewPredictionEvent(event string, p *model.Prediction) PredictionEvent {
	return PredictionEvent{
		Event:        event,
		PredictionID: p.ID,
		DetectType:   p.DetectType,
		ResultCount:  p.ResultCount,
		At:           time.Now().UTC(),
	}
}

// EventPublisher 发布失败只记日志，不影响请求
type EventPublisher interface {
	Publish(ctx context.Context, event PredictionEvent)
}

// NewEventPublisher 未配置队列时返回空实现
func NewEventPublisher(cfg *config.EventsConfig) EventPublisher {
	if cfg.QueueURL == "" {
		return NopPublisher{}
	}
	return NewSQSPublisher(cfg)
}

type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, PredictionEvent) {}

type SQSPublisher struct {
	client   sqsiface.SQSAPI
	queueURL string
}

func NewSQSPublisher(cfg *config.EventsConfig) *SQSPublisher {
	sess := session.Must(session.NewSession(&aws.Config{
		Region: aws.String(cfg.Region),
	}))

	return &SQSPublisher{
		client:   sqs.New(sess),
		queueURL: cfg.QueueURL,
	}
}

func (s *SQSPublisher) Publish(ctx context.Context, event PredictionEvent) {
	body, err := json.Marshal(event)
	if err != nil {
		utils.Logger.Error("failed to marshal event", zap.Error(err))
		return
	}

	_, err = s.client.SendMessageWithContext(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(s.queueURL),
		MessageBody: aws.String(string(body)),
	})
	if err != nil {
		utils.Logger.Warn("failed to publish event",
			zap.String("event", event.Event),
			zap.Int64("prediction_id", event.PredictionID),
			zap.Error(err))
	}
}
