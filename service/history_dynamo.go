package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/Jwuthri/spacial-limit/config"
	"github.com/Jwuthri/spacial-limit/model"
	"github.com/Jwuthri/spacial-limit/utils"
	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/dynamodb"
	"github.com/aws/aws-sdk-go/service/dynamodb/dynamodbattribute"
	"github.com/aws/aws-sdk-go/service/dynamodb/dynamodbiface"
	"go.uber.org/zap"
)

const maxCreateAttempts = 3

// DynamoHistoryStore DynamoDB 存储，主键 id 为数字
type DynamoHistoryStore struct {
	client    dynamodbiface.DynamoDBAPI
	tableName string
}

func NewDynamoHistoryStore(cfg *config.DatabaseConfig) *DynamoHistoryStore {
	sess := session.Must(session.NewSession(&aws.Config{
		Region: aws.String(cfg.Region),
	}))

	return &DynamoHistoryStore{
		client:    dynamodb.New(sess),
		tableName: cfg.Table,
	}
}

func idKey(id int64) map[string]*dynamodb.AttributeValue {
	return map[string]*dynamodb.AttributeValue{
		"id": {N: aws.String(strconv.FormatInt(id, 10))},
	}
}

// Create 条件写入，id 已存在时不会覆盖；自动生成的 id 冲突时换一个重试
func (d *DynamoHistoryStore) Create(ctx context.Context, p *model.Prediction) error {
	generated := p.ID == 0
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}

	for attempt := 0; ; attempt++ {
		if generated {
			p.ID = utils.GenerateID()
		}

		item, err := dynamodbattribute.MarshalMap(p)
		if err != nil {
			return err
		}

		_, err = d.client.PutItemWithContext(ctx, &dynamodb.PutItemInput{
			TableName:           aws.String(d.tableName),
			Item:                item,
			ConditionExpression: aws.String("attribute_not_exists(id)"),
		})
		if !isConditionFailed(err) {
			return err
		}
		if !generated || attempt+1 >= maxCreateAttempts {
			return fmt.Errorf("%w: %d", ErrDuplicateID, p.ID)
		}
		utils.Logger.Warn("prediction id collision, retrying", zap.Int64("id", p.ID))
	}
}

func (d *DynamoHistoryStore) Get(ctx context.Context, id int64) (*model.Prediction, error) {
	result, err := d.client.GetItemWithContext(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(d.tableName),
		Key:       idKey(id),
	})
	if err != nil {
		return nil, err
	}

	if result.Item == nil {
		return nil, ErrNotFound
	}

	var p model.Prediction
	if err := dynamodbattribute.UnmarshalMap(result.Item, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// List 扫描全表后在内存中排序截断，适合历史量不大的部署
func (d *DynamoHistoryStore) List(ctx context.Context, filter HistoryFilter) ([]model.Prediction, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}

	scanInput := &dynamodb.ScanInput{
		TableName: aws.String(d.tableName),
	}
	if filter.DetectType != "" {
		scanInput.FilterExpression = aws.String("detect_type = :detect_type")
		scanInput.ExpressionAttributeValues = map[string]*dynamodb.AttributeValue{
			":detect_type": {S: aws.String(filter.DetectType)},
		}
	}

	predictions := make([]model.Prediction, 0)
	err := d.client.ScanPagesWithContext(ctx, scanInput, func(page *dynamodb.ScanOutput, _ bool) bool {
		for _, item := range page.Items {
			var p model.Prediction
			if err := dynamodbattribute.UnmarshalMap(item, &p); err != nil {
				utils.Logger.Warn("skipping malformed prediction item", zap.Error(err))
				continue
			}
			predictions = append(predictions, p)
		}
		return true
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(predictions, func(i, j int) bool {
		if !predictions[i].CreatedAt.Equal(predictions[j].CreatedAt) {
			return predictions[i].CreatedAt.After(predictions[j].CreatedAt)
		}
		return predictions[i].ID > predictions[j].ID
	})
	if len(predictions) > limit {
		predictions = predictions[:limit]
	}
	return predictions, nil
}

func (d *DynamoHistoryStore) Delete(ctx context.Context, id int64) error {
	_, err := d.client.DeleteItemWithContext(ctx, &dynamodb.DeleteItemInput{
		TableName:           aws.String(d.tableName),
		Key:                 idKey(id),
		ConditionExpression: aws.String("attribute_exists(id)"),
	})

	if isConditionFailed(err) {
		return ErrNotFound
	}
	return err
}

func isConditionFailed(err error) bool {
	var aerr awserr.Error
	return errors.As(err, &aerr) && aerr.Code() == dynamodb.ErrCodeConditionalCheckFailedException
}
