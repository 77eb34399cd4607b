package service

import (
	"errors"
	"time"
)

var (
	// ErrTransport 调用视觉模型失败
	ErrTransport = errors.New("vision model request failed")
	// ErrExtraction 结构化调用缺少或无法解析函数调用
	ErrExtraction = errors.New("function call extraction failed")
	// ErrParse 文本响应中缺少或无法解析 JSON
	ErrParse = errors.New("response parsing failed")
	// ErrValidation 请求参数错误
	ErrValidation = errors.New("invalid request")
	// ErrBusy 等待检测队列超时
	ErrBusy = errors.New("detection queue is full, please retry later")
	// ErrDuplicateID 记录 id 已存在
	ErrDuplicateID = errors.New("prediction id already exists")
	// ErrNotFound 记录不存在
	ErrNotFound = errors.New("prediction not found")
)

// Strategy 结果来源
type Strategy string

const (
	StrategyStructured Strategy = "structured"
	StrategyFreeText   Strategy = "free_text"
	StrategyCache      Strategy = "cache"
	StrategyClient     Strategy = "client"
)

// DetectionFailure 检测失败，携带模型、耗时和原始错误
type DetectionFailure struct {
	Model    string
	Strategy Strategy
	Elapsed  time.Duration
	Cause    error
}

func (e *DetectionFailure) Error() string {
	return e.Cause.Error()
}

func (e *DetectionFailure) Unwrap() error {
	return e.Cause
}
