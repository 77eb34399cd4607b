package service

import (
	"context"
	"time"

	"github.com/Jwuthri/spacial-limit/config"
	"github.com/Jwuthri/spacial-limit/model"
	"github.com/Jwuthri/spacial-limit/utils"
	"go.uber.org/zap"
)

// DetectionRequest 一次检测请求，Image 为预处理后的 PNG
type DetectionRequest struct {
	Image        []byte
	Mode         model.Mode
	TargetPrompt string
	LabelPrompt  string
	Language     string
	Temperature  float64
}

// DetectionResult 检测结果及其来源
type DetectionResult struct {
	Detections []model.Detection
	Model      string
	Strategy   Strategy
	Elapsed    time.Duration
}

// DetectorService 选择模型和提取方式；函数调用失败时改用文本解析，且只重试这一次
type DetectorService struct {
	structured   *StructuredStrategy
	freeText     *FreeTextStrategy
	policies     ModelPolicies
	timeout      time.Duration
	semaphore    chan struct{}
	queueTimeout time.Duration
}

func NewDetectorService(vm VisionModel, policies ModelPolicies, cfg *config.VisionConfig) *DetectorService {
	maxConcurrent := cfg.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	return &DetectorService{
		structured:   NewStructuredStrategy(vm),
		freeText:     NewFreeTextStrategy(vm),
		policies:     policies,
		timeout:      cfg.Timeout,
		semaphore:    make(chan struct{}, maxConcurrent),
		queueTimeout: time.Duration(cfg.QueueTimeout) * time.Second,
	}
}

// ModelFor 返回检测类型对应的模型
func (s *DetectorService) ModelFor(mode model.Mode) string {
	return s.policies.For(mode).Model
}

// Detect 执行检测
func (s *DetectorService) Detect(ctx context.Context, req *DetectionRequest) (*DetectionResult, error) {
	start := time.Now()
	policy := s.policies.For(req.Mode)

	spec, err := specFor(req.Mode)
	if err != nil {
		return nil, &DetectionFailure{Model: policy.Model, Elapsed: time.Since(start), Cause: err}
	}

	// 并发控制
	if err := s.acquire(ctx); err != nil {
		return nil, &DetectionFailure{Model: policy.Model, Elapsed: time.Since(start), Cause: err}
	}
	defer s.release()

	utils.Logger.Info("starting detection",
		zap.String("detect_type", string(req.Mode)),
		zap.String("target_prompt", req.TargetPrompt),
		zap.String("model", policy.Model))

	if spec.Structured() {
		attemptCtx, cancel := s.attemptContext(ctx)
		dets, err := s.structured.extract(attemptCtx, req, spec, policy)
		cancel()
		if err == nil {
			return s.result(dets, policy, StrategyStructured, start), nil
		}
		utils.Logger.Warn("function calling failed, falling back to free text",
			zap.String("detect_type", string(req.Mode)),
			zap.Error(err))
	}

	attemptCtx, cancel := s.attemptContext(ctx)
	defer cancel()
	dets, err := s.freeText.extract(attemptCtx, req, spec, policy)
	if err != nil {
		return nil, &DetectionFailure{
			Model:    policy.Model,
			Strategy: StrategyFreeText,
			Elapsed:  time.Since(start),
			Cause:    err,
		}
	}
	return s.result(dets, policy, StrategyFreeText, start), nil
}

func (s *DetectorService) acquire(ctx context.Context) error {
	waitCtx := ctx
	if s.queueTimeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, s.queueTimeout)
		defer cancel()
	}

	select {
	case s.semaphore <- struct{}{}:
		return nil
	case <-waitCtx.Done():
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return ErrBusy
	}
}

func (s *DetectorService) release() {
	<-s.semaphore
}

// attemptContext 每次模型调用单独计时
func (s *DetectorService) attemptContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.timeout)
}

func (s *DetectorService) result(dets []model.Detection, policy ModelPolicy, strategy Strategy, start time.Time) *DetectionResult {
	elapsed := time.Since(start)
	utils.Logger.Info("detection succeeded",
		zap.String("strategy", string(strategy)),
		zap.Int("detections", len(dets)),
		zap.Duration("duration", elapsed))
	return &DetectionResult{
		Detections: dets,
		Model:      policy.Model,
		Strategy:   strategy,
		Elapsed:    elapsed,
	}
}
