package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Jwuthri/spacial-limit/model"
	"github.com/Jwuthri/spacial-limit/utils"
	"go.uber.org/zap"
)

// StructuredStrategy 通过函数调用获取检测结果
type StructuredStrategy struct {
	model VisionModel
}

func NewStructuredStrategy(vm VisionModel) *StructuredStrategy {
	return &StructuredStrategy{model: vm}
}

func (s *StructuredStrategy) extract(ctx context.Context, req *DetectionRequest, spec modeSpec, policy ModelPolicy) ([]model.Detection, error) {
	tool := spec.Tool()
	prompt := spec.ToolPrompt(req)

	utils.Logger.Debug("sending function calling request",
		zap.String("model", policy.Model),
		zap.String("tool", tool.Name),
		zap.String("prompt", prompt))

	resp, err := s.model.Generate(ctx, &GenerateRequest{
		Model:          policy.Model,
		Image:          req.Image,
		Prompt:         prompt,
		Temperature:    req.Temperature,
		ThinkingBudget: policy.ThinkingBudget,
		Tool:           tool,
	})
	if err != nil {
		return nil, asTransportError(err)
	}

	call, err := firstFunctionCall(resp)
	if err != nil {
		return nil, err
	}

	raws, err := decodeFunctionArgs(call.Args)
	if err != nil {
		return nil, err
	}

	dets, err := spec.Normalize(StrategyStructured, raws)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrExtraction, err)
	}
	return dets, nil
}

// firstFunctionCall 取第一个候选中的第一个函数调用
func firstFunctionCall(resp *GenerateResponse) (*FunctionCall, error) {
	if resp == nil || len(resp.Candidates) == 0 {
		return nil, fmt.Errorf("%w: no candidates in response", ErrExtraction)
	}
	calls := resp.Candidates[0].FunctionCalls
	if len(calls) == 0 {
		return nil, fmt.Errorf("%w: no function call found in response", ErrExtraction)
	}
	return &calls[0], nil
}

// decodeFunctionArgs 读取 detections 参数，缺省视为空列表
func decodeFunctionArgs(args json.RawMessage) ([]model.RawDetection, error) {
	if len(args) == 0 {
		return nil, nil
	}
	var payload struct {
		Detections []model.RawDetection `json:"detections"`
	}
	if err := json.Unmarshal(args, &payload); err != nil {
		return nil, fmt.Errorf("%w: invalid function call arguments: %w", ErrExtraction, err)
	}
	return payload.Detections, nil
}

func asTransportError(err error) error {
	if errors.Is(err, ErrTransport) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrTransport, err)
}
