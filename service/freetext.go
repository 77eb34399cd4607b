package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/Jwuthri/spacial-limit/model"
	"github.com/Jwuthri/spacial-limit/utils"
	"go.uber.org/zap"
)

// FreeTextStrategy 通过提示词让模型输出 JSON 文本
type FreeTextStrategy struct {
	model VisionModel
}

func NewFreeTextStrategy(vm VisionModel) *FreeTextStrategy {
	return &FreeTextStrategy{model: vm}
}

func (s *FreeTextStrategy) extract(ctx context.Context, req *DetectionRequest, spec modeSpec, policy ModelPolicy) ([]model.Detection, error) {
	prompt := spec.FreeTextPrompt(req)

	utils.Logger.Debug("sending free text request",
		zap.String("model", policy.Model),
		zap.String("prompt", prompt))

	resp, err := s.model.Generate(ctx, &GenerateRequest{
		Model:          policy.Model,
		Image:          req.Image,
		Prompt:         prompt,
		Temperature:    req.Temperature,
		ThinkingBudget: policy.ThinkingBudget,
	})
	if err != nil {
		return nil, asTransportError(err)
	}
	if resp == nil || len(resp.Candidates) == 0 {
		return nil, fmt.Errorf("%w: no candidates in response", ErrParse)
	}

	text := extractJSONText(resp.Candidates[0].Text)
	var raws []model.RawDetection
	if err := json.Unmarshal([]byte(text), &raws); err != nil {
		utils.Logger.Error("json parsing failed",
			zap.Error(err),
			zap.String("response_text", truncate(text, 500)))
		return nil, fmt.Errorf("%w: %w", ErrParse, err)
	}
	if raws == nil {
		return nil, fmt.Errorf("%w: response is not a JSON array", ErrParse)
	}

	dets, err := spec.Normalize(StrategyFreeText, raws)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrParse, err)
	}
	return dets, nil
}

// extractJSONText 优先取第一个 ```json 代码块的内容
func extractJSONText(text string) string {
	const fence = "```json"
	i := strings.Index(text, fence)
	if i < 0 {
		return text
	}
	rest := text[i+len(fence):]
	if j := strings.Index(rest, "```"); j >= 0 {
		rest = rest[:j]
	}
	return rest
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
