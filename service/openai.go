package service

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/Jwuthri/spacial-limit/config"
	"github.com/Jwuthri/spacial-limit/utils"
	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

// OpenAIModel OpenAI 兼容接口（vLLM 等），不支持思考预算
type OpenAIModel struct {
	client openai.Client
}

func NewOpenAIModel(cfg *config.VisionConfig) *OpenAIModel {
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &OpenAIModel{client: openai.NewClient(opts...)}
}

func (m *OpenAIModel) Generate(ctx context.Context, req *GenerateRequest) (*GenerateResponse, error) {
	params := openai.ChatCompletionNewParams{
		Model: openai.ChatModel(req.Model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage([]openai.ChatCompletionContentPartUnionParam{
				openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{
					URL: utils.PNGDataURI(req.Image),
				}),
				openai.TextContentPart(req.Prompt),
			}),
		},
		Temperature: openai.Float(req.Temperature),
	}
	if req.Tool != nil {
		params.Tools = []openai.ChatCompletionToolUnionParam{
			openai.ChatCompletionFunctionTool(openai.FunctionDefinitionParam{
				Name:        req.Tool.Name,
				Description: openai.String(req.Tool.Description),
				Parameters:  openai.FunctionParameters(req.Tool.Parameters.JSONSchema()),
			}),
		}
	}

	completion, err := m.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTransport, err)
	}

	out := &GenerateResponse{}
	for _, choice := range completion.Choices {
		c := Candidate{Text: choice.Message.Content}
		for _, tc := range choice.Message.ToolCalls {
			args := json.RawMessage(tc.Function.Arguments)
			if !json.Valid(args) {
				return nil, fmt.Errorf("%w: invalid function call arguments", ErrExtraction)
			}
			c.FunctionCalls = append(c.FunctionCalls, FunctionCall{Name: tc.Function.Name, Args: args})
		}
		out.Candidates = append(out.Candidates, c)
	}
	return out, nil
}
