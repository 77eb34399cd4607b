package service

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/Jwuthri/spacial-limit/config"
)

// SchemaType 参数类型
type SchemaType string

const (
	TypeObject SchemaType = "object"
	TypeArray  SchemaType = "array"
	TypeNumber SchemaType = "number"
	TypeString SchemaType = "string"
)

// Schema 与具体模型SDK无关的函数参数描述
type Schema struct {
	Type        SchemaType
	Description string
	Items       *Schema
	Properties  map[string]*Schema
	Required    []string
}

// JSONSchema 转为标准 JSON Schema
func (s *Schema) JSONSchema() map[string]any {
	out := map[string]any{"type": string(s.Type)}
	if s.Description != "" {
		out["description"] = s.Description
	}
	if s.Items != nil {
		out["items"] = s.Items.JSONSchema()
	}
	if len(s.Properties) > 0 {
		props := make(map[string]any, len(s.Properties))
		for name, p := range s.Properties {
			props[name] = p.JSONSchema()
		}
		out["properties"] = props
	}
	if len(s.Required) > 0 {
		out["required"] = s.Required
	}
	return out
}

// ToolDeclaration 要求模型调用的函数
type ToolDeclaration struct {
	Name        string
	Description string
	Parameters  *Schema
}

// GenerateRequest 一次模型调用
type GenerateRequest struct {
	Model          string
	Image          []byte // PNG
	Prompt         string
	Temperature    float64
	ThinkingBudget *int32 // nil 表示使用模型默认值
	Tool           *ToolDeclaration
}

// FunctionCall 模型返回的函数调用，Args 为 JSON 对象
type FunctionCall struct {
	Name string
	Args json.RawMessage
}

// Candidate 单个候选结果
type Candidate struct {
	Text          string
	FunctionCalls []FunctionCall
}

type GenerateResponse struct {
	Candidates []Candidate
}

// VisionModel 多模态模型客户端
type VisionModel interface {
	Generate(ctx context.Context, req *GenerateRequest) (*GenerateResponse, error)
}

// NewVisionModel 按配置创建模型客户端
func NewVisionModel(ctx context.Context, cfg *config.VisionConfig) (VisionModel, error) {
	switch cfg.Provider {
	case "", "gemini":
		return NewGeminiModel(ctx, cfg)
	case "openai":
		return NewOpenAIModel(cfg), nil
	default:
		return nil, fmt.Errorf("unknown vision provider %q", cfg.Provider)
	}
}
