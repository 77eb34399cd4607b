package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/Jwuthri/spacial-limit/config"
	"google.golang.org/genai"
)

// GeminiModel Gemini API 客户端
type GeminiModel struct {
	client *genai.Client
}

func NewGeminiModel(ctx context.Context, cfg *config.VisionConfig) (*GeminiModel, error) {
	cc := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.BaseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}
	return &GeminiModel{client: client}, nil
}

func (m *GeminiModel) Generate(ctx context.Context, req *GenerateRequest) (*GenerateResponse, error) {
	contents := []*genai.Content{{
		Role: "user",
		Parts: []*genai.Part{
			{InlineData: &genai.Blob{Data: req.Image, MIMEType: "image/png"}},
			{Text: req.Prompt},
		},
	}}

	resp, err := m.client.Models.GenerateContent(ctx, req.Model, contents, geminiConfig(req))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTransport, err)
	}
	return fromGeminiResponse(resp)
}

func geminiConfig(req *GenerateRequest) *genai.GenerateContentConfig {
	temperature := float32(req.Temperature)
	gc := &genai.GenerateContentConfig{Temperature: &temperature}
	if req.ThinkingBudget != nil {
		gc.ThinkingConfig = &genai.ThinkingConfig{ThinkingBudget: req.ThinkingBudget}
	}
	if req.Tool != nil {
		gc.Tools = []*genai.Tool{{
			FunctionDeclarations: []*genai.FunctionDeclaration{{
				Name:        req.Tool.Name,
				Description: req.Tool.Description,
				Parameters:  toGeminiSchema(req.Tool.Parameters),
			}},
		}}
	}
	return gc
}

func toGeminiSchema(s *Schema) *genai.Schema {
	if s == nil {
		return nil
	}
	out := &genai.Schema{
		Type:        genai.Type(strings.ToUpper(string(s.Type))),
		Description: s.Description,
		Items:       toGeminiSchema(s.Items),
		Required:    s.Required,
	}
	if len(s.Properties) > 0 {
		out.Properties = make(map[string]*genai.Schema, len(s.Properties))
		for name, p := range s.Properties {
			out.Properties[name] = toGeminiSchema(p)
		}
	}
	return out
}

func fromGeminiResponse(resp *genai.GenerateContentResponse) (*GenerateResponse, error) {
	out := &GenerateResponse{}
	if resp == nil {
		return out, nil
	}
	for _, cand := range resp.Candidates {
		if cand == nil || cand.Content == nil {
			out.Candidates = append(out.Candidates, Candidate{})
			continue
		}
		var c Candidate
		var text strings.Builder
		for _, part := range cand.Content.Parts {
			if part == nil {
				continue
			}
			if part.FunctionCall != nil {
				args, err := json.Marshal(part.FunctionCall.Args)
				if err != nil {
					return nil, fmt.Errorf("%w: invalid function call arguments: %w", ErrExtraction, err)
				}
				c.FunctionCalls = append(c.FunctionCalls, FunctionCall{Name: part.FunctionCall.Name, Args: args})
				continue
			}
			if part.Text != "" && !part.Thought {
				text.WriteString(part.Text)
			}
		}
		c.Text = text.String()
		out.Candidates = append(out.Candidates, c)
	}
	return out, nil
}
