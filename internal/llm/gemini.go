package llm

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// GeminiClient adapts the Gemini SDK to the provider contract. The chat
// model handles tool-calling turns; the classifier model is a cheaper one
// used for intent labeling.
type GeminiClient struct {
	client          *genai.Client
	chatModel       string
	classifierModel string
}

func NewGeminiClient(ctx context.Context, apiKey, chatModel, classifierModel string) (*GeminiClient, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}
	return &GeminiClient{
		client:          client,
		chatModel:       chatModel,
		classifierModel: classifierModel,
	}, nil
}

func (c *GeminiClient) Close() error {
	return c.client.Close()
}

func (c *GeminiClient) NewSession(cfg SessionConfig) (Session, error) {
	model := c.client.GenerativeModel(c.chatModel)

	if cfg.SystemInstruction != "" {
		model.SystemInstruction = &genai.Content{
			Parts: []genai.Part{genai.Text(cfg.SystemInstruction)},
		}
	}
	if len(cfg.Tools) > 0 {
		model.Tools = toGenaiTools(cfg.Tools)
		model.ToolConfig = &genai.ToolConfig{
			FunctionCallingConfig: &genai.FunctionCallingConfig{
				Mode: genai.FunctionCallingAuto,
			},
		}
	}
	if cfg.Temperature > 0 {
		model.SetTemperature(cfg.Temperature)
	}
	if cfg.MaxOutputTokens > 0 {
		model.SetMaxOutputTokens(cfg.MaxOutputTokens)
	}

	cs := model.StartChat()
	cs.History = toGenaiHistory(cfg.History)
	return &geminiSession{chat: cs}, nil
}

func (c *GeminiClient) Classify(ctx context.Context, instruction, message string) (string, error) {
	model := c.client.GenerativeModel(c.classifierModel)
	model.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(instruction)},
	}
	model.SetTemperature(0)
	model.SetMaxOutputTokens(16)

	resp, err := model.GenerateContent(ctx, genai.Text(message))
	if err != nil {
		return "", fmt.Errorf("classification request failed: %w", err)
	}
	label := strings.TrimSpace(collectText(resp))
	if label == "" {
		return "", fmt.Errorf("classification returned no text")
	}
	return label, nil
}

func (c *GeminiClient) GenerateJSON(ctx context.Context, instruction, prompt string) ([]byte, error) {
	model := c.client.GenerativeModel(c.chatModel)
	model.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(instruction)},
	}
	model.ResponseMIMEType = "application/json"
	model.SetTemperature(0.7)
	model.SetMaxOutputTokens(8192)

	resp, err := model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return nil, fmt.Errorf("json generation request failed: %w", err)
	}
	text := collectText(resp)
	if text == "" {
		return nil, fmt.Errorf("json generation returned no text")
	}
	return []byte(text), nil
}

type geminiSession struct {
	chat *genai.ChatSession
}

func (s *geminiSession) SendMessage(ctx context.Context, text string) (Stream, error) {
	return &geminiStream{iter: s.chat.SendMessageStream(ctx, genai.Text(text))}, nil
}

func (s *geminiSession) SendToolResult(ctx context.Context, name string, payload map[string]any) (Stream, error) {
	resp := genai.FunctionResponse{Name: name, Response: payload}
	return &geminiStream{iter: s.chat.SendMessageStream(ctx, resp)}, nil
}

type geminiStream struct {
	iter    *genai.GenerateContentResponseIterator
	pending []*Chunk
}

func (g *geminiStream) Next() (*Chunk, error) {
	for len(g.pending) == 0 {
		resp, err := g.iter.Next()
		if err == iterator.Done {
			return nil, io.EOF
		}
		if err != nil {
			return nil, err
		}
		g.pending = chunksFrom(resp)
	}
	c := g.pending[0]
	g.pending = g.pending[1:]
	return c, nil
}

func chunksFrom(resp *genai.GenerateContentResponse) []*Chunk {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil
	}
	var out []*Chunk
	for _, part := range resp.Candidates[0].Content.Parts {
		switch p := part.(type) {
		case genai.Text:
			if p != "" {
				out = append(out, &Chunk{Text: string(p)})
			}
		case genai.FunctionCall:
			out = append(out, &Chunk{Call: &ToolCall{Name: p.Name, Args: p.Args}})
		default:
			// Unmappable part. Surface an empty chunk so the caller can log
			// and skip it instead of it vanishing silently.
			out = append(out, &Chunk{})
		}
	}
	return out
}

func collectText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			b.WriteString(string(txt))
		}
	}
	return b.String()
}

func toGenaiHistory(turns []Turn) []*genai.Content {
	var out []*genai.Content
	for _, t := range turns {
		role := "user"
		if t.Role == RoleAssistant {
			role = "model"
		}
		out = append(out, &genai.Content{
			Role:  role,
			Parts: []genai.Part{genai.Text(t.Text)},
		})
	}
	return out
}

func toGenaiTools(specs []ToolSpec) []*genai.Tool {
	decls := make([]*genai.FunctionDeclaration, 0, len(specs))
	for _, spec := range specs {
		var schema *genai.Schema
		if len(spec.Params) > 0 {
			schema = &genai.Schema{
				Type:       genai.TypeObject,
				Properties: map[string]*genai.Schema{},
			}
			for _, p := range spec.Params {
				schema.Properties[p.Name] = &genai.Schema{
					Type:        toGenaiType(p.Type),
					Description: p.Description,
				}
				if p.Required {
					schema.Required = append(schema.Required, p.Name)
				}
			}
		}
		decls = append(decls, &genai.FunctionDeclaration{
			Name:        spec.Name,
			Description: spec.Description,
			Parameters:  schema,
		})
	}
	return []*genai.Tool{{FunctionDeclarations: decls}}
}

func toGenaiType(t ParamType) genai.Type {
	switch t {
	case ParamInteger:
		return genai.TypeInteger
	case ParamNumber:
		return genai.TypeNumber
	case ParamBoolean:
		return genai.TypeBoolean
	default:
		return genai.TypeString
	}
}
