package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/kalambet/otwatch/internal/openai"
)

// schemaName labels structured-output requests sent to the Responses API.
const schemaName = "ot_assessment"

// OpenAIEngine adapts the internal/openai.Client to the Engine interface.
type OpenAIEngine struct {
	client      *openai.Client
	temperature float64
}

// NewOpenAIEngine creates an OpenAIEngine for the API at baseURL.
func NewOpenAIEngine(baseURL, apiKey string, temperature float64, timeout time.Duration) *OpenAIEngine {
	return &OpenAIEngine{
		client:      openai.NewClient(apiKey, baseURL, timeout),
		temperature: temperature,
	}
}

func (e *OpenAIEngine) Chat(ctx context.Context, model string, messages []Message, jsonSchema *Schema) (string, error) {
	input := make([]openai.InputMessage, len(messages))
	for i, m := range messages {
		input[i] = openai.InputMessage{Role: m.Role, Content: m.Content}
	}

	temp := e.temperature
	req := openai.ResponseRequest{
		Model:       model,
		Input:       input,
		Temperature: &temp,
	}
	if jsonSchema != nil {
		raw, err := json.Marshal(jsonSchema)
		if err != nil {
			return "", fmt.Errorf("marshaling schema: %w", err)
		}
		req.Text = &openai.TextConfig{Format: openai.TextFormat{
			Type:   "json_schema",
			Name:   schemaName,
			Schema: raw,
		}}
	}

	resp, err := e.client.CreateResponse(ctx, req)
	if err != nil {
		return "", err
	}
	text := resp.OutputText()
	if text == "" {
		return "", fmt.Errorf("response %s has no output text", resp.ID)
	}
	return text, nil
}

// IsRunning reports whether the API answers a model listing with the
// configured key.
func (e *OpenAIEngine) IsRunning(ctx context.Context) bool {
	_, err := e.client.ListModels(ctx)
	return err == nil
}
