package openai

import "encoding/json"

// InputMessage is a single entry of a Responses API input list.
type InputMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ResponseRequest is the body of POST /responses.
type ResponseRequest struct {
	Model       string         `json:"model"`
	Input       []InputMessage `json:"input"`
	Temperature *float64       `json:"temperature,omitempty"`
	Text        *TextConfig    `json:"text,omitempty"`
}

// TextConfig selects the output format of a response.
type TextConfig struct {
	Format TextFormat `json:"format"`
}

// TextFormat requests structured output. Type is "json_schema" or "text".
type TextFormat struct {
	Type   string          `json:"type"`
	Name   string          `json:"name,omitempty"`
	Schema json.RawMessage `json:"schema,omitempty"`
}

// Response is the subset of the Responses API result the client reads.
type Response struct {
	ID     string       `json:"id"`
	Status string       `json:"status"`
	Output []OutputItem `json:"output"`
	Error  *APIError    `json:"error,omitempty"`
}

// OutputItem is one element of Response.Output. Only "message" items carry text.
type OutputItem struct {
	Type    string          `json:"type"`
	Role    string          `json:"role,omitempty"`
	Content []OutputContent `json:"content,omitempty"`
}

// OutputContent is a content part of a message output item.
type OutputContent struct {
	Type    string `json:"type"`
	Text    string `json:"text,omitempty"`
	Refusal string `json:"refusal,omitempty"`
}

// APIError is the error object returned in failed responses.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// OutputText concatenates every output_text part of the response.
func (r *Response) OutputText() string {
	var text string
	for _, item := range r.Output {
		if item.Type != "message" {
			continue
		}
		for _, c := range item.Content {
			if c.Type == "output_text" {
				text += c.Text
			}
		}
	}
	return text
}

// Model represents a model entry returned by the /models endpoint.
type Model struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Created int64  `json:"created,omitempty"`
	OwnedBy string `json:"owned_by,omitempty"`
}

// ModelList is the response from /models.
type ModelList struct {
	Object string  `json:"object"`
	Data   []Model `json:"data"`
}
