package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/querypilot/querypilot/internal/api"
	"github.com/querypilot/querypilot/internal/tools"
)

const (
	anthropicAPIURL  = "https://api.anthropic.com/v1/messages"
	anthropicVersion = "2023-06-01"
)

// --- Wire structures for the Anthropic Messages API ---

type anthropicRequest struct {
	Model     string             `json:"model"`
	Messages  []anthropicMessage `json:"messages"`
	System    string             `json:"system,omitempty"`
	Tools     []anthropicTool    `json:"tools,omitempty"`
	MaxTokens int                `json:"max_tokens"`
}

type anthropicMessage struct {
	Role    string                  `json:"role"`
	Content []anthropicContentBlock `json:"content"`
}

type anthropicTool struct {
	Name        string           `json:"name"`
	Description string           `json:"description"`
	InputSchema tools.JSONSchema `json:"input_schema"`
}

type anthropicContentBlock struct {
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	Content   string          `json:"content,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
}

type anthropicUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type anthropicResponse struct {
	Content    []anthropicContentBlock `json:"content"`
	StopReason string                  `json:"stop_reason"`
	Usage      anthropicUsage          `json:"usage"`
}

// AnthropicGateway talks to the Anthropic Messages API directly over HTTP.
// The API's content-block format matches the transcript model one-to-one,
// so the conversion layer is thin.
type AnthropicGateway struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

var _ Gateway = (*AnthropicGateway)(nil)

// NewAnthropicGateway creates a configured Anthropic client.
func NewAnthropicGateway(apiKey string) (*AnthropicGateway, error) {
	if apiKey == "" {
		return nil, errors.New("anthropic API key cannot be empty")
	}
	return &AnthropicGateway{
		apiKey:     apiKey,
		baseURL:    anthropicAPIURL,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}, nil
}

func (g *AnthropicGateway) Converse(ctx context.Context, req *ConverseRequest) (*ConverseResponse, error) {
	payload, err := g.buildRequestPayload(req)
	if err != nil {
		return nil, fmt.Errorf("build anthropic request payload: %w", err)
	}
	respBody, err := g.doRequest(ctx, payload)
	if err != nil {
		return nil, err
	}
	return parseAnthropicResponse(respBody)
}

func (g *AnthropicGateway) buildRequestPayload(req *ConverseRequest) (*bytes.Buffer, error) {
	messages, err := toAnthropicMessages(req.Messages)
	if err != nil {
		return nil, err
	}

	wireReq := anthropicRequest{
		Model:     req.Model,
		Messages:  messages,
		System:    req.System,
		Tools:     toAnthropicTools(req.Tools),
		MaxTokens: defaultMaxTokens,
	}
	payloadBytes, err := json.Marshal(wireReq)
	if err != nil {
		return nil, fmt.Errorf("marshal request payload: %w", err)
	}
	return bytes.NewBuffer(payloadBytes), nil
}

func toAnthropicMessages(messages []Message) ([]anthropicMessage, error) {
	out := make([]anthropicMessage, 0, len(messages))
	for _, msg := range messages {
		wireMsg := anthropicMessage{Role: string(msg.Role)}
		for _, block := range msg.Content {
			switch b := block.(type) {
			case TextBlock:
				wireMsg.Content = append(wireMsg.Content, anthropicContentBlock{
					Type: "text",
					Text: b.Text,
				})
			case ToolUseBlock:
				wireMsg.Content = append(wireMsg.Content, anthropicContentBlock{
					Type:  "tool_use",
					ID:    b.ID,
					Name:  b.Name,
					Input: b.Input,
				})
			case ToolResultBlock:
				wireMsg.Content = append(wireMsg.Content, anthropicContentBlock{
					Type:      "tool_result",
					ToolUseID: b.ToolUseID,
					Content:   b.Text(),
				})
			default:
				return nil, fmt.Errorf("unknown content block type %T", block)
			}
		}
		out = append(out, wireMsg)
	}
	return out, nil
}

func toAnthropicTools(catalog []tools.Tool) []anthropicTool {
	if len(catalog) == 0 {
		return nil
	}
	out := make([]anthropicTool, 0, len(catalog))
	for _, t := range catalog {
		out = append(out, anthropicTool{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: t.InputSchema,
		})
	}
	return out
}

func parseAnthropicResponse(body []byte) (*ConverseResponse, error) {
	var wireResp anthropicResponse
	if err := json.Unmarshal(body, &wireResp); err != nil {
		return nil, fmt.Errorf("unmarshal anthropic response: %w", err)
	}
	if len(wireResp.Content) == 0 {
		return nil, errors.New("no content returned from Anthropic")
	}

	msg := Message{Role: RoleAssistant}
	for _, block := range wireResp.Content {
		switch block.Type {
		case "text":
			msg.Content = append(msg.Content, TextBlock{Text: block.Text})
		case "tool_use":
			msg.Content = append(msg.Content, ToolUseBlock{
				ID:    block.ID,
				Name:  block.Name,
				Input: block.Input,
			})
		default:
			return nil, fmt.Errorf("unexpected content block type %q in anthropic response", block.Type)
		}
	}

	stop := StopEndTurn
	if wireResp.StopReason == "tool_use" {
		stop = StopToolUse
	}

	return &ConverseResponse{
		StopReason: stop,
		Message:    msg,
		Usage: api.Usage{
			PromptTokens:     wireResp.Usage.InputTokens,
			CompletionTokens: wireResp.Usage.OutputTokens,
			TotalTokens:      wireResp.Usage.InputTokens + wireResp.Usage.OutputTokens,
		},
	}, nil
}

// doRequest performs the HTTP call with exponential-backoff retries for
// transport and 5xx failures. 4xx responses are not retried.
func (g *AnthropicGateway) doRequest(ctx context.Context, payload *bytes.Buffer) ([]byte, error) {
	var lastErr error
	delay := initialRetryDelay
	for i := 0; i < maxRetries; i++ {
		req, err := g.createRequest(ctx, bytes.NewReader(payload.Bytes()))
		if err != nil {
			return nil, err
		}
		resp, err := g.httpClient.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("request failed (attempt %d/%d): %w", i+1, maxRetries, err)
			time.Sleep(delay)
			delay *= 2
			continue
		}
		body, readErr := io.ReadAll(resp.Body)
		if err := resp.Body.Close(); err != nil {
			log.Printf("WARNING: failed to close response body: %v", err)
		}
		if readErr != nil {
			return nil, fmt.Errorf("read response body: %w", readErr)
		}
		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return body, nil
		}
		lastErr = fmt.Errorf("anthropic API error (attempt %d/%d): status %d, body: %s", i+1, maxRetries, resp.StatusCode, string(body))
		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			return nil, lastErr
		}
		time.Sleep(delay)
		delay *= 2
	}
	return nil, lastErr
}

func (g *AnthropicGateway) createRequest(ctx context.Context, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL, body)
	if err != nil {
		return nil, fmt.Errorf("create http request: %w", err)
	}
	req.Header.Set("x-api-key", g.apiKey)
	req.Header.Set("anthropic-version", anthropicVersion)
	req.Header.Set("content-type", "application/json")
	return req, nil
}
