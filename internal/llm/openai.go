package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/querypilot/querypilot/internal/api"
	"github.com/querypilot/querypilot/internal/tools"
)

const openAIAPIURL = "https://api.openai.com/v1/chat/completions"

// --- Wire structures for the OpenAI chat-completions API ---

type openAIRequest struct {
	Model      string          `json:"model"`
	Messages   []openAIMessage `json:"messages"`
	Tools      []openAITool    `json:"tools,omitempty"`
	ToolChoice string          `json:"tool_choice,omitempty"`
	MaxTokens  int             `json:"max_tokens,omitempty"`
}

type openAIMessage struct {
	Role       string           `json:"role"`
	Content    string           `json:"content"`
	ToolCalls  []openAIToolCall `json:"tool_calls,omitempty"`
	ToolCallID string           `json:"tool_call_id,omitempty"`
}

type openAIToolCall struct {
	ID       string             `json:"id"`
	Type     string             `json:"type"`
	Function openAIToolFunction `json:"function"`
}

type openAIToolFunction struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type openAITool struct {
	Type     string         `json:"type"`
	Function openAIToolSpec `json:"function"`
}

type openAIToolSpec struct {
	Name        string           `json:"name"`
	Description string           `json:"description"`
	Parameters  tools.JSONSchema `json:"parameters"`
}

type openAIResponse struct {
	Choices []struct {
		Message      openAIMessage `json:"message"`
		FinishReason string        `json:"finish_reason"`
	} `json:"choices"`
	Usage api.Usage `json:"usage"`
}

// OpenAIGateway talks to the OpenAI chat-completions API. Unlike Anthropic,
// OpenAI models tool results as standalone role:"tool" messages rather than
// content blocks inside a user message, so the transcript is flattened on
// the way out and folded back on the way in.
type OpenAIGateway struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

var _ Gateway = (*OpenAIGateway)(nil)

func NewOpenAIGateway(apiKey string) (*OpenAIGateway, error) {
	if apiKey == "" {
		return nil, errors.New("openai API key cannot be empty")
	}
	return &OpenAIGateway{
		apiKey:     apiKey,
		baseURL:    openAIAPIURL,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}, nil
}

func (g *OpenAIGateway) Converse(ctx context.Context, req *ConverseRequest) (*ConverseResponse, error) {
	wireReq := openAIRequest{
		Model:     req.Model,
		Messages:  toOpenAIMessages(req.System, req.Messages),
		Tools:     toOpenAITools(req.Tools),
		MaxTokens: defaultMaxTokens,
	}
	if len(wireReq.Tools) > 0 {
		wireReq.ToolChoice = "auto"
	}
	payloadBytes, err := json.Marshal(wireReq)
	if err != nil {
		return nil, fmt.Errorf("marshal openai request payload: %w", err)
	}

	respBody, err := g.doRequest(ctx, bytes.NewBuffer(payloadBytes))
	if err != nil {
		return nil, err
	}
	return parseOpenAIResponse(respBody)
}

func toOpenAIMessages(system string, messages []Message) []openAIMessage {
	out := make([]openAIMessage, 0, len(messages)+1)
	if system != "" {
		out = append(out, openAIMessage{Role: "system", Content: system})
	}
	for _, msg := range messages {
		switch msg.Role {
		case RoleAssistant:
			wireMsg := openAIMessage{Role: "assistant", Content: msg.Text()}
			for _, use := range msg.ToolUses() {
				wireMsg.ToolCalls = append(wireMsg.ToolCalls, openAIToolCall{
					ID:   use.ID,
					Type: "function",
					Function: openAIToolFunction{
						Name:      use.Name,
						Arguments: string(use.Input),
					},
				})
			}
			out = append(out, wireMsg)
		default:
			// Tool results become standalone tool messages; plain text
			// stays a user message. A transcript user message never
			// mixes the two.
			emittedToolResult := false
			for _, block := range msg.Content {
				if result, ok := block.(ToolResultBlock); ok {
					out = append(out, openAIMessage{
						Role:       "tool",
						ToolCallID: result.ToolUseID,
						Content:    result.Text(),
					})
					emittedToolResult = true
				}
			}
			if !emittedToolResult {
				out = append(out, openAIMessage{Role: "user", Content: msg.Text()})
			}
		}
	}
	return out
}

func toOpenAITools(catalog []tools.Tool) []openAITool {
	if len(catalog) == 0 {
		return nil
	}
	out := make([]openAITool, 0, len(catalog))
	for _, t := range catalog {
		out = append(out, openAITool{
			Type: "function",
			Function: openAIToolSpec{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.InputSchema,
			},
		})
	}
	return out
}

func parseOpenAIResponse(body []byte) (*ConverseResponse, error) {
	var wireResp openAIResponse
	if err := json.Unmarshal(body, &wireResp); err != nil {
		return nil, fmt.Errorf("unmarshal openai response: %w", err)
	}
	if len(wireResp.Choices) == 0 {
		return nil, errors.New("no choices returned from OpenAI")
	}

	choice := wireResp.Choices[0]
	msg := Message{Role: RoleAssistant}
	if choice.Message.Content != "" {
		msg.Content = append(msg.Content, TextBlock{Text: choice.Message.Content})
	}
	for _, call := range choice.Message.ToolCalls {
		msg.Content = append(msg.Content, ToolUseBlock{
			ID:    call.ID,
			Name:  call.Function.Name,
			Input: json.RawMessage(call.Function.Arguments),
		})
	}

	stop := StopEndTurn
	if choice.FinishReason == "tool_calls" || len(choice.Message.ToolCalls) > 0 {
		stop = StopToolUse
	}

	return &ConverseResponse{
		StopReason: stop,
		Message:    msg,
		Usage:      wireResp.Usage,
	}, nil
}

func (g *OpenAIGateway) doRequest(ctx context.Context, payload *bytes.Buffer) ([]byte, error) {
	var lastErr error
	delay := initialRetryDelay

	for i := 0; i < maxRetries; i++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL, bytes.NewReader(payload.Bytes()))
		if err != nil {
			return nil, fmt.Errorf("create http request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+g.apiKey)

		resp, err := g.httpClient.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("request failed (attempt %d/%d): %w", i+1, maxRetries, err)
			time.Sleep(delay)
			delay *= 2
			continue
		}

		body, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if readErr != nil {
			return nil, fmt.Errorf("read response body: %w", readErr)
		}
		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return body, nil
		}

		lastErr = fmt.Errorf("openai API error (attempt %d/%d): status %d, body: %s", i+1, maxRetries, resp.StatusCode, string(body))
		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			return nil, lastErr
		}
		time.Sleep(delay)
		delay *= 2
	}
	return nil, lastErr
}
