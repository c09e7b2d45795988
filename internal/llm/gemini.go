package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"github.com/google/generative-ai-go/genai"
	"github.com/google/uuid"
	"google.golang.org/api/option"

	"github.com/querypilot/querypilot/internal/api"
	"github.com/querypilot/querypilot/internal/tools"
)

// GeminiGateway adapts Google's Gemini SDK to the Gateway interface.
//
// Two impedance mismatches are handled here: Gemini has no identifier on a
// function call, so one is synthesized per tool-use block and resolved back
// to the function name (which is what Gemini correlates on) when the result
// returns; and the system directive rides as SystemInstruction instead of a
// transcript message.
type GeminiGateway struct {
	client  *genai.Client
	modelID string
}

var _ Gateway = (*GeminiGateway)(nil)

func NewGeminiGateway(apiKey, modelID string) (*GeminiGateway, error) {
	if apiKey == "" {
		return nil, errors.New("gemini API key cannot be empty")
	}
	client, err := genai.NewClient(context.Background(), option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return &GeminiGateway{client: client, modelID: modelID}, nil
}

func (g *GeminiGateway) Converse(ctx context.Context, req *ConverseRequest) (*ConverseResponse, error) {
	if len(req.Messages) == 0 {
		return nil, errors.New("transcript is empty")
	}

	contents, err := toGeminiContents(req.Messages)
	if err != nil {
		return nil, err
	}

	// Each call gets its own GenerativeModel. Runs converse concurrently
	// through one shared gateway, so per-request state (tools, system
	// instruction) must never live on shared fields.
	model := g.configuredModel(req)

	chat := model.StartChat()
	chat.History = contents[:len(contents)-1]
	last := contents[len(contents)-1]

	resp, err := chat.SendMessage(ctx, last.Parts...)
	if err != nil {
		return nil, fmt.Errorf("gemini API call failed: %w", err)
	}
	return parseGeminiResponse(resp)
}

// configuredModel builds a fresh GenerativeModel carrying the request's
// tools and system directive.
func (g *GeminiGateway) configuredModel(req *ConverseRequest) *genai.GenerativeModel {
	model := g.client.GenerativeModel(g.modelID)
	model.SetMaxOutputTokens(defaultMaxTokens)
	model.Tools = toGeminiTools(req.Tools)
	if req.System != "" {
		model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(req.System)}}
	}
	return model
}

func toGeminiTools(catalog []tools.Tool) []*genai.Tool {
	if len(catalog) == 0 {
		return nil
	}
	decls := make([]*genai.FunctionDeclaration, 0, len(catalog))
	for _, t := range catalog {
		decls = append(decls, &genai.FunctionDeclaration{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  toGeminiSchema(t.InputSchema),
		})
	}
	return []*genai.Tool{{FunctionDeclarations: decls}}
}

func toGeminiSchema(s tools.JSONSchema) *genai.Schema {
	schema := &genai.Schema{
		Description: s.Description,
		Required:    s.Required,
	}
	switch s.Type {
	case "object":
		schema.Type = genai.TypeObject
	case "string":
		schema.Type = genai.TypeString
	case "number":
		schema.Type = genai.TypeNumber
	case "integer":
		schema.Type = genai.TypeInteger
	case "boolean":
		schema.Type = genai.TypeBoolean
	}
	if s.Properties != nil {
		schema.Properties = make(map[string]*genai.Schema, len(s.Properties))
		for name, prop := range s.Properties {
			schema.Properties[name] = toGeminiSchema(*prop)
		}
	}
	return schema
}

// toGeminiContents converts the transcript, resolving tool-use identifiers
// back to function names as it walks the messages in order.
func toGeminiContents(messages []Message) ([]*genai.Content, error) {
	nameByUseID := make(map[string]string)
	out := make([]*genai.Content, 0, len(messages))

	for _, msg := range messages {
		role := "user"
		if msg.Role == RoleAssistant {
			role = "model"
		}
		content := &genai.Content{Role: role}

		for _, block := range msg.Content {
			switch b := block.(type) {
			case TextBlock:
				content.Parts = append(content.Parts, genai.Text(b.Text))
			case ToolUseBlock:
				nameByUseID[b.ID] = b.Name
				var args map[string]any
				if len(b.Input) > 0 {
					if err := json.Unmarshal(b.Input, &args); err != nil {
						return nil, fmt.Errorf("decode tool input for %q: %w", b.Name, err)
					}
				}
				content.Parts = append(content.Parts, genai.FunctionCall{Name: b.Name, Args: args})
			case ToolResultBlock:
				name, ok := nameByUseID[b.ToolUseID]
				if !ok {
					return nil, fmt.Errorf("tool result %q does not match any prior tool use", b.ToolUseID)
				}
				content.Parts = append(content.Parts, genai.FunctionResponse{
					Name:     name,
					Response: map[string]any{"content": b.Text()},
				})
			default:
				return nil, fmt.Errorf("unknown content block type %T", block)
			}
		}
		out = append(out, content)
	}
	return out, nil
}

func parseGeminiResponse(resp *genai.GenerateContentResponse) (*ConverseResponse, error) {
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil, errors.New("no content returned from Gemini")
	}

	msg := Message{Role: RoleAssistant}
	sawFunctionCall := false
	for _, part := range resp.Candidates[0].Content.Parts {
		switch v := part.(type) {
		case genai.Text:
			msg.Content = append(msg.Content, TextBlock{Text: string(v)})
		case genai.FunctionCall:
			args, err := json.Marshal(v.Args)
			if err != nil {
				log.Printf("WARNING: could not marshal gemini function call args: %v", err)
				continue
			}
			msg.Content = append(msg.Content, ToolUseBlock{
				ID:    "gemini-" + uuid.NewString(),
				Name:  v.Name,
				Input: args,
			})
			sawFunctionCall = true
		}
	}

	stop := StopEndTurn
	if sawFunctionCall {
		stop = StopToolUse
	}

	out := &ConverseResponse{StopReason: stop, Message: msg}
	if resp.UsageMetadata != nil {
		out.Usage = api.Usage{
			PromptTokens:     int(resp.UsageMetadata.PromptTokenCount),
			CompletionTokens: int(resp.UsageMetadata.CandidatesTokenCount),
			TotalTokens:      int(resp.UsageMetadata.TotalTokenCount),
		}
	}
	return out, nil
}
