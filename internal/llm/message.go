package llm

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/querypilot/querypilot/internal/tools"
)

// Role identifies the originator of a transcript message. The system
// directive travels outside the transcript (see ConverseRequest.System), so
// only user and assistant appear here.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one entry of a conversation transcript: a role and an ordered
// sequence of content blocks.
type Message struct {
	Role    Role
	Content []ContentBlock
}

// ContentBlock is a closed union: exactly TextBlock, ToolUseBlock, or
// ToolResultBlock. Keeping the union closed lets the loop match
// exhaustively and lets the JSON layer reject malformed gateway output at
// the boundary instead of deep inside the UI.
type ContentBlock interface {
	isContentBlock()
}

// TextBlock is plain assistant or user text.
type TextBlock struct {
	Text string `json:"text"`
}

// ToolUseBlock is a request from the model to invoke a tool. ID is opaque;
// the matching ToolResultBlock must echo it so the gateway can correlate
// request and response inside the transcript.
type ToolUseBlock struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input"`
}

// ToolResultBlock carries a tool's textual result back to the model.
type ToolResultBlock struct {
	ToolUseID string              `json:"toolUseId"`
	Content   []tools.TextContent `json:"content"`
}

func (TextBlock) isContentBlock()       {}
func (ToolUseBlock) isContentBlock()    {}
func (ToolResultBlock) isContentBlock() {}

// Text returns the concatenated text of a result block.
func (b ToolResultBlock) Text() string {
	var sb strings.Builder
	for _, c := range b.Content {
		sb.WriteString(c.Text)
	}
	return sb.String()
}

// UserText builds the canonical single-text user message.
func UserText(text string) Message {
	return Message{Role: RoleUser, Content: []ContentBlock{TextBlock{Text: text}}}
}

// Text concatenates every text block of the message, skipping tool blocks.
func (m Message) Text() string {
	var sb strings.Builder
	for _, block := range m.Content {
		if t, ok := block.(TextBlock); ok {
			sb.WriteString(t.Text)
		}
	}
	return sb.String()
}

// ToolUses returns the message's tool-use blocks in order.
func (m Message) ToolUses() []ToolUseBlock {
	var uses []ToolUseBlock
	for _, block := range m.Content {
		if u, ok := block.(ToolUseBlock); ok {
			uses = append(uses, u)
		}
	}
	return uses
}

// blockEnvelope is the wire form of a content block: an object with exactly
// one of the three keys set, e.g. {"text":"hi"} or {"toolUse":{...}}.
type blockEnvelope struct {
	Text       *string          `json:"text,omitempty"`
	ToolUse    *ToolUseBlock    `json:"toolUse,omitempty"`
	ToolResult *ToolResultBlock `json:"toolResult,omitempty"`
}

func (b *blockEnvelope) toBlock() (ContentBlock, error) {
	set := 0
	var block ContentBlock
	if b.Text != nil {
		set++
		block = TextBlock{Text: *b.Text}
	}
	if b.ToolUse != nil {
		set++
		block = *b.ToolUse
	}
	if b.ToolResult != nil {
		set++
		block = *b.ToolResult
	}
	if set != 1 {
		return nil, fmt.Errorf("content block must carry exactly one of text, toolUse, toolResult")
	}
	return block, nil
}

type messageWire struct {
	Role    Role              `json:"role"`
	Content []json.RawMessage `json:"content"`
}

// MarshalJSON renders the message in the tagged-union wire shape:
// {"role":"user","content":[{"text":"hi"},{"toolResult":{...}}]}.
func (m Message) MarshalJSON() ([]byte, error) {
	wire := messageWire{Role: m.Role, Content: make([]json.RawMessage, 0, len(m.Content))}
	for _, block := range m.Content {
		var env blockEnvelope
		switch b := block.(type) {
		case TextBlock:
			env.Text = &b.Text
		case ToolUseBlock:
			env.ToolUse = &b
		case ToolResultBlock:
			env.ToolResult = &b
		default:
			return nil, fmt.Errorf("unknown content block type %T", block)
		}
		raw, err := json.Marshal(env)
		if err != nil {
			return nil, err
		}
		wire.Content = append(wire.Content, raw)
	}
	return json.Marshal(wire)
}

// UnmarshalJSON parses the wire shape back into the closed union, rejecting
// blocks that carry zero or multiple variants.
func (m *Message) UnmarshalJSON(data []byte) error {
	var wire messageWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	switch wire.Role {
	case RoleUser, RoleAssistant:
	default:
		return fmt.Errorf("unknown message role %q", wire.Role)
	}

	blocks := make([]ContentBlock, 0, len(wire.Content))
	for i, raw := range wire.Content {
		var env blockEnvelope
		if err := json.Unmarshal(raw, &env); err != nil {
			return fmt.Errorf("content block %d: %w", i, err)
		}
		block, err := env.toBlock()
		if err != nil {
			return fmt.Errorf("content block %d: %w", i, err)
		}
		blocks = append(blocks, block)
	}

	m.Role = wire.Role
	m.Content = blocks
	return nil
}
