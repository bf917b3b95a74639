// Package message defines the wire/on-disk data model shared by the
// Thread Store, the Compaction Engine, and the Thread Actor: the
// AgentMessage tagged union persisted one-per-line in context.jsonl, the
// LogEntry persisted one-per-line in log.jsonl, and the GuppyEvent schema
// read from the events directory.
//
// AgentMessage is modeled as a closed interface (User, Assistant,
// ToolResult) rather than a single struct with optional fields, so every
// consumer — token estimation, serialization, final-text extraction —
// switches on a concrete type instead of probing which fields are set.
package message

import (
	"encoding/json"
	"fmt"
)

// Role identifies which AgentMessage variant a JSON line holds.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleToolResult Role = "toolResult"
)

// AgentMessage is the tagged-union interface implemented by User,
// Assistant, and ToolResult. It is sealed to this package: the only
// implementations are the three concrete types below.
type AgentMessage interface {
	Role() Role
	isAgentMessage()
}

// BlockType identifies the kind of content inside a ContentBlock.
type BlockType string

const (
	BlockText     BlockType = "text"
	BlockImage    BlockType = "image"
	BlockThinking BlockType = "thinking"
	BlockToolCall BlockType = "toolCall"
)

// ContentBlock is one element of an Assistant or ToolResult content
// sequence, or one element of a User multi-part content sequence. Only the
// fields relevant to Type are populated.
type ContentBlock struct {
	Type BlockType `json:"type"`

	// text / thinking
	Text string `json:"text,omitempty"`

	// image
	MimeType string `json:"mimeType,omitempty"`
	Data     string `json:"data,omitempty"` // base64

	// toolCall
	ToolCallID string          `json:"id,omitempty"`
	ToolName   string          `json:"name,omitempty"`
	Arguments  json.RawMessage `json:"arguments,omitempty"`
}

// StopReason is the terminal state of an Assistant turn.
type StopReason string

const (
	StopReasonStop    StopReason = "stop"
	StopReasonEndTurn StopReason = "endTurn"
	StopReasonToolUse StopReason = "toolUse"
	StopReasonAborted StopReason = "aborted"
	StopReasonError   StopReason = "error"
)

// Cost carries the estimated USD cost of an LLM call, when the provider
// reports pricing.
type Cost struct {
	InputUSD  float64 `json:"input,omitempty"`
	OutputUSD float64 `json:"output,omitempty"`
	TotalUSD  float64 `json:"total,omitempty"`
}

// Usage tracks token consumption for one Assistant turn.
type Usage struct {
	Input       int   `json:"input"`
	Output      int   `json:"output"`
	CacheRead   int   `json:"cacheRead,omitempty"`
	CacheWrite  int   `json:"cacheWrite,omitempty"`
	TotalTokens int   `json:"totalTokens,omitempty"`
	Cost        *Cost `json:"cost,omitempty"`
}

// UserContent is either plain text or a sequence of text/image blocks.
// Exactly one of Text / Blocks is meaningful, selected by IsText.
type UserContent struct {
	IsText bool
	Text   string
	Blocks []ContentBlock
}

// MarshalJSON renders plain text as a bare JSON string and multi-part
// content as a JSON array, matching the wire shape described in spec §3.
func (c UserContent) MarshalJSON() ([]byte, error) {
	if c.IsText {
		return json.Marshal(c.Text)
	}
	return json.Marshal(c.Blocks)
}

func (c *UserContent) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		c.IsText = true
		c.Text = s
		c.Blocks = nil
		return nil
	}
	var blocks []ContentBlock
	if err := json.Unmarshal(data, &blocks); err != nil {
		return fmt.Errorf("user content: neither string nor block array: %w", err)
	}
	c.IsText = false
	c.Blocks = blocks
	c.Text = ""
	return nil
}

// User is a message authored by the human side of the conversation.
type User struct {
	Content UserContent              `json:"content"`
	Extra   map[string]json.RawMessage `json:"-"` // unknown top-level fields, preserved verbatim
}

func (User) Role() Role   { return RoleUser }
func (User) isAgentMessage() {}

// Assistant is a message authored by the LLM for one turn.
type Assistant struct {
	Content      []ContentBlock             `json:"content"`
	Model        string                     `json:"model,omitempty"`
	Usage        *Usage                     `json:"usage,omitempty"`
	StopReason   StopReason                 `json:"stopReason"`
	ErrorMessage string                     `json:"errorMessage,omitempty"`
	Extra        map[string]json.RawMessage `json:"-"`
}

func (Assistant) Role() Role    { return RoleAssistant }
func (Assistant) isAgentMessage() {}

// Text concatenates every text block in the assistant's content.
func (a Assistant) Text() string {
	var out string
	for _, b := range a.Content {
		if b.Type == BlockText {
			out += b.Text
		}
	}
	return out
}

// ToolResult is the outcome of one tool invocation fed back to the LLM.
type ToolResult struct {
	ToolCallID string                     `json:"toolCallId"`
	Content    []ContentBlock             `json:"content"`
	IsError    bool                       `json:"isError,omitempty"`
	Extra      map[string]json.RawMessage `json:"-"`
}

func (ToolResult) Role() Role    { return RoleToolResult }
func (ToolResult) isAgentMessage() {}

// envelope is the common shape every AgentMessage line shares: a
// discriminator plus the rest of the object, kept as raw JSON so unknown
// fields survive a load/save round trip untouched.
type envelope struct {
	RoleField Role `json:"role"`
}

// Marshal serializes one AgentMessage to a single JSON line (no trailing
// newline), folding Extra fields back in alongside the known ones.
func Marshal(m AgentMessage) ([]byte, error) {
	var known map[string]json.RawMessage
	var extra map[string]json.RawMessage

	switch v := m.(type) {
	case User:
		b, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(b, &known); err != nil {
			return nil, err
		}
		extra = v.Extra
	case Assistant:
		b, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(b, &known); err != nil {
			return nil, err
		}
		extra = v.Extra
	case ToolResult:
		b, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(b, &known); err != nil {
			return nil, err
		}
		extra = v.Extra
	default:
		return nil, fmt.Errorf("message: unknown AgentMessage type %T", m)
	}

	if known == nil {
		known = map[string]json.RawMessage{}
	}
	for k, v := range extra {
		if _, exists := known[k]; !exists {
			known[k] = v
		}
	}
	roleJSON, _ := json.Marshal(m.Role())
	known["role"] = roleJSON

	return json.Marshal(known)
}

// Unmarshal parses one JSON line into a concrete AgentMessage, dispatching
// on the "role" discriminator. Fields not recognized by the concrete type
// are kept in Extra so a later Marshal reproduces them.
func Unmarshal(data []byte) (AgentMessage, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("message: decode envelope: %w", err)
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("message: decode object: %w", err)
	}
	delete(raw, "role")

	switch env.RoleField {
	case RoleUser:
		var u User
		if err := json.Unmarshal(data, &u); err != nil {
			return nil, fmt.Errorf("message: decode user: %w", err)
		}
		delete(raw, "content")
		u.Extra = raw
		return u, nil
	case RoleAssistant:
		var a Assistant
		if err := json.Unmarshal(data, &a); err != nil {
			return nil, fmt.Errorf("message: decode assistant: %w", err)
		}
		for _, k := range []string{"content", "model", "usage", "stopReason", "errorMessage"} {
			delete(raw, k)
		}
		a.Extra = raw
		return a, nil
	case RoleToolResult:
		var tr ToolResult
		if err := json.Unmarshal(data, &tr); err != nil {
			return nil, fmt.Errorf("message: decode toolResult: %w", err)
		}
		for _, k := range []string{"toolCallId", "content", "isError"} {
			delete(raw, k)
		}
		tr.Extra = raw
		return tr, nil
	default:
		return nil, fmt.Errorf("message: unknown role %q", env.RoleField)
	}
}
