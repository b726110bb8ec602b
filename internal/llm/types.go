// ABOUTME: Value types exchanged between the engine and model backends.
// ABOUTME: Requests and responses are immutable records, never mutated after creation.

package llm

import "time"

// Role identifies who authored a turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// MediaKind classifies a binary payload attached to a turn or request.
type MediaKind string

const (
	MediaImage MediaKind = "image"
	MediaAudio MediaKind = "audio"
)

// Media is a binary payload plus enough metadata for an adapter to encode it.
type Media struct {
	Kind        MediaKind
	MIMEType    string
	Data        []byte
	Description string // textual stand-in used in context windows
}

// Turn is one message in a conversation. Turns are immutable once appended
// to a context window; ordering is insertion order.
type Turn struct {
	Role       Role
	Content    string
	Timestamp  time.Time
	Size       int     // estimated size in budget units; 0 means "estimate for me"
	Importance float64 // optional, 0-1
	Media      *Media
}

// Params are the generation parameters carried on a request.
type Params struct {
	Temperature float64
	MaxTokens   int
}

// Request carries everything a backend needs to produce a completion.
type Request struct {
	Prompt string // system prompt text, may be empty
	Turns  []Turn // ordered context, oldest first
	Media  *Media
	Params Params
}

// Usage reports token consumption for a single backend call.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// Response is the normalized result of a backend call. Adapter names which
// configured adapter served it, so failover is visible to callers.
type Response struct {
	Text    string
	Usage   Usage
	Adapter string
	Model   string
}
