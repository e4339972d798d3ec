package chat

import (
	"github.com/modelfleet/modelfleet/config"
	"github.com/modelfleet/modelfleet/models"
)

// Message is the wire shape sent to the gateway.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// RoundStatus is the lifecycle state of a dispatch round.
type RoundStatus string

const (
	RoundPending   RoundStatus = "pending"
	RoundStreaming RoundStatus = "streaming"
	RoundCompleted RoundStatus = "completed"
	RoundCancelled RoundStatus = "cancelled"
	RoundFailed    RoundStatus = "failed"
)

// ModelResponse is the live accumulation buffer for one model within a
// round, as exposed to renderers.
type ModelResponse struct {
	ModelName string `json:"model_name"`
	Content   string `json:"content"`
	Done      bool   `json:"done"`
	Err       string `json:"error,omitempty"`
}

// RoundSnapshot is a point-in-time copy of a round's visible state.
type RoundSnapshot struct {
	RoundID   string          `json:"round_id"`
	Status    RoundStatus     `json:"status"`
	Responses []ModelResponse `json:"responses"`
}

// MessagesFromTurns converts conversation turns to gateway messages.
func MessagesFromTurns(turns []models.Turn) []Message {
	out := make([]Message, 0, len(turns))
	for _, t := range turns {
		out = append(out, Message{Role: string(t.Role), Content: t.Content})
	}
	return out
}

// ModelParams are the per-session tunable knobs of a catalog model. Nil
// fields mean "leave the current value alone", so a request touching one
// knob never resets the other.
type ModelParams struct {
	Temperature *float64 `json:"temperature,omitempty"`
	MaxTokens   *int     `json:"max_tokens,omitempty"`
}

// ApplyParams overlays session overrides onto a catalog entry.
func ApplyParams(m config.ModelConfig, p *ModelParams) config.ModelConfig {
	if p == nil {
		return m
	}
	if p.MaxTokens != nil {
		m.MaxTokens = *p.MaxTokens
	}
	if p.Temperature != nil {
		m.Temperature = *p.Temperature
	}
	return m
}
