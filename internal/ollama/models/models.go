package models

const MaxPromptBytes = 32 << 10

// GenerateRequest is the body of POST /api/ollama/generate. An empty model
// uses the model the pod was recruited for.
type GenerateRequest struct {
	Prompt string `json:"prompt"`
	Model  string `json:"model,omitempty"`
	System string `json:"system,omitempty"`
}

type GenerateResponse struct {
	Model      string `json:"model"`
	Response   string `json:"response"`
	Done       bool   `json:"done"`
	DoneReason string `json:"done_reason,omitempty"`
	EvalCount  int    `json:"eval_count,omitempty"`
	DurationMS int64  `json:"duration_ms"`
	LeaseID    string `json:"lease_id"`
}
