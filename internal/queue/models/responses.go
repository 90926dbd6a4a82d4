package models

import (
	"encoding/json"
	"time"
)

// SubmitRequest is the body of POST /api/workflows.
type SubmitRequest struct {
	Engine   string          `json:"engine"`
	Workflow string          `json:"workflow"`
	Params   json.RawMessage `json:"params"`
}

type JobResponse struct {
	ID         string          `json:"id"`
	Engine     string          `json:"engine"`
	Workflow   string          `json:"workflow,omitempty"`
	Params     json.RawMessage `json:"params,omitempty"`
	Status     Status          `json:"status"`
	RemoteID   string          `json:"remote_id,omitempty"`
	Output     map[string]any  `json:"output,omitempty"`
	Error      string          `json:"error,omitempty"`
	Attempts   int             `json:"attempts"`
	CreatedAt  time.Time       `json:"created_at"`
	StartedAt  *time.Time      `json:"started_at,omitempty"`
	FinishedAt *time.Time      `json:"finished_at,omitempty"`
}

type JobListResponse struct {
	Jobs  []JobResponse `json:"jobs"`
	Total int           `json:"total"`
}

type EnginesResponse struct {
	Engines    []string       `json:"engines"`
	Health     []EngineHealth `json:"health"`
	QueueDepth int            `json:"queue_depth"`
}

// EngineHealth is the result of one engine's reachability check.
type EngineHealth struct {
	Name    string `json:"name"`
	Healthy bool   `json:"healthy"`
	Error   string `json:"error,omitempty"`
}

func ToJobResponse(j *Job) JobResponse {
	return JobResponse{
		ID:         j.ID.String(),
		Engine:     j.Engine,
		Workflow:   j.Workflow,
		Params:     j.Params,
		Status:     j.Status,
		RemoteID:   j.RemoteID,
		Output:     j.Output,
		Error:      j.Error,
		Attempts:   j.Attempts,
		CreatedAt:  j.CreatedAt,
		StartedAt:  j.StartedAt,
		FinishedAt: j.FinishedAt,
	}
}

func ToJobListResponse(jobs []*Job) JobListResponse {
	resp := JobListResponse{Jobs: make([]JobResponse, 0, len(jobs)), Total: len(jobs)}
	for _, j := range jobs {
		resp.Jobs = append(resp.Jobs, ToJobResponse(j))
	}
	return resp
}
