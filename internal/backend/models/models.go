// Package models mirrors the projects/tracks DTOs served by the backend.
package models

import (
	"encoding/json"
	"time"
)

type Track struct {
	ID          string  `json:"id"`
	ProjectID   string  `json:"project_id"`
	Title       string  `json:"title"`
	Artist      string  `json:"artist,omitempty"`
	DurationSec float64 `json:"duration_sec"`
	BPM         float64 `json:"bpm,omitempty"`
	Key         string  `json:"key,omitempty"`
	AudioURL    string  `json:"audio_url,omitempty"`
}

type Project struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Status      string    `json:"status"`
	Tracks      []Track   `json:"tracks"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type ProjectList struct {
	Projects []Project `json:"projects"`
	Total    int       `json:"total"`
}

type Section struct {
	Label string  `json:"label"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

type TrackAnalysis struct {
	TrackID      string    `json:"track_id"`
	BPM          float64   `json:"bpm"`
	Key          string    `json:"key"`
	Energy       float64   `json:"energy"`
	Danceability float64   `json:"danceability"`
	Sections     []Section `json:"sections"`
	AnalyzedAt   time.Time `json:"analyzed_at"`
}

// AnalyzeRequest is relayed to the backend unchanged.
type AnalyzeRequest struct {
	Features json.RawMessage `json:"features,omitempty"`
}
