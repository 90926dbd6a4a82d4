package models

import "time"

var mockEpoch = time.Date(2026, 1, 15, 9, 30, 0, 0, time.UTC)

// MockProjects is served when the backend is down and mock fallback is on.
func MockProjects() ProjectList {
	projects := []Project{
		MockProject("demo-neon-nights"),
		MockProject("demo-summer-tape"),
	}
	projects[1].Name = "Summer Tape"
	projects[1].Status = "draft"
	return ProjectList{Projects: projects, Total: len(projects)}
}

func MockProject(projectID string) Project {
	return Project{
		ID:          projectID,
		Name:        "Neon Nights",
		Description: "Sample project shown while the backend is unavailable",
		Status:      "ready",
		Tracks: []Track{
			{
				ID:          projectID + "-t1",
				ProjectID:   projectID,
				Title:       "Midnight Drive",
				Artist:      "Beatframe Demo",
				DurationSec: 214.5,
				BPM:         118,
				Key:         "A minor",
			},
		},
		CreatedAt: mockEpoch,
		UpdatedAt: mockEpoch,
	}
}

func MockAnalysis(trackID string, now time.Time) TrackAnalysis {
	return TrackAnalysis{
		TrackID:      trackID,
		BPM:          120,
		Key:          "C major",
		Energy:       0.72,
		Danceability: 0.64,
		Sections: []Section{
			{Label: "intro", Start: 0, End: 16},
			{Label: "verse", Start: 16, End: 48},
			{Label: "chorus", Start: 48, End: 80},
			{Label: "outro", Start: 80, End: 96},
		},
		AnalyzedAt: now,
	}
}
