package httpserver

import (
	"time"

	"github.com/helixir/scene-enrichment-service/internal/domain"
	"github.com/helixir/scene-enrichment-service/internal/orchestrator"
	"github.com/helixir/scene-enrichment-service/internal/service"
)

// Response types for JSON serialization.

type runResponse struct {
	JobID     string     `json:"job_id"`
	RunID     string     `json:"run_id,omitempty"`
	Trigger   string     `json:"trigger,omitempty"`
	Started   bool       `json:"started"`
	StartedAt *time.Time `json:"started_at,omitempty"`
	Message   string     `json:"message"`
}

type cancelResponse struct {
	Success     bool   `json:"success"`
	Message     string `json:"message"`
	FinalStatus string `json:"final_status"`
}

type resetResponse struct {
	JobID         string `json:"job_id"`
	ScenesReset   int64  `json:"scenes_reset"`
	Status        string `json:"status"`
	StatusMessage string `json:"message"`
}

type progressResponse struct {
	JobID            string  `json:"job_id"`
	Status           string  `json:"status"`
	TotalScenes      int     `json:"total_scenes"`
	CompletedScenes  int     `json:"completed_scenes"`
	Percent          int     `json:"percent"`
	Phase            string  `json:"phase"`
	RemainingSeconds *int64  `json:"remaining_seconds,omitempty"`
	RunActive        bool    `json:"run_active"`
	RunID            *string `json:"run_id,omitempty"`
}

func runToResponse(jobID string, run *orchestrator.Run, message string) runResponse {
	resp := runResponse{JobID: jobID, Message: message}
	if run == nil {
		return resp
	}
	resp.RunID = run.ID.String()
	resp.Trigger = run.Trigger
	resp.Started = true
	startedAt := run.StartedAt
	resp.StartedAt = &startedAt
	return resp
}

func jobToCancelResponse(job *domain.EnrichmentJob) cancelResponse {
	return cancelResponse{
		Success:     true,
		Message:     "enrichment cancelled",
		FinalStatus: string(job.Status),
	}
}

func progressToResponse(p *service.Progress) progressResponse {
	resp := progressResponse{
		JobID:           p.JobID.String(),
		Status:          string(p.Status),
		TotalScenes:     p.Counts.Total,
		CompletedScenes: p.Counts.Completed,
		Percent:         p.Snapshot.Percent,
		Phase:           p.Snapshot.Phase.String(),
		RunActive:       p.RunActive,
	}
	if p.Snapshot.HasRemaining {
		secs := int64(p.Snapshot.Remaining.Seconds())
		resp.RemainingSeconds = &secs
	}
	if p.RunActive {
		runID := p.RunID.String()
		resp.RunID = &runID
	}
	return resp
}
