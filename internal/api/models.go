package api

import (
	"time"

	"github.com/kwestin/docsmith-api/internal/domain"
	"github.com/kwestin/docsmith-api/internal/service"
)

// BatchResponse is the API representation of a source batch.
type BatchResponse struct {
	ID          string     `json:"id"`
	ContractID  string     `json:"contract_id"`
	Total       int        `json:"total"`
	Completed   int        `json:"completed"`
	Failed      int        `json:"failed"`
	Status      string     `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// SourceResponse is the API representation of one batch source.
type SourceResponse struct {
	ID        string    `json:"id"`
	URL       string    `json:"url"`
	Status    string    `json:"status"`
	AssetID   string    `json:"asset_id,omitempty"`
	Error     string    `json:"error,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// BatchProgressResponse combines a batch with its sources.
type BatchProgressResponse struct {
	Batch   BatchResponse    `json:"batch"`
	Sources []SourceResponse `json:"sources"`
}

// GenerationStateResponse is the API representation of a deliverable's
// generation state.
type GenerationStateResponse struct {
	Status      string     `json:"status"`
	JobID       string     `json:"job_id,omitempty"`
	SubmittedAt *time.Time `json:"submitted_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Error       string     `json:"error,omitempty"`
}

func batchToResponse(batch *domain.SourceBatch) BatchResponse {
	return BatchResponse{
		ID:          batch.ID.String(),
		ContractID:  batch.ContractID.String(),
		Total:       batch.Total,
		Completed:   batch.Completed,
		Failed:      batch.Failed,
		Status:      string(batch.Status),
		CreatedAt:   batch.CreatedAt,
		CompletedAt: batch.CompletedAt,
	}
}

func sourceToResponse(source *domain.BatchSource) SourceResponse {
	resp := SourceResponse{
		ID:        source.ID.String(),
		URL:       source.URL,
		Status:    string(source.Status),
		Error:     source.ErrorText,
		UpdatedAt: source.UpdatedAt,
	}
	if source.AssetID != nil {
		resp.AssetID = source.AssetID.String()
	}
	return resp
}

func batchProgressToResponse(progress *service.BatchProgress) BatchProgressResponse {
	sources := make([]SourceResponse, 0, len(progress.Sources))
	for _, src := range progress.Sources {
		sources = append(sources, sourceToResponse(src))
	}
	return BatchProgressResponse{
		Batch:   batchToResponse(progress.Batch),
		Sources: sources,
	}
}

func generationStateToResponse(state *domain.GenerationState) GenerationStateResponse {
	return GenerationStateResponse{
		Status:      string(state.Status),
		JobID:       state.JobID,
		SubmittedAt: state.SubmittedAt,
		CompletedAt: state.CompletedAt,
		Error:       state.Error,
	}
}
