package domain

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Common validation errors for Asset
var (
	ErrEmptyAssetID         = errors.New("asset ID cannot be empty")
	ErrEmptyAssetContractID = errors.New("asset contract ID cannot be empty")
	ErrEmptyAssetContent    = errors.New("asset content cannot be empty")
)

// Asset is a durable knowledge artifact produced from a scraped source.
// Attributes is a free-form bag filled by enrichment (AI attribute
// extraction, soft-failure markers); updates to it use merge semantics.
type Asset struct {
	ID         uuid.UUID      `json:"id"`
	ContractID uuid.UUID      `json:"contract_id"`
	Title      string         `json:"title"`
	Content    string         `json:"content"`
	Summary    string         `json:"summary,omitempty"`
	SourceURL  string         `json:"source_url,omitempty"`
	Category   string         `json:"category,omitempty"`
	Attributes map[string]any `json:"attributes,omitempty"`
	Embedding  []float32      `json:"-"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

// NewAsset creates an asset from worker output for the given contract.
func NewAsset(contractID uuid.UUID, title, content, summary, sourceURL string) (*Asset, error) {
	now := time.Now().UTC()
	asset := &Asset{
		ID:         uuid.New(),
		ContractID: contractID,
		Title:      title,
		Content:    content,
		Summary:    summary,
		SourceURL:  sourceURL,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	if err := asset.Validate(); err != nil {
		return nil, err
	}
	return asset, nil
}

// Validate checks if the Asset has valid data.
func (a *Asset) Validate() error {
	if a.ID == uuid.Nil {
		return ErrEmptyAssetID
	}
	if a.ContractID == uuid.Nil {
		return ErrEmptyAssetContractID
	}
	if a.Content == "" {
		return ErrEmptyAssetContent
	}
	return nil
}
