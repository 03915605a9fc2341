package models

import (
	"encoding/json"
	"time"
)

type InterviewStatus string

const (
	StatusNew       InterviewStatus = "new"
	StatusPreparing InterviewStatus = "preparing"
	StatusPrepped   InterviewStatus = "prepped"
	StatusCompleted InterviewStatus = "completed"
	StatusArchived  InterviewStatus = "archived"
)

// InterviewRecord is the persisted unit of work. Extracted fields may
// be partially populated; empty string / nil mean unknown. Records are
// never hard-deleted, only archived.
type InterviewRecord struct {
	ID                  string          `json:"id"`
	Company             string          `json:"company"`
	Role                string          `json:"role"`
	Interviewer         string          `json:"interviewer"`
	ScheduledAt         *time.Time      `json:"scheduled_at,omitempty"`
	Status              InterviewStatus `json:"status"`
	SimilarityKey       string          `json:"similarity_key"`
	ResearchPayload     json.RawMessage `json:"research_payload,omitempty"`
	QualityScore        float64         `json:"quality_score"`
	ConfidenceScore     float64         `json:"confidence_score"`
	PossibleDuplicateOf string          `json:"possible_duplicate_of,omitempty"`
	NeedsReview         bool            `json:"needs_review"`
	SourceContext       string          `json:"source_context,omitempty"`
	CreatedAt           time.Time       `json:"created_at"`
	UpdatedAt           time.Time       `json:"updated_at"`
}

// ExtractedEntities is the tuple handed over by the upstream entity
// extraction stage. Any field may be missing.
type ExtractedEntities struct {
	Company       string     `json:"company"`
	Role          string     `json:"role"`
	Interviewer   string     `json:"interviewer"`
	ScheduledAt   *time.Time `json:"scheduled_at"`
	SourceContext string     `json:"source_context"`
}

// ChangeRecord tracks a single field mutation on an interview record.
type ChangeRecord struct {
	ID          int       `json:"id"`
	InterviewID string    `json:"interview_id"`
	FieldName   string    `json:"field_name"`
	OldValue    string    `json:"old_value"`
	NewValue    string    `json:"new_value"`
	ChangedAt   time.Time `json:"changed_at"`
}
