package taxonomy

import "time"

// SuggestionStatus tracks the lifecycle of a proposed structural change.
// Once applied or rejected a suggestion is immutable.
type SuggestionStatus string

const (
	SuggestionPending  SuggestionStatus = "pending"
	SuggestionApproved SuggestionStatus = "approved"
	SuggestionRejected SuggestionStatus = "rejected"
	SuggestionApplied  SuggestionStatus = "applied"
)

// MergeSuggestion proposes collapsing several source categories into a new
// merged category.
type MergeSuggestion struct {
	ID          string           `json:"id"`
	SourceIDs   []string         `json:"source_ids"`
	TargetName  string           `json:"target_name"`
	Reason      string           `json:"reason,omitempty"`
	Status      SuggestionStatus `json:"status"`
	Warnings    []string         `json:"warnings,omitempty"`
	CreatedAt   time.Time        `json:"created_at"`
	ProcessedAt time.Time        `json:"processed_at,omitempty"`
}

// SplitSuggestion proposes new child categories under an existing node.
type SplitSuggestion struct {
	ID          string           `json:"id"`
	NodeID      string           `json:"node_id"`
	NewNames    []string         `json:"new_names"`
	Reason      string           `json:"reason,omitempty"`
	Status      SuggestionStatus `json:"status"`
	Warnings    []string         `json:"warnings,omitempty"`
	CreatedAt   time.Time        `json:"created_at"`
	ProcessedAt time.Time        `json:"processed_at,omitempty"`
}

func (s SuggestionStatus) terminal() bool {
	return s == SuggestionApplied || s == SuggestionRejected
}
