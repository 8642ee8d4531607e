package preview

import (
	"encoding/json"

	"campaign-preview-engine/internal/render"
)

// SingleRequest previews one template (stored or ad hoc) for one influencer.
type SingleRequest struct {
	TemplateID   string `json:"templateId"`
	InfluencerID string `json:"influencerId"`
	UserID       string `json:"userId"`

	// Ad hoc template, used when TemplateID is empty.
	Subject          string          `json:"subject"`
	Content          string          `json:"content"`
	ConditionalRules json.RawMessage `json:"conditionalRules,omitempty"`

	UserVariables render.Variables `json:"userVariables"`
}

// Connection links a campaign to one influencer.
type Connection struct {
	ID           string `json:"id"`
	InfluencerID string `json:"influencerId"`
}

// BatchRequest previews a stored template for every connection.
type BatchRequest struct {
	TemplateID    string           `json:"templateId"`
	UserID        string           `json:"userId"`
	Connections   []Connection     `json:"connections"`
	UserVariables render.Variables `json:"userVariables"`
}

type Preview struct {
	Subject         string            `json:"subject"`
	Content         string            `json:"content"`
	OriginalSubject string            `json:"originalSubject"`
	OriginalContent string            `json:"originalContent"`
	Influencer      render.Influencer `json:"influencer"`
	// Placeholders still present after rendering.
	Unresolved []string `json:"unresolved,omitempty"`
}

type TemplateInfo struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Subject string `json:"subject"`
	Content string `json:"content"`
}

type BatchResult struct {
	Previews       map[string]Preview `json:"previews"`
	TemplateInfo   TemplateInfo       `json:"templateInfo"`
	ProcessedCount int                `json:"processedCount"`
	TotalCount     int                `json:"totalCount"`
}
