package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// RoutingDecision is the audit record emitted for every handled request.
type RoutingDecision struct {
	ID             string          `json:"id" db:"id"`
	OrgID          string          `json:"org_id" db:"org_id"`
	RequestedModel string          `json:"requested_model" db:"requested_model"`
	SelectedModel  string          `json:"selected_model" db:"selected_model"`
	Provider       ProviderType    `json:"provider,omitempty" db:"provider"`
	TaskType       string          `json:"task_type" db:"task_type"`
	Confidence     float64         `json:"confidence" db:"confidence"`
	Reason         string          `json:"reason" db:"reason"`
	CacheHit       bool            `json:"cache_hit" db:"cache_hit"`
	Degraded       bool            `json:"degraded" db:"degraded"`
	PromptLength   int             `json:"prompt_length" db:"prompt_length"`
	Temperature    float64         `json:"temperature" db:"temperature"`
	Cost           decimal.Decimal `json:"cost" db:"cost"`
	Error          string          `json:"error,omitempty" db:"error"`
	CreatedAt      time.Time       `json:"created_at" db:"created_at"`
}

// ValidationAttempt is the audit record emitted per repair round.
type ValidationAttempt struct {
	ID        string    `json:"id" db:"id"`
	OrgID     string    `json:"org_id" db:"org_id"`
	RequestID string    `json:"request_id" db:"request_id"`
	Defect    string    `json:"defect" db:"defect"`
	Strategy  string    `json:"strategy" db:"strategy"`
	Attempt   int       `json:"attempt" db:"attempt"`
	Fixed     bool      `json:"fixed" db:"fixed"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}
