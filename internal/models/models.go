// Package models contains the persisted record types.
package models

import "time"

// Sync statuses.
const (
	SyncStatusStarted = "started"
	SyncStatusSuccess = "success"
	SyncStatusError   = "error"
)

// Sync triggers.
const (
	TriggerManual  = "manual"
	TriggerTimer   = "timer"
	TriggerStartup = "startup"
)

// Secret is an encrypted credential row.
type Secret struct {
	Name       string
	Ciphertext []byte
	Nonce      []byte
	UpdatedAt  time.Time
}

// SyncHistory represents one provider fetch cycle.
type SyncHistory struct {
	ID               int64      `json:"id"`
	CycleID          string     `json:"cycle_id"`
	Provider         string     `json:"provider"`
	Trigger          string     `json:"trigger"`
	Status           string     `json:"status"` // "started", "success", "error"
	PositionsSynced  int        `json:"positions_synced"`
	PositionsSkipped int        `json:"positions_skipped"`
	ErrorMessage     string     `json:"error_message,omitempty"`
	StartedAt        time.Time  `json:"started_at"`
	CompletedAt      *time.Time `json:"completed_at,omitempty"`
	DurationMs       int64      `json:"duration_ms,omitempty"`
}

// Snapshot is a persisted published aggregate.
type Snapshot struct {
	ID             int64     `json:"id"`
	Currency       string    `json:"currency"`
	TotalBalance   float64   `json:"total_balance"`
	TotalCostBasis float64   `json:"total_cost_basis"`
	Payload        []byte    `json:"-"`
	CreatedAt      time.Time `json:"created_at"`
}
