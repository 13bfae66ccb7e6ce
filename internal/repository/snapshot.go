package repository

import (
	"database/sql"
	"time"

	"unified_portfolio/internal/database"
	"unified_portfolio/internal/models"
)

// SnapshotRepository stores published aggregates.
type SnapshotRepository struct {
	db *database.DB
}

// NewSnapshotRepository creates a new SnapshotRepository.
func NewSnapshotRepository(db *database.DB) *SnapshotRepository {
	return &SnapshotRepository{db: db}
}

// Save inserts a snapshot and returns its ID.
func (r *SnapshotRepository) Save(s *models.Snapshot) (int64, error) {
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now()
	}
	result, err := r.db.Exec(`
		INSERT INTO portfolio_snapshots (currency, total_balance, total_cost_basis, payload, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, s.Currency, s.TotalBalance, s.TotalCostBasis, string(s.Payload), s.CreatedAt)
	if err != nil {
		return 0, err
	}
	id, err := result.LastInsertId()
	if err != nil {
		return 0, err
	}
	s.ID = id
	return id, nil
}

// Latest returns the most recent snapshot, or nil if none exist.
func (r *SnapshotRepository) Latest() (*models.Snapshot, error) {
	s := &models.Snapshot{}
	var payload string
	err := r.db.QueryRow(`
		SELECT id, currency, total_balance, total_cost_basis, payload, created_at
		FROM portfolio_snapshots
		ORDER BY created_at DESC, id DESC
		LIMIT 1
	`).Scan(&s.ID, &s.Currency, &s.TotalBalance, &s.TotalCostBasis, &payload, &s.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	s.Payload = []byte(payload)
	return s, nil
}

// Prune keeps the newest keep snapshots and deletes the rest.
func (r *SnapshotRepository) Prune(keep int) (int64, error) {
	result, err := r.db.Exec(`
		DELETE FROM portfolio_snapshots
		WHERE id NOT IN (
		    SELECT id FROM portfolio_snapshots ORDER BY created_at DESC, id DESC LIMIT ?
		)
	`, keep)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
