package repository

import (
	"database/sql"
	"time"

	"unified_portfolio/internal/database"
	"unified_portfolio/internal/models"
)

const syncHistoryColumns = `id, cycle_id, provider, trigger_source, status, positions_synced, positions_skipped, error_message, started_at, completed_at, duration_ms`

// SyncHistoryRepository handles sync history database operations.
type SyncHistoryRepository struct {
	db *database.DB
}

// NewSyncHistoryRepository creates a new SyncHistoryRepository.
func NewSyncHistoryRepository(db *database.DB) *SyncHistoryRepository {
	return &SyncHistoryRepository{db: db}
}

// Start creates a new sync history entry with status "started" and returns its ID.
func (r *SyncHistoryRepository) Start(cycleID, provider, trigger string) (int64, error) {
	result, err := r.db.Exec(`
		INSERT INTO sync_history (cycle_id, provider, trigger_source, status, started_at)
		VALUES (?, ?, ?, ?, ?)
	`, cycleID, provider, trigger, models.SyncStatusStarted, time.Now())
	if err != nil {
		return 0, err
	}
	return result.LastInsertId()
}

// Complete marks a sync as successful.
func (r *SyncHistoryRepository) Complete(id int64, positionsSynced, positionsSkipped int) error {
	now := time.Now()
	_, err := r.db.Exec(`
		UPDATE sync_history
		SET status = ?, positions_synced = ?, positions_skipped = ?, completed_at = ?,
		    duration_ms = (julianday(?) - julianday(started_at)) * 86400000
		WHERE id = ?
	`, models.SyncStatusSuccess, positionsSynced, positionsSkipped, now, now, id)
	return err
}

// Fail marks a sync as failed with an error message.
func (r *SyncHistoryRepository) Fail(id int64, errorMsg string) error {
	now := time.Now()
	_, err := r.db.Exec(`
		UPDATE sync_history
		SET status = ?, error_message = ?, completed_at = ?,
		    duration_ms = (julianday(?) - julianday(started_at)) * 86400000
		WHERE id = ?
	`, models.SyncStatusError, errorMsg, now, now, id)
	return err
}

// GetByID retrieves a sync history entry by ID.
func (r *SyncHistoryRepository) GetByID(id int64) (*models.SyncHistory, error) {
	row := r.db.QueryRow(`SELECT `+syncHistoryColumns+` FROM sync_history WHERE id = ?`, id)
	return r.scanHistory(row)
}

// GetRecent retrieves the most recent entries across providers.
func (r *SyncHistoryRepository) GetRecent(limit int) ([]*models.SyncHistory, error) {
	rows, err := r.db.Query(`
		SELECT `+syncHistoryColumns+`
		FROM sync_history
		ORDER BY started_at DESC, id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return r.scanHistories(rows)
}

// GetByProvider retrieves sync history for a provider, most recent first.
func (r *SyncHistoryRepository) GetByProvider(provider string, limit int) ([]*models.SyncHistory, error) {
	rows, err := r.db.Query(`
		SELECT `+syncHistoryColumns+`
		FROM sync_history
		WHERE provider = ?
		ORDER BY started_at DESC, id DESC
		LIMIT ?
	`, provider, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return r.scanHistories(rows)
}

// GetLatestByProvider retrieves the most recent sync history for a provider.
func (r *SyncHistoryRepository) GetLatestByProvider(provider string) (*models.SyncHistory, error) {
	row := r.db.QueryRow(`
		SELECT `+syncHistoryColumns+`
		FROM sync_history
		WHERE provider = ?
		ORDER BY started_at DESC, id DESC
		LIMIT 1
	`, provider)

	return r.scanHistory(row)
}

// DeleteOlderThan removes sync history entries older than the given time.
func (r *SyncHistoryRepository) DeleteOlderThan(before time.Time) (int64, error) {
	result, err := r.db.Exec(`DELETE FROM sync_history WHERE started_at < ?`, before)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanHistoryRow(s rowScanner) (*models.SyncHistory, error) {
	history := &models.SyncHistory{}
	var errorMsg sql.NullString
	var completedAt sql.NullTime
	var durationMs sql.NullInt64

	err := s.Scan(
		&history.ID,
		&history.CycleID,
		&history.Provider,
		&history.Trigger,
		&history.Status,
		&history.PositionsSynced,
		&history.PositionsSkipped,
		&errorMsg,
		&history.StartedAt,
		&completedAt,
		&durationMs,
	)
	if err != nil {
		return nil, err
	}

	if errorMsg.Valid {
		history.ErrorMessage = errorMsg.String
	}
	if completedAt.Valid {
		history.CompletedAt = &completedAt.Time
	}
	if durationMs.Valid {
		history.DurationMs = durationMs.Int64
	}
	return history, nil
}

// scanHistory scans a single row into a SyncHistory.
func (r *SyncHistoryRepository) scanHistory(row *sql.Row) (*models.SyncHistory, error) {
	history, err := scanHistoryRow(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return history, err
}

// scanHistories scans multiple rows into SyncHistories.
func (r *SyncHistoryRepository) scanHistories(rows *sql.Rows) ([]*models.SyncHistory, error) {
	histories := make([]*models.SyncHistory, 0)

	for rows.Next() {
		history, err := scanHistoryRow(rows)
		if err != nil {
			return nil, err
		}
		histories = append(histories, history)
	}

	return histories, rows.Err()
}
