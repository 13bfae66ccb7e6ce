package repository

import (
	"database/sql"
	"time"

	"unified_portfolio/internal/database"
	"unified_portfolio/internal/models"
)

// SecretRepository handles encrypted secret rows.
type SecretRepository struct {
	db *database.DB
}

// NewSecretRepository creates a new SecretRepository.
func NewSecretRepository(db *database.DB) *SecretRepository {
	return &SecretRepository{db: db}
}

// Get returns the secret row for name, or nil if absent.
func (r *SecretRepository) Get(name string) (*models.Secret, error) {
	s := &models.Secret{}
	err := r.db.QueryRow(`
		SELECT name, ciphertext, nonce, updated_at FROM secrets WHERE name = ?
	`, name).Scan(&s.Name, &s.Ciphertext, &s.Nonce, &s.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return s, nil
}

// Upsert stores the encrypted value for name.
func (r *SecretRepository) Upsert(name string, ciphertext, nonce []byte) error {
	_, err := r.db.Exec(`
		INSERT INTO secrets (name, ciphertext, nonce, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
		    ciphertext = excluded.ciphertext,
		    nonce = excluded.nonce,
		    updated_at = excluded.updated_at
	`, name, ciphertext, nonce, time.Now())
	return err
}

// Delete removes the secret for name.
func (r *SecretRepository) Delete(name string) error {
	_, err := r.db.Exec(`DELETE FROM secrets WHERE name = ?`, name)
	return err
}

// ListNames returns the names of all stored secrets.
func (r *SecretRepository) ListNames() ([]string, error) {
	rows, err := r.db.Query(`SELECT name FROM secrets ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	names := make([]string, 0)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}
