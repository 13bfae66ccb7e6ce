package secrets

import (
	"context"
	"fmt"

	"unified_portfolio/internal/repository"
)

// DBStore keeps secrets encrypted in the database.
type DBStore struct {
	repo *repository.SecretRepository
	enc  *Encryptor
}

// NewDBStore creates a new DBStore.
func NewDBStore(repo *repository.SecretRepository, enc *Encryptor) *DBStore {
	return &DBStore{repo: repo, enc: enc}
}

// Get implements Store.
func (s *DBStore) Get(ctx context.Context, name string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	row, err := s.repo.Get(name)
	if err != nil {
		return "", fmt.Errorf("loading secret: %w", err)
	}
	if row == nil {
		return "", ErrNotFound
	}
	value, err := s.enc.Decrypt(row.Ciphertext, row.Nonce, name)
	if err != nil {
		return "", fmt.Errorf("decrypting secret %s: %w", name, err)
	}
	return value, nil
}

// Set implements Store.
func (s *DBStore) Set(ctx context.Context, name, value string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	ciphertext, nonce, err := s.enc.Encrypt(value, name)
	if err != nil {
		return fmt.Errorf("encrypting secret %s: %w", name, err)
	}
	if err := s.repo.Upsert(name, ciphertext, nonce); err != nil {
		return fmt.Errorf("saving secret: %w", err)
	}
	return nil
}

// Delete removes a stored secret.
func (s *DBStore) Delete(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.repo.Delete(name)
}

// Names returns the names of stored secrets.
func (s *DBStore) Names() ([]string, error) {
	return s.repo.ListNames()
}
