package store

import (
	"database/sql"
	"errors"
	"fmt"
)

// GetCredential returns the decrypted value for key. ok is false when no
// value is stored.
func (s *Store) GetCredential(key string) (value string, ok bool, err error) {
	var sealed []byte
	err = s.db.QueryRow(`SELECT value FROM credentials WHERE key = ?`, key).Scan(&sealed)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get credential %q: %w", key, err)
	}
	value, err = s.box.open(sealed)
	if err != nil {
		return "", false, fmt.Errorf("get credential %q: %w", key, err)
	}
	return value, true, nil
}

// SetCredential stores value under key, sealed at rest. Each call is one
// statement; callers never need cross-key transactions.
func (s *Store) SetCredential(key, value string) error {
	sealed, err := s.box.seal(value)
	if err != nil {
		return fmt.Errorf("seal credential %q: %w", key, err)
	}
	_, err = s.db.Exec(
		`INSERT INTO credentials (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, sealed,
	)
	if err != nil {
		return fmt.Errorf("set credential %q: %w", key, err)
	}
	return nil
}

// DeleteCredential removes key. Deleting an absent key is not an error.
func (s *Store) DeleteCredential(key string) error {
	_, err := s.db.Exec(`DELETE FROM credentials WHERE key = ?`, key)
	if err != nil {
		return fmt.Errorf("delete credential %q: %w", key, err)
	}
	return nil
}
