package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

// GetJSON decodes the value stored under key into v.
// Returns false when nothing has been stored yet; v is left untouched then.
func (s *Storage) GetJSON(key string, v any) (bool, error) {
	var raw string
	err := s.db.QueryRow("SELECT value FROM kv WHERE key = ?", key).Scan(&raw)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read key %s: %w", key, err)
	}

	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return false, fmt.Errorf("failed to decode key %s: %w", key, err)
	}
	return true, nil
}

// SetJSON replaces the value stored under key
func (s *Storage) SetJSON(key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode key %s: %w", key, err)
	}

	_, err = s.db.Exec(`
		INSERT INTO kv (key, value, updated_at)
		VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(key) DO UPDATE SET
			value = EXCLUDED.value,
			updated_at = CURRENT_TIMESTAMP
	`, key, string(data))
	if err != nil {
		return fmt.Errorf("failed to write key %s: %w", key, err)
	}
	return nil
}

// UpdateJSON performs an atomic read-modify-write of key. The stored value
// (if any) is decoded into v, fn mutates v, and v is written back in the same
// transaction. If fn returns an error nothing is written and that error is
// returned unwrapped.
func (s *Storage) UpdateJSON(key string, v any, fn func(exists bool) error) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	exists := true
	var raw string
	err = tx.QueryRow("SELECT value FROM kv WHERE key = ?", key).Scan(&raw)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		exists = false
	case err != nil:
		return fmt.Errorf("failed to read key %s: %w", key, err)
	default:
		if err := json.Unmarshal([]byte(raw), v); err != nil {
			return fmt.Errorf("failed to decode key %s: %w", key, err)
		}
	}

	if err := fn(exists); err != nil {
		return err
	}

	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode key %s: %w", key, err)
	}

	_, err = tx.Exec(`
		INSERT INTO kv (key, value, updated_at)
		VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(key) DO UPDATE SET
			value = EXCLUDED.value,
			updated_at = CURRENT_TIMESTAMP
	`, key, string(data))
	if err != nil {
		return fmt.Errorf("failed to write key %s: %w", key, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit key %s: %w", key, err)
	}
	return nil
}

// DeleteKey removes key; deleting a missing key is not an error
func (s *Storage) DeleteKey(key string) error {
	if _, err := s.db.Exec("DELETE FROM kv WHERE key = ?", key); err != nil {
		return fmt.Errorf("failed to delete key %s: %w", key, err)
	}
	return nil
}
