package store

import (
	"database/sql"

	"martin/internal/apperr"
)

// SettingsRepo is the free-form key->string store. The orchestrator keeps
// the day-end reminder's last-sent date here and internal/security its
// sealed secrets; process config values are not read from it.
type SettingsRepo struct{ db *sql.DB }

// Get returns the value for key and true, or "" and false if unset.
func (r *SettingsRepo) Get(key string) (string, bool, error) {
	var value string
	err := r.db.QueryRow(`SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, apperr.Storage("get setting "+key, err)
	}
	return value, true, nil
}

// Set upserts a single key's value.
func (r *SettingsRepo) Set(key, value string) error {
	_, err := r.db.Exec(`
		INSERT INTO settings (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	if err != nil {
		return apperr.Storage("set setting "+key, err)
	}
	return nil
}

// All returns every stored key/value pair as a map in one round trip.
func (r *SettingsRepo) All() (map[string]string, error) {
	rows, err := r.db.Query(`SELECT key, value FROM settings`)
	if err != nil {
		return nil, apperr.Storage("list settings", err)
	}
	defer rows.Close()
	out := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, apperr.Storage("scan setting", err)
		}
		out[k] = v
	}
	return out, nil
}
