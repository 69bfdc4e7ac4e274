package store

import (
	"fmt"
	"strconv"
)

// Setting keys for source enablement and refresh behavior. Enablement is
// re-read at the start of every refresh cycle, never cached.
const (
	SettingHealthEnabled   = "source_health_enabled"
	SettingGitHubEnabled   = "source_github_enabled"
	SettingSpotifyEnabled  = "source_spotify_enabled"
	SettingTrackGenres     = "spotify_track_genres"
	SettingTrackPopularity = "spotify_track_popularity"
	SettingWindowDays      = "window_days"
)

func (s *Store) GetSetting(key string) (string, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if err != nil {
		return "", fmt.Errorf("get setting %q: %w", key, err)
	}
	return value, nil
}

func (s *Store) SetSetting(key, value string) error {
	_, err := s.db.Exec(
		`INSERT INTO settings (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, value,
	)
	return err
}

// GetBoolSetting treats "1" and "true" as true; a missing key reads as
// false.
func (s *Store) GetBoolSetting(key string) (bool, error) {
	v, err := s.GetSetting(key)
	if err != nil {
		return false, err
	}
	return v == "1" || v == "true", nil
}

// GetIntSetting returns the setting as an int, or fallback if it is not a
// number.
func (s *Store) GetIntSetting(key string, fallback int) int {
	v, err := s.GetSetting(key)
	if err != nil {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func (s *Store) GetAllSettings() ([]Setting, error) {
	rows, err := s.db.Query(`SELECT key, value FROM settings ORDER BY key`)
	if err != nil {
		return nil, fmt.Errorf("list settings: %w", err)
	}
	defer rows.Close()

	var settings []Setting
	for rows.Next() {
		var s Setting
		if err := rows.Scan(&s.Key, &s.Value); err != nil {
			return nil, err
		}
		settings = append(settings, s)
	}
	return settings, rows.Err()
}
