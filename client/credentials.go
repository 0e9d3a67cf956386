package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

const userKeyField = "user_key"

// Credentials reads and writes the API key in the local config file. The
// file may hold other app settings; rewrites preserve every key we don't
// own.
type Credentials struct {
	path string
}

func NewCredentials(path string) *Credentials {
	return &Credentials{path: path}
}

// DefaultConfigPath is ~/.aegis/config.json.
func DefaultConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".aegis", "config.json"), nil
}

// APIKey returns the stored key, or "" when the file or the field is
// missing.
func (c *Credentials) APIKey() (string, error) {
	settings, err := c.load()
	if err != nil {
		return "", err
	}
	key, _ := settings[userKeyField].(string)
	return key, nil
}

// SetAPIKey writes the key, creating the config directory if needed and
// keeping all other settings in the file intact.
func (c *Credentials) SetAPIKey(key string) error {
	settings, err := c.load()
	if err != nil {
		return err
	}
	settings[userKeyField] = key

	if err := os.MkdirAll(filepath.Dir(c.path), 0o700); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	data, err := json.MarshalIndent(settings, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(c.path, data, 0o600)
}

func (c *Credentials) load() (map[string]any, error) {
	data, err := os.ReadFile(c.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return map[string]any{}, nil
		}
		return nil, err
	}

	settings := map[string]any{}
	if err := json.Unmarshal(data, &settings); err != nil {
		// A corrupt config file should not brick the app; start fresh.
		return map[string]any{}, nil
	}
	return settings, nil
}
