package utils

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// SaveNodeKey persists the enrollment-issued node key. The file is the node's
// only credential, so it is written 0600 under the data directory.
func SaveNodeKey(path, key string) error {
	if key == "" {
		return fmt.Errorf("refusing to persist an empty node key")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(key+"\n"), 0600); err != nil {
		return fmt.Errorf("failed to write node key: %w", err)
	}
	return nil
}

// LoadNodeKey reads the persisted node key. A missing file means the node is
// not enrolled yet; callers distinguish that with os.IsNotExist.
func LoadNodeKey(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	key := strings.TrimSpace(string(data))
	if key == "" {
		return "", fmt.Errorf("node key file %s is empty", path)
	}
	return key, nil
}
