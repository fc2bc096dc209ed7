package writer

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/lamim/skipdoc/pkg/models"
)

// NewManifest starts a manifest with a fresh run id and the hash of the
// config file, if any.
func NewManifest(configPath string) (*models.Manifest, error) {
	m := &models.Manifest{
		RunID:     uuid.New().String(),
		CreatedAt: time.Now().UTC(),
		Splits:    make(map[models.SplitName]*models.SplitStats),
	}
	if configPath != "" {
		hash, err := HashFile(configPath)
		if err != nil {
			return nil, err
		}
		m.ConfigHash = hash
	}
	return m, nil
}

// HashFile returns the hex SHA-256 of a file's contents
func HashFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read %s for hashing: %w", path, err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// WriteManifest writes m to path through a temp file and rename
func WriteManifest(path string, m *models.Manifest) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal manifest: %w", err)
	}

	tempPath := path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write temp manifest: %w", err)
	}
	if err := os.Rename(tempPath, path); err != nil {
		return fmt.Errorf("failed to rename manifest: %w", err)
	}
	return nil
}

// ReadManifest loads a manifest written by WriteManifest
func ReadManifest(path string) (*models.Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}
	var m models.Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse manifest: %w", err)
	}
	return &m, nil
}
