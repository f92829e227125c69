package telemetry

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tphakala/btsink-go/internal/privacy"
)

const systemIDFile = ".system_id"

// LoadOrCreateSystemID loads the anonymous install identifier from the
// config directory, creating and persisting a fresh one on first run.
// The ID is random, carries no device information, and only serves to
// group telemetry events from one install.
func LoadOrCreateSystemID(configDir string) (string, error) {
	if err := os.MkdirAll(configDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create config directory: %w", err)
	}

	idFile := filepath.Join(configDir, systemIDFile)

	if data, err := os.ReadFile(idFile); err == nil {
		id := strings.TrimSpace(string(data))
		if privacy.IsValidSystemID(id) {
			return id, nil
		}
	}

	id, err := privacy.GenerateSystemID()
	if err != nil {
		return "", err
	}

	if err := os.WriteFile(idFile, []byte(id), 0o644); err != nil {
		return "", fmt.Errorf("failed to save system ID: %w", err)
	}

	return id, nil
}
