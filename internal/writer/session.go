package writer

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/lamim/skipdoc/pkg/models"
)

// DefaultOutputDir holds session directories unless configured otherwise
const DefaultOutputDir = "output"

// SessionManager manages session directories and files
type SessionManager struct {
	outputDir  string
	sessionDir string
	logger     *slog.Logger
}

// NewSessionManager creates a timestamped session directory under outputDir,
// or reopens an existing one when resumeSession is set.
func NewSessionManager(outputDir, resumeSession string, logger *slog.Logger) (*SessionManager, error) {
	if outputDir == "" {
		outputDir = DefaultOutputDir
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	var sessionDir string
	if resumeSession != "" {
		if err := ValidateSessionPath(outputDir, resumeSession); err != nil {
			return nil, err
		}
		sessionDir = filepath.Join(outputDir, resumeSession)
		if _, err := os.Stat(sessionDir); os.IsNotExist(err) {
			return nil, fmt.Errorf("session directory not found: %s", sessionDir)
		}
		logger.Info("Reusing existing session", "path", sessionDir)
	} else {
		timestamp := time.Now().Format("2006-01-02T15-04-05")
		sessionDir = filepath.Join(outputDir, "session_"+timestamp)
		if err := os.MkdirAll(sessionDir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create session directory: %w", err)
		}
		logger.Info("Created new session directory", "path", sessionDir)
	}

	return &SessionManager{
		outputDir:  outputDir,
		sessionDir: sessionDir,
		logger:     logger,
	}, nil
}

// SetLogger replaces the logger once the session logger exists
func (sm *SessionManager) SetLogger(logger *slog.Logger) {
	sm.logger = logger
}

// GetSessionDir returns the session directory path
func (sm *SessionManager) GetSessionDir() string {
	return sm.sessionDir
}

// GetBatchesPath returns the export file for one split
func (sm *SessionManager) GetBatchesPath(split models.SplitName, format Format) string {
	return filepath.Join(sm.sessionDir, fmt.Sprintf("%s.%s", split, format))
}

// GetLogPath returns the full path to the session log file
func (sm *SessionManager) GetLogPath() string {
	return filepath.Join(sm.sessionDir, "session.log")
}

// GetManifestPath returns the full path to manifest.json
func (sm *SessionManager) GetManifestPath() string {
	return filepath.Join(sm.sessionDir, "manifest.json")
}

// GetLockPath returns the lock file held while exporting
func (sm *SessionManager) GetLockPath() string {
	return filepath.Join(sm.sessionDir, ".export.lock")
}

// GetConfigBackupPath returns the full path to the config backup
func (sm *SessionManager) GetConfigBackupPath() string {
	return filepath.Join(sm.sessionDir, "config.toml.bak")
}

// BackupConfig copies the config file to the session directory
func (sm *SessionManager) BackupConfig(configPath string) error {
	source, err := os.ReadFile(configPath)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	backupPath := sm.GetConfigBackupPath()
	if err := os.WriteFile(backupPath, source, 0644); err != nil {
		return fmt.Errorf("failed to write config backup: %w", err)
	}

	sm.logger.Info("Backed up config file", "path", backupPath)
	return nil
}
