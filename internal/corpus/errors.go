package corpus

import (
	"errors"
	"fmt"
)

// ErrIngestion matches every IngestionError via errors.Is
var ErrIngestion = errors.New("ingestion failed")

// IngestionError reports an unreadable or malformed source file.
type IngestionError struct {
	Stage    string // "open", "parse", "labels", "validate"
	Path     string
	Line     int    // 1-based source line or row, 0 when not applicable
	RecordID string // offending record, when known
	Err      error
}

func (e *IngestionError) Error() string {
	msg := fmt.Sprintf("ingestion %s %s", e.Stage, e.Path)
	if e.Line > 0 {
		msg += fmt.Sprintf(" (row %d)", e.Line)
	}
	if e.RecordID != "" {
		msg += fmt.Sprintf(" record %q", e.RecordID)
	}
	return msg + ": " + e.Err.Error()
}

func (e *IngestionError) Unwrap() error {
	return e.Err
}

// Is lets errors.Is(err, ErrIngestion) match without losing the cause chain.
func (e *IngestionError) Is(target error) bool {
	return target == ErrIngestion
}
