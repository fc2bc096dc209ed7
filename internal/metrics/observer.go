package metrics

import "log/slog"

// Observer receives pipeline lifecycle events. Implementations must be
// safe for concurrent use: batch assembly reports from worker goroutines.
type Observer interface {
	RowsRead(stage string, n int)
	RowsDropped(stage, reason string, n int)
	SplitSized(split string, n int)
	Truncated(recordID string, removed int)
	RecordSkipped(split, recordID string, err error)
	BatchEmitted(split string, size int)
}

// Nop discards every event
type Nop struct{}

func (Nop) RowsRead(string, int) {}
func (Nop) RowsDropped(string, string, int) {}
func (Nop) SplitSized(string, int) {}
func (Nop) Truncated(string, int) {}
func (Nop) RecordSkipped(string, string, error) {}
func (Nop) BatchEmitted(string, int) {}

// OrNop returns obs, or a Nop observer when obs is nil
func OrNop(obs Observer) Observer {
	if obs == nil {
		return Nop{}
	}
	return obs
}

// Multi fans every event out to each observer in order
type Multi []Observer

func (m Multi) RowsRead(stage string, n int) {
	for _, o := range m {
		o.RowsRead(stage, n)
	}
}

func (m Multi) RowsDropped(stage, reason string, n int) {
	for _, o := range m {
		o.RowsDropped(stage, reason, n)
	}
}

func (m Multi) SplitSized(split string, n int) {
	for _, o := range m {
		o.SplitSized(split, n)
	}
}

func (m Multi) Truncated(recordID string, removed int) {
	for _, o := range m {
		o.Truncated(recordID, removed)
	}
}

func (m Multi) RecordSkipped(split, recordID string, err error) {
	for _, o := range m {
		o.RecordSkipped(split, recordID, err)
	}
}

func (m Multi) BatchEmitted(split string, size int) {
	for _, o := range m {
		o.BatchEmitted(split, size)
	}
}

// LogObserver writes events to a structured logger. Per-record events are
// logged at debug level so large corpora don't flood the session log.
type LogObserver struct {
	logger *slog.Logger
}

// NewLogObserver creates an observer backed by logger
func NewLogObserver(logger *slog.Logger) *LogObserver {
	return &LogObserver{logger: logger}
}

func (l *LogObserver) RowsRead(stage string, n int) {
	l.logger.Info("Rows read", "stage", stage, "rows", n)
}

func (l *LogObserver) RowsDropped(stage, reason string, n int) {
	l.logger.Info("Rows dropped", "stage", stage, "reason", reason, "rows", n)
}

func (l *LogObserver) SplitSized(split string, n int) {
	l.logger.Info("Split assigned", "split", split, "records", n)
}

func (l *LogObserver) Truncated(recordID string, removed int) {
	l.logger.Debug("Example truncated", "record_id", recordID, "removed_tokens", removed)
}

func (l *LogObserver) RecordSkipped(split, recordID string, err error) {
	l.logger.Warn("Record skipped", "split", split, "record_id", recordID, "error", err)
}

func (l *LogObserver) BatchEmitted(split string, size int) {
	l.logger.Debug("Batch emitted", "split", split, "size", size)
}
