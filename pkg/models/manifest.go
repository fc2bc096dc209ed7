package models

import "time"

// Manifest describes one prepared export session
type Manifest struct {
	RunID     string    `json:"run_id"`     // UUID for this run
	CreatedAt time.Time `json:"created_at"` // When the run started
	Finished  time.Time `json:"finished_at"`

	ConfigHash string `json:"config_hash"` // SHA256 of the config file

	ModelFamily string `json:"model_family,omitempty"`
	ModelName   string `json:"model_name,omitempty"`
	Format      string `json:"format"`

	Corpus CorpusStats               `json:"corpus"`
	Splits map[SplitName]*SplitStats `json:"splits"`
}

// CorpusStats tracks row counts through ingestion
type CorpusStats struct {
	RowsRead     int `json:"rows_read"`
	RowsFiltered int `json:"rows_filtered"`
	RowsCleaned  int `json:"rows_cleaned"`
	RowsKept     int `json:"rows_kept"`
	Labels       int `json:"labels"`
}

// SplitStats tracks what was exported for one split
type SplitStats struct {
	Records  int    `json:"records"`
	Examples int    `json:"examples"`
	Skipped  int    `json:"skipped"`
	Batches  int    `json:"batches"`
	File     string `json:"file,omitempty"`
}
