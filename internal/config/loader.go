package config

import (
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"
)

// Load reads and parses the configuration file and environment variables
func Load(configPath string) (*Config, *Secrets, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read config file: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, nil, err
	}
	return cfg, LoadSecrets(), nil
}

// Parse decodes TOML, applies defaults and validates the result
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if err := cfg.ValidateInputs(); err != nil {
		return nil, fmt.Errorf("input validation failed: %w", err)
	}
	return &cfg, nil
}

// applyDefaults sets default values for optional configuration fields
func applyDefaults(cfg *Config) {
	// Corpus defaults
	if cfg.Corpus.IDColumn == "" {
		cfg.Corpus.IDColumn = "id"
	}
	if cfg.Corpus.ContentColumn == "" {
		cfg.Corpus.ContentColumn = "answer"
	}
	// Used only when the data file has such a column.
	if cfg.Corpus.LabelColumn == "" {
		cfg.Corpus.LabelColumn = "label"
	}
	if cfg.Corpus.Delimiter == "" {
		cfg.Corpus.Delimiter = ","
	}
	if cfg.Corpus.Format == "" {
		cfg.Corpus.Format = "auto"
	}

	// Split defaults: 80/10/10 by identifier hash.
	// NOTE: TOML can't distinguish an omitted ratio from 0, so ratios only
	// default when all three are unset.
	if cfg.Split.Strategy == "" {
		cfg.Split.Strategy = "hash"
	}
	r := &cfg.Split.Ratios
	if r.Train == 0 && r.Validation == 0 && r.Test == 0 {
		r.Train, r.Validation, r.Test = 0.8, 0.1, 0.1
	}

	// Template defaults
	if cfg.Template.Text == "" {
		cfg.Template.Text = GetDefaultTemplate()
	}
	if cfg.Template.TargetField == "" {
		cfg.Template.TargetField = "label"
	}

	// Tokenizer defaults
	if cfg.Tokenizer.MaxSeqLength == 0 {
		cfg.Tokenizer.MaxSeqLength = 512
	}
	if cfg.Tokenizer.DecoderMaxLength == 0 {
		cfg.Tokenizer.DecoderMaxLength = 3
	}
	if cfg.Tokenizer.TruncateMethod == "" {
		cfg.Tokenizer.TruncateMethod = "tail"
	}

	// Batch defaults
	if cfg.Batch.BatchSize == 0 {
		cfg.Batch.BatchSize = 32
	}

	// Model defaults
	if cfg.Model.Family == "" {
		cfg.Model.Family = "bert"
	}
	if cfg.Model.Name == "" {
		cfg.Model.Name = "emilyalsentzer/Bio_ClinicalBERT"
	}

	// Export defaults
	if cfg.Export.OutputDir == "" {
		cfg.Export.OutputDir = "output"
	}
	if cfg.Export.Format == "" {
		cfg.Export.Format = "jsonl"
	}

	// Chat defaults
	if cfg.Chat.Responder == "" {
		cfg.Chat.Responder = "echo"
	}
	if cfg.Chat.Temperature == 0 {
		cfg.Chat.Temperature = 0.7
	}
	if cfg.Chat.TopP == 0 {
		cfg.Chat.TopP = 1.0
	}
	if cfg.Chat.MaxOutputTokens == 0 {
		cfg.Chat.MaxOutputTokens = 1024
	}
	if cfg.Chat.RateLimitPerMinute == 0 {
		cfg.Chat.RateLimitPerMinute = 60
	}
	if cfg.Chat.SystemPrompt == "" {
		cfg.Chat.SystemPrompt = GetDefaultSystemPrompt()
	}
}
