package config

import (
	"fmt"
	"os"
	"strings"
	"unicode/utf8"

	"github.com/lamim/skipdoc/internal/batch"
	"github.com/lamim/skipdoc/internal/corpus"
	"github.com/lamim/skipdoc/internal/modelload"
	"github.com/lamim/skipdoc/internal/prompt"
	"github.com/lamim/skipdoc/internal/split"
	"github.com/lamim/skipdoc/internal/tokenize"
	"github.com/lamim/skipdoc/internal/writer"
	"github.com/lamim/skipdoc/pkg/models"
)

// Config represents the complete application configuration
type Config struct {
	Corpus    CorpusConfig    `toml:"corpus"`
	Split     SplitConfig     `toml:"split"`
	Template  TemplateConfig  `toml:"template"`
	Tokenizer TokenizerConfig `toml:"tokenizer"`
	Batch     BatchConfig     `toml:"batch"`
	Model     ModelConfig     `toml:"model"`
	Export    ExportConfig    `toml:"export"`
	Chat      ChatConfig      `toml:"chat"`
}

// CorpusConfig locates the corpus and names its columns
type CorpusConfig struct {
	DataPath      string   `toml:"data_path"`
	LabelsPath    string   `toml:"labels_path"`     // optional space-delimited "label id" file
	IDColumn      string   `toml:"id_column"`       // default: id
	ContentColumn string   `toml:"content_column"`  // default: answer
	LabelColumn   string   `toml:"label_column"`    // default: label, ignored when absent; takes precedence over labels_path
	LabelIDColumn string   `toml:"label_id_column"` // column joined with labels_path, default: id_column
	Delimiter     string   `toml:"delimiter"`       // single character, default: ","
	Format        string   `toml:"format"`          // auto, csv or parquet
	ClassFilter   []string `toml:"class_filter"`    // keep only these labels; empty keeps all
}

// SplitConfig controls how records are assigned to splits
type SplitConfig struct {
	Strategy          string       `toml:"strategy"` // hash or seeded
	Ratios            split.Ratios `toml:"ratios"`
	Seed              uint64       `toml:"seed"`
	RequireValidation bool         `toml:"require_validation"`
	RequireTest       bool         `toml:"require_test"`
}

// TemplateConfig holds the prompt template
type TemplateConfig struct {
	Text        string `toml:"text"`
	TargetField string `toml:"target_field"` // record field the mask resolves to, default: label
	MaskMarker  string `toml:"mask_marker"`
}

// TokenizerConfig bounds tokenized examples
type TokenizerConfig struct {
	MaxSeqLength     int    `toml:"max_seq_length"`
	DecoderMaxLength int    `toml:"decoder_max_length"`
	TruncateMethod   string `toml:"truncate_method"` // head, tail or balanced
	PredictEOSToken  bool   `toml:"predict_eos_token"`
	Architecture     string `toml:"architecture"` // causal or seq2seq; empty follows the model family
	SkipOverlong     bool   `toml:"skip_overlong"`
}

// BatchConfig controls batch assembly
type BatchConfig struct {
	BatchSize int    `toml:"batch_size"`
	Workers   int    `toml:"workers"` // 0 means GOMAXPROCS
	Seed      uint64 `toml:"seed"`
}

// ModelConfig names the pretrained model
type ModelConfig struct {
	Family   string `toml:"family"`
	Name     string `toml:"name"`
	CacheDir string `toml:"cache_dir"`
	Encoding string `toml:"encoding"` // tiktoken encoding for the gpt2 family
}

// ExportConfig controls where batches are written
type ExportConfig struct {
	OutputDir     string `toml:"output_dir"`
	Format        string `toml:"format"` // jsonl or parquet
	ResumeSession string `toml:"resume_session"`
}

// ChatConfig configures the chat shell
type ChatConfig struct {
	Responder          string  `toml:"responder"` // echo or openai
	BaseURL            string  `toml:"base_url"`
	ModelName          string  `toml:"model_name"`
	Temperature        float64 `toml:"temperature"`
	TopP               float64 `toml:"top_p"`
	MaxOutputTokens    int     `toml:"max_output_tokens"`
	RateLimitPerMinute int     `toml:"rate_limit_per_minute"`
	SystemPrompt       string  `toml:"system_prompt"`
}

// Secrets holds sensitive credentials loaded from environment variables
type Secrets struct {
	APIKeys          map[string]string
	HuggingFaceToken string
}

const (
	// MaxBatchSize is the largest accepted batch size
	MaxBatchSize = 1 << 16
	// MaxSeqLength is the largest accepted encoder budget
	MaxSeqLength = 1 << 20
)

// Validate checks the configuration. Component configs are validated again
// by their constructors; the checks here report TOML key names.
func (c *Config) Validate() error {
	if c.Corpus.DataPath == "" {
		return fmt.Errorf("corpus.data_path is required")
	}
	if utf8.RuneCountInString(c.Corpus.Delimiter) != 1 {
		return fmt.Errorf("corpus.delimiter must be a single character (got %q)", c.Corpus.Delimiter)
	}
	cc := c.ToCorpus()
	if err := cc.Validate(); err != nil {
		return fmt.Errorf("corpus: %w", err)
	}

	sc := c.ToSplit()
	if err := sc.Validate(); err != nil {
		return fmt.Errorf("split: %w", err)
	}

	if _, err := c.ParseTemplate(); err != nil {
		return fmt.Errorf("template: %w", err)
	}

	if c.Tokenizer.MaxSeqLength > MaxSeqLength {
		return fmt.Errorf("tokenizer.max_seq_length must be <= %d (got %d)", MaxSeqLength, c.Tokenizer.MaxSeqLength)
	}
	if _, err := c.ToTokenize(tokenize.Causal); err != nil {
		return fmt.Errorf("tokenizer: %w", err)
	}

	if c.Batch.BatchSize > MaxBatchSize {
		return fmt.Errorf("batch.batch_size must be <= %d (got %d)", MaxBatchSize, c.Batch.BatchSize)
	}
	bc := c.ToBatch()
	if err := bc.Validate(); err != nil {
		return err
	}

	if _, err := modelload.ParseFamily(c.Model.Family); err != nil {
		return fmt.Errorf("model.family: %w", err)
	}
	if c.Model.Name == "" {
		return fmt.Errorf("model.name is required")
	}

	if _, err := writer.ParseFormat(c.Export.Format); err != nil {
		return fmt.Errorf("export.format: %w", err)
	}

	switch c.Chat.Responder {
	case "echo":
	case "openai":
		if c.Chat.ModelName == "" {
			return fmt.Errorf("chat.model_name is required for the openai responder")
		}
		if c.Chat.Temperature < 0 || c.Chat.Temperature > 2 {
			return fmt.Errorf("chat.temperature must be between 0 and 2")
		}
		if c.Chat.TopP < 0 || c.Chat.TopP > 1 {
			return fmt.Errorf("chat.top_p must be between 0 and 1")
		}
	default:
		return fmt.Errorf("chat.responder must be echo or openai (got %q)", c.Chat.Responder)
	}
	return nil
}

// ToCorpus converts the [corpus] section
func (c *Config) ToCorpus() corpus.Config {
	delim, _ := utf8.DecodeRuneInString(c.Corpus.Delimiter)
	return corpus.Config{
		DataPath:      c.Corpus.DataPath,
		LabelsPath:    c.Corpus.LabelsPath,
		IDColumn:      c.Corpus.IDColumn,
		ContentColumn: c.Corpus.ContentColumn,
		LabelColumn:   c.Corpus.LabelColumn,
		LabelIDColumn: c.Corpus.LabelIDColumn,
		Delimiter:     delim,
		Format:        corpus.Format(strings.ToLower(c.Corpus.Format)),
		ClassFilter:   c.Corpus.ClassFilter,
	}
}

// ToSplit converts the [split] section
func (c *Config) ToSplit() split.Config {
	return split.Config{
		Strategy:          split.Strategy(strings.ToLower(c.Split.Strategy)),
		Ratios:            c.Split.Ratios,
		Seed:              c.Split.Seed,
		RequireValidation: c.Split.RequireValidation,
		RequireTest:       c.Split.RequireTest,
	}
}

// ParseTemplate parses the [template] section
func (c *Config) ParseTemplate() (*prompt.Template, error) {
	opts := []prompt.Option{prompt.WithTarget(c.Template.TargetField)}
	if c.Template.MaskMarker != "" {
		opts = append(opts, prompt.WithMaskMarker(c.Template.MaskMarker))
	}
	return prompt.Parse(c.Template.Text, opts...)
}

// ToTokenize converts the [tokenizer] section. fallback is used when
// architecture is not set.
func (c *Config) ToTokenize(fallback tokenize.Architecture) (tokenize.Config, error) {
	policy, err := tokenize.ParsePolicy(c.Tokenizer.TruncateMethod)
	if err != nil {
		return tokenize.Config{}, err
	}
	arch := fallback
	if c.Tokenizer.Architecture != "" {
		if arch, err = tokenize.ParseArchitecture(c.Tokenizer.Architecture); err != nil {
			return tokenize.Config{}, err
		}
	}
	tc := tokenize.Config{
		MaxSeqLength:     c.Tokenizer.MaxSeqLength,
		DecoderMaxLength: c.Tokenizer.DecoderMaxLength,
		TruncateMethod:   policy,
		PredictEOSToken:  c.Tokenizer.PredictEOSToken,
		Architecture:     arch,
	}
	if err := tc.Validate(); err != nil {
		return tokenize.Config{}, err
	}
	return tc, nil
}

// ToBatch converts the [batch] section; policies follow batch.DefaultPolicies
// with the split requirements from [split].
func (c *Config) ToBatch() batch.Config {
	table := make(map[models.SplitName]batch.Policy, len(batch.DefaultPolicies))
	for name, p := range batch.DefaultPolicies {
		table[name] = p
	}
	for name, required := range map[models.SplitName]bool{
		models.SplitValidation: c.Split.RequireValidation,
		models.SplitTest:       c.Split.RequireTest,
	} {
		p := table[name]
		p.Required = required
		table[name] = p
	}
	return batch.Config{
		BatchSize:    c.Batch.BatchSize,
		Workers:      c.Batch.Workers,
		Seed:         c.Batch.Seed,
		SkipOverlong: c.Tokenizer.SkipOverlong,
		Policies:     table,
	}
}

// LoadSecrets loads sensitive credentials from environment variables
func LoadSecrets() *Secrets {
	secrets := &Secrets{APIKeys: make(map[string]string)}
	if key := os.Getenv("API_KEY"); key != "" {
		secrets.APIKeys["generic"] = key
	}
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		secrets.APIKeys["openai"] = key
	}
	secrets.HuggingFaceToken = os.Getenv("HUGGING_FACE_TOKEN")
	if secrets.HuggingFaceToken == "" {
		secrets.HuggingFaceToken = os.Getenv("HF_TOKEN")
	}
	return secrets
}

// GetAPIKey returns the API key for a given base URL
func (s *Secrets) GetAPIKey(baseURL string) string {
	if strings.Contains(baseURL, "openai.com") {
		if key := s.APIKeys["openai"]; key != "" {
			return key
		}
	}
	// Generic key for any OpenAI-compatible provider; empty for local servers
	return s.APIKeys["generic"]
}
