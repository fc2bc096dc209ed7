// Package modelload resolves a model family and name into a tokenizer, the
// model's configuration and a factory for truncating tokenizers.
package modelload

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/comfforts/logger"
	"github.com/gomlx/go-huggingface/hub"
	"github.com/gomlx/go-huggingface/tokenizers/api"
	"github.com/pkg/errors"

	"github.com/lamim/skipdoc/internal/metrics"
	"github.com/lamim/skipdoc/internal/tokenize"
)

// Family names a pretrained model family
type Family string

const (
	FamilyBERT    Family = "bert"
	FamilyRoBERTa Family = "roberta"
	FamilyT5      Family = "t5"
	FamilyGPT2    Family = "gpt2"
	FamilyLlama   Family = "llama"
	// FamilyLocal loads from a directory holding tokenizer.json or tokenizer.model
	FamilyLocal Family = "local"
)

// ParseFamily validates a family name
func ParseFamily(s string) (Family, error) {
	f := Family(strings.ToLower(strings.TrimSpace(s)))
	switch f {
	case FamilyBERT, FamilyRoBERTa, FamilyT5, FamilyGPT2, FamilyLlama, FamilyLocal:
		return f, nil
	}
	return "", errors.Errorf("unknown model family %q", s)
}

// Architecture returns the default layout for the family
func (f Family) Architecture() tokenize.Architecture {
	if f == FamilyT5 {
		return tokenize.Seq2Seq
	}
	return tokenize.Causal
}

// WrapperFactory builds truncating tokenizers over a loaded tokenizer
type WrapperFactory func(cfg tokenize.Config, obs metrics.Observer) (*tokenize.Tokenizer, error)

// Pretrained is what Load returns. Model is an opaque handle (the resolved
// model directory or repo) passed through to training; Config is the parsed
// config.json, empty if the model has none.
type Pretrained struct {
	Family       Family
	Name         string
	Model        string
	Tokenizer    api.Tokenizer
	Config       map[string]any
	Architecture tokenize.Architecture
	Wrapper      WrapperFactory
}

// Loader resolves pretrained models
type Loader struct {
	CacheDir  string // Hub cache directory, empty for the library default
	AuthToken string // Hugging Face token for gated repos
	Encoding  string // tiktoken encoding for the gpt2 family, defaults to r50k_base
}

// Load resolves name for family. For FamilyLocal, name is a directory;
// otherwise it is a Hugging Face Hub repo id, or a directory if one exists
// at that path.
func (l *Loader) Load(ctx context.Context, family Family, name string) (*Pretrained, error) {
	log, err := logger.LoggerFromContext(ctx)
	if err != nil {
		log = logger.GetSlogLogger()
	}
	if _, err := ParseFamily(string(family)); err != nil {
		return nil, err
	}
	if name == "" {
		return nil, errors.New("model name is required")
	}

	src, err := l.source(family, name)
	if err != nil {
		return nil, err
	}
	log.Info("Loading pretrained model", "family", family, "name", name, "source", src.String())

	tok, err := l.loadTokenizer(ctx, family, src)
	if err != nil {
		return nil, errors.Wrapf(err, "loading tokenizer for %s", name)
	}

	cfg := map[string]any{}
	if src.HasFile("config.json") {
		path, err := src.Fetch(ctx, "config.json")
		if err != nil {
			return nil, errors.Wrap(err, "fetching config.json")
		}
		if cfg, err = readJSONMap(path); err != nil {
			return nil, err
		}
	}

	p := newPretrained(family, name, src.String(), tok, cfg)
	log.Info("Loaded pretrained model", "family", family, "name", name, "architecture", p.Architecture.String())
	return p, nil
}

func newPretrained(family Family, name, model string, tok api.Tokenizer, cfg map[string]any) *Pretrained {
	p := &Pretrained{
		Family:       family,
		Name:         name,
		Model:        model,
		Tokenizer:    tok,
		Config:       cfg,
		Architecture: architectureOf(family, cfg),
	}
	p.Wrapper = func(tc tokenize.Config, obs metrics.Observer) (*tokenize.Tokenizer, error) {
		return tokenize.New(p.Tokenizer, tc, obs)
	}
	return p
}

// architectureOf honors is_encoder_decoder in config.json over the family default
func architectureOf(family Family, cfg map[string]any) tokenize.Architecture {
	if v, ok := cfg["is_encoder_decoder"].(bool); ok {
		if v {
			return tokenize.Seq2Seq
		}
		return tokenize.Causal
	}
	return family.Architecture()
}

func (l *Loader) loadTokenizer(ctx context.Context, family Family, src fileSource) (api.Tokenizer, error) {
	switch {
	case src.HasFile("tokenizer.json"):
		path, err := src.Fetch(ctx, "tokenizer.json")
		if err != nil {
			return nil, err
		}
		return newHFTokenizer(path)
	case src.HasFile("tokenizer.model"):
		path, err := src.Fetch(ctx, "tokenizer.model")
		if err != nil {
			return nil, err
		}
		return newSentencePiece(path)
	case src.HasFile("vocab.txt"):
		path, err := src.Fetch(ctx, "vocab.txt")
		if err != nil {
			return nil, err
		}
		return newWordPiece(path, doLowerCase(ctx, src))
	case family == FamilyGPT2:
		return newTiktoken(l.Encoding)
	}
	return nil, errors.Errorf("%s has none of tokenizer.json, tokenizer.model or vocab.txt", src)
}

// doLowerCase reads do_lower_case from tokenizer_config.json; BERT vocabularies
// are uncased unless the checkpoint says otherwise.
func doLowerCase(ctx context.Context, src fileSource) bool {
	if !src.HasFile("tokenizer_config.json") {
		return true
	}
	path, err := src.Fetch(ctx, "tokenizer_config.json")
	if err != nil {
		return true
	}
	cfg, err := readJSONMap(path)
	if err != nil {
		return true
	}
	if v, ok := cfg["do_lower_case"].(bool); ok {
		return v
	}
	return true
}

func readJSONMap(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading %s", path)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, errors.Wrapf(err, "parsing %s", path)
	}
	return m, nil
}

// fileSource abstracts a local directory and a Hub repo
type fileSource interface {
	HasFile(name string) bool
	Fetch(ctx context.Context, name string) (string, error)
	String() string
}

func (l *Loader) source(family Family, name string) (fileSource, error) {
	if info, err := os.Stat(name); err == nil && info.IsDir() {
		return localDir(name), nil
	}
	if family == FamilyLocal {
		return nil, errors.Errorf("model directory %q not found", name)
	}
	repo := hub.New(name)
	if l.AuthToken != "" {
		repo = repo.WithAuth(l.AuthToken)
	}
	if l.CacheDir != "" {
		repo = repo.WithCacheDir(l.CacheDir)
	}
	return &hubRepo{repo: repo, name: name}, nil
}

type localDir string

func (d localDir) HasFile(name string) bool {
	info, err := os.Stat(filepath.Join(string(d), name))
	return err == nil && !info.IsDir()
}

func (d localDir) Fetch(_ context.Context, name string) (string, error) {
	path := filepath.Join(string(d), name)
	if !d.HasFile(name) {
		return "", errors.Errorf("%s not found", path)
	}
	return path, nil
}

func (d localDir) String() string { return string(d) }

type hubRepo struct {
	repo *hub.Repo
	name string
}

func (h *hubRepo) HasFile(name string) bool {
	return h.repo.HasFile(name)
}

func (h *hubRepo) Fetch(ctx context.Context, name string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	path, err := h.repo.DownloadFile(name)
	if err != nil {
		return "", errors.Wrapf(err, "downloading %s from %s", name, h.name)
	}
	return path, nil
}

func (h *hubRepo) String() string { return "hf://" + h.name }
