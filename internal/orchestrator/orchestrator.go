package orchestrator

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/comfforts/logger"
	"github.com/gomlx/go-huggingface/tokenizers/api"

	"github.com/lamim/skipdoc/internal/batch"
	"github.com/lamim/skipdoc/internal/config"
	"github.com/lamim/skipdoc/internal/corpus"
	"github.com/lamim/skipdoc/internal/metrics"
	"github.com/lamim/skipdoc/internal/modelload"
	"github.com/lamim/skipdoc/internal/prompt"
	"github.com/lamim/skipdoc/internal/split"
	"github.com/lamim/skipdoc/internal/tokenize"
	"github.com/lamim/skipdoc/internal/writer"
	"github.com/lamim/skipdoc/pkg/models"
)

// Orchestrator wires the preparation pipeline: load, split, template,
// tokenizer, batch sources and export.
type Orchestrator struct {
	cfg     *config.Config
	secrets *config.Secrets
	logger  *slog.Logger
	obs     metrics.Observer
	encoder api.Tokenizer // set by WithTokenizer; skips model loading
}

// Option configures an Orchestrator
type Option func(*Orchestrator)

// WithObserver adds an observer for pipeline events
func WithObserver(obs metrics.Observer) Option {
	return func(o *Orchestrator) { o.obs = obs }
}

// WithTokenizer uses enc instead of loading the configured model. The
// architecture then follows tokenizer.architecture or the model family.
func WithTokenizer(enc api.Tokenizer) Option {
	return func(o *Orchestrator) { o.encoder = enc }
}

// New creates a new orchestrator
func New(cfg *config.Config, secrets *config.Secrets, logger *slog.Logger, opts ...Option) *Orchestrator {
	if secrets == nil {
		secrets = &config.Secrets{}
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	o := &Orchestrator{cfg: cfg, secrets: secrets, logger: logger}
	for _, opt := range opts {
		opt(o)
	}
	o.obs = metrics.OrNop(o.obs)
	return o
}

// Loaded is the output of the ingestion and split stages
type Loaded struct {
	Corpus *corpus.Corpus
	Splits split.SplitSet
	Stats  models.CorpusStats
}

// Prepared holds everything needed to draw batches
type Prepared struct {
	Loaded
	Template   *prompt.Template
	Pretrained *modelload.Pretrained // nil when a tokenizer was injected
	Tokenizer  *tokenize.Tokenizer
	Sources    map[models.SplitName]*batch.Source
}

// Load reads and cleans the corpus and splits it
func (o *Orchestrator) Load(ctx context.Context) (*Loaded, error) {
	var stats models.CorpusStats
	obs := metrics.Multi{o.obs, &corpusCounter{stats: &stats}}

	loader, err := corpus.NewLoader(o.cfg.ToCorpus(), o.logger.With("component", "corpus"), obs)
	if err != nil {
		return nil, err
	}
	c, err := loader.Load(ctx)
	if err != nil {
		return nil, err
	}
	stats.RowsKept = c.Len()
	stats.Labels = len(c.Labels)

	set, err := split.Split(c.Records, o.cfg.ToSplit(), obs)
	if err != nil {
		return nil, err
	}
	sizes := set.Sizes()
	o.logger.Info("Split corpus",
		"strategy", o.cfg.Split.Strategy,
		"train", sizes[models.SplitTrain],
		"validation", sizes[models.SplitValidation],
		"test", sizes[models.SplitTest])

	return &Loaded{Corpus: c, Splits: set, Stats: stats}, nil
}

// Prepare runs every stage up to batch assembly. No batch is drawn.
func (o *Orchestrator) Prepare(ctx context.Context) (*Prepared, error) {
	loaded, err := o.Load(ctx)
	if err != nil {
		return nil, err
	}

	tmpl, err := o.cfg.ParseTemplate()
	if err != nil {
		return nil, err
	}

	p := &Prepared{Loaded: *loaded, Template: tmpl}
	if p.Tokenizer, p.Pretrained, err = o.tokenizer(ctx); err != nil {
		return nil, err
	}

	p.Sources, err = batch.Build(p.Splits, prompt.Renderer{}, p.Tokenizer, tmpl, o.cfg.ToBatch(), o.obs)
	if err != nil {
		return nil, err
	}
	for _, name := range models.Splits {
		if src, ok := p.Sources[name]; ok {
			o.logger.Debug("Batch source ready", "split", name, "records", src.Len(), "batches", src.NumBatches())
		}
	}
	return p, nil
}

func (o *Orchestrator) tokenizer(ctx context.Context) (*tokenize.Tokenizer, *modelload.Pretrained, error) {
	family, err := modelload.ParseFamily(o.cfg.Model.Family)
	if err != nil {
		return nil, nil, err
	}

	if o.encoder != nil {
		tc, err := o.cfg.ToTokenize(family.Architecture())
		if err != nil {
			return nil, nil, err
		}
		tok, err := tokenize.New(o.encoder, tc, o.obs)
		return tok, nil, err
	}

	loader := &modelload.Loader{
		CacheDir:  o.cfg.Model.CacheDir,
		AuthToken: o.secrets.HuggingFaceToken,
		Encoding:  o.cfg.Model.Encoding,
	}
	pre, err := loader.Load(logger.WithLogger(ctx, o.logger.With("component", "modelload")), family, o.cfg.Model.Name)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load model: %w", err)
	}
	tc, err := o.cfg.ToTokenize(pre.Architecture)
	if err != nil {
		return nil, nil, err
	}
	tok, err := pre.Wrapper(tc, o.obs)
	if err != nil {
		return nil, nil, err
	}
	return tok, pre, nil
}

// Run prepares the pipeline, exports one epoch of every split into the
// session and writes the manifest. configPath is hashed into the manifest
// and may be empty.
func (o *Orchestrator) Run(ctx context.Context, sess *writer.SessionManager, configPath string, progress io.Writer) (*models.Manifest, error) {
	manifest, err := writer.NewManifest(configPath)
	if err != nil {
		return nil, err
	}
	o.logger.Info("Starting preparation pipeline",
		"run_id", manifest.RunID,
		"data_path", o.cfg.Corpus.DataPath,
		"model", o.cfg.Model.Name,
		"format", o.cfg.Export.Format)

	p, err := o.Prepare(ctx)
	if err != nil {
		return nil, err
	}
	manifest.Corpus = p.Stats
	manifest.ModelFamily = o.cfg.Model.Family
	manifest.ModelName = o.cfg.Model.Name

	format, err := writer.ParseFormat(o.cfg.Export.Format)
	if err != nil {
		return nil, err
	}
	manifest.Format = string(format)

	exporter := &writer.Exporter{
		Session:  sess,
		Format:   format,
		Progress: progress,
		Logger:   o.logger.With("component", "export"),
	}
	start := time.Now()
	stats, err := exporter.Export(ctx, p.Sources)
	if err != nil {
		return nil, err
	}
	manifest.Splits = stats
	manifest.Finished = time.Now().UTC()

	if err := writer.WriteManifest(sess.GetManifestPath(), manifest); err != nil {
		return nil, err
	}
	o.logger.Info("Export complete",
		"session_dir", sess.GetSessionDir(),
		"rows_kept", manifest.Corpus.RowsKept,
		"duration", time.Since(start))
	return manifest, nil
}

// corpusCounter fills CorpusStats from ingestion events
type corpusCounter struct {
	metrics.Nop
	stats *models.CorpusStats
}

func (c *corpusCounter) RowsRead(stage string, n int) {
	if stage == "corpus" {
		c.stats.RowsRead += n
	}
}

func (c *corpusCounter) RowsDropped(stage, _ string, n int) {
	switch stage {
	case "filter":
		c.stats.RowsFiltered += n
	case "clean":
		c.stats.RowsCleaned += n
	}
}
