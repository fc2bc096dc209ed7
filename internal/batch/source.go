package batch

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"math/rand/v2"
	"runtime"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/lamim/skipdoc/internal/metrics"
	"github.com/lamim/skipdoc/internal/prompt"
	"github.com/lamim/skipdoc/internal/split"
	"github.com/lamim/skipdoc/internal/tokenize"
	"github.com/lamim/skipdoc/pkg/models"
)

// Policy is the per-split batching behavior
type Policy struct {
	Shuffle        bool // new ordering on every restart
	TeacherForcing bool // attach target labels
	Required       bool // split must be present and non-empty
}

// DefaultPolicies shuffles and teacher-forces train only
var DefaultPolicies = map[models.SplitName]Policy{
	models.SplitTrain:      {Shuffle: true, TeacherForcing: true, Required: true},
	models.SplitValidation: {Shuffle: false, TeacherForcing: false, Required: false},
	models.SplitTest:       {Shuffle: false, TeacherForcing: false, Required: false},
}

// Config controls batch assembly
type Config struct {
	BatchSize    int
	Workers      int    // parallel tokenization per batch, defaults to GOMAXPROCS
	Seed         uint64 // base seed for shuffled splits
	SkipOverlong bool   // skip records that fail truncation instead of stopping
	Policies     map[models.SplitName]Policy
}

// BatchConfigError reports an invalid batch configuration
type BatchConfigError struct {
	Split  models.SplitName
	Reason string
}

func (e *BatchConfigError) Error() string {
	if e.Split != "" {
		return fmt.Sprintf("batch config error for split %q: %s", e.Split, e.Reason)
	}
	return "batch config error: " + e.Reason
}

// Validate checks sizes and the policy table
func (c *Config) Validate() error {
	if c.BatchSize <= 0 {
		return &BatchConfigError{Reason: fmt.Sprintf("batch_size must be > 0 (got %d)", c.BatchSize)}
	}
	if c.Workers < 0 {
		return &BatchConfigError{Reason: fmt.Sprintf("workers must be >= 0 (got %d)", c.Workers)}
	}
	for name := range c.Policies {
		if !name.Valid() {
			return &BatchConfigError{Split: name, Reason: "unknown split name"}
		}
	}
	return nil
}

// Renderer renders one record through a template
type Renderer interface {
	Render(rec models.Record, t *prompt.Template) (*prompt.RenderedExample, error)
}

// Tokenizer converts a rendered example into token ids
type Tokenizer interface {
	Tokenize(ex *prompt.RenderedExample, teacherForcing bool) (*tokenize.Example, error)
	PadID() int
}

// Build wraps every split of set in a Source governed by the policy table.
// The same renderer, tokenizer and template serve every split.
func Build(
	set split.SplitSet,
	renderer Renderer,
	tok Tokenizer,
	tmpl *prompt.Template,
	cfg Config,
	obs metrics.Observer,
) (map[models.SplitName]*Source, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if renderer == nil || tok == nil || tmpl == nil {
		return nil, &BatchConfigError{Reason: "renderer, tokenizer and template are required"}
	}
	policies := cfg.Policies
	if policies == nil {
		policies = DefaultPolicies
	}
	if cfg.Workers == 0 {
		cfg.Workers = runtime.GOMAXPROCS(0)
	}
	obs = metrics.OrNop(obs)

	sources := make(map[models.SplitName]*Source, len(models.Splits))
	for _, name := range models.Splits {
		policy, ok := policies[name]
		if !ok {
			continue
		}
		records, present := set[name]
		if policy.Required && !present {
			return nil, &BatchConfigError{Split: name, Reason: "split is required but absent"}
		}
		if policy.Required && len(records) == 0 {
			return nil, &split.EmptySplitError{Split: name}
		}
		sources[name] = &Source{
			split:    name,
			records:  records,
			policy:   policy,
			cfg:      cfg,
			renderer: renderer,
			tok:      tok,
			tmpl:     tmpl,
			obs:      obs,
		}
	}
	return sources, nil
}

// Source is a lazy, restartable producer of batches for one split.
// Restarting a shuffled source yields a new ordering; other sources repeat
// the corpus order.
type Source struct {
	split    models.SplitName
	records  []models.Record
	policy   Policy
	cfg      Config
	renderer Renderer
	tok      Tokenizer
	tmpl     *prompt.Template
	obs      metrics.Observer
	epoch    atomic.Int64
}

// Split returns the split name
func (s *Source) Split() models.SplitName {
	return s.split
}

// Policy returns the policy applied to this split
func (s *Source) Policy() Policy {
	return s.policy
}

// Len returns the number of records in the split
func (s *Source) Len() int {
	return len(s.records)
}

// NumBatches returns the batch count of an epoch in which no record is skipped
func (s *Source) NumBatches() int {
	return (len(s.records) + s.cfg.BatchSize - 1) / s.cfg.BatchSize
}

// Batches starts the next epoch. Stopping early leaves the source ready for
// the following restart.
func (s *Source) Batches(ctx context.Context) iter.Seq2[*Batch, error] {
	epoch := int(s.epoch.Add(1) - 1)
	return s.BatchesForEpoch(ctx, epoch)
}

// BatchesForEpoch yields the batches of a specific epoch. Batches are full
// except possibly the last. A record that cannot be tokenized ends the
// sequence with its error unless it failed truncation and SkipOverlong is set.
func (s *Source) BatchesForEpoch(ctx context.Context, epoch int) iter.Seq2[*Batch, error] {
	return func(yield func(*Batch, error) bool) {
		order := s.order(epoch)
		pending := make([]*tokenize.Example, 0, s.cfg.BatchSize)
		index := 0
		next := 0

		for next < len(order) {
			if err := ctx.Err(); err != nil {
				yield(nil, err)
				return
			}
			take := min(s.cfg.BatchSize-len(pending), len(order)-next)
			examples, err := s.tokenizeRange(ctx, order[next:next+take])
			next += take
			if err != nil {
				yield(nil, err)
				return
			}
			pending = append(pending, examples...)

			if len(pending) == s.cfg.BatchSize || (next == len(order) && len(pending) > 0) {
				b := assemble(s.split, epoch, index, pending, s.tok.PadID())
				s.obs.BatchEmitted(string(s.split), b.Size())
				if !yield(b, nil) {
					return
				}
				index++
				pending = make([]*tokenize.Example, 0, s.cfg.BatchSize)
			}
		}
	}
}

// tokenizeRange renders and tokenizes records in parallel and returns the
// surviving examples in the order of idx.
func (s *Source) tokenizeRange(ctx context.Context, idx []int) ([]*tokenize.Example, error) {
	results := make([]*tokenize.Example, len(idx))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Workers)

	for i, recIdx := range idx {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			rec := s.records[recIdx]
			ex, err := s.renderer.Render(rec, s.tmpl)
			if err != nil {
				return fmt.Errorf("split %s: %w", s.split, err)
			}
			tok, err := s.tok.Tokenize(ex, s.policy.TeacherForcing)
			if err != nil {
				var te *tokenize.TruncationError
				if s.cfg.SkipOverlong && errors.As(err, &te) {
					s.obs.RecordSkipped(string(s.split), rec.ID, err)
					return nil
				}
				return fmt.Errorf("split %s: %w", s.split, err)
			}
			results[i] = tok
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := results[:0]
	for _, ex := range results {
		if ex != nil {
			out = append(out, ex)
		}
	}
	return out, nil
}

// order returns record indices for an epoch
func (s *Source) order(epoch int) []int {
	n := len(s.records)
	if s.policy.Shuffle {
		rng := rand.New(rand.NewPCG(s.cfg.Seed, uint64(epoch)))
		return rng.Perm(n)
	}
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	return idx
}
