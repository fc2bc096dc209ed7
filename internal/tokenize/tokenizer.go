package tokenize

import (
	"errors"
	"fmt"
	"strings"

	"github.com/gomlx/go-huggingface/tokenizers/api"

	"github.com/lamim/skipdoc/internal/metrics"
	"github.com/lamim/skipdoc/internal/prompt"
)

// IgnoreIndex marks label positions that carry no loss
const IgnoreIndex = -100

// ErrMissingTarget is returned when teacher forcing is requested for an
// example whose record has no target text.
var ErrMissingTarget = errors.New("teacher forcing requires a target")

// ErrEmptyEncoding is returned when non-blank text encodes to no tokens.
var ErrEmptyEncoding = errors.New("text encoded to no tokens")

// FallibleEncoder is implemented by backends that can report why an
// encoding failed instead of returning no ids.
type FallibleEncoder interface {
	EncodeErr(text string) ([]int, error)
}

// TruncationError reports an example that cannot fit its budget even after
// every shortenable token is removed.
type TruncationError struct {
	RecordID  string
	Stage     string // "context" or "decoder"
	Budget    int
	Excess    int // tokens over budget before truncation
	Available int // shortenable tokens that could be removed
}

func (e *TruncationError) Error() string {
	return fmt.Sprintf("record %q: %s exceeds budget %d by %d tokens with only %d shortenable",
		e.RecordID, e.Stage, e.Budget, e.Excess, e.Available)
}

// Example is one tokenized record. Labels is nil unless teacher forcing was applied.
type Example struct {
	RecordID      string
	InputIDs      []int
	AttentionMask []int
	MaskPos       int   // position of the mask slot (or first target token) in InputIDs
	Labels        []int // causal: aligned with InputIDs; seq2seq: aligned with DecoderIDs
	DecoderIDs    []int // seq2seq teacher forcing only
	Truncated     int   // tokens removed from context and target
}

// Len returns the input length
func (e *Example) Len() int {
	return len(e.InputIDs)
}

// Tokenizer turns rendered examples into bounded token id sequences.
// It is safe for concurrent use if the underlying api.Tokenizer is.
type Tokenizer struct {
	enc    api.Tokenizer
	cfg    Config
	obs    metrics.Observer
	maskID int
	eosID  int
	padID  int
}

// New validates cfg and resolves the special tokens it needs from enc.
// The mask slot uses the first of mask, pad, unknown or end-of-sentence
// the tokenizer defines.
func New(enc api.Tokenizer, cfg Config, obs metrics.Observer) (*Tokenizer, error) {
	if enc == nil {
		return nil, fmt.Errorf("tokenizer is nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid tokenizer config: %w", err)
	}

	t := &Tokenizer{enc: enc, cfg: cfg, obs: metrics.OrNop(obs), eosID: -1}

	var ok bool
	t.maskID, ok = firstSpecial(enc, api.TokMask, api.TokPad, api.TokUnknown, api.TokEndOfSentence)
	if !ok {
		return nil, fmt.Errorf("tokenizer defines none of mask, pad, unknown or end-of-sentence tokens")
	}
	if id, err := enc.SpecialTokenID(api.TokEndOfSentence); err == nil {
		t.eosID = id
	} else if cfg.PredictEOSToken {
		return nil, fmt.Errorf("predict_eos_token is set but tokenizer has no end-of-sentence token: %w", err)
	}
	if t.padID, ok = firstSpecial(enc, api.TokPad, api.TokEndOfSentence); !ok {
		t.padID = 0
	}
	return t, nil
}

func firstSpecial(enc api.Tokenizer, toks ...api.SpecialToken) (int, bool) {
	for _, tok := range toks {
		if id, err := enc.SpecialTokenID(tok); err == nil {
			return id, true
		}
	}
	return 0, false
}

// PadID is the id used to right-pad batches
func (t *Tokenizer) PadID() int {
	return t.padID
}

// MaskID is the id placed at the mask slot
func (t *Tokenizer) MaskID() int {
	return t.maskID
}

// Config returns the configuration the tokenizer was built with
func (t *Tokenizer) Config() Config {
	return t.cfg
}

// Decode converts ids back to text
func (t *Tokenizer) Decode(ids []int) string {
	return t.enc.Decode(ids)
}

func (t *Tokenizer) encode(recordID, text string) ([]int, error) {
	var ids []int
	if fe, ok := t.enc.(FallibleEncoder); ok {
		var err error
		if ids, err = fe.EncodeErr(text); err != nil {
			return nil, fmt.Errorf("record %q: %w: %w", recordID, ErrEmptyEncoding, err)
		}
	} else {
		ids = t.enc.Encode(text)
	}
	if len(ids) == 0 && strings.TrimSpace(text) != "" {
		return nil, fmt.Errorf("record %q: %w", recordID, ErrEmptyEncoding)
	}
	return ids, nil
}

// Tokenize encodes ex under the configured budget. With teacherForcing the
// target is tokenized and attached as labels; without it no labels are made.
func (t *Tokenizer) Tokenize(ex *prompt.RenderedExample, teacherForcing bool) (*Example, error) {
	if teacherForcing && !ex.HasTarget {
		return nil, fmt.Errorf("record %q: %w", ex.RecordID, ErrMissingTarget)
	}

	eos := 0
	if t.cfg.PredictEOSToken {
		eos = 1
	}

	var target []int
	removedTarget := 0
	if teacherForcing {
		var err error
		if target, err = t.encode(ex.RecordID, ex.Target); err != nil {
			return nil, err
		}
		if limit := t.cfg.DecoderMaxLength - eos; len(target) > limit {
			removedTarget = len(target) - limit
			target = target[:limit]
		}
		if len(target)+eos == 0 {
			return nil, fmt.Errorf("record %q: target is blank: %w", ex.RecordID, ErrMissingTarget)
		}
	}

	// Fixed cost of the mask slot within the context budget.
	var reserved int
	switch {
	case t.cfg.Architecture == Seq2Seq:
		reserved = 1
	case teacherForcing:
		reserved = len(target) + eos
	default:
		// mask token plus room for the end token the model will emit
		reserved = 1 + eos
	}

	parts := make([][]int, len(ex.Parts))
	avail := make([]int, len(ex.Parts))
	used := reserved
	for i, p := range ex.Parts {
		if p.Mask {
			continue
		}
		ids, err := t.encode(ex.RecordID, p.Text)
		if err != nil {
			return nil, err
		}
		parts[i] = ids
		used += len(parts[i])
		if p.Shortenable {
			avail[i] = len(parts[i])
		}
	}

	budget := t.cfg.MaxSeqLength
	excess := used - budget
	if excess > 0 {
		total := 0
		for _, n := range avail {
			total += n
		}
		if total < excess {
			return nil, &TruncationError{
				RecordID:  ex.RecordID,
				Stage:     "context",
				Budget:    budget,
				Excess:    excess,
				Available: total,
			}
		}
		for i, c := range t.cfg.TruncateMethod.plan(avail, excess) {
			if c.total() > 0 {
				parts[i] = parts[i][c.front : len(parts[i])-c.back]
			}
		}
	} else {
		excess = 0
	}

	out := &Example{RecordID: ex.RecordID, Truncated: excess + removedTarget}
	for i, p := range ex.Parts {
		if !p.Mask {
			out.InputIDs = append(out.InputIDs, parts[i]...)
			continue
		}
		out.MaskPos = len(out.InputIDs)
		if t.cfg.Architecture == Causal && teacherForcing {
			out.InputIDs = append(out.InputIDs, target...)
			if eos == 1 {
				out.InputIDs = append(out.InputIDs, t.eosID)
			}
		} else {
			out.InputIDs = append(out.InputIDs, t.maskID)
		}
	}
	out.AttentionMask = ones(len(out.InputIDs))

	if teacherForcing {
		switch t.cfg.Architecture {
		case Causal:
			out.Labels = make([]int, len(out.InputIDs))
			for i := range out.Labels {
				out.Labels[i] = IgnoreIndex
			}
			n := len(target) + eos
			copy(out.Labels[out.MaskPos:out.MaskPos+n], out.InputIDs[out.MaskPos:out.MaskPos+n])
		case Seq2Seq:
			out.DecoderIDs = make([]int, 0, len(target)+eos)
			out.DecoderIDs = append(out.DecoderIDs, target...)
			if eos == 1 {
				out.DecoderIDs = append(out.DecoderIDs, t.eosID)
			}
			out.Labels = append([]int(nil), out.DecoderIDs...)
		}
	}

	if out.Truncated > 0 {
		t.obs.Truncated(ex.RecordID, out.Truncated)
	}
	return out, nil
}

func ones(n int) []int {
	s := make([]int, n)
	for i := range s {
		s[i] = 1
	}
	return s
}
