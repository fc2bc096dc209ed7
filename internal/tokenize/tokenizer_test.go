package tokenize

import (
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/gomlx/go-huggingface/tokenizers/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lamim/skipdoc/internal/metrics"
	"github.com/lamim/skipdoc/internal/prompt"
	"github.com/lamim/skipdoc/internal/tokenize/tokenizetest"
	"github.com/lamim/skipdoc/pkg/models"
)

func ids(words string) []int {
	var out []int
	for _, w := range strings.Fields(words) {
		out = append(out, tokenizetest.WordID(w))
	}
	return out
}

func concat(slices ...[]int) []int {
	var out []int
	for _, s := range slices {
		out = append(out, s...)
	}
	return out
}

func render(t *testing.T, tmpl string, rec models.Record, opts ...prompt.Option) *prompt.RenderedExample {
	t.Helper()
	ex, err := prompt.MustParse(tmpl, opts...).Render(rec)
	require.NoError(t, err)
	return ex
}

func newTokenizer(t *testing.T, cfg Config) *Tokenizer {
	t.Helper()
	tok, err := New(tokenizetest.New(), cfg, nil)
	require.NoError(t, err)
	return tok
}

func TestTailKeepsFront(t *testing.T) {
	words := tokenizetest.Words("w", 14)
	ex := render(t, "{text_a:shortenable} {mask}", models.Record{ID: "e", Content: words})
	tok := newTokenizer(t, Config{MaxSeqLength: 10, DecoderMaxLength: 4, TruncateMethod: PolicyTail})

	got, err := tok.Tokenize(ex, false)
	require.NoError(t, err)

	assert.Len(t, got.InputIDs, 10)
	assert.Equal(t, concat(ids(words)[:9], []int{tokenizetest.MaskID}), got.InputIDs)
	assert.Equal(t, 9, got.MaskPos)
	assert.Equal(t, 5, got.Truncated)
	assert.Nil(t, got.Labels)
	assert.Equal(t, ones(10), got.AttentionMask)
}

func TestHeadKeepsBack(t *testing.T) {
	words := tokenizetest.Words("w", 14)
	ex := render(t, "{text_a:shortenable} {mask}", models.Record{ID: "e", Content: words})
	tok := newTokenizer(t, Config{MaxSeqLength: 10, DecoderMaxLength: 4, TruncateMethod: PolicyHead})

	got, err := tok.Tokenize(ex, false)
	require.NoError(t, err)
	assert.Equal(t, concat(ids(words)[5:], []int{tokenizetest.MaskID}), got.InputIDs)
}

func TestBalancedProportional(t *testing.T) {
	rec := models.Record{
		ID:     "b",
		Fields: map[string]string{"a": tokenizetest.Words("a", 8), "b": tokenizetest.Words("b", 4)},
	}
	ex := render(t, "{a:shortenable} | {b:shortenable} {mask}", rec)
	tok := newTokenizer(t, Config{MaxSeqLength: 8, DecoderMaxLength: 4, TruncateMethod: PolicyBalanced})

	got, err := tok.Tokenize(ex, false)
	require.NoError(t, err)
	want := concat(ids("a2 a3 a4 a5 | b1 b2"), []int{tokenizetest.MaskID})
	assert.Equal(t, want, got.InputIDs)
}

func TestNonShortenableOverflow(t *testing.T) {
	ex := render(t, "{text_a} {mask}", models.Record{ID: "long", Content: tokenizetest.Words("w", 12)})
	tok := newTokenizer(t, Config{MaxSeqLength: 10, DecoderMaxLength: 4})

	_, err := tok.Tokenize(ex, false)
	var te *TruncationError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, "long", te.RecordID)
	assert.Equal(t, 3, te.Excess)
	assert.Equal(t, 0, te.Available)
}

func TestCausalTeacherForcing(t *testing.T) {
	rec := models.Record{ID: "c", Content: tokenizetest.Words("w", 10), Label: "yes indeed", HasLabel: true}
	ex := render(t, "Q: {text_a:shortenable} A: {mask}", rec, prompt.WithTarget(models.FieldLabel))
	tok := newTokenizer(t, Config{MaxSeqLength: 10, DecoderMaxLength: 4, PredictEOSToken: true})

	got, err := tok.Tokenize(ex, true)
	require.NoError(t, err)

	target := concat(ids("yes indeed"), []int{tokenizetest.EosID})
	want := concat(ids("Q: w0 w1 w2 w3 w4 A:"), target)
	assert.Equal(t, want, got.InputIDs)
	assert.Equal(t, 7, got.MaskPos)
	require.Len(t, got.Labels, len(got.InputIDs))
	for i, l := range got.Labels {
		if i < got.MaskPos {
			assert.Equal(t, IgnoreIndex, l, "position %d", i)
		} else {
			assert.Equal(t, got.InputIDs[i], l, "position %d", i)
		}
	}
	assert.Nil(t, got.DecoderIDs)
}

func TestSeq2SeqTeacherForcing(t *testing.T) {
	rec := models.Record{ID: "s", Content: "what helps", Label: "a b c d", HasLabel: true}
	ex := render(t, "{text_a} {mask}", rec, prompt.WithTarget(models.FieldLabel))
	tok := newTokenizer(t, Config{MaxSeqLength: 8, DecoderMaxLength: 3, PredictEOSToken: true, Architecture: Seq2Seq})

	got, err := tok.Tokenize(ex, true)
	require.NoError(t, err)

	assert.Equal(t, concat(ids("what helps"), []int{tokenizetest.MaskID}), got.InputIDs)
	assert.Equal(t, 2, got.MaskPos)
	assert.Equal(t, concat(ids("a b"), []int{tokenizetest.EosID}), got.DecoderIDs)
	assert.Equal(t, got.DecoderIDs, got.Labels)
	assert.Equal(t, 2, got.Truncated)
}

func TestSeq2SeqWithoutTeacherForcing(t *testing.T) {
	rec := models.Record{ID: "s", Content: "what helps", Label: "rest", HasLabel: true}
	ex := render(t, "{text_a} {mask}", rec, prompt.WithTarget(models.FieldLabel))
	tok := newTokenizer(t, Config{MaxSeqLength: 8, DecoderMaxLength: 3, PredictEOSToken: true, Architecture: Seq2Seq})

	got, err := tok.Tokenize(ex, false)
	require.NoError(t, err)
	assert.Nil(t, got.Labels)
	assert.Nil(t, got.DecoderIDs)
}

func TestEndTokenIsReservedWithoutTeacherForcing(t *testing.T) {
	ex := render(t, "{text_a:shortenable} {mask}", models.Record{ID: "r", Content: tokenizetest.Words("w", 9)})
	tok := newTokenizer(t, Config{MaxSeqLength: 10, DecoderMaxLength: 4, PredictEOSToken: true})

	got, err := tok.Tokenize(ex, false)
	require.NoError(t, err)
	assert.Len(t, got.InputIDs, 9)
	assert.Equal(t, 1, got.Truncated)
	assert.Equal(t, tokenizetest.MaskID, got.InputIDs[got.MaskPos])
}

func TestMissingTarget(t *testing.T) {
	ex := render(t, "{text_a} {mask}", models.Record{ID: "r", Content: "x"}, prompt.WithTarget(models.FieldLabel))
	tok := newTokenizer(t, Config{MaxSeqLength: 10, DecoderMaxLength: 4})

	_, err := tok.Tokenize(ex, true)
	assert.ErrorIs(t, err, ErrMissingTarget)
}

func TestBlankTargetWithoutEndToken(t *testing.T) {
	rec := models.Record{ID: "blank", Content: "x y", Label: "   ", HasLabel: true}
	ex := render(t, "{text_a} {mask}", rec, prompt.WithTarget(models.FieldLabel))

	t.Run("causal", func(t *testing.T) {
		tok := newTokenizer(t, Config{MaxSeqLength: 10, DecoderMaxLength: 4})
		_, err := tok.Tokenize(ex, true)
		assert.ErrorIs(t, err, ErrMissingTarget)
	})

	t.Run("seq2seq", func(t *testing.T) {
		tok := newTokenizer(t, Config{MaxSeqLength: 10, DecoderMaxLength: 4, Architecture: Seq2Seq})
		_, err := tok.Tokenize(ex, true)
		assert.ErrorIs(t, err, ErrMissingTarget)
	})

	t.Run("end token keeps it", func(t *testing.T) {
		tok := newTokenizer(t, Config{MaxSeqLength: 10, DecoderMaxLength: 4, PredictEOSToken: true})
		got, err := tok.Tokenize(ex, true)
		require.NoError(t, err)
		assert.Equal(t, concat(ids("x y"), []int{tokenizetest.EosID}), got.InputIDs)
		assert.Equal(t, 2, got.MaskPos)
	})
}

// dropping encodes every word except drop, which yields no ids.
type dropping struct {
	*tokenizetest.Whitespace
	drop string
}

func (d dropping) Encode(text string) []int {
	var out []int
	for _, w := range strings.Fields(text) {
		if w != d.drop {
			out = append(out, d.Whitespace.Encode(w)...)
		}
	}
	return out
}

// failing reports an error for any text containing fail.
type failing struct {
	*tokenizetest.Whitespace
	fail string
}

func (f failing) Encode(text string) []int {
	ids, _ := f.EncodeErr(text)
	return ids
}

func (f failing) EncodeErr(text string) ([]int, error) {
	if strings.Contains(text, f.fail) {
		return nil, fmt.Errorf("cannot encode %q", f.fail)
	}
	return f.Whitespace.Encode(text), nil
}

func TestEmptyEncodingIsAnError(t *testing.T) {
	cfg := Config{MaxSeqLength: 10, DecoderMaxLength: 4}
	drop := dropping{Whitespace: tokenizetest.New(), drop: "zzz"}
	fail := failing{Whitespace: tokenizetest.New(), fail: "boom"}

	tests := []struct {
		name    string
		enc     api.Tokenizer
		content string
		label   string
		wantErr error
	}{
		{"dropped context", drop, "zzz", "yes", ErrEmptyEncoding},
		{"dropped target", drop, "x", "zzz", ErrEmptyEncoding},
		{"reported failure", fail, "boom", "yes", ErrEmptyEncoding},
		{"partly encoded", drop, "x zzz", "yes", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := models.Record{ID: "e", Content: tt.content, Label: tt.label, HasLabel: true}
			ex := render(t, "{text_a} {mask}", rec, prompt.WithTarget(models.FieldLabel))
			tok, err := New(tt.enc, cfg, nil)
			require.NoError(t, err)

			_, err = tok.Tokenize(ex, true)
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Contains(t, err.Error(), `"e"`)
		})
	}
}

func TestTokenizeIsDeterministic(t *testing.T) {
	rec := models.Record{ID: "d", Content: tokenizetest.Words("w", 30), Label: "flu", HasLabel: true}
	ex := render(t, "Context: {text_a:shortenable} Answer: {mask}", rec, prompt.WithTarget(models.FieldLabel))

	for _, policy := range []Policy{PolicyTail, PolicyHead, PolicyBalanced} {
		tok := newTokenizer(t, Config{MaxSeqLength: 12, DecoderMaxLength: 4, TruncateMethod: policy, PredictEOSToken: true})
		a, err := tok.Tokenize(ex, true)
		require.NoError(t, err)
		b, err := tok.Tokenize(ex, true)
		require.NoError(t, err)
		assert.Equal(t, a, b, policy.String())
	}
}

func TestLengthNeverExceedsBudget(t *testing.T) {
	rec := models.Record{
		ID:       "p",
		Label:    "some target words here",
		HasLabel: true,
		Fields: map[string]string{
			"q": tokenizetest.Words("q", 7),
			"c": tokenizetest.Words("c", 23),
		},
	}
	ex := render(t, "Q: {q:shortenable} C: {c:shortenable} note {mask}", rec, prompt.WithTarget(models.FieldLabel))

	for _, policy := range []Policy{PolicyTail, PolicyHead, PolicyBalanced} {
		for _, arch := range []Architecture{Causal, Seq2Seq} {
			for _, tf := range []bool{false, true} {
				for maxLen := 1; maxLen <= 40; maxLen++ {
					name := fmt.Sprintf("%s/%s/tf=%v/max=%d", policy, arch, tf, maxLen)
					cfg := Config{MaxSeqLength: maxLen, DecoderMaxLength: 3, TruncateMethod: policy, PredictEOSToken: true, Architecture: arch}
					tok := newTokenizer(t, cfg)
					got, err := tok.Tokenize(ex, tf)
					if err != nil {
						var te *TruncationError
						require.ErrorAs(t, err, &te, name)
						continue
					}
					assert.LessOrEqual(t, got.Len(), maxLen, name)
					assert.Len(t, got.AttentionMask, got.Len(), name)
					if arch == Seq2Seq || !tf {
						assert.Equal(t, tokenizetest.MaskID, got.InputIDs[got.MaskPos], name)
					}
					if tf {
						assert.LessOrEqual(t, len(got.DecoderIDs), 3, name)
					}
					// literal tokens are never removed
					joined := tok.Decode(got.InputIDs)
					assert.Contains(t, joined, "note", name)
				}
			}
		}
	}
}

func TestSpecialTokenFallback(t *testing.T) {
	tests := []struct {
		name     string
		without  []api.SpecialToken
		wantMask int
		wantPad  int
	}{
		{"mask defined", nil, tokenizetest.MaskID, tokenizetest.PadID},
		{"pad fallback", []api.SpecialToken{api.TokMask}, tokenizetest.PadID, tokenizetest.PadID},
		{"unknown fallback", []api.SpecialToken{api.TokMask, api.TokPad}, tokenizetest.UnkID, tokenizetest.EosID},
		{"eos fallback", []api.SpecialToken{api.TokMask, api.TokPad, api.TokUnknown}, tokenizetest.EosID, tokenizetest.EosID},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tok, err := New(tokenizetest.New(tt.without...), Config{MaxSeqLength: 8, DecoderMaxLength: 2}, nil)
			require.NoError(t, err)
			assert.Equal(t, tt.wantMask, tok.MaskID())
			assert.Equal(t, tt.wantPad, tok.PadID())
		})
	}

	t.Run("nothing usable", func(t *testing.T) {
		enc := tokenizetest.New(api.TokMask, api.TokPad, api.TokUnknown, api.TokEndOfSentence)
		_, err := New(enc, Config{MaxSeqLength: 8, DecoderMaxLength: 2}, nil)
		assert.Error(t, err)
	})

	t.Run("eos required", func(t *testing.T) {
		enc := tokenizetest.New(api.TokEndOfSentence)
		_, err := New(enc, Config{MaxSeqLength: 8, DecoderMaxLength: 2, PredictEOSToken: true}, nil)
		assert.Error(t, err)
	})
}

type truncationObserver struct {
	metrics.Nop
	mu      sync.Mutex
	removed map[string]int
}

func (o *truncationObserver) Truncated(id string, n int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.removed[id] += n
}

func TestTruncationIsObserved(t *testing.T) {
	obs := &truncationObserver{removed: map[string]int{}}
	tok, err := New(tokenizetest.New(), Config{MaxSeqLength: 5, DecoderMaxLength: 2}, obs)
	require.NoError(t, err)

	long := render(t, "{text_a:shortenable} {mask}", models.Record{ID: "long", Content: tokenizetest.Words("w", 8)})
	short := render(t, "{text_a:shortenable} {mask}", models.Record{ID: "short", Content: "w"})
	_, err = tok.Tokenize(long, false)
	require.NoError(t, err)
	_, err = tok.Tokenize(short, false)
	require.NoError(t, err)

	assert.Equal(t, map[string]int{"long": 4}, obs.removed)
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"valid", Config{MaxSeqLength: 512, DecoderMaxLength: 64}, false},
		{"zero max length", Config{DecoderMaxLength: 64}, true},
		{"zero decoder length", Config{MaxSeqLength: 512}, true},
		{"decoder too short for eos", Config{MaxSeqLength: 512, DecoderMaxLength: 1, PredictEOSToken: true}, true},
		{"bad policy", Config{MaxSeqLength: 512, DecoderMaxLength: 64, TruncateMethod: Policy(9)}, true},
		{"bad architecture", Config{MaxSeqLength: 512, DecoderMaxLength: 64, Architecture: Architecture(5)}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Config.Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestParsePolicy(t *testing.T) {
	for _, s := range []string{"head", "tail", "balanced", " Tail "} {
		p, err := ParsePolicy(s)
		require.NoError(t, err)
		assert.Equal(t, strings.ToLower(strings.TrimSpace(s)), p.String())
	}
	_, err := ParsePolicy("middle")
	assert.Error(t, err)

	var p Policy
	require.NoError(t, p.UnmarshalText([]byte("balanced")))
	assert.Equal(t, PolicyBalanced, p)
}

func TestParseArchitecture(t *testing.T) {
	a, err := ParseArchitecture("seq2seq")
	require.NoError(t, err)
	assert.Equal(t, Seq2Seq, a)

	_, err = ParseArchitecture("rnn")
	assert.Error(t, err)
}

func TestProportional(t *testing.T) {
	tests := []struct {
		lengths []int
		q       int
		want    []int
	}{
		{[]int{8, 0, 4}, 6, []int{4, 0, 2}},
		{[]int{5, 5}, 3, []int{2, 1}},
		{[]int{1, 1, 1}, 2, []int{1, 1, 0}},
		{[]int{10, 3}, 13, []int{10, 3}},
		{[]int{0, 0}, 0, []int{0, 0}},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, proportional(tt.lengths, tt.q), "%v/%d", tt.lengths, tt.q)
	}
}

func TestPlanBalancedSplitsEnds(t *testing.T) {
	cuts := PolicyBalanced.plan([]int{10}, 5)
	assert.Equal(t, []cut{{front: 2, back: 3}}, cuts)
}
