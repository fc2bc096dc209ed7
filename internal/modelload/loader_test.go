package modelload

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	esentencepiece "github.com/eliben/go-sentencepiece"
	"github.com/gomlx/go-huggingface/tokenizers/api"
	"github.com/gomlx/go-huggingface/tokenizers/sentencepiece"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lamim/skipdoc/internal/prompt"
	"github.com/lamim/skipdoc/internal/tokenize"
	"github.com/lamim/skipdoc/internal/tokenize/tokenizetest"
	"github.com/lamim/skipdoc/pkg/models"
)

func TestParseFamily(t *testing.T) {
	for _, in := range []string{"bert", "RoBERTa", " t5 ", "gpt2", "llama", "local"} {
		_, err := ParseFamily(in)
		assert.NoError(t, err, in)
	}
	_, err := ParseFamily("xlnet")
	assert.ErrorContains(t, err, "unknown model family")
}

func TestArchitectureOf(t *testing.T) {
	tests := []struct {
		name   string
		family Family
		cfg    map[string]any
		want   tokenize.Architecture
	}{
		{"t5 default", FamilyT5, nil, tokenize.Seq2Seq},
		{"gpt2 default", FamilyGPT2, map[string]any{}, tokenize.Causal},
		{"config overrides family", FamilyLocal, map[string]any{"is_encoder_decoder": true}, tokenize.Seq2Seq},
		{"config says causal", FamilyT5, map[string]any{"is_encoder_decoder": false}, tokenize.Causal},
		{"non-bool ignored", FamilyBERT, map[string]any{"is_encoder_decoder": "yes"}, tokenize.Causal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, architectureOf(tt.family, tt.cfg))
		})
	}
}

func TestLoadErrors(t *testing.T) {
	ctx := context.Background()
	l := &Loader{}

	_, err := l.Load(ctx, Family("xlnet"), "x")
	assert.ErrorContains(t, err, "unknown model family")

	_, err = l.Load(ctx, FamilyBERT, "")
	assert.ErrorContains(t, err, "model name is required")

	_, err = l.Load(ctx, FamilyLocal, filepath.Join(t.TempDir(), "missing"))
	assert.ErrorContains(t, err, "not found")

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.json"), []byte(`{"model_type":"bert"}`), 0o644))
	_, err = l.Load(ctx, FamilyBERT, dir)
	assert.ErrorContains(t, err, "none of tokenizer.json, tokenizer.model or vocab.txt")
}

func writeVocab(t *testing.T, dir string, extra map[string]string) {
	t.Helper()
	vocab := []string{"[PAD]", "[UNK]", "[CLS]", "[SEP]", "[MASK]", "fever", "cough", "##s", "Fever"}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "vocab.txt"), []byte(strings.Join(vocab, "\n")+"\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.json"), []byte(`{"model_type":"bert"}`), 0o644))
	for name, content := range extra {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
	}
}

func TestLoadWordPieceVocab(t *testing.T) {
	dir := t.TempDir()
	writeVocab(t, dir, nil)

	p, err := (&Loader{}).Load(context.Background(), FamilyBERT, dir)
	require.NoError(t, err)

	assert.Equal(t, []int{5, 7, 6}, p.Tokenizer.Encode("Fevers cough"))

	specials := map[api.SpecialToken]int{
		api.TokPad:                 0,
		api.TokUnknown:             1,
		api.TokBeginningOfSentence: 2,
		api.TokEndOfSentence:       3,
		api.TokMask:                4,
	}
	for special, want := range specials {
		got, err := p.Tokenizer.SpecialTokenID(special)
		require.NoError(t, err, "special %d", int(special))
		assert.Equal(t, want, got, "special %d", int(special))
	}

	tok, err := p.Wrapper(tokenize.Config{MaxSeqLength: 8, DecoderMaxLength: 2}, nil)
	require.NoError(t, err)
	assert.Equal(t, 4, tok.MaskID())
}

func TestLoadWordPieceCased(t *testing.T) {
	dir := t.TempDir()
	writeVocab(t, dir, map[string]string{"tokenizer_config.json": `{"do_lower_case": false}`})

	p, err := (&Loader{}).Load(context.Background(), FamilyBERT, dir)
	require.NoError(t, err)
	assert.Equal(t, []int{8, 6}, p.Tokenizer.Encode("Fever cough"))
}

func TestSentencePieceSpecials(t *testing.T) {
	sp := &spTokenizer{
		Tokenizer: &sentencepiece.Tokenizer{Info: &esentencepiece.ModelInfo{
			UnknownID:             2,
			PadID:                 0,
			BeginningOfSentenceID: -1,
			EndOfSentenceID:       1,
		}},
		maskID: 32099,
	}

	tests := []struct {
		token   api.SpecialToken
		want    int
		wantErr bool
	}{
		{api.TokPad, 0, false},
		{api.TokEndOfSentence, 1, false},
		{api.TokUnknown, 2, false},
		{api.TokMask, 32099, false},
		{api.TokBeginningOfSentence, 0, true},
		{api.TokClassification, 0, true},
	}
	for _, tt := range tests {
		got, err := sp.SpecialTokenID(tt.token)
		if tt.wantErr {
			assert.Error(t, err, "special %d", int(tt.token))
			continue
		}
		require.NoError(t, err, "special %d", int(tt.token))
		assert.Equal(t, tt.want, got)
	}

	sp.maskID = -1
	_, err := sp.SpecialTokenID(api.TokMask)
	assert.Error(t, err)
}

func TestLocalDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.json"), []byte(`{}`), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "tokenizer.json"), 0o755))

	src := localDir(dir)
	assert.True(t, src.HasFile("config.json"))
	assert.False(t, src.HasFile("tokenizer.json"), "directories are not files")
	assert.False(t, src.HasFile("tokenizer.model"))

	path, err := src.Fetch(context.Background(), "config.json")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "config.json"), path)

	_, err = src.Fetch(context.Background(), "tokenizer.model")
	assert.Error(t, err)
}

func TestReadJSONMap(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "config.json")
	require.NoError(t, os.WriteFile(good, []byte(`{"d_model": 512, "is_encoder_decoder": true}`), 0o644))

	m, err := readJSONMap(good)
	require.NoError(t, err)
	assert.Equal(t, float64(512), m["d_model"])
	assert.Equal(t, true, m["is_encoder_decoder"])

	bad := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte(`{`), 0o644))
	_, err = readJSONMap(bad)
	assert.ErrorContains(t, err, "parsing")
}

func TestPretrainedWrapper(t *testing.T) {
	p := newPretrained(FamilyT5, "tiny", "/models/tiny", tokenizetest.New(), map[string]any{})
	assert.Equal(t, tokenize.Seq2Seq, p.Architecture)

	tok, err := p.Wrapper(tokenize.Config{
		MaxSeqLength:     16,
		DecoderMaxLength: 4,
		PredictEOSToken:  true,
		Architecture:     p.Architecture,
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, tokenizetest.MaskID, tok.MaskID())

	ex, err := prompt.MustParse("{text_a} {mask}", prompt.WithTarget(models.FieldLabel)).Render(models.Record{ID: "r", Content: "a b", Label: "yes", HasLabel: true})
	require.NoError(t, err)
	got, err := tok.Tokenize(ex, true)
	require.NoError(t, err)
	assert.Equal(t, []int{tokenizetest.WordID("yes"), tokenizetest.EosID}, got.DecoderIDs)
}
