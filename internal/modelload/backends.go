package modelload

import (
	"sync"

	esentencepiece "github.com/eliben/go-sentencepiece"
	"github.com/gomlx/go-huggingface/tokenizers/api"
	"github.com/gomlx/go-huggingface/tokenizers/sentencepiece"
	"github.com/pkg/errors"
	tiktoken "github.com/pkoukk/tiktoken-go"
	tk "github.com/sugarme/tokenizer"
	"github.com/sugarme/tokenizer/decoder"
	"github.com/sugarme/tokenizer/model/wordpiece"
	"github.com/sugarme/tokenizer/normalizer"
	"github.com/sugarme/tokenizer/pretokenizer"
	"github.com/sugarme/tokenizer/pretrained"

	"github.com/lamim/skipdoc/internal/tokenize"
)

// hfTokenizer adapts a tokenizer.json tokenizer to api.Tokenizer
type hfTokenizer struct {
	mu       sync.Mutex // sugarme encodings are not safe for concurrent use
	tok      *tk.Tokenizer
	specials map[api.SpecialToken]int
}

var (
	_ api.Tokenizer            = (*hfTokenizer)(nil)
	_ tokenize.FallibleEncoder = (*hfTokenizer)(nil)
)

// Candidate surface forms per special token, most common first
var hfSpecialForms = map[api.SpecialToken][]string{
	api.TokBeginningOfSentence: {"<s>", "[CLS]", "<|begin_of_text|>", "<bos>"},
	api.TokEndOfSentence:       {"</s>", "[SEP]", "<|endoftext|>", "<|end_of_text|>", "<eos>"},
	api.TokUnknown:             {"<unk>", "[UNK]"},
	api.TokPad:                 {"<pad>", "[PAD]"},
	api.TokMask:                {"<mask>", "[MASK]", "<extra_id_0>"},
	api.TokClassification:      {"[CLS]", "<s>"},
}

func newHFTokenizer(path string) (*hfTokenizer, error) {
	tok, err := pretrained.FromFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "can't load %s", path)
	}
	return wrapHF(tok), nil
}

// newWordPiece builds a BERT style tokenizer from a bare vocab.txt, as
// shipped by checkpoints that predate tokenizer.json.
func newWordPiece(path string, lowercase bool) (*hfTokenizer, error) {
	model, err := wordpiece.NewWordPieceFromFile(path, "[UNK]")
	if err != nil {
		return nil, errors.Wrapf(err, "can't load %s", path)
	}
	tok := tk.NewTokenizer(model)
	tok.WithNormalizer(normalizer.NewBertNormalizer(true, lowercase, true, lowercase))
	tok.WithPreTokenizer(pretokenizer.NewBertPreTokenizer())
	tok.WithDecoder(decoder.DefaultWordpieceDecoder())
	var added []tk.AddedToken
	for _, form := range []string{"[PAD]", "[UNK]", "[CLS]", "[SEP]", "[MASK]"} {
		if _, ok := model.TokenToId(form); ok {
			added = append(added, tk.NewAddedToken(form, true))
		}
	}
	tok.AddSpecialTokens(added)
	return wrapHF(tok), nil
}

func wrapHF(tok *tk.Tokenizer) *hfTokenizer {
	h := &hfTokenizer{tok: tok, specials: map[api.SpecialToken]int{}}
	for special, forms := range hfSpecialForms {
		for _, form := range forms {
			if id, ok := tok.TokenToId(form); ok {
				h.specials[special] = int(id)
				break
			}
		}
	}
	return h
}

// Encode returns nil when the text cannot be encoded; EncodeErr reports why.
func (h *hfTokenizer) Encode(text string) []int {
	ids, _ := h.EncodeErr(text)
	return ids
}

func (h *hfTokenizer) EncodeErr(text string) ([]int, error) {
	if text == "" {
		return nil, nil
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	enc, err := h.tok.EncodeSingle(text, false)
	if err != nil {
		return nil, errors.Wrap(err, "sugarme encode")
	}
	return append([]int(nil), enc.Ids...), nil
}

func (h *hfTokenizer) Decode(ids []int) string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.tok.Decode(ids, false)
}

func (h *hfTokenizer) SpecialTokenID(token api.SpecialToken) (int, error) {
	if id, ok := h.specials[token]; ok {
		return id, nil
	}
	return 0, errors.Errorf("special token %d not in vocabulary", int(token))
}

// spTokenizer wraps the go-huggingface SentencePiece tokenizer. T5 style
// models have no mask token; the first sentinel <extra_id_0> stands in
// when present. Ids the model leaves undefined (negative) are errors.
type spTokenizer struct {
	*sentencepiece.Tokenizer
	maskID int
}

var _ api.Tokenizer = (*spTokenizer)(nil)

func newSentencePiece(path string) (*spTokenizer, error) {
	proc, err := esentencepiece.NewProcessorFromPath(path)
	if err != nil {
		return nil, errors.Wrapf(err, "can't create sentencepiece tokenizer")
	}
	sp := &spTokenizer{
		Tokenizer: &sentencepiece.Tokenizer{Processor: proc, Info: proc.ModelInfo()},
		maskID:    -1,
	}
	for _, t := range proc.Encode("<extra_id_0>") {
		if t.Text == "<extra_id_0>" {
			sp.maskID = t.ID
			break
		}
	}
	return sp, nil
}

func (s *spTokenizer) SpecialTokenID(token api.SpecialToken) (int, error) {
	id := -1
	if token == api.TokMask {
		id = s.maskID
	} else if got, err := s.Tokenizer.SpecialTokenID(token); err == nil {
		id = got
	}
	if id < 0 {
		return 0, errors.Errorf("special token %d not defined by sentencepiece model", int(token))
	}
	return id, nil
}

// tikTokenizer adapts a tiktoken BPE encoding. GPT-2 style vocabularies
// only define <|endoftext|>, which doubles as padding.
type tikTokenizer struct {
	enc   *tiktoken.Tiktoken
	eosID int
}

var _ api.Tokenizer = (*tikTokenizer)(nil)

const endOfText = "<|endoftext|>"

func newTiktoken(encoding string) (*tikTokenizer, error) {
	if encoding == "" {
		encoding = "r50k_base"
	}
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, errors.Wrapf(err, "can't load tiktoken encoding %s", encoding)
	}
	ids := enc.Encode(endOfText, []string{endOfText}, nil)
	if len(ids) != 1 {
		return nil, errors.Errorf("encoding %s has no %s token", encoding, endOfText)
	}
	return &tikTokenizer{enc: enc, eosID: ids[0]}, nil
}

func (t *tikTokenizer) Encode(text string) []int {
	return t.enc.EncodeOrdinary(text)
}

func (t *tikTokenizer) Decode(ids []int) string {
	return t.enc.Decode(ids)
}

func (t *tikTokenizer) SpecialTokenID(token api.SpecialToken) (int, error) {
	switch token {
	case api.TokEndOfSentence, api.TokPad, api.TokBeginningOfSentence:
		return t.eosID, nil
	}
	return 0, errors.Errorf("special token %d not defined by tiktoken", int(token))
}
