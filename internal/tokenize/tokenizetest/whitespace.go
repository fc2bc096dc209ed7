// Package tokenizetest provides a deterministic whitespace tokenizer for tests.
package tokenizetest

import (
	"fmt"
	"strings"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/gomlx/go-huggingface/tokenizers/api"
)

// Special token ids
const (
	PadID  = 0
	UnkID  = 1
	BosID  = 2
	EosID  = 3
	MaskID = 4
)

var specialNames = map[int]string{
	PadID:  "<pad>",
	UnkID:  "<unk>",
	BosID:  "<s>",
	EosID:  "</s>",
	MaskID: "<mask>",
}

// Whitespace splits on whitespace and maps every word to a stable id >= 10
type Whitespace struct {
	specials map[api.SpecialToken]int
	words    sync.Map // id -> word
}

var _ api.Tokenizer = (*Whitespace)(nil)

// New returns a tokenizer with every special token defined except those in without
func New(without ...api.SpecialToken) *Whitespace {
	w := &Whitespace{specials: map[api.SpecialToken]int{
		api.TokPad:                 PadID,
		api.TokUnknown:             UnkID,
		api.TokBeginningOfSentence: BosID,
		api.TokEndOfSentence:       EosID,
		api.TokMask:                MaskID,
	}}
	for _, tok := range without {
		delete(w.specials, tok)
	}
	return w
}

// WordID returns the id Encode assigns to word
func WordID(word string) int {
	return 10 + int(xxhash.Sum64String(word)%50000)
}

// Encode implements api.Tokenizer
func (w *Whitespace) Encode(text string) []int {
	fields := strings.Fields(text)
	ids := make([]int, len(fields))
	for i, f := range fields {
		ids[i] = WordID(f)
		w.words.LoadOrStore(ids[i], f)
	}
	return ids
}

// Decode implements api.Tokenizer
func (w *Whitespace) Decode(ids []int) string {
	words := make([]string, 0, len(ids))
	for _, id := range ids {
		if name, ok := specialNames[id]; ok {
			words = append(words, name)
			continue
		}
		if v, ok := w.words.Load(id); ok {
			words = append(words, v.(string))
			continue
		}
		words = append(words, specialNames[UnkID])
	}
	return strings.Join(words, " ")
}

// SpecialTokenID implements api.Tokenizer
func (w *Whitespace) SpecialTokenID(token api.SpecialToken) (int, error) {
	if id, ok := w.specials[token]; ok {
		return id, nil
	}
	return 0, fmt.Errorf("special token %d not defined", int(token))
}

// Words returns n distinct words w0..w(n-1) joined by spaces
func Words(prefix string, n int) string {
	ws := make([]string, n)
	for i := range ws {
		ws[i] = fmt.Sprintf("%s%d", prefix, i)
	}
	return strings.Join(ws, " ")
}
