// Package tiktoken adapts tiktoken-go encodings to tokenizer.Tokenizer.
package tiktoken

import (
	"fmt"

	"github.com/pkoukk/tiktoken-go"

	"github.com/sweetpotato0/textgen/tokenizer"
)

var _ tokenizer.Tokenizer = (*Tokenizer)(nil)

type Tokenizer struct {
	enc *tiktoken.Tiktoken
}

// New loads the encoding used by the named model, or the encoding with that
// name (cl100k_base, o200k_base...). The first call may download the BPE ranks.
func New(name string) (*Tokenizer, error) {
	enc, err := tiktoken.EncodingForModel(name)
	if err != nil {
		// try by name
		enc, err = tiktoken.GetEncoding(name)
		if err != nil {
			return nil, fmt.Errorf("tiktoken: unknown model or encoding %q: %w", name, err)
		}
	}
	return &Tokenizer{enc: enc}, nil
}

func (t *Tokenizer) Encode(text string) []int {
	return t.enc.Encode(text, nil, nil)
}

func (t *Tokenizer) CountTokens(text string) int {
	return len(t.Encode(text))
}

func (t *Tokenizer) DecodeIds(ids []int) string {
	return t.enc.Decode(ids)
}
