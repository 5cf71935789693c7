// Package tokens counts discovery_tokens (§3.1) for ingested tool output using the same
// cl100k_base encoding the Anthropic-compatible model family is counted against.
package tokens

import (
	"sync"

	"github.com/tiktoken-go/tokenizer"
)

var (
	once    sync.Once
	codec   tokenizer.Codec
	initErr error
)

func get() (tokenizer.Codec, error) {
	once.Do(func() {
		codec, initErr = tokenizer.Get(tokenizer.Cl100kBase)
	})
	return codec, initErr
}

// Count returns the number of cl100k_base tokens in text. discovery_tokens is an
// informational field only, so a tokenizer initialization or encode failure returns 0
// rather than propagating — it must never fail ingestion.
func Count(text string) int {
	if text == "" {
		return 0
	}
	enc, err := get()
	if err != nil {
		return 0
	}
	ids, _, err := enc.Encode(text)
	if err != nil {
		return 0
	}
	return len(ids)
}
