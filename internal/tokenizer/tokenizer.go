package tokenizer

import (
	"github.com/pkoukk/tiktoken-go"
)

// Estimator counts tokens with a real BPE encoding when one is available for
// the model, and falls back to a characters/4 heuristic otherwise (unknown
// models, offline environments).
type Estimator struct {
	enc *tiktoken.Tiktoken
}

// NewEstimator creates an estimator for a model name
func NewEstimator(model string) *Estimator {
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		enc, err = tiktoken.GetEncoding(tiktoken.MODEL_CL100K_BASE)
		if err != nil {
			enc = nil
		}
	}
	return &Estimator{enc: enc}
}

// Count returns the estimated token count of text
func (e *Estimator) Count(text string) int {
	if text == "" {
		return 0
	}
	if e.enc != nil {
		return len(e.enc.Encode(text, nil, nil))
	}
	// Rough heuristic: one token per four characters, at least one
	n := (len(text) + 3) / 4
	if n == 0 {
		n = 1
	}
	return n
}
