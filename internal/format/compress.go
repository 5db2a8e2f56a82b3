package format

import (
	"fmt"

	"github.com/pkoukk/tiktoken-go"

	"github.com/lazypower/recall/internal/retrieval"
)

// TokenCounter measures text in model tokens.
type TokenCounter interface {
	Count(text string) int
}

// charsPerToken approximates English text for models without a tokenizer.
const charsPerToken = 4

// CharCounter estimates one token per four bytes, rounding up.
type CharCounter struct{}

func (CharCounter) Count(text string) int {
	return (len(text) + charsPerToken - 1) / charsPerToken
}

// Tiktoken counts tokens with a BPE encoding.
type Tiktoken struct {
	tkm *tiktoken.Tiktoken
}

// NewTiktoken loads the encoding used by model, e.g. "gpt-4o".
func NewTiktoken(model string) (*Tiktoken, error) {
	tkm, err := tiktoken.EncodingForModel(model)
	if err != nil {
		return nil, fmt.Errorf("tiktoken encoding for %q: %w", model, err)
	}
	return &Tiktoken{tkm: tkm}, nil
}

func (t *Tiktoken) Count(text string) int {
	return len(t.tkm.Encode(text, nil, nil))
}

// Budget bounds a compressed context.
type Budget struct {
	MaxTokens int
}

// CompressedItem is an item whose content may have been shortened.
type CompressedItem struct {
	retrieval.Item
	Content   string `json:"content"`
	Tokens    int    `json:"tokens"`
	Shortened bool   `json:"shortened,omitempty"`
}

// Compressed is a context cut to a token budget.
type Compressed struct {
	Items     []CompressedItem `json:"items"`
	Tokens    int              `json:"tokens"`
	Truncated bool             `json:"truncated"`
}

const ellipsis = "..."

// Compress keeps items in rank order while they fit b. The first item that
// does not fit is shortened into the remaining budget when any remains, and
// everything after it is dropped. A nil counter uses CharCounter.
func Compress(c *retrieval.Context, b Budget, counter TokenCounter) Compressed {
	if counter == nil {
		counter = CharCounter{}
	}
	out := Compressed{Truncated: c.Truncated}
	for _, it := range c.Items {
		n := counter.Count(it.Node.Content)
		if b.MaxTokens <= 0 || out.Tokens+n <= b.MaxTokens {
			out.Items = append(out.Items, CompressedItem{Item: it, Content: it.Node.Content, Tokens: n})
			out.Tokens += n
			continue
		}

		if short, sn, ok := shorten(it.Node.Content, b.MaxTokens-out.Tokens, counter); ok {
			out.Items = append(out.Items, CompressedItem{Item: it, Content: short, Tokens: sn, Shortened: true})
			out.Tokens += sn
		}
		out.Truncated = true
		break
	}
	return out
}

// shorten returns the longest rune prefix of s that, with an ellipsis, fits
// in budget tokens.
func shorten(s string, budget int, counter TokenCounter) (string, int, bool) {
	if budget <= 0 {
		return "", 0, false
	}
	runes := []rune(s)
	lo, hi := 0, len(runes)
	best, bestTokens := -1, 0
	for lo <= hi {
		mid := (lo + hi) / 2
		n := counter.Count(string(runes[:mid]) + ellipsis)
		if n <= budget {
			best, bestTokens = mid, n
			lo = mid + 1
		} else {
			hi = mid - 1
		}
	}
	if best <= 0 {
		return "", 0, false
	}
	return string(runes[:best]) + ellipsis, bestTokens, true
}
