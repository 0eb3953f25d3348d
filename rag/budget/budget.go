// Package budget packs named text sections into per-section token caps by
// dropping the oldest lines first.
package budget

import (
	"strings"
)

const fallbackEncoding = "cl100k_base"

// Section is one named block of context text with its token cap.
// A cap of 0 means unbounded: the text passes through unchanged.
type Section struct {
	Name string
	Text string
	Cap  int
}

// Budgeter trims sections to token caps using a model-specific encoder.
type Budgeter struct {
	cache *EncoderCache
	model string
}

// Option customises the budgeter.
type Option func(*Budgeter)

// WithEncoderCache injects a shared encoder cache instead of the process
// default.
func WithEncoderCache(cache *EncoderCache) Option {
	return func(b *Budgeter) {
		if cache != nil {
			b.cache = cache
		}
	}
}

// New creates a budgeter counting tokens for the given model name. Unknown
// models fall back to the cl100k_base encoding.
func New(model string, opts ...Option) *Budgeter {
	b := &Budgeter{
		cache: DefaultEncoderCache(),
		model: model,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// CountTokens returns the token count of text under the budgeter's model.
func (b *Budgeter) CountTokens(text string) int {
	enc, err := b.cache.Get(b.model)
	if err != nil {
		// last resort when even the fallback encoding failed to load:
		// a conservative 4-chars-per-token estimate
		return (len(text) + 3) / 4
	}
	return len(enc.Encode(text, nil, nil))
}

// Fit trims text to at most cap tokens by dropping the oldest (first) lines.
// If a single line still exceeds the cap it is kept whole, so non-empty input
// never trims to empty output.
func (b *Budgeter) Fit(text string, cap int) string {
	if cap <= 0 || text == "" {
		return text
	}
	if b.CountTokens(text) <= cap {
		return text
	}

	lines := strings.Split(text, "\n")
	for len(lines) > 1 {
		lines = lines[1:]
		if b.CountTokens(strings.Join(lines, "\n")) <= cap {
			break
		}
	}
	return strings.Join(lines, "\n")
}

// FitSections trims every section to its own cap, preserving order.
func (b *Budgeter) FitSections(sections []Section) []Section {
	out := make([]Section, len(sections))
	for i, sec := range sections {
		sec.Text = b.Fit(sec.Text, sec.Cap)
		out[i] = sec
	}
	return out
}
