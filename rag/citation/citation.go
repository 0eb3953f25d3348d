// Package citation fixes the numbering of sources shown to the generator and
// checks that generated text only cites numbers from that enumeration.
package citation

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	grounderr "github.com/sweetpotato0/grounded/errors"
)

// SourceKind says which result list an entry points into.
type SourceKind string

const (
	SourceReference SourceKind = "reference"
	SourceWeb       SourceKind = "web"
)

// Entry maps one citation number to a source.
type Entry struct {
	Number int        `json:"number"`
	Kind   SourceKind `json:"kind"`
	Index  int        `json:"index"` // position in the reference or web result list
	ID     string     `json:"id,omitempty"`
	Title  string     `json:"title,omitempty"`
	URL    string     `json:"url,omitempty"`
}

// Enumeration is the ordered citation numbering for one turn. It is built
// once by the dispatcher; numbers run 1..Len in entry order and the same
// list, in the same order, is rendered for the generator and checked by the
// validator.
type Enumeration struct {
	entries []Entry
}

// Build assigns numbers 1..n to the entries in the given order.
func Build(entries []Entry) Enumeration {
	numbered := make([]Entry, len(entries))
	for i, e := range entries {
		e.Number = i + 1
		numbered[i] = e
	}
	return Enumeration{entries: numbered}
}

// Entries returns the numbered entries in order.
func (e Enumeration) Entries() []Entry {
	return e.entries
}

// Len returns how many sources are enumerated.
func (e Enumeration) Len() int {
	return len(e.entries)
}

// Has reports whether citation number n exists.
func (e Enumeration) Has(n int) bool {
	return n >= 1 && n <= len(e.entries)
}

// Lookup returns the entry for number n.
func (e Enumeration) Lookup(n int) (Entry, bool) {
	if !e.Has(n) {
		return Entry{}, false
	}
	return e.entries[n-1], true
}

var markerPattern = regexp.MustCompile(`\[(\d+)\]`)

// Verify checks every [n] marker in text against the enumeration.
func (e Enumeration) Verify(text string) error {
	for _, match := range markerPattern.FindAllStringSubmatch(text, -1) {
		n, err := strconv.Atoi(match[1])
		if err != nil {
			continue
		}
		if !e.Has(n) {
			return fmt.Errorf("%w: marker [%d] outside enumeration of %d sources", grounderr.ErrCitationViolation, n, len(e.entries))
		}
	}
	return nil
}

// Validator checks citation markers incrementally while text streams in.
// Validation starts once the buffered text reaches the minimum window, so a
// marker split across chunk boundaries is only judged when complete.
type Validator struct {
	enum      Enumeration
	minWindow int
	buf       strings.Builder
	failed    error
}

// DefaultMinWindow is the buffered rune count before validation engages.
const DefaultMinWindow = 80

// NewValidator creates an incremental validator over the enumeration.
func NewValidator(enum Enumeration, minWindow int) *Validator {
	if minWindow <= 0 {
		minWindow = DefaultMinWindow
	}
	return &Validator{enum: enum, minWindow: minWindow}
}

// Feed appends a streamed chunk and validates once enough text is buffered.
// The first violation is sticky: every later Feed returns it too.
func (v *Validator) Feed(chunk string) error {
	if v.failed != nil {
		return v.failed
	}
	v.buf.WriteString(chunk)
	if len([]rune(v.buf.String())) < v.minWindow {
		return nil
	}
	if err := v.enum.Verify(v.buf.String()); err != nil {
		v.failed = err
		return err
	}
	return nil
}

// Finalize validates whatever is buffered regardless of window size.
func (v *Validator) Finalize() error {
	if v.failed != nil {
		return v.failed
	}
	if err := v.enum.Verify(v.buf.String()); err != nil {
		v.failed = err
		return err
	}
	return nil
}

// Text returns the accumulated text.
func (v *Validator) Text() string {
	return v.buf.String()
}
