// Package segment splits a message into alternating plain text and embedded
// markup blocks.
//
// Markup is recognized at the token level: comments (`<!-- ... -->`, which may
// span lines) and tags (`<name ...>`, `</name>`, `<name .../>`). An opening tag
// swallows everything up to its balanced closer, so nested markup stays in one
// block. Unbalanced openers degrade to a block holding only the tag itself.
// Adjacent markup blocks are merged afterwards so the downstream markup
// renderer gets as few blocks as possible.
//
// The partition is lossless: concatenating the segments in order yields the
// input.
package segment

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/rs/zerolog/log"
)

type Kind int

const (
	KindPlainText Kind = iota
	KindMarkup
)

func (k Kind) String() string {
	switch k {
	case KindPlainText:
		return "plain-text"
	case KindMarkup:
		return "markup"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// Segment is either plain text or a raw markup block.
type Segment struct {
	Kind Kind   `json:"kind"`
	Text string `json:"text"`
}

func PlainText(text string) Segment {
	return Segment{Kind: KindPlainText, Text: text}
}

func MarkupBlock(raw string) Segment {
	return Segment{Kind: KindMarkup, Text: raw}
}

func (s Segment) IsMarkup() bool {
	return s.Kind == KindMarkup
}

// Blank reports whether the segment holds only whitespace.
func (s Segment) Blank() bool {
	return strings.TrimSpace(s.Text) == ""
}

// DefaultTagNamePattern admits letters plus the digits used by heading tags.
const DefaultTagNamePattern = `[A-Za-z][A-Za-z1-6]*`

type Option func(*Segmenter)

// WithTagNamePattern restricts tag names to the given regular expression
// fragment. It must not contain capture groups.
func WithTagNamePattern(pattern string) Option {
	return func(s *Segmenter) {
		s.namePattern = pattern
	}
}

// WithDebug logs degraded (unbalanced) tags at debug level.
func WithDebug(debug bool) Option {
	return func(s *Segmenter) {
		s.debug = debug
	}
}

type Segmenter struct {
	namePattern string
	debug       bool
	tokenRe     *regexp.Regexp
}

func New(options ...Option) (*Segmenter, error) {
	s := &Segmenter{namePattern: DefaultTagNamePattern}
	for _, o := range options {
		o(s)
	}
	re, err := compileTokenPattern(s.namePattern)
	if err != nil {
		return nil, err
	}
	s.tokenRe = re
	return s, nil
}

func MustNew(options ...Option) *Segmenter {
	s, err := New(options...)
	if err != nil {
		panic(err)
	}
	return s
}

var defaultSegmenter = MustNew()

// Split segments text with the default tag name pattern.
func Split(text string) []Segment {
	return defaultSegmenter.Split(text)
}

// Split returns the merged segments of text. Empty input yields no segments.
func (s *Segmenter) Split(text string) []Segment {
	if text == "" {
		return nil
	}
	ret := Merge(s.split(text))
	if len(ret) == 0 {
		return []Segment{PlainText(text)}
	}
	return ret
}

// SplitRaw returns the segments before adjacent markup blocks are merged.
func (s *Segmenter) SplitRaw(text string) []Segment {
	if text == "" {
		return nil
	}
	return s.split(text)
}

func (s *Segmenter) split(text string) []Segment {
	tokens := s.scan(text)
	if len(tokens) == 0 {
		return []Segment{PlainText(text)}
	}

	var ret []Segment
	cursor := 0
	for i := 0; i < len(tokens); {
		tok := tokens[i]
		if tok.start > cursor {
			ret = append(ret, PlainText(text[cursor:tok.start]))
		}

		switch {
		case tok.kind == tokenComment, tok.closing, tok.selfClosing:
			ret = append(ret, MarkupBlock(text[tok.start:tok.end]))
			cursor = tok.end
			i++
		default:
			closer, ok := balance(tokens, i)
			if !ok {
				if s.debug {
					log.Debug().Str("tag", tok.name).Int("offset", tok.start).Msg("unbalanced opening tag, keeping tag as its own block")
				}
				ret = append(ret, MarkupBlock(text[tok.start:tok.end]))
				cursor = tok.end
				i++
				continue
			}
			ret = append(ret, MarkupBlock(text[tok.start:tokens[closer].end]))
			cursor = tokens[closer].end
			i = closer + 1
		}
	}
	if cursor < len(text) {
		ret = append(ret, PlainText(text[cursor:]))
	}
	return ret
}

// balance finds the closer matching the opening tag at tokens[open]. Comments
// and tags with other names do not affect the depth.
func balance(tokens []token, open int) (int, bool) {
	name := tokens[open].name
	depth := 1
	for j := open + 1; j < len(tokens); j++ {
		t := tokens[j]
		if t.kind != tokenTag || !strings.EqualFold(t.name, name) {
			continue
		}
		switch {
		case t.closing:
			depth--
			if depth == 0 {
				return j, true
			}
		case !t.selfClosing:
			depth++
		}
	}
	return 0, false
}

// Merge folds runs of markup blocks, including blank text sandwiched between
// two of them, into single blocks. The folded text is kept verbatim.
func Merge(segments []Segment) []Segment {
	if len(segments) < 2 {
		return segments
	}
	ret := make([]Segment, 0, len(segments))
	for i := 0; i < len(segments); {
		seg := segments[i]
		if !seg.IsMarkup() {
			ret = append(ret, seg)
			i++
			continue
		}

		var b strings.Builder
		b.WriteString(seg.Text)
		j := i + 1
		for j < len(segments) {
			next := segments[j]
			if next.IsMarkup() {
				b.WriteString(next.Text)
				j++
				continue
			}
			if next.Blank() && j+1 < len(segments) && segments[j+1].IsMarkup() {
				b.WriteString(next.Text)
				b.WriteString(segments[j+1].Text)
				j += 2
				continue
			}
			break
		}
		ret = append(ret, MarkupBlock(b.String()))
		i = j
	}
	return ret
}

// Join concatenates segment payloads in order.
func Join(segments []Segment) string {
	var b strings.Builder
	for _, s := range segments {
		b.WriteString(s.Text)
	}
	return b.String()
}
